// Package googleai implements the provider contracts on top of the Gemini
// API (google.golang.org/genai).
package googleai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/averos/grounded/internal/provider"
)

// Default models. gemini-embedding-001 outputs 3072 dimensions natively but
// supports truncation via OutputDimensionality (Matryoshka Representation
// Learning); the index schema uses 768.
const (
	DefaultEmbeddingModel  = "gemini-embedding-001"
	DefaultGenerationModel = "gemini-2.5-flash"
)

// Config holds the Gemini client configuration.
type Config struct {
	APIKey          string
	EmbeddingModel  string // empty = DefaultEmbeddingModel
	GenerationModel string // empty = DefaultGenerationModel
	Dimension       int    // embedding output dimensionality, must be > 0
}

// Client implements provider.Embedder and provider.Generator against the
// Gemini API.
type Client struct {
	client    *genai.Client
	embedMod  string
	genMod    string
	dimension int
}

// New creates a Gemini-backed provider client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	embedMod := cfg.EmbeddingModel
	if embedMod == "" {
		embedMod = DefaultEmbeddingModel
	}
	genMod := cfg.GenerationModel
	if genMod == "" {
		genMod = DefaultGenerationModel
	}

	return &Client{
		client:    client,
		embedMod:  embedMod,
		genMod:    genMod,
		dimension: cfg.Dimension,
	}, nil
}

// Dimension reports the configured embedding dimensionality.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in a single API call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := int32(c.dimension)
	resp, err := c.client.Models.EmbedContent(ctx, c.embedMod, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini embed: empty embedding at index %d", i)
		}
		vecs[i] = emb.Values
	}
	return vecs, nil
}

// Generate returns the full model answer for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.genMod, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

// GenerateStream streams the model answer through fn and returns the
// concatenated text.
func (c *Client) GenerateStream(ctx context.Context, prompt string, fn provider.StreamFunc) (string, error) {
	var full string
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.genMod, genai.Text(prompt), nil) {
		if err != nil {
			return full, fmt.Errorf("gemini stream: %w", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		full += chunk
		if fn != nil {
			if cbErr := fn(ctx, chunk); cbErr != nil {
				return full, fmt.Errorf("stream consumer: %w", cbErr)
			}
		}
	}
	return full, nil
}
