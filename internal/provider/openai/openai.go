// Package openai implements the provider contracts on top of the OpenAI API
// (github.com/sashabaranov/go-openai).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/averos/grounded/internal/provider"
)

// Default models.
const (
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultGenerationModel = "gpt-4o-mini"
)

// Config holds the OpenAI client configuration.
type Config struct {
	APIKey          string
	BaseURL         string // optional, for API-compatible servers
	EmbeddingModel  string // empty = DefaultEmbeddingModel
	GenerationModel string // empty = DefaultGenerationModel
	Dimension       int    // embedding output dimensionality, must be > 0
}

// Client implements provider.Embedder and provider.Generator against the
// OpenAI API.
type Client struct {
	client    *openai.Client
	embedMod  string
	genMod    string
	dimension int
}

// New creates an OpenAI-backed provider client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
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
		client:    openai.NewClientWithConfig(clientCfg),
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

// EmbedBatch embeds texts in a single API call. The embedding-3 models
// support native output truncation via the Dimensions request field.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(c.embedMod),
		Input:      texts,
		Dimensions: c.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("openai embed: empty embedding at index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// Generate returns the full model answer for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.genMod,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai generate: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream streams the model answer through fn and returns the
// concatenated text.
func (c *Client) GenerateStream(ctx context.Context, prompt string, fn provider.StreamFunc) (string, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: c.genMod,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	var full string
	for {
		resp, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			return full, nil
		}
		if recvErr != nil {
			return full, fmt.Errorf("openai stream: %w", recvErr)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
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
}
