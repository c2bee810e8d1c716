// Package provider defines the AI capability contracts the engine consumes:
// embedding text into fixed-dimension vectors and generating answers from a
// prompt, optionally streamed.
//
// Implementations live in subpackages (googleai, openai) and are injected
// through constructors. The core never assumes a call succeeds: both
// capabilities are fallible network boundaries classified by the sentinel
// errors in this package.
package provider

import (
	"context"
	"errors"
)

// Sentinel errors for capability failures, checked with errors.Is().
var (
	// ErrEmbeddingUnavailable indicates the embedding provider failed or
	// timed out after the retry policy was exhausted.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrGenerationFailed indicates the generation provider failed or timed
	// out after the retry policy was exhausted.
	ErrGenerationFailed = errors.New("generation failed")
)

// Embedder produces fixed-dimension vectors for text spans.
type Embedder interface {
	// Embed returns the embedding vector for text. The vector length always
	// equals Dimension().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts in one provider round trip where the
	// provider supports it. Result order matches input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the configured vector dimension.
	Dimension() int
}

// StreamFunc receives one increment of a streamed generation. Returning an
// error aborts the stream.
type StreamFunc func(ctx context.Context, chunk string) error

// Generator produces model output for a grounded prompt.
type Generator interface {
	// Generate returns the full answer for prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream delivers the answer incrementally through fn and
	// returns the concatenated text. Text already delivered before a
	// mid-stream failure is reported via StreamError.
	GenerateStream(ctx context.Context, prompt string, fn StreamFunc) (string, error)
}

// StreamError reports a generation stream that failed after emitting some
// output. Partial carries everything delivered before the failure so the
// caller can persist it.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	return "generation stream interrupted: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }
