package testutil

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/averos/grounded/internal/provider"
)

// FakeEmbedder is a deterministic in-process embedder. Identical text always
// produces the identical vector. Vectors can pin exact outputs for chosen
// texts; everything else gets a hash-derived vector.
//
// FakeEmbedder is safe for concurrent use by multiple goroutines.
type FakeEmbedder struct {
	Dim     int
	Vectors map[string][]float32 // optional per-text overrides
	Err     error                // returned by every call when set

	mu    sync.Mutex
	calls int
	texts []string
}

// NewFakeEmbedder creates a FakeEmbedder with the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim, Vectors: make(map[string][]float32)}
}

func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	return f.vector(text), nil
}

func (f *FakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, texts...)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *FakeEmbedder) Dimension() int { return f.Dim }

// Calls reports how many Embed/EmbedBatch invocations happened.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// EmbeddedTexts returns every text passed in so far, in call order.
func (f *FakeEmbedder) EmbeddedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

func (f *FakeEmbedder) vector(text string) []float32 {
	if v, ok := f.Vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	sum := sha256.Sum256([]byte(text))
	out := make([]float32, f.Dim)
	for i := range out {
		out[i] = float32(sum[i%len(sum)])/255 - 0.5
	}
	return out
}

// FakeGenerator replays scripted output. ErrAfter controls mid-stream
// failure injection: -1 never fails, 0 fails before any chunk, n fails after
// emitting n chunks.
//
// FakeGenerator is safe for concurrent use by multiple goroutines.
type FakeGenerator struct {
	Chunks     []string
	ErrAfter   int
	Err        error         // error to inject, defaults to a generic one
	ChunkDelay time.Duration // pause before each chunk, for concurrency tests

	mu      sync.Mutex
	calls   int
	prompts []string
}

// NewFakeGenerator creates a generator that streams chunks without failing.
func NewFakeGenerator(chunks ...string) *FakeGenerator {
	return &FakeGenerator{Chunks: chunks, ErrAfter: -1}
}

func (f *FakeGenerator) record(prompt string) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
}

func (f *FakeGenerator) injected() error {
	if f.Err != nil {
		return f.Err
	}
	return fmt.Errorf("generation aborted")
}

func (f *FakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.record(prompt)
	var out string
	for i, c := range f.Chunks {
		if f.ErrAfter >= 0 && i == f.ErrAfter {
			return "", f.injected()
		}
		if f.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.ChunkDelay):
			}
		}
		out += c
	}
	if f.ErrAfter >= len(f.Chunks) && f.ErrAfter >= 0 {
		return "", f.injected()
	}
	return out, nil
}

func (f *FakeGenerator) GenerateStream(ctx context.Context, prompt string, fn provider.StreamFunc) (string, error) {
	f.record(prompt)
	var out string
	for i, c := range f.Chunks {
		if f.ErrAfter >= 0 && i == f.ErrAfter {
			return out, f.injected()
		}
		if f.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(f.ChunkDelay):
			}
		}
		out += c
		if fn != nil {
			if err := fn(ctx, c); err != nil {
				return out, err
			}
		}
	}
	if f.ErrAfter >= len(f.Chunks) && f.ErrAfter >= 0 {
		return out, f.injected()
	}
	return out, nil
}

// Calls reports how many Generate/GenerateStream invocations happened.
func (f *FakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Prompts returns every prompt passed in so far, in call order.
func (f *FakeGenerator) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}
