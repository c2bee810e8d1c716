package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig configures the retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
	CallTimeout     time.Duration // Per-attempt timeout
}

// DefaultRetryConfig returns sensible defaults for AI provider APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		CallTimeout:     30 * time.Second,
	}
}

// retryablePatterns groups error substrings by category, matched
// case-insensitively against err.Error().
//
// NOTE: string matching is used because provider SDKs do not expose typed
// errors for transient failures. Re-evaluate when they do.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// retrier runs provider calls with rate limiting, per-attempt timeouts and
// bounded exponential backoff.
type retrier struct {
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newRetrier(cfg RetryConfig, limiter *rate.Limiter, logger *slog.Logger) retrier {
	if cfg.MaxRetries == 0 {
		cfg = DefaultRetryConfig()
	}
	if limiter == nil {
		// 10 requests/sec sustained, burst of 30.
		limiter = rate.NewLimiter(10, 30)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return retrier{cfg: cfg, limiter: limiter, logger: logger}
}

// do invokes call until it succeeds, fails terminally, or retries are
// exhausted. Each attempt is rate limited and bounded by CallTimeout.
func (r retrier) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var lastErr error
	delay := r.cfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.CallTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		}
		err := call(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			r.logger.Debug("provider call succeeded",
				"op", op,
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return nil
		}

		lastErr = err

		// Output already reached the consumer; retrying would replay the
		// delivered prefix. Terminal even when the cause looks transient.
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return err
		}
		if !retryableError(err) {
			return err
		}
		if attempt == r.cfg.MaxRetries {
			break
		}

		r.logger.Debug("retrying provider call",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, r.cfg.MaxInterval)
		}
	}

	return fmt.Errorf("%s after %d retries (elapsed %v): %w",
		op, r.cfg.MaxRetries, time.Since(start), lastErr)
}

// ResilientEmbedder wraps an Embedder with the retry policy. Terminal
// failures are classified as ErrEmbeddingUnavailable.
type ResilientEmbedder struct {
	inner Embedder
	r     retrier
}

// NewResilientEmbedder wraps inner. limiter may be nil for the default, and
// a zero cfg uses DefaultRetryConfig.
func NewResilientEmbedder(inner Embedder, cfg RetryConfig, limiter *rate.Limiter, logger *slog.Logger) *ResilientEmbedder {
	return &ResilientEmbedder{inner: inner, r: newRetrier(cfg, limiter, logger)}
}

func (e *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.r.do(ctx, "embed", func(ctx context.Context) error {
		var callErr error
		vec, callErr = e.inner.Embed(ctx, text)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

func (e *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := e.r.do(ctx, "embed batch", func(ctx context.Context) error {
		var callErr error
		vecs, callErr = e.inner.EmbedBatch(ctx, texts)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	return vecs, nil
}

func (e *ResilientEmbedder) Dimension() int { return e.inner.Dimension() }

// ResilientGenerator wraps a Generator with the retry policy. Terminal
// failures are classified as ErrGenerationFailed.
//
// Streaming calls are only retried while nothing has been emitted yet; once
// output reached the caller a failure surfaces as a *StreamError so partial
// text is never silently regenerated.
type ResilientGenerator struct {
	inner Generator
	r     retrier
}

// NewResilientGenerator wraps inner, mirroring NewResilientEmbedder.
func NewResilientGenerator(inner Generator, cfg RetryConfig, limiter *rate.Limiter, logger *slog.Logger) *ResilientGenerator {
	return &ResilientGenerator{inner: inner, r: newRetrier(cfg, limiter, logger)}
}

func (g *ResilientGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.r.do(ctx, "generate", func(ctx context.Context) error {
		var callErr error
		out, callErr = g.inner.Generate(ctx, prompt)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return out, nil
}

func (g *ResilientGenerator) GenerateStream(ctx context.Context, prompt string, fn StreamFunc) (string, error) {
	var out string
	var emitted bool

	err := g.r.do(ctx, "generate stream", func(ctx context.Context) error {
		var callErr error
		out, callErr = g.inner.GenerateStream(ctx, prompt, func(ctx context.Context, chunk string) error {
			emitted = true
			return fn(ctx, chunk)
		})
		if callErr != nil && emitted {
			// Past the point of no return: report partial output instead of
			// retrying into a duplicated stream.
			return &StreamError{Partial: out, Err: callErr}
		}
		return callErr
	})
	if err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return streamErr.Partial, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return out, nil
}
