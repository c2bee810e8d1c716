// Package resolver answers queries against the indexed corpus. It embeds the
// query, retrieves the nearest chunks, assembles a bounded context, and asks
// the generator for an answer grounded in that context only.
//
// When retrieval yields nothing above the similarity floor the resolver
// returns a fixed insufficient-information answer without calling the
// generator at all. That outcome is a policy result, not an error.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averos/grounded/internal/index"
	"github.com/averos/grounded/internal/provider"
	"github.com/averos/grounded/internal/session"
	"github.com/averos/grounded/internal/splitter"
)

// InsufficientContextAnswer is returned verbatim when the corpus has nothing
// relevant to say.
const InsufficientContextAnswer = "I'm sorry, I don't have enough information to answer that."

// Defaults for Config fields left zero.
const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.35
	DefaultContextBudget = 2000
	DefaultDedupWindow   = 2
)

// Config tunes retrieval and context assembly.
type Config struct {
	// TopK is how many chunks to retrieve from the index.
	TopK int

	// MinSimilarity is the relevance floor; chunks scoring below it are
	// discarded.
	MinSimilarity float64

	// ContextBudget caps the total token count of assembled context. Chunks
	// are dropped whole, never split.
	ContextBudget int

	// DedupWindow collapses near-duplicate hits: within one source, of two
	// hits at most this many positions apart only the better one survives.
	DedupWindow int
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.MinSimilarity == 0 {
		c.MinSimilarity = DefaultMinSimilarity
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = DefaultContextBudget
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	return c
}

// Resolution is the outcome of one query.
type Resolution struct {
	Answer   string
	Grounded bool          // false when the insufficient-information policy fired
	Sources  []uuid.UUID   // distinct source documents backing the answer
	Context  []index.Scored // chunks that made it into the prompt
}

// Resolver runs the retrieval-then-generate flow.
//
// Resolver is safe for concurrent use by multiple goroutines.
type Resolver struct {
	embedder  provider.Embedder
	generator provider.Generator
	idx       index.Index
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates a Resolver. logger may be nil; zero Config fields take
// defaults.
func New(em provider.Embedder, gen provider.Generator, idx index.Index,
	cfg Config, logger *slog.Logger) (*Resolver, error) {
	if em == nil || gen == nil || idx == nil {
		return nil, fmt.Errorf("embedder, generator and index are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		embedder:  em,
		generator: gen,
		idx:       idx,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		tracer:    otel.Tracer("resolver"),
	}, nil
}

// Resolve answers query in one shot.
func (r *Resolver) Resolve(ctx context.Context, query string, history []session.Message) (Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "resolve")
	defer span.End()

	res, prompt, done, err := r.prepare(ctx, query, history, span)
	if done || err != nil {
		return res, err
	}

	answer, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		return Resolution{}, err
	}
	res.Answer = answer
	return res, nil
}

// ResolveStream answers query incrementally through fn. On a mid-stream
// failure the returned Resolution carries the partial answer alongside the
// error so callers can persist what was already delivered.
func (r *Resolver) ResolveStream(ctx context.Context, query string, history []session.Message,
	fn provider.StreamFunc) (Resolution, error) {

	ctx, span := r.tracer.Start(ctx, "resolve_stream")
	defer span.End()

	res, prompt, done, err := r.prepare(ctx, query, history, span)
	if err != nil {
		return res, err
	}
	if done {
		// The policy answer streams like a generated one so consumers see a
		// uniform event sequence.
		if fn != nil {
			if cbErr := fn(ctx, res.Answer); cbErr != nil {
				return res, cbErr
			}
		}
		return res, nil
	}

	answer, err := r.generator.GenerateStream(ctx, prompt, fn)
	res.Answer = answer
	if err != nil {
		return res, err
	}
	return res, nil
}

// prepare runs retrieval and context assembly. done reports that the
// resolution is final (insufficient context) and generation must be skipped.
func (r *Resolver) prepare(ctx context.Context, query string, history []session.Message,
	span trace.Span) (res Resolution, prompt string, done bool, err error) {

	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Resolution{}, "", false, err
	}

	hits, err := r.idx.Query(ctx, qvec, r.cfg.TopK)
	if err != nil {
		return Resolution{}, "", false, fmt.Errorf("querying index: %w", err)
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))

	relevant := hits[:0:0]
	for _, h := range hits {
		if h.Score >= r.cfg.MinSimilarity {
			relevant = append(relevant, h)
		}
	}
	relevant = dedupe(relevant, r.cfg.DedupWindow)
	used := r.fitBudget(relevant)
	span.SetAttributes(attribute.Int("context_chunks", len(used)))

	if len(used) == 0 {
		r.logger.Debug("no relevant context, returning policy answer",
			"hits", len(hits), "min_similarity", r.cfg.MinSimilarity)
		return Resolution{Answer: InsufficientContextAnswer, Grounded: false}, "", true, nil
	}

	res = Resolution{
		Grounded: true,
		Sources:  distinctSources(used),
		Context:  used,
	}
	return res, buildPrompt(query, used, history), false, nil
}

// dedupe keeps the best-scoring hit among near-neighbors from the same
// source. hits must already be sorted by descending score.
func dedupe(hits []index.Scored, window int) []index.Scored {
	kept := hits[:0:0]
	for _, h := range hits {
		duplicate := false
		for _, k := range kept {
			if k.SourceID == h.SourceID && abs(k.Position-h.Position) <= window {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, h)
		}
	}
	return kept
}

// fitBudget takes chunks in score order until the token budget is exhausted.
// Chunks never get split; one that does not fit is dropped and the rest are
// still considered.
func (r *Resolver) fitBudget(hits []index.Scored) []index.Scored {
	var used []index.Scored
	remaining := r.cfg.ContextBudget
	for _, h := range hits {
		tokens := h.TokenCount
		if tokens <= 0 {
			tokens = splitter.CountTokens(h.Text)
		}
		if tokens > remaining {
			continue
		}
		used = append(used, h)
		remaining -= tokens
	}
	return used
}

func distinctSources(hits []index.Scored) []uuid.UUID {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, h := range hits {
		if !seen[h.SourceID] {
			seen[h.SourceID] = true
			out = append(out, h.SourceID)
		}
	}
	return out
}

func buildPrompt(query string, chunks []index.Scored, history []session.Message) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Answer the question using only the ")
	b.WriteString("provided context. If the context does not contain the information ")
	b.WriteString("needed, say that you don't have enough information.\n\n")

	b.WriteString("CONTEXT:\n")
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(c.Text)
	}
	b.WriteString("\n\n")

	if len(history) > 0 {
		b.WriteString("CONVERSATION HISTORY:\n")
		for _, msg := range history {
			b.WriteString(string(msg.Role))
			b.WriteString(": ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("QUESTION:\n")
	b.WriteString(query)
	b.WriteString("\n\nANSWER:")
	return b.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
