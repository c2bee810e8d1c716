// Package ingest runs the document ingestion pipeline: extract, split,
// embed, index, persist. A document becomes visible only after every chunk
// is indexed; a failure at any stage leaves no partial state behind.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averos/grounded/internal/corpus"
	"github.com/averos/grounded/internal/extract"
	"github.com/averos/grounded/internal/index"
	"github.com/averos/grounded/internal/provider"
	"github.com/averos/grounded/internal/splitter"
)

// Stage identifies where in the pipeline an ingestion currently is, or where
// it failed.
type Stage string

const (
	StageReceived   Stage = "received"
	StageExtracting Stage = "extracting"
	StageSplitting  Stage = "splitting"
	StageEmbedding  Stage = "embedding"
	StageIndexing   Stage = "indexing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// StageError reports a pipeline failure together with the stage it happened
// in. The underlying cause is reachable via errors.Is / errors.As.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result summarizes one ingestion run.
type Result struct {
	Document corpus.SourceDocument
	Chunks   int
	Reused   bool // identical content was already ingested
	Skipped  bool // source had no textual content
}

// extractor is the subset of extract.Extractor the pipeline needs.
type extractor interface {
	FromFile(ctx context.Context, path string) (extract.Result, error)
	FromURL(ctx context.Context, rawURL string) (extract.Result, error)
}

// DefaultEmbedBatchSize is how many chunks go into one embedding call.
const DefaultEmbedBatchSize = 16

// Pipeline wires the ingestion stages together. Embedding batches run on a
// shared worker pool so large documents saturate the provider without
// unbounded goroutine growth.
//
// Pipeline is safe for concurrent use by multiple goroutines.
type Pipeline struct {
	extractor extractor
	splitter  *splitter.Splitter
	embedder  provider.Embedder
	idx       index.Index
	docs      corpus.Store
	pool      *ants.Pool
	batchSize int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Options configures optional Pipeline behavior.
type Options struct {
	EmbedBatchSize int // 0 = DefaultEmbedBatchSize
	Workers        int // 0 = 4
}

// New creates a Pipeline. logger may be nil.
func New(ex extractor, sp *splitter.Splitter, em provider.Embedder,
	idx index.Index, docs corpus.Store, logger *slog.Logger, opts Options) (*Pipeline, error) {
	if ex == nil || sp == nil || em == nil || idx == nil || docs == nil {
		return nil, fmt.Errorf("extractor, splitter, embedder, index and store are required")
	}
	if em.Dimension() != idx.Dimension() {
		return nil, fmt.Errorf("embedder dimension %d does not match index dimension %d",
			em.Dimension(), idx.Dimension())
	}
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := opts.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	return &Pipeline{
		extractor: ex,
		splitter:  sp,
		embedder:  em,
		idx:       idx,
		docs:      docs,
		pool:      pool,
		batchSize: batchSize,
		logger:    logger,
		tracer:    otel.Tracer("ingest"),
	}, nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() {
	p.pool.Release()
}

// IngestFile ingests a local file.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (Result, error) {
	return p.ingest(ctx, corpus.OriginFile, path, func(ctx context.Context) (extract.Result, error) {
		return p.extractor.FromFile(ctx, path)
	})
}

// IngestURL fetches and ingests a web page.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL string) (Result, error) {
	return p.ingest(ctx, corpus.OriginURL, rawURL, func(ctx context.Context) (extract.Result, error) {
		return p.extractor.FromURL(ctx, rawURL)
	})
}

func (p *Pipeline) ingest(ctx context.Context, origin corpus.Origin, location string,
	extractFn func(ctx context.Context) (extract.Result, error)) (Result, error) {

	ctx, span := p.tracer.Start(ctx, "ingest",
		trace.WithAttributes(
			attribute.String("origin", string(origin)),
			attribute.String("location", location)))
	defer span.End()

	extracted, err := extractFn(ctx)
	if err != nil {
		return Result{}, &StageError{Stage: StageExtracting, Err: err}
	}
	if extracted.Text == "" {
		p.logger.Info("source has no textual content, skipping", "location", location)
		return Result{Skipped: true}, nil
	}

	// Identical content short-circuits before any embedding call.
	hash := corpus.ContentHash(extracted.Text)
	existing, err := p.docs.GetByHash(ctx, hash)
	switch {
	case err == nil:
		p.logger.Info("content already ingested, reusing",
			"location", location, "document_id", existing.ID)
		return Result{Document: existing, Chunks: existing.ChunkCount, Reused: true}, nil
	case !errors.Is(err, corpus.ErrNotFound):
		// A broken store must not trigger a re-embed of known content.
		return Result{}, &StageError{Stage: StageSplitting, Err: fmt.Errorf("checking content hash: %w", err)}
	}

	chunks := p.splitter.Split(extracted.Text)
	if len(chunks) == 0 {
		return Result{Skipped: true}, nil
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	vectors, err := p.embedAll(ctx, chunks)
	if err != nil {
		return Result{}, &StageError{Stage: StageEmbedding, Err: err}
	}

	doc := corpus.SourceDocument{
		ID:          uuid.New(),
		Origin:      origin,
		Location:    location,
		Title:       extracted.Title,
		ContentHash: hash,
		ChunkCount:  len(chunks),
		CreatedAt:   time.Now(),
	}

	entries := make([]index.Entry, len(chunks))
	for i, text := range chunks {
		entries[i] = index.Entry{
			ChunkID:    uuid.New(),
			SourceID:   doc.ID,
			Position:   i,
			Text:       text,
			TokenCount: splitter.CountTokens(text),
			Vector:     vectors[i],
		}
	}

	if err := p.idx.Insert(ctx, entries); err != nil {
		return Result{}, &StageError{Stage: StageIndexing, Err: err}
	}
	if err := p.docs.Put(ctx, doc); err != nil {
		// The document record is what makes chunks reachable for dedup and
		// deletion, so roll the index back rather than leak orphans.
		if delErr := p.idx.DeleteSource(ctx, doc.ID); delErr != nil {
			p.logger.Error("rolling back index after store failure",
				"document_id", doc.ID, "error", delErr)
		}
		return Result{}, &StageError{Stage: StageIndexing, Err: err}
	}

	p.logger.Info("ingested document",
		"document_id", doc.ID,
		"location", location,
		"chunks", len(chunks))
	return Result{Document: doc, Chunks: len(chunks)}, nil
}

// embedAll embeds chunks in batches on the worker pool, preserving order.
func (p *Pipeline) embedAll(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for start := 0; start < len(chunks); start += p.batchSize {
		end := min(start+p.batchSize, len(chunks))
		batchStart, batch := start, chunks[start:end]

		wg.Add(1)
		task := func() {
			defer wg.Done()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed {
				return
			}

			vecs, err := p.embedder.EmbedBatch(ctx, batch)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			copy(vectors[batchStart:], vecs)
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			return nil, fmt.Errorf("submitting embed batch: %w", err)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return vectors, nil
}

// DeleteSource removes a document and all its indexed chunks.
func (p *Pipeline) DeleteSource(ctx context.Context, id uuid.UUID) error {
	if _, err := p.docs.Get(ctx, id); err != nil {
		return err
	}
	if err := p.idx.DeleteSource(ctx, id); err != nil {
		return fmt.Errorf("deleting indexed chunks: %w", err)
	}
	if err := p.docs.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	p.logger.Info("deleted source", "document_id", id)
	return nil
}
