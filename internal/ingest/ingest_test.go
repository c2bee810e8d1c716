package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/averos/grounded/internal/corpus"
	"github.com/averos/grounded/internal/extract"
	"github.com/averos/grounded/internal/index"
	"github.com/averos/grounded/internal/provider"
	"github.com/averos/grounded/internal/splitter"
	"github.com/averos/grounded/internal/testutil"
)

const testDim = 8

type stubExtractor struct {
	files map[string]extract.Result
	err   error
}

func (s *stubExtractor) FromFile(_ context.Context, path string) (extract.Result, error) {
	if s.err != nil {
		return extract.Result{}, s.err
	}
	res, ok := s.files[path]
	if !ok {
		return extract.Result{}, fmt.Errorf("%w: unknown path %s", extract.ErrExtractionFailed, path)
	}
	return res, nil
}

func (s *stubExtractor) FromURL(_ context.Context, rawURL string) (extract.Result, error) {
	return s.FromFile(context.Background(), rawURL)
}

// failingStore injects failures on top of a working MemoryStore.
type failingStore struct {
	*corpus.MemoryStore
	putErr  error
	hashErr error
}

func (s *failingStore) Put(ctx context.Context, doc corpus.SourceDocument) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryStore.Put(ctx, doc)
}

func (s *failingStore) GetByHash(ctx context.Context, hash string) (corpus.SourceDocument, error) {
	if s.hashErr != nil {
		return corpus.SourceDocument{}, s.hashErr
	}
	return s.MemoryStore.GetByHash(ctx, hash)
}

type fixture struct {
	pipeline  *Pipeline
	extractor *stubExtractor
	embedder  *testutil.FakeEmbedder
	idx       *index.MemoryIndex
	docs      corpus.Store
}

func newFixture(t *testing.T, docs corpus.Store) *fixture {
	t.Helper()

	ex := &stubExtractor{files: make(map[string]extract.Result)}
	sp, err := splitter.New(10, 2)
	if err != nil {
		t.Fatal(err)
	}
	em := testutil.NewFakeEmbedder(testDim)
	idx, err := index.NewMemoryIndex(testDim)
	if err != nil {
		t.Fatal(err)
	}
	if docs == nil {
		docs = corpus.NewMemoryStore()
	}

	p, err := New(ex, sp, em, idx, docs, nil, Options{EmbedBatchSize: 4, Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)

	return &fixture{pipeline: p, extractor: ex, embedder: em, idx: idx, docs: docs}
}

func words(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(out, " ")
}

func TestIngestFile_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.extractor.files["/doc.txt"] = extract.Result{Title: "doc.txt", Text: words(25)}

	res, err := f.pipeline.IngestFile(ctx, "/doc.txt")
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if res.Reused || res.Skipped {
		t.Errorf("result = %+v", res)
	}
	// 25 words, max 10, overlap 2: chunks start at 0, 8, 16.
	if res.Chunks != 3 {
		t.Errorf("chunks = %d, want 3", res.Chunks)
	}

	n, err := f.idx.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("indexed = %d, want 3", n)
	}

	hits, err := f.idx.Query(ctx, make([]float32, testDim), 10)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int]bool)
	for _, h := range hits {
		if h.SourceID != res.Document.ID {
			t.Errorf("hit has source %s, want %s", h.SourceID, res.Document.ID)
		}
		if want := splitter.CountTokens(h.Text); h.TokenCount != want {
			t.Errorf("position %d token count = %d, want %d", h.Position, h.TokenCount, want)
		}
		seen[h.Position] = true
	}
	for pos := range 3 {
		if !seen[pos] {
			t.Errorf("position %d missing from index", pos)
		}
	}

	doc, err := f.docs.Get(ctx, res.Document.ID)
	if err != nil {
		t.Fatalf("document not stored: %v", err)
	}
	if doc.ChunkCount != 3 || doc.Origin != corpus.OriginFile {
		t.Errorf("document = %+v", doc)
	}
}

func TestIngestFile_IdempotentByContentHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.extractor.files["/a.txt"] = extract.Result{Title: "a.txt", Text: words(25)}
	f.extractor.files["/copy.txt"] = extract.Result{Title: "copy.txt", Text: words(25)}

	first, err := f.pipeline.IngestFile(ctx, "/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := f.embedder.Calls()

	second, err := f.pipeline.IngestFile(ctx, "/copy.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Reused {
		t.Error("second ingest not marked reused")
	}
	if second.Document.ID != first.Document.ID {
		t.Errorf("reuse returned %s, want %s", second.Document.ID, first.Document.ID)
	}
	if f.embedder.Calls() != callsAfterFirst {
		t.Errorf("repeat ingest made %d extra embed calls",
			f.embedder.Calls()-callsAfterFirst)
	}

	n, _ := f.idx.Count(ctx)
	if n != 3 {
		t.Errorf("indexed = %d, want 3 (no duplicates)", n)
	}
}

func TestIngestFile_EmptyTextIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.extractor.files["/empty.txt"] = extract.Result{Title: "empty.txt", Text: ""}

	res, err := f.pipeline.IngestFile(ctx, "/empty.txt")
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if !res.Skipped {
		t.Error("empty source not skipped")
	}
	if f.embedder.Calls() != 0 {
		t.Errorf("embed calls = %d, want 0", f.embedder.Calls())
	}
	docs, _ := f.docs.List(ctx)
	if len(docs) != 0 {
		t.Errorf("documents stored = %d, want 0", len(docs))
	}
}

func TestIngestFile_ExtractionFailure(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.IngestFile(context.Background(), "/missing.txt")
	if !errors.Is(err, extract.ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageExtracting {
		t.Errorf("stage = %v, want %s", err, StageExtracting)
	}
}

func TestIngestFile_EmbeddingFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.extractor.files["/doc.txt"] = extract.Result{Text: words(25)}
	f.embedder.Err = fmt.Errorf("%w: provider down", provider.ErrEmbeddingUnavailable)

	_, err := f.pipeline.IngestFile(ctx, "/doc.txt")
	if !errors.Is(err, provider.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageEmbedding {
		t.Errorf("stage = %v, want %s", err, StageEmbedding)
	}

	n, _ := f.idx.Count(ctx)
	if n != 0 {
		t.Errorf("indexed = %d, want 0", n)
	}
	docs, _ := f.docs.List(ctx)
	if len(docs) != 0 {
		t.Errorf("documents = %d, want 0", len(docs))
	}
}

func TestIngestFile_HashLookupFailureAborts(t *testing.T) {
	ctx := context.Background()
	sentinel := errors.New("connection refused")
	store := &failingStore{MemoryStore: corpus.NewMemoryStore(), hashErr: sentinel}
	f := newFixture(t, store)
	f.extractor.files["/doc.txt"] = extract.Result{Text: words(25)}

	_, err := f.pipeline.IngestFile(ctx, "/doc.txt")
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped store failure", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("err = %v, want *StageError", err)
	}

	// A failed dedupe check must not fall through to re-embedding.
	if f.embedder.Calls() != 0 {
		t.Errorf("embed calls = %d, want 0", f.embedder.Calls())
	}
	n, _ := f.idx.Count(ctx)
	if n != 0 {
		t.Errorf("indexed = %d, want 0", n)
	}
}

func TestIngestFile_StoreFailureRollsBackIndex(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: corpus.NewMemoryStore(), putErr: errors.New("disk full")}
	f := newFixture(t, store)
	f.extractor.files["/doc.txt"] = extract.Result{Text: words(25)}

	_, err := f.pipeline.IngestFile(ctx, "/doc.txt")
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageIndexing {
		t.Fatalf("err = %v, want StageIndexing failure", err)
	}

	n, _ := f.idx.Count(ctx)
	if n != 0 {
		t.Errorf("indexed = %d after rollback, want 0", n)
	}
}

func TestDeleteSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.extractor.files["/doc.txt"] = extract.Result{Text: words(25)}

	res, err := f.pipeline.IngestFile(ctx, "/doc.txt")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.pipeline.DeleteSource(ctx, res.Document.ID); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	n, _ := f.idx.Count(ctx)
	if n != 0 {
		t.Errorf("indexed = %d after delete, want 0", n)
	}
	if _, err := f.docs.Get(ctx, res.Document.ID); !errors.Is(err, corpus.ErrNotFound) {
		t.Errorf("document still present: %v", err)
	}

	if err := f.pipeline.DeleteSource(ctx, uuid.New()); !errors.Is(err, corpus.ErrNotFound) {
		t.Errorf("unknown source delete = %v, want ErrNotFound", err)
	}
}

func TestIngestFile_ParallelBatchesPreserveOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	// 90 words, max 10, overlap 2: step 8 -> 11 chunks, several batches.
	f.extractor.files["/big.txt"] = extract.Result{Text: words(90)}

	res, err := f.pipeline.IngestFile(ctx, "/big.txt")
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 11 {
		t.Fatalf("chunks = %d, want 11", res.Chunks)
	}

	hits, err := f.idx.Query(ctx, make([]float32, testDim), 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 11 {
		t.Fatalf("indexed = %d, want 11", len(hits))
	}
	positions := make(map[int]bool)
	for _, h := range hits {
		positions[h.Position] = true
	}
	for pos := range 11 {
		if !positions[pos] {
			t.Errorf("position %d missing", pos)
		}
	}
}
