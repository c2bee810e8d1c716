// Package index stores chunk embeddings and answers nearest-neighbor queries
// by cosine similarity. Two implementations share one contract: an in-process
// index for tests and single-shot runs, and a pgvector-backed index for
// persistent corpora.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrDimensionMismatch indicates a vector's length differs from the index
// dimension. Insert rejects the whole batch; nothing is mutated.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Entry is one chunk embedding to insert.
type Entry struct {
	ChunkID    uuid.UUID
	SourceID   uuid.UUID
	Position   int
	Text       string
	TokenCount int
	Vector     []float32
}

// Scored is one query hit. Score is cosine similarity in [-1, 1], higher is
// closer.
type Scored struct {
	ChunkID    uuid.UUID
	SourceID   uuid.UUID
	Position   int
	Text       string
	TokenCount int
	Score      float64
}

// Index is the vector store contract.
type Index interface {
	// Insert stores entries atomically. If any vector has the wrong
	// dimension the batch fails with ErrDimensionMismatch and the index is
	// unchanged.
	Insert(ctx context.Context, entries []Entry) error

	// DeleteSource removes every entry belonging to sourceID. Deleting an
	// unknown source is a no-op.
	DeleteSource(ctx context.Context, sourceID uuid.UUID) error

	// Query returns up to topK entries nearest to vector, ordered by
	// descending score. Fewer than topK stored entries return all of them.
	Query(ctx context.Context, vector []float32, topK int) ([]Scored, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Dimension reports the fixed vector dimension.
	Dimension() int
}

func checkDimensions(dim int, entries []Entry) error {
	for i, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: entry %d has dimension %d, index expects %d",
				ErrDimensionMismatch, i, len(e.Vector), dim)
		}
	}
	return nil
}
