package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryIndex is an in-process Index backed by a flat slice with exact
// brute-force search. Vectors are L2-normalized at insert so a query is a
// single dot product per entry.
//
// MemoryIndex is safe for concurrent use by multiple goroutines.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   []storedEntry
}

type storedEntry struct {
	Entry
	norm []float32 // unit-length copy of Vector, nil for a zero vector
}

// NewMemoryIndex creates an empty index with the given fixed dimension.
func NewMemoryIndex(dimension int) (*MemoryIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &MemoryIndex{dimension: dimension}, nil
}

// Dimension reports the fixed vector dimension.
func (idx *MemoryIndex) Dimension() int { return idx.dimension }

func (idx *MemoryIndex) Insert(_ context.Context, entries []Entry) error {
	// Validate the whole batch before touching state so a failed insert
	// leaves the index exactly as it was.
	if err := checkDimensions(idx.dimension, entries); err != nil {
		return err
	}

	stored := make([]storedEntry, len(entries))
	for i, e := range entries {
		stored[i] = storedEntry{Entry: e, norm: normalize(e.Vector)}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = append(idx.entries, stored...)
	return nil
}

func (idx *MemoryIndex) DeleteSource(_ context.Context, sourceID uuid.UUID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	kept := idx.entries[:0]
	for _, e := range idx.entries {
		if e.SourceID != sourceID {
			kept = append(kept, e)
		}
	}
	idx.entries = kept
	return nil
}

func (idx *MemoryIndex) Query(_ context.Context, vector []float32, topK int) ([]Scored, error) {
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vector), idx.dimension)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	queryNorm := normalize(vector)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scored := make([]Scored, 0, len(idx.entries))
	for _, e := range idx.entries {
		var score float64
		if queryNorm != nil && e.norm != nil {
			score = dot(queryNorm, e.norm)
		}
		scored = append(scored, Scored{
			ChunkID:    e.ChunkID,
			SourceID:   e.SourceID,
			Position:   e.Position,
			Text:       e.Text,
			TokenCount: e.TokenCount,
			Score:      score,
		})
	}

	// Deterministic order under score ties: lower position wins, then
	// lower source ID.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Position != scored[j].Position {
			return scored[i].Position < scored[j].Position
		}
		return scored[i].SourceID.String() < scored[j].SourceID.String()
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (idx *MemoryIndex) Count(_ context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries), nil
}

// normalize returns a unit-length copy of v, or nil for a zero vector.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
