package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresIndex is a pgvector-backed Index over the chunks table. Batch
// inserts run in a single transaction so a mid-batch failure leaves no
// partial entries behind.
//
// PostgresIndex is safe for concurrent use by multiple goroutines.
type PostgresIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgresIndex creates an index over pool. dimension must match the
// vector column width declared in the migration.
func NewPostgresIndex(pool *pgxpool.Pool, dimension int) (*PostgresIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &PostgresIndex{pool: pool, dimension: dimension}, nil
}

// Dimension reports the fixed vector dimension.
func (idx *PostgresIndex) Dimension() int { return idx.dimension }

func (idx *PostgresIndex) Insert(ctx context.Context, entries []Entry) error {
	// Client-side dimension check keeps the error taxonomy consistent with
	// MemoryIndex instead of surfacing a pgvector type error.
	if err := checkDimensions(idx.dimension, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := idx.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO chunks (id, source_id, position, content, token_count, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ChunkID, e.SourceID, e.Position, e.Text, e.TokenCount, pgvector.NewVector(e.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting %d chunks: %w", len(entries), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing insert: %w", err)
	}
	return nil
}

func (idx *PostgresIndex) DeleteSource(ctx context.Context, sourceID uuid.UUID) error {
	if _, err := idx.pool.Exec(ctx,
		`DELETE FROM chunks WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("deleting chunks for source %s: %w", sourceID, err)
	}
	return nil
}

func (idx *PostgresIndex) Query(ctx context.Context, vector []float32, topK int) ([]Scored, error) {
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vector), idx.dimension)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	// <=> is cosine distance; similarity = 1 - distance. Secondary sort keys
	// keep tie order deterministic: lower position wins, then lower source ID.
	rows, err := idx.pool.Query(ctx, `SELECT id, source_id, position, content, token_count,
			1 - (embedding <=> $1) AS similarity
		FROM chunks
		ORDER BY embedding <=> $1, position, source_id
		LIMIT $2`,
		pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []Scored
	for rows.Next() {
		var s Scored
		if err := rows.Scan(&s.ChunkID, &s.SourceID, &s.Position, &s.Text, &s.TokenCount, &s.Score); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	return results, nil
}

func (idx *PostgresIndex) Count(ctx context.Context) (int, error) {
	var count int
	err := idx.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}
