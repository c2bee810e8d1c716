package corpus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const documentCols = `id, origin, location, title, content_hash, chunk_count, created_at`

// PostgresStore persists source documents in the source_documents table.
//
// PostgresStore is safe for concurrent use by multiple goroutines.
type PostgresStore struct {
	db querier
}

// NewPostgresStore creates a PostgresStore on top of a pool or transaction.
func NewPostgresStore(db querier) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Put(ctx context.Context, doc SourceDocument) error {
	_, err := s.db.Exec(ctx, `INSERT INTO source_documents
		(id, origin, location, title, content_hash, chunk_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, string(doc.Origin), doc.Location, doc.Title,
		doc.ContentHash, doc.ChunkCount, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (SourceDocument, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+documentCols+` FROM source_documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (s *PostgresStore) GetByHash(ctx context.Context, hash string) (SourceDocument, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+documentCols+` FROM source_documents WHERE content_hash = $1`, hash)
	return scanDocument(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]SourceDocument, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+documentCols+` FROM source_documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []SourceDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM source_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (SourceDocument, error) {
	var doc SourceDocument
	var origin string
	err := row.Scan(&doc.ID, &origin, &doc.Location, &doc.Title,
		&doc.ContentHash, &doc.ChunkCount, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SourceDocument{}, ErrNotFound
	}
	if err != nil {
		return SourceDocument{}, fmt.Errorf("scanning document: %w", err)
	}
	doc.Origin = Origin(origin)
	return doc, nil
}
