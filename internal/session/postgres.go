package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionCols = `id, owner_id, title, status, created_at, last_activity_at`

// appendMessageSQL assigns the next dense sequence number and a timestamp
// that never precedes the previous message, both computed inside the insert
// so the row-lock on the session serializes writers.
const appendMessageSQL = `INSERT INTO session_messages
	(id, session_id, role, content, token_count, truncated, sequence_number, created_at)
	VALUES ($1, $2, $3, $4, $5, $6,
		(SELECT COALESCE(MAX(sequence_number), 0) + 1
			FROM session_messages WHERE session_id = $2),
		(SELECT GREATEST(clock_timestamp(),
				COALESCE(MAX(created_at), 'epoch'::timestamptz) + interval '1 microsecond')
			FROM session_messages WHERE session_id = $2))
	RETURNING sequence_number, created_at`

// PostgresStore persists sessions in PostgreSQL. Appends run in a
// transaction holding a row lock on the session, which serializes concurrent
// writers and keeps sequence numbers dense.
//
// PostgresStore is safe for concurrent use by multiple goroutines.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, id uuid.UUID, ownerID, title string) (Session, bool, error) {
	// ON CONFLICT DO NOTHING makes concurrent calls with the same id
	// converge on a single row.
	tag, err := s.pool.Exec(ctx, `INSERT INTO sessions (id, owner_id, title, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		id, ownerID, title, string(StatusActive))
	if err != nil {
		return Session{}, false, fmt.Errorf("creating session: %w", err)
	}
	created := tag.RowsAffected() == 1

	sess, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, false, err
	}
	return sess, created, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *PostgresStore) List(ctx context.Context, ownerID string) ([]Session, error) {
	query := `SELECT ` + sessionCols + ` FROM sessions`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY last_activity_at DESC, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $2 WHERE id = $1`, id, string(StatusClosed))
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs []Message) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking session: %w", err)
	}

	stored := make([]Message, len(msgs))
	for i, msg := range msgs {
		msg.ID = uuid.New()
		msg.SessionID = sessionID
		err := tx.QueryRow(ctx, appendMessageSQL,
			msg.ID, sessionID, string(msg.Role), msg.Content,
			msg.TokenCount, msg.Truncated,
		).Scan(&msg.SequenceNumber, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("appending message %d: %w", i, err)
		}
		stored[i] = msg
	}

	last := stored[len(stored)-1]
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET last_activity_at = $2 WHERE id = $1`,
		sessionID, last.CreatedAt); err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) Messages(ctx context.Context, sessionID uuid.UUID) ([]Message, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT id, session_id, role, content,
			token_count, truncated, sequence_number, created_at
		FROM session_messages
		WHERE session_id = $1
		ORDER BY sequence_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content,
			&msg.TokenCount, &msg.Truncated, &msg.SequenceNumber, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = Role(role)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	var status string
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &status,
		&sess.CreatedAt, &sess.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scanning session: %w", err)
	}
	sess.Status = Status(status)
	return sess, nil
}
