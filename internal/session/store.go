package session

import (
	"context"

	"github.com/google/uuid"
)

// Store persists sessions and messages.
type Store interface {
	// GetOrCreate returns the session with the given id, creating it with
	// ownerID and title when absent. created reports whether a new session
	// was made. Concurrent calls with the same id yield exactly one session.
	GetOrCreate(ctx context.Context, id uuid.UUID, ownerID, title string) (sess Session, created bool, err error)

	// Get returns the session with the given id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Session, error)

	// List returns ownerID's sessions ordered by last activity, newest
	// first. Empty ownerID lists all sessions.
	List(ctx context.Context, ownerID string) ([]Session, error)

	// Close marks the session closed, or returns ErrNotFound.
	Close(ctx context.Context, id uuid.UUID) error

	// Delete removes the session and its messages, or returns ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error

	// AppendMessages atomically appends msgs in order, assigning sequence
	// numbers and monotonic timestamps, and touches the session's last
	// activity. Either every message lands or none does. The stored
	// messages are returned with their assigned fields.
	AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs []Message) ([]Message, error)

	// Messages returns the session's messages in sequence order.
	Messages(ctx context.Context, sessionID uuid.UUID) ([]Message, error)
}
