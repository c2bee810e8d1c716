package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and single-shot CLI runs.
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]Session
	messages map[uuid.UUID][]Message
	lastAt   map[uuid.UUID]time.Time
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]Session),
		messages: make(map[uuid.UUID][]Message),
		lastAt:   make(map[uuid.UUID]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id uuid.UUID, ownerID, title string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, false, nil
	}

	now := s.now()
	sess := Session{
		ID:             id,
		OwnerID:        ownerID,
		Title:          title,
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.sessions[id] = sess
	return sess, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) List(_ context.Context, ownerID string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Session
	for _, sess := range s.sessions {
		if ownerID == "" || sess.OwnerID == ownerID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) Close(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = StatusClosed
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	delete(s.lastAt, id)
	return nil
}

func (s *MemoryStore) AppendMessages(_ context.Context, sessionID uuid.UUID, msgs []Message) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	existing := s.messages[sessionID]
	nextSeq := int64(len(existing)) + 1
	last := s.lastAt[sessionID]

	stored := make([]Message, len(msgs))
	for i, msg := range msgs {
		// Timestamps stay monotonic within a session even if the wall
		// clock steps backwards between appends.
		at := s.now()
		if !at.After(last) {
			at = last.Add(time.Microsecond)
		}
		last = at

		msg.ID = uuid.New()
		msg.SessionID = sessionID
		msg.SequenceNumber = nextSeq
		msg.CreatedAt = at
		nextSeq++
		stored[i] = msg
	}

	s.messages[sessionID] = append(existing, stored...)
	s.lastAt[sessionID] = last

	sess.LastActivityAt = last
	s.sessions[sessionID] = sess

	return stored, nil
}

func (s *MemoryStore) Messages(_ context.Context, sessionID uuid.UUID) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	msgs := s.messages[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
