package corpus

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store persists source documents.
type Store interface {
	// Put inserts doc. The content hash must be unique among stored documents.
	Put(ctx context.Context, doc SourceDocument) error

	// Get returns the document with the given id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (SourceDocument, error)

	// GetByHash returns the document with the given content hash, or
	// ErrNotFound.
	GetByHash(ctx context.Context, hash string) (SourceDocument, error)

	// List returns all documents, newest first.
	List(ctx context.Context) ([]SourceDocument, error)

	// Delete removes the document with the given id, or returns ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryStore is an in-process Store for tests and single-shot CLI runs.
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]SourceDocument
	byHash map[string]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[uuid.UUID]SourceDocument),
		byHash: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Put(_ context.Context, doc SourceDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[doc.ID] = doc
	s.byHash[doc.ContentHash] = doc.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.byID[id]
	if !ok {
		return SourceDocument{}, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return SourceDocument{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) List(_ context.Context) ([]SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]SourceDocument, 0, len(s.byID))
	for _, doc := range s.byID {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID.String() < docs[j].ID.String()
	})
	return docs, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byHash, doc.ContentHash)
	return nil
}
