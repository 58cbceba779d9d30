// Package memory keeps progression documents in process memory.
// It backs the "memory" storage driver and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ProgressStore is a concurrency-safe in-memory document store.
type ProgressStore struct {
	mu   sync.RWMutex
	docs map[string]progression.Document
}

var _ ranks.SnapshotStore = (*ProgressStore)(nil)

// NewProgressStore creates an empty store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{docs: make(map[string]progression.Document)}
}

// Load returns a copy of the stored document.
func (s *ProgressStore) Load(_ context.Context, userID string) (progression.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[userID]
	if !ok {
		return progression.Document{}, shared.NewDomainError("memory", "Load", shared.ErrNotFound,
			fmt.Sprintf("no progression document for %q", userID))
	}
	doc.State = doc.State.Clone()
	return doc, nil
}

// Save stores a copy of doc. An older revision never overwrites a newer one.
func (s *ProgressStore) Save(_ context.Context, doc progression.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.docs[doc.UserID]; ok && cur.Revision > doc.Revision {
		return shared.NewDomainError("memory", "Save", shared.ErrConcurrentModification,
			fmt.Sprintf("stored revision for %q is newer than %d", doc.UserID, doc.Revision))
	}
	doc.State = doc.State.Clone()
	s.docs[doc.UserID] = doc
	return nil
}

// Delete removes a user's document.
func (s *ProgressStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, userID)
	return nil
}

// Len returns the number of stored documents.
func (s *ProgressStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
