package store

import (
	"context"
	"sync"

	"github.com/baominh/greeter/internal/turns"
)

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// MemStore keeps transcripts in memory. Used in tests and when the greeter
// runs without a database.
type MemStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// SaveEntries implements [Store].
func (s *MemStore) SaveEntries(_ context.Context, sessionID string, entries []turns.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries = append(s.entries, Entry{
			ID:        e.ID,
			SessionID: sessionID,
			Role:      e.Role,
			Text:      e.Text,
			At:        e.At,
		})
	}
	return nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context, q Query) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if q.SessionID != "" && e.SessionID != q.SessionID {
			continue
		}
		if q.Role != "" && e.Role != q.Role {
			continue
		}
		if !q.Since.IsZero() && e.At.Before(q.Since) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// Close implements [Store]. It is a no-op.
func (s *MemStore) Close() error {
	return nil
}
