package matchmaking

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store backed by a slice in insertion order.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Match(_ context.Context, req Entry, ttl time.Duration) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(req.UserID)
	for i, e := range s.entries {
		if e.compatible(req) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return &e, nil
		}
	}

	cutoff := req.EnqueuedAt.Add(-ttl)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.EnqueuedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	s.entries = append(kept, req)
	return nil, nil
}

func (s *MemoryStore) Restore(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(e.UserID)
	pos := len(s.entries)
	for i, cur := range s.entries {
		if cur.EnqueuedAt.After(e.EnqueuedAt) {
			pos = i
			break
		}
	}
	s.entries = append(s.entries, Entry{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = e
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(userID), nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) removeLocked(userID string) bool {
	for i, e := range s.entries {
		if e.UserID == userID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns the queued user ids in order.
func (s *MemoryStore) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.entries))
	for i, e := range s.entries {
		ids[i] = e.UserID
	}
	return ids
}
