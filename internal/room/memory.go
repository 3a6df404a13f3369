// internal/room/memory.go
package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jason-s-yu/codeduel/internal/models"
)

// MemoryRegistry keeps rooms in process memory. Used in tests and single-node dev runs.
type MemoryRegistry struct {
	mu    sync.Mutex
	rooms map[string]*models.GameRoom
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		rooms: make(map[string]*models.GameRoom),
	}
}

func (s *MemoryRegistry) Create(_ context.Context, room *models.GameRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.RoomID]; exists {
		return ErrExists
	}
	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	room.Version = 1
	s.rooms[room.RoomID] = room.Clone()
	return nil
}

func (s *MemoryRegistry) Get(_ context.Context, roomID string) (*models.GameRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryRegistry) Save(_ context.Context, room *models.GameRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.rooms[room.RoomID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != room.Version {
		return ErrVersionConflict
	}
	room.Version++
	room.UpdatedAt = time.Now().UTC()
	s.rooms[room.RoomID] = room.Clone()
	return nil
}

func (s *MemoryRegistry) Delete(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return ErrNotFound
	}
	delete(s.rooms, roomID)
	return nil
}

func (s *MemoryRegistry) FindActiveByUser(_ context.Context, userID string) (*models.GameRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// newest first, so a stale room never shadows the one the user is actually in
	var found *models.GameRoom
	for _, r := range s.rooms {
		if r.Status.IsTerminal() || r.Player(userID) == nil {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found = r
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.Clone(), nil
}

func (s *MemoryRegistry) ListByStatus(_ context.Context, status models.RoomStatus) ([]*models.GameRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.GameRoom
	for _, r := range s.rooms {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
