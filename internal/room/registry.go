// internal/room/registry.go
package room

import (
	"context"
	"crypto/rand"
	"errors"

	"github.com/jason-s-yu/codeduel/internal/models"
)

var (
	// ErrNotFound is returned when no room exists for the given code.
	ErrNotFound = errors.New("room not found")
	// ErrExists is returned by Create when the code is already taken.
	ErrExists = errors.New("room code already in use")
	// ErrVersionConflict is returned by Save when the stored version moved since the room was read.
	ErrVersionConflict = errors.New("room was modified concurrently")
)

// Registry is the durable store of GameRoom documents and the single source of truth
// for room state. Implementations must:
//   - reject Create for an existing RoomID with ErrExists
//   - reject Save when room.Version differs from the stored version (ErrVersionConflict),
//     and bump room.Version on success
//   - return copies, never shared pointers
type Registry interface {
	Create(ctx context.Context, room *models.GameRoom) error
	Get(ctx context.Context, roomID string) (*models.GameRoom, error)
	Save(ctx context.Context, room *models.GameRoom) error
	Delete(ctx context.Context, roomID string) error
	// FindActiveByUser returns the waiting or in-progress room seating userID.
	FindActiveByUser(ctx context.Context, userID string) (*models.GameRoom, error)
	ListByStatus(ctx context.Context, status models.RoomStatus) ([]*models.GameRoom, error)
}

// codeAlphabet leaves out characters that are easy to confuse when read aloud (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a room code.
const CodeLength = 6

// NewCode returns a random human-shareable room code.
func NewCode() string {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("room: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// maxCodeAttempts bounds retries when a generated code collides.
const maxCodeAttempts = 8

// CreateWithCode assigns fresh codes to room until Create succeeds.
func CreateWithCode(ctx context.Context, reg Registry, room *models.GameRoom) error {
	var err error
	for i := 0; i < maxCodeAttempts; i++ {
		room.RoomID = NewCode()
		if err = reg.Create(ctx, room); !errors.Is(err, ErrExists) {
			return err
		}
	}
	return err
}
