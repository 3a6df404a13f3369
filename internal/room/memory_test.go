package room

import (
	"context"
	"strings"
	"testing"

	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWaitingRoom(code string, users ...string) *models.GameRoom {
	r := &models.GameRoom{
		RoomID:     code,
		Status:     models.RoomWaiting,
		MaxPlayers: 2,
		Mode:       models.Mode1v1,
		Difficulty: models.DifficultyEasy,
		TimeLimit:  10,
	}
	for i, u := range users {
		r.Players = append(r.Players, &models.RoomPlayer{UserID: u, IsCreator: i == 0, Status: models.PlayerPending})
	}
	return r
}

func TestMemoryRegistryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	require.NoError(t, reg.Create(ctx, newWaitingRoom("ABC234", "alice")))
	assert.ErrorIs(t, reg.Create(ctx, newWaitingRoom("ABC234", "bob")), ErrExists)

	got, err := reg.Get(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "alice", got.Players[0].UserID)

	_, err = reg.Get(ctx, "NOPE99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRegistryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.Create(ctx, newWaitingRoom("ABC234", "alice")))

	got, err := reg.Get(ctx, "ABC234")
	require.NoError(t, err)
	got.Players[0].Status = models.PlayerReady

	again, err := reg.Get(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, models.PlayerPending, again.Players[0].Status, "mutating a fetched room must not leak into the store")
}

func TestMemoryRegistrySaveVersionCheck(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.Create(ctx, newWaitingRoom("ABC234", "alice")))

	first, _ := reg.Get(ctx, "ABC234")
	second, _ := reg.Get(ctx, "ABC234")

	first.Players[0].Status = models.PlayerReady
	require.NoError(t, reg.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Players = nil
	assert.ErrorIs(t, reg.Save(ctx, second), ErrVersionConflict, "stale snapshot must not overwrite a newer write")

	stored, _ := reg.Get(ctx, "ABC234")
	assert.Len(t, stored.Players, 1)
}

func TestMemoryRegistryFindActiveByUser(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	done := newWaitingRoom("DONE22", "alice")
	done.Status = models.RoomCompleted
	require.NoError(t, reg.Create(ctx, done))
	require.NoError(t, reg.Create(ctx, newWaitingRoom("LIVE22", "alice", "bob")))

	got, err := reg.FindActiveByUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "LIVE22", got.RoomID)

	got, err = reg.FindActiveByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "LIVE22", got.RoomID, "terminal rooms are never active")

	_, err = reg.FindActiveByUser(ctx, "carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRegistryListAndDelete(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.Create(ctx, newWaitingRoom("ROOM22", "alice")))

	waiting, err := reg.ListByStatus(ctx, models.RoomWaiting)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)

	require.NoError(t, reg.Delete(ctx, "ROOM22"))
	assert.ErrorIs(t, reg.Delete(ctx, "ROOM22"), ErrNotFound)
}

func TestNewCodeAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := NewCode()
		require.Len(t, code, CodeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, c), "unexpected rune %q in %s", c, code)
		}
	}
}

func TestCreateWithCodeAssignsID(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	r := newWaitingRoom("", "alice")
	require.NoError(t, CreateWithCode(ctx, reg, r))
	assert.Len(t, r.RoomID, CodeLength)

	_, err := reg.Get(ctx, r.RoomID)
	assert.NoError(t, err)
}
