package matchmaking

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/codeduel/internal/game"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStarter struct {
	mu    sync.Mutex
	fail  error
	pairs [][2]string
}

func (f *fakeStarter) CreateQuickMatch(_ context.Context, d models.Difficulty, tl int, a, b game.Seat) (*models.GameRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.pairs = append(f.pairs, [2]string{a.UserID, b.UserID})
	return &models.GameRoom{
		RoomID:     "QM" + a.UserID + b.UserID,
		Status:     models.RoomInProgress,
		Difficulty: d,
		TimeLimit:  tl,
		Players: []*models.RoomPlayer{
			{UserID: a.UserID, ConnectionID: a.ConnectionID, Status: models.PlayerPlaying},
			{UserID: b.UserID, ConnectionID: b.ConnectionID, Status: models.PlayerPlaying},
		},
	}, nil
}

func newTestQueue(starter RoomStarter) (*Queue, *MemoryStore, *time.Time) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := NewMemoryStore()
	q := NewQueue(store, starter, logger, DefaultEntryTTL)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return q, store, &now
}

func TestFirstCompatibleWins(t *testing.T) {
	starter := &fakeStarter{}
	q, store, _ := newTestQueue(starter)
	ctx := context.Background()

	for _, req := range []struct {
		user string
		d    models.Difficulty
		tl   int
	}{
		{"u1", models.DifficultyHard, 10},
		{"u2", models.DifficultyEasy, 15},
		{"u3", models.DifficultyEasy, 10},
		{"u4", models.DifficultyEasy, 10},
	} {
		res, err := q.RequestMatch(ctx, req.user, "c-"+req.user, req.d, req.tl)
		require.NoError(t, err)
		if req.user == "u4" {
			require.NotNil(t, res.Room)
			continue
		}
		assert.True(t, res.Queued, req.user)
	}

	assert.Equal(t, [][2]string{{"u3", "u4"}}, starter.pairs)
	assert.Equal(t, []string{"u1", "u2"}, store.snapshot())

	res, err := q.RequestMatch(ctx, "u5", "c-u5", models.DifficultyEasy, 10)
	require.NoError(t, err)
	assert.True(t, res.Queued, "u3 was consumed by the earlier match")
}

func TestRequeueReplacesEntry(t *testing.T) {
	q, store, _ := newTestQueue(&fakeStarter{})
	ctx := context.Background()

	_, err := q.RequestMatch(ctx, "u1", "c1", models.DifficultyEasy, 10)
	require.NoError(t, err)
	res, err := q.RequestMatch(ctx, "u1", "c1b", models.DifficultyEasy, 10)
	require.NoError(t, err)
	assert.True(t, res.Queued, "a player never matches themselves")
	assert.Equal(t, []string{"u1"}, store.snapshot())
}

func TestStaleEntriesPurgedOnEnqueue(t *testing.T) {
	q, store, now := newTestQueue(&fakeStarter{})
	ctx := context.Background()

	_, err := q.RequestMatch(ctx, "old", "c-old", models.DifficultyHard, 10)
	require.NoError(t, err)
	*now = now.Add(time.Minute)

	_, err = q.RequestMatch(ctx, "new", "c-new", models.DifficultyEasy, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, store.snapshot())
}

func TestFailedRoomCreationRestoresOpponent(t *testing.T) {
	starter := &fakeStarter{fail: game.ErrNoProblems}
	q, store, _ := newTestQueue(starter)
	ctx := context.Background()

	_, err := q.RequestMatch(ctx, "u1", "c-u1", models.DifficultyHard, 20)
	require.NoError(t, err)
	_, err = q.RequestMatch(ctx, "u2", "c-u2", models.DifficultyMedium, 20)
	require.NoError(t, err)
	_, err = q.RequestMatch(ctx, "u0", "c-u0", models.DifficultyEasy, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2", "u0"}, store.snapshot())

	_, err = q.RequestMatch(ctx, "u3", "c-u3", models.DifficultyHard, 20)
	assert.ErrorIs(t, err, game.ErrNoProblems)
	assert.Equal(t, []string{"u1", "u2", "u0"}, store.snapshot(), "opponent back in its slot, requester not queued")
}

func TestCancelRemovesEntry(t *testing.T) {
	q, _, _ := newTestQueue(&fakeStarter{})
	ctx := context.Background()

	_, err := q.RequestMatch(ctx, "u1", "c1", models.DifficultyEasy, 10)
	require.NoError(t, err)

	removed, err := q.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := q.Waiting(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRejectsBadParams(t *testing.T) {
	q, store, _ := newTestQueue(&fakeStarter{})
	_, err := q.RequestMatch(context.Background(), "u1", "c1", "nightmare", 10)
	assert.Equal(t, game.CodeBadRequest, game.CodeOf(err))
	_, err = q.RequestMatch(context.Background(), "u1", "c1", models.DifficultyEasy, 0)
	assert.Equal(t, game.CodeBadRequest, game.CodeOf(err))
	assert.Empty(t, store.snapshot())
}
