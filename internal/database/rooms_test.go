package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/jason-s-yu/codeduel/internal/room"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The tests in this file need live databases: DATABASE_URL for Postgres, MONGO_URI for MongoDB.

func testRoom(user string) *models.GameRoom {
	return &models.GameRoom{
		RoomID:     uuid.NewString()[:8],
		Status:     models.RoomWaiting,
		MaxPlayers: 2,
		Mode:       models.Mode1v1,
		Difficulty: models.DifficultyEasy,
		TimeLimit:  10,
		ProblemIDs: []string{"p1", "p2"},
		Players: []*models.RoomPlayer{
			{UserID: user, ConnectionID: "c1", IsCreator: true, Status: models.PlayerPending, JoinedAt: time.Now().UTC()},
		},
	}
}

func exerciseRegistry(t *testing.T, reg room.Registry) {
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	r := testRoom(user)
	require.NoError(t, reg.Create(ctx, r))
	t.Cleanup(func() { _ = reg.Delete(context.Background(), r.RoomID) })
	assert.Equal(t, int64(1), r.Version)
	assert.ErrorIs(t, reg.Create(ctx, testRoomWithID(r.RoomID, user)), room.ErrExists)

	got, err := reg.Get(ctx, r.RoomID)
	require.NoError(t, err)
	assert.Equal(t, user, got.Players[0].UserID)
	assert.Equal(t, []string{"p1", "p2"}, got.ProblemIDs)

	active, err := reg.FindActiveByUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, r.RoomID, active.RoomID)

	// two writers read version 1; the second save must lose
	a, err := reg.Get(ctx, r.RoomID)
	require.NoError(t, err)
	b, err := reg.Get(ctx, r.RoomID)
	require.NoError(t, err)

	a.Status = models.RoomInProgress
	require.NoError(t, reg.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Status = models.RoomCancelled
	assert.ErrorIs(t, reg.Save(ctx, b), room.ErrVersionConflict)
	assert.Equal(t, int64(1), b.Version)

	listed, err := reg.ListByStatus(ctx, models.RoomInProgress)
	require.NoError(t, err)
	var found bool
	for _, l := range listed {
		found = found || l.RoomID == r.RoomID
	}
	assert.True(t, found)

	a.Status = models.RoomCompleted
	require.NoError(t, reg.Save(ctx, a))
	_, err = reg.FindActiveByUser(ctx, user)
	assert.ErrorIs(t, err, room.ErrNotFound)

	require.NoError(t, reg.Delete(ctx, r.RoomID))
	assert.ErrorIs(t, reg.Delete(ctx, r.RoomID), room.ErrNotFound)
	_, err = reg.Get(ctx, r.RoomID)
	assert.ErrorIs(t, err, room.ErrNotFound)
	assert.ErrorIs(t, reg.Save(ctx, a), room.ErrNotFound)
}

func testRoomWithID(id, user string) *models.GameRoom {
	r := testRoom(user)
	r.RoomID = id
	return r
}

func TestPostgresRooms(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := ConnectDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, RunMigrations(ctx, pool, logrus.New()))

	exerciseRegistry(t, NewPostgresRooms(pool))
}

func TestPostgresProfilesFloorRating(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := ConnectDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, RunMigrations(ctx, pool, logrus.New()))

	profiles := NewProfiles(pool)
	user := "user-" + uuid.NewString()
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id=$1`, user) })

	_, err = profiles.GetProfile(ctx, user)
	assert.ErrorIs(t, err, ErrUserNotFound)

	stored, err := profiles.ApplyRating(ctx, user, 20, models.OutcomeWin)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRating+20, stored)

	_, err = pool.Exec(ctx, `UPDATE users SET rating=105 WHERE id=$1`, user)
	require.NoError(t, err)
	stored, err = profiles.ApplyRating(ctx, user, -15, models.OutcomeLoss)
	require.NoError(t, err)
	assert.Equal(t, models.MinRating, stored)

	p, err := profiles.GetProfile(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Wins)
	assert.Equal(t, 1, p.Losses)
}

func TestMongoRooms(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	cfg := DefaultMongoConfig()
	cfg.URI = uri
	cfg.Database = "codeduel_test"

	m, err := NewMongoDB(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.CreateIndexes(context.Background()))

	exerciseRegistry(t, NewMongoRooms(m))
}
