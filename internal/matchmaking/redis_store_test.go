package matchmaking

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a real Redis; set REDIS_ADDR or run one on localhost:6379.
func newRedisStore(t *testing.T) (*RedisStore, context.Context) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	ns := "codeduel:test:" + uuid.NewString()
	s := NewRedisStore(rdb, ns)
	t.Cleanup(func() {
		keys, _ := rdb.Keys(context.Background(), ns+":*").Result()
		if len(keys) > 0 {
			rdb.Del(context.Background(), keys...)
		}
		rdb.Close()
	})
	return s, ctx
}

func TestRedisStoreMatchesFIFO(t *testing.T) {
	s, ctx := newRedisStore(t)
	base := time.Now().UTC()

	entry := func(user string, offset time.Duration) Entry {
		return Entry{UserID: user, ConnectionID: "c-" + user, Difficulty: models.DifficultyEasy, TimeLimit: 10, EnqueuedAt: base.Add(offset)}
	}

	opp, err := s.Match(ctx, entry("u1", 0), DefaultEntryTTL)
	require.NoError(t, err)
	assert.Nil(t, opp)
	opp, err = s.Match(ctx, entry("u2", time.Second), DefaultEntryTTL)
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, "u1", opp.UserID)
	assert.Equal(t, "c-u1", opp.ConnectionID)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Restore(ctx, *opp))
	got, err := s.entry(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, opp.EnqueuedAt.UnixMilli(), got.EnqueuedAt.UnixMilli())

	removed, err := s.Remove(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestRedisStoreKeepsArrivalOrderWithinAMillisecond(t *testing.T) {
	s, ctx := newRedisStore(t)
	at := time.Now().UTC()
	entry := func(user string) Entry {
		return Entry{UserID: user, Difficulty: models.DifficultyEasy, TimeLimit: 15, EnqueuedAt: at}
	}

	// same timestamp, member names sort opposite to arrival; Restore appends "aa" without
	// pairing it with "zz"
	opp, err := s.Match(ctx, entry("zz"), DefaultEntryTTL)
	require.NoError(t, err)
	require.Nil(t, opp)
	require.NoError(t, s.Restore(ctx, entry("aa")))

	opp, err = s.Match(ctx, entry("mm"), DefaultEntryTTL)
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, "zz", opp.UserID)

	// a restored entry goes back ahead of later arrivals
	require.NoError(t, s.Restore(ctx, *opp))
	opp, err = s.Match(ctx, entry("nn"), DefaultEntryTTL)
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, "zz", opp.UserID)
}

func TestRedisStorePurgesStale(t *testing.T) {
	s, ctx := newRedisStore(t)
	base := time.Now().UTC()

	_, err := s.Match(ctx, Entry{UserID: "old", Difficulty: models.DifficultyHard, TimeLimit: 10, EnqueuedAt: base.Add(-time.Minute)}, DefaultEntryTTL)
	require.NoError(t, err)
	_, err = s.Match(ctx, Entry{UserID: "new", Difficulty: models.DifficultyEasy, TimeLimit: 10, EnqueuedAt: base}, DefaultEntryTTL)
	require.NoError(t, err)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
