// internal/matchmaking/redis_store.go
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares one queue between server instances. The queue is a sorted set of user
// ids scored by an arrival sequence, plus one hash per user holding the entry fields.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	seqKey string
	prefix string
}

// NewRedisStore uses <namespace>:queue for the sorted set, <namespace>:seq for the arrival
// counter and <namespace>:user:<id> for entries.
func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "codeduel:mm"
	}
	return &RedisStore{rdb: rdb, key: namespace + ":queue", seqKey: namespace + ":seq", prefix: namespace + ":user:"}
}

// KEYS[1] queue zset, KEYS[2] arrival counter
// ARGV: userId, connectionId, difficulty, timeLimit, enqueuedMs, cutoffMs, entry key prefix
var matchScript = redis.NewScript(`
local function ukey(id) return ARGV[7] .. id end

redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', ukey(ARGV[1]))

local members = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(members) do
  local e = redis.call('HMGET', ukey(id), 'difficulty', 'timeLimit', 'connectionId', 'enqueuedAt', 'seq')
  if e[1] == ARGV[3] and e[2] == ARGV[4] then
    redis.call('ZREM', KEYS[1], id)
    redis.call('DEL', ukey(id))
    return {id, e[3], e[4], e[5]}
  end
end

local cutoff = tonumber(ARGV[6])
for _, id in ipairs(members) do
  local at = tonumber(redis.call('HGET', ukey(id), 'enqueuedAt'))
  if at == nil or at < cutoff then
    redis.call('ZREM', KEYS[1], id)
    redis.call('DEL', ukey(id))
  end
end

local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[1], seq, ARGV[1])
redis.call('HSET', ukey(ARGV[1]), 'connectionId', ARGV[2], 'difficulty', ARGV[3], 'timeLimit', ARGV[4], 'enqueuedAt', ARGV[5], 'seq', seq)
return false
`)

func (s *RedisStore) Match(ctx context.Context, req Entry, ttl time.Duration) (*Entry, error) {
	enqueued := req.EnqueuedAt.UnixMilli()
	cutoff := req.EnqueuedAt.Add(-ttl).UnixMilli()

	res, err := matchScript.Run(ctx, s.rdb, []string{s.key, s.seqKey},
		req.UserID, req.ConnectionID, string(req.Difficulty), strconv.Itoa(req.TimeLimit),
		enqueued, cutoff, s.prefix).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matchmaking script: %w", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) != 4 {
		return nil, fmt.Errorf("matchmaking script: unexpected reply %v", res)
	}
	opp := Entry{
		Difficulty: req.Difficulty,
		TimeLimit:  req.TimeLimit,
	}
	opp.UserID, _ = fields[0].(string)
	opp.ConnectionID, _ = fields[1].(string)
	if raw, _ := fields[2].(string); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			opp.EnqueuedAt = time.UnixMilli(ms).UTC()
		}
	}
	if raw, _ := fields[3].(string); raw != "" {
		opp.seq, _ = strconv.ParseInt(raw, 10, 64)
	}
	return &opp, nil
}

// Restore re-inserts e under its original arrival number. An entry that never had one
// goes to the back of the queue.
func (s *RedisStore) Restore(ctx context.Context, e Entry) error {
	seq := e.seq
	if seq == 0 {
		n, err := s.rdb.Incr(ctx, s.seqKey).Result()
		if err != nil {
			return fmt.Errorf("restoring %s: %w", e.UserID, err)
		}
		seq = n
	}
	ms := e.EnqueuedAt.UnixMilli()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.key, redis.Z{Score: float64(seq), Member: e.UserID})
		pipe.HSet(ctx, s.prefix+e.UserID, map[string]interface{}{
			"connectionId": e.ConnectionID,
			"difficulty":   string(e.Difficulty),
			"timeLimit":    e.TimeLimit,
			"enqueuedAt":   ms,
			"seq":          seq,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("restoring %s: %w", e.UserID, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, userID string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.key, userID)
		pipe.Del(ctx, s.prefix+userID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("removing %s: %w", userID, err)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return int(n), nil
}

// entry reads back userID's stored entry. Used by tests and diagnostics.
func (s *RedisStore) entry(ctx context.Context, userID string) (*Entry, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+userID).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, redis.Nil
	}
	tl, _ := strconv.Atoi(vals["timeLimit"])
	ms, _ := strconv.ParseInt(vals["enqueuedAt"], 10, 64)
	seq, _ := strconv.ParseInt(vals["seq"], 10, 64)
	return &Entry{
		UserID:       userID,
		ConnectionID: vals["connectionId"],
		Difficulty:   models.Difficulty(vals["difficulty"]),
		TimeLimit:    tl,
		EnqueuedAt:   time.UnixMilli(ms).UTC(),
		seq:          seq,
	}, nil
}
