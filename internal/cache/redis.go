// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultHistoryQueue is the Redis list finished matches are pushed to.
const DefaultHistoryQueue = "codeduel_results"

// MatchRecord holds the minimal info an offline match historian needs.
type MatchRecord struct {
	RoomID     string               `json:"room_id"`
	Mode       models.Mode          `json:"mode"`
	Difficulty models.Difficulty    `json:"difficulty"`
	TimeLimit  int                  `json:"time_limit"`
	Status     models.RoomStatus    `json:"status"`
	Reason     models.EndReason     `json:"reason"`
	Winner     *string              `json:"winner"`
	ProblemIDs []string             `json:"problem_ids"`
	Standings  []models.PlayerScore `json:"standings"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	EndedAt    *time.Time           `json:"ended_at,omitempty"`
	Timestamp  int64                `json:"timestamp"`
}

// ConnectRedis initializes the global Redis client and pings it.
func ConnectRedis(addr string, db int) error {
	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// HistoryPublisher pushes finished rooms onto a Redis list for the historian.
type HistoryPublisher struct {
	rdb   *redis.Client
	queue string
}

func NewHistoryPublisher(rdb *redis.Client, queue string) *HistoryPublisher {
	if queue == "" {
		queue = DefaultHistoryQueue
	}
	return &HistoryPublisher{rdb: rdb, queue: queue}
}

// NewMatchRecord flattens a terminal room.
func NewMatchRecord(room *models.GameRoom) MatchRecord {
	rec := MatchRecord{
		RoomID:     room.RoomID,
		Mode:       room.Mode,
		Difficulty: room.Difficulty,
		TimeLimit:  room.TimeLimit,
		Status:     room.Status,
		ProblemIDs: room.ProblemIDs,
		StartedAt:  room.StartTime,
		EndedAt:    room.EndTime,
		Timestamp:  time.Now().UnixMilli(),
	}
	if room.GameResults != nil {
		rec.Reason = room.GameResults.Reason
		rec.Winner = room.GameResults.Winner
		rec.Standings = room.GameResults.SolvedOrder
	}
	return rec
}

// RecordResult serializes the room's outcome to JSON, then pushes it to the Redis list.
func (h *HistoryPublisher) RecordResult(ctx context.Context, room *models.GameRoom) error {
	data, err := json.Marshal(NewMatchRecord(room))
	if err != nil {
		return fmt.Errorf("failed to marshal MatchRecord: %w", err)
	}
	if err := h.rdb.RPush(ctx, h.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", h.queue, err)
	}
	return nil
}
