// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"fmt"
	"time"

	"github.com/jason-s-yu/codeduel/internal/game"
	"github.com/jason-s-yu/codeduel/internal/metrics"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultEntryTTL is how long a waiting entry stays matchable before it is purged.
const DefaultEntryTTL = 30 * time.Second

// Entry is one player waiting for an opponent.
type Entry struct {
	UserID       string            `json:"userId"`
	ConnectionID string            `json:"connectionId"`
	Difficulty   models.Difficulty `json:"difficulty"`
	TimeLimit    int               `json:"timeLimit"`
	EnqueuedAt   time.Time         `json:"enqueuedAt"`

	// seq is the arrival number a shared store assigns; it orders entries enqueued in the
	// same millisecond.
	seq int64
}

// compatible reports whether e and o can be paired.
func (e Entry) compatible(o Entry) bool {
	return e.UserID != o.UserID && e.Difficulty == o.Difficulty && e.TimeLimit == o.TimeLimit
}

// Store holds the waiting entries. Every method is atomic with respect to the others.
type Store interface {
	// Match removes any entry of req.UserID, then removes and returns the oldest entry
	// compatible with req. With no compatible entry it purges entries enqueued before
	// req.EnqueuedAt-ttl, inserts req and returns nil.
	Match(ctx context.Context, req Entry, ttl time.Duration) (*Entry, error)
	// Restore puts e back at the position it held before Match took it.
	Restore(ctx context.Context, e Entry) error
	// Remove drops userID's entry and reports whether there was one.
	Remove(ctx context.Context, userID string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// RoomStarter creates the room for a matched pair.
type RoomStarter interface {
	CreateQuickMatch(ctx context.Context, difficulty models.Difficulty, timeLimit int, a, b game.Seat) (*models.GameRoom, error)
}

// Result is either a started room or a confirmation that the requester is waiting.
type Result struct {
	Room   *models.GameRoom
	Queued bool
}

// Queue pairs players first-come first-served on equal difficulty and time limit.
type Queue struct {
	store Store
	rooms RoomStarter
	log   *logrus.Logger
	ttl   time.Duration
	now   func() time.Time
}

func NewQueue(store Store, rooms RoomStarter, logger *logrus.Logger, ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = DefaultEntryTTL
	}
	return &Queue{
		store: store,
		rooms: rooms,
		log:   logger,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RequestMatch pairs userID with the first compatible waiting player or queues them.
// If the room cannot be created the opponent goes back to its place in line and the
// requester is not queued.
func (q *Queue) RequestMatch(ctx context.Context, userID, connectionID string, difficulty models.Difficulty, timeLimit int) (Result, error) {
	if err := game.ValidateMatchParams(difficulty, timeLimit); err != nil {
		return Result{}, err
	}

	req := Entry{
		UserID:       userID,
		ConnectionID: connectionID,
		Difficulty:   difficulty,
		TimeLimit:    timeLimit,
		EnqueuedAt:   q.now(),
	}
	opp, err := q.store.Match(ctx, req, q.ttl)
	if err != nil {
		metrics.MatchRequests.WithLabelValues("failed").Inc()
		return Result{}, fmt.Errorf("matching %s: %w", userID, err)
	}
	logger := q.log.WithFields(logrus.Fields{"user": userID, "difficulty": difficulty, "timeLimit": timeLimit})
	if opp == nil {
		metrics.MatchRequests.WithLabelValues("queued").Inc()
		logger.Debug("queued for matchmaking")
		return Result{Queued: true}, nil
	}

	r, err := q.rooms.CreateQuickMatch(ctx, difficulty, timeLimit,
		game.Seat{UserID: opp.UserID, ConnectionID: opp.ConnectionID},
		game.Seat{UserID: userID, ConnectionID: connectionID})
	if err != nil {
		if rerr := q.store.Restore(ctx, *opp); rerr != nil {
			logger.WithField("opponent", opp.UserID).Errorf("restoring opponent to queue failed: %v", rerr)
		}
		metrics.MatchRequests.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	metrics.MatchRequests.WithLabelValues("matched").Inc()
	logger.WithFields(logrus.Fields{"opponent": opp.UserID, "room": r.RoomID}).Info("match found")
	return Result{Room: r}, nil
}

// Cancel withdraws userID from the queue.
func (q *Queue) Cancel(ctx context.Context, userID string) (bool, error) {
	removed, err := q.store.Remove(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("cancelling search for %s: %w", userID, err)
	}
	return removed, nil
}

// Waiting returns the number of queued players.
func (q *Queue) Waiting(ctx context.Context) (int, error) {
	return q.store.Len(ctx)
}
