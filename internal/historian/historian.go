// Package historian drains finished-match records from the Redis history list and persists
// them in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/codeduel/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Sink persists a batch of records atomically.
type Sink interface {
	SaveMatches(ctx context.Context, recs []cache.MatchRecord) error
}

type Options struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	// PopTimeout bounds each BLPOP so shutdown is noticed.
	PopTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Queue:      cache.DefaultHistoryQueue,
		BatchSize:  20,
		FlushDelay: 500 * time.Millisecond,
		PopTimeout: 3 * time.Second,
	}
}

// Service pops records off the queue and flushes them to the sink when the batch fills or
// the flush delay passes.
type Service struct {
	rdb  *redis.Client
	sink Sink
	opts Options
	log  *logrus.Logger

	mu    sync.Mutex
	batch []cache.MatchRecord
}

func New(rdb *redis.Client, sink Sink, logger *logrus.Logger, opts Options) *Service {
	def := DefaultOptions()
	if opts.Queue == "" {
		opts.Queue = def.Queue
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = def.FlushDelay
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = def.PopTimeout
	}
	return &Service{
		rdb:   rdb,
		sink:  sink,
		opts:  opts,
		log:   logger,
		batch: make([]cache.MatchRecord, 0, opts.BatchSize),
	}
}

// Run blocks until ctx is cancelled, then flushes whatever is still buffered.
func (s *Service) Run(ctx context.Context) error {
	go s.flushLoop(ctx)
	s.log.Infof("historian consuming %s", s.opts.Queue)

	for {
		if ctx.Err() != nil {
			break
		}
		res, err := s.rdb.BLPop(ctx, s.opts.PopTimeout, s.opts.Queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.log.Errorf("BLPOP %s: %v", s.opts.Queue, err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		// res[0] is the list name, res[1] the payload
		if len(res) < 2 {
			continue
		}
		s.Ingest(ctx, []byte(res[1]))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Flush(flushCtx)
	s.log.Info("historian stopped")
	return nil
}

// Ingest decodes one payload and buffers it, flushing when the batch is full. Malformed
// payloads are logged and dropped.
func (s *Service) Ingest(ctx context.Context, payload []byte) {
	var rec cache.MatchRecord
	if err := json.Unmarshal(payload, &rec); err != nil || rec.RoomID == "" {
		s.log.Warnf("dropping invalid match record: %v", err)
		return
	}
	s.mu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.opts.BatchSize
	s.mu.Unlock()
	if full {
		s.Flush(ctx)
	}
}

// Flush writes the buffered batch. On failure the records stay buffered for the next flush.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batch) == 0 {
		return
	}
	if err := s.sink.SaveMatches(ctx, s.batch); err != nil {
		s.log.Errorf("flush of %d match records failed: %v", len(s.batch), err)
		return
	}
	s.log.Debugf("flushed %d match records", len(s.batch))
	s.batch = s.batch[:0]
}

// Pending reports how many records are buffered.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batch)
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}
