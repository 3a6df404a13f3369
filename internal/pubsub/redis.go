// internal/pubsub/redis.go
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBus fans messages out over Redis pub/sub.
type RedisBus struct {
	rdb *redis.Client
	log *logrus.Logger
}

// NewRedisBus uses an already connected client; Close does not close it.
func NewRedisBus(rdb *redis.Client, logger *logrus.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, log: logger}
}

// Publish sends m to the channel of its room (or the direct channel).
func (b *RedisBus) Publish(ctx context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding bus message: %w", err)
	}
	if err := b.rdb.Publish(ctx, topic(m, ":"), raw).Err(); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

// Subscribe listens to every codeduel channel and invokes fn for each message.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(Message)) error {
	ps := b.rdb.PSubscribe(ctx, channelPrefix+":*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribing to redis: %w", err)
	}
	ch := ps.Channel()

	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					b.log.Warnf("dropping malformed bus message on %s: %v", msg.Channel, err)
					continue
				}
				fn(m)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error { return nil }
