package pubsub

import (
	"context"
	"sync"
)

// LocalBus delivers synchronously to in-process subscribers. Used for single-instance runs.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Message)
	closed bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]func(Message))}
}

func (b *LocalBus) Publish(_ context.Context, m Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, fn := range b.subs {
		fn(m)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, fn func(Message)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]func(Message))
	return nil
}
