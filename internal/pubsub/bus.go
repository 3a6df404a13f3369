// internal/pubsub/bus.go
package pubsub

import (
	"context"
	"encoding/json"
)

// Message is one outbound event addressed to a set of connections. Every instance receives
// every message and delivers it to the targets it holds locally.
type Message struct {
	RoomID  string          `json:"roomId,omitempty"`
	Targets []string        `json:"targets"`
	Payload json.RawMessage `json:"payload"`
}

// Bus fans messages out to every subscribed server instance.
type Bus interface {
	Publish(ctx context.Context, m Message) error
	// Subscribe starts delivering messages to fn until ctx is done or the bus is closed.
	Subscribe(ctx context.Context, fn func(Message)) error
	Close() error
}

const channelPrefix = "codeduel"

// topic returns the room-scoped or direct topic for m, joined with sep.
func topic(m Message, sep string) string {
	if m.RoomID != "" {
		return channelPrefix + sep + "room" + sep + m.RoomID
	}
	return channelPrefix + sep + "direct"
}
