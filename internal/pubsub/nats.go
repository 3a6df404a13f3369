// internal/pubsub/nats.go
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NatsBus fans messages out over NATS subjects codeduel.room.<id> and codeduel.direct.
type NatsBus struct {
	nc  *nats.Conn
	log *logrus.Logger
}

// ConnectNats dials url with reconnects enabled.
func ConnectNats(url string, logger *logrus.Logger) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("codeduel"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &NatsBus{nc: nc, log: logger}, nil
}

func (b *NatsBus) Publish(_ context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding bus message: %w", err)
	}
	if err := b.nc.Publish(topic(m, "."), raw); err != nil {
		return fmt.Errorf("publishing to nats: %w", err)
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, fn func(Message)) error {
	sub, err := b.nc.Subscribe(channelPrefix+".>", func(msg *nats.Msg) {
		var m Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			b.log.Warnf("dropping malformed bus message on %s: %v", msg.Subject, err)
			return
		}
		fn(m)
	})
	if err != nil {
		return fmt.Errorf("subscribing to nats: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// Close drains pending messages and closes the connection.
func (b *NatsBus) Close() error {
	return b.nc.Drain()
}
