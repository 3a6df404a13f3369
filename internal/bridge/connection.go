// internal/bridge/connection.go
package bridge

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jason-s-yu/codeduel/internal/events"
	"github.com/sirupsen/logrus"
)

// outBuffer is how many encoded messages a slow client may fall behind by.
const outBuffer = 32

// Connection is one live WebSocket session of an authenticated user. The transport drains
// OutChan; everything else only ever calls Write.
type Connection struct {
	ID      string
	UserID  string
	OutChan chan []byte
	Cancel  func()

	log *logrus.Logger
	seq uint64
}

// NewConnection returns a connection with a fresh id. cancel tears down the transport.
func NewConnection(userID string, cancel func(), logger *logrus.Logger) *Connection {
	return &Connection{
		ID:      uuid.NewString(),
		UserID:  userID,
		OutChan: make(chan []byte, outBuffer),
		Cancel:  cancel,
		log:     logger,
	}
}

// Write queues data without blocking. A full buffer drops the message.
func (c *Connection) Write(data []byte) bool {
	select {
	case c.OutChan <- data:
		return true
	default:
		c.log.WithFields(logrus.Fields{"conn": c.ID, "user": c.UserID}).Warn("outbound buffer full, dropping message")
		return false
	}
}

// WriteEvent encodes ev and queues it.
func (c *Connection) WriteEvent(ev events.Outbound) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.WithField("type", ev.Type).Errorf("encoding event failed: %v", err)
		return false
	}
	return c.Write(data)
}

// WriteError sends a gameError to this connection only.
func (c *Connection) WriteError(code, message string) bool {
	return c.WriteEvent(events.New(events.GameErrorType, events.GameError{Code: code, Message: message}))
}
