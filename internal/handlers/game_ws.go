// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/codeduel/internal/auth"
	"github.com/jason-s-yu/codeduel/internal/bridge"
	"github.com/jason-s-yu/codeduel/internal/game"
	"github.com/jason-s-yu/codeduel/internal/middleware"
	"github.com/sirupsen/logrus"
)

const (
	// Subprotocol is the websocket subprotocol clients must request.
	Subprotocol = "codeduel"

	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
	// readLimit leaves room for full source files in submissions.
	readLimit = 1 << 20
)

// GameWSHandler upgrades an authenticated request to the real-time game channel and hands
// the connection to the bridge until the client goes away.
func GameWSHandler(logger *logrus.Logger, b *bridge.Bridge, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.UserFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the "+Subprotocol+" subprotocol")
			return
		}
		c.SetReadLimit(readLimit)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn := bridge.NewConnection(userID, cancel, logger)
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, userID, conn.ID)

		b.Connect(ctx, conn)
		go writePump(ctx, c, conn, logger)
		readErr := readPump(ctx, c, b, conn)
		cancel()

		// the request context is gone by now
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		b.Disconnect(cleanupCtx, conn)
		cleanupCancel()
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, userID, conn.ID, readErr)
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// readPump feeds client frames to the bridge until the socket closes. A normal close
// returns nil.
func readPump(ctx context.Context, c *websocket.Conn, b *bridge.Bridge, conn *bridge.Connection) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			conn.WriteError(string(game.CodeBadRequest), "text frames only")
			continue
		}
		b.Handle(ctx, conn, data)
	}
}

// writePump drains the connection's outbound queue and keeps the socket alive with pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *bridge.Connection, logger *logrus.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-conn.OutChan:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithFields(logrus.Fields{"user": conn.UserID, "conn": conn.ID}).Warnf("websocket write failed: %v", err)
				conn.Cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithFields(logrus.Fields{"user": conn.UserID, "conn": conn.ID}).Debugf("ping failed: %v", err)
				conn.Cancel()
				return
			}
		}
	}
}
