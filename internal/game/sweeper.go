// internal/game/sweeper.go
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/codeduel/internal/events"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/jason-s-yu/codeduel/internal/room"
	"github.com/sirupsen/logrus"
)

func (c *Controller) scheduleExpiry(r *models.GameRoom) {
	roomID := r.RoomID
	c.expiry.Schedule(roomID, r.Deadline().Sub(c.now()), func() { c.onExpiry(roomID) })
}

func (c *Controller) onExpiry(roomID string) {
	c.runTimer("expiry", roomID, func(ctx context.Context) error {
		_, err := c.EndGame(ctx, roomID, models.ReasonTimeExpired, "")
		return err
	})
}

// scheduleForfeit arms the active-player check once per disconnect wave. Later disconnects
// do not push back a pending check.
func (c *Controller) scheduleForfeit(roomID string, d time.Duration) {
	c.forfeit.ScheduleIfAbsent(roomID, d, func() {
		c.runTimer("forfeit", roomID, func(ctx context.Context) error {
			unlock := c.locks.Lock(roomID)
			defer unlock()
			r, err := c.load(ctx, roomID)
			if err != nil {
				return err
			}
			_, err = c.evaluateLocked(ctx, r)
			return err
		})
	})
}

func (c *Controller) scheduleCleanup(roomID string, d time.Duration) {
	c.cleanup.Schedule(roomID, d, func() { c.onCleanup(roomID) })
}

func (c *Controller) onCleanup(roomID string) {
	c.runTimer("cleanup", roomID, func(ctx context.Context) error {
		_, err := c.cleanupRoom(ctx, roomID)
		return err
	})
}

// runTimer executes a timer callback. Errors and panics are logged and swallowed.
func (c *Controller) runTimer(kind, roomID string, fn func(ctx context.Context) error) {
	logger := c.log.WithFields(logrus.Fields{"room": roomID, "timer": kind})
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("timer callback panicked: %v", rec)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.OpTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Code == CodeRoomNotFound {
			logger.Debug("room already gone")
			return
		}
		logger.Warnf("timer callback failed: %v", err)
	}
}

// cleanupRoom deletes an empty waiting room or a cancelled room after re-reading its latest
// state. Anything else is left alone.
func (c *Controller) cleanupRoom(ctx context.Context, roomID string) (bool, error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	r, err := c.rooms.Get(ctx, roomID)
	if errors.Is(err, room.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading room %s: %w", roomID, err)
	}
	deletable := r.Status == models.RoomCancelled ||
		(r.Status == models.RoomWaiting && len(r.ActivePlayers()) == 0)
	if !deletable {
		return false, nil
	}

	if err := c.rooms.Delete(ctx, roomID); err != nil && !errors.Is(err, room.ErrNotFound) {
		return false, fmt.Errorf("deleting room %s: %w", roomID, err)
	}
	c.expiry.Cancel(roomID)
	c.forfeit.Cancel(roomID)

	c.log.WithFields(logrus.Fields{"room": roomID, "status": r.Status}).Info("room deleted")
	c.broadcast(ctx, r, events.RoomDeletedType, events.RoomDeleted{RoomID: roomID})
	return true, nil
}

// Sweep ends in-progress rooms past their deadline and re-arms any timer missing from this
// process, e.g. after a restart.
func (c *Controller) Sweep(ctx context.Context) error {
	now := c.now()

	inProgress, err := c.rooms.ListByStatus(ctx, models.RoomInProgress)
	if err != nil {
		return fmt.Errorf("listing in-progress rooms: %w", err)
	}
	for _, r := range inProgress {
		roomID := r.RoomID
		if !now.Before(r.Deadline()) {
			if _, err := c.EndGame(ctx, roomID, models.ReasonTimeExpired, ""); err != nil {
				c.log.WithField("room", roomID).Warnf("sweeper could not end expired room: %v", err)
			}
			continue
		}
		c.expiry.ScheduleIfAbsent(roomID, r.Deadline().Sub(now), func() { c.onExpiry(roomID) })
		if len(r.ActivePlayers()) < len(r.Players) && !c.forfeit.Pending(roomID) {
			c.scheduleForfeit(roomID, c.opts.DisconnectGrace)
		}
	}

	cancelled, err := c.rooms.ListByStatus(ctx, models.RoomCancelled)
	if err != nil {
		return fmt.Errorf("listing cancelled rooms: %w", err)
	}
	for _, r := range cancelled {
		roomID := r.RoomID
		due := now
		if r.EndTime != nil {
			due = r.EndTime.Add(c.opts.CancelledRoomTTL)
		}
		c.cleanup.ScheduleIfAbsent(roomID, due.Sub(now), func() { c.onCleanup(roomID) })
	}

	waiting, err := c.rooms.ListByStatus(ctx, models.RoomWaiting)
	if err != nil {
		return fmt.Errorf("listing waiting rooms: %w", err)
	}
	for _, r := range waiting {
		roomID := r.RoomID
		if len(r.ActivePlayers()) == 0 {
			c.cleanup.ScheduleIfAbsent(roomID, c.opts.EmptyRoomGrace, func() { c.onCleanup(roomID) })
		}
	}
	return nil
}

// Start runs one sweep immediately and then every SweepInterval until Shutdown or ctx is done.
func (c *Controller) Start(ctx context.Context) {
	if err := c.Sweep(ctx); err != nil {
		c.log.Warnf("startup sweep failed: %v", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Sweep(ctx); err != nil {
					c.log.Warnf("sweep failed: %v", err)
				}
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the sweeper and every pending timer.
func (c *Controller) Shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	c.expiry.StopAll()
	c.forfeit.StopAll()
	c.cleanup.StopAll()
	c.log.Info("room controller stopped")
}
