// internal/game/controller.go
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/codeduel/internal/events"
	"github.com/jason-s-yu/codeduel/internal/metrics"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/jason-s-yu/codeduel/internal/rating"
	"github.com/jason-s-yu/codeduel/internal/room"
	"github.com/sirupsen/logrus"
)

const (
	DefaultProblemsPerMatch = 3
	DefaultTimeLimit        = 30
	MaxTimeLimit            = 180
	MaxRacePlayers          = 4
)

// ProblemSource picks the problems assigned to a new room.
type ProblemSource interface {
	// RandomProblemIDs returns up to n distinct problem ids of the given difficulty.
	RandomProblemIDs(ctx context.Context, difficulty models.Difficulty, n int) ([]string, error)
}

// Notifier fans lifecycle events out to clients.
// Implementations must not block and must not call back into the Controller.
type Notifier interface {
	// Broadcast delivers ev to every player seated in room.
	Broadcast(ctx context.Context, room *models.GameRoom, ev events.Outbound)
	// SendTo delivers ev to a single connection.
	SendTo(ctx context.Context, connectionID string, ev events.Outbound)
}

// ResultRecorder receives every finished room, e.g. for an offline match history.
type ResultRecorder interface {
	RecordResult(ctx context.Context, room *models.GameRoom) error
}

// Options tunes the controller's timers.
type Options struct {
	ProblemsPerMatch int
	// EmptyRoomGrace is how long an empty waiting room survives before deletion.
	EmptyRoomGrace time.Duration
	// CancelledRoomTTL is how long a cancelled room is kept.
	CancelledRoomTTL time.Duration
	// DisconnectGrace delays the active-player check after an implicit disconnect. 0 checks at once.
	DisconnectGrace time.Duration
	SweepInterval   time.Duration
	// OpTimeout bounds the store calls made from timer callbacks.
	OpTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ProblemsPerMatch: DefaultProblemsPerMatch,
		EmptyRoomGrace:   60 * time.Second,
		CancelledRoomTTL: 5 * time.Minute,
		DisconnectGrace:  10 * time.Second,
		SweepInterval:    30 * time.Second,
		OpTimeout:        10 * time.Second,
	}
}

// Controller owns every room state transition. All read-modify-write work on a room runs
// under that room's lock and is persisted through the registry's version check.
type Controller struct {
	rooms    room.Registry
	scoring  *rating.Engine
	problems ProblemSource
	log      *logrus.Logger
	opts     Options

	// Notify receives lifecycle events. Set before serving traffic.
	Notify Notifier
	// History, when set, receives every finished room.
	History ResultRecorder

	locks   *keyedMutex
	expiry  *TimerTable
	forfeit *TimerTable
	cleanup *TimerTable
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewController(rooms room.Registry, scoring *rating.Engine, problems ProblemSource, logger *logrus.Logger, opts Options) *Controller {
	if opts.ProblemsPerMatch <= 0 {
		opts.ProblemsPerMatch = DefaultProblemsPerMatch
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 10 * time.Second
	}
	return &Controller{
		rooms:    rooms,
		scoring:  scoring,
		problems: problems,
		log:      logger,
		opts:     opts,
		locks:    newKeyedMutex(),
		expiry:   NewTimerTable(),
		forfeit:  NewTimerTable(),
		cleanup:  NewTimerTable(),
		now:      func() time.Time { return time.Now().UTC() },
		stop:     make(chan struct{}),
	}
}

// Seat identifies a player joining a room.
type Seat struct {
	UserID       string
	ConnectionID string
}

// CreateParams describes an explicitly created room.
type CreateParams struct {
	Seat
	Mode       models.Mode
	Difficulty models.Difficulty
	// TimeLimit is in minutes; 0 selects DefaultTimeLimit.
	TimeLimit  int
	MaxPlayers int
}

// ValidateMatchParams checks a difficulty/time-limit pair.
func ValidateMatchParams(difficulty models.Difficulty, timeLimit int) error {
	if !difficulty.Valid() {
		return invalid(CodeBadRequest, "unknown difficulty %q", difficulty)
	}
	if timeLimit < 1 || timeLimit > MaxTimeLimit {
		return invalid(CodeBadRequest, "timeLimit must be between 1 and %d minutes", MaxTimeLimit)
	}
	return nil
}

func (p *CreateParams) normalize() error {
	if p.UserID == "" {
		return invalid(CodeBadRequest, "userId is required")
	}
	if p.TimeLimit == 0 {
		p.TimeLimit = DefaultTimeLimit
	}
	if err := ValidateMatchParams(p.Difficulty, p.TimeLimit); err != nil {
		return err
	}
	if p.Mode == "" {
		p.Mode = models.Mode1v1
	}
	switch p.Mode {
	case models.Mode1v1:
		p.MaxPlayers = 2
	case models.ModeRace:
		if p.MaxPlayers == 0 {
			p.MaxPlayers = 2
		}
		if p.MaxPlayers < 2 || p.MaxPlayers > MaxRacePlayers {
			return invalid(CodeBadRequest, "race rooms seat 2 to %d players", MaxRacePlayers)
		}
	default:
		return invalid(CodeBadRequest, "unknown mode %q", p.Mode)
	}
	return nil
}

// CreateRoom creates a waiting room with the creator in the first seat.
func (c *Controller) CreateRoom(ctx context.Context, p CreateParams) (*models.GameRoom, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	problemIDs, err := c.pickProblems(ctx, p.Difficulty)
	if err != nil {
		return nil, err
	}

	r := &models.GameRoom{
		Players: []*models.RoomPlayer{{
			UserID:       p.UserID,
			ConnectionID: p.ConnectionID,
			IsCreator:    true,
			Status:       models.PlayerPending,
			JoinedAt:     c.now(),
		}},
		ProblemIDs: problemIDs,
		Status:     models.RoomWaiting,
		MaxPlayers: p.MaxPlayers,
		Mode:       p.Mode,
		Difficulty: p.Difficulty,
		TimeLimit:  p.TimeLimit,
	}
	if err := room.CreateWithCode(ctx, c.rooms, r); err != nil {
		return nil, fmt.Errorf("creating room: %w", err)
	}

	metrics.RoomsCreated.WithLabelValues("explicit").Inc()
	c.log.WithFields(logrus.Fields{"room": r.RoomID, "user": p.UserID, "mode": r.Mode}).Info("room created")
	return r, nil
}

// CreateQuickMatch creates an in-progress 1v1 room for two matched players and starts its clock.
func (c *Controller) CreateQuickMatch(ctx context.Context, difficulty models.Difficulty, timeLimit int, a, b Seat) (*models.GameRoom, error) {
	if err := ValidateMatchParams(difficulty, timeLimit); err != nil {
		return nil, err
	}
	problemIDs, err := c.pickProblems(ctx, difficulty)
	if err != nil {
		return nil, err
	}

	now := c.now()
	r := &models.GameRoom{
		ProblemIDs: problemIDs,
		Status:     models.RoomInProgress,
		MaxPlayers: 2,
		Mode:       models.Mode1v1,
		Difficulty: difficulty,
		TimeLimit:  timeLimit,
		StartTime:  &now,
	}
	for i, s := range []Seat{a, b} {
		r.Players = append(r.Players, &models.RoomPlayer{
			UserID:       s.UserID,
			ConnectionID: s.ConnectionID,
			IsCreator:    i == 0,
			Status:       models.PlayerPlaying,
			JoinedAt:     now,
		})
	}
	if err := room.CreateWithCode(ctx, c.rooms, r); err != nil {
		return nil, fmt.Errorf("creating quick match: %w", err)
	}

	c.scheduleExpiry(r)
	metrics.RoomsCreated.WithLabelValues("quickmatch").Inc()
	c.log.WithFields(logrus.Fields{"room": r.RoomID, "players": []string{a.UserID, b.UserID}}).Info("quick match started")
	c.broadcast(ctx, r, events.GameStartType, events.GameStart{Room: r.Clone()})
	return r, nil
}

func (c *Controller) pickProblems(ctx context.Context, difficulty models.Difficulty) ([]string, error) {
	ids, err := c.problems.RandomProblemIDs(ctx, difficulty, c.opts.ProblemsPerMatch)
	if err != nil {
		return nil, fmt.Errorf("selecting problems: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrNoProblems
	}
	return ids, nil
}

// JoinRoom seats userID in a waiting room. A player already seated is rebound to connID
// (and restored if disconnected) instead. joined reports whether a new seat was taken.
func (c *Controller) JoinRoom(ctx context.Context, roomID string, seat Seat) (r *models.GameRoom, joined bool, err error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	r, err = c.load(ctx, roomID)
	if err != nil {
		return nil, false, err
	}

	if p := r.Player(seat.UserID); p != nil {
		if r.Status.IsTerminal() {
			return r, false, nil
		}
		if _, err := c.rebindLocked(ctx, r, p, seat.ConnectionID); err != nil {
			return nil, false, err
		}
		return r, false, nil
	}

	if r.Status != models.RoomWaiting {
		return nil, false, invalid(CodeWrongPhase, "room %s is %s", roomID, r.Status)
	}
	if r.IsFull() {
		return nil, false, invalid(CodeRoomFull, "room %s is full", roomID)
	}
	r.Players = append(r.Players, &models.RoomPlayer{
		UserID:       seat.UserID,
		ConnectionID: seat.ConnectionID,
		Status:       models.PlayerPending,
		JoinedAt:     c.now(),
	})
	if err := c.save(ctx, r); err != nil {
		return nil, false, err
	}
	c.cleanup.Cancel(roomID)

	c.log.WithFields(logrus.Fields{"room": roomID, "user": seat.UserID}).Info("player joined")
	c.broadcast(ctx, r, events.RoomUpdateType, events.RoomUpdate{Room: r.Clone()})
	return r, true, nil
}

// MarkReady flags userID as ready and starts the game once every seat is filled and ready.
func (c *Controller) MarkReady(ctx context.Context, roomID, userID string) (*models.GameRoom, error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	r, err := c.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	p := r.Player(userID)
	if p == nil {
		return nil, invalid(CodeNotAPlayer, "%s is not in room %s", userID, roomID)
	}
	if r.Status != models.RoomWaiting {
		return nil, invalid(CodeWrongPhase, "room %s is %s", roomID, r.Status)
	}
	// a repeated ready still re-checks the start condition
	wasReady := p.Status == models.PlayerReady
	p.Status = models.PlayerReady
	started := c.startLocked(r)
	if wasReady && !started {
		return r, nil
	}
	if err := c.save(ctx, r); err != nil {
		return nil, err
	}

	if !wasReady {
		c.broadcast(ctx, r, events.PlayerStatusUpdateType, events.PlayerStatusUpdate{RoomID: roomID, UserID: userID, Status: models.PlayerReady})
	}
	if started {
		c.announceStart(ctx, r)
	}
	return r, nil
}

// startLocked moves a full waiting room whose players are all ready to in-progress.
// The caller persists r and then calls announceStart.
func (c *Controller) startLocked(r *models.GameRoom) bool {
	if r.Status != models.RoomWaiting || !r.IsFull() || !r.AllReady() {
		return false
	}
	now := c.now()
	r.Status = models.RoomInProgress
	r.StartTime = &now
	for _, pl := range r.Players {
		pl.Status = models.PlayerPlaying
	}
	return true
}

func (c *Controller) announceStart(ctx context.Context, r *models.GameRoom) {
	c.cleanup.Cancel(r.RoomID)
	c.scheduleExpiry(r)
	c.log.WithField("room", r.RoomID).Info("game started")
	c.statusChange(ctx, r, models.RoomWaiting)
	c.broadcast(ctx, r, events.GameStartType, events.GameStart{Room: r.Clone()})
}

// Leave removes userID's record from the room and applies the active-player thresholds at once.
func (c *Controller) Leave(ctx context.Context, roomID, userID string) (*models.GameRoom, error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	r, err := c.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	p := r.Player(userID)
	if p == nil {
		return nil, invalid(CodeNotAPlayer, "%s is not in room %s", userID, roomID)
	}
	if r.Status.IsTerminal() {
		return r, nil
	}

	wasCreator := p.IsCreator
	if r.Status == models.RoomInProgress {
		p.IsCreator = false
		r.Depart(userID)
	} else {
		r.RemovePlayer(userID)
	}
	if wasCreator && len(r.Players) > 0 {
		r.Players[0].IsCreator = true
	}
	if err := c.save(ctx, r); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"room": roomID, "user": userID}).Info("player left")
	c.broadcast(ctx, r, events.RoomUpdateType, events.RoomUpdate{Room: r.Clone()})

	switch r.Status {
	case models.RoomWaiting:
		if len(r.ActivePlayers()) == 0 {
			c.scheduleCleanup(roomID, c.opts.EmptyRoomGrace)
		}
	case models.RoomInProgress:
		return c.evaluateLocked(ctx, r)
	}
	return r, nil
}

// Disconnect marks userID disconnected in their active room. A connID that no longer matches
// the stored connection is stale and ignored.
func (c *Controller) Disconnect(ctx context.Context, userID, connID string) error {
	found, err := c.rooms.FindActiveByUser(ctx, userID)
	if errors.Is(err, room.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding room for %s: %w", userID, err)
	}
	roomID := found.RoomID

	unlock := c.locks.Lock(roomID)
	defer unlock()

	r, err := c.load(ctx, roomID)
	if err != nil {
		return err
	}
	p := r.Player(userID)
	if p == nil || r.Status.IsTerminal() || p.Status == models.PlayerDisconnected {
		return nil
	}
	if connID != "" && p.ConnectionID != connID {
		c.log.WithFields(logrus.Fields{"room": roomID, "user": userID}).Debug("ignoring disconnect of stale connection")
		return nil
	}

	p.PreviousStatus = p.Status
	p.Status = models.PlayerDisconnected
	if err := c.save(ctx, r); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"room": roomID, "user": userID}).Info("player disconnected")
	c.broadcast(ctx, r, events.PlayerStatusUpdateType, events.PlayerStatusUpdate{RoomID: roomID, UserID: userID, Status: models.PlayerDisconnected})

	switch r.Status {
	case models.RoomWaiting:
		if len(r.ActivePlayers()) == 0 {
			c.scheduleCleanup(roomID, c.opts.EmptyRoomGrace)
		}
	case models.RoomInProgress:
		if c.opts.DisconnectGrace <= 0 {
			_, err := c.evaluateLocked(ctx, r)
			return err
		}
		c.scheduleForfeit(roomID, c.opts.DisconnectGrace)
	}
	return nil
}

// Reconnect rebinds userID's active room to connID and restores a disconnected player to
// the sub-state held before the disconnect. restored reports whether that happened.
// Returns a nil room when the user has no active room.
func (c *Controller) Reconnect(ctx context.Context, userID, connID string) (r *models.GameRoom, restored bool, err error) {
	found, err := c.rooms.FindActiveByUser(ctx, userID)
	if errors.Is(err, room.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("finding room for %s: %w", userID, err)
	}
	roomID := found.RoomID

	unlock := c.locks.Lock(roomID)
	defer unlock()

	r, err = c.load(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	p := r.Player(userID)
	if p == nil || r.Status.IsTerminal() {
		return nil, false, nil
	}
	restored, err = c.rebindLocked(ctx, r, p, connID)
	if err != nil {
		return nil, false, err
	}
	return r, restored, nil
}

// rebind points p at connID and restores a disconnected player.
func rebind(r *models.GameRoom, p *models.RoomPlayer, connID string) (changed, restored bool) {
	if connID != "" && p.ConnectionID != connID {
		p.ConnectionID = connID
		changed = true
	}
	if p.Status == models.PlayerDisconnected {
		p.Status = p.PreviousStatus
		if p.Status == "" {
			p.Status = models.PlayerPending
			if r.Status == models.RoomInProgress {
				p.Status = models.PlayerPlaying
			}
		}
		p.PreviousStatus = ""
		changed, restored = true, true
	}
	return changed, restored
}

// rebindLocked rebinds p to connID, persists the change and announces a restore. A restore
// that completes the ready set of a full waiting room starts the game.
func (c *Controller) rebindLocked(ctx context.Context, r *models.GameRoom, p *models.RoomPlayer, connID string) (bool, error) {
	changed, restored := rebind(r, p, connID)
	started := restored && c.startLocked(r)
	if changed {
		if err := c.save(ctx, r); err != nil {
			return false, err
		}
	}
	if restored {
		c.afterRestore(ctx, r, p)
	}
	if started {
		c.announceStart(ctx, r)
	}
	return restored, nil
}

func (c *Controller) afterRestore(ctx context.Context, r *models.GameRoom, p *models.RoomPlayer) {
	if len(r.ActivePlayers()) == len(r.Players) {
		c.forfeit.Cancel(r.RoomID)
	}
	if r.Status == models.RoomWaiting {
		c.cleanup.Cancel(r.RoomID)
	}
	c.log.WithFields(logrus.Fields{"room": r.RoomID, "user": p.UserID, "status": p.Status}).Info("player reconnected")
	c.broadcast(ctx, r, events.PlayerStatusUpdateType, events.PlayerStatusUpdate{RoomID: r.RoomID, UserID: p.UserID, Status: p.Status})
}

// CheckPlayable validates that userID may act on problemID in the room without changing it.
func (c *Controller) CheckPlayable(ctx context.Context, roomID, userID, problemID string) (*models.GameRoom, error) {
	r, err := c.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := playable(r, userID, problemID); err != nil {
		return nil, err
	}
	return r, nil
}

func playable(r *models.GameRoom, userID, problemID string) (*models.RoomPlayer, error) {
	p := r.Player(userID)
	if p == nil {
		return nil, invalid(CodeNotAPlayer, "%s is not in room %s", userID, r.RoomID)
	}
	if r.Status != models.RoomInProgress {
		return nil, invalid(CodeWrongPhase, "room %s is %s", r.RoomID, r.Status)
	}
	if !r.HasProblem(problemID) {
		return nil, invalid(CodeBadRequest, "problem %s is not part of room %s", problemID, r.RoomID)
	}
	return p, nil
}

// RecordSubmission counts a submission attempt before it is judged.
func (c *Controller) RecordSubmission(ctx context.Context, roomID, userID, problemID string) (*models.GameRoom, error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	r, err := c.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	p, err := playable(r, userID, problemID)
	if err != nil {
		return nil, err
	}
	p.RecordAttempt(problemID)
	if err := c.save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordAccepted records userID's accepted submission for problemID and ends the game when
// the room's win condition holds. first is false for repeat acceptances of the same problem
// and for verdicts that arrive after the game ended.
func (c *Controller) RecordAccepted(ctx context.Context, roomID, userID, problemID, submissionRef string) (r *models.GameRoom, first bool, err error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	r, err = c.load(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	if r.Status.IsTerminal() {
		return r, false, nil
	}
	p, err := playable(r, userID, problemID)
	if err != nil {
		return nil, false, err
	}
	if p.HasSolved(problemID) {
		return r, false, nil
	}

	now := c.now()
	taken := 0
	if r.StartTime != nil {
		taken = int(now.Sub(*r.StartTime).Seconds())
	}
	attempts := p.Attempts[problemID]
	if attempts == 0 {
		attempts = 1
	}
	p.ProblemsCompleted = append(p.ProblemsCompleted, models.ProblemCompleted{
		ProblemID:        problemID,
		AcceptedAt:       now,
		TimeTaken:        taken,
		SubmissionsCount: attempts,
	})
	p.GameStats.SolvedCount++
	if p.GameStats.SolvedCount == 1 {
		p.GameStats.TimeToFirstSolve = taken
		p.GameStats.FirstAcceptedSubmission = submissionRef
	}
	solvedAll := p.GameStats.SolvedCount >= len(r.ProblemIDs)
	if solvedAll {
		p.Status = models.PlayerSolved
	} else if p.GameStats.SolvedCount > r.CurrentProblemIndex {
		// the room follows the furthest player
		r.CurrentProblemIndex = p.GameStats.SolvedCount
	}
	if err := c.save(ctx, r); err != nil {
		return nil, false, err
	}

	c.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "problem": problemID}).Info("problem solved")
	c.broadcast(ctx, r, events.PlayerSolvedProblemType, events.PlayerSolvedProblem{
		RoomID:      roomID,
		UserID:      userID,
		ProblemID:   problemID,
		TimeTaken:   taken,
		SolvedCount: p.GameStats.SolvedCount,
	})

	switch {
	case r.Mode == models.Mode1v1:
		r, err = c.endLocked(ctx, r, models.ReasonFirstSolve, userID)
	case solvedAll:
		r, err = c.endLocked(ctx, r, models.ReasonAllSolved, userID)
	}
	return r, true, err
}

// EndGame moves an in-progress room to its terminal state. Ending a room that is already
// completed or cancelled is a no-op.
func (c *Controller) EndGame(ctx context.Context, roomID string, reason models.EndReason, explicitWinner string) (*models.GameRoom, error) {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	r, err := c.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return c.endLocked(ctx, r, reason, explicitWinner)
}

// evaluateLocked applies the active-player thresholds to an in-progress room.
func (c *Controller) evaluateLocked(ctx context.Context, r *models.GameRoom) (*models.GameRoom, error) {
	if r.Status != models.RoomInProgress {
		return r, nil
	}
	active := r.ActivePlayers()
	switch {
	case len(active) == 0:
		return c.endLocked(ctx, r, models.ReasonAllPlayersLeft, "")
	case len(active) == 1 && r.MaxPlayers == 2:
		return c.endLocked(ctx, r, models.ReasonOpponentLeft, active[0].UserID)
	}
	return r, nil
}

// endLocked performs the terminal transition. Caller holds the room lock.
// Ratings are written only after the terminal document is persisted.
func (c *Controller) endLocked(ctx context.Context, r *models.GameRoom, reason models.EndReason, explicitWinner string) (*models.GameRoom, error) {
	if r.Status.IsTerminal() {
		return r, nil
	}
	if r.Status != models.RoomInProgress {
		return nil, invalid(CodeWrongPhase, "room %s has not started", r.RoomID)
	}

	target := models.RoomCompleted
	if reason == models.ReasonAllPlayersLeft {
		target = models.RoomCancelled
	}
	results := c.scoring.Resolve(ctx, r, reason, explicitWinner)

	from := r.Status
	now := c.now()
	r.Status = target
	r.EndTime = &now
	r.GameResults = results
	for _, p := range r.Scored() {
		p.Status = models.PlayerFinished
		p.PreviousStatus = ""
	}
	if err := c.save(ctx, r); err != nil {
		return nil, err
	}

	c.expiry.Cancel(r.RoomID)
	c.forfeit.Cancel(r.RoomID)

	logger := c.log.WithFields(logrus.Fields{"room": r.RoomID, "reason": reason, "status": target})
	if results.Winner != nil {
		logger = logger.WithField("winner", *results.Winner)
	}
	logger.Info("game ended")

	c.statusChange(ctx, r, from)
	c.broadcast(ctx, r, events.GameEndType, events.GameEnd{RoomID: r.RoomID, Status: target, Results: results, Room: r.Clone()})

	c.scoring.Apply(ctx, r, results)

	if target == models.RoomCancelled {
		c.scheduleCleanup(r.RoomID, c.opts.CancelledRoomTTL)
	}
	if c.History != nil {
		if err := c.History.RecordResult(ctx, r.Clone()); err != nil {
			logger.Warnf("recording match history failed: %v", err)
		}
	}
	metrics.GamesEnded.WithLabelValues(string(reason)).Inc()
	return r, nil
}

// GetRoom returns the current room document.
func (c *Controller) GetRoom(ctx context.Context, roomID string) (*models.GameRoom, error) {
	return c.load(ctx, roomID)
}

// ActiveRoomFor returns the waiting or in-progress room seating userID.
func (c *Controller) ActiveRoomFor(ctx context.Context, userID string) (*models.GameRoom, error) {
	r, err := c.rooms.FindActiveByUser(ctx, userID)
	if errors.Is(err, room.ErrNotFound) {
		return nil, invalid(CodeRoomNotFound, "%s has no active room", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("finding room for %s: %w", userID, err)
	}
	return r, nil
}

func (c *Controller) load(ctx context.Context, roomID string) (*models.GameRoom, error) {
	r, err := c.rooms.Get(ctx, roomID)
	if errors.Is(err, room.ErrNotFound) {
		return nil, invalid(CodeRoomNotFound, "room %s does not exist", roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading room %s: %w", roomID, err)
	}
	return r, nil
}

func (c *Controller) save(ctx context.Context, r *models.GameRoom) error {
	if err := c.rooms.Save(ctx, r); err != nil {
		return fmt.Errorf("saving room %s: %w", r.RoomID, err)
	}
	return nil
}

func (c *Controller) broadcast(ctx context.Context, r *models.GameRoom, t events.Type, payload any) {
	if c.Notify == nil {
		return
	}
	c.Notify.Broadcast(ctx, r.Clone(), events.New(t, payload))
}

func (c *Controller) statusChange(ctx context.Context, r *models.GameRoom, from models.RoomStatus) {
	c.broadcast(ctx, r, events.RoomStatusChangeType, events.RoomStatusChange{RoomID: r.RoomID, From: from, To: r.Status})
}
