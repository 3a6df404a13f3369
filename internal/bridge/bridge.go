// internal/bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/codeduel/internal/events"
	"github.com/jason-s-yu/codeduel/internal/execution"
	"github.com/jason-s-yu/codeduel/internal/game"
	"github.com/jason-s-yu/codeduel/internal/matchmaking"
	"github.com/jason-s-yu/codeduel/internal/metrics"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/jason-s-yu/codeduel/internal/pubsub"
	"github.com/sirupsen/logrus"
)

// Rooms is the part of the lifecycle controller the bridge drives.
type Rooms interface {
	JoinRoom(ctx context.Context, roomID string, seat game.Seat) (*models.GameRoom, bool, error)
	MarkReady(ctx context.Context, roomID, userID string) (*models.GameRoom, error)
	Leave(ctx context.Context, roomID, userID string) (*models.GameRoom, error)
	Disconnect(ctx context.Context, userID, connID string) error
	Reconnect(ctx context.Context, userID, connID string) (*models.GameRoom, bool, error)
	CheckPlayable(ctx context.Context, roomID, userID, problemID string) (*models.GameRoom, error)
	RecordSubmission(ctx context.Context, roomID, userID, problemID string) (*models.GameRoom, error)
	RecordAccepted(ctx context.Context, roomID, userID, problemID, submissionRef string) (*models.GameRoom, bool, error)
}

// Matchmaker is the quick-match queue.
type Matchmaker interface {
	RequestMatch(ctx context.Context, userID, connectionID string, difficulty models.Difficulty, timeLimit int) (matchmaking.Result, error)
	Cancel(ctx context.Context, userID string) (bool, error)
}

// Executor runs and judges code.
type Executor interface {
	Run(ctx context.Context, code, language, input string, tests []models.TestCase) (*execution.Result, error)
	Submit(ctx context.Context, code, language string, tests []models.TestCase) (*execution.Result, error)
}

// Problems is the problem catalogue.
type Problems interface {
	GetProblem(ctx context.Context, id string) (*models.Problem, error)
	TestCases(ctx context.Context, id string, hidden bool) ([]models.TestCase, error)
}

// Profiles supplies display names and avatars.
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*models.User, error)
}

// Bridge maps real-time client events onto the controller and the queue, and fans
// controller events out to connections through a pubsub.Bus.
type Bridge struct {
	rooms    Rooms
	queue    Matchmaker
	exec     Executor
	problems Problems
	profiles Profiles
	bus      pubsub.Bus
	log      *logrus.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
	seq   uint64
}

func New(rooms Rooms, queue Matchmaker, exec Executor, problems Problems, profiles Profiles, bus pubsub.Bus, logger *logrus.Logger) *Bridge {
	return &Bridge{
		rooms:    rooms,
		queue:    queue,
		exec:     exec,
		problems: problems,
		profiles: profiles,
		bus:      bus,
		log:      logger,
		conns:    make(map[string]*Connection),
	}
}

// Run subscribes to the bus and delivers messages to local connections until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	return b.bus.Subscribe(ctx, b.deliver)
}

// Broadcast publishes ev to every seated player that has a connection.
func (b *Bridge) Broadcast(ctx context.Context, room *models.GameRoom, ev events.Outbound) {
	var targets []string
	for _, p := range room.Players {
		if p.ConnectionID != "" {
			targets = append(targets, p.ConnectionID)
		}
	}
	if len(targets) == 0 {
		return
	}
	b.publish(ctx, room.RoomID, targets, ev)
}

// SendTo publishes ev to a single connection, wherever it is held.
func (b *Bridge) SendTo(ctx context.Context, connectionID string, ev events.Outbound) {
	b.publish(ctx, "", []string{connectionID}, ev)
}

func (b *Bridge) publish(ctx context.Context, roomID string, targets []string, ev events.Outbound) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.WithField("type", ev.Type).Errorf("encoding event failed: %v", err)
		return
	}
	if err := b.bus.Publish(ctx, pubsub.Message{RoomID: roomID, Targets: targets, Payload: data}); err != nil {
		b.log.WithFields(logrus.Fields{"room": roomID, "type": ev.Type}).Errorf("publishing event failed: %v", err)
	}
}

func (b *Bridge) deliver(m pubsub.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, id := range m.Targets {
		if c, ok := b.conns[id]; ok {
			c.Write(m.Payload)
		}
	}
}

// Connection returns the local connection with the given id.
func (b *Bridge) Connection(id string) (*Connection, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.conns[id]
	return c, ok
}

// ConnectionIDFor returns the id of userID's newest connection on this instance, or "".
func (b *Bridge) ConnectionIDFor(userID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var newest *Connection
	for _, c := range b.conns {
		if c.UserID == userID && (newest == nil || c.seq > newest.seq) {
			newest = c
		}
	}
	if newest == nil {
		return ""
	}
	return newest.ID
}

// Connect registers conn and rebinds the user's active room to it. A player who was
// disconnected is restored and gets a catch-up snapshot of the room.
func (b *Bridge) Connect(ctx context.Context, conn *Connection) {
	b.mu.Lock()
	b.seq++
	conn.seq = b.seq
	b.conns[conn.ID] = conn
	b.mu.Unlock()
	metrics.LiveConnections.Inc()

	r, restored, err := b.rooms.Reconnect(ctx, conn.UserID, conn.ID)
	if err != nil {
		b.log.WithFields(logrus.Fields{"user": conn.UserID, "conn": conn.ID}).Errorf("rebinding active room failed: %v", err)
		return
	}
	if r == nil {
		return
	}
	b.log.WithFields(logrus.Fields{"user": conn.UserID, "room": r.RoomID, "restored": restored}).Debug("active room rebound")
	conn.WriteEvent(b.snapshot(ctx, r))
}

// Disconnect unregisters conn, withdraws any matchmaking search and marks the player
// disconnected in their room.
func (b *Bridge) Disconnect(ctx context.Context, conn *Connection) {
	b.mu.Lock()
	_, ok := b.conns[conn.ID]
	delete(b.conns, conn.ID)
	b.mu.Unlock()
	if !ok {
		return
	}
	metrics.LiveConnections.Dec()

	logger := b.log.WithFields(logrus.Fields{"user": conn.UserID, "conn": conn.ID})
	if _, err := b.queue.Cancel(ctx, conn.UserID); err != nil {
		logger.Warnf("withdrawing queue entry failed: %v", err)
	}
	if err := b.rooms.Disconnect(ctx, conn.UserID, conn.ID); err != nil {
		logger.Errorf("marking player disconnected failed: %v", err)
	}
}

// Handle decodes one client frame and dispatches it. Failures are reported to conn only.
func (b *Bridge) Handle(ctx context.Context, conn *Connection, data []byte) {
	var in events.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		conn.WriteError(string(game.CodeBadRequest), "malformed message")
		return
	}
	payload, err := events.Decode(in)
	if err != nil {
		metrics.InboundEvents.WithLabelValues("invalid").Inc()
		conn.WriteError(string(game.CodeBadRequest), err.Error())
		return
	}
	metrics.InboundEvents.WithLabelValues(string(in.Type)).Inc()
	if err := b.dispatch(ctx, conn, payload); err != nil {
		b.fail(conn, in.Type, err)
	}
}

func (b *Bridge) fail(conn *Connection, t events.Type, err error) {
	code := game.CodeOf(err)
	logger := b.log.WithFields(logrus.Fields{"user": conn.UserID, "conn": conn.ID, "type": t})
	if code == game.CodeInternal {
		logger.Errorf("handling event failed: %v", err)
	} else {
		logger.Debugf("rejected: %v", err)
	}
	conn.WriteError(string(code), game.MessageOf(err))
}

func (b *Bridge) dispatch(ctx context.Context, conn *Connection, payload any) error {
	switch p := payload.(type) {
	case *events.JoinGameRoom:
		if err := checkIdentity(conn, p.UserID); err != nil {
			return err
		}
		return b.join(ctx, conn, p.RoomID)

	case *events.PlayerReady:
		if err := checkIdentity(conn, p.UserID); err != nil {
			return err
		}
		_, err := b.rooms.MarkReady(ctx, p.RoomID, conn.UserID)
		return err

	case *events.LeaveGameRoom:
		if err := checkIdentity(conn, p.UserID); err != nil {
			return err
		}
		_, err := b.rooms.Leave(ctx, p.RoomID, conn.UserID)
		return err

	case *events.GameRunCode:
		if err := checkIdentity(conn, p.UserID); err != nil {
			return err
		}
		return b.run(ctx, conn, p)

	case *events.GameCodeSubmission:
		if err := checkIdentity(conn, p.UserID); err != nil {
			return err
		}
		return b.submit(ctx, conn, p)

	case *events.FindOpponent:
		res, err := b.queue.RequestMatch(ctx, conn.UserID, conn.ID, p.Difficulty, p.TimeLimit)
		if err != nil {
			return err
		}
		if res.Queued {
			conn.WriteEvent(events.New(events.MatchQueuedType, events.MatchQueued{Difficulty: p.Difficulty, TimeLimit: p.TimeLimit}))
		}
		return nil

	case *events.CancelMatch:
		_, err := b.queue.Cancel(ctx, conn.UserID)
		return err

	case *events.Ping:
		conn.WriteEvent(events.New(events.PongType, nil))
		return nil
	}
	return &game.ValidationError{Code: game.CodeBadRequest, Message: "unsupported event"}
}

// checkIdentity rejects payloads that name a user other than the authenticated one.
// An empty userId means the connection's own user.
func checkIdentity(conn *Connection, userID string) error {
	if userID != "" && userID != conn.UserID {
		return &game.ValidationError{Code: game.CodeIdentityMismatch, Message: "userId does not match the authenticated user"}
	}
	return nil
}

func (b *Bridge) join(ctx context.Context, conn *Connection, roomID string) error {
	r, joined, err := b.rooms.JoinRoom(ctx, roomID, game.Seat{UserID: conn.UserID, ConnectionID: conn.ID})
	if err != nil {
		return err
	}
	if !joined {
		conn.WriteEvent(b.snapshot(ctx, r))
		return nil
	}

	ev := events.PlayerJoinedRoom{RoomID: r.RoomID, UserID: conn.UserID, Room: r}
	if b.profiles != nil {
		prof, err := b.profiles.GetProfile(ctx, conn.UserID)
		if err != nil {
			b.log.WithField("user", conn.UserID).Warnf("reading profile failed: %v", err)
		} else {
			ev.Username, ev.AvatarURL = prof.Username, prof.AvatarURL
		}
	}
	b.Broadcast(ctx, r, events.New(events.PlayerJoinedRoomType, ev))
	return nil
}

// snapshot is the roomUpdate sent to a single client catching up on a room.
func (b *Bridge) snapshot(ctx context.Context, r *models.GameRoom) events.Outbound {
	ev := events.RoomUpdate{Room: r}
	if r.Status == models.RoomInProgress && b.problems != nil {
		if id := r.CurrentProblemID(); id != "" {
			p, err := b.problems.GetProblem(ctx, id)
			if err != nil {
				b.log.WithFields(logrus.Fields{"room": r.RoomID, "problem": id}).Warnf("reading problem failed: %v", err)
			} else {
				ev.CurrentProblem = p
			}
		}
	}
	return events.New(events.RoomUpdateType, ev)
}

func (b *Bridge) run(ctx context.Context, conn *Connection, p *events.GameRunCode) error {
	if _, err := b.rooms.CheckPlayable(ctx, p.RoomID, conn.UserID, p.ProblemID); err != nil {
		return err
	}
	var tests []models.TestCase
	if p.CustomInput == "" {
		var err error
		if tests, err = b.problems.TestCases(ctx, p.ProblemID, false); err != nil {
			return err
		}
	}
	res, err := b.exec.Run(ctx, p.Code, p.Language, p.CustomInput, tests)
	conn.WriteEvent(events.New(events.CodeResultType, codeResult(p.RoomID, p.ProblemID, "run", res, err)))
	if err != nil {
		b.log.WithFields(logrus.Fields{"room": p.RoomID, "user": conn.UserID}).Warnf("run failed: %v", err)
	}
	return nil
}

func (b *Bridge) submit(ctx context.Context, conn *Connection, p *events.GameCodeSubmission) error {
	if _, err := b.rooms.RecordSubmission(ctx, p.RoomID, conn.UserID, p.ProblemID); err != nil {
		return err
	}
	tests, err := b.problems.TestCases(ctx, p.ProblemID, true)
	if err != nil {
		return err
	}

	logger := b.log.WithFields(logrus.Fields{"room": p.RoomID, "user": conn.UserID, "problem": p.ProblemID})
	res, err := b.exec.Submit(ctx, p.Code, p.Language, tests)
	conn.WriteEvent(events.New(events.CodeResultType, codeResult(p.RoomID, p.ProblemID, "submit", res, err)))
	if err != nil {
		logger.Warnf("submission failed: %v", err)
		return nil
	}
	if !res.Accepted() {
		return nil
	}

	ref := res.SubmissionID
	if ref == "" {
		ref = uuid.NewString()
	}
	_, first, err := b.rooms.RecordAccepted(ctx, p.RoomID, conn.UserID, p.ProblemID, ref)
	if err != nil {
		var ve *game.ValidationError
		if errors.As(err, &ve) {
			// the game moved on while the code was being judged
			logger.Debugf("accepted verdict dropped: %v", err)
			return nil
		}
		return err
	}
	logger.WithField("first", first).Debug("accepted submission recorded")
	return nil
}

func codeResult(roomID, problemID, kind string, res *execution.Result, err error) events.CodeResult {
	out := events.CodeResult{RoomID: roomID, ProblemID: problemID, Kind: kind}
	if err != nil {
		out.Status = "Error"
		out.Error = "code execution is unavailable, try again"
		return out
	}
	out.Status = res.Status
	out.Accepted = res.Accepted()
	out.Output = res.Output
	out.Error = res.Error
	for _, t := range res.Tests {
		out.Tests = append(out.Tests, events.TestResult{
			Passed:   t.Passed,
			Input:    t.Input,
			Expected: t.Expected,
			Actual:   t.Actual,
			Error:    t.Error,
		})
	}
	return out
}
