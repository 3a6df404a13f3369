package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/codeduel/internal/events"
	"github.com/jason-s-yu/codeduel/internal/execution"
	"github.com/jason-s-yu/codeduel/internal/game"
	"github.com/jason-s-yu/codeduel/internal/matchmaking"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/jason-s-yu/codeduel/internal/pubsub"
	"github.com/jason-s-yu/codeduel/internal/rating"
	"github.com/jason-s-yu/codeduel/internal/room"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct{}

func (fakeCatalog) RandomProblemIDs(_ context.Context, _ models.Difficulty, n int) ([]string, error) {
	ids := []string{"e1", "e2", "e3"}
	if n < len(ids) {
		ids = ids[:n]
	}
	return ids, nil
}

func (fakeCatalog) GetProblem(_ context.Context, id string) (*models.Problem, error) {
	return &models.Problem{ID: id, Title: "Problem " + id, Difficulty: models.DifficultyEasy}, nil
}

func (fakeCatalog) TestCases(_ context.Context, _ string, hidden bool) ([]models.TestCase, error) {
	tests := []models.TestCase{{Input: "1", ExpectedOutput: "1"}}
	if hidden {
		tests = append(tests, models.TestCase{Input: "2", ExpectedOutput: "4"})
	}
	return tests, nil
}

type fakeProfiles struct {
	mu      sync.Mutex
	ratings map[string]int
}

func (f *fakeProfiles) rating(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ratings[userID]
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ratings[userID]
	if !ok {
		r = models.DefaultRating
	}
	return &models.User{ID: userID, Username: "name-" + userID, Rating: r}, nil
}

func (f *fakeProfiles) ApplyRating(_ context.Context, userID string, delta int, _ models.Outcome) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ratings[userID]
	if !ok {
		r = models.DefaultRating
	}
	f.ratings[userID] = rating.Floor(r + delta)
	return f.ratings[userID], nil
}

// fakeExecutor accepts code "ok", fails the request for "boom" and rejects anything else.
type fakeExecutor struct {
	mu         sync.Mutex
	lastTests  []models.TestCase
	lastInput  string
	submission int
}

func (f *fakeExecutor) verdict(code string) (*execution.Result, error) {
	switch code {
	case "ok":
		return &execution.Result{Status: execution.StatusAccepted, Tests: []execution.TestOutcome{{Input: "1", Expected: "1", Actual: "1", Passed: true}}}, nil
	case "boom":
		return nil, errors.New("executor unreachable")
	}
	return &execution.Result{Status: "Wrong Answer", Tests: []execution.TestOutcome{{Input: "1", Expected: "1", Actual: "2"}}}, nil
}

func (f *fakeExecutor) Run(_ context.Context, code, _, input string, tests []models.TestCase) (*execution.Result, error) {
	f.mu.Lock()
	f.lastTests, f.lastInput = tests, input
	f.mu.Unlock()
	return f.verdict(code)
}

func (f *fakeExecutor) Submit(_ context.Context, code, _ string, tests []models.TestCase) (*execution.Result, error) {
	f.mu.Lock()
	f.lastTests = tests
	f.submission++
	f.mu.Unlock()
	return f.verdict(code)
}

type harness struct {
	ctx      context.Context
	bridge   *Bridge
	ctrl     *game.Controller
	exec     *fakeExecutor
	profiles *fakeProfiles
	log      *logrus.Logger
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	profiles := &fakeProfiles{ratings: map[string]int{}}
	opts := game.DefaultOptions()
	opts.DisconnectGrace = grace
	ctrl := game.NewController(room.NewMemoryRegistry(), rating.NewEngine(profiles, logger), fakeCatalog{}, logger, opts)
	t.Cleanup(ctrl.Shutdown)

	queue := matchmaking.NewQueue(matchmaking.NewMemoryStore(), ctrl, logger, time.Minute)
	exec := &fakeExecutor{}
	b := New(ctrl, queue, exec, fakeCatalog{}, profiles, pubsub.NewLocalBus(), logger)
	ctrl.Notify = b

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, b.Run(ctx))
	return &harness{ctx: ctx, bridge: b, ctrl: ctrl, exec: exec, profiles: profiles, log: logger}
}

func (h *harness) connect(userID string) *Connection {
	c := NewConnection(userID, func() {}, h.log)
	h.bridge.Connect(h.ctx, c)
	return c
}

func (h *harness) send(c *Connection, t events.Type, payload any) {
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(events.Inbound{Type: t, Version: events.SchemaVersion, Payload: raw})
	h.bridge.Handle(h.ctx, c, data)
}

type received struct {
	Type    events.Type     `json:"type"`
	Version int             `json:"v"`
	Payload json.RawMessage `json:"payload"`
}

// drain returns every message queued on c so far.
func drain(t *testing.T, c *Connection) []received {
	t.Helper()
	var out []received
	for {
		select {
		case data := <-c.OutChan:
			var r received
			require.NoError(t, json.Unmarshal(data, &r))
			out = append(out, r)
		default:
			return out
		}
	}
}

func find(msgs []received, typ events.Type) *received {
	for i := range msgs {
		if msgs[i].Type == typ {
			return &msgs[i]
		}
	}
	return nil
}

func (h *harness) quickMatch(t *testing.T) (alice, bob *Connection, roomID string) {
	t.Helper()
	alice, bob = h.connect("alice"), h.connect("bob")
	h.send(alice, events.FindOpponentType, events.FindOpponent{Difficulty: models.DifficultyEasy, TimeLimit: 10})
	h.send(bob, events.FindOpponentType, events.FindOpponent{Difficulty: models.DifficultyEasy, TimeLimit: 10})

	start := find(drain(t, bob), events.GameStartType)
	require.NotNil(t, start)
	var gs events.GameStart
	require.NoError(t, json.Unmarshal(start.Payload, &gs))
	drain(t, alice)
	return alice, bob, gs.Room.RoomID
}

func TestFindOpponentQueuesThenStartsForBoth(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, bob := h.connect("alice"), h.connect("bob")

	h.send(alice, events.FindOpponentType, events.FindOpponent{Difficulty: models.DifficultyEasy, TimeLimit: 10})
	msgs := drain(t, alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, events.MatchQueuedType, msgs[0].Type)
	assert.Equal(t, events.SchemaVersion, msgs[0].Version)

	h.send(bob, events.FindOpponentType, events.FindOpponent{Difficulty: models.DifficultyEasy, TimeLimit: 10})
	for _, c := range []*Connection{alice, bob} {
		start := find(drain(t, c), events.GameStartType)
		require.NotNil(t, start, "gameStart for %s", c.UserID)
		var gs events.GameStart
		require.NoError(t, json.Unmarshal(start.Payload, &gs))
		assert.Equal(t, models.RoomInProgress, gs.Room.Status)
		assert.Len(t, gs.Room.ProblemIDs, 3)
		assert.Equal(t, 0, gs.Room.CurrentProblemIndex)
	}
}

func TestAcceptedSubmissionEndsOneVsOne(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, bob, roomID := h.quickMatch(t)

	h.send(alice, events.GameCodeSubmissionType, events.GameCodeSubmission{RoomID: roomID, ProblemID: "e1", Code: "ok", Language: "go"})

	aliceMsgs := drain(t, alice)
	res := find(aliceMsgs, events.CodeResultType)
	require.NotNil(t, res)
	var cr events.CodeResult
	require.NoError(t, json.Unmarshal(res.Payload, &cr))
	assert.True(t, cr.Accepted)
	assert.Equal(t, "submit", cr.Kind)
	assert.Len(t, h.exec.lastTests, 2, "hidden tests are sent on submit")

	bobMsgs := drain(t, bob)
	assert.Nil(t, find(bobMsgs, events.CodeResultType), "codeResult goes to the requester only")
	require.NotNil(t, find(bobMsgs, events.PlayerSolvedProblemType))
	end := find(bobMsgs, events.GameEndType)
	require.NotNil(t, end)
	var ge events.GameEnd
	require.NoError(t, json.Unmarshal(end.Payload, &ge))
	assert.Equal(t, models.RoomCompleted, ge.Status)
	require.NotNil(t, ge.Results.Winner)
	assert.Equal(t, "alice", *ge.Results.Winner)
	assert.Equal(t, models.ReasonFirstSolve, ge.Results.Reason)
}

func TestRejectedSubmissionKeepsGameRunning(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, bob, roomID := h.quickMatch(t)

	h.send(alice, events.GameCodeSubmissionType, events.GameCodeSubmission{RoomID: roomID, ProblemID: "e1", Code: "wrong", Language: "go"})
	res := find(drain(t, alice), events.CodeResultType)
	require.NotNil(t, res)
	var cr events.CodeResult
	require.NoError(t, json.Unmarshal(res.Payload, &cr))
	assert.False(t, cr.Accepted)
	assert.Empty(t, drain(t, bob))

	r, err := h.ctrl.GetRoom(h.ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomInProgress, r.Status)
	assert.Equal(t, 1, r.Player("alice").GameStats.SubmissionCount)
}

func TestRunUsesCustomInputOrVisibleTests(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, _, roomID := h.quickMatch(t)

	h.send(alice, events.GameRunCodeType, events.GameRunCode{RoomID: roomID, ProblemID: "e1", Code: "ok", Language: "go", CustomInput: "42"})
	assert.Equal(t, "42", h.exec.lastInput)
	assert.Empty(t, h.exec.lastTests)

	h.send(alice, events.GameRunCodeType, events.GameRunCode{RoomID: roomID, ProblemID: "e1", Code: "ok", Language: "go"})
	assert.Len(t, h.exec.lastTests, 1)

	msgs := drain(t, alice)
	assert.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, events.CodeResultType, m.Type)
	}
}

func TestExecutorFailureReportsFailedResult(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, _, roomID := h.quickMatch(t)

	h.send(alice, events.GameRunCodeType, events.GameRunCode{RoomID: roomID, ProblemID: "e1", Code: "boom", Language: "go"})
	res := find(drain(t, alice), events.CodeResultType)
	require.NotNil(t, res)
	var cr events.CodeResult
	require.NoError(t, json.Unmarshal(res.Payload, &cr))
	assert.Equal(t, "Error", cr.Status)
	assert.NotEmpty(t, cr.Error)

	r, err := h.ctrl.GetRoom(h.ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomInProgress, r.Status)
}

func TestValidationErrorsGoToRequesterOnly(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, bob, roomID := h.quickMatch(t)

	gameError := func(c *Connection) events.GameError {
		t.Helper()
		msg := find(drain(t, c), events.GameErrorType)
		require.NotNil(t, msg)
		var ge events.GameError
		require.NoError(t, json.Unmarshal(msg.Payload, &ge))
		return ge
	}

	h.send(alice, events.PlayerReadyType, events.PlayerReady{RoomID: roomID, UserID: "bob"})
	assert.Equal(t, string(game.CodeIdentityMismatch), gameError(alice).Code)

	h.send(alice, events.GameCodeSubmissionType, events.GameCodeSubmission{RoomID: roomID, ProblemID: "nope", Code: "ok"})
	assert.Equal(t, string(game.CodeBadRequest), gameError(alice).Code)

	h.send(alice, events.JoinGameRoomType, events.JoinGameRoom{RoomID: "ZZZZZZ"})
	assert.Equal(t, string(game.CodeRoomNotFound), gameError(alice).Code)

	data, _ := json.Marshal(events.Inbound{Type: events.PingType, Version: 99})
	h.bridge.Handle(h.ctx, alice, data)
	assert.Equal(t, string(game.CodeBadRequest), gameError(alice).Code)

	assert.Empty(t, drain(t, bob))
	assert.Equal(t, 0, h.exec.submission)
}

func TestJoinBroadcastsProfileAndRoom(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, bob := h.connect("alice"), h.connect("bob")

	r, err := h.ctrl.CreateRoom(h.ctx, game.CreateParams{
		Seat:       game.Seat{UserID: "alice", ConnectionID: alice.ID},
		Mode:       models.Mode1v1,
		Difficulty: models.DifficultyEasy,
		TimeLimit:  10,
	})
	require.NoError(t, err)

	h.send(bob, events.JoinGameRoomType, events.JoinGameRoom{RoomID: r.RoomID, UserID: "bob"})

	msgs := drain(t, alice)
	assert.NotNil(t, find(msgs, events.RoomUpdateType))
	joined := find(msgs, events.PlayerJoinedRoomType)
	require.NotNil(t, joined)
	var pj events.PlayerJoinedRoom
	require.NoError(t, json.Unmarshal(joined.Payload, &pj))
	assert.Equal(t, "bob", pj.UserID)
	assert.Equal(t, "name-bob", pj.Username)
	assert.Len(t, pj.Room.Players, 2)

	h.send(alice, events.PlayerReadyType, events.PlayerReady{RoomID: r.RoomID})
	h.send(bob, events.PlayerReadyType, events.PlayerReady{RoomID: r.RoomID})
	assert.NotNil(t, find(drain(t, bob), events.GameStartType))
}

func TestReconnectRestoresAndSendsCatchUp(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, bob, roomID := h.quickMatch(t)

	h.bridge.Disconnect(h.ctx, alice)
	status := find(drain(t, bob), events.PlayerStatusUpdateType)
	require.NotNil(t, status)

	again := h.connect("alice")
	catchUp := find(drain(t, again), events.RoomUpdateType)
	require.NotNil(t, catchUp)
	var ru events.RoomUpdate
	require.NoError(t, json.Unmarshal(catchUp.Payload, &ru))
	assert.Equal(t, roomID, ru.Room.RoomID)
	require.NotNil(t, ru.CurrentProblem)
	assert.Equal(t, "e1", ru.CurrentProblem.ID)

	var su events.PlayerStatusUpdate
	restored := find(drain(t, bob), events.PlayerStatusUpdateType)
	require.NotNil(t, restored)
	require.NoError(t, json.Unmarshal(restored.Payload, &su))
	assert.Equal(t, models.PlayerPlaying, su.Status)

	// the old connection is gone; its late disconnect must not knock alice out again
	h.bridge.Disconnect(h.ctx, alice)
	r, err := h.ctrl.GetRoom(h.ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.PlayerPlaying, r.Player("alice").Status)
	assert.Equal(t, again.ID, r.Player("alice").ConnectionID)
}

func TestLeaveGameRoomEndsMatchAndScoresLeaver(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, bob, roomID := h.quickMatch(t)

	h.send(bob, events.LeaveGameRoomType, events.LeaveGameRoom{RoomID: roomID})
	assert.Nil(t, find(drain(t, bob), events.GameErrorType))

	end := find(drain(t, alice), events.GameEndType)
	require.NotNil(t, end)
	var ge events.GameEnd
	require.NoError(t, json.Unmarshal(end.Payload, &ge))
	assert.Equal(t, models.RoomCompleted, ge.Status)
	assert.Equal(t, models.ReasonOpponentLeft, ge.Results.Reason)
	require.NotNil(t, ge.Results.Winner)
	assert.Equal(t, "alice", *ge.Results.Winner)
	require.Len(t, ge.Results.SolvedOrder, 2)
	assert.Equal(t, "bob", ge.Results.SolvedOrder[1].UserID)
	assert.Equal(t, models.OutcomeLoss, ge.Results.SolvedOrder[1].Outcome)

	assert.Equal(t, 1010, h.profiles.rating("alice"))
	assert.Equal(t, 995, h.profiles.rating("bob"))
}

func TestReadyPlayerReconnectingStartsGame(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice, bob := h.connect("alice"), h.connect("bob")

	r, err := h.ctrl.CreateRoom(h.ctx, game.CreateParams{
		Seat:       game.Seat{UserID: "alice", ConnectionID: alice.ID},
		Mode:       models.Mode1v1,
		Difficulty: models.DifficultyEasy,
		TimeLimit:  10,
	})
	require.NoError(t, err)
	h.send(bob, events.JoinGameRoomType, events.JoinGameRoom{RoomID: r.RoomID})
	h.send(bob, events.PlayerReadyType, events.PlayerReady{RoomID: r.RoomID})
	h.bridge.Disconnect(h.ctx, bob)

	h.send(alice, events.PlayerReadyType, events.PlayerReady{RoomID: r.RoomID})
	assert.Nil(t, find(drain(t, alice), events.GameStartType), "bob is away")

	again := h.connect("bob")
	assert.NotNil(t, find(drain(t, again), events.GameStartType))
	assert.NotNil(t, find(drain(t, alice), events.GameStartType))

	got, err := h.ctrl.GetRoom(h.ctx, r.RoomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomInProgress, got.Status)
}

func TestDisconnectWithdrawsQueueEntry(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice := h.connect("alice")
	h.send(alice, events.FindOpponentType, events.FindOpponent{Difficulty: models.DifficultyEasy, TimeLimit: 10})
	drain(t, alice)
	h.bridge.Disconnect(h.ctx, alice)

	bob := h.connect("bob")
	h.send(bob, events.FindOpponentType, events.FindOpponent{Difficulty: models.DifficultyEasy, TimeLimit: 10})
	msgs := drain(t, bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, events.MatchQueuedType, msgs[0].Type)
}

func TestPingPong(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice := h.connect("alice")
	data, _ := json.Marshal(events.Inbound{Type: events.PingType, Version: events.SchemaVersion})
	h.bridge.Handle(h.ctx, alice, data)
	msgs := drain(t, alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, events.PongType, msgs[0].Type)
}

func TestConnectionIDForPicksNewest(t *testing.T) {
	h := newHarness(t, time.Minute)
	assert.Empty(t, h.bridge.ConnectionIDFor("alice"))

	first := h.connect("alice")
	second := h.connect("alice")
	h.connect("bob")
	assert.Equal(t, second.ID, h.bridge.ConnectionIDFor("alice"))

	h.bridge.Disconnect(h.ctx, second)
	assert.Equal(t, first.ID, h.bridge.ConnectionIDFor("alice"))
}
