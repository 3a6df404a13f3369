// internal/events/events.go
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jason-s-yu/codeduel/internal/models"
)

// SchemaVersion is stamped on every outbound message and required on inbound ones.
const SchemaVersion = 1

// Type names one real-time event.
type Type string

// client -> server
const (
	JoinGameRoomType       Type = "joinGameRoom"
	PlayerReadyType        Type = "playerReady"
	GameRunCodeType        Type = "gameRunCode"
	GameCodeSubmissionType Type = "gameCodeSubmission"
	LeaveGameRoomType      Type = "leaveGameRoom"
	FindOpponentType       Type = "findOpponent"
	CancelMatchType        Type = "cancelMatch"
	PingType               Type = "ping"
)

// server -> client
const (
	RoomUpdateType          Type = "roomUpdate"
	GameStartType           Type = "gameStart"
	PlayerStatusUpdateType  Type = "playerStatusUpdate"
	PlayerJoinedRoomType    Type = "playerJoinedRoom"
	PlayerSolvedProblemType Type = "playerSolvedProblem"
	CodeResultType          Type = "codeResult"
	GameErrorType           Type = "gameError"
	GameEndType             Type = "gameEnd"
	RoomDeletedType         Type = "roomDeleted"
	RoomStatusChangeType    Type = "roomStatusChange"
	MatchQueuedType         Type = "matchQueued"
	PongType                Type = "pong"
)

var (
	ErrUnknownType        = errors.New("unknown event type")
	ErrUnsupportedVersion = errors.New("unsupported schema version")
)

// Inbound is the envelope every client message arrives in.
type Inbound struct {
	Type    Type            `json:"type"`
	Version int             `json:"v"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is the envelope every server message is sent in.
type Outbound struct {
	Type    Type `json:"type"`
	Version int  `json:"v"`
	Payload any  `json:"payload,omitempty"`
}

// New wraps payload in a versioned envelope.
func New(t Type, payload any) Outbound {
	return Outbound{Type: t, Version: SchemaVersion, Payload: payload}
}

// --- client payloads ---

type JoinGameRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type PlayerReady struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type GameRunCode struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	ProblemID   string `json:"problemId"`
	Code        string `json:"code"`
	Language    string `json:"language"`
	CustomInput string `json:"customInput,omitempty"`
}

type GameCodeSubmission struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	ProblemID string `json:"problemId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

type LeaveGameRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type FindOpponent struct {
	Difficulty models.Difficulty `json:"difficulty"`
	TimeLimit  int               `json:"timeLimit"`
}

type CancelMatch struct{}

type Ping struct{}

// Decode validates the envelope and returns the typed payload for its Type.
// Callers switch on the concrete type.
func Decode(in Inbound) (any, error) {
	if in.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, in.Version)
	}
	var v any
	switch in.Type {
	case JoinGameRoomType:
		v = &JoinGameRoom{}
	case PlayerReadyType:
		v = &PlayerReady{}
	case GameRunCodeType:
		v = &GameRunCode{}
	case GameCodeSubmissionType:
		v = &GameCodeSubmission{}
	case LeaveGameRoomType:
		v = &LeaveGameRoom{}
	case FindOpponentType:
		v = &FindOpponent{}
	case CancelMatchType:
		return &CancelMatch{}, nil
	case PingType:
		return &Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
	if len(in.Payload) == 0 {
		return nil, fmt.Errorf("%s: missing payload", in.Type)
	}
	if err := json.Unmarshal(in.Payload, v); err != nil {
		return nil, fmt.Errorf("%s: %w", in.Type, err)
	}
	return v, nil
}

// --- server payloads ---

type RoomUpdate struct {
	Room           *models.GameRoom `json:"room"`
	CurrentProblem *models.Problem  `json:"currentProblem,omitempty"`
}

type GameStart struct {
	Room *models.GameRoom `json:"room"`
}

type PlayerStatusUpdate struct {
	RoomID string              `json:"roomId"`
	UserID string              `json:"userId"`
	Status models.PlayerStatus `json:"status"`
}

type PlayerJoinedRoom struct {
	RoomID    string           `json:"roomId"`
	UserID    string           `json:"userId"`
	Username  string           `json:"username,omitempty"`
	AvatarURL string           `json:"avatarUrl,omitempty"`
	Room      *models.GameRoom `json:"room"`
}

type PlayerSolvedProblem struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	ProblemID   string `json:"problemId"`
	TimeTaken   int    `json:"timeTaken"`
	SolvedCount int    `json:"solvedCount"`
}

// TestResult is the outcome of a single test case.
type TestResult struct {
	Passed   bool   `json:"passed"`
	Input    string `json:"input,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Error    string `json:"error,omitempty"`
}

type CodeResult struct {
	RoomID    string       `json:"roomId"`
	ProblemID string       `json:"problemId"`
	Kind      string       `json:"kind"` // "run" or "submit"
	Status    string       `json:"status"`
	Accepted  bool         `json:"accepted"`
	Output    string       `json:"output,omitempty"`
	Tests     []TestResult `json:"tests,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type GameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type GameEnd struct {
	RoomID  string              `json:"roomId"`
	Status  models.RoomStatus   `json:"status"`
	Results *models.GameResults `json:"results"`
	Room    *models.GameRoom    `json:"room"`
}

type RoomDeleted struct {
	RoomID string `json:"roomId"`
}

type RoomStatusChange struct {
	RoomID string            `json:"roomId"`
	From   models.RoomStatus `json:"from"`
	To     models.RoomStatus `json:"to"`
}

type MatchQueued struct {
	Difficulty models.Difficulty `json:"difficulty"`
	TimeLimit  int               `json:"timeLimit"`
}
