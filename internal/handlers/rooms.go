// internal/handlers/rooms.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jason-s-yu/codeduel/internal/auth"
	"github.com/jason-s-yu/codeduel/internal/game"
	"github.com/jason-s-yu/codeduel/internal/matchmaking"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/sirupsen/logrus"
)

// RoomService is the part of the lifecycle controller exposed over REST.
type RoomService interface {
	CreateRoom(ctx context.Context, p game.CreateParams) (*models.GameRoom, error)
	JoinRoom(ctx context.Context, roomID string, seat game.Seat) (*models.GameRoom, bool, error)
	GetRoom(ctx context.Context, roomID string) (*models.GameRoom, error)
	ActiveRoomFor(ctx context.Context, userID string) (*models.GameRoom, error)
}

// Matchmaker is the quick-match queue.
type Matchmaker interface {
	RequestMatch(ctx context.Context, userID, connectionID string, difficulty models.Difficulty, timeLimit int) (matchmaking.Result, error)
	Cancel(ctx context.Context, userID string) (bool, error)
}

// ConnectionLocator finds a user's live real-time connection, so rooms created over REST
// reach the player's open socket.
type ConnectionLocator interface {
	ConnectionIDFor(userID string) string
}

// API serves the REST surface. Every handler expects auth.RequireUser in front of it.
type API struct {
	Rooms RoomService
	Queue Matchmaker
	Conns ConnectionLocator
	Log   *logrus.Logger
}

type createRoomRequest struct {
	Mode       models.Mode       `json:"mode"`
	Difficulty models.Difficulty `json:"difficulty"`
	TimeLimit  int               `json:"timeLimit"`
	MaxPlayers int               `json:"maxPlayers"`
}

type joinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type findMatchRequest struct {
	Difficulty models.Difficulty `json:"difficulty"`
	TimeLimit  int               `json:"timeLimit"`
}

type findMatchResponse struct {
	Status string           `json:"status"` // "matched" or "queued"
	Room   *models.GameRoom `json:"room,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *API) seat(userID string) game.Seat {
	s := game.Seat{UserID: userID}
	if a.Conns != nil {
		s.ConnectionID = a.Conns.ConnectionIDFor(userID)
	}
	return s
}

// CreateRoom handles POST /rooms.
func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	var req createRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	room, err := a.Rooms.CreateRoom(r.Context(), game.CreateParams{
		Seat:       a.seat(userID),
		Mode:       req.Mode,
		Difficulty: req.Difficulty,
		TimeLimit:  req.TimeLimit,
		MaxPlayers: req.MaxPlayers,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room.Public())
}

// JoinRoom handles POST /rooms/join.
func (a *API) JoinRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	var req joinRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RoomID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: string(game.CodeBadRequest), Message: "roomId is required"})
		return
	}
	room, _, err := a.Rooms.JoinRoom(r.Context(), req.RoomID, a.seat(userID))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room.Public())
}

// GetRoom handles GET /rooms/{id}.
func (a *API) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := a.Rooms.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room.Public())
}

// ActiveRoom handles GET /rooms/active.
func (a *API) ActiveRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	room, err := a.Rooms.ActiveRoomFor(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room.Public())
}

// FindMatch handles POST /matchmaking/find.
func (a *API) FindMatch(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	var req findMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	seat := a.seat(userID)
	res, err := a.Queue.RequestMatch(r.Context(), userID, seat.ConnectionID, req.Difficulty, req.TimeLimit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if res.Queued {
		writeJSON(w, http.StatusAccepted, findMatchResponse{Status: "queued"})
		return
	}
	writeJSON(w, http.StatusOK, findMatchResponse{Status: "matched", Room: res.Room.Public()})
}

// CancelMatch handles DELETE /matchmaking/find.
func (a *API) CancelMatch(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	removed, err := a.Queue.Cancel(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": removed})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: string(game.CodeBadRequest), Message: "bad request payload"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := game.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		a.Log.WithFields(logrus.Fields{"path": r.URL.Path, "method": r.Method}).Errorf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Code: string(code), Message: game.MessageOf(err)})
}

func statusFor(code game.ErrorCode) int {
	switch code {
	case game.CodeRoomNotFound:
		return http.StatusNotFound
	case game.CodeNotAPlayer, game.CodeIdentityMismatch:
		return http.StatusForbidden
	case game.CodeWrongPhase, game.CodeRoomFull:
		return http.StatusConflict
	case game.CodeBadRequest:
		return http.StatusBadRequest
	case game.CodeNoProblems:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
