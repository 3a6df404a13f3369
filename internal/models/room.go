// internal/models/room.go
package models

import "time"

// RoomStatus is the room-level state. It only ever moves forward:
// waiting -> in-progress -> completed | cancelled.
type RoomStatus string

const (
	RoomWaiting    RoomStatus = "waiting"
	RoomInProgress RoomStatus = "in-progress"
	RoomCompleted  RoomStatus = "completed"
	RoomCancelled  RoomStatus = "cancelled"
)

// IsTerminal reports whether no further room transitions are possible.
func (s RoomStatus) IsTerminal() bool {
	return s == RoomCompleted || s == RoomCancelled
}

// rank orders room states for the forward-only check.
func (s RoomStatus) rank() int {
	switch s {
	case RoomWaiting:
		return 0
	case RoomInProgress:
		return 1
	case RoomCompleted, RoomCancelled:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next respects the forward-only ordering.
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Mode selects the win condition of a room.
type Mode string

const (
	// Mode1v1 ends the game on the first accepted solution.
	Mode1v1 Mode = "1v1"
	// ModeRace ends the game once a player solves every assigned problem.
	ModeRace Mode = "race"
)

// Difficulty is the problem tier of a room. It also keys the rating deltas.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known tiers.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// EndReason explains why a room reached a terminal state.
type EndReason string

const (
	ReasonOpponentLeft   EndReason = "Opponent Left"
	ReasonTimeExpired    EndReason = "Time Expired"
	ReasonFirstSolve     EndReason = "First Solve"
	ReasonAllSolved      EndReason = "All Problems Solved"
	ReasonAllPlayersLeft EndReason = "All Players Left"
)

// Outcome is a single player's result for rating purposes.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// GameRoom is the durable, authoritative document for one match.
type GameRoom struct {
	RoomID  string        `json:"roomId" bson:"_id"`
	Players []*RoomPlayer `json:"players" bson:"players"`
	// Departed holds players who left an in-progress game. They no longer hold a seat but
	// are still scored when the game ends.
	Departed            []*RoomPlayer `json:"departed,omitempty" bson:"departed,omitempty"`
	ProblemIDs          []string      `json:"problemIds" bson:"problemIds"`
	CurrentProblemIndex int           `json:"currentProblemIndex" bson:"currentProblemIndex"`
	Status              RoomStatus    `json:"status" bson:"status"`
	MaxPlayers          int           `json:"maxPlayers" bson:"maxPlayers"`
	Mode                Mode          `json:"mode" bson:"mode"`
	Difficulty          Difficulty    `json:"difficulty" bson:"difficulty"`
	// TimeLimit is in minutes.
	TimeLimit   int          `json:"timeLimit" bson:"timeLimit"`
	StartTime   *time.Time   `json:"startTime,omitempty" bson:"startTime,omitempty"`
	EndTime     *time.Time   `json:"endTime,omitempty" bson:"endTime,omitempty"`
	GameResults *GameResults `json:"gameResults,omitempty" bson:"gameResults,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
	// Version is bumped by the registry on every successful save.
	Version int64 `json:"version" bson:"version"`
}

// GameResults is populated exactly when the room is completed or cancelled.
type GameResults struct {
	Winner      *string       `json:"winner" bson:"winner"`
	Reason      EndReason     `json:"reason" bson:"reason"`
	SolvedOrder []PlayerScore `json:"solvedOrder" bson:"solvedOrder"`
}

// PlayerScore is one row of the final standings.
type PlayerScore struct {
	UserID       string  `json:"userId" bson:"userId"`
	TimeTaken    int     `json:"timeTaken" bson:"timeTaken"`
	SolvedCount  int     `json:"solvedCount" bson:"solvedCount"`
	RatingBefore int     `json:"ratingBefore" bson:"ratingBefore"`
	RatingDelta  int     `json:"ratingDelta" bson:"ratingDelta"`
	RatingAfter  int     `json:"ratingAfter" bson:"ratingAfter"`
	Outcome      Outcome `json:"outcome" bson:"outcome"`
}

// Duration returns the configured time limit.
func (r *GameRoom) Duration() time.Duration {
	return time.Duration(r.TimeLimit) * time.Minute
}

// Deadline returns when the time limit expires, or the zero time if the game never started.
func (r *GameRoom) Deadline() time.Time {
	if r.StartTime == nil {
		return time.Time{}
	}
	return r.StartTime.Add(r.Duration())
}

// Player returns the seat held by userID, or nil.
func (r *GameRoom) Player(userID string) *RoomPlayer {
	for _, p := range r.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// RemovePlayer drops userID's record entirely. Returns false if not seated.
func (r *GameRoom) RemovePlayer(userID string) bool {
	for i, p := range r.Players {
		if p.UserID == userID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			return true
		}
	}
	return false
}

// Public returns a copy safe to hand to any authenticated caller: connection ids are
// cleared.
func (r *GameRoom) Public() *GameRoom {
	c := r.Clone()
	if c == nil {
		return nil
	}
	for _, p := range c.Scored() {
		p.ConnectionID = ""
	}
	return c
}

// Depart moves userID's record from Players to Departed. Returns false if not seated.
func (r *GameRoom) Depart(userID string) bool {
	for i, p := range r.Players {
		if p.UserID == userID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			r.Departed = append(r.Departed, p)
			return true
		}
	}
	return false
}

// Scored returns the seated players followed by the departed ones.
func (r *GameRoom) Scored() []*RoomPlayer {
	out := make([]*RoomPlayer, 0, len(r.Players)+len(r.Departed))
	out = append(out, r.Players...)
	return append(out, r.Departed...)
}

// ActivePlayers returns every player whose sub-state is not disconnected.
func (r *GameRoom) ActivePlayers() []*RoomPlayer {
	var out []*RoomPlayer
	for _, p := range r.Players {
		if p.Status != PlayerDisconnected {
			out = append(out, p)
		}
	}
	return out
}

// IsFull reports whether every seat is taken.
func (r *GameRoom) IsFull() bool {
	return len(r.Players) >= r.MaxPlayers
}

// AllReady reports whether every seated player is ready.
func (r *GameRoom) AllReady() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if p.Status != PlayerReady {
			return false
		}
	}
	return true
}

// CurrentProblemID returns the problem the room is focused on, or "" when none are assigned.
func (r *GameRoom) CurrentProblemID() string {
	if r.CurrentProblemIndex < 0 || r.CurrentProblemIndex >= len(r.ProblemIDs) {
		return ""
	}
	return r.ProblemIDs[r.CurrentProblemIndex]
}

// HasProblem reports whether problemID is assigned to the room.
func (r *GameRoom) HasProblem(problemID string) bool {
	for _, id := range r.ProblemIDs {
		if id == problemID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so transitions can be computed without touching a shared snapshot.
func (r *GameRoom) Clone() *GameRoom {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = make([]*RoomPlayer, len(r.Players))
	for i, p := range r.Players {
		c.Players[i] = p.clone()
	}
	if r.Departed != nil {
		c.Departed = make([]*RoomPlayer, len(r.Departed))
		for i, p := range r.Departed {
			c.Departed[i] = p.clone()
		}
	}
	c.ProblemIDs = append([]string(nil), r.ProblemIDs...)
	if r.StartTime != nil {
		t := *r.StartTime
		c.StartTime = &t
	}
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	if r.GameResults != nil {
		gr := *r.GameResults
		if gr.Winner != nil {
			w := *gr.Winner
			gr.Winner = &w
		}
		gr.SolvedOrder = append([]PlayerScore(nil), gr.SolvedOrder...)
		c.GameResults = &gr
	}
	return &c
}
