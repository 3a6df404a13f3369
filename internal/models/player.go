package models

import "time"

// PlayerStatus is the per-player sub-state layered on top of the room state.
type PlayerStatus string

const (
	PlayerPending      PlayerStatus = "pending"
	PlayerReady        PlayerStatus = "ready"
	PlayerPlaying      PlayerStatus = "playing"
	PlayerDisconnected PlayerStatus = "disconnected"
	PlayerSolved       PlayerStatus = "solved"
	PlayerFinished     PlayerStatus = "finished"
)

// RoomPlayer is one seat in a GameRoom.
type RoomPlayer struct {
	UserID       string       `json:"userId" bson:"userId"`
	ConnectionID string       `json:"connectionId" bson:"connectionId"`
	IsCreator    bool         `json:"isCreator" bson:"isCreator"`
	Status       PlayerStatus `json:"status" bson:"status"`
	// PreviousStatus holds the sub-state a disconnected player is restored to.
	PreviousStatus    PlayerStatus       `json:"previousStatus,omitempty" bson:"previousStatus,omitempty"`
	GameStats         GameStats          `json:"gameStats" bson:"gameStats"`
	ProblemsCompleted []ProblemCompleted `json:"problemsCompleted" bson:"problemsCompleted"`
	// Attempts counts submissions per problem id.
	Attempts map[string]int `json:"attempts,omitempty" bson:"attempts,omitempty"`
	JoinedAt time.Time      `json:"joinedAt" bson:"joinedAt"`
}

// GameStats aggregates a player's submissions.
type GameStats struct {
	SolvedCount     int `json:"solvedCount" bson:"solvedCount"`
	SubmissionCount int `json:"submissionCount" bson:"submissionCount"`
	// TimeToFirstSolve is in seconds since the game started; 0 until the first solve.
	TimeToFirstSolve        int    `json:"timeToFirstSolve" bson:"timeToFirstSolve"`
	FirstAcceptedSubmission string `json:"firstAcceptedSubmission,omitempty" bson:"firstAcceptedSubmission,omitempty"`
}

// ProblemCompleted records the first accepted submission of a problem.
type ProblemCompleted struct {
	ProblemID  string    `json:"problemId" bson:"problemId"`
	AcceptedAt time.Time `json:"acceptedAt" bson:"acceptedAt"`
	// TimeTaken is in seconds since the game started.
	TimeTaken        int `json:"timeTaken" bson:"timeTaken"`
	SubmissionsCount int `json:"submissionsCount" bson:"submissionsCount"`
}

// HasSolved reports whether problemID already has an accepted submission.
func (p *RoomPlayer) HasSolved(problemID string) bool {
	for _, pc := range p.ProblemsCompleted {
		if pc.ProblemID == problemID {
			return true
		}
	}
	return false
}

// FirstAcceptedAt returns the earliest acceptance timestamp and whether one exists.
func (p *RoomPlayer) FirstAcceptedAt() (time.Time, bool) {
	var first time.Time
	for _, pc := range p.ProblemsCompleted {
		if first.IsZero() || pc.AcceptedAt.Before(first) {
			first = pc.AcceptedAt
		}
	}
	return first, !first.IsZero()
}

// LastTimeTaken returns the timeTaken of the latest completion, 0 if none.
func (p *RoomPlayer) LastTimeTaken() int {
	latest := 0
	for _, pc := range p.ProblemsCompleted {
		if pc.TimeTaken > latest {
			latest = pc.TimeTaken
		}
	}
	return latest
}

// RecordAttempt bumps the per-problem and aggregate submission counters.
func (p *RoomPlayer) RecordAttempt(problemID string) {
	if p.Attempts == nil {
		p.Attempts = make(map[string]int)
	}
	p.Attempts[problemID]++
	p.GameStats.SubmissionCount++
}

func (p *RoomPlayer) clone() *RoomPlayer {
	c := *p
	c.ProblemsCompleted = append([]ProblemCompleted(nil), p.ProblemsCompleted...)
	if p.Attempts != nil {
		c.Attempts = make(map[string]int, len(p.Attempts))
		for k, v := range p.Attempts {
			c.Attempts[k] = v
		}
	}
	return &c
}
