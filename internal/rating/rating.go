package rating

import (
	"context"
	"sort"
	"time"

	"github.com/jason-s-yu/codeduel/internal/metrics"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/sirupsen/logrus"
)

// ProfileStore is the external identity/profile collaborator.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.User, error)
	// ApplyRating adds delta to the stored rating (floored at models.MinRating), bumps the
	// counter matching outcome and returns the stored rating afterwards.
	ApplyRating(ctx context.Context, userID string, delta int, outcome models.Outcome) (int, error)
}

type tierDelta struct {
	win  int
	loss int
}

var tierDeltas = map[models.Difficulty]tierDelta{
	models.DifficultyEasy:   {win: 10, loss: -5},
	models.DifficultyMedium: {win: 20, loss: -10},
	models.DifficultyHard:   {win: 30, loss: -15},
}

// Delta returns the rating change for outcome at the given difficulty tier.
// Unknown tiers score like easy.
func Delta(outcome models.Outcome, difficulty models.Difficulty) int {
	td, ok := tierDeltas[difficulty]
	if !ok {
		td = tierDeltas[models.DifficultyEasy]
	}
	switch outcome {
	case models.OutcomeWin:
		return td.win
	case models.OutcomeLoss:
		return td.loss
	}
	return 0
}

// Floor clamps a rating to models.MinRating.
func Floor(r int) int {
	if r < models.MinRating {
		return models.MinRating
	}
	return r
}

// ResolveWinner applies the winner precedence:
//  1. explicitWinner, when the trigger names one
//  2. the earliest accepted submission among players with at least one solve
//  3. for Opponent Left, the sole remaining active player
//  4. nobody
//
// A cancelled room (every player gone) never has a winner.
func ResolveWinner(room *models.GameRoom, reason models.EndReason, explicitWinner string) string {
	if explicitWinner != "" && room.Player(explicitWinner) != nil {
		return explicitWinner
	}
	if reason == models.ReasonAllPlayersLeft {
		return ""
	}

	var (
		winner   string
		earliest time.Time
	)
	for _, p := range room.Players {
		at, ok := p.FirstAcceptedAt()
		if !ok {
			continue
		}
		if winner == "" || at.Before(earliest) {
			winner, earliest = p.UserID, at
		}
	}
	if winner != "" {
		return winner
	}

	if reason == models.ReasonOpponentLeft {
		if active := room.ActivePlayers(); len(active) == 1 {
			return active[0].UserID
		}
	}
	return ""
}

// Engine computes results at game end and applies the rating changes.
type Engine struct {
	profiles ProfileStore
	log      *logrus.Logger
}

func NewEngine(profiles ProfileStore, logger *logrus.Logger) *Engine {
	return &Engine{profiles: profiles, log: logger}
}

// Resolve returns the results for room. It only reads profiles; a failed read falls back
// to models.DefaultRating for the snapshot and is logged. It never fails.
func (e *Engine) Resolve(ctx context.Context, room *models.GameRoom, reason models.EndReason, explicitWinner string) *models.GameResults {
	winner := ResolveWinner(room, reason, explicitWinner)

	results := &models.GameResults{Reason: reason}
	if winner != "" {
		w := winner
		results.Winner = &w
	}

	// players who left mid-game are scored too; they can lose but never win
	for _, p := range room.Scored() {
		outcome := models.OutcomeDraw
		if winner != "" {
			outcome = models.OutcomeLoss
			if p.UserID == winner {
				outcome = models.OutcomeWin
			}
		}

		before := models.DefaultRating
		if e.profiles != nil {
			prof, err := e.profiles.GetProfile(ctx, p.UserID)
			if err != nil {
				e.log.WithFields(logrus.Fields{"room": room.RoomID, "user": p.UserID}).
					Warnf("reading rating failed, using default: %v", err)
			} else {
				before = prof.Rating
			}
		}
		delta := Delta(outcome, room.Difficulty)
		after := Floor(before + delta)

		results.SolvedOrder = append(results.SolvedOrder, models.PlayerScore{
			UserID:       p.UserID,
			TimeTaken:    p.LastTimeTaken(),
			SolvedCount:  p.GameStats.SolvedCount,
			RatingBefore: before,
			RatingDelta:  after - before,
			RatingAfter:  after,
			Outcome:      outcome,
		})
	}

	sortStandings(room, results.SolvedOrder, winner)
	return results
}

// sortStandings puts the winner first, then more solves, then the earlier first solve.
func sortStandings(room *models.GameRoom, rows []models.PlayerScore, winner string) {
	scored := room.Scored()
	firstSolve := make(map[string]time.Time, len(scored))
	seat := make(map[string]int, len(scored))
	for i, p := range scored {
		seat[p.UserID] = i
		if at, ok := p.FirstAcceptedAt(); ok {
			firstSolve[p.UserID] = at
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if (a.UserID == winner) != (b.UserID == winner) {
			return a.UserID == winner
		}
		if a.SolvedCount != b.SolvedCount {
			return a.SolvedCount > b.SolvedCount
		}
		ta, aok := firstSolve[a.UserID]
		tb, bok := firstSolve[b.UserID]
		if aok && bok && !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return seat[a.UserID] < seat[b.UserID]
	})
}

// Apply writes every non-draw rating change independently. A failed write is logged and
// does not stop the others; the failed user ids are returned.
func (e *Engine) Apply(ctx context.Context, room *models.GameRoom, results *models.GameResults) []string {
	if e.profiles == nil || results == nil {
		return nil
	}
	var failed []string
	for i := range results.SolvedOrder {
		row := &results.SolvedOrder[i]
		if row.Outcome == models.OutcomeDraw {
			continue
		}
		stored, err := e.profiles.ApplyRating(ctx, row.UserID, Delta(row.Outcome, room.Difficulty), row.Outcome)
		if err != nil {
			e.log.WithFields(logrus.Fields{"room": room.RoomID, "user": row.UserID, "outcome": row.Outcome}).
				Errorf("rating update failed: %v", err)
			metrics.RatingWriteFailures.Inc()
			failed = append(failed, row.UserID)
			continue
		}
		e.log.WithFields(logrus.Fields{"room": room.RoomID, "user": row.UserID}).
			Debugf("rating %d -> %d", row.RatingBefore, stored)
	}
	return failed
}
