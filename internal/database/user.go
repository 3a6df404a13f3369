package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/codeduel/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Profiles reads and updates the rating-related part of user records.
type Profiles struct {
	db *pgxpool.Pool
}

func NewProfiles(db *pgxpool.Pool) *Profiles {
	return &Profiles{db: db}
}

func (p *Profiles) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, username, avatar_url, rating, wins, losses, draws
	FROM users
	WHERE id=$1
	`
	err := p.db.QueryRow(ctx, q, userID).Scan(
		&u.ID, &u.Username, &u.AvatarURL,
		&u.Rating, &u.Wins, &u.Losses, &u.Draws,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", userID, err)
	}
	return &u, nil
}

// ApplyRating adds delta to the user's rating in one statement, floored at models.MinRating,
// and bumps the counter matching outcome. Unknown users are created with the default rating.
func (p *Profiles) ApplyRating(ctx context.Context, userID string, delta int, outcome models.Outcome) (int, error) {
	var wins, losses, draws int
	switch outcome {
	case models.OutcomeWin:
		wins = 1
	case models.OutcomeLoss:
		losses = 1
	default:
		draws = 1
	}

	q := `
	INSERT INTO users (id, rating, wins, losses, draws)
	VALUES ($1, GREATEST($2::int, $3::int + $4::int), $5, $6, $7)
	ON CONFLICT (id) DO UPDATE
	SET rating = GREATEST($2::int, users.rating + $4::int),
	    wins   = users.wins + EXCLUDED.wins,
	    losses = users.losses + EXCLUDED.losses,
	    draws  = users.draws + EXCLUDED.draws
	RETURNING rating
	`
	var stored int
	err := pgx.BeginTxFunc(ctx, p.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, userID, models.MinRating, models.DefaultRating, delta, wins, losses, draws).Scan(&stored)
	})
	if err != nil {
		return 0, fmt.Errorf("applying rating for %s: %w", userID, err)
	}
	return stored, nil
}
