package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/codeduel/internal/models"
)

var ErrProblemNotFound = errors.New("problem not found")

// Problems is the read side of the problem catalogue.
type Problems struct {
	db *pgxpool.Pool
}

func NewProblems(db *pgxpool.Pool) *Problems {
	return &Problems{db: db}
}

// RandomProblemIDs returns up to n distinct random problem ids of the given difficulty.
func (p *Problems) RandomProblemIDs(ctx context.Context, difficulty models.Difficulty, n int) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT id FROM problems WHERE difficulty=$1 ORDER BY random() LIMIT $2`, difficulty, n)
	if err != nil {
		return nil, fmt.Errorf("sampling %s problems: %w", difficulty, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("sampling %s problems: %w", difficulty, err)
	}
	return ids, nil
}

// GetProblem returns the problem with its visible examples.
func (p *Problems) GetProblem(ctx context.Context, id string) (*models.Problem, error) {
	var pr models.Problem
	err := p.db.QueryRow(ctx, `SELECT id, title, difficulty, statement FROM problems WHERE id=$1`, id).
		Scan(&pr.ID, &pr.Title, &pr.Difficulty, &pr.Statement)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProblemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading problem %s: %w", id, err)
	}
	pr.Examples, err = p.TestCases(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// TestCases returns the visible test cases, or every test case when hidden is true.
func (p *Problems) TestCases(ctx context.Context, id string, hidden bool) ([]models.TestCase, error) {
	q := `SELECT input, expected_output FROM problem_tests WHERE problem_id=$1 AND (NOT hidden OR $2) ORDER BY hidden, position`
	rows, err := p.db.Query(ctx, q, id, hidden)
	if err != nil {
		return nil, fmt.Errorf("reading tests for %s: %w", id, err)
	}
	tests, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TestCase, error) {
		var tc models.TestCase
		err := row.Scan(&tc.Input, &tc.ExpectedOutput)
		return tc, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading tests for %s: %w", id, err)
	}
	return tests, nil
}
