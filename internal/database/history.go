// internal/database/history.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/codeduel/internal/cache"
)

// MatchHistory stores finished-match records drained from the history queue.
type MatchHistory struct {
	pool *pgxpool.Pool
}

func NewMatchHistory(pool *pgxpool.Pool) *MatchHistory {
	return &MatchHistory{pool: pool}
}

// SaveMatches inserts the batch in one transaction. Records already stored are skipped, so
// a batch replayed after a failed flush does not duplicate rows.
func (h *MatchHistory) SaveMatches(ctx context.Context, recs []cache.MatchRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, h.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range recs {
			doc, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal match %s: %w", rec.RoomID, err)
			}
			batch.Queue(`
				INSERT INTO match_history (room_id, mode, difficulty, status, reason, winner, record, started_at, ended_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (room_id) DO NOTHING
			`, rec.RoomID, string(rec.Mode), string(rec.Difficulty), string(rec.Status), string(rec.Reason), rec.Winner, doc, rec.StartedAt, rec.EndedAt)
		}
		br := tx.SendBatch(ctx, batch)
		for range recs {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		return br.Close()
	})
}

// WinsFor counts recorded matches the user won.
func (h *MatchHistory) WinsFor(ctx context.Context, userID string) (int, error) {
	var n int
	err := h.pool.QueryRow(ctx, `SELECT count(*) FROM match_history WHERE winner = $1`, userID).Scan(&n)
	return n, err
}
