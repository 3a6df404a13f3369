// internal/database/rooms.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/jason-s-yu/codeduel/internal/room"
)

// PostgresRooms stores each GameRoom as a JSONB document with a version column for
// optimistic concurrency.
type PostgresRooms struct {
	db *pgxpool.Pool
}

func NewPostgresRooms(db *pgxpool.Pool) *PostgresRooms {
	return &PostgresRooms{db: db}
}

func (s *PostgresRooms) Create(ctx context.Context, r *models.GameRoom) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt, r.Version = now, now, 1

	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding room %s: %w", r.RoomID, err)
	}
	q := `INSERT INTO game_rooms (room_id, status, doc, version, created_at, updated_at)
	      VALUES ($1, $2, $3, $4, $5, $6)
	      ON CONFLICT (room_id) DO NOTHING`
	tag, err := s.db.Exec(ctx, q, r.RoomID, r.Status, doc, r.Version, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting room %s: %w", r.RoomID, err)
	}
	if tag.RowsAffected() == 0 {
		return room.ErrExists
	}
	return nil
}

func (s *PostgresRooms) Get(ctx context.Context, roomID string) (*models.GameRoom, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM game_rooms WHERE room_id=$1`, roomID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, room.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading room %s: %w", roomID, err)
	}
	return decodeRoom(doc)
}

// Save writes r if the stored version still equals r.Version, then bumps r.Version.
func (s *PostgresRooms) Save(ctx context.Context, r *models.GameRoom) error {
	prevVersion, prevUpdated := r.Version, r.UpdatedAt
	r.Version++
	r.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(r)
	if err != nil {
		r.Version, r.UpdatedAt = prevVersion, prevUpdated
		return fmt.Errorf("encoding room %s: %w", r.RoomID, err)
	}

	err = pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE game_rooms
			SET doc=$1, status=$2, version=$3, updated_at=$4
			WHERE room_id=$5 AND version=$6`,
			doc, r.Status, r.Version, r.UpdatedAt, r.RoomID, prevVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM game_rooms WHERE room_id=$1)`, r.RoomID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return room.ErrNotFound
		}
		return room.ErrVersionConflict
	})
	if err != nil {
		r.Version, r.UpdatedAt = prevVersion, prevUpdated
		if errors.Is(err, room.ErrNotFound) || errors.Is(err, room.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("updating room %s: %w", r.RoomID, err)
	}
	return nil
}

func (s *PostgresRooms) Delete(ctx context.Context, roomID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM game_rooms WHERE room_id=$1`, roomID)
	if err != nil {
		return fmt.Errorf("deleting room %s: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return room.ErrNotFound
	}
	return nil
}

func (s *PostgresRooms) FindActiveByUser(ctx context.Context, userID string) (*models.GameRoom, error) {
	q := `
	SELECT doc FROM game_rooms
	WHERE status IN ('waiting', 'in-progress')
	  AND doc -> 'players' @> jsonb_build_array(jsonb_build_object('userId', $1::text))
	ORDER BY created_at DESC
	LIMIT 1
	`
	var doc []byte
	err := s.db.QueryRow(ctx, q, userID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, room.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding room for %s: %w", userID, err)
	}
	return decodeRoom(doc)
}

func (s *PostgresRooms) ListByStatus(ctx context.Context, status models.RoomStatus) ([]*models.GameRoom, error) {
	rows, err := s.db.Query(ctx, `SELECT doc FROM game_rooms WHERE status=$1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("listing %s rooms: %w", status, err)
	}
	defer rows.Close()

	var out []*models.GameRoom
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		r, err := decodeRoom(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeRoom(doc []byte) (*models.GameRoom, error) {
	var r models.GameRoom
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decoding room: %w", err)
	}
	return &r, nil
}
