// Package storage persists room snapshots in Postgres so a relay restart
// does not clear the wall.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS canvas_rooms (
    room       TEXT PRIMARY KEY,
    payload    JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Repository stores one snapshot row per room.
type Repository struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	log.Info().Msg("connected to snapshot database")
	return &Repository{pool: pool}, nil
}

// NewRepository wraps an existing pool (the pool's schema must already
// exist).
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveSnapshot upserts the room's full state.
func (r *Repository) SaveSnapshot(ctx context.Context, room string, state *protocol.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO canvas_rooms (room, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (room) DO UPDATE SET payload = $2, updated_at = now()`,
		room, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for room %s: %w", room, err)
	}
	return nil
}

// LoadSnapshot returns the room's persisted state, or nil if none exists.
func (r *Repository) LoadSnapshot(ctx context.Context, room string) (*protocol.State, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload FROM canvas_rooms WHERE room = $1`, room,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for room %s: %w", room, err)
	}

	var state protocol.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot for room %s: %w", room, err)
	}
	return &state, nil
}

// DeleteSnapshot removes a room's persisted state.
func (r *Repository) DeleteSnapshot(ctx context.Context, room string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM canvas_rooms WHERE room = $1`, room); err != nil {
		return fmt.Errorf("failed to delete snapshot for room %s: %w", room, err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() {
	r.pool.Close()
}
