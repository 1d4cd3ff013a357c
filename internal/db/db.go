package db

import (
	"context"
	"errors"
	"fmt"

	"buildingops/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps pgxpool.Pool for database operations
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a new DB connection pool and checks it can reach the server
func NewDB(ctx context.Context, url string) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

// Pool returns the underlying pgxpool.Pool
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Ping checks the database is reachable
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist yet
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const uniqueViolation = "23505"

// translate maps driver errors onto the model sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.Detail)
	}
	return err
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		room_id      TEXT,
		type         TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'OFF',
		mqtt_topic   TEXT NOT NULL UNIQUE,
		power_rating DOUBLE PRECISION,
		metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
		last_seen    TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS devices_room_idx ON devices (room_id)`,
	`CREATE TABLE IF NOT EXISTS energy_readings (
		id        TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		value_wh  DOUBLE PRECISION NOT NULL,
		voltage   DOUBLE PRECISION,
		current   DOUBLE PRECISION,
		ts        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS energy_readings_device_ts_idx ON energy_readings (device_id, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS energy_readings_ts_idx ON energy_readings (ts)`,
	`CREATE TABLE IF NOT EXISTS automations (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		description  TEXT,
		trigger_type TEXT NOT NULL,
		cron         TEXT,
		condition    TEXT,
		action       TEXT NOT NULL,
		enabled      BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_at  TIMESTAMPTZ,
		creator_id   TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS automations_enabled_trigger_idx ON automations (enabled, trigger_type)`,
	`CREATE TABLE IF NOT EXISTS automation_history (
		id            TEXT PRIMARY KEY,
		automation_id TEXT NOT NULL REFERENCES automations (id) ON DELETE CASCADE,
		ts            TIMESTAMPTZ NOT NULL,
		success       BOOLEAN NOT NULL,
		log           TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS automation_history_automation_ts_idx ON automation_history (automation_id, ts DESC)`,
}
