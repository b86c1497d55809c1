package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the subset of *pgxpool.Pool the queries use.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type DB struct {
	Pool Pool
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool Pool) *DB {
	return &DB{Pool: pool}
}

func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Migrate creates the gateway's tables when they do not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_log (
		id         UUID PRIMARY KEY,
		action     TEXT NOT NULL,
		target_id  TEXT NOT NULL,
		actor      TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		detail     JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_target_idx ON audit_log (target_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS contact_points (
		id            UUID PRIMARY KEY,
		name          TEXT NOT NULL,
		type          TEXT NOT NULL,
		configuration JSONB NOT NULL,
		status        TEXT NOT NULL DEFAULT 'active',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS notification_policy (
		id               UUID PRIMARY KEY,
		contact_point_id UUID NOT NULL REFERENCES contact_points (id),
		severity         TEXT NOT NULL,
		condition_type   TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'active',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id              UUID PRIMARY KEY,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_at         TIMESTAMPTZ,
		cycle_id        TEXT NOT NULL,
		severity        TEXT NOT NULL,
		subject         TEXT NOT NULL,
		body            TEXT NOT NULL,
		policy_id       UUID NOT NULL,
		delivery_method TEXT NOT NULL,
		status          TEXT NOT NULL,
		request_id      UUID NOT NULL,
		last_error      TEXT NOT NULL DEFAULT ''
	)`,
}
