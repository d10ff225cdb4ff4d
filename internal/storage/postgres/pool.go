// Package postgres mirrors harvest progress and provenance into Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the subset of *pgxpool.Pool the stores use. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Connect opens a pool and verifies the server is reachable.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Schema creates every table the stores write to.
const Schema = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS site_progress (
	run_id        UUID NOT NULL REFERENCES harvest_runs(id),
	site          TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT,
	last_update   TIMESTAMPTZ NOT NULL,
	pages         BIGINT NOT NULL DEFAULT 0,
	product_pages BIGINT NOT NULL DEFAULT 0,
	kept          BIGINT NOT NULL DEFAULT 0,
	duplicates    BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	rejected      BIGINT NOT NULL DEFAULT 0,
	bytes_total   BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, site)
);
CREATE TABLE IF NOT EXISTS image_provenance (
	digest        TEXT PRIMARY KEY,
	run_id        UUID NOT NULL,
	site          TEXT NOT NULL,
	page_url      TEXT NOT NULL,
	image_url     TEXT NOT NULL,
	object_path   TEXT NOT NULL,
	object_uri    TEXT NOT NULL,
	product_name  TEXT,
	category      TEXT,
	price         TEXT,
	bytes         BIGINT NOT NULL,
	content_type  TEXT,
	kept_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS harvest_errors (
	run_id        UUID NOT NULL,
	occurred_at   TIMESTAMPTZ NOT NULL,
	site          TEXT NOT NULL,
	kind          TEXT NOT NULL,
	message       TEXT NOT NULL,
	url           TEXT
);`

// EnsureSchema creates missing tables.
func EnsureSchema(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
