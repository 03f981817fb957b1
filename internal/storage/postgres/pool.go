// Package postgres implements the storage.Gateway contract against a
// PostgreSQL time-series store, grounded on the teacher's
// internal/persistence/postgres/trades_repo.go (sqlx + lib/pq, jittered
// retry on transient errors, constraint violations surfaced directly).
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PoolConfig configures the shared database connection pool. The reference
// resolver, config sync, and migrations borrow this pool through DB(); the
// fan-out listener is the exception and dials its own LISTEN connection
// (notify.NewFromDSN).
type PoolConfig struct {
	DatabaseURL     string
	MaxOpenConns    int // default 20, matches the worker-pool sizing of §5
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	OpTimeout       time.Duration // default 10s, §5
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 20
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	return c
}

// Gateway is the postgres-backed storage.Gateway implementation.
type Gateway struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open establishes the pooled connection and verifies connectivity.
func Open(ctx context.Context, cfg PoolConfig) (*Gateway, error) {
	cfg = cfg.withDefaults()

	db, err := sqlx.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Gateway{db: db, timeout: cfg.OpTimeout}, nil
}

// DB exposes the underlying *sqlx.DB for components that need a direct
// handle — the reference resolver and config sync (§4.2), migrations, and
// the REST health check's ping.
func (g *Gateway) DB() *sqlx.DB { return g.db }

// Close releases the pool.
func (g *Gateway) Close() error { return g.db.Close() }
