// Package postgres records delivered items in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// DefaultTable receives delivery rows when no table is configured.
const DefaultTable = "deliveries"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for delivery rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// DeliveryStore writes one row per delivered item:
//
//	CREATE TABLE deliveries (
//		run_id       uuid        NOT NULL,
//		item         text        NOT NULL,
//		payload      text        NOT NULL,
//		delivered_at timestamptz NOT NULL
//	);
type DeliveryStore struct {
	pool  execCloser
	table string
	runID uuid.UUID
	clock harvest.Clock
}

var _ harvest.Sink = (*DeliveryStore)(nil)

// NewDeliveryStore connects a pool and returns a store tagging rows with runID.
func NewDeliveryStore(ctx context.Context, cfg Config, runID uuid.UUID, clock harvest.Clock) (*DeliveryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("output.postgres_dsn is required")
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
	store, err := NewDeliveryStoreWithPool(pool, cfg.Table, runID, clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewDeliveryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDeliveryStoreWithPool(pool execCloser, table string, runID uuid.UUID, clock harvest.Clock) (*DeliveryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &DeliveryStore{pool: pool, table: table, runID: runID, clock: clock}, nil
}

// Append inserts a delivery row.
func (s *DeliveryStore) Append(ctx context.Context, item, payload string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("delivery store is not configured")
	}
	query := fmt.Sprintf(`INSERT INTO %s (run_id, item, payload, delivered_at) VALUES ($1,$2,$3,$4)`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.runID, item, payload, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *DeliveryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
