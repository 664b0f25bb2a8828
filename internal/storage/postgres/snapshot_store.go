// Package postgres provides the durable snapshot store. The cache is the
// hot path; this is the system of record it rebuilds from.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spectrail/specwatch/internal/product"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SnapshotStoreConfig controls the Postgres connection pool.
type SnapshotStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SnapshotStore persists product snapshots keyed by URL.
type SnapshotStore struct {
	pool  pgxPool
	table string
}

// NewSnapshotStore creates a Postgres-backed SnapshotStore.
func NewSnapshotStore(ctx context.Context, cfg SnapshotStoreConfig) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "product_snapshots"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &SnapshotStore{pool: pool, table: table}, nil
}

// NewSnapshotStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewSnapshotStoreWithPool(pool pgxPool, table string) (*SnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "product_snapshots"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SnapshotStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert writes the snapshot, replacing any previous row for the URL.
func (s *SnapshotStore) Upsert(ctx context.Context, snap product.Snapshot) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	if snap.URL == "" {
		return fmt.Errorf("snapshot url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	image_reference,
	product_type,
	description,
	model_no,
	quantity,
	confidence_score,
	verified,
	last_checked
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (url) DO UPDATE SET
	image_reference = EXCLUDED.image_reference,
	product_type = EXCLUDED.product_type,
	description = EXCLUDED.description,
	model_no = EXCLUDED.model_no,
	quantity = EXCLUDED.quantity,
	confidence_score = EXCLUDED.confidence_score,
	verified = EXCLUDED.verified,
	last_checked = EXCLUDED.last_checked`, s.table)

	args := []any{
		snap.URL,
		snap.ImageReference,
		snap.Type,
		snap.Description,
		snap.ModelNo,
		snap.Quantity,
		snap.ConfidenceScore,
		snap.Verified,
		snap.LastChecked,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Get returns the stored snapshot for a URL, or (nil, nil) when none exists.
func (s *SnapshotStore) Get(ctx context.Context, url string) (*product.Snapshot, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("snapshot store is not configured")
	}
	query := fmt.Sprintf(`
SELECT url, image_reference, product_type, description, model_no,
	quantity, confidence_score, verified, last_checked
FROM %s WHERE url = $1`, s.table)

	var snap product.Snapshot
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&snap.URL,
		&snap.ImageReference,
		&snap.Type,
		&snap.Description,
		&snap.ModelNo,
		&snap.Quantity,
		&snap.ConfidenceScore,
		&snap.Verified,
		&snap.LastChecked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &snap, nil
}
