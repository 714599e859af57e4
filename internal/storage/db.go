// Package storage provides the Postgres-backed repositories for C2,
// C4, C5, C6, and the email/audit logs (C7). Connection pooling
// follows albapepper-scoracle-data's internal/db wrapper around
// pgxpool; row scanning into structs uses jmoiron/sqlx layered on top
// of the pgx stdlib adapter, the way several repos in the reference
// pack pair the two libraries.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/majeggstics/snapshotd/internal/config"
)

// DB wraps a pgxpool.Pool for direct pgx access and an *sqlx.DB
// sharing the same underlying *sql.DB for struct-scanning queries.
type DB struct {
	Pool *pgxpool.Pool
	SQLX *sqlx.DB
}

// Open creates and validates the connection pool described by cfg and
// dsn, and wraps it for both pgx-native and sqlx-style access.
func Open(ctx context.Context, dsn string, cfg config.Database) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse database url: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifeMins) * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	sqlxDB := sqlx.NewDb(sqlDB, "pgx")

	return &DB{Pool: pool, SQLX: sqlxDB}, nil
}

// Close releases both handles to the underlying connection pool.
func (d *DB) Close() {
	d.SQLX.Close()
	d.Pool.Close()
}

// HealthCheck runs a trivial round trip to confirm connectivity.
func (d *DB) HealthCheck(ctx context.Context) error {
	var n int
	return d.Pool.QueryRow(ctx, "SELECT 1").Scan(&n)
}

// chunk splits ids into groups of at most size, used by the batched
// upserts in cacherepo.go and snapshotrepo.go (spec.md §4.6 step 6).
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var batches [][]T
	for size < len(items) {
		items, batches = items[size:], append(batches, items[0:size:size])
	}
	if len(items) > 0 {
		batches = append(batches, items)
	}
	return batches
}
