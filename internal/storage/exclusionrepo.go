package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/majeggstics/snapshotd/internal/models"
)

// ExclusionRepo manages the operator-maintained exclusion list (C2):
// player IDs dropped from the sync-window denominator before every
// decision. Reads are cached in-process for a configurable TTL so a
// tick never pays a round trip for data that rarely changes.
type ExclusionRepo struct {
	db  *DB
	ttl time.Duration

	mu        sync.Mutex
	cached    map[string]struct{}
	cachedAt  time.Time
}

// NewExclusionRepo builds an ExclusionRepo over db, caching reads for ttl.
func NewExclusionRepo(db *DB, ttl time.Duration) *ExclusionRepo {
	return &ExclusionRepo{db: db, ttl: ttl}
}

// Set returns the current exclusion set as a lookup-friendly map,
// refreshing from the database only when the cache has expired.
func (r *ExclusionRepo) Set(ctx context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	if r.cached != nil && time.Since(r.cachedAt) < r.ttl {
		cached := r.cached
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	var rows []models.ExclusionEntry
	if err := r.db.SQLX.SelectContext(ctx, &rows, "SELECT id, reason FROM exclusions"); err != nil {
		return nil, fmt.Errorf("storage: select exclusions: %w", err)
	}

	set := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		set[row.ID] = struct{}{}
	}

	r.mu.Lock()
	r.cached = set
	r.cachedAt = time.Now()
	r.mu.Unlock()

	return set, nil
}

// Add inserts or updates an exclusion entry and invalidates the cache.
func (r *ExclusionRepo) Add(ctx context.Context, id, reason string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO exclusions (id, reason) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET reason = EXCLUDED.reason`,
		id, reason)
	if err != nil {
		return fmt.Errorf("storage: add exclusion: %w", err)
	}
	r.invalidate()
	return nil
}

// Remove deletes an exclusion entry and invalidates the cache.
func (r *ExclusionRepo) Remove(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, "DELETE FROM exclusions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("storage: remove exclusion: %w", err)
	}
	r.invalidate()
	return nil
}

func (r *ExclusionRepo) invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}
