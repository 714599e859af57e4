package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/majeggstics/snapshotd/internal/models"
)

// CacheRepo manages the current-state cache (C5): the always-fresh
// view of every player's most recent poll, independent of whether a
// snapshot was ever taken.
type CacheRepo struct {
	db *DB
}

// NewCacheRepo builds a CacheRepo over db.
func NewCacheRepo(db *DB) *CacheRepo {
	return &CacheRepo{db: db}
}

const deleteCacheSQL = `DELETE FROM player_cache`

const insertCacheSQL = `
INSERT INTO player_cache (id, ign, display_name, discord_name, farmer_role, grade, eb, se, pe, te, num_prestiges, is_guest, active)
VALUES (:id, :ign, :display_name, :discord_name, :farmer_role, :grade, :eb, :se, :pe, :te, :num_prestiges, :is_guest, :active)
`

const upsertCacheFreshnessSQL = `
INSERT INTO player_cache_metadata (id, last_updated) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET last_updated = EXCLUDED.last_updated
`

// Upsert replaces the entire current-state cache: every existing row is
// deleted, then the new set is inserted in batches of batchSize so one
// malformed row in a large poll cannot abort the whole write (spec.md
// §4.5 step 2, §4.6 step 6's aggregate-errors-without-aborting rule).
// The singleton freshness marker is advanced last, regardless of
// whether every insert batch succeeded — spec.md §4.5 treats the
// marker as a staleness hint, not an integrity guarantee.
func (r *CacheRepo) Upsert(ctx context.Context, entries []models.CacheEntry, batchSize int) models.CacheWriteResult {
	result := models.CacheWriteResult{}

	if _, err := r.db.Pool.Exec(ctx, deleteCacheSQL); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("delete existing rows: %v", err))
	}

	for _, batch := range chunk(entries, batchSize) {
		res, err := r.db.SQLX.NamedExecContext(ctx, insertCacheSQL, batch)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("batch of %d: %v", len(batch), err))
			continue
		}
		n, _ := res.RowsAffected()
		result.Inserted += int(n)
	}

	if _, err := r.db.Pool.Exec(ctx, upsertCacheFreshnessSQL, time.Now().UTC()); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("freshness marker: %v", err))
	}

	return result
}

// GetFreshness returns the moment the current-state cache was last
// fully replaced, the staleness hint spec.md §4.5 and §4.11 key the
// read-path self-heal off of. A zero time means the cache has never
// been written.
func (r *CacheRepo) GetFreshness(ctx context.Context) (time.Time, error) {
	var lastUpdated time.Time
	err := r.db.SQLX.GetContext(ctx, &lastUpdated, "SELECT last_updated FROM player_cache_metadata WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: select player_cache_metadata: %w", err)
	}
	return lastUpdated, nil
}

// GetAll returns the full current-state cache, used by the
// get-leaderboard endpoint (C11).
func (r *CacheRepo) GetAll(ctx context.Context) ([]models.CacheEntry, error) {
	var rows []models.CacheEntry
	err := r.db.SQLX.SelectContext(ctx, &rows, "SELECT * FROM player_cache ORDER BY ign")
	if err != nil {
		return nil, fmt.Errorf("storage: select player_cache: %w", err)
	}
	return rows, nil
}

// GetByID returns a single player's cached state, used by
// get-player-current-stats (C11).
func (r *CacheRepo) GetByID(ctx context.Context, id string) (*models.CacheEntry, error) {
	var row models.CacheEntry
	err := r.db.SQLX.GetContext(ctx, &row, "SELECT * FROM player_cache WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("storage: select player_cache by id: %w", err)
	}
	return &row, nil
}
