package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/majeggstics/snapshotd/internal/models"
)

// SnapshotRepo manages the append-only historical snapshot log (C6).
type SnapshotRepo struct {
	db *DB
}

// NewSnapshotRepo builds a SnapshotRepo over db.
func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

const insertSnapshotRowSQL = `
INSERT INTO historical_snapshots (snapshot_date, id, ign, display_name, discord_name, farmer_role, grade, eb, se, pe, te, num_prestiges, is_guest, active, updated_at, gains_saturday, max_mystical_eggs)
VALUES (:snapshot_date, :id, :ign, :display_name, :discord_name, :farmer_role, :grade, :eb, :se, :pe, :te, :num_prestiges, :is_guest, :active, :updated_at, :gains_saturday, :max_mystical_eggs)
ON CONFLICT (snapshot_date, id) DO UPDATE SET
  ign = EXCLUDED.ign, display_name = EXCLUDED.display_name, discord_name = EXCLUDED.discord_name,
  farmer_role = EXCLUDED.farmer_role, grade = EXCLUDED.grade, eb = EXCLUDED.eb, se = EXCLUDED.se,
  pe = EXCLUDED.pe, te = EXCLUDED.te, num_prestiges = EXCLUDED.num_prestiges,
  is_guest = EXCLUDED.is_guest, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at,
  gains_saturday = EXCLUDED.gains_saturday, max_mystical_eggs = EXCLUDED.max_mystical_eggs
`

const insertYearlyGainRowSQL = `
INSERT INTO yearly_gains (id, year, start_se, start_pe, start_eb, start_role, start_prestiges, end_se, end_pe, end_eb, end_role, end_prestiges)
VALUES (:id, :year, :start_se, :start_pe, :start_eb, :start_role, :start_prestiges, :end_se, :end_pe, :end_eb, :end_role, :end_prestiges)
ON CONFLICT (id, year) DO UPDATE SET
  end_se = EXCLUDED.end_se,
  end_pe = EXCLUDED.end_pe,
  end_eb = EXCLUDED.end_eb,
  end_role = EXCLUDED.end_role,
  end_prestiges = EXCLUDED.end_prestiges
`

const upsertSnapshotMetadataSQL = `
INSERT INTO snapshot_metadata (snapshot_date, record_count, imported_at)
VALUES ($1, $2, $3)
ON CONFLICT (snapshot_date) DO UPDATE SET record_count = EXCLUDED.record_count, imported_at = EXCLUDED.imported_at
`

// Write performs the full C6 write: snapshot rows, derived yearly-gain
// rows, and the metadata row, each batched independently so a failure
// in one table doesn't block the others. The materialized-view refresh
// is not part of Write: callers run RefreshLeaderboardView afterwards
// and record its status on the result themselves.
func (r *SnapshotRepo) Write(ctx context.Context, snapshotDate string, rows []models.HistoricalSnapshotRow, gains []models.YearlyGainRow, batchSize int) models.SnapshotWriteResult {
	result := models.SnapshotWriteResult{SnapshotDate: snapshotDate, PlayerCount: len(rows)}

	for _, batch := range chunk(rows, batchSize) {
		res, err := r.db.SQLX.NamedExecContext(ctx, insertSnapshotRowSQL, batch)
		if err != nil {
			result.SnapshotErrors = append(result.SnapshotErrors, fmt.Sprintf("batch of %d: %v", len(batch), err))
			continue
		}
		n, _ := res.RowsAffected()
		result.SnapshotsInserted += int(n)
	}

	for _, batch := range chunk(gains, batchSize) {
		res, err := r.db.SQLX.NamedExecContext(ctx, insertYearlyGainRowSQL, batch)
		if err != nil {
			result.EggdayGainsErrors = append(result.EggdayGainsErrors, fmt.Sprintf("batch of %d: %v", len(batch), err))
			continue
		}
		n, _ := res.RowsAffected()
		result.EggdayGainsInserted += int(n)
	}

	if _, err := r.db.Pool.Exec(ctx, upsertSnapshotMetadataSQL, snapshotDate, result.PlayerCount, time.Now().UTC()); err != nil {
		result.SnapshotErrors = append(result.SnapshotErrors, fmt.Sprintf("metadata row: %v", err))
	}

	return result
}

// RefreshLeaderboardView refreshes the leaderboard_view materialized
// view, concurrently so readers are never blocked on a
// stale-but-consistent view. The get-leaderboard endpoint does not read
// this view; it serves player_cache.
func (r *SnapshotRepo) RefreshLeaderboardView(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY leaderboard_view")
	if err != nil {
		return fmt.Errorf("storage: refresh leaderboard_view: %w", err)
	}
	return nil
}

// DeleteSnapshot removes every row for a given snapshot date across
// the historical tables, used by the operator delete-snapshot
// endpoint (C11).
func (r *SnapshotRepo) DeleteSnapshot(ctx context.Context, snapshotDate string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM historical_snapshots WHERE snapshot_date = $1", snapshotDate)
	if err != nil {
		return 0, fmt.Errorf("storage: delete historical_snapshots: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, "DELETE FROM snapshot_metadata WHERE snapshot_date = $1", snapshotDate); err != nil {
		return 0, fmt.Errorf("storage: delete snapshot_metadata: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListSnapshotDates returns every known snapshot date, most recent first.
func (r *SnapshotRepo) ListSnapshotDates(ctx context.Context) ([]models.SnapshotMetadataRow, error) {
	var rows []models.SnapshotMetadataRow
	err := r.db.SQLX.SelectContext(ctx, &rows, "SELECT * FROM snapshot_metadata ORDER BY snapshot_date DESC")
	if err != nil {
		return nil, fmt.Errorf("storage: select snapshot_metadata: %w", err)
	}
	return rows, nil
}
