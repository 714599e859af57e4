// Package controller implements C8: the periodic state machine that
// ties the upstream fetch, the decision engine, the cache and
// snapshot writers, and the notification dispatcher together into one
// tick. The ticker-goroutine shape follows
// sandwichfarm-nophr's scheduler pattern for its own periodic pruning
// pass, generalized from a storage-retention sweep to a
// fetch-decide-save cycle.
package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/majeggstics/snapshotd/internal/decision"
	"github.com/majeggstics/snapshotd/internal/models"
	"github.com/majeggstics/snapshotd/internal/ops"
)

// Fetcher retrieves the current player telemetry set (C1).
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.PlayerRecord, error)
}

// ExclusionSource returns the current exclusion set (C2).
type ExclusionSource interface {
	Set(ctx context.Context) (map[string]struct{}, error)
}

// CacheWriter replaces the current-state cache (C5).
type CacheWriter interface {
	Upsert(ctx context.Context, entries []models.CacheEntry, batchSize int) models.CacheWriteResult
}

// StateStore loads and persists the controller state (C4).
type StateStore interface {
	Load(ctx context.Context) (models.ControllerState, error)
	Save(ctx context.Context, state models.ControllerState) error
}

// SnapshotWriter persists a historical snapshot and refreshes the
// leaderboard_view materialized view (C6).
type SnapshotWriter interface {
	Write(ctx context.Context, snapshotDate string, rows []models.HistoricalSnapshotRow, gains []models.YearlyGainRow, batchSize int) models.SnapshotWriteResult
	RefreshLeaderboardView(ctx context.Context) error
}

// Notifier dispatches an email of a given kind (C7).
type Notifier interface {
	Send(ctx context.Context, kind models.EmailKind, data any, relatedSnapshotDate *string) error
}

// Controller runs one decide-and-act cycle per Tick call.
type Controller struct {
	fetch      Fetcher
	exclusions ExclusionSource
	cache      CacheWriter
	state      StateStore
	snapshots  SnapshotWriter
	notify     Notifier
	engine     *decision.Engine
	batchSize  int

	lastSnapshotResult *models.SnapshotWriteResult
}

// New wires a Controller from its collaborators.
func New(fetch Fetcher, exclusions ExclusionSource, cache CacheWriter, state StateStore, snapshots SnapshotWriter, notify Notifier, engine *decision.Engine, batchSize int) *Controller {
	return &Controller{
		fetch: fetch, exclusions: exclusions, cache: cache,
		state: state, snapshots: snapshots, notify: notify,
		engine: engine, batchSize: batchSize,
	}
}

// Tick runs exactly one pass of the state machine in spec.md §4.8:
// fetch, update the cache, decide, act on the decision, and check the
// standing weekly-silence alert.
func (c *Controller) Tick(ctx context.Context, now time.Time) error {
	records, err := c.fetch.Fetch(ctx)
	if err != nil {
		ops.Default().LogUpstreamFetch(0, 0, err)
		return fmt.Errorf("controller: fetch failed: %w", err)
	}
	ops.Default().LogUpstreamFetch(len(records), 0, nil)

	exclusions, err := c.exclusions.Set(ctx)
	if err != nil {
		return fmt.Errorf("controller: loading exclusions: %w", err)
	}

	c.cache.Upsert(ctx, toCacheEntries(records), c.batchSize)

	state, err := c.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("controller: loading state: %w", err)
	}

	d := c.engine.Decide(records, exclusions, state, now)
	state.LastDecisionAt = now
	state.LastDecisionResult = &d

	switch {
	case d.ShouldSave:
		snapshotDate := now.UTC().Format("2006-01-02")
		result := c.snapshots.Write(ctx, snapshotDate, toSnapshotRows(records, now), toYearlyGainRows(records), c.batchSize)
		ops.Default().LogSnapshotWrite(snapshotDate, result.SnapshotsInserted, len(result.SnapshotErrors), nil)

		if refreshErr := c.snapshots.RefreshLeaderboardView(ctx); refreshErr != nil {
			result.RefreshMaterializedView = refreshErr.Error()
		} else {
			result.RefreshMaterializedView = "ok"
		}
		c.lastSnapshotResult = &result

		state.LastSavedAt = &now
		state.Pending = nil
		state.PendingJSON = nil
		state.PendingFirstAttempt = nil
		state.PendingAttemptCount = 0

		kind := models.EmailSnapshotSaved
		if d.SyncPercentage < 100 {
			kind = models.EmailPartialSync
		}
		_ = c.notify.Send(ctx, kind, map[string]any{
			"SnapshotDate":            snapshotDate,
			"PlayerCount":             result.PlayerCount,
			"SyncPercentage":          d.SyncPercentage,
			"AttemptCount":            d.PendingAttemptCount,
			"Missing":                 d.Missing,
			"RefreshMaterializedView": result.RefreshMaterializedView,
		}, &snapshotDate)

	case d.IsPendingSync:
		firstAttempt := now
		if state.PendingFirstAttempt != nil {
			firstAttempt = *state.PendingFirstAttempt
		}
		state.Pending = &models.PendingParcel{
			Records:        records,
			CapturedAt:     now,
			SyncPercentage: d.SyncPercentage,
			AttemptCount:   d.PendingAttemptCount,
			Missing:        d.Missing,
		}
		state.PendingFirstAttempt = &firstAttempt
		state.PendingAttemptCount = d.PendingAttemptCount

	default:
		// No-op beyond the lastDecisionResult update above.
	}

	if c.engine.ShouldSendWeekNoUpdateAlert(state, now) {
		_ = c.notify.Send(ctx, models.EmailWeekNoUpdate, map[string]any{
			"LastSavedAt": state.LastSavedAt,
		}, nil)
		state.LastEmailSentAt = &now
		kind := models.EmailWeekNoUpdate
		state.LastEmailType = &kind
	}

	ops.Default().LogTick(d.ShouldSave, d.Reason, d.SyncPercentage, 0)

	if err := c.state.Save(ctx, state); err != nil {
		return fmt.Errorf("controller: saving state: %w", err)
	}

	return nil
}

// LoadState exposes the current controller state for callers that
// need to report on a tick's effects (the refresh-leaderboard-cron
// endpoint compares state before and after a tick).
func (c *Controller) LoadState(ctx context.Context) (models.ControllerState, error) {
	return c.state.Load(ctx)
}

// LastSnapshotResult exposes the most recent tick's snapshot write
// outcome, including the materialized-view refresh status, so the
// refresh-leaderboard-cron endpoint can report it without re-running
// the tick. Nil until a tick has actually saved a snapshot.
func (c *Controller) LastSnapshotResult() *models.SnapshotWriteResult {
	return c.lastSnapshotResult
}

// ToCacheEntries projects player records to cache rows, dropping the
// fields spec.md §4.5 excludes from the current-state cache.
func ToCacheEntries(records []models.PlayerRecord) []models.CacheEntry {
	return toCacheEntries(records)
}

// ToSnapshotRows projects player records into historical snapshot
// rows for the given snapshot date.
func ToSnapshotRows(records []models.PlayerRecord, snapshotDate string) []models.HistoricalSnapshotRow {
	rows := make([]models.HistoricalSnapshotRow, len(records))
	for i, r := range records {
		rows[i] = models.HistoricalSnapshotRow{
			SnapshotDate: snapshotDate, ID: r.ID, IGN: r.IGN, DisplayName: r.DisplayName,
			DiscordName: r.DiscordName, FarmerRole: r.FarmerRole, Grade: r.Grade,
			EB: r.EB, SE: r.SE, PE: r.PE, TE: r.TE, NumPrestiges: r.NumPrestiges,
			IsGuest: r.IsGuest, Active: r.Active, UpdatedAt: r.UpdatedAt,
			GainsSaturday: r.GainsSaturday, MaxMysticalEggs: r.MaxMysticalEggs,
		}
	}
	return rows
}

// ToYearlyGainRows derives per-(id,year) gain rows from player records'
// EggDay sequences.
func ToYearlyGainRows(records []models.PlayerRecord) []models.YearlyGainRow {
	return toYearlyGainRows(records)
}

func toCacheEntries(records []models.PlayerRecord) []models.CacheEntry {
	entries := make([]models.CacheEntry, len(records))
	for i, r := range records {
		entries[i] = models.CacheEntry{
			ID: r.ID, IGN: r.IGN, DisplayName: r.DisplayName, DiscordName: r.DiscordName,
			FarmerRole: r.FarmerRole, Grade: strings.ToUpper(r.Grade), EB: r.EB, SE: r.SE, PE: r.PE,
			TE: r.TE, NumPrestiges: r.NumPrestiges, IsGuest: r.IsGuest, Active: r.Active,
		}
	}
	return entries
}

func toSnapshotRows(records []models.PlayerRecord, now time.Time) []models.HistoricalSnapshotRow {
	snapshotDate := now.UTC().Format("2006-01-02")
	rows := make([]models.HistoricalSnapshotRow, len(records))
	for i, r := range records {
		rows[i] = models.HistoricalSnapshotRow{
			SnapshotDate: snapshotDate, ID: r.ID, IGN: r.IGN, DisplayName: r.DisplayName,
			DiscordName: r.DiscordName, FarmerRole: r.FarmerRole, Grade: r.Grade,
			EB: r.EB, SE: r.SE, PE: r.PE, TE: r.TE, NumPrestiges: r.NumPrestiges,
			IsGuest: r.IsGuest, Active: r.Active, UpdatedAt: r.UpdatedAt,
			GainsSaturday: r.GainsSaturday, MaxMysticalEggs: r.MaxMysticalEggs,
		}
	}
	return rows
}

func toYearlyGainRows(records []models.PlayerRecord) []models.YearlyGainRow {
	var rows []models.YearlyGainRow
	for _, r := range records {
		for _, gain := range r.EggDay {
			rows = append(rows, models.YearlyGainRow{
				ID: r.ID, Year: gain.Year,
				StartSE: gain.Start.SE, StartPE: gain.Start.PE, StartEB: gain.Start.EB,
				StartRole: gain.Start.Role, StartPrestiges: gain.Start.Prestiges,
				EndSE: gain.End.SE, EndPE: gain.End.PE, EndEB: gain.End.EB,
				EndRole: gain.End.Role, EndPrestiges: gain.End.Prestiges,
			})
		}
	}
	return rows
}
