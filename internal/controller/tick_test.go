package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/majeggstics/snapshotd/internal/config"
	"github.com/majeggstics/snapshotd/internal/decision"
	"github.com/majeggstics/snapshotd/internal/models"
)

type stubFetcher struct {
	records []models.PlayerRecord
	err     error
}

func (s *stubFetcher) Fetch(ctx context.Context) ([]models.PlayerRecord, error) {
	return s.records, s.err
}

type stubExclusions struct{ set map[string]struct{} }

func (s *stubExclusions) Set(ctx context.Context) (map[string]struct{}, error) { return s.set, nil }

type stubCache struct{ calls int }

func (s *stubCache) Upsert(ctx context.Context, entries []models.CacheEntry, batchSize int) models.CacheWriteResult {
	s.calls++
	return models.CacheWriteResult{Inserted: len(entries)}
}

type stubState struct {
	state models.ControllerState
	saved []models.ControllerState
}

func (s *stubState) Load(ctx context.Context) (models.ControllerState, error) { return s.state, nil }
func (s *stubState) Save(ctx context.Context, state models.ControllerState) error {
	s.saved = append(s.saved, state)
	return nil
}

type stubSnapshots struct {
	calls        int
	refreshCalls int
}

func (s *stubSnapshots) Write(ctx context.Context, snapshotDate string, rows []models.HistoricalSnapshotRow, gains []models.YearlyGainRow, batchSize int) models.SnapshotWriteResult {
	s.calls++
	return models.SnapshotWriteResult{SnapshotDate: snapshotDate, PlayerCount: len(rows), SnapshotsInserted: len(rows)}
}

func (s *stubSnapshots) RefreshLeaderboardView(ctx context.Context) error {
	s.refreshCalls++
	return nil
}

type stubNotifier struct{ kinds []models.EmailKind }

func (s *stubNotifier) Send(ctx context.Context, kind models.EmailKind, data any, relatedSnapshotDate *string) error {
	s.kinds = append(s.kinds, kind)
	return nil
}

func testEngine() *decision.Engine {
	return decision.New(config.Decision{
		SyncWindowHours: 65.0 / 60.0, CooldownHours: 1.5, PartialSyncThreshold: 99.0,
		PartialSyncRetryAttempts: 2, PendingSyncStaleHours: 2.0, AlertThresholdDays: 7.0, AlertCooldownHours: 2.0,
	})
}

func recordsAt(n int, t time.Time) []models.PlayerRecord {
	records := make([]models.PlayerRecord, n)
	for i := 0; i < n; i++ {
		tt := t
		records[i] = models.PlayerRecord{ID: string(rune('a' + i)), IGN: string(rune('a' + i)), UpdatedAt: &tt}
	}
	return records
}

func TestTickSavesOnFullSync(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(30 * time.Minute)
	lastSaved := base.Add(-2 * time.Hour)

	fetch := &stubFetcher{records: recordsAt(10, base)}
	cache := &stubCache{}
	state := &stubState{state: models.ControllerState{LastSavedAt: &lastSaved}}
	snapshots := &stubSnapshots{}
	notifier := &stubNotifier{}

	c := New(fetch, &stubExclusions{}, cache, state, snapshots, notifier, testEngine(), 100)
	if err := c.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cache.calls != 1 {
		t.Fatalf("expected cache upsert once, got %d", cache.calls)
	}
	if snapshots.calls != 1 {
		t.Fatalf("expected snapshot write once, got %d", snapshots.calls)
	}
	if len(notifier.kinds) != 1 || notifier.kinds[0] != models.EmailSnapshotSaved {
		t.Fatalf("expected a snapshot_saved email, got %+v", notifier.kinds)
	}
	if len(state.saved) != 1 || state.saved[0].LastSavedAt == nil {
		t.Fatalf("expected state to record a save")
	}
	if snapshots.refreshCalls != 1 {
		t.Fatalf("expected the materialized view to be refreshed once, got %d", snapshots.refreshCalls)
	}
	if got := c.LastSnapshotResult(); got == nil || got.RefreshMaterializedView != "ok" {
		t.Fatalf("expected LastSnapshotResult to record a successful refresh, got %+v", got)
	}
}

func TestTickStopsOnFetchError(t *testing.T) {
	fetch := &stubFetcher{err: errors.New("upstream down")}
	cache := &stubCache{}
	state := &stubState{}
	snapshots := &stubSnapshots{}
	notifier := &stubNotifier{}

	c := New(fetch, &stubExclusions{}, cache, state, snapshots, notifier, testEngine(), 100)
	err := c.Tick(context.Background(), time.Now())
	if err == nil {
		t.Fatalf("expected error")
	}
	if cache.calls != 0 || snapshots.calls != 0 {
		t.Fatalf("expected no downstream calls after a fetch failure")
	}
}

func TestTickStoresPendingParcel(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(99, base)
	laggardAt := base.Add(75 * time.Minute)
	records = append(records, models.PlayerRecord{ID: "laggard", IGN: "laggard", UpdatedAt: &laggardAt})
	now := base.Add(40 * time.Minute)
	lastSaved := base.Add(-2 * time.Hour)

	fetch := &stubFetcher{records: records}
	state := &stubState{state: models.ControllerState{LastSavedAt: &lastSaved}}
	snapshots := &stubSnapshots{}
	notifier := &stubNotifier{}

	c := New(fetch, &stubExclusions{}, &stubCache{}, state, snapshots, notifier, testEngine(), 100)
	if err := c.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snapshots.calls != 0 {
		t.Fatalf("expected no snapshot write for a partial sync pending detection")
	}
	if len(state.saved) != 1 || state.saved[0].Pending == nil {
		t.Fatalf("expected a pending parcel to be saved")
	}
}
