package decision

import (
	"strings"
	"testing"
	"time"

	"github.com/majeggstics/snapshotd/internal/config"
	"github.com/majeggstics/snapshotd/internal/models"
)

func testConfig() config.Decision {
	return config.Decision{
		SyncWindowHours:          65.0 / 60.0,
		CooldownHours:            1.5,
		PartialSyncThreshold:     99.0,
		PartialSyncRetryAttempts: 2,
		PendingSyncStaleHours:    2.0,
		AlertThresholdDays:       7.0,
		AlertCooldownHours:       2.0,
	}
}

func recordsAt(n int, t time.Time) []models.PlayerRecord {
	records := make([]models.PlayerRecord, n)
	for i := 0; i < n; i++ {
		tt := t
		records[i] = models.PlayerRecord{ID: itoa(i), IGN: itoa(i), UpdatedAt: &tt}
	}
	return records
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return "p" + string(b)
}

// Scenario A — clean save.
func TestScenarioA_CleanSave(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(100, base)
	now := base.Add(30 * time.Minute)
	lastSaved := base.Add(-2 * time.Hour)
	state := models.ControllerState{LastSavedAt: &lastSaved}

	eng := New(testConfig())
	d := eng.Decide(records, nil, state, now)

	if d.SyncPercentage != 100 {
		t.Fatalf("expected 100%% sync, got %v", d.SyncPercentage)
	}
	if !d.ShouldSave {
		t.Fatalf("expected shouldSave=true, got false (reason=%s)", d.Reason)
	}
	if d.Reason != "all conditions met" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

// Scenario B — first detection of partial sync.
func TestScenarioB_PartialSyncFirstDetection(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(99, base)
	laggardAt := base.Add(75 * time.Minute)
	records = append(records, models.PlayerRecord{ID: "laggard", IGN: "laggard", UpdatedAt: &laggardAt})
	now := base.Add(40 * time.Minute)
	lastSaved := base.Add(-2 * time.Hour)
	state := models.ControllerState{LastSavedAt: &lastSaved}

	eng := New(testConfig())
	d := eng.Decide(records, nil, state, now)

	if d.PlayersInSyncWindow != 99 {
		t.Fatalf("expected 99 in window, got %d", d.PlayersInSyncWindow)
	}
	if d.SyncPercentage != 99.0 {
		t.Fatalf("expected 99%% sync, got %v", d.SyncPercentage)
	}
	if d.ShouldSave {
		t.Fatalf("expected shouldSave=false")
	}
	if !d.IsPendingSync {
		t.Fatalf("expected isPendingSync=true")
	}
	if d.PendingAttemptCount != 1 {
		t.Fatalf("expected pendingAttemptCount=1, got %d", d.PendingAttemptCount)
	}
}

// Scenario C — pending re-evaluation, same laggard.
func TestScenarioC_PendingReevaluationSaves(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(99, base)
	laggardAt := base.Add(75 * time.Minute)
	records = append(records, models.PlayerRecord{ID: "laggard", IGN: "laggard", UpdatedAt: &laggardAt})
	now := base.Add(55 * time.Minute)
	lastSaved := base.Add(-2 * time.Hour)
	firstAttempt := base.Add(40 * time.Minute)
	state := models.ControllerState{
		LastSavedAt:         &lastSaved,
		Pending:              &models.PendingParcel{},
		PendingFirstAttempt: &firstAttempt,
		PendingAttemptCount: 1,
	}

	eng := New(testConfig())
	d := eng.Decide(records, nil, state, now)

	if !d.ShouldSave {
		t.Fatalf("expected shouldSave=true, reason=%s", d.Reason)
	}
	if !strings.Contains(d.Reason, "partial sync after") {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
	if d.IsPendingSync {
		t.Fatalf("expected isPendingSync=false once saved")
	}
}

// Scenario D — pending resolves at 100%.
func TestScenarioD_PendingResolvesAtFullSync(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(100, base)
	now := base.Add(50 * time.Minute)
	lastSaved := base.Add(-2 * time.Hour)
	firstAttempt := base.Add(40 * time.Minute)
	state := models.ControllerState{
		LastSavedAt:         &lastSaved,
		Pending:              &models.PendingParcel{},
		PendingFirstAttempt: &firstAttempt,
		PendingAttemptCount: 1,
	}

	eng := New(testConfig())
	d := eng.Decide(records, nil, state, now)

	if !d.ShouldSave {
		t.Fatalf("expected shouldSave=true, reason=%s", d.Reason)
	}
	if !strings.Contains(d.Reason, "100% sync achieved after pending sync") {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

// Scenario E — cooldown blocks.
func TestScenarioE_CooldownBlocks(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(50, base)
	now := base.Add(5 * time.Minute)
	lastSaved := base.Add(-30 * time.Minute)
	state := models.ControllerState{LastSavedAt: &lastSaved}

	eng := New(testConfig())
	d := eng.Decide(records, nil, state, now)

	if d.ShouldSave {
		t.Fatalf("expected shouldSave=false")
	}
	if d.Reason != "Cooldown not passed" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

// Scenario F — week-no-update alert and its cooldown.
func TestScenarioF_WeekNoUpdateAlert(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	lastSaved := now.Add(-8 * 24 * time.Hour)
	state := models.ControllerState{LastSavedAt: &lastSaved}

	eng := New(testConfig())
	if !eng.ShouldSendWeekNoUpdateAlert(state, now) {
		t.Fatalf("expected alert to fire")
	}

	sentAt := now
	state.LastEmailSentAt = &sentAt
	laterSameAlert := now.Add(30 * time.Minute)
	if eng.ShouldSendWeekNoUpdateAlert(state, laterSameAlert) {
		t.Fatalf("expected alert suppressed within cooldown")
	}

	muchLater := now.Add(3 * time.Hour)
	if !eng.ShouldSendWeekNoUpdateAlert(state, muchLater) {
		t.Fatalf("expected alert to fire again after cooldown elapses")
	}
}

func TestNoValidPlayers(t *testing.T) {
	eng := New(testConfig())
	d := eng.Decide(nil, nil, models.ControllerState{}, time.Now())
	if d.ShouldSave {
		t.Fatalf("expected shouldSave=false")
	}
	if d.Reason != "no valid players" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestExclusionsAndGuestsAreFiltered(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(3, base)
	records[0].IsGuest = true
	exclusions := map[string]struct{}{records[1].ID: {}}

	eng := New(testConfig())
	d := eng.Decide(records, exclusions, models.ControllerState{}, base)

	if d.TotalReceived != 3 {
		t.Fatalf("expected totalReceived=3, got %d", d.TotalReceived)
	}
	if d.TotalNonExcluded != 1 {
		t.Fatalf("expected totalNonExcluded=1, got %d", d.TotalNonExcluded)
	}
	if d.ExcludedCount != 2 {
		t.Fatalf("expected excludedCount=2, got %d", d.ExcludedCount)
	}
}

// Invariant: syncPercentage = 100 * playersInSyncWindow / totalNonExcluded.
func TestSyncPercentageInvariant(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(4, base)
	laggardAt := base.Add(2 * time.Hour)
	records[3].UpdatedAt = &laggardAt

	eng := New(testConfig())
	d := eng.Decide(records, nil, models.ControllerState{}, base)

	want := 100 * float64(d.PlayersInSyncWindow) / float64(d.TotalNonExcluded)
	if d.SyncPercentage != want {
		t.Fatalf("sync percentage invariant violated: got %v want %v", d.SyncPercentage, want)
	}
	if d.PlayersInSyncWindow > d.TotalNonExcluded || d.TotalNonExcluded > d.TotalReceived {
		t.Fatalf("ordering invariant violated")
	}
}

// Idempotence: two identical inputs at identical now produce identical decisions.
func TestDecideIsPure(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(10, base)
	lastSaved := base.Add(-2 * time.Hour)
	state := models.ControllerState{LastSavedAt: &lastSaved}
	now := base.Add(30 * time.Minute)

	eng := New(testConfig())
	d1 := eng.Decide(records, nil, state, now)
	d2 := eng.Decide(records, nil, state, now)

	if d1.ShouldSave != d2.ShouldSave || d1.Reason != d2.Reason || d1.SyncPercentage != d2.SyncPercentage {
		t.Fatalf("expected identical decisions for identical inputs")
	}
}

func TestUnparseableTimestampsExcludedFromSyncMath(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(3, base)
	records = append(records, models.PlayerRecord{ID: "no-time", IGN: "no-time", UpdatedAt: nil})

	eng := New(testConfig())
	d := eng.Decide(records, nil, models.ControllerState{}, base.Add(10*time.Minute))

	if d.TotalNonExcluded != 4 {
		t.Fatalf("expected totalNonExcluded=4 (nil timestamp still counts in N), got %d", d.TotalNonExcluded)
	}
	if d.PlayersInSyncWindow != 3 {
		t.Fatalf("expected 3 players in window (nil timestamp excluded), got %d", d.PlayersInSyncWindow)
	}
}

func TestPendingGoesStaleAndIsReset(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := recordsAt(99, base)
	laggardAt := base.Add(75 * time.Minute)
	records = append(records, models.PlayerRecord{ID: "laggard", IGN: "laggard", UpdatedAt: &laggardAt})

	firstAttempt := base
	state := models.ControllerState{
		Pending:             &models.PendingParcel{},
		PendingFirstAttempt: &firstAttempt,
		PendingAttemptCount: 1,
	}

	eng := New(testConfig())
	// Far enough in the future that the pending parcel is stale and the
	// lowestUpdatedAt/recency math also fails, but the key assertion is
	// that it is NOT treated as an active pending parcel anymore.
	now := base.Add(3 * time.Hour)
	d := eng.Decide(records, nil, state, now)

	if strings.Contains(d.Reason, "pending sync") {
		t.Fatalf("stale pending parcel should not be treated as active: %s", d.Reason)
	}
}
