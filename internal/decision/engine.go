// Package decision implements the Snapshot Decision Engine (C3): a
// pure function over (records, exclusions, controller state, clock)
// that decides whether a poll should become a historical snapshot.
//
// The engine holds no state and performs no I/O — every dependency it
// needs (the constants in spec.md §4.3, the current instant) is passed
// in explicitly, so it is independently unit-testable per spec.md §8.
// The shape — a set of pre-sorted/pre-classified rules evaluated in
// priority order over an injected evaluation context — follows
// sandwichfarm-nophr's internal/retention/engine.go, generalized from
// matching retention rules to matching sync-window/cooldown/pending
// rules.
package decision

import (
	"math"
	"time"

	"github.com/majeggstics/snapshotd/internal/config"
	"github.com/majeggstics/snapshotd/internal/models"
)

// innerSyncWindow is the fixed one-hour cutoff used to decide whether a
// single record is "in" the sync window. spec.md's open questions
// section explicitly preserves this at exactly one hour, independent of
// the configurable SyncWindowHours recency constant (≈1h5m).
const innerSyncWindow = time.Hour

// Engine evaluates poll results against the rules in spec.md §4.3.
type Engine struct {
	cfg config.Decision
}

// New creates a decision engine bound to the given tunable constants.
func New(cfg config.Decision) *Engine {
	return &Engine{cfg: cfg}
}

// Decide is the pure function: (records, exclusions, state, now) -> Decision.
func (e *Engine) Decide(records []models.PlayerRecord, exclusions map[string]struct{}, state models.ControllerState, now time.Time) models.Decision {
	totalReceived := len(records)
	filtered := make([]models.PlayerRecord, 0, totalReceived)
	for _, r := range records {
		if r.IsGuest {
			continue
		}
		if _, excluded := exclusions[r.ID]; excluded {
			continue
		}
		filtered = append(filtered, r)
	}

	n := len(filtered)
	excludedCount := totalReceived - n

	if n == 0 {
		return models.Decision{
			ShouldSave:       false,
			TotalReceived:    totalReceived,
			TotalNonExcluded: 0,
			ExcludedCount:    excludedCount,
			Reason:           "no valid players",
		}
	}

	timed := make([]models.PlayerRecord, 0, n)
	for _, r := range filtered {
		if r.UpdatedAt != nil {
			timed = append(timed, r)
		}
	}

	if len(timed) == 0 {
		return models.Decision{
			ShouldSave:       false,
			TotalReceived:    totalReceived,
			TotalNonExcluded: n,
			ExcludedCount:    excludedCount,
			Reason:           "no valid players",
		}
	}

	lowest := *timed[0].UpdatedAt
	for _, r := range timed[1:] {
		if r.UpdatedAt.Before(lowest) {
			lowest = *r.UpdatedAt
		}
	}

	inWindow := 0
	missing := make([]models.MissingPlayer, 0)
	for _, r := range filtered {
		if r.UpdatedAt != nil && r.UpdatedAt.Sub(lowest) < innerSyncWindow {
			inWindow++
			continue
		}
		diffHours := 0.0
		if r.UpdatedAt != nil {
			diffHours = r.UpdatedAt.Sub(lowest).Hours()
		}
		missing = append(missing, models.MissingPlayer{
			ID:                r.ID,
			IGN:               r.IGN,
			UpdatedAt:         r.UpdatedAt,
			TimeDifferenceHrs: diffHours,
		})
	}

	syncPercentage := 100 * float64(inWindow) / float64(n)
	hoursSinceLowestUpdate := now.Sub(lowest).Hours()
	updateIsRecent := hoursSinceLowestUpdate < e.cfg.SyncWindowHours

	hoursSinceLastSave := math.Inf(1)
	if state.LastSavedAt != nil {
		hoursSinceLastSave = now.Sub(*state.LastSavedAt).Hours()
	}
	cooldownPassed := hoursSinceLastSave > e.cfg.CooldownHours

	base := models.Decision{
		SyncPercentage:         syncPercentage,
		PlayersInSyncWindow:    inWindow,
		TotalNonExcluded:       n,
		TotalReceived:          totalReceived,
		ExcludedCount:          excludedCount,
		LowestUpdatedAt:        &lowest,
		HoursSinceLowestUpdate: hoursSinceLowestUpdate,
		HoursSinceLastSave:     hoursSinceLastSave,
		Missing:                missing,
	}

	hasPending := state.Pending != nil
	if hasPending {
		staleHours := now.Sub(*state.PendingFirstAttempt).Hours()
		if staleHours > e.cfg.PendingSyncStaleHours {
			hasPending = false
		} else {
			if syncPercentage >= 100 {
				base.ShouldSave = true
				base.IsPendingSync = false
				base.PendingAttemptCount = state.PendingAttemptCount + 1
				base.Reason = "100% sync achieved after pending sync"
				return base
			}
			if syncPercentage >= e.cfg.PartialSyncThreshold && state.PendingAttemptCount >= e.cfg.PartialSyncRetryAttempts-1 {
				base.ShouldSave = true
				base.IsPendingSync = false
				base.PendingAttemptCount = state.PendingAttemptCount
				base.Reason = "partial sync after N attempts, saving with warning"
				return base
			}
		}
	}

	fullySynced := syncPercentage >= 100
	partiallySynced := syncPercentage >= e.cfg.PartialSyncThreshold

	switch {
	case fullySynced && updateIsRecent && cooldownPassed:
		base.ShouldSave = true
		base.Reason = "all conditions met"
	case partiallySynced && updateIsRecent && cooldownPassed && !hasPending:
		base.ShouldSave = false
		base.IsPendingSync = true
		base.PendingAttemptCount = 1
		base.Reason = "partial sync detected, storing for retry"
	default:
		base.ShouldSave = false
		switch {
		case !updateIsRecent:
			base.Reason = "Update not recent enough"
		case !cooldownPassed:
			base.Reason = "Cooldown not passed"
		default:
			base.Reason = "Insufficient sync percentage"
		}
	}

	return base
}

// ShouldSendWeekNoUpdateAlert implements spec.md §4.7's alert
// suppression rule for the week_no_update email.
func (e *Engine) ShouldSendWeekNoUpdateAlert(state models.ControllerState, now time.Time) bool {
	hoursSinceLastSave := math.Inf(1)
	if state.LastSavedAt != nil {
		hoursSinceLastSave = now.Sub(*state.LastSavedAt).Hours()
	}
	if hoursSinceLastSave < 24*e.cfg.AlertThresholdDays+1 {
		return false
	}
	if state.LastEmailSentAt == nil {
		return true
	}
	return now.Sub(*state.LastEmailSentAt).Hours() > e.cfg.AlertCooldownHours
}

