package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/majeggstics/snapshotd/internal/models"
)

// StateRepo manages the single-row controller state machine (C4):
// last-saved timestamp, last decision, and any pending parcel.
type StateRepo struct {
	db *DB
}

// NewStateRepo builds a StateRepo over db.
func NewStateRepo(db *DB) *StateRepo {
	return &StateRepo{db: db}
}

const controllerStateRowID = 1

// Load reads the single controller-state row, deserializing its JSON
// columns into LastDecisionResult and Pending. A fresh, empty state is
// returned if the row has never been written.
func (r *StateRepo) Load(ctx context.Context) (models.ControllerState, error) {
	var state models.ControllerState
	err := r.db.SQLX.GetContext(ctx, &state,
		`SELECT last_saved_at, last_decision_at, last_decision_result, last_email_sent_at, last_email_type,
		        pending, pending_first_attempt, pending_attempt_count, updated_at
		   FROM controller_state WHERE id = $1`, controllerStateRowID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ControllerState{}, nil
	}
	if err != nil {
		return models.ControllerState{}, fmt.Errorf("storage: load controller_state: %w", err)
	}

	if state.LastDecisionJSON != "" {
		var d models.Decision
		if err := json.Unmarshal([]byte(state.LastDecisionJSON), &d); err != nil {
			return models.ControllerState{}, fmt.Errorf("storage: decode last_decision_result: %w", err)
		}
		state.LastDecisionResult = &d
	}
	if state.PendingJSON != nil && *state.PendingJSON != "" {
		var p models.PendingParcel
		if err := json.Unmarshal([]byte(*state.PendingJSON), &p); err != nil {
			return models.ControllerState{}, fmt.Errorf("storage: decode pending: %w", err)
		}
		state.Pending = &p
	}

	return state, nil
}

const upsertControllerStateSQL = `
INSERT INTO controller_state (id, last_saved_at, last_decision_at, last_decision_result, last_email_sent_at, last_email_type, pending, pending_first_attempt, pending_attempt_count, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
  last_saved_at = EXCLUDED.last_saved_at,
  last_decision_at = EXCLUDED.last_decision_at,
  last_decision_result = EXCLUDED.last_decision_result,
  last_email_sent_at = EXCLUDED.last_email_sent_at,
  last_email_type = EXCLUDED.last_email_type,
  pending = EXCLUDED.pending,
  pending_first_attempt = EXCLUDED.pending_first_attempt,
  pending_attempt_count = EXCLUDED.pending_attempt_count,
  updated_at = EXCLUDED.updated_at
`

// Save persists state, re-encoding LastDecisionResult and Pending to
// JSON, and bumping UpdatedAt to now.
func (r *StateRepo) Save(ctx context.Context, state models.ControllerState) error {
	if state.LastDecisionResult != nil {
		b, err := json.Marshal(state.LastDecisionResult)
		if err != nil {
			return fmt.Errorf("storage: encode last_decision_result: %w", err)
		}
		state.LastDecisionJSON = string(b)
	}
	if state.Pending != nil {
		b, err := json.Marshal(state.Pending)
		if err != nil {
			return fmt.Errorf("storage: encode pending: %w", err)
		}
		s := string(b)
		state.PendingJSON = &s
	} else {
		state.PendingJSON = nil
	}
	state.UpdatedAt = time.Now().UTC()

	_, err := r.db.Pool.Exec(ctx, upsertControllerStateSQL,
		controllerStateRowID,
		state.LastSavedAt,
		state.LastDecisionAt,
		state.LastDecisionJSON,
		state.LastEmailSentAt,
		state.LastEmailType,
		state.PendingJSON,
		state.PendingFirstAttempt,
		state.PendingAttemptCount,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save controller_state: %w", err)
	}
	return nil
}
