package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/majeggstics/snapshotd/internal/models"
)

// EmailLogRepo persists the send-attempt audit trail C7 writes for
// every notification, and the separate operator-action audit log used
// by endpoints like delete-snapshot.
type EmailLogRepo struct {
	db *DB
}

// NewEmailLogRepo builds an EmailLogRepo over db.
func NewEmailLogRepo(db *DB) *EmailLogRepo {
	return &EmailLogRepo{db: db}
}

const insertEmailLogSQL = `
INSERT INTO email_log (id, sent_at, kind, recipient, subject, body_preview, success, error_message, response_data, related_snapshot_date, metadata)
VALUES (:id, :sent_at, :kind, :recipient, :subject, :body_preview, :success, :error_message, :response_data, :related_snapshot_date, :metadata)
`

// Record writes one send-attempt row, assigning it a fresh ID if row.ID is empty.
func (r *EmailLogRepo) Record(ctx context.Context, row models.EmailLogRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if _, err := r.db.SQLX.NamedExecContext(ctx, insertEmailLogSQL, row); err != nil {
		return fmt.Errorf("storage: insert email_log: %w", err)
	}
	return nil
}

// RecentFor returns the most recent email_log rows of a given kind,
// most recent first. Alert suppression does not use it; it reads the
// controller state's last-email fields.
func (r *EmailLogRepo) RecentFor(ctx context.Context, kind models.EmailKind, limit int) ([]models.EmailLogRow, error) {
	var rows []models.EmailLogRow
	err := r.db.SQLX.SelectContext(ctx, &rows,
		"SELECT * FROM email_log WHERE kind = $1 ORDER BY sent_at DESC LIMIT $2", kind, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: select email_log: %w", err)
	}
	return rows, nil
}

const insertAuditSQL = `
INSERT INTO audit_log (id, performed_by, action, detail, occurred_at)
VALUES (:id, :performed_by, :action, :detail, :occurred_at)
`

// RecordAudit writes one operator-action audit row.
func (r *EmailLogRepo) RecordAudit(ctx context.Context, row models.AuditRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if _, err := r.db.SQLX.NamedExecContext(ctx, insertAuditSQL, row); err != nil {
		return fmt.Errorf("storage: insert audit_log: %w", err)
	}
	return nil
}
