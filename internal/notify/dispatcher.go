// Package notify implements C7: fire-and-forget email notifications
// with a persisted audit trail. Every send attempt, successful or
// not, is logged; a failed send never blocks or retries the snapshot
// write it's reporting on.
package notify

import (
	"bytes"
	"context"
	"html/template"
	"time"

	"github.com/majeggstics/snapshotd/internal/models"
	"github.com/majeggstics/snapshotd/internal/notify/resend"
)

// AuditLogger persists one send-attempt row per call.
type AuditLogger interface {
	Record(ctx context.Context, row models.EmailLogRow) error
}

// Sender delivers one HTML email.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) (resend.SendResult, error)
}

// Dispatcher sends notification emails and records the outcome of
// every attempt, win or lose.
type Dispatcher struct {
	sender    Sender
	log       AuditLogger
	recipient string
	enabled   bool
}

// New builds a Dispatcher. If enabled is false, Send is a no-op that
// still writes an audit row marked unsuccessful with a disabled note,
// matching spec.md §4.7's requirement that every attempt is logged.
func New(sender Sender, log AuditLogger, recipient string, enabled bool) *Dispatcher {
	return &Dispatcher{sender: sender, log: log, recipient: recipient, enabled: enabled}
}

var templates = map[models.EmailKind]*template.Template{
	models.EmailSnapshotSaved: template.Must(template.New("snapshot_saved").Parse(
		`<p>Snapshot for {{.SnapshotDate}} saved: {{.PlayerCount}} players, {{.SyncPercentage}}% sync.</p>`)),
	models.EmailPartialSync: template.Must(template.New("partial_sync").Parse(
		`<p>Partial sync saved ({{.SyncPercentage}}%) after {{.AttemptCount}} attempts. Missing: {{range .Missing}}{{.IGN}} {{end}}</p>`)),
	models.EmailWeekNoUpdate: template.Must(template.New("week_no_update").Parse(
		`<p>No snapshot has been saved in over a week. Last save: {{.LastSavedAt}}.</p>`)),
}

var subjects = map[models.EmailKind]string{
	models.EmailSnapshotSaved: "Snapshot saved",
	models.EmailPartialSync:   "Partial sync saved",
	models.EmailWeekNoUpdate:  "No snapshot in over a week",
}

// Send renders the template for kind, dispatches it, and persists an
// audit row regardless of outcome. The returned error is informational
// only — callers should not treat a notification failure as a reason
// to roll back or retry the snapshot operation it describes.
func (d *Dispatcher) Send(ctx context.Context, kind models.EmailKind, data any, relatedSnapshotDate *string) error {
	row := models.EmailLogRow{
		SentAt:    time.Now().UTC(),
		Kind:      kind,
		Recipient: d.recipient,
		Subject:   subjects[kind],
		RelatedSnapshotDate: relatedSnapshotDate,
		Metadata:  "{}",
	}

	if !d.enabled {
		row.Success = false
		msg := "notifications disabled"
		row.ErrorMessage = &msg
		return d.log.Record(ctx, row)
	}

	tmpl, ok := templates[kind]
	if !ok {
		row.Success = false
		msg := "no template registered for kind"
		row.ErrorMessage = &msg
		return d.log.Record(ctx, row)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		row.Success = false
		msg := err.Error()
		row.ErrorMessage = &msg
		return d.log.Record(ctx, row)
	}

	html := buf.String()
	row.BodyPreview = preview(html, 200)

	result, err := d.sender.Send(ctx, d.recipient, row.Subject, html)
	row.ResponseData = &result.RawBody
	if err != nil {
		row.Success = false
		msg := err.Error()
		row.ErrorMessage = &msg
	} else {
		row.Success = true
	}

	return d.log.Record(ctx, row)
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
