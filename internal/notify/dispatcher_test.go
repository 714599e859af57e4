package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/majeggstics/snapshotd/internal/models"
	"github.com/majeggstics/snapshotd/internal/notify/resend"
)

type fakeSender struct {
	result resend.SendResult
	err    error
	calls  int
}

func (f *fakeSender) Send(ctx context.Context, to, subject, html string) (resend.SendResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeLogger struct {
	rows []models.EmailLogRow
}

func (f *fakeLogger) Record(ctx context.Context, row models.EmailLogRow) error {
	f.rows = append(f.rows, row)
	return nil
}

func TestSendSuccessLogsRow(t *testing.T) {
	sender := &fakeSender{result: resend.SendResult{ID: "abc", RawBody: `{"id":"abc"}`}}
	logger := &fakeLogger{}
	d := New(sender, logger, "ops@example.com", true)

	err := d.Send(context.Background(), models.EmailSnapshotSaved, map[string]any{
		"SnapshotDate": "2026-07-30", "PlayerCount": 100, "SyncPercentage": 100.0,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected 1 send call, got %d", sender.calls)
	}
	if len(logger.rows) != 1 || !logger.rows[0].Success {
		t.Fatalf("expected one successful audit row, got %+v", logger.rows)
	}
}

func TestSendFailureStillLogsRow(t *testing.T) {
	sender := &fakeSender{err: errors.New("boom")}
	logger := &fakeLogger{}
	d := New(sender, logger, "ops@example.com", true)

	err := d.Send(context.Background(), models.EmailPartialSync, map[string]any{
		"SyncPercentage": 99.0, "AttemptCount": 2, "Missing": []models.MissingPlayer{},
	}, nil)
	if err != nil {
		t.Fatalf("Send should not propagate sender errors: %v", err)
	}
	if len(logger.rows) != 1 || logger.rows[0].Success {
		t.Fatalf("expected one failed audit row, got %+v", logger.rows)
	}
	if logger.rows[0].ErrorMessage == nil {
		t.Fatalf("expected error message recorded")
	}
}

func TestSendDisabledStillLogsRow(t *testing.T) {
	sender := &fakeSender{}
	logger := &fakeLogger{}
	d := New(sender, logger, "ops@example.com", false)

	err := d.Send(context.Background(), models.EmailWeekNoUpdate, map[string]any{"LastSavedAt": "never"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 0 {
		t.Fatalf("expected no send calls when disabled, got %d", sender.calls)
	}
	if len(logger.rows) != 1 || logger.rows[0].Success {
		t.Fatalf("expected disabled send to log a failed row")
	}
}
