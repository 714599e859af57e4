// Package ops provides ambient operational concerns shared by every
// component: structured logging today, process diagnostics later.
package ops

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/majeggstics/snapshotd/internal/config"
)

// Logger is a structured logger wrapper.
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new structured logger based on config.
func NewLogger(cfg *config.Logging) *Logger {
	return newLogger(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer, for tests.
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	return newLogger(cfg, w)
}

func newLogger(cfg *config.Logging, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component), level: l.level, format: l.format}
}

// WithFields adds custom fields to the logger.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), level: l.level, format: l.format}
}

// IsDebugEnabled returns true if debug logging is enabled.
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// LogUpstreamFetch logs the outcome of a C1 upstream poll.
func (l *Logger) LogUpstreamFetch(records int, duration time.Duration, err error) {
	if err != nil {
		l.Error("upstream fetch failed", "duration_ms", duration.Milliseconds(), "error", err)
		return
	}
	l.Info("upstream fetch completed", "records", records, "duration_ms", duration.Milliseconds())
}

// LogTick logs the outcome of one controller tick (C8).
func (l *Logger) LogTick(shouldSave bool, reason string, syncPct float64, duration time.Duration) {
	l.Info("controller tick",
		"should_save", shouldSave,
		"reason", reason,
		"sync_percentage", syncPct,
		"duration_ms", duration.Milliseconds())
}

// LogSnapshotWrite logs a C6 snapshot save attempt.
func (l *Logger) LogSnapshotWrite(snapshotDate string, inserted, failed int, err error) {
	if err != nil {
		l.Error("snapshot write failed", "snapshot_date", snapshotDate, "error", err)
		return
	}
	l.Info("snapshot write completed", "snapshot_date", snapshotDate, "inserted", inserted, "failed", failed)
}

// LogEmailSend logs a C7 notification send attempt.
func (l *Logger) LogEmailSend(kind, recipient string, success bool, err error) {
	if err != nil {
		l.Error("email send failed", "kind", kind, "recipient", recipient, "error", err)
		return
	}
	l.Info("email sent", "kind", kind, "recipient", recipient, "success", success)
}

// LogAuthExchange logs a C9 identity exchange outcome.
func (l *Logger) LogAuthExchange(subjectID string, accessLevel string, err error) {
	if err != nil {
		l.Warn("identity exchange failed", "error", err)
		return
	}
	l.Info("identity exchange succeeded", "subject_id", subjectID, "access_level", accessLevel)
}

// LogPanic logs a panic with stack trace.
func (l *Logger) LogPanic(recovered interface{}, stack string) {
	l.Error("panic recovered", "panic", fmt.Sprintf("%v", recovered), "stack", stack)
}

// LogStartup logs application startup information.
func (l *Logger) LogStartup(version, commit string, cfg map[string]interface{}) {
	l.Info("snapshotd starting", "version", version, "commit", commit, "config", cfg)
}

// LogShutdown logs application shutdown.
func (l *Logger) LogShutdown(reason string) {
	l.Info("snapshotd shutting down", "reason", reason)
}

var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger(&config.Logging{Level: "info", Format: "text"})
}

// Default returns the process-wide logger: a text/info logger until
// SetDefault replaces it with the configured one.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the default logger once config is available.
func SetDefault(l *Logger) { defaultLogger = l }

// Info logs an info message on the default logger.
func Info(msg string, fields ...any) { defaultLogger.Info(msg, fields...) }

// Debug logs a debug message on the default logger.
func Debug(msg string, fields ...any) { defaultLogger.Debug(msg, fields...) }

// Warn logs a warning message on the default logger.
func Warn(msg string, fields ...any) { defaultLogger.Warn(msg, fields...) }

// Error logs an error message on the default logger.
func Error(msg string, fields ...any) { defaultLogger.Error(msg, fields...) }
