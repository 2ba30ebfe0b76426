// Package log provides structured logging for the decoy commands.
// It wraps the standard library's slog package with domain helpers for
// cycles, stages, shares and outbound notifications.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

// CycleIDKey is the context key carrying the current cycle identifier
const CycleIDKey ctxKey = "cycle_id"

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything; used by tests
func Discard() *Logger {
	return NewWithWriter(io.Discard, "test", "test", "error", "json")
}

// WithContext returns a logger carrying the cycle id stored in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if cycleID, ok := ctx.Value(CycleIDKey).(string); ok && cycleID != "" {
		return l.WithFields("cycle_id", cycleID)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithCycle returns a logger with cycle-specific fields
func (l *Logger) WithCycle(cycleID, buildID string) *Logger {
	return l.WithFields("cycle_id", cycleID, "build_id", buildID)
}

// WithStage returns a logger with the current stage
func (l *Logger) WithStage(stage string) *Logger {
	return l.WithFields("stage", stage)
}

// WithWorker returns a logger for one hashing worker
func (l *Logger) WithWorker(workerID int) *Logger {
	return l.WithFields("worker_id", workerID)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogNotification logs the outcome of one outbound notification
func (l *Logger) LogNotification(message, severity string, err error) {
	if err != nil {
		l.Error("notification delivery failed",
			"message", message,
			"severity", severity,
			"error", err.Error(),
		)
		return
	}
	l.Info("notification sent",
		"message", message,
		"severity", severity,
	)
}

// LogShare logs a simulated share result
func (l *Logger) LogShare(accepted bool, found, acceptedTotal, rejectedTotal int64) {
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	l.Info("share "+status,
		"shares_found", found,
		"shares_accepted", acceptedTotal,
		"shares_rejected", rejectedTotal,
	)
}

// LogProgress logs the periodic mining progress line
func (l *Logger) LogProgress(runtime time.Duration, hashrate float64, unit string, found, accepted, rejected int64) {
	l.Info("mining progress",
		"runtime", runtime.Truncate(time.Second).String(),
		"hashrate", hashrate,
		"hashrate_unit", unit,
		"shares_found", found,
		"shares_accepted", accepted,
		"shares_rejected", rejected,
	)
}

// LogStratumMessage logs Stratum protocol messages (debug level)
func (l *Logger) LogStratumMessage(direction, message string) {
	l.Debug("stratum message",
		"direction", direction,
		"message", message,
	)
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration time.Duration) {
	l.Debug("operation completed",
		"operation", operation,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}
