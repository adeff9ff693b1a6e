// Package jobs holds the background jobs registered on the scheduler:
// reminder firing, recurring task expansion, data retention, health
// probing, vault indexing, and external reconciliation.
package jobs

import (
	"context"
	"log/slog"
)

// NotificationSink receives fired reminders. The daemon wires a log sink;
// a push transport can replace it without touching the job.
type NotificationSink interface {
	Notify(ctx context.Context, userID, message string) error
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(_ context.Context, userID, message string) error {
	s.Logger.Info("reminder fired", "user", userID, "message", message)
	return nil
}
