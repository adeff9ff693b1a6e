package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/nevindra/steward"
	"github.com/nevindra/steward/store/sqlite"
)

// FireReminders returns the job that delivers due reminders. A reminder is
// marked fired before notification: a sink failure is logged, never
// re-delivered, which keeps firing idempotent across overlapping restarts.
func FireReminders(store *sqlite.Store, sink NotificationSink, logger *slog.Logger) steward.Job {
	return steward.Job{
		Name:     "fire_reminders",
		Interval: 5 * time.Minute,
		Timeout:  time.Minute,
		Enabled:  true,
		Run: func(ctx context.Context) error {
			due, err := store.DueReminders(ctx, time.Now(), 100)
			if err != nil {
				return err
			}
			for _, r := range due {
				if err := store.MarkReminderFired(ctx, r.ID); err != nil {
					return err
				}
				if err := sink.Notify(ctx, r.UserID, r.Message); err != nil {
					logger.Warn("notification sink failed", "reminder", r.ID, "error", err)
				}
			}
			if len(due) > 0 {
				logger.Info("reminders fired", "count", len(due))
			}
			return nil
		},
	}
}
