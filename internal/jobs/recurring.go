package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/nevindra/steward"
	"github.com/nevindra/steward/store/sqlite"
)

// ExpandRecurringTasks returns the job that materializes the next
// occurrence of each recurrence template. A template with an open child is
// skipped, so at most one pending occurrence exists per template.
func ExpandRecurringTasks(store *sqlite.Store, loc *time.Location, logger *slog.Logger) steward.Job {
	return steward.Job{
		Name:     "expand_recurring_tasks",
		Interval: 24 * time.Hour,
		Timeout:  5 * time.Minute,
		Enabled:  true,
		Run: func(ctx context.Context) error {
			templates, err := store.RecurringTemplates(ctx)
			if err != nil {
				return err
			}
			created := 0
			for _, tpl := range templates {
				open, err := store.HasOpenOccurrence(ctx, tpl.ID)
				if err != nil {
					return err
				}
				if open {
					continue
				}
				sched, err := steward.ParseSchedule(tpl.Recurrence)
				if err != nil {
					logger.Warn("unparseable recurrence, template skipped", "task", tpl.ID, "recurrence", tpl.Recurrence)
					continue
				}
				next, err := sched.NextRun(time.Now(), loc)
				if err != nil || next.IsZero() {
					continue
				}
				due := next.Unix()
				occurrence := &sqlite.Task{
					ID:       steward.NewID(),
					UserID:   tpl.UserID,
					Title:    tpl.Title,
					Notes:    tpl.Notes,
					Priority: tpl.Priority,
					DueAt:    &due,
					ParentID: tpl.ID,
				}
				if err := store.InsertTask(ctx, occurrence); err != nil {
					return err
				}
				created++
			}
			if created > 0 {
				logger.Info("recurring tasks expanded", "created", created)
			}
			return nil
		},
	}
}
