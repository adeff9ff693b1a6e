package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/nevindra/steward"
	"github.com/nevindra/steward/store/sqlite"
	"github.com/nevindra/steward/vector/postgres"
)

// retentionWindow is how long completed tasks and past events are kept
// before archival.
const retentionWindow = 90 * 24 * time.Hour

// salienceDecayFactor is applied to every memory's salience weekly.
const salienceDecayFactor = 0.98

// CleanupOldData returns the weekly retention job: archive old completed
// tasks, drop long-past events, and decay memory salience. vectors may be
// nil when no vector store is configured.
func CleanupOldData(store *sqlite.Store, vectors *postgres.Store, logger *slog.Logger) steward.Job {
	return steward.Job{
		Name:     "cleanup_old_data",
		Interval: 7 * 24 * time.Hour,
		Timeout:  10 * time.Minute,
		Enabled:  true,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().Add(-retentionWindow)

			tasks, err := store.ArchiveCompletedTasksBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			events, err := store.DeleteEventsBefore(ctx, cutoff)
			if err != nil {
				return err
			}

			var pruned int64
			if vectors != nil {
				pruned, err = vectors.DecaySalience(ctx, salienceDecayFactor)
				if err != nil {
					return err
				}
			}
			logger.Info("cleanup finished",
				"tasks_archived", tasks, "events_removed", events, "memories_pruned", pruned)
			return nil
		},
	}
}
