package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nevindra/steward"
	"github.com/nevindra/steward/store/sqlite"
	"github.com/nevindra/steward/vector/postgres"
)

// ComponentHealth is the last probe outcome per component, consumed by the
// health endpoint.
type ComponentHealth struct {
	mu     sync.Mutex
	status map[string]string
}

// NewComponentHealth creates an empty status store.
func NewComponentHealth() *ComponentHealth {
	return &ComponentHealth{status: make(map[string]string)}
}

func (h *ComponentHealth) set(component string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.status[component] = err.Error()
	} else {
		h.status[component] = "ok"
	}
}

// Snapshot returns a copy of the current component statuses.
func (h *ComponentHealth) Snapshot() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.status))
	for k, v := range h.status {
		out[k] = v
	}
	return out
}

// HealthProbe returns the job that pings the datastore, checkpointer, and
// vector store and records per-component status. vectors may be nil. The
// probe itself never fails the job; a dead dependency is status, not a
// scheduler error.
func HealthProbe(store *sqlite.Store, cp steward.Checkpointer, vectors *postgres.Store, health *ComponentHealth, logger *slog.Logger) steward.Job {
	return steward.Job{
		Name:     "health_probe",
		Interval: 5 * time.Minute,
		Timeout:  30 * time.Second,
		Enabled:  true,
		Run: func(ctx context.Context) error {
			dbErr := store.Ping(ctx)
			health.set("datastore", dbErr)
			cpErr := cp.Health(ctx)
			health.set("checkpointer", cpErr)
			var vecErr error
			if vectors != nil {
				vecErr = vectors.Ping(ctx)
				health.set("vectors", vecErr)
			}
			if dbErr != nil || cpErr != nil || vecErr != nil {
				logger.Warn("health probe found degraded components",
					"datastore", errText(dbErr), "checkpointer", errText(cpErr), "vectors", errText(vecErr))
			}
			return nil
		},
	}
}

func errText(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
