package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nevindra/steward"
	"github.com/nevindra/steward/store/sqlite"
)

// ExternalTask is the wire form of a task on the external service.
type ExternalTask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Notes string `json:"notes,omitempty"`
	Done  bool   `json:"done"`
	DueAt *int64 `json:"due_at,omitempty"`
}

// ExternalClient talks to the external task service.
type ExternalClient interface {
	FetchTasks(ctx context.Context) ([]ExternalTask, error)
	PushTask(ctx context.Context, t ExternalTask) error
}

// RESTClient implements ExternalClient over a plain REST API with bearer
// auth.
type RESTClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func (c *RESTClient) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *RESTClient) FetchTasks(ctx context.Context) ([]ExternalTask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/tasks", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("external service: status %d", resp.StatusCode)
	}
	var tasks []ExternalTask
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *RESTClient) PushTask(ctx context.Context, t ExternalTask) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/tasks", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("external service: status %d", resp.StatusCode)
	}
	return nil
}

// ExternalSync returns the reconciliation job, disabled by default. The
// merge rule: the external copy wins for items both sides know, local items
// the external side has never seen are pushed.
func ExternalSync(store *sqlite.Store, client ExternalClient, userID string, logger *slog.Logger) steward.Job {
	return steward.Job{
		Name:     "external_sync",
		Interval: 15 * time.Minute,
		Timeout:  5 * time.Minute,
		Enabled:  false,
		Run: func(ctx context.Context) error {
			external, err := client.FetchTasks(ctx)
			if err != nil {
				return err
			}
			local, err := store.SearchTasks(ctx, userID, "", "", 500)
			if err != nil {
				return err
			}

			localByTitle := make(map[string]sqlite.Task, len(local))
			for _, t := range local {
				localByTitle[t.Title] = t
			}
			externalByTitle := make(map[string]ExternalTask, len(external))
			for _, t := range external {
				externalByTitle[t.Title] = t
			}

			pulled, pushed := 0, 0
			for _, ext := range external {
				existing, known := localByTitle[ext.Title]
				if !known {
					due := ext.DueAt
					task := &sqlite.Task{
						ID:     steward.NewID(),
						UserID: userID,
						Title:  ext.Title,
						Notes:  ext.Notes,
						DueAt:  due,
					}
					if err := store.InsertTask(ctx, task); err != nil {
						return err
					}
					pulled++
					continue
				}
				// External wins on divergence.
				if ext.Done && existing.Status == sqlite.TaskOpen {
					if err := store.CompleteTask(ctx, userID, existing.ID); err != nil {
						return err
					}
					pulled++
				} else if !ext.Done && diverges(existing, ext) {
					patch := sqlite.TaskPatch{Notes: &ext.Notes, DueAt: ext.DueAt}
					if ext.DueAt == nil && existing.DueAt != nil {
						patch.ClearDue = true
					}
					if err := store.UpdateTask(ctx, userID, existing.ID, patch); err != nil {
						return err
					}
					pulled++
				}
			}
			for _, t := range local {
				if _, known := externalByTitle[t.Title]; known || t.Status != sqlite.TaskOpen {
					continue
				}
				ext := ExternalTask{ID: t.ID, Title: t.Title, Notes: t.Notes, DueAt: t.DueAt}
				if err := client.PushTask(ctx, ext); err != nil {
					return err
				}
				pushed++
			}

			if pulled > 0 || pushed > 0 {
				logger.Info("external sync finished", "pulled", pulled, "pushed", pushed)
			}
			return nil
		},
	}
}

func diverges(local sqlite.Task, ext ExternalTask) bool {
	if local.Notes != ext.Notes {
		return true
	}
	switch {
	case local.DueAt == nil && ext.DueAt == nil:
		return false
	case local.DueAt == nil || ext.DueAt == nil:
		return true
	default:
		return *local.DueAt != *ext.DueAt
	}
}
