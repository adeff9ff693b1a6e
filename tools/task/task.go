// Package task registers the task agent's tools against the datastore.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/steward"
	"github.com/nevindra/steward/store/sqlite"
)

// AgentName is the agent these tools are registered under.
const AgentName = "task"

// Tools wraps the datastore for the task domain.
type Tools struct {
	store *sqlite.Store
	loc   *time.Location
}

// New creates the task tool set.
func New(store *sqlite.Store, loc *time.Location) *Tools {
	if loc == nil {
		loc = time.UTC
	}
	return &Tools{store: store, loc: loc}
}

// Register adds all task tools to the registry.
func (t *Tools) Register(reg *steward.ToolRegistry) error {
	entries := []struct {
		desc    steward.ToolDescriptor
		handler steward.ToolHandler
	}{
		{
			desc: steward.ToolDescriptor{
				Name:        "create_task",
				Description: "Create a task, optionally with a due time, priority, or recurrence.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"title":{"type":"string"},
					"notes":{"type":"string"},
					"priority":{"type":"integer","minimum":0,"maximum":3},
					"due_at":{"type":"string","description":"Due time, RFC 3339"},
					"recurrence":{"type":"string","description":"Optional schedule, e.g. '09:00 daily', '08:30 weekly(Monday)', '10:00 monthly(15)'"}
				},"required":["title"]}`),
				SideEffects: steward.SideEffectWrite,
				Agents:      []string{AgentName},
			},
			handler: t.createTask,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "update_task",
				Description: "Update a task's title, notes, priority, or due time by task id.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"task_id":{"type":"string"},
					"title":{"type":"string"},
					"notes":{"type":"string"},
					"priority":{"type":"integer","minimum":0,"maximum":3},
					"due_at":{"type":"string","description":"New due time, RFC 3339; 'none' clears it"}
				},"required":["task_id"]}`),
				SideEffects: steward.SideEffectWrite,
				Agents:      []string{AgentName},
			},
			handler: t.updateTask,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "search_tasks",
				Description: "Search the user's tasks by text, optionally filtered by status.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"query":{"type":"string","description":"Text to match; empty matches all"},
					"status":{"type":"string","enum":["open","done","archived"]}
				}}`),
				SideEffects: steward.SideEffectRead,
				Idempotent:  true,
				Agents:      []string{AgentName},
			},
			handler: t.searchTasks,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "complete_task",
				Description: "Mark a task done by task id.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"task_id":{"type":"string"}
				},"required":["task_id"]}`),
				SideEffects: steward.SideEffectWrite,
				Idempotent:  true,
				Agents:      []string{AgentName},
			},
			handler: t.completeTask,
		},
	}
	for _, e := range entries {
		if err := reg.Register(e.desc, e.handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) createTask(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Title      string `json:"title"`
		Notes      string `json:"notes"`
		Priority   int    `json:"priority"`
		DueAt      string `json:"due_at"`
		Recurrence string `json:"recurrence"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	task := &sqlite.Task{
		ID:         steward.NewID(),
		UserID:     tc.UserID,
		Title:      p.Title,
		Notes:      p.Notes,
		Priority:   p.Priority,
		Recurrence: p.Recurrence,
	}
	if p.DueAt != "" {
		due, err := time.Parse(time.RFC3339, p.DueAt)
		if err != nil {
			return errResult(steward.ToolInvalidArgument, "due_at is not RFC 3339: "+err.Error())
		}
		unix := due.Unix()
		task.DueAt = &unix
	}
	if err := t.store.InsertTask(ctx, task); err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: fmt.Sprintf("Created task %q (id %s).", p.Title, task.ID)}
}

func (t *Tools) updateTask(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		TaskID   string  `json:"task_id"`
		Title    *string `json:"title"`
		Notes    *string `json:"notes"`
		Priority *int    `json:"priority"`
		DueAt    *string `json:"due_at"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	patch := sqlite.TaskPatch{Title: p.Title, Notes: p.Notes, Priority: p.Priority}
	if p.DueAt != nil {
		if *p.DueAt == "none" {
			patch.ClearDue = true
		} else {
			due, err := time.Parse(time.RFC3339, *p.DueAt)
			if err != nil {
				return errResult(steward.ToolInvalidArgument, "due_at is not RFC 3339: "+err.Error())
			}
			unix := due.Unix()
			patch.DueAt = &unix
		}
	}
	err := t.store.UpdateTask(ctx, tc.UserID, p.TaskID, patch)
	if errors.Is(err, sqlite.ErrTaskNotFound) {
		return errResult(steward.ToolInvalidArgument, "no such task: "+p.TaskID)
	}
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: "Updated task " + p.TaskID + "."}
}

func (t *Tools) searchTasks(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Query  string `json:"query"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	tasks, err := t.store.SearchTasks(ctx, tc.UserID, p.Query, p.Status, 50)
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	if len(tasks) == 0 {
		return steward.ToolResult{Content: "No tasks found."}
	}
	var b strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&b, "- [%s] %s (id %s", task.Status, task.Title, task.ID)
		if task.DueAt != nil {
			fmt.Fprintf(&b, ", due %s", time.Unix(*task.DueAt, 0).In(t.loc).Format("Jan 2 15:04"))
		}
		b.WriteString(")\n")
	}
	return steward.ToolResult{Content: b.String()}
}

func (t *Tools) completeTask(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	err := t.store.CompleteTask(ctx, tc.UserID, p.TaskID)
	if errors.Is(err, sqlite.ErrTaskNotFound) {
		return errResult(steward.ToolInvalidArgument, "no such task: "+p.TaskID)
	}
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: "Marked task " + p.TaskID + " done."}
}

func errResult(kind steward.ToolErrorKind, msg string) steward.ToolResult {
	return steward.ToolResult{Err: &steward.ToolError{Kind: kind, Message: msg}}
}
