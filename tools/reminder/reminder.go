// Package reminder registers the reminder agent's tools against the
// datastore.
package reminder

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
const AgentName = "reminder"

// Tools wraps the datastore for the reminder domain.
type Tools struct {
	store *sqlite.Store
	loc   *time.Location
}

// New creates the reminder tool set.
func New(store *sqlite.Store, loc *time.Location) *Tools {
	if loc == nil {
		loc = time.UTC
	}
	return &Tools{store: store, loc: loc}
}

// Register adds all reminder tools to the registry.
func (t *Tools) Register(reg *steward.ToolRegistry) error {
	entries := []struct {
		desc    steward.ToolDescriptor
		handler steward.ToolHandler
	}{
		{
			desc: steward.ToolDescriptor{
				Name:        "create_reminder",
				Description: "Create a one-shot reminder for a future time.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"message":{"type":"string","description":"What to remind about"},
					"due_at":{"type":"string","description":"When to fire, RFC 3339"}
				},"required":["message","due_at"]}`),
				SideEffects: steward.SideEffectWrite,
				Agents:      []string{AgentName},
			},
			handler: t.createReminder,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "list_reminders",
				Description: "List the user's pending reminders, soonest first.",
				Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
				SideEffects: steward.SideEffectRead,
				Idempotent:  true,
				Agents:      []string{AgentName},
			},
			handler: t.listReminders,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "cancel_reminder",
				Description: "Cancel a pending reminder by id.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"reminder_id":{"type":"string"}
				},"required":["reminder_id"]}`),
				SideEffects: steward.SideEffectWrite,
				Idempotent:  true,
				Agents:      []string{AgentName},
			},
			handler: t.cancelReminder,
		},
	}
	for _, e := range entries {
		if err := reg.Register(e.desc, e.handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) createReminder(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Message string `json:"message"`
		DueAt   string `json:"due_at"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	due, err := time.Parse(time.RFC3339, p.DueAt)
	if err != nil {
		return errResult(steward.ToolInvalidArgument, "due_at is not RFC 3339: "+err.Error())
	}
	if !due.After(time.Now()) {
		return errResult(steward.ToolInvalidArgument, "due_at is in the past")
	}
	r := &sqlite.Reminder{
		ID:      steward.NewID(),
		UserID:  tc.UserID,
		Message: p.Message,
		DueAt:   due.Unix(),
	}
	if err := t.store.InsertReminder(ctx, r); err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: fmt.Sprintf("Reminder set for %s (id %s).",
		due.In(t.loc).Format("Mon Jan 2 15:04"), r.ID)}
}

func (t *Tools) listReminders(ctx context.Context, tc steward.ToolContext, _ json.RawMessage) steward.ToolResult {
	reminders, err := t.store.ListReminders(ctx, tc.UserID, 50)
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	if len(reminders) == 0 {
		return steward.ToolResult{Content: "No pending reminders."}
	}
	var b strings.Builder
	for _, r := range reminders {
		fmt.Fprintf(&b, "- %s: %s (id %s)\n",
			time.Unix(r.DueAt, 0).In(t.loc).Format("Mon Jan 2 15:04"), r.Message, r.ID)
	}
	return steward.ToolResult{Content: b.String()}
}

func (t *Tools) cancelReminder(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		ReminderID string `json:"reminder_id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	err := t.store.CancelReminder(ctx, tc.UserID, p.ReminderID)
	if errors.Is(err, sqlite.ErrReminderNotFound) {
		return errResult(steward.ToolInvalidArgument, "no such pending reminder: "+p.ReminderID)
	}
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: "Canceled reminder " + p.ReminderID + "."}
}

func errResult(kind steward.ToolErrorKind, msg string) steward.ToolResult {
	return steward.ToolResult{Err: &steward.ToolError{Kind: kind, Message: msg}}
}
