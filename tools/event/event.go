// Package event registers the calendar agent's tools against the datastore.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/steward"
	"github.com/nevindra/steward/store/sqlite"
)

// AgentName is the agent these tools are registered under.
const AgentName = "event"

// Tools wraps the datastore for the calendar domain.
type Tools struct {
	store *sqlite.Store
	loc   *time.Location
}

// New creates the event tool set.
func New(store *sqlite.Store, loc *time.Location) *Tools {
	if loc == nil {
		loc = time.UTC
	}
	return &Tools{store: store, loc: loc}
}

// Register adds all event tools to the registry.
func (t *Tools) Register(reg *steward.ToolRegistry) error {
	entries := []struct {
		desc    steward.ToolDescriptor
		handler steward.ToolHandler
	}{
		{
			desc: steward.ToolDescriptor{
				Name:        "create_event",
				Description: "Create a calendar event with a start time and optional end, location, and notes.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"title":{"type":"string"},
					"starts_at":{"type":"string","description":"Start time, RFC 3339"},
					"ends_at":{"type":"string","description":"End time, RFC 3339"},
					"location":{"type":"string"},
					"notes":{"type":"string"}
				},"required":["title","starts_at"]}`),
				SideEffects: steward.SideEffectWrite,
				Agents:      []string{AgentName},
			},
			handler: t.createEvent,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "search_events",
				Description: "Search the user's calendar events by text.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"query":{"type":"string","description":"Text to match; empty matches all"}
				}}`),
				SideEffects: steward.SideEffectRead,
				Idempotent:  true,
				Agents:      []string{AgentName},
			},
			handler: t.searchEvents,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "upcoming_events",
				Description: "List events in the next N days (default 7).",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"days":{"type":"integer","minimum":1,"maximum":90}
				}}`),
				SideEffects: steward.SideEffectRead,
				Idempotent:  true,
				Agents:      []string{AgentName},
			},
			handler: t.upcomingEvents,
		},
	}
	for _, e := range entries {
		if err := reg.Register(e.desc, e.handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) createEvent(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Title    string `json:"title"`
		StartsAt string `json:"starts_at"`
		EndsAt   string `json:"ends_at"`
		Location string `json:"location"`
		Notes    string `json:"notes"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	starts, err := time.Parse(time.RFC3339, p.StartsAt)
	if err != nil {
		return errResult(steward.ToolInvalidArgument, "starts_at is not RFC 3339: "+err.Error())
	}
	ev := &sqlite.Event{
		ID:       steward.NewID(),
		UserID:   tc.UserID,
		Title:    p.Title,
		Location: p.Location,
		Notes:    p.Notes,
		StartsAt: starts.Unix(),
	}
	if p.EndsAt != "" {
		ends, err := time.Parse(time.RFC3339, p.EndsAt)
		if err != nil {
			return errResult(steward.ToolInvalidArgument, "ends_at is not RFC 3339: "+err.Error())
		}
		if ends.Before(starts) {
			return errResult(steward.ToolInvalidArgument, "ends_at is before starts_at")
		}
		unix := ends.Unix()
		ev.EndsAt = &unix
	}
	if err := t.store.InsertEvent(ctx, ev); err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: fmt.Sprintf("Created event %q at %s (id %s).",
		p.Title, starts.In(t.loc).Format("Jan 2 15:04"), ev.ID)}
}

func (t *Tools) searchEvents(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	events, err := t.store.SearchEvents(ctx, tc.UserID, p.Query, 50)
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: renderEvents(events, t.loc)}
}

func (t *Tools) upcomingEvents(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Days int `json:"days"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	if p.Days <= 0 {
		p.Days = 7
	}
	events, err := t.store.UpcomingEvents(ctx, tc.UserID, time.Now(), time.Duration(p.Days)*24*time.Hour, 20)
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: renderEvents(events, t.loc)}
}

func renderEvents(events []sqlite.Event, loc *time.Location) string {
	if len(events) == 0 {
		return "No events found."
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "- %s: %s", time.Unix(e.StartsAt, 0).In(loc).Format("Mon Jan 2 15:04"), e.Title)
		if e.Location != "" {
			fmt.Fprintf(&b, " @ %s", e.Location)
		}
		fmt.Fprintf(&b, " (id %s)\n", e.ID)
	}
	return b.String()
}

func errResult(kind steward.ToolErrorKind, msg string) steward.ToolResult {
	return steward.ToolResult{Err: &steward.ToolError{Kind: kind, Message: msg}}
}
