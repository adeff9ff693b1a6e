// Package food registers the food agent's tools against the datastore.
package food

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
const AgentName = "food"

// Tools wraps the datastore for the food domain.
type Tools struct {
	store *sqlite.Store
	loc   *time.Location
}

// New creates the food tool set. loc resolves day boundaries for summaries.
func New(store *sqlite.Store, loc *time.Location) *Tools {
	if loc == nil {
		loc = time.UTC
	}
	return &Tools{store: store, loc: loc}
}

// Register adds all food tools to the registry.
func (t *Tools) Register(reg *steward.ToolRegistry) error {
	entries := []struct {
		desc    steward.ToolDescriptor
		handler steward.ToolHandler
	}{
		{
			desc: steward.ToolDescriptor{
				Name:        "log_food",
				Description: "Log a meal or snack the user ate, with optional calories and macros.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"description":{"type":"string","description":"What was eaten"},
					"calories":{"type":"integer","minimum":0},
					"protein_g":{"type":"number","minimum":0},
					"carbs_g":{"type":"number","minimum":0},
					"fat_g":{"type":"number","minimum":0}
				},"required":["description"]}`),
				SideEffects: steward.SideEffectWrite,
				Agents:      []string{AgentName},
			},
			handler: t.logFood,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "search_food_logs",
				Description: "Search the user's food logs by text over a number of past days.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"query":{"type":"string","description":"Text to match; empty matches all"},
					"days":{"type":"integer","minimum":1,"maximum":365,"description":"How many past days to search (default 7)"}
				}}`),
				SideEffects: steward.SideEffectRead,
				Idempotent:  true,
				Agents:      []string{AgentName},
			},
			handler: t.searchFoodLogs,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "food_summary",
				Description: "Summarize calories and macros over a number of past days.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"days":{"type":"integer","minimum":1,"maximum":365,"description":"How many past days (default 1, i.e. today)"}
				}}`),
				SideEffects: steward.SideEffectRead,
				Idempotent:  true,
				Agents:      []string{AgentName},
			},
			handler: t.foodSummary,
		},
	}
	for _, e := range entries {
		if err := reg.Register(e.desc, e.handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) logFood(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Description string   `json:"description"`
		Calories    *int     `json:"calories"`
		ProteinG    *float64 `json:"protein_g"`
		CarbsG      *float64 `json:"carbs_g"`
		FatG        *float64 `json:"fat_g"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	entry := &sqlite.FoodLog{
		ID:          steward.NewID(),
		UserID:      tc.UserID,
		Description: p.Description,
		Calories:    p.Calories,
		ProteinG:    p.ProteinG,
		CarbsG:      p.CarbsG,
		FatG:        p.FatG,
	}
	if err := t.store.InsertFoodLog(ctx, entry); err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: fmt.Sprintf("Logged %q (id %s).", p.Description, entry.ID)}
}

func (t *Tools) searchFoodLogs(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Query string `json:"query"`
		Days  int    `json:"days"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	if p.Days <= 0 {
		p.Days = 7
	}
	now := time.Now().In(t.loc)
	logs, err := t.store.SearchFoodLogs(ctx, tc.UserID, p.Query, now.AddDate(0, 0, -p.Days), now.Add(time.Minute), 50)
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	if len(logs) == 0 {
		return steward.ToolResult{Content: "No food logs found."}
	}
	var b strings.Builder
	for _, l := range logs {
		fmt.Fprintf(&b, "- [%s] %s", time.Unix(l.EatenAt, 0).In(t.loc).Format("Jan 2 15:04"), l.Description)
		if l.Calories != nil {
			fmt.Fprintf(&b, " (%d kcal)", *l.Calories)
		}
		b.WriteString("\n")
	}
	return steward.ToolResult{Content: b.String()}
}

func (t *Tools) foodSummary(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Days int `json:"days"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	if p.Days <= 0 {
		p.Days = 1
	}
	now := time.Now().In(t.loc)
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.loc).AddDate(0, 0, -(p.Days - 1))
	sum, err := t.store.SummarizeFood(ctx, tc.UserID, since, now.Add(time.Minute))
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: fmt.Sprintf(
		"%d entries: %d kcal, %.1fg protein, %.1fg carbs, %.1fg fat.",
		sum.Entries, sum.Calories, sum.ProteinG, sum.CarbsG, sum.FatG)}
}

func errResult(kind steward.ToolErrorKind, msg string) steward.ToolResult {
	return steward.ToolResult{Err: &steward.ToolError{Kind: kind, Message: msg}}
}
