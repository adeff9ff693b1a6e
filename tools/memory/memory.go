// Package memory registers the memory agent's tools: remember stores facts
// in the vector store, recall searches them semantically.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/steward"
	"github.com/nevindra/steward/vector/postgres"
)

// AgentName is the agent these tools are registered under.
const AgentName = "memory"

// Tools wraps the vector store and the embedding provider.
type Tools struct {
	store    *postgres.Store
	embedder steward.EmbeddingProvider
}

// New creates the memory tool set.
func New(store *postgres.Store, embedder steward.EmbeddingProvider) *Tools {
	return &Tools{store: store, embedder: embedder}
}

// Register adds the memory tools to the registry.
func (t *Tools) Register(reg *steward.ToolRegistry) error {
	entries := []struct {
		desc    steward.ToolDescriptor
		handler steward.ToolHandler
	}{
		{
			desc: steward.ToolDescriptor{
				Name:        "remember",
				Description: "Store a fact about the user for future conversations.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"fact":{"type":"string","description":"The fact to remember, phrased as a standalone statement"}
				},"required":["fact"]}`),
				SideEffects: steward.SideEffectWrite,
				Agents:      []string{AgentName},
			},
			handler: t.remember,
		},
		{
			desc: steward.ToolDescriptor{
				Name:        "recall",
				Description: "Search remembered facts and vault notes relevant to a query.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"query":{"type":"string"},
					"top_k":{"type":"integer","minimum":1,"maximum":20}
				},"required":["query"]}`),
				SideEffects: steward.SideEffectRead,
				Idempotent:  true,
				Agents:      []string{AgentName},
			},
			handler: t.recall,
		},
	}
	for _, e := range entries {
		if err := reg.Register(e.desc, e.handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) remember(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Fact string `json:"fact"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	vecs, err := t.embedder.Embed(ctx, []string{p.Fact})
	if err != nil || len(vecs) == 0 {
		return errResult(steward.ToolUnavailable, "embedding failed: "+errString(err))
	}
	if err := t.store.UpsertMemory(ctx, tc.UserID, p.Fact, vecs[0]); err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	return steward.ToolResult{Content: "Remembered."}
}

func (t *Tools) recall(ctx context.Context, tc steward.ToolContext, args json.RawMessage) steward.ToolResult {
	var p struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errResult(steward.ToolInvalidArgument, "invalid args: "+err.Error())
	}
	if p.TopK <= 0 {
		p.TopK = 5
	}
	vecs, err := t.embedder.Embed(ctx, []string{p.Query})
	if err != nil || len(vecs) == 0 {
		return errResult(steward.ToolUnavailable, "embedding failed: "+errString(err))
	}

	memories, err := t.store.SearchMemories(ctx, tc.UserID, vecs[0], p.TopK)
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	chunks, err := t.store.SearchVault(ctx, vecs[0], p.TopK)
	if err != nil {
		return errResult(steward.ToolUnavailable, err.Error())
	}
	if len(memories) == 0 && len(chunks) == 0 {
		return steward.ToolResult{Content: "Nothing relevant remembered."}
	}

	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s (score %.2f)\n", m.Content, m.Score)
	}
	for _, c := range chunks {
		fmt.Fprintf(&b, "- [%s] %s (score %.2f)\n", c.Path, clip(c.Content, 200), c.Score)
	}
	return steward.ToolResult{Content: b.String()}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func errString(err error) string {
	if err == nil {
		return "empty result"
	}
	return err.Error()
}

func errResult(kind steward.ToolErrorKind, msg string) steward.ToolResult {
	return steward.ToolResult{Err: &steward.ToolError{Kind: kind, Message: msg}}
}
