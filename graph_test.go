package steward

import (
	"context"
	"testing"
)

func newTestGraph(t *testing.T, agents *AgentSet, provider Provider, opts ...GraphOption) *Graph {
	t.Helper()
	router := NewRouter(agents, provider)
	registry := NewToolRegistry()
	return NewGraph(agents, router, registry, provider, opts...)
}

func TestRunTurnKeywordRouteAndReply(t *testing.T) {
	agents := testAgents(t)
	provider := &mockProvider{responses: []ChatResponse{textResponse("oatmeal logged"), noHandoff}}
	g := newTestGraph(t, agents, provider)
	state := testState(t, agents, "log the food from this meal")

	reply, err := g.RunTurn(context.Background(), state)
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if reply != "oatmeal logged" {
		t.Errorf("reply = %q, want oatmeal logged", reply)
	}
	if state.CurrentAgent != "food" {
		t.Errorf("CurrentAgent = %q, want food", state.CurrentAgent)
	}
	if state.TargetAgent != "" {
		t.Errorf("TargetAgent = %q, want cleared", state.TargetAgent)
	}
	last, ok := state.LastAssistantMessage()
	if !ok || last.Content != "oatmeal logged" {
		t.Errorf("state missing the assistant reply")
	}
}

func TestRunTurnHandoffSwapsAgents(t *testing.T) {
	agents := testAgents(t)
	provider := &mockProvider{responses: []ChatResponse{
		// food: explicit handoff, then its closing remark.
		toolCallResponse(handoffCall("c1", "task", "deadline question")),
		textResponse("passing this to the task assistant"),
		// task: final answer, no further handoff.
		textResponse("your report is due Friday"),
		noHandoff,
	}}
	g := newTestGraph(t, agents, provider)
	state := testState(t, agents, "log the food from this meal")

	reply, err := g.RunTurn(context.Background(), state)
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if reply != "your report is due Friday" {
		t.Errorf("reply = %q, want the task agent's answer", reply)
	}
	if state.CurrentAgent != "task" || state.PreviousAgent != "food" {
		t.Errorf("agents = current %q previous %q, want task/food", state.CurrentAgent, state.PreviousAgent)
	}
	if state.TargetAgent != "" {
		t.Errorf("TargetAgent = %q, want cleared after the handoff resolved", state.TargetAgent)
	}
	if !hasTrace(state.Trace, TraceHandoff) {
		t.Error("trace missing handoff event")
	}
}

func TestRunTurnHandoffBudgetExhausted(t *testing.T) {
	agents := testAgents(t)
	provider := &mockProvider{responses: []ChatResponse{
		toolCallResponse(handoffCall("c1", "task", "ping")),
		textResponse("over to task"),
		toolCallResponse(handoffCall("c2", "food", "pong")),
		textResponse("back to food"),
	}}
	g := newTestGraph(t, agents, provider, WithMaxHandoffs(1))
	state := testState(t, agents, "log the food from this meal")

	reply, err := g.RunTurn(context.Background(), state)
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if reply != handoffLoopReply {
		t.Errorf("reply = %q, want the handoff loop reply", reply)
	}
	if state.TargetAgent != "" {
		t.Errorf("TargetAgent = %q, want cleared after the budget", state.TargetAgent)
	}
	if !hasTrace(state.Trace, TraceHandoffLoopExceeded) {
		t.Error("trace missing handoff_loop_exceeded event")
	}
}

func TestRunTurnPrunesBeforeRouting(t *testing.T) {
	agents := testAgents(t)
	provider := &mockProvider{responses: []ChatResponse{textResponse("ok"), noHandoff}}
	g := newTestGraph(t, agents, provider, WithMaxMessages(10))
	state := testState(t, agents, "")
	for i := 0; i < 14; i++ {
		state.Apply(Delta{AppendMessages: []Message{UserMessage("filler"), AssistantMessage("food", "ok")}})
	}
	state.Apply(Delta{AppendMessages: []Message{UserMessage("log the food from this meal")}})

	if _, err := g.RunTurn(context.Background(), state); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	// Window of 10 plus the reply appended this turn.
	if len(state.Messages) != 11 {
		t.Errorf("len(Messages) = %d, want 11", len(state.Messages))
	}
	if state.Messages[0].Content == "filler" {
		t.Error("anchor lost during pruning")
	}
}

func TestRunTurnErrorClearsPendingHandoff(t *testing.T) {
	agents := testAgents(t)
	provider := &mockProvider{
		responses: []ChatResponse{
			// food: explicit handoff, then its closing remark.
			toolCallResponse(handoffCall("c1", "task", "deadline question")),
			textResponse("passing this to the task assistant"),
		},
		// task: first completion fails.
		errs: []error{nil, nil, &ErrLLM{Provider: "mock", Kind: LLMUnavailable, Message: "down"}},
	}
	g := newTestGraph(t, agents, provider)
	state := testState(t, agents, "log the food from this meal")

	_, err := g.RunTurn(context.Background(), state)
	if err == nil {
		t.Fatal("RunTurn() error = nil, want the task agent's failure")
	}
	// The stale target would route the next turn's message to task
	// regardless of its content.
	if state.TargetAgent != "" {
		t.Errorf("TargetAgent = %q, want cleared after the aborted turn", state.TargetAgent)
	}
}

func TestRunTurnProviderErrorPropagates(t *testing.T) {
	agents := testAgents(t)
	provider := &mockProvider{errs: []error{&ErrLLM{Provider: "mock", Kind: LLMUnavailable, Message: "down"}}}
	g := newTestGraph(t, agents, provider)
	state := testState(t, agents, "log the food from this meal")

	reply, err := g.RunTurn(context.Background(), state)
	if err == nil {
		t.Fatal("RunTurn() error = nil, want the provider failure")
	}
	if reply != "" {
		t.Errorf("reply = %q, want empty on failure", reply)
	}
	// Routing still landed on the state before the failure.
	if state.CurrentAgent != "food" {
		t.Errorf("CurrentAgent = %q, want food", state.CurrentAgent)
	}
}
