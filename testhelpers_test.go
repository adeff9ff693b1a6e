package steward

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

// mockProvider replays scripted responses in call order. When errs[i] is
// non-nil the i-th call fails with it; a drained script returns a sentinel
// response so a miscounted test fails loudly on content.
type mockProvider struct {
	name      string
	responses []ChatResponse
	errs      []error

	mu       sync.Mutex
	requests []ChatRequest
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.requests)
	m.requests = append(m.requests, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return ChatResponse{}, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return ChatResponse{Content: "exhausted"}, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockProvider) request(i int) ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

var _ Provider = (*mockProvider)(nil)

func textResponse(s string) ChatResponse {
	return ChatResponse{Content: s}
}

func toolCallResponse(calls ...ToolCall) ChatResponse {
	return ChatResponse{ToolCalls: calls}
}

// noHandoff is the scripted answer to the post-reply handoff intent check.
var noHandoff = ChatResponse{Content: `{"should_handoff":false}`}

func handoffCall(id, target, reason string) ToolCall {
	args, _ := json.Marshal(map[string]string{"target": target, "reason": reason})
	return ToolCall{ID: id, Name: handoffToolName, Args: args}
}

// testAgents registers a food and a task agent; food is the default.
func testAgents(t *testing.T) *AgentSet {
	t.Helper()
	agents := NewAgentSet()
	specs := []AgentSpec{
		{
			Name:        "food",
			Description: "Logs meals and answers questions about what the user ate.",
			Prompt:      "You are the nutrition assistant.",
			Keywords:    []string{"food", "ate", "meal", "breakfast", "lunch", "dinner", "calories"},
		},
		{
			Name:        "task",
			Description: "Manages the user's to-do list.",
			Prompt:      "You are the task assistant.",
			Keywords:    []string{"task", "todo", "to do", "deadline", "due"},
		},
	}
	for _, spec := range specs {
		if err := agents.Register(spec); err != nil {
			t.Fatalf("Register(%s) = %v", spec.Name, err)
		}
	}
	return agents
}

// testState builds a session with one pending user message.
func testState(t *testing.T, agents *AgentSet, userText string) *SessionState {
	t.Helper()
	state := NewSessionState("s1", "u1", "default", agents.Names())
	state.TurnCount = 1
	if userText != "" {
		state.Apply(Delta{AppendMessages: []Message{UserMessage(userText)}})
	}
	return state
}

func hasTrace(events []TraceEvent, kind string) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}
