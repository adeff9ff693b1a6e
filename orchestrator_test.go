package steward

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// testCheckpointer keeps JSON-encoded states in memory with a replaceable
// clock, mirroring the production store's roundtrip fidelity.
type testCheckpointer struct {
	mu      sync.Mutex
	raw     map[string][]byte
	expires map[string]time.Time
	now     func() time.Time
	saveErr error
}

func newTestCheckpointer() *testCheckpointer {
	return &testCheckpointer{
		raw:     make(map[string][]byte),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *testCheckpointer) Load(_ context.Context, sessionID string) (*SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.raw[sessionID]
	if !ok || (!c.expires[sessionID].IsZero() && !c.now().Before(c.expires[sessionID])) {
		return nil, ErrNotFound
	}
	var state SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &ErrCheckpoint{Kind: CheckpointCorrupt, Err: err}
	}
	return &state, nil
}

func (c *testCheckpointer) Save(_ context.Context, state *SessionState, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	c.raw[state.SessionID] = raw
	if ttl > 0 {
		c.expires[state.SessionID] = c.now().Add(ttl)
	} else {
		delete(c.expires, state.SessionID)
	}
	return nil
}

func (c *testCheckpointer) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.raw, sessionID)
	delete(c.expires, sessionID)
	return nil
}

func (c *testCheckpointer) Health(context.Context) error { return nil }

func (c *testCheckpointer) corrupt(sessionID string) {
	c.mu.Lock()
	c.raw[sessionID] = []byte("{not json")
	c.mu.Unlock()
}

var _ Checkpointer = (*testCheckpointer)(nil)

// gatedProvider blocks every Chat call until the gate closes, then delegates.
type gatedProvider struct {
	gate  chan struct{}
	inner Provider
}

func (p *gatedProvider) Name() string { return "gated" }

func (p *gatedProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	select {
	case <-p.gate:
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	}
	return p.inner.Chat(ctx, req)
}

func newTestOrchestrator(t *testing.T, provider Provider, cp Checkpointer, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	agents := testAgents(t)
	graph := newTestGraph(t, agents, provider)
	return NewOrchestrator(graph, cp, agents, opts...)
}

func turnRequest(session, message string) TurnRequest {
	return TurnRequest{SessionID: session, UserID: "u1", Workspace: "default", Message: message}
}

func TestHandleTurnFreshSession(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{textResponse("oatmeal logged"), noHandoff}}
	cp := newTestCheckpointer()
	o := newTestOrchestrator(t, provider, cp)

	reply, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal"))
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if reply.Reply != "oatmeal logged" || reply.Agent != "food" || reply.TurnCount != 1 {
		t.Errorf("reply = %+v, want oatmeal logged from food on turn 1", reply)
	}

	state, err := o.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if state.TurnCount != 1 || state.CurrentAgent != "food" {
		t.Errorf("persisted state = turn %d agent %q, want 1/food", state.TurnCount, state.CurrentAgent)
	}
	if last, ok := state.LastAssistantMessage(); !ok || last.Content != "oatmeal logged" {
		t.Error("persisted state missing the assistant reply")
	}
}

func TestHandleTurnCountAdvances(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		textResponse("one"), noHandoff,
		textResponse("two"), noHandoff,
	}}
	o := newTestOrchestrator(t, provider, newTestCheckpointer())

	if _, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal")); err != nil {
		t.Fatalf("turn 1 error = %v", err)
	}
	reply, err := o.HandleTurn(context.Background(), turnRequest("s1", "log another food meal"))
	if err != nil {
		t.Fatalf("turn 2 error = %v", err)
	}
	if reply.TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", reply.TurnCount)
	}
}

func TestHandleTurnValidation(t *testing.T) {
	o := newTestOrchestrator(t, &mockProvider{}, newTestCheckpointer())
	cases := []TurnRequest{
		{UserID: "u1", Message: "hi"},
		{SessionID: "s1", Message: "hi"},
		{SessionID: "s1", UserID: "u1", Message: "   "},
		{SessionID: "s1", UserID: "u1", Message: strings.Repeat("x", maxUserMessageBytes+1)},
	}
	for i, req := range cases {
		_, err := o.HandleTurn(context.Background(), req)
		if TurnKind(err) != TurnValidation {
			t.Errorf("case %d: error = %v, want validation", i, err)
		}
	}
}

func TestHandleTurnSessionTTLExpiry(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		textResponse("one"), noHandoff,
		textResponse("two"), noHandoff,
	}}
	cp := newTestCheckpointer()
	clock := time.Now()
	cp.now = func() time.Time { return clock }
	o := newTestOrchestrator(t, provider, cp, WithSessionTTL(time.Hour))

	if _, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal")); err != nil {
		t.Fatalf("turn 1 error = %v", err)
	}
	clock = clock.Add(2 * time.Hour)
	reply, err := o.HandleTurn(context.Background(), turnRequest("s1", "log another food meal"))
	if err != nil {
		t.Fatalf("turn 2 error = %v", err)
	}
	if reply.TurnCount != 1 {
		t.Errorf("TurnCount after expiry = %d, want a fresh session at 1", reply.TurnCount)
	}
}

func TestHandleTurnCorruptCheckpointRecovers(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		textResponse("one"), noHandoff,
		textResponse("two"), noHandoff,
	}}
	cp := newTestCheckpointer()
	o := newTestOrchestrator(t, provider, cp)

	if _, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal")); err != nil {
		t.Fatalf("turn 1 error = %v", err)
	}
	cp.corrupt("s1")

	reply, err := o.HandleTurn(context.Background(), turnRequest("s1", "log another food meal"))
	if err != nil {
		t.Fatalf("turn after corruption error = %v, want a fresh session", err)
	}
	if reply.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1 on the discarded checkpoint", reply.TurnCount)
	}
	state, err := o.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !hasTrace(state.Trace, TraceCorruptCheckpoint) {
		t.Error("trace missing corrupt_checkpoint event")
	}
}

func TestHandleTurnConcurrentSameSession(t *testing.T) {
	gate := make(chan struct{})
	provider := &gatedProvider{gate: gate, inner: &mockProvider{responses: []ChatResponse{textResponse("done"), noHandoff}}}
	o := newTestOrchestrator(t, provider, newTestCheckpointer(), WithSessionLockWait(30*time.Millisecond))

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal"))
		firstDone <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the first turn take the session lock

	_, err := o.HandleTurn(context.Background(), turnRequest("s1", "log another food meal"))
	if TurnKind(err) != TurnConcurrent {
		t.Errorf("second turn error = %v, want concurrent_turn", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Errorf("first turn error = %v", err)
	}
}

func TestHandleTurnOverloaded(t *testing.T) {
	gate := make(chan struct{})
	provider := &gatedProvider{gate: gate, inner: &mockProvider{responses: []ChatResponse{textResponse("done"), noHandoff}}}
	o := newTestOrchestrator(t, provider, newTestCheckpointer(), WithMaxConcurrentTurns(1))

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal"))
		firstDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	_, err := o.HandleTurn(context.Background(), turnRequest("s2", "log the food from this meal"))
	if TurnKind(err) != TurnOverloaded {
		t.Errorf("second turn error = %v, want overloaded", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Errorf("first turn error = %v", err)
	}
}

func TestHandleTurnTimeout(t *testing.T) {
	// The provider never answers; the turn budget must cut it off.
	provider := &gatedProvider{gate: make(chan struct{}), inner: &mockProvider{}}
	cp := newTestCheckpointer()
	o := newTestOrchestrator(t, provider, cp, WithTurnBudget(30*time.Millisecond))

	_, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal"))
	if TurnKind(err) != TurnTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
	state, err := cp.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() after timeout = %v, want the state persisted anyway", err)
	}
	if !hasTrace(state.Trace, TraceTurnTimeout) {
		t.Error("trace missing turn_timeout event")
	}
	last, ok := state.LastAssistantMessage()
	if !ok || last.Content != timeoutReply {
		t.Errorf("last assistant message = %+v, want the stored timeout reply", last)
	}
}

func TestHandleTurnSaveFailureStillReplies(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{textResponse("saved nowhere"), noHandoff}}
	cp := newTestCheckpointer()
	cp.saveErr = &ErrCheckpoint{Kind: CheckpointUnavailable, Err: errors.New("redis down")}
	o := newTestOrchestrator(t, provider, cp)

	reply, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal"))
	if err != nil {
		t.Fatalf("HandleTurn() error = %v, a save failure must not cost the reply", err)
	}
	if reply.Reply != "saved nowhere" {
		t.Errorf("reply = %q, want the agent's answer", reply.Reply)
	}
}

func TestSessionLockEvictedWhenIdle(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		textResponse("one"), noHandoff,
		textResponse("two"), noHandoff,
	}}
	o := newTestOrchestrator(t, provider, newTestCheckpointer())

	for _, session := range []string{"s1", "s2"} {
		if _, err := o.HandleTurn(context.Background(), turnRequest(session, "log the food from this meal")); err != nil {
			t.Fatalf("HandleTurn(%s) error = %v", session, err)
		}
	}

	o.mu.Lock()
	n := len(o.locks)
	o.mu.Unlock()
	if n != 0 {
		t.Errorf("len(locks) after idle sessions = %d, want 0", n)
	}
}

func TestSessionLockEvictedAfterConcurrentRejection(t *testing.T) {
	gate := make(chan struct{})
	provider := &gatedProvider{gate: gate, inner: &mockProvider{responses: []ChatResponse{textResponse("done"), noHandoff}}}
	o := newTestOrchestrator(t, provider, newTestCheckpointer(), WithSessionLockWait(30*time.Millisecond))

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal"))
		firstDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if _, err := o.HandleTurn(context.Background(), turnRequest("s1", "log another food meal")); TurnKind(err) != TurnConcurrent {
		t.Errorf("second turn error = %v, want concurrent_turn", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Errorf("first turn error = %v", err)
	}
	o.mu.Lock()
	n := len(o.locks)
	o.mu.Unlock()
	if n != 0 {
		t.Errorf("len(locks) = %d, want the rejected waiter's entry released too", n)
	}
}

func TestDeleteSession(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{textResponse("one"), noHandoff}}
	o := newTestOrchestrator(t, provider, newTestCheckpointer())

	if _, err := o.HandleTurn(context.Background(), turnRequest("s1", "log the food from this meal")); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if err := o.DeleteSession(context.Background(), "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := o.GetSession(context.Background(), "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession() after delete = %v, want ErrNotFound", err)
	}
}
