package steward

import "strings"

// Retention and bounding defaults. All are overridable through Config.
const (
	// DefaultMaxMessages is the message retention window per session.
	DefaultMaxMessages = 20
	// maxAgentContextBytes bounds a single agent's context block. Writes
	// replace the previous block; overflow truncates.
	maxAgentContextBytes = 2048
	// maxTraceEvents bounds the per-turn trace attached to the state.
	maxTraceEvents = 64
)

// SessionState is the full conversation state for one session. Nodes never
// mutate it directly; they return a Delta which the graph runtime applies in
// a single place, and the orchestrator persists the result once per turn.
type SessionState struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Workspace string `json:"workspace"`

	Messages []Message `json:"messages"`

	CurrentAgent  string `json:"current_agent,omitempty"`
	PreviousAgent string `json:"previous_agent,omitempty"`
	// TargetAgent is non-empty exactly when a handoff is pending and the
	// graph is about to re-enter the router within the same turn.
	TargetAgent   string `json:"target_agent,omitempty"`
	HandoffReason string `json:"handoff_reason,omitempty"`

	// AgentContexts maps agent name to its bounded context block. Only the
	// owning agent writes its own entry; everyone may read all entries.
	AgentContexts map[string]string `json:"agent_contexts,omitempty"`

	// TurnCount advances by exactly one per client request, regardless of
	// internal handoff loops.
	TurnCount int `json:"turn_count"`

	// Trace records absorbed errors and decisions for observability,
	// bounded to maxTraceEvents (oldest dropped first).
	Trace []TraceEvent `json:"trace,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// TraceEvent is one absorbed error or decision recorded during a turn.
type TraceEvent struct {
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
	Timestamp int64  `json:"timestamp"`
}

// Trace event kinds recorded by the router, agent loop, and graph runtime.
const (
	TraceRouted              = "routed"
	TraceRouterAnomaly       = "router_anomaly"
	TraceHandoff             = "handoff"
	TraceStepLimitExceeded   = "step_limit_exceeded"
	TraceHandoffLoopExceeded = "handoff_loop_exceeded"
	TraceToolError           = "tool_error"
	TraceLLMError            = "llm_error"
	TraceEmergencyPrune      = "emergency_prune"
	TracePersistError        = "persist_error"
	TraceCorruptCheckpoint   = "corrupt_checkpoint"
	TraceTurnTimeout         = "turn_timeout"
)

// NewSessionState initializes a fresh session with an anchoring context
// message at index 0. The anchor survives every pruning pass.
func NewSessionState(sessionID, userID, workspace string, agentNames []string) *SessionState {
	now := NowUnix()
	anchor := SystemMessage(
		"You are part of a personal assistant. Registered agents: " +
			strings.Join(agentNames, ", ") + ". Workspace: " + workspace + ".")
	return &SessionState{
		SessionID:     sessionID,
		UserID:        userID,
		Workspace:     workspace,
		Messages:      []Message{anchor},
		AgentContexts: make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Delta is the only way nodes mutate session state. The graph runtime applies
// deltas in a single write, which keeps pruning a top-level operation and
// avoids hidden aliasing between nodes.
type Delta struct {
	AppendMessages []Message

	CurrentAgent  *string
	PreviousAgent *string
	// TargetAgent set to the empty string clears a pending handoff.
	TargetAgent   *string
	HandoffReason *string

	// ContextAgent/ContextBlock replace (never append to) the named agent's
	// context. The block is truncated to maxAgentContextBytes on apply.
	ContextAgent string
	ContextBlock string

	Trace []TraceEvent
}

// Apply merges a delta into the state. Message appends are the only growth;
// everything else is field replacement.
func (s *SessionState) Apply(d Delta) {
	s.Messages = append(s.Messages, d.AppendMessages...)
	if d.CurrentAgent != nil {
		s.CurrentAgent = *d.CurrentAgent
	}
	if d.PreviousAgent != nil {
		s.PreviousAgent = *d.PreviousAgent
	}
	if d.TargetAgent != nil {
		s.TargetAgent = *d.TargetAgent
	}
	if d.HandoffReason != nil {
		s.HandoffReason = *d.HandoffReason
	}
	if d.ContextAgent != "" {
		if s.AgentContexts == nil {
			s.AgentContexts = make(map[string]string)
		}
		s.AgentContexts[d.ContextAgent] = truncateBytes(d.ContextBlock, maxAgentContextBytes)
	}
	for _, ev := range d.Trace {
		s.Trace = append(s.Trace, ev)
	}
	if len(s.Trace) > maxTraceEvents {
		s.Trace = s.Trace[len(s.Trace)-maxTraceEvents:]
	}
	s.UpdatedAt = NowUnix()
}

// LastUserMessage returns the most recent user message, or a zero Message
// and false when none exists.
func (s *SessionState) LastUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// LastAssistantMessage returns the most recent assistant message, or false.
func (s *SessionState) LastAssistantMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Prune trims s.Messages to at most max entries: the anchor at index 0 is
// always retained, the newest messages fill the rest of the window, and the
// window extends backward when its boundary would split an assistant message
// carrying tool calls from the tool messages that answer it. Applying Prune
// twice in a row is a no-op.
func (s *SessionState) Prune(max int) {
	s.Messages = pruneMessages(s.Messages, max)
}

func pruneMessages(m []Message, max int) []Message {
	if max <= 0 || len(m) <= max {
		return m
	}
	anchored := m[0].Role == RoleSystem
	keep := max
	if anchored {
		keep = max - 1
	}
	start := len(m) - keep
	if start < 1 {
		start = 1
	}
	// Never orphan a tool message: walk back to the assistant that issued
	// the tool calls, even if that leaves fewer messages dropped.
	for start > 1 && m[start].Role == RoleTool {
		start--
	}
	if !anchored {
		// No anchor to preserve; the window simply starts at the adjusted
		// boundary.
		return append([]Message{}, m[start:]...)
	}
	out := make([]Message, 0, 1+len(m)-start)
	out = append(out, m[0])
	out = append(out, m[start:]...)
	return out
}

// truncateBytes cuts s to at most n bytes without splitting a UTF-8 rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
