package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// DefaultMaxToolRounds caps the reason/act loop per agent run.
const DefaultMaxToolRounds = 6

// handoffToolName is the built-in tool every agent can call to request an
// explicit cross-domain handoff. The loop intercepts it; it never reaches
// the registry.
const handoffToolName = "request_handoff"

var handoffToolDef = ToolDefinition{
	Name:        handoffToolName,
	Description: "Hand the conversation to another agent when the user's request belongs to a different domain. Call this instead of answering outside your domain.",
	Parameters: json.RawMessage(`{"type":"object","properties":{
		"target":{"type":"string","description":"Name of the agent to hand off to"},
		"reason":{"type":"string","description":"Why the handoff is needed"}
	},"required":["target"]}`),
}

// stepLimitReply is the non-fatal assistant reply emitted when the loop
// budget runs out before the model produces a final answer.
const stepLimitReply = "I ran out of steps while working on this and couldn't finish. Here is what I have so far; please try again or narrow the request."

// overflowReply is the user-visible failure after a second context overflow.
const overflowReply = "This conversation grew too large for me to process. Please start a new session or shorten your request."

// handoffCheckSchema constrains the LLM handoff intent check.
var handoffCheckSchema = &ResponseSchema{
	Name: "handoff_decision",
	Schema: json.RawMessage(`{"type":"object","properties":{
		"should_handoff":{"type":"boolean"},
		"target_agent":{"type":"string"},
		"reason":{"type":"string"}
	},"required":["should_handoff"]}`),
}

// agentLoop runs one agent's reason/act loop for a single turn. Tool calls
// execute strictly in order; there is no intra-turn parallelism.
type agentLoop struct {
	agents    *AgentSet
	registry  *ToolRegistry
	provider  Provider
	maxRounds int
	// agentTemperature applies to agent completions unless the spec
	// overrides it. The routing temperature lives on the Router.
	agentTemperature float64
	tracer           Tracer
	logger           *slog.Logger
}

// run executes the selected agent and returns the delta to apply plus the
// final assistant reply. Tool failures and recoverable LLM failures are
// absorbed into the trace; only unrecoverable provider errors propagate.
func (l *agentLoop) run(ctx context.Context, state *SessionState, spec AgentSpec) (Delta, error) {
	ctx, span := startSpan(ctx, l.tracer, "agent.run", StringAttr("agent", spec.Name))
	defer endSpan(span)

	var delta Delta
	working := l.composeInput(state, spec)
	tools := append(l.registry.DefinitionsFor(spec.Name), handoffToolDef)
	tctx := ToolContext{UserID: state.UserID, SessionID: state.SessionID, Workspace: state.Workspace}
	temp := l.agentTemperature
	if spec.Temperature != nil {
		temp = *spec.Temperature
	}

	var pendingHandoff *HandoffDecision
	var reply string
	overflowed := false
	aborted := false
	finished := false

	for round := 0; round < l.maxRounds; round++ {
		req := ChatRequest{Messages: working, Tools: tools, Temperature: &temp}
		resp, err := l.provider.Chat(ctx, req)
		if err != nil {
			if LLMKind(err) != LLMContextOverflow {
				spanError(span, err)
				return delta, err
			}
			// Emergency prune: drop half the oldest non-anchor messages
			// and retry once. A second overflow aborts the turn with a
			// user-visible message; the state is still persisted.
			if overflowed {
				delta.Trace = append(delta.Trace, TraceEvent{Kind: TraceLLMError, Detail: "context overflow after emergency prune", Timestamp: NowUnix()})
				aborted = true
				break
			}
			overflowed = true
			working = emergencyPrune(working)
			delta.Trace = append(delta.Trace, TraceEvent{Kind: TraceEmergencyPrune, Detail: "dropped half of oldest messages after context overflow", Timestamp: NowUnix()})
			round--
			continue
		}

		if len(resp.ToolCalls) == 0 {
			reply = resp.Content
			assistant := AssistantMessage(spec.Name, resp.Content)
			working = append(working, assistant)
			delta.AppendMessages = append(delta.AppendMessages, assistant)
			finished = true
			break
		}

		assistant := AssistantMessage(spec.Name, resp.Content)
		assistant.ToolCalls = resp.ToolCalls
		working = append(working, assistant)
		delta.AppendMessages = append(delta.AppendMessages, assistant)

		for _, call := range resp.ToolCalls {
			var result ToolResult
			if call.Name == handoffToolName {
				result, pendingHandoff = l.handleHandoffCall(spec, call, &delta)
			} else {
				result = l.invokeTool(ctx, spec, call, tctx, &delta)
			}
			toolMsg := ToolResultMessage(spec.Name, call.ID, result.Text())
			working = append(working, toolMsg)
			delta.AppendMessages = append(delta.AppendMessages, toolMsg)
		}
	}

	if !finished {
		if aborted {
			reply = overflowReply
		} else {
			l.logger.Warn("tool round budget exhausted", "agent", spec.Name, "rounds", l.maxRounds)
			reply = stepLimitReply
			delta.Trace = append(delta.Trace, TraceEvent{Kind: TraceStepLimitExceeded, Detail: spec.Name, Timestamp: NowUnix()})
		}
		assistant := AssistantMessage(spec.Name, reply)
		delta.AppendMessages = append(delta.AppendMessages, assistant)
	}

	// Handoff detection. The explicit request_handoff signal always wins;
	// the LLM intent check runs only when no explicit signal was given.
	decision := HandoffDecision{}
	if pendingHandoff != nil {
		decision = *pendingHandoff
	} else if finished && reply != "" {
		decision = l.detectHandoff(ctx, state, spec, reply, &delta)
	}
	if decision.ShouldHandoff {
		target := decision.TargetAgent
		reason := decision.Reason
		delta.TargetAgent = &target
		delta.HandoffReason = &reason
		delta.Trace = append(delta.Trace, TraceEvent{Kind: TraceHandoff, Detail: spec.Name + " -> " + target, Timestamp: NowUnix()})
	} else {
		empty := ""
		delta.TargetAgent = &empty
	}

	// Bounded context-block replacement for this agent. Deterministic
	// summary; no extra LLM call.
	if lastUser, ok := state.LastUserMessage(); ok {
		delta.ContextAgent = spec.Name
		delta.ContextBlock = fmt.Sprintf("turn %d\nlast_user: %s\nlast_reply: %s",
			state.TurnCount, clip(lastUser.Content, 400), clip(reply, 800))
	}

	return delta, nil
}

// composeInput builds the working message list: one synthetic context system
// message followed by the pruned tail of the session messages. The synthetic
// message makes injected context a first-class, auditable message.
func (l *agentLoop) composeInput(state *SessionState, spec AgentSpec) []Message {
	var b strings.Builder
	b.WriteString(spec.Prompt)
	fmt.Fprintf(&b, "\n\nUser: %s. Session: %s. Workspace: %s. Turn: %d.",
		state.UserID, state.SessionID, state.Workspace, state.TurnCount)
	if state.PreviousAgent != "" {
		fmt.Fprintf(&b, " Previous agent: %s.", state.PreviousAgent)
	}
	if summary := otherContexts(state, spec.Name); summary != "" {
		b.WriteString("\n\nShared context from other agents:\n")
		b.WriteString(summary)
	}
	if own := state.AgentContexts[spec.Name]; own != "" {
		b.WriteString("\n\nYour context from earlier turns:\n")
		b.WriteString(own)
	}

	input := []Message{SystemMessage(b.String())}
	msgs := state.Messages
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		msgs = msgs[1:]
	}
	return append(input, msgs...)
}

// otherContexts renders a compact summary of every other agent's context.
func otherContexts(state *SessionState, self string) string {
	var b strings.Builder
	for _, name := range sortedKeys(state.AgentContexts) {
		if name == self || state.AgentContexts[name] == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", name, clip(state.AgentContexts[name], 200))
	}
	return b.String()
}

// handleHandoffCall validates an explicit request_handoff call. An unknown
// or self target is a routing error: the handoff is dropped, an anomaly is
// traced, and the model sees the failure as a tool result.
func (l *agentLoop) handleHandoffCall(spec AgentSpec, call ToolCall, delta *Delta) (ToolResult, *HandoffDecision) {
	var p struct {
		Target string `json:"target"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(call.Args, &p); err != nil {
		return toolFailure(ToolInvalidArgument, "invalid handoff args: "+err.Error()), nil
	}
	if !l.agents.Has(p.Target) || p.Target == spec.Name {
		delta.Trace = append(delta.Trace, TraceEvent{Kind: TraceRouterAnomaly, Detail: "handoff to unknown agent " + p.Target, Timestamp: NowUnix()})
		return toolFailure(ToolInvalidArgument, "unknown handoff target: "+p.Target), nil
	}
	return ToolResult{Content: "handoff requested to " + p.Target},
		&HandoffDecision{ShouldHandoff: true, TargetAgent: p.Target, Reason: p.Reason}
}

// invokeTool runs one registry tool and traces failures. Failed results are
// delivered to the model, not raised.
func (l *agentLoop) invokeTool(ctx context.Context, spec AgentSpec, call ToolCall, tctx ToolContext, delta *Delta) ToolResult {
	ctx, span := startSpan(ctx, l.tracer, "tool.invoke",
		StringAttr("tool", call.Name), StringAttr("agent", spec.Name))
	defer endSpan(span)

	result := l.registry.Invoke(ctx, call.Name, call.Args, tctx)
	if !result.OK() {
		spanError(span, result.Err)
		l.logger.Warn("tool call failed", "agent", spec.Name, "tool", call.Name,
			"kind", result.Err.Kind, "error", result.Err.Message)
		delta.Trace = append(delta.Trace, TraceEvent{Kind: TraceToolError,
			Detail: fmt.Sprintf("%s: %s: %s", call.Name, result.Err.Kind, result.Err.Message), Timestamp: NowUnix()})
	}
	return result
}

// detectHandoff asks the model whether the reply implies a cross-domain
// handoff. Any failure means no handoff; this check is best-effort.
func (l *agentLoop) detectHandoff(ctx context.Context, state *SessionState, spec AgentSpec, reply string, delta *Delta) HandoffDecision {
	lastUser, _ := state.LastUserMessage()
	var b strings.Builder
	b.WriteString("Decide whether the conversation should hand off to a different agent.\n")
	fmt.Fprintf(&b, "Current agent: %s\nAvailable agents:\n", spec.Name)
	for _, s := range l.agents.All() {
		if s.Name != spec.Name {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		}
	}
	b.WriteString("Hand off only when the user's request clearly belongs to another agent's domain and the current agent did not fully resolve it.")

	req := ChatRequest{
		Messages: []Message{
			SystemMessage(b.String()),
			UserMessage(fmt.Sprintf("User: %s\nAgent reply: %s", clip(lastUser.Content, 500), clip(reply, 500))),
		},
		ResponseSchema: handoffCheckSchema,
	}
	resp, err := l.provider.Chat(ctx, req)
	if err != nil {
		return HandoffDecision{}
	}
	var decision HandoffDecision
	if err := json.Unmarshal([]byte(resp.Content), &decision); err != nil {
		return HandoffDecision{}
	}
	if decision.ShouldHandoff && (!l.agents.Has(decision.TargetAgent) || decision.TargetAgent == spec.Name) {
		delta.Trace = append(delta.Trace, TraceEvent{Kind: TraceRouterAnomaly,
			Detail: "llm handoff to unknown agent " + decision.TargetAgent, Timestamp: NowUnix()})
		return HandoffDecision{}
	}
	return decision
}

// emergencyPrune drops half the oldest non-anchor messages from the working
// list, keeping tool-call groups intact at the new boundary.
func emergencyPrune(working []Message) []Message {
	if len(working) <= 2 {
		return working
	}
	body := working[1:]
	start := len(body) / 2
	for start > 0 && body[start].Role == RoleTool {
		start--
	}
	out := make([]Message, 0, 1+len(body)-start)
	out = append(out, working[0])
	out = append(out, body[start:]...)
	return out
}

// clip truncates a string to n runes for prompts and traces.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// sortedKeys returns map keys in lexical order for deterministic prompts.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
