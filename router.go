package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// DefaultConfidenceFloor is the LLM routing confidence below which the turn
// goes to the default agent.
const DefaultConfidenceFloor = 0.3

// routeSchema constrains the LLM routing fallback output.
var routeSchema = &ResponseSchema{
	Name: "routing_decision",
	Schema: json.RawMessage(`{"type":"object","properties":{
		"agent":{"type":"string"},
		"confidence":{"type":"number"},
		"reason":{"type":"string"}
	},"required":["agent","confidence"]}`),
}

// Router picks the agent for a turn: explicit handoff target first, then a
// deterministic keyword classifier, then an LLM fallback. Routing never
// fails the turn; every error path degrades to the default agent.
type Router struct {
	agents       *AgentSet
	provider     Provider
	defaultAgent string
	floor        float64
	temperature  float64
	tracer       Tracer
	logger       *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDefaultAgent overrides the default routing target (normally the first
// registered agent).
func WithDefaultAgent(name string) RouterOption {
	return func(r *Router) { r.defaultAgent = name }
}

// WithConfidenceFloor sets the LLM confidence floor (default 0.3).
func WithConfidenceFloor(f float64) RouterOption {
	return func(r *Router) { r.floor = f }
}

// WithRoutingTemperature sets the routing completion temperature (default 0.1).
func WithRoutingTemperature(t float64) RouterOption {
	return func(r *Router) { r.temperature = t }
}

// WithRouterTracer sets the tracer.
func WithRouterTracer(t Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// WithRouterLogger sets the structured logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router over the registered agents. provider should be
// a low-temperature client; it is never shared with agent completions.
func NewRouter(agents *AgentSet, provider Provider, opts ...RouterOption) *Router {
	r := &Router{
		agents:      agents,
		provider:    provider,
		floor:       DefaultConfidenceFloor,
		temperature: 0.1,
		logger:      nopLogger,
	}
	if first, ok := agents.First(); ok {
		r.defaultAgent = first.Name
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Route produces the routing decision for the current state. Returned trace
// events record anomalies and the decision itself.
func (r *Router) Route(ctx context.Context, state *SessionState) (RoutingDecision, []TraceEvent) {
	ctx, span := startSpan(ctx, r.tracer, "router.route")
	defer endSpan(span)

	var trace []TraceEvent

	// Explicit path: a pending handoff wins outright. The graph clears
	// TargetAgent after the target agent has run.
	if state.TargetAgent != "" {
		if r.agents.Has(state.TargetAgent) {
			d := RoutingDecision{Agent: state.TargetAgent, Confidence: 1.0, Reason: state.HandoffReason, Source: RouteExplicit}
			return d, append(trace, routedEvent(d))
		}
		trace = append(trace, TraceEvent{Kind: TraceRouterAnomaly,
			Detail: "explicit target not registered: " + state.TargetAgent, Timestamp: NowUnix()})
	}

	last, ok := state.LastUserMessage()
	if !ok || strings.TrimSpace(last.Content) == "" {
		trace = append(trace, TraceEvent{Kind: TraceRouterAnomaly, Detail: "no user message to route", Timestamp: NowUnix()})
		d := r.defaultDecision(RouteKeyword, "empty or missing user message")
		return d, append(trace, routedEvent(d))
	}
	if tail := state.Messages[len(state.Messages)-1]; tail.Role == RoleTool {
		// An orphan tool message at the tail indicates corruption; route to
		// the default agent and record the anomaly.
		trace = append(trace, TraceEvent{Kind: TraceRouterAnomaly, Detail: "orphan tool message at tail", Timestamp: NowUnix()})
		d := r.defaultDecision(RouteKeyword, "corrupt message tail")
		return d, append(trace, routedEvent(d))
	}

	// Keyword path.
	if d, ok := r.routeByKeywords(last.Content); ok {
		if span != nil {
			span.SetAttr(StringAttr("route.source", "keyword"), StringAttr("route.agent", d.Agent))
		}
		return d, append(trace, routedEvent(d))
	}

	// LLM fallback.
	d, anomalies := r.routeByLLM(ctx, state, last.Content)
	trace = append(trace, anomalies...)
	if span != nil {
		span.SetAttr(StringAttr("route.source", string(d.Source)), StringAttr("route.agent", d.Agent))
	}
	return d, append(trace, routedEvent(d))
}

func routedEvent(d RoutingDecision) TraceEvent {
	return TraceEvent{Kind: TraceRouted,
		Detail:    fmt.Sprintf("%s (%s, %.2f)", d.Agent, d.Source, d.Confidence),
		Timestamp: NowUnix()}
}

func (r *Router) defaultDecision(source RouteSource, reason string) RoutingDecision {
	return RoutingDecision{Agent: r.defaultAgent, Confidence: 0, Reason: reason, Source: source}
}

// routeByKeywords scores each agent by keyword matches in the message. The
// decision is keyword-confident only when the top score is at least 2 and
// at least twice the runner-up; a tie at exactly 2x does not qualify.
func (r *Router) routeByKeywords(message string) (RoutingDecision, bool) {
	normalized := normalizeText(message)
	var top, second int
	var winner string
	for _, spec := range r.agents.All() {
		score := keywordScore(normalized, spec.Keywords)
		if score > top {
			second = top
			top = score
			winner = spec.Name
		} else if score > second {
			second = score
		}
	}
	if top < 2 || top < 2*second || (second > 0 && top == 2*second) {
		return RoutingDecision{}, false
	}
	confidence := float64(top) / 4
	if confidence > 1 {
		confidence = 1
	}
	return RoutingDecision{
		Agent:      winner,
		Confidence: confidence,
		Reason:     fmt.Sprintf("%d keyword matches", top),
		Source:     RouteKeyword,
	}, true
}

// routeByLLM asks the model with a compact prompt over the last few
// messages. Any failure degrades to the default agent; routing must not
// fail the turn.
func (r *Router) routeByLLM(ctx context.Context, state *SessionState, lastUser string) (RoutingDecision, []TraceEvent) {
	var trace []TraceEvent
	var b strings.Builder
	b.WriteString("Route the user's message to exactly one agent. Agents:\n")
	for _, spec := range r.agents.All() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
	}
	b.WriteString("Respond with JSON: agent, confidence (0-1), reason.")

	msgs := []Message{SystemMessage(b.String())}
	msgs = append(msgs, recentConversation(state.Messages, 4)...)

	temp := r.temperature
	resp, err := r.provider.Chat(ctx, ChatRequest{
		Messages:       msgs,
		ResponseSchema: routeSchema,
		Temperature:    &temp,
	})
	if err != nil {
		r.logger.Warn("routing llm call failed, using default agent", "error", err)
		kind := string(LLMKind(err))
		if kind == "" {
			kind = err.Error()
		}
		return RoutingDecision{Agent: r.defaultAgent, Confidence: 0,
			Reason: "llm error: " + kind, Source: RouteLLM}, trace
	}

	var parsed struct {
		Agent      string  `json:"agent"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		trace = append(trace, TraceEvent{Kind: TraceRouterAnomaly, Detail: "unparseable routing response", Timestamp: NowUnix()})
		return RoutingDecision{Agent: r.defaultAgent, Confidence: 0,
			Reason: "llm error: schema_violation", Source: RouteLLM}, trace
	}
	if !r.agents.Has(parsed.Agent) {
		trace = append(trace, TraceEvent{Kind: TraceRouterAnomaly, Detail: "llm routed to unknown agent " + parsed.Agent, Timestamp: NowUnix()})
		return RoutingDecision{Agent: r.defaultAgent, Confidence: 0,
			Reason: "unknown agent from llm", Source: RouteLLM}, trace
	}
	if parsed.Confidence < r.floor {
		return RoutingDecision{Agent: r.defaultAgent, Confidence: parsed.Confidence,
			Reason: "low-confidence default", Source: RouteLLM}, trace
	}
	return RoutingDecision{Agent: parsed.Agent, Confidence: parsed.Confidence,
		Reason: parsed.Reason, Source: RouteLLM}, trace
}

// recentConversation returns the last n user/assistant messages for the
// routing prompt, skipping system and tool messages.
func recentConversation(msgs []Message, n int) []Message {
	var out []Message
	for i := len(msgs) - 1; i >= 0 && len(out) < n; i-- {
		if msgs[i].Role == RoleUser || (msgs[i].Role == RoleAssistant && len(msgs[i].ToolCalls) == 0) {
			out = append(out, msgs[i])
		}
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// --- keyword matching ---

var foldCaser = cases.Fold()

// normalizeText case-folds the message and collapses it to space-separated
// word tokens, so keyword matching is word-boundary aware and Unicode-safe.
func normalizeText(s string) string {
	folded := foldCaser.String(s)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return strings.Join(fields, " ")
}

// keywordScore counts keyword occurrences in the normalized message. Single
// tokens match whole words; multiword phrases match word-boundary substrings.
func keywordScore(normalized string, keywords []string) int {
	padded := " " + normalized + " "
	score := 0
	for _, kw := range keywords {
		needle := " " + normalizeText(kw) + " "
		if needle == "  " {
			continue
		}
		score += strings.Count(padded, needle)
	}
	return score
}
