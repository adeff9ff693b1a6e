package steward

import (
	"context"
	"log/slog"
)

// DefaultMaxHandoffs caps agent-to-agent handoffs within one turn.
const DefaultMaxHandoffs = 3

// handoffLoopReply is the user-visible reply when agents keep handing the
// turn to each other past the budget.
const handoffLoopReply = "I wasn't able to resolve your request across agents. Please rephrase or ask one thing at a time."

// Graph is the per-turn runtime: prune, route, run the selected agent, and
// re-enter the router while a handoff is pending, up to the handoff budget.
// All state mutation goes through Delta application here; nodes never write
// the state directly.
type Graph struct {
	router      *Router
	loop        *agentLoop
	maxMessages int
	maxHandoffs int
	tracer      Tracer
	logger      *slog.Logger
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithMaxMessages sets the retention window applied at the start of each
// turn (default 20).
func WithMaxMessages(n int) GraphOption {
	return func(g *Graph) { g.maxMessages = n }
}

// WithMaxHandoffs sets the per-turn handoff budget (default 3).
func WithMaxHandoffs(n int) GraphOption {
	return func(g *Graph) { g.maxHandoffs = n }
}

// WithMaxToolRounds sets the per-agent-run tool round budget (default 6).
func WithMaxToolRounds(n int) GraphOption {
	return func(g *Graph) { g.loop.maxRounds = n }
}

// WithAgentTemperature sets the default agent completion temperature.
func WithAgentTemperature(t float64) GraphOption {
	return func(g *Graph) { g.loop.agentTemperature = t }
}

// WithGraphTracer sets the tracer on the graph and the agent loop.
func WithGraphTracer(t Tracer) GraphOption {
	return func(g *Graph) { g.tracer = t; g.loop.tracer = t }
}

// WithGraphLogger sets the structured logger.
func WithGraphLogger(l *slog.Logger) GraphOption {
	return func(g *Graph) { g.logger = l; g.loop.logger = l }
}

// NewGraph wires the router, agent set, tool registry, and provider into the
// turn runtime.
func NewGraph(agents *AgentSet, router *Router, registry *ToolRegistry, provider Provider, opts ...GraphOption) *Graph {
	g := &Graph{
		router:      router,
		maxMessages: DefaultMaxMessages,
		maxHandoffs: DefaultMaxHandoffs,
		logger:      nopLogger,
		loop: &agentLoop{
			agents:           agents,
			registry:         registry,
			provider:         provider,
			maxRounds:        DefaultMaxToolRounds,
			agentTemperature: 0.7,
			logger:           nopLogger,
		},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// RunTurn executes one full turn against the state: prune, then route and
// run agents until no handoff is pending or the handoff budget is exhausted.
// The returned reply is the last assistant content produced. The state is
// mutated in place and must be persisted by the caller even when err is
// non-nil.
func (g *Graph) RunTurn(ctx context.Context, state *SessionState) (string, error) {
	ctx, span := startSpan(ctx, g.tracer, "graph.turn",
		StringAttr("session", state.SessionID), IntAttr("turn", state.TurnCount))
	defer endSpan(span)

	state.Prune(g.maxMessages)

	handoffs := 0
	for {
		decision, trace := g.router.Route(ctx, state)
		g.applyRouting(state, decision, trace)

		spec, ok := g.loop.agents.Get(decision.Agent)
		if !ok {
			// Unreachable when the router is wired to the same agent set;
			// degrade to the default agent rather than failing the turn.
			spec, _ = g.loop.agents.First()
			g.logger.Error("routed to unregistered agent", "agent", decision.Agent)
		}

		delta, err := g.loop.run(ctx, state, spec)
		state.Apply(delta)
		if err != nil {
			// A pending handoff must not outlive the turn: the persisted
			// target would hijack the next turn's routing as an explicit
			// route.
			if state.TargetAgent != "" {
				empty := ""
				state.Apply(Delta{TargetAgent: &empty})
			}
			spanError(span, err)
			return "", err
		}

		if state.TargetAgent == "" {
			break
		}
		handoffs++
		if handoffs > g.maxHandoffs {
			g.logger.Warn("handoff budget exhausted", "session", state.SessionID, "handoffs", handoffs)
			empty := ""
			state.Apply(Delta{
				AppendMessages: []Message{AssistantMessage(state.CurrentAgent, handoffLoopReply)},
				TargetAgent:    &empty,
				Trace: []TraceEvent{{Kind: TraceHandoffLoopExceeded,
					Detail: "exceeded handoff budget", Timestamp: NowUnix()}},
			})
			break
		}
	}

	if last, ok := state.LastAssistantMessage(); ok {
		return last.Content, nil
	}
	return "", nil
}

// applyRouting moves the routing decision onto the state. The agent swap
// happens here, in one place: the outgoing current agent becomes the
// previous agent whenever the decision changes agents.
func (g *Graph) applyRouting(state *SessionState, decision RoutingDecision, trace []TraceEvent) {
	d := Delta{Trace: trace}
	if state.CurrentAgent != "" && state.CurrentAgent != decision.Agent {
		prev := state.CurrentAgent
		d.PreviousAgent = &prev
	}
	agent := decision.Agent
	d.CurrentAgent = &agent
	state.Apply(d)
}
