// Package steward is a multi-agent conversational orchestrator. A long-lived
// process receives free-form user messages, routes each one to exactly one
// domain agent (food, task, event, and optionally reminder/memory), runs the
// agent's tool-calling loop against a persistent store, checkpoints the
// conversation state, and returns the agent's reply.
//
// The root package holds the framework primitives: session state and pruning
// (state.go), the hybrid keyword/LLM router (router.go), the reason/act agent
// loop (loop.go), the graph runtime tying them together (graph.go), the
// per-turn orchestrator facade (orchestrator.go), the tool registry (tool.go),
// and the background job scheduler (scheduler.go). Backends live in
// subpackages: checkpoint/redis, checkpoint/memory, provider/openaicompat,
// store/sqlite, vector/postgres, and the domain tools under tools/.
package steward
