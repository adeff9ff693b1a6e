package steward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// nopLogger discards all output. Used as the fallback when no logger is
// configured so call sites never nil-check.
var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// SideEffect declares whether a tool only reads or also writes the store.
type SideEffect string

const (
	SideEffectRead  SideEffect = "read"
	SideEffectWrite SideEffect = "write"
)

// ToolDescriptor is the typed registration record for one tool. Tools are
// visible only to the agents named in Agents; cross-agent exposure is data,
// not code.
type ToolDescriptor struct {
	Name        string
	Description string
	// Parameters is a JSON Schema for the tool arguments, compiled at
	// registration time and validated before every invocation.
	Parameters  json.RawMessage
	SideEffects SideEffect
	// Idempotent marks handlers safe to retry. Non-idempotent tools are
	// never retried by the agent loop.
	Idempotent bool
	// Agents lists the owning agent names.
	Agents []string
}

// Definition converts the descriptor to its wire form for the model.
func (d ToolDescriptor) Definition() ToolDefinition {
	return ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

// ToolContext carries the identifiers a handler needs. The execution
// deadline and cancellation arrive through the context.Context argument.
type ToolContext struct {
	UserID    string
	SessionID string
	Workspace string
}

// ToolResult is the outcome of a tool invocation. A nil Err means success.
// Failed results are delivered to the model as tool messages, never raised.
type ToolResult struct {
	Content string     `json:"content"`
	Err     *ToolError `json:"error,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r ToolResult) OK() bool { return r.Err == nil }

// Text renders the result as the content of a tool message.
func (r ToolResult) Text() string {
	if r.Err != nil {
		return fmt.Sprintf("error (%s): %s", r.Err.Kind, r.Err.Message)
	}
	return r.Content
}

func toolFailure(kind ToolErrorKind, msg string) ToolResult {
	return ToolResult{Err: &ToolError{Kind: kind, Message: msg}}
}

// ToolHandler executes one tool call. Handlers must honor ctx cancellation;
// the registry enforces the per-tool deadline around them.
type ToolHandler func(ctx context.Context, tc ToolContext, args json.RawMessage) ToolResult

// ToolRegistry holds typed descriptors and handlers, namespaced per agent.
// Register at startup only; invocation is concurrency-safe without locking
// because the maps are never written after startup.
type ToolRegistry struct {
	entries  map[string]*toolEntry
	byAgent  map[string][]ToolDescriptor
	deadline time.Duration
	logger   *slog.Logger
}

type toolEntry struct {
	desc    ToolDescriptor
	handler ToolHandler
	schema  *jsonschema.Schema
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithToolDeadline sets the per-invocation deadline (default 15s).
func WithToolDeadline(d time.Duration) RegistryOption {
	return func(r *ToolRegistry) { r.deadline = d }
}

// WithRegistryLogger sets the structured logger for the registry.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *ToolRegistry) { r.logger = l }
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		entries:  make(map[string]*toolEntry),
		byAgent:  make(map[string][]ToolDescriptor),
		deadline: 15 * time.Second,
		logger:   nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a tool at startup. The parameter schema is compiled once
// here; a malformed schema is a programming error surfaced immediately.
func (r *ToolRegistry) Register(desc ToolDescriptor, handler ToolHandler) error {
	if desc.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if _, dup := r.entries[desc.Name]; dup {
		return fmt.Errorf("register tool %q: already registered", desc.Name)
	}
	if handler == nil {
		return fmt.Errorf("register tool %q: nil handler", desc.Name)
	}
	entry := &toolEntry{desc: desc, handler: handler}
	if len(desc.Parameters) > 0 {
		compiler := jsonschema.NewCompiler()
		url := "steward://tools/" + desc.Name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(desc.Parameters)); err != nil {
			return fmt.Errorf("register tool %q: add schema: %w", desc.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("register tool %q: compile schema: %w", desc.Name, err)
		}
		entry.schema = schema
	}
	r.entries[desc.Name] = entry
	for _, agent := range desc.Agents {
		r.byAgent[agent] = append(r.byAgent[agent], desc)
	}
	return nil
}

// ToolsFor returns the descriptors visible to one agent, in registration
// order.
func (r *ToolRegistry) ToolsFor(agent string) []ToolDescriptor {
	return r.byAgent[agent]
}

// DefinitionsFor returns the wire-form tool definitions for one agent.
func (r *ToolRegistry) DefinitionsFor(agent string) []ToolDefinition {
	descs := r.byAgent[agent]
	defs := make([]ToolDefinition, 0, len(descs))
	for _, d := range descs {
		defs = append(defs, d.Definition())
	}
	return defs
}

// Descriptor returns the descriptor for a tool name, or false.
func (r *ToolRegistry) Descriptor(name string) (ToolDescriptor, bool) {
	e, ok := r.entries[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return e.desc, true
}

// Invoke validates arguments against the registered schema and runs the
// handler under the per-tool deadline. All failure modes come back as a
// ToolResult; Invoke never panics and never returns a Go error.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args json.RawMessage, tc ToolContext) (result ToolResult) {
	entry, ok := r.entries[name]
	if !ok {
		return toolFailure(ToolInvalidArgument, "unknown tool: "+name)
	}

	if entry.schema != nil {
		var doc any
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(args, &doc); err != nil {
			return toolFailure(ToolInvalidArgument, "arguments are not valid JSON: "+err.Error())
		}
		if err := entry.schema.Validate(doc); err != nil {
			return toolFailure(ToolInvalidArgument, err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	// Handler panics become internal tool errors instead of crashing the
	// turn.
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panic", "tool", name, "panic", p)
			result = toolFailure(ToolInternal, fmt.Sprintf("tool %q panic: %v", name, p))
		}
	}()

	result = entry.handler(ctx, tc, args)
	if ctx.Err() != nil && result.OK() {
		return toolFailure(ToolDeadlineExceeded, ctx.Err().Error())
	}
	return result
}
