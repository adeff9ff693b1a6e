package steward

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message roles. Every message in a session carries exactly one of these.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is the append-only unit of a conversation. Assistant messages may
// carry tool calls; tool messages answer exactly one tool call by ID.
type Message struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Agent      string          `json:"agent,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// --- LLM protocol types ---

// ChatRequest is the input to Provider.Chat.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	// Tools, when non-empty, allows the model to return ToolCalls.
	Tools []ToolDefinition `json:"tools,omitempty"`
	// ResponseSchema, when set, constrains the response content to a JSON
	// document matching the schema. Providers retry a bounded number of
	// times on parse failure before surfacing ErrLLM{KindSchemaViolation}.
	ResponseSchema *ResponseSchema `json:"response_schema,omitempty"`
	// Temperature overrides the provider default when non-nil. Routing uses
	// a low temperature, agents a higher one.
	Temperature *float64 `json:"temperature,omitempty"`
}

// ChatResponse is the output of Provider.Chat.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption for a single LLM round-trip.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition is the wire form of a tool exposed to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ResponseSchema names a JSON schema the model output must validate against.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// --- Routing and handoff decisions ---

// RouteSource records which router path produced a decision.
type RouteSource string

const (
	RouteKeyword  RouteSource = "keyword"
	RouteLLM      RouteSource = "llm"
	RouteExplicit RouteSource = "explicit"
)

// RoutingDecision selects the agent that handles the current turn.
type RoutingDecision struct {
	Agent      string      `json:"agent"`
	Confidence float64     `json:"confidence"`
	Reason     string      `json:"reason"`
	Source     RouteSource `json:"source"`
}

// HandoffDecision is produced by the agent loop after a reply is generated.
// When ShouldHandoff is true the graph re-enters the router with TargetAgent.
type HandoffDecision struct {
	ShouldHandoff bool   `json:"should_handoff"`
	TargetAgent   string `json:"target_agent,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: NowUnix()}
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: NowUnix()}
}

func AssistantMessage(agent, text string) Message {
	return Message{Role: RoleAssistant, Agent: agent, Content: text, Timestamp: NowUnix()}
}

func ToolResultMessage(agent, callID, content string) Message {
	return Message{Role: RoleTool, Agent: agent, ToolCallID: callID, Content: content, Timestamp: NowUnix()}
}

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns the current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
