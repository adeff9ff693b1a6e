package steward

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Checkpointer.Load when no checkpoint exists for
// a session, either because it was never saved or because its TTL expired.
var ErrNotFound = errors.New("checkpoint not found")

// --- LLM errors ---

// LLMErrorKind classifies provider failures. ContextOverflow is the only
// non-retryable kind; it propagates to the agent loop which reacts with an
// emergency prune.
type LLMErrorKind string

const (
	LLMTimeout         LLMErrorKind = "timeout"
	LLMRateLimited     LLMErrorKind = "rate_limited"
	LLMUnavailable     LLMErrorKind = "unavailable"
	LLMSchemaViolation LLMErrorKind = "schema_violation"
	LLMContextOverflow LLMErrorKind = "context_overflow"
)

// ErrLLM is a provider failure with a stable kind.
type ErrLLM struct {
	Provider string
	Kind     LLMErrorKind
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// LLMKind extracts the kind from an error chain, or "" when the error is not
// an ErrLLM.
func LLMKind(err error) LLMErrorKind {
	var le *ErrLLM
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// --- Checkpoint errors ---

// CheckpointErrorKind classifies checkpointer failures. A load miss is not a
// failure; it is ErrNotFound.
type CheckpointErrorKind string

const (
	CheckpointUnavailable CheckpointErrorKind = "unavailable"
	CheckpointCorrupt     CheckpointErrorKind = "corrupt"
)

// ErrCheckpoint wraps a backing-store failure with a stable kind. On Corrupt
// the orchestrator starts the turn from a fresh state; on Unavailable the
// turn fails with a user-visible message.
type ErrCheckpoint struct {
	Kind CheckpointErrorKind
	Err  error
}

func (e *ErrCheckpoint) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Kind, e.Err)
}

func (e *ErrCheckpoint) Unwrap() error { return e.Err }

// --- Tool errors ---

// ToolErrorKind classifies tool invocation failures. Tool errors are never
// raised out of the agent loop; they are delivered to the model as tool
// messages.
type ToolErrorKind string

const (
	ToolInvalidArgument  ToolErrorKind = "invalid_argument"
	ToolInternal         ToolErrorKind = "internal"
	ToolDeadlineExceeded ToolErrorKind = "deadline_exceeded"
	ToolUnavailable      ToolErrorKind = "unavailable"
)

// ToolError is the structured failure carried inside a ToolResult.
type ToolError struct {
	Kind    ToolErrorKind `json:"kind"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Kind, e.Message)
}

// --- Turn errors (surfaced to the transport) ---

// TurnErrorKind classifies failures the orchestrator surfaces to the caller.
// Everything else is absorbed into the turn trace.
type TurnErrorKind string

const (
	TurnValidation  TurnErrorKind = "validation"
	TurnConcurrent  TurnErrorKind = "concurrent_turn"
	TurnOverloaded  TurnErrorKind = "overloaded"
	TurnTimeout     TurnErrorKind = "timeout"
	TurnUnavailable TurnErrorKind = "unavailable"
)

// ErrTurn is a transport-level turn failure with a stable kind.
type ErrTurn struct {
	Kind    TurnErrorKind
	Message string
}

func (e *ErrTurn) Error() string {
	return fmt.Sprintf("turn %s: %s", e.Kind, e.Message)
}

// TurnKind extracts the kind from an error chain, or "" when the error is
// not an ErrTurn.
func TurnKind(err error) TurnErrorKind {
	var te *ErrTurn
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
