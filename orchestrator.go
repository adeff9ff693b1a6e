package steward

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Admission and budget defaults.
const (
	DefaultMaxConcurrentTurns = 32
	DefaultTurnBudget         = 60 * time.Second
	DefaultSessionLockWait    = 2 * time.Second
	maxUserMessageBytes       = 16 * 1024
)

// TurnRequest is one user turn.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Workspace string `json:"workspace,omitempty"`
	Message   string `json:"message"`
}

// TurnReply is the orchestrator's answer to one turn.
type TurnReply struct {
	Reply     string `json:"reply"`
	Agent     string `json:"agent"`
	SessionID string `json:"session_id"`
	TurnCount int    `json:"turn_count"`
	Timestamp int64  `json:"timestamp"`
}

// Orchestrator is the single entrypoint for conversational turns. It owns
// admission control, per-session serialization, checkpoint load/save, and
// the turn budget; everything inside the turn belongs to the Graph.
type Orchestrator struct {
	graph        *Graph
	checkpointer Checkpointer
	agents       *AgentSet

	sem        *semaphore.Weighted
	turnBudget time.Duration
	lockWait   time.Duration
	sessionTTL time.Duration

	mu    sync.Mutex
	locks map[string]*sessionLock

	tracer Tracer
	logger *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxConcurrentTurns bounds in-flight turns across all sessions.
func WithMaxConcurrentTurns(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.sem = semaphore.NewWeighted(int64(n)) }
}

// WithTurnBudget caps the wall-clock time of one turn (default 60s).
func WithTurnBudget(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.turnBudget = d }
}

// WithSessionLockWait sets how long a turn waits for the session lock before
// failing as concurrent (default 2s).
func WithSessionLockWait(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.lockWait = d }
}

// WithSessionTTL sets the checkpoint idle expiry (default 24h).
func WithSessionTTL(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionTTL = d }
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator assembles the facade.
func NewOrchestrator(graph *Graph, cp Checkpointer, agents *AgentSet, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		graph:        graph,
		checkpointer: cp,
		agents:       agents,
		sem:          semaphore.NewWeighted(DefaultMaxConcurrentTurns),
		turnBudget:   DefaultTurnBudget,
		lockWait:     DefaultSessionLockWait,
		sessionTTL:   DefaultSessionTTL,
		locks:        make(map[string]*sessionLock),
		logger:       nopLogger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleTurn runs one user turn end to end: validate, admit, serialize per
// session, load the checkpoint, run the graph under the turn budget, and
// persist. A save failure is logged and traced but never costs the user
// their reply.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnReply, error) {
	if err := validateTurn(req); err != nil {
		return TurnReply{}, err
	}

	ctx, span := startSpan(ctx, o.tracer, "orchestrator.turn",
		StringAttr("session", req.SessionID), StringAttr("user", req.UserID))
	defer endSpan(span)

	if !o.sem.TryAcquire(1) {
		return TurnReply{}, &ErrTurn{Kind: TurnOverloaded, Message: "too many concurrent turns"}
	}
	defer o.sem.Release(1)

	release, err := o.lockSession(ctx, req.SessionID)
	if err != nil {
		return TurnReply{}, err
	}
	defer release()

	state, err := o.loadOrCreate(ctx, req)
	if err != nil {
		return TurnReply{}, err
	}

	state.TurnCount++
	state.Apply(Delta{AppendMessages: []Message{UserMessage(req.Message)}})

	turnCtx, cancel := context.WithTimeout(ctx, o.turnBudget)
	defer cancel()

	reply, runErr := o.graph.RunTurn(turnCtx, state)
	if runErr != nil {
		runErr = o.classifyRunError(turnCtx, state, runErr)
	}

	// Persist regardless of the run outcome: partial progress (tool writes,
	// trace events) must survive.
	if saveErr := o.checkpointer.Save(ctx, state, o.sessionTTL); saveErr != nil {
		o.logger.Error("checkpoint save failed", "session", req.SessionID, "error", saveErr)
		state.Apply(Delta{Trace: []TraceEvent{{Kind: TracePersistError,
			Detail: saveErr.Error(), Timestamp: NowUnix()}}})
	}

	if runErr != nil {
		spanError(span, runErr)
		return TurnReply{}, runErr
	}
	return TurnReply{
		Reply:     reply,
		Agent:     state.CurrentAgent,
		SessionID: state.SessionID,
		TurnCount: state.TurnCount,
		Timestamp: NowUnix(),
	}, nil
}

// GetSession returns the persisted state for inspection.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*SessionState, error) {
	return o.checkpointer.Load(ctx, sessionID)
}

// DeleteSession removes the session checkpoint.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	return o.checkpointer.Delete(ctx, sessionID)
}

// Health reports whether the orchestrator can serve turns.
func (o *Orchestrator) Health(ctx context.Context) error {
	return o.checkpointer.Health(ctx)
}

func validateTurn(req TurnRequest) error {
	switch {
	case strings.TrimSpace(req.SessionID) == "":
		return &ErrTurn{Kind: TurnValidation, Message: "session_id is required"}
	case strings.TrimSpace(req.UserID) == "":
		return &ErrTurn{Kind: TurnValidation, Message: "user_id is required"}
	case strings.TrimSpace(req.Message) == "":
		return &ErrTurn{Kind: TurnValidation, Message: "message is empty"}
	case len(req.Message) > maxUserMessageBytes:
		return &ErrTurn{Kind: TurnValidation, Message: "message exceeds size limit"}
	}
	return nil
}

// sessionLock is a refcounted per-session mutex entry. The refcount covers
// waiters as well as the holder; the map entry is dropped when it hits zero,
// so the lock table does not grow with session history.
type sessionLock struct {
	ch   chan struct{}
	refs int
}

// lockSession serializes turns per session. Waiting is bounded; a second
// turn arriving while one is in flight fails fast as concurrent rather than
// queueing behind an LLM call.
func (o *Orchestrator) lockSession(ctx context.Context, sessionID string) (func(), error) {
	o.mu.Lock()
	l, ok := o.locks[sessionID]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		o.locks[sessionID] = l
	}
	l.refs++
	o.mu.Unlock()

	timer := time.NewTimer(o.lockWait)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			o.unrefLock(sessionID, l)
		}, nil
	case <-timer.C:
		o.unrefLock(sessionID, l)
		return nil, &ErrTurn{Kind: TurnConcurrent, Message: "another turn is in progress for this session"}
	case <-ctx.Done():
		o.unrefLock(sessionID, l)
		return nil, &ErrTurn{Kind: TurnTimeout, Message: ctx.Err().Error()}
	}
}

func (o *Orchestrator) unrefLock(sessionID string, l *sessionLock) {
	o.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(o.locks, sessionID)
	}
	o.mu.Unlock()
}

// loadOrCreate fetches the checkpoint. A missing checkpoint starts a fresh
// session; a corrupt one is discarded with a warning rather than blocking
// the user forever.
func (o *Orchestrator) loadOrCreate(ctx context.Context, req TurnRequest) (*SessionState, error) {
	state, err := o.checkpointer.Load(ctx, req.SessionID)
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, ErrNotFound):
		return NewSessionState(req.SessionID, req.UserID, req.Workspace, o.agents.Names()), nil
	}
	var cperr *ErrCheckpoint
	if errors.As(err, &cperr) && cperr.Kind == CheckpointCorrupt {
		o.logger.Warn("corrupt checkpoint discarded", "session", req.SessionID, "error", err)
		fresh := NewSessionState(req.SessionID, req.UserID, req.Workspace, o.agents.Names())
		fresh.Apply(Delta{Trace: []TraceEvent{{Kind: TraceCorruptCheckpoint,
			Detail: err.Error(), Timestamp: NowUnix()}}})
		return fresh, nil
	}
	return nil, &ErrTurn{Kind: TurnUnavailable, Message: "session store unavailable: " + err.Error()}
}

// timeoutReply is stored on the session when the turn budget expires, so the
// next turn's context shows the user what happened.
const timeoutReply = "Your request timed out before I could finish. Please try again."

// classifyRunError maps graph failures onto the turn error taxonomy and
// records the timeout outcome on the state before it is persisted.
func (o *Orchestrator) classifyRunError(ctx context.Context, state *SessionState, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		state.Apply(Delta{
			AppendMessages: []Message{AssistantMessage(state.CurrentAgent, timeoutReply)},
			Trace: []TraceEvent{{Kind: TraceTurnTimeout,
				Detail: "turn budget exhausted", Timestamp: NowUnix()}},
		})
		return &ErrTurn{Kind: TurnTimeout, Message: "turn budget exhausted"}
	}
	return &ErrTurn{Kind: TurnUnavailable, Message: err.Error()}
}
