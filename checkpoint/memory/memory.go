// Package memory is an in-process Checkpointer for tests and single-node
// deployments.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nevindra/steward"
)

type entry struct {
	raw       []byte
	expiresAt time.Time
}

// Checkpointer keeps JSON-encoded states in a map. Encoding through JSON
// matches the production store's fidelity: unexported or untagged fields do
// not survive, exactly as with Redis.
type Checkpointer struct {
	mu      sync.Mutex
	entries map[string]entry
	// now is replaceable in tests to drive TTL expiry without sleeping.
	now func() time.Time
}

// New creates an empty Checkpointer.
func New() *Checkpointer {
	return &Checkpointer{entries: make(map[string]entry), now: time.Now}
}

// SetClock replaces the time source. Test use only.
func (c *Checkpointer) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Checkpointer) Load(_ context.Context, sessionID string) (*steward.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok || (!e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)) {
		delete(c.entries, sessionID)
		return nil, steward.ErrNotFound
	}
	var state steward.SessionState
	if err := json.Unmarshal(e.raw, &state); err != nil {
		return nil, &steward.ErrCheckpoint{Kind: steward.CheckpointCorrupt, Err: err}
	}
	return &state, nil
}

func (c *Checkpointer) Save(_ context.Context, state *steward.SessionState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return &steward.ErrCheckpoint{Kind: steward.CheckpointCorrupt, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{raw: raw}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[state.SessionID] = e
	return nil
}

func (c *Checkpointer) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
	return nil
}

func (c *Checkpointer) Health(context.Context) error { return nil }

// Corrupt overwrites a session's stored bytes with garbage. Test use only.
func (c *Checkpointer) Corrupt(sessionID string) {
	c.mu.Lock()
	c.entries[sessionID] = entry{raw: []byte("{not json")}
	c.mu.Unlock()
}

var _ steward.Checkpointer = (*Checkpointer)(nil)
