package steward

import (
	"context"
	"time"
)

// DefaultSessionTTL is the checkpoint expiry; every save resets it, so the
// TTL is an idle timeout, not a session lifetime cap.
const DefaultSessionTTL = 24 * time.Hour

// Checkpointer persists session state between turns. Implementations live in
// checkpoint/redis (production) and checkpoint/memory (tests, single-node
// deployments).
//
// Load returns ErrNotFound when no checkpoint exists for the session, an
// ErrCheckpoint with CheckpointCorrupt when the stored bytes do not decode,
// and CheckpointUnavailable when the backend cannot be reached.
type Checkpointer interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	// Save writes the full state and resets its expiry to ttl.
	Save(ctx context.Context, state *SessionState, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
	// Health verifies the backend is reachable.
	Health(ctx context.Context) error
}
