// Package redis persists session checkpoints in Redis with per-session TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nevindra/steward"
)

// Checkpointer stores one JSON document per session under
// checkpoint:{session}:latest. Every save rewrites the document and resets
// the TTL, so the TTL behaves as an idle timeout.
type Checkpointer struct {
	client *redis.Client
	prefix string
}

// Option configures a Checkpointer.
type Option func(*Checkpointer)

// WithKeyPrefix overrides the key prefix (default "checkpoint").
func WithKeyPrefix(p string) Option {
	return func(c *Checkpointer) { c.prefix = p }
}

// New creates a Checkpointer over an existing client. The caller owns the
// client lifecycle.
func New(client *redis.Client, opts ...Option) *Checkpointer {
	c := &Checkpointer{client: client, prefix: "checkpoint"}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Checkpointer) key(sessionID string) string {
	return c.prefix + ":" + sessionID + ":latest"
}

// Load fetches and decodes the session state. A missing key is
// steward.ErrNotFound; bytes that do not decode are CheckpointCorrupt.
func (c *Checkpointer) Load(ctx context.Context, sessionID string) (*steward.SessionState, error) {
	raw, err := c.client.Get(ctx, c.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, steward.ErrNotFound
	}
	if err != nil {
		return nil, &steward.ErrCheckpoint{Kind: steward.CheckpointUnavailable, Err: err}
	}
	var state steward.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &steward.ErrCheckpoint{Kind: steward.CheckpointCorrupt, Err: err}
	}
	if state.SessionID != sessionID {
		return nil, &steward.ErrCheckpoint{Kind: steward.CheckpointCorrupt,
			Err: errors.New("session id mismatch in stored checkpoint")}
	}
	return &state, nil
}

// Save writes the full state and resets the TTL.
func (c *Checkpointer) Save(ctx context.Context, state *steward.SessionState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return &steward.ErrCheckpoint{Kind: steward.CheckpointCorrupt, Err: err}
	}
	if err := c.client.Set(ctx, c.key(state.SessionID), raw, ttl).Err(); err != nil {
		return &steward.ErrCheckpoint{Kind: steward.CheckpointUnavailable, Err: err}
	}
	return nil
}

// Delete removes the session checkpoint. Deleting a missing session is not
// an error.
func (c *Checkpointer) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return &steward.ErrCheckpoint{Kind: steward.CheckpointUnavailable, Err: err}
	}
	return nil
}

// Health pings the server.
func (c *Checkpointer) Health(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return &steward.ErrCheckpoint{Kind: steward.CheckpointUnavailable, Err: err}
	}
	return nil
}

var _ steward.Checkpointer = (*Checkpointer)(nil)
