package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nevindra/steward"
)

func TestRoundTrip(t *testing.T) {
	cp := New()
	ctx := context.Background()

	state := steward.NewSessionState("s1", "u1", "default", []string{"food", "task"})
	state.TurnCount = 3
	state.CurrentAgent = "food"
	state.Apply(steward.Delta{AppendMessages: []steward.Message{steward.UserMessage("hello")}})

	if err := cp.Save(ctx, state, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := cp.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.TurnCount != 3 || got.CurrentAgent != "food" || len(got.Messages) != 2 {
		t.Errorf("loaded state = turn %d agent %q with %d messages, want 3/food/2",
			got.TurnCount, got.CurrentAgent, len(got.Messages))
	}
	// Mutating the loaded copy must not leak back into the store.
	got.TurnCount = 99
	again, err := cp.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if again.TurnCount != 3 {
		t.Errorf("stored state changed through a loaded copy: turn %d", again.TurnCount)
	}
}

func TestLoadMissing(t *testing.T) {
	cp := New()
	if _, err := cp.Load(context.Background(), "nope"); !errors.Is(err, steward.ErrNotFound) {
		t.Errorf("Load(missing) = %v, want ErrNotFound", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	cp := New()
	ctx := context.Background()
	clock := time.Now()
	cp.SetClock(func() time.Time { return clock })

	state := steward.NewSessionState("s1", "u1", "default", nil)
	if err := cp.Save(ctx, state, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := cp.Load(ctx, "s1"); err != nil {
		t.Fatalf("Load() before expiry = %v", err)
	}

	clock = clock.Add(2 * time.Hour)
	if _, err := cp.Load(ctx, "s1"); !errors.Is(err, steward.ErrNotFound) {
		t.Errorf("Load() after expiry = %v, want ErrNotFound", err)
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	cp := New()
	ctx := context.Background()
	clock := time.Now()
	cp.SetClock(func() time.Time { return clock })

	state := steward.NewSessionState("s1", "u1", "default", nil)
	if err := cp.Save(ctx, state, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	clock = clock.Add(1000 * time.Hour)
	if _, err := cp.Load(ctx, "s1"); err != nil {
		t.Errorf("Load() with zero TTL = %v, want success", err)
	}
}

func TestCorrupt(t *testing.T) {
	cp := New()
	ctx := context.Background()
	state := steward.NewSessionState("s1", "u1", "default", nil)
	if err := cp.Save(ctx, state, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	cp.Corrupt("s1")

	_, err := cp.Load(ctx, "s1")
	var cperr *steward.ErrCheckpoint
	if !errors.As(err, &cperr) || cperr.Kind != steward.CheckpointCorrupt {
		t.Errorf("Load(corrupt) = %v, want checkpoint corrupt", err)
	}
}

func TestDelete(t *testing.T) {
	cp := New()
	ctx := context.Background()
	state := steward.NewSessionState("s1", "u1", "default", nil)
	if err := cp.Save(ctx, state, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := cp.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := cp.Load(ctx, "s1"); !errors.Is(err, steward.ErrNotFound) {
		t.Errorf("Load() after delete = %v, want ErrNotFound", err)
	}
}
