package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nevindra/steward/checkpoint/memory"
	"github.com/nevindra/steward/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s := sqlite.New(filepath.Join(t.TempDir(), "jobs.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return s
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingSink struct {
	notified []string
	err      error
}

func (s *recordingSink) Notify(_ context.Context, userID, message string) error {
	s.notified = append(s.notified, userID+": "+message)
	return s.err
}

func TestFireReminders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	due := &sqlite.Reminder{ID: "r1", UserID: "u1", Message: "call mom", DueAt: now.Add(-time.Minute).Unix()}
	future := &sqlite.Reminder{ID: "r2", UserID: "u1", Message: "stretch", DueAt: now.Add(time.Hour).Unix()}
	for _, r := range []*sqlite.Reminder{due, future} {
		if err := store.InsertReminder(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	sink := &recordingSink{}
	job := FireReminders(store, sink, testLogger)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sink.notified) != 1 || sink.notified[0] != "u1: call mom" {
		t.Errorf("notified = %v, want only the due reminder", sink.notified)
	}

	// A second pass delivers nothing: firing is idempotent.
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(sink.notified) != 1 {
		t.Errorf("notified after second run = %v, want no re-delivery", sink.notified)
	}
}

func TestFireRemindersSinkFailureDoesNotRedeliver(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := &sqlite.Reminder{ID: "r1", UserID: "u1", Message: "call mom", DueAt: time.Now().Add(-time.Minute).Unix()}
	if err := store.InsertReminder(ctx, r); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{err: errors.New("push gateway down")}
	job := FireReminders(store, sink, testLogger)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, sink failures must not fail the job", err)
	}

	sink.err = nil
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	// Marked fired before the failed delivery; never retried.
	if len(sink.notified) != 1 {
		t.Errorf("notified = %v, want exactly one attempt", sink.notified)
	}
}

func TestExpandRecurringTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tpl := &sqlite.Task{ID: "tpl1", UserID: "u1", Title: "water plants", Recurrence: "09:00 daily"}
	if err := store.InsertTask(ctx, tpl); err != nil {
		t.Fatal(err)
	}
	junk := &sqlite.Task{ID: "tpl2", UserID: "u1", Title: "broken", Recurrence: "whenever"}
	if err := store.InsertTask(ctx, junk); err != nil {
		t.Fatal(err)
	}

	job := ExpandRecurringTasks(store, time.UTC, testLogger)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	children, err := store.SearchTasks(ctx, "u1", "water plants", sqlite.TaskOpen, 0)
	if err != nil {
		t.Fatal(err)
	}
	var occurrence *sqlite.Task
	for i := range children {
		if children[i].ParentID == "tpl1" {
			occurrence = &children[i]
		}
	}
	if occurrence == nil {
		t.Fatal("no occurrence created for the template")
	}
	if occurrence.DueAt == nil || *occurrence.DueAt <= time.Now().Unix() {
		t.Errorf("occurrence DueAt = %v, want a future fire time", occurrence.DueAt)
	}

	// While the occurrence is open, a second expansion creates nothing.
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	children, _ = store.SearchTasks(ctx, "u1", "water plants", sqlite.TaskOpen, 0)
	occurrences := 0
	for _, c := range children {
		if c.ParentID == "tpl1" {
			occurrences++
		}
	}
	if occurrences != 1 {
		t.Errorf("occurrences = %d, want exactly 1 while one is open", occurrences)
	}
}

func TestChunkNoteStripsMarkdown(t *testing.T) {
	raw := []byte(`# Garden Notes

The tomatoes need *daily* watering in summer.

- basil
- thyme

` + "```\nsudo systemctl restart irrigation\n```\n")
	chunks := chunkNote("garden.md", raw)
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	joined := strings.Join(chunks, "\n")
	if strings.Contains(joined, "#") || strings.Contains(joined, "*") {
		t.Errorf("markdown syntax leaked into chunks: %q", joined)
	}
	for _, want := range []string{"Garden Notes", "tomatoes need daily watering", "basil", "systemctl restart irrigation"} {
		if !strings.Contains(joined, want) {
			t.Errorf("chunks missing %q: %q", want, joined)
		}
	}
}

func TestChunkNotePacksParagraphs(t *testing.T) {
	long := strings.Repeat("word ", 250) // ~1250 bytes per paragraph
	raw := []byte(long + "\n\n" + long + "\n\n" + long)
	chunks := chunkNote("notes.txt", raw)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want the paragraphs split across chunks", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > vaultChunkSize+len(long) {
			t.Errorf("chunk %d length %d is unbounded", i, len(c))
		}
	}
}

func TestDiverges(t *testing.T) {
	due := int64(1000)
	other := int64(2000)
	cases := []struct {
		name  string
		local sqlite.Task
		ext   ExternalTask
		want  bool
	}{
		{"identical", sqlite.Task{Notes: "n"}, ExternalTask{Notes: "n"}, false},
		{"notes differ", sqlite.Task{Notes: "a"}, ExternalTask{Notes: "b"}, true},
		{"both due equal", sqlite.Task{DueAt: &due}, ExternalTask{DueAt: &due}, false},
		{"due differs", sqlite.Task{DueAt: &due}, ExternalTask{DueAt: &other}, true},
		{"due only local", sqlite.Task{DueAt: &due}, ExternalTask{}, true},
		{"due only external", sqlite.Task{}, ExternalTask{DueAt: &due}, true},
	}
	for _, tc := range cases {
		if got := diverges(tc.local, tc.ext); got != tc.want {
			t.Errorf("%s: diverges = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHealthProbe(t *testing.T) {
	store := newTestStore(t)
	health := NewComponentHealth()

	job := HealthProbe(store, memory.New(), nil, health, testLogger)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	snap := health.Snapshot()
	if snap["datastore"] != "ok" || snap["checkpointer"] != "ok" {
		t.Errorf("snapshot = %v, want datastore and checkpointer ok", snap)
	}
	// No vector store configured, no vectors component.
	if _, ok := snap["vectors"]; ok {
		t.Errorf("snapshot = %v, want no vectors entry when unconfigured", snap)
	}
}

func TestComponentHealth(t *testing.T) {
	h := NewComponentHealth()
	h.set("datastore", nil)
	h.set("checkpointer", errors.New("redis: connection refused"))

	snap := h.Snapshot()
	if snap["datastore"] != "ok" {
		t.Errorf("datastore = %q, want ok", snap["datastore"])
	}
	if !strings.Contains(snap["checkpointer"], "connection refused") {
		t.Errorf("checkpointer = %q", snap["checkpointer"])
	}

	// Snapshot returns a copy.
	snap["datastore"] = "mutated"
	if h.Snapshot()["datastore"] != "ok" {
		t.Error("Snapshot leaked the internal map")
	}
}
