// Package sqlite is the relational datastore for the assistant domains:
// food logs, tasks, calendar events, and reminders. Pure-Go SQLite, no CGO.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// nopLogger discards all output.
var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger. Without one the store is silent.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is the SQLite-backed datastore. All statements are parameterized;
// user text never reaches SQL by concatenation.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the database file. A single connection serializes
// all writers, which eliminates SQLITE_BUSY under concurrent tool calls.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS food_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			description TEXT NOT NULL,
			calories INTEGER,
			protein_g REAL,
			carbs_g REAL,
			fat_g REAL,
			eaten_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			notes TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			priority INTEGER NOT NULL DEFAULT 0,
			due_at INTEGER,
			recurrence TEXT,
			parent_id TEXT,
			completed_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			location TEXT,
			notes TEXT,
			starts_at INTEGER NOT NULL,
			ends_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			message TEXT NOT NULL,
			due_at INTEGER NOT NULL,
			fired INTEGER NOT NULL DEFAULT 0,
			canceled INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_food_user_time ON food_logs(user_id, eaten_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_start ON events(user_id, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(due_at, fired, canceled)`,
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable and writable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection.
func (s *Store) Close() error { return s.db.Close() }

func nowUnix() int64 { return time.Now().Unix() }

// likePattern escapes LIKE metacharacters in user-supplied search text so a
// query like "50%" matches literally.
func likePattern(q string) string {
	out := make([]byte, 0, len(q)+8)
	for i := 0; i < len(q); i++ {
		switch q[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, q[i])
	}
	return "%" + string(out) + "%"
}
