package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event is one calendar entry.
type Event struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Location  string `json:"location,omitempty"`
	Notes     string `json:"notes,omitempty"`
	StartsAt  int64  `json:"starts_at"`
	EndsAt    *int64 `json:"ends_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// InsertEvent stores a new event.
func (s *Store) InsertEvent(ctx context.Context, e *Event) error {
	now := nowUnix()
	e.CreatedAt = now
	e.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, user_id, title, location, notes, starts_at, ends_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Title, e.Location, e.Notes, e.StartsAt, e.EndsAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	s.logger.Debug("sqlite: event inserted", "id", e.ID, "user", e.UserID)
	return nil
}

// SearchEvents returns the user's events matching the query text, soonest
// first.
func (s *Store) SearchEvents(ctx context.Context, userID, query string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := likePattern(query)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, location, notes, starts_at, ends_at, created_at, updated_at
		 FROM events
		 WHERE user_id = ? AND (title LIKE ? ESCAPE '\' OR location LIKE ? ESCAPE '\' OR notes LIKE ? ESCAPE '\')
		 ORDER BY starts_at ASC LIMIT ?`,
		userID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// UpcomingEvents returns events starting within [from, from+window).
func (s *Store) UpcomingEvents(ctx context.Context, userID string, from time.Time, window time.Duration, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, location, notes, starts_at, ends_at, created_at, updated_at
		 FROM events
		 WHERE user_id = ? AND starts_at >= ? AND starts_at < ?
		 ORDER BY starts_at ASC LIMIT ?`,
		userID, from.Unix(), from.Add(window).Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("upcoming events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// DeleteEventsBefore removes events that ended (or started, when open-ended)
// before the cutoff, returning the rows removed.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE COALESCE(ends_at, starts_at) < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var location, notes sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &location, &notes,
			&e.StartsAt, &e.EndsAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Location = location.String
		e.Notes = notes.String
		out = append(out, e)
	}
	return out, rows.Err()
}
