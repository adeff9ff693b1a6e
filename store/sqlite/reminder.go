package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Reminder is a one-shot notification. The fire_reminders job marks due
// reminders fired and hands them to the notification sink.
type Reminder struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	DueAt     int64  `json:"due_at"`
	Fired     bool   `json:"fired"`
	Canceled  bool   `json:"canceled"`
	CreatedAt int64  `json:"created_at"`
}

// ErrReminderNotFound is returned when a cancel targets a reminder that does
// not exist or belongs to another user.
var ErrReminderNotFound = errors.New("reminder not found")

// InsertReminder stores a new reminder.
func (s *Store) InsertReminder(ctx context.Context, r *Reminder) error {
	r.CreatedAt = nowUnix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, user_id, message, due_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Message, r.DueAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	s.logger.Debug("sqlite: reminder inserted", "id", r.ID, "due", r.DueAt)
	return nil
}

// ListReminders returns the user's pending reminders, soonest first.
func (s *Store) ListReminders(ctx context.Context, userID string, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, due_at, fired, canceled, created_at
		 FROM reminders WHERE user_id = ? AND fired = 0 AND canceled = 0
		 ORDER BY due_at ASC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// CancelReminder marks a pending reminder canceled.
func (s *Store) CancelReminder(ctx context.Context, userID, reminderID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET canceled = 1 WHERE id = ? AND user_id = ? AND fired = 0 AND canceled = 0`,
		reminderID, userID)
	if err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}
	return requireRow(res, ErrReminderNotFound)
}

// DueReminders returns unfired, uncanceled reminders due at or before now.
func (s *Store) DueReminders(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, due_at, fired, canceled, created_at
		 FROM reminders WHERE fired = 0 AND canceled = 0 AND due_at <= ?
		 ORDER BY due_at ASC LIMIT ?`, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// MarkReminderFired flips the fired flag. Firing is idempotent: a reminder
// already fired stays fired.
func (s *Store) MarkReminderFired(ctx context.Context, reminderID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET fired = 1 WHERE id = ?`, reminderID); err != nil {
		return fmt.Errorf("mark reminder fired: %w", err)
	}
	return nil
}

func scanReminders(rows *sql.Rows) ([]Reminder, error) {
	var out []Reminder
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.ID, &r.UserID, &r.Message, &r.DueAt, &r.Fired, &r.Canceled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
