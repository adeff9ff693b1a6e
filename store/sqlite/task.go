package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task statuses.
const (
	TaskOpen     = "open"
	TaskDone     = "done"
	TaskArchived = "archived"
)

// Task is one to-do item. Recurrence, when non-empty, is a schedule string
// ("HH:MM daily", "HH:MM weekly(Monday)", "HH:MM monthly(15)"); the
// expand_recurring_tasks job materializes the next occurrence with ParentID
// pointing at the template.
type Task struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Notes       string `json:"notes,omitempty"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
	DueAt       *int64 `json:"due_at,omitempty"`
	Recurrence  string `json:"recurrence,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// ErrTaskNotFound is returned when an update or completion targets a task
// that does not exist or belongs to another user.
var ErrTaskNotFound = errors.New("task not found")

// InsertTask stores a new task with status open.
func (s *Store) InsertTask(ctx context.Context, t *Task) error {
	now := nowUnix()
	t.Status = TaskOpen
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, notes, status, priority, due_at, recurrence, parent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Notes, t.Status, t.Priority, t.DueAt, t.Recurrence, t.ParentID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	s.logger.Debug("sqlite: task inserted", "id", t.ID, "user", t.UserID)
	return nil
}

// TaskPatch carries the mutable fields of a task; nil fields are unchanged.
type TaskPatch struct {
	Title    *string
	Notes    *string
	Priority *int
	DueAt    *int64
	ClearDue bool
}

// UpdateTask applies a patch to one of the user's tasks.
func (s *Store) UpdateTask(ctx context.Context, userID, taskID string, patch TaskPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{nowUnix()}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.ClearDue {
		sets = append(sets, "due_at = NULL")
	} else if patch.DueAt != nil {
		sets = append(sets, "due_at = ?")
		args = append(args, *patch.DueAt)
	}
	args = append(args, taskID, userID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_id = ?", args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(res, ErrTaskNotFound)
}

// CompleteTask marks a task done. Completing a done task is a no-op success.
func (s *Store) CompleteTask(ctx context.Context, userID, taskID string) error {
	now := nowUnix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND user_id = ? AND status != ?`,
		TaskDone, now, now, taskID, userID, TaskArchived)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return requireRow(res, ErrTaskNotFound)
}

// SearchTasks returns the user's tasks matching the query and optional
// status filter, ordered by due date then priority.
func (s *Store) SearchTasks(ctx context.Context, userID, query, status string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, user_id, title, notes, status, priority, due_at, recurrence, parent_id, completed_at, created_at, updated_at
	      FROM tasks
	      WHERE user_id = ? AND (title LIKE ? ESCAPE '\' OR notes LIKE ? ESCAPE '\')`
	pattern := likePattern(query)
	args := []any{userID, pattern, pattern}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status)
	}
	q += " ORDER BY due_at IS NULL, due_at ASC, priority DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// RecurringTemplates returns open tasks carrying a recurrence rule.
func (s *Store) RecurringTemplates(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, notes, status, priority, due_at, recurrence, parent_id, completed_at, created_at, updated_at
		 FROM tasks WHERE recurrence != '' AND recurrence IS NOT NULL AND status = ? AND parent_id = ''`,
		TaskOpen)
	if err != nil {
		return nil, fmt.Errorf("recurring templates: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// HasOpenOccurrence reports whether a recurrence template already has an
// open child instance.
func (s *Store) HasOpenOccurrence(ctx context.Context, templateID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE parent_id = ? AND status = ?`, templateID, TaskOpen).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("open occurrence check: %w", err)
	}
	return n > 0, nil
}

// ArchiveCompletedTasksBefore archives tasks completed before the cutoff and
// returns how many rows changed.
func (s *Store) ArchiveCompletedTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE status = ? AND completed_at < ?`,
		TaskArchived, nowUnix(), TaskDone, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("archive tasks: %w", err)
	}
	return res.RowsAffected()
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		var t Task
		var notes, recurrence, parentID sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &notes, &t.Status, &t.Priority,
			&t.DueAt, &recurrence, &parentID, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Notes = notes.String
		t.Recurrence = recurrence.String
		t.ParentID = parentID.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
