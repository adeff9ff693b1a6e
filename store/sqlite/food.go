package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FoodLog is one logged meal or snack. Macro fields are optional; nil means
// the user did not provide them.
type FoodLog struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Description string   `json:"description"`
	Calories    *int     `json:"calories,omitempty"`
	ProteinG    *float64 `json:"protein_g,omitempty"`
	CarbsG      *float64 `json:"carbs_g,omitempty"`
	FatG        *float64 `json:"fat_g,omitempty"`
	EatenAt     int64    `json:"eaten_at"`
	CreatedAt   int64    `json:"created_at"`
}

// FoodSummary aggregates a time window of food logs.
type FoodSummary struct {
	Entries  int     `json:"entries"`
	Calories int     `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// InsertFoodLog stores one entry. EatenAt defaults to now.
func (s *Store) InsertFoodLog(ctx context.Context, f *FoodLog) error {
	if f.EatenAt == 0 {
		f.EatenAt = nowUnix()
	}
	f.CreatedAt = nowUnix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO food_logs (id, user_id, description, calories, protein_g, carbs_g, fat_g, eaten_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Description, f.Calories, f.ProteinG, f.CarbsG, f.FatG, f.EatenAt, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert food log: %w", err)
	}
	s.logger.Debug("sqlite: food log inserted", "id", f.ID, "user", f.UserID)
	return nil
}

// SearchFoodLogs returns entries for a user matching the query text within
// [since, until), newest first. An empty query matches everything.
func (s *Store) SearchFoodLogs(ctx context.Context, userID, query string, since, until time.Time, limit int) ([]FoodLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, description, calories, protein_g, carbs_g, fat_g, eaten_at, created_at
		 FROM food_logs
		 WHERE user_id = ? AND eaten_at >= ? AND eaten_at < ?
		   AND description LIKE ? ESCAPE '\'
		 ORDER BY eaten_at DESC LIMIT ?`,
		userID, since.Unix(), until.Unix(), likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search food logs: %w", err)
	}
	defer rows.Close()

	var out []FoodLog
	for rows.Next() {
		var f FoodLog
		if err := rows.Scan(&f.ID, &f.UserID, &f.Description, &f.Calories, &f.ProteinG, &f.CarbsG, &f.FatG, &f.EatenAt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan food log: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SummarizeFood aggregates calories and macros over [since, until). Entries
// without a value contribute zero to that column.
func (s *Store) SummarizeFood(ctx context.Context, userID string, since, until time.Time) (FoodSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(calories), 0),
		        COALESCE(SUM(protein_g), 0),
		        COALESCE(SUM(carbs_g), 0),
		        COALESCE(SUM(fat_g), 0)
		 FROM food_logs WHERE user_id = ? AND eaten_at >= ? AND eaten_at < ?`,
		userID, since.Unix(), until.Unix())

	var sum FoodSummary
	if err := row.Scan(&sum.Entries, &sum.Calories, &sum.ProteinG, &sum.CarbsG, &sum.FatG); err != nil {
		if err == sql.ErrNoRows {
			return FoodSummary{}, nil
		}
		return FoodSummary{}, fmt.Errorf("summarize food: %w", err)
	}
	return sum, nil
}
