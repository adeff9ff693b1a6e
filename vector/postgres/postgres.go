// Package postgres is the vector store for long-term memories and vault
// note chunks, backed by PostgreSQL with pgvector. Similarity search uses
// HNSW indexes with cosine distance.
//
// The *pgxpool.Pool is injected; the caller creates and closes it.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/steward"
)

// mergeThreshold is the cosine similarity above which a remembered fact is
// treated as a restatement of an existing memory and merged instead of
// inserted.
const mergeThreshold = 0.85

// salienceFloor is the minimum salience a memory needs to appear in recall
// results; decayed memories below it are removed by cleanup.
const salienceFloor = 0.3

// Store holds memories and vault chunks.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// Option configures a Store.
type Option func(*Store)

// WithDimension sets the vector column dimension (e.g. 1536). When set,
// CREATE TABLE uses vector(N), catching dimension mismatches at insert
// time. Only affects new table creation.
func WithDimension(dim int) Option {
	return func(s *Store) { s.dim = dim }
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) vectorType() string {
	if s.dim > 0 {
		return fmt.Sprintf("vector(%d)", s.dim)
	}
	return "vector"
}

// Init creates the pgvector extension, tables, and indexes. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			salience REAL NOT NULL DEFAULT 1.0,
			embedding %s,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS memories_user_idx ON memories(user_id)`,
		`CREATE INDEX IF NOT EXISTS memories_embedding_idx ON memories USING hnsw (embedding vector_cosine_ops)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vault_chunks (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding %s,
			updated_at BIGINT NOT NULL
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS vault_chunks_path_idx ON vault_chunks(path)`,
		`CREATE INDEX IF NOT EXISTS vault_chunks_embedding_idx ON vault_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Memory is one remembered fact about a user.
type Memory struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Content   string  `json:"content"`
	Salience  float64 `json:"salience"`
	Score     float64 `json:"score,omitempty"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// UpsertMemory stores a fact. A fact whose embedding is within
// mergeThreshold of an existing memory for the same user updates that
// memory and bumps its salience rather than inserting a near-duplicate.
func (s *Store) UpsertMemory(ctx context.Context, userID, content string, embedding []float32) error {
	now := steward.NowUnix()
	embStr := serializeEmbedding(embedding)

	var bestID string
	var bestSalience float64
	var bestScore float64
	err := s.pool.QueryRow(ctx,
		`SELECT id, salience, 1 - (embedding <=> $1::vector) AS score
		 FROM memories
		 WHERE user_id = $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT 1`,
		embStr, userID).Scan(&bestID, &bestSalience, &bestScore)
	if err == nil && bestScore > mergeThreshold {
		salience := bestSalience + 0.1
		if salience > 1.0 {
			salience = 1.0
		}
		if _, err := s.pool.Exec(ctx,
			`UPDATE memories SET content=$1, embedding=$2::vector, salience=$3, updated_at=$4 WHERE id=$5`,
			content, embStr, salience, now, bestID); err != nil {
			return fmt.Errorf("postgres: merge memory: %w", err)
		}
		return nil
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO memories (id, user_id, content, salience, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, 1.0, $4::vector, $5, $6)`,
		steward.NewID(), userID, content, embStr, now, now); err != nil {
		return fmt.Errorf("postgres: insert memory: %w", err)
	}
	return nil
}

// SearchMemories returns the user's memories most similar to the query
// embedding, highest score first. Memories below the salience floor are
// excluded.
func (s *Store) SearchMemories(ctx context.Context, userID string, embedding []float32, topK int) ([]Memory, error) {
	if topK <= 0 {
		topK = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, content, salience, created_at, updated_at,
		        1 - (embedding <=> $1::vector) AS score
		 FROM memories
		 WHERE user_id = $2 AND salience >= $3 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $4`,
		serializeEmbedding(embedding), userID, salienceFloor, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Salience, &m.CreatedAt, &m.UpdatedAt, &m.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DecaySalience multiplies every memory's salience by factor and deletes
// memories that fall below the floor. Returns the number deleted.
func (s *Store) DecaySalience(ctx context.Context, factor float64) (int64, error) {
	if _, err := s.pool.Exec(ctx,
		`UPDATE memories SET salience = salience * $1`, factor); err != nil {
		return 0, fmt.Errorf("postgres: decay salience: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memories WHERE salience < $1`, salienceFloor)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune decayed memories: %w", err)
	}
	return tag.RowsAffected(), nil
}

// serializeEmbedding converts []float32 to pgvector's text input format,
// "[0.1,0.2,0.3]".
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
