package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nevindra/steward"
)

// VaultChunk is one embedded slice of a vault note.
type VaultChunk struct {
	ID         string  `json:"id"`
	Path       string  `json:"path"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score,omitempty"`
}

// VaultFileHash returns the stored content hash for a path, or "" when the
// path has never been indexed.
func (s *Store) VaultFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT content_hash FROM vault_chunks WHERE path = $1 LIMIT 1`, path).Scan(&hash)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: vault hash: %w", err)
	}
	return hash, nil
}

// VaultPaths returns every indexed path.
func (s *Store) VaultPaths(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT path FROM vault_chunks`)
	if err != nil {
		return nil, fmt.Errorf("postgres: vault paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("postgres: scan vault path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplaceVaultFile atomically swaps a file's chunks: old chunks for the path
// are deleted and the new ones inserted in a single transaction, so search
// never sees a half-indexed file.
func (s *Store) ReplaceVaultFile(ctx context.Context, path, hash string, contents []string, embeddings [][]float32) error {
	if len(contents) != len(embeddings) {
		return fmt.Errorf("postgres: replace vault file: %d chunks, %d embeddings", len(contents), len(embeddings))
	}
	now := steward.NowUnix()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM vault_chunks WHERE path = $1`, path); err != nil {
		return fmt.Errorf("postgres: delete vault chunks: %w", err)
	}
	for i, content := range contents {
		if _, err := tx.Exec(ctx,
			`INSERT INTO vault_chunks (id, path, chunk_index, content, content_hash, embedding, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6::vector, $7)`,
			steward.NewID(), path, i, content, hash, serializeEmbedding(embeddings[i]), now); err != nil {
			return fmt.Errorf("postgres: insert vault chunk: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteVaultFile removes all chunks of a path.
func (s *Store) DeleteVaultFile(ctx context.Context, path string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM vault_chunks WHERE path = $1`, path); err != nil {
		return fmt.Errorf("postgres: delete vault file: %w", err)
	}
	return nil
}

// SearchVault returns the chunks most similar to the query embedding.
func (s *Store) SearchVault(ctx context.Context, embedding []float32, topK int) ([]VaultChunk, error) {
	if topK <= 0 {
		topK = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, path, chunk_index, content, 1 - (embedding <=> $1::vector) AS score
		 FROM vault_chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`,
		serializeEmbedding(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search vault: %w", err)
	}
	defer rows.Close()

	var out []VaultChunk
	for rows.Next() {
		var c VaultChunk
		if err := rows.Scan(&c.ID, &c.Path, &c.ChunkIndex, &c.Content, &c.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan vault chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
