package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/nevindra/steward"
	"github.com/nevindra/steward/vector/postgres"
)

// vaultChunkSize bounds one embedded chunk in bytes; paragraphs are packed
// until the next one would overflow.
const vaultChunkSize = 1600

// VaultSync returns the job that keeps the vector store in sync with a
// directory of markdown/plain-text notes. Files are content-hashed; only
// changed files are re-embedded, and chunks of removed files are deleted.
func VaultSync(vaultPath string, vectors *postgres.Store, embedder steward.EmbeddingProvider, logger *slog.Logger) steward.Job {
	return steward.Job{
		Name:     "vault_sync",
		Interval: 12 * time.Hour,
		Timeout:  30 * time.Minute,
		Enabled:  vaultPath != "",
		Run: func(ctx context.Context) error {
			seen := make(map[string]bool)
			changed := 0

			err := filepath.WalkDir(vaultPath, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !isNoteFile(path) {
					return nil
				}
				rel, err := filepath.Rel(vaultPath, path)
				if err != nil {
					return err
				}
				seen[rel] = true

				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", rel, err)
				}
				sum := sha256.Sum256(raw)
				hash := hex.EncodeToString(sum[:])

				stored, err := vectors.VaultFileHash(ctx, rel)
				if err != nil {
					return err
				}
				if stored == hash {
					return nil
				}

				chunks := chunkNote(path, raw)
				if len(chunks) == 0 {
					return vectors.DeleteVaultFile(ctx, rel)
				}
				embeddings, err := embedder.Embed(ctx, chunks)
				if err != nil {
					return fmt.Errorf("embed %s: %w", rel, err)
				}
				if err := vectors.ReplaceVaultFile(ctx, rel, hash, chunks, embeddings); err != nil {
					return err
				}
				changed++
				return nil
			})
			if err != nil {
				return err
			}

			// Remove chunks of files that no longer exist.
			indexed, err := vectors.VaultPaths(ctx)
			if err != nil {
				return err
			}
			removed := 0
			for _, p := range indexed {
				if !seen[p] {
					if err := vectors.DeleteVaultFile(ctx, p); err != nil {
						return err
					}
					removed++
				}
			}

			if changed > 0 || removed > 0 {
				logger.Info("vault synced", "changed", changed, "removed", removed)
			}
			return nil
		},
	}
}

func isNoteFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// chunkNote converts a note to plain text and packs paragraphs into bounded
// chunks. Markdown structure is stripped so embeddings see prose, not
// syntax.
func chunkNote(path string, raw []byte) []string {
	var paragraphs []string
	if strings.HasSuffix(strings.ToLower(path), ".txt") {
		paragraphs = strings.Split(string(raw), "\n\n")
	} else {
		paragraphs = markdownParagraphs(raw)
	}

	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > vaultChunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// markdownParagraphs extracts the plain text of each block-level node.
func markdownParagraphs(raw []byte) []string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(raw))
	var out []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		var b strings.Builder
		collectText(node, raw, &b)
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	}
	return out
}

func collectText(node ast.Node, raw []byte, b *strings.Builder) {
	switch n := node.(type) {
	case *ast.Text:
		b.Write(n.Segment.Value(raw))
		if n.SoftLineBreak() || n.HardLineBreak() {
			b.WriteByte(' ')
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(raw))
		}
	default:
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			collectText(child, raw, b)
		}
	}
}
