// Package rag maintains a workspace retrieval index so the chat service can
// pull relevant file snippets into context. The index is embedded
// (chromem-go): no external vector service, persisted under the project
// state directory.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
)

// Stats reports what one Sync pass did.
type Stats struct {
	Scanned   int
	Indexed   int
	Removed   int
	Unchanged int
	Duration  time.Duration
}

// Snippet is one retrieval hit.
type Snippet struct {
	Path    string
	Content string
	Score   float32
}

// Index is the retrieval surface the chat service depends on. Sync failures
// never fail a turn; callers log and continue.
type Index interface {
	Sync(ctx context.Context) (Stats, error)
	Query(ctx context.Context, query string, maxResults int) ([]Snippet, error)
	Close() error
}

// Noop is the disabled index.
type Noop struct{}

func (Noop) Sync(context.Context) (Stats, error) { return Stats{}, nil }
func (Noop) Query(context.Context, string, int) ([]Snippet, error) {
	return nil, nil
}
func (Noop) Close() error { return nil }

const (
	collectionName = "workspace"
	maxFileBytes   = 256 * 1024
	defaultTopK    = 5
)

var skipDirs = map[string]bool{
	".git": true, ".agentsmithy": true, "node_modules": true, "vendor": true,
	"__pycache__": true, ".venv": true, "dist": true, "build": true,
	"target": true, ".idea": true, ".vscode": true,
}

var indexableExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".rs": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".md": true, ".txt": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".sql": true, ".sh": true, ".html": true,
	".css": true,
}

// Workspace indexes the files under a project root.
type Workspace struct {
	mu   sync.Mutex
	db   *chromem.DB
	col  *chromem.Collection
	root string
	// hashes tracks the content hash of each indexed path so Sync only
	// re-embeds what changed.
	hashes map[string]string
	log    *slog.Logger
}

// NewWorkspace opens (or creates) a persistent index at persistPath,
// embedding through the OpenAI-compatible endpoint.
func NewWorkspace(root, persistPath, embeddingAPIKey, embeddingModel string) (*Workspace, error) {
	if embeddingAPIKey == "" {
		return nil, fmt.Errorf("rag: embedding API key is not configured")
	}
	if err := os.MkdirAll(persistPath, 0o755); err != nil {
		return nil, fmt.Errorf("rag: create index dir: %w", err)
	}

	db, err := chromem.NewPersistentDB(persistPath, true)
	if err != nil {
		return nil, fmt.Errorf("rag: open index: %w", err)
	}

	model := chromem.EmbeddingModelOpenAI3Small
	if embeddingModel != "" {
		model = chromem.EmbeddingModelOpenAI(embeddingModel)
	}
	embed := chromem.NewEmbeddingFuncOpenAI(embeddingAPIKey, model)

	col, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("rag: open collection: %w", err)
	}

	return &Workspace{
		db:     db,
		col:    col,
		root:   root,
		hashes: make(map[string]string),
		log:    slog.With("component", "rag"),
	}, nil
}

// Sync walks the workspace and reconciles the index with what's on disk.
func (w *Workspace) Sync(ctx context.Context) (Stats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	stats := Stats{}
	seen := make(map[string]bool)

	var docs []chromem.Document
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if skipDirs[name] || (strings.HasPrefix(name, ".") && path != w.root) {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexableExts[filepath.Ext(name)] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileBytes {
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		stats.Scanned++
		seen[rel] = true

		content, err := os.ReadFile(path)
		if err != nil || !isText(content) {
			return nil
		}

		sum := sha256.Sum256(content)
		hash := hex.EncodeToString(sum[:])
		if w.hashes[rel] == hash {
			stats.Unchanged++
			return nil
		}

		docs = append(docs, chromem.Document{
			ID:      rel,
			Content: string(content),
			Metadata: map[string]string{
				"path": rel,
				"hash": hash,
			},
		})
		w.hashes[rel] = hash
		stats.Indexed++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("rag: walk workspace: %w", err)
	}

	if len(docs) > 0 {
		if err := w.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return stats, fmt.Errorf("rag: index documents: %w", err)
		}
	}

	// Drop entries for files that no longer exist.
	for rel := range w.hashes {
		if seen[rel] {
			continue
		}
		if err := w.col.Delete(ctx, nil, nil, rel); err != nil {
			w.log.Warn("failed to remove stale document", "path", rel, "error", err)
			continue
		}
		delete(w.hashes, rel)
		stats.Removed++
	}

	stats.Duration = time.Since(start)
	w.log.Debug("workspace sync",
		"scanned", stats.Scanned, "indexed", stats.Indexed,
		"removed", stats.Removed, "unchanged", stats.Unchanged,
		"duration", stats.Duration)
	return stats, nil
}

// Query returns the top snippets for a free-text query.
func (w *Workspace) Query(ctx context.Context, query string, maxResults int) ([]Snippet, error) {
	if maxResults <= 0 {
		maxResults = defaultTopK
	}
	w.mu.Lock()
	count := w.col.Count()
	w.mu.Unlock()
	if count == 0 {
		return nil, nil
	}
	if maxResults > count {
		maxResults = count
	}

	results, err := w.col.Query(ctx, query, maxResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("rag: query: %w", err)
	}

	out := make([]Snippet, 0, len(results))
	for _, r := range results {
		out = append(out, Snippet{
			Path:    r.Metadata["path"],
			Content: r.Content,
			Score:   r.Similarity,
		})
	}
	return out, nil
}

func (w *Workspace) Close() error { return nil }

// isText rejects files with NUL bytes in the first KB.
func isText(content []byte) bool {
	n := len(content)
	if n > 1024 {
		n = 1024
	}
	for _, b := range content[:n] {
		if b == 0 {
			return false
		}
	}
	return true
}
