package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Cache file names under the configured cache directory.
const (
	chunksFile    = "chunks.json"
	documentsFile = "documents.json"
)

// Load reads persisted chunks and document records from the cache directory.
// A missing cache yields an empty, initialized index. A malformed cache is
// treated as empty with a warning: the knowledge directory can always be
// re-ingested, so a corrupt cache must not block startup.
func (ix *Index) Load() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.loaded = true
	if ix.cfg.CacheDir == "" {
		return nil
	}

	var chunks []EmbeddedChunk
	if err := readJSON(filepath.Join(ix.cfg.CacheDir, chunksFile), &chunks); err != nil {
		ix.log.Warn("index: chunk cache unreadable, starting empty",
			slog.Any("error", err),
		)
		chunks = nil
	}

	var docs []KnowledgeDocument
	if err := readJSON(filepath.Join(ix.cfg.CacheDir, documentsFile), &docs); err != nil {
		ix.log.Warn("index: document cache unreadable, starting empty",
			slog.Any("error", err),
		)
		docs = nil
	}

	ix.chunks = chunks
	ix.docs = make(map[string]KnowledgeDocument, len(docs))
	for _, d := range docs {
		ix.docs[d.Filename] = d
	}

	ix.log.Info("index: cache loaded",
		slog.Int("documents", len(ix.docs)),
		slog.Int("chunks", len(ix.chunks)),
	)
	return nil
}

// save writes the current state to the cache directory. Writes go through a
// temp file and rename so a crash mid-write never leaves a truncated cache.
func (ix *Index) save() error {
	if ix.cfg.CacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(ix.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("index: create cache dir: %w", err)
	}

	ix.mu.RLock()
	chunks := make([]EmbeddedChunk, len(ix.chunks))
	copy(chunks, ix.chunks)
	docs := make([]KnowledgeDocument, 0, len(ix.docs))
	for _, d := range ix.docs {
		docs = append(docs, d)
	}
	ix.mu.RUnlock()

	if err := writeJSON(filepath.Join(ix.cfg.CacheDir, chunksFile), chunks); err != nil {
		return err
	}
	return writeJSON(filepath.Join(ix.cfg.CacheDir, documentsFile), docs)
}

// readJSON decodes the file into v. A missing file is not an error; v is left
// untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("index: parse %s: %w", path, err)
	}
	return nil
}

// writeJSON atomically writes v to path as indented JSON.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("index: encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("index: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("index: rename %s: %w", tmp, err)
	}
	return nil
}
