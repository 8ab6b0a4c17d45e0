// Package knowledge loads source documents from the local knowledge
// directory for ingestion into the index.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/atelier-ai/chatd/internal/index"
)

// extensions maps accepted file extensions to their document type. Anything
// else in the knowledge directory is ignored.
var extensions = map[string]string{
	".md":       "markdown",
	".markdown": "markdown",
	".txt":      "text",
}

// titlePattern captures the first markdown H1 heading.
var titlePattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// LoadDir reads every supported file directly under dir (non-recursive) and
// returns source documents keyed by base filename, sorted for deterministic
// ingestion order.
func LoadDir(dir string) ([]index.SourceDocument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read dir %s: %w", dir, err)
	}

	var docs []index.SourceDocument
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		doc, ok, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs, nil
}

// LoadFile reads a single file into a source document. The second return is
// false when the extension is unsupported.
func LoadFile(path string) (index.SourceDocument, bool, error) {
	docType, ok := extensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return index.SourceDocument{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return index.SourceDocument{}, false, fmt.Errorf("knowledge: read %s: %w", path, err)
	}

	content := string(data)
	doc := index.SourceDocument{
		Filename: filepath.Base(path),
		Title:    extractTitle(content, docType),
		Content:  content,
		Type:     docType,
	}
	return doc, true, nil
}

// extractTitle returns the first H1 heading for markdown, empty otherwise so
// the index falls back to the filename.
func extractTitle(content, docType string) string {
	if docType != "markdown" {
		return ""
	}
	if m := titlePattern.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// Supported reports whether the path has an ingestible extension.
func Supported(path string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
