// Package textnorm normalizes raw document and query text before chunking
// and embedding: whitespace collapse, control-character stripping, smart
// punctuation folding, and lightweight markup removal.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

// punctFold maps typographic punctuation to its plain-ASCII equivalent so
// embeddings of pasted rich text and hand-typed queries land close together.
var punctFold = strings.NewReplacer(
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"–", "-", // en dash
	"—", "-", // em dash
	"…", "...", // ellipsis
	" ", " ", // non-breaking space
)

var (
	// multiSpace collapses runs of spaces and tabs.
	multiSpace = regexp.MustCompile(`[ \t]+`)
	// multiNewline collapses 3+ newlines to a paragraph break.
	multiNewline = regexp.MustCompile(`\n{3,}`)

	// Markdown constructs stripped by StripMarkup. Headings are kept (the
	// markdown_section chunk strategy needs them); inline decoration goes.
	mdImage     = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLink      = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdCodeFence = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\n?(.*?)```")
	mdEmphasis  = regexp.MustCompile(`(\*\*|__|\*|_)([^*_]+)(\*\*|__|\*|_)`)
	htmlTag     = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
)

// Clean collapses whitespace, strips control characters, and folds smart
// quotes/dashes/ellipses to ASCII. Line structure is preserved (paragraph
// and heading boundaries survive) so the chunker can still see it.
func Clean(s string) string {
	s = punctFold.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()

	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// StripMarkup removes markdown inline decoration and HTML tags while keeping
// the readable text. Heading markers are preserved.
func StripMarkup(s string) string {
	s = mdImage.ReplaceAllString(s, "")
	s = mdCodeFence.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdEmphasis.ReplaceAllString(s, "$2")
	s = htmlTag.ReplaceAllString(s, "")
	return s
}

// CleanQuery prepares a user query for embedding: markup stripping is
// skipped (queries are plain text) but whitespace and punctuation are
// normalized the same way as document text.
func CleanQuery(s string) string {
	return Clean(s)
}
