// Package chunker splits cleaned document text into bounded-size passages.
// Four strategies are supported: fixed_size (sliding window with overlap),
// sentence (greedy sentence packing), paragraph (greedy paragraph packing
// with sentence fallback), and markdown_section (heading-aware splitting).
// Chunking is deterministic: identical input and config always produce the
// identical chunk sequence.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// Strategy selects how a document is split into chunks.
type Strategy string

const (
	// StrategyFixedSize slides a fixed-width window over the text, reusing
	// ChunkOverlap characters at the start of each subsequent window.
	StrategyFixedSize Strategy = "fixed_size"
	// StrategySentence greedily packs whole sentences up to MaxChunkSize.
	StrategySentence Strategy = "sentence"
	// StrategyParagraph greedily packs whole paragraphs up to MaxChunkSize,
	// splitting an oversized paragraph by sentence.
	StrategyParagraph Strategy = "paragraph"
	// StrategyMarkdownSection splits on markdown headings, one section per
	// chunk, with oversized sections split by paragraph.
	StrategyMarkdownSection Strategy = "markdown_section"
)

// Chunk is a contiguous span of a source document. Chunks are immutable
// once created; re-ingesting a document discards and regenerates them.
type Chunk struct {
	// ID is a stable identifier derived from the source name and ordinal.
	ID string `json:"id"`
	// Text is the chunk content. Never empty.
	Text string `json:"text"`
	// Start is the byte offset of the chunk in the cleaned source text.
	Start int `json:"start"`
	// Length is len(Text).
	Length int `json:"length"`
	// Section is the markdown heading this chunk belongs to, when the
	// markdown_section strategy produced it. Empty otherwise.
	Section string `json:"section,omitempty"`
}

// Config holds the chunking parameters.
type Config struct {
	// Strategy selects the splitting algorithm.
	Strategy Strategy
	// MaxChunkSize is the maximum chunk length in characters.
	MaxChunkSize int
	// ChunkOverlap is the number of characters reused at the start of the
	// next fixed-size window. Must be < MaxChunkSize.
	ChunkOverlap int
	// PreserveBoundaries pulls a fixed-size window's end back to the last
	// sentence terminator in the window's second half.
	PreserveBoundaries bool
}

// Chunker splits text according to a validated Config.
type Chunker struct {
	cfg Config
}

// sentenceEnd matches a sentence with its terminator. The trailing
// non-terminated remainder of a text is handled separately.
var sentenceEnd = regexp.MustCompile(`[^.!?]+[.!?]+(?:\s|$)`)

// headingLine matches a markdown heading line (# through ######).
var headingLine = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// New validates cfg and returns a Chunker. Bad chunking parameters are a
// configuration error and fail here, never at chunk time.
func New(cfg Config) (*Chunker, error) {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("chunker: overlap %d must be smaller than max chunk size %d",
			cfg.ChunkOverlap, cfg.MaxChunkSize)
	}
	switch cfg.Strategy {
	case "":
		cfg.Strategy = StrategyMarkdownSection
	case StrategyFixedSize, StrategySentence, StrategyParagraph, StrategyMarkdownSection:
	default:
		return nil, fmt.Errorf("chunker: unknown strategy %q — valid values: fixed_size, sentence, paragraph, markdown_section", cfg.Strategy)
	}
	return &Chunker{cfg: cfg}, nil
}

// Chunk splits text into an ordered chunk sequence. Empty or whitespace-only
// input yields zero chunks, not an error.
func (c *Chunker) Chunk(source, text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var spans []span
	switch c.cfg.Strategy {
	case StrategyFixedSize:
		spans = c.fixedSize(text)
	case StrategySentence:
		spans = c.bySentence(text, 0)
	case StrategyParagraph:
		spans = c.byParagraph(text, 0)
	case StrategyMarkdownSection:
		spans = c.byMarkdownSection(text)
	}

	chunks := make([]Chunk, 0, len(spans))
	for i, sp := range spans {
		if sp.text == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:      fmt.Sprintf("%s:%d", source, i),
			Text:    sp.text,
			Start:   sp.start,
			Length:  len(sp.text),
			Section: sp.section,
		})
	}
	return chunks
}

// span is an intermediate chunk before IDs are assigned.
type span struct {
	text    string
	start   int
	section string
}

// fixedSize slides a window of MaxChunkSize over text. Each subsequent
// window re-reads ChunkOverlap characters from the end of the previous one.
// With PreserveBoundaries the window end is pulled back to the last sentence
// terminator found in the second half of the window, never before the
// midpoint, which bounds chunk-count growth.
func (c *Chunker) fixedSize(text string) []span {
	size := c.cfg.MaxChunkSize
	overlap := c.cfg.ChunkOverlap

	var out []span
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			out = append(out, span{text: text[start:], start: start})
			break
		}

		if c.cfg.PreserveBoundaries {
			if cut := lastTerminator(text[start:end]); cut > size/2 {
				end = start + cut
			}
		}

		out = append(out, span{text: text[start:end], start: start})
		next := end - overlap
		if next <= start {
			// Guard against a zero-advance loop when overlap eats the
			// whole boundary-adjusted window.
			next = start + 1
		}
		start = next
	}
	return out
}

// lastTerminator returns the index just past the last sentence terminator in
// s, or -1 if s contains none.
func lastTerminator(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			return i + 1
		}
	}
	return -1
}

// bySentence greedily packs whole sentences into chunks of at most
// MaxChunkSize characters. A single sentence longer than MaxChunkSize
// becomes its own oversized chunk — searchability beats strict size.
func (c *Chunker) bySentence(text string, base int) []span {
	sents := splitSentences(text)
	if len(sents) == 0 {
		return nil
	}

	var out []span
	cur := sents[0]
	for _, s := range sents[1:] {
		// +1 for the joining space.
		if len(cur.text)+1+len(s.text) > c.cfg.MaxChunkSize {
			out = append(out, span{text: cur.text, start: base + cur.start})
			cur = s
			continue
		}
		cur.text = cur.text + " " + s.text
	}
	out = append(out, span{text: cur.text, start: base + cur.start})
	return out
}

// byParagraph greedily packs whole paragraphs. An oversized single paragraph
// is recursively split by the sentence strategy.
func (c *Chunker) byParagraph(text string, base int) []span {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var out []span
	var cur *piece
	flush := func() {
		if cur != nil {
			out = append(out, span{text: cur.text, start: base + cur.start})
			cur = nil
		}
	}

	for _, p := range paras {
		if len(p.text) > c.cfg.MaxChunkSize {
			flush()
			out = append(out, c.bySentence(p.text, base+p.start)...)
			continue
		}
		if cur == nil {
			cp := p
			cur = &cp
			continue
		}
		if len(cur.text)+2+len(p.text) > c.cfg.MaxChunkSize {
			flush()
			cp := p
			cur = &cp
			continue
		}
		cur.text = cur.text + "\n\n" + p.text
	}
	flush()
	return out
}

// byMarkdownSection splits on heading lines. Each section becomes one chunk
// carrying its heading as metadata; an oversized section is split by the
// paragraph strategy with every sub-chunk retaining the parent heading.
func (c *Chunker) byMarkdownSection(text string) []span {
	secs := splitSections(text)

	var out []span
	for _, sec := range secs {
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}
		if len(body) <= c.cfg.MaxChunkSize {
			out = append(out, span{text: body, start: sec.start, section: sec.heading})
			continue
		}
		for _, sub := range c.byParagraph(body, sec.start) {
			sub.section = sec.heading
			out = append(out, sub)
		}
	}
	return out
}

// piece is a sentence or paragraph with its offset in the parent text.
type piece struct {
	text  string
	start int
}

// splitSentences returns trimmed sentences with their offsets. Text with no
// sentence terminator at all is returned as a single piece.
func splitSentences(text string) []piece {
	locs := sentenceEnd.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		t := strings.TrimSpace(text)
		if t == "" {
			return nil
		}
		return []piece{{text: t, start: leadingSpace(text)}}
	}

	var out []piece
	consumed := 0
	for _, loc := range locs {
		raw := text[loc[0]:loc[1]]
		t := strings.TrimSpace(raw)
		if t != "" {
			out = append(out, piece{text: t, start: loc[0] + leadingSpace(raw)})
		}
		consumed = loc[1]
	}
	// Trailing text without a terminator still belongs to the document.
	if rest := strings.TrimSpace(text[consumed:]); rest != "" {
		raw := text[consumed:]
		out = append(out, piece{text: rest, start: consumed + leadingSpace(raw)})
	}
	return out
}

// splitParagraphs splits on blank lines, returning trimmed paragraphs with
// their offsets.
func splitParagraphs(text string) []piece {
	var out []piece
	offset := 0
	for _, block := range strings.Split(text, "\n\n") {
		t := strings.TrimSpace(block)
		if t != "" {
			out = append(out, piece{text: t, start: offset + leadingSpace(block)})
		}
		offset += len(block) + 2
	}
	return out
}

// section is a markdown section: its heading text and body span.
type section struct {
	heading string
	body    string
	start   int
}

// splitSections carves text into heading-delimited sections. Text before the
// first heading becomes a section with no heading.
func splitSections(text string) []section {
	locs := headingLine.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []section{{body: text}}
	}

	var out []section
	if pre := text[:locs[0][0]]; strings.TrimSpace(pre) != "" {
		out = append(out, section{body: pre})
	}
	for i, loc := range locs {
		heading := strings.TrimSpace(text[loc[4]:loc[5]])
		bodyStart := loc[1]
		bodyEnd := len(text)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		out = append(out, section{
			heading: heading,
			body:    text[bodyStart:bodyEnd],
			start:   bodyStart,
		})
	}
	return out
}

// leadingSpace counts the leading whitespace bytes of s.
func leadingSpace(s string) int {
	n := 0
	for n < len(s) && (s[n] == ' ' || s[n] == '\n' || s[n] == '\t') {
		n++
	}
	return n
}
