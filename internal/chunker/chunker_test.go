package chunker

import (
	"strings"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"valid fixed", Config{Strategy: StrategyFixedSize, MaxChunkSize: 100, ChunkOverlap: 20}, false},
		{"overlap equals size", Config{MaxChunkSize: 100, ChunkOverlap: 100}, true},
		{"overlap exceeds size", Config{MaxChunkSize: 100, ChunkOverlap: 150}, true},
		{"unknown strategy", Config{Strategy: "semantic"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Errorf("New(%+v) error = %v, wantErr %v", tc.cfg, err, tc.wantErr)
			}
		})
	}
}

func TestChunk_EmptyInput(t *testing.T) {
	t.Parallel()

	c, _ := New(Config{Strategy: StrategyFixedSize})
	if got := c.Chunk("doc.txt", "   \n\t "); got != nil {
		t.Errorf("expected nil for blank input, got %d chunks", len(got))
	}
}

func TestChunk_FixedSize_RoundTrip(t *testing.T) {
	t.Parallel()

	// With zero overlap and no boundary adjustment the concatenated chunks
	// must reconstruct the input exactly.
	text := strings.Repeat("abcdefghij", 35)
	c, err := New(Config{Strategy: StrategyFixedSize, MaxChunkSize: 100, ChunkOverlap: 0})
	if err != nil {
		t.Fatal(err)
	}

	chunks := c.Chunk("doc.txt", text)
	var sb strings.Builder
	for _, ch := range chunks {
		sb.WriteString(ch.Text)
	}
	if sb.String() != text {
		t.Error("concatenated fixed-size chunks do not reconstruct the input")
	}
	for i, ch := range chunks {
		if ch.Length != len(ch.Text) {
			t.Errorf("chunk %d: Length %d != len(Text) %d", i, ch.Length, len(ch.Text))
		}
		if ch.Length > 100 {
			t.Errorf("chunk %d exceeds max size: %d", i, ch.Length)
		}
		if text[ch.Start:ch.Start+ch.Length] != ch.Text {
			t.Errorf("chunk %d: Start offset does not point at Text", i)
		}
	}
}

func TestChunk_FixedSize_Overlap(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 250)
	c, _ := New(Config{Strategy: StrategyFixedSize, MaxChunkSize: 100, ChunkOverlap: 20})

	chunks := c.Chunk("doc.txt", text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		wantStart := chunks[i-1].Start + chunks[i-1].Length - 20
		if chunks[i].Start != wantStart {
			t.Errorf("chunk %d: start %d, want %d (80-char advance)", i, chunks[i].Start, wantStart)
		}
	}
}

func TestChunk_IDsAreOrdinal(t *testing.T) {
	t.Parallel()

	c, _ := New(Config{Strategy: StrategyFixedSize, MaxChunkSize: 50})
	chunks := c.Chunk("notes.md", strings.Repeat("y", 120))
	for i, ch := range chunks {
		want := "notes.md:" + string(rune('0'+i))
		if ch.ID != want {
			t.Errorf("chunk %d: ID %q, want %q", i, ch.ID, want)
		}
	}
}

func TestChunk_Sentence_Packing(t *testing.T) {
	t.Parallel()

	text := "First sentence here. Second sentence follows. Third one is last."
	c, _ := New(Config{Strategy: StrategySentence, MaxChunkSize: 50})

	chunks := c.Chunk("doc.txt", text)
	if len(chunks) < 2 {
		t.Fatalf("expected packing to split, got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if !strings.HasSuffix(ch.Text, ".") {
			t.Errorf("chunk %d does not end on a sentence boundary: %q", i, ch.Text)
		}
	}
}

func TestChunk_Sentence_OversizedSentenceStandsAlone(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 40) + "end."
	c, _ := New(Config{Strategy: StrategySentence, MaxChunkSize: 50})

	chunks := c.Chunk("doc.txt", "Short one. "+long)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[1].Text) <= 50 {
		t.Error("oversized sentence should be kept whole")
	}
}

func TestChunk_Paragraph(t *testing.T) {
	t.Parallel()

	text := "Paragraph one.\n\nParagraph two.\n\nParagraph three."
	c, _ := New(Config{Strategy: StrategyParagraph, MaxChunkSize: 35})

	chunks := c.Chunk("doc.txt", text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	joined := strings.Join([]string{chunks[0].Text, chunks[1].Text}, " ")
	if !strings.Contains(joined, "Paragraph one.") || !strings.Contains(joined+chunks[len(chunks)-1].Text, "Paragraph three.") {
		t.Error("paragraph content lost in chunking")
	}
}

func TestChunk_MarkdownSection(t *testing.T) {
	t.Parallel()

	text := "# Intro\n\nWelcome text.\n\n## Setup\n\nInstall the thing.\n\n## Usage\n\nRun the thing."
	c, _ := New(Config{Strategy: StrategyMarkdownSection, MaxChunkSize: 500})

	chunks := c.Chunk("guide.md", text)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 section chunks, got %d", len(chunks))
	}
	wantSections := []string{"Intro", "Setup", "Usage"}
	for i, ch := range chunks {
		if ch.Section != wantSections[i] {
			t.Errorf("chunk %d: section %q, want %q", i, ch.Section, wantSections[i])
		}
	}
}

func TestChunk_MarkdownSection_PreambleHasNoHeading(t *testing.T) {
	t.Parallel()

	text := "Preamble before any heading.\n\n# First\n\nBody."
	c, _ := New(Config{Strategy: StrategyMarkdownSection, MaxChunkSize: 500})

	chunks := c.Chunk("doc.md", text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Section != "" {
		t.Errorf("preamble chunk should carry no section, got %q", chunks[0].Section)
	}
	if chunks[1].Section != "First" {
		t.Errorf("got section %q", chunks[1].Section)
	}
}

func TestChunk_MarkdownSection_OversizedKeepsHeading(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("Sentence in a long section. ", 20)
	text := "# Big\n\n" + body
	c, _ := New(Config{Strategy: StrategyMarkdownSection, MaxChunkSize: 120})

	chunks := c.Chunk("doc.md", text)
	if len(chunks) < 2 {
		t.Fatalf("expected the oversized section split, got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Section != "Big" {
			t.Errorf("chunk %d lost its parent heading: %q", i, ch.Section)
		}
	}
}

func TestChunk_Deterministic(t *testing.T) {
	t.Parallel()

	text := "# A\n\nSome text here. More text. " + strings.Repeat("filler ", 50)
	c, _ := New(Config{Strategy: StrategyMarkdownSection, MaxChunkSize: 100})

	first := c.Chunk("doc.md", text)
	for run := 0; run < 5; run++ {
		again := c.Chunk("doc.md", text)
		if len(again) != len(first) {
			t.Fatalf("run %d: chunk count changed: %d vs %d", run, len(again), len(first))
		}
		for i := range again {
			if again[i] != first[i] {
				t.Fatalf("run %d: chunk %d differs", run, i)
			}
		}
	}
}

func TestChunk_PreserveBoundaries(t *testing.T) {
	t.Parallel()

	// A terminator sits past the window midpoint; the window should end there.
	text := strings.Repeat("a", 70) + ". " + strings.Repeat("b", 60)
	c, _ := New(Config{
		Strategy:           StrategyFixedSize,
		MaxChunkSize:       100,
		PreserveBoundaries: true,
	})

	chunks := c.Chunk("doc.txt", text)
	if len(chunks) < 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, ".") {
		t.Errorf("first chunk should end at the sentence terminator, got %q tail", chunks[0].Text[len(chunks[0].Text)-5:])
	}
}
