package index

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/atelier-ai/chatd/internal/chunker"
	"github.com/atelier-ai/chatd/internal/vectormath"
)

// ---------------------------------------------------------------------------
// Fake embedder
// ---------------------------------------------------------------------------

// fakeEmbedder produces deterministic vectors from text content: identical
// texts embed identically, and shared words pull vectors together, which is
// enough signal for ranking assertions.
type fakeEmbedder struct {
	dims int
	err  error
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dims)
		for _, word := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			v[h.Sum32()%uint32(f.dims)] += 1
		}
		out[i] = vectormath.Normalize(v)
	}
	return out, nil
}

func newTestIndex(t *testing.T, cfg Config) *Index {
	t.Helper()
	chk, err := chunker.New(chunker.Config{Strategy: chunker.StrategyParagraph, MaxChunkSize: 200})
	if err != nil {
		t.Fatal(err)
	}
	ix, err := New(&fakeEmbedder{dims: 64}, chk, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Load(); err != nil {
		t.Fatal(err)
	}
	return ix
}

func testDocs() []SourceDocument {
	return []SourceDocument{
		{Filename: "go.md", Title: "Go", Type: "markdown",
			Content: "Goroutines are lightweight threads managed by the runtime.\n\nChannels synchronize goroutine communication."},
		{Filename: "db.md", Title: "Databases", Type: "markdown",
			Content: "Postgres replication copies data between servers.\n\nIndexes speed up query execution."},
		{Filename: "net.txt", Type: "text",
			Content: "TCP provides reliable ordered byte streams.\n\nUDP trades reliability for latency."},
	}
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

func TestIngestAndStats(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	if err := ix.Ingest(context.Background(), testDocs()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	st := ix.Stats()
	if st.Documents != 3 {
		t.Errorf("got %d documents, want 3", st.Documents)
	}
	if st.Chunks < 3 {
		t.Errorf("got %d chunks, want at least one per document", st.Chunks)
	}
	if st.Dimensions != 64 {
		t.Errorf("got dimensions %d, want 64", st.Dimensions)
	}
	if st.AverageChunkSize <= 0 {
		t.Errorf("got average chunk size %v, want positive", st.AverageChunkSize)
	}
	if want := []string{"db.md", "go.md", "net.txt"}; !reflect.DeepEqual(st.Filenames, want) {
		t.Errorf("got filenames %v, want %v", st.Filenames, want)
	}
	if st.LastIngest.IsZero() {
		t.Error("expected LastIngest set")
	}
}

func TestIngest_ReplaceByFilename(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	ctx := context.Background()

	if err := ix.Ingest(ctx, []SourceDocument{{
		Filename: "doc.md", Type: "markdown",
		Content: "Original content about alpha.\n\nMore original text about alpha.",
	}}); err != nil {
		t.Fatal(err)
	}
	before := ix.Stats().Chunks

	if err := ix.Ingest(ctx, []SourceDocument{{
		Filename: "doc.md", Type: "markdown",
		Content: "Replacement text about beta.",
	}}); err != nil {
		t.Fatal(err)
	}

	st := ix.Stats()
	if st.Documents != 1 {
		t.Errorf("re-ingest must not duplicate the document: got %d", st.Documents)
	}
	if st.Chunks >= before {
		t.Errorf("old chunks not replaced: %d chunks before, %d after", before, st.Chunks)
	}

	results, err := ix.Query(ctx, "alpha original", QueryOptions{TopK: 5, MinSimilarity: -1})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if strings.Contains(r.Chunk.Text, "alpha") {
			t.Error("stale chunk survived re-ingest")
		}
	}
}

func TestIngest_PerDocumentIsolation(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	docs := []SourceDocument{
		{Filename: "good.md", Type: "markdown", Content: "Healthy document body."},
		{Filename: "", Content: "no filename"},
	}

	err := ix.Ingest(context.Background(), docs)
	if err == nil {
		t.Fatal("expected aggregate error for the failing document")
	}
	if ix.Stats().Documents != 1 {
		t.Errorf("healthy document should still be ingested, got %d docs", ix.Stats().Documents)
	}
}

// ---------------------------------------------------------------------------
// Query
// ---------------------------------------------------------------------------

func TestQuery_NotInitialized(t *testing.T) {
	t.Parallel()

	chk, _ := chunker.New(chunker.Config{})
	ix, err := New(&fakeEmbedder{dims: 8}, chk, nil, Config{})
	if err != nil {
		t.Fatal(err)
	}
	// Load never called.
	if _, err := ix.Query(context.Background(), "anything", QueryOptions{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
}

func TestQuery_SelfSimilarityRanksFirst(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	if err := ix.Ingest(context.Background(), testDocs()); err != nil {
		t.Fatal(err)
	}

	results, err := ix.Query(context.Background(),
		"Goroutines are lightweight threads managed by the runtime.",
		QueryOptions{TopK: 3, MinSimilarity: -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	top := results[0]
	if top.Chunk.Filename != "go.md" {
		t.Errorf("expected the matching document first, got %s", top.Chunk.Filename)
	}
	if top.Score < 0.99 {
		t.Errorf("self-query should score ~1, got %v", top.Score)
	}
	if top.Rank != 1 {
		t.Errorf("got rank %d, want 1", top.Rank)
	}
}

func TestQuery_EmptyAfterNormalization(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	_ = ix.Ingest(context.Background(), testDocs())

	if _, err := ix.Query(context.Background(), "   \n ", QueryOptions{}); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestQuery_FilenameFilterAfterRanking(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	if err := ix.Ingest(context.Background(), testDocs()); err != nil {
		t.Fatal(err)
	}

	all, err := ix.Query(context.Background(), "reliable streams and replication",
		QueryOptions{TopK: 5, MinSimilarity: -1})
	if err != nil {
		t.Fatal(err)
	}

	filtered, err := ix.Query(context.Background(), "reliable streams and replication",
		QueryOptions{TopK: 5, MinSimilarity: -1, Filters: Filters{Filenames: []string{"net.txt"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) == 0 {
		t.Fatal("expected filtered results")
	}
	if len(filtered) >= len(all) {
		t.Errorf("filter did not narrow: %d of %d", len(filtered), len(all))
	}
	for _, r := range filtered {
		if r.Chunk.Filename != "net.txt" {
			t.Errorf("filter leaked %s", r.Chunk.Filename)
		}
	}
	// Post-ranking filters keep the original ranks, so a hit that ranked
	// third overall still reports rank 3.
	for _, fr := range filtered {
		for _, ar := range all {
			if ar.Chunk.ID == fr.Chunk.ID && ar.Rank != fr.Rank {
				t.Errorf("chunk %s: rank changed from %d to %d after filtering",
					fr.Chunk.ID, ar.Rank, fr.Rank)
			}
		}
	}
}

func TestQuery_DateFilter(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	if err := ix.Ingest(context.Background(), testDocs()); err != nil {
		t.Fatal(err)
	}

	future := time.Now().UTC().Add(time.Hour)
	results, err := ix.Query(context.Background(), "goroutines",
		QueryOptions{TopK: 5, MinSimilarity: -1, Filters: Filters{After: future}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no chunks ingested after %v, got %d", future, len(results))
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	if err := ix.Ingest(context.Background(), testDocs()); err != nil {
		t.Fatal(err)
	}

	if !ix.Remove(context.Background(), "go.md") {
		t.Fatal("expected Remove to report success")
	}
	if ix.Remove(context.Background(), "go.md") {
		t.Error("second Remove should report false")
	}
	st := ix.Stats()
	if st.Documents != 2 {
		t.Errorf("got %d documents, want 2", st.Documents)
	}
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

func TestPersistence_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chk, _ := chunker.New(chunker.Config{Strategy: chunker.StrategyParagraph, MaxChunkSize: 200})
	emb := &fakeEmbedder{dims: 64}

	first, err := New(emb, chk, nil, Config{CacheDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Load(); err != nil {
		t.Fatal(err)
	}
	if err := first.Ingest(context.Background(), testDocs()); err != nil {
		t.Fatal(err)
	}
	want := first.Stats()

	// A second index over the same cache dir sees the persisted state.
	second, err := New(emb, chk, nil, Config{CacheDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Load(); err != nil {
		t.Fatal(err)
	}
	got := second.Stats()
	if got.Documents != want.Documents || got.Chunks != want.Chunks {
		t.Errorf("persisted state lost: got %+v, want %+v", got, want)
	}

	results, err := second.Query(context.Background(), "goroutines lightweight threads",
		QueryOptions{TopK: 1, MinSimilarity: -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Chunk.Filename != "go.md" {
		t.Error("reloaded index does not serve queries")
	}
}

func TestPersistence_MalformedCacheStartsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chunks.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	ix := newTestIndexWithCache(t, dir)
	if st := ix.Stats(); st.Chunks != 0 {
		t.Errorf("malformed cache must start empty, got %d chunks", st.Chunks)
	}
	// The index is still usable.
	if err := ix.Ingest(context.Background(), testDocs()[:1]); err != nil {
		t.Fatal(err)
	}
}

func TestPersistence_TimestampsAreUTC(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ix := newTestIndexWithCache(t, dir)
	if err := ix.Ingest(context.Background(), testDocs()[:1]); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "documents.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Z\"") {
		t.Errorf("timestamps should serialize as UTC RFC 3339: %s", data)
	}
}

func newTestIndexWithCache(t *testing.T, dir string) *Index {
	t.Helper()
	chk, err := chunker.New(chunker.Config{Strategy: chunker.StrategyParagraph, MaxChunkSize: 200})
	if err != nil {
		t.Fatal(err)
	}
	ix, err := New(&fakeEmbedder{dims: 64}, chk, nil, Config{CacheDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Load(); err != nil {
		t.Fatal(err)
	}
	return ix
}

func TestIngest_EmbedFailure(t *testing.T) {
	t.Parallel()

	chk, _ := chunker.New(chunker.Config{})
	ix, err := New(&fakeEmbedder{dims: 8, err: fmt.Errorf("backend down")}, chk, nil, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Load(); err != nil {
		t.Fatal(err)
	}
	if err := ix.Ingest(context.Background(), testDocs()[:1]); err == nil {
		t.Error("expected embed failure to surface")
	}
	if ix.Stats().Documents != 0 {
		t.Error("failed document must not be stored")
	}
}
