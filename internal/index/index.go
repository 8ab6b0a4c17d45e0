// Package index implements the knowledge index: chunked, embedded documents
// held in memory, ranked by cosine similarity at query time, persisted as
// JSON between runs. An optional Qdrant mirror serves queries when reachable;
// the local state remains the source of truth for stats, filters, and
// replace-on-reingest.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/atelier-ai/chatd/internal/chunker"
	"github.com/atelier-ai/chatd/internal/embedder"
	"github.com/atelier-ai/chatd/internal/textnorm"
	"github.com/atelier-ai/chatd/internal/vectormath"
)

// ErrNotInitialized is returned by Query before the index has been loaded or
// ingested into.
var ErrNotInitialized = fmt.Errorf("index: not initialized")

// SourceDocument is raw input to ingestion, before chunking and embedding.
type SourceDocument struct {
	// Filename is the unique key for the document. Re-ingesting the same
	// filename replaces all of its chunks.
	Filename string
	// Title is a display name; defaults to the filename when empty.
	Title string
	// Content is the full document text.
	Content string
	// Type is the source format ("markdown", "text").
	Type string
}

// EmbeddedChunk is one stored chunk with its vector.
type EmbeddedChunk struct {
	// ID is "<filename>:<ordinal>".
	ID string `json:"id"`
	// Filename is the owning document key.
	Filename string `json:"filename"`
	// Text is the chunk content.
	Text string `json:"text"`
	// Start is the byte offset of the chunk in the cleaned document.
	Start int `json:"start"`
	// Length is the chunk length in bytes.
	Length int `json:"length"`
	// Section is the owning markdown section heading, when known.
	Section string `json:"section,omitempty"`
	// Vector is the embedding.
	Vector []float32 `json:"vector"`
	// CreatedAt is the ingestion time, UTC.
	CreatedAt time.Time `json:"created_at"`
}

// KnowledgeDocument is the stored per-document record.
type KnowledgeDocument struct {
	// Filename is the unique document key.
	Filename string `json:"filename"`
	// Title is the display name.
	Title string `json:"title"`
	// Type is the source format.
	Type string `json:"type"`
	// ChunkCount is how many chunks the document produced.
	ChunkCount int `json:"chunk_count"`
	// IngestedAt is when the document was last (re)ingested, UTC.
	IngestedAt time.Time `json:"ingested_at"`
}

// Filters narrow a query's candidate set. Zero values mean "no constraint".
type Filters struct {
	// Filenames restricts results to the named documents.
	Filenames []string `json:"filenames,omitempty"`
	// Sections restricts results to chunks from the named sections.
	Sections []string `json:"sections,omitempty"`
	// After keeps only chunks ingested at or after this time.
	After time.Time `json:"after,omitempty"`
	// Before keeps only chunks ingested strictly before this time.
	Before time.Time `json:"before,omitempty"`
}

// empty reports whether no constraint is set.
func (f Filters) empty() bool {
	return len(f.Filenames) == 0 && len(f.Sections) == 0 && f.After.IsZero() && f.Before.IsZero()
}

// match reports whether the chunk passes every set constraint.
func (f Filters) match(c EmbeddedChunk) bool {
	if len(f.Filenames) > 0 && !containsString(f.Filenames, c.Filename) {
		return false
	}
	if len(f.Sections) > 0 && !containsString(f.Sections, c.Section) {
		return false
	}
	if !f.After.IsZero() && c.CreatedAt.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && !c.CreatedAt.Before(f.Before) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// QueryOptions tune a single query. Zero values fall back to the index
// configuration.
type QueryOptions struct {
	// TopK caps the number of results.
	TopK int
	// MinSimilarity drops results scoring below this (inclusive keep).
	MinSimilarity float64
	// Filters narrow the result set.
	Filters Filters
}

// SimilarityResult is one ranked query hit.
type SimilarityResult struct {
	// Chunk is the matched chunk. Vector is included; callers that serialize
	// results usually drop it.
	Chunk EmbeddedChunk `json:"chunk"`
	// Score is the cosine similarity in [-1, 1].
	Score float64 `json:"score"`
	// Rank is the 1-based position among returned results.
	Rank int `json:"rank"`
}

// Stats is the read-only index summary.
type Stats struct {
	// Documents is the stored document count.
	Documents int `json:"documents"`
	// Chunks is the stored chunk count.
	Chunks int `json:"chunks"`
	// AverageChunkSize is the mean chunk length in bytes, 0 when empty.
	AverageChunkSize float64 `json:"average_chunk_size"`
	// Dimensions is the embedding dimensionality, 0 when empty.
	Dimensions int `json:"dimensions"`
	// Filenames lists the indexed documents, sorted.
	Filenames []string `json:"filenames"`
	// LastIngest is the most recent ingestion time, zero when empty.
	LastIngest time.Time `json:"last_ingest,omitempty"`
}

// Config holds index settings.
type Config struct {
	// TopK is the default result cap. Defaults to 5 if zero.
	TopK int
	// MinSimilarity is the default score floor.
	MinSimilarity float64
	// FilterBeforeRank applies filters to the candidate set before ranking
	// instead of to the ranked results. Off by default: ranking first keeps
	// scores comparable across filtered and unfiltered queries.
	FilterBeforeRank bool
	// CacheDir is where chunks.json and documents.json live. Empty disables
	// persistence.
	CacheDir string
	// Logger is the structured logger. If nil, slog.Default is used.
	Logger *slog.Logger
}

// Index is the in-memory knowledge index. Safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	chunks []EmbeddedChunk
	docs   map[string]KnowledgeDocument
	loaded bool

	emb    embedder.Embedder
	chk    *chunker.Chunker
	mirror *QdrantMirror
	cfg    Config
	log    *slog.Logger
}

// New constructs an Index over the given embedder and chunker. mirror may be
// nil. Call Load before serving queries so persisted state is visible.
func New(emb embedder.Embedder, chk *chunker.Chunker, mirror *QdrantMirror, cfg Config) (*Index, error) {
	if emb == nil {
		return nil, fmt.Errorf("index: embedder must not be nil")
	}
	if chk == nil {
		return nil, fmt.Errorf("index: chunker must not be nil")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Index{
		docs:   make(map[string]KnowledgeDocument),
		emb:    emb,
		chk:    chk,
		mirror: mirror,
		cfg:    cfg,
		log:    cfg.Logger,
	}, nil
}

// Ingest chunks, embeds, and stores the given documents. Each document is
// processed independently: a failure skips that document and continues with
// the rest, and the error returned (if any) wraps the first failure.
// Re-ingesting a filename replaces all of its previous chunks.
func (ix *Index) Ingest(ctx context.Context, docs []SourceDocument) error {
	var firstErr error
	ingested := 0

	for _, doc := range docs {
		if err := ix.ingestOne(ctx, doc); err != nil {
			ix.log.Warn("index: document ingestion failed",
				slog.String("filename", doc.Filename),
				slog.Any("error", err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ingested++
	}

	if ingested > 0 {
		if err := ix.save(); err != nil {
			ix.log.Warn("index: persist failed", slog.Any("error", err))
		}
	}
	if firstErr != nil {
		return fmt.Errorf("index: %d of %d documents failed, first: %w",
			len(docs)-ingested, len(docs), firstErr)
	}
	return nil
}

// ingestOne processes a single document end to end.
func (ix *Index) ingestOne(ctx context.Context, doc SourceDocument) error {
	if doc.Filename == "" {
		return fmt.Errorf("document has no filename")
	}

	// Chunking sees the cleaned text with markup intact so section headings
	// survive; markup is stripped per-chunk before embedding.
	cleaned := textnorm.Clean(doc.Content)
	pieces := ix.chk.Chunk(doc.Filename, cleaned)
	if len(pieces) == 0 {
		return fmt.Errorf("document %s produced no chunks", doc.Filename)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = textnorm.StripMarkup(p.Text)
	}
	vectors, err := ix.emb.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", doc.Filename, err)
	}
	if len(vectors) != len(pieces) {
		return fmt.Errorf("embed %s: got %d vectors for %d chunks", doc.Filename, len(vectors), len(pieces))
	}

	now := time.Now().UTC()
	embedded := make([]EmbeddedChunk, len(pieces))
	for i, p := range pieces {
		if err := validVector(vectors[i]); err != nil {
			return fmt.Errorf("embed %s chunk %d: %w", doc.Filename, i, err)
		}
		embedded[i] = EmbeddedChunk{
			ID:        p.ID,
			Filename:  doc.Filename,
			Text:      p.Text,
			Start:     p.Start,
			Length:    p.Length,
			Section:   p.Section,
			Vector:    vectors[i],
			CreatedAt: now,
		}
	}

	title := doc.Title
	if title == "" {
		title = doc.Filename
	}
	record := KnowledgeDocument{
		Filename:   doc.Filename,
		Title:      title,
		Type:       doc.Type,
		ChunkCount: len(embedded),
		IngestedAt: now,
	}

	ix.mu.Lock()
	ix.removeChunksLocked(doc.Filename)
	ix.chunks = append(ix.chunks, embedded...)
	ix.docs[doc.Filename] = record
	ix.loaded = true
	ix.mu.Unlock()

	if ix.mirror != nil {
		if err := ix.mirror.Replace(ctx, doc.Filename, embedded); err != nil {
			// Mirror divergence is tolerated; queries fall back to local.
			ix.log.Warn("index: qdrant mirror update failed",
				slog.String("filename", doc.Filename),
				slog.Any("error", err),
			)
		}
	}

	ix.log.Info("index: document ingested",
		slog.String("filename", doc.Filename),
		slog.Int("chunks", len(embedded)),
	)
	return nil
}

// Remove deletes a document and its chunks. Returns false when the filename
// was not indexed.
func (ix *Index) Remove(ctx context.Context, filename string) bool {
	ix.mu.Lock()
	_, ok := ix.docs[filename]
	if ok {
		ix.removeChunksLocked(filename)
		delete(ix.docs, filename)
	}
	ix.mu.Unlock()
	if !ok {
		return false
	}

	if ix.mirror != nil {
		if err := ix.mirror.DeleteByFilename(ctx, filename); err != nil {
			ix.log.Warn("index: qdrant mirror delete failed",
				slog.String("filename", filename),
				slog.Any("error", err),
			)
		}
	}
	if err := ix.save(); err != nil {
		ix.log.Warn("index: persist failed", slog.Any("error", err))
	}
	return true
}

// removeChunksLocked drops every chunk owned by filename. Caller holds the
// write lock.
func (ix *Index) removeChunksLocked(filename string) {
	kept := ix.chunks[:0]
	for _, c := range ix.chunks {
		if c.Filename != filename {
			kept = append(kept, c)
		}
	}
	// Zero the tail so dropped vectors are collectable.
	for i := len(kept); i < len(ix.chunks); i++ {
		ix.chunks[i] = EmbeddedChunk{}
	}
	ix.chunks = kept
}

// Query embeds the query text and returns the top-ranked chunks. Filters are
// applied after ranking unless the index is configured to filter first.
func (ix *Index) Query(ctx context.Context, query string, opts QueryOptions) ([]SimilarityResult, error) {
	ix.mu.RLock()
	loaded := ix.loaded
	ix.mu.RUnlock()
	if !loaded {
		return nil, ErrNotInitialized
	}

	cleaned := textnorm.CleanQuery(query)
	if cleaned == "" {
		return nil, fmt.Errorf("index: query is empty after normalization")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = ix.cfg.TopK
	}
	minSim := opts.MinSimilarity
	if minSim == 0 {
		minSim = ix.cfg.MinSimilarity
	}

	vectors, err := ix.emb.Embed(ctx, []string{cleaned})
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("index: embedder returned %d vectors for one query", len(vectors))
	}
	qv := vectors[0]
	if err := validVector(qv); err != nil {
		return nil, fmt.Errorf("index: query vector: %w", err)
	}

	if ix.mirror != nil && (opts.Filters.empty() || !ix.cfg.FilterBeforeRank) {
		results, err := ix.mirror.Search(ctx, qv, topK, minSim)
		if err == nil {
			return applyPostFilters(results, opts.Filters, ix.cfg.FilterBeforeRank), nil
		}
		ix.log.Warn("index: qdrant mirror query failed, falling back to local",
			slog.Any("error", err),
		)
	}

	return ix.queryLocal(qv, topK, minSim, opts.Filters)
}

// queryLocal ranks against the in-memory chunk set.
func (ix *Index) queryLocal(qv []float32, topK int, minSim float64, filters Filters) ([]SimilarityResult, error) {
	ix.mu.RLock()
	var candidates []EmbeddedChunk
	if ix.cfg.FilterBeforeRank && !filters.empty() {
		for _, c := range ix.chunks {
			if filters.match(c) {
				candidates = append(candidates, c)
			}
		}
	} else {
		candidates = make([]EmbeddedChunk, len(ix.chunks))
		copy(candidates, ix.chunks)
	}
	ix.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, nil
	}

	vecs := make([][]float32, len(candidates))
	for i, c := range candidates {
		vecs[i] = c.Vector
	}
	scored, err := vectormath.TopKSimilar(qv, vecs, topK, minSim)
	if err != nil {
		return nil, fmt.Errorf("index: rank: %w", err)
	}

	results := make([]SimilarityResult, 0, len(scored))
	for _, s := range scored {
		results = append(results, SimilarityResult{
			Chunk: candidates[s.Index],
			Score: s.Score,
			Rank:  s.Rank,
		})
	}
	return applyPostFilters(results, filters, ix.cfg.FilterBeforeRank), nil
}

// applyPostFilters narrows ranked results when filtering runs after ranking.
// Ranks are preserved from the unfiltered ranking, so callers can see that a
// hit was, say, rank 4 overall even if it is the only one returned.
func applyPostFilters(results []SimilarityResult, filters Filters, filteredBefore bool) []SimilarityResult {
	if filteredBefore || filters.empty() {
		return results
	}
	out := results[:0]
	for _, r := range results {
		if filters.match(r.Chunk) {
			out = append(out, r)
		}
	}
	return out
}

// Documents returns the stored document records, in unspecified order.
func (ix *Index) Documents() []KnowledgeDocument {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]KnowledgeDocument, 0, len(ix.docs))
	for _, d := range ix.docs {
		out = append(out, d)
	}
	return out
}

// Stats returns the current index summary.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	st := Stats{
		Documents: len(ix.docs),
		Chunks:    len(ix.chunks),
		Filenames: make([]string, 0, len(ix.docs)),
	}
	if len(ix.chunks) > 0 {
		st.Dimensions = len(ix.chunks[0].Vector)
		total := 0
		for _, c := range ix.chunks {
			total += c.Length
		}
		st.AverageChunkSize = float64(total) / float64(len(ix.chunks))
	}
	for name, d := range ix.docs {
		st.Filenames = append(st.Filenames, name)
		if d.IngestedAt.After(st.LastIngest) {
			st.LastIngest = d.IngestedAt
		}
	}
	sort.Strings(st.Filenames)
	return st
}

// MirrorPing returns the Qdrant mirror's readiness probe, or nil when no
// mirror is attached.
func (ix *Index) MirrorPing() func(ctx context.Context) error {
	if ix.mirror == nil {
		return nil
	}
	return ix.mirror.Ping
}

// validVector rejects empty vectors and non-finite components.
func validVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("vector is empty")
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("vector component %d is not finite", i)
		}
	}
	return nil
}
