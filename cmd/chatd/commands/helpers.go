package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/atelier-ai/chatd/internal/chunker"
	"github.com/atelier-ai/chatd/internal/embedder"
	"github.com/atelier-ai/chatd/internal/index"
)

// getEnvOrDefault returns the env var value or fallback when unset/empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or fallback on absence or
// parse failure.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat returns the env var parsed as float64, or fallback.
func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvBool returns true when the env var is "true" or "1".
func getEnvBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}

// getEnvDuration returns the env var (in minutes) as a Duration, or fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if n := getEnvInt(key, 0); n > 0 {
		return time.Duration(n) * time.Minute
	}
	return fallback
}

// buildChunker constructs the chunker from CHUNK_* env vars.
func buildChunker() (*chunker.Chunker, error) {
	chk, err := chunker.New(chunker.Config{
		Strategy:     chunker.Strategy(getEnvOrDefault("CHUNK_STRATEGY", string(chunker.StrategyMarkdownSection))),
		MaxChunkSize: getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 100),
	})
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	return chk, nil
}

// buildIndex constructs the knowledge index from env vars, with the optional
// Qdrant mirror when QDRANT_COLLECTION is set. The returned close function
// shuts down the mirror connection, if any.
func buildIndex(ctx context.Context, emb embedder.Embedder, log *slog.Logger) (*index.Index, func(), error) {
	chk, err := buildChunker()
	if err != nil {
		return nil, nil, err
	}

	var mirror *index.QdrantMirror
	closeFn := func() {}
	if collection := os.Getenv("QDRANT_COLLECTION"); collection != "" {
		mirror, err = index.NewQdrantMirror(ctx, &index.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: collection,
			VectorSize: uint64(emb.Dimensions()),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     getEnvBool("QDRANT_TLS"),
		})
		if err != nil {
			// Mirror is an optimization; the local index always works.
			log.Warn("qdrant mirror unavailable, serving from local index", slog.Any("error", err))
			mirror = nil
		} else {
			closeFn = func() { _ = mirror.Close() }
			log.Info("qdrant mirror ready", slog.String("collection", collection))
		}
	}

	ix, err := index.New(emb, chk, mirror, index.Config{
		TopK:             getEnvInt("RETRIEVAL_TOP_K", 5),
		MinSimilarity:    getEnvFloat("RETRIEVAL_MIN_SIMILARITY", 0),
		FilterBeforeRank: getEnvBool("RETRIEVAL_FILTER_BEFORE_RANK"),
		CacheDir:         resolveCacheDir(),
		Logger:           log,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if err := ix.Load(); err != nil {
		closeFn()
		return nil, nil, err
	}
	return ix, closeFn, nil
}

// resolveCacheDir returns the index cache directory: KNOWLEDGE_CACHE_DIR
// ("disabled" keeps the index memory-only), falling back to ~/.chatd/cache,
// or empty (persistence disabled) when the home directory cannot be
// determined.
func resolveCacheDir() string {
	if dir := os.Getenv("KNOWLEDGE_CACHE_DIR"); dir != "" {
		if dir == "disabled" {
			return ""
		}
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.chatd/cache"
}
