// Package config provides YAML-based configuration for chatd.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. CHATD_CONFIG environment variable
//  3. ~/.chatd/config.yaml
//  4. ./chatd.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider for retrieval.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval configures the knowledge index and query behavior.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Qdrant configures the optional Qdrant vector-search mirror.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Memory configures per-session conversation memory.
	Memory MemoryConfig `yaml:"memory"`

	// Plugins configures the capability plugin dispatcher.
	Plugins PluginsConfig `yaml:"plugins"`

	// Archive configures the durable conversation archive.
	Archive ArchiveConfig `yaml:"archive"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// RetrievalConfig holds knowledge index settings.
type RetrievalConfig struct {
	// KnowledgeDir is the directory of markdown/text source documents.
	KnowledgeDir string `yaml:"knowledge_dir"`
	// CacheDir is where chunks.json / documents.json are persisted.
	// Set to "disabled" to keep the index memory-only.
	CacheDir string `yaml:"cache_dir"`
	// TopK is the number of chunks retrieved per query.
	TopK int `yaml:"top_k"`
	// MinSimilarity is the inclusive cosine score floor for results.
	MinSimilarity float64 `yaml:"min_similarity"`
	// FilterBeforeRank switches post-ranking filters to filter-then-rank.
	FilterBeforeRank bool `yaml:"filter_before_rank"`
	// ChunkStrategy selects the chunking strategy: fixed_size, sentence,
	// paragraph, markdown_section.
	ChunkStrategy string `yaml:"chunk_strategy"`
	// ChunkSize is the maximum characters per chunk.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the characters reused between consecutive fixed-size chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// Watch enables the fsnotify watcher on KnowledgeDir.
	Watch bool `yaml:"watch"`
}

// QdrantConfig holds optional Qdrant mirror settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Empty disables the mirror.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// MemoryConfig holds session memory settings.
type MemoryConfig struct {
	// MaxMessages is the per-session live message ceiling before compaction.
	MaxMessages int `yaml:"max_messages"`
	// SummaryThreshold is the live message count kept after compaction.
	SummaryThreshold int `yaml:"summary_threshold"`
	// SessionTTLMinutes evicts sessions idle longer than this.
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
	// SweepIntervalMinutes is how often the TTL sweep runs.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

// PluginsConfig holds plugin dispatcher settings.
type PluginsConfig struct {
	// MaxPerRequest caps how many activated plugins run per request.
	MaxPerRequest int `yaml:"max_per_request"`
	// TimeoutMS bounds each plugin execution in milliseconds.
	TimeoutMS int `yaml:"timeout_ms"`
	// Parallel runs selected plugins concurrently instead of in sequence.
	Parallel bool `yaml:"parallel"`
	// WeatherAPIKey enables live weather lookups. Prefer env var WEATHER_API_KEY.
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// ArchiveConfig holds conversation archive settings.
type ArchiveConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var CHATD_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the sustained per-IP request rate (requests/second).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the maximum instantaneous per-IP burst.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"KNOWLEDGE_DIR", func(c *Config) string { return c.Retrieval.KnowledgeDir }},
	{"KNOWLEDGE_CACHE_DIR", func(c *Config) string { return c.Retrieval.CacheDir }},
	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RETRIEVAL_MIN_SIMILARITY", func(c *Config) string { return float64Str(c.Retrieval.MinSimilarity) }},
	{"RETRIEVAL_FILTER_BEFORE_RANK", func(c *Config) string { return boolStr(c.Retrieval.FilterBeforeRank) }},
	{"CHUNK_STRATEGY", func(c *Config) string { return c.Retrieval.ChunkStrategy }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Retrieval.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Retrieval.ChunkOverlap) }},
	{"KNOWLEDGE_WATCH", func(c *Config) string { return boolStr(c.Retrieval.Watch) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"MEMORY_MAX_MESSAGES", func(c *Config) string { return intStr(c.Memory.MaxMessages) }},
	{"MEMORY_SUMMARY_THRESHOLD", func(c *Config) string { return intStr(c.Memory.SummaryThreshold) }},
	{"MEMORY_SESSION_TTL_MINUTES", func(c *Config) string { return intStr(c.Memory.SessionTTLMinutes) }},
	{"MEMORY_SWEEP_INTERVAL_MINUTES", func(c *Config) string { return intStr(c.Memory.SweepIntervalMinutes) }},
	{"PLUGINS_MAX_PER_REQUEST", func(c *Config) string { return intStr(c.Plugins.MaxPerRequest) }},
	{"PLUGINS_TIMEOUT_MS", func(c *Config) string { return intStr(c.Plugins.TimeoutMS) }},
	{"PLUGINS_PARALLEL", func(c *Config) string { return boolStr(c.Plugins.Parallel) }},
	{"WEATHER_API_KEY", func(c *Config) string { return c.Plugins.WeatherAPIKey }},
	{"ARCHIVE_DB_PATH", func(c *Config) string { return c.Archive.DBPath }},
	{"CHATD_HOST", func(c *Config) string { return c.Server.Host }},
	{"CHATD_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"CHATD_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"CHATD_RATE_LIMIT", func(c *Config) string { return float64Str(c.Server.RateLimit) }},
	{"CHATD_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("CHATD_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".chatd", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("chatd.yaml"); err == nil {
		return "chatd.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
