package llm

import (
	"fmt"
	"os"
	"strconv"
)

// Default chat models per backend.
const (
	defaultOllamaModel = "llama3"
	defaultOpenAIModel = "gpt-4o-mini"
)

// NewFromEnv constructs a Client by reading provider configuration from
// environment variables. MODEL_PROVIDER selects the backend; each provider
// uses its own native credential env vars.
//
// Environment variables:
//
//	MODEL_PROVIDER = ollama | openai (default: ollama)
//
//	Ollama: OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	OpenAI: OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini)
//
// Missing required credentials are a configuration error and fail here,
// never at request time.
func NewFromEnv() (Client, error) {
	backend := getEnvOrDefault("MODEL_PROVIDER", "ollama")

	switch backend {
	case "ollama":
		return NewOllamaClient(&OllamaClientConfig{
			Host:  getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
			Model: getEnvOrDefault("OLLAMA_MODEL", defaultOllamaModel),
		}), nil

	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("llm: openai requires OPENAI_API_KEY")
		}
		return NewOpenAIClient(&OpenAIClientConfig{
			APIKey: apiKey,
			Model:  getEnvOrDefault("OPENAI_MODEL", defaultOpenAIModel),
		}), nil

	default:
		return nil, fmt.Errorf("llm: unknown backend %q — valid values: ollama, openai", backend)
	}
}

// OptionsFromEnv resolves the shared completion tuning parameters.
func OptionsFromEnv() Options {
	return Options{
		Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.2),
		MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 1024),
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
