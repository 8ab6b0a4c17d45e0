package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// OllamaClient implements Client using the Ollama /api/chat endpoint.
// It is safe for concurrent use. No API key is required — Ollama runs locally.
type OllamaClient struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the chat model name (e.g. "llama3").
	model string
	// client is the shared HTTP client.
	client *http.Client
}

// OllamaClientConfig holds the settings for constructing an OllamaClient.
type OllamaClientConfig struct {
	// Host is the Ollama server base URL.
	Host string
	// Model is the chat model name.
	Model string
}

// NewOllamaClient constructs an OllamaClient from the given config.
func NewOllamaClient(cfg *OllamaClientConfig) *OllamaClient {
	return &OllamaClient{
		host:   cfg.Host,
		model:  cfg.Model,
		client: newHTTPClient(),
	}
}

// Name returns the backend label.
func (c *OllamaClient) Name() string { return "ollama" }

// ollamaChatRequest is the JSON body sent to /api/chat.
type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

// ollamaOptions maps shared tuning onto Ollama's option names.
type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaChatResponse is the JSON body returned from /api/chat (stream=false).
type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// Complete sends the ordered message list and returns the completion.
func (c *OllamaClient) Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	payload, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	var out *Completion
	err = withRetry(ctx, func() error {
		var attemptErr error
		out, attemptErr = c.completeOnce(ctx, payload)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// completeOnce performs a single /api/chat call.
func (c *OllamaClient) completeOnce(ctx context.Context, payload []byte) (*Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		err := fmt.Errorf("ollama: %s", msg)
		if retryableStatus(resp.StatusCode) {
			return nil, &errRetryable{err: err}
		}
		return nil, err
	}

	out := &Completion{Content: result.Message.Content}
	if result.EvalCount > 0 || result.PromptEvalCount > 0 {
		out.Usage = &Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		}
	}
	return out, nil
}

// Ping probes the Ollama version endpoint.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: HTTP %d from /api/version", resp.StatusCode)
	}
	return nil
}
