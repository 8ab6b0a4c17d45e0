package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// OpenAIClient implements Client using the OpenAI chat completions REST API.
// It is safe for concurrent use.
type OpenAIClient struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1").
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// model is the chat model name (e.g. "gpt-4o-mini").
	model string
	// client is the shared HTTP client.
	client *http.Client
}

// OpenAIClientConfig holds the settings for constructing an OpenAIClient.
type OpenAIClientConfig struct {
	// BaseURL is the API base URL, default "https://api.openai.com/v1".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the chat model name.
	Model string
}

// NewOpenAIClient constructs an OpenAIClient from the given config.
func NewOpenAIClient(cfg *OpenAIClientConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  newHTTPClient(),
	}
}

// Name returns the backend label.
func (c *OpenAIClient) Name() string { return "openai" }

// openaiChatRequest is the JSON body sent to /chat/completions.
type openaiChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// openaiChatResponse is the JSON body returned from /chat/completions.
type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends the ordered message list and returns the completion.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	payload, err := json.Marshal(openaiChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
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

// completeOnce performs a single chat completion call.
func (c *OpenAIClient) completeOnce(ctx context.Context, payload []byte) (*Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		err := fmt.Errorf("openai: %s", msg)
		if retryableStatus(resp.StatusCode) {
			return nil, &errRetryable{err: err}
		}
		return nil, err
	}

	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	return &Completion{
		Content: result.Choices[0].Message.Content,
		Usage:   result.Usage,
	}, nil
}

// Ping probes the /models endpoint, which is cheap and requires valid auth.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai: HTTP %d from /models", resp.StatusCode)
	}
	return nil
}
