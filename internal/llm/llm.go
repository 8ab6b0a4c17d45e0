// Package llm provides chat-completion clients for hosted language models.
// Like the embedder package, backends are reached over plain HTTP: the
// orchestrator treats completion as a single request/response call, so no
// agent framework or vendor SDK is needed.
//
// Transient provider failures (rate limits, 5xx, timeouts) are retried with
// bounded exponential backoff inside the client; the orchestrator itself
// never retries.
package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem is the behavioral instruction injected by the orchestrator.
	RoleSystem Role = "system"
	// RoleUser is a message sent by the end user.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"
)

// Message is a single turn passed to or returned from the model.
type Message struct {
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
}

// Usage reports provider-side token accounting, when the provider returns it.
type Usage struct {
	// PromptTokens is the number of input tokens billed.
	PromptTokens int `json:"prompt_tokens"`
	// CompletionTokens is the number of output tokens billed.
	CompletionTokens int `json:"completion_tokens"`
	// TotalTokens is the provider-reported total.
	TotalTokens int `json:"total_tokens"`
}

// Completion is the result of a chat-completion call.
type Completion struct {
	// Content is the assistant reply text.
	Content string
	// Usage is token accounting; nil when the provider does not report it.
	Usage *Usage
}

// Options tunes a single completion call.
type Options struct {
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
	// MaxTokens caps the number of generated tokens (0 = provider default).
	MaxTokens int
}

// Client is the interface the orchestrator calls to complete a conversation.
// Implementations must be safe to call from multiple goroutines.
type Client interface {
	// Complete sends the ordered message list and returns the completion.
	Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error)

	// Ping checks whether the backend is reachable. Used by GET /api/ready.
	Ping(ctx context.Context) error

	// Name returns a short backend label ("openai", "ollama") for logs and
	// readiness responses.
	Name() string
}

// maxAttempts bounds the retry loop for transient provider errors.
const maxAttempts = 3

// errRetryable wraps provider errors that are worth retrying.
type errRetryable struct{ err error }

func (e *errRetryable) Error() string { return e.err.Error() }
func (e *errRetryable) Unwrap() error { return e.err }

// retryableStatus reports whether an HTTP status code indicates a transient
// provider condition.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// withRetry runs op with bounded exponential backoff. Only errors wrapped in
// errRetryable (or network timeouts) are retried.
func withRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var re *errRetryable
		if errors.As(err, &re) {
			return err
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

// newHTTPClient returns the HTTP client shared by completion backends.
// The generous timeout accommodates long completions.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}
