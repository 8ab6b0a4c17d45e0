// Package embedder provides clients that convert text into dense vector
// embeddings. Each implementation talks to a different backend (OpenAI,
// Ollama) via plain HTTP — no additional SDK dependencies are required.
//
// All clients honor the positional contract the retrieval index relies on:
// the returned slice is parallel to the input slice, and a partial result is
// an error, never a truncated success.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Embedder converts a batch of texts into their corresponding embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	// It fails loudly rather than returning partial results.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the declared vector size for this embedder, or 0
	// when the backend decides (Ollama models report their own size).
	Dimensions() int
}

// maxAttempts bounds the retry loop for transient provider errors.
const maxAttempts = 3

// errRetryable wraps provider errors that are worth retrying: rate limits,
// server errors, and timeouts.
type errRetryable struct{ err error }

func (e *errRetryable) Error() string { return e.err.Error() }
func (e *errRetryable) Unwrap() error { return e.err }

// retryableStatus reports whether an HTTP status code indicates a transient
// provider condition.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// withRetry runs op with bounded exponential backoff. Only errors wrapped in
// errRetryable are retried; everything else aborts immediately.
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

// newHTTPClient returns the HTTP client shared by embedding backends.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// checkBatch validates the positional contract after a successful call.
func checkBatch(backend string, want int, got int) error {
	if want != got {
		return fmt.Errorf("%s embedder: expected %d embeddings, got %d", backend, want, got)
	}
	return nil
}
