package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// ---------------------------------------------------------------------------
// Ollama
// ---------------------------------------------------------------------------

func TestOllamaComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Stream {
			t.Error("streaming must be disabled")
		}
		if req.Model != "llama3" {
			t.Errorf("model = %s", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
			t.Errorf("messages not forwarded: %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"message":{"content":"the answer"},"prompt_eval_count":20,"eval_count":7}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(&OllamaClientConfig{Host: srv.URL, Model: "llama3"})
	out, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, Options{Temperature: 0.2})
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "the answer" {
		t.Errorf("content = %q", out.Content)
	}
	if out.Usage == nil || out.Usage.TotalTokens != 27 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestOllamaComplete_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"loading model"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":{"content":"recovered"}}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(&OllamaClientConfig{Host: srv.URL, Model: "llama3"})
	out, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "recovered" {
		t.Errorf("content = %q", out.Content)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server called %d times, want 2", got)
	}
}

func TestOllamaComplete_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unknown model"}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(&OllamaClientConfig{Host: srv.URL, Model: "nope"})
	if _, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{}); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestOllamaComplete_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(&OllamaClientConfig{Host: srv.URL, Model: "llama3"})
	if _, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != maxAttempts {
		t.Errorf("server called %d times, want %d", got, maxAttempts)
	}
}

func TestOllamaPing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(&OllamaClientConfig{Host: srv.URL, Model: "llama3"})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	srv.Close()
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected error once the server is gone")
	}
}

// ---------------------------------------------------------------------------
// OpenAI
// ---------------------------------------------------------------------------

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"bonjour"}}],
			"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(&OpenAIClientConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"})
	out, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "bonjour" {
		t.Errorf("content = %q", out.Content)
	}
	if out.Usage == nil || out.Usage.TotalTokens != 11 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestOpenAIComplete_NoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(&OpenAIClientConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	if _, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{}); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestOpenAIComplete_SurfacesAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(&OpenAIClientConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err == nil || err.Error() != "openai: invalid api key" {
		t.Errorf("got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

func TestNewFromEnv(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "ollama")
	c, err := NewFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "ollama" {
		t.Errorf("backend = %s", c.Name())
	}
}

func TestNewFromEnv_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error without OPENAI_API_KEY")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	c, err := NewFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "openai" {
		t.Errorf("backend = %s", c.Name())
	}
}

func TestNewFromEnv_UnknownBackend(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "bard")
	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("MODEL_TEMPERATURE", "0.7")
	t.Setenv("MODEL_MAX_TOKENS", "256")
	opts := OptionsFromEnv()
	if opts.Temperature != 0.7 {
		t.Errorf("temperature = %v", opts.Temperature)
	}
	if opts.MaxTokens != 256 {
		t.Errorf("max tokens = %d", opts.MaxTokens)
	}

	t.Setenv("MODEL_TEMPERATURE", "not a number")
	if got := OptionsFromEnv().Temperature; got != 0.2 {
		t.Errorf("fallback temperature = %v", got)
	}
}
