package embedder

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

func TestOllamaEmbed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %s", req.Model)
		}
		if len(req.Input) != 2 {
			t.Errorf("batch size = %d", len(req.Input))
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3],[0.4,0.5,0.6]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text", Dimensions: 3})
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Fatalf("got %d vectors of dim %d", len(vecs), len(vecs[0]))
	}
	if vecs[1][2] != 0.6 {
		t.Errorf("vectors not parallel to input: %v", vecs)
	}
	if e.Dimensions() != 3 {
		t.Errorf("dimensions = %d", e.Dimensions())
	}
}

func TestOllamaEmbed_BatchCountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 1})
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected error for short batch")
	}
}

func TestOllamaEmbed_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"busy"}`))
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[1,0]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 2})
	vecs, err := e.Embed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 1 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server called %d times, want 2", got)
	}
}

func TestOllamaEmbed_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nope", Dimensions: 2})
	if _, err := e.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// OpenAI
// ---------------------------------------------------------------------------

func TestOpenAIEmbed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0.4,0.5]},
			{"index":0,"embedding":[0.1,0.2]}
		]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small", Dimensions: 2})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	// The provider may return items out of order; index wins.
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.4 {
		t.Errorf("vectors not ordered by index: %v", vecs)
	}
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

func TestNewFromEnv_InheritsChatProvider(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("MODEL_PROVIDER", "ollama")
	e, err := NewFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*OllamaEmbedder); !ok {
		t.Errorf("got %T, want *OllamaEmbedder", e)
	}
	if e.Dimensions() != defaultOllamaDimensions {
		t.Errorf("dimensions = %d", e.Dimensions())
	}
}

func TestNewFromEnv_ExplicitProviderWins(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	e, err := NewFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*OpenAIEmbedder); !ok {
		t.Errorf("got %T, want *OpenAIEmbedder", e)
	}
}

func TestNewFromEnv_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error without any API key")
	}

	// The embedding-specific key takes precedence over the chat key.
	t.Setenv("EMBEDDING_API_KEY", "sk-embed")
	if _, err := NewFromEnv(); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	if got := DefaultDimensions("ollama"); got != defaultOllamaDimensions {
		t.Errorf("ollama dimensions = %d", got)
	}
	if got := DefaultDimensions("openai"); got != defaultOpenAIDimensions {
		t.Errorf("openai dimensions = %d", got)
	}

	t.Setenv("EMBEDDING_DIMENSIONS", "512")
	if got := DefaultDimensions("ollama"); got != 512 {
		t.Errorf("override ignored, got %d", got)
	}
}
