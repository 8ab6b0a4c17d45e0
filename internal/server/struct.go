package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atelier-ai/chatd/internal/index"
	"github.com/atelier-ai/chatd/internal/memory"
	"github.com/atelier-ai/chatd/internal/orchestrator"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives all Prometheus metrics. If nil a fresh registry is
	// created, which also backs GET /metrics.
	Registry *prometheus.Registry
	// Reload re-ingests the knowledge directory and returns the document
	// count. Called by POST /api/knowledge/ingest when the body names no
	// documents. Nil disables directory reload.
	Reload func(ctx context.Context) (int, error)
}

// Orchestration is the pipeline surface the chat and session handlers call.
// *orchestrator.Orchestrator satisfies it; tests inject a fake.
type Orchestration interface {
	// Chat runs one user turn through the full pipeline.
	Chat(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	// History returns the live conversation context for a session.
	History(sessionID string) (memory.Context, error)
	// ClearSession removes a session's live memory.
	ClearSession(sessionID string) error
}

// Knowledge is the index surface the knowledge handlers call.
// *index.Index satisfies it; tests inject a fake.
type Knowledge interface {
	// Stats returns the current index summary.
	Stats() index.Stats
	// Ingest chunks, embeds, and stores the given documents.
	Ingest(ctx context.Context, docs []index.SourceDocument) error
}

// Server is the HTTP server exposing the chat pipeline.
type Server struct {
	// orch is the pipeline behind /api/chat and the session routes.
	orch Orchestration
	// knowledge is the index behind the /api/knowledge routes.
	knowledge Knowledge
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Input is the user's message.
	Input string `json:"input"`
	// SessionID continues an existing conversation. Optional.
	SessionID string `json:"session_id,omitempty"`
	// Filters narrow knowledge retrieval. Optional.
	Filters index.Filters `json:"filters,omitempty"`
}

// ingestRequest is the JSON body for POST /api/knowledge/ingest.
type ingestRequest struct {
	// Documents are inline documents to ingest. When empty, the configured
	// knowledge directory is reloaded instead.
	Documents []ingestDocument `json:"documents,omitempty"`
}

// ingestDocument is one inline document in an ingest request.
type ingestDocument struct {
	// Filename is the unique document key.
	Filename string `json:"filename"`
	// Title is the display name. Optional.
	Title string `json:"title,omitempty"`
	// Content is the full document text.
	Content string `json:"content"`
	// Type is "markdown" or "text". Defaults to "text".
	Type string `json:"type,omitempty"`
}

// historyResponse is the JSON payload for GET /api/sessions/{id}/history.
type historyResponse struct {
	// SessionID is the requested session.
	SessionID string `json:"session_id"`
	// Messages are the live messages, oldest first.
	Messages []memory.Message `json:"messages"`
	// Summary is the compaction record, absent before any compaction.
	Summary *memory.Summary `json:"summary,omitempty"`
}

// envelope is the uniform response wrapper for every /api route.
type envelope struct {
	// Success is true for 2xx responses.
	Success bool `json:"success"`
	// Data carries the payload on success.
	Data any `json:"data,omitempty"`
	// Error carries the failure details when Success is false.
	Error *apiError `json:"error,omitempty"`
}

// apiError is the error half of the response envelope.
type apiError struct {
	// Code is a stable machine-readable error code.
	Code string `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
}
