// Package server implements the HTTP server that exposes the chat pipeline
// via a JSON REST API. The server is started by the `chatd serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atelier-ai/chatd/internal/index"
	"github.com/atelier-ai/chatd/internal/logging"
	"github.com/atelier-ai/chatd/internal/orchestrator"
)

// New constructs a Server from the provided pipeline, index, and config.
func New(orch Orchestration, knowledge Knowledge, cfg *Config) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("server: orchestration must not be nil")
	}
	if knowledge == nil {
		return nil, fmt.Errorf("server: knowledge must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full model round-trip.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		orch:      orch,
		knowledge: knowledge,
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(registry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		s.log.Warn("server: CHATD_API_KEY not set, authentication disabled")
	}
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", protected("chat", s.handleChat))
	mux.Handle("GET /api/sessions/{id}/history", protected("session_history", s.handleSessionHistory))
	mux.Handle("DELETE /api/sessions/{id}", protected("session_delete", s.handleSessionDelete))
	mux.Handle("GET /api/knowledge/stats", protected("knowledge_stats", s.handleKnowledgeStats))
	mux.Handle("POST /api/knowledge/ingest", protected("knowledge_ingest", s.handleKnowledgeIngest))
	mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.instrument("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler, for tests that drive it with
// httptest instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat: one user turn through the pipeline.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadRequest, orchestrator.ErrCodeValidation, "invalid request body")
		return
	}

	result, err := s.orch.Chat(r.Context(), orchestrator.Request{
		Input:     req.Input,
		SessionID: req.SessionID,
		Filters:   req.Filters,
	})
	if err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		s.writeCodedError(w, r, err)
		return
	}

	for _, p := range result.PluginsUsed {
		outcome := "ok"
		if !p.Success {
			outcome = p.ErrorCode
		}
		s.metrics.pluginExecutionsTotal.WithLabelValues(p.Plugin, outcome).Inc()
	}
	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.chatDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	writeData(w, http.StatusOK, result)
}

// handleSessionHistory handles GET /api/sessions/{id}/history.
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hist, err := s.orch.History(id)
	if err != nil {
		s.writeCodedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, historyResponse{
		SessionID: id,
		Messages:  hist.Messages,
		Summary:   hist.Summary,
	})
}

// handleSessionDelete handles DELETE /api/sessions/{id}.
func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.ClearSession(id); err != nil {
		s.writeCodedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"session_id": id, "status": "cleared"})
}

// handleKnowledgeStats handles GET /api/knowledge/stats.
func (s *Server) handleKnowledgeStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.knowledge.Stats())
}

// handleKnowledgeIngest handles POST /api/knowledge/ingest. With inline
// documents it ingests them; with an empty body it reloads the knowledge
// directory when reload is configured.
func (s *Server) handleKnowledgeIngest(w http.ResponseWriter, r *http.Request) {
	// An empty body selects directory reload, so EOF is not an error here.
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, orchestrator.ErrCodeValidation, "invalid request body")
		return
	}

	if len(req.Documents) == 0 {
		if s.cfg.Reload == nil {
			writeError(w, http.StatusBadRequest, orchestrator.ErrCodeValidation,
				"no documents provided and directory reload is not configured")
			return
		}
		n, err := s.cfg.Reload(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, orchestrator.ErrCodeInternal, err.Error())
			return
		}
		writeData(w, http.StatusOK, map[string]any{"reloaded": true, "documents": n})
		return
	}

	docs := make([]index.SourceDocument, 0, len(req.Documents))
	for _, d := range req.Documents {
		if d.Filename == "" || d.Content == "" {
			writeError(w, http.StatusBadRequest, orchestrator.ErrCodeValidation,
				"each document needs a filename and content")
			return
		}
		docType := d.Type
		if docType == "" {
			docType = "text"
		}
		docs = append(docs, index.SourceDocument{
			Filename: d.Filename,
			Title:    d.Title,
			Content:  d.Content,
			Type:     docType,
		})
	}
	if err := s.knowledge.Ingest(r.Context(), docs); err != nil {
		writeError(w, http.StatusInternalServerError, orchestrator.ErrCodeInternal, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"ingested": len(docs)})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeCodedError maps a pipeline error to an HTTP status and envelope.
func (s *Server) writeCodedError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())

	var coded *orchestrator.CodedError
	if !errors.As(err, &coded) {
		log.Error("unclassified pipeline error", "error", err)
		writeError(w, http.StatusInternalServerError, orchestrator.ErrCodeInternal, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch coded.Code {
	case orchestrator.ErrCodeValidation:
		status = http.StatusBadRequest
	case orchestrator.ErrCodeNotFound:
		status = http.StatusNotFound
	case orchestrator.ErrCodeProvider:
		status = http.StatusBadGateway
	}
	if status >= 500 || status == http.StatusBadGateway {
		log.Error("pipeline error", "code", coded.Code, "error", err)
	}
	writeError(w, status, coded.Code, coded.Message)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeError writes a failure envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message}})
}
