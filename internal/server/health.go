package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/atelier-ai/chatd/internal/logging"
)

// probeTimeout bounds each dependency probe during a readiness check, so
// /api/ready answers quickly when a dependency is slow rather than down.
const probeTimeout = 5 * time.Second

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Ping returns nil when the dependency is healthy and a
// descriptive error otherwise. Implementations must be safe for concurrent
// use: readiness probes all dependencies at once.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	Ping(ctx context.Context) error

	// Name returns a short label used in readiness responses
	// (e.g. "ollama", "qdrant").
	Name() string
}

// MultiPinger folds several Pingers into one, for callers that hold a single
// probe slot. Its Ping fails with the first unreachable dependency.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger from the provided list of Pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping runs all registered probes sequentially and returns the first error
// encountered, or nil if all probes succeed.
func (m *MultiPinger) Ping(ctx context.Context) error {
	for _, p := range m.pingers {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

// Name returns a combined label for logging purposes.
func (m *MultiPinger) Name() string { return "multi" }

// readyCheck is the per-dependency entry in a readiness response.
type readyCheck struct {
	// Name is the dependency label (e.g. "ollama", "qdrant").
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// LatencyMS is how long the probe took, in milliseconds.
	LatencyMS int64 `json:"latency_ms"`
	// Error contains the failure reason when OK is false. Empty on success.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency probe succeeded.
	Ready bool `json:"ready"`
	// Checks contains the per-dependency probe results, in registration order.
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. Dependencies are probed concurrently,
// each bounded by probeTimeout, and the response carries every probe's
// outcome and latency. Returns 503 when any dependency is unreachable.
// Unlike /api/health (liveness), this endpoint reflects actual dependency
// state: the model provider and, when mirrored, Qdrant.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Add(1)
		go func(i int, p Pinger) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(probeCtx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				checks[i].Error = err.Error()
				log.Warn("readiness probe failed",
					slog.String("dependency", p.Name()),
					slog.Any("error", err),
				)
			}
		}(i, p)
	}
	wg.Wait()

	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("ready encode error", slog.Any("error", err))
	}
}
