package server

import (
	"context"
	"fmt"

	"github.com/atelier-ai/chatd/internal/llm"
)

// LLMPinger probes a model backend using its zero-cost health endpoint
// (Ollama's version route, OpenAI's model listing). It satisfies the Pinger
// interface and is used by GET /api/ready.
type LLMPinger struct {
	// client is the model client to probe.
	client llm.Client
}

// NewLLMPinger constructs an LLMPinger for the given model client.
func NewLLMPinger(client llm.Client) *LLMPinger {
	return &LLMPinger{client: client}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.client.Name() }

// Ping probes the model backend for readiness. No tokens are consumed.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.client.Name(), err)
	}
	return nil
}

// PingFunc adapts a plain function to the Pinger interface, used to probe
// dependencies that expose a Ping method but no name (e.g. the Qdrant
// mirror).
type PingFunc struct {
	// Label is the dependency name reported in readiness responses.
	Label string
	// Fn is the probe.
	Fn func(ctx context.Context) error
}

// Name returns the dependency label used in readiness responses.
func (p PingFunc) Name() string { return p.Label }

// Ping invokes the wrapped probe.
func (p PingFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }
