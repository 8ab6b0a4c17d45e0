// Package plugin implements the capability plugin layer: self-contained
// handlers activated by pattern-matching on input text, executed by a
// dispatcher with per-plugin timeouts.
//
// Plugins are explicitly registered — there is no reflection-based
// discovery. A handler failure (error, panic, or timeout) is converted into
// a failure result; dispatch never raises past this boundary.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/atelier-ai/chatd/internal/logging"
)

// Request is the context bundle handed to each executing plugin.
type Request struct {
	// Input is the raw user message.
	Input string
	// SessionID identifies the conversation, for handlers that care.
	SessionID string
}

// Plugin is the fixed capability interface every handler implements.
type Plugin interface {
	// Name returns the stable handler identifier (e.g. "math").
	Name() string

	// Priority ranks this handler when more plugins activate than
	// max-per-request allows. Higher runs first.
	Priority() int

	// Activate reports whether this handler applies to the input.
	// It must be cheap — pattern matching only, no I/O.
	Activate(input string) bool

	// Execute runs the capability. The returned data map is surfaced to the
	// orchestrator; summary is a one-line human-readable account used in
	// prompt assembly.
	Execute(ctx context.Context, req Request) (summary string, data map[string]any, err error)
}

// Error codes attached to failure results.
const (
	// ErrCodeTimeout marks a handler that exceeded the per-plugin timeout.
	ErrCodeTimeout = "plugin_timeout"
	// ErrCodeFailed marks a handler that returned an error or panicked.
	ErrCodeFailed = "plugin_failed"
	// ErrCodeCancelled marks a handler cut short because the surrounding
	// request ended before the per-plugin budget did.
	ErrCodeCancelled = "plugin_cancelled"
)

// Result is the outcome of one plugin execution.
type Result struct {
	// Plugin is the handler identifier.
	Plugin string `json:"plugin"`
	// Success is false for errors, panics, and timeouts.
	Success bool `json:"success"`
	// Summary is the handler's one-line account. Empty on failure.
	Summary string `json:"summary,omitempty"`
	// Data is the structured handler output. Nil on failure.
	Data map[string]any `json:"data,omitempty"`
	// ErrorCode classifies a failure (plugin_timeout, plugin_failed).
	ErrorCode string `json:"error_code,omitempty"`
	// Error is the failure message. Empty on success.
	Error string `json:"error,omitempty"`
	// Elapsed is the wall-clock execution time.
	Elapsed time.Duration `json:"elapsed"`
}

// Config holds dispatcher settings.
type Config struct {
	// MaxPerRequest caps how many activated plugins run per request.
	// Defaults to 3 if zero.
	MaxPerRequest int
	// Timeout bounds each plugin execution. Defaults to 5s if zero.
	Timeout time.Duration
	// Parallel runs selected plugins concurrently instead of in sequence.
	Parallel bool
}

// Dispatcher selects and runs plugins for an input. Registration order is
// the tie-break for equal priorities, so construction order matters.
type Dispatcher struct {
	plugins []Plugin
	cfg     Config
}

// NewDispatcher constructs a Dispatcher over the given handlers, in
// registration order.
func NewDispatcher(cfg Config, plugins ...Plugin) *Dispatcher {
	if cfg.MaxPerRequest <= 0 {
		cfg.MaxPerRequest = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Dispatcher{plugins: plugins, cfg: cfg}
}

// Plugins returns the registered handler names, in registration order.
func (d *Dispatcher) Plugins() []string {
	names := make([]string, len(d.plugins))
	for i, p := range d.plugins {
		names[i] = p.Name()
	}
	return names
}

// Dispatch runs every activated handler (up to max-per-request, ranked by
// priority with ties broken by registration order) and returns all results,
// one per executed handler, in selection order. It never returns an error:
// handler failures become failure results.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) []Result {
	selected := d.selectPlugins(req.Input)
	if len(selected) == 0 {
		return nil
	}

	results := make([]Result, len(selected))
	if d.cfg.Parallel {
		done := make(chan struct{})
		for i, p := range selected {
			go func(i int, p Plugin) {
				results[i] = d.run(ctx, p, req)
				done <- struct{}{}
			}(i, p)
		}
		// Wait for all handlers to settle — success, failure, or timeout.
		for range selected {
			<-done
		}
		close(done)
	} else {
		for i, p := range selected {
			results[i] = d.run(ctx, p, req)
		}
	}
	return results
}

// selectPlugins returns the activated handlers ranked by priority
// (registration order on ties), truncated to max-per-request.
func (d *Dispatcher) selectPlugins(input string) []Plugin {
	var activated []Plugin
	for _, p := range d.plugins {
		if p.Activate(input) {
			activated = append(activated, p)
		}
	}
	sort.SliceStable(activated, func(i, j int) bool {
		return activated[i].Priority() > activated[j].Priority()
	})
	if len(activated) > d.cfg.MaxPerRequest {
		activated = activated[:d.cfg.MaxPerRequest]
	}
	return activated
}

// run executes one handler bounded by the per-plugin timeout. The handler's
// context is cancelled on timeout, so a well-behaved handler stops its
// underlying work rather than leaking it.
func (d *Dispatcher) run(ctx context.Context, p Plugin, req Request) Result {
	log := logging.FromContext(ctx)
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	type outcome struct {
		summary string
		data    map[string]any
		err     error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		summary, data, err := p.Execute(execCtx, req)
		ch <- outcome{summary: summary, data: data, err: err}
	}()

	select {
	case <-execCtx.Done():
		return d.interrupted(log, p, ctx, time.Since(start))
	case out := <-ch:
		elapsed := time.Since(start)
		if out.err != nil {
			// A well-behaved handler surfaces its context error itself; those
			// are classified the same as an abandoned one.
			if execCtx.Err() != nil && (errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded)) {
				return d.interrupted(log, p, ctx, elapsed)
			}
			log.Warn("plugin failed",
				slog.String("plugin", p.Name()),
				slog.Any("error", out.err),
			)
			return Result{
				Plugin:    p.Name(),
				Success:   false,
				ErrorCode: ErrCodeFailed,
				Error:     out.err.Error(),
				Elapsed:   elapsed,
			}
		}
		return Result{
			Plugin:  p.Name(),
			Success: true,
			Summary: out.summary,
			Data:    out.data,
			Elapsed: elapsed,
		}
	}
}

// interrupted builds the failure result for a handler whose context ended.
// The per-plugin timer expiring is a timeout; the parent request ending
// first, by cancellation or its own deadline, is a cancellation.
func (d *Dispatcher) interrupted(log *slog.Logger, p Plugin, ctx context.Context, elapsed time.Duration) Result {
	if ctx.Err() != nil {
		log.Warn("plugin cancelled",
			slog.String("plugin", p.Name()),
			slog.Duration("elapsed", elapsed),
		)
		return Result{
			Plugin:    p.Name(),
			Success:   false,
			ErrorCode: ErrCodeCancelled,
			Error:     "request ended before completion",
			Elapsed:   elapsed,
		}
	}
	log.Warn("plugin timed out",
		slog.String("plugin", p.Name()),
		slog.Duration("elapsed", elapsed),
	)
	return Result{
		Plugin:    p.Name(),
		Success:   false,
		ErrorCode: ErrCodeTimeout,
		Error:     fmt.Sprintf("execution exceeded %s", d.cfg.Timeout),
		Elapsed:   elapsed,
	}
}
