// Package orchestrator runs the chat pipeline: session memory, capability
// plugins, knowledge retrieval, prompt assembly, and the model call, in a
// fixed sequence. Each stage's output feeds the next; plugin and retrieval
// failures degrade the reply rather than failing the request, while model
// failures are fatal.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-ai/chatd/internal/archive"
	"github.com/atelier-ai/chatd/internal/index"
	"github.com/atelier-ai/chatd/internal/llm"
	"github.com/atelier-ai/chatd/internal/logging"
	"github.com/atelier-ai/chatd/internal/memory"
	"github.com/atelier-ai/chatd/internal/plugin"
)

// Error codes carried by CodedError, mapped to HTTP statuses at the server.
const (
	// ErrCodeValidation marks a malformed request.
	ErrCodeValidation = "validation"
	// ErrCodeProvider marks a model provider failure.
	ErrCodeProvider = "provider_error"
	// ErrCodeInternal marks an unexpected pipeline failure.
	ErrCodeInternal = "internal_error"
	// ErrCodeNotFound marks a missing session.
	ErrCodeNotFound = "not_found"
)

// CodedError is a pipeline failure with a stable machine-readable code.
type CodedError struct {
	// Code is one of the ErrCode constants.
	Code string
	// Message is the human-readable description, safe to return to clients.
	Message string
	// Err is the underlying cause, for logs.
	Err error
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *CodedError) Unwrap() error { return e.Err }

// NewCodedError constructs a CodedError.
func NewCodedError(code, message string, err error) *CodedError {
	return &CodedError{Code: code, Message: message, Err: err}
}

// historyTurns is how many recent conversation turns are sent to the model.
const historyTurns = 5

// maxPromptChunks caps how many retrieved chunks enter the prompt, however
// many the index returns.
const maxPromptChunks = 3

// Request is one chat turn to process.
type Request struct {
	// Input is the user message. Required.
	Input string `json:"input"`
	// SessionID continues an existing conversation. Empty starts a new one.
	SessionID string `json:"session_id,omitempty"`
	// Filters optionally narrow knowledge retrieval.
	Filters index.Filters `json:"filters,omitempty"`
}

// Source is one knowledge chunk that informed the reply.
type Source struct {
	// Filename is the owning document.
	Filename string `json:"filename"`
	// Section is the owning section heading, when known.
	Section string `json:"section,omitempty"`
	// Score is the cosine similarity of the chunk to the query.
	Score float64 `json:"score"`
	// Text is the chunk content.
	Text string `json:"text"`
}

// Metadata is the per-request accounting attached to a result.
type Metadata struct {
	// ElapsedMS is the wall-clock pipeline duration in milliseconds.
	ElapsedMS int64 `json:"elapsed_ms"`
	// Usage is the model token accounting, when the provider reports it.
	Usage *llm.Usage `json:"usage,omitempty"`
}

// Result is the structured outcome of one chat turn.
type Result struct {
	// Reply is the model's answer.
	Reply string `json:"reply"`
	// SessionID identifies the conversation, generated when absent.
	SessionID string `json:"session_id"`
	// PluginsUsed holds one result per executed plugin, failures included.
	PluginsUsed []plugin.Result `json:"plugins_used,omitempty"`
	// SourcesUsed lists the knowledge chunks included in the prompt.
	SourcesUsed []Source `json:"sources_used,omitempty"`
	// Metadata is the per-request accounting.
	Metadata Metadata `json:"metadata"`
}

// Orchestrator wires the pipeline stages. All dependencies except the
// archiver are required.
type Orchestrator struct {
	mem        *memory.Manager
	dispatcher *plugin.Dispatcher
	ix         *index.Index
	client     llm.Client
	arc        archive.Archiver
	opts       llm.Options
}

// New constructs an Orchestrator. arc may be nil to disable archiving.
func New(mem *memory.Manager, dispatcher *plugin.Dispatcher, ix *index.Index, client llm.Client, arc archive.Archiver, opts llm.Options) (*Orchestrator, error) {
	if mem == nil {
		return nil, fmt.Errorf("orchestrator: memory manager must not be nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("orchestrator: dispatcher must not be nil")
	}
	if ix == nil {
		return nil, fmt.Errorf("orchestrator: index must not be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("orchestrator: llm client must not be nil")
	}
	return &Orchestrator{
		mem:        mem,
		dispatcher: dispatcher,
		ix:         ix,
		client:     client,
		arc:        arc,
		opts:       opts,
	}, nil
}

// Chat runs the full pipeline for one user turn. The error, when non-nil, is
// always a *CodedError. No stage is retried here: the provider clients own
// transient-failure retries.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Result, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, NewCodedError(ErrCodeValidation, "input must not be empty", nil)
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// History is read before this turn is written, so the model sees the
	// conversation as it stood when the user typed.
	history := o.mem.RecentContext(sessionID, historyTurns)

	pluginResults := o.dispatcher.Dispatch(ctx, plugin.Request{Input: input, SessionID: sessionID})
	firedPlugins := successfulPlugins(pluginResults)

	sources := o.retrieve(ctx, log, input, req.Filters)

	// The user turn carries the plugins that fired for it; retrieval sources
	// stay on the assistant turn they informed.
	var userMeta map[string]string
	if len(firedPlugins) > 0 {
		userMeta = map[string]string{"plugins": strings.Join(firedPlugins, ",")}
	}
	o.mem.AddMessage(sessionID, memory.RoleUser, input, userMeta)
	o.archiveTurn(ctx, log, sessionID, "user", input)

	messages := buildMessages(input, history, sources, pluginResults)

	completion, err := o.client.Complete(ctx, messages, o.opts)
	if err != nil {
		return nil, NewCodedError(ErrCodeProvider,
			fmt.Sprintf("model provider %s failed", o.client.Name()), err)
	}
	reply := strings.TrimSpace(completion.Content)
	if reply == "" {
		return nil, NewCodedError(ErrCodeProvider,
			fmt.Sprintf("model provider %s returned an empty reply", o.client.Name()), nil)
	}

	meta := map[string]string{}
	if len(firedPlugins) > 0 {
		meta["plugins"] = strings.Join(firedPlugins, ",")
	}
	if len(sources) > 0 {
		meta["sources"] = strings.Join(sourceFilenames(sources), ",")
	}
	if len(meta) == 0 {
		meta = nil
	}
	o.mem.AddMessage(sessionID, memory.RoleAssistant, reply, meta)
	o.archiveTurn(ctx, log, sessionID, "assistant", reply)

	return &Result{
		Reply:       reply,
		SessionID:   sessionID,
		PluginsUsed: pluginResults,
		SourcesUsed: sources,
		Metadata: Metadata{
			ElapsedMS: time.Since(start).Milliseconds(),
			Usage:     completion.Usage,
		},
	}, nil
}

// retrieve queries the knowledge index. Failures, including an uninitialized
// index, degrade to an answer without sources.
func (o *Orchestrator) retrieve(ctx context.Context, log *slog.Logger, input string, filters index.Filters) []Source {
	results, err := o.ix.Query(ctx, input, index.QueryOptions{Filters: filters})
	if err != nil {
		if !errors.Is(err, index.ErrNotInitialized) {
			log.Warn("orchestrator: retrieval failed, continuing without sources",
				slog.Any("error", err),
			)
		}
		return nil
	}

	if len(results) > maxPromptChunks {
		results = results[:maxPromptChunks]
	}
	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			Filename: r.Chunk.Filename,
			Section:  r.Chunk.Section,
			Score:    r.Score,
			Text:     r.Chunk.Text,
		}
	}
	return sources
}

// archiveTurn persists a turn to the durable archive. Best-effort only.
func (o *Orchestrator) archiveTurn(ctx context.Context, log *slog.Logger, sessionID, role, content string) {
	if o.arc == nil {
		return
	}
	if err := o.arc.Append(ctx, sessionID, role, content); err != nil {
		log.Warn("orchestrator: archive write failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
}

// History returns the live conversation context for a session, or a
// not_found CodedError when the session does not exist.
func (o *Orchestrator) History(sessionID string) (memory.Context, error) {
	if _, ok := o.mem.Info(sessionID); !ok {
		return memory.Context{}, NewCodedError(ErrCodeNotFound,
			fmt.Sprintf("session %s not found", sessionID), nil)
	}
	return o.mem.RecentContext(sessionID, 0), nil
}

// ClearSession removes a session's live memory, or returns a not_found
// CodedError when it does not exist.
func (o *Orchestrator) ClearSession(sessionID string) error {
	if !o.mem.ClearSession(sessionID) {
		return NewCodedError(ErrCodeNotFound,
			fmt.Sprintf("session %s not found", sessionID), nil)
	}
	return nil
}

func successfulPlugins(results []plugin.Result) []string {
	var names []string
	for _, r := range results {
		if r.Success {
			names = append(names, r.Plugin)
		}
	}
	return names
}

func sourceFilenames(sources []Source) []string {
	seen := map[string]bool{}
	var names []string
	for _, s := range sources {
		if !seen[s.Filename] {
			seen[s.Filename] = true
			names = append(names, s.Filename)
		}
	}
	return names
}
