// Package memory holds per-session conversation history in memory. Sessions
// are created on first write, trimmed by lossy compaction once they exceed a
// configured ceiling, and evicted wholesale by a periodic TTL sweep.
//
// Compaction is irreversible: the oldest messages are replaced by a single
// generated summary record (turn counts plus extracted keywords) and
// discarded — this is bounded working memory, not archival. The durable
// archive, when enabled, lives in the archive package.
package memory

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a stored message.
type Role string

const (
	// RoleUser is a message sent by the end user.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem is an instruction message.
	RoleSystem Role = "system"
)

// Message is a single stored conversation turn.
type Message struct {
	// ID is a generated unique identifier.
	ID string `json:"id"`
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
	// Timestamp is when the message was stored.
	Timestamp time.Time `json:"timestamp"`
	// Metadata holds arbitrary tags (plugins fired, sources used).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Summary is the lossy-compaction record replacing discarded messages.
type Summary struct {
	// UserTurns counts the user messages folded into this summary.
	UserTurns int `json:"user_turns"`
	// AssistantTurns counts the assistant messages folded in.
	AssistantTurns int `json:"assistant_turns"`
	// Keywords are up to 5 terms extracted from discarded user turns.
	Keywords []string `json:"keywords"`
	// UpdatedAt is when the last compaction touched this summary.
	UpdatedAt time.Time `json:"updated_at"`
}

// session is the per-session mutable state. Messages are strictly ordered
// by insertion.
type session struct {
	id        string
	messages  []Message
	summary   *Summary
	createdAt time.Time
	updatedAt time.Time
}

// Config holds session memory settings.
type Config struct {
	// MaxMessages is the live message ceiling that triggers compaction.
	// Defaults to 50 if zero.
	MaxMessages int
	// SummaryThreshold is the live message count kept after compaction.
	// Defaults to 20 if zero; must be < MaxMessages.
	SummaryThreshold int
	// SessionTTL evicts sessions idle longer than this. Defaults to 1h.
	SessionTTL time.Duration
	// SweepInterval is how often the TTL sweep runs. Defaults to 5m.
	SweepInterval time.Duration
	// Logger is the structured logger. If nil, slog.Default is used.
	Logger *slog.Logger
}

// Manager owns all live sessions. It is safe for concurrent use; per the
// system's consistency model, concurrent writers to the same session id are
// last-write-wins on message order, not linearizable.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	cfg  Config
	log  *slog.Logger
	stop chan struct{}
	done chan struct{}
}

// NewManager validates cfg and returns a Manager. The TTL sweep does not run
// until Start is called.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 50
	}
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = 20
	}
	if cfg.SummaryThreshold >= cfg.MaxMessages {
		return nil, fmt.Errorf("memory: summary threshold %d must be smaller than max messages %d",
			cfg.SummaryThreshold, cfg.MaxMessages)
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*session),
		cfg:      cfg,
		log:      cfg.Logger,
	}, nil
}

// AddMessage appends a message to the session, creating the session on first
// use. Returns the stored message. Compaction runs when the live count
// exceeds the configured ceiling.
func (m *Manager) AddMessage(sessionID string, role Role, content string, metadata map[string]string) Message {
	now := time.Now().UTC()
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID, createdAt: now}
		m.sessions[sessionID] = s
	}
	s.messages = append(s.messages, msg)
	s.updatedAt = now

	if len(s.messages) > m.cfg.MaxMessages {
		m.compact(s)
	}
	return msg
}

// compact replaces the oldest (count − SummaryThreshold) messages with a
// single summary record. Caller must hold the write lock.
func (m *Manager) compact(s *session) {
	drop := len(s.messages) - m.cfg.SummaryThreshold
	if drop <= 0 {
		return
	}
	discarded := s.messages[:drop]

	sum := s.summary
	if sum == nil {
		sum = &Summary{}
	}
	var userTexts []string
	for _, msg := range discarded {
		switch msg.Role {
		case RoleUser:
			sum.UserTurns++
			userTexts = append(userTexts, msg.Content)
		case RoleAssistant:
			sum.AssistantTurns++
		}
	}
	sum.Keywords = mergeKeywords(sum.Keywords, ExtractKeywords(userTexts, maxSummaryKeywords))
	sum.UpdatedAt = time.Now().UTC()
	s.summary = sum

	kept := make([]Message, len(s.messages)-drop)
	copy(kept, s.messages[drop:])
	s.messages = kept

	m.log.Debug("memory: compacted session",
		slog.String("session_id", s.id),
		slog.Int("discarded", drop),
		slog.Int("live", len(s.messages)),
	)
}

// Context is the result of RecentContext: the most recent live messages plus
// the summary record, when one exists.
type Context struct {
	// Messages are the last N live messages, oldest first.
	Messages []Message
	// Summary is the compaction record, nil if no compaction has occurred.
	Summary *Summary
}

// RecentContext returns the last maxMessages live messages for the session
// plus its summary record. Discarded messages are not reconstructed.
// An unknown session yields an empty context, not an error.
func (m *Manager) RecentContext(sessionID string, maxMessages int) Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Context{}
	}

	msgs := s.messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)

	var sum *Summary
	if s.summary != nil {
		c := *s.summary
		sum = &c
	}
	return Context{Messages: out, Summary: sum}
}

// SessionInfo is the read-only metadata for one session.
type SessionInfo struct {
	// ID is the session identifier.
	ID string `json:"id"`
	// MessageCount is the live (post-compaction) message count.
	MessageCount int `json:"message_count"`
	// HasSummary is true once a compaction has occurred.
	HasSummary bool `json:"has_summary"`
	// CreatedAt is when the session was first written.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last write time, used by the TTL sweep.
	UpdatedAt time.Time `json:"updated_at"`
}

// Info returns metadata for the session, and false if it does not exist.
func (m *Manager) Info(sessionID string) (SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{
		ID:           s.id,
		MessageCount: len(s.messages),
		HasSummary:   s.summary != nil,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}, true
}

// ClearSession removes the session immediately. Returns false if it did not
// exist.
func (m *Manager) ClearSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	delete(m.sessions, sessionID)
	return true
}

// ClearAll removes every session immediately.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*session)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches the background TTL sweep. Call Stop to halt it; starting a
// manager twice is a programming error.
func (m *Manager) Start() {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.sweepLoop()
}

// Stop halts the TTL sweep and waits for the loop to exit. Safe to call when
// Start was never called.
func (m *Manager) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop = nil
}

// sweepLoop evicts idle sessions on every tick until stopped.
func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep evicts every session whose last update is older than the TTL.
// Returns the number of sessions evicted. Exposed so tests and operators can
// trigger a sweep without waiting for the ticker.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-m.cfg.SessionTTL)
	evicted := 0
	for id, s := range m.sessions {
		if s.updatedAt.Before(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.log.Info("memory: TTL sweep evicted sessions",
			slog.Int("evicted", evicted),
			slog.Int("remaining", len(m.sessions)),
		)
	}
	return evicted
}
