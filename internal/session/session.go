// Package session owns the process-wide session table and per-session
// conversation history, and carries the "command context" a tool callback
// uses to learn which session invoked it.
//
// Session lifecycle follows a mutex/closers pattern generalized into a
// map[id]*Session table (rather than a single active session), and
// [ContextManager] handles the per-session token-budget bookkeeping behind
// the history summarisation trigger. Command context is not kept in any
// per-thread or goroutine-local slot — DAWN has no such storage — so the
// invoking session travels explicitly as a context.Context value
// (SPEC_FULL.md §9 Design Notes), set once per dispatch and read by a
// callback via [FromContext].
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dawn/internal/llm"
)

// LocalSessionID is the sentinel id for the session created once at
// startup. It cannot be released; callers that look up an unknown or
// torn-down session id fall back to it.
const LocalSessionID = "local"

// ErrNotFound is returned by [Manager.Get] for an unknown session id, and by
// [Manager.Release] when asked to release a session that does not exist.
var ErrNotFound = errors.New("session: not found")

// ErrCannotReleaseLocal is returned by [Manager.Release] for [LocalSessionID].
var ErrCannotReleaseLocal = errors.New("session: the local session cannot be released")

// LLMConfig holds per-session overrides for which model backend and tool
// mode a session uses.
type LLMConfig struct {
	// Backend selects the provider: "cloud" or "local".
	Backend string

	// Provider names the specific provider within Backend (e.g. "openai",
	// "claude", "ollama").
	Provider string

	// Model is the specific model identifier.
	Model string

	// ToolMode selects how tool declarations are offered to the model:
	// "native" (provider tool-calling), "tagged" (shape-A prompt
	// injection), or "none".
	ToolMode string

	// Locked, when true, makes further SetLLMConfig calls on the owning
	// conversation a no-op. Mirrors store.LockLLMSettings's write-once
	// semantics but scoped to the in-memory session rather than the
	// durable conversation record.
	Locked bool
}

// Session is one conversation participant's live state: history,
// LLM configuration, and bookkeeping needed by the orchestrator.
//
// All exported methods are safe for concurrent use; per-session mutation
// serializes through the session's own mutex, so operations across
// different sessions never contend with one another.
type Session struct {
	id string

	mu       sync.Mutex
	history  []llm.Message
	llmCfg   LLMConfig
	cfgSet   bool
	createAt time.Time

	// ctxMgr, when set via [Session.EnableSummarisation], takes over history
	// bookkeeping entirely: AddMessage/History/ClearHistory delegate to it
	// instead of the plain history slice, so long-running sessions stay
	// within the model's context window (SPEC_FULL.md §4.4).
	ctxMgr *ContextManager
}

func newSession(id string) *Session {
	return &Session{id: id, createAt: time.Now()}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// EnableSummarisation switches the session from plain unbounded history to
// mgr's token-budget bookkeeping: once set, old turns are automatically
// condensed into a running summary as the conversation approaches the
// model's context window instead of growing forever. Must be called before
// any [Session.AddMessage] call the caller wants covered; typically invoked
// once right after [Manager.Create] using a [ContextManager] sized to the
// session's configured provider.
func (s *Session) EnableSummarisation(mgr *ContextManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxMgr = mgr
}

// AddMessage appends one message to the session's history. Append-only from
// the perspective of an in-flight LLM call: a streaming completion that
// reads a history snapshot via [Session.History] is never disturbed by a
// concurrent append landing in the middle of its view.
//
// When summarisation is enabled the message is handed to the
// [ContextManager] instead, which may trigger a background LLM call to
// condense older turns; that call runs with context.Background() rather
// than a caller-supplied context, since it is bookkeeping for the session's
// next turn, not part of the current request, and must not be cancelled by
// the current request finishing.
func (s *Session) AddMessage(msg llm.Message) {
	s.mu.Lock()
	mgr := s.ctxMgr
	s.mu.Unlock()

	if mgr != nil {
		if err := mgr.AddMessages(context.Background(), msg); err != nil {
			slog.Warn("session: auto-summarisation failed, history kept uncondensed", "session_id", s.id, "err", err)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
}

// History returns a snapshot copy of the session's message list, including
// any summary messages [ContextManager] has produced.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	mgr := s.ctxMgr
	s.mu.Unlock()

	if mgr != nil {
		return mgr.Messages()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// ClearHistory discards all history. Only ever called from the owning
// connection's request path (e.g. a user-issued "/reset").
func (s *Session) ClearHistory() {
	s.mu.Lock()
	mgr := s.ctxMgr
	s.mu.Unlock()

	if mgr != nil {
		mgr.Reset()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// LLMConfig returns the session's current LLM configuration.
func (s *Session) LLMConfig() LLMConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llmCfg
}

// SetLLMConfig replaces the session's LLM configuration, unless the current
// configuration is Locked, in which case the call is a no-op.
func (s *Session) SetLLMConfig(cfg LLMConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.llmCfg.Locked {
		return
	}
	s.llmCfg = cfg
	s.cfgSet = true
}

// Manager owns session_id -> Session. The local session is created once by
// [New] and is never removed.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New returns a Manager with the local session already created.
func New() *Manager {
	m := &Manager{sessions: make(map[string]*Session)}
	m.sessions[LocalSessionID] = newSession(LocalSessionID)
	return m
}

// Create starts a new session under id, overwriting any existing session
// with the same id (e.g. a reconnect reusing a stable client-assigned id).
func (m *Manager) Create(id string) *Session {
	s := newSession(id)
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get returns the session for id, or the local session if id is unknown or
// has been released.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	local := m.sessions[LocalSessionID]
	m.mu.RUnlock()
	if !ok {
		return local
	}
	return s
}

// Release removes a session from the table. Releasing [LocalSessionID]
// fails with [ErrCannotReleaseLocal].
func (m *Manager) Release(id string) error {
	if id == LocalSessionID {
		return ErrCannotReleaseLocal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// contextKey is an unexported type so session.commandContextKey cannot
// collide with a key defined in another package.
type contextKey struct{}

var commandContextKey = contextKey{}

// CommandContext is the per-dispatch value a tool callback can read to
// learn which session invoked it, carried explicitly through
// context.Context rather than any per-thread slot (SPEC_FULL.md §9).
type CommandContext struct {
	SessionID string
}

// WithCommandContext returns a derived context carrying cc, to be set by the
// dispatcher immediately before invoking a tool callback.
func WithCommandContext(ctx context.Context, cc CommandContext) context.Context {
	return context.WithValue(ctx, commandContextKey, cc)
}

// FromContext returns the CommandContext set by the nearest enclosing
// [WithCommandContext], and whether one was present. A callback that defers
// work past its own return (e.g. to another goroutine) must read this on
// the invoking goroutine first — it is scoped to the call that received it
// and does not survive past it.
func FromContext(ctx context.Context) (CommandContext, bool) {
	cc, ok := ctx.Value(commandContextKey).(CommandContext)
	return cc, ok
}
