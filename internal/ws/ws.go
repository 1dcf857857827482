// Package ws implements the WebSocket chat transport: one of the two input
// channels spec.md §1 names alongside the voice pipeline ("text chat over
// WebSocket"). A [Handler] accepts a connection per client, reads inbound
// user text frames, runs the per-connection session's conversation turn
// through the orchestrator, and streams the turn's result back as an
// outbound frame.
//
// Built on github.com/coder/websocket's server-side Accept/Read/Write/Close
// surface. The one-worker-per-connection plus bounded-pool-for-model-calls
// scheduling model follows spec.md §5.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"dawn/internal/llm"
	"dawn/internal/observe"
	"dawn/internal/orchestrator"
	"dawn/internal/session"
	"dawn/internal/store"
)

// defaultMaxInFlightTurns bounds how many conversation turns may be running
// a model call at once, independent of how many connections are open. A
// connection whose turn is waiting for a free slot keeps reading no further
// frames until its current turn completes, which is what gives serial
// turn-processing within one session.
const defaultMaxInFlightTurns = 8

// inboundMessage is one client-to-server frame.
type inboundMessage struct {
	// Type is "message" (default, if empty) or "reset" (clears session
	// history without affecting the durable conversation record).
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// outboundMessage is one server-to-client frame.
type outboundMessage struct {
	Type  string `json:"type"` // "response" or "error"
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler upgrades HTTP requests to WebSocket connections and drives one
// conversation turn per inbound text frame.
//
// Safe for concurrent use: each accepted connection runs in its own
// goroutine and touches only its own [session.Session], serialized through
// that session's own lock.
type Handler struct {
	sessions *session.Manager
	orch     *orchestrator.Orchestrator
	store    store.Store
	metrics  *observe.Metrics

	turnSlots chan struct{}
}

// Option configures a [Handler] at construction time.
type Option func(*Handler)

// WithMetrics makes h record each turn's duration on m, through
// RecordStoreOperation with op "run_turn".
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxInFlightTurns overrides [defaultMaxInFlightTurns].
func WithMaxInFlightTurns(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.turnSlots = make(chan struct{}, n)
		}
	}
}

// NewHandler returns a Handler that resolves sessions through sessions, runs
// turns through orch, and durably persists conversations through st.
func NewHandler(sessions *session.Manager, orch *orchestrator.Orchestrator, st store.Store, opts ...Option) *Handler {
	h := &Handler{
		sessions:  sessions,
		orch:      orch,
		store:     st,
		turnSlots: make(chan struct{}, defaultMaxInFlightTurns),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP accepts a WebSocket connection and runs its read loop until the
// client disconnects or the request context is cancelled.
//
// Identifying query parameters (no authentication is performed here —
// spec.md §1 scopes credential verification out of this package's
// responsibility): "user" names the conversation owner, defaulting to
// [session.LocalSessionID]; "session" names a client-stable session id to
// resume, defaulting to a new session per connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("ws: accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	user := r.URL.Query().Get("user")
	if user == "" {
		user = session.LocalSessionID
	}
	sessID := r.URL.Query().Get("session")
	var sess *session.Session
	if sessID == "" {
		sess = h.sessions.Create(fmt.Sprintf("%s-%d", user, time.Now().UnixNano()))
	} else {
		sess = h.sessions.Get(sessID)
	}

	convID, err := h.store.Create(r.Context(), user, "")
	if err != nil {
		slog.Error("ws: create conversation", "err", err)
		conn.Close(websocket.StatusInternalError, "could not open conversation")
		return
	}

	h.readLoop(r.Context(), conn, sess, user, convID)
	conn.Close(websocket.StatusNormalClosure, "done")
}

// readLoop reads frames from conn until it closes or ctx is cancelled,
// running each inbound "message" frame as one conversation turn.
//
// This goroutine is the connection's single worker (SPEC_FULL.md §5): it
// reads one frame, runs that frame's turn to completion (acquiring a
// [Handler.turnSlots] slot for the model call), and only then reads the
// next frame — so turns for a given session never overlap, while different
// connections' goroutines proceed independently of one another.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, user string, convID int64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			h.writeError(ctx, conn, fmt.Sprintf("malformed frame: %v", err))
			continue
		}

		switch in.Type {
		case "reset":
			sess.ClearHistory()
			continue
		default:
			if in.Text == "" {
				continue
			}
		}

		if err := h.runTurn(ctx, conn, sess, user, convID, in.Text); err != nil {
			if ctx.Err() != nil {
				return
			}
			h.writeError(ctx, conn, err.Error())
		}
	}
}

// runTurn appends the user's text to history and the durable conversation,
// runs one turn through the orchestrator inside a bounded model-call slot,
// and streams the result back, appending it to both history and the store.
func (h *Handler) runTurn(ctx context.Context, conn *websocket.Conn, sess *session.Session, user string, convID int64, text string) error {
	if err := h.appendAndRecord(ctx, user, convID, sess, llm.RoleUser, text); err != nil {
		return fmt.Errorf("ws: record user message: %w", err)
	}

	select {
	case h.turnSlots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	start := time.Now()
	result, err := h.orch.RunTurn(ctx, sess)
	<-h.turnSlots

	if h.metrics != nil {
		h.metrics.RecordStoreOperation(ctx, "run_turn", time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("ws: run turn: %w", err)
	}
	if result.Aborted {
		return nil
	}

	if err := h.recordOnly(ctx, user, convID, llm.RoleAssistant, result.ResponseText); err != nil {
		slog.Error("ws: record assistant message", "err", err)
	}

	return h.writeJSON(ctx, conn, outboundMessage{Type: "response", Text: result.ResponseText})
}

// appendAndRecord appends msg to both sess's in-memory history and the
// durable conversation store.
func (h *Handler) appendAndRecord(ctx context.Context, user string, convID int64, sess *session.Session, role llm.Role, text string) error {
	sess.AddMessage(llm.Message{Role: role, Content: text})
	return h.store.AddMessage(ctx, user, convID, string(role), text)
}

// recordOnly appends to the durable store only; the orchestrator already
// appended the assistant's message to sess's in-memory history as part of
// [orchestrator.Orchestrator.RunTurn].
func (h *Handler) recordOnly(ctx context.Context, user string, convID int64, role llm.Role, text string) error {
	return h.store.AddMessage(ctx, user, convID, string(role), text)
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	_ = h.writeJSON(ctx, conn, outboundMessage{Type: "error", Error: msg})
}

func (h *Handler) writeJSON(ctx context.Context, conn *websocket.Conn, v outboundMessage) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ws: marshal outbound frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
