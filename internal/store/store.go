// Package store defines the Conversation Store contract: durable, per-user
// conversations and messages, serving both the live chat path and
// management-UI operations.
//
// Interface-plus-concrete-implementation split: the contract lives here,
// internal/store/sqlite provides the concrete implementation, so callers
// never import a storage-engine-specific package directly.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store methods, wrapped by implementations
// with fmt.Errorf("...: %w", ...) so callers can errors.Is against them.
var (
	ErrNotFound              = errors.New("store: conversation not found")
	ErrForbidden             = errors.New("store: not owned by the acting user")
	ErrLimitExceeded         = errors.New("store: per-user conversation limit exceeded")
	ErrAlreadyLocked         = errors.New("store: llm settings already locked for this conversation")
	ErrCrossUserContinuation = errors.New("store: continuation must belong to the same user as the original conversation")
)

// Conversation is a durable conversation record.
type Conversation struct {
	ID            int64
	UserID        string
	Title         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	MessageCount  int
	Archived      bool
	Private       bool
	ContinuedFrom int64 // 0 if this conversation is not a continuation
	Summary       string

	// LLM settings, locked write-once while MessageCount == 0.
	LLMLocked       bool
	LLMType         string
	LLMProvider     string
	LLMModel        string
	LLMToolsMode    string
	LLMThinkingMode string

	TokensUsed int
	TokensMax  int
}

// Message is a single durable message within a conversation.
type Message struct {
	ID             int64
	ConversationID int64
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Pagination bounds a list/search query.
type Pagination struct {
	Limit  int
	Offset int
}

// Store is the Conversation Store contract. Every method takes the acting
// user id for authorization, per SPEC_FULL.md §4.8; write operations are
// durable before returning success, and operations on the same conversation
// serialize (enforced by the concrete implementation, not by this
// interface). The sqlite implementation serializes all writes, so writes to
// different conversations do not proceed in parallel.
type Store interface {
	Create(ctx context.Context, user string, title string) (int64, error)
	List(ctx context.Context, user string, includeArchived bool, page Pagination, visit func(Conversation) bool) error
	Count(ctx context.Context, user string) (int, error)
	Get(ctx context.Context, user string, id int64) (Conversation, error)

	GetMessages(ctx context.Context, user string, id int64, visit func(Message) bool) error
	GetMessagesPaginated(ctx context.Context, user string, id int64, limit int, beforeID int64, visit func(Message) bool) (total int, err error)
	AddMessage(ctx context.Context, user string, id int64, role string, content string) error

	UpdateContext(ctx context.Context, user string, id int64, tokensUsed, tokensMax int) error
	LockLLMSettings(ctx context.Context, user string, id int64, llmType, provider, model, toolsMode, thinkingMode string) error
	SetPrivate(ctx context.Context, user string, id int64, private bool) error
	Delete(ctx context.Context, user string, id int64) error
	Rename(ctx context.Context, user string, id int64, title string) error

	CreateContinuation(ctx context.Context, user string, oldID int64, summary string) (newID int64, err error)
	FindContinuation(ctx context.Context, user string, oldID int64) (newID int64, found bool, err error)

	Search(ctx context.Context, user string, query string, page Pagination, visit func(Conversation) bool) error
	SearchContent(ctx context.Context, user string, query string, page Pagination, visit func(Conversation) bool) error

	Reassign(ctx context.Context, id int64, newUserID string) error

	// Maintain runs the periodic background maintenance pass: purge stale
	// rows past retention and consolidate the write-ahead log. It does not
	// compact the database file. Intended to be called from a timer, never
	// from the request path.
	Maintain(ctx context.Context) error

	Close() error
}
