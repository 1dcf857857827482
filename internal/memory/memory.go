// Package memory defines DAWN's semantic-memory collaborator: a vector store
// over chunks of conversation content, searched by embedding similarity
// rather than exact keyword match.
//
// This is the one memory layer SPEC_FULL.md's memory_search tool needs:
// durable message history is already [dawn/internal/store]'s job, and
// nothing in DAWN's domain calls for a knowledge-graph layer on top of it.
package memory

import (
	"context"
	"time"
)

// Chunk is a segment of conversation content prepared for semantic
// indexing. A Chunk carries its pre-computed embedding so the index does not
// need to re-embed on insertion.
type Chunk struct {
	// ID is the unique identifier for this chunk (e.g., a UUID).
	ID string

	// UserID is the user this chunk belongs to; searches are always scoped
	// to a single user.
	UserID string

	// ConversationID is the durable conversation this chunk was extracted
	// from, if any.
	ConversationID int64

	// Content is the raw text of the chunk.
	Content string

	// Embedding is the vector representation of Content. Dimension must
	// match the index configuration.
	Embedding []float32

	// Topic is an optional coarse topic label.
	Topic string

	// Timestamp is when this chunk was recorded.
	Timestamp time.Time
}

// Filter narrows a semantic search to a subset of indexed chunks. All
// non-zero fields are applied as AND conditions.
type Filter struct {
	ConversationID int64
	Topic          string
	After          time.Time
	Before         time.Time
}

// Result pairs a retrieved chunk with its vector-space distance from the
// query embedding. Lower Distance values indicate higher similarity.
type Result struct {
	Chunk    Chunk
	Distance float64
}

// Index is the semantic-memory storage contract. Callers are responsible
// for producing embeddings before calling IndexChunk or Search.
// Implementations must be safe for concurrent use.
type Index interface {
	// IndexChunk stores a pre-embedded Chunk. If a chunk with the same ID
	// already exists it is replaced (upsert).
	IndexChunk(ctx context.Context, chunk Chunk) error

	// Search finds the topK chunks belonging to userID whose embeddings are
	// closest to embedding, filtered by filter. Results are ordered by
	// ascending Distance (most similar first). Returns an empty (non-nil)
	// slice when no chunks match.
	Search(ctx context.Context, userID string, embedding []float32, topK int, filter Filter) ([]Result, error)

	Close() error
}
