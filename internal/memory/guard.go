package memory

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// GuardedIndex wraps an [Index] and makes search failures non-fatal: on
// error it logs and returns an empty result set instead of propagating,
// so a vector-store outage degrades memory_search to "no results" rather
// than failing the whole turn. IndexChunk failures are likewise swallowed,
// since the chunk's source message is already durable in the Conversation
// Store independently of the semantic index.
//
// GuardedIndex implements [Index]. All methods are safe for concurrent use.
type GuardedIndex struct {
	index    Index
	degraded atomic.Bool
}

// NewGuardedIndex wraps index so its failures degrade instead of propagate.
func NewGuardedIndex(index Index) *GuardedIndex {
	return &GuardedIndex{index: index}
}

// IndexChunk attempts to index chunk. On failure the error is logged and
// swallowed; the guard is marked degraded.
func (g *GuardedIndex) IndexChunk(ctx context.Context, chunk Chunk) error {
	if err := g.index.IndexChunk(ctx, chunk); err != nil {
		g.degraded.Store(true)
		slog.Warn("memory: index chunk failed, swallowing error", "chunk_id", chunk.ID, "err", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Search attempts a similarity search. On failure an empty (non-nil) result
// set is returned and the guard is marked degraded.
func (g *GuardedIndex) Search(ctx context.Context, userID string, embedding []float32, topK int, filter Filter) ([]Result, error) {
	results, err := g.index.Search(ctx, userID, embedding, topK, filter)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("memory: search failed, returning empty results", "user_id", userID, "err", err)
		return []Result{}, nil
	}
	g.degraded.Store(false)
	return results, nil
}

// Close delegates to the underlying index. Unlike IndexChunk and Search,
// shutdown errors are not degradation candidates and are returned verbatim.
func (g *GuardedIndex) Close() error {
	return g.index.Close()
}

// IsDegraded reports whether the most recent operation on the underlying
// index failed.
func (g *GuardedIndex) IsDegraded() bool {
	return g.degraded.Load()
}

var _ Index = (*GuardedIndex)(nil)
