// Package pgvector is the PostgreSQL+pgvector-backed implementation of
// [memory.Index].
//
// [New] follows a parse-dsn/register-vector-types/open-pool/ping/migrate
// construction sequence. [Store.IndexChunk]/[Store.Search] implement
// upsert-by-id and a cosine-distance-ordered nearest-neighbour query,
// filtered by DAWN's (user_id, conversation_id, topic) conversation scope.
package pgvector

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"
	pgvecpgx "github.com/pgvector/pgvector-go/pgx"

	"dawn/internal/memory"
)

var _ memory.Index = (*Store)(nil)

// Store is the semantic-memory collaborator's PostgreSQL-backed index. Safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool to the PostgreSQL database at dsn, registers
// pgvector types on every connection, and runs [migrate] to ensure the
// chunks table and its HNSW index exist.
//
// embeddingDimensions must match the output dimension of the embeddings
// provider used to produce [memory.Chunk.Embedding] values.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector memory: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvecpgx.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector memory: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector memory: ping: %w", err)
	}

	if err := migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector memory: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// migrate creates the chunks table and its HNSW index if they do not already
// exist. Idempotent and safe to call on every application start.
func migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_chunks (
    id              TEXT         PRIMARY KEY,
    user_id         TEXT         NOT NULL,
    conversation_id BIGINT       NOT NULL DEFAULT 0,
    content         TEXT         NOT NULL,
    embedding       vector(%d),
    topic           TEXT         NOT NULL DEFAULT '',
    timestamp       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_user_id
    ON memory_chunks (user_id);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_conversation_id
    ON memory_chunks (conversation_id);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_embedding
    ON memory_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// IndexChunk implements [memory.Index]. It upserts a pre-embedded
// [memory.Chunk]. If a chunk with the same ID already exists it is
// completely replaced.
func (s *Store) IndexChunk(ctx context.Context, chunk memory.Chunk) error {
	const q = `
		INSERT INTO memory_chunks
		    (id, user_id, conversation_id, content, embedding, topic, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    user_id         = EXCLUDED.user_id,
		    conversation_id = EXCLUDED.conversation_id,
		    content         = EXCLUDED.content,
		    embedding       = EXCLUDED.embedding,
		    topic           = EXCLUDED.topic,
		    timestamp       = EXCLUDED.timestamp`

	vec := pgvec.NewVector(chunk.Embedding)
	_, err := s.pool.Exec(ctx, q,
		chunk.ID,
		chunk.UserID,
		chunk.ConversationID,
		chunk.Content,
		vec,
		chunk.Topic,
		chunk.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("pgvector memory: index chunk: %w", err)
	}
	return nil
}

// Search implements [memory.Index]. It finds the topK chunks belonging to
// userID whose embeddings are closest (cosine distance) to embedding,
// optionally filtered by filter.
func (s *Store) Search(ctx context.Context, userID string, embedding []float32, topK int, filter memory.Filter) ([]memory.Result, error) {
	queryVec := pgvec.NewVector(embedding)

	args := []any{queryVec, userID} // $1 = query vector, $2 = user id
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"user_id = $2"}
	if filter.ConversationID != 0 {
		conditions = append(conditions, "conversation_id = "+next(filter.ConversationID))
	}
	if filter.Topic != "" {
		conditions = append(conditions, "topic = "+next(filter.Topic))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(filter.Before))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, user_id, conversation_id, content, embedding, topic, timestamp,
		       embedding <=> $1 AS distance
		FROM   memory_chunks
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector memory: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Result, error) {
		var (
			r   memory.Result
			vec pgvec.Vector
		)
		if err := row.Scan(
			&r.Chunk.ID,
			&r.Chunk.UserID,
			&r.Chunk.ConversationID,
			&r.Chunk.Content,
			&vec,
			&r.Chunk.Topic,
			&r.Chunk.Timestamp,
			&r.Distance,
		); err != nil {
			return memory.Result{}, err
		}
		r.Chunk.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector memory: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.Result{}
	}
	return results, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
