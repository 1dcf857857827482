// Package sqlite is the modernc.org/sqlite-backed implementation of
// [store.Store].
//
// Construction parses the path, opens the database/sql handle, pings it,
// runs migrations, and returns the wrapped handle. Unlike a networked
// database server, this storage engine's access control IS the filesystem,
// so this package is responsible for creating the file with restrictive
// permissions.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dawn/internal/store"
)

// filePerm and dirPerm are the restrictive permissions enforced on the
// database file and its containing directory, matching SPEC_FULL.md §6's
// requirement that the Conversation Store never be group- or world-readable.
const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// Store is the SQLite-backed Conversation Store. Safe for concurrent use;
// every write, on any conversation, serializes via writeMu over a single
// connection (SQLite itself only ever allows one writer at a time, so this
// simply makes that contention visible rather than relying on busy-retry).
// Writes to different conversations therefore do not run in parallel.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

var _ store.Store = (*Store)(nil)

// Open creates (if necessary) the database file at path with filePerm
// permissions inside a dirPerm directory, opens it, and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("sqlite store: create directory: %w", err)
	}
	if err := os.Chmod(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("sqlite store: enforce directory permissions: %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f, createErr := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePerm)
		if createErr != nil {
			return nil, fmt.Errorf("sqlite store: create database file: %w", createErr)
		}
		f.Close()
	}
	if err := os.Chmod(path, filePerm); err != nil {
		return nil, fmt.Errorf("sqlite store: enforce file permissions: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return s, nil
}

// migrate runs the idempotent schema statements and records the schema
// version. It never drops or destroys existing data.
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{ddlSchemaVersion, ddlConversations, ddlMessages, ddlMessagesFTS}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration statement: %w", err)
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// owns verifies that id belongs to user, returning [store.ErrNotFound] or
// [store.ErrForbidden] as appropriate. Every mutating operation calls this
// first so authorization failures never have a side effect.
func (s *Store) owns(ctx context.Context, user string, id int64) error {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM conversations WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite store: lookup owner: %w", err)
	}
	if owner != user {
		return store.ErrForbidden
	}
	return nil
}

func scanConversation(row interface {
	Scan(dest ...any) error
}) (store.Conversation, error) {
	var c store.Conversation
	var createdAt, updatedAt string
	var archived, private, llmLocked int
	err := row.Scan(
		&c.ID, &c.UserID, &c.Title, &createdAt, &updatedAt, &c.MessageCount,
		&archived, &private, &c.ContinuedFrom, &c.Summary,
		&llmLocked, &c.LLMType, &c.LLMProvider, &c.LLMModel, &c.LLMToolsMode, &c.LLMThinkingMode,
		&c.TokensUsed, &c.TokensMax,
	)
	if err != nil {
		return store.Conversation{}, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	c.Archived = archived != 0
	c.Private = private != 0
	c.LLMLocked = llmLocked != 0
	return c, nil
}

const conversationColumns = `id, user_id, title, created_at, updated_at, message_count,
	archived, private, continued_from, summary,
	llm_locked, llm_type, llm_provider, llm_model, llm_tools_mode, llm_thinking_mode,
	tokens_used, tokens_max`

// Create implements [store.Store].
func (s *Store) Create(ctx context.Context, user string, title string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := nowRFC3339()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)`, user, title, now, now)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: create: last insert id: %w", err)
	}
	return id, nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, user string, includeArchived bool, page store.Pagination, visit func(store.Conversation) bool) error {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = ?`
	args := []any{user}
	if !includeArchived {
		q += ` AND archived = 0`
	}
	q += ` ORDER BY updated_at DESC`
	if page.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return fmt.Errorf("sqlite store: list: scan: %w", err)
		}
		if !visit(c) {
			break
		}
	}
	return rows.Err()
}

// Count implements [store.Store].
func (s *Store) Count(ctx context.Context, user string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE user_id = ?`, user).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: count: %w", err)
	}
	return n, nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, user string, id int64) (store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Conversation{}, fmt.Errorf("sqlite store: get: %w", err)
	}
	if c.UserID != user {
		return store.Conversation{}, store.ErrForbidden
	}
	return c, nil
}

func scanMessage(row interface{ Scan(dest ...any) error }) (store.Message, error) {
	var m store.Message
	var createdAt string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
		return store.Message{}, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return m, nil
}

// GetMessages implements [store.Store]. Messages are visited in chronological
// (insertion) order, never reordered.
func (s *Store) GetMessages(ctx context.Context, user string, id int64, visit func(store.Message) bool) error {
	if err := s.owns(ctx, user, id); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return fmt.Errorf("sqlite store: get messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return fmt.Errorf("sqlite store: get messages: scan: %w", err)
		}
		if !visit(m) {
			break
		}
	}
	return rows.Err()
}

// GetMessagesPaginated implements [store.Store]. beforeID of 0 means "most
// recent page"; pages walk strictly backwards in id order so a message
// cannot appear on two pages even if new messages are appended concurrently.
func (s *Store) GetMessagesPaginated(ctx context.Context, user string, id int64, limit int, beforeID int64, visit func(store.Message) bool) (int, error) {
	if err := s.owns(ctx, user, id); err != nil {
		return 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, id).Scan(&total); err != nil {
		return 0, fmt.Errorf("sqlite store: get messages paginated: count: %w", err)
	}

	q := `SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ?`
	args := []any{id}
	if beforeID > 0 {
		q += ` AND id < ?`
		args = append(args, beforeID)
	}
	q += ` ORDER BY id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: get messages paginated: %w", err)
	}
	defer rows.Close()

	var page []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return 0, fmt.Errorf("sqlite store: get messages paginated: scan: %w", err)
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for i := len(page) - 1; i >= 0; i-- {
		if !visit(page[i]) {
			break
		}
	}
	return total, nil
}

// AddMessage implements [store.Store].
func (s *Store) AddMessage(ctx context.Context, user string, id int64, role string, content string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.owns(ctx, user, id); err != nil {
		return err
	}

	now := nowRFC3339()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: add message: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`, id, role, content, now); err != nil {
		return fmt.Errorf("sqlite store: add message: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET message_count = message_count + 1, updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("sqlite store: add message: touch conversation: %w", err)
	}
	return tx.Commit()
}

// UpdateContext implements [store.Store].
func (s *Store) UpdateContext(ctx context.Context, user string, id int64, tokensUsed, tokensMax int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.owns(ctx, user, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET tokens_used = ?, tokens_max = ?, updated_at = ? WHERE id = ?`,
		tokensUsed, tokensMax, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("sqlite store: update context: %w", err)
	}
	return nil
}

// LockLLMSettings implements [store.Store]. The lock is write-once and only
// taken while the conversation has no messages: once llm_locked is set, or
// once message_count is non-zero, a call returns [store.ErrAlreadyLocked]
// and the row is left untouched.
func (s *Store) LockLLMSettings(ctx context.Context, user string, id int64, llmType, provider, model, toolsMode, thinkingMode string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.owns(ctx, user, id); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET llm_locked = 1, llm_type = ?, llm_provider = ?, llm_model = ?,
		    llm_tools_mode = ?, llm_thinking_mode = ?, updated_at = ?
		WHERE id = ? AND llm_locked = 0 AND message_count = 0`,
		llmType, provider, model, toolsMode, thinkingMode, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("sqlite store: lock llm settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: lock llm settings: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrAlreadyLocked
	}
	return nil
}

// SetPrivate implements [store.Store].
func (s *Store) SetPrivate(ctx context.Context, user string, id int64, private bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.owns(ctx, user, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET private = ?, updated_at = ? WHERE id = ?`,
		boolToInt(private), nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("sqlite store: set private: %w", err)
	}
	return nil
}

// Delete implements [store.Store]. Messages cascade via the foreign key.
func (s *Store) Delete(ctx context.Context, user string, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.owns(ctx, user, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: delete: %w", err)
	}
	return nil
}

// Rename implements [store.Store].
func (s *Store) Rename(ctx context.Context, user string, id int64, title string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.owns(ctx, user, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("sqlite store: rename: %w", err)
	}
	return nil
}

// CreateContinuation implements [store.Store]. The new conversation belongs
// to the same user as oldID — continuation chains never cross users — and
// carries continued_from so [FindContinuation] can walk forward.
func (s *Store) CreateContinuation(ctx context.Context, user string, oldID int64, summary string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.owns(ctx, user, oldID); err != nil {
		return 0, err
	}

	now := nowRFC3339()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, title, created_at, updated_at, continued_from, summary)
		VALUES (?, '', ?, ?, ?, ?)`, user, now, now, oldID, summary)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: create continuation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: create continuation: last insert id: %w", err)
	}
	return id, nil
}

// FindContinuation implements [store.Store].
func (s *Store) FindContinuation(ctx context.Context, user string, oldID int64) (int64, bool, error) {
	if err := s.owns(ctx, user, oldID); err != nil {
		return 0, false, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE continued_from = ?`, oldID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite store: find continuation: %w", err)
	}
	return id, true, nil
}

// Search implements [store.Store], matching conversation titles.
func (s *Store) Search(ctx context.Context, user string, query string, page store.Pagination, visit func(store.Conversation) bool) error {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = ? AND title LIKE ? ORDER BY updated_at DESC`
	args := []any{user, "%" + query + "%"}
	if page.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite store: search: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return fmt.Errorf("sqlite store: search: scan: %w", err)
		}
		if !visit(c) {
			break
		}
	}
	return rows.Err()
}

// SearchContent implements [store.Store], matching message content via the
// FTS5 shadow table and returning the distinct owning conversations, most
// recently updated first.
func (s *Store) SearchContent(ctx context.Context, user string, query string, page store.Pagination, visit func(store.Conversation) bool) error {
	q := `
		SELECT ` + prefixed(conversationColumns, "c") + `
		FROM conversations c
		WHERE c.user_id = ? AND c.id IN (
			SELECT m.conversation_id FROM messages m
			JOIN messages_fts f ON f.rowid = m.id
			WHERE messages_fts MATCH ?
		)
		ORDER BY c.updated_at DESC`
	args := []any{user, query}
	if page.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite store: search content: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return fmt.Errorf("sqlite store: search content: scan: %w", err)
		}
		if !visit(c) {
			break
		}
	}
	return rows.Err()
}

// Reassign implements [store.Store]. Unlike every other write operation this
// one is not user-scoped: it is an administrative operation (spec §4.8) used
// to move a conversation to a different owner, e.g. after account merge.
func (s *Store) Reassign(ctx context.Context, id int64, newUserID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET user_id = ?, updated_at = ? WHERE id = ?`,
		newUserID, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("sqlite store: reassign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: reassign: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Maintain implements [store.Store]. It runs the periodic background pass:
// drop archived conversations past retention, then checkpoint the
// write-ahead log so it does not grow unbounded between checkpoints. Intended
// to be invoked from a timer (SPEC_FULL.md §6), never from the request path.
func (s *Store) Maintain(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	const retentionDays = 90
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE archived = 1 AND updated_at < ?`, cutoff); err != nil {
		return fmt.Errorf("sqlite store: maintain: purge archived: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("sqlite store: maintain: wal checkpoint: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// prefixed qualifies each column in a comma-separated column list with
// alias, so conversationColumns can be reused in a joined query.
func prefixed(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(strings.Join(strings.Fields(col), " "))
	}
	return strings.Join(parts, ", ")
}
