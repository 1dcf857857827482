package sqlite

// Idempotent CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS style.
// Full-text search is backed by an FTS5 shadow table since SQLite has no
// built-in GIN-style index.

const ddlSchemaVersion = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id           TEXT    NOT NULL,
    title             TEXT    NOT NULL DEFAULT '',
    created_at        TEXT    NOT NULL,
    updated_at        TEXT    NOT NULL,
    message_count     INTEGER NOT NULL DEFAULT 0,
    archived          INTEGER NOT NULL DEFAULT 0,
    private           INTEGER NOT NULL DEFAULT 0,
    continued_from    INTEGER NOT NULL DEFAULT 0,
    summary           TEXT    NOT NULL DEFAULT '',

    llm_locked        INTEGER NOT NULL DEFAULT 0,
    llm_type          TEXT    NOT NULL DEFAULT '',
    llm_provider      TEXT    NOT NULL DEFAULT '',
    llm_model         TEXT    NOT NULL DEFAULT '',
    llm_tools_mode    TEXT    NOT NULL DEFAULT '',
    llm_thinking_mode TEXT    NOT NULL DEFAULT '',

    tokens_used       INTEGER NOT NULL DEFAULT 0,
    tokens_max        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_id
    ON conversations (user_id);

CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
    ON conversations (user_id, updated_at);

CREATE INDEX IF NOT EXISTS idx_conversations_continued_from
    ON conversations (continued_from);

CREATE INDEX IF NOT EXISTS idx_conversations_title
    ON conversations (user_id, title);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
    role            TEXT    NOT NULL,
    content         TEXT    NOT NULL,
    created_at      TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
    ON messages (conversation_id);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
    ON messages (conversation_id, id);
`

// ddlMessagesFTS provides full-text search over message content with an
// FTS5 virtual table kept in sync via triggers.
const ddlMessagesFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
`

const currentSchemaVersion = 1
