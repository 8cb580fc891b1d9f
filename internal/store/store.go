// Package store provides an optional SQLite-backed transcript log for chat
// sessions. Each /api/chat session id (or terminal chat run) has its own
// thread of user, tool and assistant entries. The log is write-mostly: the
// conversation state itself travels with the client, so the transcript is
// for audit and review, not for rebuilding context.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/hmochat-go/internal/conversation"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	// RoleUser is a message sent by the member.
	RoleUser Role = "user"
	// RoleAssistant is a reply produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool is a tool invocation and its result.
	RoleTool Role = "tool"
)

// Entry is a single transcript line.
type Entry struct {
	// Role is the author of the entry.
	Role Role
	// Phase is the conversation phase the entry was produced in.
	Phase string
	// Content is the message text, or "name(args) -> result" for tools.
	Content string
	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time
}

// Turn is everything one Advance produced, persisted atomically.
type Turn struct {
	// Phase is the phase the turn ran in.
	Phase string
	// User is the member's message.
	User string
	// Tools holds one rendered line per tool call.
	Tools []string
	// Reply is the assistant's final reply.
	Reply string
}

// FromTurn converts a completed conversation turn for persistence. Phase is
// the phase the turn started in.
func FromTurn(phase conversation.Phase, userMessage string, t conversation.Turn) Turn {
	out := Turn{Phase: string(phase), User: userMessage, Reply: t.Reply}
	for _, c := range t.ToolCalls {
		out.Tools = append(out.Tools, fmt.Sprintf("%s(%s) -> %s", c.Name, c.Arguments, c.Result))
	}
	return out
}

// TranscriptStore persists and retrieves chat transcripts keyed by session
// id. Implementations must be safe for concurrent use.
type TranscriptStore interface {
	// AppendTurn persists a whole turn for the session.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error
	// Recent returns the most recent n entries for the session, oldest first.
	// If fewer than n entries exist, all are returned.
	Recent(ctx context.Context, sessionID string, n int) ([]Entry, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a TranscriptStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the transcript database.
// It resolves to ~/.hmochat/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".hmochat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS transcripts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT    NOT NULL,
    role        TEXT    NOT NULL CHECK(role IN ('user','assistant','tool')),
    phase       TEXT    NOT NULL,
    content     TEXT    NOT NULL,
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session
    ON transcripts (session_id, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// AppendTurn inserts the user message, each tool line and the reply in one
// transaction, so a transcript never shows half a turn.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	if sessionID == "" {
		return fmt.Errorf("store: append: empty session id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO transcripts (session_id, role, phase, content, created_at) VALUES (?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	insert := func(role Role, content string) error {
		_, err := tx.ExecContext(ctx, q, sessionID, string(role), turn.Phase, content, now)
		return err
	}

	if err := insert(RoleUser, turn.User); err != nil {
		return fmt.Errorf("store: append user: %w", err)
	}
	for _, line := range turn.Tools {
		if err := insert(RoleTool, line); err != nil {
			return fmt.Errorf("store: append tool: %w", err)
		}
	}
	if err := insert(RoleAssistant, turn.Reply); err != nil {
		return fmt.Errorf("store: append reply: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: append: commit: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries for the session, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Entry, error) {
	const q = `
SELECT role, phase, content, created_at FROM (
    SELECT id, role, phase, content, created_at
    FROM   transcripts
    WHERE  session_id = ?
    ORDER  BY id DESC
    LIMIT  ?
) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var role string
		if err := rows.Scan(&role, &e.Phase, &e.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		e.Role = Role(role)
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
