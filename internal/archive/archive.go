// Package archive provides a SQLite-backed durable record of conversation
// turns, keyed by session id. Live session state stays in the memory
// package; the archive is write-behind housekeeping that survives restarts
// so operators can inspect past conversations. Archive failures are logged
// by callers and never fail a request.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Turn is a single archived conversation turn.
type Turn struct {
	// SessionID identifies the conversation.
	SessionID string
	// Role is the author ("user", "assistant", "system").
	Role string
	// Content is the text of the turn.
	Content string
	// CreatedAt is when the turn was archived.
	CreatedAt time.Time
}

// Archiver persists and retrieves conversation turns. Implementations must
// be safe for concurrent use.
type Archiver interface {
	// Append persists a single turn.
	Append(ctx context.Context, sessionID, role, content string) error
	// Recent returns the most recent n turns for the session, ordered
	// oldest-first. If fewer than n turns exist, all are returned.
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)
	// Close releases any resources held by the archive.
	Close() error
}

// SQLiteArchive is an Archiver backed by a local SQLite database.
type SQLiteArchive struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the archive database.
// It resolves to ~/.chatd/archive.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("archive: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chatd")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("archive: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "archive.db"), nil
}

// Open opens (or creates) a SQLiteArchive at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteArchive, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// migrate creates the schema if it does not already exist.
func (a *SQLiteArchive) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT    NOT NULL,
    role        TEXT    NOT NULL CHECK(role IN ('user','assistant','system')),
    content     TEXT    NOT NULL,
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_turns_session_created
    ON turns (session_id, created_at);
`
	if _, err := a.db.Exec(ddl); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Append persists a single turn for the given session.
func (a *SQLiteArchive) Append(ctx context.Context, sessionID, role, content string) error {
	const q = `INSERT INTO turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := a.db.ExecContext(ctx, q, sessionID, role, content, time.Now().Unix()); err != nil {
		return fmt.Errorf("archive: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n turns for the session, ordered
// oldest-first. Uses a subquery to select the tail then re-order.
func (a *SQLiteArchive) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	const q = `
SELECT role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   turns
    WHERE  session_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := a.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("archive: recent: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		t := Turn{SessionID: sessionID}
		var ts int64
		if err := rows.Scan(&t.Role, &t.Content, &ts); err != nil {
			return nil, fmt.Errorf("archive: recent scan: %w", err)
		}
		t.CreatedAt = time.Unix(ts, 0)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: recent rows: %w", err)
	}
	return turns, nil
}

// Close releases the database connection pool.
func (a *SQLiteArchive) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("archive: close: %w", err)
	}
	return nil
}
