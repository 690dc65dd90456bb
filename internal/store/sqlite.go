// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides thread id and offline queue persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS queued_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

const threadIDKey = "thread_id"

// ThreadID returns the persisted active thread id.
func (s *SQLiteStore) ThreadID(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM session_state WHERE key = ?", threadIDKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying thread id: %w", err)
	}
	return value, nil
}

// SetThreadID replaces the persisted active thread id.
func (s *SQLiteStore) SetThreadID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		threadIDKey, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persisting thread id: %w", err)
	}
	return nil
}

// AppendQueued adds a message to the end of the offline queue.
func (s *SQLiteStore) AppendQueued(ctx context.Context, msg QueuedMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_messages (id, thread_id, content, created_at)
		VALUES (?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Content, msg.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("appending queued message: %w", err)
	}
	return nil
}

// ListQueued returns all queued messages in FIFO order.
func (s *SQLiteStore) ListQueued(ctx context.Context) ([]QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, content, created_at
		FROM queued_messages ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing queued messages: %w", err)
	}
	defer rows.Close()

	var messages []QueuedMessage
	for rows.Next() {
		var msg QueuedMessage
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning queued message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteQueued removes the messages with the given ids.
func (s *SQLiteStore) DeleteQueued(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM queued_messages WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("deleting queued messages: %w", err)
	}
	return nil
}

// ClearQueued removes every queued message.
func (s *SQLiteStore) ClearQueued(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM queued_messages"); err != nil {
		return fmt.Errorf("clearing queued messages: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
