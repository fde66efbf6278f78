// ABOUTME: SQLite history backend using modernc.org/sqlite
// ABOUTME: Stores one row per message and rewrites a thread's window inside a transaction

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists histories in a SQLite database file.
type SQLiteStore struct {
	db          *sql.DB
	writeMu     sync.Mutex
	maxMessages int
	logger      *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created if needed. ":memory:" keeps everything in RAM.
func NewSQLiteStore(path string, maxMessages int, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
	}

	s := &SQLiteStore{
		db:          db,
		maxMessages: maxMessages,
		logger:      logger.With("component", "history", "backend", "sqlite"),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("sqlite history store initialized", "path", path, "max_messages", maxMessages)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS history_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id  TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL,

			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_history_thread
			ON history_messages(thread_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the thread's messages oldest first.
func (s *SQLiteStore) Get(ctx context.Context, threadID string) (History, error) {
	return s.load(ctx, s.db, threadID)
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) load(ctx context.Context, q sqlQuerier, threadID string) (History, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT role, content FROM history_messages WHERE thread_id = ? ORDER BY id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	h := History{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		msg := Message{Role: Role(role)}
		if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
			s.logger.Warn("skipping unreadable history row", "thread_id", threadID, "error", err)
			continue
		}
		h = append(h, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return h, nil
}

// Append rewrites the thread's window in a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, threadID string, user, assistant Message) error {
	// sqlite allows one writer; a deferred transaction that reads first
	// can't upgrade while another connection holds the write lock.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.load(ctx, tx, threadID)
	if err != nil {
		return err
	}
	next := appendExchange(current, user, assistant, s.maxMessages)

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("clearing thread window: %w", err)
	}

	now := time.Now().UTC()
	for _, msg := range next {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("encoding message content: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history_messages (thread_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			threadID, string(msg.Role), string(content), now,
		); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history: %w", err)
	}
	return nil
}

// Has reports whether any row exists for threadID. Query errors count as no.
func (s *SQLiteStore) Has(ctx context.Context, threadID string) bool {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_messages WHERE thread_id = ?`, threadID).Scan(&n)
	if err != nil {
		s.logger.Warn("history lookup failed", "thread_id", threadID, "error", err)
		return false
	}
	return n > 0
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
