// ABOUTME: PostgreSQL history backend on a pgx connection pool
// ABOUTME: Serializes same-thread appends with a transaction-scoped advisory lock

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists histories in PostgreSQL.
type PostgresStore struct {
	pool        *pgxpool.Pool
	maxMessages int
	logger      *slog.Logger
}

// NewPostgresStore connects to dsn, pings it and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string, maxMessages int, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		pool:        pool,
		maxMessages: maxMessages,
		logger:      logger.With("component", "history", "backend", "postgres"),
	}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS history_messages (
			id         BIGSERIAL PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			content    JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_history_thread ON history_messages(thread_id, id);
	`)
	return err
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) load(ctx context.Context, q pgQuerier, threadID string) (History, error) {
	rows, err := q.Query(ctx,
		`SELECT role, content FROM history_messages WHERE thread_id = $1 ORDER BY id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	h := History{}
	for rows.Next() {
		var role string
		var content []byte
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		msg := Message{Role: Role(role)}
		if err := json.Unmarshal(content, &msg.Content); err != nil {
			s.logger.Warn("skipping unreadable history row", "thread_id", threadID, "error", err)
			continue
		}
		h = append(h, msg)
	}
	return h, rows.Err()
}

// Get returns the thread's messages oldest first.
func (s *PostgresStore) Get(ctx context.Context, threadID string) (History, error) {
	return s.load(ctx, s.pool, threadID)
}

// Append rewrites the thread's window in one transaction.
func (s *PostgresStore) Append(ctx context.Context, threadID string, user, assistant Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, threadID); err != nil {
		return fmt.Errorf("locking thread: %w", err)
	}

	current, err := s.load(ctx, tx, threadID)
	if err != nil {
		return err
	}
	next := appendExchange(current, user, assistant, s.maxMessages)

	if _, err := tx.Exec(ctx, `DELETE FROM history_messages WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("clearing thread window: %w", err)
	}

	batch := &pgx.Batch{}
	for _, msg := range next {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("encoding message content: %w", err)
		}
		batch.Queue(`INSERT INTO history_messages (thread_id, role, content) VALUES ($1, $2, $3)`,
			threadID, string(msg.Role), content)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting messages: %w", err)
	}

	return tx.Commit(ctx)
}

// Has reports whether threadID has stored rows. Query errors count as no.
func (s *PostgresStore) Has(ctx context.Context, threadID string) bool {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM history_messages WHERE thread_id = $1)`, threadID).Scan(&exists)
	if err != nil {
		s.logger.Warn("history lookup failed", "thread_id", threadID, "error", err)
		return false
	}
	return exists
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
