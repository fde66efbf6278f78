// ABOUTME: bbolt history backend storing each thread's window as one JSON value
// ABOUTME: Single-file embedded store for deployments without a SQL database

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var threadsBucket = []byte("threads")

// BoltStore persists histories in a bbolt file.
type BoltStore struct {
	db          *bolt.DB
	maxMessages int
	logger      *slog.Logger
}

// NewBoltStore opens (or creates) the bolt file at path.
func NewBoltStore(path string, maxMessages int, logger *slog.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(threadsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating threads bucket: %w", err)
	}

	return &BoltStore{
		db:          db,
		maxMessages: maxMessages,
		logger:      logger.With("component", "history", "backend", "bolt"),
	}, nil
}

func decodeThread(v []byte) (History, error) {
	h := History{}
	if len(v) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(v, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// Get returns the stored window for threadID.
func (b *BoltStore) Get(_ context.Context, threadID string) (History, error) {
	var h History
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(threadsBucket)
		if bucket == nil {
			h = History{}
			return nil
		}
		var err error
		h, err = decodeThread(bucket.Get([]byte(threadID)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading thread %s: %w", threadID, err)
	}
	return h, nil
}

// Append reads, extends and rewrites the window inside one bolt transaction.
func (b *BoltStore) Append(_ context.Context, threadID string, user, assistant Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(threadsBucket)
		if err != nil {
			return err
		}
		current, err := decodeThread(bucket.Get([]byte(threadID)))
		if err != nil {
			b.logger.Warn("discarding unreadable thread", "thread_id", threadID, "error", err)
			current = History{}
		}
		data, err := json.Marshal(appendExchange(current, user, assistant, b.maxMessages))
		if err != nil {
			return fmt.Errorf("encoding thread: %w", err)
		}
		return bucket.Put([]byte(threadID), data)
	})
}

// Has reports whether threadID has a stored window.
func (b *BoltStore) Has(_ context.Context, threadID string) bool {
	found := false
	_ = b.db.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket(threadsBucket); bucket != nil {
			found = len(bucket.Get([]byte(threadID))) > 0
		}
		return nil
	})
	return found
}

// Close closes the bolt file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
