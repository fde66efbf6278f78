// ABOUTME: Process-wide in-memory history store guarded by a RWMutex
// ABOUTME: Default backend; threads live until the process exits

package history

import (
	"context"
	"sync"
)

// MemoryStore keeps histories in a map for the lifetime of the process.
type MemoryStore struct {
	mu          sync.RWMutex
	threads     map[string]History
	maxMessages int
}

// NewMemoryStore creates an empty store with the given per-thread window.
func NewMemoryStore(maxMessages int) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &MemoryStore{
		threads:     make(map[string]History),
		maxMessages: maxMessages,
	}
}

// Get never fails.
func (m *MemoryStore) Get(_ context.Context, threadID string) (History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threads[threadID].Clone(), nil
}

// Append replaces the thread's history with the trimmed result.
func (m *MemoryStore) Append(_ context.Context, threadID string, user, assistant Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = appendExchange(m.threads[threadID], user, assistant, m.maxMessages)
	return nil
}

// Has reports whether threadID has stored messages.
func (m *MemoryStore) Has(_ context.Context, threadID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads[threadID]) > 0
}

// Len returns the number of threads held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
