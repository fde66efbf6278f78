// ABOUTME: Bounded TTL set of recently seen event keys
// ABOUTME: Expires lazily from the oldest end; no background goroutine

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache is a size-limited set of keys that forgets each key ttl after it
// was last marked. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // oldest mark at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. maxSize <= 0 means 1.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// WithClock replaces the clock. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// Seen reports whether key was marked within ttl, and marks it either way.
// The first caller for a key gets false; redeliveries get true.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expire(now)

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).seenAt = now
		c.order.MoveToBack(el)
		return true
	}

	for c.order.Len() >= c.maxSize {
		c.removeFront()
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// expire drops entries older than ttl. Must be called with mu held.
func (c *Cache) expire(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil || now.Sub(front.Value.(*entry).seenAt) < c.ttl {
			return
		}
		c.removeFront()
	}
}

func (c *Cache) removeFront() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*entry).key)
}
