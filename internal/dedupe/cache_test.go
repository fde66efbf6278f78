// ABOUTME: Tests for the seen-key cache used to drop redelivered events
// ABOUTME: Validates TTL expiry with a fake clock, size limits and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// contains reports whether key is held and unexpired, without marking it.
func (c *Cache) contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(c.now())
	_, ok := c.index[key]
	return ok
}

func (c *Cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(c.now())
	return c.order.Len()
}

func newTestCache(ttl time.Duration, size int) (*Cache, *clock) {
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(ttl, size).WithClock(clk.now), clk
}

func TestCache_FirstSeenThenDuplicate(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	assert.False(t, c.Seen("evt-1"))
	assert.True(t, c.Seen("evt-1"))
	assert.False(t, c.Seen("evt-2"))
	assert.Equal(t, 2, c.size())
}

func TestCache_Expiry(t *testing.T) {
	c, clk := newTestCache(time.Minute, 10)

	c.Seen("a")
	clk.t = clk.t.Add(30 * time.Second)
	c.Seen("b")

	clk.t = clk.t.Add(31 * time.Second)
	assert.False(t, c.contains("a"), "a expired")
	assert.True(t, c.contains("b"))
	assert.False(t, c.Seen("a"), "expired keys count as new")
}

func TestCache_RemarkExtendsLifetime(t *testing.T) {
	c, clk := newTestCache(time.Minute, 10)

	c.Seen("a")
	clk.t = clk.t.Add(50 * time.Second)
	assert.True(t, c.Seen("a"))
	clk.t = clk.t.Add(50 * time.Second)
	assert.True(t, c.contains("a"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)

	for _, k := range []string{"a", "b", "c", "d"} {
		c.Seen(k)
	}
	assert.Equal(t, 3, c.size())
	assert.False(t, c.contains("a"))
	assert.True(t, c.contains("d"))
}

func TestCache_LookupDoesNotMark(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)
	assert.False(t, c.contains("x"))
	assert.False(t, c.Seen("x"))
}

func TestKey(t *testing.T) {
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Equal(t, Key("C1", "1700.1"), Key("C1", "1700.1"))
}

func TestCache_ConcurrentSeenAdmitsOnce(t *testing.T) {
	c := New(time.Minute, 1000)
	var firsts atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if !c.Seen(fmt.Sprintf("evt-%d", j)) {
					firsts.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), firsts.Load())
}
