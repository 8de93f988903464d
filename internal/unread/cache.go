// Package unread keeps derived unread counters over the conversation store.
// Entries are dropped on write and recomputed on the next read.
package unread

import (
	"sync"

	"github.com/matheus3301/meshphone/internal/domain"
)

// Source provides the messages the counters are derived from.
type Source interface {
	Messages(partition, key string) []domain.Message
}

type entry struct {
	viewer string
	key    string
}

// Cache memoises unread counts per (viewer, conversation key).
type Cache struct {
	mu     sync.Mutex
	src    Source
	counts map[entry]int
	misses int
	// gen changes on every invalidation so a scan that raced a write is not stored.
	gen uint64
}

// New creates a cache over src.
func New(src Source) *Cache {
	return &Cache{src: src, counts: make(map[entry]int)}
}

// Count returns the number of unread messages addressed to viewer in its
// conversation with other.
func (c *Cache) Count(viewer, other string) int {
	e := entry{viewer: viewer, key: domain.ConversationKey(viewer, other)}

	c.mu.Lock()
	if n, ok := c.counts[e]; ok {
		c.mu.Unlock()
		return n
	}
	c.misses++
	gen := c.gen
	c.mu.Unlock()

	n := 0
	for _, m := range c.src.Messages(viewer, e.key) {
		if m.ReceiverID == viewer && !m.Read {
			n++
		}
	}

	c.mu.Lock()
	if c.gen == gen {
		c.counts[e] = n
	}
	c.mu.Unlock()
	return n
}

// Total sums Count over others.
func (c *Cache) Total(viewer string, others []string) int {
	total := 0
	for _, o := range others {
		total += c.Count(viewer, o)
	}
	return total
}

// Cached returns the memoised value without recomputing.
func (c *Cache) Cached(viewer, other string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[entry{viewer: viewer, key: domain.ConversationKey(viewer, other)}]
	return n, ok
}

// Invalidate drops every entry for key, for both viewers.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	a, b, ok := domain.SplitConversationKey(key)
	if !ok {
		return
	}
	delete(c.counts, entry{viewer: a, key: key})
	delete(c.counts, entry{viewer: b, key: key})
}

// Reset drops everything.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.counts = make(map[entry]int)
	c.gen++
	c.mu.Unlock()
}

// Misses reports how many lookups had to scan the store.
func (c *Cache) Misses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}

// ConversationChanged implements conversation.Observer.
func (c *Cache) ConversationChanged(_, key string) {
	c.Invalidate(key)
}
