// ABOUTME: Bounded TTL cache of recently delivered envelope IDs.
// ABOUTME: Lets broker-backed channels drop transport-level redeliveries before dispatch.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used when New is given non-positive values.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10_000

	sweepInterval = time.Minute
)

type entry struct {
	seenAt time.Time
	elem   *list.Element
}

// Cache remembers IDs for a limited time and up to a limited count. The
// oldest ID is evicted first when the cache is full.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache and starts a background sweep of expired IDs.
// Call Close to stop the sweep.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether id was recorded within the TTL. If it was not, id is
// recorded and false is returned, so the first caller for an ID wins.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok && c.now().Sub(e.seenAt) < c.ttl {
		return true
	}
	c.recordLocked(id)
	return false
}

// Contains reports whether id was recorded within the TTL without recording it.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

// Len returns the number of IDs currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// recordLocked stores id as seen now. Must be called with mu held.
func (c *Cache) recordLocked(id string) {
	if e, ok := c.entries[id]; ok {
		e.seenAt = c.now()
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.entries, oldest)
		}
	}

	c.entries[id] = &entry{
		seenAt: c.now(),
		elem:   c.order.PushBack(id),
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired IDs. Entries are ordered by last record time, so the
// walk stops at the first unexpired one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		id, _ := front.Value.(string)
		e := c.entries[id]
		if e != nil && now.Sub(e.seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.entries, id)
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
