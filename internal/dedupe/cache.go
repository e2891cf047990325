// ABOUTME: Thread-safe TTL cache of chat event keys
// ABOUTME: Drops redelivered events and answers whether a message is still inside its edit window

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxSize bounds a cache when the caller passes a non-positive size.
const DefaultMaxSize = 10000

type entry struct {
	at      time.Time
	element *list.Element
}

// Cache remembers keys for a fixed TTL, evicting the oldest key once it
// holds maxSize of them.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache and starts its cleanup goroutine. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop(cleanupInterval(ttl))
	return c
}

// cleanupInterval sweeps at the TTL, clamped between 1s and 1m.
func cleanupInterval(ttl time.Duration) time.Duration {
	switch {
	case ttl < time.Second:
		return time.Second
	case ttl > time.Minute:
		return time.Minute
	default:
		return ttl
	}
}

// Check reports whether key was marked less than TTL ago.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// Since returns how long ago key was marked, if it is still live.
func (c *Cache) Since(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	if !ok {
		return 0, false
	}
	age := c.now().Sub(e.at)
	if age >= c.ttl {
		return 0, false
	}
	return age, true
}

// CheckAndMark returns true if key is live (a duplicate); otherwise it marks
// key and returns false. The check and mark are atomic.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key as seen now, refreshing it if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Forget removes key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of stored keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) liveLocked(key string) bool {
	e, ok := c.seen[key]
	return ok && c.now().Sub(e.at) < c.ttl
}

func (c *Cache) markLocked(key string) {
	now := c.now()

	if e, ok := c.seen[key]; ok {
		e.at = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &entry{at: now, element: c.order.PushBack(key)}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Expire()
		case <-c.done:
			return
		}
	}
}

// Expire drops every key older than the TTL and returns how many it dropped.
// Keys are ordered by mark time, so it stops at the first live one.
func (c *Cache) Expire() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.seen[key].at) < c.ttl {
			break
		}
		c.order.Remove(front)
		delete(c.seen, key)
		dropped++
	}
	return dropped
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
