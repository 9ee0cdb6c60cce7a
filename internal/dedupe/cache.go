// ABOUTME: Bounded TTL set of request ids that have already been answered
// ABOUTME: Lets a peer ignore a request it sees twice within the window

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Cache remembers keys for ttl, holding at most maxSize of them. Entries are
// kept in the order they were last marked, so expired ones are always at the
// front and are pruned on every write.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. A non-positive maxSize means unbounded.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Check reports whether key was marked within the ttl.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// CheckAndMark reports whether key was already live, marking it when it was
// not. Exactly one of many concurrent callers with the same key gets false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key, refreshing it if present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Len returns the number of keys held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) liveLocked(key string) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	return c.now().Sub(el.Value.(*entry).seen) < c.ttl
}

func (c *Cache) markLocked(key string) {
	now := c.now()
	c.pruneLocked(now)

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).seen = now
		c.order.MoveToBack(el)
		return
	}

	if c.maxSize > 0 && c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seen: now})
}

func (c *Cache) pruneLocked(now time.Time) {
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if now.Sub(el.Value.(*entry).seen) < c.ttl {
			return
		}
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	delete(c.index, el.Value.(*entry).key)
	c.order.Remove(el)
}
