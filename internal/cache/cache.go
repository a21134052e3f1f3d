// Package cache is a small in-process key-value cache with per-entry
// TTL and bounded LRU eviction. Instances are injected into their
// consumers; there is no package-level shared state.
package cache

import (
	"container/list"
	"path"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

type Cache struct {
	mu         sync.Mutex
	maxEntries int
	defaultTTL time.Duration
	order      *list.List // front = most recently used
	items      map[string]*list.Element

	// now is swappable for tests.
	now func() time.Time
}

func New(maxEntries int, defaultTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, value: value, expiresAt: expires})
	c.items[key] = el

	for c.order.Len() > c.maxEntries {
		c.removeLocked(c.order.Back())
	}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// DeletePattern removes every key matching a glob pattern, e.g.
// "transfer:ref:*".
func (c *Cache) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for key, el := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			c.removeLocked(el)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}
