package features

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	key     string
	vec     []float64
	expires time.Time
}

// vectorCache is a size-bounded LRU with per-entry TTL. Returned vectors are
// copies; callers may mutate them freely.
type vectorCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List // front = most recent
	items   map[string]*list.Element
	hits    uint64
	misses  uint64
}

func newVectorCache(maxSize int, ttl time.Duration) *vectorCache {
	return &vectorCache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

func (c *vectorCache) get(key string, now time.Time) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*cacheEntry)
	if now.After(ent.expires) {
		c.order.Remove(el)
		delete(c.items, key)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	out := make([]float64, len(ent.vec))
	copy(out, ent.vec)
	return out, true
}

func (c *vectorCache) put(key string, vec []float64, now time.Time) {
	if c.maxSize <= 0 {
		return
	}
	stored := make([]float64, len(vec))
	copy(stored, vec)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.vec = stored
		ent.expires = now.Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, vec: stored, expires: now.Add(c.ttl)})
	c.items[key] = el
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *vectorCache) stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.order.Len()
}
