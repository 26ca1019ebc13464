package embedding

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Cache is a bounded LRU with TTL keyed by the content hash of normalized
// text, so identical content never hits the embedding service twice.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	max     int
	ttl     time.Duration

	hits   int64
	misses int64
}

type cacheEntry struct {
	key      string
	result   Result
	storedAt time.Time
}

func NewCache(max int, ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		max:     max,
		ttl:     ttl,
	}
}

// CacheKey derives the deterministic cache key for a model/text pair.
func CacheKey(model, normalizedText string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + normalizedText))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return Result{}, false
	}

	entry := el.Value.(*cacheEntry)
	if time.Since(entry.storedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses++
		return Result{}, false
	}

	c.order.MoveToFront(el)
	c.hits++
	return entry.result, true
}

func (c *Cache) Set(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).result = result
		el.Value.(*cacheEntry).storedAt = time.Now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, result: result, storedAt: time.Now()})
	c.entries[key] = el

	if c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports hit/miss counters for the embedding stats endpoint.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
