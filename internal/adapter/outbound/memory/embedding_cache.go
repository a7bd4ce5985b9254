package memory

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultEmbeddingCacheSize bounds the embedding cache. Embeddings are
// a few KB each, so the default keeps the cache under a few MB.
const DefaultEmbeddingCacheSize = 512

// embeddingEntry is a doubly-linked list node for the LRU cache.
type embeddingEntry struct {
	key    uint64
	vector []float32
	prev   *embeddingEntry
	next   *embeddingEntry
}

// EmbeddingCache provides bounded LRU caching for text embeddings,
// keyed by a hash of the embedded text. It saves repeated embedding
// calls for unchanged tool descriptions and search queries.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type EmbeddingCache struct {
	mu      sync.Mutex
	entries map[uint64]*embeddingEntry
	head    *embeddingEntry // most recently used
	tail    *embeddingEntry // least recently used
	maxSize int
}

// NewEmbeddingCache creates a new LRU embedding cache with the given
// max size. Sizes below 1 fall back to the default.
func NewEmbeddingCache(maxSize int) *EmbeddingCache {
	if maxSize < 1 {
		maxSize = DefaultEmbeddingCacheSize
	}
	return &EmbeddingCache{
		entries: make(map[uint64]*embeddingEntry, maxSize),
		maxSize: maxSize,
	}
}

// Key hashes the text into a cache key.
func (c *EmbeddingCache) Key(text string) uint64 {
	return xxhash.Sum64String(text)
}

// Get retrieves a cached embedding. Returns (vector, true) on hit,
// (nil, false) on miss. On hit, the entry is promoted to the head.
// The returned slice is a copy.
func (c *EmbeddingCache) Get(key uint64) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		out := make([]float32, len(e.vector))
		copy(out, e.vector)
		return out, true
	}
	return nil, false
}

// Put stores an embedding. If at capacity, the least recently used
// entry is evicted. The vector is copied on the way in.
func (c *EmbeddingCache) Put(key uint64, vector []float32) {
	stored := make([]float32, len(vector))
	copy(stored, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.vector = stored
		c.moveToHeadLocked(e)
		return
	}

	// Evict LRU entry if at capacity.
	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &embeddingEntry{key: key, vector: stored}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Size returns current cache size.
func (c *EmbeddingCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *EmbeddingCache) moveToHeadLocked(e *embeddingEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *EmbeddingCache) pushHeadLocked(e *embeddingEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *EmbeddingCache) unlinkLocked(e *embeddingEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *EmbeddingCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
