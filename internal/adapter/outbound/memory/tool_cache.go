// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"sync"

	"github.com/toolchest-labs/toolchest/internal/domain/tool"
)

// MemoryToolCache implements tool.Cache with an in-memory map.
// Thread-safe for concurrent access. All values crossing the boundary
// are deep copies so callers can never mutate the cached state.
type MemoryToolCache struct {
	tools map[string]*tool.Tool
	mu    sync.RWMutex
}

// NewToolCache creates a new in-memory tool cache.
func NewToolCache() *MemoryToolCache {
	return &MemoryToolCache{
		tools: make(map[string]*tool.Tool),
	}
}

// Get returns a deep copy of the cached tool, or false.
func (c *MemoryToolCache) Get(name string) (*tool.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tools[name]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Set stores a deep copy of the tool, replacing any previous entry.
func (c *MemoryToolCache) Set(t *tool.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tools[t.Name] = t.Clone()
}

// Delete removes the tool from the cache. Deleting a missing name is a no-op.
func (c *MemoryToolCache) Delete(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tools, name)
}

// List returns deep copies of all cached tools.
func (c *MemoryToolCache) List() []*tool.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*tool.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t.Clone())
	}
	return out
}

// Count returns the number of cached tools.
func (c *MemoryToolCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// Compile-time interface verification.
var _ tool.Cache = (*MemoryToolCache)(nil)
