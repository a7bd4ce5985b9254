package memory

import (
	"context"

	"github.com/toolchest-labs/toolchest/internal/port/outbound"
)

// CachedEmbeddingClient fronts an embedding client with the LRU cache,
// so unchanged tool descriptions and repeated search queries cost one
// backend call instead of one per use.
type CachedEmbeddingClient struct {
	client outbound.EmbeddingClient
	cache  *EmbeddingCache
}

// NewCachedEmbeddingClient wraps client with cache. A nil cache gets a
// default-sized one.
func NewCachedEmbeddingClient(client outbound.EmbeddingClient, cache *EmbeddingCache) *CachedEmbeddingClient {
	if cache == nil {
		cache = NewEmbeddingCache(DefaultEmbeddingCacheSize)
	}
	return &CachedEmbeddingClient{client: client, cache: cache}
}

// Embed returns the cached vector for text, calling the backend only on
// a miss. Backend errors are never cached.
func (c *CachedEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cache.Key(text)
	if vector, ok := c.cache.Get(key); ok {
		return vector, nil
	}
	vector, err := c.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, vector)
	return vector, nil
}

// Compile-time interface verification.
var _ outbound.EmbeddingClient = (*CachedEmbeddingClient)(nil)
