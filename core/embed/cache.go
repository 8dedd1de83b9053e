package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the vector cache when configuration does not.
const DefaultCacheSize = 4096

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// CachedEmbedder wraps an Embedder with a bounded LRU vector cache keyed by
// text digest. Batch calls only forward the texts the cache misses, which is
// where remote providers earn the cache back: re-indexing an unchanged
// corpus costs zero API calls.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[[32]byte, []float32]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewCachedEmbedder wraps inner with a cache of at most size vectors.
// Sizes below 1 use DefaultCacheSize.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size < 1 {
		size = DefaultCacheSize
	}

	c := &CachedEmbedder{inner: inner}
	cache, _ := lru.NewWithEvict[[32]byte, []float32](size, func([32]byte, []float32) {
		c.evictions.Add(1)
	})
	c.cache = cache
	return c
}

func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(text))
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(batch))
	keys := make([][32]byte, len(batch))

	var missing []string
	var missingIdx []int
	for i, text := range batch {
		keys[i] = sha256.Sum256([]byte(text))
		if vec, ok := c.cache.Get(keys[i]); ok {
			c.hits.Add(1)
			results[i] = vec
			continue
		}
		c.misses.Add(1)
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embed: expected %d vectors, got %d", len(missing), len(vecs))
	}
	for j, vec := range vecs {
		i := missingIdx[j]
		results[i] = vec
		c.cache.Add(keys[i], vec)
	}

	return results, nil
}

// Stats returns a snapshot of the cache counters.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.cache.Len(),
	}
}
