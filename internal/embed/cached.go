package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings to cache.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU cache. Search uses it so a
// repeated query does not pay for a remote round trip.
type CachedEmbedder struct {
	Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		Embedder: inner,
		cache:    cache,
	}
}

// cacheKey includes the model so a mode switch never serves stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text + "\x00" + c.ModelName()))
	return hex.EncodeToString(hash[:])
}

// Embed returns cached vectors where possible and embeds the rest in one call.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	uncached := make([]string, len(missing))
	for i, idx := range missing {
		uncached[i] = texts[idx]
	}
	vecs, err := c.Embedder.Embed(ctx, uncached)
	if err != nil {
		return nil, err
	}
	for i, idx := range missing {
		results[idx] = vecs[i]
		c.cache.Add(c.cacheKey(texts[idx]), vecs[i])
	}
	return results, nil
}

// Len returns the number of cached entries.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Purge drops every cached entry.
func (c *CachedEmbedder) Purge() {
	c.cache.Purge()
}
