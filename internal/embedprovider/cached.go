package embedprovider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of embeddings a CachedProvider keeps.
const DefaultCacheSize = 1000

// CachedProvider wraps a provider with an LRU cache keyed by text and model
// so repeated chunks and queries skip the inner provider entirely.
type CachedProvider struct {
	inner EmbeddingProvider
	cache *lru.Cache[string, []float32]
}

var _ EmbeddingProvider = (*CachedProvider)(nil)

// NewCachedProvider wraps inner with a cache of the given size
// (DefaultCacheSize if non-positive).
func NewCachedProvider(inner EmbeddingProvider, cacheSize int) *CachedProvider {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedProvider{inner: inner, cache: cache}
}

// cacheKey hashes text together with the model name so switching models
// never serves stale vectors.
func (c *CachedProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(sum[:])
}

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch checks the cache per text and batches only the misses through
// the inner provider.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
		}
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = embedded[j]
		c.cache.Add(c.cacheKey(texts[idx]), embedded[j])
	}
	return results, nil
}

func (c *CachedProvider) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedProvider) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedProvider) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *CachedProvider) Close() error                       { return c.inner.Close() }

// Inner returns the wrapped provider.
func (c *CachedProvider) Inner() EmbeddingProvider { return c.inner }
