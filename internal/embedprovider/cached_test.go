package embedprovider

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider wraps HashProvider and counts inner calls.
type countingProvider struct {
	*HashProvider
	embedCalls int64
	batchTexts int64
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&c.embedCalls, 1)
	return c.HashProvider.Embed(ctx, text)
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&c.batchTexts, int64(len(texts)))
	return c.HashProvider.EmbedBatch(ctx, texts)
}

func TestCachedProviderHitsSkipInner(t *testing.T) {
	inner := &countingProvider{HashProvider: NewHashProvider()}
	cached := NewCachedProvider(inner, 10)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.Embed(ctx, "query text")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "query text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&inner.embedCalls))
}

func TestCachedProviderBatchOnlyMisses(t *testing.T) {
	inner := &countingProvider{HashProvider: NewHashProvider()}
	cached := NewCachedProvider(inner, 10)
	defer cached.Close()

	ctx := context.Background()
	_, err := cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, HashDimensions)
	}

	// Only "c" was a miss on the second call.
	assert.Equal(t, int64(3), atomic.LoadInt64(&inner.batchTexts))
}

func TestCachedProviderPassthrough(t *testing.T) {
	inner := NewHashProvider()
	cached := NewCachedProvider(inner, 0)

	assert.Equal(t, HashDimensions, cached.Dimensions())
	assert.Equal(t, "hash", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
}
