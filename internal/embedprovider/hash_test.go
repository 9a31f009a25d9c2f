package embedprovider

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashProviderDeterministic(t *testing.T) {
	p := NewHashProvider()
	defer p.Close()

	a, err := p.Embed(context.Background(), "func parseConfig() error")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "func parseConfig() error")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, HashDimensions)
}

func TestHashProviderUnitLength(t *testing.T) {
	p := NewHashProvider()
	defer p.Close()

	vec, err := p.Embed(context.Background(), "consistent hashing over virtual nodes")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestHashProviderEmptyText(t *testing.T) {
	p := NewHashProvider()
	defer p.Close()

	vec, err := p.Embed(context.Background(), "   \n\t ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, HashDimensions), vec)
}

func TestHashProviderBatchAligned(t *testing.T) {
	p := NewHashProvider()
	defer p.Close()

	texts := []string{"alpha", "beta", "gamma"}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := p.Embed(context.Background(), "beta")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestHashProviderClosedRejects(t *testing.T) {
	p := NewHashProvider()
	require.NoError(t, p.Close())
	_, err := p.Embed(context.Background(), "anything")
	assert.Error(t, err)
	assert.False(t, p.Available(context.Background()))
}

func TestSplitTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"parseConfig", []string{"parse", "config"}},
		{"snake_case_name", []string{"snake", "case", "name"}},
		{"HTTPServer", []string{"http", "server"}},
		{"x", []string{"x"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitTokens(tt.in), "input %q", tt.in)
	}
}
