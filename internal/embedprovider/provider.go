// Package embedprovider defines the embedding boundary the chunk pipeline
// depends on, plus concrete providers: a deterministic hash-based provider
// for offline use and an Ollama HTTP provider, both wrappable with an LRU
// cache.
package embedprovider

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize bounds a single embedding request.
	MaxBatchSize = 256

	// DefaultRequestTimeout is the per-request timeout for network providers.
	DefaultRequestTimeout = 120 * time.Second

	// HashDimensions is the vector size of the hash-based provider.
	HashDimensions = 256
)

// EmbeddingProvider generates dense vectors for text.
type EmbeddingProvider interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, index-aligned
	// with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. A zero vector is returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
