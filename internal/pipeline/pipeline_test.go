package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/chunk"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/embedprovider"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/vectorstore"
)

func testChunk(i int) *chunk.Chunk {
	return &chunk.Chunk{
		ID:        fmt.Sprintf("chunk-%d", i),
		FilePath:  fmt.Sprintf("pkg/file%d.go", i),
		Content:   fmt.Sprintf("func handler%d() error { return nil }", i),
		Language:  "go",
		StartLine: 1,
		EndLine:   3,
		CodeMeta: &chunk.ChunkMetadata{
			FilePath:   fmt.Sprintf("pkg/file%d.go", i),
			Language:   "go",
			ChunkIndex: 0,
			ChunkType:  chunk.ChunkTypeFunction,
			Name:       fmt.Sprintf("handler%d", i),
		},
	}
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *vectorstore.MemoryStore) {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.CreateCollection(context.Background(), cfg.Collection, embedprovider.HashDimensions, "cos", cfg.Hybrid))
	p := New(cfg, embedprovider.NewHashProvider(), store, nil)
	return p, store
}

func TestPipelineBatchCount(t *testing.T) {
	p, store := newTestPipeline(t, Config{Collection: "code", BatchSize: 3, Concurrency: 2})

	for i := 0; i < 7; i++ {
		c := testChunk(i)
		require.True(t, p.AddChunk(c, c.ID, "/repo"))
	}
	require.NoError(t, p.Drain(context.Background()))

	stats := p.Stats()
	assert.Equal(t, int64(7), stats.ChunksSubmitted)
	assert.Equal(t, int64(3), stats.BatchesDone) // ceil(7/3)
	assert.Equal(t, int64(7), stats.PointsUpserted)

	count, err := store.CountPoints(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestPipelinePointIDsRoundTrip(t *testing.T) {
	p, store := newTestPipeline(t, Config{Collection: "code", BatchSize: 2})

	c := testChunk(1)
	require.True(t, p.AddChunk(c, c.ID, "/repo"))
	require.True(t, p.AddChunk(testChunk(2), "chunk-2", "/repo"))
	require.NoError(t, p.Drain(context.Background()))

	_, err := store.GetPoint(context.Background(), "code", NormalizePointID("chunk-1"))
	assert.NoError(t, err)

	// Re-adding the same logical chunk updates in place.
	require.True(t, p.AddChunk(c, c.ID, "/repo"))
	require.True(t, p.AddChunk(testChunk(3), "chunk-3", "/repo"))
	require.NoError(t, p.Drain(context.Background()))

	count, err := store.CountPoints(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPipelineHybridStoresSparse(t *testing.T) {
	p, store := newTestPipeline(t, Config{Collection: "code", BatchSize: 1, Hybrid: true})

	c := testChunk(1)
	require.True(t, p.AddChunk(c, c.ID, "/repo"))
	require.NoError(t, p.Drain(context.Background()))

	sparse := vectorstore.EncodeSparse("handler1")
	dense, err := embedprovider.NewHashProvider().Embed(context.Background(), c.Content)
	require.NoError(t, err)
	hits, err := store.HybridSearch(context.Background(), "code", dense, sparse, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestPipelineOnBatchUpserted(t *testing.T) {
	p, _ := newTestPipeline(t, Config{Collection: "code", BatchSize: 2})

	var mu sync.Mutex
	var seen []string
	p.OnBatchUpserted(func(items []Item) {
		mu.Lock()
		defer mu.Unlock()
		for _, item := range items {
			seen = append(seen, item.ChunkID)
		}
	})

	require.True(t, p.AddChunk(testChunk(1), "chunk-1", "/repo"))
	require.True(t, p.AddChunk(testChunk(2), "chunk-2", "/repo"))
	require.NoError(t, p.Drain(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"chunk-1", "chunk-2"}, seen)
}

func TestBuildPayloadOptionalFields(t *testing.T) {
	c := testChunk(1)
	c.CodeMeta.Imports = []string{"fmt"}
	c.CodeMeta.SymbolID = "handler1"
	payload := buildPayload(Item{Chunk: c, ChunkID: c.ID, CodebasePath: "/repo"})

	assert.Equal(t, "pkg/file1.go", payload["relativePath"])
	assert.Equal(t, "go", payload["fileExtension"])
	assert.Equal(t, "function", payload["chunkType"])
	assert.Equal(t, []string{"fmt"}, payload["imports"])
	assert.Equal(t, "handler1", payload["symbolId"])

	// Absent optional fields stay absent rather than appearing as zero
	// values.
	_, hasParent := payload["parentName"]
	assert.False(t, hasParent)
	_, hasDoc := payload["isDocumentation"]
	assert.False(t, hasDoc)
	_, hasGit := payload["git"]
	assert.False(t, hasGit)
}

func TestNormalizePointID(t *testing.T) {
	canonical := "123e4567-e89b-12d3-a456-426614174000"
	assert.Equal(t, canonical, NormalizePointID(canonical))
	assert.Equal(t, "42", NormalizePointID("42"))

	hashed := NormalizePointID("pkg/file.go:0")
	assert.Len(t, hashed, 36)
	assert.Equal(t, hashed, NormalizePointID("pkg/file.go:0"))
	assert.NotEqual(t, hashed, NormalizePointID("pkg/file.go:1"))
}

func TestPipelineBackpressure(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.CreateCollection(context.Background(), "code", embedprovider.HashDimensions, "cos", false))
	p := New(Config{Collection: "code", BatchSize: 1, Concurrency: 1, MaxQueueSize: 2}, &slowProvider{}, store, nil)

	for i := 0; i < 10; i++ {
		c := testChunk(i)
		p.AddChunk(c, c.ID, "/repo")
	}
	assert.Eventually(t, p.IsBackpressured, time.Second, time.Millisecond)

	require.NoError(t, p.Drain(context.Background()))
	assert.True(t, p.WaitForBackpressure(time.Second))
}

// slowProvider delays embedding so the worker queue backs up.
type slowProvider struct{}

func (s *slowProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	time.Sleep(10 * time.Millisecond)
	return make([]float32, embedprovider.HashDimensions), nil
}

func (s *slowProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	time.Sleep(10 * time.Millisecond)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, embedprovider.HashDimensions)
	}
	return out, nil
}

func (s *slowProvider) Dimensions() int                  { return embedprovider.HashDimensions }
func (s *slowProvider) ModelName() string                { return "slow" }
func (s *slowProvider) Available(context.Context) bool   { return true }
func (s *slowProvider) Close() error                     { return nil }
