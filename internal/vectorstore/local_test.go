package vectorstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.01
	}
	return v
}

func testPoints(n, dim int) []Point {
	points := make([]Point, n)
	for i := range points {
		content := fmt.Sprintf("func handler%d() error { return nil }", i)
		points[i] = Point{
			ID:     fmt.Sprintf("00000000-0000-0000-0000-%012d", i),
			Dense:  testVector(dim, float32(i)),
			Sparse: EncodeSparse(content),
			Payload: map[string]any{
				"content":      content,
				"relativePath": fmt.Sprintf("pkg/file%d.go", i%3),
				"startLine":    float64(i * 10),
			},
		}
	}
	return points
}

func TestCreateCollectionIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))

	exists, err := store.CollectionExists(ctx, "code")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.CollectionExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAddAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))

	points := testPoints(5, 8)
	require.NoError(t, store.AddPoints(ctx, "code", points, WriteOptions{}))

	hits, err := store.Search(ctx, "code", points[2].Dense, 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, points[2].ID, hits[0].ID)
	assert.Equal(t, "pkg/file2.go", hits[0].Payload["relativePath"])
}

func TestSearchWithFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))
	require.NoError(t, store.AddPoints(ctx, "code", testPoints(6, 8), WriteOptions{}))

	filter := &Filter{Must: []Condition{{Field: "relativePath", Match: "pkg/file1.go"}}}
	hits, err := store.Search(ctx, "code", testVector(8, 1), 10, filter)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "pkg/file1.go", h.Payload["relativePath"])
	}
}

func TestHybridSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", true))
	require.NoError(t, store.AddPointsWithSparse(ctx, "code", testPoints(5, 8), WriteOptions{}))

	sparse := EncodeSparse("handler3 error")
	hits, err := store.HybridSearch(ctx, "code", testVector(8, 3), sparse, 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.LessOrEqual(t, len(hits), 3)
}

func TestUpsertReplacesInPlace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))

	p := testPoints(1, 8)[0]
	require.NoError(t, store.AddPoints(ctx, "code", []Point{p}, WriteOptions{}))

	p.Payload["content"] = "updated"
	require.NoError(t, store.AddPoints(ctx, "code", []Point{p}, WriteOptions{}))

	count, err := store.CountPoints(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := store.GetPoint(ctx, "code", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Payload["content"])
}

func TestDeletePointsByPaths(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))
	require.NoError(t, store.AddPoints(ctx, "code", testPoints(6, 8), WriteOptions{}))

	require.NoError(t, store.DeletePointsByPaths(ctx, "code", []string{"pkg/file0.go"}, WriteOptions{Wait: true}))

	count, err := store.CountPoints(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, 4, count) // files 0 and 3 carried pkg/file0.go
}

func TestDeletePointsByPathsBatched(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))
	require.NoError(t, store.AddPoints(ctx, "code", testPoints(9, 8), WriteOptions{}))

	err := store.DeletePointsByPathsBatched(ctx, "code",
		[]string{"pkg/file0.go", "pkg/file1.go", "pkg/file2.go"},
		DeleteBatchConfig{BatchSize: 1, Concurrency: 2})
	require.NoError(t, err)

	count, err := store.CountPoints(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSetPayloadMerges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))
	points := testPoints(2, 8)
	require.NoError(t, store.AddPoints(ctx, "code", points, WriteOptions{}))

	patch := map[string]any{"git": map[string]any{"ageDays": 12}}
	require.NoError(t, store.SetPayload(ctx, "code", patch, PointSelector{IDs: []string{points[0].ID}}, WriteOptions{}))

	got, err := store.GetPoint(ctx, "code", points[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Payload["git"])
	assert.NotNil(t, got.Payload["content"]) // original keys survive the merge

	other, err := store.GetPoint(ctx, "code", points[1].ID)
	require.NoError(t, err)
	assert.Nil(t, other.Payload["git"])
}

func TestBatchSetPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))
	points := testPoints(5, 8)
	require.NoError(t, store.AddPoints(ctx, "code", points, WriteOptions{}))

	ops := make([]PayloadOp, len(points))
	for i, p := range points {
		ops[i] = PayloadOp{Payload: map[string]any{"chunkIndex": float64(i)}, Points: []string{p.ID}}
	}
	require.NoError(t, store.BatchSetPayload(ctx, "code", ops, WriteOptions{}))

	for i, p := range points {
		got, err := store.GetPoint(ctx, "code", p.ID)
		require.NoError(t, err)
		assert.Equal(t, float64(i), got.Payload["chunkIndex"])
	}
}

func TestEnsurePayloadIndexIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))

	created, err := store.EnsurePayloadIndex(ctx, "code", "relativePath", IndexSchemaKeyword)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsurePayloadIndex(ctx, "code", "relativePath", IndexSchemaKeyword)
	require.NoError(t, err)
	assert.False(t, created)

	indexes, err := store.ListPayloadIndexes(ctx, "code")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, "relativePath", indexes[0].Field)
	assert.Equal(t, IndexSchemaKeyword, indexes[0].Schema)
}

func TestReopenPersistedCollection(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewLocalStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection(ctx, "code", 8, "cos", false))
	points := testPoints(3, 8)
	require.NoError(t, store.AddPoints(ctx, "code", points, WriteOptions{Wait: true}))
	require.NoError(t, store.Close())

	reopened, err := NewLocalStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.CountPoints(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hits, err := reopened.Search(ctx, "code", points[1].Dense, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, points[1].ID, hits[0].ID)
}

func TestUnknownCollectionErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Search(ctx, "missing", testVector(8, 0), 1, nil)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}
