package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/vectorstore"
)

func newTestManager(t *testing.T) (*Manager, vectorstore.VectorStore) {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.CreateCollection(context.Background(), "code", 4, "cos", false))
	return New(store, 4, nil), store
}

func TestEnsureCurrentSchemaFromScratch(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	result := m.EnsureCurrentSchema(ctx, "code")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 0, result.FromVersion)
	assert.Equal(t, CurrentVersion, result.ToVersion)
	assert.Contains(t, result.MigrationsApplied, "v4: Created keyword index on relativePath")

	point, err := store.GetPoint(ctx, "code", SentinelID)
	require.NoError(t, err)
	assert.Equal(t, "schema_metadata", point.Payload["_type"])
	assert.Equal(t, float64(CurrentVersion), point.Payload["schemaVersion"])

	indexes, err := store.ListPayloadIndexes(ctx, "code")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, "relativePath", indexes[0].Field)
}

func TestEnsureCurrentSchemaIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first := m.EnsureCurrentSchema(ctx, "code")
	require.True(t, first.Success)

	second := m.EnsureCurrentSchema(ctx, "code")
	require.True(t, second.Success)
	assert.Equal(t, CurrentVersion, second.FromVersion)
	assert.Empty(t, second.MigrationsApplied)
}

func TestGetSchemaVersionLegacyIndexFallback(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	// No sentinel, but the legacy keyword index exists.
	_, err := store.EnsurePayloadIndex(ctx, "code", "relativePath", vectorstore.IndexSchemaKeyword)
	require.NoError(t, err)

	v, err := m.GetSchemaVersion(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, v)
}

func TestGetSchemaVersionBareCollection(t *testing.T) {
	m, _ := newTestManager(t)
	v, err := m.GetSchemaVersion(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestInitializeSchema(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	result := m.InitializeSchema(ctx, "code")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, CurrentVersion, result.ToVersion)

	v, err := m.GetSchemaVersion(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, v)

	_, err = store.GetPoint(ctx, "code", SentinelID)
	assert.NoError(t, err)
}
