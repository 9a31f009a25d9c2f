package filesync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/merkle"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/snapshot"
)

// writeV1Snapshot persists a snapshot carrying hashes only, then rewrites
// meta.json's version to 1 — the layout a pre-stat-fast-path writer left
// behind.
func writeV1Snapshot(t *testing.T, store *snapshot.Store, dataDir, codebase string, hashes map[string]string) {
	t.Helper()

	files := make(map[string]snapshot.FileEntry, len(hashes))
	for rel, hash := range hashes {
		files[rel] = snapshot.FileEntry{RelPath: rel, ContentHash: hash}
	}
	require.NoError(t, store.Save(codebase, files, merkle.Build(hashes)))

	metaPath := filepath.Join(dataDir, "code.snap", "meta.json")
	data, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(data, &meta))
	meta["version"] = 1
	data, err = json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, data, 0o644))
}

func TestMigrateSnapshotFillsStatKeepsHash(t *testing.T) {
	codebase := t.TempDir()
	dataDir := t.TempDir()

	content := []byte("package main\n")
	require.NoError(t, os.WriteFile(filepath.Join(codebase, "main.go"), content, 0o644))
	sum := sha256.Sum256(content)
	recordedHash := hex.EncodeToString(sum[:])

	store := snapshot.New(dataDir, "code")
	writeV1Snapshot(t, store, dataDir, codebase, map[string]string{
		"main.go": recordedHash,
		"gone.go": "0000000000000000000000000000000000000000000000000000000000000000",
	})
	require.True(t, store.NeedsMigration())

	sync := New(store)
	snap, err := sync.MigrateSnapshot(codebase)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, snapshot.CurrentVersion, snap.Version)
	assert.False(t, store.NeedsMigration())

	entry, ok := snap.Files["main.go"]
	require.True(t, ok)
	assert.Equal(t, recordedHash, entry.ContentHash) // hash kept, not recomputed
	assert.NotZero(t, entry.MTimeMS)
	assert.Equal(t, int64(len(content)), entry.Size)

	// Files missing on disk are dropped by migration.
	_, gone := snap.Files["gone.go"]
	assert.False(t, gone)
}

func TestMigrateSnapshotNoopWithoutSnapshot(t *testing.T) {
	codebase := t.TempDir()
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(codebase, "a.go"), []byte("package a\n"), 0o644))

	store := snapshot.New(dataDir, "code")
	sync := New(store)

	// No snapshot at all: nothing to migrate.
	snap, err := sync.MigrateSnapshot(codebase)
	require.NoError(t, err)
	assert.Nil(t, snap)
}
