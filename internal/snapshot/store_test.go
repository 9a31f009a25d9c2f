package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/merkle"
)

func sampleSnapshotFiles() map[string]FileEntry {
	return map[string]FileEntry{
		"a.go": {RelPath: "a.go", MTimeMS: 1000, Size: 10, ContentHash: "hash-a"},
		"b.go": {RelPath: "b.go", MTimeMS: 2000, Size: 20, ContentHash: "hash-b"},
		"c.go": {RelPath: "c.go", MTimeMS: 3000, Size: 30, ContentHash: "hash-c"},
	}
}

func buildTree(files map[string]FileEntry) *merkle.Tree {
	hashes := make(map[string]string, len(files))
	for p, e := range files {
		hashes[p] = e.ContentHash
	}
	return merkle.Build(hashes)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	files := sampleSnapshotFiles()
	tree := buildTree(files)

	require.NoError(t, s.Save("/repo", files, tree))
	require.True(t, s.Exists())

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, tree.RootHash, loaded.MerkleRoot)
	assert.Equal(t, "/repo", loaded.CodebasePath)
	assert.Equal(t, CurrentVersion, loaded.Version)
	assert.Equal(t, files, loaded.Files)
}

func TestLoadAbsentSnapshotReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	first := sampleSnapshotFiles()
	require.NoError(t, s.Save("/repo", first, buildTree(first)))

	second := sampleSnapshotFiles()
	second["d.go"] = FileEntry{RelPath: "d.go", MTimeMS: 4000, Size: 40, ContentHash: "hash-d"}
	require.NoError(t, s.Save("/repo", second, buildTree(second)))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Files, 4)
}

func TestLoadDetectsShardChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	files := sampleSnapshotFiles()
	require.NoError(t, s.Save("/repo", files, buildTree(files)))

	shardPath := s.shardPath(s.snapDir(), 0)
	data, err := os.ReadFile(shardPath)
	require.NoError(t, err)

	var sf shardFile
	require.NoError(t, json.Unmarshal(data, &sf))
	sf.Checksum = "tampered"
	tampered, err := json.Marshal(sf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(shardPath, tampered, 0o644))

	_, err = s.Load()
	require.Error(t, err)
}

func TestLoadDetectsMetaCorruption(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	files := sampleSnapshotFiles()
	require.NoError(t, s.Save("/repo", files, buildTree(files)))

	require.NoError(t, os.WriteFile(s.metaPath(), []byte("{not json"), 0o644))

	_, err := s.Load()
	require.Error(t, err)
}

func TestLoadDetectsMissingShardFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	files := sampleSnapshotFiles()
	require.NoError(t, s.Save("/repo", files, buildTree(files)))

	require.NoError(t, os.Remove(s.shardPath(s.snapDir(), 1)))

	_, err := s.Load()
	require.Error(t, err)
}

func TestGetVersionAndNeedsMigration(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	assert.Equal(t, SchemaVersion(0), s.GetVersion())
	assert.False(t, s.NeedsMigration())

	files := sampleSnapshotFiles()
	require.NoError(t, s.Save("/repo", files, buildTree(files)))

	assert.Equal(t, CurrentVersion, s.GetVersion())
	assert.False(t, s.NeedsMigration())

	// Simulate a v1 snapshot predating the migration.
	metaData, err := os.ReadFile(s.metaPath())
	require.NoError(t, err)
	var m metaFile
	require.NoError(t, json.Unmarshal(metaData, &m))
	m.Version = int(VersionV1)
	rewritten, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.metaPath(), rewritten, 0o644))

	assert.Equal(t, VersionV1, s.GetVersion())
	assert.True(t, s.NeedsMigration())
}

func TestDeleteRemovesSnapshotDir(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	files := sampleSnapshotFiles()
	require.NoError(t, s.Save("/repo", files, buildTree(files)))
	require.True(t, s.Exists())

	require.NoError(t, s.Delete())
	assert.False(t, s.Exists())
}

func TestValidateSucceedsForGoodSnapshotAndFailsAfterTamper(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	files := sampleSnapshotFiles()
	require.NoError(t, s.Save("/repo", files, buildTree(files)))
	require.NoError(t, s.Validate())

	require.NoError(t, os.WriteFile(filepath.Join(s.snapDir(), "shard-00.json"), []byte("garbage"), 0o644))
	assert.Error(t, s.Validate())
}

func TestSaveGCsStaleTempDirs(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection")

	stale := filepath.Join(dir, "mycollection.snap.tmp.stale123")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	files := sampleSnapshotFiles()
	require.NoError(t, s.Save("/repo", files, buildTree(files)))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestWithShardCountOption(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mycollection", WithShardCount(2))
	assert.Equal(t, 2, s.shardCount)

	files := sampleSnapshotFiles()
	require.NoError(t, s.Save("/repo", files, buildTree(files)))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, loaded.Files, 3)
}
