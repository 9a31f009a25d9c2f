// Package filesync compares the current state of a codebase's files against
// a persisted snapshot, reusing stored content hashes whenever an (mtime,
// size) stat matches, and falls back to hashing file content only for the
// files that actually changed.
package filesync

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/merkle"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/snapshot"
)

// mtimeTolerance is the slop allowed when comparing stored and current
// mtimes on the fast path; filesystems and tools can round mtimes
// differently by up to a second.
const mtimeTolerance = time.Second

// Synchronizer detects file changes against a snapshot.Store and keeps it
// up to date.
type Synchronizer struct {
	store *snapshot.Store
}

// New creates a Synchronizer backed by the given snapshot store.
func New(store *snapshot.Store) *Synchronizer {
	return &Synchronizer{store: store}
}

// DetectChanges stats every path in currentPaths (absolute paths keyed by
// their repo-relative form), reusing the previous snapshot's content hash
// when (mtime, size) match within tolerance, and hashing content otherwise.
// It returns the up-to-date file map plus the merkle.Diff against prev.
func (s *Synchronizer) DetectChanges(currentPaths map[string]string, prev *snapshot.Snapshot) (map[string]snapshot.FileEntry, merkle.Diff, error) {
	files := make(map[string]snapshot.FileEntry, len(currentPaths))
	prevHashes := map[string]string{}
	if prev != nil {
		prevHashes = prev.HashMap()
	}

	for relPath, absPath := range currentPaths {
		info, err := os.Stat(absPath)
		if err != nil {
			continue
		}

		entry := snapshot.FileEntry{
			RelPath: relPath,
			MTimeMS: info.ModTime().UnixMilli(),
			Size:    info.Size(),
		}

		if prev != nil {
			if prevEntry, ok := prev.Files[relPath]; ok && sameStatWithinTolerance(prevEntry, entry) {
				entry.ContentHash = prevEntry.ContentHash
				files[relPath] = entry
				continue
			}
		}

		hash, err := hashFile(absPath)
		if err != nil {
			continue
		}
		entry.ContentHash = hash
		files[relPath] = entry
	}

	curHashes := make(map[string]string, len(files))
	for p, e := range files {
		curHashes[p] = e.ContentHash
	}

	diff := merkle.Compare(prevHashes, curHashes)
	return files, diff, nil
}

// NeedsReindex reports whether the computed file map's Merkle root differs
// from the previous snapshot's root, without materializing a full Diff.
func (s *Synchronizer) NeedsReindex(files map[string]snapshot.FileEntry, prev *snapshot.Snapshot) bool {
	hashes := make(map[string]string, len(files))
	for p, e := range files {
		hashes[p] = e.ContentHash
	}
	newRoot := merkle.Build(hashes).RootHash
	if prev == nil {
		return true
	}
	return newRoot != prev.MerkleRoot
}

// UpdateSnapshot rebuilds the Merkle tree over files and persists it via the
// underlying snapshot.Store.
func (s *Synchronizer) UpdateSnapshot(codebasePath string, files map[string]snapshot.FileEntry) error {
	hashes := make(map[string]string, len(files))
	for p, e := range files {
		hashes[p] = e.ContentHash
	}
	tree := merkle.Build(hashes)
	return s.store.Save(codebasePath, files, tree)
}

// LoadSnapshot returns the previous snapshot, or nil if none exists.
func (s *Synchronizer) LoadSnapshot() (*snapshot.Snapshot, error) {
	return s.store.Load()
}

// MigrateSnapshot upgrades a v1 snapshot in place: each recorded file is
// stat'ed to fill (mtime, size), the recorded content hash is kept as-is,
// and the snapshot is rewritten in the current format. Files that no
// longer exist are dropped; the next DetectChanges reports them deleted.
func (s *Synchronizer) MigrateSnapshot(codebasePath string) (*snapshot.Snapshot, error) {
	if !s.store.NeedsMigration() {
		return s.store.Load()
	}
	prev, err := s.store.Load()
	if err != nil || prev == nil {
		return prev, err
	}

	files := make(map[string]snapshot.FileEntry, len(prev.Files))
	for rel, entry := range prev.Files {
		info, err := os.Stat(filepath.Join(codebasePath, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		entry.RelPath = rel
		entry.MTimeMS = info.ModTime().UnixMilli()
		entry.Size = info.Size()
		files[rel] = entry
	}

	if err := s.UpdateSnapshot(codebasePath, files); err != nil {
		return nil, err
	}
	return s.store.Load()
}

func sameStatWithinTolerance(prev, cur snapshot.FileEntry) bool {
	if prev.Size != cur.Size {
		return false
	}
	delta := prev.MTimeMS - cur.MTimeMS
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta)*time.Millisecond <= mtimeTolerance
}

func hashFile(absPath string) (string, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
