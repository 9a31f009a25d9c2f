package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/errors"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/hashring"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/merkle"
)

// Store persists a Snapshot under <dir>/<collection>.snap/.
type Store struct {
	dir                  string
	collection           string
	shardCount           int
	virtualNodesPerShard int
	lock                 *flock.Flock
}

// Option configures a Store.
type Option func(*Store)

// WithShardCount overrides the default shard count.
func WithShardCount(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// New creates a snapshot store rooted at dir for the named collection.
func New(dir, collection string, opts ...Option) *Store {
	s := &Store{
		dir:                  dir,
		collection:           collection,
		shardCount:           DefaultShardCount,
		virtualNodesPerShard: hashring.DefaultVirtualNodes,
	}
	for _, o := range opts {
		o(s)
	}
	s.lock = flock.New(filepath.Join(dir, "."+collection+".snap.lock"))
	return s
}

func (s *Store) snapDir() string {
	return filepath.Join(s.dir, s.collection+".snap")
}

func (s *Store) metaPath() string {
	return filepath.Join(s.snapDir(), "meta.json")
}

func (s *Store) shardPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("shard-%02d.json", i))
}

// Exists reports whether a snapshot directory is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.metaPath())
	return err == nil
}

// GetVersion returns the schema version of the persisted snapshot, or 0 if
// none exists or it cannot be read.
func (s *Store) GetVersion() SchemaVersion {
	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		return 0
	}
	var m metaFile
	if err := json.Unmarshal(data, &m); err != nil {
		return 0
	}
	return SchemaVersion(m.Version)
}

// NeedsMigration reports whether the persisted snapshot predates
// CurrentVersion.
func (s *Store) NeedsMigration() bool {
	v := s.GetVersion()
	return v != 0 && v < CurrentVersion
}

// Delete removes the snapshot directory entirely.
func (s *Store) Delete() error {
	return os.RemoveAll(s.snapDir())
}

// Validate checks that meta.json parses and every shard's checksum matches
// its recorded contents.
func (s *Store) Validate() error {
	_, err := s.load(s.snapDir())
	return err
}

// Save persists files and tree atomically: write to a sibling temp
// directory, fsync best-effort, then rename over the final directory.
func (s *Store) Save(codebasePath string, files map[string]FileEntry, tree *merkle.Tree) error {
	if err := s.lock.Lock(); err != nil {
		return errors.New(errors.ErrCodeFilePermission, "failed to lock snapshot for save", err)
	}
	defer s.lock.Unlock() //nolint:errcheck

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := s.gcStaleTempDirs(); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(s.dir, s.collection+".snap.tmp.")
	if err != nil {
		return err
	}
	// If anything below fails, clean up the temp dir so it doesn't linger
	// as "stale" for the next save.
	success := false
	defer func() {
		if !success {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	ring := hashring.New(s.shardCount, s.virtualNodesPerShard)
	shardEntries := make([][]FileEntry, s.shardCount)
	for _, p := range paths {
		shard := ring.GetShard(p)
		shardEntries[shard] = append(shardEntries[shard], files[p])
	}

	checksums := make([]string, s.shardCount)
	for i := 0; i < s.shardCount; i++ {
		entries := shardEntries[i]
		sort.Slice(entries, func(a, b int) bool { return entries[a].RelPath < entries[b].RelPath })
		checksum := checksumEntries(entries)
		checksums[i] = checksum

		sf := shardFile{Entries: entries, Checksum: checksum}
		data, err := json.Marshal(sf)
		if err != nil {
			return err
		}
		if err := writeFileSync(s.shardPath(tmpDir, i), data); err != nil {
			return err
		}
	}

	meta := metaFile{
		Version:              int(CurrentVersion),
		CodebasePath:         codebasePath,
		Timestamp:            time.Now().UnixMilli(),
		ShardCount:           s.shardCount,
		VirtualNodesPerShard: s.virtualNodesPerShard,
		ShardChecksums:       checksums,
		MerkleRoot:           tree.RootHash,
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileSync(filepath.Join(tmpDir, "meta.json"), metaData); err != nil {
		return err
	}

	final := s.snapDir()
	if err := os.RemoveAll(final + ".prev"); err != nil {
		return err
	}
	if _, err := os.Stat(final); err == nil {
		if err := os.Rename(final, final+".prev"); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpDir, final); err != nil {
		return err
	}
	_ = os.RemoveAll(final + ".prev")
	success = true
	return nil
}

// Load reads the persisted snapshot, validating shard checksums. It
// returns (nil, nil) if no snapshot exists. An unreadable or malformed
// meta.json, a missing or malformed shard, and a shard checksum mismatch
// are all returned as errors.
func (s *Store) Load() (*Snapshot, error) {
	if !s.Exists() {
		return nil, nil
	}
	return s.load(s.snapDir())
}

func (s *Store) load(dir string) (*Snapshot, error) {
	metaData, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileCorrupt, "missing or unreadable meta.json", err)
	}
	var meta metaFile
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, errors.New(errors.ErrCodeFileCorrupt, "malformed meta.json", err)
	}

	files := make(map[string]FileEntry)
	for i := 0; i < meta.ShardCount; i++ {
		data, err := os.ReadFile(s.shardPath(dir, i))
		if err != nil {
			return nil, errors.New(errors.ErrCodeFileCorrupt, "missing shard file", err).WithDetail("shard", fmt.Sprintf("%d", i))
		}
		var sf shardFile
		if err := json.Unmarshal(data, &sf); err != nil {
			return nil, errors.New(errors.ErrCodeFileCorrupt, "malformed shard file", err)
		}
		if checksumEntries(sf.Entries) != sf.Checksum {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "shard checksum mismatch", nil).WithDetail("shard", fmt.Sprintf("%d", i))
		}
		if i < len(meta.ShardChecksums) && meta.ShardChecksums[i] != sf.Checksum {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "shard checksum does not match meta.json", nil).WithDetail("shard", fmt.Sprintf("%d", i))
		}
		for _, e := range sf.Entries {
			files[e.RelPath] = e
		}
	}

	return &Snapshot{
		CodebasePath: meta.CodebasePath,
		Timestamp:    time.UnixMilli(meta.Timestamp),
		MerkleRoot:   meta.MerkleRoot,
		Files:        files,
		Version:      SchemaVersion(meta.Version),
	}, nil
}

// gcStaleTempDirs removes leftover `<collection>.snap.tmp.*` directories
// from interrupted saves, before starting a new one.
func (s *Store) gcStaleTempDirs() error {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	prefix := s.collection + ".snap.tmp."
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			_ = os.RemoveAll(filepath.Join(s.dir, e.Name()))
		}
	}
	return nil
}

func checksumEntries(entries []FileEntry) string {
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.RelPath))
		h.Write([]byte{0})
		fmt.Fprintf(h, "%d\x00%d\x00", e.MTimeMS, e.Size)
		h.Write([]byte(e.ContentHash))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	_ = f.Sync() // best-effort
	return f.Close()
}
