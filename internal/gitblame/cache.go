package gitblame

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// cacheFileVersion tags the on-disk blame cache layout.
const cacheFileVersion = 4

// cacheFile is the L2 on-disk record for one file's blame, keyed by content
// hash so a changed file misses cleanly. Lines are stored as compact
// heterogeneous arrays: [lineNum, commit, author, email, authorTime,
// taskIds[]].
type cacheFile struct {
	Version     int             `json:"version"`
	ContentHash string          `json:"contentHash"` // first 16 hex chars
	CachedAt    int64           `json:"cachedAt"`    // unix ms
	Lines       [][]interface{} `json:"lines"`
}

// cachePath places a file's L2 entry under
// <cacheDir>/<md5(repoRoot)[:8]>/<md5(relPath)[:12]>.json.
func cachePath(cacheDir, repoRoot, relPath string) string {
	repoSum := md5.Sum([]byte(repoRoot))
	fileSum := md5.Sum([]byte(relPath))
	return filepath.Join(cacheDir,
		hex.EncodeToString(repoSum[:])[:8],
		hex.EncodeToString(fileSum[:])[:12]+".json")
}

// shortHash normalizes a content hash to the 16-hex prefix the cache keys
// on.
func shortHash(contentHash string) string {
	if len(contentHash) > 16 {
		return contentHash[:16]
	}
	return contentHash
}

// readCacheFile loads an L2 entry if it exists, matches the layout version,
// and was written for the same content hash.
func readCacheFile(path, contentHash string) ([]BlameLine, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, false
	}
	if cf.Version != cacheFileVersion || cf.ContentHash != shortHash(contentHash) {
		return nil, false
	}

	lines := make([]BlameLine, 0, len(cf.Lines))
	for _, entry := range cf.Lines {
		if len(entry) < 5 {
			return nil, false
		}
		line := BlameLine{}
		if n, ok := entry[0].(float64); ok {
			line.Line = int(n)
		}
		line.Commit, _ = entry[1].(string)
		line.Author, _ = entry[2].(string)
		line.Email, _ = entry[3].(string)
		if t, ok := entry[4].(float64); ok {
			line.AuthorTime = int64(t)
		}
		if len(entry) > 5 {
			if raw, ok := entry[5].([]interface{}); ok {
				for _, id := range raw {
					if s, ok := id.(string); ok {
						line.TaskIDs = append(line.TaskIDs, s)
					}
				}
			}
		}
		lines = append(lines, line)
	}
	return lines, true
}

// writeCacheFile persists an L2 entry atomically. Failures are returned for
// logging but are never fatal to the caller.
func writeCacheFile(path, contentHash string, lines []BlameLine) error {
	cf := cacheFile{
		Version:     cacheFileVersion,
		ContentHash: shortHash(contentHash),
		CachedAt:    time.Now().UnixMilli(),
		Lines:       make([][]interface{}, 0, len(lines)),
	}
	for _, l := range lines {
		entry := []interface{}{l.Line, l.Commit, l.Author, l.Email, l.AuthorTime, l.TaskIDs}
		cf.Lines = append(cf.Lines, entry)
	}

	data, err := json.Marshal(cf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
