package filesync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// checkpointStaleAfter is how long a checkpoint is trusted before it is
// treated as abandoned and discarded.
const checkpointStaleAfter = 24 * time.Hour

// Phase identifies which half of an indexing run a checkpoint was taken
// during.
type Phase string

const (
	// PhaseDeleting covers removal of chunks for deleted/modified files.
	PhaseDeleting Phase = "deleting"
	// PhaseIndexing covers (re)chunking and embedding of added/modified files.
	PhaseIndexing Phase = "indexing"
)

// Checkpoint records progress through a batch of files so a crashed or
// interrupted index run can resume without reprocessing completed files.
type Checkpoint struct {
	ProcessedFiles map[string]struct{} `json:"-"`
	TotalFiles     int                 `json:"totalFiles"`
	Phase          Phase               `json:"phase"`
	Timestamp      time.Time           `json:"-"`
}

type checkpointFile struct {
	ProcessedFiles []string `json:"processedFiles"`
	TotalFiles     int      `json:"totalFiles"`
	Phase          Phase    `json:"phase"`
	Timestamp      int64    `json:"timestamp"`
}

// CheckpointPath returns the sibling checkpoint file path for a snapshot
// store rooted at dir for collection.
func CheckpointPath(dir, collection string) string {
	return filepath.Join(dir, collection+".checkpoint.json")
}

// SaveCheckpoint writes cp atomically (write-temp + rename) to path.
func SaveCheckpoint(path string, cp Checkpoint) error {
	processed := make([]string, 0, len(cp.ProcessedFiles))
	for p := range cp.ProcessedFiles {
		processed = append(processed, p)
	}

	cf := checkpointFile{
		ProcessedFiles: processed,
		TotalFiles:     cp.TotalFiles,
		Phase:          cp.Phase,
		Timestamp:      time.Now().UnixMilli(),
	}
	data, err := json.Marshal(cf)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadCheckpoint reads the checkpoint at path. A missing, malformed, or
// stale (older than 24h) checkpoint is treated as absent: it returns
// (nil, nil), and in the stale/malformed cases the file is removed.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cf checkpointFile
	if err := json.Unmarshal(data, &cf); err != nil {
		_ = os.Remove(path)
		return nil, nil
	}

	ts := time.UnixMilli(cf.Timestamp)
	if time.Since(ts) > checkpointStaleAfter {
		_ = os.Remove(path)
		return nil, nil
	}

	processed := make(map[string]struct{}, len(cf.ProcessedFiles))
	for _, p := range cf.ProcessedFiles {
		processed[p] = struct{}{}
	}

	return &Checkpoint{
		ProcessedFiles: processed,
		TotalFiles:     cf.TotalFiles,
		Phase:          cf.Phase,
		Timestamp:      ts,
	}, nil
}

// DeleteCheckpoint removes the checkpoint file, ignoring a not-exist error.
func DeleteCheckpoint(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FilterUnprocessed returns the subset of paths not yet recorded in cp's
// ProcessedFiles set. A nil checkpoint filters nothing out.
func FilterUnprocessed(paths []string, cp *Checkpoint) []string {
	if cp == nil {
		return paths
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, done := cp.ProcessedFiles[p]; !done {
			out = append(out, p)
		}
	}
	return out
}
