package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/chunk"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/filesync"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/scanner"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/snapshot"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/vectorstore"
)

// checkpointEvery is how many files are processed between checkpoint saves.
const checkpointEvery = 50

// backpressureWait bounds how long a producer waits for the pipeline to
// unblock before giving up on the file and counting it as an error.
const backpressureWait = 30 * time.Second

// IndexCodebase performs a full index of the configured codebase.
func (ix *Indexer) IndexCodebase(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{Status: StatusCompleted, Enrichment: EnrichmentSkipped}

	files, err := ix.scan(ctx)
	if err != nil {
		stats.Status = StatusFailed
		return stats, err
	}
	stats.FilesScanned = len(files)

	prev, err := ix.loadSnapshot()
	if err != nil {
		// A corrupt snapshot is treated as absent; the next save replaces
		// it.
		prev = nil
	}
	currentPaths := make(map[string]string, len(files))
	byRel := make(map[string]*scanner.FileInfo, len(files))
	for _, f := range files {
		rel := filepath.ToSlash(f.Path)
		currentPaths[rel] = f.AbsPath
		byRel[rel] = f
	}

	entries, diff, err := ix.sync.DetectChanges(currentPaths, prev)
	if err != nil {
		stats.Status = StatusFailed
		return stats, err
	}
	stats.FilesAdded = len(diff.Added)
	stats.FilesModified = len(diff.Modified)
	stats.FilesDeleted = len(diff.Deleted)

	if ix.cfg.DryRun {
		stats.Elapsed = time.Since(start)
		return stats, nil
	}
	if err := ix.ensureCollection(ctx); err != nil {
		stats.Status = StatusFailed
		return stats, err
	}

	toIndex := make([]string, 0, len(entries))
	for rel := range entries {
		toIndex = append(toIndex, rel)
	}
	sort.Strings(toIndex)

	if err := ix.indexFiles(ctx, toIndex, byRel, entries, stats); err != nil {
		stats.Status = StatusFailed
		stats.Elapsed = time.Since(start)
		return stats, err
	}

	if err := ix.sync.UpdateSnapshot(ix.cfg.CodebasePath, entries); err != nil {
		stats.Status = StatusPartial
		stats.Errors++
		ix.logger.Warn("snapshot save failed", "error", err.Error())
	}
	_ = filesync.DeleteCheckpoint(ix.checkpointPath())

	ix.startEnrichment(stats, entries)
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// ReindexChanges indexes incrementally: deletes points for removed and
// modified files, then (re)indexes added and modified files.
func (ix *Indexer) ReindexChanges(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{Status: StatusCompleted, Enrichment: EnrichmentSkipped}

	files, err := ix.scan(ctx)
	if err != nil {
		stats.Status = StatusFailed
		return stats, err
	}
	stats.FilesScanned = len(files)

	prev, err := ix.loadSnapshot()
	if err != nil {
		prev = nil
	}
	currentPaths := make(map[string]string, len(files))
	byRel := make(map[string]*scanner.FileInfo, len(files))
	for _, f := range files {
		rel := filepath.ToSlash(f.Path)
		currentPaths[rel] = f.AbsPath
		byRel[rel] = f
	}

	entries, diff, err := ix.sync.DetectChanges(currentPaths, prev)
	if err != nil {
		stats.Status = StatusFailed
		return stats, err
	}
	stats.FilesAdded = len(diff.Added)
	stats.FilesModified = len(diff.Modified)
	stats.FilesDeleted = len(diff.Deleted)

	if len(diff.Added) == 0 && len(diff.Modified) == 0 && len(diff.Deleted) == 0 {
		stats.Elapsed = time.Since(start)
		return stats, nil
	}
	if ix.cfg.DryRun {
		stats.Elapsed = time.Since(start)
		return stats, nil
	}
	if err := ix.ensureCollection(ctx); err != nil {
		stats.Status = StatusFailed
		return stats, err
	}

	// Delete phase: points of deleted and modified files go first, so a
	// re-chunked file never leaves stale chunks behind.
	staleFiles := append(append([]string(nil), diff.Deleted...), diff.Modified...)
	if len(staleFiles) > 0 {
		if err := ix.saveCheckpoint(filesync.PhaseDeleting, nil, len(staleFiles)); err != nil {
			ix.logger.Debug("checkpoint save failed", "error", err.Error())
		}
		before, _ := ix.store.CountPoints(ctx, ix.cfg.Collection)
		err := ix.store.DeletePointsByPathsBatched(ctx, ix.cfg.Collection, staleFiles, vectorstore.DeleteBatchConfig{
			BatchSize:   ix.cfg.DeleteBatchSize,
			Concurrency: ix.cfg.DeleteConcurrency,
		})
		if err != nil {
			stats.Status = StatusPartial
			stats.Errors++
			ix.logger.Warn("bulk delete failed", "error", err.Error())
		}
		after, _ := ix.store.CountPoints(ctx, ix.cfg.Collection)
		if before > after {
			stats.ChunksDeleted = before - after
		}
	}

	toIndex := append(append([]string(nil), diff.Added...), diff.Modified...)
	sort.Strings(toIndex)
	chunksBefore := stats.ChunksCreated
	if err := ix.indexFiles(ctx, toIndex, byRel, entries, stats); err != nil {
		stats.Status = StatusFailed
		stats.Elapsed = time.Since(start)
		return stats, err
	}
	stats.ChunksAdded = stats.ChunksCreated - chunksBefore

	if err := ix.sync.UpdateSnapshot(ix.cfg.CodebasePath, entries); err != nil {
		stats.Status = StatusPartial
		stats.Errors++
	}
	_ = filesync.DeleteCheckpoint(ix.checkpointPath())

	ix.startEnrichment(stats, entries)
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// indexFiles chunks and submits the given files, resuming past a live
// checkpoint and saving progress periodically.
func (ix *Indexer) indexFiles(ctx context.Context, relPaths []string, byRel map[string]*scanner.FileInfo, entries map[string]snapshot.FileEntry, stats *Stats) error {
	cpPath := ix.checkpointPath()
	cp, _ := filesync.LoadCheckpoint(cpPath)
	if cp != nil && cp.Phase != filesync.PhaseIndexing {
		cp = nil
	}
	pending := filesync.FilterUnprocessed(relPaths, cp)

	processed := make(map[string]struct{})
	if cp != nil {
		processed = cp.ProcessedFiles
		stats.FilesIndexed += len(relPaths) - len(pending)
	}

	sinceCheckpoint := 0
	for _, rel := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		info := byRel[rel]
		if info == nil {
			continue
		}

		n, err := ix.indexFile(ctx, rel, info)
		if err != nil {
			stats.Errors++
			if stats.Status == StatusCompleted {
				stats.Status = StatusPartial
			}
			ix.logger.Warn("file indexing failed", "path", rel, "error", err.Error())
		} else {
			stats.FilesIndexed++
			stats.ChunksCreated += n
		}

		processed[rel] = struct{}{}
		sinceCheckpoint++
		if sinceCheckpoint >= checkpointEvery {
			sinceCheckpoint = 0
			if err := ix.saveCheckpoint(filesync.PhaseIndexing, processed, len(relPaths)); err != nil {
				ix.logger.Debug("checkpoint save failed", "error", err.Error())
			}
		}
	}

	// Everything is queued; push the tail through and wait.
	if err := ix.pipe.Drain(ctx); err != nil {
		return err
	}
	return nil
}

// indexFile chunks one file and feeds its chunks to the pipeline,
// returning how many chunks were submitted.
func (ix *Indexer) indexFile(ctx context.Context, rel string, info *scanner.FileInfo) (int, error) {
	content, err := os.ReadFile(info.AbsPath)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}

	chunks, err := ix.chunkPool.Chunk(ctx, &chunk.FileInput{
		Path:     rel,
		Content:  content,
		Language: info.Language,
	})
	if err != nil {
		return 0, fmt.Errorf("chunk: %w", err)
	}

	submitted := 0
	for _, c := range chunks {
		chunkID := c.ID
		if chunkID == "" {
			chunkID = fmt.Sprintf("%s:%d", rel, c.StartLine)
		}
		for !ix.pipe.AddChunk(c, chunkID, ix.cfg.CodebasePath) {
			if !ix.pipe.WaitForBackpressure(backpressureWait) {
				return submitted, fmt.Errorf("pipeline backpressured for over %s", backpressureWait)
			}
		}
		submitted++
	}
	return submitted, nil
}

func (ix *Indexer) saveCheckpoint(phase filesync.Phase, processed map[string]struct{}, total int) error {
	return filesync.SaveCheckpoint(ix.checkpointPath(), filesync.Checkpoint{
		ProcessedFiles: processed,
		TotalFiles:     total,
		Phase:          phase,
	})
}

// loadSnapshot loads the previous snapshot, migrating a v1 layout (stat
// filled in, recorded hashes kept) before use.
func (ix *Indexer) loadSnapshot() (*snapshot.Snapshot, error) {
	return ix.sync.MigrateSnapshot(ix.cfg.CodebasePath)
}

// scan discovers indexable files under the codebase root.
func (ix *Indexer) scan(ctx context.Context) ([]*scanner.FileInfo, error) {
	results, err := ix.scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          ix.cfg.CodebasePath,
		ExcludePatterns:  ix.cfg.ExcludePatterns,
		RespectGitignore: true,
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var files []*scanner.FileInfo
	for res := range results {
		if res.Error != nil {
			ix.logger.Debug("scan error", "error", res.Error.Error())
			continue
		}
		if res.File != nil {
			files = append(files, res.File)
		}
	}
	return files, ctx.Err()
}
