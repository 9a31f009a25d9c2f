package indexer

import (
	"context"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/async"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/gitblame"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/gitlog"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/pipeline"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/snapshot"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/vectorstore"
)

// enrichRef remembers an upserted chunk so background enrichment can patch
// its payload without re-embedding.
type enrichRef struct {
	ChunkID   string
	Path      string
	StartLine int
	EndLine   int
}

// trackUpserts registers the pipeline hook that records every upserted
// chunk for later enrichment.
func (ix *Indexer) trackUpserts() {
	ix.pipe.OnBatchUpserted(func(items []pipeline.Item) {
		ix.refMu.Lock()
		defer ix.refMu.Unlock()
		for _, item := range items {
			ix.chunkRefs = append(ix.chunkRefs, enrichRef{
				ChunkID:   item.ChunkID,
				Path:      item.Chunk.FilePath,
				StartLine: item.Chunk.StartLine,
				EndLine:   item.Chunk.EndLine,
			})
		}
	})
}

// takeRefs returns and clears the accumulated chunk references.
func (ix *Indexer) takeRefs() []enrichRef {
	ix.refMu.Lock()
	defer ix.refMu.Unlock()
	refs := ix.chunkRefs
	ix.chunkRefs = nil
	return refs
}

// EnrichmentResult returns the terminal enrichment status once background
// work has finished; before that it reports EnrichmentBackground.
func (ix *Indexer) EnrichmentResult() EnrichmentStatus {
	ix.refMu.Lock()
	defer ix.refMu.Unlock()
	return ix.enrichStatus
}

func (ix *Indexer) setEnrichStatus(s EnrichmentStatus) {
	ix.refMu.Lock()
	ix.enrichStatus = s
	ix.refMu.Unlock()
}

// startEnrichment launches background git enrichment for the chunks
// upserted during this run. The indexing result reports it as
// "background"; a missing git repository downgrades it to "skipped".
func (ix *Indexer) startEnrichment(stats *Stats, entries map[string]snapshot.FileEntry) {
	if !ix.cfg.GitEnrichment {
		return
	}
	refs := ix.takeRefs()
	if len(refs) == 0 {
		return
	}

	reader, err := gitlog.Open(ix.cfg.CodebasePath, ix.logger)
	if err != nil {
		ix.logger.Debug("git enrichment skipped", "error", err.Error())
		stats.Enrichment = EnrichmentSkipped
		ix.setEnrichStatus(EnrichmentSkipped)
		return
	}

	blame := gitblame.NewService(ix.cfg.CodebasePath, gitblame.Config{CacheDir: ix.cfg.GitCacheDir}, ix.logger)

	stats.Enrichment = EnrichmentBackground
	ix.setEnrichStatus(EnrichmentBackground)
	ix.enrichment = async.NewTask("git-enrichment", func(ctx context.Context) error {
		err := ix.enrich(ctx, reader, blame, refs, entries)
		switch {
		case err != nil && ctx.Err() != nil:
			ix.setEnrichStatus(EnrichmentPartial)
		case err != nil:
			ix.setEnrichStatus(EnrichmentFailed)
		default:
			ix.setEnrichStatus(EnrichmentCompleted)
		}
		return err
	})
	ix.enrichment.Start(context.Background())
}

// enrich computes blame aggregation, file churn metrics, and chunk churn
// overlays for the given chunks and patches the results into their points.
func (ix *Indexer) enrich(ctx context.Context, reader *gitlog.Reader, blame *gitblame.Service, refs []enrichRef, entries map[string]snapshot.FileEntry) error {
	hashes := make(map[string]string, len(entries))
	lineCounts := make(map[string]int, len(refs))
	paths := make(map[string]bool, len(refs))
	for rel, e := range entries {
		hashes[rel] = e.ContentHash
	}
	for _, r := range refs {
		paths[r.Path] = true
		if r.EndLine > lineCounts[r.Path] {
			lineCounts[r.Path] = r.EndLine
		}
	}
	pathList := make([]string, 0, len(paths))
	for p := range paths {
		pathList = append(pathList, p)
	}

	ix.progress.SetPhase("blame")
	ix.progress.SetTotal(len(refs))
	if err := blame.PrefetchBlame(ctx, pathList, hashes, ix.cfg.GitConcurrency); err != nil {
		return err
	}

	ix.progress.SetPhase("history")
	history, err := reader.ReadHistory(ctx)
	if err != nil {
		return err
	}
	metrics := make(map[string]*gitlog.FileMetrics, len(pathList))
	for _, p := range pathList {
		metrics[p] = gitlog.ComputeFileMetrics(history[p], lineCounts[p], timeNow())
	}

	ix.progress.SetPhase("overlay")
	chunkRefs := make([]gitlog.ChunkRef, len(refs))
	for i, r := range refs {
		chunkRefs[i] = gitlog.ChunkRef{ID: r.ChunkID, Path: r.Path, StartLine: r.StartLine, EndLine: r.EndLine}
	}
	overlays, err := reader.ChunkOverlays(ctx, chunkRefs, gitlog.OverlayOptions{
		DepthLimit:   ix.cfg.GitDepthLimit,
		Concurrency:  ix.cfg.GitConcurrency,
		MaxFileLines: ix.cfg.GitChunkMaxFileLines,
	})
	if err != nil {
		return err
	}

	ix.progress.SetPhase("patch")
	var ops []vectorstore.PayloadOp
	for _, r := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		meta, err := blame.ChunkMetadata(ctx, r.Path, hashes[r.Path], r.StartLine, r.EndLine)
		if err != nil {
			return err
		}
		git := buildGitPayload(meta, metrics[r.Path], overlays[r.ChunkID])
		if git == nil {
			ix.progress.Add(1)
			continue
		}
		ops = append(ops, vectorstore.PayloadOp{
			Payload: map[string]any{"git": git},
			Points:  []string{pipeline.NormalizePointID(r.ChunkID)},
		})
		ix.progress.Add(1)
	}
	if len(ops) == 0 {
		return nil
	}
	return ix.store.BatchSetPayload(ctx, ix.cfg.Collection, ops, vectorstore.WriteOptions{Wait: false, Ordering: "weak"})
}

// buildGitPayload merges the three enrichment sources into the nested git
// payload record, inserting keys only when their source is present.
func buildGitPayload(meta *gitblame.ChunkMetadata, fm *gitlog.FileMetrics, overlay *gitlog.ChunkOverlay) map[string]any {
	if meta == nil && fm == nil && overlay == nil {
		return nil
	}
	git := make(map[string]any)
	if meta != nil {
		git["dominantAuthor"] = meta.DominantAuthor
		git["dominantAuthorPct"] = meta.DominantAuthorPct
		git["authors"] = meta.Authors
		git["commits"] = meta.Commits
		git["lastCommitHash"] = meta.LastCommitHash
		git["ageDays"] = meta.AgeDays
		if len(meta.TaskIDs) > 0 {
			git["taskIds"] = meta.TaskIDs
		}
	}
	if fm != nil {
		git["commitCount"] = fm.CommitCount
		git["relativeChurn"] = fm.RelativeChurn
		git["recencyWeightedFreq"] = fm.RecencyWeightedFreq
		git["changeDensity"] = fm.ChangeDensity
		git["churnVolatility"] = fm.ChurnVolatility
		git["bugFixRate"] = fm.BugFixRate
		git["contributorCount"] = fm.ContributorCount
		if len(fm.TaskIDs) > 0 {
			if _, ok := git["taskIds"]; !ok {
				git["taskIds"] = fm.TaskIDs
			}
		}
	}
	if overlay != nil {
		git["chunkCommitCount"] = overlay.ChunkCommitCount
		git["chunkChurnRatio"] = overlay.ChunkChurnRatio
		git["chunkContributorCount"] = overlay.ChunkContributorCount
		git["chunkBugFixRate"] = overlay.ChunkBugFixRate
		git["chunkLastModifiedAt"] = overlay.ChunkLastModifiedAt
		git["chunkAgeDays"] = overlay.ChunkAgeDays
	}
	return git
}
