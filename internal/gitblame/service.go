// Package gitblame derives per-chunk authorship metadata from git blame.
// Each file is blamed at most once per content hash: results land in an
// in-memory LRU (L1) and an on-disk JSON cache (L2), and chunk-range
// aggregation is a pure pass over the cached lines.
package gitblame

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultL1Size bounds the in-memory blame cache.
	DefaultL1Size = 256

	// DefaultPrefetchConcurrency bounds parallel blame runs during
	// prefetch.
	DefaultPrefetchConcurrency = 10
)

// ChunkMetadata is the blame aggregation over one chunk's line range.
type ChunkMetadata struct {
	DominantAuthor    string
	DominantAuthorPct float64 // 0-100, share of chunk lines by the dominant author
	Authors           []string
	Commits           []string
	LastCommitHash    string
	AgeDays           int
	TaskIDs           []string
}

// Config tunes a Service.
type Config struct {
	// CacheDir roots the L2 on-disk cache; empty disables L2.
	CacheDir string

	// L1Size bounds the in-memory cache (DefaultL1Size if zero).
	L1Size int
}

// Service blames files and aggregates chunk metadata.
type Service struct {
	repoRoot string
	cacheDir string
	logger   *slog.Logger
	l1       *lru.Cache[string, []BlameLine]
	now      func() time.Time

	// runGit is swapped in tests.
	runGit func(ctx context.Context, args ...string) (string, error)
}

// NewService creates a blame service for the repository at repoRoot.
func NewService(repoRoot string, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.L1Size
	if size <= 0 {
		size = DefaultL1Size
	}
	cache, _ := lru.New[string, []BlameLine](size)
	s := &Service{
		repoRoot: repoRoot,
		cacheDir: cfg.CacheDir,
		logger:   logger,
		l1:       cache,
		now:      time.Now,
	}
	s.runGit = s.execGit
	return s
}

func (s *Service) execGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", s.repoRoot}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	err := cmd.Run()
	return out.String(), err
}

// FileBlame returns per-line blame for a file at a given content hash. A
// repository without git (or a file git cannot blame) yields nil lines and
// no error; enrichment treats that as "skipped".
func (s *Service) FileBlame(ctx context.Context, relPath, contentHash string) ([]BlameLine, error) {
	key := s.repoRoot + "\x00" + relPath + "\x00" + shortHash(contentHash)
	if lines, ok := s.l1.Get(key); ok {
		return lines, nil
	}
	if s.cacheDir != "" {
		if lines, ok := readCacheFile(cachePath(s.cacheDir, s.repoRoot, relPath), contentHash); ok {
			s.l1.Add(key, lines)
			return lines, nil
		}
	}

	var blameOut, logOut string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := s.runGit(gctx, "blame", "--porcelain", "-w", "--", relPath)
		blameOut = out
		return err
	})
	g.Go(func() error {
		out, err := s.runGit(gctx, "log", "--format=%H%x00%B%x00", "--", relPath)
		logOut = out
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debug("git blame unavailable",
			slog.String("path", relPath), slog.String("error", err.Error()))
		return nil, nil
	}

	lines := parsePorcelain(blameOut)
	bodies := parseLogBodies(logOut)

	// Porcelain summaries are first lines only; enrich lines whose summary
	// carried no task IDs with IDs from the full body.
	for i := range lines {
		if len(lines[i].TaskIDs) == 0 {
			if body, ok := bodies[lines[i].Commit]; ok {
				lines[i].TaskIDs = ExtractTaskIDs(body)
			}
		}
	}

	s.l1.Add(key, lines)
	if s.cacheDir != "" {
		// Best-effort: an unwritable L2 costs a re-blame, nothing more.
		if err := writeCacheFile(cachePath(s.cacheDir, s.repoRoot, relPath), contentHash, lines); err != nil {
			s.logger.Debug("blame cache write failed",
				slog.String("path", relPath), slog.String("error", err.Error()))
		}
	}
	return lines, nil
}

// ChunkMetadata aggregates blame over [startLine, endLine]. Nil is returned
// when no blame is available for the file.
func (s *Service) ChunkMetadata(ctx context.Context, relPath, contentHash string, startLine, endLine int) (*ChunkMetadata, error) {
	lines, err := s.FileBlame(ctx, relPath, contentHash)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return AggregateRange(lines, startLine, endLine, s.now()), nil
}

// AggregateRange folds blame lines inside [startLine, endLine] into chunk
// metadata.
func AggregateRange(lines []BlameLine, startLine, endLine int, now time.Time) *ChunkMetadata {
	authorLines := make(map[string]int)
	commits := make(map[string]bool)
	taskIDs := make(map[string]bool)
	var taskIDOrder []string
	var maxTime int64
	var lastCommit string
	total := 0

	for _, l := range lines {
		if l.Line < startLine || l.Line > endLine {
			continue
		}
		total++
		authorLines[l.Author]++
		commits[l.Commit] = true
		if l.AuthorTime > maxTime {
			maxTime = l.AuthorTime
			lastCommit = l.Commit
		}
		for _, id := range l.TaskIDs {
			if !taskIDs[id] {
				taskIDs[id] = true
				taskIDOrder = append(taskIDOrder, id)
			}
		}
	}
	if total == 0 {
		return nil
	}

	var dominant string
	var dominantCount int
	authors := make([]string, 0, len(authorLines))
	for author, count := range authorLines {
		authors = append(authors, author)
		if count > dominantCount || (count == dominantCount && author < dominant) {
			dominant = author
			dominantCount = count
		}
	}
	sort.Strings(authors)

	commitList := make([]string, 0, len(commits))
	for sha := range commits {
		commitList = append(commitList, sha)
	}
	sort.Strings(commitList)

	ageDays := 0
	if maxTime > 0 {
		if d := int(now.Unix()-maxTime) / 86400; d > 0 {
			ageDays = d
		}
	}

	return &ChunkMetadata{
		DominantAuthor:    dominant,
		DominantAuthorPct: 100 * float64(dominantCount) / float64(total),
		Authors:           authors,
		Commits:           commitList,
		LastCommitHash:    lastCommit,
		AgeDays:           ageDays,
		TaskIDs:           taskIDOrder,
	}
}

// PrefetchBlame warms the caches for many files with bounded concurrency.
// contentHashes maps relative path to content hash; missing entries are
// skipped.
func (s *Service) PrefetchBlame(ctx context.Context, paths []string, contentHashes map[string]string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = DefaultPrefetchConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, path := range paths {
		hash, ok := contentHashes[path]
		if !ok {
			continue
		}
		path := path
		g.Go(func() error {
			_, err := s.FileBlame(gctx, path, hash)
			return err
		})
	}
	return g.Wait()
}
