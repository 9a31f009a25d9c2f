package gitlog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/sync/errgroup"
)

// OverlayOptions tunes chunk-level churn analysis.
type OverlayOptions struct {
	// DepthLimit bounds how many most-recent commits are diffed
	// (default 200).
	DepthLimit int

	// Concurrency bounds parallel commit diffs (default 10).
	Concurrency int

	// MaxFileLines skips chunk analysis for files whose highest chunk
	// end-line exceeds it (default 10000).
	MaxFileLines int
}

func (o OverlayOptions) withDefaults() OverlayOptions {
	if o.DepthLimit <= 0 {
		o.DepthLimit = 200
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.MaxFileLines <= 0 {
		o.MaxFileLines = 10000
	}
	return o
}

// hunk is a changed region in new-file line coordinates.
type hunk struct {
	start int // 1-indexed first new line
	lines int // number of new lines
}

// overlaps reports whether the hunk intersects [cs, ce].
func (h hunk) overlaps(cs, ce int) bool {
	return h.start <= ce && h.start+h.lines-1 >= cs
}

// commitTouch is one commit's changed regions, per file.
type commitTouch struct {
	sha       string
	author    string
	timestamp int64
	body      string
	hunks     map[string][]hunk
}

// ChunkOverlays diffs the most recent commits and attributes their hunks to
// the given chunks. The returned map is keyed by chunk ID; chunks no recent
// commit touched are absent.
func (r *Reader) ChunkOverlays(ctx context.Context, chunks []ChunkRef, opts OverlayOptions) (map[string]*ChunkOverlay, error) {
	opts = opts.withDefaults()

	eligible := filterOversizedFiles(chunks, opts.MaxFileLines)
	if len(eligible) == 0 {
		return map[string]*ChunkOverlay{}, nil
	}
	wantPath := make(map[string]bool)
	for _, c := range eligible {
		wantPath[c.Path] = true
	}

	iter, err := r.repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var commits []*object.Commit
	for len(commits) < opts.DepthLimit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		commits = append(commits, c)
	}

	var mu sync.Mutex
	var touches []commitTouch

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, c := range commits {
		c := c
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			hunks, err := r.commitHunks(gctx, c, wantPath)
			if err != nil {
				// A single undiffable commit costs its contribution only.
				r.logger.Debug("commit diff failed",
					"commit", c.Hash.String(), "error", err.Error())
				return nil
			}
			if len(hunks) == 0 {
				return nil
			}
			mu.Lock()
			touches = append(touches, commitTouch{
				sha:       c.Hash.String(),
				author:    c.Author.Name,
				timestamp: c.Author.When.Unix(),
				body:      c.Message,
				hunks:     hunks,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return computeOverlays(touches, eligible, time.Now()), nil
}

// filterOversizedFiles drops chunks of files whose highest end-line exceeds
// maxLines.
func filterOversizedFiles(chunks []ChunkRef, maxLines int) []ChunkRef {
	maxEnd := make(map[string]int)
	for _, c := range chunks {
		if c.EndLine > maxEnd[c.Path] {
			maxEnd[c.Path] = c.EndLine
		}
	}
	out := make([]ChunkRef, 0, len(chunks))
	for _, c := range chunks {
		if maxEnd[c.Path] <= maxLines {
			out = append(out, c)
		}
	}
	return out
}

// commitHunks diffs a commit against its first parent and returns changed
// regions for the paths of interest, in new-file coordinates.
func (r *Reader) commitHunks(ctx context.Context, c *object.Commit, wantPath map[string]bool) (map[string][]hunk, error) {
	if c.NumParents() == 0 {
		return rootCommitHunks(c, wantPath)
	}
	parent, err := c.Parent(0)
	if err != nil {
		return nil, err
	}
	patch, err := parent.PatchContext(ctx, c)
	if err != nil {
		return nil, err
	}

	hunks := make(map[string][]hunk)
	for _, fp := range patch.FilePatches() {
		_, to := fp.Files()
		if to == nil || !wantPath[to.Path()] {
			continue
		}
		hunks[to.Path()] = append(hunks[to.Path()], filePatchHunks(fp)...)
	}
	return hunks, nil
}

// rootCommitHunks treats every file of a parentless commit as fully added.
func rootCommitHunks(c *object.Commit, wantPath map[string]bool) (map[string][]hunk, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}
	hunks := make(map[string][]hunk)
	err = tree.Files().ForEach(func(f *object.File) error {
		if !wantPath[f.Name] {
			return nil
		}
		lines, err := f.Lines()
		if err != nil {
			return nil
		}
		hunks[f.Name] = []hunk{{start: 1, lines: len(lines)}}
		return nil
	})
	return hunks, err
}

// filePatchHunks converts a file patch's chunk stream into added regions in
// new-file coordinates.
func filePatchHunks(fp fdiff.FilePatch) []hunk {
	var hunks []hunk
	newLine := 1
	for _, ch := range fp.Chunks() {
		n := countLines(ch.Content())
		switch ch.Type() {
		case fdiff.Equal:
			newLine += n
		case fdiff.Add:
			hunks = append(hunks, hunk{start: newLine, lines: n})
			newLine += n
		case fdiff.Delete:
			// Deleted lines occupy no new-file range.
		}
	}
	return hunks
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

// computeOverlays attributes commit hunks to chunks. Each (chunk, commit)
// pair contributes at most once; a chunk's churn ratio is its commit count
// over the union of commits touching any chunk of the same file.
func computeOverlays(touches []commitTouch, chunks []ChunkRef, now time.Time) map[string]*ChunkOverlay {
	type acc struct {
		commits      map[string]bool
		contributors map[string]bool
		bugFixes     int
		lastModified int64
	}
	accs := make(map[string]*acc)
	fileCommits := make(map[string]map[string]bool)

	byPath := make(map[string][]ChunkRef)
	for _, c := range chunks {
		byPath[c.Path] = append(byPath[c.Path], c)
	}

	for _, t := range touches {
		for path, hunks := range t.hunks {
			for _, chunk := range byPath[path] {
				touched := false
				for _, h := range hunks {
					if h.overlaps(chunk.StartLine, chunk.EndLine) {
						touched = true
						break
					}
				}
				if !touched {
					continue
				}
				a := accs[chunk.ID]
				if a == nil {
					a = &acc{commits: make(map[string]bool), contributors: make(map[string]bool)}
					accs[chunk.ID] = a
				}
				if a.commits[t.sha] {
					continue
				}
				a.commits[t.sha] = true
				a.contributors[t.author] = true
				if isBugFix(t.body) {
					a.bugFixes++
				}
				if t.timestamp > a.lastModified {
					a.lastModified = t.timestamp
				}
				fc := fileCommits[path]
				if fc == nil {
					fc = make(map[string]bool)
					fileCommits[path] = fc
				}
				fc[t.sha] = true
			}
		}
	}

	overlays := make(map[string]*ChunkOverlay, len(accs))
	for _, chunk := range chunks {
		a := accs[chunk.ID]
		if a == nil {
			continue
		}
		total := len(fileCommits[chunk.Path])
		ratio := 0.0
		if total > 0 {
			ratio = float64(len(a.commits)) / float64(total)
		}
		ageDays := 0
		if d := int(now.Unix()-a.lastModified) / 86400; d > 0 {
			ageDays = d
		}
		overlays[chunk.ID] = &ChunkOverlay{
			ChunkCommitCount:      len(a.commits),
			ChunkChurnRatio:       ratio,
			ChunkContributorCount: len(a.contributors),
			ChunkBugFixRate:       100 * float64(a.bugFixes) / float64(len(a.commits)),
			ChunkLastModifiedAt:   a.lastModified * 1000,
			ChunkAgeDays:          ageDays,
		}
	}
	return overlays
}
