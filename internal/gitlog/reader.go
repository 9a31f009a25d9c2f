package gitlog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	apperrors "github.com/artk0de/TeaRAGs-MCP-sub002/internal/errors"
)

// Reader walks a repository's history.
type Reader struct {
	repoPath string
	repo     *git.Repository
	logger   *slog.Logger

	mu        sync.Mutex
	cacheHead string
	cached    map[string]*FileChurnData

	// runGit is swapped in tests.
	runGit func(ctx context.Context, args ...string) (string, error)
}

// Open opens the repository at repoPath. An error here means the directory
// is not a git repository; callers treat enrichment as skipped.
func Open(repoPath string, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeGitUnavailable, "open repository "+repoPath, err)
	}
	r := &Reader{repoPath: repoPath, repo: repo, logger: logger}
	r.runGit = r.execGit
	return r, nil
}

func (r *Reader) execGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.repoPath}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	err := cmd.Run()
	return out.String(), err
}

// ReadHistory returns per-file churn data for the whole repository. The
// result is cached against HEAD, so repeated calls between commits are
// free.
func (r *Reader) ReadHistory(ctx context.Context) (map[string]*FileChurnData, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	headSHA := head.Hash().String()

	r.mu.Lock()
	if r.cacheHead == headSHA && r.cached != nil {
		cached := r.cached
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	files, err := r.walkHistory(ctx)
	if err != nil {
		r.logger.Warn("native history walk failed, using numstat fallback",
			slog.String("error", err.Error()))
		files, err = r.readHistoryFallback(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		// One CLI invocation enriches line stats; the native walk already
		// has commits, so a numstat failure only loses added/deleted.
		if err := r.enrichLineStats(ctx, files); err != nil {
			r.logger.Debug("numstat enrichment failed", slog.String("error", err.Error()))
		}
	}

	r.mu.Lock()
	r.cacheHead = headSHA
	r.cached = files
	r.mu.Unlock()
	return files, nil
}

// walkHistory iterates all commits oldest-first, diffing each commit's tree
// against its first parent to find the files it touched.
func (r *Reader) walkHistory(ctx context.Context) (map[string]*FileChurnData, error) {
	iter, err := r.repo.Log(&git.LogOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	if err := iter.ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		commits = append(commits, c)
		return nil
	}); err != nil {
		return nil, err
	}
	// Log order is newest-first; churn accumulates oldest-first.
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}

	files := make(map[string]*FileChurnData)
	for _, c := range commits {
		touched, err := r.changedPaths(c)
		if err != nil {
			return nil, err
		}
		info := CommitInfo{
			SHA:         c.Hash.String(),
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			Timestamp:   c.Author.When.Unix(),
			Body:        c.Message,
		}
		for _, path := range touched {
			fd := files[path]
			if fd == nil {
				fd = &FileChurnData{}
				files[path] = fd
			}
			fd.Commits = append(fd.Commits, info)
		}
	}
	return files, nil
}

// changedPaths lists the files a commit changed relative to its first
// parent; a root commit lists its whole tree.
func (r *Reader) changedPaths(c *object.Commit) ([]string, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}

	if c.NumParents() == 0 {
		var paths []string
		err := tree.Files().ForEach(func(f *object.File) error {
			paths = append(paths, f.Name)
			return nil
		})
		return paths, err
	}

	parent, err := c.Parent(0)
	if err != nil {
		return nil, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var paths []string
	for _, change := range changes {
		for _, name := range []string{change.To.Name, change.From.Name} {
			if name != "" && !seen[name] {
				seen[name] = true
				paths = append(paths, name)
			}
		}
	}
	return paths, nil
}

// enrichLineStats adds per-file added/deleted totals from one numstat run.
func (r *Reader) enrichLineStats(ctx context.Context, files map[string]*FileChurnData) error {
	out, err := r.runGit(ctx, "log", "--all", "--numstat", "--format=")
	if err != nil {
		return err
	}
	for path, stat := range parseNumstat(out) {
		if fd, ok := files[path]; ok {
			fd.LinesAdded += stat.added
			fd.LinesDeleted += stat.deleted
		}
	}
	return nil
}

type lineStat struct {
	added   int
	deleted int
}

// parseNumstat accumulates "added\tdeleted\tpath" lines; binary entries
// ("-") are skipped.
func parseNumstat(out string) map[string]lineStat {
	stats := make(map[string]lineStat)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		added, errA := strconv.Atoi(parts[0])
		deleted, errD := strconv.Atoi(parts[1])
		if errA != nil || errD != nil {
			continue
		}
		path := parts[2]
		s := stats[path]
		s.added += added
		s.deleted += deleted
		stats[path] = s
	}
	return stats
}

// readHistoryFallback reads the whole history from a single NUL-delimited
// `git log --numstat` invocation.
func (r *Reader) readHistoryFallback(ctx context.Context) (map[string]*FileChurnData, error) {
	out, err := r.runGit(ctx, "log", "--all", "--numstat", "--format=%x00%H%x00%an%x00%ae%x00%at%x00%B%x00")
	if err != nil {
		return nil, fmt.Errorf("numstat fallback: %w", err)
	}
	return parseFallbackLog(out), nil
}

// parseFallbackLog parses records shaped
// \x00<sha>\x00<author>\x00<email>\x00<timestamp>\x00<body>\x00 with each
// record's numstat lines trailing its body terminator.
func parseFallbackLog(out string) map[string]*FileChurnData {
	files := make(map[string]*FileChurnData)
	parts := strings.Split(out, "\x00")

	// parts layout per record: sha, author, email, timestamp, body,
	// <numstat text>. parts[0] is the leading empty slot.
	for i := 1; i+4 < len(parts); i += 6 {
		sha := strings.TrimSpace(parts[i])
		if len(sha) != 40 {
			continue
		}
		ts, _ := strconv.ParseInt(strings.TrimSpace(parts[i+3]), 10, 64)
		info := CommitInfo{
			SHA:         sha,
			Author:      parts[i+1],
			AuthorEmail: parts[i+2],
			Timestamp:   ts,
			Body:        parts[i+4],
		}

		numstatBlock := ""
		if i+5 < len(parts) {
			numstatBlock = parts[i+5]
		}
		for path, stat := range parseNumstat(numstatBlock) {
			fd := files[path]
			if fd == nil {
				fd = &FileChurnData{}
				files[path] = fd
			}
			fd.Commits = append(fd.Commits, info)
			fd.LinesAdded += stat.added
			fd.LinesDeleted += stat.deleted
		}
	}
	return files
}
