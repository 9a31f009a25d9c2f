// Package gitlog reads whole-repository history and derives per-file churn
// metrics and per-chunk churn overlays. The primary path walks packs
// through go-git with no subprocess on the hot path; a single `git log
// --numstat` invocation enriches line stats, and doubles as the fallback
// when the native walk is unavailable.
package gitlog

import (
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/gitblame"
)

// CommitInfo is one commit touching a file.
type CommitInfo struct {
	SHA         string
	Author      string
	AuthorEmail string
	Timestamp   int64 // unix seconds
	Body        string
}

// FileChurnData accumulates a file's history.
type FileChurnData struct {
	Commits      []CommitInfo
	LinesAdded   int
	LinesDeleted int
}

// FileMetrics are the churn statistics derived from one file's history.
type FileMetrics struct {
	CommitCount         int
	RelativeChurn       float64
	RecencyWeightedFreq float64
	ChangeDensity       float64
	ChurnVolatility     float64
	BugFixRate          float64 // 0-100
	ContributorCount    int
	TaskIDs             []string
	DominantAuthorPct   float64 // 0-100
	LastModifiedAt      int64   // unix seconds
	AgeDays             int
}

// ChunkRef addresses one indexed chunk for overlay computation.
type ChunkRef struct {
	ID        string
	Path      string
	StartLine int
	EndLine   int
}

// ChunkOverlay is the per-chunk churn record patched into point payloads.
type ChunkOverlay struct {
	ChunkCommitCount      int     `json:"chunkCommitCount"`
	ChunkChurnRatio       float64 `json:"chunkChurnRatio"`
	ChunkContributorCount int     `json:"chunkContributorCount"`
	ChunkBugFixRate       float64 `json:"chunkBugFixRate"`
	ChunkLastModifiedAt   int64   `json:"chunkLastModifiedAt"` // unix ms
	ChunkAgeDays          int     `json:"chunkAgeDays"`
}

// bugFixRe classifies a commit as a bug fix by its message.
var bugFixRe = regexp.MustCompile(`(?i)\b(fix(es|ed)?|bug|hotfix|defect|fault|crash|regression)\b`)

func isBugFix(body string) bool {
	return bugFixRe.MatchString(body)
}

// ComputeFileMetrics derives churn metrics from one file's commit history
// and line stats. currentLineCount is the file's present length; now anchors
// the recency math.
func ComputeFileMetrics(data *FileChurnData, currentLineCount int, now time.Time) *FileMetrics {
	if data == nil || len(data.Commits) == 0 {
		return nil
	}

	commits := append([]CommitInfo(nil), data.Commits...)
	sort.Slice(commits, func(i, j int) bool { return commits[i].Timestamp < commits[j].Timestamp })

	lineCount := currentLineCount
	if lineCount < 1 {
		lineCount = 1
	}

	m := &FileMetrics{
		CommitCount:    len(commits),
		RelativeChurn:  float64(data.LinesAdded+data.LinesDeleted) / float64(lineCount),
		LastModifiedAt: commits[len(commits)-1].Timestamp,
	}

	authors := make(map[string]int)
	bugFixes := 0
	taskIDSeen := make(map[string]bool)
	for _, c := range commits {
		daysAgo := now.Sub(time.Unix(c.Timestamp, 0)).Hours() / 24
		if daysAgo < 0 {
			daysAgo = 0
		}
		m.RecencyWeightedFreq += math.Exp(-0.1 * daysAgo)
		authors[c.Author]++
		if isBugFix(c.Body) {
			bugFixes++
		}
		for _, id := range gitblame.ExtractTaskIDs(c.Body) {
			if !taskIDSeen[id] {
				taskIDSeen[id] = true
				m.TaskIDs = append(m.TaskIDs, id)
			}
		}
	}

	first := commits[0].Timestamp
	last := commits[len(commits)-1].Timestamp
	spanMonths := float64(last-first) / (86400 * 30)
	if spanMonths < 1 {
		spanMonths = 1
	}
	m.ChangeDensity = float64(len(commits)) / spanMonths

	if len(commits) > 1 {
		gaps := make([]float64, 0, len(commits)-1)
		for i := 1; i < len(commits); i++ {
			gaps = append(gaps, float64(commits[i].Timestamp-commits[i-1].Timestamp)/86400)
		}
		m.ChurnVolatility = stddev(gaps)
	}

	m.BugFixRate = 100 * float64(bugFixes) / float64(len(commits))
	m.ContributorCount = len(authors)

	var dominantCount int
	for _, count := range authors {
		if count > dominantCount {
			dominantCount = count
		}
	}
	m.DominantAuthorPct = 100 * float64(dominantCount) / float64(len(commits))

	if d := int(now.Unix()-last) / 86400; d > 0 {
		m.AgeDays = d
	}
	return m
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
