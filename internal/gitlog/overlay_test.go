package gitlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHunkOverlap(t *testing.T) {
	h := hunk{start: 10, lines: 5} // lines 10-14
	assert.True(t, h.overlaps(12, 20))
	assert.True(t, h.overlaps(1, 10))
	assert.True(t, h.overlaps(14, 14))
	assert.False(t, h.overlaps(15, 20))
	assert.False(t, h.overlaps(1, 9))

	// A zero-line hunk (pure deletion) overlaps nothing.
	assert.False(t, hunk{start: 10, lines: 0}.overlaps(10, 10))
}

func TestComputeOverlays(t *testing.T) {
	now := time.Unix(1750000000, 0)
	chunks := []ChunkRef{
		{ID: "c-top", Path: "pkg/a.go", StartLine: 1, EndLine: 10},
		{ID: "c-bottom", Path: "pkg/a.go", StartLine: 11, EndLine: 30},
		{ID: "c-other", Path: "pkg/b.go", StartLine: 1, EndLine: 50},
	}
	touches := []commitTouch{
		{
			sha: "s1", author: "alice", body: "fix crash",
			timestamp: now.Add(-48 * time.Hour).Unix(),
			hunks:     map[string][]hunk{"pkg/a.go": {{start: 5, lines: 3}}},
		},
		{
			sha: "s2", author: "bob", body: "add feature",
			timestamp: now.Add(-24 * time.Hour).Unix(),
			hunks: map[string][]hunk{
				"pkg/a.go": {{start: 8, lines: 6}}, // spans both chunks
				"pkg/b.go": {{start: 1, lines: 2}},
			},
		},
	}

	overlays := computeOverlays(touches, chunks, now)
	require.Len(t, overlays, 3)

	top := overlays["c-top"]
	require.NotNil(t, top)
	assert.Equal(t, 2, top.ChunkCommitCount)
	assert.Equal(t, 2, top.ChunkContributorCount)
	assert.InDelta(t, 1.0, top.ChunkChurnRatio, 1e-9) // touched by all file commits
	assert.InDelta(t, 50.0, top.ChunkBugFixRate, 1e-9)
	assert.Equal(t, 1, top.ChunkAgeDays)
	assert.Equal(t, touches[1].timestamp*1000, top.ChunkLastModifiedAt)

	bottom := overlays["c-bottom"]
	require.NotNil(t, bottom)
	assert.Equal(t, 1, bottom.ChunkCommitCount)
	assert.InDelta(t, 0.5, bottom.ChunkChurnRatio, 1e-9) // 1 of the file's 2 commits
	assert.Equal(t, float64(0), bottom.ChunkBugFixRate)

	other := overlays["c-other"]
	require.NotNil(t, other)
	assert.Equal(t, 1, other.ChunkCommitCount)
	assert.InDelta(t, 1.0, other.ChunkChurnRatio, 1e-9)
}

func TestComputeOverlaysDedupPerCommit(t *testing.T) {
	now := time.Unix(1750000000, 0)
	chunks := []ChunkRef{{ID: "c1", Path: "a.go", StartLine: 1, EndLine: 100}}
	touches := []commitTouch{{
		sha: "s1", author: "alice", body: "refactor",
		timestamp: now.Unix(),
		// Two hunks of the same commit hitting the same chunk count once.
		hunks: map[string][]hunk{"a.go": {{start: 5, lines: 2}, {start: 50, lines: 3}}},
	}}

	overlays := computeOverlays(touches, chunks, now)
	require.NotNil(t, overlays["c1"])
	assert.Equal(t, 1, overlays["c1"].ChunkCommitCount)
}

func TestFilterOversizedFiles(t *testing.T) {
	chunks := []ChunkRef{
		{ID: "small", Path: "a.go", StartLine: 1, EndLine: 100},
		{ID: "huge-1", Path: "big.go", StartLine: 1, EndLine: 500},
		{ID: "huge-2", Path: "big.go", StartLine: 10001, EndLine: 12000},
	}
	// big.go's highest chunk end exceeds the cap, so all its chunks drop.
	out := filterOversizedFiles(chunks, 10000)
	require.Len(t, out, 1)
	assert.Equal(t, "small", out[0].ID)
}

func TestFilePatchHunksLineCounting(t *testing.T) {
	assert.Equal(t, 0, countLines(""))
	assert.Equal(t, 1, countLines("one line\n"))
	assert.Equal(t, 1, countLines("no trailing newline"))
	assert.Equal(t, 3, countLines("a\nb\nc\n"))
}
