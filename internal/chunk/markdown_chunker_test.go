package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkMarkdown(t *testing.T, src string) []*Chunk {
	t.Helper()
	c := NewMarkdownChunker()
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     "docs/guide.md",
		Language: "markdown",
		Content:  []byte(src),
	})
	require.NoError(t, err)
	return chunks
}

func TestMarkdownSplitsOnHeadings(t *testing.T) {
	src := `# Guide

Welcome to the indexing guide.

## Installation

Download the binary and put it on your PATH.

## Usage

Point it at a repository and run index.
`
	chunks := chunkMarkdown(t, src)
	require.Len(t, chunks, 3)

	assert.Equal(t, "Guide", chunks[0].CodeMeta.Name)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Contains(t, chunks[0].Content, "Welcome to the indexing guide.")

	assert.Equal(t, "Installation", chunks[1].CodeMeta.Name)
	assert.Equal(t, 5, chunks[1].StartLine)
	assert.Contains(t, chunks[1].Content, "Download the binary")

	assert.Equal(t, "Usage", chunks[2].CodeMeta.Name)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.CodeMeta.ChunkIndex)
		assert.True(t, ch.CodeMeta.IsDocumentation)
		assert.Equal(t, ChunkTypeBlock, ch.CodeMeta.ChunkType)
		assert.Equal(t, ContentTypeMarkdown, ch.ContentType)
	}
}

func TestMarkdownPreambleBeforeFirstHeading(t *testing.T) {
	src := `This document has no title line.

It starts with prose.

# Later

More text.
`
	chunks := chunkMarkdown(t, src)
	require.Len(t, chunks, 2)
	assert.Equal(t, "", chunks[0].CodeMeta.Name)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Contains(t, chunks[0].Content, "starts with prose")
	assert.Equal(t, "Later", chunks[1].CodeMeta.Name)
}

func TestMarkdownHeadingInsideFenceDoesNotSplit(t *testing.T) {
	src := "# Example\n\n```sh\n# this is a shell comment, not a heading\necho hi\n```\n\ntrailing prose\n"
	chunks := chunkMarkdown(t, src)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "shell comment")
	assert.Contains(t, chunks[0].Content, "trailing prose")
}

func TestMarkdownOversizedSectionSplits(t *testing.T) {
	c := NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{MaxSectionBytes: 120})

	var b strings.Builder
	b.WriteString("# Big\n\n")
	for i := 0; i < 10; i++ {
		b.WriteString("A reasonably long paragraph line that repeats itself.\n")
	}
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "big.md",
		Content: []byte(b.String()),
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.Equal(t, "Big", ch.CodeMeta.Name)
		assert.LessOrEqual(t, len(ch.Content), 120+60) // one line of slack
	}
	// Parts stay line-contiguous.
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, chunks[0].EndLine+1, chunks[1].StartLine)
}

func TestMarkdownEmptyInput(t *testing.T) {
	assert.Empty(t, chunkMarkdown(t, ""))
	assert.Empty(t, chunkMarkdown(t, "\n   \n"))
}

func TestMarkdownStableIDs(t *testing.T) {
	src := "# One\n\ncontent here\n"
	a := chunkMarkdown(t, src)
	b := chunkMarkdown(t, src)
	require.Len(t, a, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}
