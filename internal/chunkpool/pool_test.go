package chunkpool

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/chunk"
)

func goFile(i int) *chunk.FileInput {
	return &chunk.FileInput{
		Path:     fmt.Sprintf("pkg/file%d.go", i),
		Language: "go",
		Content: []byte(fmt.Sprintf(`package pkg

// Handler%d handles request %d with enough body to clear the minimum size.
func Handler%d() error {
	value := %d
	if value < 0 {
		return fmt.Errorf("negative: %%d", value)
	}
	return nil
}
`, i, i, i, i)),
	}
}

func TestPoolChunksFiles(t *testing.T) {
	pool := New(2, chunk.CodeChunkerOptions{})
	defer pool.Close()

	chunks, err := pool.Chunk(context.Background(), goFile(1))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "go", chunks[0].Language)
}

func TestPoolConcurrentRequests(t *testing.T) {
	pool := New(4, chunk.CodeChunkerOptions{})
	defer pool.Close()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chunks, err := pool.Chunk(context.Background(), goFile(i))
			if err == nil && len(chunks) == 0 {
				err = fmt.Errorf("no chunks for file %d", i)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "file %d", i)
	}
}

func TestPoolMarkdownDispatch(t *testing.T) {
	pool := New(1, chunk.CodeChunkerOptions{})
	defer pool.Close()

	content := []byte(`# Title

Some introductory prose that explains what this project is about in a
couple of sentences, long enough to survive minimum-size filtering.

## Usage

Run the binary with a path argument and wait for the index to build.
`)
	chunks, err := pool.Chunk(context.Background(), &chunk.FileInput{
		Path:     "README.md",
		Language: "markdown",
		Content:  content,
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.NotNil(t, c.CodeMeta)
		assert.True(t, c.CodeMeta.IsDocumentation)
	}
}

func TestPoolClosedRejects(t *testing.T) {
	pool := New(1, chunk.CodeChunkerOptions{})
	pool.Close()
	pool.Close() // idempotent

	_, err := pool.Chunk(context.Background(), goFile(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPoolContextCancellation(t *testing.T) {
	pool := New(1, chunk.CodeChunkerOptions{})
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Chunk(ctx, goFile(1))
	// Either the submit or the wait observes the cancellation.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
