// Package chunkpool runs AST chunking on a fixed pool of OS threads. Each
// worker is pinned to its thread and owns a private tree-sitter chunker, so
// parser state is never shared across goroutines.
package chunkpool

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/chunk"
)

// ErrClosed is returned by Chunk after Close.
var ErrClosed = errors.New("chunkpool: closed")

// Result is one file's chunking outcome.
type Result struct {
	Chunks []*chunk.Chunk
	Err    error
}

type request struct {
	ctx  context.Context
	file *chunk.FileInput
	out  chan Result
}

// Pool chunks files on worker-owned parsers.
type Pool struct {
	requests chan request
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts a pool of workers (GOMAXPROCS if workers <= 0), each with its
// own chunker built from opts.
func New(workers int, opts chunk.CodeChunkerOptions) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{requests: make(chan request)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(opts)
	}
	return p
}

func (p *Pool) worker(opts chunk.CodeChunkerOptions) {
	defer p.wg.Done()
	// A tree-sitter parser is not safe for concurrent use; pinning the
	// goroutine keeps each parser on one OS thread for its whole life.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	code := chunk.NewCodeChunkerWithOptions(opts)
	defer code.Close()
	markdown := chunk.NewMarkdownChunker()

	for req := range p.requests {
		var chunks []*chunk.Chunk
		var err error
		if req.file.Language == "markdown" {
			chunks, err = markdown.Chunk(req.ctx, req.file)
		} else {
			chunks, err = code.Chunk(req.ctx, req.file)
		}
		select {
		case req.out <- Result{Chunks: chunks, Err: err}:
		case <-req.ctx.Done():
		}
	}
}

// Chunk submits a file and waits for its chunks.
func (p *Pool) Chunk(ctx context.Context, file *chunk.FileInput) ([]*chunk.Chunk, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	out := make(chan Result, 1)
	select {
	case p.requests <- request{ctx: ctx, file: file, out: out}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-out:
		return res.Chunks, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work and waits for workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.requests)
	p.wg.Wait()
}
