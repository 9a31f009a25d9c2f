// Package pipeline wires the batch accumulator, the worker pool, an
// embedding provider, and a vector store into the chunk upsert path:
// chunks accumulate into batches, batches embed and upsert with bounded
// concurrency, and a full worker queue pushes back on producers.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/batch"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/chunk"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/embedprovider"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/vectorstore"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/workerpool"
)

// Item is one chunk queued for embedding and upsert.
type Item struct {
	Chunk        *chunk.Chunk
	ChunkID      string
	CodebasePath string
}

// Config tunes a Pipeline.
type Config struct {
	// Collection receives the upserted points.
	Collection string

	// BatchSize / MinBatchSize / FlushTimeout shape the accumulator.
	BatchSize    int
	MinBatchSize int
	FlushTimeout time.Duration

	// MaxQueueSize is the worker-pool queue depth that triggers
	// backpressure; the accumulator resumes below half of it.
	MaxQueueSize int

	// Concurrency / MaxRetries / RetryBaseDelay / RetryMaxDelay shape the
	// worker pool.
	Concurrency    int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Hybrid also computes and stores a sparse vector per point.
	Hybrid bool
}

// Stats counts pipeline activity.
type Stats struct {
	ChunksSubmitted int64
	BatchesDone     int64
	BatchesFailed   int64
	PointsUpserted  int64
}

// Pipeline streams chunks into the vector store.
type Pipeline struct {
	cfg      Config
	provider embedprovider.EmbeddingProvider
	store    vectorstore.VectorStore
	logger   *slog.Logger

	acc  *batch.Accumulator[Item]
	pool *workerpool.Pool[Item]

	ctx    context.Context
	cancel context.CancelFunc

	backpressured atomic.Bool
	bpMu          sync.Mutex
	bpWaiters     []chan struct{}

	onBatchUpserted func([]Item)

	chunksSubmitted atomic.Int64
	batchesDone     atomic.Int64
	batchesFailed   atomic.Int64
	pointsUpserted  atomic.Int64
}

// New creates a pipeline. The collection must already exist in the store.
func New(cfg Config, provider embedprovider.EmbeddingProvider, store vectorstore.VectorStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 16
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{cfg: cfg, provider: provider, store: store, logger: logger, ctx: ctx, cancel: cancel}

	p.pool = workerpool.New[Item](workerpool.Config{
		Concurrency:    cfg.Concurrency,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	p.pool.OnQueueChange(p.onQueueDepth)
	p.pool.OnCompletion(func(r workerpool.Result) {
		if r.Success {
			p.batchesDone.Add(1)
		} else {
			p.batchesFailed.Add(1)
			p.logger.Warn("batch failed",
				slog.String("batch", r.BatchID),
				slog.Int("retries", r.RetryCount),
				slog.String("error", errString(r.Error)))
		}
	})

	p.acc = batch.New[Item](batch.Config{
		BatchSize:    cfg.BatchSize,
		MinBatchSize: cfg.MinBatchSize,
		FlushTimeout: cfg.FlushTimeout,
		BatchType:    "upsert",
	}, p.submitBatch)

	return p
}

// OnBatchUpserted registers a callback invoked with a batch's items after
// their points have been upserted. Git enrichment uses this hook to stream
// payload updates for freshly indexed chunks.
func (p *Pipeline) OnBatchUpserted(fn func([]Item)) {
	p.onBatchUpserted = fn
}

// AddChunk queues one chunk. Returns false while the pipeline is
// backpressured.
func (p *Pipeline) AddChunk(c *chunk.Chunk, chunkID, codebasePath string) bool {
	ok := p.acc.Add(Item{Chunk: c, ChunkID: chunkID, CodebasePath: codebasePath})
	if ok {
		p.chunksSubmitted.Add(1)
	}
	return ok
}

// submitBatch hands an accumulated batch to the worker pool.
func (p *Pipeline) submitBatch(b *batch.Batch[Item]) {
	if _, err := p.pool.Submit(p.ctx, b, p.handleBatch); err != nil {
		p.batchesFailed.Add(1)
		p.logger.Warn("batch rejected", slog.String("batch", b.ID), slog.String("error", err.Error()))
	}
}

// handleBatch embeds a batch's chunks and upserts the resulting points.
func (p *Pipeline) handleBatch(ctx context.Context, b *batch.Batch[Item]) error {
	texts := make([]string, len(b.Items))
	for i, item := range b.Items {
		texts[i] = item.Chunk.Content
	}

	embeddings, err := p.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch %s: %w", b.ID, err)
	}
	if len(embeddings) != len(b.Items) {
		return fmt.Errorf("embed batch %s: got %d vectors for %d chunks", b.ID, len(embeddings), len(b.Items))
	}

	points := make([]vectorstore.Point, len(b.Items))
	for i, item := range b.Items {
		point := vectorstore.Point{
			ID:      NormalizePointID(item.ChunkID),
			Dense:   embeddings[i],
			Payload: buildPayload(item),
		}
		if p.cfg.Hybrid {
			point.Sparse = vectorstore.EncodeSparse(item.Chunk.Content)
		}
		points[i] = point
	}

	opts := vectorstore.WriteOptions{Wait: false, Ordering: "weak"}
	if p.cfg.Hybrid {
		err = p.store.AddPointsWithSparse(ctx, p.cfg.Collection, points, opts)
	} else {
		err = p.store.AddPoints(ctx, p.cfg.Collection, points, opts)
	}
	if err != nil {
		return fmt.Errorf("upsert batch %s: %w", b.ID, err)
	}

	p.pointsUpserted.Add(int64(len(points)))
	if p.onBatchUpserted != nil {
		p.onBatchUpserted(b.Items)
	}
	return nil
}

// onQueueDepth pauses the accumulator when the worker queue fills and
// resumes it once the queue drains below half of MaxQueueSize.
func (p *Pipeline) onQueueDepth(depth int) {
	if depth >= p.cfg.MaxQueueSize {
		if p.backpressured.CompareAndSwap(false, true) {
			p.acc.Pause()
		}
		return
	}
	if depth < p.cfg.MaxQueueSize/2 {
		if p.backpressured.CompareAndSwap(true, false) {
			p.acc.Resume()
			p.bpMu.Lock()
			for _, ch := range p.bpWaiters {
				close(ch)
			}
			p.bpWaiters = nil
			p.bpMu.Unlock()
		}
	}
}

// IsBackpressured reports whether producers should stop adding chunks.
func (p *Pipeline) IsBackpressured() bool {
	return p.backpressured.Load()
}

// WaitForBackpressure blocks until backpressure clears or the timeout
// elapses, returning true when clear.
func (p *Pipeline) WaitForBackpressure(timeout time.Duration) bool {
	if !p.backpressured.Load() {
		return true
	}
	ch := make(chan struct{})
	p.bpMu.Lock()
	if !p.backpressured.Load() {
		p.bpMu.Unlock()
		return true
	}
	p.bpWaiters = append(p.bpWaiters, ch)
	p.bpMu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Flush emits any partial batch downstream without waiting for completion.
func (p *Pipeline) Flush() {
	p.acc.Flush()
}

// Drain flushes and waits for all in-flight batches to complete.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.acc.Drain()
	return p.pool.Drain(ctx)
}

// Shutdown drains and then rejects further work.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.acc.Drain()
	err := p.pool.Shutdown(ctx)
	p.cancel()
	return err
}

// ForceShutdown discards buffered chunks and resolves queued batches as
// failed.
func (p *Pipeline) ForceShutdown() {
	p.acc.Clear()
	p.pool.ForceShutdown()
	p.cancel()
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		ChunksSubmitted: p.chunksSubmitted.Load(),
		BatchesDone:     p.batchesDone.Load(),
		BatchesFailed:   p.batchesFailed.Load(),
		PointsUpserted:  p.pointsUpserted.Load(),
	}
}

// buildPayload assembles a point payload, inserting optional chunk metadata
// only when present and non-empty.
func buildPayload(item Item) map[string]any {
	c := item.Chunk
	relativePath := c.FilePath
	if item.CodebasePath != "" && filepath.IsAbs(c.FilePath) {
		if rel, err := filepath.Rel(item.CodebasePath, c.FilePath); err == nil {
			relativePath = filepath.ToSlash(rel)
		}
	}

	payload := map[string]any{
		"content":       c.Content,
		"relativePath":  relativePath,
		"startLine":     c.StartLine,
		"endLine":       c.EndLine,
		"fileExtension": strings.TrimPrefix(filepath.Ext(relativePath), "."),
		"language":      c.Language,
		"codebasePath":  item.CodebasePath,
	}

	meta := c.CodeMeta
	if meta == nil {
		return payload
	}
	payload["chunkIndex"] = meta.ChunkIndex
	if meta.Name != "" {
		payload["name"] = meta.Name
	}
	if meta.ChunkType != "" {
		payload["chunkType"] = string(meta.ChunkType)
	}
	if meta.ParentName != "" {
		payload["parentName"] = meta.ParentName
	}
	if meta.ParentType != "" {
		payload["parentType"] = string(meta.ParentType)
	}
	if meta.SymbolID != "" {
		payload["symbolId"] = meta.SymbolID
	}
	if meta.IsDocumentation {
		payload["isDocumentation"] = true
	}
	if len(meta.Imports) > 0 {
		payload["imports"] = meta.Imports
	}
	if meta.Git != nil {
		payload["git"] = meta.Git
	}
	return payload
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
