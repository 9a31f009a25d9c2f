// Package indexer orchestrates the full indexing flow: file discovery,
// incremental change detection against the snapshot, AST chunking on the
// parser pool, the embed/upsert pipeline, and background git enrichment
// that patches authorship and churn metadata into stored points.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/async"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/chunk"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/chunkpool"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/embedprovider"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/filesync"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/pipeline"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/scanner"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/schema"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/snapshot"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/vectorstore"
)

// Status is the overall outcome of an indexing run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// EnrichmentStatus reports the git enrichment subsystem, orthogonal to the
// indexing status.
type EnrichmentStatus string

const (
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentPartial    EnrichmentStatus = "partial"
	EnrichmentSkipped    EnrichmentStatus = "skipped"
	EnrichmentBackground EnrichmentStatus = "background"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// Config tunes an Indexer.
type Config struct {
	// CodebasePath is the repository root to index.
	CodebasePath string

	// Collection names the vector-store collection this indexer owns.
	Collection string

	// DataDir holds the snapshot and checkpoint files.
	DataDir string

	// Hybrid stores a sparse vector alongside each dense vector.
	Hybrid bool

	// DryRun scans and diffs but performs no chunking, embedding, or
	// store writes.
	DryRun bool

	// ChunkWorkers sizes the parser pool (GOMAXPROCS if zero).
	ChunkWorkers int

	// MaxChunkTokens bounds chunk size for the AST chunker.
	MaxChunkTokens int

	// ExcludePatterns are passed through to the scanner.
	ExcludePatterns []string

	// Pipeline knobs.
	BatchSize      int
	FlushTimeout   time.Duration
	MaxQueueSize   int
	Concurrency    int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Bulk-delete tuning.
	DeleteBatchSize   int
	DeleteConcurrency int

	// Git enrichment.
	GitEnrichment        bool
	GitCacheDir          string
	GitConcurrency       int
	GitDepthLimit        int
	GitChunkMaxFileLines int
}

// Stats summarizes one indexing run.
type Stats struct {
	FilesScanned  int
	FilesIndexed  int
	FilesAdded    int
	FilesModified int
	FilesDeleted  int
	ChunksCreated int
	ChunksAdded   int
	ChunksDeleted int
	Errors        int
	Status        Status
	Enrichment    EnrichmentStatus
	Elapsed       time.Duration
}

// Indexer is the orchestration façade. One indexer owns one collection.
type Indexer struct {
	cfg      Config
	logger   *slog.Logger
	provider embedprovider.EmbeddingProvider
	store    vectorstore.VectorStore

	scanner   *scanner.Scanner
	snapStore *snapshot.Store
	sync      *filesync.Synchronizer
	chunkPool *chunkpool.Pool
	pipe      *pipeline.Pipeline
	schema    *schema.Manager

	enrichment *async.Task
	progress   *async.Progress

	refMu        sync.Mutex
	chunkRefs    []enrichRef
	enrichStatus EnrichmentStatus

	collectionReady bool
}

// timeNow is swapped in tests.
var timeNow = time.Now

// New creates an indexer over the given provider and store.
func New(cfg Config, provider embedprovider.EmbeddingProvider, store vectorstore.VectorStore, logger *slog.Logger) (*Indexer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CodebasePath == "" {
		return nil, fmt.Errorf("indexer: codebase path is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("indexer: collection is required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("indexer: data dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("indexer: create data dir: %w", err)
	}

	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("indexer: create scanner: %w", err)
	}

	snapStore := snapshot.New(cfg.DataDir, cfg.Collection)
	ix := &Indexer{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		store:     store,
		scanner:   sc,
		snapStore: snapStore,
		sync:      filesync.New(snapStore),
		chunkPool: chunkpool.New(cfg.ChunkWorkers, chunk.CodeChunkerOptions{MaxChunkTokens: cfg.MaxChunkTokens}),
		schema:    schema.New(store, provider.Dimensions(), logger),
		progress:  async.NewProgress(),
	}

	ix.pipe = pipeline.New(pipeline.Config{
		Collection:     cfg.Collection,
		BatchSize:      cfg.BatchSize,
		FlushTimeout:   cfg.FlushTimeout,
		MaxQueueSize:   cfg.MaxQueueSize,
		Concurrency:    cfg.Concurrency,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Hybrid:         cfg.Hybrid,
	}, provider, store, logger)
	ix.trackUpserts()

	return ix, nil
}

// ensureCollection provisions the collection and its schema once per
// indexer.
func (ix *Indexer) ensureCollection(ctx context.Context) error {
	if ix.collectionReady {
		return nil
	}
	if err := ix.store.CreateCollection(ctx, ix.cfg.Collection, ix.provider.Dimensions(), "cos", ix.cfg.Hybrid); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	if result := ix.schema.EnsureCurrentSchema(ctx, ix.cfg.Collection); !result.Success {
		return fmt.Errorf("ensure schema: %s", result.Error)
	}
	ix.collectionReady = true
	return nil
}

// SetDryRun toggles dry-run mode for subsequent runs.
func (ix *Indexer) SetDryRun(v bool) {
	ix.cfg.DryRun = v
}

// EnrichmentProgress exposes the background enrichment counters.
func (ix *Indexer) EnrichmentProgress() async.ProgressSnapshot {
	return ix.progress.Snapshot()
}

// WaitForEnrichment blocks until background enrichment finishes.
func (ix *Indexer) WaitForEnrichment(ctx context.Context) error {
	if ix.enrichment == nil {
		return nil
	}
	return ix.enrichment.Wait(ctx)
}

// Close stops background work and releases the parser pool. The store and
// provider are owned by the caller.
func (ix *Indexer) Close() error {
	if ix.enrichment != nil {
		ix.enrichment.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := ix.pipe.Shutdown(ctx)
	ix.chunkPool.Close()
	return err
}

func (ix *Indexer) checkpointPath() string {
	return filesync.CheckpointPath(ix.cfg.DataDir, ix.cfg.Collection)
}
