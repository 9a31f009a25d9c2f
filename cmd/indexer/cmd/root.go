// Package cmd implements the indexer CLI commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/config"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/embedprovider"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/indexer"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/logging"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/vectorstore"
	"github.com/artk0de/TeaRAGs-MCP-sub002/pkg/version"
)

var (
	flagPath       string
	flagCollection string
	flagDataDir    string
	flagDebug      bool
)

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Semantic code indexing engine",
	Long: `indexer turns a source repository into a searchable semantic index:
it discovers files, chunks them along AST boundaries, embeds each chunk,
and stores chunk text, vectors, and git-derived metadata in a local
vector store. Re-runs are incremental.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagPath, "path", "p", ".", "codebase root to index")
	rootCmd.PersistentFlags().StringVarP(&flagCollection, "collection", "c", "code", "collection name")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.tearags/<project>)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

// environment wires everything a command needs from the shared flags.
type environment struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
	ix      *indexer.Indexer
	store   *vectorstore.LocalStore
}

func (e *environment) Close() {
	if e.ix != nil {
		e.ix.Close() //nolint:errcheck
	}
	if e.store != nil {
		e.store.Close() //nolint:errcheck
	}
	if e.cleanup != nil {
		e.cleanup()
	}
}

// setup loads configuration and constructs the provider, store, and
// indexer façade.
func setup(ctx context.Context) (*environment, error) {
	root, err := config.FindProjectRoot(flagPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if flagDebug || cfg.Logging.Debug {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}

	dataDir := flagDataDir
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			cleanup()
			return nil, err
		}
		dataDir = filepath.Join(home, ".tearags", filepath.Base(root))
	}

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, err
	}

	store, err := vectorstore.NewLocalStore(filepath.Join(dataDir, "store"), logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	ix, err := indexer.New(indexer.Config{
		CodebasePath:         root,
		Collection:           flagCollection,
		DataDir:              dataDir,
		Hybrid:               cfg.Search.Hybrid,
		ChunkWorkers:         cfg.Performance.ChunkWorkers,
		MaxChunkTokens:       cfg.Search.ChunkTokens,
		ExcludePatterns:      cfg.Paths.Exclude,
		BatchSize:            cfg.Indexing.BatchSize,
		FlushTimeout:         msDuration(cfg.Indexing.FlushIntervalMS),
		MaxQueueSize:         cfg.Indexing.MaxQueueSize,
		Concurrency:          cfg.Indexing.Concurrency,
		MaxRetries:           cfg.Indexing.MaxRetries,
		RetryBaseDelay:       msDuration(cfg.Indexing.RetryBaseDelayMS),
		RetryMaxDelay:        msDuration(cfg.Indexing.RetryMaxDelayMS),
		DeleteBatchSize:      cfg.Indexing.DeleteBatchSize,
		DeleteConcurrency:    cfg.Indexing.DeleteConcurrency,
		GitEnrichment:        cfg.Git.Enrichment,
		GitCacheDir:          gitCacheDir(cfg, dataDir),
		GitConcurrency:       cfg.Git.Concurrency,
		GitDepthLimit:        cfg.Git.DepthLimit,
		GitChunkMaxFileLines: cfg.Git.ChunkMaxFileLines,
	}, provider, store, logger)
	if err != nil {
		store.Close() //nolint:errcheck
		cleanup()
		return nil, err
	}

	return &environment{cfg: cfg, logger: logger, cleanup: cleanup, ix: ix, store: store}, nil
}

func buildProvider(ctx context.Context, cfg *config.Config) (embedprovider.EmbeddingProvider, error) {
	var inner embedprovider.EmbeddingProvider
	switch cfg.Embeddings.Provider {
	case "", "hash":
		inner = embedprovider.NewHashProvider()
	case "ollama":
		p, err := embedprovider.NewOllamaProvider(ctx, embedprovider.OllamaConfig{
			Host:  cfg.Embeddings.OllamaHost,
			Model: cfg.Embeddings.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama provider: %w", err)
		}
		inner = p
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}
	return embedprovider.NewCachedProvider(inner, cfg.Embeddings.CacheSize), nil
}

func gitCacheDir(cfg *config.Config, dataDir string) string {
	if cfg.Git.CacheDir != "" {
		return cfg.Git.CacheDir
	}
	return filepath.Join(dataDir, "blame")
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
