// Package config loads the indexer's configuration from YAML files with
// environment-variable overrides. Precedence, lowest to highest: built-in
// defaults, the user config (~/.config/tearags/config.yaml), the project
// config (.tearags.yaml), environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/artk0de/TeaRAGs-MCP-sub002/internal/errors"
)

// ProjectConfigFile is the per-project config file name.
const ProjectConfigFile = ".tearags.yaml"

// Config is the complete configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Indexing    IndexingConfig    `yaml:"indexing" json:"indexing"`
	Git         GitConfig         `yaml:"git" json:"git"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// SearchConfig configures search behavior.
type SearchConfig struct {
	// Hybrid stores and queries a sparse vector alongside the dense one.
	Hybrid bool `yaml:"hybrid" json:"hybrid"`

	// RRFConstant is the reciprocal-rank-fusion smoothing parameter.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// MaxResults caps search hits returned to the caller.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// ChunkTokens bounds chunk size for the AST chunker.
	ChunkTokens int `yaml:"chunk_tokens" json:"chunk_tokens"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the backend: "hash" (offline) or "ollama".
	Provider string `yaml:"provider" json:"provider"`

	// Model is the model name for network providers.
	Model string `yaml:"model" json:"model"`

	// BatchSize is texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// CacheSize is the LRU embedding cache size.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// PerformanceConfig configures resource usage.
type PerformanceConfig struct {
	// ChunkWorkers sizes the parser worker pool (0 = GOMAXPROCS).
	ChunkWorkers int `yaml:"chunk_workers" json:"chunk_workers"`

	// MaxFileSize is the largest file the scanner will index, in bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
}

// IndexingConfig configures the batch pipeline.
type IndexingConfig struct {
	// BatchSize is chunks per upsert batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MinBatchSize is the smallest batch the flush timer emits without
	// deferring (0 = half of BatchSize).
	MinBatchSize int `yaml:"min_batch_size" json:"min_batch_size"`

	// FlushIntervalMS is the accumulator flush timeout.
	FlushIntervalMS int `yaml:"flush_interval_ms" json:"flush_interval_ms"`

	// MaxQueueSize is the worker-queue depth that triggers backpressure.
	MaxQueueSize int `yaml:"max_queue_size" json:"max_queue_size"`

	// Concurrency is the number of in-flight upsert batches.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// MaxRetries / RetryBaseDelayMS / RetryMaxDelayMS shape batch retry.
	MaxRetries      int `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelayMS int `yaml:"retry_base_delay_ms" json:"retry_base_delay_ms"`
	RetryMaxDelayMS  int `yaml:"retry_max_delay_ms" json:"retry_max_delay_ms"`

	// DeleteBatchSize / DeleteConcurrency tune bulk path deletes.
	DeleteBatchSize   int `yaml:"delete_batch_size" json:"delete_batch_size"`
	DeleteConcurrency int `yaml:"delete_concurrency" json:"delete_concurrency"`
}

// GitConfig configures background git enrichment.
type GitConfig struct {
	// Enrichment enables blame/churn enrichment after indexing.
	Enrichment bool `yaml:"enrichment" json:"enrichment"`

	// Concurrency bounds parallel blame and commit-diff work.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// DepthLimit bounds how many recent commits feed chunk overlays.
	DepthLimit int `yaml:"depth_limit" json:"depth_limit"`

	// ChunkMaxFileLines skips chunk-level churn for files larger than
	// this many lines.
	ChunkMaxFileLines int `yaml:"chunk_max_file_lines" json:"chunk_max_file_lines"`

	// CacheDir roots the on-disk blame cache (default: <data dir>/blame).
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	Debug bool   `yaml:"debug" json:"debug"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Exclude: append([]string(nil), defaultExcludePatterns...),
		},
		Search: SearchConfig{
			Hybrid:      true,
			RRFConstant: 60,
			MaxResults:  10,
			ChunkTokens: 512,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "hash",
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
		},
		Performance: PerformanceConfig{
			MaxFileSize: 10 * 1024 * 1024,
		},
		Indexing: IndexingConfig{
			BatchSize:        100,
			FlushIntervalMS:  1000,
			MaxQueueSize:     16,
			Concurrency:      4,
			MaxRetries:       3,
			RetryBaseDelayMS: 200,
			RetryMaxDelayMS:  30000,
			DeleteBatchSize:  500,
			DeleteConcurrency: 8,
		},
		Git: GitConfig{
			Enrichment:        true,
			Concurrency:       10,
			DepthLimit:        200,
			ChunkMaxFileLines: 10000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the machine-wide config file path.
func GetUserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tearags", "config.yaml")
}

// Load builds the effective configuration for a project directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); userPath != "" && fileExists(userPath) {
		user := &Config{}
		if err := user.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("load user config: %w", err)
		}
		cfg.mergeWith(user)
	}

	projectPath := filepath.Join(dir, ProjectConfigFile)
	if fileExists(projectPath) {
		project := &Config{}
		if err := project.loadYAML(projectPath); err != nil {
			return nil, fmt.Errorf("load project config: %w", err)
		}
		cfg.mergeWith(project)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// mergeWith overlays other's non-zero fields onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.ChunkTokens != 0 {
		c.Search.ChunkTokens = other.Search.ChunkTokens
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Performance.ChunkWorkers != 0 {
		c.Performance.ChunkWorkers = other.Performance.ChunkWorkers
	}
	if other.Performance.MaxFileSize != 0 {
		c.Performance.MaxFileSize = other.Performance.MaxFileSize
	}

	if other.Indexing.BatchSize != 0 {
		c.Indexing.BatchSize = other.Indexing.BatchSize
	}
	if other.Indexing.MinBatchSize != 0 {
		c.Indexing.MinBatchSize = other.Indexing.MinBatchSize
	}
	if other.Indexing.FlushIntervalMS != 0 {
		c.Indexing.FlushIntervalMS = other.Indexing.FlushIntervalMS
	}
	if other.Indexing.MaxQueueSize != 0 {
		c.Indexing.MaxQueueSize = other.Indexing.MaxQueueSize
	}
	if other.Indexing.Concurrency != 0 {
		c.Indexing.Concurrency = other.Indexing.Concurrency
	}
	if other.Indexing.MaxRetries != 0 {
		c.Indexing.MaxRetries = other.Indexing.MaxRetries
	}
	if other.Indexing.RetryBaseDelayMS != 0 {
		c.Indexing.RetryBaseDelayMS = other.Indexing.RetryBaseDelayMS
	}
	if other.Indexing.RetryMaxDelayMS != 0 {
		c.Indexing.RetryMaxDelayMS = other.Indexing.RetryMaxDelayMS
	}
	if other.Indexing.DeleteBatchSize != 0 {
		c.Indexing.DeleteBatchSize = other.Indexing.DeleteBatchSize
	}
	if other.Indexing.DeleteConcurrency != 0 {
		c.Indexing.DeleteConcurrency = other.Indexing.DeleteConcurrency
	}

	if other.Git.Concurrency != 0 {
		c.Git.Concurrency = other.Git.Concurrency
	}
	if other.Git.DepthLimit != 0 {
		c.Git.DepthLimit = other.Git.DepthLimit
	}
	if other.Git.ChunkMaxFileLines != 0 {
		c.Git.ChunkMaxFileLines = other.Git.ChunkMaxFileLines
	}
	if other.Git.CacheDir != "" {
		c.Git.CacheDir = other.Git.CacheDir
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Debug {
		c.Logging.Debug = true
	}
}

// applyEnvOverrides applies environment-variable overrides. The QDRANT_*,
// CODE_*, GIT_*, and DEBUG names are the recognized tuning knobs; TEARAGS_*
// names override the embedding and logging settings.
func (c *Config) applyEnvOverrides() {
	if v := envInt("QDRANT_UPSERT_BATCH_SIZE"); v > 0 {
		c.Indexing.BatchSize = v
	}
	if v := envInt("CODE_BATCH_SIZE"); v > 0 {
		c.Indexing.BatchSize = v
	}
	if v := envInt("QDRANT_FLUSH_INTERVAL_MS"); v > 0 {
		c.Indexing.FlushIntervalMS = v
	}
	if v := envInt("QDRANT_DELETE_BATCH_SIZE"); v > 0 {
		c.Indexing.DeleteBatchSize = v
	}
	if v := envInt("QDRANT_DELETE_CONCURRENCY"); v > 0 {
		c.Indexing.DeleteConcurrency = v
	}
	if v := envInt("GIT_ENRICHMENT_CONCURRENCY"); v > 0 {
		c.Git.Concurrency = v
	}
	if v := envInt("GIT_CHUNK_MAX_FILE_LINES"); v > 0 {
		c.Git.ChunkMaxFileLines = v
	}
	if v := os.Getenv("DEBUG"); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		c.Logging.Debug = true
		c.Logging.Level = "debug"
	}

	if v := os.Getenv("TEARAGS_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("TEARAGS_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("TEARAGS_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("TEARAGS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "", "hash", "ollama":
	default:
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embeddings provider %q", c.Embeddings.Provider), nil).
			WithSuggestion("Use \"hash\" or \"ollama\"")
	}
	if c.Indexing.BatchSize < 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "indexing.batch_size must be >= 0", nil)
	}
	if c.Indexing.Concurrency < 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "indexing.concurrency must be >= 0", nil)
	}
	if c.Git.Concurrency < 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "git.concurrency must be >= 0", nil)
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ProjectType identifies a project's primary ecosystem.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// DetectProjectType detects the project type from marker files.
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

// FindProjectRoot walks up from startDir looking for a .git directory or a
// project config file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", startDir, err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) || fileExists(filepath.Join(current, ProjectConfigFile)) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
