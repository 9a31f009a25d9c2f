package embedprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/artk0de/TeaRAGs-MCP-sub002/internal/errors"
)

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	// Host is the Ollama base URL, e.g. "http://localhost:11434".
	Host string

	// Model is the embedding model name, e.g. "nomic-embed-text".
	Model string

	// Timeout bounds a single HTTP request (DefaultRequestTimeout if zero).
	Timeout time.Duration

	// MaxRetries retries transient request failures.
	MaxRetries int
}

// OllamaProvider generates embeddings via the Ollama /api/embed endpoint.
type OllamaProvider struct {
	cfg        OllamaConfig
	client     *http.Client
	dimensions int
}

var _ EmbeddingProvider = (*OllamaProvider)(nil)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// NewOllamaProvider creates a provider and probes the model once to detect
// its dimensionality.
func NewOllamaProvider(ctx context.Context, cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	p := &OllamaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}

	probe, err := p.EmbedBatch(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, fmt.Errorf("probe ollama model %q: %w", cfg.Model, err)
	}
	if len(probe) == 0 || len(probe[0]) == 0 {
		return nil, fmt.Errorf("ollama model %q returned an empty embedding", cfg.Model)
	}
	p.dimensions = len(probe[0])
	return p, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds max %d", len(texts), MaxBatchSize)
	}

	retryCfg := apperrors.RetryConfig{
		MaxRetries:   p.cfg.MaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	return apperrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
		return p.doEmbed(ctx, texts)
	})
}

func (p *OllamaProvider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeNetwork, "ollama request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return nil, apperrors.New(apperrors.ErrCodeEmbedding, "ollama rejected batch: "+parsed.Error, nil)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(parsed.Embeddings), len(texts))
	}

	for i, vec := range parsed.Embeddings {
		parsed.Embeddings[i] = normalizeVector(vec)
		if p.dimensions > 0 && len(vec) != p.dimensions {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(vec), p.dimensions)
		}
	}
	return parsed.Embeddings, nil
}

func (p *OllamaProvider) Dimensions() int   { return p.dimensions }
func (p *OllamaProvider) ModelName() string { return p.cfg.Model }

// Available checks the Ollama root endpoint with a short timeout.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Host+"/", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *OllamaProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
