package embedprovider

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// HashProvider generates embeddings by hashing identifier tokens and
// character trigrams into a fixed-size vector. It needs no network or model
// download and is fully deterministic, at the cost of semantic quality.
type HashProvider struct {
	mu     sync.RWMutex
	closed bool
}

var _ EmbeddingProvider = (*HashProvider)(nil)

// codeStopWords are language keywords too common to carry signal.
var codeStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

const (
	tokenWeight   = 0.7
	trigramWeight = 0.3
	trigramSize   = 3
)

var wordRe = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewHashProvider creates a hash-based provider.
func NewHashProvider() *HashProvider {
	return &HashProvider{}
}

func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("hash provider is closed")
	}
	p.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, HashDimensions), nil
	}
	return normalizeVector(p.vectorFor(trimmed)), nil
}

func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = vec
	}
	return results, nil
}

func (p *HashProvider) Dimensions() int   { return HashDimensions }
func (p *HashProvider) ModelName() string { return "hash" }

func (p *HashProvider) Available(_ context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

func (p *HashProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// vectorFor buckets split identifier tokens (weight 0.7) and character
// trigrams (weight 0.3) into the vector by FNV-64 hash.
func (p *HashProvider) vectorFor(text string) []float32 {
	vector := make([]float32, HashDimensions)

	for _, token := range splitTokens(text) {
		if codeStopWords[token] {
			continue
		}
		vector[bucket(token)] += tokenWeight
	}

	flat := flattenForTrigrams(text)
	for i := 0; i+trigramSize <= len(flat); i++ {
		vector[bucket(flat[i:i+trigramSize])] += trigramWeight
	}

	return vector
}

// splitTokens breaks text into lowercase tokens, splitting snake_case and
// camelCase identifiers into their parts.
func splitTokens(text string) []string {
	var tokens []string
	for _, word := range wordRe.FindAllString(text, -1) {
		for _, part := range strings.Split(word, "_") {
			for _, sub := range splitCamel(part) {
				if sub != "" {
					tokens = append(tokens, strings.ToLower(sub))
				}
			}
		}
	}
	return tokens
}

// splitCamel splits camelCase and handles acronym runs (HTTPServer ->
// HTTP, Server).
func splitCamel(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func flattenForTrigrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func bucket(s string) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(HashDimensions))
}
