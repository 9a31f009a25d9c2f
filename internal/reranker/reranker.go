// Package reranker reshapes search results for analytics queries by
// combining the raw similarity score with normalized git-derived signals
// under named preset (or caller-supplied) weight sets.
package reranker

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Normalization bounds. Values at or beyond a bound clamp to 1.
const (
	maxAgeDays         = 365
	maxCommitCount     = 50
	maxBugFixRate      = 100
	maxVolatility      = 60
	maxChangeDensity   = 20
	maxChunkCommits    = 30
	maxRelativeChurn   = 5.0
	maxBurstActivity   = 10.0
	maxChunkSpanLines  = 500
	maxImportCount     = 20
)

// riskPathTerms flag security-sensitive paths.
var riskPathTerms = []string{
	"auth", "security", "crypto", "password", "secret",
	"token", "credential", "permission", "access",
}

// Result is one search hit entering the reranker.
type Result struct {
	Score   float32
	Payload map[string]any
}

// Weights maps signal names to weights. Negative weights penalize.
type Weights map[string]float64

// Mode selects a preset by name or a custom weight set. Custom wins when
// both are set.
type Mode struct {
	Preset string
	Custom Weights
}

// signalNames is the closed set of supported signals.
var signalNames = map[string]bool{
	"similarity": true, "age": true, "recency": true, "stability": true,
	"churn": true, "ownership": true, "chunkSize": true, "documentation": true,
	"imports": true, "pathRisk": true, "bugFix": true, "volatility": true,
	"density": true, "chunkChurn": true, "relativeChurnNorm": true,
	"burstActivity": true, "chunkRelativeChurn": true, "knowledgeSilo": true,
	"blockPenalty": true,
}

// ValidateWeights rejects unknown signal names so a bad custom weight map
// fails fast instead of silently scoring zero.
func ValidateWeights(w Weights) error {
	for name := range w {
		if !signalNames[name] {
			return fmt.Errorf("reranker: unknown signal %q", name)
		}
	}
	return nil
}

// Rerank scores results under the mode's weights and sorts descending.
// When similarity is the only active weight the input order is already
// correct and is returned untouched.
func Rerank(results []Result, mode Mode) ([]Result, error) {
	weights := mode.Custom
	if weights == nil {
		preset, ok := Presets[mode.Preset]
		if !ok {
			return nil, fmt.Errorf("reranker: unknown preset %q", mode.Preset)
		}
		weights = preset
	} else if err := ValidateWeights(weights); err != nil {
		return nil, err
	}

	if similarityOnly(weights) {
		return results, nil
	}

	var totalWeight float64
	for _, w := range weights {
		totalWeight += math.Abs(w)
	}
	if totalWeight == 0 {
		return results, nil
	}

	type scored struct {
		result Result
		score  float64
	}
	ranked := make([]scored, len(results))
	for i, r := range results {
		signals := computeSignals(r)
		var score float64
		for name, w := range weights {
			score += w * signals[name]
		}
		ranked[i] = scored{result: r, score: score / totalWeight}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	reranked := make([]Result, len(ranked))
	for i, s := range ranked {
		reranked[i] = s.result
	}
	return reranked, nil
}

func similarityOnly(w Weights) bool {
	for name, weight := range w {
		if name != "similarity" && weight != 0 {
			return false
		}
	}
	return true
}

// computeSignals derives the full normalized signal vector for one result.
// Chunk-level git fields are preferred over file-level ones when present.
func computeSignals(r Result) map[string]float64 {
	p := r.Payload
	git, _ := p["git"].(map[string]any)

	age := firstFloat(git, "chunkAgeDays", "ageDays")
	commitCount := fileCommitCount(git)
	chunkCommits, hasChunkCommits := getFloat(git, "chunkCommitCount")

	signals := map[string]float64{
		"similarity":         float64(r.Score),
		"age":                normalize(age, maxAgeDays),
		"recency":            1 - normalize(age, maxAgeDays),
		"stability":          1 - normalize(commitCount, maxCommitCount),
		"churn":              normalize(commitCount, maxCommitCount),
		"ownership":          ownershipSignal(git),
		"chunkSize":          normalize(lineSpan(p), maxChunkSpanLines),
		"documentation":      boolSignal(p, "isDocumentation"),
		"imports":            normalize(importCount(p), maxImportCount),
		"pathRisk":           pathRiskSignal(p),
		"bugFix":             normalize(firstFloat(git, "chunkBugFixRate", "bugFixRate"), maxBugFixRate),
		"volatility":         normalize(firstFloat(git, "churnVolatility"), maxVolatility),
		"density":            normalize(firstFloat(git, "changeDensity"), maxChangeDensity),
		"chunkChurn":         normalize(chunkCommits, maxChunkCommits),
		"relativeChurnNorm":  normalize(firstFloat(git, "relativeChurn"), maxRelativeChurn),
		"chunkRelativeChurn": clamp01(firstFloat(git, "chunkChurnRatio")),
		"burstActivity":      normalize(firstFloat(git, "recencyWeightedFreq"), maxBurstActivity),
		"knowledgeSilo":      knowledgeSiloSignal(git),
	}

	chunkType, _ := p["chunkType"].(string)
	if chunkType == "block" && !hasChunkCommits {
		signals["blockPenalty"] = 1
	} else {
		signals["blockPenalty"] = 0
	}
	return signals
}

func normalize(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return clamp01(v / max)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// getFloat reads a numeric field, tolerating the types a JSON round trip
// can produce.
func getFloat(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	}
	return 0, false
}

// pickFloat returns the first present key's value.
func pickFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := getFloat(m, key); ok {
			return v, true
		}
	}
	return 0, false
}

func firstFloat(m map[string]any, keys ...string) float64 {
	v, _ := pickFloat(m, keys...)
	return v
}

func fileCommitCount(git map[string]any) float64 {
	if git == nil {
		return 0
	}
	if commits, ok := git["commits"].([]any); ok {
		return float64(len(commits))
	}
	if commits, ok := git["commits"].([]string); ok {
		return float64(len(commits))
	}
	return firstFloat(git, "commitCount")
}

// ownershipSignal is dominantAuthorPct/100 when recorded, else an even
// split across the known authors.
func ownershipSignal(git map[string]any) float64 {
	if pct, ok := getFloat(git, "dominantAuthorPct"); ok && pct > 0 {
		return clamp01(pct / 100)
	}
	n := authorCount(git)
	if n == 0 {
		return 0
	}
	return 1 / float64(n)
}

func authorCount(git map[string]any) int {
	if git == nil {
		return 0
	}
	if authors, ok := git["authors"].([]any); ok {
		return len(authors)
	}
	if authors, ok := git["authors"].([]string); ok {
		return len(authors)
	}
	return 0
}

// knowledgeSiloSignal is 1 for single-contributor code, 0.5 for two
// contributors, 0 otherwise.
func knowledgeSiloSignal(git map[string]any) float64 {
	n, ok := pickFloat(git, "chunkContributorCount", "contributorCount")
	if !ok {
		return 0
	}
	switch {
	case n <= 0:
		return 0
	case n == 1:
		return 1
	case n == 2:
		return 0.5
	default:
		return 0
	}
}

func lineSpan(p map[string]any) float64 {
	start, _ := getFloat(p, "startLine")
	end, _ := getFloat(p, "endLine")
	if end < start {
		return 0
	}
	return end - start
}

func importCount(p map[string]any) float64 {
	if imports, ok := p["imports"].([]any); ok {
		return float64(len(imports))
	}
	if imports, ok := p["imports"].([]string); ok {
		return float64(len(imports))
	}
	return 0
}

func boolSignal(p map[string]any, key string) float64 {
	if v, ok := p[key].(bool); ok && v {
		return 1
	}
	return 0
}

func pathRiskSignal(p map[string]any) float64 {
	path, _ := p["relativePath"].(string)
	lower := strings.ToLower(path)
	for _, term := range riskPathTerms {
		if strings.Contains(lower, term) {
			return 1
		}
	}
	return 0
}
