package reranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(score float32, payload map[string]any) Result {
	return Result{Score: score, Payload: payload}
}

func gitPayload(fields map[string]any) map[string]any {
	return map[string]any{"git": fields}
}

func TestRelevancePresetReturnsUnchanged(t *testing.T) {
	results := []Result{
		result(0.5, gitPayload(map[string]any{"ageDays": float64(300)})),
		result(0.9, gitPayload(map[string]any{"ageDays": float64(1)})),
	}
	out, err := Rerank(results, Mode{Preset: "relevance"})
	require.NoError(t, err)
	// Similarity-only short-circuits: no resorting even though the second
	// result scores higher.
	assert.Equal(t, results, out)
}

func TestRecentPresetPrefersYounger(t *testing.T) {
	old := result(0.8, gitPayload(map[string]any{"ageDays": float64(300)}))
	young := result(0.8, gitPayload(map[string]any{"ageDays": float64(10)}))

	out, err := Rerank([]Result{old, young}, Mode{Preset: "recent"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, float64(10), out[0].Payload["git"].(map[string]any)["ageDays"])
}

func TestStablePresetPrefersFewerCommits(t *testing.T) {
	churned := result(0.8, gitPayload(map[string]any{"commitCount": float64(45)}))
	stable := result(0.8, gitPayload(map[string]any{"commitCount": float64(2)}))

	out, err := Rerank([]Result{churned, stable}, Mode{Preset: "stable"})
	require.NoError(t, err)
	assert.Equal(t, float64(2), out[0].Payload["git"].(map[string]any)["commitCount"])
}

func TestBlockPenaltyAppliesWithoutChunkData(t *testing.T) {
	block := result(0.8, map[string]any{"chunkType": "block"})
	enriched := map[string]any{"chunkType": "block"}
	enriched["git"] = map[string]any{"chunkCommitCount": float64(3)}
	blockWithGit := result(0.8, enriched)
	function := result(0.8, map[string]any{"chunkType": "function"})

	out, err := Rerank([]Result{block, blockWithGit, function}, Mode{Preset: "techDebt"})
	require.NoError(t, err)
	// The bare block ranks last under a negative blockPenalty weight.
	assert.Equal(t, "block", out[2].Payload["chunkType"].(string))
	assert.Nil(t, out[2].Payload["git"])
}

func TestCustomWeights(t *testing.T) {
	noDocs := result(0.9, map[string]any{})
	docs := result(0.5, map[string]any{"isDocumentation": true})

	out, err := Rerank([]Result{noDocs, docs}, Mode{Custom: Weights{"documentation": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, true, out[0].Payload["isDocumentation"])
}

func TestCustomWeightsValidation(t *testing.T) {
	_, err := Rerank(nil, Mode{Custom: Weights{"nonsense": 1.0}})
	assert.Error(t, err)

	assert.NoError(t, ValidateWeights(Weights{"similarity": 0.5, "pathRisk": 0.5}))
	assert.Error(t, ValidateWeights(Weights{"simularity": 0.5}))
}

func TestUnknownPreset(t *testing.T) {
	_, err := Rerank(nil, Mode{Preset: "nope"})
	assert.Error(t, err)
}

func TestSecurityAuditPathRisk(t *testing.T) {
	plain := result(0.7, map[string]any{"relativePath": "pkg/render/table.go"})
	risky := result(0.7, map[string]any{"relativePath": "internal/auth/token.go"})

	out, err := Rerank([]Result{plain, risky}, Mode{Preset: "securityAudit"})
	require.NoError(t, err)
	assert.Equal(t, "internal/auth/token.go", out[0].Payload["relativePath"])
}

func TestOwnershipSignalFallback(t *testing.T) {
	withPct := computeSignals(result(0, gitPayload(map[string]any{"dominantAuthorPct": float64(80)})))
	assert.InDelta(t, 0.8, withPct["ownership"], 1e-9)

	withAuthors := computeSignals(result(0, gitPayload(map[string]any{"authors": []any{"a", "b", "c", "d"}})))
	assert.InDelta(t, 0.25, withAuthors["ownership"], 1e-9)

	empty := computeSignals(result(0, map[string]any{}))
	assert.Equal(t, float64(0), empty["ownership"])
}

func TestKnowledgeSiloSignal(t *testing.T) {
	one := computeSignals(result(0, gitPayload(map[string]any{"contributorCount": float64(1)})))
	two := computeSignals(result(0, gitPayload(map[string]any{"contributorCount": float64(2)})))
	many := computeSignals(result(0, gitPayload(map[string]any{"contributorCount": float64(5)})))

	assert.Equal(t, float64(1), one["knowledgeSilo"])
	assert.Equal(t, 0.5, two["knowledgeSilo"])
	assert.Equal(t, float64(0), many["knowledgeSilo"])
}

func TestSignalNormalizationClamps(t *testing.T) {
	signals := computeSignals(result(0, gitPayload(map[string]any{
		"ageDays":       float64(5000),
		"commitCount":   float64(500),
		"relativeChurn": float64(50),
	})))
	assert.Equal(t, float64(1), signals["age"])
	assert.Equal(t, float64(0), signals["recency"])
	assert.Equal(t, float64(1), signals["churn"])
	assert.Equal(t, float64(0), signals["stability"])
	assert.Equal(t, float64(1), signals["relativeChurnNorm"])
}

func TestChunkLevelFieldsPreferred(t *testing.T) {
	signals := computeSignals(result(0, gitPayload(map[string]any{
		"ageDays":      float64(300),
		"chunkAgeDays": float64(10),
		"bugFixRate":   float64(80),
		"chunkBugFixRate": float64(20),
	})))
	assert.InDelta(t, 10.0/365, signals["age"], 1e-9)
	assert.InDelta(t, 0.2, signals["bugFix"], 1e-9)
}

func TestAllPresetsUseKnownSignals(t *testing.T) {
	for name, weights := range Presets {
		assert.NoError(t, ValidateWeights(weights), "preset %s", name)
	}
}
