package reranker

// Presets are the named weight sets. Each is tuned for one analytics
// question: where is the tech debt, what is hot right now, what should a
// new contributor read first, and so on.
var Presets = map[string]Weights{
	"relevance": {
		"similarity": 1.0,
	},
	"techDebt": {
		"similarity":   0.25,
		"age":          0.20,
		"churn":        0.20,
		"bugFix":       0.15,
		"volatility":   0.20,
		"blockPenalty": -0.15,
	},
	"hotspots": {
		"similarity":         0.25,
		"chunkChurn":         0.15,
		"chunkRelativeChurn": 0.15,
		"burstActivity":      0.15,
		"bugFix":             0.15,
		"volatility":         0.15,
		"blockPenalty":       -0.15,
	},
	"codeReview": {
		"similarity":    0.35,
		"recency":       0.15,
		"burstActivity": 0.15,
		"density":       0.15,
		"chunkChurn":    0.20,
		"blockPenalty":  -0.10,
	},
	"onboarding": {
		"similarity":    0.40,
		"documentation": 0.30,
		"stability":     0.30,
	},
	"securityAudit": {
		"similarity": 0.30,
		"age":        0.15,
		"ownership":  0.10,
		"bugFix":     0.15,
		"pathRisk":   0.15,
		"volatility": 0.15,
	},
	"refactoring": {
		"similarity":        0.20,
		"chunkChurn":        0.15,
		"relativeChurnNorm": 0.15,
		"chunkSize":         0.15,
		"volatility":        0.15,
		"bugFix":            0.10,
		"age":               0.10,
		"blockPenalty":      -0.10,
	},
	"ownership": {
		"similarity":    0.40,
		"ownership":     0.35,
		"knowledgeSilo": 0.25,
	},
	"impactAnalysis": {
		"similarity": 0.50,
		"imports":    0.50,
	},
	"recent": {
		"similarity": 0.70,
		"recency":    0.30,
	},
	"stable": {
		"similarity": 0.70,
		"stability":  0.30,
	},
}
