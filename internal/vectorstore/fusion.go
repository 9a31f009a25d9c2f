package vectorstore

import "sort"

// rrfConstant dampens the influence of top ranks in reciprocal rank fusion.
// 60 is the standard value from the RRF paper.
const rrfConstant = 60

// prefetchLimit is how many candidates each side of a hybrid search
// retrieves before fusion.
func prefetchLimit(k int) int {
	if l := 4 * k; l > 20 {
		return l
	}
	return 20
}

// rrfFuse combines a dense and a sparse result list by summing 1/(c+rank)
// per point across the lists, and returns the top k by fused score. Payloads
// are taken from whichever list saw the point first.
func rrfFuse(dense, sparse []ScoredPoint, k int) []ScoredPoint {
	type fused struct {
		point ScoredPoint
		score float32
	}
	byID := make(map[string]*fused, len(dense)+len(sparse))

	accumulate := func(list []ScoredPoint) {
		for rank, p := range list {
			contribution := float32(1.0) / float32(rrfConstant+rank+1)
			if f, ok := byID[p.ID]; ok {
				f.score += contribution
				continue
			}
			byID[p.ID] = &fused{point: p, score: contribution}
		}
	}
	accumulate(dense)
	accumulate(sparse)

	results := make([]ScoredPoint, 0, len(byID))
	for _, f := range byID {
		p := f.point
		p.Score = f.score
		results = append(results, p)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
