package vectorstore

import (
	"fmt"
	"hash/fnv"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// sparseIndex is the keyword side of a LocalStore collection, backed by a
// Bleve index over point content. It serves the sparse prefetch of hybrid
// search.
type sparseIndex struct {
	index bleve.Index
	path  string
}

// sparseDocument is what Bleve indexes per point.
type sparseDocument struct {
	Content string `json:"content"`
}

// openSparseIndex opens or creates the Bleve index at path. An empty path
// builds an in-memory index.
func openSparseIndex(path string) (*sparseIndex, error) {
	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, bleve.NewIndexMapping())
		} else if err != nil {
			// A damaged keyword index is rebuilt on the next full index
			// rather than failing the collection open.
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("sparse index corrupt at %s and cannot remove: %w", path, removeErr)
			}
			idx, err = bleve.New(path, bleve.NewIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open sparse index: %w", err)
	}
	return &sparseIndex{index: idx, path: path}, nil
}

func (s *sparseIndex) upsert(id, content string) error {
	return s.index.Index(id, sparseDocument{Content: content})
}

func (s *sparseIndex) delete(ids []string) error {
	b := s.index.NewBatch()
	for _, id := range ids {
		b.Delete(id)
	}
	return s.index.Batch(b)
}

// search runs a match query over the indexed content and returns ranked
// hits with Bleve scores.
func (s *sparseIndex) search(text string, limit int) ([]ScoredPoint, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var q query.Query = bleve.NewMatchQuery(text)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	hits := make([]ScoredPoint, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, ScoredPoint{ID: hit.ID, Score: float32(hit.Score)})
	}
	return hits, nil
}

func (s *sparseIndex) close() error {
	return s.index.Close()
}

// sparseTokenRe matches identifier-ish tokens for sparse encoding.
var sparseTokenRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// EncodeSparse converts text into a hashed term-frequency sparse vector.
// The Text field keeps the original so keyword backends can index terms
// directly; Indices/Values serve stores with native sparse vectors.
func EncodeSparse(text string) *SparseVector {
	counts := make(map[uint32]float32)
	for _, tok := range sparseTokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(tok) < 2 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		counts[h.Sum32()]++
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = counts[idx]
	}
	return &SparseVector{Indices: indices, Values: values, Text: text}
}
