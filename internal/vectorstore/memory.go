package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a map-backed VectorStore for tests and dry runs. Search is
// a brute-force cosine scan; the sparse side is a token-overlap score over
// the point's sparse text.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	vectorSize int
	sparse     bool
	points     map[string]*memPoint
	indexes    map[string]IndexSchema
}

type memPoint struct {
	dense      []float32
	sparseText string
	payload    map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

var _ VectorStore = (*MemoryStore)(nil)

func (s *MemoryStore) CreateCollection(ctx context.Context, name string, vectorSize int, distance string, enableSparse bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil
	}
	s.collections[name] = &memCollection{
		vectorSize: vectorSize,
		sparse:     enableSparse,
		points:     make(map[string]*memPoint),
		indexes:    make(map[string]IndexSchema),
	}
	return nil
}

func (s *MemoryStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *MemoryStore) get(name string) (*memCollection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (s *MemoryStore) EnsurePayloadIndex(ctx context.Context, collection, field string, schema IndexSchema) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(collection)
	if err != nil {
		return false, err
	}
	if _, ok := c.indexes[field]; ok {
		return false, nil
	}
	c.indexes[field] = schema
	return true, nil
}

func (s *MemoryStore) ListPayloadIndexes(ctx context.Context, collection string) ([]PayloadIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(collection)
	if err != nil {
		return nil, err
	}
	out := make([]PayloadIndex, 0, len(c.indexes))
	for field, schema := range c.indexes {
		out = append(out, PayloadIndex{Field: field, Schema: schema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out, nil
}

func (s *MemoryStore) AddPoints(ctx context.Context, collection string, points []Point, opts WriteOptions) error {
	return s.upsert(collection, points)
}

func (s *MemoryStore) AddPointsWithSparse(ctx context.Context, collection string, points []Point, opts WriteOptions) error {
	return s.upsert(collection, points)
}

func (s *MemoryStore) upsert(collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		if c.vectorSize > 0 && len(p.Dense) != c.vectorSize {
			return ErrDimensionMismatch{Expected: c.vectorSize, Got: len(p.Dense)}
		}
		mp := &memPoint{dense: p.Dense, payload: clonePayload(p.Payload)}
		if p.Sparse != nil {
			mp.sparseText = p.Sparse.Text
		}
		c.points[p.ID] = mp
	}
	return nil
}

func (s *MemoryStore) GetPoint(ctx context.Context, collection, id string) (*Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(collection)
	if err != nil {
		return nil, err
	}
	p, ok := c.points[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPointNotFound, id)
	}
	return &Point{ID: id, Payload: clonePayload(p.payload)}, nil
}

func (s *MemoryStore) CountPoints(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(collection)
	if err != nil {
		return 0, err
	}
	return len(c.points), nil
}

func (s *MemoryStore) Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(collection)
	if err != nil {
		return nil, err
	}
	var hits []ScoredPoint
	for id, p := range c.points {
		if !matchesFilter(p.payload, filter) {
			continue
		}
		hits = append(hits, ScoredPoint{ID: id, Score: cosine(vector, p.dense), Payload: clonePayload(p.payload)})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MemoryStore) HybridSearch(ctx context.Context, collection string, dense []float32, sparse *SparseVector, k int, filter *Filter) ([]ScoredPoint, error) {
	denseHits, err := s.Search(ctx, collection, dense, prefetchLimit(k), filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	c, err := s.get(collection)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	var sparseHits []ScoredPoint
	if sparse != nil {
		queryTokens := tokenSet(sparse.Text)
		for id, p := range c.points {
			if !matchesFilter(p.payload, filter) {
				continue
			}
			score := overlapScore(queryTokens, tokenSet(p.sparseText))
			if score > 0 {
				sparseHits = append(sparseHits, ScoredPoint{ID: id, Score: score, Payload: clonePayload(p.payload)})
			}
		}
	}
	s.mu.RUnlock()

	sortHits(sparseHits)
	if len(sparseHits) > prefetchLimit(k) {
		sparseHits = sparseHits[:prefetchLimit(k)]
	}
	return rrfFuse(denseHits, sparseHits, k), nil
}

func (s *MemoryStore) SetPayload(ctx context.Context, collection string, payload map[string]any, sel PointSelector, opts WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(collection)
	if err != nil {
		return err
	}
	for _, id := range sel.IDs {
		if p, ok := c.points[id]; ok {
			p.payload = mergePayload(p.payload, payload)
		}
	}
	if sel.Filter != nil {
		for _, p := range c.points {
			if matchesFilter(p.payload, sel.Filter) {
				p.payload = mergePayload(p.payload, payload)
			}
		}
	}
	return nil
}

func (s *MemoryStore) BatchSetPayload(ctx context.Context, collection string, ops []PayloadOp, opts WriteOptions) error {
	for _, op := range ops {
		if err := s.SetPayload(ctx, collection, op.Payload, PointSelector{IDs: op.Points}, opts); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) DeletePointsByPaths(ctx context.Context, collection string, paths []string, opts WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(collection)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	for id, p := range c.points {
		if rel, _ := p.payload["relativePath"].(string); want[rel] {
			delete(c.points, id)
		}
	}
	return nil
}

func (s *MemoryStore) DeletePointsByPathsBatched(ctx context.Context, collection string, paths []string, cfg DeleteBatchConfig) error {
	return s.DeletePointsByPaths(ctx, collection, paths, WriteOptions{Wait: true})
}

func (s *MemoryStore) Close() error { return nil }

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func sortHits(hits []ScoredPoint) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range sparseTokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(tok) >= 2 {
			set[tok] = true
		}
	}
	return set
}

func overlapScore(query, doc map[string]bool) float32 {
	if len(query) == 0 {
		return 0
	}
	var hits int
	for tok := range query {
		if doc[tok] {
			hits++
		}
	}
	return float32(hits) / float32(len(query))
}
