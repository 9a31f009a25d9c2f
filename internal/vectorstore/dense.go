package vectorstore

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// denseIndex is the dense k-NN side of a LocalStore collection: a pure-Go
// HNSW graph keyed by uint64, with a string<->uint64 ID mapping persisted as
// a gob sidecar. Deletions are lazy (the mapping entry is dropped, the graph
// node is orphaned) because removing the final graph node corrupts the
// coder/hnsw structure.
type denseIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int
	metric     string

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// denseMetadata is the persisted sidecar.
type denseMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
	Metric     string
}

func newDenseIndex(dimensions int, metric string) *denseIndex {
	if metric == "" {
		metric = "cos"
	}
	graph := hnsw.NewGraph[uint64]()
	switch metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return &denseIndex{
		graph:      graph,
		dimensions: dimensions,
		metric:     metric,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
}

func (d *denseIndex) add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, v := range vectors {
		if len(v) != d.dimensions {
			return ErrDimensionMismatch{Expected: d.dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existing, ok := d.idMap[id]; ok {
			delete(d.keyMap, existing)
			delete(d.idMap, id)
		}
		key := d.nextKey
		d.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if d.metric == "cos" {
			normalizeInPlace(vec)
		}
		d.graph.Add(hnsw.MakeNode(key, vec))
		d.idMap[id] = key
		d.keyMap[key] = id
	}
	return nil
}

// search returns up to k live neighbors. Because lazily deleted nodes still
// occupy the graph, it over-fetches and filters through the ID mapping.
func (d *denseIndex) search(query []float32, k int) ([]ScoredPoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(query) != d.dimensions {
		return nil, ErrDimensionMismatch{Expected: d.dimensions, Got: len(query)}
	}
	if d.graph.Len() == 0 {
		return []ScoredPoint{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if d.metric == "cos" {
		normalizeInPlace(normalized)
	}

	fetch := k + (d.graph.Len() - len(d.idMap))
	nodes := d.graph.Search(normalized, fetch)

	results := make([]ScoredPoint, 0, k)
	for _, node := range nodes {
		id, live := d.keyMap[node.Key]
		if !live {
			continue
		}
		distance := d.graph.Distance(normalized, node.Value)
		results = append(results, ScoredPoint{ID: id, Score: distanceToScore(distance, d.metric)})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

func (d *denseIndex) delete(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if key, ok := d.idMap[id]; ok {
			delete(d.keyMap, key)
			delete(d.idMap, id)
		}
	}
}

func (d *denseIndex) contains(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.idMap[id]
	return ok
}

func (d *denseIndex) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.idMap)
}

// save writes the graph to path and the ID mapping to path+".meta", both
// via temp-file rename.
func (d *denseIndex) save(path string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create dense index file: %w", err)
	}
	if err := d.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("export dense graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	metaTmp := path + ".meta.tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return fmt.Errorf("create dense metadata file: %w", err)
	}
	meta := denseMetadata{IDMap: d.idMap, NextKey: d.nextKey, Dimensions: d.dimensions, Metric: d.metric}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		mf.Close()
		os.Remove(metaTmp)
		return fmt.Errorf("encode dense metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		os.Remove(metaTmp)
		return err
	}
	return os.Rename(metaTmp, path+".meta")
}

func (d *denseIndex) load(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	mf, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open dense metadata: %w", err)
	}
	var meta denseMetadata
	err = gob.NewDecoder(mf).Decode(&meta)
	mf.Close()
	if err != nil {
		return fmt.Errorf("decode dense metadata: %w", err)
	}
	d.idMap = meta.IDMap
	d.nextKey = meta.NextKey
	d.dimensions = meta.Dimensions
	d.metric = meta.Metric
	d.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		d.keyMap[key] = id
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dense index: %w", err)
	}
	defer f.Close()
	// coder/hnsw Import requires an io.ByteReader.
	if err := d.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import dense graph: %w", err)
	}
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a 0-1 similarity: cosine distance
// spans [0,2], L2 spans [0,inf).
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
