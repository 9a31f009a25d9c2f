// Package vectorstore defines the abstract vector-store boundary the chunk
// pipeline, schema manager, and git enrichment write through, together with
// two backends: LocalStore (HNSW dense index + Bleve keyword index + SQLite
// payloads) and MemoryStore (map-backed, for tests and dry runs).
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrCollectionNotFound is returned for operations on unknown collections.
var ErrCollectionNotFound = errors.New("vectorstore: collection not found")

// ErrPointNotFound is returned by GetPoint for unknown point IDs.
var ErrPointNotFound = errors.New("vectorstore: point not found")

// ErrDimensionMismatch indicates a vector whose length differs from the
// collection's configured size.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vectorstore: dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Point is one stored record: a caller-chosen ID, a dense vector, an
// optional sparse vector, and a JSON-like payload.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  *SparseVector
	Payload map[string]any
}

// SparseVector is the keyword-side representation of a text. Indices/Values
// form the weighted term vector for stores with native sparse support; Text
// carries the originating text for keyword backends that index terms
// directly (Bleve).
type SparseVector struct {
	Indices []uint32
	Values  []float32
	Text    string
}

// ScoredPoint is one search hit.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Condition matches a payload field. Match compares for equality; MatchAny
// matches if the field equals any listed value.
type Condition struct {
	Field    string
	Match    any
	MatchAny []string
}

// Filter is a conjunction of conditions over point payloads.
type Filter struct {
	Must []Condition
}

// PointSelector addresses points for payload updates: by explicit IDs, by
// filter, or both (union).
type PointSelector struct {
	IDs    []string
	Filter *Filter
}

// PayloadOp is one entry of a BatchSetPayload request.
type PayloadOp struct {
	Payload map[string]any
	Points  []string
}

// WriteOptions carries the durability knobs of a write. Wait requests that
// the write be durable (flushed) before returning; Ordering is "weak" or
// "strong" (backends without write reordering treat them identically).
type WriteOptions struct {
	Wait     bool
	Ordering string
}

// IndexSchema is the type of a payload index.
type IndexSchema string

const (
	IndexSchemaKeyword IndexSchema = "keyword"
	IndexSchemaInteger IndexSchema = "integer"
	IndexSchemaText    IndexSchema = "text"
)

// PayloadIndex describes one payload index on a collection.
type PayloadIndex struct {
	Field  string
	Schema IndexSchema
}

// DeleteBatchConfig tunes DeletePointsByPathsBatched.
type DeleteBatchConfig struct {
	// BatchSize is the number of paths per delete request (default 500).
	BatchSize int

	// Concurrency bounds concurrent delete requests (default 8).
	Concurrency int
}

// DefaultDeleteBatchConfig returns the defaults for bulk path deletes.
func DefaultDeleteBatchConfig() DeleteBatchConfig {
	return DeleteBatchConfig{BatchSize: 500, Concurrency: 8}
}

// VectorStore is the abstract store the indexing core writes to. All writes
// are idempotent by point ID.
type VectorStore interface {
	// CreateCollection provisions a collection. Distance is "cos" or "l2";
	// enableSparse provisions the keyword side for hybrid search. Creating
	// an existing collection is a no-op.
	CreateCollection(ctx context.Context, name string, vectorSize int, distance string, enableSparse bool) error

	// CollectionExists reports whether the collection is provisioned.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// EnsurePayloadIndex idempotently creates a payload index, returning
	// true when it was newly created.
	EnsurePayloadIndex(ctx context.Context, collection, field string, schema IndexSchema) (bool, error)

	// ListPayloadIndexes returns the collection's payload indexes.
	ListPayloadIndexes(ctx context.Context, collection string) ([]PayloadIndex, error)

	// AddPoints upserts dense-only points.
	AddPoints(ctx context.Context, collection string, points []Point, opts WriteOptions) error

	// AddPointsWithSparse upserts points carrying both dense and sparse
	// vectors.
	AddPointsWithSparse(ctx context.Context, collection string, points []Point, opts WriteOptions) error

	// GetPoint fetches one point's payload by ID (dense vector omitted).
	GetPoint(ctx context.Context, collection, id string) (*Point, error)

	// CountPoints returns the number of live points.
	CountPoints(ctx context.Context, collection string) (int, error)

	// Search is dense k-NN with an optional payload filter.
	Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]ScoredPoint, error)

	// HybridSearch fuses a dense prefetch and a sparse prefetch with
	// reciprocal rank fusion and returns the top k.
	HybridSearch(ctx context.Context, collection string, dense []float32, sparse *SparseVector, k int, filter *Filter) ([]ScoredPoint, error)

	// SetPayload merges a payload patch into the selected points.
	SetPayload(ctx context.Context, collection string, payload map[string]any, sel PointSelector, opts WriteOptions) error

	// BatchSetPayload applies many payload patches, splitting into batched
	// requests of at most 100 ops.
	BatchSetPayload(ctx context.Context, collection string, ops []PayloadOp, opts WriteOptions) error

	// DeletePointsByPaths deletes every point whose relativePath payload
	// field matches one of paths.
	DeletePointsByPaths(ctx context.Context, collection string, paths []string, opts WriteOptions) error

	// DeletePointsByPathsBatched deletes in bounded-concurrency batches;
	// only the final batch waits for durability.
	DeletePointsByPathsBatched(ctx context.Context, collection string, paths []string, cfg DeleteBatchConfig) error

	// Close flushes and releases all collections.
	Close() error
}

// matchesFilter evaluates a filter against a payload. A nil filter matches
// everything.
func matchesFilter(payload map[string]any, filter *Filter) bool {
	if filter == nil {
		return true
	}
	for _, cond := range filter.Must {
		val, ok := payload[cond.Field]
		if !ok {
			return false
		}
		if len(cond.MatchAny) > 0 {
			s := fmt.Sprintf("%v", val)
			found := false
			for _, want := range cond.MatchAny {
				if s == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if fmt.Sprintf("%v", val) != fmt.Sprintf("%v", cond.Match) {
			return false
		}
	}
	return true
}

// mergePayload copies patch keys over base, returning base.
func mergePayload(base, patch map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		base[k] = v
	}
	return base
}
