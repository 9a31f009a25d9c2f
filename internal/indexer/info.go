package indexer

import (
	"context"
	"fmt"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/reranker"
	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/vectorstore"
)

// Info summarizes the state of an indexer's collection.
type Info struct {
	Collection    string
	PointCount    int
	SchemaVersion int
	Model         string
	Dimensions    int
	Hybrid        bool
	SnapshotRoot  string // Merkle root of the last saved snapshot
	SnapshotFiles int
}

// Info reports collection size, schema version, and embedder configuration.
func (ix *Indexer) Info(ctx context.Context) (*Info, error) {
	info := &Info{
		Collection: ix.cfg.Collection,
		Model:      ix.provider.ModelName(),
		Dimensions: ix.provider.Dimensions(),
		Hybrid:     ix.cfg.Hybrid,
	}

	exists, err := ix.store.CollectionExists(ctx, ix.cfg.Collection)
	if err != nil {
		return nil, err
	}
	if exists {
		if info.PointCount, err = ix.store.CountPoints(ctx, ix.cfg.Collection); err != nil {
			return nil, err
		}
		if info.SchemaVersion, err = ix.schema.GetSchemaVersion(ctx, ix.cfg.Collection); err != nil {
			return nil, err
		}
	}

	if snap, err := ix.sync.LoadSnapshot(); err == nil && snap != nil {
		info.SnapshotRoot = snap.MerkleRoot
		info.SnapshotFiles = len(snap.Files)
	}
	return info, nil
}

// SearchResult is one reranked search hit.
type SearchResult struct {
	Score   float32
	Payload map[string]any
}

// Search embeds the query, runs dense (or hybrid) k-NN, and reshapes the
// hits under the named reranker preset ("relevance" if empty).
func (ix *Indexer) Search(ctx context.Context, query string, k int, preset string) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	if preset == "" {
		preset = "relevance"
	}

	dense, err := ix.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var hits []vectorstore.ScoredPoint
	if ix.cfg.Hybrid {
		hits, err = ix.store.HybridSearch(ctx, ix.cfg.Collection, dense, vectorstore.EncodeSparse(query), k, nil)
	} else {
		hits, err = ix.store.Search(ctx, ix.cfg.Collection, dense, k, nil)
	}
	if err != nil {
		return nil, err
	}

	results := make([]reranker.Result, 0, len(hits))
	for _, h := range hits {
		// The schema sentinel shares the collection with real chunks.
		if t, _ := h.Payload["_type"].(string); t == "schema_metadata" {
			continue
		}
		results = append(results, reranker.Result{Score: h.Score, Payload: h.Payload})
	}

	reranked, err := reranker.Rerank(results, reranker.Mode{Preset: preset})
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, len(reranked))
	for i, r := range reranked {
		out[i] = SearchResult{Score: r.Score, Payload: r.Payload}
	}
	return out, nil
}
