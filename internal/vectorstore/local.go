package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// maxPayloadOpsPerRequest bounds one batched payload-update transaction.
const maxPayloadOpsPerRequest = 100

// LocalStore is a file-backed VectorStore: per collection, an HNSW graph
// for dense k-NN, a Bleve index for the keyword side of hybrid search, and
// a SQLite database for payloads and payload-index bookkeeping.
type LocalStore struct {
	root   string
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]*localCollection
	closed      bool
}

type localCollection struct {
	name       string
	dir        string
	vectorSize int
	distance   string
	sparse     bool

	dense   *denseIndex
	keyword *sparseIndex // nil unless sparse
	db      *sql.DB

	mu sync.Mutex // serializes payload writes and saves
}

// NewLocalStore creates a store rooted at dir, opening any collections
// already on disk lazily.
func NewLocalStore(dir string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &LocalStore{root: dir, logger: logger, collections: make(map[string]*localCollection)}, nil
}

var _ VectorStore = (*LocalStore)(nil)

func (s *LocalStore) CreateCollection(ctx context.Context, name string, vectorSize int, distance string, enableSparse bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if _, ok := s.collections[name]; ok {
		return nil
	}
	if exists, _ := s.collectionOnDisk(name); exists {
		c, err := s.openCollection(name)
		if err != nil {
			return err
		}
		s.collections[name] = c
		return nil
	}

	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}
	if distance == "" {
		distance = "cos"
	}

	c := &localCollection{
		name:       name,
		dir:        dir,
		vectorSize: vectorSize,
		distance:   distance,
		sparse:     enableSparse,
		dense:      newDenseIndex(vectorSize, distance),
	}

	db, err := openPayloadDB(filepath.Join(dir, "payload.db"))
	if err != nil {
		return err
	}
	c.db = db
	if err := c.writeMeta(); err != nil {
		db.Close()
		return err
	}

	if enableSparse {
		kw, err := openSparseIndex(filepath.Join(dir, "sparse.bleve"))
		if err != nil {
			db.Close()
			return err
		}
		c.keyword = kw
	}

	s.collections[name] = c
	return nil
}

func (s *LocalStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return true, nil
	}
	return s.collectionOnDisk(name)
}

func (s *LocalStore) collectionOnDisk(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, name, "payload.db"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// openCollection restores a collection from disk. Caller holds s.mu.
func (s *LocalStore) openCollection(name string) (*localCollection, error) {
	dir := filepath.Join(s.root, name)
	db, err := openPayloadDB(filepath.Join(dir, "payload.db"))
	if err != nil {
		return nil, err
	}

	c := &localCollection{name: name, dir: dir, db: db}
	if err := c.readMeta(); err != nil {
		db.Close()
		return nil, err
	}

	c.dense = newDenseIndex(c.vectorSize, c.distance)
	densePath := filepath.Join(dir, "dense.hnsw")
	if _, statErr := os.Stat(densePath); statErr == nil {
		if err := c.dense.load(densePath); err != nil {
			s.logger.Warn("dense index load failed, starting empty",
				slog.String("collection", name), slog.String("error", err.Error()))
			c.dense = newDenseIndex(c.vectorSize, c.distance)
		}
	}

	if c.sparse {
		kw, err := openSparseIndex(filepath.Join(dir, "sparse.bleve"))
		if err != nil {
			db.Close()
			return nil, err
		}
		c.keyword = kw
	}
	return c, nil
}

func (s *LocalStore) collection(name string) (*localCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	if exists, err := s.collectionOnDisk(name); err != nil {
		return nil, err
	} else if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	c, err := s.openCollection(name)
	if err != nil {
		return nil, err
	}
	s.collections[name] = c
	return c, nil
}

func (s *LocalStore) EnsurePayloadIndex(ctx context.Context, collection, field string, schema IndexSchema) (bool, error) {
	c, err := s.collection(collection)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var existing string
	err = c.db.QueryRowContext(ctx, `SELECT schema FROM payload_indexes WHERE field = ?`, field).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("query payload index: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, `INSERT INTO payload_indexes (field, schema) VALUES (?, ?)`, field, string(schema)); err != nil {
		return false, fmt.Errorf("record payload index: %w", err)
	}
	// Expression index over the payload JSON makes filtered deletes and
	// lookups on this field cheap.
	idxName := "idx_payload_" + sanitizeIdent(field)
	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON points (json_extract(payload, '$.%s'))`, idxName, field)
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return false, fmt.Errorf("create payload index: %w", err)
	}
	return true, nil
}

func (s *LocalStore) ListPayloadIndexes(ctx context.Context, collection string) ([]PayloadIndex, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, `SELECT field, schema FROM payload_indexes ORDER BY field`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []PayloadIndex
	for rows.Next() {
		var idx PayloadIndex
		var schema string
		if err := rows.Scan(&idx.Field, &schema); err != nil {
			return nil, err
		}
		idx.Schema = IndexSchema(schema)
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func (s *LocalStore) AddPoints(ctx context.Context, collection string, points []Point, opts WriteOptions) error {
	return s.addPoints(ctx, collection, points, opts, false)
}

func (s *LocalStore) AddPointsWithSparse(ctx context.Context, collection string, points []Point, opts WriteOptions) error {
	return s.addPoints(ctx, collection, points, opts, true)
}

func (s *LocalStore) addPoints(ctx context.Context, collection string, points []Point, opts WriteOptions, withSparse bool) error {
	if len(points) == 0 {
		return nil
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	ids := make([]string, len(points))
	vectors := make([][]float32, len(points))
	for i, p := range points {
		ids[i] = p.ID
		vectors[i] = p.Dense
	}
	if err := c.dense.add(ids, vectors); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, p := range points {
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", p.ID, err)
		}
		content, _ := p.Payload["content"].(string)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO points (id, payload, content) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, content = excluded.content`,
			p.ID, string(payloadJSON), content); err != nil {
			return fmt.Errorf("upsert point %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if withSparse && c.keyword != nil {
		for _, p := range points {
			text := ""
			if p.Sparse != nil {
				text = p.Sparse.Text
			}
			if text == "" {
				text, _ = p.Payload["content"].(string)
			}
			if err := c.keyword.upsert(p.ID, text); err != nil {
				return fmt.Errorf("sparse upsert %s: %w", p.ID, err)
			}
		}
	}

	if opts.Wait {
		return c.saveDense()
	}
	return nil
}

func (s *LocalStore) GetPoint(ctx context.Context, collection, id string) (*Point, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	var payloadJSON string
	err = c.db.QueryRowContext(ctx, `SELECT payload FROM points WHERE id = ?`, id).Scan(&payloadJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPointNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", id, err)
	}
	return &Point{ID: id, Payload: payload}, nil
}

func (s *LocalStore) CountPoints(ctx context.Context, collection string) (int, error) {
	c, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	var n int
	err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points`).Scan(&n)
	return n, err
}

func (s *LocalStore) Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]ScoredPoint, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	// Over-fetch when filtering so post-filter results can still fill k.
	fetch := k
	if filter != nil {
		fetch = prefetchLimit(k)
	}
	hits, err := c.dense.search(vector, fetch)
	if err != nil {
		return nil, err
	}
	return s.attachPayloads(ctx, c, hits, k, filter)
}

func (s *LocalStore) HybridSearch(ctx context.Context, collection string, dense []float32, sparse *SparseVector, k int, filter *Filter) ([]ScoredPoint, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if c.keyword == nil {
		return s.Search(ctx, collection, dense, k, filter)
	}

	limit := prefetchLimit(k)
	denseHits, err := c.dense.search(dense, limit)
	if err != nil {
		return nil, err
	}
	var sparseHits []ScoredPoint
	if sparse != nil {
		sparseHits, err = c.keyword.search(sparse.Text, limit)
		if err != nil {
			return nil, err
		}
	}

	fused := rrfFuse(denseHits, sparseHits, limit)
	return s.attachPayloads(ctx, c, fused, k, filter)
}

// attachPayloads loads payloads for hits, applies the filter, and trims to k.
func (s *LocalStore) attachPayloads(ctx context.Context, c *localCollection, hits []ScoredPoint, k int, filter *Filter) ([]ScoredPoint, error) {
	results := make([]ScoredPoint, 0, k)
	for _, hit := range hits {
		var payloadJSON string
		err := c.db.QueryRowContext(ctx, `SELECT payload FROM points WHERE id = ?`, hit.ID).Scan(&payloadJSON)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, err
		}
		if !matchesFilter(payload, filter) {
			continue
		}
		hit.Payload = payload
		results = append(results, hit)
		if len(results) == k {
			break
		}
	}
	return results, nil
}

func (s *LocalStore) SetPayload(ctx context.Context, collection string, payload map[string]any, sel PointSelector, opts WriteOptions) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	ids, err := c.resolveSelector(ctx, sel)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := applyPayloadPatch(ctx, tx, ids, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LocalStore) BatchSetPayload(ctx context.Context, collection string, ops []PayloadOp, opts WriteOptions) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	for start := 0; start < len(ops); start += maxPayloadOpsPerRequest {
		end := start + maxPayloadOpsPerRequest
		if end > len(ops) {
			end = len(ops)
		}
		c.mu.Lock()
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		for _, op := range ops[start:end] {
			if err := applyPayloadPatch(ctx, tx, op.Points, op.Payload); err != nil {
				tx.Rollback()
				c.mu.Unlock()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			c.mu.Unlock()
			return err
		}
		c.mu.Unlock()
	}
	return nil
}

// applyPayloadPatch merges patch into each point's stored payload.
func applyPayloadPatch(ctx context.Context, tx *sql.Tx, ids []string, patch map[string]any) error {
	for _, id := range ids {
		var payloadJSON string
		err := tx.QueryRowContext(ctx, `SELECT payload FROM points WHERE id = ?`, id).Scan(&payloadJSON)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return fmt.Errorf("decode payload for %s: %w", id, err)
		}
		merged, err := json.Marshal(mergePayload(payload, patch))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE points SET payload = ? WHERE id = ?`, string(merged), id); err != nil {
			return err
		}
	}
	return nil
}

// resolveSelector expands a selector into concrete point IDs.
func (c *localCollection) resolveSelector(ctx context.Context, sel PointSelector) ([]string, error) {
	ids := append([]string(nil), sel.IDs...)
	if sel.Filter == nil {
		return ids, nil
	}
	rows, err := c.db.QueryContext(ctx, `SELECT id, payload FROM points`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for rows.Next() {
		var id, payloadJSON string
		if err := rows.Scan(&id, &payloadJSON); err != nil {
			return nil, err
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			continue
		}
		if matchesFilter(payload, sel.Filter) && !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func (s *LocalStore) DeletePointsByPaths(ctx context.Context, collection string, paths []string, opts WriteOptions) error {
	if len(paths) == 0 {
		return nil
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id FROM points WHERE json_extract(payload, '$.relativePath') IN (`+placeholders+`)`, args...)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	c.dense.delete(ids)
	if c.keyword != nil {
		if err := c.keyword.delete(ids); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idPlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	idArgs := make([]any, len(ids))
	for i, id := range ids {
		idArgs[i] = id
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM points WHERE id IN (`+idPlaceholders+`)`, idArgs...); err != nil {
		return err
	}
	if opts.Wait {
		return c.saveDense()
	}
	return nil
}

func (s *LocalStore) DeletePointsByPathsBatched(ctx context.Context, collection string, paths []string, cfg DeleteBatchConfig) error {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	var batches [][]string
	for start := 0; start < len(paths); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(paths) {
			end = len(paths)
		}
		batches = append(batches, paths[start:end])
	}
	if len(batches) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i, b := range batches {
		// Only the final batch waits for durability.
		opts := WriteOptions{Wait: i == len(batches)-1, Ordering: "weak"}
		paths := b
		g.Go(func() error {
			return s.DeletePointsByPaths(gctx, collection, paths, opts)
		})
	}
	return g.Wait()
}

// Flush persists every open collection's dense index.
func (s *LocalStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections {
		c.mu.Lock()
		err := c.saveDense()
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, c := range s.collections {
		c.mu.Lock()
		if err := c.saveDense(); err != nil && firstErr == nil {
			firstErr = err
		}
		if c.keyword != nil {
			if err := c.keyword.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.mu.Unlock()
	}
	s.collections = nil
	return firstErr
}

// saveDense persists the dense index. Caller holds c.mu.
func (c *localCollection) saveDense() error {
	return c.dense.save(filepath.Join(c.dir, "dense.hnsw"))
}

func (c *localCollection) writeMeta() error {
	for key, value := range map[string]string{
		"vectorSize": strconv.Itoa(c.vectorSize),
		"distance":   c.distance,
		"sparse":     strconv.FormatBool(c.sparse),
	} {
		if _, err := c.db.Exec(
			`INSERT INTO collection_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			return fmt.Errorf("write collection meta: %w", err)
		}
	}
	return nil
}

func (c *localCollection) readMeta() error {
	rows, err := c.db.Query(`SELECT key, value FROM collection_meta`)
	if err != nil {
		return fmt.Errorf("read collection meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		switch key {
		case "vectorSize":
			c.vectorSize, _ = strconv.Atoi(value)
		case "distance":
			c.distance = value
		case "sparse":
			c.sparse = value == "true"
		}
	}
	return rows.Err()
}

func openPayloadDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open payload db: %w", err)
	}
	// Single writer; WAL lets readers proceed during payload patches.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, err
	}
	schema := `
	CREATE TABLE IF NOT EXISTS points (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		content TEXT
	);
	CREATE TABLE IF NOT EXISTS payload_indexes (
		field TEXT PRIMARY KEY,
		schema TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS collection_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init payload schema: %w", err)
	}
	return db, nil
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
