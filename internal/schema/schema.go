// Package schema versions a vector-store collection's payload schema using
// a sentinel metadata point, and walks collections forward through the
// migrations needed to reach the current version.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/vectorstore"
)

const (
	// SentinelID is the reserved point carrying schema metadata.
	SentinelID = "__schema_metadata__"

	// CurrentVersion is the schema version this build writes.
	CurrentVersion = 4
)

// Manager migrates collection schemas.
type Manager struct {
	store      vectorstore.VectorStore
	vectorSize int
	logger     *slog.Logger
}

// MigrationResult reports one EnsureCurrentSchema/InitializeSchema run.
// Failures are surfaced here rather than as an error so callers can proceed
// read-only.
type MigrationResult struct {
	Success           bool
	FromVersion       int
	ToVersion         int
	MigrationsApplied []string
	Error             string
}

// New creates a manager writing sentinel points with vectorSize-dimensional
// zero vectors.
func New(store vectorstore.VectorStore, vectorSize int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, vectorSize: vectorSize, logger: logger}
}

// GetSchemaVersion reads the collection's schema version from the sentinel
// point. A collection without a sentinel but with the legacy relativePath
// keyword index predates sentinel tracking and is treated as current; a
// bare collection is version 0.
func (m *Manager) GetSchemaVersion(ctx context.Context, collection string) (int, error) {
	point, err := m.store.GetPoint(ctx, collection, SentinelID)
	if err == nil {
		if v, ok := point.Payload["schemaVersion"].(float64); ok {
			return int(v), nil
		}
		return 0, nil
	}

	indexes, err := m.store.ListPayloadIndexes(ctx, collection)
	if err != nil {
		return 0, err
	}
	for _, idx := range indexes {
		if idx.Field == "relativePath" && idx.Schema == vectorstore.IndexSchemaKeyword {
			return CurrentVersion, nil
		}
	}
	return 0, nil
}

// EnsureCurrentSchema walks the collection forward from its current version
// to CurrentVersion, writing the sentinel after each applied migration.
func (m *Manager) EnsureCurrentSchema(ctx context.Context, collection string) MigrationResult {
	from, err := m.GetSchemaVersion(ctx, collection)
	if err != nil {
		return MigrationResult{FromVersion: -1, Error: fmt.Sprintf("read schema version: %v", err)}
	}

	result := MigrationResult{Success: true, FromVersion: from, ToVersion: from}
	for v := from + 1; v <= CurrentVersion; v++ {
		applied, err := m.applyMigration(ctx, collection, v)
		if err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("migration to v%d: %v", v, err)
			return result
		}
		if applied != "" {
			result.MigrationsApplied = append(result.MigrationsApplied, applied)
		}
		result.ToVersion = v
		if err := m.writeSentinel(ctx, collection, v); err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("write sentinel at v%d: %v", v, err)
			return result
		}
	}
	if result.ToVersion > result.FromVersion {
		m.logger.Info("schema migrated",
			slog.String("collection", collection),
			slog.Int("from", result.FromVersion),
			slog.Int("to", result.ToVersion))
	}
	return result
}

// InitializeSchema is the create-path variant: provision all current
// indexes and stamp the sentinel at CurrentVersion in one step.
func (m *Manager) InitializeSchema(ctx context.Context, collection string) MigrationResult {
	result := MigrationResult{Success: true, FromVersion: 0, ToVersion: CurrentVersion}
	if _, err := m.store.EnsurePayloadIndex(ctx, collection, "relativePath", vectorstore.IndexSchemaKeyword); err != nil {
		return MigrationResult{Error: fmt.Sprintf("create relativePath index: %v", err)}
	}
	if err := m.writeSentinel(ctx, collection, CurrentVersion); err != nil {
		return MigrationResult{Error: fmt.Sprintf("write sentinel: %v", err)}
	}
	return result
}

// applyMigration performs the work of one version step, returning a
// human-readable description of what it did ("" for steps that only bump
// the recorded version).
func (m *Manager) applyMigration(ctx context.Context, collection string, version int) (string, error) {
	switch version {
	case 4:
		created, err := m.store.EnsurePayloadIndex(ctx, collection, "relativePath", vectorstore.IndexSchemaKeyword)
		if err != nil {
			return "", err
		}
		if created {
			return "v4: Created keyword index on relativePath", nil
		}
		return "", nil
	default:
		// Versions 1-3 predate this codebase's payload layout; nothing to
		// rewrite for collections migrating from scratch.
		return "", nil
	}
}

// writeSentinel upserts the sentinel point at the given version.
func (m *Manager) writeSentinel(ctx context.Context, collection string, version int) error {
	indexes, err := m.store.ListPayloadIndexes(ctx, collection)
	if err != nil {
		return err
	}
	fields := make([]any, 0, len(indexes))
	for _, idx := range indexes {
		fields = append(fields, idx.Field)
	}

	point := vectorstore.Point{
		ID:    SentinelID,
		Dense: make([]float32, m.vectorSize),
		Payload: map[string]any{
			"_type":         "schema_metadata",
			"schemaVersion": float64(version),
			"migratedAt":    time.Now().UnixMilli(),
			"indexes":       fields,
		},
	}
	return m.store.AddPoints(ctx, collection, []vectorstore.Point{point}, vectorstore.WriteOptions{Wait: true, Ordering: "strong"})
}
