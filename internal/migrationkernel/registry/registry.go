// Package registry discovers, marks, and version-tracks multi-model
// instances via the in-band _information/_migrations metadata documents.
// It operates purely against the driver.DocumentStore contract, so the
// same code drives both the simulator and the real store.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
	"github.com/mongodbee/migrate/internal/migrationkernel/idgen"
	"github.com/mongodbee/migrate/internal/migrationkernel/schema"
)

// Reserved document ids/types for the two metadata documents.
const (
	InformationDocID = "_information"
	MigrationsDocID  = "_migrations"
)

// Operation values recorded in appliedMigrations entries.
const (
	OperationApplied  = "applied"
	OperationReverted = "reverted"
)

// EngineVersion is stamped on every appliedMigrations entry so a ledger can
// tell which engine release wrote it.
const EngineVersion = "1.0.0"

// Special fromMigrationId tokens that always admit a migration.
const (
	TokenUnknown = "unknown"
	TokenCurrent = "current"
)

// NewInformationDoc builds the _information metadata document for a fresh
// instance.
func NewInformationDoc(modelType string, createdAt time.Time) map[string]any {
	return map[string]any{
		"_id":            InformationDocID,
		"_type":          InformationDocID,
		"collectionType": modelType,
		"createdAt":      createdAt,
	}
}

// NewMigrationsDoc builds the _migrations metadata document, seeded with the
// migration id that created (or retroactively marked) this instance.
func NewMigrationsDoc(fromMigrationID string) map[string]any {
	return map[string]any{
		"_id":               MigrationsDocID,
		"_type":             MigrationsDocID,
		"fromMigrationId":   fromMigrationID,
		"appliedMigrations": []any{},
	}
}

// AppliedEntry is one entry of _migrations.appliedMigrations.
type AppliedEntry struct {
	ID        string
	AppliedAt time.Time
	Operation string
}

// AppendApplied returns a copy of doc with entry appended to
// appliedMigrations.
func AppendApplied(doc map[string]any, entry AppliedEntry) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	var entries []any
	if existing, ok := doc["appliedMigrations"].([]any); ok {
		entries = append(entries, existing...)
	}
	entries = append(entries, map[string]any{
		"id":               entry.ID,
		"appliedAt":        entry.AppliedAt,
		"mongodbeeVersion": EngineVersion,
		"operation":        entry.Operation,
	})
	out["appliedMigrations"] = entries
	return out
}

// InformationOf reports whether doc is an _information document and, if so,
// its collectionType.
func InformationOf(doc map[string]any) (collectionType string, ok bool) {
	if doc["_type"] != InformationDocID {
		return "", false
	}
	ct, _ := doc["collectionType"].(string)
	return ct, true
}

// FromMigrationIDOf extracts fromMigrationId from a _migrations document.
func FromMigrationIDOf(doc map[string]any) (string, bool) {
	if doc["_type"] != MigrationsDocID {
		return "", false
	}
	id, _ := doc["fromMigrationId"].(string)
	return id, true
}

// ShouldReceive implements the version guard: an instance receives migration M iff
// instance.fromMigrationId <= M, with "unknown"/"current" on the instance
// side, and "unknown" as the current id, always admitting.
func ShouldReceive(instanceFromMigrationID, migrationID string) bool {
	if instanceFromMigrationID == TokenUnknown || instanceFromMigrationID == TokenCurrent {
		return true
	}
	if migrationID == TokenUnknown {
		return true
	}
	return idgen.TimestampPrefix(instanceFromMigrationID) <= idgen.TimestampPrefix(migrationID)
}

// MetadataUnion is the two reserved _information/_migrations variants for
// direct use by callers building a store validator without a full
// MultiModels type map at hand.
var MetadataUnion = schema.MetadataUnion(nil)

// Registry drives instance discovery and lineage bookkeeping against a
// concrete DocumentStore.
type Registry struct {
	store driver.DocumentStore
}

// New wraps store for registry operations.
func New(store driver.DocumentStore) *Registry {
	return &Registry{store: store}
}

// Discover iterates every collection in the store, returning (sorted) the
// names whose _information document's collectionType equals modelType.
func (r *Registry) Discover(ctx context.Context, modelType string) ([]string, error) {
	names, err := r.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry discover: list collections: %w", err)
	}

	var out []string
	for _, name := range names {
		docs, err := r.store.FindPage(ctx, name, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("registry discover: read %q: %w", name, err)
		}
		for _, doc := range docs {
			if ct, ok := InformationOf(doc); ok && ct == modelType {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// FromMigrationID reads the instance's current fromMigrationId, for the
// version guard.
func (r *Registry) FromMigrationID(ctx context.Context, instance string) (string, error) {
	docs, err := r.store.FindPage(ctx, instance, 0, 0)
	if err != nil {
		return "", fmt.Errorf("registry: read %q: %w", instance, err)
	}
	for _, doc := range docs {
		if id, ok := FromMigrationIDOf(doc); ok {
			return id, nil
		}
	}
	return "", driver.ErrInstanceNotFound
}

// CreateInfo writes both metadata documents for a brand-new instance. An
// instance that already carries an _information document is reported as
// ErrAlreadyMultiModel rather than double-marked. The two inserts are
// sequential from the engine's point of view; a racing concurrent creation
// is caller error, since the engine does no distributed coordination.
func (r *Registry) CreateInfo(ctx context.Context, instance, modelType, fromMigrationID string, createdAt time.Time) error {
	docs, err := r.store.FindPage(ctx, instance, 0, 0)
	if err == nil {
		for _, doc := range docs {
			if _, ok := InformationOf(doc); ok {
				return fmt.Errorf("registry: %q: %w", instance, driver.ErrAlreadyMultiModel)
			}
		}
	}
	if err := r.store.InsertMany(ctx, instance, []map[string]any{NewInformationDoc(modelType, createdAt)}); err != nil {
		return fmt.Errorf("registry: create info for %q: %w", instance, err)
	}
	if err := r.store.InsertMany(ctx, instance, []map[string]any{NewMigrationsDoc(fromMigrationID)}); err != nil {
		return fmt.Errorf("registry: create migrations doc for %q: %w", instance, err)
	}
	return nil
}

// RemoveInfo deletes both metadata documents, reversing MarkAsMultiModel.
func (r *Registry) RemoveInfo(ctx context.Context, instance string) error {
	return r.store.DeleteByIDs(ctx, instance, []string{InformationDocID, MigrationsDocID})
}

// Recorder deduplicates (instance, migrationId, operation) triples within a
// single applyMigration call. The authoritative ledger remains each
// instance's own appliedMigrations array; Recorder only prevents the same
// orchestrator pass from appending twice.
type Recorder struct {
	seen map[[3]string]bool
}

// NewRecorder returns an empty, per-call Recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: map[[3]string]bool{}}
}

// RecordMigration appends an AppliedEntry to instance's _migrations
// document unless this exact (instance, migrationID, operation) triple was
// already recorded by this Recorder.
func (r *Registry) RecordMigration(ctx context.Context, rec *Recorder, instance, migrationID, operation string, appliedAt time.Time) error {
	key := [3]string{instance, migrationID, operation}
	if rec.seen[key] {
		return nil
	}

	docs, err := r.store.FindPage(ctx, instance, 0, 0)
	if err != nil {
		return fmt.Errorf("registry: read %q: %w", instance, err)
	}
	var migrationsDoc map[string]any
	for _, doc := range docs {
		if doc["_type"] == MigrationsDocID {
			migrationsDoc = doc
			break
		}
	}
	if migrationsDoc == nil {
		return fmt.Errorf("registry: %q: %w", instance, driver.ErrInstanceNotFound)
	}

	updated := AppendApplied(migrationsDoc, AppliedEntry{ID: migrationID, AppliedAt: appliedAt, Operation: operation})
	if err := r.store.ReplaceByID(ctx, instance, []map[string]any{updated}); err != nil {
		return fmt.Errorf("registry: record migration on %q: %w", instance, err)
	}
	rec.seen[key] = true
	return nil
}
