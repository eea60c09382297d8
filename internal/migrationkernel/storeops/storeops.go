// Package storeops dispatches plan operations against any
// driver.DocumentStore: the same operation surface simstore.Apply/Reverse
// expose over a SimulatedDatabase, here executed through the store
// contract. Because it only depends on that contract, the orchestrator
// reuses one implementation against both mongostore and simstore without a
// type switch.
package storeops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mongodbee/migrate/internal/logging"
	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
	"github.com/mongodbee/migrate/internal/migrationkernel/idgen"
	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
	"github.com/mongodbee/migrate/internal/migrationkernel/registry"
	"github.com/mongodbee/migrate/internal/migrationkernel/schema"
)

// Options carries the per-call context every op needs beyond itself: the
// migration id stamped on freshly created instances and consulted by the
// fan-out version guard, strictness, the current time for metadata
// stamping, and the page size paged transforms read in.
// PageSize <= 0 reads a collection whole.
type Options struct {
	MigrationID string
	Now         time.Time
	Strict      bool
	PageSize    int
	// Logger receives the warnings emitted when non-strict mode skips a
	// failing document and when benign index races are swallowed; nil
	// disables them.
	Logger *logging.Logger
}

func typeOf(d map[string]any) string {
	t, _ := d["_type"].(string)
	return t
}

func stampSeeds(docs []map[string]any, typeName string) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		c := make(map[string]any, len(d)+1)
		for k, v := range d {
			c[k] = v
		}
		if _, ok := c["_id"]; !ok {
			c["_id"] = idgen.FreshDocumentID(typeName)
		}
		if typeName != "" {
			c["_type"] = typeName
		}
		out[i] = c
	}
	return out
}

func suppliedIDs(docs []map[string]any) []string {
	var ids []string
	for _, d := range docs {
		if id, ok := d["_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// indexSpecsFromNode converts a schema node's extracted index annotations
// into the driver's IndexSpec shape.
func indexSpecsFromNode(node schema.Node) []driver.IndexSpec {
	if node == nil {
		return nil
	}
	var out []driver.IndexSpec
	for _, ann := range node.ExtractIndexes() {
		out = append(out, driver.IndexSpec{
			Name:   node.SanitizePathName(ann.Path),
			Key:    map[string]int{ann.Path: 1},
			Keys:   []string{ann.Path},
			Unique: ann.Unique,
		})
	}
	return out
}

// validatorFor builds the store-side validator document for a collection's
// schema node, or nil when node is nil (no schema declared).
func validatorFor(node schema.Node) map[string]any {
	if node == nil {
		return nil
	}
	return node.EmitStoreValidator()
}

// discoverInstances returns, in discovery order, the instances of modelType
// admitted by the version guard against migrationID.
func discoverInstances(ctx context.Context, store driver.DocumentStore, reg *registry.Registry, modelType, migrationID string) ([]string, error) {
	names, err := reg.Discover(ctx, modelType)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		from, err := reg.FromMigrationID(ctx, name)
		if err != nil {
			return nil, err
		}
		if registry.ShouldReceive(from, migrationID) {
			out = append(out, name)
		}
	}
	return out, nil
}

// transformPaged maps fn over every document in collection whose _type
// matches typeName (all documents when typeName is empty), reading and
// writing back in pages of opts.PageSize documents.
func transformPaged(ctx context.Context, store driver.DocumentStore, collection, typeName string, fn plan.TransformFunc, opts Options) error {
	if opts.PageSize <= 0 {
		docs, err := store.FindPage(ctx, collection, 0, 0)
		if err != nil {
			return fmt.Errorf("storeops: read %q: %w", collection, err)
		}
		return transformAndReplace(ctx, store, collection, typeName, docs, fn, opts)
	}

	skip := 0
	for {
		docs, err := store.FindPage(ctx, collection, skip, opts.PageSize)
		if err != nil {
			return fmt.Errorf("storeops: read %q: %w", collection, err)
		}
		if len(docs) == 0 {
			break
		}
		if err := transformAndReplace(ctx, store, collection, typeName, docs, fn, opts); err != nil {
			return err
		}
		if len(docs) < opts.PageSize {
			break
		}
		skip += opts.PageSize
	}
	return nil
}

// transformAndReplace writes back one page of transformed documents. In
// strict mode the first failing document aborts the plan; otherwise the
// document is skipped with a warning and its stored copy left untouched.
func transformAndReplace(ctx context.Context, store driver.DocumentStore, collection, typeName string, docs []map[string]any, fn plan.TransformFunc, opts Options) error {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		if typeName != "" && typeOf(d) != typeName {
			continue
		}
		mapped, err := fn(d)
		if err != nil {
			if opts.Strict {
				return fmt.Errorf("storeops: transform %q: %w", collection, err)
			}
			if opts.Logger != nil {
				opts.Logger.Warn("transform failed, skipping document",
					zap.String("collection", collection), zap.Any("document_id", d["_id"]), zap.Error(err))
			}
			continue
		}
		out = append(out, mapped)
	}
	if len(out) == 0 {
		return nil
	}
	if err := store.ReplaceByID(ctx, collection, out); err != nil {
		return fmt.Errorf("storeops: replace in %q: %w", collection, err)
	}
	return nil
}

// recordTouched appends an AppliedEntry for operation on every name in
// names, via the shared per-applyMigration rec. Used by ops that address a
// specific instance (explicitly named or fanned out) so their own lineage
// entry exists the moment they run, ahead of the orchestrator's final
// sweep over any instance they left untouched.
func recordTouched(ctx context.Context, reg *registry.Registry, rec *registry.Recorder, names []string, migrationID, operation string, now time.Time) error {
	for _, name := range names {
		if err := reg.RecordMigration(ctx, rec, name, migrationID, operation, now); err != nil {
			return err
		}
	}
	return nil
}

// Apply executes op against store, driving it through reg for multi-model
// discovery and version-guard fan-out. It returns the names of every
// multi-model instance the op touched; the orchestrator's lineage sweep
// discovers instances itself and does not use them. rec is the orchestrator's per-applyMigration Recorder; ops that
// touch a specific instance record their own lineage entry through it as
// they run.
func Apply(ctx context.Context, store driver.DocumentStore, reg *registry.Registry, rec *registry.Recorder, op plan.Op, opts Options) ([]string, error) {
	switch o := op.(type) {
	case plan.CreateCollection:
		if err := store.CreateCollection(ctx, o.Name, validatorFor(o.Schema)); err != nil {
			if opts.Strict || !errors.Is(err, driver.ErrCollectionExists) {
				return nil, err
			}
		}
		return nil, nil

	case plan.CreateMultiCollection:
		union := schema.Union(o.TypeMap)
		if err := store.CreateCollection(ctx, o.Name, union.EmitStoreValidator()); err != nil {
			if opts.Strict || !errors.Is(err, driver.ErrCollectionExists) {
				return nil, err
			}
		}
		return nil, nil

	case plan.CreateMultiModelInstance:
		union := schema.MetadataUnion(o.TypeMap)
		if err := store.CreateCollection(ctx, o.Name, union.EmitStoreValidator()); err != nil {
			if opts.Strict || !errors.Is(err, driver.ErrCollectionExists) {
				return nil, err
			}
			return nil, nil
		}
		if err := reg.CreateInfo(ctx, o.Name, o.ModelType, opts.MigrationID, opts.Now); err != nil {
			return nil, err
		}
		return []string{o.Name}, nil

	case plan.MarkAsMultiModel:
		if err := reg.CreateInfo(ctx, o.Name, o.ModelType, registry.TokenCurrent, opts.Now); err != nil {
			// Re-marking an already-marked collection is a no-op.
			if errors.Is(err, driver.ErrAlreadyMultiModel) {
				return []string{o.Name}, nil
			}
			return nil, err
		}
		return []string{o.Name}, nil

	case plan.SeedCollection:
		if err := store.InsertMany(ctx, o.Name, stampSeeds(o.Documents, "")); err != nil {
			return nil, fmt.Errorf("storeops: seed %q: %w", o.Name, err)
		}
		return nil, nil

	case plan.SeedMultiCollectionType:
		if err := store.InsertMany(ctx, o.Name, stampSeeds(o.Documents, o.TypeName)); err != nil {
			return nil, fmt.Errorf("storeops: seed %q.%q: %w", o.Name, o.TypeName, err)
		}
		return nil, nil

	case plan.SeedMultiModelInstanceType:
		if err := store.InsertMany(ctx, o.Name, stampSeeds(o.Documents, o.TypeName)); err != nil {
			return nil, fmt.Errorf("storeops: seed instance %q.%q: %w", o.Name, o.TypeName, err)
		}
		if err := recordTouched(ctx, reg, rec, []string{o.Name}, opts.MigrationID, registry.OperationApplied, opts.Now); err != nil {
			return nil, err
		}
		return []string{o.Name}, nil

	case plan.SeedMultiModelInstancesType:
		instances, err := discoverInstances(ctx, store, reg, o.ModelType, opts.MigrationID)
		if err != nil {
			return nil, err
		}
		for _, name := range instances {
			if err := store.InsertMany(ctx, name, stampSeeds(o.Documents, o.TypeName)); err != nil {
				return nil, fmt.Errorf("storeops: seed fan-out %q.%q: %w", name, o.TypeName, err)
			}
		}
		if err := recordTouched(ctx, reg, rec, instances, opts.MigrationID, registry.OperationApplied, opts.Now); err != nil {
			return nil, err
		}
		return instances, nil

	case plan.TransformCollection:
		if err := transformPaged(ctx, store, o.Name, "", o.Up, opts); err != nil {
			return nil, err
		}
		return nil, nil

	case plan.TransformMultiCollectionType:
		if err := transformPaged(ctx, store, o.Name, o.TypeName, o.Up, opts); err != nil {
			return nil, err
		}
		return nil, nil

	case plan.TransformMultiModelInstanceType:
		if err := transformPaged(ctx, store, o.Name, o.TypeName, o.Up, opts); err != nil {
			return nil, err
		}
		if err := recordTouched(ctx, reg, rec, []string{o.Name}, opts.MigrationID, registry.OperationApplied, opts.Now); err != nil {
			return nil, err
		}
		return []string{o.Name}, nil

	case plan.TransformMultiModelInstancesType:
		instances, err := discoverInstances(ctx, store, reg, o.ModelType, opts.MigrationID)
		if err != nil {
			return nil, err
		}
		for _, name := range instances {
			if err := transformPaged(ctx, store, name, o.TypeName, o.Up, opts); err != nil {
				return nil, err
			}
		}
		if err := recordTouched(ctx, reg, rec, instances, opts.MigrationID, registry.OperationApplied, opts.Now); err != nil {
			return nil, err
		}
		return instances, nil

	case plan.UpdateIndexes:
		if err := driver.SyncIndexes(ctx, store, o.Name, indexSpecsFromNode(o.Schema), opts.Logger); err != nil {
			return nil, fmt.Errorf("storeops: sync indexes on %q: %w", o.Name, err)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("storeops: apply: %w: %T", driver.ErrUnknownOperationKind, op)
	}
}

// Reverse undoes op against store, mirroring simstore.Reverse's semantics:
// seed reversal deletes by supplied _id, create reversal drops the
// collection/instance outright, transform reversal requires Down.
func Reverse(ctx context.Context, store driver.DocumentStore, reg *registry.Registry, rec *registry.Recorder, op plan.Op, opts Options) ([]string, error) {
	switch o := op.(type) {
	case plan.CreateCollection:
		return nil, store.DropCollection(ctx, o.Name)

	case plan.CreateMultiCollection:
		return nil, store.DropCollection(ctx, o.Name)

	case plan.CreateMultiModelInstance:
		return nil, store.DropCollection(ctx, o.Name)

	case plan.MarkAsMultiModel:
		return []string{o.Name}, reg.RemoveInfo(ctx, o.Name)

	case plan.SeedCollection:
		return nil, store.DeleteByIDs(ctx, o.Name, suppliedIDs(o.Documents))

	case plan.SeedMultiCollectionType:
		return nil, store.DeleteByIDs(ctx, o.Name, suppliedIDs(o.Documents))

	case plan.SeedMultiModelInstanceType:
		if err := store.DeleteByIDs(ctx, o.Name, suppliedIDs(o.Documents)); err != nil {
			return nil, err
		}
		if err := recordTouched(ctx, reg, rec, []string{o.Name}, opts.MigrationID, registry.OperationReverted, opts.Now); err != nil {
			return nil, err
		}
		return []string{o.Name}, nil

	case plan.SeedMultiModelInstancesType:
		instances, err := discoverInstances(ctx, store, reg, o.ModelType, opts.MigrationID)
		if err != nil {
			return nil, err
		}
		ids := suppliedIDs(o.Documents)
		for _, name := range instances {
			if err := store.DeleteByIDs(ctx, name, ids); err != nil {
				return nil, err
			}
		}
		if err := recordTouched(ctx, reg, rec, instances, opts.MigrationID, registry.OperationReverted, opts.Now); err != nil {
			return nil, err
		}
		return instances, nil

	case plan.TransformCollection:
		if o.Irreversible {
			return nil, driver.ErrIrreversible
		}
		return nil, transformPaged(ctx, store, o.Name, "", o.Down, opts)

	case plan.TransformMultiCollectionType:
		if o.Irreversible {
			return nil, driver.ErrIrreversible
		}
		return nil, transformPaged(ctx, store, o.Name, o.TypeName, o.Down, opts)

	case plan.TransformMultiModelInstanceType:
		if o.Irreversible {
			return nil, driver.ErrIrreversible
		}
		if err := transformPaged(ctx, store, o.Name, o.TypeName, o.Down, opts); err != nil {
			return nil, err
		}
		if err := recordTouched(ctx, reg, rec, []string{o.Name}, opts.MigrationID, registry.OperationReverted, opts.Now); err != nil {
			return nil, err
		}
		return []string{o.Name}, nil

	case plan.TransformMultiModelInstancesType:
		if o.Irreversible {
			return nil, driver.ErrIrreversible
		}
		instances, err := discoverInstances(ctx, store, reg, o.ModelType, opts.MigrationID)
		if err != nil {
			return nil, err
		}
		for _, name := range instances {
			if err := transformPaged(ctx, store, name, o.TypeName, o.Down, opts); err != nil {
				return nil, err
			}
		}
		if err := recordTouched(ctx, reg, rec, instances, opts.MigrationID, registry.OperationReverted, opts.Now); err != nil {
			return nil, err
		}
		return instances, nil

	case plan.UpdateIndexes:
		return nil, nil

	default:
		return nil, fmt.Errorf("storeops: reverse: %w: %T", driver.ErrUnknownOperationKind, op)
	}
}
