package simstore

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mongodbee/migrate/internal/logging"
	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
	"github.com/mongodbee/migrate/internal/migrationkernel/idgen"
	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
	"github.com/mongodbee/migrate/internal/migrationkernel/registry"
)

// ApplyOptions carries the per-call context Apply/Reverse need beyond the
// operation itself: the migration id stamped onto freshly created
// instances and consulted by the fan-out version guard, and whether
// preconditions are enforced.
type ApplyOptions struct {
	MigrationID string
	Now         time.Time
	Strict      bool
	// TrackHistory appends a HistoryEntry to the resulting snapshot's
	// OperationHistory on every apply/reverse.
	TrackHistory bool
	// Logger receives the warnings non-strict mode emits for skipped
	// documents; nil disables them.
	Logger *logging.Logger
}

func recordHistory(db SimulatedDatabase, kind string, op plan.Op, opts ApplyOptions) SimulatedDatabase {
	if !opts.TrackHistory {
		return db
	}
	db.OperationHistory = append(db.OperationHistory, HistoryEntry{Kind: kind, Operation: op})
	return db
}

func cloneDoc(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func typeOf(d map[string]any) string {
	t, _ := d["_type"].(string)
	return t
}

// stampSeeds assigns a fresh _id to any document missing one and, when
// typeName is non-empty, stamps _type.
func stampSeeds(docs []map[string]any, typeName string) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		c := cloneDoc(d)
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

func sortedModelInstances(db SimulatedDatabase, modelType string) []string {
	var names []string
	for name, c := range db.MultiModels {
		for _, doc := range c.Content {
			if ct, ok := registry.InformationOf(doc); ok && ct == modelType {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// suppliedIDs returns the explicit _id values a seed op's documents
// carried; documents that omitted _id and had one synthesized at apply
// time are not targeted by reverse.
func suppliedIDs(docs []map[string]any) []string {
	var ids []string
	for _, d := range docs {
		if id, ok := d["_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func deleteByIDs(bucket map[string]CollectionState, name string, ids []string) {
	if len(ids) == 0 {
		return
	}
	c, ok := bucket[name]
	if !ok {
		return
	}
	toDelete := make(map[string]bool, len(ids))
	for _, id := range ids {
		toDelete[id] = true
	}
	out := make([]map[string]any, 0, len(c.Content))
	for _, d := range c.Content {
		id, _ := d["_id"].(string)
		if toDelete[id] {
			continue
		}
		out = append(out, d)
	}
	c.Content = out
	bucket[name] = c
}

func instanceFromMigrationID(content []map[string]any) string {
	for _, doc := range content {
		if id, ok := registry.FromMigrationIDOf(doc); ok {
			return id
		}
	}
	return registry.TokenUnknown
}

// Apply dispatches op against db, returning the resulting snapshot. db is
// never mutated; the returned value may share unaffected subtrees with it.
func Apply(db SimulatedDatabase, op plan.Op, opts ApplyOptions) (SimulatedDatabase, error) {
	next := db.Clone()

	switch o := op.(type) {
	case plan.CreateCollection:
		if next.hasCollection(o.Name) || next.hasInstance(o.Name) {
			if opts.Strict {
				return db, driver.ErrCollectionExists
			}
			return db, nil
		}
		next.Collections[o.Name] = CollectionState{}

	case plan.CreateMultiCollection:
		if next.hasCollection(o.Name) || next.hasInstance(o.Name) {
			if opts.Strict {
				return db, driver.ErrCollectionExists
			}
			return db, nil
		}
		next.Collections[o.Name] = CollectionState{}

	case plan.CreateMultiModelInstance:
		if next.hasCollection(o.Name) || next.hasInstance(o.Name) {
			if opts.Strict {
				return db, driver.ErrCollectionExists
			}
			return db, nil
		}
		content := []map[string]any{
			registry.NewInformationDoc(o.ModelType, opts.Now),
			registry.NewMigrationsDoc(opts.MigrationID),
		}
		next.MultiModels[o.Name] = CollectionState{Content: content}

	case plan.MarkAsMultiModel:
		if next.hasInstance(o.Name) {
			// Already marked; re-marking is a no-op.
			return db, nil
		}
		c, ok := next.Collections[o.Name]
		if !ok {
			if opts.Strict {
				return db, driver.ErrCollectionNotFound
			}
			c = CollectionState{}
		}
		content := append(cloneDocs(c.Content),
			registry.NewInformationDoc(o.ModelType, opts.Now),
			registry.NewMigrationsDoc(registry.TokenCurrent),
		)
		delete(next.Collections, o.Name)
		next.MultiModels[o.Name] = CollectionState{Content: content}

	case plan.SeedCollection:
		c, ok := next.Collections[o.Name]
		if !ok {
			if opts.Strict {
				return db, driver.ErrCollectionNotFound
			}
			c = CollectionState{}
		}
		c.Content = append(cloneDocs(c.Content), stampSeeds(o.Documents, "")...)
		next.Collections[o.Name] = c

	case plan.SeedMultiCollectionType:
		c, ok := next.Collections[o.Name]
		if !ok {
			if opts.Strict {
				return db, driver.ErrCollectionNotFound
			}
			c = CollectionState{}
		}
		c.Content = append(cloneDocs(c.Content), stampSeeds(o.Documents, o.TypeName)...)
		next.Collections[o.Name] = c

	case plan.SeedMultiModelInstanceType:
		c, ok := next.MultiModels[o.Name]
		if !ok {
			if opts.Strict {
				return db, driver.ErrInstanceNotFound
			}
			c = CollectionState{}
		}
		c.Content = append(cloneDocs(c.Content), stampSeeds(o.Documents, o.TypeName)...)
		next.MultiModels[o.Name] = c

	case plan.SeedMultiModelInstancesType:
		for _, name := range sortedModelInstances(next, o.ModelType) {
			c := next.MultiModels[name]
			if !registry.ShouldReceive(instanceFromMigrationID(c.Content), opts.MigrationID) {
				continue
			}
			c.Content = append(cloneDocs(c.Content), stampSeeds(o.Documents, o.TypeName)...)
			next.MultiModels[name] = c
		}

	case plan.TransformCollection:
		if err := transformInPlace(next.Collections, o.Name, "", o.Up, opts); err != nil {
			return db, err
		}

	case plan.TransformMultiCollectionType:
		if err := transformInPlace(next.Collections, o.Name, o.TypeName, o.Up, opts); err != nil {
			return db, err
		}

	case plan.TransformMultiModelInstanceType:
		if err := transformInPlace(next.MultiModels, o.Name, o.TypeName, o.Up, opts); err != nil {
			return db, err
		}

	case plan.TransformMultiModelInstancesType:
		for _, name := range sortedModelInstances(next, o.ModelType) {
			c := next.MultiModels[name]
			if !registry.ShouldReceive(instanceFromMigrationID(c.Content), opts.MigrationID) {
				continue
			}
			if err := transformInPlace(next.MultiModels, name, o.TypeName, o.Up, opts); err != nil {
				return db, err
			}
		}

	case plan.UpdateIndexes:
		// no-op: indexes are not materialized in simulation.

	default:
		return db, fmt.Errorf("simstore: apply: %w: %T", driver.ErrUnknownOperationKind, op)
	}

	return recordHistory(next, "apply", op, opts), nil
}

// Reverse undoes op against db. Seed reversal deletes documents by
// the explicit _ids the seed's documents carried; documents that had an id
// synthesized at apply time are not matched and so are not removed by
// reverse alone; the enclosing create op's reverse, which drops the whole
// collection, is what makes create+seed plans fully round-trip.
func Reverse(db SimulatedDatabase, op plan.Op, opts ApplyOptions) (SimulatedDatabase, error) {
	next := db.Clone()

	switch o := op.(type) {
	case plan.CreateCollection:
		delete(next.Collections, o.Name)

	case plan.CreateMultiCollection:
		delete(next.Collections, o.Name)

	case plan.CreateMultiModelInstance:
		delete(next.MultiModels, o.Name)

	case plan.MarkAsMultiModel:
		c, ok := next.MultiModels[o.Name]
		if !ok {
			if opts.Strict {
				return db, driver.ErrInstanceNotFound
			}
			return db, nil
		}
		content := make([]map[string]any, 0, len(c.Content))
		for _, d := range c.Content {
			if d["_type"] == registry.InformationDocID || d["_type"] == registry.MigrationsDocID {
				continue
			}
			content = append(content, d)
		}
		delete(next.MultiModels, o.Name)
		next.Collections[o.Name] = CollectionState{Content: content}

	case plan.SeedCollection:
		deleteByIDs(next.Collections, o.Name, suppliedIDs(o.Documents))

	case plan.SeedMultiCollectionType:
		deleteByIDs(next.Collections, o.Name, suppliedIDs(o.Documents))

	case plan.SeedMultiModelInstanceType:
		deleteByIDs(next.MultiModels, o.Name, suppliedIDs(o.Documents))

	case plan.SeedMultiModelInstancesType:
		ids := suppliedIDs(o.Documents)
		for _, name := range sortedModelInstances(next, o.ModelType) {
			c := next.MultiModels[name]
			if !registry.ShouldReceive(instanceFromMigrationID(c.Content), opts.MigrationID) {
				continue
			}
			deleteByIDs(next.MultiModels, name, ids)
		}

	case plan.TransformCollection:
		if o.Irreversible {
			return db, driver.ErrIrreversible
		}
		if err := transformInPlace(next.Collections, o.Name, "", o.Down, opts); err != nil {
			return db, err
		}

	case plan.TransformMultiCollectionType:
		if o.Irreversible {
			return db, driver.ErrIrreversible
		}
		if err := transformInPlace(next.Collections, o.Name, o.TypeName, o.Down, opts); err != nil {
			return db, err
		}

	case plan.TransformMultiModelInstanceType:
		if o.Irreversible {
			return db, driver.ErrIrreversible
		}
		if err := transformInPlace(next.MultiModels, o.Name, o.TypeName, o.Down, opts); err != nil {
			return db, err
		}

	case plan.TransformMultiModelInstancesType:
		if o.Irreversible {
			return db, driver.ErrIrreversible
		}
		for _, name := range sortedModelInstances(next, o.ModelType) {
			c := next.MultiModels[name]
			if !registry.ShouldReceive(instanceFromMigrationID(c.Content), opts.MigrationID) {
				continue
			}
			if err := transformInPlace(next.MultiModels, name, o.TypeName, o.Down, opts); err != nil {
				return db, err
			}
		}

	case plan.UpdateIndexes:
		// no-op

	default:
		return db, fmt.Errorf("simstore: reverse: %w: %T", driver.ErrUnknownOperationKind, op)
	}

	return recordHistory(next, "reverse", op, opts), nil
}

// transformInPlace maps fn over every document in bucket[name] whose _type
// matches typeName (all documents, when typeName is empty). In strict mode
// the first failing document aborts; otherwise the document is skipped with
// a warning and kept as-is.
func transformInPlace(bucket map[string]CollectionState, name, typeName string, fn plan.TransformFunc, opts ApplyOptions) error {
	c, ok := bucket[name]
	if !ok {
		if opts.Strict {
			return fmt.Errorf("simstore: transform: %w: %q", driver.ErrCollectionNotFound, name)
		}
		return nil
	}
	out := make([]map[string]any, len(c.Content))
	for i, d := range c.Content {
		if typeName != "" && typeOf(d) != typeName {
			out[i] = d
			continue
		}
		mapped, err := fn(d)
		if err != nil {
			if opts.Strict {
				return fmt.Errorf("simstore: transform %q: %w", name, err)
			}
			if opts.Logger != nil {
				opts.Logger.Warn("transform failed, skipping document",
					zap.String("collection", name), zap.Any("document_id", d["_id"]), zap.Error(err))
			}
			out[i] = d
			continue
		}
		out[i] = mapped
	}
	c.Content = out
	bucket[name] = c
	return nil
}
