package plan

import (
	"fmt"

	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
	"github.com/mongodbee/migrate/internal/migrationkernel/schema"
)

// Builder is the top level of the plan builder's two-level state machine:
// top-level commands choose a target; the sub-builders they return restrict
// the allowed verbs to what's legal for that target. Each method returns a
// distinctly-typed sub-builder so misuse (e.g. calling Seed on a
// multi-collection builder meant for mark-only flows) is caught by the Go
// compiler rather than at runtime.
type Builder struct {
	schemas SchemaSet
	plan    *Plan
	err     error
}

// NewBuilder starts building a plan against the given target schema set:
// the owning migration's declared post-state, used to resolve schemas for
// Seed/UpdateIndexes calls that don't carry one explicitly.
func NewBuilder(schemas SchemaSet) *Builder {
	return &Builder{schemas: schemas, plan: &Plan{}}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) push(op Op) {
	if b.err != nil {
		return
	}
	b.plan.Operations = append(b.plan.Operations, op)
}

// Compile finalizes the plan. It returns the first error recorded by any
// builder call (schema-not-found, seed validation failure), so a bad seed
// document surfaces before the plan ever runs.
func (b *Builder) Compile() (*Plan, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.plan, nil
}

// CreateCollection pushes create_collection and marks the plan lossy.
func (b *Builder) CreateCollection(name string) *Builder {
	b.push(CreateCollection{Name: name, Schema: b.schemas.Collections[name]})
	if b.err == nil {
		b.plan.mark(PlanPropertyLossy)
	}
	return b
}

// Collection selects an existing collection for chained seed/transform
// calls.
func (b *Builder) Collection(name string) *CollectionBuilder {
	return &CollectionBuilder{parent: b, name: name}
}

// NewMultiCollection pushes create_multicollection.
func (b *Builder) NewMultiCollection(name string, typeMap map[string]schema.Node) *MultiCollectionBuilder {
	b.push(CreateMultiCollection{Name: name, TypeMap: typeMap})
	if b.err == nil {
		b.plan.mark(PlanPropertyLossy)
	}
	return &MultiCollectionBuilder{parent: b, name: name, typeMap: typeMap}
}

// MultiCollection selects an existing multi-collection for chained type
// operations.
func (b *Builder) MultiCollection(name string, typeMap map[string]schema.Node) *MultiCollectionBuilder {
	return &MultiCollectionBuilder{parent: b, name: name, typeMap: typeMap}
}

// NewMultiModelInstance pushes create_multimodel_instance.
func (b *Builder) NewMultiModelInstance(name, modelType string) *MultiModelInstanceBuilder {
	typeMap := b.schemas.MultiModels[modelType]
	b.push(CreateMultiModelInstance{Name: name, ModelType: modelType, TypeMap: typeMap})
	if b.err == nil {
		b.plan.mark(PlanPropertyLossy)
	}
	return &MultiModelInstanceBuilder{parent: b, name: name, modelType: modelType, typeMap: typeMap}
}

// MarkMultiModelType pushes mark_as_multimodel.
func (b *Builder) MarkMultiModelType(name, modelType string) *Builder {
	b.push(MarkAsMultiModel{Name: name, ModelType: modelType})
	return b
}

// MultiModel selects a model type for fan-out seed/transform calls.
func (b *Builder) MultiModel(modelType string) *MultiModelBuilder {
	return &MultiModelBuilder{parent: b, modelType: modelType, typeMap: b.schemas.MultiModels[modelType]}
}

// UpdateIndexes pushes update_indexes, resolving the schema from the
// owning migration's schema set; fails with ErrSchemaNotFound-shaped error
// if absent.
func (b *Builder) UpdateIndexes(name string) *Builder {
	node, ok := b.schemas.Collections[name]
	if !ok {
		b.fail(fmt.Errorf("update_indexes: collection %q: %w", name, driver.ErrSchemaNotFound))
		return b
	}
	b.push(UpdateIndexes{Name: name, Schema: node})
	return b
}

// TransformOptions bundles the fields transform(...) takes across every
// target kind.
type TransformOptions struct {
	Up, Down     TransformFunc
	Irreversible bool
}

func (b *Builder) markIrreversible(irreversible bool) {
	if irreversible && b.err == nil {
		b.plan.mark(PlanPropertyIrreversible)
	}
}

// CollectionBuilder restricts the allowed verbs to seed/transform on one
// plain collection.
type CollectionBuilder struct {
	parent *Builder
	name   string
}

// Seed validates each document against the owning migration's declared
// schema for this collection and pushes seed_collection.
func (c *CollectionBuilder) Seed(docs []map[string]any) *CollectionBuilder {
	node, ok := c.parent.schemas.Collections[c.name]
	if !ok {
		c.parent.fail(fmt.Errorf("seed: collection %q: %w", c.name, driver.ErrSchemaNotFound))
		return c
	}
	if err := validateSeedDocs(node, docs); err != nil {
		c.parent.fail(fmt.Errorf("seed %q: %w", c.name, err))
		return c
	}
	c.parent.push(SeedCollection{Name: c.name, Schema: node, Documents: docs})
	return c
}

// Transform pushes transform_collection.
func (c *CollectionBuilder) Transform(opts TransformOptions) *CollectionBuilder {
	c.parent.push(TransformCollection{Name: c.name, Up: opts.Up, Down: opts.Down, Irreversible: opts.Irreversible})
	c.parent.markIrreversible(opts.Irreversible)
	return c
}

// Done returns to the parent builder.
func (c *CollectionBuilder) Done() *Builder { return c.parent }

// MultiCollectionBuilder restricts the allowed verbs to type selection on
// one multi-collection.
type MultiCollectionBuilder struct {
	parent  *Builder
	name    string
	typeMap map[string]schema.Node
}

// Type selects one tagged type within the multi-collection.
func (m *MultiCollectionBuilder) Type(typeName string) *MultiCollectionTypeBuilder {
	return &MultiCollectionTypeBuilder{parent: m, typeName: typeName}
}

// Done returns to the parent builder.
func (m *MultiCollectionBuilder) Done() *Builder { return m.parent }

// MultiCollectionTypeBuilder restricts the allowed verbs to seed/transform
// on one tagged type within a multi-collection.
type MultiCollectionTypeBuilder struct {
	parent   *MultiCollectionBuilder
	typeName string
}

func (t *MultiCollectionTypeBuilder) node() (schema.Node, bool) {
	n, ok := t.parent.typeMap[t.typeName]
	return n, ok
}

// Seed validates against {_type: literal(typeName)} ⊕ typeMap[typeName]
// and pushes seed_multicollection_type.
func (t *MultiCollectionTypeBuilder) Seed(docs []map[string]any) *MultiCollectionTypeBuilder {
	node, ok := t.node()
	if !ok {
		t.parent.parent.fail(fmt.Errorf("seed type: schema not found for %q.%q", t.parent.name, t.typeName))
		return t
	}
	union := schema.Union(map[string]schema.Node{t.typeName: node})
	stamped := stampType(docs, t.typeName)
	if err := validateSeedDocs(union, stamped); err != nil {
		t.parent.parent.fail(fmt.Errorf("seed %q type %q: %w", t.parent.name, t.typeName, err))
		return t
	}
	t.parent.parent.push(SeedMultiCollectionType{Name: t.parent.name, TypeName: t.typeName, Schema: node, Documents: docs})
	return t
}

// Transform pushes transform_multicollection_type.
func (t *MultiCollectionTypeBuilder) Transform(opts TransformOptions) *MultiCollectionTypeBuilder {
	t.parent.parent.push(TransformMultiCollectionType{
		Name: t.parent.name, TypeName: t.typeName, Up: opts.Up, Down: opts.Down, Irreversible: opts.Irreversible,
	})
	t.parent.parent.markIrreversible(opts.Irreversible)
	return t
}

// Done returns to the multi-collection builder.
func (t *MultiCollectionTypeBuilder) Done() *MultiCollectionBuilder { return t.parent }

// MultiModelInstanceBuilder restricts the allowed verbs to type selection on
// one named multi-model instance.
type MultiModelInstanceBuilder struct {
	parent    *Builder
	name      string
	modelType string
	typeMap   map[string]schema.Node
}

// Type selects one tagged type within the instance.
func (m *MultiModelInstanceBuilder) Type(typeName string) *MultiModelInstanceTypeBuilder {
	return &MultiModelInstanceTypeBuilder{parent: m, typeName: typeName}
}

// Done returns to the parent builder.
func (m *MultiModelInstanceBuilder) Done() *Builder { return m.parent }

// MultiModelInstanceTypeBuilder restricts the allowed verbs to
// seed/transform on one tagged type within one named instance.
type MultiModelInstanceTypeBuilder struct {
	parent   *MultiModelInstanceBuilder
	typeName string
}

func (t *MultiModelInstanceTypeBuilder) Seed(docs []map[string]any) *MultiModelInstanceTypeBuilder {
	node, ok := t.parent.typeMap[t.typeName]
	if !ok {
		t.parent.parent.fail(fmt.Errorf("seed type: schema not found for %q.%q", t.parent.name, t.typeName))
		return t
	}
	union := schema.Union(map[string]schema.Node{t.typeName: node})
	if err := validateSeedDocs(union, stampType(docs, t.typeName)); err != nil {
		t.parent.parent.fail(fmt.Errorf("seed %q type %q: %w", t.parent.name, t.typeName, err))
		return t
	}
	t.parent.parent.push(SeedMultiModelInstanceType{Name: t.parent.name, TypeName: t.typeName, Schema: node, Documents: docs})
	return t
}

func (t *MultiModelInstanceTypeBuilder) Transform(opts TransformOptions) *MultiModelInstanceTypeBuilder {
	t.parent.parent.push(TransformMultiModelInstanceType{
		Name: t.parent.name, TypeName: t.typeName, Up: opts.Up, Down: opts.Down, Irreversible: opts.Irreversible,
	})
	t.parent.parent.markIrreversible(opts.Irreversible)
	return t
}

func (t *MultiModelInstanceTypeBuilder) Done() *MultiModelInstanceBuilder { return t.parent }

// MultiModelBuilder restricts the allowed verbs to fan-out type selection
// across every instance of a model type.
type MultiModelBuilder struct {
	parent    *Builder
	modelType string
	typeMap   map[string]schema.Node
}

// Type selects one tagged type for fan-out operations.
func (m *MultiModelBuilder) Type(typeName string) *MultiModelTypeBuilder {
	return &MultiModelTypeBuilder{parent: m, typeName: typeName}
}

// Done returns to the parent builder.
func (m *MultiModelBuilder) Done() *Builder { return m.parent }

// MultiModelTypeBuilder pushes the fan-out seed/transform variants,
// executed once per discovered, version-guard-admitted instance.
type MultiModelTypeBuilder struct {
	parent   *MultiModelBuilder
	typeName string
}

func (t *MultiModelTypeBuilder) Seed(docs []map[string]any) *MultiModelTypeBuilder {
	node, ok := t.parent.typeMap[t.typeName]
	if !ok {
		t.parent.parent.fail(fmt.Errorf("seed type: schema not found for model %q.%q", t.parent.modelType, t.typeName))
		return t
	}
	union := schema.Union(map[string]schema.Node{t.typeName: node})
	if err := validateSeedDocs(union, stampType(docs, t.typeName)); err != nil {
		t.parent.parent.fail(fmt.Errorf("seed model %q type %q: %w", t.parent.modelType, t.typeName, err))
		return t
	}
	t.parent.parent.push(SeedMultiModelInstancesType{ModelType: t.parent.modelType, TypeName: t.typeName, Schema: node, Documents: docs})
	return t
}

func (t *MultiModelTypeBuilder) Transform(opts TransformOptions) *MultiModelTypeBuilder {
	t.parent.parent.push(TransformMultiModelInstancesType{
		ModelType: t.parent.modelType, TypeName: t.typeName, Up: opts.Up, Down: opts.Down, Irreversible: opts.Irreversible,
	})
	t.parent.parent.markIrreversible(opts.Irreversible)
	return t
}

func (t *MultiModelTypeBuilder) Done() *MultiModelBuilder { return t.parent }

// stampType returns a copy of docs with _type set, for validation purposes
// only; the actual seed op carries the untagged documents, and the
// appliers stamp _type at apply time.
func stampType(docs []map[string]any, typeName string) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		copied := make(map[string]any, len(d)+1)
		for k, v := range d {
			copied[k] = v
		}
		copied["_type"] = typeName
		out[i] = copied
	}
	return out
}

// validateSeedDocs parses every document against node, tolerating a missing
// _id (it is synthesized at apply time, not at build time).
func validateSeedDocs(node schema.Node, docs []map[string]any) error {
	for i, d := range docs {
		candidate := d
		if _, hasID := d["_id"]; !hasID {
			candidate = make(map[string]any, len(d)+1)
			for k, v := range d {
				candidate[k] = v
			}
			candidate["_id"] = "placeholder"
		}
		res := node.Parse(candidate)
		if !res.OK {
			return fmt.Errorf("document %d: %w: %v", i, driver.ErrDocumentValidation, res.Issues)
		}
	}
	return nil
}
