// Package plan implements the operation plan IR: a closed, tagged variant
// describing each migration step, plus the fluent builder that compiles
// one.
package plan

import "github.com/mongodbee/migrate/internal/migrationkernel/schema"

// PlanProperty is a declarative flag recorded on a compiled Plan.
type PlanProperty string

const (
	// PlanPropertyLossy marks a plan whose forward execution cannot be
	// undone without information loss (default for CreateCollection).
	PlanPropertyLossy PlanProperty = "lossy"
	// PlanPropertyIrreversible marks a plan that refuses to reverse.
	PlanPropertyIrreversible PlanProperty = "irreversible"
)

// TransformFunc is a pure document -> document function. up/down must not
// close over mutable state.
type TransformFunc func(doc map[string]any) (map[string]any, error)

// Op is the closed sum type every plan operation satisfies. The unexported
// marker method keeps the set closed to this package; the appliers switch
// over the concrete types exhaustively.
type Op interface {
	isOp()
}

// CreateCollection creates an empty plain collection.
type CreateCollection struct {
	Name   string
	Schema schema.Node
}

// CreateMultiCollection creates an empty multi-collection (one collection
// holding tagged documents of several types).
type CreateMultiCollection struct {
	Name    string
	TypeMap map[string]schema.Node
}

// CreateMultiModelInstance creates a new physical instance collection of a
// multi-model template, stamping the two metadata documents.
type CreateMultiModelInstance struct {
	Name      string
	ModelType string
	TypeMap   map[string]schema.Node
}

// MarkAsMultiModel retroactively registers an existing collection as an
// instance of modelType by inserting the metadata documents.
type MarkAsMultiModel struct {
	Name      string
	ModelType string
}

// SeedCollection appends documents to a plain collection.
type SeedCollection struct {
	Name      string
	Schema    schema.Node
	Documents []map[string]any
}

// SeedMultiCollectionType appends typed documents to a multi-collection.
type SeedMultiCollectionType struct {
	Name      string
	TypeName  string
	Schema    schema.Node
	Documents []map[string]any
}

// SeedMultiModelInstanceType appends typed documents to one named instance
// of a multi-model.
type SeedMultiModelInstanceType struct {
	Name      string
	TypeName  string
	Schema    schema.Node
	Documents []map[string]any
}

// SeedMultiModelInstancesType fans out a seed across every discovered,
// version-guard-admitted instance of modelType.
type SeedMultiModelInstancesType struct {
	ModelType string
	TypeName  string
	Schema    schema.Node
	Documents []map[string]any
}

// TransformCollection maps a plain collection's content through Up (Down on
// reverse).
type TransformCollection struct {
	Name         string
	Up, Down     TransformFunc
	Irreversible bool
}

// TransformMultiCollectionType maps one tagged type's documents within a
// multi-collection.
type TransformMultiCollectionType struct {
	Name, TypeName string
	Up, Down       TransformFunc
	Irreversible   bool
}

// TransformMultiModelInstanceType maps one type's documents within one
// named multi-model instance.
type TransformMultiModelInstanceType struct {
	Name, TypeName string
	Up, Down       TransformFunc
	Irreversible   bool
}

// TransformMultiModelInstancesType fans out a transform across every
// discovered, version-guard-admitted instance of modelType. When no
// instances exist, the validator synthesizes a mock instance so Up/Down are
// still exercised.
type TransformMultiModelInstancesType struct {
	ModelType, TypeName string
	Up, Down            TransformFunc
	Irreversible        bool
}

// UpdateIndexes synchronizes a collection's indexes against schema's
// extracted index annotations. A no-op in simulation; materialized by the
// real applier.
type UpdateIndexes struct {
	Name   string
	Schema schema.Node
}

func (CreateCollection) isOp()                 {}
func (CreateMultiCollection) isOp()            {}
func (CreateMultiModelInstance) isOp()         {}
func (MarkAsMultiModel) isOp()                 {}
func (SeedCollection) isOp()                   {}
func (SeedMultiCollectionType) isOp()          {}
func (SeedMultiModelInstanceType) isOp()       {}
func (SeedMultiModelInstancesType) isOp()      {}
func (TransformCollection) isOp()              {}
func (TransformMultiCollectionType) isOp()     {}
func (TransformMultiModelInstanceType) isOp()  {}
func (TransformMultiModelInstancesType) isOp() {}
func (UpdateIndexes) isOp()                    {}

// SchemaSet is the complete post-migration shape description.
type SchemaSet struct {
	// Collections maps plain collection name -> field shape.
	Collections map[string]schema.Node
	// MultiCollections maps collection name -> type name -> field shape.
	MultiCollections map[string]map[string]schema.Node
	// MultiModels maps model (template) name -> type name -> field shape.
	MultiModels map[string]map[string]schema.Node
}

// NewSchemaSet returns an empty, ready-to-populate SchemaSet.
func NewSchemaSet() SchemaSet {
	return SchemaSet{
		Collections:      map[string]schema.Node{},
		MultiCollections: map[string]map[string]schema.Node{},
		MultiModels:      map[string]map[string]schema.Node{},
	}
}

// Plan is the compiled output of a Builder: a set of declarative
// properties plus an ordered operation sequence.
type Plan struct {
	Properties map[PlanProperty]struct{}
	Operations []Op
}

// Has reports whether the plan carries the given property.
func (p *Plan) Has(prop PlanProperty) bool {
	if p == nil {
		return false
	}
	_, ok := p.Properties[prop]
	return ok
}

func (p *Plan) mark(prop PlanProperty) {
	if p.Properties == nil {
		p.Properties = map[PlanProperty]struct{}{}
	}
	p.Properties[prop] = struct{}{}
}
