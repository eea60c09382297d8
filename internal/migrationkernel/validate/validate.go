// Package validate is the simulation-based gate that decides whether a
// migration is well-formed before an orchestrator is ever allowed to run
// it against a real store: it generates a mock population, runs the plan
// forward on the simulator, checks the end state against the declared
// schemas, and proves the plan reverses cleanly unless it refuses to.
package validate

import (
	"fmt"
	"hash/fnv"
	"reflect"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/mongodbee/migrate/internal/migrationkernel/chain"
	"github.com/mongodbee/migrate/internal/migrationkernel/idgen"
	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
	"github.com/mongodbee/migrate/internal/migrationkernel/registry"
	"github.com/mongodbee/migrate/internal/migrationkernel/schema"
	"github.com/mongodbee/migrate/internal/migrationkernel/simstore"
)

// IssueKind names the class of a validation finding.
type IssueKind string

const (
	IssueSchemaViolation  IssueKind = "schema-violation"
	IssueNotReversible    IssueKind = "not-reversible"
	IssueMissingTransform IssueKind = "missing-transform"
	IssueStructural       IssueKind = "structural"
)

// Issue is one validation finding.
type Issue struct {
	Kind       IssueKind
	Collection string
	TypeName   string
	Message    string
}

func (i Issue) Error() string {
	if i.TypeName != "" {
		return fmt.Sprintf("%s: %s.%s: %s", i.Kind, i.Collection, i.TypeName, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Kind, i.Collection, i.Message)
}

// Result is the outcome of one Run.
type Result struct {
	Issues []Issue
}

// OK reports whether no issues were found.
func (r Result) OK() bool { return len(r.Issues) == 0 }

// Options configures one validation run.
type Options struct {
	// PopulationSize is k, the number of mock documents generated per
	// collection/type. Defaults to 5 when <= 0.
	PopulationSize int
	Now            time.Time
}

// seedFor derives a deterministic gofakeit seed from a migration id. The
// generated population is still not reproducible run to run: document _ids
// are fresh time-based ULIDs, and collections, types and fields are visited
// in map iteration order, which changes which faker draw lands where.
func seedFor(migrationID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(migrationID))
	return int64(h.Sum64())
}

// Run validates m: seeds a population from parentSchemas (M.parent.schemas,
// or an empty SchemaSet for the chain's first migration), runs the
// compiled plan forward, checks post-schema compliance, and, unless the
// plan is irreversible, checks that reverse restores the original
// population exactly.
func Run(m chain.Migration, parentSchemas plan.SchemaSet, opts Options) (Result, error) {
	if opts.PopulationSize <= 0 {
		opts.PopulationSize = 5
	}
	faker := gofakeit.New(seedFor(m.ID))

	p, err := m.Compile()
	if err != nil {
		return Result{}, fmt.Errorf("validate %q: compile: %w", m.ID, err)
	}

	population := seedPopulation(parentSchemas, opts.PopulationSize, faker)

	createdModelTypes := map[string]bool{}
	for _, op := range p.Operations {
		if c, ok := op.(plan.CreateMultiModelInstance); ok {
			createdModelTypes[c.ModelType] = true
		}
	}

	var issues []Issue
	forward := population
	diverted := make([]bool, len(p.Operations))
	// Strict: a transform throwing on the generated population must surface
	// as an issue here, not be skipped the way a non-strict production run
	// would skip it.
	applyOpts := simstore.ApplyOptions{MigrationID: m.ID, Now: opts.Now, Strict: true}

	for i, op := range p.Operations {
		if fo, ok := op.(plan.TransformMultiModelInstancesType); ok && !createdModelTypes[fo.ModelType] && !hasInstancesOfType(forward, fo.ModelType) {
			issues = append(issues, validateMockFanOut(fo, opts.PopulationSize, faker)...)
			diverted[i] = true
			continue
		}
		next, err := simstore.Apply(forward, op, applyOpts)
		if err != nil {
			issues = append(issues, Issue{Kind: IssueSchemaViolation, Message: fmt.Sprintf("apply op %d: %v", i, err)})
			continue
		}
		forward = next
	}

	issues = append(issues, checkPostSchema(forward, m.Schemas)...)

	if !p.Has(plan.PlanPropertyIrreversible) {
		issues = append(issues, checkReversibility(population, forward, p, diverted, applyOpts)...)
	}

	return Result{Issues: issues}, nil
}

// seedPopulation generates k mock documents for every plain collection and
// multi-collection type declared in schemas. Multi-model templates are
// deliberately left uninstantiated: a migration's forward plan either
// creates its own instances (create_multimodel_instance) or its fan-out
// ops fall back to a synthesized mock instance.
func seedPopulation(schemas plan.SchemaSet, k int, faker *gofakeit.Faker) simstore.SimulatedDatabase {
	db := simstore.New()

	for name, node := range schemas.Collections {
		docs := make([]map[string]any, k)
		for i := range docs {
			d := schema.GenerateMock(node, faker)
			d["_id"] = idgen.FreshDocumentID("")
			docs[i] = d
		}
		db.Collections[name] = simstore.CollectionState{Content: docs}
	}

	for name, typeMap := range schemas.MultiCollections {
		var docs []map[string]any
		for typeName, node := range typeMap {
			for i := 0; i < k; i++ {
				d := schema.GenerateMock(node, faker)
				d["_id"] = idgen.FreshDocumentID(typeName)
				d["_type"] = typeName
				docs = append(docs, d)
			}
		}
		db.Collections[name] = simstore.CollectionState{Content: docs}
	}

	return db
}

func hasInstancesOfType(db simstore.SimulatedDatabase, modelType string) bool {
	for _, c := range db.MultiModels {
		for _, doc := range c.Content {
			if ct, ok := registry.InformationOf(doc); ok && ct == modelType {
				return true
			}
		}
	}
	return false
}

// validateMockFanOut exercises a fan-out transform's up function against a
// synthesized population when no real instance exists yet,
// reporting any document that fails to come back from up/down without
// error. It does not check post-schema compliance (there is no schema
// bound to an ephemeral mock instance), only that up/down themselves are
// well-behaved pure functions.
func validateMockFanOut(op plan.TransformMultiModelInstancesType, k int, faker *gofakeit.Faker) []Issue {
	var issues []Issue
	for i := 0; i < k; i++ {
		doc := map[string]any{"_id": idgen.FreshDocumentID(op.TypeName), "_type": op.TypeName}
		up, err := op.Up(doc)
		if err != nil {
			issues = append(issues, Issue{Kind: IssueSchemaViolation, Collection: op.ModelType, TypeName: op.TypeName,
				Message: fmt.Sprintf("mock instance: up failed: %v", err)})
			continue
		}
		if op.Irreversible || op.Down == nil {
			continue
		}
		down, err := op.Down(up)
		if err != nil {
			issues = append(issues, Issue{Kind: IssueNotReversible, Collection: op.ModelType, TypeName: op.TypeName,
				Message: fmt.Sprintf("mock instance: down failed: %v", err)})
			continue
		}
		if !reflect.DeepEqual(down, doc) {
			issues = append(issues, Issue{Kind: IssueNotReversible, Collection: op.ModelType, TypeName: op.TypeName,
				Message: "mock instance: down(up(doc)) != doc"})
		}
	}
	return issues
}

// checkPostSchema requires every document in every collection the
// migration declares to validate against the declared (union) schema,
// including the metadata union for templated instances.
func checkPostSchema(db simstore.SimulatedDatabase, schemas plan.SchemaSet) []Issue {
	var issues []Issue

	for name, node := range schemas.Collections {
		c, ok := db.Collections[name]
		if !ok {
			issues = append(issues, Issue{Kind: IssueMissingTransform, Collection: name,
				Message: "collection declared in schema but absent from post-state"})
			continue
		}
		for _, doc := range c.Content {
			if res := node.Parse(doc); !res.OK {
				issues = append(issues, Issue{Kind: IssueSchemaViolation, Collection: name, Message: fmt.Sprintf("%v", res.Issues)})
			}
		}
	}

	for name, typeMap := range schemas.MultiCollections {
		c, ok := db.Collections[name]
		if !ok {
			issues = append(issues, Issue{Kind: IssueMissingTransform, Collection: name,
				Message: "multi-collection declared in schema but absent from post-state"})
			continue
		}
		union := schema.Union(typeMap)
		for _, doc := range c.Content {
			if res := union.Parse(doc); !res.OK {
				issues = append(issues, Issue{Kind: IssueSchemaViolation, Collection: name, Message: fmt.Sprintf("%v", res.Issues)})
			}
		}
	}

	for modelType, typeMap := range schemas.MultiModels {
		union := schema.MetadataUnion(typeMap)
		for instanceName, c := range db.MultiModels {
			ct, ok := registry.InformationOf(firstInformation(c.Content))
			if !ok || ct != modelType {
				continue
			}
			for _, doc := range c.Content {
				if res := union.Parse(doc); !res.OK {
					issues = append(issues, Issue{Kind: IssueSchemaViolation, Collection: instanceName, TypeName: modelType,
						Message: fmt.Sprintf("%v", res.Issues)})
				}
			}
		}
	}

	return issues
}

func firstInformation(docs []map[string]any) map[string]any {
	for _, d := range docs {
		if d["_type"] == registry.InformationDocID {
			return d
		}
	}
	return map[string]any{}
}

// checkReversibility reverses every non-diverted op in reverse order
// starting from the already-computed forward state, and compares the
// result to the original population by deep structural equality.
func checkReversibility(original, forward simstore.SimulatedDatabase, p *plan.Plan, diverted []bool, opts simstore.ApplyOptions) []Issue {
	state := forward
	for i := len(p.Operations) - 1; i >= 0; i-- {
		if diverted[i] {
			continue
		}
		next, err := simstore.Reverse(state, p.Operations[i], opts)
		if err != nil {
			return []Issue{{Kind: IssueNotReversible, Message: fmt.Sprintf("reverse op %d: %v", i, err)}}
		}
		state = next
	}

	if !reflect.DeepEqual(state, original) {
		return []Issue{{Kind: IssueNotReversible, Message: "forward-then-reverse did not restore the original population"}}
	}
	return nil
}
