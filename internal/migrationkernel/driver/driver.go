// Package driver defines the narrow document-store contract that both the
// in-memory simulator and the real Mongo-backed store implement, and that
// the registry and the orchestrator consume without caring which one is
// behind the interface. The package holds the interface, its error
// sentinels, and its option/value types; the backends live in sibling
// packages.
package driver

import "context"

// ValidationLevel mirrors the store's collMod validationLevel values.
type ValidationLevel string

const (
	ValidationStrict ValidationLevel = "strict"
	ValidationOff    ValidationLevel = "off"
)

// IndexSpec is the normalized shape of one index, used both to declare a
// desired index (from schema.ExtractIndexes) and to describe an existing
// one read back from the store.
type IndexSpec struct {
	Name                    string
	Key                     map[string]int // path -> 1 (dot-joined, ordered by Keys)
	Keys                    []string       // explicit key order; Key alone doesn't preserve compound-index order
	Unique                  bool
	Sparse                  bool
	Collation               map[string]any
	PartialFilterExpression map[string]any
}

// Equal reports whether two IndexSpecs are equivalent for reuse purposes:
// same key spec and the same (unique, collation, partialFilterExpression)
// options. Name is deliberately excluded: an index found by key spec under
// a different name is still reusable.
func (s IndexSpec) Equal(o IndexSpec) bool {
	if s.Unique != o.Unique {
		return false
	}
	if len(s.Keys) != len(o.Keys) {
		return false
	}
	for i := range s.Keys {
		if s.Keys[i] != o.Keys[i] {
			return false
		}
	}
	if !mapsEqual(s.Collation, o.Collation) {
		return false
	}
	if !mapsEqual(s.PartialFilterExpression, o.PartialFilterExpression) {
		return false
	}
	return true
}

func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// DocumentStore is the contract every kernel component talks to the store
// through. Every method is a suspension point: between any two calls no
// other migration may run against the same database; callers serialize
// externally.
type DocumentStore interface {
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string, validator map[string]any) error
	DropCollection(ctx context.Context, name string) error
	SetValidator(ctx context.Context, name string, validator map[string]any, level ValidationLevel) error

	InsertMany(ctx context.Context, collection string, docs []map[string]any) error
	DeleteByIDs(ctx context.Context, collection string, ids []string) error
	// FindPage returns up to limit documents after skipping skip; limit <= 0
	// means "no limit" (used by callers, e.g. registry discovery, that read
	// a whole small collection at once rather than paging it).
	FindPage(ctx context.Context, collection string, skip, limit int) ([]map[string]any, error)
	Count(ctx context.Context, collection string) (int, error)
	ReplaceByID(ctx context.Context, collection string, docs []map[string]any) error

	Indexes(ctx context.Context, collection string) ([]IndexSpec, error)
	CreateIndex(ctx context.Context, collection string, spec IndexSpec) error
	DropIndex(ctx context.Context, collection string, name string) error
}

// Sentinel errors, one per failure kind, so callers can errors.Is against
// them regardless of how many layers of context wrapping sit in between.
var (
	ErrCollectionExists     = newErr("collection already exists")
	ErrCollectionNotFound   = newErr("collection does not exist")
	ErrInstanceNotFound     = newErr("multi-model instance not found")
	ErrAlreadyMultiModel    = newErr("collection is already registered as a multi-model instance")
	ErrSchemaNotFound       = newErr("schema not found for target")
	ErrIrreversible         = newErr("operation is irreversible")
	ErrDocumentValidation   = newErr("document failed schema validation")
	ErrUnknownOperationKind = newErr("unknown operation kind")
	ErrIndexNotFound        = newErr("index not found")
)

type sentinelError string

func newErr(msg string) error { return sentinelError(msg) }

func (e sentinelError) Error() string { return string(e) }
