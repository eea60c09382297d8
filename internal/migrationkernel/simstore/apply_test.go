package simstore

import (
	"errors"
	"testing"
	"time"

	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
	"github.com/mongodbee/migrate/internal/migrationkernel/registry"
	"github.com/mongodbee/migrate/internal/migrationkernel/schema"
	"github.com/mongodbee/migrate/internal/util/testutil"
	"github.com/stretchr/testify/require"
)

func usersSchemaSet() plan.SchemaSet {
	s := plan.NewSchemaSet()
	s.Collections["users"] = schema.FieldMap{
		"_id":  {Kind: schema.KindString},
		"name": {Kind: schema.KindString, Required: true},
	}
	return s
}

func compile(t *testing.T, b *plan.Builder) *plan.Plan {
	t.Helper()
	p, err := b.Compile()
	require.NoError(t, err)
	return p
}

func applyAll(t *testing.T, ops []plan.Op, opts ApplyOptions) SimulatedDatabase {
	t.Helper()
	db := New()
	for _, op := range ops {
		var err error
		db, err = Apply(db, op, opts)
		require.NoError(t, err)
	}
	return db
}

func reverseAll(t *testing.T, db SimulatedDatabase, ops []plan.Op, opts ApplyOptions) SimulatedDatabase {
	t.Helper()
	for i := len(ops) - 1; i >= 0; i-- {
		var err error
		db, err = Reverse(db, ops[i], opts)
		require.NoError(t, err)
	}
	return db
}

// A plan that creates a collection and seeds it round-trips back to the
// empty database.
func TestApplyCreateAndSeedReversibility(t *testing.T) {
	b := plan.NewBuilder(usersSchemaSet())
	b.CreateCollection("users").
		Collection("users").
		Seed([]map[string]any{{"_id": "1", "name": "Alice"}, {"_id": "2", "name": "Bob"}}).Done()
	p := compile(t, b)

	opts := ApplyOptions{MigrationID: "2024_01_01_0000_X@seed", Now: time.Unix(0, 0), Strict: true}

	forward := applyAll(t, p.Operations, opts)
	require.Len(t, forward.Collections["users"].Content, 2)

	back := reverseAll(t, forward, p.Operations, opts)
	require.Equal(t, New(), back)
}

// Reverse removes only the documents whose _id the seed op explicitly
// supplied, leaving unrelated documents in the same collection untouched.
func TestReverseSeedDeletesBySuppliedID(t *testing.T) {
	db, err := Apply(New(), plan.CreateCollection{Name: "users"}, ApplyOptions{Strict: true})
	require.NoError(t, err)
	db, err = Apply(db, plan.SeedCollection{Name: "users", Documents: []map[string]any{{"_id": "keep", "name": "Eve"}}}, ApplyOptions{Strict: true})
	require.NoError(t, err)

	seed := plan.SeedCollection{Name: "users", Documents: []map[string]any{{"_id": "1", "name": "Alice"}, {"_id": "2", "name": "Bob"}}}
	db, err = Apply(db, seed, ApplyOptions{Strict: true})
	require.NoError(t, err)
	require.Len(t, db.Collections["users"].Content, 3)

	db, err = Reverse(db, seed, ApplyOptions{Strict: true})
	require.NoError(t, err)
	require.Len(t, db.Collections["users"].Content, 1)
	require.Equal(t, "keep", db.Collections["users"].Content[0]["_id"])
}

// Up/Down on a plain collection round-trip when Down is the true inverse
// of Up.
func TestApplyTransformReversibility(t *testing.T) {
	b := plan.NewBuilder(usersSchemaSet())
	b.CreateCollection("users").
		Collection("users").
		Seed([]map[string]any{{"name": "Alice"}}).
		Transform(plan.TransformOptions{
			Up: func(d map[string]any) (map[string]any, error) {
				d["greeting"] = "hi " + d["name"].(string)
				return d, nil
			},
			Down: func(d map[string]any) (map[string]any, error) { delete(d, "greeting"); return d, nil },
		}).Done()
	p := compile(t, b)

	opts := ApplyOptions{MigrationID: "2024_01_01_0000_X@seed", Now: time.Unix(0, 0), Strict: true}

	forward := applyAll(t, p.Operations, opts)
	require.Equal(t, "hi Alice", forward.Collections["users"].Content[0]["greeting"])

	back := reverseAll(t, forward, p.Operations, opts)
	require.Equal(t, New(), back)
}

func TestApplyStrictModeRejectsDuplicateCreate(t *testing.T) {
	opts := ApplyOptions{Strict: true}
	db, err := Apply(New(), plan.CreateCollection{Name: "users"}, opts)
	require.NoError(t, err)

	_, err = Apply(db, plan.CreateCollection{Name: "users"}, opts)
	require.ErrorIs(t, err, driver.ErrCollectionExists)
}

// In non-strict mode a document the transform cannot handle is skipped
// with a warning and kept as-is; the rest of the collection is still
// transformed. In strict mode the same failure aborts.
func TestApplyTransformNonStrictSkipsFailingDocs(t *testing.T) {
	seed := []map[string]any{{"_id": "bad", "name": "Mallory"}, {"_id": "good", "name": "Alice"}}
	up := func(d map[string]any) (map[string]any, error) {
		if d["_id"] == "bad" {
			return nil, errors.New("unexpected shape")
		}
		out := cloneDoc(d)
		out["checked"] = true
		return out, nil
	}

	db, err := Apply(New(), plan.CreateCollection{Name: "users"}, ApplyOptions{Strict: true})
	require.NoError(t, err)
	db, err = Apply(db, plan.SeedCollection{Name: "users", Documents: seed}, ApplyOptions{Strict: true})
	require.NoError(t, err)

	transform := plan.TransformCollection{Name: "users", Up: up}

	_, err = Apply(db, transform, ApplyOptions{Strict: true})
	require.Error(t, err)

	lenient, err := Apply(db, transform, ApplyOptions{Strict: false, Logger: testutil.CreateTestLogger(t)})
	require.NoError(t, err)
	content := lenient.Collections["users"].Content
	require.NotContains(t, content[0], "checked", "failing document is kept as-is")
	require.Equal(t, true, content[1]["checked"])
}

func TestApplyTransformIrreversibleRefusesReverse(t *testing.T) {
	op := plan.TransformCollection{
		Name:         "users",
		Up:           func(d map[string]any) (map[string]any, error) { return d, nil },
		Irreversible: true,
	}
	db, err := Apply(New(), plan.CreateCollection{Name: "users"}, ApplyOptions{Strict: true})
	require.NoError(t, err)
	db, err = Apply(db, op, ApplyOptions{Strict: true})
	require.NoError(t, err)

	_, err = Reverse(db, op, ApplyOptions{Strict: true})
	require.ErrorIs(t, err, driver.ErrIrreversible)
}

// Only instances whose fromMigrationId predates the fan-out migration
// receive it.
func TestApplyMultiModelFanOutVersionGuard(t *testing.T) {
	db := New()
	var err error

	db, err = Apply(db, plan.CreateMultiModelInstance{Name: "tenant-old", ModelType: "catalog"},
		ApplyOptions{MigrationID: "2024_01_01_0000_A@first", Now: time.Unix(0, 0), Strict: true})
	require.NoError(t, err)

	db, err = Apply(db, plan.CreateMultiModelInstance{Name: "tenant-new", ModelType: "catalog"},
		ApplyOptions{MigrationID: "2024_06_01_0000_B@second", Now: time.Unix(0, 0), Strict: true})
	require.NoError(t, err)

	fanOut := plan.SeedMultiModelInstancesType{
		ModelType: "catalog",
		TypeName:  "product",
		Documents: []map[string]any{{"sku": "abc"}},
	}
	db, err = Apply(db, fanOut, ApplyOptions{MigrationID: "2024_03_01_0000_C@mid", Strict: true})
	require.NoError(t, err)

	oldContent := db.MultiModels["tenant-old"].Content
	newContent := db.MultiModels["tenant-new"].Content

	require.True(t, hasTypedDoc(oldContent, "product"), "older instance should receive the fan-out seed")
	require.False(t, hasTypedDoc(newContent, "product"), "instance created after the migration should not receive it")
}

func hasTypedDoc(docs []map[string]any, typeName string) bool {
	for _, d := range docs {
		if d["_type"] == typeName {
			return true
		}
	}
	return false
}

func TestApplyMarkAsMultiModelReversible(t *testing.T) {
	db, err := Apply(New(), plan.CreateCollection{Name: "legacy"}, ApplyOptions{Strict: true})
	require.NoError(t, err)
	db, err = Apply(db, plan.SeedCollection{Name: "legacy", Documents: []map[string]any{{"k": "v"}}}, ApplyOptions{Strict: true})
	require.NoError(t, err)

	mark := plan.MarkAsMultiModel{Name: "legacy", ModelType: "catalog"}
	marked, err := Apply(db, mark, ApplyOptions{Now: time.Unix(0, 0), Strict: true})
	require.NoError(t, err)
	require.True(t, marked.hasInstance("legacy"))
	require.False(t, marked.hasCollection("legacy"))

	unmarked, err := Reverse(marked, mark, ApplyOptions{Strict: true})
	require.NoError(t, err)
	require.Equal(t, db, unmarked)
}

func TestRegistryShouldReceiveUnknownAlwaysAdmits(t *testing.T) {
	require.True(t, registry.ShouldReceive(registry.TokenUnknown, "2024_01_01_0000_A@x"))
	require.True(t, registry.ShouldReceive("2024_01_01_0000_A@x", registry.TokenUnknown))
}

// The input snapshot is observably unchanged by Apply, even though the
// output may share untouched subtrees.
func TestApplyDoesNotMutateInput(t *testing.T) {
	db, err := Apply(New(), plan.CreateCollection{Name: "users"}, ApplyOptions{Strict: true})
	require.NoError(t, err)
	db, err = Apply(db, plan.SeedCollection{Name: "users", Documents: []map[string]any{{"_id": "1", "name": "Alice"}}}, ApplyOptions{Strict: true})
	require.NoError(t, err)

	next, err := Apply(db, plan.TransformCollection{
		Name: "users",
		Up: func(d map[string]any) (map[string]any, error) {
			out := make(map[string]any, len(d)+1)
			for k, v := range d {
				out[k] = v
			}
			out["age"] = 25
			return out, nil
		},
	}, ApplyOptions{Strict: true})
	require.NoError(t, err)

	require.NotContains(t, db.Collections["users"].Content[0], "age")
	require.Equal(t, 25, next.Collections["users"].Content[0]["age"])
}

func TestApplyTracksHistoryWhenEnabled(t *testing.T) {
	opts := ApplyOptions{Strict: true, TrackHistory: true}
	db, err := Apply(New(), plan.CreateCollection{Name: "users"}, opts)
	require.NoError(t, err)
	db, err = Reverse(db, plan.CreateCollection{Name: "users"}, opts)
	require.NoError(t, err)

	require.Len(t, db.OperationHistory, 2)
	require.Equal(t, "apply", db.OperationHistory[0].Kind)
	require.Equal(t, "reverse", db.OperationHistory[1].Kind)

	db, err = Apply(New(), plan.CreateCollection{Name: "users"}, ApplyOptions{Strict: true})
	require.NoError(t, err)
	require.Empty(t, db.OperationHistory, "history is off by default")
}
