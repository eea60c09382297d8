package storeops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
	"github.com/mongodbee/migrate/internal/migrationkernel/registry"
	"github.com/mongodbee/migrate/internal/migrationkernel/simstore"
	"github.com/mongodbee/migrate/internal/util/testutil"
	"github.com/stretchr/testify/require"
)

func newHarness() (*simstore.Store, *registry.Registry, *registry.Recorder) {
	store := simstore.NewStore(simstore.New())
	return store, registry.New(store), registry.NewRecorder()
}

func mintInstance(t *testing.T, store *simstore.Store, reg *registry.Registry, rec *registry.Recorder, name, modelType, migrationID string) {
	t.Helper()
	_, err := Apply(context.Background(), store, reg, rec,
		plan.CreateMultiModelInstance{Name: name, ModelType: modelType},
		Options{MigrationID: migrationID, Now: time.Unix(0, 0), Strict: true})
	require.NoError(t, err)
}

func docsOf(t *testing.T, store *simstore.Store, name string) []map[string]any {
	t.Helper()
	docs, err := store.FindPage(context.Background(), name, 0, 0)
	require.NoError(t, err)
	return docs
}

func migrationEntries(t *testing.T, store *simstore.Store, name string) []map[string]any {
	t.Helper()
	for _, d := range docsOf(t, store, name) {
		if d["_type"] == registry.MigrationsDocID {
			raw, _ := d["appliedMigrations"].([]any)
			out := make([]map[string]any, len(raw))
			for i, e := range raw {
				out[i] = e.(map[string]any)
			}
			return out
		}
	}
	return nil
}

// An instance minted before the migration receives the fan-out transform
// and a lineage entry; an instance minted after it is untouched on both
// counts.
func TestApplyFanOutTransformVersionGuard(t *testing.T) {
	store, reg, rec := newHarness()
	ctx := context.Background()

	mintInstance(t, store, reg, rec, "catalog_old", "catalog", "2025_01_01_0000_AAA@init")
	mintInstance(t, store, reg, rec, "catalog_new", "catalog", "2025_12_31_0000_ZZZ@future")

	for _, name := range []string{"catalog_old", "catalog_new"} {
		require.NoError(t, store.InsertMany(ctx, name, []map[string]any{
			{"_id": name + ":1", "_type": "product", "sku": "widget"},
		}))
	}

	midID := "2025_06_01_0000_MMM@mid"
	touched, err := Apply(ctx, store, reg, registry.NewRecorder(), plan.TransformMultiModelInstancesType{
		ModelType: "catalog",
		TypeName:  "product",
		Up: func(d map[string]any) (map[string]any, error) {
			out := make(map[string]any, len(d)+1)
			for k, v := range d {
				out[k] = v
			}
			out["price"] = 0
			return out, nil
		},
		Down: func(d map[string]any) (map[string]any, error) { return d, nil },
	}, Options{MigrationID: midID, Now: time.Unix(1, 0), Strict: true})
	require.NoError(t, err)
	require.Equal(t, []string{"catalog_old"}, touched)

	for _, d := range docsOf(t, store, "catalog_old") {
		if d["_type"] == "product" {
			require.Equal(t, 0, d["price"])
		}
	}
	for _, d := range docsOf(t, store, "catalog_new") {
		require.NotContains(t, d, "price")
	}

	oldEntries := migrationEntries(t, store, "catalog_old")
	require.Len(t, oldEntries, 1)
	require.Equal(t, midID, oldEntries[0]["id"])
	require.Empty(t, migrationEntries(t, store, "catalog_new"))
}

// Marking inserts the metadata documents, re-marking is a no-op, and
// reversing removes the metadata while leaving business documents intact.
func TestMarkAsMultiModelIdempotent(t *testing.T) {
	store, reg, rec := newHarness()
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "legacy", nil))
	require.NoError(t, store.InsertMany(ctx, "legacy", []map[string]any{{"_id": "b1", "kind": "business"}}))

	mark := plan.MarkAsMultiModel{Name: "legacy", ModelType: "catalog"}
	opts := Options{MigrationID: "2025_01_01_0000_AAA@mark", Now: time.Unix(0, 0), Strict: true}

	touched, err := Apply(ctx, store, reg, rec, mark, opts)
	require.NoError(t, err)
	require.Equal(t, []string{"legacy"}, touched)
	require.Len(t, docsOf(t, store, "legacy"), 3)

	_, err = Apply(ctx, store, reg, rec, mark, opts)
	require.NoError(t, err)
	require.Len(t, docsOf(t, store, "legacy"), 3, "re-marking must not duplicate metadata")

	_, err = Reverse(ctx, store, reg, registry.NewRecorder(), mark, opts)
	require.NoError(t, err)
	docs := docsOf(t, store, "legacy")
	require.Len(t, docs, 1)
	require.Equal(t, "b1", docs[0]["_id"])
}

// TestApplySeedStampsTypeAndID: seeds through the real-applier surface carry
// the synthesized _id and _type stamps, and reverse deletes only supplied
// ids.
func TestApplySeedStampsTypeAndID(t *testing.T) {
	store, reg, rec := newHarness()
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "events", nil))

	seed := plan.SeedMultiCollectionType{
		Name:     "events",
		TypeName: "click",
		Documents: []map[string]any{
			{"_id": "click:1", "target": "a"},
			{"target": "b"},
		},
	}
	_, err := Apply(ctx, store, reg, rec, seed, Options{Strict: true})
	require.NoError(t, err)

	docs := docsOf(t, store, "events")
	require.Len(t, docs, 2)
	for _, d := range docs {
		require.Equal(t, "click", d["_type"])
		require.NotEmpty(t, d["_id"])
	}

	_, err = Reverse(ctx, store, reg, registry.NewRecorder(), seed, Options{Strict: true})
	require.NoError(t, err)
	docs = docsOf(t, store, "events")
	require.Len(t, docs, 1, "only the explicitly supplied _id is deleted on reverse")
	require.NotEqual(t, "click:1", docs[0]["_id"])
}

// In non-strict mode a failing document is skipped with a warning and its
// stored copy left untouched; the rest of the collection is still written
// back. In strict mode the same failure aborts the plan.
func TestApplyTransformNonStrictSkipsFailingDocs(t *testing.T) {
	ctx := context.Background()
	up := func(d map[string]any) (map[string]any, error) {
		if d["_id"] == "bad" {
			return nil, errors.New("unexpected shape")
		}
		out := make(map[string]any, len(d)+1)
		for k, v := range d {
			out[k] = v
		}
		out["checked"] = true
		return out, nil
	}
	transform := plan.TransformCollection{Name: "users", Up: up}

	seedStore := func(t *testing.T) (*simstore.Store, *registry.Registry, *registry.Recorder) {
		store, reg, rec := newHarness()
		require.NoError(t, store.CreateCollection(ctx, "users", nil))
		require.NoError(t, store.InsertMany(ctx, "users", []map[string]any{
			{"_id": "bad", "name": "Mallory"},
			{"_id": "good", "name": "Alice"},
		}))
		return store, reg, rec
	}

	store, reg, rec := seedStore(t)
	_, err := Apply(ctx, store, reg, rec, transform, Options{Strict: true})
	require.Error(t, err)

	store, reg, rec = seedStore(t)
	_, err = Apply(ctx, store, reg, rec, transform, Options{Strict: false, Logger: testutil.CreateTestLogger(t)})
	require.NoError(t, err)
	for _, d := range docsOf(t, store, "users") {
		if d["_id"] == "bad" {
			require.NotContains(t, d, "checked", "failing document is left untouched")
		} else {
			require.Equal(t, true, d["checked"])
		}
	}
}

// TestApplyTransformPagedMatchesUnpaged: paging through a collection in
// small pages produces the same end state as one unpaged pass.
func TestApplyTransformPagedMatchesUnpaged(t *testing.T) {
	ctx := context.Background()
	up := func(d map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(d)+1)
		for k, v := range d {
			out[k] = v
		}
		out["seen"] = true
		return out, nil
	}

	run := func(pageSize int) []map[string]any {
		store, reg, rec := newHarness()
		require.NoError(t, store.CreateCollection(ctx, "users", nil))
		var docs []map[string]any
		for i := 0; i < 7; i++ {
			docs = append(docs, map[string]any{"_id": string(rune('a' + i))})
		}
		require.NoError(t, store.InsertMany(ctx, "users", docs))

		_, err := Apply(ctx, store, reg, rec,
			plan.TransformCollection{Name: "users", Up: up, Down: up},
			Options{Strict: true, PageSize: pageSize})
		require.NoError(t, err)
		return docsOf(t, store, "users")
	}

	require.Equal(t, run(0), run(3))
}
