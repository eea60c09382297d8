package plan

import (
	"testing"

	"github.com/mongodbee/migrate/internal/migrationkernel/schema"
	"github.com/stretchr/testify/require"
)

func usersSchemaSet() SchemaSet {
	s := NewSchemaSet()
	s.Collections["users"] = schema.FieldMap{
		"_id":  {Kind: schema.KindString, Required: true},
		"name": {Kind: schema.KindString, Required: true},
	}
	return s
}

func TestBuilderCreateAndSeed(t *testing.T) {
	b := NewBuilder(usersSchemaSet())
	b.CreateCollection("users").
		Collection("users").
		Seed([]map[string]any{
			{"_id": "1", "name": "Alice"},
			{"_id": "2", "name": "Bob"},
		}).Done()

	p, err := b.Compile()
	require.NoError(t, err)
	require.True(t, p.Has(PlanPropertyLossy))
	require.False(t, p.Has(PlanPropertyIrreversible))
	require.Len(t, p.Operations, 2)

	_, ok := p.Operations[0].(CreateCollection)
	require.True(t, ok)
	seed, ok := p.Operations[1].(SeedCollection)
	require.True(t, ok)
	require.Len(t, seed.Documents, 2)
}

func TestBuilderSeedValidationFailsBeforeCompile(t *testing.T) {
	b := NewBuilder(usersSchemaSet())
	b.Collection("users").Seed([]map[string]any{{"_id": "1"}}) // missing required name

	_, err := b.Compile()
	require.Error(t, err)
}

func TestBuilderTransformMarksIrreversible(t *testing.T) {
	b := NewBuilder(usersSchemaSet())
	noop := func(d map[string]any) (map[string]any, error) { return d, nil }
	b.Collection("users").Transform(TransformOptions{Up: noop, Down: noop, Irreversible: true})

	p, err := b.Compile()
	require.NoError(t, err)
	require.True(t, p.Has(PlanPropertyIrreversible))
}

func TestBuilderUpdateIndexesMissingSchemaFails(t *testing.T) {
	b := NewBuilder(NewSchemaSet())
	b.UpdateIndexes("ghost")

	_, err := b.Compile()
	require.Error(t, err)
}

func TestBuilderMultiModelFanOutSeed(t *testing.T) {
	s := NewSchemaSet()
	s.MultiModels["catalog"] = map[string]schema.Node{
		"product": schema.FieldMap{"_id": {Kind: schema.KindString}, "sku": {Kind: schema.KindString, Required: true}},
	}
	b := NewBuilder(s)
	b.MultiModel("catalog").Type("product").Seed([]map[string]any{{"sku": "abc"}})

	p, err := b.Compile()
	require.NoError(t, err)
	require.Len(t, p.Operations, 1)
	op, ok := p.Operations[0].(SeedMultiModelInstancesType)
	require.True(t, ok)
	require.Equal(t, "catalog", op.ModelType)
	require.Equal(t, "product", op.TypeName)
}
