package migrate_test

import (
	"context"
	"testing"
	"time"

	migrate "github.com/mongodbee/migrate"
	"github.com/stretchr/testify/require"
)

func usersSchemas() migrate.SchemaSet {
	s := migrate.NewSchemaSet()
	s.Collections["users"] = migrate.FieldMap{
		"_id":  {Kind: "string"},
		"name": {Kind: "string", Required: true},
	}
	return s
}

// The full library surface end to end: chain a migration, apply it through
// the simulated kernel, inspect the store, roll it back.
func TestKernelUpDownRoundTrip(t *testing.T) {
	m := migrate.Migration{
		ID:      migrate.NewMigrationID(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "create-users"),
		Name:    "create users",
		Schemas: usersSchemas(),
		Migrate: func(b *migrate.Builder) error {
			b.CreateCollection("users").
				Collection("users").
				Seed([]map[string]any{{"_id": "1", "name": "Alice"}}).Done()
			return nil
		},
	}

	c, err := migrate.NewChain([]migrate.Migration{m})
	require.NoError(t, err)
	require.Len(t, c.Migrations(), 1)

	k := migrate.NewSimKernel()
	ctx := context.Background()
	require.NoError(t, k.Up(ctx, m, nil))

	docs, err := k.Store().FindPage(ctx, "users", 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, k.Down(ctx, m, nil))
	names, err := k.Store().ListCollections(ctx)
	require.NoError(t, err)
	require.NotContains(t, names, "users")
}

// A migration whose plan cannot reproduce its declared schemas is refused at
// Up time by the simulation validator.
func TestKernelUpRefusesInvalidMigration(t *testing.T) {
	schemas := usersSchemas()
	schemas.Collections["profiles"] = migrate.FieldMap{"_id": {Kind: "string"}}

	m := migrate.Migration{
		ID:      migrate.NewMigrationID(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "incomplete"),
		Name:    "incomplete",
		Schemas: schemas,
		Migrate: func(b *migrate.Builder) error {
			b.CreateCollection("users")
			return nil
		},
	}

	k := migrate.NewSimKernel()
	err := k.Up(context.Background(), m, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "profiles")
}
