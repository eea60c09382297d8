// Package migrate is the public surface of the schema-migration engine for
// MongoDB-style document stores. Applications declare a chain of
// migrations, each carrying the complete post-migration schema set and a
// plan built through the fluent builder, then drive them through a Kernel,
// which simulation-validates every plan before letting it touch the real
// database.
//
//	m := migrate.Migration{
//		ID:      migrate.NewMigrationID(time.Now(), "create-users"),
//		Name:    "create users",
//		Schemas: schemas,
//		Migrate: func(b *migrate.Builder) error {
//			b.CreateCollection("users").
//				Collection("users").
//				Seed(users).Done()
//			return nil
//		},
//	}
package migrate

import (
	"context"
	"time"

	"github.com/mongodbee/migrate/internal/migrationkernel"
	"github.com/mongodbee/migrate/internal/migrationkernel/chain"
	"github.com/mongodbee/migrate/internal/migrationkernel/config"
	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
	"github.com/mongodbee/migrate/internal/migrationkernel/idgen"
	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
	"github.com/mongodbee/migrate/internal/migrationkernel/schema"
	"github.com/mongodbee/migrate/internal/migrationkernel/validate"
)

// Re-exported kernel types; see the corresponding internal packages for the
// full documentation.
type (
	Config    = config.Config
	Kernel    = migrationkernel.Kernel
	Migration = chain.Migration
	Chain     = chain.Chain

	Builder          = plan.Builder
	Plan             = plan.Plan
	SchemaSet        = plan.SchemaSet
	TransformFunc    = plan.TransformFunc
	TransformOptions = plan.TransformOptions

	SchemaNode = schema.Node
	FieldMap   = schema.FieldMap
	Field      = schema.Field

	DocumentStore    = driver.DocumentStore
	ValidationResult = validate.Result
)

// LoadConfig binds Config from a local .env file and the environment.
func LoadConfig() (*Config, error) { return config.Load() }

// NewKernel connects to the configured MongoDB database and returns a
// Kernel backed by it.
func NewKernel(ctx context.Context, cfg Config) (*Kernel, error) {
	return migrationkernel.New(ctx, cfg)
}

// NewSimKernel returns a Kernel backed by an in-memory simulated store, for
// tests and dry runs.
func NewSimKernel() *Kernel { return migrationkernel.NewSimKernel() }

// NewChain validates migrations (unique ids, proper parent links) and
// returns them as an ordered chain.
func NewChain(migrations []Migration) (*Chain, error) { return chain.New(migrations) }

// NewSchemaSet returns an empty, ready-to-populate schema set.
func NewSchemaSet() SchemaSet { return plan.NewSchemaSet() }

// NewMigrationID builds a lexicographically time-ordered migration id of
// the form YYYY_MM_DD_HHMM_<ULID>@<slug>.
func NewMigrationID(t time.Time, slug string) string { return idgen.NewMigrationID(t, slug) }
