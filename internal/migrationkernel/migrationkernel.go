// Package migrationkernel is the facade the kernel is assembled behind:
// Kernel wires the simulation-based validator and an orchestrator over
// either a real MongoDB-backed store (mongostore) or an in-memory one
// (simstore), so a caller drives both the same way.
package migrationkernel

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mongodbee/migrate/internal/logging"
	"github.com/mongodbee/migrate/internal/migrationkernel/chain"
	"github.com/mongodbee/migrate/internal/migrationkernel/config"
	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
	"github.com/mongodbee/migrate/internal/migrationkernel/mongostore"
	"github.com/mongodbee/migrate/internal/migrationkernel/orchestrate"
	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
	"github.com/mongodbee/migrate/internal/migrationkernel/simstore"
	"github.com/mongodbee/migrate/internal/migrationkernel/validate"
)

// Config is re-exported so callers only need to import this package.
type Config = config.Config

// Kernel drives a chain of migrations against one document store: validating
// each migration's plan in simulation before letting the orchestrator
// apply or revert it.
type Kernel struct {
	store      driver.DocumentStore
	orch       *orchestrate.Orchestrator
	log        *logging.Logger
	strict     bool
	pageSize   int
	population int

	client *mongo.Client // nil for a simulated kernel; closed by Close
}

// New connects to MongoDB per cfg and returns a Kernel backed by the real
// store. The caller owns the returned Kernel's lifetime and must call
// Close to release the underlying client.
func New(ctx context.Context, cfg Config) (*Kernel, error) {
	log, err := logging.NewLogger(logging.WithLogLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("migrationkernel: logger: %w", err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("migrationkernel: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("migrationkernel: ping: %w", err)
	}

	store := mongostore.New(client.Database(cfg.MongoDatabase), cfg.BatchSize, log)
	population := cfg.ValidationPopulationSize
	if population <= 0 {
		population = 5
	}

	return &Kernel{
		store:      store,
		orch:       orchestrate.New(store),
		log:        log,
		strict:     cfg.StrictMode,
		pageSize:   cfg.BatchSize,
		population: population,
		client:     client,
	}, nil
}

// NewSimKernel returns a Kernel backed by an in-memory simulated store,
// for tests and dry runs that never need to touch a real database.
func NewSimKernel() *Kernel {
	store := simstore.NewStore(simstore.New())
	store.Strict = true
	log, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	return &Kernel{
		store:      store,
		orch:       orchestrate.New(store),
		log:        log,
		strict:     true,
		pageSize:   0,
		population: 5,
	}
}

// Store exposes the kernel's backing document store, for callers that need
// to read state the migrations produced (status tooling, tests).
func (k *Kernel) Store() driver.DocumentStore { return k.store }

// Close releases the underlying MongoDB client, if any.
func (k *Kernel) Close(ctx context.Context) error {
	if k.client == nil {
		return nil
	}
	return k.client.Disconnect(ctx)
}

// Validate simulation-checks m, using parentSchemas as the pre-migration
// schema set (the zero SchemaSet for a chain's first migration).
func (k *Kernel) Validate(m chain.Migration, parentSchemas plan.SchemaSet) (validate.Result, error) {
	return validate.Run(m, parentSchemas, validate.Options{PopulationSize: k.population})
}

// Up validates and, if the plan is sound, applies m forward against the
// store. parent is m's parent link in its chain, or nil for
// the chain's first migration.
func (k *Kernel) Up(ctx context.Context, m chain.Migration, parent *chain.Migration) error {
	parentSchemas := plan.NewSchemaSet()
	if parent != nil {
		parentSchemas = parent.Schemas
	}
	result, err := k.Validate(m, parentSchemas)
	if err != nil {
		return fmt.Errorf("migrationkernel: validate %q: %w", m.ID, err)
	}
	if !result.OK() {
		return fmt.Errorf("migrationkernel: migration %q failed validation: %v", m.ID, result.Issues)
	}
	return k.orch.Apply(ctx, m, parent, orchestrate.Up, orchestrate.Options{
		Strict: k.strict, PageSize: k.pageSize, Logger: k.log,
	})
}

// Down reverts m against the store without re-validating it.
func (k *Kernel) Down(ctx context.Context, m chain.Migration, parent *chain.Migration) error {
	return k.orch.Apply(ctx, m, parent, orchestrate.Down, orchestrate.Options{
		Strict: k.strict, PageSize: k.pageSize, Logger: k.log,
	})
}
