// Package orchestrate applies a chain migration's compiled plan against a
// driver.DocumentStore end to end: it disables store-side validators, runs
// every op, resyncs validators and indexes, and records lineage on every
// multi-model instance the plan touched.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mongodbee/migrate/internal/logging"
	"github.com/mongodbee/migrate/internal/migrationkernel/chain"
	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
	"github.com/mongodbee/migrate/internal/migrationkernel/registry"
	"github.com/mongodbee/migrate/internal/migrationkernel/schema"
	"github.com/mongodbee/migrate/internal/migrationkernel/storeops"
	"go.uber.org/zap"
)

// Direction selects which way a migration's plan runs.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Options configures one Apply call.
type Options struct {
	// Strict mirrors simstore/storeops strict mode: a per-document or
	// per-op failure aborts the plan rather than being skipped with a
	// warning.
	Strict bool
	// PageSize bounds paged transform reads; <= 0 reads a collection
	// whole. Seed inserts do not use it.
	PageSize int
	Now      time.Time
	Logger   *logging.Logger
}

// Orchestrator applies migrations against one DocumentStore.
type Orchestrator struct {
	store driver.DocumentStore
	reg   *registry.Registry
}

// PartialApplyError reports that a migration failed after its target
// validators were disabled but before the final resync could restore them.
// The named collections/instances are left with validation off until a
// later Apply of the same migration succeeds or the operator resyncs them
// by hand; re-enabling against half-migrated documents would reject
// legitimate writes, so the kernel reports instead of guessing.
type PartialApplyError struct {
	MigrationID string
	Disabled    []string
	Err         error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("orchestrate %q: %d collection(s) left with validators disabled: %v", e.MigrationID, len(e.Disabled), e.Err)
}

func (e *PartialApplyError) Unwrap() error { return e.Err }

// New wires an Orchestrator over store, with its own instance registry.
func New(store driver.DocumentStore) *Orchestrator {
	return &Orchestrator{store: store, reg: registry.New(store)}
}

// targetSchemas picks the schema set the run converges to: up uses
// m.Schemas; down uses the parent's schemas, falling back to m.Schemas
// when m has no parent (the chain's first migration reversing to an empty
// database still needs a schema set to know what to tear down
// validators/indexes for).
func targetSchemas(m chain.Migration, parent *chain.Migration, dir Direction) plan.SchemaSet {
	if dir == Up || parent == nil {
		return m.Schemas
	}
	return parent.Schemas
}

// Apply runs migration m's compiled plan against the store in the given
// direction: validators off, ops in order, validators and indexes
// resynced, lineage recorded. parent is m's parent migration in the owning
// chain, or nil for the chain's first migration.
func (o *Orchestrator) Apply(ctx context.Context, m chain.Migration, parent *chain.Migration, dir Direction, opts Options) error {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	log := opts.Logger

	p, err := m.Compile()
	if err != nil {
		return fmt.Errorf("orchestrate %q: compile: %w", m.ID, err)
	}

	target := targetSchemas(m, parent, dir)

	if log != nil {
		log.Audit("migration: disabling validators",
			zapFields(m.ID, string(dir))...)
	}
	if err := o.disableValidators(ctx, target); err != nil {
		return fmt.Errorf("orchestrate %q: disable validators: %w", m.ID, err)
	}

	soOpts := storeops.Options{MigrationID: m.ID, Now: opts.Now, Strict: opts.Strict, PageSize: opts.PageSize, Logger: opts.Logger}
	rec := registry.NewRecorder()

	ops := p.Operations
	if dir == Down {
		ops = reversed(ops)
	}

	for i, op := range ops {
		var err error
		if dir == Up {
			_, err = storeops.Apply(ctx, o.store, o.reg, rec, op, soOpts)
		} else {
			_, err = storeops.Reverse(ctx, o.store, o.reg, rec, op, soOpts)
		}
		if err != nil {
			names, nerr := o.targetNames(ctx, target)
			if nerr != nil {
				names = nil
			}
			return &PartialApplyError{MigrationID: m.ID, Disabled: names, Err: fmt.Errorf("op %d: %w", i, err)}
		}
	}

	if log != nil {
		log.Audit("migration: resyncing validators and indexes", zapFields(m.ID, string(dir))...)
	}
	if remaining, err := o.syncValidatorsAndIndexes(ctx, target, log); err != nil {
		return &PartialApplyError{MigrationID: m.ID, Disabled: remaining, Err: fmt.Errorf("sync validators/indexes: %w", err)}
	}

	// Record lineage on every version-guard-admitted instance of every
	// model type in target that a fan-out op didn't already cover above.
	// rec's per-call dedup makes this sweep a no-op for instances an op
	// already recorded, and the same admission rule used by fan-out keeps
	// instances minted after m untouched here too.
	operation := registry.OperationApplied
	if dir == Down {
		operation = registry.OperationReverted
	}
	for modelType := range target.MultiModels {
		names, err := o.reg.Discover(ctx, modelType)
		if err != nil {
			return fmt.Errorf("orchestrate %q: discover %q: %w", m.ID, modelType, err)
		}
		for _, name := range names {
			from, err := o.reg.FromMigrationID(ctx, name)
			if err != nil {
				return fmt.Errorf("orchestrate %q: read lineage of %q: %w", m.ID, name, err)
			}
			if !registry.ShouldReceive(from, m.ID) {
				continue
			}
			if err := o.reg.RecordMigration(ctx, rec, name, m.ID, operation, opts.Now); err != nil {
				return fmt.Errorf("orchestrate %q: record lineage on %q: %w", m.ID, name, err)
			}
		}
	}

	return nil
}

func zapFields(migrationID, direction string) []zap.Field {
	return []zap.Field{zap.String("migration_id", migrationID), zap.String("direction", direction)}
}

func reversed(ops []plan.Op) []plan.Op {
	out := make([]plan.Op, len(ops))
	for i, op := range ops {
		out[len(ops)-1-i] = op
	}
	return out
}

// disableValidators turns off the store-side validator of every
// collection/instance named by target, so transforms are free to write
// transiently non-conforming documents. They are deliberately not
// re-enabled on a later failure; PartialApplyError reports them instead.
func (o *Orchestrator) disableValidators(ctx context.Context, target plan.SchemaSet) error {
	for name := range target.Collections {
		if err := o.store.SetValidator(ctx, name, nil, driver.ValidationOff); err != nil && !errors.Is(err, driver.ErrCollectionNotFound) {
			return err
		}
	}
	for name := range target.MultiCollections {
		if err := o.store.SetValidator(ctx, name, nil, driver.ValidationOff); err != nil && !errors.Is(err, driver.ErrCollectionNotFound) {
			return err
		}
	}
	for modelType := range target.MultiModels {
		names, err := o.reg.Discover(ctx, modelType)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := o.store.SetValidator(ctx, name, nil, driver.ValidationOff); err != nil && !errors.Is(err, driver.ErrCollectionNotFound) {
				return err
			}
		}
	}
	return nil
}

// syncValidatorsAndIndexes reinstalls each target collection's validator
// from its declared schema (the metadata union for templated instances)
// and reconciles its index set. It keeps going past a failing name, and on
// failure returns the names whose sync failed (their validator may still be
// off) for PartialApplyError to report; a failed instance discovery returns
// no names.
func (o *Orchestrator) syncValidatorsAndIndexes(ctx context.Context, target plan.SchemaSet, log *logging.Logger) (remaining []string, err error) {
	var errs []error
	for name, node := range target.Collections {
		if err := o.syncOne(ctx, name, node, node, log); err != nil {
			errs = append(errs, err)
			remaining = append(remaining, name)
		}
	}
	for name, typeMap := range target.MultiCollections {
		union := schema.Union(typeMap)
		if err := o.syncOne(ctx, name, union, union, log); err != nil {
			errs = append(errs, err)
			remaining = append(remaining, name)
		}
	}
	for modelType, typeMap := range target.MultiModels {
		union := schema.MetadataUnion(typeMap)
		names, derr := o.reg.Discover(ctx, modelType)
		if derr != nil {
			return nil, derr
		}
		for _, name := range names {
			if err := o.syncOne(ctx, name, union, union, log); err != nil {
				errs = append(errs, err)
				remaining = append(remaining, name)
			}
		}
	}
	if len(errs) > 0 {
		return remaining, errors.Join(errs...)
	}
	return nil, nil
}

// targetNames lists every concrete collection/instance name named by
// target, discovering multi-model instances through the registry. Used to
// report which collections a failed Apply left with disabled validators.
func (o *Orchestrator) targetNames(ctx context.Context, target plan.SchemaSet) ([]string, error) {
	var names []string
	for name := range target.Collections {
		names = append(names, name)
	}
	for name := range target.MultiCollections {
		names = append(names, name)
	}
	for modelType := range target.MultiModels {
		instances, err := o.reg.Discover(ctx, modelType)
		if err != nil {
			return nil, err
		}
		names = append(names, instances...)
	}
	return names, nil
}

func (o *Orchestrator) syncOne(ctx context.Context, name string, validatorSrc, indexSrc schema.Node, log *logging.Logger) error {
	if err := o.store.SetValidator(ctx, name, validatorSrc.EmitStoreValidator(), driver.ValidationStrict); err != nil {
		// A target collection a down-run just dropped has nothing to sync.
		if errors.Is(err, driver.ErrCollectionNotFound) {
			return nil
		}
		return fmt.Errorf("set validator on %q: %w", name, err)
	}
	var desired []driver.IndexSpec
	for _, ann := range indexSrc.ExtractIndexes() {
		desired = append(desired, driver.IndexSpec{
			Name:   indexSrc.SanitizePathName(ann.Path),
			Key:    map[string]int{ann.Path: 1},
			Keys:   []string{ann.Path},
			Unique: ann.Unique,
		})
	}
	if err := driver.SyncIndexes(ctx, o.store, name, desired, log); err != nil {
		return fmt.Errorf("sync indexes on %q: %w", name, err)
	}
	return nil
}
