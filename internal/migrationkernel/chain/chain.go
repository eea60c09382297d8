// Package chain holds the migration record, its parent-linked chain, and
// the invariants the chain validator checks before anything else in the
// kernel trusts it: unique ids, a parentless first link, and every later
// link naming its predecessor.
package chain

import (
	"fmt"

	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
)

// RootParent is the sentinel parent id for a chain's first migration.
const RootParent = ""

// MigrateFunc declares one migration's operations against the given plan
// builder.
type MigrateFunc func(b *plan.Builder) error

// Migration is one immutable chain link.
type Migration struct {
	ID      string
	Name    string
	Parent  string // RootParent for the chain's first migration
	Schemas plan.SchemaSet
	Migrate MigrateFunc

	// Description is an optional human-readable summary shown by status/log
	// tooling; Describe falls back to Name when it's empty.
	Description string
}

// Describe returns m's Description, or its Name if no description was set.
func (m Migration) Describe() string {
	if m.Description != "" {
		return m.Description
	}
	return m.Name
}

// Compile runs Migrate against a fresh builder over m's target schema set
// and returns the resulting plan.
func (m Migration) Compile() (*plan.Plan, error) {
	b := plan.NewBuilder(m.Schemas)
	if err := m.Migrate(b); err != nil {
		return nil, fmt.Errorf("migration %q: %w", m.ID, err)
	}
	return b.Compile()
}

// Chain is a linear, parent-validated sequence of migrations.
type Chain struct {
	migrations []Migration
	byID       map[string]int
}

// New sorts migrations by id, validates the chain invariants, and returns
// the resulting Chain or the first violation found. Sorting first makes the
// result independent of the order the migrations were declared or loaded
// in.
func New(migrations []Migration) (*Chain, error) {
	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sortByID(ordered)

	byID := make(map[string]int, len(ordered))
	for i, m := range ordered {
		if _, dup := byID[m.ID]; dup {
			return nil, fmt.Errorf("chain: duplicate migration id %q", m.ID)
		}
		byID[m.ID] = i

		if i == 0 {
			if m.Parent != RootParent {
				return nil, fmt.Errorf("chain: first migration %q must have no parent, got %q", m.ID, m.Parent)
			}
			continue
		}
		if m.Parent != ordered[i-1].ID {
			return nil, fmt.Errorf("chain: migration %q has parent %q, expected %q", m.ID, m.Parent, ordered[i-1].ID)
		}
	}

	return &Chain{migrations: ordered, byID: byID}, nil
}

func sortByID(ms []Migration) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && ms[j].ID < ms[j-1].ID; j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}

// Migrations returns the chain in order.
func (c *Chain) Migrations() []Migration {
	out := make([]Migration, len(c.migrations))
	copy(out, c.migrations)
	return out
}

// Head returns the last migration in the chain, or the zero Migration and
// false for an empty chain.
func (c *Chain) Head() (Migration, bool) {
	if len(c.migrations) == 0 {
		return Migration{}, false
	}
	return c.migrations[len(c.migrations)-1], true
}

// Migration looks up one chain link by id.
func (c *Chain) Migration(id string) (Migration, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Migration{}, false
	}
	return c.migrations[i], true
}

// ParentOf returns m's parent migration, or false if m is the chain's
// first link.
func (c *Chain) ParentOf(m Migration) (Migration, bool) {
	if m.Parent == RootParent {
		return Migration{}, false
	}
	return c.Migration(m.Parent)
}

// PendingFrom returns every migration strictly after appliedID, in chain
// order, the orchestrator's up-migration worklist. An empty appliedID
// returns the whole chain.
func (c *Chain) PendingFrom(appliedID string) []Migration {
	if appliedID == RootParent {
		return c.Migrations()
	}
	i, ok := c.byID[appliedID]
	if !ok {
		return c.Migrations()
	}
	return c.Migrations()[i+1:]
}
