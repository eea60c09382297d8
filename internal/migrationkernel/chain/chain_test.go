package chain

import (
	"testing"

	"github.com/mongodbee/migrate/internal/migrationkernel/plan"
	"github.com/stretchr/testify/require"
)

func noopMigrate(b *plan.Builder) error { return nil }

func TestChainWellFormed(t *testing.T) {
	c, err := New([]Migration{
		{ID: "2024_01_01_0000_A@init", Parent: RootParent, Migrate: noopMigrate},
		{ID: "2024_02_01_0000_B@second", Parent: "2024_01_01_0000_A@init", Migrate: noopMigrate},
		{ID: "2024_03_01_0000_C@third", Parent: "2024_02_01_0000_B@second", Migrate: noopMigrate},
	})
	require.NoError(t, err)
	require.Len(t, c.Migrations(), 3)

	head, ok := c.Head()
	require.True(t, ok)
	require.Equal(t, "2024_03_01_0000_C@third", head.ID)
}

func TestChainRejectsDuplicateID(t *testing.T) {
	_, err := New([]Migration{
		{ID: "2024_01_01_0000_A@init", Parent: RootParent, Migrate: noopMigrate},
		{ID: "2024_01_01_0000_A@init", Parent: RootParent, Migrate: noopMigrate},
	})
	require.Error(t, err)
}

func TestChainRejectsFirstWithParent(t *testing.T) {
	_, err := New([]Migration{
		{ID: "2024_01_01_0000_A@init", Parent: "ghost", Migrate: noopMigrate},
	})
	require.Error(t, err)
}

func TestChainRejectsBrokenParentLink(t *testing.T) {
	_, err := New([]Migration{
		{ID: "2024_01_01_0000_A@init", Parent: RootParent, Migrate: noopMigrate},
		{ID: "2024_02_01_0000_B@second", Parent: "not-A", Migrate: noopMigrate},
	})
	require.Error(t, err)
}

func TestChainIsFileOrderIndependent(t *testing.T) {
	c, err := New([]Migration{
		{ID: "2024_02_01_0000_B@second", Parent: "2024_01_01_0000_A@init", Migrate: noopMigrate},
		{ID: "2024_01_01_0000_A@init", Parent: RootParent, Migrate: noopMigrate},
	})
	require.NoError(t, err)
	require.Equal(t, "2024_01_01_0000_A@init", c.Migrations()[0].ID)
}

func TestChainPendingFrom(t *testing.T) {
	c, err := New([]Migration{
		{ID: "2024_01_01_0000_A@init", Parent: RootParent, Migrate: noopMigrate},
		{ID: "2024_02_01_0000_B@second", Parent: "2024_01_01_0000_A@init", Migrate: noopMigrate},
		{ID: "2024_03_01_0000_C@third", Parent: "2024_02_01_0000_B@second", Migrate: noopMigrate},
	})
	require.NoError(t, err)

	pending := c.PendingFrom("2024_01_01_0000_A@init")
	require.Len(t, pending, 2)
	require.Equal(t, "2024_02_01_0000_B@second", pending[0].ID)

	require.Len(t, c.PendingFrom(RootParent), 3)
}
