package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store/memstore"
)

func seedWarehouse(t *testing.T, s *memstore.Store) (ids.ProjectID, model.Warehouse) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	p, err := tx.CreateProject(ctx, model.Project{Name: "cache-project"})
	require.NoError(t, err)
	w, err := tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID:            p.ProjectID,
		Name:                 "analytics",
		StorageProfile:       model.StorageProfile{Kind: "s3"},
		TabularDeleteProfile: model.HardDeleteProfile(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return p.ProjectID, *w
}

// TestGetWarehousePolicies exercises Use, RequireMinimumVersion and Skip.
func TestGetWarehousePolicies(t *testing.T) {
	s := memstore.New()
	_, w := seedWarehouse(t, s)
	ctx := context.Background()
	c := New(s, Options{})

	// First read populates the cache.
	got, err := c.GetWarehouse(ctx, w.WarehouseID, Use())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(0), got.Version)

	// Bump the version behind the cache's back.
	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	bumped, err := tx.RenameWarehouse(ctx, w.WarehouseID, "analytics-eu")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	require.Equal(t, uint64(1), bumped.Version)

	// Use still serves the stale entry.
	got, err = c.GetWarehouse(ctx, w.WarehouseID, Use())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Version)

	// RequireMinimumVersion forces the refetch.
	got, err = c.GetWarehouse(ctx, w.WarehouseID, RequireMinimumVersion(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, "analytics-eu", got.Name)

	// The refetch repopulated; Use now sees the new version.
	got, err = c.GetWarehouse(ctx, w.WarehouseID, Use())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)

	// Skip always reads through.
	got, err = c.GetWarehouse(ctx, w.WarehouseID, Skip())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
}

// TestParentVersionGate verifies the stale-parent eviction: a child whose
// recorded parent snapshot exceeds the cached parent's version is evicted
// and refetched, inflating to the fresh parent.
func TestParentVersionGate(t *testing.T) {
	s := memstore.New()
	_, w := seedWarehouse(t, s)
	ctx := context.Background()
	c := New(s, Options{})

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	parent, err := tx.CreateNamespace(ctx, model.Namespace{
		WarehouseID: w.WarehouseID,
		Ident:       model.NamespaceIdent{"sales"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// Seed the cache with the parent at version 0.
	stale := *parent
	c.PublishNamespace(ctx, &stale)

	// Update the parent (version 1) and create the child capturing v1.
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	fresh, err := tx.UpdateNamespaceProperties(ctx, parent.NamespaceID, map[string]string{"owner": "bi"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), fresh.Version)
	child, err := tx.CreateNamespace(ctx, model.Namespace{
		WarehouseID: w.WarehouseID,
		Ident:       model.NamespaceIdent{"sales", "eu"},
		Parent: &model.ParentSnapshot{
			ParentID:                fresh.NamespaceID,
			ParentVersionAtCreation: fresh.Version,
		},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// Insert the fresh child while the cached parent is still at v0. The
	// child's snapshot (v1) exceeds it, so the lookup must detect the
	// stale chain, refetch and end with a fresh parent in cache.
	c.publishNamespaceLocal(child)

	got, err := c.GetNamespace(ctx, child.NamespaceID, Use())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, child.NamespaceID, got.NamespaceID)

	cachedParent, err := c.GetNamespace(ctx, parent.NamespaceID, Use())
	require.NoError(t, err)
	require.NotNil(t, cachedParent)
	assert.Equal(t, uint64(1), cachedParent.Version)
}

// TestIdentEvictionCascade verifies that invalidating a namespace also
// drops its ident-to-id mapping.
func TestIdentEvictionCascade(t *testing.T) {
	s := memstore.New()
	_, w := seedWarehouse(t, s)
	ctx := context.Background()
	c := New(s, Options{})

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	ns, err := tx.CreateNamespace(ctx, model.Namespace{
		WarehouseID: w.WarehouseID,
		Ident:       model.NamespaceIdent{"Sales"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	id, err := c.ResolveIdent(ctx, w.WarehouseID, model.NamespaceIdent{"sales"})
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, ns.NamespaceID, *id)

	// Drop the namespace authoritatively and invalidate: the mapping must
	// not serve the dead id from cache.
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DropNamespace(ctx, ns.NamespaceID))
	require.NoError(t, tx.Commit(ctx))
	c.InvalidateNamespace(ctx, ns.NamespaceID)

	id, err = c.ResolveIdent(ctx, w.WarehouseID, model.NamespaceIdent{"sales"})
	require.NoError(t, err)
	assert.Nil(t, id)
}

// TestLRUEviction verifies the count cap.
func TestLRUEviction(t *testing.T) {
	m := newLRUMap[int, string](2)
	m.put(1, "a")
	m.put(2, "b")
	m.put(3, "c")

	_, ok := m.get(1)
	assert.False(t, ok, "oldest entry should have been evicted")
	v, ok := m.get(2)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = m.get(3)
	assert.True(t, ok)

	// Touching 2 keeps it over 3 on the next eviction.
	m.get(2)
	m.put(4, "d")
	_, ok = m.get(3)
	assert.False(t, ok)
	_, ok = m.get(2)
	assert.True(t, ok)
}
