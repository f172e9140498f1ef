package namespace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/cache"
	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store/memstore"
)

func newService(t *testing.T) (*Service, *memstore.Store, ids.WarehouseID) {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	tx, err := st.BeginWrite(ctx)
	require.NoError(t, err)
	p, err := tx.CreateProject(ctx, model.Project{Name: "ns-project"})
	require.NoError(t, err)
	w, err := tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID:            p.ProjectID,
		Name:                 "analytics",
		StorageProfile:       model.StorageProfile{Kind: "s3"},
		TabularDeleteProfile: model.HardDeleteProfile(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	return New(st, cache.New(st, cache.Options{}), nil), st, w.WarehouseID
}

// TestCreateCapturesParentVersion verifies the snapshot semantics: the
// child records the parent's version, the parent's version stays put.
func TestCreateCapturesParentVersion(t *testing.T) {
	svc, _, warehouseID := newService(t)
	ctx := context.Background()

	parent, err := svc.Create(ctx, warehouseID, model.NamespaceIdent{"sales"}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), parent.Version)

	_, err = svc.UpdateProperties(ctx, parent.NamespaceID, map[string]string{"owner": "bi"})
	require.NoError(t, err)

	child, err := svc.Create(ctx, warehouseID, model.NamespaceIdent{"sales", "eu"}, nil)
	require.NoError(t, err)
	require.NotNil(t, child.Parent)
	assert.Equal(t, parent.NamespaceID, child.Parent.ParentID)
	assert.Equal(t, uint64(1), child.Parent.ParentVersionAtCreation)

	reloaded, err := svc.Get(ctx, warehouseID, parent.NamespaceID, cache.Skip())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reloaded.Namespace.Version,
		"creating a child must not advance the parent")
}

// TestCreateRequiresParent verifies nested creation under a missing
// parent fails.
func TestCreateRequiresParent(t *testing.T) {
	svc, _, warehouseID := newService(t)
	_, err := svc.Create(context.Background(), warehouseID, model.NamespaceIdent{"missing", "child"}, nil)
	assert.ErrorIs(t, err, catalogerr.ErrNamespaceNotFound)
}

// TestHierarchyInflation builds a 5-level hierarchy and checks depth 4
// with root-first ancestor order.
func TestHierarchyInflation(t *testing.T) {
	svc, _, warehouseID := newService(t)
	ctx := context.Background()

	segments := []string{"a", "b", "c", "d", "e"}
	var leaf *model.Namespace
	for i := range segments {
		ns, err := svc.Create(ctx, warehouseID, model.NamespaceIdent(segments[:i+1]), nil)
		require.NoError(t, err)
		leaf = ns
	}

	h, err := svc.Get(ctx, warehouseID, leaf.NamespaceID, cache.Use())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 4, h.Depth())
	require.Len(t, h.Ancestors, 4)
	assert.Equal(t, model.NamespaceIdent{"a"}, h.Ancestors[0].Ident)
	assert.Equal(t, model.NamespaceIdent{"a", "b"}, h.Ancestors[1].Ident)
	assert.Equal(t, model.NamespaceIdent{"a", "b", "c"}, h.Ancestors[2].Ident)
	assert.Equal(t, model.NamespaceIdent{"a", "b", "c", "d"}, h.Ancestors[3].Ident)
}

// TestGetByIdentCaseInsensitive verifies case-folded resolution.
func TestGetByIdentCaseInsensitive(t *testing.T) {
	svc, _, warehouseID := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, warehouseID, model.NamespaceIdent{"Sales"}, nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, warehouseID, model.NamespaceIdent{"Sales", "EU"}, nil)
	require.NoError(t, err)

	_, err = svc.Create(ctx, warehouseID, model.NamespaceIdent{"SALES"}, nil)
	assert.ErrorIs(t, err, catalogerr.ErrNameAlreadyExists)

	h, err := svc.GetByIdent(ctx, warehouseID, model.NamespaceIdent{"sales", "eu"}, cache.Use())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, model.NamespaceIdent{"Sales", "EU"}, h.Namespace.Ident)
}

// TestUpdatePropertiesReplaceAll verifies replace semantics and the no-op
// version rule.
func TestUpdatePropertiesReplaceAll(t *testing.T) {
	svc, _, warehouseID := newService(t)
	ctx := context.Background()

	ns, err := svc.Create(ctx, warehouseID, model.NamespaceIdent{"sales"},
		map[string]string{"owner": "bi", "tier": "gold"})
	require.NoError(t, err)

	updated, err := svc.UpdateProperties(ctx, ns.NamespaceID, map[string]string{"owner": "core"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "core"}, updated.Properties,
		"the request's map replaces everything, including unmentioned keys")
	assert.Equal(t, uint64(1), updated.Version)

	same, err := svc.UpdateProperties(ctx, ns.NamespaceID, map[string]string{"owner": "core"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), same.Version, "identical map must not advance the version")
}

// TestRenameRejectsReparenting verifies leaf renames work and reparenting
// fails.
func TestRenameRejectsReparenting(t *testing.T) {
	svc, _, warehouseID := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, warehouseID, model.NamespaceIdent{"sales"}, nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, warehouseID, model.NamespaceIdent{"ops"}, nil)
	require.NoError(t, err)
	child, err := svc.Create(ctx, warehouseID, model.NamespaceIdent{"sales", "eu"}, nil)
	require.NoError(t, err)

	renamed, err := svc.Rename(ctx, child.NamespaceID, model.NamespaceIdent{"sales", "emea"})
	require.NoError(t, err)
	assert.Equal(t, model.NamespaceIdent{"sales", "emea"}, renamed.Ident)

	// The old path no longer resolves, the new one does.
	old, err := svc.GetByIdent(ctx, warehouseID, model.NamespaceIdent{"sales", "eu"}, cache.Use())
	require.NoError(t, err)
	assert.Nil(t, old)
	fresh, err := svc.GetByIdent(ctx, warehouseID, model.NamespaceIdent{"sales", "emea"}, cache.Use())
	require.NoError(t, err)
	require.NotNil(t, fresh)

	_, err = svc.Rename(ctx, child.NamespaceID, model.NamespaceIdent{"ops", "emea"})
	assert.ErrorIs(t, err, catalogerr.ErrReparentNotSupported)

	_, err = svc.Rename(ctx, child.NamespaceID, model.NamespaceIdent{"emea"})
	assert.ErrorIs(t, err, catalogerr.ErrReparentNotSupported)
}

// TestDropGuards verifies the non-recursive emptiness rule, protection,
// and the recursive cascade order.
func TestDropGuards(t *testing.T) {
	svc, st, warehouseID := newService(t)
	ctx := context.Background()

	parent, err := svc.Create(ctx, warehouseID, model.NamespaceIdent{"sales"}, nil)
	require.NoError(t, err)
	child, err := svc.Create(ctx, warehouseID, model.NamespaceIdent{"sales", "eu"}, nil)
	require.NoError(t, err)

	tx, err := st.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.CreateTable(ctx, model.Tabular{
		WarehouseID: warehouseID,
		NamespaceID: child.NamespaceID,
		Name:        "orders",
		FsLocation:  "s3://data/sales/eu/orders",
	}, model.TableMetadata{FormatVersion: 2})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// Non-recursive drop on a non-empty namespace fails.
	err = svc.Drop(ctx, warehouseID, parent.NamespaceID, false, false)
	assert.ErrorIs(t, err, catalogerr.ErrNamespaceNotEmpty)

	// Protection on the child blocks the cascade without force.
	_, err = svc.SetProtected(ctx, child.NamespaceID, true)
	require.NoError(t, err)
	err = svc.Drop(ctx, warehouseID, parent.NamespaceID, true, false)
	var protected *catalogerr.Protected
	require.ErrorAs(t, err, &protected)

	// Forced recursive drop takes everything out.
	require.NoError(t, svc.Drop(ctx, warehouseID, parent.NamespaceID, true, true))
	gone, err := svc.Get(ctx, warehouseID, parent.NamespaceID, cache.Skip())
	require.NoError(t, err)
	assert.Nil(t, gone)
	childGone, err := svc.Get(ctx, warehouseID, child.NamespaceID, cache.Skip())
	require.NoError(t, err)
	assert.Nil(t, childGone)
}
