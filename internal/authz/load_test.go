package authz

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

// TestLoadTableRefreshesStaleCache verifies the version-triggered refetch:
// a cached namespace older than the version the tabular recorded is
// refreshed before the action check runs.
func TestLoadTableRefreshesStaleCache(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	tx, err := st.BeginWrite(ctx)
	require.NoError(t, err)
	project, err := tx.CreateProject(ctx, model.Project{Name: "load-project"})
	require.NoError(t, err)
	w, err := tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID:            project.ProjectID,
		Name:                 "analytics",
		StorageProfile:       model.StorageProfile{Kind: "s3"},
		TabularDeleteProfile: model.HardDeleteProfile(),
	})
	require.NoError(t, err)
	ns, err := tx.CreateNamespace(ctx, model.Namespace{
		WarehouseID: w.WarehouseID,
		Ident:       model.NamespaceIdent{"sales"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// Remember the stale shape, then advance the namespace before the
	// table links against it.
	staleNs := *ns
	tx, err = st.BeginWrite(ctx)
	require.NoError(t, err)
	fresh, err := tx.UpdateNamespaceProperties(ctx, ns.NamespaceID, map[string]string{"owner": "bi"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), fresh.Version)
	tab, err := tx.CreateTable(ctx, model.Tabular{
		WarehouseID: w.WarehouseID,
		NamespaceID: ns.NamespaceID,
		Name:        "orders",
		FsLocation:  "s3://data/sales/orders",
	}, model.TableMetadata{FormatVersion: 2})
	require.NoError(t, err)
	require.Equal(t, uint64(1), tab.NamespaceVersion)
	require.NoError(t, tx.Commit(ctx))

	c := cache.New(st, cache.Options{})
	// Poison the cache with the pre-update namespace.
	c.PublishNamespace(ctx, &staleNs)

	engine := NewEngine(AllowAll{}, nil)
	loader := NewLoader(st, c, engine)
	meta := RequestMetadata{Actor: ActorUser(ids.NewUserID())}

	loaded, err := loader.LoadTableForAction(ctx, meta, w.WarehouseID, tab.TabularID.Table, TableCanGetMetadata)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.Namespace.Version, "the stale entry must be refreshed")
	assert.Equal(t, tab.TabularID.Table, loaded.Tabular.TabularID.Table)

	// A missing table answers with the uniform hidden error.
	_, err = loader.LoadTableForAction(ctx, meta, w.WarehouseID, ids.NewTableID(), TableCanGetMetadata)
	var hidden *catalogerr.EntityHidden
	require.ErrorAs(t, err, &hidden)
}
