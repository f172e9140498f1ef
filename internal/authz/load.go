package authz

import (
	"context"

	"catalog.evalgo.org/internal/cache"
	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

// Loader resolves (warehouse, namespace, tabular) for a request, enforces
// presence, refreshes cached parents whose versions fall behind what the
// tabular recorded, and runs the action check last. A version still
// insufficient after the refresh signals replication lag or a TOCTOU race
// and is reported as the uniform hidden error.
type Loader struct {
	store  store.Store
	cache  *cache.Cache
	engine *Engine
}

// NewLoader wires the loader.
func NewLoader(st store.Store, c *cache.Cache, engine *Engine) *Loader {
	return &Loader{store: st, cache: c, engine: engine}
}

// LoadedTable is the fully resolved context of one table request.
type LoadedTable struct {
	Warehouse *model.Warehouse
	Namespace *model.Namespace
	Tabular   *model.Tabular
}

// LoadTableForAction resolves the chain and authorizes action on the
// table.
func (l *Loader) LoadTableForAction(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, tableID ids.TableID, action TableAction) (*LoadedTable, error) {
	hidden := &catalogerr.EntityHidden{EntityKind: "Table", Action: string(action)}

	tab, err := l.store.GetTabular(ctx, warehouseID, ids.TabularIDFromTable(tableID))
	if err != nil {
		return nil, err
	}
	if tab == nil {
		return nil, hidden
	}

	// Warehouse first through the cache, minimum-version gated by the
	// version recorded on the tabular at its last link.
	w, err := l.cache.GetWarehouse(ctx, warehouseID, cache.Use())
	if err != nil {
		return nil, err
	}
	if w != nil && w.Version < tab.WarehouseVersion {
		w, err = l.cache.GetWarehouse(ctx, warehouseID, cache.RequireMinimumVersion(tab.WarehouseVersion))
		if err != nil {
			return nil, err
		}
	}
	if w == nil {
		return nil, hidden
	}
	if w.Version < tab.WarehouseVersion {
		// Even the authoritative refresh is behind the tabular: a
		// replication-lag or TOCTOU window; hide rather than guess.
		return nil, hidden
	}

	ns, err := l.cache.GetNamespace(ctx, tab.NamespaceID, cache.Use())
	if err != nil {
		return nil, err
	}
	if ns != nil && ns.Version < tab.NamespaceVersion {
		ns, err = l.cache.GetNamespace(ctx, tab.NamespaceID, cache.RequireMinimumVersion(tab.NamespaceVersion))
		if err != nil {
			return nil, err
		}
	}
	if ns == nil {
		return nil, hidden
	}
	if ns.Version < tab.NamespaceVersion {
		return nil, hidden
	}

	tab, err = l.engine.RequireTableAction(ctx, meta, warehouseID, action, tab, nil)
	if err != nil {
		return nil, err
	}
	return &LoadedTable{Warehouse: w, Namespace: ns, Tabular: tab}, nil
}
