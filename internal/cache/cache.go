// Package cache is the versioned entity cache in front of the catalog
// store: one cache for warehouses, one for namespaces, plus an ident-to-id
// cache mapping case-folded namespace paths to ids. Entries carry the
// entity's monotonic version; freshness is purely version-driven, there is
// no TTL. Capacity is bounded by an LRU per cache.
//
// Readers choose a policy per lookup: Use takes whatever is cached,
// RequireMinimumVersion refetches when the cached version is too old, and
// Skip always reads the authoritative store. Writers publish post-commit
// state back with the new version; no-op writes must not publish, keeping
// the version stable across consumers.
package cache

import (
	"context"
	"fmt"

	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

type policyKind int

const (
	policyUse policyKind = iota
	policyRequireMinimumVersion
	policySkip
)

// Policy selects how fresh a cached read has to be.
type Policy struct {
	kind       policyKind
	minVersion uint64
}

// Use returns the cached value if present, regardless of freshness.
func Use() Policy { return Policy{kind: policyUse} }

// RequireMinimumVersion accepts the cached value only at or above v,
// refetching otherwise. Callers pass the version observed on an earlier
// authoritative read to stay safe against colder replicas.
func RequireMinimumVersion(v uint64) Policy {
	return Policy{kind: policyRequireMinimumVersion, minVersion: v}
}

// Skip bypasses the cache entirely and repopulates from the store.
func Skip() Policy { return Policy{kind: policySkip} }

// DistTier is an optional second cache level shared between replicas, e.g.
// Redis. Lookups consult it between the in-process map and the store.
type DistTier interface {
	GetWarehouse(ctx context.Context, id ids.WarehouseID) (*model.Warehouse, error)
	SetWarehouse(ctx context.Context, w *model.Warehouse) error
	GetNamespace(ctx context.Context, id ids.NamespaceID) (*model.Namespace, error)
	SetNamespace(ctx context.Context, ns *model.Namespace) error
	DeleteNamespace(ctx context.Context, id ids.NamespaceID) error
}

// Cache is the two-level versioned cache. The zero value is not usable;
// construct with New.
type Cache struct {
	src  store.Reads
	dist DistTier

	warehouses *lruMap[ids.WarehouseID, model.Warehouse]
	namespaces *lruMap[ids.NamespaceID, model.Namespace]
	identToID  *lruMap[string, ids.NamespaceID]
}

// Options tunes cache construction.
type Options struct {
	// MaxEntries caps each cache; 0 means the default of 4096.
	MaxEntries int
	// Dist optionally plugs a shared tier between the in-process maps and
	// the store.
	Dist DistTier
}

// New builds a cache reading through to src.
func New(src store.Reads, opts Options) *Cache {
	max := opts.MaxEntries
	if max <= 0 {
		max = 4096
	}
	return &Cache{
		src:        src,
		dist:       opts.Dist,
		warehouses: newLRUMap[ids.WarehouseID, model.Warehouse](max),
		namespaces: newLRUMap[ids.NamespaceID, model.Namespace](max),
		identToID:  newLRUMap[string, ids.NamespaceID](max),
	}
}

// GetWarehouse resolves a warehouse under the given policy. A clean miss
// in the store returns (nil, nil).
func (c *Cache) GetWarehouse(ctx context.Context, id ids.WarehouseID, p Policy) (*model.Warehouse, error) {
	if p.kind != policySkip {
		if w, ok := c.warehouses.get(id); ok {
			if p.kind == policyUse || w.Version >= p.minVersion {
				return &w, nil
			}
		}
		if c.dist != nil {
			if w, err := c.dist.GetWarehouse(ctx, id); err == nil && w != nil {
				if p.kind == policyUse || w.Version >= p.minVersion {
					c.warehouses.put(id, *w)
					return w, nil
				}
			}
		}
	}
	w, err := c.src.GetWarehouse(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		c.warehouses.remove(id)
		return nil, nil
	}
	c.PublishWarehouse(ctx, w)
	return w, nil
}

// GetNamespace resolves a namespace under the given policy, applying the
// parent-version gate: if any cached ancestor is older than the version
// snapshot its child recorded, the child and the offending ancestor are
// evicted and the whole chain is refetched authoritatively.
func (c *Cache) GetNamespace(ctx context.Context, id ids.NamespaceID, p Policy) (*model.Namespace, error) {
	if p.kind != policySkip {
		if ns, ok := c.namespaces.get(id); ok {
			if p.kind == policyUse || ns.Version >= p.minVersion {
				stale, err := c.staleAncestor(ctx, &ns)
				if err != nil {
					return nil, err
				}
				if stale == nil {
					return &ns, nil
				}
				c.InvalidateNamespace(ctx, id)
				c.InvalidateNamespace(ctx, *stale)
			}
		}
		if c.dist != nil {
			if ns, err := c.dist.GetNamespace(ctx, id); err == nil && ns != nil {
				if p.kind == policyUse || ns.Version >= p.minVersion {
					if stale, err := c.staleAncestor(ctx, ns); err == nil && stale == nil {
						c.publishNamespaceLocal(ns)
						return ns, nil
					}
				}
			}
		}
	}
	ns, err := c.src.GetNamespace(ctx, id)
	if err != nil {
		return nil, err
	}
	if ns == nil {
		c.InvalidateNamespace(ctx, id)
		return nil, nil
	}
	c.PublishNamespace(ctx, ns)
	if err := c.refreshAncestors(ctx, ns); err != nil {
		return nil, err
	}
	return ns, nil
}

// staleAncestor walks the ancestor chain. Each hop compares the version
// snapshot the child captured at creation against the ancestor's cached
// version; a cached ancestor strictly older than the snapshot means the
// cache entry predates the child's world. Ancestors absent from the cache
// are fetched authoritatively and published; an ancestor that no longer
// exists in the store counts as stale.
func (c *Cache) staleAncestor(ctx context.Context, ns *model.Namespace) (*ids.NamespaceID, error) {
	current := ns
	for current.Parent != nil {
		snapshot := current.Parent
		parent, ok := c.namespaces.get(snapshot.ParentID)
		if !ok {
			fetched, err := c.src.GetNamespace(ctx, snapshot.ParentID)
			if err != nil {
				return nil, err
			}
			if fetched == nil {
				// Parent gone entirely: the child is stale by definition.
				id := snapshot.ParentID
				return &id, nil
			}
			c.PublishNamespace(ctx, fetched)
			parent = *fetched
		}
		if parent.Version < snapshot.ParentVersionAtCreation {
			id := snapshot.ParentID
			return &id, nil
		}
		current = &parent
	}
	return nil, nil
}

// refreshAncestors repopulates the whole ancestor chain from the store so
// a subsequent hierarchy inflation sees versions at least as fresh as the
// child's snapshots.
func (c *Cache) refreshAncestors(ctx context.Context, ns *model.Namespace) error {
	parent := ns.Parent
	for parent != nil {
		fetched, err := c.src.GetNamespace(ctx, parent.ParentID)
		if err != nil {
			return err
		}
		if fetched == nil {
			return nil
		}
		c.PublishNamespace(ctx, fetched)
		parent = fetched.Parent
	}
	return nil
}

// ResolveIdent maps a case-folded namespace path to its id, consulting the
// ident-to-id cache first.
func (c *Cache) ResolveIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.NamespaceIdent) (*ids.NamespaceID, error) {
	key := identKey(warehouseID, ident)
	if id, ok := c.identToID.get(key); ok {
		return &id, nil
	}
	ns, err := c.src.GetNamespaceByIdent(ctx, warehouseID, ident)
	if err != nil {
		return nil, err
	}
	if ns == nil {
		return nil, nil
	}
	c.PublishNamespace(ctx, ns)
	id := ns.NamespaceID
	return &id, nil
}

// PublishWarehouse inserts post-commit warehouse state. Callers only invoke
// it when the write observably changed the entity; a no-op write never
// publishes.
func (c *Cache) PublishWarehouse(ctx context.Context, w *model.Warehouse) {
	c.warehouses.put(w.WarehouseID, *w)
	if c.dist != nil {
		_ = c.dist.SetWarehouse(ctx, w)
	}
}

// PublishNamespace inserts post-commit namespace state and refreshes the
// ident mapping.
func (c *Cache) PublishNamespace(ctx context.Context, ns *model.Namespace) {
	c.publishNamespaceLocal(ns)
	if c.dist != nil {
		_ = c.dist.SetNamespace(ctx, ns)
	}
}

func (c *Cache) publishNamespaceLocal(ns *model.Namespace) {
	c.namespaces.put(ns.NamespaceID, *ns)
	c.identToID.put(identKey(ns.WarehouseID, ns.Ident), ns.NamespaceID)
}

// InvalidateIdent drops one ident-to-id mapping, e.g. after a rename made
// the old path invalid.
func (c *Cache) InvalidateIdent(warehouseID ids.WarehouseID, ident model.NamespaceIdent) {
	c.identToID.remove(identKey(warehouseID, ident))
}

// InvalidateWarehouse evicts one warehouse.
func (c *Cache) InvalidateWarehouse(ctx context.Context, id ids.WarehouseID) {
	c.warehouses.remove(id)
}

// InvalidateNamespace evicts one namespace together with its ident-to-id
// mapping.
func (c *Cache) InvalidateNamespace(ctx context.Context, id ids.NamespaceID) {
	if ns, ok := c.namespaces.get(id); ok {
		c.identToID.remove(identKey(ns.WarehouseID, ns.Ident))
	}
	c.namespaces.remove(id)
	if c.dist != nil {
		_ = c.dist.DeleteNamespace(ctx, id)
	}
}

func identKey(warehouseID ids.WarehouseID, ident model.NamespaceIdent) string {
	return fmt.Sprintf("%s/%s", warehouseID, ident.FoldedKey())
}
