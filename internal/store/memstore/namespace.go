package memstore

import (
	"context"
	"sort"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

func (s *Store) GetNamespace(ctx context.Context, id ids.NamespaceID) (*model.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getNamespace(id)
}

func (s *Store) GetNamespaceByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.NamespaceIdent) (*model.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getNamespaceByIdent(warehouseID, ident)
}

func (s *Store) ListNamespaces(ctx context.Context, warehouseID ids.WarehouseID, parent *ids.NamespaceID, rootsOnly bool) ([]model.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listNamespaces(warehouseID, parent, rootsOnly)
}

func (t *readTx) GetNamespace(ctx context.Context, id ids.NamespaceID) (*model.Namespace, error) {
	return t.s.GetNamespace(ctx, id)
}

func (t *readTx) GetNamespaceByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.NamespaceIdent) (*model.Namespace, error) {
	return t.s.GetNamespaceByIdent(ctx, warehouseID, ident)
}

func (t *readTx) ListNamespaces(ctx context.Context, warehouseID ids.WarehouseID, parent *ids.NamespaceID, rootsOnly bool) ([]model.Namespace, error) {
	return t.s.ListNamespaces(ctx, warehouseID, parent, rootsOnly)
}

func (t *writeTx) GetNamespace(ctx context.Context, id ids.NamespaceID) (*model.Namespace, error) {
	return t.s.st.getNamespace(id)
}

func (t *writeTx) GetNamespaceByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.NamespaceIdent) (*model.Namespace, error) {
	return t.s.st.getNamespaceByIdent(warehouseID, ident)
}

func (t *writeTx) ListNamespaces(ctx context.Context, warehouseID ids.WarehouseID, parent *ids.NamespaceID, rootsOnly bool) ([]model.Namespace, error) {
	return t.s.st.listNamespaces(warehouseID, parent, rootsOnly)
}

func (t *writeTx) CreateNamespace(ctx context.Context, ns model.Namespace) (*model.Namespace, error) {
	return t.s.st.createNamespace(ns)
}

func (t *writeTx) UpdateNamespaceProperties(ctx context.Context, id ids.NamespaceID, props map[string]string) (*model.Namespace, error) {
	return t.s.st.mutateNamespace(id, func(n *model.Namespace) bool {
		if stringMapsEqual(n.Properties, props) {
			return false
		}
		n.Properties = copyStringMap(props)
		return true
	})
}

func (t *writeTx) RenameNamespace(ctx context.Context, id ids.NamespaceID, ident model.NamespaceIdent) (*model.Namespace, error) {
	s := t.s.st
	n, ok := s.namespaces[id]
	if !ok {
		return nil, catalogerr.ErrNamespaceNotFound
	}
	key := ident.FoldedKey()
	for _, existing := range s.namespaces {
		if existing.NamespaceID != id && existing.WarehouseID == n.WarehouseID &&
			existing.Ident.FoldedKey() == key {
			return nil, catalogerr.ErrNameAlreadyExists
		}
	}
	return s.mutateNamespace(id, func(n *model.Namespace) bool {
		if n.Ident.FoldedKey() == ident.FoldedKey() && identEqual(n.Ident, ident) {
			return false
		}
		n.Ident = append(model.NamespaceIdent(nil), ident...)
		return true
	})
}

func identEqual(a, b model.NamespaceIdent) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *writeTx) SetNamespaceProtected(ctx context.Context, id ids.NamespaceID, protected bool) (*model.Namespace, error) {
	return t.s.st.mutateNamespace(id, func(n *model.Namespace) bool {
		if n.Protected == protected {
			return false
		}
		n.Protected = protected
		return true
	})
}

func (t *writeTx) DropNamespace(ctx context.Context, id ids.NamespaceID) error {
	return t.s.st.dropNamespace(id)
}

func (s *state) getNamespace(id ids.NamespaceID) (*model.Namespace, error) {
	n, ok := s.namespaces[id]
	if !ok {
		return nil, nil
	}
	return copyNamespace(n), nil
}

func (s *state) getNamespaceByIdent(warehouseID ids.WarehouseID, ident model.NamespaceIdent) (*model.Namespace, error) {
	key := ident.FoldedKey()
	for _, n := range s.namespaces {
		if n.WarehouseID == warehouseID && n.Ident.FoldedKey() == key {
			return copyNamespace(n), nil
		}
	}
	return nil, nil
}

func (s *state) listNamespaces(warehouseID ids.WarehouseID, parent *ids.NamespaceID, rootsOnly bool) ([]model.Namespace, error) {
	var out []model.Namespace
	for _, n := range s.namespaces {
		if n.WarehouseID != warehouseID {
			continue
		}
		switch {
		case parent != nil:
			if n.Parent == nil || n.Parent.ParentID != *parent {
				continue
			}
		case rootsOnly:
			if n.Parent != nil {
				continue
			}
		}
		out = append(out, *copyNamespace(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ident.FoldedKey() < out[j].Ident.FoldedKey() })
	return out, nil
}

func (s *state) createNamespace(ns model.Namespace) (*model.Namespace, error) {
	if _, ok := s.warehouses[ns.WarehouseID]; !ok {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	if len(ns.Ident) == 0 {
		return nil, catalogerr.ErrInvalidNamespaceIdentifier
	}
	key := ns.Ident.FoldedKey()
	for _, existing := range s.namespaces {
		if existing.WarehouseID == ns.WarehouseID && existing.Ident.FoldedKey() == key {
			return nil, catalogerr.ErrNameAlreadyExists
		}
	}
	if ns.Parent != nil {
		parent, ok := s.namespaces[ns.Parent.ParentID]
		if !ok || parent.WarehouseID != ns.WarehouseID {
			return nil, catalogerr.ErrNamespaceNotFound
		}
	}
	if ns.NamespaceID.IsNil() {
		ns.NamespaceID = ids.NewNamespaceID()
	}
	ns.Version = 0
	s.namespaces[ns.NamespaceID] = copyNamespace(&ns)
	return copyNamespace(&ns), nil
}

func (s *state) mutateNamespace(id ids.NamespaceID, fn func(*model.Namespace) bool) (*model.Namespace, error) {
	n, ok := s.namespaces[id]
	if !ok {
		return nil, catalogerr.ErrNamespaceNotFound
	}
	if fn(n) {
		n.Version++
	}
	return copyNamespace(n), nil
}

func (s *state) dropNamespace(id ids.NamespaceID) error {
	if _, ok := s.namespaces[id]; !ok {
		return catalogerr.ErrNamespaceNotFound
	}
	for _, child := range s.namespaces {
		if child.Parent != nil && child.Parent.ParentID == id {
			return catalogerr.ErrNamespaceNotEmpty
		}
	}
	for _, t := range s.tabulars {
		if t.NamespaceID == id {
			return catalogerr.ErrNamespaceNotEmpty
		}
	}
	delete(s.namespaces, id)
	return nil
}

func stringMapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
