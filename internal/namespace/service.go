// Package namespace manages the hierarchical namespace tree of a
// warehouse: creation with parent-version snapshots, hierarchy inflation
// through the versioned cache, replace-all property updates, protection,
// renames within the same parent, and recursive drops.
package namespace

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"catalog.evalgo.org/internal/cache"
	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

// Service is the namespace hierarchy service.
type Service struct {
	store  store.Store
	cache  *cache.Cache
	logger *logrus.Logger
}

// New wires the service.
func New(st store.Store, c *cache.Cache, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: st, cache: c, logger: logger}
}

// Create creates a namespace. For nested identifiers the parent must
// already exist; its current version is captured into the child's parent
// snapshot, and the parent's own version does not move.
func (s *Service) Create(ctx context.Context, warehouseID ids.WarehouseID, ident model.NamespaceIdent, properties map[string]string) (*model.Namespace, error) {
	if len(ident) == 0 {
		return nil, catalogerr.ErrInvalidNamespaceIdentifier
	}
	for _, segment := range ident {
		if segment == "" {
			return nil, catalogerr.ErrInvalidNamespaceIdentifier
		}
		if len(segment) > 128 {
			return nil, catalogerr.ErrNameTooLong
		}
	}

	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ns := model.Namespace{
		WarehouseID: warehouseID,
		Ident:       ident,
		Properties:  properties,
	}
	if len(ident) > 1 {
		parent, err := tx.GetNamespaceByIdent(ctx, warehouseID, ident[:len(ident)-1])
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, catalogerr.ErrNamespaceNotFound
		}
		ns.Parent = &model.ParentSnapshot{
			ParentID:                parent.NamespaceID,
			ParentVersionAtCreation: parent.Version,
		}
	}

	created, err := tx.CreateNamespace(ctx, ns)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.cache.PublishNamespace(ctx, created)
	return created, nil
}

// Get resolves a namespace by id and inflates its hierarchy, walking the
// ancestors through the cache under the given policy.
func (s *Service) Get(ctx context.Context, warehouseID ids.WarehouseID, id ids.NamespaceID, policy cache.Policy) (*model.NamespaceHierarchy, error) {
	ns, err := s.cache.GetNamespace(ctx, id, policy)
	if err != nil || ns == nil {
		return nil, err
	}
	if ns.WarehouseID != warehouseID {
		return nil, nil
	}
	return s.inflate(ctx, ns)
}

// GetByIdent resolves by path, case-insensitively, then inflates.
func (s *Service) GetByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.NamespaceIdent, policy cache.Policy) (*model.NamespaceHierarchy, error) {
	id, err := s.cache.ResolveIdent(ctx, warehouseID, ident)
	if err != nil || id == nil {
		return nil, err
	}
	return s.Get(ctx, warehouseID, *id, policy)
}

// inflate builds the root-first ancestor chain.
func (s *Service) inflate(ctx context.Context, ns *model.Namespace) (*model.NamespaceHierarchy, error) {
	var ancestors []model.Namespace
	parent := ns.Parent
	for parent != nil {
		anc, err := s.cache.GetNamespace(ctx, parent.ParentID, cache.RequireMinimumVersion(parent.ParentVersionAtCreation))
		if err != nil {
			return nil, err
		}
		if anc == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		// Prepend: the chain reads root first.
		ancestors = append([]model.Namespace{*anc}, ancestors...)
		parent = anc.Parent
	}
	return &model.NamespaceHierarchy{Namespace: *ns, Ancestors: ancestors}, nil
}

// List returns the direct children of parent, or the warehouse's root
// namespaces when parent is nil.
func (s *Service) List(ctx context.Context, warehouseID ids.WarehouseID, parent *ids.NamespaceID) ([]model.Namespace, error) {
	return s.store.ListNamespaces(ctx, warehouseID, parent, parent == nil)
}

// UpdateProperties replaces the whole property map. Identical maps leave
// the version unchanged and publish nothing.
func (s *Service) UpdateProperties(ctx context.Context, id ids.NamespaceID, properties map[string]string) (*model.Namespace, error) {
	return s.mutate(ctx, id, func(tx store.WriteTx) (*model.Namespace, error) {
		return tx.UpdateNamespaceProperties(ctx, id, properties)
	})
}

// SetProtected toggles drop protection.
func (s *Service) SetProtected(ctx context.Context, id ids.NamespaceID, protected bool) (*model.Namespace, error) {
	return s.mutate(ctx, id, func(tx store.WriteTx) (*model.Namespace, error) {
		return tx.SetNamespaceProtected(ctx, id, protected)
	})
}

// Rename changes the leaf segment of the namespace identifier. Moving a
// namespace under a different parent is rejected: hierarchies are acyclic
// by construction and reparenting is unsupported.
func (s *Service) Rename(ctx context.Context, id ids.NamespaceID, newIdent model.NamespaceIdent) (*model.Namespace, error) {
	if len(newIdent) == 0 {
		return nil, catalogerr.ErrInvalidNamespaceIdentifier
	}
	current, err := s.store.GetNamespace(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, catalogerr.ErrNamespaceNotFound
	}
	if len(newIdent) != len(current.Ident) {
		return nil, catalogerr.ErrReparentNotSupported
	}
	for i := 0; i < len(newIdent)-1; i++ {
		if !strings.EqualFold(newIdent[i], current.Ident[i]) {
			return nil, catalogerr.ErrReparentNotSupported
		}
	}

	oldIdent := current.Ident
	ns, err := s.mutate(ctx, id, func(tx store.WriteTx) (*model.Namespace, error) {
		return tx.RenameNamespace(ctx, id, newIdent)
	})
	if err != nil {
		return nil, err
	}
	// The old path must stop resolving immediately.
	s.cache.InvalidateIdent(current.WarehouseID, oldIdent)
	s.cache.PublishNamespace(ctx, ns)
	return ns, nil
}

// Drop removes a namespace. Without recursive the namespace must be
// empty; with recursive, child namespaces are dropped depth-first, then
// the namespace's tabulars, then the namespace itself. Protection on any
// node fails the drop unless force.
func (s *Service) Drop(ctx context.Context, warehouseID ids.WarehouseID, id ids.NamespaceID, recursive, force bool) error {
	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	dropped, err := s.dropInTx(ctx, tx, warehouseID, id, recursive, force)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, droppedID := range dropped {
		s.cache.InvalidateNamespace(ctx, droppedID)
	}
	return nil
}

func (s *Service) dropInTx(ctx context.Context, tx store.WriteTx, warehouseID ids.WarehouseID, id ids.NamespaceID, recursive, force bool) ([]ids.NamespaceID, error) {
	ns, err := tx.GetNamespace(ctx, id)
	if err != nil {
		return nil, err
	}
	if ns == nil {
		return nil, catalogerr.ErrNamespaceNotFound
	}
	if ns.Protected && !force {
		return nil, &catalogerr.Protected{Resource: "namespace " + id.String()}
	}

	var dropped []ids.NamespaceID
	if recursive {
		children, err := tx.ListNamespaces(ctx, warehouseID, &id, false)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			childDropped, err := s.dropInTx(ctx, tx, warehouseID, child.NamespaceID, true, force)
			if err != nil {
				return nil, err
			}
			dropped = append(dropped, childDropped...)
		}
		tabulars, err := tx.ListTabulars(ctx, warehouseID, store.ListTabularsQuery{
			NamespaceID:    &id,
			IncludeStaged:  true,
			IncludeDeleted: true,
			PageSize:       maxDropBatch,
		})
		if err != nil {
			return nil, err
		}
		for i := range tabulars.Items {
			if err := tx.DropTabular(ctx, warehouseID, tabulars.Items[i].TabularID, force); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.DropNamespace(ctx, id); err != nil {
		return nil, err
	}
	return append(dropped, id), nil
}

// maxDropBatch bounds how many tabulars one recursive drop takes out.
const maxDropBatch = 10000

func (s *Service) mutate(ctx context.Context, id ids.NamespaceID, fn func(store.WriteTx) (*model.Namespace, error)) (*model.Namespace, error) {
	before, err := s.store.GetNamespace(ctx, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	ns, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if before == nil || ns.Version != before.Version {
		s.cache.PublishNamespace(ctx, ns)
	}
	return ns, nil
}
