package pgstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

func (o ops) GetNamespace(ctx context.Context, id ids.NamespaceID) (*model.Namespace, error) {
	var r namespaceRow
	err := o.db.WithContext(ctx).Where("namespace_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return namespaceFromRow(&r)
}

func (o ops) GetNamespaceByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.NamespaceIdent) (*model.Namespace, error) {
	var r namespaceRow
	err := o.db.WithContext(ctx).
		Where("warehouse_id = ? AND namespace_name_folded = ?", uuid.UUID(warehouseID), ident.FoldedKey()).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return namespaceFromRow(&r)
}

func (o ops) ListNamespaces(ctx context.Context, warehouseID ids.WarehouseID, parent *ids.NamespaceID, rootsOnly bool) ([]model.Namespace, error) {
	db := o.db.WithContext(ctx).Where("warehouse_id = ?", uuid.UUID(warehouseID))
	switch {
	case parent != nil:
		db = db.Where("parent_namespace_id = ?", uuid.UUID(*parent))
	case rootsOnly:
		db = db.Where("parent_namespace_id IS NULL")
	}
	var rows []namespaceRow
	if err := db.Order("namespace_name_folded").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Namespace, 0, len(rows))
	for i := range rows {
		ns, err := namespaceFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *ns)
	}
	return out, nil
}

func (o ops) CreateNamespace(ctx context.Context, ns model.Namespace) (*model.Namespace, error) {
	db := o.db.WithContext(ctx)
	if len(ns.Ident) == 0 {
		return nil, catalogerr.ErrInvalidNamespaceIdentifier
	}
	var warehouses int64
	if err := db.Model(&warehouseRow{}).Where("warehouse_id = ?", uuid.UUID(ns.WarehouseID)).Count(&warehouses).Error; err != nil {
		return nil, err
	}
	if warehouses == 0 {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	if ns.Parent != nil {
		var parents int64
		if err := db.Model(&namespaceRow{}).
			Where("namespace_id = ? AND warehouse_id = ?", uuid.UUID(ns.Parent.ParentID), uuid.UUID(ns.WarehouseID)).
			Count(&parents).Error; err != nil {
			return nil, err
		}
		if parents == 0 {
			return nil, catalogerr.ErrNamespaceNotFound
		}
	}
	if ns.NamespaceID.IsNil() {
		ns.NamespaceID = ids.NewNamespaceID()
	}
	ns.Version = 0
	row, err := namespaceToRow(&ns, o.clock())
	if err != nil {
		return nil, err
	}
	if err := db.Create(row).Error; err != nil {
		return nil, mapConstraintError(err)
	}
	return namespaceFromRow(row)
}

func (o ops) UpdateNamespaceProperties(ctx context.Context, id ids.NamespaceID, props map[string]string) (*model.Namespace, error) {
	raw, err := marshalJSON(props)
	if err != nil {
		return nil, err
	}
	return o.mutateNamespace(ctx, id, func(r *namespaceRow) bool {
		current := map[string]string{}
		if r.Properties != "" {
			_ = unmarshalJSON(r.Properties, &current)
		}
		if stringMapsEqual(current, props) {
			return false
		}
		r.Properties = raw
		return true
	})
}

func (o ops) RenameNamespace(ctx context.Context, id ids.NamespaceID, ident model.NamespaceIdent) (*model.Namespace, error) {
	name, err := marshalJSON(ident)
	if err != nil {
		return nil, err
	}
	return o.mutateNamespace(ctx, id, func(r *namespaceRow) bool {
		if r.Name == name && r.NameFolded == ident.FoldedKey() {
			return false
		}
		r.Name = name
		r.NameFolded = ident.FoldedKey()
		return true
	})
}

func (o ops) SetNamespaceProtected(ctx context.Context, id ids.NamespaceID, protected bool) (*model.Namespace, error) {
	return o.mutateNamespace(ctx, id, func(r *namespaceRow) bool {
		if r.Protected == protected {
			return false
		}
		r.Protected = protected
		return true
	})
}

func (o ops) mutateNamespace(ctx context.Context, id ids.NamespaceID, fn func(*namespaceRow) bool) (*model.Namespace, error) {
	db := o.db.WithContext(ctx)
	var r namespaceRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("namespace_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogerr.ErrNamespaceNotFound
	}
	if err != nil {
		return nil, err
	}
	if fn(&r) {
		r.Version++
		if err := db.Save(&r).Error; err != nil {
			return nil, mapConstraintError(err)
		}
	}
	return namespaceFromRow(&r)
}

func (o ops) DropNamespace(ctx context.Context, id ids.NamespaceID) error {
	db := o.db.WithContext(ctx)
	var r namespaceRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("namespace_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalogerr.ErrNamespaceNotFound
	}
	if err != nil {
		return err
	}
	var children int64
	if err := db.Model(&namespaceRow{}).Where("parent_namespace_id = ?", uuid.UUID(id)).Count(&children).Error; err != nil {
		return err
	}
	if children > 0 {
		return catalogerr.ErrNamespaceNotEmpty
	}
	var tabulars int64
	if err := db.Model(&tabularRow{}).Where("namespace_id = ?", uuid.UUID(id)).Count(&tabulars).Error; err != nil {
		return err
	}
	if tabulars > 0 {
		return catalogerr.ErrNamespaceNotEmpty
	}
	return db.Delete(&namespaceRow{}, "namespace_id = ?", uuid.UUID(id)).Error
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
