package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

func (o ops) GetTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID) (*model.Tabular, error) {
	var r tabularRow
	err := o.db.WithContext(ctx).
		Where("tabular_id = ? AND warehouse_id = ?", id.UUID(), uuid.UUID(warehouseID)).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tabularFromRow(&r), nil
}

func (o ops) GetTabularByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.TabularIdent) (*model.Tabular, error) {
	ns, err := o.GetNamespaceByIdent(ctx, warehouseID, ident.Namespace)
	if err != nil || ns == nil {
		return nil, err
	}
	var r tabularRow
	err = o.db.WithContext(ctx).
		Where("warehouse_id = ? AND namespace_id = ? AND name_folded = ?",
			uuid.UUID(warehouseID), uuid.UUID(ns.NamespaceID), foldName(ident.Name)).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tabularFromRow(&r), nil
}

func (o ops) GetTabularByLocation(ctx context.Context, warehouseID ids.WarehouseID, location string) (*model.Tabular, error) {
	// The stored fs_location is a prefix of any path inside the table.
	var r tabularRow
	err := o.db.WithContext(ctx).
		Where("warehouse_id = ? AND ? LIKE fs_location || '%'", uuid.UUID(warehouseID), location).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tabularFromRow(&r), nil
}

func (o ops) ListTabulars(ctx context.Context, warehouseID ids.WarehouseID, q store.ListTabularsQuery) (model.Page[model.Tabular], error) {
	db := o.db.WithContext(ctx).Where("warehouse_id = ?", uuid.UUID(warehouseID))
	if q.NamespaceID != nil {
		db = db.Where("namespace_id = ?", uuid.UUID(*q.NamespaceID))
	}
	if q.Typ != nil {
		db = db.Where("typ = ?", string(*q.Typ))
	}
	if !q.IncludeStaged {
		db = db.Where("NOT (typ = ? AND metadata_location IS NULL)", string(model.TabularTypeTable))
	}
	if q.DeletedOnly {
		db = db.Where("deleted_at IS NOT NULL")
	} else if !q.IncludeDeleted {
		db = db.Where("deleted_at IS NULL")
	}
	if q.PageToken != "" {
		token, err := model.DecodePageToken(q.PageToken)
		if err != nil {
			return model.Page[model.Tabular]{}, err
		}
		db = db.Where("(created_at, tabular_id) > (?, ?)", token.CreatedAt, token.ID)
	}
	size := q.PageSize
	if size <= 0 {
		size = 100
	}
	var rows []tabularRow
	if err := db.Order("created_at, tabular_id").Limit(size).Find(&rows).Error; err != nil {
		return model.Page[model.Tabular]{}, err
	}
	page := model.Page[model.Tabular]{Items: make([]model.Tabular, 0, len(rows))}
	for i := range rows {
		page.Items = append(page.Items, *tabularFromRow(&rows[i]))
	}
	if len(rows) == size {
		last := rows[len(rows)-1]
		page.NextPageToken = model.PageToken{CreatedAt: last.CreatedAt, ID: last.TabularID}.Encode()
	}
	return page, nil
}

func (o ops) SearchTabular(ctx context.Context, warehouseID ids.WarehouseID, pattern string) ([]model.Tabular, error) {
	var rows []tabularRow
	err := o.db.WithContext(ctx).
		Where("warehouse_id = ? AND deleted_at IS NULL AND name_folded LIKE ?",
			uuid.UUID(warehouseID), "%"+foldName(pattern)+"%").
		Order("name").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Tabular, 0, len(rows))
	for i := range rows {
		out = append(out, *tabularFromRow(&rows[i]))
	}
	return out, nil
}

func (o ops) LoadTables(ctx context.Context, warehouseID ids.WarehouseID, tableIDs []ids.TableID) (map[ids.TableID]model.TableMetadata, error) {
	out := make(map[ids.TableID]model.TableMetadata, len(tableIDs))
	for _, id := range tableIDs {
		tab, err := o.GetTabular(ctx, warehouseID, ids.TabularIDFromTable(id))
		if err != nil {
			return nil, err
		}
		if tab == nil {
			continue
		}
		md, err := o.loadTableMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		if md != nil {
			out[id] = *md
		}
	}
	return out, nil
}

func (o ops) GetViewMetadata(ctx context.Context, warehouseID ids.WarehouseID, viewID ids.ViewID) (json.RawMessage, error) {
	tab, err := o.GetTabular(ctx, warehouseID, ids.TabularIDFromView(viewID))
	if err != nil || tab == nil {
		return nil, err
	}
	var r viewRow
	err = o.db.WithContext(ctx).Where("view_id = ?", uuid.UUID(viewID)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(r.Metadata), nil
}

func (o ops) CreateTable(ctx context.Context, t model.Tabular, metadata model.TableMetadata) (*model.Tabular, error) {
	created, err := o.createTabular(ctx, &t, model.TabularTypeTable)
	if err != nil {
		return nil, err
	}
	tableID := created.TabularID.Table
	if err := o.insertTableMetadata(ctx, tableID, &metadata); err != nil {
		return nil, err
	}
	return created, nil
}

func (o ops) CreateView(ctx context.Context, t model.Tabular, metadata json.RawMessage) (*model.Tabular, error) {
	created, err := o.createTabular(ctx, &t, model.TabularTypeView)
	if err != nil {
		return nil, err
	}
	row := viewRow{ViewID: created.TabularID.UUID(), Metadata: string(metadata)}
	if err := o.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, mapConstraintError(err)
	}
	return created, nil
}

func (o ops) createTabular(ctx context.Context, t *model.Tabular, typ model.TabularType) (*model.Tabular, error) {
	db := o.db.WithContext(ctx)
	var w warehouseRow
	err := db.Where("warehouse_id = ?", uuid.UUID(t.WarehouseID)).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	if err != nil {
		return nil, err
	}
	var ns namespaceRow
	err = db.Where("namespace_id = ? AND warehouse_id = ?", uuid.UUID(t.NamespaceID), uuid.UUID(t.WarehouseID)).First(&ns).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogerr.ErrNamespaceNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Name == "" {
		return nil, catalogerr.ErrInvalidName
	}
	if len(t.Name) > 128 {
		return nil, catalogerr.ErrNameTooLong
	}
	var conflicts int64
	if err := db.Model(&tabularRow{}).
		Where("warehouse_id = ? AND namespace_id = ? AND name_folded = ? AND deleted_at IS NULL",
			uuid.UUID(t.WarehouseID), uuid.UUID(t.NamespaceID), foldName(t.Name)).
		Count(&conflicts).Error; err != nil {
		return nil, err
	}
	if conflicts > 0 {
		return nil, catalogerr.ErrNameAlreadyExists
	}
	if t.TabularID.UUID() == uuid.Nil {
		if typ == model.TabularTypeTable {
			t.TabularID = ids.TabularIDFromTable(ids.NewTableID())
		} else {
			t.TabularID = ids.TabularIDFromView(ids.NewViewID())
		}
	}
	t.NamespaceVersion = uint64(ns.Version)
	t.WarehouseVersion = uint64(w.Version)
	t.CreatedAt = o.clock()
	t.UpdatedAt = nil
	if t.FsLocation != "" && t.FsProtocol == "" {
		proto, err := locationProtocol(t.FsLocation)
		if err != nil {
			return nil, err
		}
		t.FsProtocol = proto
	}
	row := tabularToRow(t)
	if err := db.Create(row).Error; err != nil {
		return nil, mapConstraintError(err)
	}
	return tabularFromRow(row), nil
}

func (o ops) RenameTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, newNamespace ids.NamespaceID, newName string) (*model.Tabular, error) {
	db := o.db.WithContext(ctx)
	var r tabularRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tabular_id = ? AND warehouse_id = ?", id.UUID(), uuid.UUID(warehouseID)).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tabularNotFoundFor(id)
	}
	if err != nil {
		return nil, err
	}
	if newName == "" {
		return nil, catalogerr.ErrInvalidName
	}
	if len(newName) > 128 {
		return nil, catalogerr.ErrNameTooLong
	}
	var ns namespaceRow
	err = db.Where("namespace_id = ? AND warehouse_id = ?", uuid.UUID(newNamespace), uuid.UUID(warehouseID)).First(&ns).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogerr.ErrNamespaceNotFound
	}
	if err != nil {
		return nil, err
	}
	var conflicts int64
	if err := db.Model(&tabularRow{}).
		Where("tabular_id <> ? AND warehouse_id = ? AND namespace_id = ? AND name_folded = ? AND deleted_at IS NULL",
			id.UUID(), uuid.UUID(warehouseID), uuid.UUID(newNamespace), foldName(newName)).
		Count(&conflicts).Error; err != nil {
		return nil, err
	}
	if conflicts > 0 {
		return nil, catalogerr.ErrNameAlreadyExists
	}
	if r.NamespaceID != uuid.UUID(newNamespace) {
		r.NamespaceID = uuid.UUID(newNamespace)
		r.NamespaceVersion = ns.Version
	}
	r.Name = newName
	r.NameFolded = foldName(newName)
	now := o.clock()
	r.UpdatedAt = &now
	if err := db.Save(&r).Error; err != nil {
		return nil, mapConstraintError(err)
	}
	return tabularFromRow(&r), nil
}

func (o ops) MarkTabularDeleted(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, deletedAt time.Time) (*model.Tabular, error) {
	db := o.db.WithContext(ctx)
	var r tabularRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tabular_id = ? AND warehouse_id = ?", id.UUID(), uuid.UUID(warehouseID)).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tabularNotFoundFor(id)
	}
	if err != nil {
		return nil, err
	}
	if r.Protected {
		return nil, &catalogerr.Protected{Resource: "tabular " + id.String()}
	}
	now := o.clock()
	r.DeletedAt = &deletedAt
	r.UpdatedAt = &now
	if err := db.Save(&r).Error; err != nil {
		return nil, err
	}
	return tabularFromRow(&r), nil
}

func (o ops) ClearTabularDeletedAt(ctx context.Context, warehouseID ids.WarehouseID, tabularIDs []ids.TabularID) error {
	if len(tabularIDs) == 0 {
		return nil
	}
	raw := make([]uuid.UUID, 0, len(tabularIDs))
	for _, id := range tabularIDs {
		raw = append(raw, id.UUID())
	}
	return o.db.WithContext(ctx).Model(&tabularRow{}).
		Where("warehouse_id = ? AND tabular_id IN ? AND deleted_at IS NOT NULL", uuid.UUID(warehouseID), raw).
		Updates(map[string]any{"deleted_at": nil, "updated_at": o.clock()}).Error
}

func (o ops) DropTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, force bool) error {
	db := o.db.WithContext(ctx)
	var r tabularRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tabular_id = ? AND warehouse_id = ?", id.UUID(), uuid.UUID(warehouseID)).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tabularNotFoundFor(id)
	}
	if err != nil {
		return err
	}
	if r.Protected && !force {
		return &catalogerr.Protected{Resource: "tabular " + id.String()}
	}
	if r.Typ == string(model.TabularTypeTable) {
		if err := o.dropTableMetadata(ctx, r.TabularID); err != nil {
			return err
		}
	} else {
		if err := db.Delete(&viewRow{}, "view_id = ?", r.TabularID).Error; err != nil {
			return err
		}
	}
	return db.Delete(&tabularRow{}, "tabular_id = ?", r.TabularID).Error
}

func (o ops) SetTabularProtected(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, protected bool) (*model.Tabular, error) {
	db := o.db.WithContext(ctx)
	var r tabularRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tabular_id = ? AND warehouse_id = ?", id.UUID(), uuid.UUID(warehouseID)).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tabularNotFoundFor(id)
	}
	if err != nil {
		return nil, err
	}
	if r.Protected != protected {
		r.Protected = protected
		now := o.clock()
		r.UpdatedAt = &now
		if err := db.Save(&r).Error; err != nil {
			return nil, err
		}
	}
	return tabularFromRow(&r), nil
}

func tabularNotFoundFor(id ids.TabularID) error {
	if id.IsView() {
		return catalogerr.ErrViewNotFound
	}
	return catalogerr.ErrTableNotFound
}

func locationProtocol(location string) (string, error) {
	for i := 0; i+2 < len(location); i++ {
		if location[i] == ':' && location[i+1] == '/' && location[i+2] == '/' {
			if i == 0 {
				return "", catalogerr.ErrParseLocation
			}
			return location[:i], nil
		}
	}
	return "", catalogerr.ErrParseLocation
}
