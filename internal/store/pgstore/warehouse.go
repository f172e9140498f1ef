package pgstore

import (
	"context"
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

func (o ops) GetWarehouse(ctx context.Context, id ids.WarehouseID) (*model.Warehouse, error) {
	var r warehouseRow
	err := o.db.WithContext(ctx).Where("warehouse_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return warehouseFromRow(&r)
}

func (o ops) GetWarehouseByName(ctx context.Context, projectID ids.ProjectID, name string) (*model.Warehouse, error) {
	var r warehouseRow
	err := o.db.WithContext(ctx).
		Where("project_id = ? AND warehouse_name_folded = ?", uuid.UUID(projectID), foldName(name)).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return warehouseFromRow(&r)
}

func (o ops) ListWarehouses(ctx context.Context, projectID ids.ProjectID, q store.ListWarehousesQuery) ([]model.Warehouse, error) {
	db := o.db.WithContext(ctx).Where("project_id = ?", uuid.UUID(projectID))
	if !q.IncludeInactive {
		db = db.Where("status = ?", string(model.WarehouseStatusActive))
	}
	var rows []warehouseRow
	if err := db.Order("warehouse_name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Warehouse, 0, len(rows))
	for i := range rows {
		w, err := warehouseFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, nil
}

func (o ops) GetWarehouseStatistics(ctx context.Context, id ids.WarehouseID) (*model.WarehouseStatistics, error) {
	var r warehouseStatisticsRow
	err := o.db.WithContext(ctx).Where("warehouse_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.WarehouseStatistics{
		WarehouseID:    ids.WarehouseID(r.WarehouseID),
		NumberOfTables: r.NumberOfTables,
		NumberOfViews:  r.NumberOfViews,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func (o ops) ListWarehouseStatisticsHistory(ctx context.Context, id ids.WarehouseID, limit int) ([]model.WarehouseStatisticsHistory, error) {
	db := o.db.WithContext(ctx).Where("warehouse_id = ?", uuid.UUID(id)).Order("taken_at DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	var rows []warehouseStatisticsHistoryRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.WarehouseStatisticsHistory, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.WarehouseStatisticsHistory{
			WarehouseID:    ids.WarehouseID(r.WarehouseID),
			NumberOfTables: r.NumberOfTables,
			NumberOfViews:  r.NumberOfViews,
			TakenAt:        r.TakenAt,
		})
	}
	return out, nil
}

func (o ops) CreateWarehouse(ctx context.Context, w model.Warehouse) (*model.Warehouse, error) {
	db := o.db.WithContext(ctx)
	var projectCount int64
	if err := db.Model(&projectRow{}).Where("project_id = ?", uuid.UUID(w.ProjectID)).Count(&projectCount).Error; err != nil {
		return nil, err
	}
	if projectCount == 0 {
		return nil, catalogerr.ErrProjectNotFound
	}
	var nameCount int64
	if err := db.Model(&warehouseRow{}).
		Where("project_id = ? AND warehouse_name_folded = ?", uuid.UUID(w.ProjectID), foldName(w.Name)).
		Count(&nameCount).Error; err != nil {
		return nil, err
	}
	if nameCount > 0 {
		return nil, catalogerr.ErrNameAlreadyExists
	}
	if w.TabularDeleteProfile.Mode == model.TabularDeleteModeSoft && w.TabularDeleteProfile.Expiration <= 0 {
		return nil, catalogerr.ErrMissingExpiration
	}
	if w.WarehouseID.IsNil() {
		w.WarehouseID = ids.NewWarehouseID()
	}
	if w.Status == "" {
		w.Status = model.WarehouseStatusActive
	}
	w.Version = 0
	w.UpdatedAt = nil
	row, err := warehouseToRow(&w, o.clock())
	if err != nil {
		return nil, err
	}
	if err := db.Create(row).Error; err != nil {
		return nil, mapConstraintError(err)
	}
	return warehouseFromRow(row)
}

func (o ops) RenameWarehouse(ctx context.Context, id ids.WarehouseID, name string) (*model.Warehouse, error) {
	var conflict int64
	if err := o.db.WithContext(ctx).Model(&warehouseRow{}).
		Where("warehouse_id <> ? AND warehouse_name_folded = ? AND project_id = (SELECT project_id FROM warehouse WHERE warehouse_id = ?)",
			uuid.UUID(id), foldName(name), uuid.UUID(id)).
		Count(&conflict).Error; err != nil {
		return nil, err
	}
	if conflict > 0 {
		return nil, catalogerr.ErrNameAlreadyExists
	}
	return o.mutateWarehouse(ctx, id, func(r *warehouseRow) bool {
		if r.Name == name {
			return false
		}
		r.Name = name
		r.NameFolded = foldName(name)
		return true
	})
}

func (o ops) SetWarehouseStatus(ctx context.Context, id ids.WarehouseID, status model.WarehouseStatus) (*model.Warehouse, error) {
	return o.mutateWarehouse(ctx, id, func(r *warehouseRow) bool {
		if r.Status == string(status) {
			return false
		}
		r.Status = string(status)
		return true
	})
}

func (o ops) SetWarehouseDeletionProfile(ctx context.Context, id ids.WarehouseID, p model.TabularDeleteProfile) (*model.Warehouse, error) {
	if p.Mode == model.TabularDeleteModeSoft && p.Expiration <= 0 {
		return nil, catalogerr.ErrMissingExpiration
	}
	return o.mutateWarehouse(ctx, id, func(r *warehouseRow) bool {
		var secs *int64
		if p.Mode == model.TabularDeleteModeSoft {
			v := int64(p.Expiration / time.Second)
			secs = &v
		}
		if r.TabularDeleteMode == string(p.Mode) && optionalInt64Equal(r.TabularExpirationSeconds, secs) {
			return false
		}
		r.TabularDeleteMode = string(p.Mode)
		r.TabularExpirationSeconds = secs
		return true
	})
}

func (o ops) SetWarehouseStorageProfile(ctx context.Context, id ids.WarehouseID, p model.StorageProfile, secretID *ids.SecretID) (*model.Warehouse, error) {
	var newSecret *uuid.UUID
	if secretID != nil {
		v := uuid.UUID(*secretID)
		newSecret = &v
	}
	return o.mutateWarehouse(ctx, id, func(r *warehouseRow) bool {
		current, err := warehouseFromRow(r)
		if err == nil && current.StorageProfile.Equal(p) && optionalUUIDEqual(r.StorageSecretID, newSecret) {
			return false
		}
		raw, merr := marshalJSON(p)
		if merr != nil {
			return false
		}
		r.StorageProfile = raw
		r.StorageSecretID = newSecret
		return true
	})
}

func (o ops) SetWarehouseProtected(ctx context.Context, id ids.WarehouseID, protected bool) (*model.Warehouse, error) {
	return o.mutateWarehouse(ctx, id, func(r *warehouseRow) bool {
		if r.Protected == protected {
			return false
		}
		r.Protected = protected
		return true
	})
}

// mutateWarehouse loads the row under a row lock, applies fn and saves with
// an advanced version only when fn reports an observable change.
func (o ops) mutateWarehouse(ctx context.Context, id ids.WarehouseID, fn func(*warehouseRow) bool) (*model.Warehouse, error) {
	db := o.db.WithContext(ctx)
	var r warehouseRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	if err != nil {
		return nil, err
	}
	if fn(&r) {
		r.Version++
		now := o.clock()
		r.UpdatedAt = &now
		if err := db.Save(&r).Error; err != nil {
			return nil, mapConstraintError(err)
		}
	}
	return warehouseFromRow(&r)
}

func (o ops) DeleteWarehouse(ctx context.Context, id ids.WarehouseID, force bool) error {
	db := o.db.WithContext(ctx)
	var r warehouseRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalogerr.ErrWarehouseNotFound
	}
	if err != nil {
		return err
	}
	if r.Protected && !force {
		return &catalogerr.Protected{Resource: "warehouse " + id.String()}
	}

	counts, err := o.CountTasksPerQueue(ctx, id)
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		return &catalogerr.WarehouseHasUnfinishedTasks{PerQueueCounts: counts}
	}

	var namespaces int64
	if err := db.Model(&namespaceRow{}).Where("warehouse_id = ?", uuid.UUID(id)).Count(&namespaces).Error; err != nil {
		return err
	}
	if namespaces > 0 {
		return catalogerr.ErrWarehouseNotEmpty
	}

	if err := db.Delete(&warehouseStatisticsRow{}, "warehouse_id = ?", uuid.UUID(id)).Error; err != nil {
		return err
	}
	if err := db.Delete(&warehouseStatisticsHistoryRow{}, "warehouse_id = ?", uuid.UUID(id)).Error; err != nil {
		return err
	}
	return db.Delete(&warehouseRow{}, "warehouse_id = ?", uuid.UUID(id)).Error
}

func (o ops) RefreshWarehouseStatistics(ctx context.Context, id ids.WarehouseID) (*model.WarehouseStatistics, error) {
	db := o.db.WithContext(ctx)
	var exists int64
	if err := db.Model(&warehouseRow{}).Where("warehouse_id = ?", uuid.UUID(id)).Count(&exists).Error; err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	var tables, views int64
	if err := db.Model(&tabularRow{}).
		Where("warehouse_id = ? AND typ = ? AND deleted_at IS NULL", uuid.UUID(id), string(model.TabularTypeTable)).
		Count(&tables).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&tabularRow{}).
		Where("warehouse_id = ? AND typ = ? AND deleted_at IS NULL", uuid.UUID(id), string(model.TabularTypeView)).
		Count(&views).Error; err != nil {
		return nil, err
	}
	now := o.clock()
	current := warehouseStatisticsRow{
		WarehouseID:    uuid.UUID(id),
		NumberOfTables: int(tables),
		NumberOfViews:  int(views),
		UpdatedAt:      now,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "warehouse_id"}},
		UpdateAll: true,
	}).Create(&current).Error; err != nil {
		return nil, err
	}
	if err := db.Create(&warehouseStatisticsHistoryRow{
		WarehouseID:    uuid.UUID(id),
		NumberOfTables: int(tables),
		NumberOfViews:  int(views),
		TakenAt:        now,
	}).Error; err != nil {
		return nil, err
	}
	return &model.WarehouseStatistics{
		WarehouseID:    id,
		NumberOfTables: int(tables),
		NumberOfViews:  int(views),
		UpdatedAt:      now,
	}, nil
}

func optionalInt64Equal(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func optionalUUIDEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
