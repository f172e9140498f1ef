package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

// Pool-path reads.

func (s *Store) GetWarehouse(ctx context.Context, id ids.WarehouseID) (*model.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getWarehouse(id)
}

func (s *Store) GetWarehouseByName(ctx context.Context, projectID ids.ProjectID, name string) (*model.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getWarehouseByName(projectID, name)
}

func (s *Store) ListWarehouses(ctx context.Context, projectID ids.ProjectID, q store.ListWarehousesQuery) ([]model.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listWarehouses(projectID, q)
}

func (s *Store) GetWarehouseStatistics(ctx context.Context, id ids.WarehouseID) (*model.WarehouseStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getWarehouseStatistics(id)
}

func (s *Store) ListWarehouseStatisticsHistory(ctx context.Context, id ids.WarehouseID, limit int) ([]model.WarehouseStatisticsHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listWarehouseStatisticsHistory(id, limit)
}

func (t *readTx) GetWarehouse(ctx context.Context, id ids.WarehouseID) (*model.Warehouse, error) {
	return t.s.GetWarehouse(ctx, id)
}

func (t *readTx) GetWarehouseByName(ctx context.Context, projectID ids.ProjectID, name string) (*model.Warehouse, error) {
	return t.s.GetWarehouseByName(ctx, projectID, name)
}

func (t *readTx) ListWarehouses(ctx context.Context, projectID ids.ProjectID, q store.ListWarehousesQuery) ([]model.Warehouse, error) {
	return t.s.ListWarehouses(ctx, projectID, q)
}

func (t *readTx) GetWarehouseStatistics(ctx context.Context, id ids.WarehouseID) (*model.WarehouseStatistics, error) {
	return t.s.GetWarehouseStatistics(ctx, id)
}

func (t *readTx) ListWarehouseStatisticsHistory(ctx context.Context, id ids.WarehouseID, limit int) ([]model.WarehouseStatisticsHistory, error) {
	return t.s.ListWarehouseStatisticsHistory(ctx, id, limit)
}

func (t *writeTx) GetWarehouse(ctx context.Context, id ids.WarehouseID) (*model.Warehouse, error) {
	return t.s.st.getWarehouse(id)
}

func (t *writeTx) GetWarehouseByName(ctx context.Context, projectID ids.ProjectID, name string) (*model.Warehouse, error) {
	return t.s.st.getWarehouseByName(projectID, name)
}

func (t *writeTx) ListWarehouses(ctx context.Context, projectID ids.ProjectID, q store.ListWarehousesQuery) ([]model.Warehouse, error) {
	return t.s.st.listWarehouses(projectID, q)
}

func (t *writeTx) GetWarehouseStatistics(ctx context.Context, id ids.WarehouseID) (*model.WarehouseStatistics, error) {
	return t.s.st.getWarehouseStatistics(id)
}

func (t *writeTx) ListWarehouseStatisticsHistory(ctx context.Context, id ids.WarehouseID, limit int) ([]model.WarehouseStatisticsHistory, error) {
	return t.s.st.listWarehouseStatisticsHistory(id, limit)
}

// Writes.

func (t *writeTx) CreateWarehouse(ctx context.Context, w model.Warehouse) (*model.Warehouse, error) {
	return t.s.st.createWarehouse(t.s.now(), w)
}

func (t *writeTx) RenameWarehouse(ctx context.Context, id ids.WarehouseID, name string) (*model.Warehouse, error) {
	return t.s.st.renameWarehouse(t.s.now(), id, name)
}

func (t *writeTx) SetWarehouseStatus(ctx context.Context, id ids.WarehouseID, status model.WarehouseStatus) (*model.Warehouse, error) {
	return t.s.st.mutateWarehouse(t.s.now(), id, func(w *model.Warehouse) bool {
		if w.Status == status {
			return false
		}
		w.Status = status
		return true
	})
}

func (t *writeTx) SetWarehouseDeletionProfile(ctx context.Context, id ids.WarehouseID, p model.TabularDeleteProfile) (*model.Warehouse, error) {
	if p.Mode == model.TabularDeleteModeSoft && p.Expiration <= 0 {
		return nil, catalogerr.ErrMissingExpiration
	}
	return t.s.st.mutateWarehouse(t.s.now(), id, func(w *model.Warehouse) bool {
		if w.TabularDeleteProfile == p {
			return false
		}
		w.TabularDeleteProfile = p
		return true
	})
}

func (t *writeTx) SetWarehouseStorageProfile(ctx context.Context, id ids.WarehouseID, p model.StorageProfile, secretID *ids.SecretID) (*model.Warehouse, error) {
	return t.s.st.mutateWarehouse(t.s.now(), id, func(w *model.Warehouse) bool {
		sameSecret := (w.StorageSecretID == nil && secretID == nil) ||
			(w.StorageSecretID != nil && secretID != nil && *w.StorageSecretID == *secretID)
		if sameSecret && w.StorageProfile.Equal(p) {
			return false
		}
		w.StorageProfile = model.StorageProfile{Kind: p.Kind, Properties: copyStringMap(p.Properties)}
		w.StorageSecretID = secretID
		return true
	})
}

func (t *writeTx) SetWarehouseProtected(ctx context.Context, id ids.WarehouseID, protected bool) (*model.Warehouse, error) {
	return t.s.st.mutateWarehouse(t.s.now(), id, func(w *model.Warehouse) bool {
		if w.Protected == protected {
			return false
		}
		w.Protected = protected
		return true
	})
}

func (t *writeTx) DeleteWarehouse(ctx context.Context, id ids.WarehouseID, force bool) error {
	return t.s.st.deleteWarehouse(id, force)
}

func (t *writeTx) RefreshWarehouseStatistics(ctx context.Context, id ids.WarehouseID) (*model.WarehouseStatistics, error) {
	return t.s.st.refreshWarehouseStatistics(t.s.now(), id)
}

// state-level implementations.

func (s *state) getWarehouse(id ids.WarehouseID) (*model.Warehouse, error) {
	w, ok := s.warehouses[id]
	if !ok {
		return nil, nil
	}
	return copyWarehouse(w), nil
}

func (s *state) getWarehouseByName(projectID ids.ProjectID, name string) (*model.Warehouse, error) {
	for _, w := range s.warehouses {
		if w.ProjectID == projectID && strings.EqualFold(w.Name, name) {
			return copyWarehouse(w), nil
		}
	}
	return nil, nil
}

func (s *state) listWarehouses(projectID ids.ProjectID, q store.ListWarehousesQuery) ([]model.Warehouse, error) {
	var out []model.Warehouse
	for _, w := range s.warehouses {
		if w.ProjectID != projectID {
			continue
		}
		if w.Inactive() && !q.IncludeInactive {
			continue
		}
		out = append(out, *copyWarehouse(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) getWarehouseStatistics(id ids.WarehouseID) (*model.WarehouseStatistics, error) {
	st, ok := s.warehouseStats[id]
	if !ok {
		return nil, nil
	}
	c := *st
	return &c, nil
}

func (s *state) listWarehouseStatisticsHistory(id ids.WarehouseID, limit int) ([]model.WarehouseStatisticsHistory, error) {
	hist := s.warehouseStatsHistory[id]
	out := append([]model.WarehouseStatisticsHistory(nil), hist...)
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *state) createWarehouse(now time.Time, w model.Warehouse) (*model.Warehouse, error) {
	if _, ok := s.projects[w.ProjectID]; !ok {
		return nil, catalogerr.ErrProjectNotFound
	}
	for _, existing := range s.warehouses {
		if existing.ProjectID == w.ProjectID && strings.EqualFold(existing.Name, w.Name) {
			return nil, catalogerr.ErrNameAlreadyExists
		}
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
	w.StorageProfile.Properties = copyStringMap(w.StorageProfile.Properties)
	s.warehouses[w.WarehouseID] = copyWarehouse(&w)
	return copyWarehouse(&w), nil
}

func (s *state) renameWarehouse(now time.Time, id ids.WarehouseID, name string) (*model.Warehouse, error) {
	w, ok := s.warehouses[id]
	if !ok {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	for _, other := range s.warehouses {
		if other.WarehouseID != id && other.ProjectID == w.ProjectID && strings.EqualFold(other.Name, name) {
			return nil, catalogerr.ErrNameAlreadyExists
		}
	}
	return s.mutateWarehouse(now, id, func(w *model.Warehouse) bool {
		if w.Name == name {
			return false
		}
		w.Name = name
		return true
	})
}

// mutateWarehouse applies fn; when fn reports an observable change the
// version advances and updated_at is stamped, otherwise the row stays
// byte-identical.
func (s *state) mutateWarehouse(now time.Time, id ids.WarehouseID, fn func(*model.Warehouse) bool) (*model.Warehouse, error) {
	w, ok := s.warehouses[id]
	if !ok {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	if fn(w) {
		w.Version++
		w.UpdatedAt = timePtr(now)
	}
	return copyWarehouse(w), nil
}

func (s *state) deleteWarehouse(id ids.WarehouseID, force bool) error {
	w, ok := s.warehouses[id]
	if !ok {
		return catalogerr.ErrWarehouseNotFound
	}
	if w.Protected && !force {
		return &catalogerr.Protected{Resource: "warehouse " + id.String()}
	}
	counts := map[string]int{}
	for _, task := range s.tasks {
		if task.Status.Terminal() {
			continue
		}
		if task.WarehouseID != nil && *task.WarehouseID == id {
			counts[task.QueueName]++
		}
	}
	if len(counts) > 0 {
		return &catalogerr.WarehouseHasUnfinishedTasks{PerQueueCounts: counts}
	}
	for _, ns := range s.namespaces {
		if ns.WarehouseID == id {
			return catalogerr.ErrWarehouseNotEmpty
		}
	}
	delete(s.warehouses, id)
	delete(s.warehouseStats, id)
	delete(s.warehouseStatsHistory, id)
	return nil
}

func (s *state) refreshWarehouseStatistics(now time.Time, id ids.WarehouseID) (*model.WarehouseStatistics, error) {
	if _, ok := s.warehouses[id]; !ok {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	var tables, views int
	for _, t := range s.tabulars {
		if t.WarehouseID != id || t.SoftDeleted() {
			continue
		}
		if t.TabularID.IsTable() {
			tables++
		} else {
			views++
		}
	}
	st := model.WarehouseStatistics{
		WarehouseID:    id,
		NumberOfTables: tables,
		NumberOfViews:  views,
		UpdatedAt:      now,
	}
	s.warehouseStats[id] = &st
	s.warehouseStatsHistory[id] = append(s.warehouseStatsHistory[id], model.WarehouseStatisticsHistory{
		WarehouseID:    id,
		NumberOfTables: tables,
		NumberOfViews:  views,
		TakenAt:        now,
	})
	c := st
	return &c, nil
}
