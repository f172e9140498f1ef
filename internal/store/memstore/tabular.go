package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

func (s *Store) GetTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID) (*model.Tabular, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getTabular(warehouseID, id)
}

func (s *Store) GetTabularByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.TabularIdent) (*model.Tabular, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getTabularByIdent(warehouseID, ident)
}

func (s *Store) GetTabularByLocation(ctx context.Context, warehouseID ids.WarehouseID, location string) (*model.Tabular, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getTabularByLocation(warehouseID, location)
}

func (s *Store) ListTabulars(ctx context.Context, warehouseID ids.WarehouseID, q store.ListTabularsQuery) (model.Page[model.Tabular], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listTabulars(warehouseID, q)
}

func (s *Store) SearchTabular(ctx context.Context, warehouseID ids.WarehouseID, pattern string) ([]model.Tabular, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.searchTabular(warehouseID, pattern)
}

func (s *Store) LoadTables(ctx context.Context, warehouseID ids.WarehouseID, tableIDs []ids.TableID) (map[ids.TableID]model.TableMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.loadTables(warehouseID, tableIDs)
}

func (s *Store) GetViewMetadata(ctx context.Context, warehouseID ids.WarehouseID, viewID ids.ViewID) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getViewMetadata(warehouseID, viewID)
}

func (t *readTx) GetTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID) (*model.Tabular, error) {
	return t.s.GetTabular(ctx, warehouseID, id)
}

func (t *readTx) GetTabularByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.TabularIdent) (*model.Tabular, error) {
	return t.s.GetTabularByIdent(ctx, warehouseID, ident)
}

func (t *readTx) GetTabularByLocation(ctx context.Context, warehouseID ids.WarehouseID, location string) (*model.Tabular, error) {
	return t.s.GetTabularByLocation(ctx, warehouseID, location)
}

func (t *readTx) ListTabulars(ctx context.Context, warehouseID ids.WarehouseID, q store.ListTabularsQuery) (model.Page[model.Tabular], error) {
	return t.s.ListTabulars(ctx, warehouseID, q)
}

func (t *readTx) SearchTabular(ctx context.Context, warehouseID ids.WarehouseID, pattern string) ([]model.Tabular, error) {
	return t.s.SearchTabular(ctx, warehouseID, pattern)
}

func (t *readTx) LoadTables(ctx context.Context, warehouseID ids.WarehouseID, tableIDs []ids.TableID) (map[ids.TableID]model.TableMetadata, error) {
	return t.s.LoadTables(ctx, warehouseID, tableIDs)
}

func (t *readTx) GetViewMetadata(ctx context.Context, warehouseID ids.WarehouseID, viewID ids.ViewID) (json.RawMessage, error) {
	return t.s.GetViewMetadata(ctx, warehouseID, viewID)
}

func (t *writeTx) GetTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID) (*model.Tabular, error) {
	return t.s.st.getTabular(warehouseID, id)
}

func (t *writeTx) GetTabularByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.TabularIdent) (*model.Tabular, error) {
	return t.s.st.getTabularByIdent(warehouseID, ident)
}

func (t *writeTx) GetTabularByLocation(ctx context.Context, warehouseID ids.WarehouseID, location string) (*model.Tabular, error) {
	return t.s.st.getTabularByLocation(warehouseID, location)
}

func (t *writeTx) ListTabulars(ctx context.Context, warehouseID ids.WarehouseID, q store.ListTabularsQuery) (model.Page[model.Tabular], error) {
	return t.s.st.listTabulars(warehouseID, q)
}

func (t *writeTx) SearchTabular(ctx context.Context, warehouseID ids.WarehouseID, pattern string) ([]model.Tabular, error) {
	return t.s.st.searchTabular(warehouseID, pattern)
}

func (t *writeTx) LoadTables(ctx context.Context, warehouseID ids.WarehouseID, tableIDs []ids.TableID) (map[ids.TableID]model.TableMetadata, error) {
	return t.s.st.loadTables(warehouseID, tableIDs)
}

func (t *writeTx) GetViewMetadata(ctx context.Context, warehouseID ids.WarehouseID, viewID ids.ViewID) (json.RawMessage, error) {
	return t.s.st.getViewMetadata(warehouseID, viewID)
}

func (t *writeTx) CreateTable(ctx context.Context, tab model.Tabular, metadata model.TableMetadata) (*model.Tabular, error) {
	return t.s.st.createTabular(t.s.now(), tab, &metadata, nil)
}

func (t *writeTx) CreateView(ctx context.Context, tab model.Tabular, metadata json.RawMessage) (*model.Tabular, error) {
	return t.s.st.createTabular(t.s.now(), tab, nil, metadata)
}

func (t *writeTx) RenameTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, newNamespace ids.NamespaceID, newName string) (*model.Tabular, error) {
	return t.s.st.renameTabular(t.s.now(), warehouseID, id, newNamespace, newName)
}

func (t *writeTx) MarkTabularDeleted(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, deletedAt time.Time) (*model.Tabular, error) {
	return t.s.st.markTabularDeleted(t.s.now(), warehouseID, id, deletedAt)
}

func (t *writeTx) ClearTabularDeletedAt(ctx context.Context, warehouseID ids.WarehouseID, tabularIDs []ids.TabularID) error {
	return t.s.st.clearTabularDeletedAt(t.s.now(), warehouseID, tabularIDs)
}

func (t *writeTx) DropTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, force bool) error {
	return t.s.st.dropTabular(warehouseID, id, force)
}

func (t *writeTx) SetTabularProtected(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, protected bool) (*model.Tabular, error) {
	return t.s.st.setTabularProtected(t.s.now(), warehouseID, id, protected)
}

func (t *writeTx) CommitTables(ctx context.Context, warehouseID ids.WarehouseID, commits []model.TableCommit) ([]ids.TableID, error) {
	return t.s.st.commitTables(t.s.now(), warehouseID, commits)
}

func (s *state) getTabular(warehouseID ids.WarehouseID, id ids.TabularID) (*model.Tabular, error) {
	tab, ok := s.tabulars[id.UUID()]
	if !ok || tab.WarehouseID != warehouseID {
		return nil, nil
	}
	return copyTabular(tab), nil
}

func (s *state) getTabularByIdent(warehouseID ids.WarehouseID, ident model.TabularIdent) (*model.Tabular, error) {
	ns, err := s.getNamespaceByIdent(warehouseID, ident.Namespace)
	if err != nil || ns == nil {
		return nil, err
	}
	for _, tab := range s.tabulars {
		if tab.WarehouseID == warehouseID && tab.NamespaceID == ns.NamespaceID &&
			strings.EqualFold(tab.Name, ident.Name) {
			return copyTabular(tab), nil
		}
	}
	return nil, nil
}

func (s *state) getTabularByLocation(warehouseID ids.WarehouseID, location string) (*model.Tabular, error) {
	for _, tab := range s.tabulars {
		if tab.WarehouseID == warehouseID && strings.HasPrefix(location, tab.FsLocation) {
			return copyTabular(tab), nil
		}
	}
	return nil, nil
}

func (s *state) listTabulars(warehouseID ids.WarehouseID, q store.ListTabularsQuery) (model.Page[model.Tabular], error) {
	var all []model.Tabular
	for _, tab := range s.tabulars {
		if tab.WarehouseID != warehouseID {
			continue
		}
		if q.NamespaceID != nil && tab.NamespaceID != *q.NamespaceID {
			continue
		}
		if q.Typ != nil {
			if (*q.Typ == model.TabularTypeTable) != tab.TabularID.IsTable() {
				continue
			}
		}
		if tab.Staged() && !q.IncludeStaged {
			continue
		}
		if q.DeletedOnly {
			if !tab.SoftDeleted() {
				continue
			}
		} else if tab.SoftDeleted() && !q.IncludeDeleted {
			continue
		}
		all = append(all, *copyTabular(tab))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].TabularID.String() < all[j].TabularID.String()
	})

	start := 0
	if q.PageToken != "" {
		token, err := model.DecodePageToken(q.PageToken)
		if err != nil {
			return model.Page[model.Tabular]{}, err
		}
		for i, tab := range all {
			after := tab.CreatedAt.After(token.CreatedAt) ||
				(tab.CreatedAt.Equal(token.CreatedAt) && tab.TabularID.String() > token.ID.String())
			if after {
				start = i
				break
			}
			start = i + 1
		}
	}
	all = all[start:]

	size := q.PageSize
	if size <= 0 {
		size = 100
	}
	page := model.Page[model.Tabular]{}
	if len(all) > size {
		all = all[:size]
	}
	page.Items = all
	if len(all) == size {
		last := all[len(all)-1]
		page.NextPageToken = model.PageToken{CreatedAt: last.CreatedAt, ID: last.TabularID.UUID()}.Encode()
	}
	return page, nil
}

func (s *state) searchTabular(warehouseID ids.WarehouseID, pattern string) ([]model.Tabular, error) {
	needle := strings.ToLower(pattern)
	var out []model.Tabular
	for _, tab := range s.tabulars {
		if tab.WarehouseID != warehouseID || tab.SoftDeleted() {
			continue
		}
		if strings.Contains(strings.ToLower(tab.Name), needle) {
			out = append(out, *copyTabular(tab))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) loadTables(warehouseID ids.WarehouseID, tableIDs []ids.TableID) (map[ids.TableID]model.TableMetadata, error) {
	out := make(map[ids.TableID]model.TableMetadata, len(tableIDs))
	for _, id := range tableIDs {
		tab, ok := s.tabulars[uuid.UUID(id)]
		if !ok || tab.WarehouseID != warehouseID {
			continue
		}
		if md, ok := s.tableMetadata[id]; ok {
			out[id] = *copyTableMetadata(md)
		}
	}
	return out, nil
}

func (s *state) getViewMetadata(warehouseID ids.WarehouseID, viewID ids.ViewID) (json.RawMessage, error) {
	tab, ok := s.tabulars[uuid.UUID(viewID)]
	if !ok || tab.WarehouseID != warehouseID {
		return nil, nil
	}
	md, ok := s.viewMetadata[viewID]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), md...), nil
}

func (s *state) createTabular(now time.Time, tab model.Tabular, tableMD *model.TableMetadata, viewMD json.RawMessage) (*model.Tabular, error) {
	w, ok := s.warehouses[tab.WarehouseID]
	if !ok {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	ns, ok := s.namespaces[tab.NamespaceID]
	if !ok || ns.WarehouseID != tab.WarehouseID {
		return nil, catalogerr.ErrNamespaceNotFound
	}
	if tab.Name == "" {
		return nil, catalogerr.ErrInvalidName
	}
	if len(tab.Name) > 128 {
		return nil, catalogerr.ErrNameTooLong
	}
	for _, existing := range s.tabulars {
		if existing.WarehouseID == tab.WarehouseID && existing.NamespaceID == tab.NamespaceID &&
			strings.EqualFold(existing.Name, tab.Name) && !existing.SoftDeleted() {
			return nil, catalogerr.ErrNameAlreadyExists
		}
	}
	if tab.TabularID.UUID() == uuid.Nil {
		if tableMD != nil {
			tab.TabularID = ids.TabularIDFromTable(ids.NewTableID())
		} else {
			tab.TabularID = ids.TabularIDFromView(ids.NewViewID())
		}
	}
	tab.NamespaceVersion = ns.Version
	tab.WarehouseVersion = w.Version
	tab.CreatedAt = now
	tab.UpdatedAt = nil
	if tab.FsLocation != "" && tab.FsProtocol == "" {
		proto, err := locationProtocol(tab.FsLocation)
		if err != nil {
			return nil, err
		}
		tab.FsProtocol = proto
	}
	s.tabulars[tab.TabularID.UUID()] = copyTabular(&tab)
	if tableMD != nil {
		s.tableMetadata[tab.TabularID.Table] = copyTableMetadata(tableMD)
	} else {
		s.viewMetadata[tab.TabularID.View] = append(json.RawMessage(nil), viewMD...)
	}
	return copyTabular(&tab), nil
}

func (s *state) renameTabular(now time.Time, warehouseID ids.WarehouseID, id ids.TabularID, newNamespace ids.NamespaceID, newName string) (*model.Tabular, error) {
	tab, ok := s.tabulars[id.UUID()]
	if !ok || tab.WarehouseID != warehouseID {
		return nil, notFoundFor(id)
	}
	ns, ok := s.namespaces[newNamespace]
	if !ok || ns.WarehouseID != warehouseID {
		return nil, catalogerr.ErrNamespaceNotFound
	}
	if newName == "" {
		return nil, catalogerr.ErrInvalidName
	}
	if len(newName) > 128 {
		return nil, catalogerr.ErrNameTooLong
	}
	for _, existing := range s.tabulars {
		if existing.TabularID.UUID() != id.UUID() &&
			existing.WarehouseID == warehouseID && existing.NamespaceID == newNamespace &&
			strings.EqualFold(existing.Name, newName) && !existing.SoftDeleted() {
			return nil, catalogerr.ErrNameAlreadyExists
		}
	}
	if tab.NamespaceID != newNamespace {
		tab.NamespaceID = newNamespace
		tab.NamespaceVersion = ns.Version
	}
	tab.Name = newName
	tab.UpdatedAt = timePtr(now)
	return copyTabular(tab), nil
}

func (s *state) markTabularDeleted(now time.Time, warehouseID ids.WarehouseID, id ids.TabularID, deletedAt time.Time) (*model.Tabular, error) {
	tab, ok := s.tabulars[id.UUID()]
	if !ok || tab.WarehouseID != warehouseID {
		return nil, notFoundFor(id)
	}
	if tab.Protected {
		return nil, &catalogerr.Protected{Resource: "tabular " + id.String()}
	}
	tab.DeletedAt = timePtr(deletedAt)
	tab.UpdatedAt = timePtr(now)
	return copyTabular(tab), nil
}

func (s *state) clearTabularDeletedAt(now time.Time, warehouseID ids.WarehouseID, tabularIDs []ids.TabularID) error {
	for _, id := range tabularIDs {
		tab, ok := s.tabulars[id.UUID()]
		if !ok || tab.WarehouseID != warehouseID {
			continue
		}
		if tab.DeletedAt != nil {
			tab.DeletedAt = nil
			tab.UpdatedAt = timePtr(now)
		}
	}
	return nil
}

func (s *state) dropTabular(warehouseID ids.WarehouseID, id ids.TabularID, force bool) error {
	tab, ok := s.tabulars[id.UUID()]
	if !ok || tab.WarehouseID != warehouseID {
		return notFoundFor(id)
	}
	if tab.Protected && !force {
		return &catalogerr.Protected{Resource: "tabular " + id.String()}
	}
	delete(s.tabulars, id.UUID())
	delete(s.tableMetadata, id.Table)
	delete(s.viewMetadata, id.View)
	return nil
}

func (s *state) setTabularProtected(now time.Time, warehouseID ids.WarehouseID, id ids.TabularID, protected bool) (*model.Tabular, error) {
	tab, ok := s.tabulars[id.UUID()]
	if !ok || tab.WarehouseID != warehouseID {
		return nil, notFoundFor(id)
	}
	if tab.Protected != protected {
		tab.Protected = protected
		tab.UpdatedAt = timePtr(now)
	}
	return copyTabular(tab), nil
}

func notFoundFor(id ids.TabularID) error {
	if id.IsView() {
		return catalogerr.ErrViewNotFound
	}
	return catalogerr.ErrTableNotFound
}

func locationProtocol(location string) (string, error) {
	i := strings.Index(location, "://")
	if i <= 0 {
		return "", catalogerr.ErrParseLocation
	}
	return location[:i], nil
}
