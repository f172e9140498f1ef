package memstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// state is the whole catalog, cloned wholesale for rollback. Tabulars are
// keyed by their bare uuid so tables and views share one name scope.
type state struct {
	projects              map[ids.ProjectID]*model.Project
	warehouses            map[ids.WarehouseID]*model.Warehouse
	warehouseStats        map[ids.WarehouseID]*model.WarehouseStatistics
	warehouseStatsHistory map[ids.WarehouseID][]model.WarehouseStatisticsHistory
	namespaces            map[ids.NamespaceID]*model.Namespace
	tabulars              map[uuid.UUID]*model.Tabular
	tableMetadata         map[ids.TableID]*model.TableMetadata
	viewMetadata          map[ids.ViewID]json.RawMessage
	roles                 map[ids.RoleID]*model.Role
	users                 map[ids.UserID]*model.User
	tasks                 map[ids.TaskID]*model.Task
	taskLog               []model.TaskLogEntry
	queueConfigs          map[string]*model.QueueConfig
}

func newState() *state {
	return &state{
		projects:              map[ids.ProjectID]*model.Project{},
		warehouses:            map[ids.WarehouseID]*model.Warehouse{},
		warehouseStats:        map[ids.WarehouseID]*model.WarehouseStatistics{},
		warehouseStatsHistory: map[ids.WarehouseID][]model.WarehouseStatisticsHistory{},
		namespaces:            map[ids.NamespaceID]*model.Namespace{},
		tabulars:              map[uuid.UUID]*model.Tabular{},
		tableMetadata:         map[ids.TableID]*model.TableMetadata{},
		viewMetadata:          map[ids.ViewID]json.RawMessage{},
		roles:                 map[ids.RoleID]*model.Role{},
		users:                 map[ids.UserID]*model.User{},
		tasks:                 map[ids.TaskID]*model.Task{},
		queueConfigs:          map[string]*model.QueueConfig{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.projects {
		p := *v
		c.projects[k] = &p
	}
	for k, v := range s.warehouses {
		c.warehouses[k] = copyWarehouse(v)
	}
	for k, v := range s.warehouseStats {
		st := *v
		c.warehouseStats[k] = &st
	}
	for k, v := range s.warehouseStatsHistory {
		c.warehouseStatsHistory[k] = append([]model.WarehouseStatisticsHistory(nil), v...)
	}
	for k, v := range s.namespaces {
		c.namespaces[k] = copyNamespace(v)
	}
	for k, v := range s.tabulars {
		c.tabulars[k] = copyTabular(v)
	}
	for k, v := range s.tableMetadata {
		c.tableMetadata[k] = copyTableMetadata(v)
	}
	for k, v := range s.viewMetadata {
		c.viewMetadata[k] = append(json.RawMessage(nil), v...)
	}
	for k, v := range s.roles {
		r := *v
		c.roles[k] = &r
	}
	for k, v := range s.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range s.tasks {
		c.tasks[k] = copyTask(v)
	}
	c.taskLog = append([]model.TaskLogEntry(nil), s.taskLog...)
	for k, v := range s.queueConfigs {
		q := *v
		c.queueConfigs[k] = &q
	}
	return c
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyWarehouse(w *model.Warehouse) *model.Warehouse {
	c := *w
	c.StorageProfile.Properties = copyStringMap(w.StorageProfile.Properties)
	return &c
}

func copyNamespace(n *model.Namespace) *model.Namespace {
	c := *n
	c.Ident = append(model.NamespaceIdent(nil), n.Ident...)
	c.Properties = copyStringMap(n.Properties)
	if n.Parent != nil {
		p := *n.Parent
		c.Parent = &p
	}
	return &c
}

func copyTabular(t *model.Tabular) *model.Tabular {
	c := *t
	return &c
}

func copyTableMetadata(m *model.TableMetadata) *model.TableMetadata {
	c := *m
	c.Schemas = append([]model.TableSchema(nil), m.Schemas...)
	c.PartitionSpecs = append([]model.PartitionSpec(nil), m.PartitionSpecs...)
	c.SortOrders = append([]model.SortOrder(nil), m.SortOrders...)
	c.Snapshots = append([]model.Snapshot(nil), m.Snapshots...)
	if m.SnapshotRefs != nil {
		c.SnapshotRefs = make(map[string]model.SnapshotRef, len(m.SnapshotRefs))
		for k, v := range m.SnapshotRefs {
			c.SnapshotRefs[k] = v
		}
	}
	c.SnapshotLog = append([]model.SnapshotLogEntry(nil), m.SnapshotLog...)
	c.MetadataLog = append([]model.MetadataLogEntry(nil), m.MetadataLog...)
	c.Statistics = append([]model.StatisticsFile(nil), m.Statistics...)
	c.PartitionStatistics = append([]model.PartitionStatisticsFile(nil), m.PartitionStatistics...)
	c.EncryptionKeys = append([]model.EncryptionKey(nil), m.EncryptionKeys...)
	c.Properties = copyStringMap(m.Properties)
	return &c
}

func copyTask(t *model.Task) *model.Task {
	c := *t
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	c.ExecutionDetails = append(json.RawMessage(nil), t.ExecutionDetails...)
	return &c
}

func timePtr(t time.Time) *time.Time { return &t }
