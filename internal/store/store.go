// Package store defines the catalog's transactional persistence interface.
// Concrete backends live in subpackages: pgstore is the relational reference
// backend, memstore is the in-memory backend used by unit tests. Higher
// layers (internal/warehouse, internal/namespace, internal/tablecommit,
// internal/tasks) are parametric over these interfaces and never import a
// backend directly.
package store

import (
	"context"
	"encoding/json"
	"time"

	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// Store is the capability object over a transactional backend. Reads are
// available both directly (pool path, no transaction) and on any open
// transaction handle; writes exist only on a WriteTx.
//
// A handle returned by BeginWrite owns one backend transaction. Commit
// consumes the handle; Rollback without a prior Commit discards every write.
// Rollback after Commit is a no-op so callers can `defer tx.Rollback(ctx)`
// unconditionally.
type Store interface {
	Reads

	BeginRead(ctx context.Context) (ReadTx, error)
	BeginWrite(ctx context.Context) (WriteTx, error)
}

// ReadTx is a read-only transaction handle.
type ReadTx interface {
	Reads

	Rollback(ctx context.Context) error
}

// WriteTx is a read-write transaction handle. Mutating and read operations
// never share a handle with the pool path: everything inside one WriteTx
// observes and produces one atomic change.
type WriteTx interface {
	ReadTx
	Writes

	Commit(ctx context.Context) error
}

// Reads groups every read operation. A clean miss returns (nil, nil); the
// NotFound sentinels are layered on top by callers that require presence.
type Reads interface {
	WarehouseReads
	NamespaceReads
	TabularReads
	PrincipalReads
	TaskReads
}

// Writes groups every mutating operation. Each op either succeeds atomically
// within its transaction or leaves state unchanged; constraint violations
// surface as typed catalogerr values, never raw backend errors.
type Writes interface {
	WarehouseWrites
	NamespaceWrites
	TabularWrites
	PrincipalWrites
	TaskWrites
}

// ListWarehousesQuery tunes warehouse listing.
type ListWarehousesQuery struct {
	// IncludeInactive opts in to warehouses whose status is inactive.
	IncludeInactive bool
}

type WarehouseReads interface {
	GetWarehouse(ctx context.Context, id ids.WarehouseID) (*model.Warehouse, error)
	GetWarehouseByName(ctx context.Context, projectID ids.ProjectID, name string) (*model.Warehouse, error)
	ListWarehouses(ctx context.Context, projectID ids.ProjectID, q ListWarehousesQuery) ([]model.Warehouse, error)
	GetWarehouseStatistics(ctx context.Context, id ids.WarehouseID) (*model.WarehouseStatistics, error)
	ListWarehouseStatisticsHistory(ctx context.Context, id ids.WarehouseID, limit int) ([]model.WarehouseStatisticsHistory, error)
}

type WarehouseWrites interface {
	// CreateWarehouse persists a new warehouse in active status with
	// version 0. The (project, name) pair must be free.
	CreateWarehouse(ctx context.Context, w model.Warehouse) (*model.Warehouse, error)
	// RenameWarehouse changes the name, advancing the version unless the
	// name is unchanged.
	RenameWarehouse(ctx context.Context, id ids.WarehouseID, name string) (*model.Warehouse, error)
	SetWarehouseStatus(ctx context.Context, id ids.WarehouseID, status model.WarehouseStatus) (*model.Warehouse, error)
	SetWarehouseDeletionProfile(ctx context.Context, id ids.WarehouseID, p model.TabularDeleteProfile) (*model.Warehouse, error)
	// SetWarehouseStorageProfile swaps profile and secret pointer together.
	// Passing an identical profile and secret is a no-op that leaves the
	// version untouched.
	SetWarehouseStorageProfile(ctx context.Context, id ids.WarehouseID, p model.StorageProfile, secretID *ids.SecretID) (*model.Warehouse, error)
	SetWarehouseProtected(ctx context.Context, id ids.WarehouseID, protected bool) (*model.Warehouse, error)
	// DeleteWarehouse removes the warehouse row. It fails with Protected
	// unless force, with WarehouseHasUnfinishedTasks while any non-terminal
	// task references the warehouse, and with ErrWarehouseNotFound when absent
	// so callers can distinguish presence from success.
	DeleteWarehouse(ctx context.Context, id ids.WarehouseID, force bool) error
	// RefreshWarehouseStatistics recounts tables and views, upserts the
	// current row and appends a history row.
	RefreshWarehouseStatistics(ctx context.Context, id ids.WarehouseID) (*model.WarehouseStatistics, error)
}

type NamespaceReads interface {
	GetNamespace(ctx context.Context, id ids.NamespaceID) (*model.Namespace, error)
	GetNamespaceByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.NamespaceIdent) (*model.Namespace, error)
	// ListNamespaces returns namespaces of a warehouse; parent narrows to
	// direct children of one namespace, nil selects roots only when
	// rootsOnly is set and everything otherwise.
	ListNamespaces(ctx context.Context, warehouseID ids.WarehouseID, parent *ids.NamespaceID, rootsOnly bool) ([]model.Namespace, error)
}

type NamespaceWrites interface {
	// CreateNamespace persists a namespace with version 0. The parent
	// snapshot must already be resolved by the caller; creating a child
	// does not advance the parent's version.
	CreateNamespace(ctx context.Context, ns model.Namespace) (*model.Namespace, error)
	// UpdateNamespaceProperties replaces the whole property map. An
	// identical map is a no-op that leaves the version untouched.
	UpdateNamespaceProperties(ctx context.Context, id ids.NamespaceID, props map[string]string) (*model.Namespace, error)
	// RenameNamespace changes the last path segment. Reparenting is not
	// supported; the caller validates that only the leaf changed.
	RenameNamespace(ctx context.Context, id ids.NamespaceID, ident model.NamespaceIdent) (*model.Namespace, error)
	SetNamespaceProtected(ctx context.Context, id ids.NamespaceID, protected bool) (*model.Namespace, error)
	// DropNamespace removes one empty namespace. Children or tabulars
	// present fail with ErrNamespaceNotEmpty; cascading is the hierarchy
	// service's job.
	DropNamespace(ctx context.Context, id ids.NamespaceID) error
}

// ListTabularsQuery tunes tabular listing. Pagination sorts strictly by
// (created_at ASC, id ASC).
type ListTabularsQuery struct {
	NamespaceID *ids.NamespaceID
	Typ         *model.TabularType
	// IncludeStaged opts staged tables into the listing.
	IncludeStaged bool
	// IncludeDeleted admits soft-deleted tabulars alongside live ones;
	// DeletedOnly narrows to soft-deleted tabulars exclusively.
	IncludeDeleted bool
	DeletedOnly    bool
	PageToken      string
	PageSize       int
}

type TabularReads interface {
	GetTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID) (*model.Tabular, error)
	GetTabularByIdent(ctx context.Context, warehouseID ids.WarehouseID, ident model.TabularIdent) (*model.Tabular, error)
	// GetTabularByLocation resolves a tabular from its filesystem location
	// prefix, e.g. for remote-signing checks against an s3 path.
	GetTabularByLocation(ctx context.Context, warehouseID ids.WarehouseID, location string) (*model.Tabular, error)
	ListTabulars(ctx context.Context, warehouseID ids.WarehouseID, q ListTabularsQuery) (model.Page[model.Tabular], error)
	// SearchTabular does a substring match over tabular names.
	SearchTabular(ctx context.Context, warehouseID ids.WarehouseID, pattern string) ([]model.Tabular, error)
	// LoadTables inflates full table metadata for the given tables.
	LoadTables(ctx context.Context, warehouseID ids.WarehouseID, tableIDs []ids.TableID) (map[ids.TableID]model.TableMetadata, error)
	GetViewMetadata(ctx context.Context, warehouseID ids.WarehouseID, viewID ids.ViewID) (json.RawMessage, error)
}

type TabularWrites interface {
	// CreateTable persists the tabular row plus its initial metadata
	// subresources. A nil MetadataLocation stages the table.
	CreateTable(ctx context.Context, t model.Tabular, metadata model.TableMetadata) (*model.Tabular, error)
	CreateView(ctx context.Context, t model.Tabular, metadata json.RawMessage) (*model.Tabular, error)
	// RenameTabular moves the tabular to a new namespace and/or name,
	// restamping NamespaceVersion when the namespace changes.
	RenameTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, newNamespace ids.NamespaceID, newName string) (*model.Tabular, error)
	// MarkTabularDeleted stamps deleted_at for soft deletion.
	MarkTabularDeleted(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, deletedAt time.Time) (*model.Tabular, error)
	// ClearTabularDeletedAt undrops previously soft-deleted tabulars.
	ClearTabularDeletedAt(ctx context.Context, warehouseID ids.WarehouseID, tabularIDs []ids.TabularID) error
	// DropTabular removes the tabular row and all subresources.
	DropTabular(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, force bool) error
	SetTabularProtected(ctx context.Context, warehouseID ids.WarehouseID, id ids.TabularID, protected bool) (*model.Tabular, error)
	// CommitTables applies a batch of table commits in dependency order,
	// guarded per table by the previous metadata location. It returns the
	// set of tabular ids whose pointer row was actually updated; a caller
	// comparing that against its intent detects lost races.
	CommitTables(ctx context.Context, warehouseID ids.WarehouseID, commits []model.TableCommit) ([]ids.TableID, error)
}

type PrincipalReads interface {
	GetProject(ctx context.Context, id ids.ProjectID) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	GetRole(ctx context.Context, id ids.RoleID) (*model.Role, error)
	ListRoles(ctx context.Context, projectID ids.ProjectID) ([]model.Role, error)
	GetUser(ctx context.Context, id ids.UserID) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

type PrincipalWrites interface {
	CreateProject(ctx context.Context, p model.Project) (*model.Project, error)
	RenameProject(ctx context.Context, id ids.ProjectID, name string) (*model.Project, error)
	// DeleteProject fails with ErrProjectNotEmpty while it owns any
	// warehouse and ErrProjectNotFound when absent.
	DeleteProject(ctx context.Context, id ids.ProjectID) error
	CreateRole(ctx context.Context, r model.Role) (*model.Role, error)
	UpdateRole(ctx context.Context, id ids.RoleID, name string, description *string) (*model.Role, error)
	// DeleteRole reports whether the role existed.
	DeleteRole(ctx context.Context, id ids.RoleID) (bool, error)
	CreateUser(ctx context.Context, u model.User) (*model.User, error)
	UpdateUser(ctx context.Context, id ids.UserID, name string, email *string) (*model.User, error)
	// DeleteUser reports whether the user existed.
	DeleteUser(ctx context.Context, id ids.UserID) (bool, error)
}

type TaskReads interface {
	GetTask(ctx context.Context, projectID ids.ProjectID, id ids.TaskID) (*model.Task, error)
	ListTasks(ctx context.Context, projectID ids.ProjectID, filter model.TaskFilter, pageToken string, pageSize int) (model.Page[model.Task], error)
	GetTaskDetails(ctx context.Context, projectID ids.ProjectID, id ids.TaskID, numAttempts int) (*model.TaskDetails, error)
	// ResolveTasks maps each existing id to its entity and queue,
	// consulting live tasks first and then the most recent log attempt.
	// Unknown ids are simply absent from the result.
	ResolveTasks(ctx context.Context, projectID ids.ProjectID, taskIDs []ids.TaskID) (map[ids.TaskID]model.TaskResolution, error)
	GetQueueConfig(ctx context.Context, queueName string) (*model.QueueConfig, error)
	// CountTasksPerQueue counts non-terminal tasks referencing the
	// warehouse, keyed by queue name.
	CountTasksPerQueue(ctx context.Context, warehouseID ids.WarehouseID) (map[string]int, error)
}

type TaskWrites interface {
	// EnqueueTasks inserts a batch, dropping entries whose (entity, queue)
	// already has a non-terminal task. The returned ids parallel the kept
	// entries and may be fewer than the inputs.
	EnqueueTasks(ctx context.Context, projectID ids.ProjectID, tasks []model.EnqueueTask) ([]ids.TaskID, error)
	// PickNewTask atomically claims the oldest due scheduled task of the
	// queue, or a running task whose heartbeat went silent for longer than
	// maxSinceHeartbeat. Returns (nil, nil) when nothing is due.
	PickNewTask(ctx context.Context, queueName string, maxSinceHeartbeat time.Duration) (*model.Task, error)
	// CheckAndHeartbeatTask refreshes the heartbeat and reports whether a
	// stop was requested.
	CheckAndHeartbeatTask(ctx context.Context, id ids.TaskID, progress float64, executionDetails json.RawMessage) (model.TaskCheckState, error)
	// RecordTaskSuccess finalizes the running attempt into the log.
	RecordTaskSuccess(ctx context.Context, id ids.TaskID, message *string) error
	// RecordTaskFailure logs the failed attempt and reschedules the next
	// one while retries remain.
	RecordTaskFailure(ctx context.Context, id ids.TaskID, message *string) error
	// StopTasks flags running tasks to stop; their workers observe
	// ShouldStop on the next heartbeat.
	StopTasks(ctx context.Context, taskIDs []ids.TaskID) error
	// RunTasksAt reschedules scheduled or stopping tasks; nil means now.
	RunTasksAt(ctx context.Context, taskIDs []ids.TaskID, at *time.Time) error
	// CancelScheduledTasks cancels scheduled tasks; force extends to
	// running ones. Returns the tasks actually cancelled.
	CancelScheduledTasks(ctx context.Context, taskIDs []ids.TaskID, force bool) ([]model.Task, error)
	SetQueueConfig(ctx context.Context, cfg model.QueueConfig) error
}
