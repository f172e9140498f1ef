package pgstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// GORM row types. One struct per table; conversion helpers translate
// between rows and the internal/model types so the rest of the catalog
// never sees GORM tags.

type projectRow struct {
	ProjectID uuid.UUID `gorm:"column:project_id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:project_name;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt *time.Time `gorm:"column:updated_at"`
}

func (projectRow) TableName() string { return "project" }

type warehouseRow struct {
	WarehouseID              uuid.UUID  `gorm:"column:warehouse_id;type:uuid;primaryKey"`
	ProjectID                uuid.UUID  `gorm:"column:project_id;type:uuid;index;uniqueIndex:ux_warehouse_project_name"`
	Name                     string     `gorm:"column:warehouse_name;uniqueIndex:ux_warehouse_project_name"`
	NameFolded               string     `gorm:"column:warehouse_name_folded;index"`
	StorageProfile           string     `gorm:"column:storage_profile;type:jsonb"`
	StorageSecretID          *uuid.UUID `gorm:"column:storage_secret_id;type:uuid"`
	Status                   string     `gorm:"column:status"`
	TabularDeleteMode        string     `gorm:"column:tabular_delete_mode"`
	TabularExpirationSeconds *int64     `gorm:"column:tabular_expiration_seconds"`
	Protected                bool       `gorm:"column:protected"`
	Version                  int64      `gorm:"column:version"`
	CreatedAt                time.Time  `gorm:"column:created_at"`
	UpdatedAt                *time.Time `gorm:"column:updated_at"`
}

func (warehouseRow) TableName() string { return "warehouse" }

type warehouseStatisticsRow struct {
	WarehouseID    uuid.UUID `gorm:"column:warehouse_id;type:uuid;primaryKey"`
	NumberOfTables int       `gorm:"column:number_of_tables"`
	NumberOfViews  int       `gorm:"column:number_of_views"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (warehouseStatisticsRow) TableName() string { return "warehouse_statistics" }

type warehouseStatisticsHistoryRow struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	WarehouseID    uuid.UUID `gorm:"column:warehouse_id;type:uuid;index"`
	NumberOfTables int       `gorm:"column:number_of_tables"`
	NumberOfViews  int       `gorm:"column:number_of_views"`
	TakenAt        time.Time `gorm:"column:taken_at"`
}

func (warehouseStatisticsHistoryRow) TableName() string { return "warehouse_statistics_history" }

type namespaceRow struct {
	NamespaceID       uuid.UUID  `gorm:"column:namespace_id;type:uuid;primaryKey"`
	WarehouseID       uuid.UUID  `gorm:"column:warehouse_id;type:uuid;index;uniqueIndex:ux_namespace_warehouse_name"`
	Name              string     `gorm:"column:namespace_name;type:jsonb"`
	NameFolded        string     `gorm:"column:namespace_name_folded;uniqueIndex:ux_namespace_warehouse_name"`
	Properties        string     `gorm:"column:properties;type:jsonb"`
	ParentNamespaceID *uuid.UUID `gorm:"column:parent_namespace_id;type:uuid;index"`
	ParentVersion     *int64     `gorm:"column:parent_version"`
	Protected         bool       `gorm:"column:protected"`
	Version           int64      `gorm:"column:version"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
}

func (namespaceRow) TableName() string { return "namespace" }

type tabularRow struct {
	TabularID        uuid.UUID  `gorm:"column:tabular_id;type:uuid;primaryKey"`
	WarehouseID      uuid.UUID  `gorm:"column:warehouse_id;type:uuid;index"`
	NamespaceID      uuid.UUID  `gorm:"column:namespace_id;type:uuid;index:ix_tabular_namespace_name"`
	Name             string     `gorm:"column:name"`
	NameFolded       string     `gorm:"column:name_folded;index:ix_tabular_namespace_name"`
	Typ              string     `gorm:"column:typ"`
	MetadataLocation *string    `gorm:"column:metadata_location"`
	FsLocation       string     `gorm:"column:fs_location;index"`
	FsProtocol       string     `gorm:"column:fs_protocol"`
	NamespaceVersion int64      `gorm:"column:namespace_version"`
	WarehouseVersion int64      `gorm:"column:warehouse_version"`
	Protected        bool       `gorm:"column:protected"`
	DeletedAt        *time.Time `gorm:"column:deleted_at;index"`
	CreatedAt        time.Time  `gorm:"column:created_at;index"`
	UpdatedAt        *time.Time `gorm:"column:updated_at"`
}

func (tabularRow) TableName() string { return "tabular" }

type tableRow struct {
	TableID            uuid.UUID `gorm:"column:table_id;type:uuid;primaryKey"`
	FormatVersion      int       `gorm:"column:table_format_version"`
	Location           string    `gorm:"column:location"`
	LastColumnID       int       `gorm:"column:last_column_id"`
	LastSequenceNumber int64     `gorm:"column:last_sequence_number"`
	LastUpdatedMs      int64     `gorm:"column:last_updated_ms"`
	LastPartitionID    int       `gorm:"column:last_partition_id"`
	NextRowID          int64     `gorm:"column:next_row_id"`
	CurrentSchemaID    int       `gorm:"column:current_schema_id"`
	DefaultSpecID      int       `gorm:"column:default_spec_id"`
	DefaultSortOrderID int       `gorm:"column:default_sort_order_id"`
	Properties         string    `gorm:"column:properties;type:jsonb"`
}

func (tableRow) TableName() string { return "table" }

type tableSchemaRow struct {
	TableID  uuid.UUID `gorm:"column:table_id;type:uuid;primaryKey"`
	SchemaID int       `gorm:"column:schema_id;primaryKey"`
	Schema   string    `gorm:"column:schema;type:jsonb"`
}

func (tableSchemaRow) TableName() string { return "table_schema" }

type partitionSpecRow struct {
	TableID uuid.UUID `gorm:"column:table_id;type:uuid;primaryKey"`
	SpecID  int       `gorm:"column:spec_id;primaryKey"`
	Spec    string    `gorm:"column:spec;type:jsonb"`
}

func (partitionSpecRow) TableName() string { return "table_partition_spec" }

type sortOrderRow struct {
	TableID uuid.UUID `gorm:"column:table_id;type:uuid;primaryKey"`
	OrderID int       `gorm:"column:sort_order_id;primaryKey"`
	Order   string    `gorm:"column:sort_order;type:jsonb"`
}

func (sortOrderRow) TableName() string { return "table_sort_order" }

type snapshotRow struct {
	TableID          uuid.UUID `gorm:"column:table_id;type:uuid;primaryKey"`
	SnapshotID       int64     `gorm:"column:snapshot_id;primaryKey"`
	ParentSnapshotID *int64    `gorm:"column:parent_snapshot_id"`
	SequenceNumber   int64     `gorm:"column:sequence_number"`
	TimestampMs      int64     `gorm:"column:timestamp_ms"`
	ManifestList     string    `gorm:"column:manifest_list"`
	SchemaID         *int      `gorm:"column:schema_id"`
	Summary          string    `gorm:"column:summary;type:jsonb"`
}

func (snapshotRow) TableName() string { return "table_snapshot" }

type snapshotRefRow struct {
	TableID            uuid.UUID `gorm:"column:table_id;type:uuid;primaryKey"`
	Name               string    `gorm:"column:ref_name;primaryKey"`
	Typ                string    `gorm:"column:ref_type"`
	SnapshotID         int64     `gorm:"column:snapshot_id"`
	MinSnapshotsToKeep *int      `gorm:"column:min_snapshots_to_keep"`
	MaxSnapshotAgeMs   *int64    `gorm:"column:max_snapshot_age_ms"`
	MaxRefAgeMs        *int64    `gorm:"column:max_ref_age_ms"`
}

func (snapshotRefRow) TableName() string { return "table_snapshot_ref" }

type snapshotLogRow struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TableID     uuid.UUID `gorm:"column:table_id;type:uuid;index"`
	SnapshotID  int64     `gorm:"column:snapshot_id"`
	TimestampMs int64     `gorm:"column:timestamp_ms"`
}

func (snapshotLogRow) TableName() string { return "table_snapshot_log" }

type metadataLogRow struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TableID      uuid.UUID `gorm:"column:table_id;type:uuid;index"`
	MetadataFile string    `gorm:"column:metadata_file"`
	TimestampMs  int64     `gorm:"column:timestamp_ms"`
}

func (metadataLogRow) TableName() string { return "table_metadata_log" }

type tableStatisticsRow struct {
	TableID        uuid.UUID `gorm:"column:table_id;type:uuid;primaryKey"`
	SnapshotID     int64     `gorm:"column:snapshot_id;primaryKey"`
	StatisticsPath string    `gorm:"column:statistics_path"`
	FileSizeBytes  int64     `gorm:"column:file_size_in_bytes"`
	Blob           string    `gorm:"column:blob;type:jsonb"`
}

func (tableStatisticsRow) TableName() string { return "table_statistics" }

type partitionStatisticsRow struct {
	TableID        uuid.UUID `gorm:"column:table_id;type:uuid;primaryKey"`
	SnapshotID     int64     `gorm:"column:snapshot_id;primaryKey"`
	StatisticsPath string    `gorm:"column:statistics_path"`
	FileSizeBytes  int64     `gorm:"column:file_size_in_bytes"`
}

func (partitionStatisticsRow) TableName() string { return "table_partition_statistics" }

type encryptionKeyRow struct {
	TableID              uuid.UUID `gorm:"column:table_id;type:uuid;primaryKey"`
	KeyID                string    `gorm:"column:key_id;primaryKey"`
	EncryptedKeyMetadata string    `gorm:"column:encrypted_key_metadata"`
}

func (encryptionKeyRow) TableName() string { return "table_encryption_key" }

type viewRow struct {
	ViewID   uuid.UUID `gorm:"column:view_id;type:uuid;primaryKey"`
	Metadata string    `gorm:"column:metadata;type:jsonb"`
}

func (viewRow) TableName() string { return "view" }

type roleRow struct {
	RoleID      uuid.UUID  `gorm:"column:role_id;type:uuid;primaryKey"`
	ProjectID   uuid.UUID  `gorm:"column:project_id;type:uuid;index;uniqueIndex:ux_role_project_name"`
	Name        string     `gorm:"column:role_name;uniqueIndex:ux_role_project_name"`
	Description *string    `gorm:"column:description"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   *time.Time `gorm:"column:updated_at"`
}

func (roleRow) TableName() string { return "role" }

type userRow struct {
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey"`
	Name       string     `gorm:"column:user_name"`
	UserType   string     `gorm:"column:user_type"`
	Email      *string    `gorm:"column:email"`
	LastSeenAt *time.Time `gorm:"column:last_seen_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  *time.Time `gorm:"column:updated_at"`
}

func (userRow) TableName() string { return "catalog_user" }

type taskRow struct {
	TaskID           uuid.UUID  `gorm:"column:task_id;type:uuid;primaryKey"`
	QueueName        string     `gorm:"column:queue_name;index:ix_task_queue_status"`
	ProjectID        uuid.UUID  `gorm:"column:project_id;type:uuid;index"`
	WarehouseID      *uuid.UUID `gorm:"column:warehouse_id;type:uuid;index"`
	EntityType       string     `gorm:"column:entity_type"`
	EntityID         *uuid.UUID `gorm:"column:entity_id;type:uuid;index"`
	EntityName       *string    `gorm:"column:entity_name;type:jsonb"`
	Status           string     `gorm:"column:status;index:ix_task_queue_status"`
	Attempt          int        `gorm:"column:attempt"`
	MaxRetries       int        `gorm:"column:max_retries"`
	ScheduledFor     time.Time  `gorm:"column:scheduled_for;index"`
	PickedUpAt       *time.Time `gorm:"column:picked_up_at"`
	LastHeartbeatAt  *time.Time `gorm:"column:last_heartbeat_at"`
	Progress         float64    `gorm:"column:progress"`
	ParentTaskID     *uuid.UUID `gorm:"column:parent_task_id;type:uuid"`
	CreatedAt        time.Time  `gorm:"column:created_at;index"`
	UpdatedAt        *time.Time `gorm:"column:updated_at"`
	TaskData         string     `gorm:"column:task_data;type:jsonb"`
	ExecutionDetails *string    `gorm:"column:execution_details;type:jsonb"`
}

func (taskRow) TableName() string { return "task" }

type taskLogRow struct {
	ID               int64      `gorm:"column:id;primaryKey;autoIncrement"`
	TaskID           uuid.UUID  `gorm:"column:task_id;type:uuid;index"`
	Attempt          int        `gorm:"column:attempt"`
	Status           string     `gorm:"column:status"`
	QueueName        string     `gorm:"column:queue_name"`
	ProjectID        uuid.UUID  `gorm:"column:project_id;type:uuid;index"`
	WarehouseID      *uuid.UUID `gorm:"column:warehouse_id;type:uuid"`
	EntityType       string     `gorm:"column:entity_type"`
	EntityID         *uuid.UUID `gorm:"column:entity_id;type:uuid"`
	EntityName       *string    `gorm:"column:entity_name;type:jsonb"`
	ScheduledFor     time.Time  `gorm:"column:scheduled_for"`
	StartedAt        *time.Time `gorm:"column:started_at"`
	DurationMs       *int64     `gorm:"column:duration_ms"`
	Message          *string    `gorm:"column:message"`
	Progress         float64    `gorm:"column:progress"`
	TaskData         string     `gorm:"column:task_data;type:jsonb"`
	ExecutionDetails *string    `gorm:"column:execution_details;type:jsonb"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
}

func (taskLogRow) TableName() string { return "task_log" }

type queueConfigRow struct {
	QueueName                   string `gorm:"column:queue_name;primaryKey"`
	MaxRetries                  int    `gorm:"column:max_retries"`
	MaxTimeSinceLastHeartbeatMs int64  `gorm:"column:max_time_since_last_heartbeat_ms"`
}

func (queueConfigRow) TableName() string { return "task_queue_config" }

// allModels enumerates every row type for AutoMigrate.
func allModels() []any {
	return []any{
		&projectRow{},
		&warehouseRow{},
		&warehouseStatisticsRow{},
		&warehouseStatisticsHistoryRow{},
		&namespaceRow{},
		&tabularRow{},
		&tableRow{},
		&tableSchemaRow{},
		&partitionSpecRow{},
		&sortOrderRow{},
		&snapshotRow{},
		&snapshotRefRow{},
		&snapshotLogRow{},
		&metadataLogRow{},
		&tableStatisticsRow{},
		&partitionStatisticsRow{},
		&encryptionKeyRow{},
		&viewRow{},
		&roleRow{},
		&userRow{},
		&taskRow{},
		&taskLogRow{},
		&queueConfigRow{},
	}
}

// Conversions.

func projectFromRow(r *projectRow) *model.Project {
	return &model.Project{
		ProjectID: ids.ProjectID(r.ProjectID),
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func warehouseFromRow(r *warehouseRow) (*model.Warehouse, error) {
	var profile model.StorageProfile
	if r.StorageProfile != "" {
		if err := json.Unmarshal([]byte(r.StorageProfile), &profile); err != nil {
			return nil, catalogerr.ErrSerialization
		}
	}
	w := &model.Warehouse{
		WarehouseID:    ids.WarehouseID(r.WarehouseID),
		ProjectID:      ids.ProjectID(r.ProjectID),
		Name:           r.Name,
		StorageProfile: profile,
		Status:         model.WarehouseStatus(r.Status),
		Protected:      r.Protected,
		Version:        uint64(r.Version),
		UpdatedAt:      r.UpdatedAt,
	}
	if r.StorageSecretID != nil {
		sid := ids.SecretID(*r.StorageSecretID)
		w.StorageSecretID = &sid
	}
	switch model.TabularDeleteMode(r.TabularDeleteMode) {
	case model.TabularDeleteModeSoft:
		if r.TabularExpirationSeconds == nil {
			return nil, catalogerr.ErrMissingExpiration
		}
		w.TabularDeleteProfile = model.SoftDeleteProfile(time.Duration(*r.TabularExpirationSeconds) * time.Second)
	default:
		w.TabularDeleteProfile = model.HardDeleteProfile()
	}
	return w, nil
}

func warehouseToRow(w *model.Warehouse, createdAt time.Time) (*warehouseRow, error) {
	profile, err := json.Marshal(w.StorageProfile)
	if err != nil {
		return nil, catalogerr.ErrSerialization
	}
	r := &warehouseRow{
		WarehouseID:       uuid.UUID(w.WarehouseID),
		ProjectID:         uuid.UUID(w.ProjectID),
		Name:              w.Name,
		NameFolded:        foldName(w.Name),
		StorageProfile:    string(profile),
		Status:            string(w.Status),
		TabularDeleteMode: string(w.TabularDeleteProfile.Mode),
		Protected:         w.Protected,
		Version:           int64(w.Version),
		CreatedAt:         createdAt,
		UpdatedAt:         w.UpdatedAt,
	}
	if w.StorageSecretID != nil {
		sid := uuid.UUID(*w.StorageSecretID)
		r.StorageSecretID = &sid
	}
	if w.TabularDeleteProfile.Mode == model.TabularDeleteModeSoft {
		secs := int64(w.TabularDeleteProfile.Expiration / time.Second)
		r.TabularExpirationSeconds = &secs
	}
	return r, nil
}

func namespaceFromRow(r *namespaceRow) (*model.Namespace, error) {
	var ident model.NamespaceIdent
	if err := json.Unmarshal([]byte(r.Name), &ident); err != nil {
		return nil, catalogerr.ErrSerialization
	}
	props := map[string]string{}
	if r.Properties != "" {
		if err := json.Unmarshal([]byte(r.Properties), &props); err != nil {
			return nil, catalogerr.ErrSerialization
		}
	}
	ns := &model.Namespace{
		NamespaceID: ids.NamespaceID(r.NamespaceID),
		WarehouseID: ids.WarehouseID(r.WarehouseID),
		Ident:       ident,
		Properties:  props,
		Protected:   r.Protected,
		Version:     uint64(r.Version),
	}
	if r.ParentNamespaceID != nil && r.ParentVersion != nil {
		ns.Parent = &model.ParentSnapshot{
			ParentID:                ids.NamespaceID(*r.ParentNamespaceID),
			ParentVersionAtCreation: uint64(*r.ParentVersion),
		}
	}
	return ns, nil
}

func namespaceToRow(ns *model.Namespace, createdAt time.Time) (*namespaceRow, error) {
	name, err := json.Marshal(ns.Ident)
	if err != nil {
		return nil, catalogerr.ErrSerialization
	}
	props, err := json.Marshal(ns.Properties)
	if err != nil {
		return nil, catalogerr.ErrSerialization
	}
	r := &namespaceRow{
		NamespaceID: uuid.UUID(ns.NamespaceID),
		WarehouseID: uuid.UUID(ns.WarehouseID),
		Name:        string(name),
		NameFolded:  ns.Ident.FoldedKey(),
		Properties:  string(props),
		Protected:   ns.Protected,
		Version:     int64(ns.Version),
		CreatedAt:   createdAt,
	}
	if ns.Parent != nil {
		pid := uuid.UUID(ns.Parent.ParentID)
		pv := int64(ns.Parent.ParentVersionAtCreation)
		r.ParentNamespaceID = &pid
		r.ParentVersion = &pv
	}
	return r, nil
}

func tabularFromRow(r *tabularRow) *model.Tabular {
	var tid ids.TabularID
	if r.Typ == string(model.TabularTypeView) {
		tid = ids.TabularIDFromView(ids.ViewID(r.TabularID))
	} else {
		tid = ids.TabularIDFromTable(ids.TableID(r.TabularID))
	}
	return &model.Tabular{
		TabularID:        tid,
		WarehouseID:      ids.WarehouseID(r.WarehouseID),
		NamespaceID:      ids.NamespaceID(r.NamespaceID),
		NamespaceVersion: uint64(r.NamespaceVersion),
		WarehouseVersion: uint64(r.WarehouseVersion),
		Name:             r.Name,
		MetadataLocation: r.MetadataLocation,
		FsLocation:       r.FsLocation,
		FsProtocol:       r.FsProtocol,
		Protected:        r.Protected,
		DeletedAt:        r.DeletedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func tabularToRow(t *model.Tabular) *tabularRow {
	typ := string(model.TabularTypeTable)
	if t.TabularID.IsView() {
		typ = string(model.TabularTypeView)
	}
	return &tabularRow{
		TabularID:        t.TabularID.UUID(),
		WarehouseID:      uuid.UUID(t.WarehouseID),
		NamespaceID:      uuid.UUID(t.NamespaceID),
		Name:             t.Name,
		NameFolded:       foldName(t.Name),
		Typ:              typ,
		MetadataLocation: t.MetadataLocation,
		FsLocation:       t.FsLocation,
		FsProtocol:       t.FsProtocol,
		NamespaceVersion: int64(t.NamespaceVersion),
		WarehouseVersion: int64(t.WarehouseVersion),
		Protected:        t.Protected,
		DeletedAt:        t.DeletedAt,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func taskFromRow(r *taskRow) (*model.Task, error) {
	entity, err := entityFromColumns(r.ProjectID, r.WarehouseID, r.EntityType, r.EntityID, r.EntityName)
	if err != nil {
		return nil, err
	}
	task := &model.Task{
		TaskID:       ids.TaskID(r.TaskID),
		QueueName:    r.QueueName,
		ProjectID:    ids.ProjectID(r.ProjectID),
		Entity:       entity,
		ScheduledFor: r.ScheduledFor,
		Status:       model.TaskStatus(r.Status),
		Attempt:      r.Attempt,
		MaxRetries:   r.MaxRetries,
		Progress:     r.Progress,
		PickedUpAt:   r.PickedUpAt,
		LastHeartbeatAt: r.LastHeartbeatAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.WarehouseID != nil {
		wid := ids.WarehouseID(*r.WarehouseID)
		task.WarehouseID = &wid
	}
	if r.ParentTaskID != nil {
		pid := ids.TaskID(*r.ParentTaskID)
		task.ParentTaskID = &pid
	}
	if r.TaskData != "" {
		task.Payload = json.RawMessage(r.TaskData)
	}
	if r.ExecutionDetails != nil {
		task.ExecutionDetails = json.RawMessage(*r.ExecutionDetails)
	}
	return task, nil
}

// entityFromColumns inflates the persisted entity_type / entity_id /
// entity_name split back into the tagged union.
func entityFromColumns(projectID uuid.UUID, warehouseID *uuid.UUID, entityType string, entityID *uuid.UUID, entityName *string) (model.TaskEntity, error) {
	entity := model.TaskEntity{
		Kind:      model.TaskEntityKind(entityType),
		ProjectID: ids.ProjectID(projectID),
	}
	if warehouseID != nil {
		wid := ids.WarehouseID(*warehouseID)
		entity.WarehouseID = &wid
	}
	if entity.Kind == model.TaskEntityTabular && entityID != nil {
		// Tabular tasks always address tables and views through the table
		// arm; the log stores no typ discriminator.
		tid := ids.TabularIDFromTable(ids.TableID(*entityID))
		entity.TabularID = &tid
	}
	if entityName != nil {
		var name []string
		if err := json.Unmarshal([]byte(*entityName), &name); err != nil {
			return entity, catalogerr.ErrSerialization
		}
		entity.EntityName = name
	}
	return entity, nil
}

func entityToColumns(e model.TaskEntity) (entityType string, entityID *uuid.UUID, entityName *string, err error) {
	entityType = string(e.Kind)
	if e.TabularID != nil {
		id := e.TabularID.UUID()
		entityID = &id
	}
	if len(e.EntityName) > 0 {
		raw, merr := json.Marshal(e.EntityName)
		if merr != nil {
			return "", nil, nil, catalogerr.ErrSerialization
		}
		s := string(raw)
		entityName = &s
	}
	return entityType, entityID, entityName, nil
}

func roleFromRow(r *roleRow) *model.Role {
	return &model.Role{
		RoleID:      ids.RoleID(r.RoleID),
		ProjectID:   ids.ProjectID(r.ProjectID),
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func userFromRow(r *userRow) *model.User {
	return &model.User{
		UserID:     ids.UserID(r.UserID),
		Name:       r.Name,
		UserType:   model.UserType(r.UserType),
		Email:      r.Email,
		LastSeenAt: r.LastSeenAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
