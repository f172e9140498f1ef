// Package authz is the catalog's authorization engine: a capability model
// over discrete per-entity actions, with tri-state decisions, batched
// checks, and existence-hiding error semantics. The engine never invents a
// policy of its own; it delegates to a pluggable Authorizer and adds the
// contracts every backend must honor (admin short-circuit, see-permission
// probing, uniform hidden-entity errors, ordered batch output).
package authz

// ServerAction is a capability against the server as a whole.
type ServerAction string

const (
	ServerCanCreateProject ServerAction = "can_create_project"
	ServerCanUpdateUsers   ServerAction = "can_update_users"
	ServerCanDeleteUsers   ServerAction = "can_delete_users"
	ServerCanListUsers     ServerAction = "can_list_users"
	ServerCanProvisionUsers ServerAction = "can_provision_users"
	ServerCanReadAssignments ServerAction = "can_read_assignments"
)

// ProjectAction is a capability against one project.
type ProjectAction string

const (
	ProjectCanCreateWarehouse ProjectAction = "can_create_warehouse"
	ProjectCanDelete          ProjectAction = "can_delete"
	ProjectCanRename          ProjectAction = "can_rename"
	ProjectCanGetMetadata     ProjectAction = "can_get_metadata"
	ProjectCanListWarehouses  ProjectAction = "can_list_warehouses"
	ProjectCanCreateRole      ProjectAction = "can_create_role"
	ProjectCanListRoles       ProjectAction = "can_list_roles"
	ProjectCanSearchRoles     ProjectAction = "can_search_roles"
)

// WarehouseAction is a capability against one warehouse.
type WarehouseAction string

const (
	WarehouseCanCreateNamespace   WarehouseAction = "can_create_namespace"
	WarehouseCanDelete            WarehouseAction = "can_delete"
	WarehouseCanUpdateStorage     WarehouseAction = "can_update_storage"
	WarehouseCanDeactivate        WarehouseAction = "can_deactivate"
	WarehouseCanActivate          WarehouseAction = "can_activate"
	WarehouseCanRename            WarehouseAction = "can_rename"
	WarehouseCanGetMetadata       WarehouseAction = "can_get_metadata"
	WarehouseCanGetConfig         WarehouseAction = "can_get_config"
	WarehouseCanListNamespaces    WarehouseAction = "can_list_namespaces"
	WarehouseCanListDeletedTabulars WarehouseAction = "can_list_deleted_tabulars"
	WarehouseCanListEverything    WarehouseAction = "can_list_everything"
	WarehouseCanModifySoftDeletion WarehouseAction = "can_modify_soft_deletion"
	WarehouseCanSetProtection     WarehouseAction = "can_set_protection"
	WarehouseCanGetTaskQueueConfig WarehouseAction = "can_get_task_queue_config"
	WarehouseCanModifyTaskQueueConfig WarehouseAction = "can_modify_task_queue_config"
)

// NamespaceAction is a capability against one namespace.
type NamespaceAction string

const (
	NamespaceCanCreateTable     NamespaceAction = "can_create_table"
	NamespaceCanCreateView      NamespaceAction = "can_create_view"
	NamespaceCanCreateNamespace NamespaceAction = "can_create_namespace"
	NamespaceCanDelete          NamespaceAction = "can_delete"
	NamespaceCanUpdateProperties NamespaceAction = "can_update_properties"
	NamespaceCanGetMetadata     NamespaceAction = "can_get_metadata"
	NamespaceCanListTables      NamespaceAction = "can_list_tables"
	NamespaceCanListViews       NamespaceAction = "can_list_views"
	NamespaceCanListNamespaces  NamespaceAction = "can_list_namespaces"
	NamespaceCanSetProtection   NamespaceAction = "can_set_protection"
)

// TableAction is a capability against one table.
type TableAction string

const (
	TableCanDrop           TableAction = "can_drop"
	TableCanUndrop         TableAction = "can_undrop"
	TableCanWriteData      TableAction = "can_write_data"
	TableCanReadData       TableAction = "can_read_data"
	TableCanGetMetadata    TableAction = "can_get_metadata"
	TableCanCommit         TableAction = "can_commit"
	TableCanRename         TableAction = "can_rename"
	TableCanSetProtection  TableAction = "can_set_protection"
)

// ViewAction is a capability against one view.
type ViewAction string

const (
	ViewCanDrop          ViewAction = "can_drop"
	ViewCanUndrop        ViewAction = "can_undrop"
	ViewCanGetMetadata   ViewAction = "can_get_metadata"
	ViewCanCommit        ViewAction = "can_commit"
	ViewCanRename        ViewAction = "can_rename"
	ViewCanSetProtection ViewAction = "can_set_protection"
)

// RoleAction is a capability against one role.
type RoleAction string

const (
	RoleCanDelete        RoleAction = "can_delete"
	RoleCanUpdate        RoleAction = "can_update"
	RoleCanRead          RoleAction = "can_read"
	RoleCanReadAssignments RoleAction = "can_read_assignments"
)

// UserAction is a capability against one user record.
type UserAction string

const (
	UserCanRead   UserAction = "can_read"
	UserCanUpdate UserAction = "can_update"
	UserCanDelete UserAction = "can_delete"
)

// See-permissions: the CanGetMetadata-class action probed before any other
// check on the same entity, so an unmet see-permission hides the entity
// instead of leaking its existence.

func warehouseSeeAction() WarehouseAction { return WarehouseCanGetMetadata }
func namespaceSeeAction() NamespaceAction { return NamespaceCanGetMetadata }
func tableSeeAction() TableAction         { return TableCanGetMetadata }
func viewSeeAction() ViewAction           { return ViewCanGetMetadata }
