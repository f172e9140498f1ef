package authz

import (
	"context"

	"catalog.evalgo.org/internal/ids"
)

// AllowAll grants every capability to every actor. It is the default for
// single-tenant deployments where the identity provider already gates who
// reaches the catalog at all, and the backend of choice for tests that are
// not about authorization.
type AllowAll struct{}

var _ Authorizer = AllowAll{}

func (AllowAll) Name() string { return "allow-all" }

func (AllowAll) IsAllowedServerAction(ctx context.Context, actor Actor, action ServerAction) (Decision, error) {
	return DecisionAllowed, nil
}

func (AllowAll) IsAllowedProjectAction(ctx context.Context, actor Actor, projectID ids.ProjectID, action ProjectAction) (Decision, error) {
	return DecisionAllowed, nil
}

func (AllowAll) IsAllowedWarehouseAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, action WarehouseAction) (Decision, error) {
	return DecisionAllowed, nil
}

func (AllowAll) IsAllowedNamespaceAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, namespaceID ids.NamespaceID, action NamespaceAction) (Decision, error) {
	return DecisionAllowed, nil
}

func (AllowAll) IsAllowedTableAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, tableID ids.TableID, action TableAction) (Decision, error) {
	return DecisionAllowed, nil
}

func (AllowAll) IsAllowedViewAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, viewID ids.ViewID, action ViewAction) (Decision, error) {
	return DecisionAllowed, nil
}

func (AllowAll) IsAllowedRoleAction(ctx context.Context, actor Actor, roleID ids.RoleID, action RoleAction) (Decision, error) {
	return DecisionAllowed, nil
}

func (AllowAll) IsAllowedUserAction(ctx context.Context, actor Actor, userID ids.UserID, action UserAction) (Decision, error) {
	return DecisionAllowed, nil
}

func (a AllowAll) AreAllowedNamespaceActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []NamespaceActionPair) ([]Decision, error) {
	return LoopBatchNamespaceActions(ctx, a, actor, warehouseID, pairs)
}

func (a AllowAll) AreAllowedTableActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []TableActionPair) ([]Decision, error) {
	return LoopBatchTableActions(ctx, a, actor, warehouseID, pairs)
}

func (a AllowAll) AreAllowedViewActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []ViewActionPair) ([]Decision, error) {
	return LoopBatchViewActions(ctx, a, actor, warehouseID, pairs)
}
