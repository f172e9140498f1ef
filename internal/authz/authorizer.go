package authz

import (
	"context"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
)

// NamespaceActionPair is one element of a batched namespace check.
type NamespaceActionPair struct {
	NamespaceID ids.NamespaceID
	Action      NamespaceAction
}

// TableActionPair is one element of a batched table check.
type TableActionPair struct {
	TableID ids.TableID
	Action  TableAction
}

// ViewActionPair is one element of a batched view check.
type ViewActionPair struct {
	ViewID ids.ViewID
	Action ViewAction
}

// Authorizer is the pluggable policy backend. Single checks return the
// tri-state decision; batch checks must return decisions in input order
// with equal cardinality — the engine enforces the latter and backends that
// decompose into per-kind round trips must re-order to match.
//
// Backends must probe the entity's see-permission before evaluating the
// requested action and answer DecisionEntityHidden when it is unmet, so
// the entity's existence never leaks through a denial.
type Authorizer interface {
	// Name identifies the backend in logs.
	Name() string

	IsAllowedServerAction(ctx context.Context, actor Actor, action ServerAction) (Decision, error)
	IsAllowedProjectAction(ctx context.Context, actor Actor, projectID ids.ProjectID, action ProjectAction) (Decision, error)
	IsAllowedWarehouseAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, action WarehouseAction) (Decision, error)
	IsAllowedNamespaceAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, namespaceID ids.NamespaceID, action NamespaceAction) (Decision, error)
	IsAllowedTableAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, tableID ids.TableID, action TableAction) (Decision, error)
	IsAllowedViewAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, viewID ids.ViewID, action ViewAction) (Decision, error)
	IsAllowedRoleAction(ctx context.Context, actor Actor, roleID ids.RoleID, action RoleAction) (Decision, error)
	IsAllowedUserAction(ctx context.Context, actor Actor, userID ids.UserID, action UserAction) (Decision, error)

	// Batched checks. Efficient backends coalesce these into one round
	// trip; LoopBatch* provide the obvious defaults over single checks.
	AreAllowedNamespaceActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []NamespaceActionPair) ([]Decision, error)
	AreAllowedTableActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []TableActionPair) ([]Decision, error)
	AreAllowedViewActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []ViewActionPair) ([]Decision, error)
}

// LoopBatchNamespaceActions is the default batch implementation: one
// single check per pair, output in input order.
func LoopBatchNamespaceActions(ctx context.Context, a Authorizer, actor Actor, warehouseID ids.WarehouseID, pairs []NamespaceActionPair) ([]Decision, error) {
	out := make([]Decision, 0, len(pairs))
	for _, p := range pairs {
		d, err := a.IsAllowedNamespaceAction(ctx, actor, warehouseID, p.NamespaceID, p.Action)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// LoopBatchTableActions is the default batch implementation for tables.
func LoopBatchTableActions(ctx context.Context, a Authorizer, actor Actor, warehouseID ids.WarehouseID, pairs []TableActionPair) ([]Decision, error) {
	out := make([]Decision, 0, len(pairs))
	for _, p := range pairs {
		d, err := a.IsAllowedTableAction(ctx, actor, warehouseID, p.TableID, p.Action)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// LoopBatchViewActions is the default batch implementation for views.
func LoopBatchViewActions(ctx context.Context, a Authorizer, actor Actor, warehouseID ids.WarehouseID, pairs []ViewActionPair) ([]Decision, error) {
	out := make([]Decision, 0, len(pairs))
	for _, p := range pairs {
		d, err := a.IsAllowedViewAction(ctx, actor, warehouseID, p.ViewID, p.Action)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// checkCardinality enforces |outputs| == |inputs| on any batch result.
func checkCardinality(requested, returned int) error {
	if requested != returned {
		return &catalogerr.AuthorizationCountMismatch{Requested: requested, Returned: returned}
	}
	return nil
}
