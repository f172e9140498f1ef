package authz

import (
	"context"
	"time"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/events"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// Engine wraps an Authorizer with the contracts shared by every backend:
// the server-admin short-circuit, see-permission hiding in the RequireX
// helpers, batch cardinality enforcement, and audit emission.
type Engine struct {
	authorizer Authorizer
	dispatcher *events.Dispatcher
}

// NewEngine builds an engine. dispatcher may be nil when no audit trail is
// wanted.
func NewEngine(authorizer Authorizer, dispatcher *events.Dispatcher) *Engine {
	return &Engine{authorizer: authorizer, dispatcher: dispatcher}
}

// Authorizer exposes the wrapped backend.
func (e *Engine) Authorizer() Authorizer {
	return e.authorizer
}

// CanServerAction checks one server capability.
func (e *Engine) CanServerAction(ctx context.Context, meta RequestMetadata, action ServerAction) (*Verdict, error) {
	if meta.adminBypass() {
		return newVerdict(DecisionAllowed), nil
	}
	d, err := e.authorizer.IsAllowedServerAction(ctx, meta.EffectiveActor(), action)
	if err != nil {
		return nil, err
	}
	return newVerdict(d), nil
}

// CanProjectAction checks one project capability.
func (e *Engine) CanProjectAction(ctx context.Context, meta RequestMetadata, projectID ids.ProjectID, action ProjectAction) (*Verdict, error) {
	if meta.adminBypass() {
		return newVerdict(DecisionAllowed), nil
	}
	d, err := e.authorizer.IsAllowedProjectAction(ctx, meta.EffectiveActor(), projectID, action)
	if err != nil {
		return nil, err
	}
	return newVerdict(d), nil
}

// CanWarehouseAction checks one warehouse capability.
func (e *Engine) CanWarehouseAction(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, action WarehouseAction) (*Verdict, error) {
	if meta.adminBypass() {
		return newVerdict(DecisionAllowed), nil
	}
	d, err := e.authorizer.IsAllowedWarehouseAction(ctx, meta.EffectiveActor(), warehouseID, action)
	if err != nil {
		return nil, err
	}
	return newVerdict(d), nil
}

// CanNamespaceAction checks one namespace capability.
func (e *Engine) CanNamespaceAction(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, namespaceID ids.NamespaceID, action NamespaceAction) (*Verdict, error) {
	if meta.adminBypass() {
		return newVerdict(DecisionAllowed), nil
	}
	d, err := e.authorizer.IsAllowedNamespaceAction(ctx, meta.EffectiveActor(), warehouseID, namespaceID, action)
	if err != nil {
		return nil, err
	}
	return newVerdict(d), nil
}

// CanTableAction checks one table capability.
func (e *Engine) CanTableAction(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, tableID ids.TableID, action TableAction) (*Verdict, error) {
	if meta.adminBypass() {
		return newVerdict(DecisionAllowed), nil
	}
	d, err := e.authorizer.IsAllowedTableAction(ctx, meta.EffectiveActor(), warehouseID, tableID, action)
	if err != nil {
		return nil, err
	}
	return newVerdict(d), nil
}

// CanViewAction checks one view capability.
func (e *Engine) CanViewAction(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, viewID ids.ViewID, action ViewAction) (*Verdict, error) {
	if meta.adminBypass() {
		return newVerdict(DecisionAllowed), nil
	}
	d, err := e.authorizer.IsAllowedViewAction(ctx, meta.EffectiveActor(), warehouseID, viewID, action)
	if err != nil {
		return nil, err
	}
	return newVerdict(d), nil
}

// CanRoleAction checks one role capability.
func (e *Engine) CanRoleAction(ctx context.Context, meta RequestMetadata, roleID ids.RoleID, action RoleAction) (*Verdict, error) {
	if meta.adminBypass() {
		return newVerdict(DecisionAllowed), nil
	}
	d, err := e.authorizer.IsAllowedRoleAction(ctx, meta.EffectiveActor(), roleID, action)
	if err != nil {
		return nil, err
	}
	return newVerdict(d), nil
}

// CanUserAction checks one user capability.
func (e *Engine) CanUserAction(ctx context.Context, meta RequestMetadata, userID ids.UserID, action UserAction) (*Verdict, error) {
	if meta.adminBypass() {
		return newVerdict(DecisionAllowed), nil
	}
	d, err := e.authorizer.IsAllowedUserAction(ctx, meta.EffectiveActor(), userID, action)
	if err != nil {
		return nil, err
	}
	return newVerdict(d), nil
}

// Batch checks. Output cardinality and ordering are enforced here so no
// backend bug can silently misalign decisions with inputs.

func (e *Engine) AreAllowedNamespaceActions(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, pairs []NamespaceActionPair) ([]Decision, error) {
	if meta.adminBypass() {
		return allAllowed(len(pairs)), nil
	}
	out, err := e.authorizer.AreAllowedNamespaceActions(ctx, meta.EffectiveActor(), warehouseID, pairs)
	if err != nil {
		return nil, err
	}
	if err := checkCardinality(len(pairs), len(out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) AreAllowedTableActions(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, pairs []TableActionPair) ([]Decision, error) {
	if meta.adminBypass() {
		return allAllowed(len(pairs)), nil
	}
	out, err := e.authorizer.AreAllowedTableActions(ctx, meta.EffectiveActor(), warehouseID, pairs)
	if err != nil {
		return nil, err
	}
	if err := checkCardinality(len(pairs), len(out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) AreAllowedViewActions(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, pairs []ViewActionPair) ([]Decision, error) {
	if meta.adminBypass() {
		return allAllowed(len(pairs)), nil
	}
	out, err := e.authorizer.AreAllowedViewActions(ctx, meta.EffectiveActor(), warehouseID, pairs)
	if err != nil {
		return nil, err
	}
	if err := checkCardinality(len(pairs), len(out)); err != nil {
		return nil, err
	}
	return out, nil
}

func allAllowed(n int) []Decision {
	out := make([]Decision, n)
	for i := range out {
		out[i] = DecisionAllowed
	}
	return out
}

// RequireX helpers: the hiding contract. Three input shapes:
//   - err != nil            → propagated unchanged (internal failure)
//   - entity == nil         → the uniform hidden error
//   - entity present, check → allowed passes the entity through, anything
//     else returns the SAME uniform hidden error as the missing case,
//     byte-identical so absence and denial cannot be told apart.

// RequireWarehouseAction enforces action on a resolver result.
func (e *Engine) RequireWarehouseAction(ctx context.Context, meta RequestMetadata, action WarehouseAction, w *model.Warehouse, err error) (*model.Warehouse, error) {
	if err != nil {
		return nil, err
	}
	hidden := &catalogerr.EntityHidden{EntityKind: "Warehouse", Action: string(action)}
	if w == nil {
		return nil, hidden
	}
	if meta.adminBypass() {
		return w, nil
	}
	actor := meta.EffectiveActor()
	// The see-permission goes first: an actor that may not even know the
	// warehouse exists gets the hidden answer regardless of the action.
	see, err := e.authorizer.IsAllowedWarehouseAction(ctx, actor, w.WarehouseID, warehouseSeeAction())
	if err != nil {
		return nil, err
	}
	if see != DecisionAllowed {
		return nil, hidden
	}
	d, err := e.authorizer.IsAllowedWarehouseAction(ctx, actor, w.WarehouseID, action)
	if err != nil {
		return nil, err
	}
	if d != DecisionAllowed {
		return nil, hidden
	}
	return w, nil
}

// RequireNamespaceAction enforces action on a resolver result.
func (e *Engine) RequireNamespaceAction(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, action NamespaceAction, ns *model.Namespace, err error) (*model.Namespace, error) {
	if err != nil {
		return nil, err
	}
	hidden := &catalogerr.EntityHidden{EntityKind: "Namespace", Action: string(action)}
	if ns == nil {
		return nil, hidden
	}
	if meta.adminBypass() {
		return ns, nil
	}
	actor := meta.EffectiveActor()
	see, err := e.authorizer.IsAllowedNamespaceAction(ctx, actor, warehouseID, ns.NamespaceID, namespaceSeeAction())
	if err != nil {
		return nil, err
	}
	if see != DecisionAllowed {
		return nil, hidden
	}
	d, err := e.authorizer.IsAllowedNamespaceAction(ctx, actor, warehouseID, ns.NamespaceID, action)
	if err != nil {
		return nil, err
	}
	if d != DecisionAllowed {
		return nil, hidden
	}
	return ns, nil
}

// RequireTableAction enforces action on a resolver result.
func (e *Engine) RequireTableAction(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, action TableAction, tab *model.Tabular, err error) (*model.Tabular, error) {
	if err != nil {
		return nil, err
	}
	hidden := &catalogerr.EntityHidden{EntityKind: "Table", Action: string(action)}
	if tab == nil || !tab.TabularID.IsTable() {
		return nil, hidden
	}
	if meta.adminBypass() {
		return tab, nil
	}
	actor := meta.EffectiveActor()
	see, err := e.authorizer.IsAllowedTableAction(ctx, actor, warehouseID, tab.TabularID.Table, tableSeeAction())
	if err != nil {
		return nil, err
	}
	if see != DecisionAllowed {
		return nil, hidden
	}
	d, err := e.authorizer.IsAllowedTableAction(ctx, actor, warehouseID, tab.TabularID.Table, action)
	if err != nil {
		return nil, err
	}
	if d != DecisionAllowed {
		return nil, hidden
	}
	return tab, nil
}

// RequireViewAction enforces action on a resolver result.
func (e *Engine) RequireViewAction(ctx context.Context, meta RequestMetadata, warehouseID ids.WarehouseID, action ViewAction, tab *model.Tabular, err error) (*model.Tabular, error) {
	if err != nil {
		return nil, err
	}
	hidden := &catalogerr.EntityHidden{EntityKind: "View", Action: string(action)}
	if tab == nil || !tab.TabularID.IsView() {
		return nil, hidden
	}
	if meta.adminBypass() {
		return tab, nil
	}
	actor := meta.EffectiveActor()
	see, err := e.authorizer.IsAllowedViewAction(ctx, actor, warehouseID, tab.TabularID.View, viewSeeAction())
	if err != nil {
		return nil, err
	}
	if see != DecisionAllowed {
		return nil, hidden
	}
	d, err := e.authorizer.IsAllowedViewAction(ctx, actor, warehouseID, tab.TabularID.View, action)
	if err != nil {
		return nil, err
	}
	if d != DecisionAllowed {
		return nil, hidden
	}
	return tab, nil
}

// APIEventContext couples one request's authorization outcome to the audit
// stream. It is single-use: EmitAuthz consumes it, later calls are dropped.
// List-style queries that sub-filter entries per decision use the NoAudit
// variant so each filtered row does not produce an audit record.
type APIEventContext struct {
	engine *Engine
	meta   RequestMetadata
	audit  bool
	used   bool
}

// NewEventContext opens an auditing context for one request.
func (e *Engine) NewEventContext(meta RequestMetadata) *APIEventContext {
	return &APIEventContext{engine: e, meta: meta, audit: true}
}

// NoAudit returns a context variant whose emissions are suppressed.
func (c *APIEventContext) NoAudit() *APIEventContext {
	return &APIEventContext{engine: c.engine, meta: c.meta, audit: false}
}

// EmitAuthz publishes the final authorization outcome of the request:
// a succeeded event when err is nil, a failed event otherwise. The context
// is consumed by the first call.
func (c *APIEventContext) EmitAuthz(ctx context.Context, entityKind, entityID, action string, err error) {
	if c.used || !c.audit || c.engine.dispatcher == nil {
		c.used = true
		return
	}
	c.used = true
	actor := c.meta.EffectiveActor().String()
	if err == nil {
		c.engine.dispatcher.DispatchAuthorizationSucceeded(ctx, events.AuthorizationSucceededEvent{
			Actor:      actor,
			EntityKind: entityKind,
			EntityID:   entityID,
			Action:     action,
			At:         time.Now().UTC(),
		})
		return
	}
	c.engine.dispatcher.DispatchAuthorizationFailed(ctx, events.AuthorizationFailedEvent{
		Actor:      actor,
		EntityKind: entityKind,
		EntityID:   entityID,
		Action:     action,
		Error:      err.Error(),
		At:         time.Now().UTC(),
	})
}
