package authz

import (
	"context"
	"encoding/json"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// CheckRequest is the management API's permission probe: evaluate one
// operation for the caller, or for the given identity when the caller may
// inspect other principals' permissions.
type CheckRequest struct {
	Identity  *CheckIdentity `json:"identity,omitempty"`
	Operation CheckOperation `json:"operation"`
}

// CheckIdentity selects the principal a check runs for.
type CheckIdentity struct {
	User *ids.UserID `json:"user,omitempty"`
	Role *ids.RoleID `json:"role,omitempty"`
}

// CheckResponse is the probe's answer. Hidden entities answer false, the
// same as denied.
type CheckResponse struct {
	Allowed bool `json:"allowed"`
}

// CheckOperation is tagged by its single top-level key, one per entity
// kind. Exactly one variant must be present.
type CheckOperation struct {
	Server    *ServerCheck    `json:"server,omitempty"`
	Project   *ProjectCheck   `json:"project,omitempty"`
	Warehouse *WarehouseCheck `json:"warehouse,omitempty"`
	Namespace *NamespaceCheck `json:"namespace,omitempty"`
	Table     *TabularCheck   `json:"table,omitempty"`
	View      *TabularCheck   `json:"view,omitempty"`
}

// Validate enforces the exactly-one-variant rule.
func (op CheckOperation) Validate() error {
	n := 0
	if op.Server != nil {
		n++
	}
	if op.Project != nil {
		n++
	}
	if op.Warehouse != nil {
		n++
	}
	if op.Namespace != nil {
		n++
	}
	if op.Table != nil {
		n++
	}
	if op.View != nil {
		n++
	}
	if n != 1 {
		return catalogerr.ErrInvalidTemplate
	}
	return nil
}

// ServerCheck probes a server capability.
type ServerCheck struct {
	Action ServerAction `json:"action"`
}

// ProjectCheck probes a project capability.
type ProjectCheck struct {
	Action    ProjectAction  `json:"action"`
	ProjectID *ids.ProjectID `json:"project-id,omitempty"`
}

// WarehouseCheck probes a warehouse capability.
type WarehouseCheck struct {
	Action      WarehouseAction `json:"action"`
	WarehouseID ids.WarehouseID `json:"warehouse-id"`
}

// NamespaceCheck probes a namespace capability, addressed by id or by
// ident path.
type NamespaceCheck struct {
	Action      NamespaceAction  `json:"action"`
	WarehouseID ids.WarehouseID  `json:"warehouse-id"`
	NamespaceID *ids.NamespaceID `json:"namespace-id,omitempty"`
	Namespace   []string         `json:"namespace,omitempty"`
}

// TabularIdentWire addresses a tabular by namespace path and name.
type TabularIdentWire struct {
	Namespace []string `json:"namespace"`
	Name      string   `json:"name"`
}

// TabularCheck probes a table or view capability, addressed by id or
// ident. On input the legacy `view-id` key is accepted as an alias for
// `table-id`; output always uses the canonical `table-id`.
type TabularCheck struct {
	Action      string            `json:"action"`
	WarehouseID ids.WarehouseID   `json:"warehouse-id"`
	TableID     *ids.TableID      `json:"table-id,omitempty"`
	Table       *TabularIdentWire `json:"table,omitempty"`
}

func (t *TabularCheck) UnmarshalJSON(b []byte) error {
	type alias TabularCheck
	aux := struct {
		*alias
		ViewID *ids.TableID `json:"view-id,omitempty"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	// view-id normalizes onto table-id; an explicit table-id wins.
	if t.TableID == nil && aux.ViewID != nil {
		t.TableID = aux.ViewID
	}
	return nil
}

// Check evaluates one CheckRequest. The admin short-circuit applies before
// any backend or store access: a server administrator with no identity
// override gets an immediate allow.
func (l *Loader) Check(ctx context.Context, meta RequestMetadata, req CheckRequest) (CheckResponse, error) {
	if err := req.Operation.Validate(); err != nil {
		return CheckResponse{}, err
	}
	if req.Identity != nil {
		// Probing someone else's permissions is itself gated.
		v, err := l.engine.CanServerAction(ctx, meta, ServerCanReadAssignments)
		if err != nil {
			return CheckResponse{}, err
		}
		if !v.Allowed() {
			return CheckResponse{}, catalogerr.ErrCannotInspectPerms
		}
		impersonated := identityActor(req.Identity)
		meta = RequestMetadata{Actor: meta.Actor, ServerAdmin: meta.ServerAdmin, ForUser: &impersonated}
	}
	if meta.adminBypass() {
		return CheckResponse{Allowed: true}, nil
	}

	op := req.Operation
	actor := meta.EffectiveActor()
	a := l.engine.authorizer
	var (
		d   Decision
		err error
	)
	switch {
	case op.Server != nil:
		d, err = a.IsAllowedServerAction(ctx, actor, op.Server.Action)
	case op.Project != nil:
		projectID := ids.ProjectID{}
		if op.Project.ProjectID != nil {
			projectID = *op.Project.ProjectID
		}
		d, err = a.IsAllowedProjectAction(ctx, actor, projectID, op.Project.Action)
	case op.Warehouse != nil:
		d, err = a.IsAllowedWarehouseAction(ctx, actor, op.Warehouse.WarehouseID, op.Warehouse.Action)
	case op.Namespace != nil:
		var nsID *ids.NamespaceID
		if op.Namespace.NamespaceID != nil {
			nsID = op.Namespace.NamespaceID
		} else if len(op.Namespace.Namespace) > 0 {
			nsID, err = l.cache.ResolveIdent(ctx, op.Namespace.WarehouseID, model.NamespaceIdent(op.Namespace.Namespace))
			if err != nil {
				return CheckResponse{}, err
			}
		}
		if nsID == nil {
			return CheckResponse{Allowed: false}, nil
		}
		d, err = a.IsAllowedNamespaceAction(ctx, actor, op.Namespace.WarehouseID, *nsID, op.Namespace.Action)
	case op.Table != nil:
		tableID, rerr := l.resolveTabularID(ctx, op.Table)
		if rerr != nil {
			return CheckResponse{}, rerr
		}
		if tableID == nil {
			return CheckResponse{Allowed: false}, nil
		}
		d, err = a.IsAllowedTableAction(ctx, actor, op.Table.WarehouseID, *tableID, TableAction(op.Table.Action))
	case op.View != nil:
		tableID, rerr := l.resolveTabularID(ctx, op.View)
		if rerr != nil {
			return CheckResponse{}, rerr
		}
		if tableID == nil {
			return CheckResponse{Allowed: false}, nil
		}
		d, err = a.IsAllowedViewAction(ctx, actor, op.View.WarehouseID, ids.ViewID(*tableID), ViewAction(op.View.Action))
	}
	if err != nil {
		return CheckResponse{}, err
	}
	return CheckResponse{Allowed: d == DecisionAllowed}, nil
}

func (l *Loader) resolveTabularID(ctx context.Context, check *TabularCheck) (*ids.TableID, error) {
	if check.TableID != nil {
		return check.TableID, nil
	}
	if check.Table == nil {
		return nil, nil
	}
	tab, err := l.store.GetTabularByIdent(ctx, check.WarehouseID, model.TabularIdent{
		Namespace: model.NamespaceIdent(check.Table.Namespace),
		Name:      check.Table.Name,
	})
	if err != nil || tab == nil {
		return nil, err
	}
	id := ids.TableID(tab.TabularID.UUID())
	return &id, nil
}

func identityActor(id *CheckIdentity) Actor {
	switch {
	case id.User != nil:
		return ActorUser(*id.User)
	case id.Role != nil:
		return ActorRole(*id.Role)
	default:
		return Actor{}
	}
}
