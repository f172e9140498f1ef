package authz

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"catalog.evalgo.org/internal/ids"
)

// Relational evaluates capability tuples (actor, relation, object): an
// actor holds an action on an object when a matching tuple exists, either
// for the exact action or for the wildcard relation. Tuples live in a
// concurrent in-process set; multi-replica deployments needing shared
// tuples put them behind their own store the way secrets sit behind the
// secret store — persistence is a collaborator, not this package's job.
//
// The see-permission contract: an actor without any tuple on an object
// gets DecisionEntityHidden whatever the action; an actor holding some
// tuple on the object but not the requested action gets DecisionDenied.
type Relational struct {
	mu     sync.RWMutex
	tuples map[tupleKey]struct{}
}

// RelationAll is the wildcard relation granting every action on an object.
const RelationAll = "*"

type tupleKey struct {
	actor    string
	relation string
	object   uuid.UUID
}

// NewRelational builds an empty tuple set.
func NewRelational() *Relational {
	return &Relational{tuples: map[tupleKey]struct{}{}}
}

var _ Authorizer = (*Relational)(nil)

func (r *Relational) Name() string { return "relational" }

// Grant records a tuple. Use RelationAll to grant every action.
func (r *Relational) Grant(actor Actor, relation string, object uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tuples[tupleKey{actor: actor.String(), relation: relation, object: object}] = struct{}{}
}

// Revoke removes a tuple.
func (r *Relational) Revoke(actor Actor, relation string, object uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tuples, tupleKey{actor: actor.String(), relation: relation, object: object})
}

func (r *Relational) has(actor Actor, relation string, object uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tuples[tupleKey{actor: actor.String(), relation: relation, object: object}]; ok {
		return true
	}
	_, ok := r.tuples[tupleKey{actor: actor.String(), relation: RelationAll, object: object}]
	return ok
}

// canSee reports whether the actor holds any tuple on the object at all.
func (r *Relational) canSee(actor Actor, object uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := range r.tuples {
		if k.object == object && k.actor == actor.String() {
			return true
		}
	}
	return false
}

// decide implements the shared tri-state resolution over one object.
func (r *Relational) decide(actor Actor, action string, object uuid.UUID) Decision {
	if r.has(actor, action, object) {
		return DecisionAllowed
	}
	if !r.canSee(actor, object) {
		return DecisionEntityHidden
	}
	return DecisionDenied
}

func (r *Relational) IsAllowedServerAction(ctx context.Context, actor Actor, action ServerAction) (Decision, error) {
	// Server capabilities use the nil object.
	return r.decide(actor, string(action), uuid.Nil), nil
}

func (r *Relational) IsAllowedProjectAction(ctx context.Context, actor Actor, projectID ids.ProjectID, action ProjectAction) (Decision, error) {
	return r.decide(actor, string(action), uuid.UUID(projectID)), nil
}

func (r *Relational) IsAllowedWarehouseAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, action WarehouseAction) (Decision, error) {
	return r.decide(actor, string(action), uuid.UUID(warehouseID)), nil
}

func (r *Relational) IsAllowedNamespaceAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, namespaceID ids.NamespaceID, action NamespaceAction) (Decision, error) {
	return r.decide(actor, string(action), uuid.UUID(namespaceID)), nil
}

func (r *Relational) IsAllowedTableAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, tableID ids.TableID, action TableAction) (Decision, error) {
	return r.decide(actor, string(action), uuid.UUID(tableID)), nil
}

func (r *Relational) IsAllowedViewAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, viewID ids.ViewID, action ViewAction) (Decision, error) {
	return r.decide(actor, string(action), uuid.UUID(viewID)), nil
}

func (r *Relational) IsAllowedRoleAction(ctx context.Context, actor Actor, roleID ids.RoleID, action RoleAction) (Decision, error) {
	return r.decide(actor, string(action), uuid.UUID(roleID)), nil
}

func (r *Relational) IsAllowedUserAction(ctx context.Context, actor Actor, userID ids.UserID, action UserAction) (Decision, error) {
	return r.decide(actor, string(action), uuid.UUID(userID)), nil
}

// The batched checks resolve each pair with the same tri-state logic as
// the single checks, in input order; each lookup takes the read lock on
// its own.

func (r *Relational) AreAllowedNamespaceActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []NamespaceActionPair) ([]Decision, error) {
	out := make([]Decision, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, r.decide(actor, string(p.Action), uuid.UUID(p.NamespaceID)))
	}
	return out, nil
}

func (r *Relational) AreAllowedTableActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []TableActionPair) ([]Decision, error) {
	out := make([]Decision, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, r.decide(actor, string(p.Action), uuid.UUID(p.TableID)))
	}
	return out, nil
}

func (r *Relational) AreAllowedViewActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []ViewActionPair) ([]Decision, error) {
	out := make([]Decision, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, r.decide(actor, string(p.Action), uuid.UUID(p.ViewID)))
	}
	return out, nil
}
