package authz

import (
	"catalog.evalgo.org/internal/ids"
)

// Decision is the tri-state outcome of one authorization check. Denied and
// EntityHidden differ only internally: EntityHidden means the actor lacks
// the see-permission on the entity and must never learn that it exists, so
// both render identically at the API boundary.
type Decision int

const (
	DecisionDenied Decision = iota
	DecisionAllowed
	DecisionEntityHidden
)

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionEntityHidden:
		return "entity-hidden"
	default:
		return "denied"
	}
}

// Verdict wraps a decision the caller is obliged to consume: dropping one
// without reading it is a programming error, since an unread verdict means
// an unenforced check. Tests use Consumed to assert the discipline.
type Verdict struct {
	decision Decision
	consumed bool
}

func newVerdict(d Decision) *Verdict {
	return &Verdict{decision: d}
}

// Allowed consumes the verdict and reports whether the action may proceed.
func (v *Verdict) Allowed() bool {
	v.consumed = true
	return v.decision == DecisionAllowed
}

// Decision consumes the verdict and exposes the full tri-state.
func (v *Verdict) Decision() Decision {
	v.consumed = true
	return v.decision
}

// Consumed reports whether the verdict was acted upon.
func (v *Verdict) Consumed() bool {
	return v.consumed
}

// Actor identifies who a check runs for. Exactly one of UserID/RoleID is
// set for a concrete principal; the zero Actor is the anonymous principal.
type Actor struct {
	UserID *ids.UserID
	RoleID *ids.RoleID
}

func ActorUser(id ids.UserID) Actor { return Actor{UserID: &id} }
func ActorRole(id ids.RoleID) Actor { return Actor{RoleID: &id} }

func (a Actor) String() string {
	switch {
	case a.UserID != nil:
		return "user:" + a.UserID.String()
	case a.RoleID != nil:
		return "role:" + a.RoleID.String()
	default:
		return "anonymous"
	}
}

// RequestMetadata carries the per-request identity context every check
// consults.
type RequestMetadata struct {
	Actor Actor
	// ServerAdmin marks the actor as a server administrator. Together with
	// an unset ForUser it short-circuits every check to allowed without
	// consulting the backend.
	ServerAdmin bool
	// ForUser requests impersonation; its presence disables the admin
	// short-circuit so the impersonated principal is evaluated for real.
	ForUser *Actor
}

// EffectiveActor resolves impersonation.
func (m RequestMetadata) EffectiveActor() Actor {
	if m.ForUser != nil {
		return *m.ForUser
	}
	return m.Actor
}

// adminBypass reports whether the short-circuit applies.
func (m RequestMetadata) adminBypass() bool {
	return m.ServerAdmin && m.ForUser == nil
}
