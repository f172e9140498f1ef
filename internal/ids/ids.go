// Package ids defines the phantom-typed entity identifiers shared across the
// catalog. Every identifier wraps a uuid.UUID so callers can never pass a
// WarehouseID where a NamespaceID is expected, while still getting a cheap
// comparable, hashable, displayable value.
package ids

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ProjectID identifies a project, the top-level tenancy scope.
type ProjectID uuid.UUID

// WarehouseID identifies a warehouse within a project.
type WarehouseID uuid.UUID

// NamespaceID identifies a namespace within a warehouse.
type NamespaceID uuid.UUID

// TableID identifies a table within a warehouse.
type TableID uuid.UUID

// ViewID identifies a view within a warehouse.
type ViewID uuid.UUID

// RoleID identifies a role principal.
type RoleID uuid.UUID

// UserID identifies a user principal.
type UserID uuid.UUID

// TaskID identifies a task (stable across retried attempts).
type TaskID uuid.UUID

// SecretID identifies an opaque blob held by the external secret store.
type SecretID uuid.UUID

// New{Kind}ID constructors centralize UUID generation so the random source
// only needs to change in one place.

func NewProjectID() ProjectID     { return ProjectID(uuid.New()) }
func NewWarehouseID() WarehouseID { return WarehouseID(uuid.New()) }
func NewNamespaceID() NamespaceID { return NamespaceID(uuid.New()) }
func NewTableID() TableID         { return TableID(uuid.New()) }
func NewViewID() ViewID           { return ViewID(uuid.New()) }
func NewRoleID() RoleID           { return RoleID(uuid.New()) }
func NewUserID() UserID           { return UserID(uuid.New()) }
func NewTaskID() TaskID           { return TaskID(uuid.New()) }
func NewSecretID() SecretID       { return SecretID(uuid.New()) }

func (id ProjectID) String() string   { return uuid.UUID(id).String() }
func (id WarehouseID) String() string { return uuid.UUID(id).String() }
func (id NamespaceID) String() string { return uuid.UUID(id).String() }
func (id TableID) String() string     { return uuid.UUID(id).String() }
func (id ViewID) String() string      { return uuid.UUID(id).String() }
func (id RoleID) String() string      { return uuid.UUID(id).String() }
func (id UserID) String() string      { return uuid.UUID(id).String() }
func (id TaskID) String() string      { return uuid.UUID(id).String() }
func (id SecretID) String() string    { return uuid.UUID(id).String() }

func (id ProjectID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id WarehouseID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id NamespaceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TableID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ViewID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id TaskID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

func ParseProjectID(s string) (ProjectID, error) {
	u, err := uuid.Parse(s)
	return ProjectID(u), err
}

func ParseWarehouseID(s string) (WarehouseID, error) {
	u, err := uuid.Parse(s)
	return WarehouseID(u), err
}

func ParseNamespaceID(s string) (NamespaceID, error) {
	u, err := uuid.Parse(s)
	return NamespaceID(u), err
}

func ParseTableID(s string) (TableID, error) {
	u, err := uuid.Parse(s)
	return TableID(u), err
}

func ParseViewID(s string) (ViewID, error) {
	u, err := uuid.Parse(s)
	return ViewID(u), err
}

func ParseTaskID(s string) (TaskID, error) {
	u, err := uuid.Parse(s)
	return TaskID(u), err
}

// marshal/unmarshal round-trip each ID as its bare UUID string, matching how
// the wire types elsewhere in the catalog expect plain string identifiers.

func (id ProjectID) MarshalJSON() ([]byte, error)   { return json.Marshal(uuid.UUID(id).String()) }
func (id WarehouseID) MarshalJSON() ([]byte, error) { return json.Marshal(uuid.UUID(id).String()) }
func (id NamespaceID) MarshalJSON() ([]byte, error) { return json.Marshal(uuid.UUID(id).String()) }
func (id TableID) MarshalJSON() ([]byte, error)     { return json.Marshal(uuid.UUID(id).String()) }
func (id ViewID) MarshalJSON() ([]byte, error)      { return json.Marshal(uuid.UUID(id).String()) }
func (id RoleID) MarshalJSON() ([]byte, error)      { return json.Marshal(uuid.UUID(id).String()) }
func (id UserID) MarshalJSON() ([]byte, error)      { return json.Marshal(uuid.UUID(id).String()) }
func (id TaskID) MarshalJSON() ([]byte, error)      { return json.Marshal(uuid.UUID(id).String()) }
func (id SecretID) MarshalJSON() ([]byte, error)    { return json.Marshal(uuid.UUID(id).String()) }

func (id *ProjectID) UnmarshalJSON(b []byte) error   { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *WarehouseID) UnmarshalJSON(b []byte) error { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *NamespaceID) UnmarshalJSON(b []byte) error { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *TableID) UnmarshalJSON(b []byte) error     { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *ViewID) UnmarshalJSON(b []byte) error      { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *RoleID) UnmarshalJSON(b []byte) error      { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *UserID) UnmarshalJSON(b []byte) error      { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *TaskID) UnmarshalJSON(b []byte) error      { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *SecretID) UnmarshalJSON(b []byte) error    { return unmarshalID(b, (*uuid.UUID)(id)) }

func unmarshalID(b []byte, dst *uuid.UUID) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("ids: invalid identifier %q: %w", s, err)
	}
	*dst = u
	return nil
}

// TabularKind discriminates the two members of the TabularID union.
type TabularKind string

const (
	TabularKindTable TabularKind = "table"
	TabularKindView  TabularKind = "view"
)

// TabularID is a tagged union of TableID | ViewID: exactly one of
// Table/View is meaningful, selected by Kind.
type TabularID struct {
	Kind  TabularKind
	Table TableID
	View  ViewID
}

func TabularIDFromTable(id TableID) TabularID {
	return TabularID{Kind: TabularKindTable, Table: id}
}

func TabularIDFromView(id ViewID) TabularID {
	return TabularID{Kind: TabularKindView, View: id}
}

// UUID returns the underlying uuid.UUID regardless of which member is set.
func (t TabularID) UUID() uuid.UUID {
	if t.Kind == TabularKindView {
		return uuid.UUID(t.View)
	}
	return uuid.UUID(t.Table)
}

func (t TabularID) String() string {
	return t.UUID().String()
}

func (t TabularID) IsTable() bool { return t.Kind == TabularKindTable }
func (t TabularID) IsView() bool  { return t.Kind == TabularKindView }

type tabularIDWire struct {
	Kind string    `json:"type"`
	ID   uuid.UUID `json:"id"`
}

func (t TabularID) MarshalJSON() ([]byte, error) {
	return json.Marshal(tabularIDWire{Kind: string(t.Kind), ID: t.UUID()})
}

func (t *TabularID) UnmarshalJSON(b []byte) error {
	var w tabularIDWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch TabularKind(w.Kind) {
	case TabularKindTable:
		*t = TabularIDFromTable(TableID(w.ID))
	case TabularKindView:
		*t = TabularIDFromView(ViewID(w.ID))
	default:
		return fmt.Errorf("ids: unknown tabular kind %q", w.Kind)
	}
	return nil
}
