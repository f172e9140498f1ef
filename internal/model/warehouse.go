// Package model holds the catalog's core entity types: the data
// that flows between the store (internal/store), the cache
// (internal/cache), and the higher-level services (internal/namespace,
// internal/warehouse, internal/tablecommit, internal/tasks).
package model

import (
	"time"

	"catalog.evalgo.org/internal/ids"
)

// WarehouseStatus is the live half of the warehouse lifecycle machine;
// Deleted is not a status value, it is the absence of a row.
type WarehouseStatus string

const (
	WarehouseStatusActive   WarehouseStatus = "active"
	WarehouseStatusInactive WarehouseStatus = "inactive"
)

// TabularDeleteMode selects how a dropped tabular is reclaimed.
type TabularDeleteMode string

const (
	TabularDeleteModeHard TabularDeleteMode = "hard"
	TabularDeleteModeSoft TabularDeleteMode = "soft"
)

// TabularDeleteProfile is the warehouse-level soft/hard delete policy.
// Soft carries the grace period after which a soft-deleted tabular becomes
// eligible for the TABULAR_EXPIRATION task queue.
type TabularDeleteProfile struct {
	Mode       TabularDeleteMode
	Expiration time.Duration // meaningful only when Mode == TabularDeleteModeSoft
}

func HardDeleteProfile() TabularDeleteProfile {
	return TabularDeleteProfile{Mode: TabularDeleteModeHard}
}

func SoftDeleteProfile(expiration time.Duration) TabularDeleteProfile {
	return TabularDeleteProfile{Mode: TabularDeleteModeSoft, Expiration: expiration}
}

// StorageProfile is the normalized, validated description of where a
// warehouse's data files live. The exact backend-specific fields (bucket,
// region, endpoint, credentials pointer) are deliberately opaque here: the
// catalog never performs data-plane I/O, it only stores and round-trips
// whatever a StorageValidator (internal/warehouse) accepted.
type StorageProfile struct {
	Kind       string            `json:"kind"` // "s3" | "gcs" | "adls", left open for other backends
	Properties map[string]string `json:"properties"`
}

// Equal reports whether two profiles are observably the same, used by the
// warehouse lifecycle service to suppress no-op version bumps.
func (p StorageProfile) Equal(other StorageProfile) bool {
	if p.Kind != other.Kind || len(p.Properties) != len(other.Properties) {
		return false
	}
	for k, v := range p.Properties {
		if other.Properties[k] != v {
			return false
		}
	}
	return true
}

// Warehouse is a tenancy unit containing namespaces and tabulars, bound to
// one storage profile.
type Warehouse struct {
	WarehouseID          ids.WarehouseID
	ProjectID            ids.ProjectID
	Name                 string
	StorageProfile       StorageProfile
	StorageSecretID      *ids.SecretID
	Status               WarehouseStatus
	TabularDeleteProfile TabularDeleteProfile
	Protected            bool
	Version              uint64
	UpdatedAt            *time.Time
}

// Inactive reports whether reads against this warehouse should be
// suppressed unless the caller explicitly asked for inactive warehouses.
func (w Warehouse) Inactive() bool {
	return w.Status == WarehouseStatusInactive
}

// WarehouseStatistics is the current-snapshot row; WarehouseStatisticsHistory
// is its append-only counterpart.
type WarehouseStatistics struct {
	WarehouseID    ids.WarehouseID
	NumberOfTables int
	NumberOfViews  int
	UpdatedAt      time.Time
}

type WarehouseStatisticsHistory struct {
	WarehouseID    ids.WarehouseID
	NumberOfTables int
	NumberOfViews  int
	TakenAt        time.Time
}

// Project is the top-level scoping entity referenced by Warehouse.ProjectID.
type Project struct {
	ProjectID ids.ProjectID
	Name      string
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// UserType distinguishes human operators from service/application
// principals.
type UserType string

const (
	UserTypeHuman       UserType = "human"
	UserTypeApplication UserType = "application"
)

// Role and User are identity principal records owned by the catalog
// store. Authentication and token validation remain an external
// collaborator; these types only exist so authorization and audit can
// name an actor.
type Role struct {
	RoleID      ids.RoleID
	ProjectID   ids.ProjectID
	Name        string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

type User struct {
	UserID     ids.UserID
	Name       string
	UserType   UserType
	Email      *string
	LastSeenAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}
