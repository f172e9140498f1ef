package model

import (
	"time"

	"catalog.evalgo.org/internal/ids"
)

// TabularType discriminates the two concrete kinds of tabular.
type TabularType string

const (
	TabularTypeTable TabularType = "table"
	TabularTypeView  TabularType = "view"
)

// Tabular is the common supertype of Table and View within a warehouse. A
// staged table has no metadata location yet; everything else points at a
// committed metadata file. NamespaceVersion and WarehouseVersion record the
// owning entities' versions at creation (or last move/link) so readers can
// detect when their cached namespace or warehouse is older than the tabular
// they just loaded.
type Tabular struct {
	TabularID        ids.TabularID
	WarehouseID      ids.WarehouseID
	NamespaceID      ids.NamespaceID
	NamespaceVersion uint64
	WarehouseVersion uint64
	Name             string
	MetadataLocation *string
	FsLocation       string
	FsProtocol       string
	Protected        bool
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

// Staged reports whether the tabular is a table that was created but never
// committed. Staged tables are excluded from listings unless the caller
// opts in.
func (t Tabular) Staged() bool {
	return t.TabularID.IsTable() && t.MetadataLocation == nil
}

// SoftDeleted reports whether the tabular is awaiting expiration.
func (t Tabular) SoftDeleted() bool {
	return t.DeletedAt != nil
}

// TabularIdent addresses a tabular by namespace path plus name, the way the
// REST surface does. Lookups over it are case-insensitive.
type TabularIdent struct {
	Namespace NamespaceIdent
	Name      string
}

// FoldedKey is the case-insensitive uniqueness key for the ident within its
// warehouse.
func (ti TabularIdent) FoldedKey() string {
	return ti.Namespace.FoldedKey() + "\x1f" + foldSegment(ti.Name)
}

// TableInfo is the per-table result of a commit batch: the updated pointer
// plus the properties the caller supplied. Properties are echoed from the
// committed metadata rather than re-read from storage.
type TableInfo struct {
	TableID          ids.TableID
	WarehouseID      ids.WarehouseID
	NamespaceID      ids.NamespaceID
	Name             string
	MetadataLocation string
	FsLocation       string
	FsProtocol       string
	Properties       map[string]string
}
