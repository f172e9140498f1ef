package model

import (
	"strings"

	"catalog.evalgo.org/internal/ids"
)

// NamespaceIdent is an ordered sequence of case-preserved name segments.
// Equality and cache-keying are case-folded; the
// raw segments are preserved for display.
type NamespaceIdent []string

// FoldedKey returns the case-insensitive cache/uniqueness key for this
// identifier path, joined by the unit separator byte (0x1f). Segment
// validation does not reject that byte, so a segment containing it can
// produce the same key as a different path.
func (n NamespaceIdent) FoldedKey() string {
	key := ""
	for i, seg := range n {
		if i > 0 {
			key += "\x1f"
		}
		key += foldSegment(seg)
	}
	return key
}

func foldSegment(s string) string {
	return strings.ToLower(s)
}

// ParentSnapshot is the parent's version captured at the moment the child
// was created.
type ParentSnapshot struct {
	ParentID               ids.NamespaceID
	ParentVersionAtCreation uint64
}

// Namespace is a hierarchical directory node within a warehouse.
type Namespace struct {
	NamespaceID ids.NamespaceID
	WarehouseID ids.WarehouseID
	Ident       NamespaceIdent
	Properties  map[string]string
	Protected   bool
	Version     uint64
	Parent      *ParentSnapshot // nil for a root namespace
}

// NamespaceHierarchy is the inflated form of a Namespace: itself plus its
// ordered chain of ancestors, root first.
type NamespaceHierarchy struct {
	Namespace Namespace
	Ancestors []Namespace // root-first; empty for a root namespace
}

// Depth is the number of ancestors.
func (h NamespaceHierarchy) Depth() int {
	return len(h.Ancestors)
}
