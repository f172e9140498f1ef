package model

import (
	"encoding/json"

	"catalog.evalgo.org/internal/ids"
)

// The table metadata subresources are stored structurally (one row per
// schema, snapshot, spec, ...) so commits can be applied as diffs instead of
// rewriting one large blob. The inner Iceberg documents stay opaque
// json.RawMessage: the catalog orders and links them but never interprets
// field-level schema semantics.

// TableSchema is one schema revision of a table.
type TableSchema struct {
	SchemaID int
	Schema   json.RawMessage
}

// PartitionSpec is one partition-spec revision of a table.
type PartitionSpec struct {
	SpecID int
	Spec   json.RawMessage
}

// SortOrder is one sort-order revision of a table.
type SortOrder struct {
	OrderID int
	Order   json.RawMessage
}

// Snapshot is one committed table state.
type Snapshot struct {
	SnapshotID       int64
	ParentSnapshotID *int64
	SequenceNumber   int64
	TimestampMs      int64
	ManifestList     string
	SchemaID         *int
	Summary          json.RawMessage
}

// SnapshotRefType distinguishes branches from tags.
type SnapshotRefType string

const (
	SnapshotRefBranch SnapshotRefType = "branch"
	SnapshotRefTag    SnapshotRefType = "tag"
)

// SnapshotRef names a snapshot of the same table. A ref must always point at
// an existing snapshot.
type SnapshotRef struct {
	Name               string
	Type               SnapshotRefType
	SnapshotID         int64
	MinSnapshotsToKeep *int
	MaxSnapshotAgeMs   *int64
	MaxRefAgeMs        *int64
}

// SnapshotLogEntry is one append-only history record of the table head.
type SnapshotLogEntry struct {
	SnapshotID  int64
	TimestampMs int64
}

// MetadataLogEntry is one append-only record of a previous metadata file;
// old entries expire from the tail.
type MetadataLogEntry struct {
	MetadataFile string
	TimestampMs  int64
}

// StatisticsFile is a table-statistics blob bound to one snapshot.
type StatisticsFile struct {
	SnapshotID     int64
	StatisticsPath string
	FileSizeBytes  int64
	Blob           json.RawMessage
}

// PartitionStatisticsFile is a partition-statistics blob bound to one
// snapshot.
type PartitionStatisticsFile struct {
	SnapshotID     int64
	StatisticsPath string
	FileSizeBytes  int64
}

// EncryptionKey is one table encryption key, addressed by key id.
type EncryptionKey struct {
	KeyID                string
	EncryptedKeyMetadata string
}

// TableMetadata is the inflated metadata of one table: the scalar head
// fields plus every subresource family.
type TableMetadata struct {
	FormatVersion      int
	TableUUID          ids.TableID
	Location           string
	LastColumnID       int
	LastSequenceNumber int64
	LastUpdatedMs      int64
	LastPartitionID    int
	NextRowID          int64

	CurrentSchemaID    int
	DefaultSpecID      int
	DefaultSortOrderID int

	Schemas        []TableSchema
	PartitionSpecs []PartitionSpec
	SortOrders     []SortOrder
	Snapshots      []Snapshot
	SnapshotRefs   map[string]SnapshotRef
	SnapshotLog    []SnapshotLogEntry
	MetadataLog    []MetadataLogEntry

	Statistics          []StatisticsFile
	PartitionStatistics []PartitionStatisticsFile
	EncryptionKeys      []EncryptionKey

	Properties map[string]string
}

// SchemaByID returns the schema with the given id, or nil.
func (m *TableMetadata) SchemaByID(id int) *TableSchema {
	for i := range m.Schemas {
		if m.Schemas[i].SchemaID == id {
			return &m.Schemas[i]
		}
	}
	return nil
}

// SnapshotByID returns the snapshot with the given id, or nil.
func (m *TableMetadata) SnapshotByID(id int64) *Snapshot {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i]
		}
	}
	return nil
}

// TableDiffs categorizes what changed between the previous metadata and
// NewMetadata of one commit. The caller computes it; the store applies it in
// dependency order. Adds reference subresources carried inside NewMetadata,
// removes reference subresource ids only.
type TableDiffs struct {
	AddedSchemas       []int
	RemovedSchemas     []int
	NewCurrentSchemaID *int

	AddedPartitionSpecs   []int
	RemovedPartitionSpecs []int
	NewDefaultSpecID      *int

	AddedSortOrders       []int
	RemovedSortOrders     []int
	NewDefaultSortOrderID *int

	AddedSnapshots   []int64
	RemovedSnapshots []int64

	HeadOfSnapshotLogChanged bool
	NRemovedSnapshotLog      int

	ExpiredMetadataLogs int
	AddedMetadataLog    int

	AddedPartitionStats   []int64
	RemovedPartitionStats []int64
	AddedStats            []int64
	RemovedStats          []int64

	AddedEncryptionKeys   []string
	RemovedEncryptionKeys []string

	SnapshotRefs bool
	Properties   bool
}

// Empty reports whether the diff would change nothing.
func (d TableDiffs) Empty() bool {
	return len(d.AddedSchemas) == 0 && len(d.RemovedSchemas) == 0 && d.NewCurrentSchemaID == nil &&
		len(d.AddedPartitionSpecs) == 0 && len(d.RemovedPartitionSpecs) == 0 && d.NewDefaultSpecID == nil &&
		len(d.AddedSortOrders) == 0 && len(d.RemovedSortOrders) == 0 && d.NewDefaultSortOrderID == nil &&
		len(d.AddedSnapshots) == 0 && len(d.RemovedSnapshots) == 0 &&
		!d.HeadOfSnapshotLogChanged && d.NRemovedSnapshotLog == 0 &&
		d.ExpiredMetadataLogs == 0 && d.AddedMetadataLog == 0 &&
		len(d.AddedPartitionStats) == 0 && len(d.RemovedPartitionStats) == 0 &&
		len(d.AddedStats) == 0 && len(d.RemovedStats) == 0 &&
		len(d.AddedEncryptionKeys) == 0 && len(d.RemovedEncryptionKeys) == 0 &&
		!d.SnapshotRefs && !d.Properties
}

// TableCommit is one table's share of a commit batch: the full new metadata,
// where it was written, the previous pointer for the optimistic concurrency
// check, the raw update documents for audit, and the precomputed diffs.
type TableCommit struct {
	TableID                  ids.TableID
	NewMetadata              TableMetadata
	NewMetadataLocation      string
	PreviousMetadataLocation *string
	Updates                  []json.RawMessage
	Diffs                    TableDiffs
}
