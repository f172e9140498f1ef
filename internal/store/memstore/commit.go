package memstore

import (
	"time"

	"github.com/google/uuid"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// commitTables applies each commit whose optimistic concurrency check
// passes and reports the table ids actually updated. A commit whose
// pre-image pointer does not match is skipped, not failed: the engine
// compares intent against outcome and rolls the transaction back.
func (s *state) commitTables(now time.Time, warehouseID ids.WarehouseID, commits []model.TableCommit) ([]ids.TableID, error) {
	updated := make([]ids.TableID, 0, len(commits))
	for i := range commits {
		c := &commits[i]
		tab, ok := s.tabulars[uuid.UUID(c.TableID)]
		if !ok || tab.WarehouseID != warehouseID || !tab.TabularID.IsTable() || tab.SoftDeleted() {
			continue
		}
		if !optionalStringEqual(tab.MetadataLocation, c.PreviousMetadataLocation) {
			continue
		}
		base := s.tableMetadata[c.TableID]
		if base == nil {
			base = &model.TableMetadata{}
		}
		next, err := applyTableCommit(base, c)
		if err != nil {
			return nil, err
		}
		s.tableMetadata[c.TableID] = next
		loc := c.NewMetadataLocation
		tab.MetadataLocation = &loc
		if c.NewMetadata.Location != "" {
			proto, err := locationProtocol(c.NewMetadata.Location)
			if err != nil {
				return nil, err
			}
			tab.FsLocation = c.NewMetadata.Location
			tab.FsProtocol = proto
		}
		tab.UpdatedAt = timePtr(now)
		updated = append(updated, c.TableID)
	}
	return updated, nil
}

// applyTableCommit replays the diff categories over base in dependency
// order: adds before pointer moves, pointer moves before removals, stats
// purged before their snapshots, defaults cleared before spec/sort/schema
// removal.
func applyTableCommit(base *model.TableMetadata, c *model.TableCommit) (*model.TableMetadata, error) {
	md := copyTableMetadata(base)
	d := &c.Diffs
	in := &c.NewMetadata

	// 1. Schemas, then current schema.
	for _, id := range d.AddedSchemas {
		sc := in.SchemaByID(id)
		if sc == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.Schemas = append(md.Schemas, *sc)
	}
	if d.NewCurrentSchemaID != nil {
		if md.SchemaByID(*d.NewCurrentSchemaID) == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.CurrentSchemaID = *d.NewCurrentSchemaID
	}

	// 2. Partition specs, then default spec.
	for _, id := range d.AddedPartitionSpecs {
		spec := findSpec(in.PartitionSpecs, id)
		if spec == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.PartitionSpecs = append(md.PartitionSpecs, *spec)
	}
	if d.NewDefaultSpecID != nil {
		if findSpec(md.PartitionSpecs, *d.NewDefaultSpecID) == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.DefaultSpecID = *d.NewDefaultSpecID
	}

	// 3. Sort orders, then default order.
	for _, id := range d.AddedSortOrders {
		order := findSortOrder(in.SortOrders, id)
		if order == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.SortOrders = append(md.SortOrders, *order)
	}
	if d.NewDefaultSortOrderID != nil {
		if findSortOrder(md.SortOrders, *d.NewDefaultSortOrderID) == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.DefaultSortOrderID = *d.NewDefaultSortOrderID
	}

	// 4. Encryption keys.
	for _, keyID := range d.AddedEncryptionKeys {
		key := findEncryptionKey(in.EncryptionKeys, keyID)
		if key == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.EncryptionKeys = append(md.EncryptionKeys, *key)
	}

	// 5. Snapshots, then refs.
	for _, id := range d.AddedSnapshots {
		snap := in.SnapshotByID(id)
		if snap == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.Snapshots = append(md.Snapshots, *snap)
	}
	if d.SnapshotRefs {
		for _, ref := range in.SnapshotRefs {
			if md.SnapshotByID(ref.SnapshotID) == nil {
				return nil, catalogerr.ErrDatabaseInvariantViolated
			}
		}
		md.SnapshotRefs = make(map[string]model.SnapshotRef, len(in.SnapshotRefs))
		for name, ref := range in.SnapshotRefs {
			md.SnapshotRefs[name] = ref
		}
	}

	// 6. Snapshot log: append the new head, trim expired entries from the
	// oldest end.
	if d.HeadOfSnapshotLogChanged && len(in.SnapshotLog) > 0 {
		md.SnapshotLog = append(md.SnapshotLog, in.SnapshotLog[len(in.SnapshotLog)-1])
	}
	if d.NRemovedSnapshotLog > 0 {
		n := d.NRemovedSnapshotLog
		if n > len(md.SnapshotLog) {
			n = len(md.SnapshotLog)
		}
		md.SnapshotLog = md.SnapshotLog[n:]
	}

	// 7. Metadata log: expire the oldest entries, append the newest.
	if d.ExpiredMetadataLogs > 0 {
		n := d.ExpiredMetadataLogs
		if n > len(md.MetadataLog) {
			n = len(md.MetadataLog)
		}
		md.MetadataLog = md.MetadataLog[n:]
	}
	if d.AddedMetadataLog > 0 {
		n := d.AddedMetadataLog
		if n > len(in.MetadataLog) {
			n = len(in.MetadataLog)
		}
		md.MetadataLog = append(md.MetadataLog, in.MetadataLog[len(in.MetadataLog)-n:]...)
	}

	// 8. Statistics in, then listed statistics out (before snapshots go).
	for _, snapID := range d.AddedPartitionStats {
		st := findPartitionStats(in.PartitionStatistics, snapID)
		if st == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.PartitionStatistics = append(md.PartitionStatistics, *st)
	}
	for _, snapID := range d.AddedStats {
		st := findStats(in.Statistics, snapID)
		if st == nil {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		md.Statistics = append(md.Statistics, *st)
	}
	md.PartitionStatistics = removePartitionStats(md.PartitionStatistics, d.RemovedPartitionStats)
	md.Statistics = removeStats(md.Statistics, d.RemovedStats)

	// 9. Snapshots out, only once nothing references them.
	for _, id := range d.RemovedSnapshots {
		for _, ref := range md.SnapshotRefs {
			if ref.SnapshotID == id {
				return nil, catalogerr.ErrDatabaseInvariantViolated
			}
		}
		for _, st := range md.Statistics {
			if st.SnapshotID == id {
				return nil, catalogerr.ErrDatabaseInvariantViolated
			}
		}
	}
	md.Snapshots = removeSnapshots(md.Snapshots, d.RemovedSnapshots)

	// 10. Partition specs and sort orders out; neither may still be the
	// default.
	for _, id := range d.RemovedPartitionSpecs {
		if md.DefaultSpecID == id {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
	}
	md.PartitionSpecs = removeSpecs(md.PartitionSpecs, d.RemovedPartitionSpecs)
	for _, id := range d.RemovedSortOrders {
		if md.DefaultSortOrderID == id {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
	}
	md.SortOrders = removeSortOrders(md.SortOrders, d.RemovedSortOrders)

	// 11. Schemas out; not current and not referenced by any remaining
	// snapshot.
	for _, id := range d.RemovedSchemas {
		if md.CurrentSchemaID == id {
			return nil, catalogerr.ErrDatabaseInvariantViolated
		}
		for _, snap := range md.Snapshots {
			if snap.SchemaID != nil && *snap.SchemaID == id {
				return nil, catalogerr.ErrDatabaseInvariantViolated
			}
		}
	}
	md.Schemas = removeSchemas(md.Schemas, d.RemovedSchemas)

	// 12. Encryption keys out.
	md.EncryptionKeys = removeEncryptionKeys(md.EncryptionKeys, d.RemovedEncryptionKeys)

	// 13. Properties blob.
	if d.Properties {
		md.Properties = copyStringMap(in.Properties)
	}

	// Scalar head fields always follow the committed metadata.
	md.FormatVersion = in.FormatVersion
	md.TableUUID = c.TableID
	md.Location = in.Location
	md.LastColumnID = in.LastColumnID
	md.LastSequenceNumber = in.LastSequenceNumber
	md.LastUpdatedMs = in.LastUpdatedMs
	md.LastPartitionID = in.LastPartitionID
	md.NextRowID = in.NextRowID
	return md, nil
}

func optionalStringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func findSpec(specs []model.PartitionSpec, id int) *model.PartitionSpec {
	for i := range specs {
		if specs[i].SpecID == id {
			return &specs[i]
		}
	}
	return nil
}

func findSortOrder(orders []model.SortOrder, id int) *model.SortOrder {
	for i := range orders {
		if orders[i].OrderID == id {
			return &orders[i]
		}
	}
	return nil
}

func findEncryptionKey(keys []model.EncryptionKey, id string) *model.EncryptionKey {
	for i := range keys {
		if keys[i].KeyID == id {
			return &keys[i]
		}
	}
	return nil
}

func findStats(stats []model.StatisticsFile, snapID int64) *model.StatisticsFile {
	for i := range stats {
		if stats[i].SnapshotID == snapID {
			return &stats[i]
		}
	}
	return nil
}

func findPartitionStats(stats []model.PartitionStatisticsFile, snapID int64) *model.PartitionStatisticsFile {
	for i := range stats {
		if stats[i].SnapshotID == snapID {
			return &stats[i]
		}
	}
	return nil
}

func removeSchemas(schemas []model.TableSchema, ids []int) []model.TableSchema {
	if len(ids) == 0 {
		return schemas
	}
	drop := intSet(ids)
	out := schemas[:0]
	for _, s := range schemas {
		if !drop[s.SchemaID] {
			out = append(out, s)
		}
	}
	return out
}

func removeSpecs(specs []model.PartitionSpec, ids []int) []model.PartitionSpec {
	if len(ids) == 0 {
		return specs
	}
	drop := intSet(ids)
	out := specs[:0]
	for _, s := range specs {
		if !drop[s.SpecID] {
			out = append(out, s)
		}
	}
	return out
}

func removeSortOrders(orders []model.SortOrder, ids []int) []model.SortOrder {
	if len(ids) == 0 {
		return orders
	}
	drop := intSet(ids)
	out := orders[:0]
	for _, o := range orders {
		if !drop[o.OrderID] {
			out = append(out, o)
		}
	}
	return out
}

func removeSnapshots(snaps []model.Snapshot, ids []int64) []model.Snapshot {
	if len(ids) == 0 {
		return snaps
	}
	drop := int64Set(ids)
	out := snaps[:0]
	for _, s := range snaps {
		if !drop[s.SnapshotID] {
			out = append(out, s)
		}
	}
	return out
}

func removeStats(stats []model.StatisticsFile, ids []int64) []model.StatisticsFile {
	if len(ids) == 0 {
		return stats
	}
	drop := int64Set(ids)
	out := stats[:0]
	for _, s := range stats {
		if !drop[s.SnapshotID] {
			out = append(out, s)
		}
	}
	return out
}

func removePartitionStats(stats []model.PartitionStatisticsFile, ids []int64) []model.PartitionStatisticsFile {
	if len(ids) == 0 {
		return stats
	}
	drop := int64Set(ids)
	out := stats[:0]
	for _, s := range stats {
		if !drop[s.SnapshotID] {
			out = append(out, s)
		}
	}
	return out
}

func removeEncryptionKeys(keys []model.EncryptionKey, ids []string) []model.EncryptionKey {
	if len(ids) == 0 {
		return keys
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	out := keys[:0]
	for _, k := range keys {
		if !drop[k.KeyID] {
			out = append(out, k)
		}
	}
	return out
}

func intSet(ids []int) map[int]bool {
	m := make(map[int]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func int64Set(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
