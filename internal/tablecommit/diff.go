package tablecommit

import (
	"catalog.evalgo.org/internal/model"
)

// ComputeDiffs categorizes what changed between two metadata snapshots.
// The result drives the store's apply order; removals reference ids only,
// additions are carried inside the new metadata itself.
func ComputeDiffs(old, new *model.TableMetadata) model.TableDiffs {
	var d model.TableDiffs

	oldSchemas := map[int]bool{}
	for _, s := range old.Schemas {
		oldSchemas[s.SchemaID] = true
	}
	newSchemas := map[int]bool{}
	for _, s := range new.Schemas {
		newSchemas[s.SchemaID] = true
		if !oldSchemas[s.SchemaID] {
			d.AddedSchemas = append(d.AddedSchemas, s.SchemaID)
		}
	}
	for _, s := range old.Schemas {
		if !newSchemas[s.SchemaID] {
			d.RemovedSchemas = append(d.RemovedSchemas, s.SchemaID)
		}
	}
	if old.CurrentSchemaID != new.CurrentSchemaID {
		v := new.CurrentSchemaID
		d.NewCurrentSchemaID = &v
	}

	oldSpecs := map[int]bool{}
	for _, s := range old.PartitionSpecs {
		oldSpecs[s.SpecID] = true
	}
	newSpecs := map[int]bool{}
	for _, s := range new.PartitionSpecs {
		newSpecs[s.SpecID] = true
		if !oldSpecs[s.SpecID] {
			d.AddedPartitionSpecs = append(d.AddedPartitionSpecs, s.SpecID)
		}
	}
	for _, s := range old.PartitionSpecs {
		if !newSpecs[s.SpecID] {
			d.RemovedPartitionSpecs = append(d.RemovedPartitionSpecs, s.SpecID)
		}
	}
	if old.DefaultSpecID != new.DefaultSpecID {
		v := new.DefaultSpecID
		d.NewDefaultSpecID = &v
	}

	oldOrders := map[int]bool{}
	for _, s := range old.SortOrders {
		oldOrders[s.OrderID] = true
	}
	newOrders := map[int]bool{}
	for _, s := range new.SortOrders {
		newOrders[s.OrderID] = true
		if !oldOrders[s.OrderID] {
			d.AddedSortOrders = append(d.AddedSortOrders, s.OrderID)
		}
	}
	for _, s := range old.SortOrders {
		if !newOrders[s.OrderID] {
			d.RemovedSortOrders = append(d.RemovedSortOrders, s.OrderID)
		}
	}
	if old.DefaultSortOrderID != new.DefaultSortOrderID {
		v := new.DefaultSortOrderID
		d.NewDefaultSortOrderID = &v
	}

	oldSnaps := map[int64]bool{}
	for _, s := range old.Snapshots {
		oldSnaps[s.SnapshotID] = true
	}
	newSnaps := map[int64]bool{}
	for _, s := range new.Snapshots {
		newSnaps[s.SnapshotID] = true
		if !oldSnaps[s.SnapshotID] {
			d.AddedSnapshots = append(d.AddedSnapshots, s.SnapshotID)
		}
	}
	for _, s := range old.Snapshots {
		if !newSnaps[s.SnapshotID] {
			d.RemovedSnapshots = append(d.RemovedSnapshots, s.SnapshotID)
		}
	}

	d.HeadOfSnapshotLogChanged = snapshotLogHeadChanged(old.SnapshotLog, new.SnapshotLog)
	d.NRemovedSnapshotLog = removedFromFront(len(old.SnapshotLog), len(new.SnapshotLog), d.HeadOfSnapshotLogChanged)

	d.AddedMetadataLog = addedAtBack(old.MetadataLog, new.MetadataLog)
	d.ExpiredMetadataLogs = len(old.MetadataLog) + d.AddedMetadataLog - len(new.MetadataLog)
	if d.ExpiredMetadataLogs < 0 {
		d.ExpiredMetadataLogs = 0
	}

	oldStats := map[int64]bool{}
	for _, s := range old.Statistics {
		oldStats[s.SnapshotID] = true
	}
	newStats := map[int64]bool{}
	for _, s := range new.Statistics {
		newStats[s.SnapshotID] = true
		if !oldStats[s.SnapshotID] {
			d.AddedStats = append(d.AddedStats, s.SnapshotID)
		}
	}
	for _, s := range old.Statistics {
		if !newStats[s.SnapshotID] {
			d.RemovedStats = append(d.RemovedStats, s.SnapshotID)
		}
	}

	oldPStats := map[int64]bool{}
	for _, s := range old.PartitionStatistics {
		oldPStats[s.SnapshotID] = true
	}
	newPStats := map[int64]bool{}
	for _, s := range new.PartitionStatistics {
		newPStats[s.SnapshotID] = true
		if !oldPStats[s.SnapshotID] {
			d.AddedPartitionStats = append(d.AddedPartitionStats, s.SnapshotID)
		}
	}
	for _, s := range old.PartitionStatistics {
		if !newPStats[s.SnapshotID] {
			d.RemovedPartitionStats = append(d.RemovedPartitionStats, s.SnapshotID)
		}
	}

	oldKeys := map[string]bool{}
	for _, k := range old.EncryptionKeys {
		oldKeys[k.KeyID] = true
	}
	newKeys := map[string]bool{}
	for _, k := range new.EncryptionKeys {
		newKeys[k.KeyID] = true
		if !oldKeys[k.KeyID] {
			d.AddedEncryptionKeys = append(d.AddedEncryptionKeys, k.KeyID)
		}
	}
	for _, k := range old.EncryptionKeys {
		if !newKeys[k.KeyID] {
			d.RemovedEncryptionKeys = append(d.RemovedEncryptionKeys, k.KeyID)
		}
	}

	d.SnapshotRefs = !snapshotRefsEqual(old.SnapshotRefs, new.SnapshotRefs)
	d.Properties = !stringMapsEqual(old.Properties, new.Properties)
	return d
}

func snapshotLogHeadChanged(old, new []model.SnapshotLogEntry) bool {
	if len(new) == 0 {
		return false
	}
	if len(old) == 0 {
		return true
	}
	return old[len(old)-1] != new[len(new)-1]
}

// removedFromFront derives how many of the oldest snapshot-log entries
// expired, from the length delta and whether a new head was appended.
func removedFromFront(oldLen, newLen int, headAppended bool) int {
	appended := 0
	if headAppended {
		appended = 1
	}
	removed := oldLen + appended - newLen
	if removed < 0 {
		return 0
	}
	return removed
}

// addedAtBack counts trailing entries of new that are not the tail of old.
func addedAtBack(old, new []model.MetadataLogEntry) int {
	added := 0
	for added < len(new) {
		candidate := new[len(new)-1-added]
		found := false
		for _, e := range old {
			if e == candidate {
				found = true
				break
			}
		}
		if found {
			break
		}
		added++
	}
	return added
}

func snapshotRefsEqual(a, b map[string]model.SnapshotRef) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ra := range a {
		rb, ok := b[name]
		if !ok || !snapshotRefEqual(ra, rb) {
			return false
		}
	}
	return true
}

func snapshotRefEqual(a, b model.SnapshotRef) bool {
	if a.Name != b.Name || a.Type != b.Type || a.SnapshotID != b.SnapshotID {
		return false
	}
	return optIntEqual(a.MinSnapshotsToKeep, b.MinSnapshotsToKeep) &&
		optInt64Equal(a.MaxSnapshotAgeMs, b.MaxSnapshotAgeMs) &&
		optInt64Equal(a.MaxRefAgeMs, b.MaxRefAgeMs)
}

func optIntEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func optInt64Equal(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func stringMapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
