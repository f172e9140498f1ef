package pgstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// CommitTables applies each commit whose pre-image metadata pointer still
// matches. The tabular row is locked up front so the pointer cannot move
// between the check and the final update; subresource changes then land in
// the dependency order adds → pointer moves → removals.
func (o ops) CommitTables(ctx context.Context, warehouseID ids.WarehouseID, commits []model.TableCommit) ([]ids.TableID, error) {
	updated := make([]ids.TableID, 0, len(commits))
	for i := range commits {
		c := &commits[i]
		ok, err := o.commitOneTable(ctx, warehouseID, c)
		if err != nil {
			return nil, err
		}
		if ok {
			updated = append(updated, c.TableID)
		}
	}
	return updated, nil
}

func (o ops) commitOneTable(ctx context.Context, warehouseID ids.WarehouseID, c *model.TableCommit) (bool, error) {
	db := o.db.WithContext(ctx)
	tableID := uuid.UUID(c.TableID)

	var tab tabularRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tabular_id = ? AND warehouse_id = ? AND typ = ? AND deleted_at IS NULL",
			tableID, uuid.UUID(warehouseID), string(model.TabularTypeTable)).
		First(&tab).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !optionalStringEqual(tab.MetadataLocation, c.PreviousMetadataLocation) {
		return false, nil
	}

	d := &c.Diffs
	in := &c.NewMetadata

	// 1. Schemas, then the current pointer.
	if len(d.AddedSchemas) > 0 {
		rows := make([]tableSchemaRow, 0, len(d.AddedSchemas))
		for _, id := range d.AddedSchemas {
			sc := in.SchemaByID(id)
			if sc == nil {
				return false, catalogerr.ErrDatabaseInvariantViolated
			}
			rows = append(rows, tableSchemaRow{TableID: tableID, SchemaID: id, Schema: string(sc.Schema)})
		}
		if err := db.Create(&rows).Error; err != nil {
			return false, mapConstraintError(err)
		}
	}

	// 2. Partition specs.
	if len(d.AddedPartitionSpecs) > 0 {
		rows := make([]partitionSpecRow, 0, len(d.AddedPartitionSpecs))
		for _, id := range d.AddedPartitionSpecs {
			var spec *model.PartitionSpec
			for j := range in.PartitionSpecs {
				if in.PartitionSpecs[j].SpecID == id {
					spec = &in.PartitionSpecs[j]
					break
				}
			}
			if spec == nil {
				return false, catalogerr.ErrDatabaseInvariantViolated
			}
			rows = append(rows, partitionSpecRow{TableID: tableID, SpecID: id, Spec: string(spec.Spec)})
		}
		if err := db.Create(&rows).Error; err != nil {
			return false, mapConstraintError(err)
		}
	}

	// 3. Sort orders.
	if len(d.AddedSortOrders) > 0 {
		rows := make([]sortOrderRow, 0, len(d.AddedSortOrders))
		for _, id := range d.AddedSortOrders {
			var order *model.SortOrder
			for j := range in.SortOrders {
				if in.SortOrders[j].OrderID == id {
					order = &in.SortOrders[j]
					break
				}
			}
			if order == nil {
				return false, catalogerr.ErrDatabaseInvariantViolated
			}
			rows = append(rows, sortOrderRow{TableID: tableID, OrderID: id, Order: string(order.Order)})
		}
		if err := db.Create(&rows).Error; err != nil {
			return false, mapConstraintError(err)
		}
	}

	// 4. Encryption keys in.
	if len(d.AddedEncryptionKeys) > 0 {
		rows := make([]encryptionKeyRow, 0, len(d.AddedEncryptionKeys))
		for _, keyID := range d.AddedEncryptionKeys {
			var key *model.EncryptionKey
			for j := range in.EncryptionKeys {
				if in.EncryptionKeys[j].KeyID == keyID {
					key = &in.EncryptionKeys[j]
					break
				}
			}
			if key == nil {
				return false, catalogerr.ErrDatabaseInvariantViolated
			}
			rows = append(rows, encryptionKeyRow{TableID: tableID, KeyID: keyID, EncryptedKeyMetadata: key.EncryptedKeyMetadata})
		}
		if err := db.Create(&rows).Error; err != nil {
			return false, mapConstraintError(err)
		}
	}

	// 5. Snapshots in, then refs rewritten wholesale.
	if len(d.AddedSnapshots) > 0 {
		rows := make([]snapshotRow, 0, len(d.AddedSnapshots))
		for _, id := range d.AddedSnapshots {
			snap := in.SnapshotByID(id)
			if snap == nil {
				return false, catalogerr.ErrDatabaseInvariantViolated
			}
			rows = append(rows, snapshotRow{
				TableID:          tableID,
				SnapshotID:       snap.SnapshotID,
				ParentSnapshotID: snap.ParentSnapshotID,
				SequenceNumber:   snap.SequenceNumber,
				TimestampMs:      snap.TimestampMs,
				ManifestList:     snap.ManifestList,
				SchemaID:         snap.SchemaID,
				Summary:          string(snap.Summary),
			})
		}
		if err := db.Create(&rows).Error; err != nil {
			return false, mapConstraintError(err)
		}
	}
	if d.SnapshotRefs {
		if err := db.Delete(&snapshotRefRow{}, "table_id = ?", tableID).Error; err != nil {
			return false, err
		}
		if len(in.SnapshotRefs) > 0 {
			rows := make([]snapshotRefRow, 0, len(in.SnapshotRefs))
			for name, ref := range in.SnapshotRefs {
				rows = append(rows, snapshotRefRow{
					TableID:            tableID,
					Name:               name,
					Typ:                string(ref.Type),
					SnapshotID:         ref.SnapshotID,
					MinSnapshotsToKeep: ref.MinSnapshotsToKeep,
					MaxSnapshotAgeMs:   ref.MaxSnapshotAgeMs,
					MaxRefAgeMs:        ref.MaxRefAgeMs,
				})
			}
			if err := db.Create(&rows).Error; err != nil {
				return false, mapConstraintError(err)
			}
		}
	}

	// 6. Snapshot log head in, expired entries out from the oldest end.
	if d.HeadOfSnapshotLogChanged && len(in.SnapshotLog) > 0 {
		head := in.SnapshotLog[len(in.SnapshotLog)-1]
		if err := db.Create(&snapshotLogRow{TableID: tableID, SnapshotID: head.SnapshotID, TimestampMs: head.TimestampMs}).Error; err != nil {
			return false, err
		}
	}
	if d.NRemovedSnapshotLog > 0 {
		err := db.Exec(
			`DELETE FROM table_snapshot_log WHERE id IN (
				SELECT id FROM table_snapshot_log WHERE table_id = ? ORDER BY id ASC LIMIT ?)`,
			tableID, d.NRemovedSnapshotLog).Error
		if err != nil {
			return false, err
		}
	}

	// 7. Metadata log: expire oldest, append newest.
	if d.ExpiredMetadataLogs > 0 {
		err := db.Exec(
			`DELETE FROM table_metadata_log WHERE id IN (
				SELECT id FROM table_metadata_log WHERE table_id = ? ORDER BY id ASC LIMIT ?)`,
			tableID, d.ExpiredMetadataLogs).Error
		if err != nil {
			return false, err
		}
	}
	if d.AddedMetadataLog > 0 {
		n := d.AddedMetadataLog
		if n > len(in.MetadataLog) {
			n = len(in.MetadataLog)
		}
		rows := make([]metadataLogRow, 0, n)
		for _, e := range in.MetadataLog[len(in.MetadataLog)-n:] {
			rows = append(rows, metadataLogRow{TableID: tableID, MetadataFile: e.MetadataFile, TimestampMs: e.TimestampMs})
		}
		if err := db.Create(&rows).Error; err != nil {
			return false, err
		}
	}

	// 8. Statistics in, then listed statistics out before snapshot removal.
	if len(d.AddedPartitionStats) > 0 {
		rows := make([]partitionStatisticsRow, 0, len(d.AddedPartitionStats))
		for _, snapID := range d.AddedPartitionStats {
			var st *model.PartitionStatisticsFile
			for j := range in.PartitionStatistics {
				if in.PartitionStatistics[j].SnapshotID == snapID {
					st = &in.PartitionStatistics[j]
					break
				}
			}
			if st == nil {
				return false, catalogerr.ErrDatabaseInvariantViolated
			}
			rows = append(rows, partitionStatisticsRow{TableID: tableID, SnapshotID: snapID, StatisticsPath: st.StatisticsPath, FileSizeBytes: st.FileSizeBytes})
		}
		if err := db.Create(&rows).Error; err != nil {
			return false, mapConstraintError(err)
		}
	}
	if len(d.AddedStats) > 0 {
		rows := make([]tableStatisticsRow, 0, len(d.AddedStats))
		for _, snapID := range d.AddedStats {
			var st *model.StatisticsFile
			for j := range in.Statistics {
				if in.Statistics[j].SnapshotID == snapID {
					st = &in.Statistics[j]
					break
				}
			}
			if st == nil {
				return false, catalogerr.ErrDatabaseInvariantViolated
			}
			rows = append(rows, tableStatisticsRow{TableID: tableID, SnapshotID: snapID, StatisticsPath: st.StatisticsPath, FileSizeBytes: st.FileSizeBytes, Blob: string(st.Blob)})
		}
		if err := db.Create(&rows).Error; err != nil {
			return false, mapConstraintError(err)
		}
	}
	if len(d.RemovedPartitionStats) > 0 {
		if err := db.Delete(&partitionStatisticsRow{}, "table_id = ? AND snapshot_id IN ?", tableID, d.RemovedPartitionStats).Error; err != nil {
			return false, err
		}
	}
	if len(d.RemovedStats) > 0 {
		if err := db.Delete(&tableStatisticsRow{}, "table_id = ? AND snapshot_id IN ?", tableID, d.RemovedStats).Error; err != nil {
			return false, err
		}
	}

	// 9. Snapshots out; a live ref or statistic still pointing at one is an
	// integrity violation.
	if len(d.RemovedSnapshots) > 0 {
		var refs int64
		if err := db.Model(&snapshotRefRow{}).Where("table_id = ? AND snapshot_id IN ?", tableID, d.RemovedSnapshots).Count(&refs).Error; err != nil {
			return false, err
		}
		var stats int64
		if err := db.Model(&tableStatisticsRow{}).Where("table_id = ? AND snapshot_id IN ?", tableID, d.RemovedSnapshots).Count(&stats).Error; err != nil {
			return false, err
		}
		if refs > 0 || stats > 0 {
			return false, catalogerr.ErrDatabaseInvariantViolated
		}
		if err := db.Delete(&snapshotRow{}, "table_id = ? AND snapshot_id IN ?", tableID, d.RemovedSnapshots).Error; err != nil {
			return false, err
		}
	}

	// 10. Partition specs and sort orders out; neither may be the default
	// after this commit.
	newDefaultSpec := in.DefaultSpecID
	for _, id := range d.RemovedPartitionSpecs {
		if id == newDefaultSpec {
			return false, catalogerr.ErrDatabaseInvariantViolated
		}
	}
	if len(d.RemovedPartitionSpecs) > 0 {
		if err := db.Delete(&partitionSpecRow{}, "table_id = ? AND spec_id IN ?", tableID, d.RemovedPartitionSpecs).Error; err != nil {
			return false, err
		}
	}
	newDefaultOrder := in.DefaultSortOrderID
	for _, id := range d.RemovedSortOrders {
		if id == newDefaultOrder {
			return false, catalogerr.ErrDatabaseInvariantViolated
		}
	}
	if len(d.RemovedSortOrders) > 0 {
		if err := db.Delete(&sortOrderRow{}, "table_id = ? AND sort_order_id IN ?", tableID, d.RemovedSortOrders).Error; err != nil {
			return false, err
		}
	}

	// 11. Schemas out; not current, not referenced by a remaining snapshot.
	if len(d.RemovedSchemas) > 0 {
		for _, id := range d.RemovedSchemas {
			if id == in.CurrentSchemaID {
				return false, catalogerr.ErrDatabaseInvariantViolated
			}
		}
		var referenced int64
		if err := db.Model(&snapshotRow{}).Where("table_id = ? AND schema_id IN ?", tableID, d.RemovedSchemas).Count(&referenced).Error; err != nil {
			return false, err
		}
		if referenced > 0 {
			return false, catalogerr.ErrDatabaseInvariantViolated
		}
		if err := db.Delete(&tableSchemaRow{}, "table_id = ? AND schema_id IN ?", tableID, d.RemovedSchemas).Error; err != nil {
			return false, err
		}
	}

	// 12. Encryption keys out.
	if len(d.RemovedEncryptionKeys) > 0 {
		if err := db.Delete(&encryptionKeyRow{}, "table_id = ? AND key_id IN ?", tableID, d.RemovedEncryptionKeys).Error; err != nil {
			return false, err
		}
	}

	// 13. Scalar head fields, pointers and the properties blob on the table
	// row.
	props := "{}"
	if in.Properties != nil {
		raw, err := marshalJSON(in.Properties)
		if err != nil {
			return false, err
		}
		props = raw
	}
	tableUpdate := map[string]any{
		"table_format_version":  in.FormatVersion,
		"location":              in.Location,
		"last_column_id":        in.LastColumnID,
		"last_sequence_number":  in.LastSequenceNumber,
		"last_updated_ms":       in.LastUpdatedMs,
		"last_partition_id":     in.LastPartitionID,
		"next_row_id":           in.NextRowID,
		"current_schema_id":     in.CurrentSchemaID,
		"default_spec_id":       in.DefaultSpecID,
		"default_sort_order_id": in.DefaultSortOrderID,
	}
	if d.Properties {
		tableUpdate["properties"] = props
	}
	if err := db.Model(&tableRow{}).Where("table_id = ?", tableID).Updates(tableUpdate).Error; err != nil {
		return false, err
	}

	// Final pointer move, still guarded by the pre-image even though the
	// row lock already serializes us.
	tabularUpdate := map[string]any{
		"metadata_location": c.NewMetadataLocation,
		"updated_at":        o.clock(),
	}
	if in.Location != "" {
		proto, err := locationProtocol(in.Location)
		if err != nil {
			return false, err
		}
		tabularUpdate["fs_location"] = in.Location
		tabularUpdate["fs_protocol"] = proto
	}
	res := db.Model(&tabularRow{}).
		Where("tabular_id = ? AND metadata_location IS NOT DISTINCT FROM ?", tableID, c.PreviousMetadataLocation).
		Updates(tabularUpdate)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func optionalStringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// insertTableMetadata writes the table row plus every subresource of a
// freshly created table.
func (o ops) insertTableMetadata(ctx context.Context, tableID ids.TableID, md *model.TableMetadata) error {
	db := o.db.WithContext(ctx)
	props := "{}"
	if md.Properties != nil {
		raw, err := marshalJSON(md.Properties)
		if err != nil {
			return err
		}
		props = raw
	}
	row := tableRow{
		TableID:            uuid.UUID(tableID),
		FormatVersion:      md.FormatVersion,
		Location:           md.Location,
		LastColumnID:       md.LastColumnID,
		LastSequenceNumber: md.LastSequenceNumber,
		LastUpdatedMs:      md.LastUpdatedMs,
		LastPartitionID:    md.LastPartitionID,
		NextRowID:          md.NextRowID,
		CurrentSchemaID:    md.CurrentSchemaID,
		DefaultSpecID:      md.DefaultSpecID,
		DefaultSortOrderID: md.DefaultSortOrderID,
		Properties:         props,
	}
	if err := db.Create(&row).Error; err != nil {
		return mapConstraintError(err)
	}
	for _, sc := range md.Schemas {
		if err := db.Create(&tableSchemaRow{TableID: uuid.UUID(tableID), SchemaID: sc.SchemaID, Schema: string(sc.Schema)}).Error; err != nil {
			return mapConstraintError(err)
		}
	}
	for _, spec := range md.PartitionSpecs {
		if err := db.Create(&partitionSpecRow{TableID: uuid.UUID(tableID), SpecID: spec.SpecID, Spec: string(spec.Spec)}).Error; err != nil {
			return mapConstraintError(err)
		}
	}
	for _, order := range md.SortOrders {
		if err := db.Create(&sortOrderRow{TableID: uuid.UUID(tableID), OrderID: order.OrderID, Order: string(order.Order)}).Error; err != nil {
			return mapConstraintError(err)
		}
	}
	return nil
}

// loadTableMetadata inflates every subresource family of one table.
func (o ops) loadTableMetadata(ctx context.Context, tableID ids.TableID) (*model.TableMetadata, error) {
	db := o.db.WithContext(ctx)
	var head tableRow
	err := db.Where("table_id = ?", uuid.UUID(tableID)).First(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	md := &model.TableMetadata{
		FormatVersion:      head.FormatVersion,
		TableUUID:          tableID,
		Location:           head.Location,
		LastColumnID:       head.LastColumnID,
		LastSequenceNumber: head.LastSequenceNumber,
		LastUpdatedMs:      head.LastUpdatedMs,
		LastPartitionID:    head.LastPartitionID,
		NextRowID:          head.NextRowID,
		CurrentSchemaID:    head.CurrentSchemaID,
		DefaultSpecID:      head.DefaultSpecID,
		DefaultSortOrderID: head.DefaultSortOrderID,
		Properties:         map[string]string{},
	}
	if head.Properties != "" {
		if err := unmarshalJSON(head.Properties, &md.Properties); err != nil {
			return nil, err
		}
	}

	var schemaRows []tableSchemaRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Order("schema_id").Find(&schemaRows).Error; err != nil {
		return nil, err
	}
	for _, r := range schemaRows {
		md.Schemas = append(md.Schemas, model.TableSchema{SchemaID: r.SchemaID, Schema: []byte(r.Schema)})
	}

	var specRows []partitionSpecRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Order("spec_id").Find(&specRows).Error; err != nil {
		return nil, err
	}
	for _, r := range specRows {
		md.PartitionSpecs = append(md.PartitionSpecs, model.PartitionSpec{SpecID: r.SpecID, Spec: []byte(r.Spec)})
	}

	var orderRows []sortOrderRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Order("sort_order_id").Find(&orderRows).Error; err != nil {
		return nil, err
	}
	for _, r := range orderRows {
		md.SortOrders = append(md.SortOrders, model.SortOrder{OrderID: r.OrderID, Order: []byte(r.Order)})
	}

	var snapRows []snapshotRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Order("snapshot_id").Find(&snapRows).Error; err != nil {
		return nil, err
	}
	for _, r := range snapRows {
		md.Snapshots = append(md.Snapshots, model.Snapshot{
			SnapshotID:       r.SnapshotID,
			ParentSnapshotID: r.ParentSnapshotID,
			SequenceNumber:   r.SequenceNumber,
			TimestampMs:      r.TimestampMs,
			ManifestList:     r.ManifestList,
			SchemaID:         r.SchemaID,
			Summary:          []byte(r.Summary),
		})
	}

	var refRows []snapshotRefRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Find(&refRows).Error; err != nil {
		return nil, err
	}
	if len(refRows) > 0 {
		md.SnapshotRefs = make(map[string]model.SnapshotRef, len(refRows))
		for _, r := range refRows {
			md.SnapshotRefs[r.Name] = model.SnapshotRef{
				Name:               r.Name,
				Type:               model.SnapshotRefType(r.Typ),
				SnapshotID:         r.SnapshotID,
				MinSnapshotsToKeep: r.MinSnapshotsToKeep,
				MaxSnapshotAgeMs:   r.MaxSnapshotAgeMs,
				MaxRefAgeMs:        r.MaxRefAgeMs,
			}
		}
	}

	var logRows []snapshotLogRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Order("id").Find(&logRows).Error; err != nil {
		return nil, err
	}
	for _, r := range logRows {
		md.SnapshotLog = append(md.SnapshotLog, model.SnapshotLogEntry{SnapshotID: r.SnapshotID, TimestampMs: r.TimestampMs})
	}

	var mdLogRows []metadataLogRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Order("id").Find(&mdLogRows).Error; err != nil {
		return nil, err
	}
	for _, r := range mdLogRows {
		md.MetadataLog = append(md.MetadataLog, model.MetadataLogEntry{MetadataFile: r.MetadataFile, TimestampMs: r.TimestampMs})
	}

	var statRows []tableStatisticsRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Order("snapshot_id").Find(&statRows).Error; err != nil {
		return nil, err
	}
	for _, r := range statRows {
		md.Statistics = append(md.Statistics, model.StatisticsFile{
			SnapshotID:     r.SnapshotID,
			StatisticsPath: r.StatisticsPath,
			FileSizeBytes:  r.FileSizeBytes,
			Blob:           []byte(r.Blob),
		})
	}

	var pStatRows []partitionStatisticsRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Order("snapshot_id").Find(&pStatRows).Error; err != nil {
		return nil, err
	}
	for _, r := range pStatRows {
		md.PartitionStatistics = append(md.PartitionStatistics, model.PartitionStatisticsFile{
			SnapshotID:     r.SnapshotID,
			StatisticsPath: r.StatisticsPath,
			FileSizeBytes:  r.FileSizeBytes,
		})
	}

	var keyRows []encryptionKeyRow
	if err := db.Where("table_id = ?", uuid.UUID(tableID)).Order("key_id").Find(&keyRows).Error; err != nil {
		return nil, err
	}
	for _, r := range keyRows {
		md.EncryptionKeys = append(md.EncryptionKeys, model.EncryptionKey{KeyID: r.KeyID, EncryptedKeyMetadata: r.EncryptedKeyMetadata})
	}

	return md, nil
}

// dropTableMetadata removes every subresource row of one table.
func (o ops) dropTableMetadata(ctx context.Context, tableID uuid.UUID) error {
	db := o.db.WithContext(ctx)
	for _, m := range []any{
		&tableSchemaRow{}, &partitionSpecRow{}, &sortOrderRow{}, &snapshotRow{},
		&snapshotRefRow{}, &snapshotLogRow{}, &metadataLogRow{},
		&tableStatisticsRow{}, &partitionStatisticsRow{}, &encryptionKeyRow{},
	} {
		if err := db.Delete(m, "table_id = ?", tableID).Error; err != nil {
			return err
		}
	}
	return db.Delete(&tableRow{}, "table_id = ?", tableID).Error
}
