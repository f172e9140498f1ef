package tablecommit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store/memstore"
)

func fixture(t *testing.T) (*memstore.Store, ids.WarehouseID, model.Tabular) {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	project, err := tx.CreateProject(ctx, model.Project{Name: "commit-project"})
	require.NoError(t, err)
	w, err := tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID:            project.ProjectID,
		Name:                 "analytics",
		StorageProfile:       model.StorageProfile{Kind: "s3"},
		TabularDeleteProfile: model.HardDeleteProfile(),
	})
	require.NoError(t, err)
	ns, err := tx.CreateNamespace(ctx, model.Namespace{
		WarehouseID: w.WarehouseID,
		Ident:       model.NamespaceIdent{"sales"},
	})
	require.NoError(t, err)
	tab, err := tx.CreateTable(ctx, model.Tabular{
		WarehouseID: w.WarehouseID,
		NamespaceID: ns.NamespaceID,
		Name:        "orders",
		FsLocation:  "s3://data/sales/orders",
	}, model.TableMetadata{FormatVersion: 2})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return s, w.WarehouseID, *tab
}

func simpleCommit(tab model.Tabular, location string, prev *string) model.TableCommit {
	newMD := model.TableMetadata{
		FormatVersion:   2,
		Location:        "s3://data/sales/orders",
		CurrentSchemaID: 1,
		Schemas: []model.TableSchema{
			{SchemaID: 1, Schema: json.RawMessage(`{"type":"struct","fields":[]}`)},
		},
		Properties: map[string]string{"owner": "bi"},
	}
	return model.TableCommit{
		TableID:                  tab.TabularID.Table,
		NewMetadata:              newMD,
		NewMetadataLocation:      location,
		PreviousMetadataLocation: prev,
		Diffs:                    ComputeDiffs(&model.TableMetadata{}, &newMD),
	}
}

// TestEmptyBatch verifies the no-transaction fast path.
func TestEmptyBatch(t *testing.T) {
	s, warehouseID, _ := fixture(t)
	engine := New(s, nil)

	infos, err := engine.CommitTableTransaction(context.Background(), warehouseID, nil)
	require.NoError(t, err)
	assert.NotNil(t, infos)
	assert.Empty(t, infos)
}

// TestBatchSizeCap verifies the bind-budget guard.
func TestBatchSizeCap(t *testing.T) {
	s, warehouseID, tab := fixture(t)
	engine := New(s, nil)

	commits := make([]model.TableCommit, MaxCommitsPerBatch+1)
	for i := range commits {
		commits[i] = simpleCommit(tab, "s3://data/x.json", nil)
	}
	_, err := engine.CommitTableTransaction(context.Background(), warehouseID, commits)
	var tooMany *catalogerr.TooManyUpdatesInCommit
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, MaxCommitsPerBatch, tooMany.Max)
}

// TestCommitAndOCCLoser runs the concurrent-commit scenario sequentially:
// two commits share the same previous metadata location; the first lands,
// the second fails with TabularNotFound and leaves no partial state.
func TestCommitAndOCCLoser(t *testing.T) {
	s, warehouseID, tab := fixture(t)
	engine := New(s, nil)
	ctx := context.Background()

	winner := simpleCommit(tab, "s3://data/sales/orders/metadata/v1.json", nil)
	infos, err := engine.CommitTableTransaction(ctx, warehouseID, []model.TableCommit{winner})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "orders", infos[0].Name)
	assert.Equal(t, "s3://data/sales/orders/metadata/v1.json", infos[0].MetadataLocation)
	assert.Equal(t, map[string]string{"owner": "bi"}, infos[0].Properties,
		"properties come from the input metadata")

	loser := simpleCommit(tab, "s3://data/sales/orders/metadata/v1b.json", nil)
	_, err = engine.CommitTableTransaction(ctx, warehouseID, []model.TableCommit{loser})
	var notFound *catalogerr.TabularNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, warehouseID.String(), notFound.WarehouseID)
	assert.Equal(t, tab.TabularID.String(), notFound.TabularID)

	// The winner's pointer survived untouched.
	got, err := s.GetTabular(ctx, warehouseID, tab.TabularID)
	require.NoError(t, err)
	require.NotNil(t, got.MetadataLocation)
	assert.Equal(t, "s3://data/sales/orders/metadata/v1.json", *got.MetadataLocation)
}

// TestBatchAtomicity verifies that one losing commit rolls the whole batch
// back, including the sibling that would have succeeded.
func TestBatchAtomicity(t *testing.T) {
	s, warehouseID, tab := fixture(t)
	engine := New(s, nil)
	ctx := context.Background()

	// Second table for the batch.
	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	ns, err := tx.GetNamespaceByIdent(ctx, warehouseID, model.NamespaceIdent{"sales"})
	require.NoError(t, err)
	other, err := tx.CreateTable(ctx, model.Tabular{
		WarehouseID: warehouseID,
		NamespaceID: ns.NamespaceID,
		Name:        "customers",
		FsLocation:  "s3://data/sales/customers",
	}, model.TableMetadata{FormatVersion: 2})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// Advance "orders" so the batch's stale pointer loses.
	first := simpleCommit(tab, "s3://data/sales/orders/metadata/v1.json", nil)
	_, err = engine.CommitTableTransaction(ctx, warehouseID, []model.TableCommit{first})
	require.NoError(t, err)

	stale := simpleCommit(tab, "s3://data/sales/orders/metadata/v2.json", nil)
	fresh := simpleCommit(*other, "s3://data/sales/customers/metadata/v1.json", nil)
	_, err = engine.CommitTableTransaction(ctx, warehouseID, []model.TableCommit{fresh, stale})
	var notFound *catalogerr.TabularNotFound
	require.ErrorAs(t, err, &notFound)

	// The sibling that could have landed must not have.
	got, err := s.GetTabular(ctx, warehouseID, other.TabularID)
	require.NoError(t, err)
	assert.Nil(t, got.MetadataLocation, "batch failure must be atomic")
}

// TestSnapshotLifecycleDiffs drives adds, ref rewrite, log append and a
// later removal through ComputeDiffs and the store apply.
func TestSnapshotLifecycleDiffs(t *testing.T) {
	s, warehouseID, tab := fixture(t)
	engine := New(s, nil)
	ctx := context.Background()

	base := model.TableMetadata{
		FormatVersion:   2,
		Location:        "s3://data/sales/orders",
		CurrentSchemaID: 1,
		Schemas: []model.TableSchema{
			{SchemaID: 1, Schema: json.RawMessage(`{"type":"struct"}`)},
		},
	}
	withSnapshot := base
	withSnapshot.LastSequenceNumber = 1
	withSnapshot.Snapshots = []model.Snapshot{{
		SnapshotID:     100,
		SequenceNumber: 1,
		TimestampMs:    1714560000000,
		ManifestList:   "s3://data/sales/orders/metadata/snap-100.avro",
	}}
	withSnapshot.SnapshotRefs = map[string]model.SnapshotRef{
		"main": {Name: "main", Type: model.SnapshotRefBranch, SnapshotID: 100},
	}
	withSnapshot.SnapshotLog = []model.SnapshotLogEntry{{SnapshotID: 100, TimestampMs: 1714560000000}}

	diffs := ComputeDiffs(&base, &withSnapshot)
	assert.Equal(t, []int64{100}, diffs.AddedSnapshots)
	assert.True(t, diffs.SnapshotRefs)
	assert.True(t, diffs.HeadOfSnapshotLogChanged)
	assert.Empty(t, diffs.RemovedSnapshots)

	loc1 := "s3://data/sales/orders/metadata/v1.json"
	first := model.TableCommit{
		TableID:             tab.TabularID.Table,
		NewMetadata:         base,
		NewMetadataLocation: loc1,
		Diffs:               ComputeDiffs(&model.TableMetadata{}, &base),
	}
	_, err := engine.CommitTableTransaction(ctx, warehouseID, []model.TableCommit{first})
	require.NoError(t, err)

	second := model.TableCommit{
		TableID:                  tab.TabularID.Table,
		NewMetadata:              withSnapshot,
		NewMetadataLocation:      "s3://data/sales/orders/metadata/v2.json",
		PreviousMetadataLocation: &loc1,
		Diffs:                    diffs,
	}
	_, err = engine.CommitTableTransaction(ctx, warehouseID, []model.TableCommit{second})
	require.NoError(t, err)

	loaded, err := s.LoadTables(ctx, warehouseID, []ids.TableID{tab.TabularID.Table})
	require.NoError(t, err)
	md := loaded[tab.TabularID.Table]
	require.Len(t, md.Snapshots, 1)
	assert.Equal(t, int64(100), md.Snapshots[0].SnapshotID)
	require.Contains(t, md.SnapshotRefs, "main")
	require.Len(t, md.SnapshotLog, 1)
}

// TestComputeDiffsNoChange verifies an identical snapshot yields an empty
// diff.
func TestComputeDiffsNoChange(t *testing.T) {
	md := model.TableMetadata{
		FormatVersion:   2,
		CurrentSchemaID: 1,
		Schemas: []model.TableSchema{
			{SchemaID: 1, Schema: json.RawMessage(`{}`)},
		},
		Properties: map[string]string{"a": "b"},
	}
	d := ComputeDiffs(&md, &md)
	assert.True(t, d.Empty())
}
