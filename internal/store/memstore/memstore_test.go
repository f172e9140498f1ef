package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

func newTestStore(t *testing.T) (*Store, ids.ProjectID) {
	t.Helper()
	s := New()
	ctx := context.Background()
	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	p, err := tx.CreateProject(ctx, model.Project{Name: "test-project"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return s, p.ProjectID
}

func createWarehouse(t *testing.T, s *Store, projectID ids.ProjectID, name string) model.Warehouse {
	t.Helper()
	ctx := context.Background()
	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	w, err := tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID: projectID,
		Name:      name,
		StorageProfile: model.StorageProfile{
			Kind:       "s3",
			Properties: map[string]string{"bucket": "data", "region": "eu-central-1"},
		},
		TabularDeleteProfile: model.HardDeleteProfile(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return *w
}

// TestWarehouseRoundTrip verifies create → get-by-id → get-by-name returns
// identical fields including the version.
func TestWarehouseRoundTrip(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	created := createWarehouse(t, s, projectID, "analytics")

	byID, err := s.GetWarehouse(ctx, created.WarehouseID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, created, *byID)

	byName, err := s.GetWarehouseByName(ctx, projectID, "analytics")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, created, *byName)
	assert.Equal(t, uint64(0), byName.Version)
}

// TestWarehouseNoOpUpdateKeepsVersion verifies that writing an identical
// storage profile does not advance the version.
func TestWarehouseNoOpUpdateKeepsVersion(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "analytics")

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	same, err := tx.SetWarehouseStorageProfile(ctx, w.WarehouseID, w.StorageProfile, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, uint64(0), same.Version)
	assert.Nil(t, same.UpdatedAt)

	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	changed, err := tx.SetWarehouseStorageProfile(ctx, w.WarehouseID, model.StorageProfile{
		Kind:       "s3",
		Properties: map[string]string{"bucket": "other"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, uint64(1), changed.Version)
	assert.NotNil(t, changed.UpdatedAt)
}

// TestWarehouseDeleteGuards verifies the protected bit and the unfinished
// task guard, including that a refused delete mutates nothing.
func TestWarehouseDeleteGuards(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "guarded")

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.SetWarehouseProtected(ctx, w.WarehouseID, true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	err = tx.DeleteWarehouse(ctx, w.WarehouseID, false)
	var protected *catalogerr.Protected
	require.ErrorAs(t, err, &protected)
	require.NoError(t, tx.Rollback(ctx))

	// Unprotect but park a task on the warehouse: delete must refuse with
	// per-queue counts and leave the warehouse in place.
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.SetWarehouseProtected(ctx, w.WarehouseID, false)
	require.NoError(t, err)
	whID := w.WarehouseID
	_, err = tx.EnqueueTasks(ctx, projectID, []model.EnqueueTask{{
		QueueName: "compaction",
		Entity:    model.TaskEntity{Kind: model.TaskEntityWarehouse, ProjectID: projectID, WarehouseID: &whID},
	}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	err = tx.DeleteWarehouse(ctx, w.WarehouseID, true)
	var unfinished *catalogerr.WarehouseHasUnfinishedTasks
	require.ErrorAs(t, err, &unfinished)
	assert.Equal(t, map[string]int{"compaction": 1}, unfinished.PerQueueCounts)
	require.NoError(t, tx.Rollback(ctx))

	got, err := s.GetWarehouse(ctx, w.WarehouseID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

// TestRollbackRestoresState verifies that dropping a write transaction
// without commit leaves no trace.
func TestRollbackRestoresState(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID:            projectID,
		Name:                 "discarded",
		StorageProfile:       model.StorageProfile{Kind: "s3"},
		TabularDeleteProfile: model.HardDeleteProfile(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	got, err := s.GetWarehouseByName(ctx, projectID, "discarded")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestNamespaceParentSnapshot verifies that creating a child captures the
// parent's version without advancing it.
func TestNamespaceParentSnapshot(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "analytics")

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	parent, err := tx.CreateNamespace(ctx, model.Namespace{
		WarehouseID: w.WarehouseID,
		Ident:       model.NamespaceIdent{"sales"},
		Properties:  map[string]string{"owner": "bi"},
	})
	require.NoError(t, err)
	// Bump the parent once so the child snapshot is distinguishable from
	// the zero value.
	parent, err = tx.UpdateNamespaceProperties(ctx, parent.NamespaceID, map[string]string{"owner": "core"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), parent.Version)

	child, err := tx.CreateNamespace(ctx, model.Namespace{
		WarehouseID: w.WarehouseID,
		Ident:       model.NamespaceIdent{"sales", "eu"},
		Parent: &model.ParentSnapshot{
			ParentID:                parent.NamespaceID,
			ParentVersionAtCreation: parent.Version,
		},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	reloadedParent, err := s.GetNamespace(ctx, parent.NamespaceID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reloadedParent.Version)
	assert.Equal(t, uint64(1), child.Parent.ParentVersionAtCreation)
}

// TestNamespaceIdentCaseFolding verifies case-insensitive ident lookups.
func TestNamespaceIdentCaseFolding(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "analytics")

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.CreateNamespace(ctx, model.Namespace{
		WarehouseID: w.WarehouseID,
		Ident:       model.NamespaceIdent{"Sales", "EU"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetNamespaceByIdent(ctx, w.WarehouseID, model.NamespaceIdent{"sales", "eu"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.NamespaceIdent{"Sales", "EU"}, got.Ident)

	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.CreateNamespace(ctx, model.Namespace{
		WarehouseID: w.WarehouseID,
		Ident:       model.NamespaceIdent{"SALES", "eu"},
	})
	assert.ErrorIs(t, err, catalogerr.ErrNameAlreadyExists)
	require.NoError(t, tx.Rollback(ctx))
}

func stageTable(t *testing.T, s *Store, w model.Warehouse, nsID ids.NamespaceID, name, location string) model.Tabular {
	t.Helper()
	ctx := context.Background()
	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	tab, err := tx.CreateTable(ctx, model.Tabular{
		WarehouseID: w.WarehouseID,
		NamespaceID: nsID,
		Name:        name,
		FsLocation:  location,
	}, model.TableMetadata{FormatVersion: 2})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return *tab
}

// TestCommitTablesOCC verifies that a commit whose previous metadata
// location no longer matches is skipped, so the engine can detect the lost
// race, while a matching commit lands.
func TestCommitTablesOCC(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "analytics")

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	ns, err := tx.CreateNamespace(ctx, model.Namespace{WarehouseID: w.WarehouseID, Ident: model.NamespaceIdent{"sales"}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tab := stagedCommitFixture(t, s, w, ns.NamespaceID)

	// First commit against the staged table (previous location nil).
	commit := model.TableCommit{
		TableID:             tab.TabularID.Table,
		NewMetadataLocation: "s3://data/sales/orders/metadata/v1.json",
		NewMetadata: model.TableMetadata{
			FormatVersion: 2,
			Location:      "s3://data/sales/orders",
		},
	}
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	updated, err := tx.CommitTables(ctx, w.WarehouseID, []model.TableCommit{commit})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.NoError(t, tx.Commit(ctx))

	// Replaying the same commit must miss: the pointer moved.
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	updated, err = tx.CommitTables(ctx, w.WarehouseID, []model.TableCommit{commit})
	require.NoError(t, err)
	assert.Empty(t, updated)
	require.NoError(t, tx.Rollback(ctx))
}

func stagedCommitFixture(t *testing.T, s *Store, w model.Warehouse, nsID ids.NamespaceID) model.Tabular {
	return stageTable(t, s, w, nsID, "orders", "s3://data/sales/orders")
}

// TestListTabularsPagination verifies ⌈n/k⌉ pages with the token absent on
// the final short page, over soft-deleted views.
func TestListTabularsPagination(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "analytics")

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	s.Clock = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	ns, err := tx.CreateNamespace(ctx, model.Namespace{WarehouseID: w.WarehouseID, Ident: model.NamespaceIdent{"sales"}})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		v, err := tx.CreateView(ctx, model.Tabular{
			WarehouseID: w.WarehouseID,
			NamespaceID: ns.NamespaceID,
			Name:        "v" + string(rune('a'+i)),
			FsLocation:  "s3://data/sales/views",
		}, []byte(`{"view-version":1}`))
		require.NoError(t, err)
		_, err = tx.MarkTabularDeleted(ctx, w.WarehouseID, v.TabularID, s.Clock())
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))

	page1, err := s.ListTabulars(ctx, w.WarehouseID, store.ListTabularsQuery{DeletedOnly: true, PageSize: 6})
	require.NoError(t, err)
	require.Len(t, page1.Items, 6)
	require.NotEmpty(t, page1.NextPageToken)

	page2, err := s.ListTabulars(ctx, w.WarehouseID, store.ListTabularsQuery{DeletedOnly: true, PageSize: 6, PageToken: page1.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page2.Items, 4)
	assert.Empty(t, page2.NextPageToken)

	seen := map[string]bool{}
	for _, item := range append(page1.Items, page2.Items...) {
		seen[item.Name] = true
	}
	assert.Len(t, seen, 10)
}

// TestEnqueueDeduplicates verifies that a duplicate (entity, queue) among
// non-terminal tasks is dropped without error.
func TestEnqueueDeduplicates(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "analytics")
	whID := w.WarehouseID

	entity := model.TaskEntity{Kind: model.TaskEntityWarehouse, ProjectID: projectID, WarehouseID: &whID}
	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	taskIDs, err := tx.EnqueueTasks(ctx, projectID, []model.EnqueueTask{
		{QueueName: "stats", Entity: entity},
		{QueueName: "stats", Entity: entity},
		{QueueName: "compaction", Entity: entity},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Len(t, taskIDs, 2)
}

// TestTaskRetryThenSuccess walks a task through fail → retry → success and
// checks the details view: headline attempt 2 SUCCESS, one prior FAILED
// attempt, durations from the log.
func TestTaskRetryThenSuccess(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "analytics")
	whID := w.WarehouseID

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Clock = func() time.Time { return now }

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	taskIDs, err := tx.EnqueueTasks(ctx, projectID, []model.EnqueueTask{{
		QueueName:  "stats",
		Entity:     model.TaskEntity{Kind: model.TaskEntityWarehouse, ProjectID: projectID, WarehouseID: &whID},
		MaxRetries: 5,
	}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	require.Len(t, taskIDs, 1)
	taskID := taskIDs[0]

	// Attempt 1: picked, then failed.
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	picked, err := tx.PickNewTask(ctx, "stats", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, 1, picked.Attempt)
	assert.Equal(t, model.TaskStatusRunning, picked.Status)
	require.NoError(t, tx.Commit(ctx))

	now = now.Add(30 * time.Second)
	msg := "upstream timeout"
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RecordTaskFailure(ctx, taskID, &msg))
	require.NoError(t, tx.Commit(ctx))

	// Attempt 2: picked again under the same id, then succeeds.
	now = now.Add(time.Minute)
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	picked, err = tx.PickNewTask(ctx, "stats", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, taskID, picked.TaskID)
	assert.Equal(t, 2, picked.Attempt)
	require.NoError(t, tx.Commit(ctx))

	now = now.Add(45 * time.Second)
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RecordTaskSuccess(ctx, taskID, nil))
	require.NoError(t, tx.Commit(ctx))

	details, err := s.GetTaskDetails(ctx, projectID, taskID, 10)
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, model.TaskStatusSuccess, details.Task.Status)
	require.Len(t, details.Attempts, 2)
	assert.Equal(t, 2, details.Attempts[0].Attempt)
	assert.Equal(t, model.TaskStatusSuccess, details.Attempts[0].Status)
	require.NotNil(t, details.Attempts[0].Duration)
	assert.Equal(t, 45*time.Second, *details.Attempts[0].Duration)
	assert.Equal(t, 1, details.Attempts[1].Attempt)
	assert.Equal(t, model.TaskStatusFailed, details.Attempts[1].Status)
	require.NotNil(t, details.Attempts[1].Duration)
	assert.Equal(t, 30*time.Second, *details.Attempts[1].Duration)
	assert.Equal(t, &msg, details.Attempts[1].Message)
}

// TestPickReclaimsSilentTask verifies crash recovery: a running task whose
// heartbeat went silent becomes pickable again as a new attempt.
func TestPickReclaimsSilentTask(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "analytics")
	whID := w.WarehouseID

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Clock = func() time.Time { return now }

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.EnqueueTasks(ctx, projectID, []model.EnqueueTask{{
		QueueName: "expiry",
		Entity:    model.TaskEntity{Kind: model.TaskEntityWarehouse, ProjectID: projectID, WarehouseID: &whID},
	}})
	require.NoError(t, err)
	picked, err := tx.PickNewTask(ctx, "expiry", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, picked)
	require.NoError(t, tx.Commit(ctx))

	// Within the heartbeat window nothing is pickable.
	now = now.Add(30 * time.Second)
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	again, err := tx.PickNewTask(ctx, "expiry", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)
	require.NoError(t, tx.Rollback(ctx))

	// Past the window the attempt is reclaimed with a bumped counter.
	now = now.Add(2 * time.Minute)
	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	again, err = tx.PickNewTask(ctx, "expiry", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, picked.TaskID, again.TaskID)
	assert.Equal(t, 2, again.Attempt)
	require.NoError(t, tx.Commit(ctx))
}

// TestCancelExpirationTaskUndrops verifies that cancelling a
// tabular-expiration task clears the target's deleted_at in the same
// transaction.
func TestCancelExpirationTaskUndrops(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	w := createWarehouse(t, s, projectID, "analytics")
	whID := w.WarehouseID

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	ns, err := tx.CreateNamespace(ctx, model.Namespace{WarehouseID: w.WarehouseID, Ident: model.NamespaceIdent{"sales"}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tab := stageTable(t, s, w, ns.NamespaceID, "orders", "s3://data/sales/orders")

	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.MarkTabularDeleted(ctx, w.WarehouseID, tab.TabularID, s.Clock())
	require.NoError(t, err)
	tabID := tab.TabularID
	taskIDs, err := tx.EnqueueTasks(ctx, projectID, []model.EnqueueTask{{
		QueueName: model.QueueTabularExpiration,
		Entity: model.TaskEntity{
			Kind:        model.TaskEntityTabular,
			ProjectID:   projectID,
			WarehouseID: &whID,
			TabularID:   &tabID,
			EntityName:  []string{"sales", "orders"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, taskIDs, 1)
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	cancelled, err := tx.CancelScheduledTasks(ctx, taskIDs, false)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetTabular(ctx, w.WarehouseID, tab.TabularID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.SoftDeleted())
}

// TestListTasksEmptyFilterArrays verifies the explicit-empty-array
// short-circuit and the filter caps.
func TestListTasksEmptyFilterArrays(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()

	page, err := s.ListTasks(ctx, projectID, model.TaskFilter{Statuses: []model.TaskStatus{}}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	big := make([]string, 101)
	for i := range big {
		big[i] = "q"
	}
	_, err = s.ListTasks(ctx, projectID, model.TaskFilter{QueueNames: big}, "", 10)
	var tooMany *catalogerr.TooManyEntriesInFilter
	require.ErrorAs(t, err, &tooMany)
}
