package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store/memstore"
)

func fixture(t *testing.T) (*Service, *memstore.Store, ids.ProjectID, model.Warehouse) {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	tx, err := st.BeginWrite(ctx)
	require.NoError(t, err)
	p, err := tx.CreateProject(ctx, model.Project{Name: "task-project"})
	require.NoError(t, err)
	w, err := tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID:            p.ProjectID,
		Name:                 "analytics",
		StorageProfile:       model.StorageProfile{Kind: "s3"},
		TabularDeleteProfile: model.SoftDeleteProfile(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return New(st, nil), st, p.ProjectID, *w
}

func warehouseEntity(projectID ids.ProjectID, w model.Warehouse) model.TaskEntity {
	whID := w.WarehouseID
	return model.TaskEntity{Kind: model.TaskEntityWarehouse, ProjectID: projectID, WarehouseID: &whID}
}

// TestEnqueueBatchDeduplication verifies resubmits shrink the returned id
// set without error.
func TestEnqueueBatchDeduplication(t *testing.T) {
	svc, _, projectID, w := fixture(t)
	ctx := context.Background()
	entity := warehouseEntity(projectID, w)

	first, err := svc.EnqueueBatch(ctx, projectID, []model.EnqueueTask{
		{QueueName: "stats", Entity: entity},
	})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.EnqueueBatch(ctx, projectID, []model.EnqueueTask{
		{QueueName: "stats", Entity: entity},
		{QueueName: "compaction", Entity: entity},
	})
	require.NoError(t, err)
	require.Len(t, second, 1, "the stats resubmit must be dropped")
}

// TestControlStopAndHeartbeat verifies stop → ShouldStop on the next
// heartbeat, then the worker acknowledging with a failure record.
func TestControlStopAndHeartbeat(t *testing.T) {
	svc, _, projectID, w := fixture(t)
	ctx := context.Background()

	taskIDs, err := svc.EnqueueBatch(ctx, projectID, []model.EnqueueTask{
		{QueueName: "stats", Entity: warehouseEntity(projectID, w)},
	})
	require.NoError(t, err)
	picked, err := svc.PickNewTask(ctx, "stats")
	require.NoError(t, err)
	require.NotNil(t, picked)

	state, err := svc.Heartbeat(ctx, picked.TaskID, 0.5, json.RawMessage(`{"rows":100}`))
	require.NoError(t, err)
	assert.Equal(t, model.TaskCheckContinue, state)

	require.NoError(t, svc.Control(ctx, projectID, ControlTasksRequest{
		Action:  ControlTaskAction{Type: ControlActionStop},
		TaskIDs: taskIDs,
	}))

	state, err = svc.Heartbeat(ctx, picked.TaskID, 0.6, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCheckShouldStop, state)

	msg := "stopped on request"
	require.NoError(t, svc.RecordFailure(ctx, picked.TaskID, &msg))
}

// TestControlRunAtReschedules verifies run-at moves the scheduled time.
func TestControlRunAtReschedules(t *testing.T) {
	svc, st, projectID, w := fixture(t)
	ctx := context.Background()

	later := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	taskIDs, err := svc.EnqueueBatch(ctx, projectID, []model.EnqueueTask{
		{QueueName: "stats", Entity: warehouseEntity(projectID, w)},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Control(ctx, projectID, ControlTasksRequest{
		Action:  ControlTaskAction{Type: ControlActionRunAt, ScheduledFor: &later},
		TaskIDs: taskIDs,
	}))

	task, err := st.GetTask(ctx, projectID, taskIDs[0])
	require.NoError(t, err)
	assert.True(t, task.ScheduledFor.Equal(later))

	// run-at leaves the task pickable only once due.
	picked, err := svc.PickNewTask(ctx, "stats")
	require.NoError(t, err)
	assert.Nil(t, picked)

	require.NoError(t, svc.Control(ctx, projectID, ControlTasksRequest{
		Action:  ControlTaskAction{Type: ControlActionRunNow},
		TaskIDs: taskIDs,
	}))
	picked, err = svc.PickNewTask(ctx, "stats")
	require.NoError(t, err)
	require.NotNil(t, picked)
}

// TestControlTasksRequestJSON verifies the tagged wire shape, including
// the RFC3339 scheduled-for of run-at.
func TestControlTasksRequestJSON(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC)
	taskID := ids.NewTaskID()
	req := ControlTasksRequest{
		Action:  ControlTaskAction{Type: ControlActionRunAt, ScheduledFor: &at},
		TaskIDs: []ids.TaskID{taskID},
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"action-type":"run-at"`)
	assert.Contains(t, string(raw), `"scheduled-for":"2026-05-01T12:30:00Z"`)

	var decoded ControlTasksRequest
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, req, decoded)

	stop := []byte(`{"action":{"action-type":"stop"},"task-ids":["` + taskID.String() + `"]}`)
	decoded = ControlTasksRequest{}
	require.NoError(t, json.Unmarshal(stop, &decoded))
	assert.Equal(t, ControlActionStop, decoded.Action.Type)
	assert.Nil(t, decoded.Action.ScheduledFor)
}

// TestListFilterCaps verifies the ≤100 rule on entities and queue names.
func TestListFilterCaps(t *testing.T) {
	svc, _, projectID, w := fixture(t)
	ctx := context.Background()

	entities := make([]model.TaskEntity, 101)
	for i := range entities {
		entities[i] = warehouseEntity(projectID, w)
	}
	_, err := svc.List(ctx, projectID, ListTasksRequest{Entities: entities})
	var tooMany *catalogerr.TooManyEntriesInFilter
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, "entities", tooMany.Field)

	// An explicitly empty status array short-circuits to nothing.
	page, err := svc.List(ctx, projectID, ListTasksRequest{Statuses: []model.TaskStatus{}})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

// TestResolveLiveThenLog verifies resolution prefers live tasks and falls
// back to the most recent logged attempt.
func TestResolveLiveThenLog(t *testing.T) {
	svc, _, projectID, w := fixture(t)
	ctx := context.Background()

	taskIDs, err := svc.EnqueueBatch(ctx, projectID, []model.EnqueueTask{
		{QueueName: "stats", Entity: warehouseEntity(projectID, w)},
	})
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, projectID, []ids.TaskID{taskIDs[0], ids.NewTaskID()})
	require.NoError(t, err)
	require.Len(t, resolved, 1, "unknown ids are simply absent")
	assert.Equal(t, "stats", resolved[taskIDs[0]].QueueName)
	assert.Equal(t, model.TaskEntityWarehouse, resolved[taskIDs[0]].Entity.Kind)
}

// TestExpirationScheduleCancelUndrop drives the soft-delete flow: schedule
// marks the tabular deleted; cancelling the task undrops it.
func TestExpirationScheduleCancelUndrop(t *testing.T) {
	svc, st, projectID, w := fixture(t)
	ctx := context.Background()

	tx, err := st.BeginWrite(ctx)
	require.NoError(t, err)
	ns, err := tx.CreateNamespace(ctx, model.Namespace{WarehouseID: w.WarehouseID, Ident: model.NamespaceIdent{"sales"}})
	require.NoError(t, err)
	tab, err := tx.CreateTable(ctx, model.Tabular{
		WarehouseID: w.WarehouseID,
		NamespaceID: ns.NamespaceID,
		Name:        "orders",
		FsLocation:  "s3://data/sales/orders",
	}, model.TableMetadata{FormatVersion: 2})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	now := time.Now().UTC()
	taskID, err := ScheduleTabularExpiration(ctx, st, projectID, &w, tab.TabularID, []string{"sales", "orders"}, now)
	require.NoError(t, err)
	require.NotNil(t, taskID)

	deleted, err := st.GetTabular(ctx, w.WarehouseID, tab.TabularID)
	require.NoError(t, err)
	assert.True(t, deleted.SoftDeleted())

	require.NoError(t, svc.Control(ctx, projectID, ControlTasksRequest{
		Action:  ControlTaskAction{Type: ControlActionCancel},
		TaskIDs: []ids.TaskID{*taskID},
	}))

	restored, err := st.GetTabular(ctx, w.WarehouseID, tab.TabularID)
	require.NoError(t, err)
	assert.False(t, restored.SoftDeleted(), "cancelling the expiration task undrops the tabular")

	task, err := st.GetTask(ctx, projectID, *taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, task.Status)
}

// TestExpirationHandlerDropsTabular verifies the worker-side hard drop
// after the grace period.
func TestExpirationHandlerDropsTabular(t *testing.T) {
	svc, st, projectID, w := fixture(t)
	ctx := context.Background()

	tx, err := st.BeginWrite(ctx)
	require.NoError(t, err)
	ns, err := tx.CreateNamespace(ctx, model.Namespace{WarehouseID: w.WarehouseID, Ident: model.NamespaceIdent{"sales"}})
	require.NoError(t, err)
	tab, err := tx.CreateTable(ctx, model.Tabular{
		WarehouseID: w.WarehouseID,
		NamespaceID: ns.NamespaceID,
		Name:        "orders",
		FsLocation:  "s3://data/sales/orders",
	}, model.TableMetadata{FormatVersion: 2})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	past := time.Now().UTC().Add(-2 * time.Hour)
	taskID, err := ScheduleTabularExpiration(ctx, st, projectID, &w, tab.TabularID, []string{"sales", "orders"}, past)
	require.NoError(t, err)
	require.NotNil(t, taskID)

	picked, err := svc.PickNewTask(ctx, model.QueueTabularExpiration)
	require.NoError(t, err)
	require.NotNil(t, picked)

	handler := NewExpirationHandler(st, nil)
	require.NoError(t, handler.Execute(ctx, picked))
	require.NoError(t, svc.RecordSuccess(ctx, picked.TaskID, nil))

	gone, err := st.GetTabular(ctx, w.WarehouseID, tab.TabularID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	details, err := svc.GetDetails(ctx, projectID, picked.TaskID, 5)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSuccess, details.Task.Status)
}
