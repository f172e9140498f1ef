//go:build integration

package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// setupBackend starts a PostgreSQL container, connects and migrates.
func setupBackend(t *testing.T) *Backend {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("catalog"),
		tcpostgres.WithUsername("catalog"),
		tcpostgres.WithPassword("catalog"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	backend, err := Open(ctx, Config{WriteDSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	require.NoError(t, backend.Migrate())
	return backend
}

// TestIntegration_WarehouseLifecycle drives create, no-op update, rename
// and delete against a real database.
func TestIntegration_WarehouseLifecycle(t *testing.T) {
	backend := setupBackend(t)
	ctx := context.Background()

	tx, err := backend.BeginWrite(ctx)
	require.NoError(t, err)
	project, err := tx.CreateProject(ctx, model.Project{Name: "it-project"})
	require.NoError(t, err)
	created, err := tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID: project.ProjectID,
		Name:      "analytics",
		StorageProfile: model.StorageProfile{
			Kind:       "s3",
			Properties: map[string]string{"bucket": "data"},
		},
		TabularDeleteProfile: model.SoftDeleteProfile(24 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	got, err := backend.GetWarehouseByName(ctx, project.ProjectID, "ANALYTICS")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.WarehouseID, got.WarehouseID)
	assert.Equal(t, uint64(0), got.Version)
	assert.Equal(t, model.SoftDeleteProfile(24*time.Hour), got.TabularDeleteProfile)

	// Identical storage profile: no version bump.
	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	same, err := tx.SetWarehouseStorageProfile(ctx, created.WarehouseID, created.StorageProfile, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, uint64(0), same.Version)

	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	renamed, err := tx.RenameWarehouse(ctx, created.WarehouseID, "analytics-eu")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, uint64(1), renamed.Version)

	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteWarehouse(ctx, created.WarehouseID, false))
	require.NoError(t, tx.Commit(ctx))

	gone, err := backend.GetWarehouse(ctx, created.WarehouseID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

// TestIntegration_CommitTablesOCC verifies the optimistic concurrency
// check against real row locking.
func TestIntegration_CommitTablesOCC(t *testing.T) {
	backend := setupBackend(t)
	ctx := context.Background()

	tx, err := backend.BeginWrite(ctx)
	require.NoError(t, err)
	project, err := tx.CreateProject(ctx, model.Project{Name: "it-occ"})
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

	commit := model.TableCommit{
		TableID:             tab.TabularID.Table,
		NewMetadataLocation: "s3://data/sales/orders/metadata/v1.json",
		NewMetadata: model.TableMetadata{
			FormatVersion: 2,
			Location:      "s3://data/sales/orders",
		},
	}

	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	updated, err := tx.CommitTables(ctx, w.WarehouseID, []model.TableCommit{commit})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.NoError(t, tx.Commit(ctx))

	// The stale replay misses the pointer check.
	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	updated, err = tx.CommitTables(ctx, w.WarehouseID, []model.TableCommit{commit})
	require.NoError(t, err)
	assert.Empty(t, updated)
	require.NoError(t, tx.Rollback(ctx))
}

// TestIntegration_TaskPickSingleWorker verifies SKIP LOCKED pick and the
// retry flow.
func TestIntegration_TaskPickSingleWorker(t *testing.T) {
	backend := setupBackend(t)
	ctx := context.Background()

	tx, err := backend.BeginWrite(ctx)
	require.NoError(t, err)
	project, err := tx.CreateProject(ctx, model.Project{Name: "it-tasks"})
	require.NoError(t, err)
	w, err := tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID:            project.ProjectID,
		Name:                 "analytics",
		StorageProfile:       model.StorageProfile{Kind: "s3"},
		TabularDeleteProfile: model.HardDeleteProfile(),
	})
	require.NoError(t, err)
	whID := w.WarehouseID
	taskIDs, err := tx.EnqueueTasks(ctx, project.ProjectID, []model.EnqueueTask{{
		QueueName:  "stats",
		Entity:     model.TaskEntity{Kind: model.TaskEntityWarehouse, ProjectID: project.ProjectID, WarehouseID: &whID},
		MaxRetries: 1,
	}})
	require.NoError(t, err)
	require.Len(t, taskIDs, 1)
	require.NoError(t, tx.Commit(ctx))

	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	picked, err := tx.PickNewTask(ctx, "stats", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, 1, picked.Attempt)
	require.NoError(t, tx.Commit(ctx))

	// A second worker finds nothing while the attempt is live.
	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	other, err := tx.PickNewTask(ctx, "stats", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other)
	require.NoError(t, tx.Rollback(ctx))

	msg := "transient"
	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RecordTaskFailure(ctx, taskIDs[0], &msg))
	require.NoError(t, tx.Commit(ctx))

	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	picked, err = tx.PickNewTask(ctx, "stats", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, 2, picked.Attempt)
	require.NoError(t, tx.Commit(ctx))

	tx, err = backend.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RecordTaskSuccess(ctx, taskIDs[0], nil))
	require.NoError(t, tx.Commit(ctx))

	details, err := backend.GetTaskDetails(ctx, project.ProjectID, taskIDs[0], 10)
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, model.TaskStatusSuccess, details.Task.Status)
	require.Len(t, details.Attempts, 2)
	assert.Equal(t, model.TaskStatusFailed, details.Attempts[1].Status)
}

// TestIntegration_RequireProjectForWarehouse verifies the typed error on a
// missing foreign entity.
func TestIntegration_RequireProjectForWarehouse(t *testing.T) {
	backend := setupBackend(t)
	ctx := context.Background()

	tx, err := backend.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID:            ids.NewProjectID(),
		Name:                 "orphan",
		StorageProfile:       model.StorageProfile{Kind: "s3"},
		TabularDeleteProfile: model.HardDeleteProfile(),
	})
	assert.ErrorIs(t, err, catalogerr.ErrProjectNotFound)
	require.NoError(t, tx.Rollback(ctx))
}
