package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"catalog.evalgo.org/common"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

// expirationPayload is the task payload of one soft-deletion entry.
type expirationPayload struct {
	TabularID   ids.TabularID `json:"tabular-id"`
	WarehouseID ids.WarehouseID `json:"warehouse-id"`
	DeletedAt   time.Time     `json:"deleted-at"`
}

// ScheduleTabularExpiration marks the tabular soft-deleted and enqueues
// its expiration task in one transaction, scheduled for deleted-at plus
// the warehouse's grace period. Cancelling that task later undrops the
// tabular.
func ScheduleTabularExpiration(ctx context.Context, st store.Store, projectID ids.ProjectID, w *model.Warehouse, tabularID ids.TabularID, entityName []string, now time.Time) (*ids.TaskID, error) {
	if w.TabularDeleteProfile.Mode != model.TabularDeleteModeSoft {
		return nil, fmt.Errorf("warehouse %s does not soft-delete tabulars", w.WarehouseID)
	}
	tx, err := st.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.MarkTabularDeleted(ctx, w.WarehouseID, tabularID, now); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(expirationPayload{
		TabularID:   tabularID,
		WarehouseID: w.WarehouseID,
		DeletedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	taskIDs, err := tx.EnqueueTasks(ctx, projectID, []model.EnqueueTask{{
		QueueName: model.QueueTabularExpiration,
		Entity: model.TaskEntity{
			Kind:        model.TaskEntityTabular,
			ProjectID:   projectID,
			WarehouseID: common.Ptr(w.WarehouseID),
			TabularID:   common.Ptr(tabularID),
			EntityName:  entityName,
		},
		ScheduledFor: common.Ptr(now.Add(w.TabularDeleteProfile.Expiration)),
		Payload:      payload,
	}})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if len(taskIDs) == 0 {
		// An expiration for this tabular was already queued; the resubmit
		// was deduplicated.
		return nil, nil
	}
	return &taskIDs[0], nil
}

// NewExpirationHandler builds the TABULAR_EXPIRATION worker handler: it
// hard-drops the soft-deleted tabular once its grace period elapsed.
func NewExpirationHandler(st store.Store, logger *logrus.Logger) Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return HandlerFunc(func(ctx context.Context, task *model.Task) error {
		var payload expirationPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("failed to decode expiration payload: %w", err)
		}
		tx, err := st.BeginWrite(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		tab, err := tx.GetTabular(ctx, payload.WarehouseID, payload.TabularID)
		if err != nil {
			return err
		}
		if tab == nil || !tab.SoftDeleted() {
			// Dropped elsewhere or undropped since: nothing to do.
			logger.WithField("tabular_id", payload.TabularID.String()).
				Debug("expiration target gone or restored, skipping")
			return tx.Commit(ctx)
		}
		if err := tx.DropTabular(ctx, payload.WarehouseID, payload.TabularID, false); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"tabular_id":   payload.TabularID.String(),
			"warehouse_id": payload.WarehouseID.String(),
		}).Info("expired soft-deleted tabular")
		return nil
	})
}
