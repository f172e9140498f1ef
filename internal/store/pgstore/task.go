package pgstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

const maxFilterEntries = 100

var terminalStatuses = []string{
	string(model.TaskStatusCancelled),
	string(model.TaskStatusSuccess),
	string(model.TaskStatusFailed),
}

func (o ops) GetTask(ctx context.Context, projectID ids.ProjectID, id ids.TaskID) (*model.Task, error) {
	var r taskRow
	res := o.db.WithContext(ctx).
		Where("task_id = ? AND project_id = ?", uuid.UUID(id), uuid.UUID(projectID)).
		Limit(1).Find(&r)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return taskFromRow(&r)
}

func (o ops) ListTasks(ctx context.Context, projectID ids.ProjectID, filter model.TaskFilter, pageToken string, pageSize int) (model.Page[model.Task], error) {
	if len(filter.Entities) > maxFilterEntries {
		return model.Page[model.Task]{}, &catalogerr.TooManyEntriesInFilter{Field: "entities", Count: len(filter.Entities), Max: maxFilterEntries}
	}
	if len(filter.QueueNames) > maxFilterEntries {
		return model.Page[model.Task]{}, &catalogerr.TooManyEntriesInFilter{Field: "queue_name", Count: len(filter.QueueNames), Max: maxFilterEntries}
	}
	if (filter.Statuses != nil && len(filter.Statuses) == 0) ||
		(filter.QueueNames != nil && len(filter.QueueNames) == 0) ||
		(filter.Entities != nil && len(filter.Entities) == 0) {
		return model.Page[model.Task]{}, nil
	}

	db := o.db.WithContext(ctx).Where("project_id = ?", uuid.UUID(projectID))
	if filter.Statuses != nil {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		db = db.Where("status IN ?", statuses)
	}
	if filter.QueueNames != nil {
		db = db.Where("queue_name IN ?", filter.QueueNames)
	}
	if filter.Entities != nil {
		var conds []string
		var args []any
		for _, e := range filter.Entities {
			entityType, entityID, _, err := entityToColumns(e)
			if err != nil {
				return model.Page[model.Task]{}, err
			}
			var warehouseID *uuid.UUID
			if e.WarehouseID != nil {
				v := uuid.UUID(*e.WarehouseID)
				warehouseID = &v
			}
			conds = append(conds, "(entity_type = ? AND entity_id IS NOT DISTINCT FROM ? AND warehouse_id IS NOT DISTINCT FROM ?)")
			args = append(args, entityType, entityID, warehouseID)
		}
		db = db.Where(strings.Join(conds, " OR "), args...)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	if pageToken != "" {
		token, err := model.DecodePageToken(pageToken)
		if err != nil {
			return model.Page[model.Task]{}, err
		}
		db = db.Where("(created_at, task_id) > (?, ?)", token.CreatedAt, token.ID)
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	var rows []taskRow
	if err := db.Order("created_at, task_id").Limit(pageSize).Find(&rows).Error; err != nil {
		return model.Page[model.Task]{}, err
	}
	page := model.Page[model.Task]{Items: make([]model.Task, 0, len(rows))}
	for i := range rows {
		task, err := taskFromRow(&rows[i])
		if err != nil {
			return model.Page[model.Task]{}, err
		}
		page.Items = append(page.Items, *task)
	}
	if len(rows) == pageSize {
		last := rows[len(rows)-1]
		page.NextPageToken = model.PageToken{CreatedAt: last.CreatedAt, ID: last.TaskID}.Encode()
	}
	return page, nil
}

func (o ops) GetTaskDetails(ctx context.Context, projectID ids.ProjectID, id ids.TaskID, numAttempts int) (*model.TaskDetails, error) {
	task, err := o.GetTask(ctx, projectID, id)
	if err != nil || task == nil {
		return nil, err
	}
	details := model.TaskDetails{Task: *task}

	headline := model.TaskAttemptView{
		Attempt:          task.Attempt,
		Status:           task.Status,
		ScheduledFor:     task.ScheduledFor,
		StartedAt:        task.PickedUpAt,
		Progress:         task.Progress,
		ExecutionDetails: task.ExecutionDetails,
	}
	switch task.Status {
	case model.TaskStatusRunning, model.TaskStatusStopping:
		if task.PickedUpAt != nil {
			d := o.clock().Sub(*task.PickedUpAt)
			headline.Duration = &d
		}
	default:
		var logEntry taskLogRow
		res := o.db.WithContext(ctx).
			Where("task_id = ? AND attempt = ?", uuid.UUID(id), task.Attempt).
			Order("id DESC").Limit(1).Find(&logEntry)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			if logEntry.DurationMs != nil {
				d := time.Duration(*logEntry.DurationMs) * time.Millisecond
				headline.Duration = &d
			}
			headline.Message = logEntry.Message
		}
	}
	details.Attempts = append(details.Attempts, headline)

	db := o.db.WithContext(ctx).
		Where("task_id = ? AND attempt < ?", uuid.UUID(id), task.Attempt).
		Order("attempt DESC")
	if numAttempts > 0 {
		db = db.Limit(numAttempts)
	}
	var logRows []taskLogRow
	if err := db.Find(&logRows).Error; err != nil {
		return nil, err
	}
	for _, r := range logRows {
		view := model.TaskAttemptView{
			Attempt:      r.Attempt,
			Status:       model.TaskStatus(r.Status),
			ScheduledFor: r.ScheduledFor,
			StartedAt:    r.StartedAt,
			Progress:     r.Progress,
			Message:      r.Message,
		}
		if r.DurationMs != nil {
			d := time.Duration(*r.DurationMs) * time.Millisecond
			view.Duration = &d
		}
		if r.ExecutionDetails != nil {
			view.ExecutionDetails = json.RawMessage(*r.ExecutionDetails)
		}
		details.Attempts = append(details.Attempts, view)
	}
	return &details, nil
}

func (o ops) ResolveTasks(ctx context.Context, projectID ids.ProjectID, taskIDs []ids.TaskID) (map[ids.TaskID]model.TaskResolution, error) {
	out := make(map[ids.TaskID]model.TaskResolution, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}
	raw := make([]uuid.UUID, 0, len(taskIDs))
	for _, id := range taskIDs {
		raw = append(raw, uuid.UUID(id))
	}

	var live []taskRow
	if err := o.db.WithContext(ctx).
		Where("task_id IN ? AND project_id = ?", raw, uuid.UUID(projectID)).
		Find(&live).Error; err != nil {
		return nil, err
	}
	for i := range live {
		entity, err := entityFromColumns(live[i].ProjectID, live[i].WarehouseID, live[i].EntityType, live[i].EntityID, live[i].EntityName)
		if err != nil {
			return nil, err
		}
		out[ids.TaskID(live[i].TaskID)] = model.TaskResolution{Entity: entity, QueueName: live[i].QueueName}
	}

	// Ids without a live row fall back to the most recent logged attempt.
	var logged []taskLogRow
	if err := o.db.WithContext(ctx).
		Where("task_id IN ? AND project_id = ?", raw, uuid.UUID(projectID)).
		Order("task_id, attempt DESC").
		Find(&logged).Error; err != nil {
		return nil, err
	}
	for i := range logged {
		id := ids.TaskID(logged[i].TaskID)
		if _, ok := out[id]; ok {
			continue
		}
		entity, err := entityFromColumns(logged[i].ProjectID, logged[i].WarehouseID, logged[i].EntityType, logged[i].EntityID, logged[i].EntityName)
		if err != nil {
			return nil, err
		}
		out[id] = model.TaskResolution{Entity: entity, QueueName: logged[i].QueueName}
	}
	return out, nil
}

func (o ops) GetQueueConfig(ctx context.Context, queueName string) (*model.QueueConfig, error) {
	var r queueConfigRow
	res := o.db.WithContext(ctx).Where("queue_name = ?", queueName).Limit(1).Find(&r)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &model.QueueConfig{
		QueueName:                 r.QueueName,
		MaxRetries:                r.MaxRetries,
		MaxTimeSinceLastHeartbeat: time.Duration(r.MaxTimeSinceLastHeartbeatMs) * time.Millisecond,
	}, nil
}

func (o ops) CountTasksPerQueue(ctx context.Context, warehouseID ids.WarehouseID) (map[string]int, error) {
	type queueCount struct {
		QueueName string
		N         int
	}
	var rows []queueCount
	err := o.db.WithContext(ctx).Model(&taskRow{}).
		Select("queue_name, COUNT(*) AS n").
		Where("warehouse_id = ? AND status NOT IN ?", uuid.UUID(warehouseID), terminalStatuses).
		Group("queue_name").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.QueueName] = r.N
	}
	return out, nil
}

func (o ops) EnqueueTasks(ctx context.Context, projectID ids.ProjectID, tasks []model.EnqueueTask) ([]ids.TaskID, error) {
	db := o.db.WithContext(ctx)
	var out []ids.TaskID
	for _, in := range tasks {
		entityType, entityID, entityName, err := entityToColumns(in.Entity)
		if err != nil {
			return nil, err
		}
		var warehouseID *uuid.UUID
		if in.Entity.WarehouseID != nil {
			v := uuid.UUID(*in.Entity.WarehouseID)
			warehouseID = &v
		}

		// Idempotence: an entity already queued (non-terminal) in this
		// queue swallows the resubmit.
		var dupes int64
		if err := db.Model(&taskRow{}).
			Where("queue_name = ? AND entity_type = ? AND entity_id IS NOT DISTINCT FROM ? AND warehouse_id IS NOT DISTINCT FROM ? AND status NOT IN ?",
				in.QueueName, entityType, entityID, warehouseID, terminalStatuses).
			Count(&dupes).Error; err != nil {
			return nil, err
		}
		if dupes > 0 {
			continue
		}

		now := o.clock()
		scheduledFor := now
		if in.ScheduledFor != nil {
			scheduledFor = *in.ScheduledFor
		}
		maxRetries := in.MaxRetries
		if maxRetries == 0 {
			if cfg, err := o.GetQueueConfig(ctx, in.QueueName); err == nil && cfg != nil {
				maxRetries = cfg.MaxRetries
			}
		}
		row := taskRow{
			TaskID:       uuid.UUID(ids.NewTaskID()),
			QueueName:    in.QueueName,
			ProjectID:    uuid.UUID(projectID),
			WarehouseID:  warehouseID,
			EntityType:   entityType,
			EntityID:     entityID,
			EntityName:   entityName,
			Status:       string(model.TaskStatusScheduled),
			Attempt:      0,
			MaxRetries:   maxRetries,
			ScheduledFor: scheduledFor,
			CreatedAt:    now,
			TaskData:     string(in.Payload),
		}
		if row.TaskData == "" {
			row.TaskData = "{}"
		}
		if in.ParentTaskID != nil {
			pid := uuid.UUID(*in.ParentTaskID)
			row.ParentTaskID = &pid
		}
		if err := db.Create(&row).Error; err != nil {
			return nil, mapConstraintError(err)
		}
		out = append(out, ids.TaskID(row.TaskID))
	}
	return out, nil
}

// PickNewTask claims the oldest due task of the queue under
// FOR UPDATE SKIP LOCKED, so concurrent workers never observe the same
// attempt. A running task whose heartbeat went silent past the window is
// reclaimed the same way, its dead attempt logged as failed first.
func (o ops) PickNewTask(ctx context.Context, queueName string, maxSinceHeartbeat time.Duration) (*model.Task, error) {
	db := o.db.WithContext(ctx)
	now := o.clock()
	cutoff := now.Add(-maxSinceHeartbeat)

	var rows []taskRow
	err := db.Raw(
		`SELECT * FROM task
		 WHERE queue_name = ?
		   AND ((status = ? AND scheduled_for <= ?) OR (status = ? AND last_heartbeat_at < ?))
		 ORDER BY scheduled_for
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		queueName, string(model.TaskStatusScheduled), now, string(model.TaskStatusRunning), cutoff,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]

	if r.Status == string(model.TaskStatusRunning) {
		msg := "heartbeat expired"
		if err := o.appendTaskLog(ctx, &r, model.TaskStatusFailed, &msg, now); err != nil {
			return nil, err
		}
	}

	r.Status = string(model.TaskStatusRunning)
	r.Attempt++
	r.Progress = 0
	r.PickedUpAt = &now
	r.LastHeartbeatAt = &now
	r.UpdatedAt = &now
	if err := db.Save(&r).Error; err != nil {
		return nil, err
	}
	return taskFromRow(&r)
}

func (o ops) CheckAndHeartbeatTask(ctx context.Context, id ids.TaskID, progress float64, executionDetails json.RawMessage) (model.TaskCheckState, error) {
	db := o.db.WithContext(ctx)
	var r taskRow
	res := db.Where("task_id = ?", uuid.UUID(id)).Limit(1).Find(&r)
	if res.Error != nil {
		return model.TaskCheckShouldStop, res.Error
	}
	if res.RowsAffected == 0 {
		return model.TaskCheckShouldStop, catalogerr.ErrTaskNotFound
	}
	switch model.TaskStatus(r.Status) {
	case model.TaskStatusRunning, model.TaskStatusStopping:
		now := o.clock()
		update := map[string]any{
			"last_heartbeat_at": now,
			"progress":          progress,
			"updated_at":        now,
		}
		if executionDetails != nil {
			update["execution_details"] = string(executionDetails)
		}
		if err := db.Model(&taskRow{}).Where("task_id = ?", uuid.UUID(id)).Updates(update).Error; err != nil {
			return model.TaskCheckShouldStop, err
		}
		if model.TaskStatus(r.Status) == model.TaskStatusStopping {
			return model.TaskCheckShouldStop, nil
		}
		return model.TaskCheckContinue, nil
	default:
		return model.TaskCheckShouldStop, nil
	}
}

func (o ops) RecordTaskSuccess(ctx context.Context, id ids.TaskID, message *string) error {
	return o.recordTaskOutcome(ctx, id, model.TaskStatusSuccess, message)
}

func (o ops) RecordTaskFailure(ctx context.Context, id ids.TaskID, message *string) error {
	return o.recordTaskOutcome(ctx, id, model.TaskStatusFailed, message)
}

func (o ops) recordTaskOutcome(ctx context.Context, id ids.TaskID, outcome model.TaskStatus, message *string) error {
	db := o.db.WithContext(ctx)
	var rows []taskRow
	err := db.Raw(`SELECT * FROM task WHERE task_id = ? AND status IN (?, ?) FOR UPDATE`,
		uuid.UUID(id), string(model.TaskStatusRunning), string(model.TaskStatusStopping)).Scan(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return catalogerr.ErrTaskNotFound
	}
	r := rows[0]
	now := o.clock()
	if err := o.appendTaskLog(ctx, &r, outcome, message, now); err != nil {
		return err
	}
	if outcome == model.TaskStatusFailed && r.Attempt <= r.MaxRetries {
		r.Status = string(model.TaskStatusScheduled)
		r.ScheduledFor = now
		r.PickedUpAt = nil
		r.LastHeartbeatAt = nil
		r.Progress = 0
		r.UpdatedAt = &now
		return db.Save(&r).Error
	}
	r.Status = string(outcome)
	if outcome == model.TaskStatusSuccess {
		r.Progress = 1
	}
	r.UpdatedAt = &now
	return db.Save(&r).Error
}

func (o ops) appendTaskLog(ctx context.Context, r *taskRow, status model.TaskStatus, message *string, now time.Time) error {
	entry := taskLogRow{
		TaskID:           r.TaskID,
		Attempt:          r.Attempt,
		Status:           string(status),
		QueueName:        r.QueueName,
		ProjectID:        r.ProjectID,
		WarehouseID:      r.WarehouseID,
		EntityType:       r.EntityType,
		EntityID:         r.EntityID,
		EntityName:       r.EntityName,
		ScheduledFor:     r.ScheduledFor,
		StartedAt:        r.PickedUpAt,
		Message:          message,
		Progress:         r.Progress,
		TaskData:         r.TaskData,
		ExecutionDetails: r.ExecutionDetails,
		CreatedAt:        now,
	}
	if r.PickedUpAt != nil {
		ms := now.Sub(*r.PickedUpAt).Milliseconds()
		entry.DurationMs = &ms
	}
	return o.db.WithContext(ctx).Create(&entry).Error
}

func (o ops) StopTasks(ctx context.Context, taskIDs []ids.TaskID) error {
	if len(taskIDs) == 0 {
		return nil
	}
	raw := make([]uuid.UUID, 0, len(taskIDs))
	for _, id := range taskIDs {
		raw = append(raw, uuid.UUID(id))
	}
	return o.db.WithContext(ctx).Model(&taskRow{}).
		Where("task_id IN ? AND status = ?", raw, string(model.TaskStatusRunning)).
		Updates(map[string]any{"status": string(model.TaskStatusStopping), "updated_at": o.clock()}).Error
}

func (o ops) RunTasksAt(ctx context.Context, taskIDs []ids.TaskID, at *time.Time) error {
	if len(taskIDs) == 0 {
		return nil
	}
	now := o.clock()
	when := now
	if at != nil {
		when = *at
	}
	raw := make([]uuid.UUID, 0, len(taskIDs))
	for _, id := range taskIDs {
		raw = append(raw, uuid.UUID(id))
	}
	return o.db.WithContext(ctx).Model(&taskRow{}).
		Where("task_id IN ? AND status IN (?, ?)", raw, string(model.TaskStatusScheduled), string(model.TaskStatusStopping)).
		Updates(map[string]any{
			"status":            string(model.TaskStatusScheduled),
			"scheduled_for":     when,
			"picked_up_at":      nil,
			"last_heartbeat_at": nil,
			"updated_at":        now,
		}).Error
}

func (o ops) CancelScheduledTasks(ctx context.Context, taskIDs []ids.TaskID, force bool) ([]model.Task, error) {
	db := o.db.WithContext(ctx)
	if len(taskIDs) == 0 {
		return nil, nil
	}
	raw := make([]uuid.UUID, 0, len(taskIDs))
	for _, id := range taskIDs {
		raw = append(raw, uuid.UUID(id))
	}
	cancellable := []string{string(model.TaskStatusScheduled)}
	if force {
		cancellable = append(cancellable, string(model.TaskStatusRunning), string(model.TaskStatusStopping))
	}
	var rows []taskRow
	err := db.Raw(`SELECT * FROM task WHERE task_id IN ? AND status IN ? FOR UPDATE`, raw, cancellable).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	now := o.clock()
	var cancelled []model.Task
	for i := range rows {
		r := &rows[i]
		r.Status = string(model.TaskStatusCancelled)
		r.UpdatedAt = &now
		if err := db.Save(r).Error; err != nil {
			return nil, err
		}
		if err := o.appendTaskLog(ctx, r, model.TaskStatusCancelled, nil, now); err != nil {
			return nil, err
		}
		// Cancelling an expiration task undrops its target in the same
		// transaction.
		if r.QueueName == model.QueueTabularExpiration && r.EntityID != nil {
			err := db.Model(&tabularRow{}).
				Where("tabular_id = ? AND deleted_at IS NOT NULL", *r.EntityID).
				Updates(map[string]any{"deleted_at": nil, "updated_at": now}).Error
			if err != nil {
				return nil, err
			}
		}
		task, err := taskFromRow(r)
		if err != nil {
			return nil, err
		}
		cancelled = append(cancelled, *task)
	}
	return cancelled, nil
}

func (o ops) SetQueueConfig(ctx context.Context, cfg model.QueueConfig) error {
	row := queueConfigRow{
		QueueName:                   cfg.QueueName,
		MaxRetries:                  cfg.MaxRetries,
		MaxTimeSinceLastHeartbeatMs: cfg.MaxTimeSinceLastHeartbeat.Milliseconds(),
	}
	return o.db.WithContext(ctx).Save(&row).Error
}
