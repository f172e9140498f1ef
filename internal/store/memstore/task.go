package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

const maxFilterEntries = 100

func (s *Store) GetTask(ctx context.Context, projectID ids.ProjectID, id ids.TaskID) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getTask(projectID, id)
}

func (s *Store) ListTasks(ctx context.Context, projectID ids.ProjectID, filter model.TaskFilter, pageToken string, pageSize int) (model.Page[model.Task], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listTasks(projectID, filter, pageToken, pageSize)
}

func (s *Store) GetTaskDetails(ctx context.Context, projectID ids.ProjectID, id ids.TaskID, numAttempts int) (*model.TaskDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getTaskDetails(s.now(), projectID, id, numAttempts)
}

func (s *Store) ResolveTasks(ctx context.Context, projectID ids.ProjectID, taskIDs []ids.TaskID) (map[ids.TaskID]model.TaskResolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.resolveTasks(projectID, taskIDs)
}

func (s *Store) GetQueueConfig(ctx context.Context, queueName string) (*model.QueueConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getQueueConfig(queueName)
}

func (s *Store) CountTasksPerQueue(ctx context.Context, warehouseID ids.WarehouseID) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.countTasksPerQueue(warehouseID)
}

func (t *readTx) GetTask(ctx context.Context, projectID ids.ProjectID, id ids.TaskID) (*model.Task, error) {
	return t.s.GetTask(ctx, projectID, id)
}

func (t *readTx) ListTasks(ctx context.Context, projectID ids.ProjectID, filter model.TaskFilter, pageToken string, pageSize int) (model.Page[model.Task], error) {
	return t.s.ListTasks(ctx, projectID, filter, pageToken, pageSize)
}

func (t *readTx) GetTaskDetails(ctx context.Context, projectID ids.ProjectID, id ids.TaskID, numAttempts int) (*model.TaskDetails, error) {
	return t.s.GetTaskDetails(ctx, projectID, id, numAttempts)
}

func (t *readTx) ResolveTasks(ctx context.Context, projectID ids.ProjectID, taskIDs []ids.TaskID) (map[ids.TaskID]model.TaskResolution, error) {
	return t.s.ResolveTasks(ctx, projectID, taskIDs)
}

func (t *readTx) GetQueueConfig(ctx context.Context, queueName string) (*model.QueueConfig, error) {
	return t.s.GetQueueConfig(ctx, queueName)
}

func (t *readTx) CountTasksPerQueue(ctx context.Context, warehouseID ids.WarehouseID) (map[string]int, error) {
	return t.s.CountTasksPerQueue(ctx, warehouseID)
}

func (t *writeTx) GetTask(ctx context.Context, projectID ids.ProjectID, id ids.TaskID) (*model.Task, error) {
	return t.s.st.getTask(projectID, id)
}

func (t *writeTx) ListTasks(ctx context.Context, projectID ids.ProjectID, filter model.TaskFilter, pageToken string, pageSize int) (model.Page[model.Task], error) {
	return t.s.st.listTasks(projectID, filter, pageToken, pageSize)
}

func (t *writeTx) GetTaskDetails(ctx context.Context, projectID ids.ProjectID, id ids.TaskID, numAttempts int) (*model.TaskDetails, error) {
	return t.s.st.getTaskDetails(t.s.now(), projectID, id, numAttempts)
}

func (t *writeTx) ResolveTasks(ctx context.Context, projectID ids.ProjectID, taskIDs []ids.TaskID) (map[ids.TaskID]model.TaskResolution, error) {
	return t.s.st.resolveTasks(projectID, taskIDs)
}

func (t *writeTx) GetQueueConfig(ctx context.Context, queueName string) (*model.QueueConfig, error) {
	return t.s.st.getQueueConfig(queueName)
}

func (t *writeTx) CountTasksPerQueue(ctx context.Context, warehouseID ids.WarehouseID) (map[string]int, error) {
	return t.s.st.countTasksPerQueue(warehouseID)
}

func (t *writeTx) EnqueueTasks(ctx context.Context, projectID ids.ProjectID, tasks []model.EnqueueTask) ([]ids.TaskID, error) {
	return t.s.st.enqueueTasks(t.s.now(), projectID, tasks)
}

func (t *writeTx) PickNewTask(ctx context.Context, queueName string, maxSinceHeartbeat time.Duration) (*model.Task, error) {
	return t.s.st.pickNewTask(t.s.now(), queueName, maxSinceHeartbeat)
}

func (t *writeTx) CheckAndHeartbeatTask(ctx context.Context, id ids.TaskID, progress float64, executionDetails json.RawMessage) (model.TaskCheckState, error) {
	return t.s.st.checkAndHeartbeatTask(t.s.now(), id, progress, executionDetails)
}

func (t *writeTx) RecordTaskSuccess(ctx context.Context, id ids.TaskID, message *string) error {
	return t.s.st.recordTaskOutcome(t.s.now(), id, model.TaskStatusSuccess, message)
}

func (t *writeTx) RecordTaskFailure(ctx context.Context, id ids.TaskID, message *string) error {
	return t.s.st.recordTaskOutcome(t.s.now(), id, model.TaskStatusFailed, message)
}

func (t *writeTx) StopTasks(ctx context.Context, taskIDs []ids.TaskID) error {
	return t.s.st.stopTasks(taskIDs)
}

func (t *writeTx) RunTasksAt(ctx context.Context, taskIDs []ids.TaskID, at *time.Time) error {
	return t.s.st.runTasksAt(t.s.now(), taskIDs, at)
}

func (t *writeTx) CancelScheduledTasks(ctx context.Context, taskIDs []ids.TaskID, force bool) ([]model.Task, error) {
	return t.s.st.cancelScheduledTasks(t.s.now(), taskIDs, force)
}

func (t *writeTx) SetQueueConfig(ctx context.Context, cfg model.QueueConfig) error {
	c := cfg
	t.s.st.queueConfigs[cfg.QueueName] = &c
	return nil
}

func (s *state) getTask(projectID ids.ProjectID, id ids.TaskID) (*model.Task, error) {
	task, ok := s.tasks[id]
	if !ok || task.ProjectID != projectID {
		return nil, nil
	}
	return copyTask(task), nil
}

func (s *state) getQueueConfig(queueName string) (*model.QueueConfig, error) {
	cfg, ok := s.queueConfigs[queueName]
	if !ok {
		return nil, nil
	}
	c := *cfg
	return &c, nil
}

func (s *state) countTasksPerQueue(warehouseID ids.WarehouseID) (map[string]int, error) {
	counts := map[string]int{}
	for _, task := range s.tasks {
		if task.Status.Terminal() {
			continue
		}
		if task.WarehouseID != nil && *task.WarehouseID == warehouseID {
			counts[task.QueueName]++
		}
	}
	return counts, nil
}

func (s *state) enqueueTasks(now time.Time, projectID ids.ProjectID, tasks []model.EnqueueTask) ([]ids.TaskID, error) {
	live := map[string]bool{}
	for _, existing := range s.tasks {
		if !existing.Status.Terminal() {
			live[existing.QueueName+"\x1f"+existing.Entity.DedupKey()] = true
		}
	}
	var out []ids.TaskID
	for _, in := range tasks {
		key := in.QueueName + "\x1f" + in.Entity.DedupKey()
		if live[key] {
			continue
		}
		live[key] = true
		scheduledFor := now
		if in.ScheduledFor != nil {
			scheduledFor = *in.ScheduledFor
		}
		maxRetries := in.MaxRetries
		if maxRetries == 0 {
			if cfg, ok := s.queueConfigs[in.QueueName]; ok {
				maxRetries = cfg.MaxRetries
			}
		}
		task := model.Task{
			TaskID:       ids.NewTaskID(),
			QueueName:    in.QueueName,
			ProjectID:    projectID,
			WarehouseID:  in.Entity.WarehouseID,
			Entity:       in.Entity,
			ParentTaskID: in.ParentTaskID,
			ScheduledFor: scheduledFor,
			Status:       model.TaskStatusScheduled,
			Attempt:      0,
			MaxRetries:   maxRetries,
			CreatedAt:    now,
			Payload:      append(json.RawMessage(nil), in.Payload...),
		}
		s.tasks[task.TaskID] = copyTask(&task)
		out = append(out, task.TaskID)
	}
	return out, nil
}

func (s *state) pickNewTask(now time.Time, queueName string, maxSinceHeartbeat time.Duration) (*model.Task, error) {
	var pick *model.Task
	for _, task := range s.tasks {
		if task.QueueName != queueName {
			continue
		}
		due := task.Status == model.TaskStatusScheduled && !task.ScheduledFor.After(now)
		stale := task.Status == model.TaskStatusRunning &&
			task.LastHeartbeatAt != nil && task.LastHeartbeatAt.Before(now.Add(-maxSinceHeartbeat))
		if !due && !stale {
			continue
		}
		if pick == nil || task.ScheduledFor.Before(pick.ScheduledFor) {
			pick = task
		}
	}
	if pick == nil {
		return nil, nil
	}
	if pick.Status == model.TaskStatusRunning {
		// Reclaimed attempt: log the silent one as failed before handing
		// the task to the next worker.
		msg := "heartbeat expired"
		s.appendTaskLog(now, pick, model.TaskStatusFailed, &msg)
	}
	pick.Status = model.TaskStatusRunning
	pick.Attempt++
	pick.Progress = 0
	pick.PickedUpAt = timePtr(now)
	pick.LastHeartbeatAt = timePtr(now)
	pick.UpdatedAt = timePtr(now)
	return copyTask(pick), nil
}

func (s *state) checkAndHeartbeatTask(now time.Time, id ids.TaskID, progress float64, executionDetails json.RawMessage) (model.TaskCheckState, error) {
	task, ok := s.tasks[id]
	if !ok {
		return model.TaskCheckShouldStop, catalogerr.ErrTaskNotFound
	}
	switch task.Status {
	case model.TaskStatusRunning, model.TaskStatusStopping:
		task.LastHeartbeatAt = timePtr(now)
		task.Progress = progress
		if executionDetails != nil {
			task.ExecutionDetails = append(json.RawMessage(nil), executionDetails...)
		}
		task.UpdatedAt = timePtr(now)
		if task.Status == model.TaskStatusStopping {
			return model.TaskCheckShouldStop, nil
		}
		return model.TaskCheckContinue, nil
	default:
		return model.TaskCheckShouldStop, nil
	}
}

func (s *state) recordTaskOutcome(now time.Time, id ids.TaskID, outcome model.TaskStatus, message *string) error {
	task, ok := s.tasks[id]
	if !ok {
		return catalogerr.ErrTaskNotFound
	}
	if task.Status != model.TaskStatusRunning && task.Status != model.TaskStatusStopping {
		return catalogerr.ErrTaskNotFound
	}
	s.appendTaskLog(now, task, outcome, message)
	if outcome == model.TaskStatusFailed && task.Attempt <= task.MaxRetries {
		// Retries remain: the same task id goes back on the queue for the
		// next attempt.
		task.Status = model.TaskStatusScheduled
		task.ScheduledFor = now
		task.PickedUpAt = nil
		task.LastHeartbeatAt = nil
		task.Progress = 0
		task.UpdatedAt = timePtr(now)
		return nil
	}
	task.Status = outcome
	if outcome == model.TaskStatusSuccess {
		task.Progress = 1
	}
	task.UpdatedAt = timePtr(now)
	return nil
}

func (s *state) appendTaskLog(now time.Time, task *model.Task, status model.TaskStatus, message *string) {
	entry := model.TaskLogEntry{
		TaskID:           task.TaskID,
		Attempt:          task.Attempt,
		Status:           status,
		QueueName:        task.QueueName,
		ProjectID:        task.ProjectID,
		WarehouseID:      task.WarehouseID,
		Entity:           task.Entity,
		ScheduledFor:     task.ScheduledFor,
		StartedAt:        task.PickedUpAt,
		Message:          message,
		Progress:         task.Progress,
		Payload:          append(json.RawMessage(nil), task.Payload...),
		ExecutionDetails: append(json.RawMessage(nil), task.ExecutionDetails...),
		CreatedAt:        now,
	}
	if task.PickedUpAt != nil {
		d := now.Sub(*task.PickedUpAt)
		entry.Duration = &d
	}
	s.taskLog = append(s.taskLog, entry)
}

func (s *state) stopTasks(taskIDs []ids.TaskID) error {
	for _, id := range taskIDs {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		if task.Status == model.TaskStatusRunning {
			task.Status = model.TaskStatusStopping
		}
	}
	return nil
}

func (s *state) runTasksAt(now time.Time, taskIDs []ids.TaskID, at *time.Time) error {
	when := now
	if at != nil {
		when = *at
	}
	for _, id := range taskIDs {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		if task.Status == model.TaskStatusScheduled || task.Status == model.TaskStatusStopping {
			task.Status = model.TaskStatusScheduled
			task.ScheduledFor = when
			task.PickedUpAt = nil
			task.LastHeartbeatAt = nil
			task.UpdatedAt = timePtr(now)
		}
	}
	return nil
}

func (s *state) cancelScheduledTasks(now time.Time, taskIDs []ids.TaskID, force bool) ([]model.Task, error) {
	var cancelled []model.Task
	for _, id := range taskIDs {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		cancellable := task.Status == model.TaskStatusScheduled ||
			(force && (task.Status == model.TaskStatusRunning || task.Status == model.TaskStatusStopping))
		if !cancellable {
			continue
		}
		task.Status = model.TaskStatusCancelled
		task.UpdatedAt = timePtr(now)
		s.appendTaskLog(now, task, model.TaskStatusCancelled, nil)
		// Cancelling an expiration task undrops its target in the same
		// transaction.
		if task.QueueName == model.QueueTabularExpiration &&
			task.Entity.Kind == model.TaskEntityTabular && task.Entity.TabularID != nil {
			if tab, ok := s.tabulars[task.Entity.TabularID.UUID()]; ok && tab.DeletedAt != nil {
				tab.DeletedAt = nil
				tab.UpdatedAt = timePtr(now)
			}
		}
		cancelled = append(cancelled, *copyTask(task))
	}
	return cancelled, nil
}

func (s *state) listTasks(projectID ids.ProjectID, filter model.TaskFilter, pageToken string, pageSize int) (model.Page[model.Task], error) {
	if len(filter.Entities) > maxFilterEntries {
		return model.Page[model.Task]{}, &catalogerr.TooManyEntriesInFilter{Field: "entities", Count: len(filter.Entities), Max: maxFilterEntries}
	}
	if len(filter.QueueNames) > maxFilterEntries {
		return model.Page[model.Task]{}, &catalogerr.TooManyEntriesInFilter{Field: "queue_name", Count: len(filter.QueueNames), Max: maxFilterEntries}
	}
	// A filter array that is present but empty selects nothing.
	if (filter.Statuses != nil && len(filter.Statuses) == 0) ||
		(filter.QueueNames != nil && len(filter.QueueNames) == 0) ||
		(filter.Entities != nil && len(filter.Entities) == 0) {
		return model.Page[model.Task]{}, nil
	}

	var all []model.Task
	for _, task := range s.tasks {
		if task.ProjectID != projectID {
			continue
		}
		if filter.Statuses != nil && !statusIn(task.Status, filter.Statuses) {
			continue
		}
		if filter.QueueNames != nil && !stringIn(task.QueueName, filter.QueueNames) {
			continue
		}
		if filter.Entities != nil && !entityIn(task.Entity, filter.Entities) {
			continue
		}
		if filter.CreatedAfter != nil && !task.CreatedAt.After(*filter.CreatedAfter) {
			continue
		}
		if filter.CreatedBefore != nil && !task.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		all = append(all, *copyTask(task))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].TaskID.String() < all[j].TaskID.String()
	})

	start := 0
	if pageToken != "" {
		token, err := model.DecodePageToken(pageToken)
		if err != nil {
			return model.Page[model.Task]{}, err
		}
		for i, task := range all {
			after := task.CreatedAt.After(token.CreatedAt) ||
				(task.CreatedAt.Equal(token.CreatedAt) && task.TaskID.String() > token.ID.String())
			if after {
				start = i
				break
			}
			start = i + 1
		}
	}
	all = all[start:]

	if pageSize <= 0 {
		pageSize = 100
	}
	page := model.Page[model.Task]{}
	if len(all) > pageSize {
		all = all[:pageSize]
	}
	page.Items = all
	if len(all) == pageSize {
		last := all[len(all)-1]
		page.NextPageToken = model.PageToken{CreatedAt: last.CreatedAt, ID: uuid.UUID(last.TaskID)}.Encode()
	}
	return page, nil
}

func (s *state) getTaskDetails(now time.Time, projectID ids.ProjectID, id ids.TaskID, numAttempts int) (*model.TaskDetails, error) {
	task, ok := s.tasks[id]
	if !ok || task.ProjectID != projectID {
		return nil, nil
	}
	details := model.TaskDetails{Task: *copyTask(task)}

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
			d := now.Sub(*task.PickedUpAt)
			headline.Duration = &d
		}
	default:
		// Terminal headline: duration and message come from the logged
		// attempt.
		for i := len(s.taskLog) - 1; i >= 0; i-- {
			e := s.taskLog[i]
			if e.TaskID == id && e.Attempt == task.Attempt {
				headline.Duration = e.Duration
				headline.Message = e.Message
				break
			}
		}
	}
	details.Attempts = append(details.Attempts, headline)

	var prior []model.TaskAttemptView
	for _, e := range s.taskLog {
		if e.TaskID != id || e.Attempt >= task.Attempt {
			continue
		}
		prior = append(prior, model.TaskAttemptView{
			Attempt:          e.Attempt,
			Status:           e.Status,
			ScheduledFor:     e.ScheduledFor,
			StartedAt:        e.StartedAt,
			Duration:         e.Duration,
			Progress:         e.Progress,
			Message:          e.Message,
			ExecutionDetails: e.ExecutionDetails,
		})
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].Attempt > prior[j].Attempt })
	if numAttempts > 0 && len(prior) > numAttempts {
		prior = prior[:numAttempts]
	}
	details.Attempts = append(details.Attempts, prior...)
	return &details, nil
}

func (s *state) resolveTasks(projectID ids.ProjectID, taskIDs []ids.TaskID) (map[ids.TaskID]model.TaskResolution, error) {
	out := make(map[ids.TaskID]model.TaskResolution, len(taskIDs))
	for _, id := range taskIDs {
		if task, ok := s.tasks[id]; ok && task.ProjectID == projectID {
			out[id] = model.TaskResolution{Entity: task.Entity, QueueName: task.QueueName}
			continue
		}
		// Fall back to the most recent logged attempt.
		best := -1
		for i := range s.taskLog {
			e := &s.taskLog[i]
			if e.TaskID != id || e.ProjectID != projectID {
				continue
			}
			if best < 0 || e.Attempt > s.taskLog[best].Attempt {
				best = i
			}
		}
		if best >= 0 {
			out[id] = model.TaskResolution{Entity: s.taskLog[best].Entity, QueueName: s.taskLog[best].QueueName}
		}
	}
	return out, nil
}

func statusIn(s model.TaskStatus, list []model.TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func stringIn(s string, list []string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func entityIn(e model.TaskEntity, list []model.TaskEntity) bool {
	for _, v := range list {
		if v.DedupKey() == e.DedupKey() {
			return true
		}
	}
	return false
}
