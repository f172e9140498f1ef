// Package tasks is the task orchestrator: a persistent, warehouse-scoped
// job system over the catalog store's task tables. Workers pick due
// attempts under single-worker semantics, heartbeat while running, and
// record success or failure; failures with retries left reschedule the
// same task id as the next attempt. Stop, cancel, and reschedule controls
// address tasks externally; the details view joins the live attempt with
// the historical log.
package tasks

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

// DefaultMaxTimeSinceLastHeartbeat governs attempt reclamation for queues
// without an explicit configuration.
const DefaultMaxTimeSinceLastHeartbeat = 5 * time.Minute

// Service is the task orchestrator.
type Service struct {
	store  store.Store
	logger *logrus.Logger
}

// New wires the orchestrator.
func New(st store.Store, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: st, logger: logger}
}

// EnqueueBatch inserts tasks, deduplicating on (entity, queue) among
// non-terminal tasks. The returned ids may be fewer than the inputs;
// resubmits are silently dropped.
func (s *Service) EnqueueBatch(ctx context.Context, projectID ids.ProjectID, tasks []model.EnqueueTask) ([]ids.TaskID, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	out, err := tx.EnqueueTasks(ctx, projectID, tasks)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// PickNewTask claims the next due attempt of the queue. Transient backend
// failures are retried once; every other error propagates.
func (s *Service) PickNewTask(ctx context.Context, queueName string) (*model.Task, error) {
	maxSince := DefaultMaxTimeSinceLastHeartbeat
	if cfg, err := s.store.GetQueueConfig(ctx, queueName); err == nil && cfg != nil && cfg.MaxTimeSinceLastHeartbeat > 0 {
		maxSince = cfg.MaxTimeSinceLastHeartbeat
	}

	task, err := s.pickOnce(ctx, queueName, maxSince)
	if err != nil && isTransient(err) {
		s.logger.WithError(err).Debug("transient failure during task pick, retrying once")
		task, err = s.pickOnce(ctx, queueName, maxSince)
	}
	return task, err
}

func (s *Service) pickOnce(ctx context.Context, queueName string, maxSince time.Duration) (*model.Task, error) {
	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	task, err := tx.PickNewTask(ctx, queueName, maxSince)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// Heartbeat refreshes the attempt and reports whether the worker must
// stop. Transient failures retry once.
func (s *Service) Heartbeat(ctx context.Context, id ids.TaskID, progress float64, executionDetails json.RawMessage) (model.TaskCheckState, error) {
	state, err := s.heartbeatOnce(ctx, id, progress, executionDetails)
	if err != nil && isTransient(err) {
		state, err = s.heartbeatOnce(ctx, id, progress, executionDetails)
	}
	return state, err
}

func (s *Service) heartbeatOnce(ctx context.Context, id ids.TaskID, progress float64, executionDetails json.RawMessage) (model.TaskCheckState, error) {
	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return model.TaskCheckShouldStop, err
	}
	defer tx.Rollback(ctx)
	state, err := tx.CheckAndHeartbeatTask(ctx, id, progress, executionDetails)
	if err != nil {
		return state, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.TaskCheckShouldStop, err
	}
	return state, nil
}

// RecordSuccess finalizes the running attempt as succeeded.
func (s *Service) RecordSuccess(ctx context.Context, id ids.TaskID, message *string) error {
	return s.inTx(ctx, func(tx store.WriteTx) error {
		return tx.RecordTaskSuccess(ctx, id, message)
	})
}

// RecordFailure logs the failed attempt; with retries remaining the task
// goes back to scheduled under the same id.
func (s *Service) RecordFailure(ctx context.Context, id ids.TaskID, message *string) error {
	return s.inTx(ctx, func(tx store.WriteTx) error {
		return tx.RecordTaskFailure(ctx, id, message)
	})
}

// List applies the wire request filters and pagination.
func (s *Service) List(ctx context.Context, projectID ids.ProjectID, req ListTasksRequest) (model.Page[model.Task], error) {
	filter, err := req.filter()
	if err != nil {
		return model.Page[model.Task]{}, err
	}
	return s.store.ListTasks(ctx, projectID, filter, req.PageToken, req.PageSize)
}

// GetDetails returns the headline attempt plus up to numAttempts prior
// ones, most recent first.
func (s *Service) GetDetails(ctx context.Context, projectID ids.ProjectID, id ids.TaskID, numAttempts int) (*model.TaskDetails, error) {
	details, err := s.store.GetTaskDetails(ctx, projectID, id, numAttempts)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, catalogerr.ErrTaskNotFound
	}
	return details, nil
}

// Resolve maps ids to (entity, queue), consulting live tasks first and
// the log second. Missing ids are absent from the result.
func (s *Service) Resolve(ctx context.Context, projectID ids.ProjectID, taskIDs []ids.TaskID) (map[ids.TaskID]model.TaskResolution, error) {
	return s.store.ResolveTasks(ctx, projectID, taskIDs)
}

// Control applies one ControlTasksRequest: stop, cancel, run-now or
// run-at.
func (s *Service) Control(ctx context.Context, projectID ids.ProjectID, req ControlTasksRequest) error {
	taskIDs := req.TaskIDs
	if len(taskIDs) == 0 {
		return nil
	}
	switch req.Action.Type {
	case ControlActionStop:
		return s.inTx(ctx, func(tx store.WriteTx) error {
			return tx.StopTasks(ctx, taskIDs)
		})
	case ControlActionCancel:
		return s.inTx(ctx, func(tx store.WriteTx) error {
			_, err := tx.CancelScheduledTasks(ctx, taskIDs, req.Force)
			return err
		})
	case ControlActionRunNow:
		return s.inTx(ctx, func(tx store.WriteTx) error {
			return tx.RunTasksAt(ctx, taskIDs, nil)
		})
	case ControlActionRunAt:
		if req.Action.ScheduledFor == nil {
			return catalogerr.ErrInvalidTemplate
		}
		return s.inTx(ctx, func(tx store.WriteTx) error {
			return tx.RunTasksAt(ctx, taskIDs, req.Action.ScheduledFor)
		})
	default:
		return catalogerr.ErrInvalidTemplate
	}
}

// SetQueueConfig stores per-queue tuning.
func (s *Service) SetQueueConfig(ctx context.Context, cfg model.QueueConfig) error {
	return s.inTx(ctx, func(tx store.WriteTx) error {
		return tx.SetQueueConfig(ctx, cfg)
	})
}

// GetQueueConfig reads per-queue tuning; nil when unset.
func (s *Service) GetQueueConfig(ctx context.Context, queueName string) (*model.QueueConfig, error) {
	return s.store.GetQueueConfig(ctx, queueName)
}

func (s *Service) inTx(ctx context.Context, fn func(store.WriteTx) error) error {
	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isTransient classifies connection-level failures worth one local retry:
// deadline expiry, a broken driver connection, or a network error.
// Anything typed in the catalog taxonomy is never transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, catalogerr.ErrTaskNotFound) || errors.Is(err, catalogerr.ErrConcurrentModification) {
		return false
	}
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr)
}
