package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"catalog.evalgo.org/internal/model"
)

// Handler executes one task attempt. Returning nil records success, an
// error records failure (and a retry while attempts remain). The handler's
// context is cancelled when a stop is requested, so long-running work must
// be context-aware.
type Handler interface {
	Execute(ctx context.Context, task *model.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *model.Task) error

func (f HandlerFunc) Execute(ctx context.Context, task *model.Task) error {
	return f(ctx, task)
}

// Worker polls one queue and drives attempts through the state machine:
// pick, heartbeat on an interval, success or failure. The framework does
// not cancel workers; shutdown is cooperative via stop signals answered
// with ShouldStop on the next heartbeat, or via the run context.
type Worker struct {
	service  *Service
	queue    string
	handler  Handler
	interval time.Duration
	logger   *logrus.Logger
}

// WorkerConfig tunes a worker.
type WorkerConfig struct {
	// QueueName is the queue this worker serves.
	QueueName string
	// PollInterval between empty picks; defaults to 10s.
	PollInterval time.Duration
	// HeartbeatInterval is not read by NewWorker: heartbeats always run at
	// a quarter of the queue's MaxTimeSinceLastHeartbeat, or of
	// DefaultMaxTimeSinceLastHeartbeat when the queue has no config.
	HeartbeatInterval time.Duration
}

// NewWorker builds a worker.
func NewWorker(service *Service, cfg WorkerConfig, handler Handler, logger *logrus.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		service:  service,
		queue:    cfg.QueueName,
		handler:  handler,
		interval: cfg.PollInterval,
		logger:   logger,
	}
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		task, err := w.service.PickNewTask(ctx, w.queue)
		if err != nil {
			w.logger.WithError(err).WithField("queue", w.queue).Warn("task pick failed")
		} else if task != nil {
			w.runOne(ctx, task)
			// Drain the queue before going back to sleep.
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runOne executes a single attempt with a heartbeat loop beside it.
func (w *Worker) runOne(ctx context.Context, task *model.Task) {
	log := w.logger.WithFields(logrus.Fields{
		"queue":   w.queue,
		"task_id": task.TaskID.String(),
		"attempt": task.Attempt,
	})
	log.Info("picked task")

	hbInterval := DefaultMaxTimeSinceLastHeartbeat / 4
	if cfg, err := w.service.GetQueueConfig(ctx, w.queue); err == nil && cfg != nil && cfg.MaxTimeSinceLastHeartbeat > 0 {
		hbInterval = cfg.MaxTimeSinceLastHeartbeat / 4
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.handler.Execute(taskCtx, task)
	}()

	ticker := time.NewTicker(hbInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				msg := err.Error()
				if recErr := w.service.RecordFailure(ctx, task.TaskID, &msg); recErr != nil {
					log.WithError(recErr).Error("failed to record task failure")
				}
				log.WithError(err).Warn("task attempt failed")
				return
			}
			if recErr := w.service.RecordSuccess(ctx, task.TaskID, nil); recErr != nil {
				log.WithError(recErr).Error("failed to record task success")
			}
			log.Info("task attempt succeeded")
			return
		case <-ticker.C:
			state, err := w.service.Heartbeat(ctx, task.TaskID, task.Progress, nil)
			if err != nil {
				log.WithError(err).Warn("heartbeat failed")
				continue
			}
			if state == model.TaskCheckShouldStop {
				// Acknowledge the stop by cancelling the handler; its
				// return drives the final record.
				log.Info("stop requested, cancelling attempt")
				cancel()
			}
		}
	}
}

// ReportProgress lets handlers push progress and execution details from
// inside an attempt.
func (w *Worker) ReportProgress(ctx context.Context, task *model.Task, progress float64, details json.RawMessage) (model.TaskCheckState, error) {
	return w.service.Heartbeat(ctx, task.TaskID, progress, details)
}
