package tasks

import (
	"time"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// ControlActionType enumerates the task controls.
type ControlActionType string

const (
	ControlActionStop   ControlActionType = "stop"
	ControlActionCancel ControlActionType = "cancel"
	ControlActionRunNow ControlActionType = "run-now"
	ControlActionRunAt  ControlActionType = "run-at"
)

// ControlTaskAction is tagged by action-type; run-at carries the target
// timestamp.
type ControlTaskAction struct {
	Type         ControlActionType `json:"action-type"`
	ScheduledFor *time.Time        `json:"scheduled-for,omitempty"`
}

// ControlTasksRequest addresses a set of tasks with one control action.
type ControlTasksRequest struct {
	Action  ControlTaskAction `json:"action"`
	TaskIDs []ids.TaskID      `json:"task-ids"`
	// Force extends cancel to running tasks.
	Force bool `json:"force,omitempty"`
}

// ListTasksRequest filters and paginates the task listing. A filter array
// that is present but empty selects nothing; at most 100 entities and 100
// queue names may be supplied.
type ListTasksRequest struct {
	Statuses      []model.TaskStatus `json:"status,omitempty"`
	QueueNames    []string           `json:"queue-name,omitempty"`
	Entities      []model.TaskEntity `json:"entities,omitempty"`
	CreatedAfter  *time.Time         `json:"created-after,omitempty"`
	CreatedBefore *time.Time         `json:"created-before,omitempty"`
	PageToken     string             `json:"page-token,omitempty"`
	PageSize      int                `json:"page-size,omitempty"`
}

const maxFilterEntries = 100

// filter validates the caps and converts to the store filter.
func (r ListTasksRequest) filter() (model.TaskFilter, error) {
	if len(r.Entities) > maxFilterEntries {
		return model.TaskFilter{}, &catalogerr.TooManyEntriesInFilter{Field: "entities", Count: len(r.Entities), Max: maxFilterEntries}
	}
	if len(r.QueueNames) > maxFilterEntries {
		return model.TaskFilter{}, &catalogerr.TooManyEntriesInFilter{Field: "queue-name", Count: len(r.QueueNames), Max: maxFilterEntries}
	}
	return model.TaskFilter{
		Statuses:      r.Statuses,
		QueueNames:    r.QueueNames,
		Entities:      r.Entities,
		CreatedAfter:  r.CreatedAfter,
		CreatedBefore: r.CreatedBefore,
	}, nil
}
