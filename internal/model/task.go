package model

import (
	"encoding/json"
	"time"

	"catalog.evalgo.org/internal/ids"
)

// TaskStatus is the live status of a task attempt. It serializes in
// SCREAMING_SNAKE_CASE on the wire.
type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "SCHEDULED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusStopping  TaskStatus = "STOPPING"
	TaskStatusCancelled TaskStatus = "CANCELLED"
	TaskStatusSuccess   TaskStatus = "SUCCESS"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// Terminal reports whether the status admits no further transition.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCancelled || s == TaskStatusSuccess || s == TaskStatusFailed
}

// QueueTabularExpiration is the queue that owns soft-deletion entries.
// Cancelling a task of this queue implies an undrop of the target tabular.
const QueueTabularExpiration = "tabular_expiration"

// TaskEntityKind discriminates what a task addresses.
type TaskEntityKind string

const (
	TaskEntityProject   TaskEntityKind = "project"
	TaskEntityWarehouse TaskEntityKind = "warehouse"
	TaskEntityTabular   TaskEntityKind = "tabular"
)

// TaskEntity is the tagged union of task targets: a project, a warehouse,
// or a tabular within a warehouse. Persisted identity is split into
// entity_type / entity_id / entity_name columns; this is the inflated form.
type TaskEntity struct {
	Kind        TaskEntityKind `json:"kind"`
	ProjectID   ids.ProjectID  `json:"project-id"`
	WarehouseID *ids.WarehouseID `json:"warehouse-id,omitempty"`
	TabularID   *ids.TabularID `json:"tabular-id,omitempty"`
	EntityName  []string       `json:"entity-name,omitempty"`
}

// DedupKey is the idempotence key for enqueue: tasks addressing the same
// entity in the same queue coalesce while a non-terminal attempt exists.
func (e TaskEntity) DedupKey() string {
	switch e.Kind {
	case TaskEntityWarehouse:
		return string(e.Kind) + "/" + e.WarehouseID.String()
	case TaskEntityTabular:
		return string(e.Kind) + "/" + e.TabularID.String()
	default:
		return string(e.Kind) + "/" + e.ProjectID.String()
	}
}

// Task is one schedulable unit of background work. TaskID is stable across
// retried attempts; Attempt counts up from 1.
type Task struct {
	TaskID           ids.TaskID      `json:"task-id"`
	QueueName        string          `json:"queue-name"`
	ProjectID        ids.ProjectID   `json:"project-id"`
	WarehouseID      *ids.WarehouseID `json:"warehouse-id,omitempty"`
	Entity           TaskEntity      `json:"entity"`
	ParentTaskID     *ids.TaskID     `json:"parent-task-id,omitempty"`
	ScheduledFor     time.Time       `json:"scheduled-for"`
	Status           TaskStatus      `json:"status"`
	Attempt          int             `json:"attempt"`
	Progress         float64         `json:"progress"`
	MaxRetries       int             `json:"max-retries"`
	LastHeartbeatAt  *time.Time      `json:"last-heartbeat-at,omitempty"`
	PickedUpAt       *time.Time      `json:"picked-up-at,omitempty"`
	CreatedAt        time.Time       `json:"created-at"`
	UpdatedAt        *time.Time      `json:"updated-at,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ExecutionDetails json.RawMessage `json:"execution-details,omitempty"`
}

// TaskLogEntry is one completed attempt preserved in the historical log.
type TaskLogEntry struct {
	TaskID           ids.TaskID      `json:"task-id"`
	Attempt          int             `json:"attempt"`
	Status           TaskStatus      `json:"status"`
	QueueName        string          `json:"queue-name"`
	ProjectID        ids.ProjectID   `json:"project-id"`
	WarehouseID      *ids.WarehouseID `json:"warehouse-id,omitempty"`
	Entity           TaskEntity      `json:"entity"`
	ScheduledFor     time.Time       `json:"scheduled-for"`
	StartedAt        *time.Time      `json:"started-at,omitempty"`
	Duration         *time.Duration  `json:"duration,omitempty"`
	Message          *string         `json:"message,omitempty"`
	Progress         float64         `json:"progress"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ExecutionDetails json.RawMessage `json:"execution-details,omitempty"`
	CreatedAt        time.Time       `json:"created-at"`
}

// TaskAttemptView is one attempt in the details view: the live attempt or a
// historical one, normalized to a common shape.
type TaskAttemptView struct {
	Attempt          int             `json:"attempt"`
	Status           TaskStatus      `json:"status"`
	ScheduledFor     time.Time       `json:"scheduled-for"`
	StartedAt        *time.Time      `json:"started-at,omitempty"`
	Duration         *time.Duration  `json:"duration,omitempty"`
	Progress         float64         `json:"progress"`
	Message          *string         `json:"message,omitempty"`
	ExecutionDetails json.RawMessage `json:"execution-details,omitempty"`
}

// TaskDetails is the headline attempt plus up to the requested number of
// prior attempts, most recent first.
type TaskDetails struct {
	Task     Task              `json:"task"`
	Attempts []TaskAttemptView `json:"attempts"`
}

// TaskResolution is the per-id answer of a resolve lookup.
type TaskResolution struct {
	Entity    TaskEntity `json:"entity"`
	QueueName string     `json:"queue-name"`
}

// TaskCheckState is the answer a heartbeat gets back.
type TaskCheckState string

const (
	TaskCheckContinue   TaskCheckState = "continue"
	TaskCheckShouldStop TaskCheckState = "should-stop"
)

// EnqueueTask is the input shape of an enqueue batch entry.
type EnqueueTask struct {
	QueueName    string
	Entity       TaskEntity
	ParentTaskID *ids.TaskID
	ScheduledFor *time.Time
	Payload      json.RawMessage
	MaxRetries   int
}

// TaskFilter selects tasks for listing. Empty slices that were explicitly
// supplied select nothing; nil slices do not filter.
type TaskFilter struct {
	Statuses      []TaskStatus
	QueueNames    []string
	Entities      []TaskEntity
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// QueueConfig is per-queue orchestration tuning stored by the catalog.
type QueueConfig struct {
	QueueName                 string        `json:"queue-name"`
	MaxRetries                int           `json:"max-retries"`
	MaxTimeSinceLastHeartbeat time.Duration `json:"max-time-since-last-heartbeat"`
}
