package models

import "fmt"

// Operation is the kind of mutation a sync record replays.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// SyncStatus is the lifecycle state of a sync record.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncCompleted, SyncFailed:
		return true
	}
	return false
}

// TaskStatus is the internal status of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// TaskStatuses lists every status in display order.
var TaskStatuses = []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskCancelled}

func (s TaskStatus) Valid() bool {
	for _, v := range TaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseTaskStatus validates a raw status; empty input yields TaskPending.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	if raw == "" {
		return TaskPending, nil
	}
	s := TaskStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown task status %q", raw)
	}
	return s, nil
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

func (p Priority) Valid() bool {
	for _, v := range Priorities {
		if v == p {
			return true
		}
	}
	return false
}

// ParsePriority validates a raw priority; empty input yields PriorityMedium.
func ParsePriority(raw string) (Priority, error) {
	if raw == "" {
		return PriorityMedium, nil
	}
	p := Priority(raw)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", raw)
	}
	return p, nil
}

const (
	// EntityTask is the entity type tag for task sync records.
	EntityTask = "task"

	// DefaultMaxAttempts is the retry ceiling after which a record is failed.
	DefaultMaxAttempts = 3

	// DefaultRetentionDays is how long completed records are kept.
	DefaultRetentionDays = 7

	// DefaultFeatureTTL is the feature cache lifetime in seconds.
	DefaultFeatureTTL = 3600

	// DefaultProbeTimeout is the network probe timeout in seconds.
	DefaultProbeTimeout = 5

	// DefaultBatchSize is the drain limit when none is given.
	DefaultBatchSize = 50
)
