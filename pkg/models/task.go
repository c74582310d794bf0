package models

import "time"

// TaskState is a Frontier task's lifecycle state.
type TaskState string

// Task states. Terminal states (Completed, Failed) never transition back to Pending.
const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// TaskMeta carries the discovery context for a task.
type TaskMeta struct {
	StrategyName   string         `json:"strategy_name,omitempty"`
	TargetDomain   string         `json:"target_domain,omitempty"`
	Schema         map[string]any `json:"schema,omitempty"`
	DiscoveredFrom string         `json:"discovered_from,omitempty"`
	Repair         bool           `json:"repair,omitempty"`
}

// Task is one unit of work the Executor runs, sourced from the Frontier.
type Task struct {
	TaskID         string
	JobID          string
	Type           StrategyType
	Value          string
	Priority       int
	Depth          int
	State          TaskState
	Attempts       int
	LeaseExpiresAt *time.Time
	Meta           TaskMeta
	EnqueuedAt     time.Time
}

// CanTransitionTask reports whether a task may move from "from" to "to".
// Completed and Failed are terminal: nothing transitions out of them.
func CanTransitionTask(from, to TaskState) bool {
	if from == TaskCompleted || from == TaskFailed {
		return false
	}
	switch to {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed:
		return true
	default:
		return false
	}
}
