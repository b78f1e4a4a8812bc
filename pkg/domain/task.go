package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the lifecycle state of a task within a run
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// TaskSpec is one caller-supplied record of a task graph
type TaskSpec struct {
	ID           string         `json:"id"`
	Capability   string         `json:"capability"`
	Input        map[string]any `json:"input,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Optional     bool           `json:"optional,omitempty"`
}

// GraphSpec is the task graph description produced by an external planner
type GraphSpec struct {
	Tasks []TaskSpec `json:"tasks"`
}

// Task is the runtime view of a task owned by the scheduler
type Task struct {
	ID           string          `json:"id"`
	Capability   string          `json:"capability"`
	Input        map[string]any  `json:"input,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Optional     bool            `json:"optional,omitempty"`
	Status       TaskStatus      `json:"status"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        *Failure        `json:"error,omitempty"`
	Attempts     int             `json:"attempts"`
	FromCache    bool            `json:"from_cache,omitempty"`
	Coalesced    bool            `json:"coalesced,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// NewTask creates a pending task from its spec
func NewTask(spec TaskSpec) *Task {
	deps := make([]string, len(spec.Dependencies))
	copy(deps, spec.Dependencies)
	return &Task{
		ID:           spec.ID,
		Capability:   spec.Capability,
		Input:        spec.Input,
		Dependencies: deps,
		Optional:     spec.Optional,
		Status:       TaskStatusPending,
	}
}
