package domain

import (
	"encoding/json"
	"time"
)

// RunStatus is the overall verdict of a run
type RunStatus string

const (
	RunStatusSuccess        RunStatus = "success"
	RunStatusPartialSuccess RunStatus = "partial_success"
	RunStatusFailure        RunStatus = "failure"
)

// RunState is the lifecycle state of a run
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateCancelled RunState = "cancelled"
)

// RunHandle identifies a submitted run
type RunHandle struct {
	ID string `json:"run_id"`
}

// TaskResult is the per-task entry of a result or snapshot
type TaskResult struct {
	ID         string          `json:"id"`
	Capability string          `json:"capability"`
	Optional   bool            `json:"optional,omitempty"`
	Status     TaskStatus      `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      *Failure        `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	FromCache  bool            `json:"from_cache,omitempty"`
	Coalesced  bool            `json:"coalesced,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// ResultOf copies a task into its result form
func ResultOf(t *Task) TaskResult {
	return TaskResult{
		ID:         t.ID,
		Capability: t.Capability,
		Optional:   t.Optional,
		Status:     t.Status,
		Output:     t.Output,
		Error:      t.Error,
		Attempts:   t.Attempts,
		FromCache:  t.FromCache,
		Coalesced:  t.Coalesced,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
}

// GraphResult is the synthesized outcome of a quiescent run
type GraphResult struct {
	RunID      string             `json:"run_id"`
	Status     RunStatus          `json:"status"`
	Cancelled  bool               `json:"cancelled,omitempty"`
	Tasks      []TaskResult       `json:"tasks"`
	Counts     map[TaskStatus]int `json:"counts"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// Task returns the result for a task id
func (r *GraphResult) Task(id string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskResult{}, false
}

// RunSnapshot is a point-in-time view of a run for progress reporting
type RunSnapshot struct {
	RunID       string             `json:"run_id"`
	State       RunState           `json:"state"`
	Counts      map[TaskStatus]int `json:"counts"`
	Tasks       []TaskResult       `json:"tasks"`
	SubmittedAt time.Time          `json:"submitted_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}
