package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidGraph      = errors.New("invalid task graph")
	ErrCyclicGraph       = errors.New("cyclic task graph")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrNotQuiescent      = errors.New("graph is not quiescent")
	ErrRateLimitTimeout  = errors.New("rate limit wait timed out")
	ErrRunNotFound       = errors.New("run not found")
	ErrRunFinished       = errors.New("run already finished")
)

// Errors a capability may return to steer retry behavior.
var (
	ErrBusy         = errors.New("capability busy")
	ErrTimeout      = errors.New("capability timed out")
	ErrInvalidInput = errors.New("invalid capability input")
)

// InvalidGraphError wraps structural problems such as empty or duplicate ids.
type InvalidGraphError struct {
	Msg string
}

func (e *InvalidGraphError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidGraph, e.Msg)
}

func (e *InvalidGraphError) Unwrap() error { return ErrInvalidGraph }

// Invalidf formats an InvalidGraphError.
func Invalidf(format string, args ...any) error {
	return &InvalidGraphError{Msg: fmt.Sprintf(format, args...)}
}

// CyclicGraphError reports one witness cycle.
type CyclicGraphError struct {
	Cycle []string
}

func (e *CyclicGraphError) Error() string {
	if len(e.Cycle) == 0 {
		return ErrCyclicGraph.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCyclicGraph, strings.Join(e.Cycle, " -> "))
}

func (e *CyclicGraphError) Unwrap() error { return ErrCyclicGraph }

// UnknownDependencyError reports an edge to a task id that is not in the graph.
type UnknownDependencyError struct {
	TaskID     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%s: task %q depends on %q", ErrUnknownDependency, e.TaskID, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }

// UnknownCapabilityError reports a task whose capability has no registered worker.
type UnknownCapabilityError struct {
	TaskID     string
	Capability string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("%s: task %q requires %q", ErrUnknownCapability, e.TaskID, e.Capability)
}

func (e *UnknownCapabilityError) Unwrap() error { return ErrUnknownCapability }

// NotQuiescentError is returned when a result is requested for a graph that still has work.
type NotQuiescentError struct {
	Outstanding []string
}

func (e *NotQuiescentError) Error() string {
	return fmt.Sprintf("%s: %d task(s) outstanding (%s)", ErrNotQuiescent, len(e.Outstanding), strings.Join(e.Outstanding, ", "))
}

func (e *NotQuiescentError) Unwrap() error { return ErrNotQuiescent }

// RateLimitTimeoutError is returned when no token became available in time.
// Needed is set when the limiter gave up early because the next token was
// further away than the wait budget.
type RateLimitTimeoutError struct {
	Capability string
	Waited     time.Duration
	Needed     time.Duration
}

func (e *RateLimitTimeoutError) Error() string {
	if e.Needed > 0 {
		return fmt.Sprintf("%s: capability %q needs %s for the next token", ErrRateLimitTimeout, e.Capability, e.Needed)
	}
	return fmt.Sprintf("%s: capability %q after %s", ErrRateLimitTimeout, e.Capability, e.Waited)
}

func (e *RateLimitTimeoutError) Unwrap() error { return ErrRateLimitTimeout }
