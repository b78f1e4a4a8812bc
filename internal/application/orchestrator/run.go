package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/aescanero/taskmesh/pkg/ports"
	"go.uber.org/zap"
)

// errRunCancelled is the cancellation cause of a caller-cancelled run
var errRunCancelled = errors.New("run cancelled")

// completion is a dispatcher outcome handed back to the coordination loop
type completion struct {
	task     int
	outcome  domain.Outcome
	duration time.Duration
}

// run is one execution of a graph. Only the loop goroutine changes task
// state; mu lets snapshots read it concurrently.
type run struct {
	id          string
	graph       *Graph
	executor    Executor
	publisher   *publisher
	metrics     ports.MetricsCollector
	logger      *zap.Logger
	taskTimeout time.Duration

	ctx         context.Context
	cancel      context.CancelCauseFunc
	stop        context.CancelFunc
	completions chan completion
	done        chan struct{}

	mu          sync.RWMutex
	state       domain.RunState
	submittedAt time.Time
	finishedAt  *time.Time
	result      *domain.GraphResult
	err         error
}

func newRun(id string, g *Graph, executor Executor, pub *publisher, metrics ports.MetricsCollector, taskTimeout, runTimeout time.Duration, logger *zap.Logger) *run {
	base, cancel := context.WithCancelCause(context.Background())
	ctx, stop := base, context.CancelFunc(func() {})
	if runTimeout > 0 {
		ctx, stop = context.WithTimeout(base, runTimeout)
	}

	return &run{
		id:          id,
		graph:       g,
		executor:    executor,
		publisher:   pub,
		metrics:     metrics,
		logger:      logger.With(zap.String("run_id", id)),
		taskTimeout: taskTimeout,
		ctx:         ctx,
		cancel:      cancel,
		stop:        stop,
		completions: make(chan completion, g.Len()),
		done:        make(chan struct{}),
		state:       domain.RunStateRunning,
		submittedAt: time.Now(),
	}
}

// loop drives the run to quiescence and synthesizes its result
func (r *run) loop() {
	defer close(r.done)
	defer r.stop()

	running := 0
	cancelled := false
	ctxDone := r.ctx.Done()

	ready := r.graph.roots()
	for _, i := range ready {
		r.markReady(i)
	}

	for {
		if !cancelled {
			for _, i := range ready {
				r.start(i)
				running++
			}
		}
		ready = nil

		if running == 0 {
			break
		}

		select {
		case c := <-r.completions:
			running--
			if cancelled {
				r.discard(c)
				continue
			}
			ready = r.apply(c)
		case <-ctxDone:
			ctxDone = nil
			cancelled = true
			r.abort()
		}
	}

	r.finish(cancelled)
}

// markReady moves a pending task to ready
func (r *run) markReady(i int) {
	t := r.graph.tasks[i]
	r.mu.Lock()
	t.Status = domain.TaskStatusReady
	r.mu.Unlock()

	r.publisher.publish(ports.EventTypeTaskReady, r.id, t.ID, nil)
}

// start dispatches a ready task on its own goroutine
func (r *run) start(i int) {
	t := r.graph.tasks[i]
	input := domain.Input{Payload: t.Input, Upstream: r.upstream(i)}

	now := time.Now()
	r.mu.Lock()
	t.Status = domain.TaskStatusRunning
	t.StartedAt = &now
	r.mu.Unlock()

	r.publisher.publish(ports.EventTypeTaskStarted, r.id, t.ID, map[string]any{"capability": t.Capability})
	r.logger.Debug("task started",
		zap.String("task_id", t.ID),
		zap.String("capability", t.Capability))

	go func() {
		ctx, cancel := r.ctx, context.CancelFunc(func() {})
		if r.taskTimeout > 0 {
			ctx, cancel = context.WithTimeout(r.ctx, r.taskTimeout)
		}
		defer cancel()

		started := time.Now()
		outcome := r.executor.Execute(ctx, t.Capability, input)
		r.completions <- completion{task: i, outcome: outcome, duration: time.Since(started)}
	}()
}

// upstream collects outputs of completed dependencies
func (r *run) upstream(i int) map[string]json.RawMessage {
	var outputs map[string]json.RawMessage
	for _, j := range r.graph.dependencies[i] {
		dep := r.graph.tasks[j]
		if dep.Status != domain.TaskStatusCompleted {
			continue
		}
		if outputs == nil {
			outputs = make(map[string]json.RawMessage)
		}
		outputs[dep.ID] = dep.Output
	}
	return outputs
}

// apply records an outcome and returns the tasks that became ready
func (r *run) apply(c completion) []int {
	t := r.graph.tasks[c.task]
	now := time.Now()

	r.mu.Lock()
	t.Attempts = c.outcome.Attempts
	t.FromCache = c.outcome.FromCache
	t.Coalesced = c.outcome.Coalesced
	t.FinishedAt = &now
	if c.outcome.Succeeded() {
		t.Status = domain.TaskStatusCompleted
		t.Output = c.outcome.Output
	} else {
		t.Status = domain.TaskStatusFailed
		t.Error = c.outcome.Failure
	}
	r.mu.Unlock()

	r.metrics.RecordTaskFinished(t.Capability, string(t.Status), c.duration)

	if t.Status == domain.TaskStatusCompleted {
		r.publisher.publish(ports.EventTypeTaskCompleted, r.id, t.ID, map[string]any{
			"capability": t.Capability,
			"attempts":   t.Attempts,
			"from_cache": t.FromCache,
			"coalesced":  t.Coalesced,
		})
		r.logger.Debug("task completed",
			zap.String("task_id", t.ID),
			zap.Int("attempts", t.Attempts),
			zap.Bool("from_cache", t.FromCache),
			zap.Duration("duration", c.duration))
	} else {
		r.publisher.publish(ports.EventTypeTaskFailed, r.id, t.ID, map[string]any{
			"capability": t.Capability,
			"kind":       string(t.Error.Kind),
			"message":    t.Error.Message,
		})
		r.logger.Warn("task failed",
			zap.String("task_id", t.ID),
			zap.String("capability", t.Capability),
			zap.String("kind", string(t.Error.Kind)),
			zap.Int("attempts", t.Attempts),
			zap.String("error", t.Error.Message))
	}

	var ready []int
	r.release(c.task, &ready)
	sort.Ints(ready)
	for _, i := range ready {
		r.markReady(i)
	}
	return ready
}

// release updates the dependents of a task that just became terminal. A
// completed or optional task satisfies its dependents; any other terminal
// task skips its pending dependents, recursively.
func (r *run) release(i int, ready *[]int) {
	t := r.graph.tasks[i]
	satisfied := t.Status == domain.TaskStatusCompleted || t.Optional

	for _, d := range r.graph.dependents[i] {
		if r.graph.tasks[d].Status != domain.TaskStatusPending {
			continue
		}

		if satisfied {
			r.graph.remaining[d]--
			if r.graph.remaining[d] == 0 {
				*ready = append(*ready, d)
			}
			continue
		}

		root := t.ID
		verb := "failed"
		if t.Status == domain.TaskStatusSkipped {
			verb = "was skipped"
			if t.Error != nil && t.Error.Root != "" {
				root = t.Error.Root
			}
		}
		r.skip(d, &domain.Failure{
			Kind:    domain.FailureKindDependencyFailed,
			Message: fmt.Sprintf("dependency %s %s", t.ID, verb),
			Root:    root,
		})
		r.release(d, ready)
	}
}

// skip marks a task skipped with the given reason
func (r *run) skip(i int, reason *domain.Failure) {
	t := r.graph.tasks[i]
	now := time.Now()

	r.mu.Lock()
	t.Status = domain.TaskStatusSkipped
	t.Error = reason
	t.FinishedAt = &now
	r.mu.Unlock()

	r.metrics.RecordTaskFinished(t.Capability, string(t.Status), 0)
	r.publisher.publish(ports.EventTypeTaskSkipped, r.id, t.ID, map[string]any{
		"kind": string(reason.Kind),
		"root": reason.Root,
	})
	r.logger.Debug("task skipped",
		zap.String("task_id", t.ID),
		zap.String("kind", string(reason.Kind)),
		zap.String("root", reason.Root))
}

// abort skips every task that has not started. Running tasks see the
// cancelled context and are skipped when their outcome arrives.
func (r *run) abort() {
	reason := r.cancelReason()
	r.logger.Info("run cancelled", zap.String("reason", reason.Message))

	for _, i := range r.graph.order {
		status := r.graph.tasks[i].Status
		if status == domain.TaskStatusPending || status == domain.TaskStatusReady {
			r.skip(i, reason)
		}
	}
}

// discard skips a task whose outcome arrived after cancellation
func (r *run) discard(c completion) {
	reason := r.cancelReason()
	r.mu.Lock()
	r.graph.tasks[c.task].Attempts = c.outcome.Attempts
	r.mu.Unlock()
	r.skip(c.task, reason)
}

func (r *run) cancelReason() *domain.Failure {
	if errors.Is(context.Cause(r.ctx), errRunCancelled) {
		return &domain.Failure{Kind: domain.FailureKindCancelled, Message: "run cancelled"}
	}
	return &domain.Failure{Kind: domain.FailureKindCancelled, Message: "run deadline exceeded"}
}

// finish synthesizes the result of the quiescent graph
func (r *run) finish(cancelled bool) {
	now := time.Now()

	r.mu.Lock()
	result, err := Synthesize(r.id, r.graph, r.submittedAt, now)
	r.finishedAt = &now
	if cancelled {
		r.state = domain.RunStateCancelled
	} else {
		r.state = domain.RunStateCompleted
	}
	if err != nil {
		r.err = fmt.Errorf("failed to synthesize result: %w", err)
	} else {
		result.Cancelled = cancelled
		r.result = result
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("failed to synthesize result", zap.Error(err))
		return
	}

	if cancelled {
		r.publisher.publish(ports.EventTypeRunCancelled, r.id, "", map[string]any{
			"reason": r.cancelReason().Message,
		})
	}
	r.publisher.publish(ports.EventTypeRunCompleted, r.id, "", map[string]any{
		"status":    string(result.Status),
		"cancelled": cancelled,
	})
	r.logger.Info("run finished",
		zap.String("status", string(result.Status)),
		zap.Bool("cancelled", cancelled),
		zap.Any("counts", result.Counts),
		zap.Duration("duration", now.Sub(r.submittedAt)))
}

// snapshot returns a point-in-time view of the run
func (r *run) snapshot() *domain.RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &domain.RunSnapshot{
		RunID:       r.id,
		State:       r.state,
		Counts:      make(map[domain.TaskStatus]int),
		Tasks:       make([]domain.TaskResult, 0, r.graph.Len()),
		SubmittedAt: r.submittedAt,
		FinishedAt:  r.finishedAt,
	}
	for _, i := range r.graph.order {
		t := r.graph.tasks[i]
		snap.Tasks = append(snap.Tasks, domain.ResultOf(t))
		snap.Counts[t.Status]++
	}
	return snap
}

// finished reports whether the loop has ended
func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// outcome returns the synthesized result once the run is done
func (r *run) outcome() (*domain.GraphResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result, r.err
}
