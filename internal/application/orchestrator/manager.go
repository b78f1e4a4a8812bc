package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/taskmesh/internal/application/workers"
	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/aescanero/taskmesh/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrShuttingDown is returned by Submit after Shutdown was called
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Executor runs capability calls for the scheduler
type Executor interface {
	CapabilityChecker
	Execute(ctx context.Context, capability string, input domain.Input) domain.Outcome
	Capabilities() []workers.CapabilityStatus
	ClearCache(ctx context.Context) error
}

// Config holds manager settings
type Config struct {
	TaskTimeout  time.Duration
	RunTimeout   time.Duration
	RunRetention time.Duration
	EventBuffer  int
}

// Manager coordinates graph execution
type Manager struct {
	executor  Executor
	results   ports.ResultStore
	metrics   ports.MetricsCollector
	validator *Validator
	publisher *publisher
	cfg       Config
	logger    *zap.Logger

	// Track active and recently finished runs
	runs   sync.Map // map[string]*run
	active atomic.Int64

	mu       sync.Mutex
	closed   bool
	evictors map[string]*time.Timer
	wg       sync.WaitGroup
}

// NewManager creates a new orchestrator manager. eventBus and results may be nil.
func NewManager(
	executor Executor,
	eventBus ports.EventBus,
	results ports.ResultStore,
	metrics ports.MetricsCollector,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}

	return &Manager{
		executor:  executor,
		results:   results,
		metrics:   metrics,
		validator: NewValidator(executor),
		publisher: newPublisher(eventBus, cfg.EventBuffer, logger),
		cfg:       cfg,
		logger:    logger,
		evictors:  make(map[string]*time.Timer),
	}
}

// Submit validates a graph and starts executing it
func (m *Manager) Submit(ctx context.Context, spec domain.GraphSpec) (domain.RunHandle, error) {
	graph, err := m.validator.Validate(spec)
	if err != nil {
		m.logger.Warn("graph validation failed", zap.Error(err))
		return domain.RunHandle{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.RunHandle{}, ErrShuttingDown
	}
	runID := uuid.New().String()
	r := newRun(runID, graph, m.executor, m.publisher, m.metrics, m.cfg.TaskTimeout, m.cfg.RunTimeout, m.logger)
	m.runs.Store(runID, r)
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.RecordRunSubmitted()
	m.metrics.SetActiveRuns(int(m.active.Add(1)))
	m.publisher.publish(ports.EventTypeRunSubmitted, runID, "", map[string]any{
		"tasks": graph.Len(),
	})
	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.Int("tasks", graph.Len()))

	go func() {
		defer m.wg.Done()
		r.loop()
		m.complete(r)
	}()

	return domain.RunHandle{ID: runID}, nil
}

// complete records a finished run and schedules its eviction
func (m *Manager) complete(r *run) {
	m.metrics.SetActiveRuns(int(m.active.Add(-1)))

	result, err := r.outcome()
	if err != nil {
		m.logger.Error("run finished without result",
			zap.String("run_id", r.id),
			zap.Error(err))
		return
	}
	m.metrics.RecordRunCompleted(string(result.Status), result.FinishedAt.Sub(result.StartedAt))

	if m.results != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := m.results.SaveResult(ctx, result); err != nil {
			m.logger.Error("failed to save result",
				zap.String("run_id", r.id),
				zap.Error(err))
		}
		cancel()
	}

	if m.cfg.RunRetention <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.evictors[r.id] = time.AfterFunc(m.cfg.RunRetention, func() {
		m.runs.Delete(r.id)
		m.mu.Lock()
		delete(m.evictors, r.id)
		m.mu.Unlock()
	})
}

// Await blocks until the run finishes or ctx ends
func (m *Manager) Await(ctx context.Context, handle domain.RunHandle) (*domain.GraphResult, error) {
	r, ok := m.lookup(handle.ID)
	if !ok {
		return m.storedResult(ctx, handle.ID)
	}

	select {
	case <-r.done:
		return r.outcome()
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to await run %s: %w", handle.ID, ctx.Err())
	}
}

// Result returns the result of a finished run without waiting
func (m *Manager) Result(ctx context.Context, handle domain.RunHandle) (*domain.GraphResult, bool, error) {
	r, ok := m.lookup(handle.ID)
	if !ok {
		result, err := m.storedResult(ctx, handle.ID)
		if err != nil {
			return nil, false, err
		}
		return result, true, nil
	}
	if !r.finished() {
		return nil, false, nil
	}
	result, err := r.outcome()
	return result, err == nil, err
}

// Status returns a point-in-time view of a run
func (m *Manager) Status(ctx context.Context, handle domain.RunHandle) (*domain.RunSnapshot, error) {
	if r, ok := m.lookup(handle.ID); ok {
		return r.snapshot(), nil
	}

	result, err := m.storedResult(ctx, handle.ID)
	if err != nil {
		return nil, err
	}

	state := domain.RunStateCompleted
	if result.Cancelled {
		state = domain.RunStateCancelled
	}
	finishedAt := result.FinishedAt
	return &domain.RunSnapshot{
		RunID:       result.RunID,
		State:       state,
		Counts:      result.Counts,
		Tasks:       result.Tasks,
		SubmittedAt: result.StartedAt,
		FinishedAt:  &finishedAt,
	}, nil
}

// Cancel cancels a running run. Its result is still synthesized.
func (m *Manager) Cancel(ctx context.Context, handle domain.RunHandle) error {
	r, ok := m.lookup(handle.ID)
	if !ok {
		if _, err := m.storedResult(ctx, handle.ID); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrRunFinished, handle.ID)
		}
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, handle.ID)
	}
	if r.finished() {
		return fmt.Errorf("%w: %s", domain.ErrRunFinished, handle.ID)
	}

	r.cancel(errRunCancelled)
	m.logger.Info("run cancellation requested", zap.String("run_id", handle.ID))
	return nil
}

// Capabilities lists registered capabilities
func (m *Manager) Capabilities() []workers.CapabilityStatus {
	return m.executor.Capabilities()
}

// ClearCache invalidates every cached capability output
func (m *Manager) ClearCache(ctx context.Context) error {
	return m.executor.ClearCache(ctx)
}

// ActiveRuns returns the number of runs still executing
func (m *Manager) ActiveRuns() int {
	return int(m.active.Load())
}

func (m *Manager) lookup(runID string) (*run, bool) {
	val, ok := m.runs.Load(runID)
	if !ok {
		return nil, false
	}
	return val.(*run), true
}

func (m *Manager) storedResult(ctx context.Context, runID string) (*domain.GraphResult, error) {
	if m.results == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	result, err := m.results.GetResult(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return result, nil
}

// Shutdown cancels every active run and waits for them to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.mu.Lock()
	m.closed = true
	for id, timer := range m.evictors {
		timer.Stop()
		delete(m.evictors, id)
	}
	m.mu.Unlock()

	m.runs.Range(func(key, value any) bool {
		value.(*run).cancel(errRunCancelled)
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to drain runs: %w", ctx.Err())
	}

	if err := m.publisher.close(ctx); err != nil {
		return fmt.Errorf("failed to flush events: %w", err)
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}
