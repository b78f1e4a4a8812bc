package workers

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
	"golang.org/x/sync/semaphore"
)

// Capability is an external worker function plugged into the dispatcher
type Capability interface {
	Invoke(ctx context.Context, input domain.Input) (any, error)
}

// CapabilityFunc adapts a function to Capability
type CapabilityFunc func(ctx context.Context, input domain.Input) (any, error)

// Invoke calls f
func (f CapabilityFunc) Invoke(ctx context.Context, input domain.Input) (any, error) {
	return f(ctx, input)
}

// CapabilityOptions holds per-capability limits. Zero values fall back to the
// dispatcher defaults; a negative CallsPerMinute disables rate limiting.
type CapabilityOptions struct {
	MaxConcurrency int
	CallsPerMinute int
}

// Config holds dispatcher settings
type Config struct {
	DefaultMaxConcurrency int
	DefaultCallsPerMinute int
	MaxAttempts           int
	BackoffBase           time.Duration
	BackoffMax            time.Duration
	CallTimeout           time.Duration
	RateLimitWait         time.Duration
	CacheTTL              time.Duration
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		DefaultMaxConcurrency: 4,
		DefaultCallsPerMinute: 60,
		MaxAttempts:           3,
		BackoffBase:           500 * time.Millisecond,
		BackoffMax:            30 * time.Second,
		CallTimeout:           120 * time.Second,
		RateLimitWait:         60 * time.Second,
		CacheTTL:              time.Hour,
	}
}

// worker is one registered capability with its admission controls
type worker struct {
	name           string
	capability     Capability
	maxConcurrency int
	limiter        *RateLimiter
	sem            *semaphore.Weighted

	mu       sync.Mutex
	inFlight int
	calls    int64
	lastCall time.Time
}

// Dispatcher executes capability calls with caching, rate limiting,
// concurrency caps, retries and in-flight coalescing.
type Dispatcher struct {
	cfg     Config
	cache   ports.CacheStore
	metrics ports.MetricsCollector
	logger  *zap.Logger

	mu      sync.RWMutex
	workers map[string]*worker
	flights *flightGroup

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a new dispatcher. cache may be nil to disable caching.
func NewDispatcher(cfg Config, cache ports.CacheStore, metrics ports.MetricsCollector, logger *zap.Logger) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.DefaultMaxConcurrency < 1 {
		cfg.DefaultMaxConcurrency = 1
	}

	return &Dispatcher{
		cfg:     cfg,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		workers: make(map[string]*worker),
		flights: newFlightGroup(),
		sleep:   sleepContext,
	}
}

// Register plugs a capability into the dispatcher
func (d *Dispatcher) Register(name string, capability Capability, opts CapabilityOptions) error {
	if name == "" {
		return fmt.Errorf("capability name is required")
	}
	if capability == nil {
		return fmt.Errorf("capability %s is nil", name)
	}

	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = d.cfg.DefaultMaxConcurrency
	}
	callsPerMinute := opts.CallsPerMinute
	if callsPerMinute == 0 {
		callsPerMinute = d.cfg.DefaultCallsPerMinute
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.workers[name]; exists {
		return fmt.Errorf("capability already registered: %s", name)
	}

	d.workers[name] = &worker{
		name:           name,
		capability:     capability,
		maxConcurrency: maxConcurrency,
		limiter:        NewPerMinuteRateLimiter(name, callsPerMinute, d.cfg.RateLimitWait),
		sem:            semaphore.NewWeighted(int64(maxConcurrency)),
	}

	d.logger.Info("capability registered",
		zap.String("capability", name),
		zap.Int("max_concurrency", maxConcurrency),
		zap.Int("calls_per_minute", callsPerMinute))

	return nil
}

// HasCapability reports whether a capability is registered
func (d *Dispatcher) HasCapability(name string) bool {
	_, ok := d.worker(name)
	return ok
}

// Execute runs one capability call and returns its outcome. It never returns
// an error: every failure is described by the outcome.
func (d *Dispatcher) Execute(ctx context.Context, capability string, input domain.Input) domain.Outcome {
	w, ok := d.worker(capability)
	if !ok {
		return domain.Fail(domain.FailureKindUnknownCapability, fmt.Sprintf("no worker registered for %q", capability), 0)
	}

	key, err := Fingerprint(capability, input)
	if err != nil {
		return domain.Fail(domain.FailureKindInvalidInput, err.Error(), 0)
	}

	if output, hit := d.lookup(ctx, w, key); hit {
		return domain.Outcome{Output: output, FromCache: true}
	}

	outcome, joined, err := d.flights.do(ctx, key, func(callCtx context.Context) domain.Outcome {
		return d.call(callCtx, w, key, input)
	})
	if joined {
		d.metrics.RecordCoalesced(capability)
		d.logger.Debug("call coalesced onto in-flight request",
			zap.String("capability", capability),
			zap.String("fingerprint", key))
	}
	if err != nil {
		return contextFailure(err, 0)
	}
	if joined {
		// the external call is accounted to the caller that started it
		outcome.Attempts = 0
		outcome.Coalesced = true
	}

	return outcome
}

// call performs the cache re-check and the retry loop for one fingerprint
func (d *Dispatcher) call(ctx context.Context, w *worker, key string, input domain.Input) domain.Outcome {
	// a previous flight may have filled the cache after the caller's lookup
	if output, hit := d.lookup(ctx, w, key); hit {
		return domain.Outcome{Output: output, FromCache: true}
	}

	for attempt := 1; ; attempt++ {
		waitStart := time.Now()
		err := w.limiter.Acquire(ctx)
		d.metrics.ObserveRateLimitWait(w.name, time.Since(waitStart))
		if err != nil {
			if ctx.Err() != nil {
				return contextFailure(ctx.Err(), attempt-1)
			}
			d.logger.Warn("rate limit wait timed out",
				zap.String("capability", w.name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return domain.Fail(domain.ClassifyError(err), err.Error(), attempt-1)
		}

		output, err := d.invoke(ctx, w, input)
		if err == nil {
			data, err := json.Marshal(output)
			if err != nil {
				return domain.Fail(domain.FailureKindPermanent, fmt.Sprintf("failed to marshal output: %v", err), attempt)
			}
			d.store(ctx, w, key, data)
			return domain.Success(data, attempt)
		}

		if ctx.Err() != nil {
			return contextFailure(ctx.Err(), attempt)
		}

		kind := domain.ClassifyError(err)
		if !kind.IsTransient() {
			d.logger.Warn("capability call failed",
				zap.String("capability", w.name),
				zap.String("kind", string(kind)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return domain.Fail(kind, err.Error(), attempt)
		}
		if attempt >= d.cfg.MaxAttempts {
			d.logger.Warn("capability call retries exhausted",
				zap.String("capability", w.name),
				zap.String("kind", string(kind)),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return domain.Fail(kind, fmt.Sprintf("%v (after %d attempts)", err, attempt), attempt)
		}

		delay := d.backoff(attempt)
		d.metrics.RecordRetry(w.name)
		d.logger.Info("retrying capability call",
			zap.String("capability", w.name),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay))

		if err := d.sleep(ctx, delay); err != nil {
			return contextFailure(err, attempt)
		}
	}
}

// invoke makes a single external call under the concurrency cap
func (d *Dispatcher) invoke(ctx context.Context, w *worker, input domain.Input) (output any, err error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer w.sem.Release(1)

	d.metrics.SetInFlight(w.name, w.begin())
	defer func() { d.metrics.SetInFlight(w.name, w.end()) }()

	callCtx := ctx
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s panicked: %v", w.name, r)
		}
		result := "success"
		if err != nil {
			result = string(domain.ClassifyError(err))
		}
		d.metrics.RecordCapabilityCall(w.name, result, time.Since(start))
	}()

	return w.capability.Invoke(callCtx, input)
}

func (d *Dispatcher) lookup(ctx context.Context, w *worker, key string) (json.RawMessage, bool) {
	if d.cache == nil {
		return nil, false
	}

	data, hit, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn("cache lookup failed, bypassing cache",
			zap.String("capability", w.name),
			zap.String("fingerprint", key),
			zap.Error(err))
		return nil, false
	}

	d.metrics.RecordCacheLookup(w.name, hit)
	if !hit {
		return nil, false
	}
	return json.RawMessage(data), true
}

func (d *Dispatcher) store(ctx context.Context, w *worker, key string, data []byte) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Put(ctx, key, data, d.cfg.CacheTTL); err != nil {
		d.logger.Warn("cache write failed",
			zap.String("capability", w.name),
			zap.String("fingerprint", key),
			zap.Error(err))
	}
}

// ClearCache invalidates every cached output
func (d *Dispatcher) ClearCache(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}
	if err := d.cache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	d.logger.Info("cache cleared")
	return nil
}

// CapabilityStatus is a point-in-time view of one capability
type CapabilityStatus struct {
	Name            string    `json:"name"`
	MaxConcurrency  int       `json:"max_concurrency"`
	CallsPerMinute  int       `json:"calls_per_minute"`
	InFlight        int       `json:"in_flight"`
	TokensAvailable float64   `json:"tokens_available"`
	Calls           int64     `json:"calls"`
	LastCall        time.Time `json:"last_call,omitempty"`
}

// Capabilities lists registered capabilities sorted by name
func (d *Dispatcher) Capabilities() []CapabilityStatus {
	d.mu.RLock()
	workers := make([]*worker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.mu.RUnlock()

	statuses := make([]CapabilityStatus, 0, len(workers))
	for _, w := range workers {
		w.mu.Lock()
		status := CapabilityStatus{
			Name:           w.name,
			MaxConcurrency: w.maxConcurrency,
			CallsPerMinute: w.limiter.Capacity(),
			InFlight:       w.inFlight,
			Calls:          w.calls,
			LastCall:       w.lastCall,
		}
		w.mu.Unlock()
		status.TokensAvailable = w.limiter.Tokens()
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// InFlightCalls returns the number of outstanding coalesced calls
func (d *Dispatcher) InFlightCalls() int {
	return d.flights.inFlight()
}

func (d *Dispatcher) worker(name string) (*worker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workers[name]
	return w, ok
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase << uint(attempt-1)
	if delay <= 0 || (d.cfg.BackoffMax > 0 && delay > d.cfg.BackoffMax) {
		delay = d.cfg.BackoffMax
	}
	return delay
}

func (w *worker) begin() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight++
	w.calls++
	w.lastCall = time.Now()
	return w.inFlight
}

func (w *worker) end() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight--
	return w.inFlight
}

func contextFailure(err error, attempts int) domain.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Fail(domain.FailureKindTimeout, "task deadline exceeded", attempts)
	}
	return domain.Fail(domain.FailureKindCancelled, "call cancelled", attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
