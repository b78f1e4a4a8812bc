package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
)

// testMetrics records dispatcher metrics for assertions
type testMetrics struct {
	mu        sync.Mutex
	calls     map[string]int
	retries   map[string]int
	coalesced map[string]int
	hits      map[string]int
	misses    map[string]int
}

func newTestMetrics() *testMetrics {
	return &testMetrics{
		calls:     make(map[string]int),
		retries:   make(map[string]int),
		coalesced: make(map[string]int),
		hits:      make(map[string]int),
		misses:    make(map[string]int),
	}
}

func (m *testMetrics) RecordRunSubmitted()                              {}
func (m *testMetrics) RecordRunCompleted(string, time.Duration)         {}
func (m *testMetrics) SetActiveRuns(int)                                {}
func (m *testMetrics) RecordTaskFinished(string, string, time.Duration) {}
func (m *testMetrics) ObserveRateLimitWait(string, time.Duration)       {}
func (m *testMetrics) SetInFlight(string, int)                          {}

func (m *testMetrics) RecordCacheLookup(capability string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits[capability]++
	} else {
		m.misses[capability]++
	}
}

func (m *testMetrics) RecordCapabilityCall(capability, result string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[capability]++
}

func (m *testMetrics) RecordRetry(capability string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[capability]++
}

func (m *testMetrics) RecordCoalesced(capability string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coalesced[capability]++
}

func (m *testMetrics) get(counter map[string]int, capability string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return counter[capability]
}

// failingCache fails every operation
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errCacheDown
}

func (failingCache) Put(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}

func (failingCache) InvalidateAll(context.Context) error {
	return errCacheDown
}

var errCacheDown = errors.New("cache down")

func payload(kv ...any) domain.Input {
	p := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i].(string)] = kv[i+1]
	}
	return domain.Input{Payload: p}
}

// waiters returns the number of callers attached to key
func (g *flightGroup) waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.flights[key]; ok {
		return f.waiters
	}
	return 0
}
