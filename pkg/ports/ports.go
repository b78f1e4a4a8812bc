// Package ports declares the interfaces the orchestration core depends on.
//
// Adapters under pkg/adapters implement them:
//   - CacheStore: memory, redis, leveldb
//   - EventBus: memory, redis streams
//   - ResultStore: memory, redis
//   - MetricsCollector: prometheus
package ports

import (
	"context"
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
)

// CacheStore is a fingerprint-keyed output store with per-entry expiry.
// Expired entries must never be returned from Get.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidateAll(ctx context.Context) error
}

// EventType names a run or task lifecycle event. run.completed is always the
// last event of a run; a cancelled run publishes run.cancelled just before it.
type EventType string

const (
	EventTypeRunSubmitted  EventType = "run.submitted"
	EventTypeRunCompleted  EventType = "run.completed"
	EventTypeRunCancelled  EventType = "run.cancelled"
	EventTypeTaskReady     EventType = "task.ready"
	EventTypeTaskStarted   EventType = "task.started"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskFailed    EventType = "task.failed"
	EventTypeTaskSkipped   EventType = "task.skipped"
)

// TopicRuns is the single topic all lifecycle events are published to
const TopicRuns = "runs.events"

// Event is a lifecycle notification
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	TaskID    string         `json:"task_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventHandler processes a received event
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes and delivers lifecycle events
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// ResultStore persists synthesized run results
type ResultStore interface {
	SaveResult(ctx context.Context, result *domain.GraphResult) error
	GetResult(ctx context.Context, runID string) (*domain.GraphResult, error)
	DeleteResult(ctx context.Context, runID string) error
}

// MetricsCollector records orchestration metrics
type MetricsCollector interface {
	RecordRunSubmitted()
	RecordRunCompleted(status string, duration time.Duration)
	SetActiveRuns(count int)
	RecordTaskFinished(capability, status string, duration time.Duration)
	RecordCacheLookup(capability string, hit bool)
	RecordCapabilityCall(capability, result string, duration time.Duration)
	RecordRetry(capability string)
	RecordCoalesced(capability string)
	ObserveRateLimitWait(capability string, duration time.Duration)
	SetInFlight(capability string, count int)
}
