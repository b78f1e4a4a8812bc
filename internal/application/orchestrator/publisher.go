package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/taskmesh/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// publisher hands lifecycle events to the event bus from its own goroutine so
// run coordination never waits on the bus.
type publisher struct {
	bus    ports.EventBus
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	events chan ports.Event
	done   chan struct{}
}

func newPublisher(bus ports.EventBus, buffer int, logger *zap.Logger) *publisher {
	if buffer < 1 {
		buffer = 1
	}
	p := &publisher{
		bus:    bus,
		logger: logger,
		events: make(chan ports.Event, buffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *publisher) publish(eventType ports.EventType, runID, taskID string, data map[string]any) {
	if p.bus == nil {
		return
	}

	event := ports.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Data:      data,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.events <- event:
	default:
		p.logger.Warn("event buffer full, dropping event",
			zap.String("run_id", runID),
			zap.String("event_type", string(eventType)))
	}
}

func (p *publisher) run() {
	defer close(p.done)

	for event := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.bus.Publish(ctx, ports.TopicRuns, event); err != nil {
			p.logger.Error("failed to publish event",
				zap.String("run_id", event.RunID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
		cancel()
	}
}

// close stops accepting events and waits until buffered ones are published
func (p *publisher) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
