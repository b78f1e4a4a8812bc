package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aescanero/taskmesh/pkg/ports"
	"go.uber.org/zap"
)

const subscriberBuffer = 256

// ErrClosed is returned by Subscribe after Close
var ErrClosed = errors.New("event bus closed")

// subscription delivers events to one handler in publish order
type subscription struct {
	id      uint64
	topic   string
	handler ports.EventHandler
	events  chan ports.Event
	done    chan struct{}
}

// EventBus implements ports.EventBus in process. Every subscriber of a
// topic receives every event published to it.
type EventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	nextID      uint64
	subscribers map[string]map[uint64]*subscription
	closed      bool
}

// NewEventBus creates a new in-memory event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger:      logger,
		subscribers: make(map[string]map[uint64]*subscription),
	}
}

// Publish publishes an event to all subscribers of a topic. A subscriber
// whose buffer is full misses the event.
func (e *EventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subscribers[topic] {
		select {
		case sub.events <- event:
		default:
			e.logger.Warn("subscriber buffer full, dropping event",
				zap.String("topic", topic),
				zap.String("event_type", string(event.Type)),
				zap.String("run_id", event.RunID))
		}
	}

	return nil
}

// Subscribe registers handler until ctx ends or the bus is closed
func (e *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	e.nextID++
	sub := &subscription{
		id:      e.nextID,
		topic:   topic,
		handler: handler,
		events:  make(chan ports.Event, subscriberBuffer),
		done:    make(chan struct{}),
	}
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]*subscription)
	}
	e.subscribers[topic][sub.id] = sub

	go e.deliver(ctx, sub)
	go func() {
		select {
		case <-ctx.Done():
			e.unsubscribe(sub)
		case <-sub.done:
		}
	}()

	return nil
}

func (e *EventBus) deliver(ctx context.Context, sub *subscription) {
	for event := range sub.events {
		if err := sub.handler(ctx, event); err != nil {
			e.logger.Debug("event handler error",
				zap.String("topic", sub.topic),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
}

// unsubscribe removes a subscription and stops its delivery goroutine
func (e *EventBus) unsubscribe(sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscribers[sub.topic][sub.id]; !ok {
		return
	}
	delete(e.subscribers[sub.topic], sub.id)
	if len(e.subscribers[sub.topic]) == 0 {
		delete(e.subscribers, sub.topic)
	}
	close(sub.events)
	close(sub.done)
}

// Subscribers returns the number of subscribers of a topic
func (e *EventBus) Subscribers(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

// Close removes every subscription
func (e *EventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	for topic, subs := range e.subscribers {
		for _, sub := range subs {
			close(sub.events)
			close(sub.done)
		}
		delete(e.subscribers, topic)
	}
	return nil
}
