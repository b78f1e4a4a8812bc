package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/taskmesh/pkg/ports"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type received struct {
	mu     sync.Mutex
	events []ports.Event
}

func (r *received) handle(ctx context.Context, event ports.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *received) types() []ports.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]ports.EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestStreamsEventBus_Publish(t *testing.T) {
	client, mr := newTestClient(t)
	bus := NewStreamsEventBus(client, "", "", 100, zaptest.NewLogger(t))
	defer bus.Close()

	event := ports.Event{ID: "e1", Type: ports.EventTypeRunSubmitted, RunID: "run-1", Timestamp: time.Now()}
	require.NoError(t, bus.Publish(context.Background(), ports.TopicRuns, event))

	entries, err := mr.Stream("taskmesh:events:" + ports.TopicRuns)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Values[1], `"run_id":"run-1"`)
}

func TestStreamsEventBus_IndependentReaderStartsAtSubscribe(t *testing.T) {
	client, _ := newTestClient(t)
	bus := NewStreamsEventBus(client, "", "", 0, zaptest.NewLogger(t))
	defer bus.Close()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, ports.TopicRuns, ports.Event{ID: "old", Type: ports.EventTypeRunSubmitted}))

	var got received
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, bus.Subscribe(subCtx, ports.TopicRuns, got.handle))

	require.NoError(t, bus.Publish(ctx, ports.TopicRuns, ports.Event{ID: "1", Type: ports.EventTypeTaskStarted}))
	require.NoError(t, bus.Publish(ctx, ports.TopicRuns, ports.Event{ID: "2", Type: ports.EventTypeTaskCompleted}))

	assert.Eventually(t, func() bool { return len(got.types()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []ports.EventType{ports.EventTypeTaskStarted, ports.EventTypeTaskCompleted}, got.types())
}

func TestStreamsEventBus_ConsumerGroup(t *testing.T) {
	client, _ := newTestClient(t)
	bus := NewStreamsEventBus(client, "taskmesh", "worker-1", 0, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, ports.TopicRuns, ports.Event{ID: "1", Type: ports.EventTypeRunSubmitted}))
	require.NoError(t, bus.Publish(ctx, ports.TopicRuns, ports.Event{ID: "2", Type: ports.EventTypeRunCompleted}))

	var got received
	require.NoError(t, bus.Subscribe(ctx, ports.TopicRuns, got.handle))
	// a second subscribe reuses the existing group
	require.NoError(t, bus.Subscribe(ctx, ports.TopicRuns, got.handle))

	// each event is delivered to exactly one member of the group and acknowledged
	assert.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "taskmesh:events:"+ports.TopicRuns, "taskmesh").Result()
		return err == nil && pending.Count == 0 && len(got.types()) == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []ports.EventType{ports.EventTypeRunSubmitted, ports.EventTypeRunCompleted}, got.types())

	require.NoError(t, bus.Close())
}
