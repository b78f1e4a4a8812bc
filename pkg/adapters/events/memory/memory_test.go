package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/taskmesh/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type collector struct {
	mu     sync.Mutex
	events []ports.Event
}

func (c *collector) handle(ctx context.Context, event ports.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.events))
	for i, e := range c.events {
		ids[i] = e.ID
	}
	return ids
}

func TestEventBus_BroadcastInOrder(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var first, second collector
	require.NoError(t, bus.Subscribe(ctx, ports.TopicRuns, first.handle))
	require.NoError(t, bus.Subscribe(ctx, ports.TopicRuns, second.handle))
	assert.Equal(t, 2, bus.Subscribers(ports.TopicRuns))

	want := []string{"1", "2", "3", "4"}
	for _, id := range want {
		require.NoError(t, bus.Publish(context.Background(), ports.TopicRuns, ports.Event{ID: id, Type: ports.EventTypeTaskReady}))
	}
	require.NoError(t, bus.Publish(context.Background(), "other", ports.Event{ID: "x"}))

	assert.Eventually(t, func() bool { return len(first.ids()) == 4 && len(second.ids()) == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, want, first.ids())
	assert.Equal(t, want, second.ids())
}

func TestEventBus_UnsubscribeOnContextDone(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	require.NoError(t, bus.Subscribe(ctx, ports.TopicRuns, c.handle))

	cancel()
	assert.Eventually(t, func() bool { return bus.Subscribers(ports.TopicRuns) == 0 }, time.Second, time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), ports.TopicRuns, ports.Event{ID: "late"}))
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, c.ids())
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	var c collector
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicRuns, c.handle))

	require.NoError(t, bus.Close())
	assert.Zero(t, bus.Subscribers(ports.TopicRuns))
	assert.Error(t, bus.Subscribe(context.Background(), ports.TopicRuns, c.handle))
	assert.NoError(t, bus.Publish(context.Background(), ports.TopicRuns, ports.Event{ID: "after-close"}))
}
