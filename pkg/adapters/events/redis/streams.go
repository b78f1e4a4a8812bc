package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/taskmesh/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const readBlock = time.Second

// StreamsEventBus implements EventBus using Redis Streams.
//
// With a consumer group every event is handled by one consumer of the group.
// Without one each subscriber reads the stream independently from the time it
// subscribed, which is what live run watchers need.
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
	maxLen        int64

	wg      sync.WaitGroup
	closeCh chan struct{}
	once    sync.Once
}

// NewStreamsEventBus creates a new Redis Streams event bus. maxLen caps each
// stream approximately; zero leaves it unbounded.
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, maxLen int64, logger *zap.Logger) *StreamsEventBus {
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		maxLen:        maxLen,
		closeCh:       make(chan struct{}),
	}
}

// Publish publishes an event to the appropriate stream topic
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("run_id", event.RunID),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe subscribes to events on a specific topic until ctx ends
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	if e.consumerGroup != "" {
		err := e.client.XGroupCreateMkStream(ctx, streamKey, e.consumerGroup, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
	}

	// start position for independent readers: the last entry at subscribe time
	lastID := "0-0"
	if e.consumerGroup == "" {
		entries, err := e.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
		if err != nil {
			return fmt.Errorf("failed to read stream position: %w", err)
		}
		if len(entries) > 0 {
			lastID = entries[0].ID
		}
	}

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("consumer_group", e.consumerGroup),
		zap.String("consumer", e.consumerName))

	readCtx, cancel := context.WithCancel(ctx)
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		select {
		case <-e.closeCh:
			cancel()
		case <-readCtx.Done():
		}
	}()
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.readStream(readCtx, streamKey, lastID, handler)
	}()

	return nil
}

// readStream reads events from a stream until ctx ends
func (e *StreamsEventBus) readStream(ctx context.Context, streamKey, lastID string, handler ports.EventHandler) {
	for ctx.Err() == nil {
		streams, err := e.read(ctx, streamKey, lastID)
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(readBlock):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				e.processMessage(ctx, streamKey, message, handler)
				lastID = message.ID
			}
		}
	}
}

func (e *StreamsEventBus) read(ctx context.Context, streamKey, lastID string) ([]redis.XStream, error) {
	if e.consumerGroup != "" {
		return e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.consumerGroup,
			Consumer: e.consumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    readBlock,
		}).Result()
	}

	return e.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey, lastID},
		Count:   10,
		Block:   readBlock,
	}).Result()
}

// processMessage processes a single message from the stream
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	var event ports.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if e.consumerGroup == "" {
		return
	}
	if err := e.client.XAck(ctx, streamKey, e.consumerGroup, message.ID).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Close stops all readers. The Redis client is closed by the caller.
func (e *StreamsEventBus) Close() error {
	e.once.Do(func() { close(e.closeCh) })
	e.wg.Wait()
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("taskmesh:events:%s", topic)
}
