package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "taskmesh:cache:"

// Store implements CacheStore using Redis with native key expiry
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// NewStore creates a new Redis cache store
func NewStore(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// Get retrieves a cached output
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, getCacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	return data, true, nil
}

// Put stores an output with TTL, overwriting any existing entry
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, getCacheKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	s.logger.Debug("cache entry stored",
		zap.String("fingerprint", key),
		zap.Duration("ttl", ttl))

	return nil
}

// InvalidateAll deletes every cache key
func (s *Store) InvalidateAll(ctx context.Context) error {
	var cursor uint64
	deleted := 0

	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}

		if len(batch) > 0 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to delete cache keys: %w", err)
			}
			deleted += len(batch)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.Info("cache cleared", zap.Int("deleted", deleted))
	return nil
}

// getCacheKey returns the Redis key for a fingerprint
func getCacheKey(fingerprint string) string {
	return keyPrefix + fingerprint
}
