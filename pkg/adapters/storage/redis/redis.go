package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const resultKeyPrefix = "taskmesh:result:"

// ResultStore implements ports.ResultStore using Redis
type ResultStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewResultStore creates a new Redis result store. A zero ttl keeps results forever.
func NewResultStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ResultStore {
	return &ResultStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveResult persists a run result
func (s *ResultStore) SaveResult(ctx context.Context, result *domain.GraphResult) error {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("result has no run id")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.Set(ctx, getResultKey(result.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	s.logger.Debug("result saved",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)))

	return nil
}

// GetResult retrieves a run result
func (s *ResultStore) GetResult(ctx context.Context, runID string) (*domain.GraphResult, error) {
	data, err := s.client.Get(ctx, getResultKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result domain.GraphResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &result, nil
}

// DeleteResult removes a run result
func (s *ResultStore) DeleteResult(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, getResultKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

func getResultKey(runID string) string {
	return resultKeyPrefix + runID
}
