package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/taskmesh/pkg/domain"
)

// ResultStore implements ports.ResultStore using an in-memory map.
// Results live for the lifetime of the process.
type ResultStore struct {
	results map[string]*domain.GraphResult
	mu      sync.RWMutex
}

// NewResultStore creates a new in-memory result store
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string]*domain.GraphResult),
	}
}

// SaveResult stores a copy of the result
func (s *ResultStore) SaveResult(ctx context.Context, result *domain.GraphResult) error {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("result has no run id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid mutations
	resultCopy := *result
	resultCopy.Tasks = append([]domain.TaskResult(nil), result.Tasks...)
	s.results[result.RunID] = &resultCopy

	return nil
}

// GetResult retrieves a result by run id
func (s *ResultStore) GetResult(ctx context.Context, runID string) (*domain.GraphResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}

	resultCopy := *result
	return &resultCopy, nil
}

// DeleteResult removes a result
func (s *ResultStore) DeleteResult(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.results, runID)
	return nil
}

// Len returns the number of stored results
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
