package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && !now.Before(e.createdAt.Add(e.ttl))
}

// Store implements CacheStore with an in-process map.
// Expiry is checked on read; Start runs an optional periodic sweep.
type Store struct {
	entries map[string]entry
	mu      sync.RWMutex
	now     func() time.Time
	logger  *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new in-memory cache store
func NewStore(logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		now:     time.Now,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value for key unless it is absent or expired
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if e.expired(s.now()) {
		s.evict(key, e.createdAt)
		return nil, false, nil
	}

	return e.value, true, nil
}

// Put stores value under key, replacing any previous entry
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{value: stored, createdAt: s.now(), ttl: ttl}
	return nil
}

// InvalidateAll drops every entry
func (s *Store) InvalidateAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]entry)
	s.logger.Debug("cache cleared")
	return nil
}

// Len returns the number of stored entries, expired ones included
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Start launches the periodic sweep of expired entries
func (s *Store) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop ends the sweep goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Sweep removes all expired entries and returns how many were removed
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("expired cache entries swept", zap.Int("removed", removed))
	}
	return removed
}

// evict removes key only if it still holds the entry observed as expired.
func (s *Store) evict(key string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[key]; ok && cur.createdAt.Equal(createdAt) {
		delete(s.entries, key)
	}
}
