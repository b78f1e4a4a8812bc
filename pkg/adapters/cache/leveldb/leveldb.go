package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

var keyPrefix = []byte("cache:")

type record struct {
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store implements CacheStore on a local LevelDB database.
// Entries survive restarts; expiry is stored with each record.
type Store struct {
	db     *leveldb.DB
	logger *zap.Logger
	now    func() time.Time

	stopCleanup chan struct{}
}

// Open opens (or creates) the database at path
func Open(path string, logger *zap.Logger) (*Store, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024,
		WriteBuffer:         1 * 1024 * 1024,
	}

	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}

	return &Store{
		db:          db,
		logger:      logger,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}, nil
}

// Close stops the cleanup routine and closes the database
func (s *Store) Close() error {
	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}
	return s.db.Close()
}

// Get returns the stored output unless absent or expired
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.db.Get(dbKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	if !rec.ExpiresAt.IsZero() && !s.now().Before(rec.ExpiresAt) {
		if err := s.db.Delete(dbKey(key), nil); err != nil {
			s.logger.Warn("failed to delete expired cache entry",
				zap.String("fingerprint", key),
				zap.Error(err))
		}
		return nil, false, nil
	}

	return rec.Value, true, nil
}

// Put stores an output, replacing any previous record
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	rec := record{Value: value, CreatedAt: now}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.db.Put(dbKey(key), data, nil); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// InvalidateAll deletes every cache record
func (s *Store) InvalidateAll(ctx context.Context) error {
	return s.deleteWhere(func(record) bool { return true })
}

// StartCleanup periodically removes expired records
func (s *Store) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCleanup:
				return
			case <-ticker.C:
				now := s.now()
				err := s.deleteWhere(func(rec record) bool {
					return !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt)
				})
				if err != nil {
					s.logger.Error("cache cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Store) deleteWhere(match func(record) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix(keyPrefix), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil || match(rec) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			batch.Delete(key)
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to iterate cache entries: %w", err)
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}

	s.logger.Debug("cache entries deleted", zap.Int("count", batch.Len()))
	return nil
}

func dbKey(fingerprint string) []byte {
	return append(append([]byte{}, keyPrefix...), fingerprint...)
}
