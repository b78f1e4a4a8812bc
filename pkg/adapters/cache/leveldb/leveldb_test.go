package leveldb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "fp1", []byte(`"out"`), time.Minute))
	require.NoError(t, store.Put(ctx, "fp2", []byte(`"other"`), time.Hour))

	value, hit, err := store.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte(`"out"`), value)

	now = now.Add(time.Minute)
	_, hit, err = store.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.False(t, hit, "expired entry is a miss")

	_, hit, _ = store.Get(ctx, "fp2")
	assert.True(t, hit)

	require.NoError(t, store.InvalidateAll(ctx))
	_, hit, _ = store.Get(ctx, "fp2")
	assert.False(t, hit)

	require.NoError(t, store.Close())
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "fp", []byte("persisted"), time.Hour))
	require.NoError(t, store.Close())

	reopened, err := Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()

	value, hit, err := reopened.Get(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("persisted"), value)
}
