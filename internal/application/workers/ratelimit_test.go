package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeClockLimiter(capacity int, window time.Duration) (*RateLimiter, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter("render", capacity, window, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimiter_Burst(t *testing.T) {
	l, _ := newFakeClockLimiter(3, time.Second)

	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestRateLimiter_RollingWindow(t *testing.T) {
	l, now := newFakeClockLimiter(2, time.Second)

	require.True(t, l.TryAcquire())
	require.True(t, l.TryAcquire())

	// the bucket has refilled more than one token but the window is still full
	*now = now.Add(600 * time.Millisecond)
	assert.Greater(t, l.Tokens(), 1.0)
	assert.False(t, l.TryAcquire())

	*now = now.Add(400 * time.Millisecond)
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestRateLimiter_NoMoreThanCapacityPerWindow(t *testing.T) {
	l, now := newFakeClockLimiter(5, time.Second)
	start := *now

	var admitted []time.Time
	for step := 0; step < 400; step++ {
		if l.TryAcquire() {
			admitted = append(admitted, *now)
		}
		*now = now.Add(10 * time.Millisecond)
	}
	require.NotEmpty(t, admitted)

	for i := range admitted {
		inWindow := 0
		for _, ts := range admitted[i:] {
			if ts.Sub(admitted[i]) < time.Second {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, 5, "window starting at %v", admitted[i].Sub(start))
	}
}

func TestRateLimiter_Unlimited(t *testing.T) {
	l := NewPerMinuteRateLimiter("render", 0, time.Second)

	assert.True(t, l.Unlimited())
	for i := 0; i < 100; i++ {
		assert.True(t, l.TryAcquire())
	}
	assert.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, -1.0, l.Tokens())
}

func TestRateLimiter_AcquireTimeout(t *testing.T) {
	l := NewPerMinuteRateLimiter("render", 1, 50*time.Millisecond)

	require.NoError(t, l.Acquire(context.Background()))

	err := l.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimitTimeout))
	assert.Equal(t, domain.FailureKindRateLimited, domain.ClassifyError(err))
}

func TestRateLimiter_AcquireFailsFastBeyondWaitBudget(t *testing.T) {
	l := NewPerMinuteRateLimiter("render", 1, 50*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))

	start := time.Now()
	err := l.Acquire(context.Background())
	elapsed := time.Since(start)

	var timeoutErr *domain.RateLimitTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Less(t, elapsed, 50*time.Millisecond)
	assert.Greater(t, timeoutErr.Needed, 50*time.Millisecond)
	assert.Equal(t, "render", timeoutErr.Capability)
	assert.Contains(t, err.Error(), "for the next token")
}

func TestRateLimiter_AcquireContextDone(t *testing.T) {
	l := NewPerMinuteRateLimiter("render", 1, 0)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_AcquireWaitsForRefill(t *testing.T) {
	l := NewRateLimiter("render", 1, 30*time.Millisecond, time.Second)

	require.NoError(t, l.Acquire(context.Background()))

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
