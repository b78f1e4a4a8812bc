package workers

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
	"golang.org/x/time/rate"
)

// RateLimiter is a per-capability token bucket.
//
// The bucket holds up to capacity tokens and refills at capacity/window.
// Admissions are also recorded in a ring of the last capacity timestamps so that
// no more than capacity calls are admitted within any rolling window, which a
// bare bucket allows after a full burst.
type RateLimiter struct {
	capability  string
	capacity    int
	window      time.Duration
	waitTimeout time.Duration

	mu       sync.Mutex
	bucket   *rate.Limiter
	admitted []time.Time
	next     int
	now      func() time.Time
}

// NewRateLimiter creates a limiter admitting capacity calls per window.
// A non-positive capacity disables limiting.
func NewRateLimiter(capability string, capacity int, window, waitTimeout time.Duration) *RateLimiter {
	l := &RateLimiter{
		capability:  capability,
		capacity:    capacity,
		window:      window,
		waitTimeout: waitTimeout,
		now:         time.Now,
	}
	if capacity > 0 && window > 0 {
		perSecond := float64(capacity) / window.Seconds()
		l.bucket = rate.NewLimiter(rate.Limit(perSecond), capacity)
		l.admitted = make([]time.Time, 0, capacity)
	}
	return l
}

// NewPerMinuteRateLimiter creates a limiter for an "N calls per minute" setting
func NewPerMinuteRateLimiter(capability string, callsPerMinute int, waitTimeout time.Duration) *RateLimiter {
	return NewRateLimiter(capability, callsPerMinute, time.Minute, waitTimeout)
}

// Unlimited reports whether the limiter admits every call
func (l *RateLimiter) Unlimited() bool {
	return l.bucket == nil
}

// Capacity returns the bucket size
func (l *RateLimiter) Capacity() int {
	return l.capacity
}

// Tokens returns the currently available tokens, refilled to now
func (l *RateLimiter) Tokens() float64 {
	if l.Unlimited() {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bucket.TokensAt(l.now())
}

// TryAcquire takes one token if one is available right now
func (l *RateLimiter) TryAcquire() bool {
	if l.Unlimited() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserveLocked(l.now()) == 0
}

// Acquire blocks until a token is available or ctx ends. It returns a
// RateLimitTimeoutError without blocking when the next token is further away
// than the wait timeout, or once the wait timeout elapses.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if l.Unlimited() {
		return nil
	}

	start := l.now()
	var deadline <-chan time.Time
	if l.waitTimeout > 0 {
		timer := time.NewTimer(l.waitTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		l.mu.Lock()
		wait := l.reserveLocked(l.now())
		l.mu.Unlock()

		if wait == 0 {
			return nil
		}
		// fail fast when the next token lies beyond the wait budget
		if l.waitTimeout > 0 && l.now().Add(wait).Sub(start) > l.waitTimeout {
			return &domain.RateLimitTimeoutError{Capability: l.capability, Waited: l.now().Sub(start), Needed: wait}
		}

		retry := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			retry.Stop()
			return ctx.Err()
		case <-deadline:
			retry.Stop()
			return &domain.RateLimitTimeoutError{Capability: l.capability, Waited: l.now().Sub(start)}
		case <-retry.C:
		}
	}
}

// reserveLocked admits a call at now and returns 0, or returns how long to wait.
func (l *RateLimiter) reserveLocked(now time.Time) time.Duration {
	if len(l.admitted) == l.capacity {
		oldest := l.admitted[l.next]
		if until := oldest.Add(l.window).Sub(now); until > 0 {
			return until
		}
	}

	r := l.bucket.ReserveN(now, 1)
	if !r.OK() {
		return l.window
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return delay
	}

	if len(l.admitted) < l.capacity {
		l.admitted = append(l.admitted, now)
	} else {
		l.admitted[l.next] = now
		l.next = (l.next + 1) % l.capacity
	}
	return 0
}
