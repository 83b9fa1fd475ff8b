// Package ratelimit throttles vote attempts per client identity.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision reports the outcome of a Consume call. RetryAfter is how long the
// caller should wait before the oldest counted attempt leaves the window; it
// is zero when the attempt was admitted.
type Decision struct {
	OverLimit  bool
	RetryAfter time.Duration
}

// Limiter admits or rejects an attempt for a key. Implementations consume
// the attempt regardless of what the caller does with the admitted request.
type Limiter interface {
	Consume(ctx context.Context, key string) (Decision, error)
}

// SlidingWindow tracks recent attempt timestamps per key and rejects the
// attempt that would exceed max within the window. With max=10 and a 60s
// window the 11th attempt inside any 60-second span is rejected.
type SlidingWindow struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	attempts map[string][]time.Time
	now      func() time.Time
}

// NewSlidingWindow builds a limiter allowing max attempts per window.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		window:   window,
		max:      max,
		attempts: make(map[string][]time.Time),
		now:      func() time.Time { return time.Now() },
	}
}

// Consume records an attempt for key and reports whether it crossed the
// ceiling. Every attempt counts, rejected ones included, so a client that
// keeps hammering keeps its own lockout alive.
func (l *SlidingWindow) Consume(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := append(pruneBefore(l.attempts[key], now.Add(-l.window)), now)
	l.attempts[key] = recent

	if len(recent) > l.max {
		retryAfter := recent[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{OverLimit: true, RetryAfter: retryAfter}, nil
	}
	return Decision{}, nil
}

// Sweep drops keys whose attempts have all expired, bounding memory on
// long-running processes. It blocks until ctx is cancelled.
func (l *SlidingWindow) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweepOnce()
		}
	}
}

func (l *SlidingWindow) sweepOnce() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, stamps := range l.attempts {
		recent := pruneBefore(stamps, cutoff)
		if len(recent) == 0 {
			delete(l.attempts, key)
			continue
		}
		l.attempts[key] = recent
	}
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[idx:]...)
}
