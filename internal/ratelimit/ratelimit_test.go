package ratelimit

import (
	"context"
	"testing"
	"time"
)

func newTestWindow(max int, window time.Duration) (*SlidingWindow, *time.Time) {
	limiter := NewSlidingWindow(max, window)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }
	return limiter, &current
}

func TestEleventhAttemptRejected(t *testing.T) {
	limiter, _ := newTestWindow(10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision, err := limiter.Consume(ctx, "voter-a")
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if decision.OverLimit {
			t.Fatalf("attempt %d should be admitted", i+1)
		}
	}

	decision, err := limiter.Consume(ctx, "voter-a")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !decision.OverLimit {
		t.Fatal("11th attempt within the window must be rejected")
	}
	if decision.RetryAfter <= 0 || decision.RetryAfter > time.Minute {
		t.Fatalf("RetryAfter out of range: %v", decision.RetryAfter)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestWindow(1, time.Minute)
	ctx := context.Background()

	if d, _ := limiter.Consume(ctx, "voter-a"); d.OverLimit {
		t.Fatal("first attempt for voter-a rejected")
	}
	if d, _ := limiter.Consume(ctx, "voter-b"); d.OverLimit {
		t.Fatal("voter-b must not share voter-a's budget")
	}
	if d, _ := limiter.Consume(ctx, "voter-a"); !d.OverLimit {
		t.Fatal("second attempt for voter-a should be rejected")
	}
}

func TestWindowSlides(t *testing.T) {
	limiter, current := newTestWindow(2, time.Minute)
	ctx := context.Background()

	limiter.Consume(ctx, "voter-a")
	*current = current.Add(30 * time.Second)
	limiter.Consume(ctx, "voter-a")

	// 31s later the first attempt has aged out; one slot frees up.
	*current = current.Add(31 * time.Second)
	if d, _ := limiter.Consume(ctx, "voter-a"); d.OverLimit {
		t.Fatal("attempt after oldest expired should be admitted")
	}
	if d, _ := limiter.Consume(ctx, "voter-a"); !d.OverLimit {
		t.Fatal("window should be full again")
	}
}

func TestRejectedAttemptExtendsLockout(t *testing.T) {
	limiter, current := newTestWindow(1, time.Minute)
	ctx := context.Background()

	if d, _ := limiter.Consume(ctx, "voter-a"); d.OverLimit {
		t.Fatal("first attempt should be admitted")
	}

	*current = current.Add(30 * time.Second)
	if d, _ := limiter.Consume(ctx, "voter-a"); !d.OverLimit {
		t.Fatal("second attempt inside window should be rejected")
	}

	// 70s after the admitted attempt the window would be clear, but the
	// rejected attempt at +30s still counts, so the client stays locked out.
	*current = current.Add(40 * time.Second)
	if d, _ := limiter.Consume(ctx, "voter-a"); !d.OverLimit {
		t.Fatal("rejected attempts must keep the window occupied")
	}

	// Only after every attempt has aged out does a slot free up.
	*current = current.Add(61 * time.Second)
	if d, _ := limiter.Consume(ctx, "voter-a"); d.OverLimit {
		t.Fatal("attempt after full quiet period should be admitted")
	}
}

func TestSweepDropsExpiredKeys(t *testing.T) {
	limiter, current := newTestWindow(10, time.Minute)
	ctx := context.Background()

	limiter.Consume(ctx, "voter-a")
	limiter.Consume(ctx, "voter-b")
	*current = current.Add(2 * time.Minute)
	limiter.Consume(ctx, "voter-c")

	limiter.sweepOnce()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.attempts["voter-a"]; ok {
		t.Fatal("expired key voter-a should have been swept")
	}
	if _, ok := limiter.attempts["voter-b"]; ok {
		t.Fatal("expired key voter-b should have been swept")
	}
	if _, ok := limiter.attempts["voter-c"]; !ok {
		t.Fatal("active key voter-c must survive the sweep")
	}
}
