package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/pulith/pulith/ratelimit"
)

// TestTokenBucketRateScenario is the spec's literal scenario 5: capacity=50,
// rate=50 B/s, acquire 25 twice starting from empty tokens. The second
// acquire can only be satisfied after roughly 500ms of refill, since the
// first acquire drains the bucket back to zero.
func TestTokenBucketRateScenario(t *testing.T) {
	b := ratelimit.NewEmpty(50, 50)
	ctx := context.Background()

	start := time.Now()
	if err := b.Acquire(ctx, 25); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := b.Acquire(ctx, 25); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	elapsed := time.Since(start)

	const want = 500 * time.Millisecond
	const slack = 50 * time.Millisecond
	if elapsed < want-slack {
		t.Fatalf("expected elapsed >= ~%v, got %v", want, elapsed)
	}
}

func TestTokenBucketTryAcquireNonBlocking(t *testing.T) {
	b := ratelimit.New(10, 10)
	if !b.TryAcquire(10) {
		t.Fatal("expected try_acquire to succeed against a full bucket")
	}
	if b.TryAcquire(1) {
		t.Fatal("expected try_acquire to fail against a drained bucket")
	}
}

func TestTokenBucketNeverExceedsCapacity(t *testing.T) {
	b := ratelimit.New(100, 1_000_000) // fast rate, small capacity
	time.Sleep(5 * time.Millisecond)
	if !b.TryAcquire(100) {
		t.Fatal("expected tokens to be clamped at capacity, not overflowed")
	}
	if b.TryAcquire(1) {
		t.Fatal("expected bucket to be empty immediately after draining capacity")
	}
}

func TestTokenBucketAcquireRespectsContextCancellation(t *testing.T) {
	b := ratelimit.NewEmpty(10, 1) // 1 byte/sec: acquiring 10 takes ~10s
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Acquire(ctx, 10)
	if err == nil {
		t.Fatal("expected context deadline to cancel a long wait")
	}
}

func TestAdaptiveRateDecreasesUnderCongestion(t *testing.T) {
	cfg := ratelimit.AdaptiveConfig{
		Threshold:      0.7,
		DecreaseFactor: 0.5,
		IncreaseStep:   5,
		Floor:          5,
		Ceiling:        100,
		Window:         1 * time.Millisecond,
	}
	b := ratelimit.NewAdaptive(100, 100, cfg)
	// consume 1 byte, then let at least 20ms pass: at most 50 B/s, below the
	// 70 B/s threshold (0.7 of 100), forcing a congestion decision on the
	// next check.
	b.TryAcquire(1)
	time.Sleep(20 * time.Millisecond)
	b.CheckAndAdjustRate()

	if got := b.CurrentRate(); got >= 100 {
		t.Fatalf("expected rate to decrease from congestion, got %d", got)
	}
}

func TestNonAdaptiveAcquireNeverAdjustsRate(t *testing.T) {
	b := ratelimit.New(10, 10)
	before := b.CurrentRate()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.Acquire(ctx, 1)
	}
	if b.CurrentRate() != before {
		t.Fatalf("expected non-adaptive bucket's rate to stay at %d, got %d", before, b.CurrentRate())
	}
}
