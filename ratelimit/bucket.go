// Package ratelimit implements token-bucket rate limiting with optional
// adaptive congestion response, plus a ThrottledStream that acquires tokens
// before yielding each chunk of a chunked byte stream. Grounded on the
// teacher's cmn/sync.go patterns for atomic, lock-light shared state shared
// across goroutines (go.uber.org/atomic in place of the teacher's internal
// 3rdparty/atomic fork).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// AdaptiveConfig tunes check_and_adjust_rate. Constants are fixed per the
// spec's own admission that the source disagrees on exact AIMD law; see
// DESIGN.md Open Question 3 for the chosen values.
type AdaptiveConfig struct {
	// Threshold is the fraction of configured rate below which throughput is
	// considered congested (default 0.7: effective <= 70% of configured).
	Threshold float64
	// DecreaseFactor multiplies the rate on congestion (default 0.5).
	DecreaseFactor float64
	// IncreaseStep is added to the rate, bounded by Ceiling, when throughput
	// is healthy (default 5% of Ceiling).
	IncreaseStep int64
	// Floor is the minimum rate adaptive adjustment will ever set.
	Floor int64
	// Ceiling bounds upward adjustment; 0 means the bucket's configured rate
	// at construction time.
	Ceiling int64
	// Window is the measurement interval over which effective throughput is
	// sampled (default 2s).
	Window time.Duration
}

// DefaultAdaptiveConfig matches SPEC_FULL.md's Open Question 3 decision:
// multiplicative decrease by half, additive increase of 5% of ceiling, floor
// at 5% of ceiling, 2s measurement window.
func DefaultAdaptiveConfig(configuredRate int64) AdaptiveConfig {
	return AdaptiveConfig{
		Threshold:      0.7,
		DecreaseFactor: 0.5,
		IncreaseStep:   configuredRate / 20,
		Floor:          configuredRate / 20,
		Ceiling:        configuredRate,
		Window:         2 * time.Second,
	}
}

// TokenBucket is safe for concurrent use by multiple fetchers sharing one
// global cap. Token count, rate and refill timestamp are atomics, per the
// spec's "interior atomic operations" ownership note; the adaptive window
// state is guarded by mu.
type TokenBucket struct {
	capacity   int64
	rate       atomic.Int64 // bytes/sec
	tokens     atomic.Int64
	lastRefill atomic.Int64 // nanos since clockBase, from the monotonic clock reading

	adaptive   bool
	cfg        AdaptiveConfig
	mu         sync.Mutex // guards windowStart/windowBytes/congested
	windowStart time.Time
	windowBytes int64
	congested   bool

	clock func() time.Time
}

// clockBase anchors lastRefill: offsets from it are taken with time.Time.Sub,
// which uses the monotonic reading, not the wall clock.
var clockBase = time.Now()

// New creates a non-adaptive TokenBucket, starting full (tokens = capacity).
func New(capacity, rate int64) *TokenBucket {
	b := &TokenBucket{capacity: capacity, clock: time.Now}
	b.rate.Store(rate)
	b.tokens.Store(capacity)
	b.lastRefill.Store(int64(b.clock().Sub(clockBase)))
	return b
}

// NewEmpty creates a TokenBucket starting with zero tokens, matching the
// literal token-bucket-rate scenario's "empty initial tokens" setup.
func NewEmpty(capacity, rate int64) *TokenBucket {
	b := New(capacity, rate)
	b.tokens.Store(0)
	return b
}

// NewAdaptive creates a TokenBucket whose check_and_adjust_rate is active.
func NewAdaptive(capacity, rate int64, cfg AdaptiveConfig) *TokenBucket {
	b := New(capacity, rate)
	b.adaptive = true
	b.cfg = cfg
	b.windowStart = b.clock()
	return b
}

func (b *TokenBucket) refill() {
	now := int64(b.clock().Sub(clockBase))
	last := b.lastRefill.Load()
	elapsedNanos := now - last
	if elapsedNanos <= 0 {
		return
	}
	rate := b.rate.Load()
	added := int64(float64(elapsedNanos) / float64(time.Second) * float64(rate))
	if added <= 0 {
		return
	}
	if !b.lastRefill.CAS(last, now) {
		return // another goroutine already advanced the clock this tick
	}
	for {
		cur := b.tokens.Load()
		next := cur + added
		if next > b.capacity {
			next = b.capacity
		}
		if b.tokens.CAS(cur, next) {
			return
		}
	}
}

// Acquire blocks until n tokens are available, then consumes them. It
// refills on every retry cycle so it can never deadlock against a bucket
// that is merely momentarily empty.
func (b *TokenBucket) Acquire(ctx context.Context, n int64) error {
	for {
		b.refill()
		if b.tryConsume(n) {
			if b.adaptive {
				b.recordConsumption(n)
			}
			return nil
		}
		deficit := n - b.tokens.Load()
		if deficit < 0 {
			deficit = 0
		}
		rate := b.rate.Load()
		if rate <= 0 {
			rate = 1
		}
		wait := time.Duration(float64(deficit) / float64(rate) * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *TokenBucket) tryConsume(n int64) bool {
	for {
		cur := b.tokens.Load()
		if cur < n {
			return false
		}
		if b.tokens.CAS(cur, cur-n) {
			return true
		}
	}
}

// TryAcquire is the non-blocking counterpart of Acquire.
func (b *TokenBucket) TryAcquire(n int64) bool {
	b.refill()
	ok := b.tryConsume(n)
	if ok && b.adaptive {
		b.recordConsumption(n)
	}
	return ok
}

func (b *TokenBucket) SetRate(r int64) { b.rate.Store(r) }

func (b *TokenBucket) CurrentRate() int64 { return b.rate.Load() }

func (b *TokenBucket) recordConsumption(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock()
	if b.windowStart.IsZero() {
		b.windowStart = now
	}
	b.windowBytes += n
	if now.Sub(b.windowStart) >= b.cfg.Window {
		b.adjustLocked(now)
	}
}

// CheckAndAdjustRate forces an immediate adjustment decision; non-adaptive
// buckets treat this as a no-op, preserving the invariant that plain
// acquire/try_acquire on a basic bucket never triggers adjustment.
func (b *TokenBucket) CheckAndAdjustRate() {
	if !b.adaptive {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adjustLocked(b.clock())
}

// adjustLocked must be called with mu held.
func (b *TokenBucket) adjustLocked(now time.Time) {
	elapsed := now.Sub(b.windowStart)
	if elapsed <= 0 {
		return
	}
	effective := float64(b.windowBytes) / elapsed.Seconds()
	configured := float64(b.rate.Load())
	if configured <= 0 {
		configured = float64(b.cfg.Ceiling)
	}

	if effective <= b.cfg.Threshold*configured {
		b.congested = true
		next := int64(configured * b.cfg.DecreaseFactor)
		if next < b.cfg.Floor {
			next = b.cfg.Floor
		}
		b.rate.Store(next)
	} else {
		b.congested = false
		next := b.rate.Load() + b.cfg.IncreaseStep
		if b.cfg.Ceiling > 0 && next > b.cfg.Ceiling {
			next = b.cfg.Ceiling
		}
		b.rate.Store(next)
	}
	b.windowStart = now
	b.windowBytes = 0
}

// Congested reports the most recent adaptive decision; false for
// non-adaptive buckets.
func (b *TokenBucket) Congested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.congested
}
