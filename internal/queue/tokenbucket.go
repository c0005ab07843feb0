package queue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a thread-safe, in-memory token bucket used to cap the
// rate at which workers pick up jobs.
type TokenBucket struct {
	capacity   int        // max tokens
	tokens     float64    // current tokens (float for partial refill)
	rate       float64    // tokens per second
	lastRefill time.Time  // last refill timestamp
	mu         sync.Mutex // protects state
}

// NewTokenBucket creates a new token bucket with the given capacity and
// refill rate (tokens per second). The bucket starts full.
func NewTokenBucket(capacity int, rate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		rate:       rate,
		lastRefill: time.Now(),
	}
}

// Take attempts to consume a token. Returns true if allowed, false if rate limited.
func (tb *TokenBucket) Take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	if tb.tokens >= 1 {
		tb.tokens -= 1
		return true
	}
	return false
}

// Wait blocks until a token is available and consumes it, or until ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refillLocked()
		if tb.tokens >= 1 {
			tb.tokens -= 1
			tb.mu.Unlock()
			return nil
		}
		needed := 1 - tb.tokens
		tb.mu.Unlock()

		wait := time.Duration(needed / tb.rate * float64(time.Second))
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
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

// Remaining returns the number of tokens left (rounded down).
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return int(tb.tokens)
}

// refillLocked refills tokens based on elapsed time. Caller must hold tb.mu.
func (tb *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > float64(tb.capacity) {
			tb.tokens = float64(tb.capacity)
		}
		tb.lastRefill = now
	}
}
