package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a deterministic token bucket that refills at an integer rate
// (tokens/sec) using a provided Clock.
//
// Accounting is done in nanosecond-tokens (one token = 1e9 units) to avoid
// float rounding while keeping refill math in integers.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	fillRate int64 // tokens/sec

	available int64 // nanosecond-tokens
	last      time.Time
}

const nanosPerToken = int64(time.Second)

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: capacity * nanosPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := tokens * nanosPerToken
	if cost/nanosPerToken != tokens || b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards. Move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacity <= 0 {
		return
	}

	max := b.capacity * nanosPerToken
	need := max - b.available
	if need <= 0 {
		b.available = max
		return
	}
	// fillRate tokens/sec equals fillRate nanosecond-tokens per nanosecond.
	// Clamp to capacity before multiplying to avoid overflow on long idles.
	if elapsed >= need/b.fillRate+1 {
		b.available = max
		return
	}
	b.available += elapsed * b.fillRate
	if b.available > max {
		b.available = max
	}
}
