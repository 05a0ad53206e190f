package safety

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket limiter used to pace venue API calls.
// Tokens accrue continuously at refillRate per second up to capacity.
type RateLimiter struct {
	name       string
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	mutex      sync.Mutex
}

// NewRateLimiter creates a rate limiter starting with a full bucket
func NewRateLimiter(name string, capacity, refillRate int) *RateLimiter {
	return &RateLimiter{
		name:       name,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(refillRate),
		lastRefill: time.Now(),
	}
}

// Allow reports whether one call may proceed now
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN reports whether n calls may proceed now
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillLocked()
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}
	return false
}

// Wait blocks until one call may proceed or the context ends
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN blocks until n calls may proceed or the context ends
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	for {
		if rl.AllowN(n) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.timeUntil(n)):
		}
	}
}

// refillLocked accrues tokens for the time elapsed since the last refill.
// Caller holds the mutex.
func (rl *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}

// timeUntil estimates how long until n tokens are available
func (rl *RateLimiter) timeUntil(n int) time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillLocked()
	deficit := float64(n) - rl.tokens
	if deficit <= 0 {
		return 0
	}
	wait := time.Duration(deficit / rl.refillRate * float64(time.Second))
	// Small buffer against timer precision
	return wait + 5*time.Millisecond
}

// RateLimiterStats is a point-in-time view of one limiter
type RateLimiterStats struct {
	Name       string
	Capacity   int
	Tokens     int
	RefillRate int
	LastRefill time.Time
}

// GetStats returns current statistics about the rate limiter
func (rl *RateLimiter) GetStats() RateLimiterStats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillLocked()
	return RateLimiterStats{
		Name:       rl.name,
		Capacity:   int(rl.capacity),
		Tokens:     int(rl.tokens),
		RefillRate: int(rl.refillRate),
		LastRefill: rl.lastRefill,
	}
}
