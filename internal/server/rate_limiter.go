package server

import (
	"math"
	"sync"
	"time"
)

// rateLimiter is a token bucket guarding how many requests a single
// connection may submit.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
	now       func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return newRateLimiterWithClock(cfg, time.Now)
}

func newRateLimiterWithClock(cfg RateLimitConfig, now func() time.Time) *rateLimiter {
	capacity := cfg.Burst
	if capacity <= 0 {
		capacity = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	rate := float64(capacity) / interval.Seconds()
	if rate <= 0 {
		rate = float64(capacity)
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: now(),
		now:       now,
	}
}

// take consumes one token. When the bucket is empty it reports how long the
// caller has to wait for the next one.
func (rl *rateLimiter) take() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(rl.now())
	if rl.tokens >= 1 {
		rl.tokens--
		return true, 0
	}
	missing := 1 - rl.tokens
	return false, time.Duration(missing / rl.rate * float64(time.Second))
}

func (rl *rateLimiter) refill(now time.Time) {
	if elapsed := now.Sub(rl.lastCheck); elapsed > 0 {
		rl.tokens = math.Min(rl.capacity, rl.tokens+elapsed.Seconds()*rl.rate)
	}
	rl.lastCheck = now
}
