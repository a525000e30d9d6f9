package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces outbound quote API calls with a token bucket so batch
// jobs stay under provider quotas. The bucket holds up to burst tokens and
// refills continuously.
type RateLimiter struct {
	mu     sync.Mutex
	refill time.Duration // time to mint one token
	burst  float64
	tokens float64
	last   time.Time
}

// NewRateLimiter allows perMinute operations per minute with no bursting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return NewBurstRateLimiter(perMinute, 1)
}

// NewBurstRateLimiter allows perMinute operations per minute, with up to
// burst of them back to back.
func NewBurstRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		refill: time.Minute / time.Duration(perMinute),
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += float64(now.Sub(rl.last)) / float64(rl.refill)
		if rl.tokens > rl.burst {
			rl.tokens = rl.burst
		}
		rl.last = now
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		// Sleep just long enough for the next token to mint.
		wait := time.Duration((1 - rl.tokens) * float64(rl.refill))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
