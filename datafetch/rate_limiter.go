package datafetch

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter is a token bucket that paces physical requests to an origin.
// Unlike a rejecting limiter, Wait blocks until a token is available.
type RateLimiter struct {
	mu         sync.Mutex
	clock      clock.Clock
	maxTokens  int
	tokens     int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a full bucket of maxTokens refilled one token per
// refillRate. A nil clock means wall time.
func NewRateLimiter(maxTokens int, refillRate time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		clock:      clk,
		maxTokens:  maxTokens,
		tokens:     maxTokens,
		refillRate: refillRate,
		lastRefill: clk.Now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	ok, _ := rl.reserve()
	return ok
}

// Wait blocks until a token is taken or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := rl.reserve()
		if ok {
			return nil
		}
		t := rl.clock.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// reserve takes a token or reports how long until the next one.
func (rl *RateLimiter) reserve() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if rl.refillRate > 0 {
		if add := int(now.Sub(rl.lastRefill) / rl.refillRate); add > 0 {
			rl.tokens += add
			rl.lastRefill = rl.lastRefill.Add(time.Duration(add) * rl.refillRate)
			if rl.tokens >= rl.maxTokens {
				rl.tokens = rl.maxTokens
				rl.lastRefill = now
			}
		}
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true, 0
	}
	if rl.refillRate <= 0 {
		return false, time.Second
	}
	return false, rl.refillRate - now.Sub(rl.lastRefill)
}
