package http

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// IntentRateLimiter is a sliding window limiter keyed by client token.
type IntentRateLimiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	history  map[string][]time.Time
	swept    time.Time
	limit    int
	interval time.Duration
}

func NewIntentRateLimiter(clk clock.Clock, limit int, interval time.Duration) *IntentRateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &IntentRateLimiter{
		clock:    clk,
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow records an attempt for key. A non-positive limit disables limiting.
func (rl *IntentRateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)
	if now.Sub(rl.swept) >= rl.interval {
		rl.sweepLocked(windowStart)
		rl.swept = now
	}

	attempts := rl.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}

// sweepLocked drops keys whose newest attempt left the window, so tokens
// seen once do not stay in history.
func (rl *IntentRateLimiter) sweepLocked(windowStart time.Time) {
	for key, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, key)
		}
	}
}
