package router

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter keyed by an arbitrary string (user id
// for socket events, client IP for HTTP auth endpoints).
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*ClientLimit
	now     func() time.Time
}

// ClientLimit tracks one key's current window.
type ClientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit events per window for each key. A limit of zero
// or less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*ClientLimit),
		now:     time.Now,
	}
}

// Allow records one event for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &ClientLimit{count: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.count = 1
		limit.windowStart = now
		return true
	}

	if limit.count >= rl.limit {
		return false
	}

	limit.count++
	return true
}

// Cleanup drops keys idle for more than five windows.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}
