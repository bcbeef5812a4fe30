package relay

import (
	"sync"
	"time"
)

const (
	submissionsPerWindow = 100
	limiterWindow        = time.Minute
	limiterStaleAfter    = 5 * time.Minute
)

// RateLimiter caps submissions per connection to a fixed-window budget.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{clients: make(map[string]*clientWindow)}
}

// Allow reports whether the connection may submit, counting the attempt.
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	window, exists := rl.clients[connID]
	if !exists || now.Sub(window.windowStart) >= limiterWindow {
		rl.clients[connID] = &clientWindow{count: 1, windowStart: now}
		return true
	}
	if window.count >= submissionsPerWindow {
		return false
	}
	window.count++
	return true
}

// Cleanup drops windows idle past the stale threshold. Called from the
// lifecycle sweeper so disconnected clients do not accumulate.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for connID, window := range rl.clients {
		if now.Sub(window.windowStart) > limiterStaleAfter {
			delete(rl.clients, connID)
		}
	}
}
