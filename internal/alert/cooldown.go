package alert

import (
	"sync"
	"time"
)

// Cooldown suppresses repeated alerts for the same key within a window. It is
// safe for concurrent use.
type Cooldown struct {
	last   map[string]time.Time // key -> last sent time
	window time.Duration
	now    func() time.Time
	mu     sync.Mutex
}

// NewCooldown creates a Cooldown with the given window.
func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{
		last:   make(map[string]time.Time),
		window: window,
		now:    now,
	}
}

// Allow returns false if key fired within the window. Otherwise it records
// the current time for key and returns true.
func (c *Cooldown) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[key] = now
	return true
}

// Cleanup removes entries older than maxAge and returns how many were
// removed.
func (c *Cooldown) Cleanup(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxAge < c.window {
		maxAge = c.window
	}
	now := c.now()
	removed := 0
	for k, ts := range c.last {
		if now.Sub(ts) >= maxAge {
			delete(c.last, k)
			removed++
		}
	}
	return removed
}
