package bot

import (
	"sync"
	"time"
)

// Cooldown enforces a minimum gap between two accepted requests of one user.
type Cooldown struct {
	mu   sync.Mutex
	gap  time.Duration
	last map[int64]time.Time
	now  func() time.Time
}

func NewCooldown(gap time.Duration) *Cooldown {
	return &Cooldown{gap: gap, last: map[int64]time.Time{}, now: time.Now}
}

func (c *Cooldown) SetGap(gap time.Duration) {
	c.mu.Lock()
	c.gap = gap
	c.mu.Unlock()
}

// Allow records the request and returns true, or returns the remaining wait.
func (c *Cooldown) Allow(userID int64) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if t, ok := c.last[userID]; ok {
		if elapsed := now.Sub(t); elapsed < c.gap {
			return c.gap - elapsed, false
		}
	}
	c.last[userID] = now
	return 0, true
}

// Prune forgets users whose gap has passed and returns how many were dropped.
func (c *Cooldown) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, t := range c.last {
		if now.Sub(t) >= c.gap {
			delete(c.last, id)
			n++
		}
	}
	return n
}

func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
