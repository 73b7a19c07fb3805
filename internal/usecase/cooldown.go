package usecase

import (
	"sync"
	"time"
)

// CooldownTracker holds per-symbol "do not re-check until" deadlines.
type CooldownTracker struct {
	mu    sync.RWMutex
	until map[string]time.Time
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{until: make(map[string]time.Time)}
}

func (c *CooldownTracker) Set(symbol string, now time.Time, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[symbol] = now.Add(d)
}

// Extend moves the deadline for symbol to until unless a later one is already held.
func (c *CooldownTracker) Extend(symbol string, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.until[symbol]; ok && !until.After(cur) {
		return
	}
	c.until[symbol] = until
}

func (c *CooldownTracker) Active(symbol string, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	until, ok := c.until[symbol]
	return ok && now.Before(until)
}

func (c *CooldownTracker) Until(symbol string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	until, ok := c.until[symbol]
	return until, ok
}

// Prune drops expired entries and returns how many were removed.
func (c *CooldownTracker) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for symbol, until := range c.until {
		if !now.Before(until) {
			delete(c.until, symbol)
			removed++
		}
	}
	return removed
}
