package utils

import (
	"sync"
	"time"
)

type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   map[string][]time.Time
}

func NewCooldown(limit int, window time.Duration) *Cooldown {
	return &Cooldown{window: window, limit: limit, hits: make(map[string][]time.Time)}
}

// retry is the time until the oldest hit leaves the window.
func (c *Cooldown) Allow(key string, now time.Time) (ok bool, retry time.Duration) {
	if c == nil || c.limit <= 0 {
		return true, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := prune(c.hits[key], now.Add(-c.window))
	if len(hits) >= c.limit {
		c.hits[key] = hits
		return false, hits[0].Add(c.window).Sub(now)
	}
	c.hits[key] = append(hits, now)
	return true, 0
}

func (c *Cooldown) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-c.window)
	removed := 0
	for key, hits := range c.hits {
		if len(prune(hits, cutoff)) == 0 {
			delete(c.hits, key)
			removed++
		}
	}
	return removed
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for _, hit := range hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	return hits[idx:]
}
