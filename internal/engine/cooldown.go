package engine

import (
	"strconv"
	"sync"
	"time"

	"vitalguard/internal/model"
)

// Cooldown suppresses re-firing the same (subject, tier) pair before
// its expiry. Entries are swept lazily on read; no background GC.
type Cooldown struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{until: make(map[string]time.Time)}
}

func cooldownKey(subjectID string, tier model.Tier) string {
	return subjectID + "|" + strconv.Itoa(int(tier))
}

// Active reports whether the pair is still cooling down.
func (c *Cooldown) Active(subjectID string, tier model.Tier, now time.Time) bool {
	key := cooldownKey(subjectID, tier)
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.until[key]
	if !ok {
		return false
	}
	if !now.Before(expiry) {
		delete(c.until, key)
		return false
	}
	return true
}

// Set overwrites the pair's expiry. A zero or negative ttl clears it.
func (c *Cooldown) Set(subjectID string, tier model.Tier, now time.Time, ttl time.Duration) {
	key := cooldownKey(subjectID, tier)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.until, key)
		return
	}
	c.until[key] = now.Add(ttl)
}
