package admins

import (
	"sync"
	"time"
)

const maxCachedDecisions = 10000

// decisionCache memoizes negative IsAdmin answers. A "yes" is never served from
// memory: a revoke made by another process would otherwise keep working here
// until the entry expired. Entries are bound to the static file version they
// were computed against, and clear() bumps a generation so an answer computed
// before a grant/revoke can never be stored after it.
type decisionCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	gen     uint64
	entries map[string]cachedDecision
}

type cachedDecision struct {
	allowed       bool
	staticVersion uint64
	expiresAt     time.Time
}

func newDecisionCache(ttl time.Duration, now func() time.Time) *decisionCache {
	return &decisionCache{ttl: ttl, now: now, entries: map[string]cachedDecision{}}
}

func (c *decisionCache) enabled() bool { return c != nil && c.ttl > 0 }

// generation is read before computing a decision and passed back to put.
func (c *decisionCache) generation() uint64 {
	if !c.enabled() {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

func (c *decisionCache) get(id string, staticVersion uint64) (bool, bool) {
	if !c.enabled() {
		return false, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok || e.staticVersion != staticVersion || !c.now().Before(e.expiresAt) {
		return false, false
	}
	return e.allowed, true
}

func (c *decisionCache) put(id string, allowed bool, staticVersion, gen uint64) {
	if !c.enabled() || allowed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if len(c.entries) >= maxCachedDecisions {
		c.entries = map[string]cachedDecision{}
	}
	c.entries[id] = cachedDecision{
		allowed:       allowed,
		staticVersion: staticVersion,
		expiresAt:     c.now().Add(c.ttl),
	}
}

func (c *decisionCache) clear() {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = map[string]cachedDecision{}
}
