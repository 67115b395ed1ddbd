package cache

import "time"

// DecisionCache maps a task fingerprint to a previously produced decision.
// Keys are exact; eviction is strict LRU with per-entry TTL.
type DecisionCache struct {
	store *store
}

// NewDecisionCache creates a DecisionCache with the given capacity and TTL.
// A non-positive maxSize falls back to DefaultMaxSize; a non-positive ttl
// disables expiry.
func NewDecisionCache(maxSize int, ttl time.Duration) *DecisionCache {
	return &DecisionCache{store: newStore(maxSize, ttl, EvictLRU)}
}

// Get returns the cached value for fingerprint. A hit refreshes the entry's
// recency; an expired entry is purged and reported as a miss.
func (c *DecisionCache) Get(fingerprint string) (any, bool) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	e, ok := c.store.get(fingerprint)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Put stores value under fingerprint, evicting the least-recently-used
// entry first when the cache is at capacity.
func (c *DecisionCache) Put(fingerprint string, value any) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.store.put(fingerprint, &entry{
		key:        fingerprint,
		value:      value,
		insertedAt: c.store.now(),
	})
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (c *DecisionCache) PurgeExpired() int {
	return c.store.purgeExpired()
}

// Stats returns the cache's hit/miss counters and current size.
func (c *DecisionCache) Stats() Stats {
	return c.store.stats()
}

// Len returns the number of live entries.
func (c *DecisionCache) Len() int {
	return c.store.len()
}
