// Package cache provides the two caches consulted before executor work:
// an exact-key decision cache (LRU + TTL) and a near-duplicate semantic
// cache (token-set similarity, FIFO). Both are thin keying strategies over
// one shared store so their TTL and stats behavior cannot drift.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Eviction selects which entry is removed when a store is at capacity.
type Eviction int

const (
	// EvictLRU removes the least recently accessed entry. Reads refresh recency.
	EvictLRU Eviction = iota
	// EvictFIFO removes the oldest inserted entry. Reads do not reorder.
	EvictFIFO
)

// DefaultMaxSize is the entry capacity used when a store is created with a
// non-positive size.
const DefaultMaxSize = 128

// Stats is a point-in-time snapshot of a cache's counters.
type Stats struct {
	// Hits is the number of successful lookups.
	Hits uint64 `json:"hits"`
	// Misses is the number of failed lookups, including expired entries.
	Misses uint64 `json:"misses"`
	// Size is the current number of live entries.
	Size int `json:"size"`
}

// HitRate returns hits over total lookups, or 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// entry is a single cached value with its insertion timestamp. tokens is
// populated only by the semantic cache.
type entry struct {
	key        string
	value      any
	insertedAt time.Time
	tokens     map[string]struct{}
}

// store is the shared cache core. Executor work runs on separate goroutines
// and can race on cache mutation, so every read-modify-write holds mu.
type store struct {
	mu       sync.Mutex
	order    *list.List // front = most recent (LRU) or newest insert (FIFO)
	index    map[string]*list.Element
	maxSize  int
	ttl      time.Duration
	eviction Eviction
	hits     uint64
	misses   uint64

	// now is swappable for TTL tests.
	now func() time.Time
}

func newStore(maxSize int, ttl time.Duration, eviction Eviction) *store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &store{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		maxSize:  maxSize,
		ttl:      ttl,
		eviction: eviction,
		now:      time.Now,
	}
}

// expired reports whether e is past its TTL. A zero TTL disables expiry.
func (s *store) expired(e *entry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.insertedAt) >= s.ttl
}

// get returns the live entry for key. Expired entries are purged on touch
// and reported as a miss. Under EvictLRU a hit refreshes recency.
// Caller must hold s.mu.
func (s *store) get(key string) (*entry, bool) {
	elem, ok := s.index[key]
	if !ok {
		s.misses++
		return nil, false
	}
	e := elem.Value.(*entry)
	if s.expired(e, s.now()) {
		s.removeLocked(elem)
		s.misses++
		return nil, false
	}
	if s.eviction == EvictLRU {
		s.order.MoveToFront(elem)
	}
	s.hits++
	return e, true
}

// put inserts or replaces the entry for key, evicting per policy when at
// capacity. Caller must hold s.mu.
func (s *store) put(key string, e *entry) {
	if elem, ok := s.index[key]; ok {
		elem.Value = e
		s.order.MoveToFront(elem)
		return
	}
	for s.order.Len() >= s.maxSize {
		// Eviction is independent of TTL: the back of the list is the
		// least recently used (LRU) or oldest inserted (FIFO) entry.
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest)
	}
	s.index[key] = s.order.PushFront(e)
}

func (s *store) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	s.order.Remove(elem)
	delete(s.index, e.key)
}

// purgeExpired removes every expired entry and returns how many were dropped.
func (s *store) purgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	var removed int
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		if s.expired(elem.Value.(*entry), now) {
			s.removeLocked(elem)
			removed++
		}
		elem = next
	}
	return removed
}

func (s *store) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Hits: s.hits, Misses: s.misses, Size: s.order.Len()}
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
