package cache

import (
	"regexp"
	"strings"
	"time"
)

// Volatile substrings are rewritten to fixed placeholders before tokenizing,
// so two inputs that differ only in a timestamp or a counter normalize to
// the same canonical form. Dates and times go first so their digit runs are
// not consumed by the generic counter pattern.
var (
	isoDatePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	slashDatePattern = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	timePattern      = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
	counterPattern   = regexp.MustCompile(`#\d+|\b\d{4,}\b`)
	whitespace       = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes free text for similarity comparison: volatile
// substrings become placeholders, whitespace collapses, case folds.
func Normalize(text string) string {
	text = isoDatePattern.ReplaceAllString(text, "<date>")
	text = slashDatePattern.ReplaceAllString(text, "<date>")
	text = timePattern.ReplaceAllString(text, "<time>")
	text = counterPattern.ReplaceAllString(text, "<num>")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.ToLower(strings.TrimSpace(text))
}

// tokenSet splits normalized text into its unique tokens.
func tokenSet(normalized string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets are identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	var intersection int
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// SemanticCache maps normalized free text to a previously produced response
// using Jaccard similarity over token sets. Eviction is pure FIFO by
// insertion order, deliberately unlike the decision cache's LRU: a
// near-duplicate hit is evidence the entry is recent, not that it should
// outlive its insertion cohort.
type SemanticCache struct {
	store         *store
	minSimilarity float64
}

// NewSemanticCache creates a SemanticCache with the given capacity, TTL and
// default similarity threshold. A non-positive threshold falls back to 0.8.
func NewSemanticCache(maxSize int, ttl time.Duration, minSimilarity float64) *SemanticCache {
	if minSimilarity <= 0 {
		minSimilarity = 0.8
	}
	return &SemanticCache{
		store:         newStore(maxSize, ttl, EvictFIFO),
		minSimilarity: minSimilarity,
	}
}

// Match is a successful similarity lookup.
type Match struct {
	// Value is the stored response.
	Value any
	// Similarity is the Jaccard score of the best matching entry.
	Similarity float64
}

// GetSimilar returns the stored value most similar to text, provided the
// best score is at or above minSimilarity. Pass a non-positive threshold to
// use the cache's default. Expired entries are purged as they are scanned.
//
// Selection is max-similarity across all live entries, not first-above-
// threshold, so concurrent insertion order cannot change which entry wins.
func (c *SemanticCache) GetSimilar(text string, minSimilarity float64) (Match, bool) {
	if minSimilarity <= 0 {
		minSimilarity = c.minSimilarity
	}
	query := tokenSet(Normalize(text))

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	now := c.store.now()
	var (
		best      *entry
		bestScore float64
	)
	for elem := c.store.order.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry)
		if c.store.expired(e, now) {
			c.store.removeLocked(elem)
			elem = next
			continue
		}
		if score := jaccard(query, e.tokens); score > bestScore {
			best, bestScore = e, score
		}
		elem = next
	}

	if best == nil || bestScore < minSimilarity {
		c.store.misses++
		return Match{}, false
	}
	c.store.hits++
	return Match{Value: best.value, Similarity: bestScore}, true
}

// Store caches value under the normalized form of text. Storing text that
// normalizes to an existing key replaces that entry. At capacity the oldest
// inserted entry is evicted first, regardless of how often it has matched.
func (c *SemanticCache) Store(text string, value any) {
	normalized := Normalize(text)

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.store.put(normalized, &entry{
		key:        normalized,
		value:      value,
		insertedAt: c.store.now(),
		tokens:     tokenSet(normalized),
	})
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (c *SemanticCache) PurgeExpired() int {
	return c.store.purgeExpired()
}

// Stats returns the cache's hit/miss counters and current size.
func (c *SemanticCache) Stats() Stats {
	return c.store.stats()
}

// Len returns the number of live entries.
func (c *SemanticCache) Len() int {
	return c.store.len()
}
