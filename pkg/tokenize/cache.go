package tokenize

import (
	"sync"
	"sync/atomic"
)

// CacheStats is a point-in-time snapshot of cache effectiveness counters.
type CacheStats struct {
	// Hits counts TokensFor calls served from the cache.
	Hits uint64

	// Misses counts TokensFor calls that had to tokenize.
	Misses uint64
}

// Cache memoises the tokens of trigger phrases.
//
// Caching is gated by a whitelist: once [Cache.Prewarm] has been called, only
// phrases from the most recent prewarm set are ever stored, so one-off lookup
// phrases cannot grow the map without bound. Before the first prewarm (or
// after [Cache.Clear]) there is no whitelist and every phrase is cached.
//
// A single mutex guards the whitelist and the entry map together. It is never
// held while tokenizing; two goroutines missing on the same phrase may both
// tokenize it, which is harmless because tokenization is pure.
//
// The zero value is ready to use.
type Cache struct {
	mu        sync.Mutex
	entries   map[string][]string
	whitelist map[string]struct{} // nil means "no whitelist set"

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache returns an empty [Cache] with no whitelist.
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]string)}
}

// Prewarm tokenizes every phrase and atomically replaces both the whitelist and
// the cached entries with exactly this set. Passing an empty slice installs an
// empty whitelist that rejects all ad-hoc caching.
func (c *Cache) Prewarm(phrases []string) {
	entries := make(map[string][]string, len(phrases))
	whitelist := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		whitelist[p] = struct{}{}
		if _, ok := entries[p]; !ok {
			entries[p] = Tokenize(p)
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.whitelist = whitelist
	c.mu.Unlock()
}

// TokensFor returns the tokens of phrase, from the cache when present and
// freshly tokenized otherwise. A fresh result is stored only when phrase is in
// the current whitelist or no whitelist has been set.
//
// The returned slice may be shared with other callers and must not be
// modified.
func (c *Cache) TokensFor(phrase string) []string {
	c.mu.Lock()
	toks, ok := c.entries[phrase]
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
		return toks
	}

	c.misses.Add(1)
	toks = Tokenize(phrase)

	c.mu.Lock()
	if c.admits(phrase) {
		if c.entries == nil {
			c.entries = make(map[string][]string)
		}
		c.entries[phrase] = toks
	}
	c.mu.Unlock()
	return toks
}

// Contains reports whether phrase currently has a cached entry.
func (c *Cache) Contains(phrase string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[phrase]
	return ok
}

// Clear drops every cached entry and removes the whitelist.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string][]string)
	c.whitelist = nil
	c.mu.Unlock()
}

// Len returns the number of cached phrases.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters accumulated since construction.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// admits must be called with c.mu held.
func (c *Cache) admits(phrase string) bool {
	if c.whitelist == nil {
		return true
	}
	_, ok := c.whitelist[phrase]
	return ok
}
