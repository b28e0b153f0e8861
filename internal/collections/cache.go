package collections

import (
	"maps"
	"sync"
	"time"

	"githubie.shikanime.studio/internal/types"
)

// DefaultCacheTTL is how long an aggregation result stays fresh.
const DefaultCacheTTL = 24 * time.Hour

// Cache holds the last aggregation result of each collection. Freshness is
// checked on read; nothing expires entries in the background.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[int64]types.CacheEntry
}

// NewCache returns an empty cache; a non-positive ttl selects DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, entries: make(map[int64]types.CacheEntry)}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// IsFresh reports whether id has an entry fetched less than TTL before now.
func (c *Cache) IsFresh(id int64, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	return now.Sub(e.LastFetchedAt) < c.ttl
}

// Get returns a copy of the entry for id, fresh or not.
func (c *Cache) Get(id int64) (types.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return types.CacheEntry{}, false
	}
	return e.Clone(), true
}

// Put stores entry for id, replacing any previous one.
func (c *Cache) Put(id int64, entry types.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry.Clone()
}

// Invalidate removes the entry for id.
func (c *Cache) Invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// update applies fn to the entry for id in place. The entry is kept only if
// fn reports a change.
func (c *Cache) update(id int64, fn func(*types.CacheEntry) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	e = e.Clone()
	if !fn(&e) {
		return false
	}
	c.entries[id] = e
	return true
}

func (c *Cache) snapshot() map[int64]types.CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.entries)
}

func (c *Cache) load(entries map[int64]types.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]types.CacheEntry, len(entries))
	for id, e := range entries {
		c.entries[id] = e
	}
}
