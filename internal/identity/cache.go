package identity

import (
	"sync"
	"time"
)

// listingCache holds paginated user/group listings for a short TTL. It is
// read-mostly; any membership mutation invalidates it wholesale, since a
// stale page after a grant or revoke is worse than a re-list.
type listingCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	values    []string
	nextToken string
	storedAt  time.Time
}

func newListingCache(ttl time.Duration) *listingCache {
	return &listingCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *listingCache) get(key string) ([]string, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, "", false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, "", false
	}
	return e.values, e.nextToken, true
}

func (c *listingCache) put(key string, values []string, nextToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		values:    append([]string(nil), values...),
		nextToken: nextToken,
		storedAt:  c.now(),
	}
}

func (c *listingCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
