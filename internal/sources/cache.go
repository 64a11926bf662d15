package sources

import (
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/models"
)

type cacheEntry struct {
	points    []models.DataPoint
	fetchedAt time.Time
}

// Cache holds the last successful fetch per source. A fresh entry is
// served instead of hitting the upstream again; a stale entry is the
// fallback when the upstream is rate limited or failing.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache creates a cache whose entries stay fresh for ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Put stores the latest points for a source.
func (c *Cache) Put(source string, points []models.DataPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[source] = cacheEntry{points: points, fetchedAt: c.now()}
}

// Get returns the cached points for a source and whether the entry is
// still within its TTL. The returned points are copies marked with a
// cached metadata flag so downstream consumers can tell replayed data
// from live data.
func (c *Cache) Get(source string) (points []models.DataPoint, fresh, ok bool) {
	c.mu.RLock()
	entry, ok := c.entries[source]
	c.mu.RUnlock()
	if !ok {
		return nil, false, false
	}

	fresh = c.now().Sub(entry.fetchedAt) < c.ttl
	points = make([]models.DataPoint, len(entry.points))
	for i, p := range entry.points {
		meta := make(map[string]interface{}, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			meta[k] = v
		}
		meta["cached"] = true
		p.Metadata = meta
		points[i] = p
	}
	return points, fresh, true
}
