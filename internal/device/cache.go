package device

import (
	"sync"
	"time"

	"github.com/quern/quern/internal/models"
)

// uiCacheTTL is the per-device UI tree cache lifetime, per spec §4.6 (~300ms).
const uiCacheTTL = 300 * time.Millisecond

// coordinateCacheTTL is how long a coordinate-cache entry survives without
// being hit, per spec §4.6 (24 hours).
const coordinateCacheTTL = 24 * time.Hour

// coordinateCacheMaxMisses expires an entry after this many consecutive
// probe failures even within the TTL window.
const coordinateCacheMaxMisses = 3

// UICache holds the most recently captured tree per device, invalidated
// synchronously before any mutating operation returns — a performance
// optimization never consulted for correctness-critical reads after a
// mutation, per spec §4.6.
type UICache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	tree      *models.UIElement
	updatedAt time.Time
}

func NewUICache() *UICache {
	return &UICache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached tree for udid if it hasn't expired.
func (c *UICache) Get(udid string, now time.Time) (*models.UIElement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[udid]
	if !ok || now.Sub(entry.updatedAt) > uiCacheTTL {
		return nil, false
	}
	return entry.tree, true
}

// Put stores a freshly captured tree for udid.
func (c *UICache) Put(udid string, tree *models.UIElement, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[udid] = cacheEntry{tree: tree, updatedAt: now}
}

// Invalidate drops the cached tree for udid, called before every mutating
// operation returns.
func (c *UICache) Invalidate(udid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, udid)
}

// CoordinateKey identifies a coordinate-cache entry: (bundle, model, identifier).
type CoordinateKey struct {
	Bundle     string
	Model      string
	Identifier string
}

type coordinateEntry struct {
	x, y              float64
	lastUsed          time.Time
	consecutiveMisses int
}

// CoordinateCache is an optional fast path for tap-by-identifier: if a
// cached coordinate still resolves to the same element, the full tree scan
// is skipped. Never consulted for label-based lookups, per spec §4.6.
type CoordinateCache struct {
	mu      sync.Mutex
	entries map[CoordinateKey]*coordinateEntry
}

func NewCoordinateCache() *CoordinateCache {
	return &CoordinateCache{entries: make(map[CoordinateKey]*coordinateEntry)}
}

// Lookup returns the cached coordinates for key if present and not expired.
func (c *CoordinateCache) Lookup(key CoordinateKey, now time.Time) (x, y float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, found := c.entries[key]
	if !found {
		return 0, 0, false
	}
	if now.Sub(entry.lastUsed) > coordinateCacheTTL || entry.consecutiveMisses >= coordinateCacheMaxMisses {
		delete(c.entries, key)
		return 0, 0, false
	}
	return entry.x, entry.y, true
}

// RecordHit refreshes key's last-used time and resets its miss streak.
func (c *CoordinateCache) RecordHit(key CoordinateKey, x, y float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &coordinateEntry{x: x, y: y, lastUsed: now}
}

// RecordMiss increments key's miss streak, evicting it once the threshold
// is reached.
func (c *CoordinateCache) RecordMiss(key CoordinateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	entry.consecutiveMisses++
	if entry.consecutiveMisses >= coordinateCacheMaxMisses {
		delete(c.entries, key)
	}
}

// Update replaces/creates key's cached coordinates after a successful full
// tree scan fallback.
func (c *CoordinateCache) Update(key CoordinateKey, x, y float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &coordinateEntry{x: x, y: y, lastUsed: now}
}
