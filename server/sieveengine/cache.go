package sieveengine

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/migadu/filterd/pkg/metrics"
	"lukechampine.com/blake3"
)

// scriptCacheEntry represents a cached compiled script
type scriptCacheEntry struct {
	script     *Script
	lastAccess time.Time
	createdAt  time.Time
}

// ScriptCache implements an LRU cache for compiled scripts with TTL.
// Entries are keyed by a content hash, so two paths holding the same
// source share one compiled script.
type ScriptCache struct {
	mu          sync.RWMutex
	cache       map[string]*scriptCacheEntry
	maxEntries  int
	ttl         time.Duration
	accessOrder []string // track access order for LRU eviction
}

// NewScriptCache creates a script cache with the specified maximum
// entries and TTL.
func NewScriptCache(maxEntries int, ttl time.Duration) *ScriptCache {
	return &ScriptCache{
		cache:       make(map[string]*scriptCacheEntry),
		maxEntries:  maxEntries,
		ttl:         ttl,
		accessOrder: make([]string, 0, maxEntries),
	}
}

func hashScript(src []byte) string {
	sum := blake3.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// Get retrieves a compiled script by source content.
func (c *ScriptCache) Get(src []byte) (*Script, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashScript(src)
	entry, exists := c.cache[key]
	if !exists {
		metrics.ScriptCacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}

	if time.Since(entry.createdAt) > c.ttl {
		delete(c.cache, key)
		c.removeFromAccessOrder(key)
		metrics.ScriptCacheHits.WithLabelValues("expired").Inc()
		return nil, false
	}

	entry.lastAccess = time.Now()
	c.updateAccessOrder(key)

	metrics.ScriptCacheHits.WithLabelValues("hit").Inc()
	return entry.script, true
}

// Put stores a compiled script keyed by its source content.
func (c *ScriptCache) Put(src []byte, script *Script) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashScript(src)
	now := time.Now()

	if _, exists := c.cache[key]; exists {
		c.updateAccessOrder(key)
		return
	}

	if len(c.cache) >= c.maxEntries && c.maxEntries > 0 {
		c.evictOldest()
	}

	c.cache[key] = &scriptCacheEntry{
		script:     script,
		lastAccess: now,
		createdAt:  now,
	}
	c.accessOrder = append(c.accessOrder, key)
}

// GetOrCompile returns the cached compiled script for src, compiling and
// caching it on a miss.
func (c *ScriptCache) GetOrCompile(compiler *Compiler, name string, src []byte) (*Script, error) {
	if script, found := c.Get(src); found {
		return script, nil
	}

	script, err := compiler.Compile(name, string(src))
	if err != nil {
		return nil, err
	}

	c.Put(src, script)
	return script, nil
}

// updateAccessOrder moves the key to the end of the access order list
func (c *ScriptCache) updateAccessOrder(key string) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, key)
}

func (c *ScriptCache) removeFromAccessOrder(key string) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
}

// evictOldest removes the least recently used entry from the cache
func (c *ScriptCache) evictOldest() {
	if len(c.accessOrder) == 0 {
		return
	}
	oldestKey := c.accessOrder[0]
	delete(c.cache, oldestKey)
	c.accessOrder = c.accessOrder[1:]
}

// Clear removes all entries from the cache
func (c *ScriptCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*scriptCacheEntry)
	c.accessOrder = make([]string, 0, c.maxEntries)
}

// Size returns the current number of cached entries
func (c *ScriptCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// CleanExpired removes all expired entries from the cache
func (c *ScriptCache) CleanExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var keysToRemove []string
	for key, entry := range c.cache {
		if now.Sub(entry.createdAt) > c.ttl {
			keysToRemove = append(keysToRemove, key)
		}
	}
	for _, key := range keysToRemove {
		delete(c.cache, key)
		c.removeFromAccessOrder(key)
	}
}
