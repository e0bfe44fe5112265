// Package cache provides an expiring in-memory store for short-lived
// session state such as proposals awaiting review.
package cache

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Item represents a cached item with expiration
type Item[V any] struct {
	Value      V
	Expiration int64
}

// Expired checks if the item has expired
func (item Item[V]) Expired() bool {
	if item.Expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > item.Expiration
}

// TTLCache is a thread-safe cache with time-based expiration
type TTLCache[K comparable, V any] struct {
	items           map[K]Item[V]
	mu              sync.RWMutex
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	maxItems        int
	stopCleanup     chan struct{}
	cleanupStarted  sync.Once
	cleanupStopped  sync.Once

	// OnEvict, if set, is called for entries dropped by DeleteExpired or by
	// capacity eviction.
	OnEvict func(key K, value V)
}

// NewTTLCache creates a new cache with the specified TTL and cleanup interval.
// maxItems bounds the cache; the entries closest to expiry are evicted first.
func NewTTLCache[K comparable, V any](defaultTTL, cleanupInterval time.Duration, maxItems int) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		items:           make(map[K]Item[V]),
		defaultTTL:      defaultTTL,
		cleanupInterval: cleanupInterval,
		maxItems:        maxItems,
		stopCleanup:     make(chan struct{}),
	}
	c.startCleanupTimer()
	return c
}

// Set adds an item to the cache with the default TTL
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL adds an item to the cache with a specific TTL
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	c.items[key] = Item[V]{Value: value, Expiration: expiration}
	var evicted []evicted[K, V]
	if c.maxItems > 0 && len(c.items) > c.maxItems {
		evicted = c.evictOldest()
	}
	c.mu.Unlock()

	c.notify(evicted)
}

// Get retrieves an item from the cache
// Returns the item and a bool indicating if the item was found
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !found {
		return zero, false
	}

	if item.Expired() {
		c.mu.Lock()
		// Re-check in case the entry was replaced meanwhile.
		if latest, ok := c.items[key]; ok && latest.Expired() {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}

	return item.Value, true
}

// Delete removes an item from the cache
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Count returns the number of items in the cache
func (c *TTLCache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all items from the cache
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]Item[V])
	c.mu.Unlock()
}

type evicted[K comparable, V any] struct {
	key   K
	value V
}

func (c *TTLCache[K, V]) notify(list []evicted[K, V]) {
	if c.OnEvict == nil {
		return
	}
	for _, e := range list {
		c.OnEvict(e.key, e.value)
	}
}

// evictOldest removes the items closest to expiry. The lock must be held.
func (c *TTLCache[K, V]) evictOldest() []evicted[K, V] {
	type keyExpiration struct {
		key        K
		expiration int64
	}

	itemsToRemove := len(c.items) - c.maxItems
	if itemsToRemove <= 0 {
		return nil
	}

	keyExpirations := make([]keyExpiration, 0, len(c.items))
	for k, v := range c.items {
		exp := v.Expiration
		if exp == 0 {
			exp = math.MaxInt64
		}
		keyExpirations = append(keyExpirations, keyExpiration{k, exp})
	}

	sort.Slice(keyExpirations, func(i, j int) bool {
		return keyExpirations[i].expiration < keyExpirations[j].expiration
	})

	out := make([]evicted[K, V], 0, itemsToRemove)
	for i := 0; i < itemsToRemove; i++ {
		k := keyExpirations[i].key
		out = append(out, evicted[K, V]{k, c.items[k].Value})
		delete(c.items, k)
	}
	return out
}

func (c *TTLCache[K, V]) startCleanupTimer() {
	if c.cleanupInterval <= 0 {
		return
	}

	c.cleanupStarted.Do(func() {
		ticker := time.NewTicker(c.cleanupInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.DeleteExpired()
				case <-c.stopCleanup:
					return
				}
			}
		}()
	})
}

// DeleteExpired removes all expired items.
func (c *TTLCache[K, V]) DeleteExpired() {
	now := time.Now().UnixNano()

	c.mu.Lock()
	var out []evicted[K, V]
	for k, v := range c.items {
		if v.Expiration > 0 && v.Expiration < now {
			out = append(out, evicted[K, V]{k, v.Value})
			delete(c.items, k)
		}
	}
	c.mu.Unlock()

	c.notify(out)
}

// Stop stops the cleanup timer
func (c *TTLCache[K, V]) Stop() {
	c.cleanupStopped.Do(func() {
		close(c.stopCleanup)
	})
}
