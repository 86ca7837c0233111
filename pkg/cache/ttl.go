// TTLCache adapts github.com/jellydator/ttlcache to the Layer interface. It's the alternative to HyperClock
// selected with --cache_layer=ttlcache; ttlcache evicts the least recently used entry under capacity pressure and
// cleans expired entries from its own goroutine.

package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// TTLCache is a thread-safe Layer backed by ttlcache. Touch on hit is disabled, so reads never extend a TTL.
type TTLCache[K comparable, V any] struct { // Implements Layer.
	inner    *ttlcache.Cache[K, V]
	capacity uint64 // Zero means unbounded.
}

var _ Layer[string, []byte] = (*TTLCache[string, []byte])(nil)

// NewTTLCache creates a ttlcache-backed layer holding at most `capacity` entries. The cleaner goroutine stops with
// `ctx`. The optional `evictionCallback` only runs for capacity evictions, matching HyperClock.
func NewTTLCache[K comparable, V any](ctx context.Context, capacity int,
	evictionCallback func(K, V)) *TTLCache[K, V] {
	var maxEntries uint64
	if capacity > 0 {
		maxEntries = uint64(capacity)
	}
	inner := ttlcache.New[K, V](
		ttlcache.WithCapacity[K, V](maxEntries),
		ttlcache.WithDisableTouchOnHit[K, V](),
	)
	if evictionCallback != nil {
		inner.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[K, V]) {
			if reason == ttlcache.EvictionReasonCapacityReached {
				evictionCallback(item.Key(), item.Value())
			}
		})
	}
	go inner.Start()
	go func() {
		<-ctx.Done()
		inner.Stop()
	}()
	return &TTLCache[K, V]{inner: inner, capacity: maxEntries}
}

// Get returns the value for key unless it's absent or expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool /*found*/) {
	item := c.inner.Get(key)
	if item == nil || item.IsExpired() {
		return *new(V), false
	}
	return item.Value(), true
}

// Add stores the value with the given TTL. The eviction report is best effort: it's computed before the write
// without holding ttlcache's lock.
func (c *TTLCache[K, V]) Add(key K, value V, ttl time.Duration) /*evictionOccurred*/ bool {
	willEvict := c.capacity > 0 && !c.inner.Has(key) && uint64(c.inner.Len()) >= c.capacity
	c.inner.Set(key, value, ttl)
	return willEvict
}

// Remove deletes the key and reports whether it was present.
func (c *TTLCache[K, V]) Remove(key K) /*removed*/ bool {
	present := c.inner.Has(key)
	c.inner.Delete(key)
	return present
}

func (c *TTLCache[K, V]) Keys() []K {
	return c.inner.Keys()
}

func (c *TTLCache[K, V]) Purge() {
	c.inner.DeleteAll()
}
