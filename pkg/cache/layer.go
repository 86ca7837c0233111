// Quizlet caches encoded API responses in memory to avoid repeated round trips to the backing store.
// This module provides an interface on caching, making single shard caches, multi shard caches and the
// ttlcache-backed layer share the same API.

package cache

import "time"

// Layer defines the interface for a generic key-value cache. This allows different cache implementations
// (e.g., CLOCK, ttlcache, simple map-based) to be used as shards within the Sharded cache.
type Layer[K comparable, V any] interface {
	// Get returns value from cache for given key and a boolean indicating whether key was found.
	// Expired entries are never returned and a read never extends an entry's lifetime.
	Get(key K) (V, bool)
	// Add inserts a key-value pair into the cache with the given TTL. It returns true if an item was evicted.
	Add(key K, value V, ttl time.Duration) bool
	// Remove deletes the given key and reports whether it was present.
	Remove(key K) bool
	Keys() []K // Returns a slice of all keys currently in the cache.
	Purge()    // Removes all items from the cache.
}

// NoOp is a cache layer that doesn't store any items.
// It is used when the response cache is disabled.
type NoOp[K comparable, V any] struct { // Implements Layer.
}

var _ Layer[string, []byte] = (*NoOp[string, []byte])(nil)

// NewNoOp returns a no-operation cache layer that does not store any items.
func NewNoOp[K comparable, V any]() *NoOp[K, V] {
	return &NoOp[K, V]{}
}

// Get always returns false, indicating the key is not found.
func (n *NoOp[K, V]) Get(key K) (V, bool) {
	var zero V
	return zero, false
}

// Add does nothing and always returns false, indicating no item was evicted.
func (n *NoOp[K, V]) Add(key K, value V, ttl time.Duration) bool {
	return false
}

// Remove does nothing; no key is ever present.
func (n *NoOp[K, V]) Remove(key K) bool {
	return false
}

// Keys always returns nil, as there are no keys stored.
func (n *NoOp[K, V]) Keys() []K {
	return nil
}

// Purge does nothing, as there are no items to remove.
func (n *NoOp[K, V]) Purge() {}
