// This module implements cache sharding which distributes keys uniformly across cache shards. Since each thread-safe
// cache layer has a mutex to avoid races between reads and writes, sharding helps by distributing the locks.
// Concurrent requests for different quizzes mostly land on different shards, so a request reading one quiz doesn't
// wait on another request writing the collection entry.

package cache

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/l2w/quizlet/pkg/utils"
)

// Sharded is a cache implementation that distributes keys across multiple underlying cache layers (shards).
type Sharded[K comparable, V any] struct { // Implements Layer.
	shards []Layer[K, V]
	hash   func(key K) uint64 // Helps choose the shards index.
}

var _ Layer[string, []byte] = (*Sharded[string, []byte])(nil)

// hashFuncFor picks the hash function for the key type once, so the hot path doesn't type switch.
func hashFuncFor[K comparable]() func(key K) uint64 {
	switch any(*new(K)).(type) {
	case string:
		return func(key K) uint64 { return xxhash.Sum64String(any(key).(string)) }
	case int:
		return func(key K) uint64 {
			var b [8]byte
			// Since int's size is architecture-dependent, we cast it to a fixed-size type before hashing.
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(int)))
			return xxhash.Sum64(b[:])
		}
	case int64:
		return func(key K) uint64 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(int64)))
			return xxhash.Sum64(b[:])
		}
	case uint64:
		return func(key K) uint64 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], any(key).(uint64))
			return xxhash.Sum64(b[:])
		}
	default:
		// Structs and the rest go through their printed form; slower but works for any comparable type.
		return func(key K) uint64 { return xxhash.Sum64String(fmt.Sprintf("%#v", key)) }
	}
}

// NewSharded is the constructor for Sharded. It takes a cacheGenerator function, which is responsible for
// creating individual shard instances, and the desired number of shards (shardCount).
func NewSharded[K comparable, V any](cacheGenerator func() Layer[K, V], shardCount int) *Sharded[K, V] {
	// Ensure there is at least one shard.
	if shardCount <= 0 {
		utils.RaiseInvariant("shard", "negative_shard_count",
			"Invalid shard count has been given to sharded cache.", "shardCount", shardCount)
		shardCount = 1
	}
	sharded := &Sharded[K, V]{shards: make([]Layer[K, V], shardCount), hash: hashFuncFor[K]()}
	for i := range shardCount {
		sharded.shards[i] = cacheGenerator()
	}
	return sharded
}

// getShard maps the key's hash to a shard index.
func (c *Sharded[K, V]) getShard(key K) Layer[K, V] {
	return c.shards[c.hash(key)%uint64(len(c.shards))]
}

// Get finds the appropriate shard for the key and retrieves the value from it.
func (c *Sharded[K, V]) Get(key K) (V, bool /*found*/) {
	return c.getShard(key).Get(key)
}

// Add finds the appropriate shard for the key and adds the key-value pair to it.
func (c *Sharded[K, V]) Add(key K, value V, ttl time.Duration) /*evictionOccurred*/ bool {
	return c.getShard(key).Add(key, value, ttl)
}

// Remove deletes the key from the shard owning it.
func (c *Sharded[K, V]) Remove(key K) /*removed*/ bool {
	return c.getShard(key).Remove(key)
}

// Keys aggregates the keys from all shards into a single slice. This locks every shard in turn, so it's meant for
// the admin port, not for the request path.
func (c *Sharded[K, V]) Keys() []K {
	keys := make([]K, 0)
	for _, shard := range c.shards {
		keys = append(keys, shard.Keys()...)
	}
	return keys
}

// Purge clears all items from the cache by calling Purge on every shard.
func (c *Sharded[K, V]) Purge() {
	for _, shard := range c.shards {
		shard.Purge()
	}
}
