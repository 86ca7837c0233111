// This module implements an expirable CLOCK cache; it is the default layer behind the response cache.
// Eviction Policy (CLOCK Algorithm):
// The cache uses a circular list of entries and a "hand" that sweeps over them. When the cache is full and a new item
// needs to be added, the hand checks the entry it's pointing to:
//   - If the entry's reference bit is 'true', it sets it to 'false' and moves to the next entry.
//     This gives the entry a "second chance".
//   - If the entry's reference bit is 'false', it evicts that entry and replaces it with the new one.
//
// Expiration Policy (TTL with Reaper):
// Entries are given a Time-To-Live (TTL) that starts on Add and is never extended by Get. Expiry is checked on every
// read, so correctness does not depend on the reaper. To keep memory bounded, entries are also distributed to
// time-based 'buckets', keyed by their expiry time rounded up to the next tick. A background goroutine, the "reaper",
// periodically wakes up and clears every bucket whose time has passed. Since buckets round up, a bucket is only
// cleared once all of its entries have expired.

package cache

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l2w/quizlet/pkg/utils"
)

// expirableClockCacheEntry represents a single entry in the cache. It contains the key-value pair, metadata for the
// clock algorithm, and expiration details.
type expirableClockCacheEntry[K comparable, V any] struct {
	key   K // The cache key for this entry.
	value V // The data stored for this key.
	// ref is the reference bit for the CLOCK algorithm. A value of 'true' indicates the entry has been recently
	// accessed and should be given a "second chance" before eviction. It's an atomic boolean since Get only holds
	// the read lock.
	ref       atomic.Bool
	expiresAt time.Time // The timestamp when this entry is considered expired.
}

func (e *expirableClockCacheEntry[K, V]) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// getTimeBucket rounds the timestamp up to the next multiple of tickInterval.
func getTimeBucket(timestamp time.Time, tickInterval time.Duration) time.Time {
	ns, tick := timestamp.UnixNano(), int64(tickInterval)
	return time.Unix(0, ((ns+tick-1)/tick)*tick)
}

// HyperClock is a thread-safe, fixed-capacity, in-memory cache that combines the CLOCK (Second-Chance)
// eviction algorithm with a time-based expiration mechanism.
type HyperClock[K comparable, V any] struct {
	capacity int // Maximum number of entries the cache can hold.
	// hand is the "clock hand" that points to the next candidate for eviction in the circular list.
	hand  *linkedListNode[*expirableClockCacheEntry[K, V]]
	index map[K]*linkedListNode[*expirableClockCacheEntry[K, V]] // Provides lookup for an entry by its key.
	// circularBuffer allows the hand to sweep over keys for the CLOCK eviction.
	circularBuffer *linkedList[*expirableClockCacheEntry[K, V]]
	// expiryBuckets indexes cache entries to allow expiring a batch of keys together.
	expiryBuckets map[time.Time]map[K]*linkedListNode[*expirableClockCacheEntry[K, V]]
	tickInterval  time.Duration // Rate of reaper goroutine removing expired keys.
	reaperHand    time.Time     // Next bucket to be cleared by the reaper goroutine.
	// evictionCallback is an optional callback function that is executed when an entry is evicted. This function is run
	// on key eviction in Add or Purge functions, so it must not be calling any of the cache methods to avoid deadlocks.
	evictionCallback func(K, V)
	mux              sync.RWMutex // Provides thread-safety for concurrent operations on the cache.
}

var _ Layer[string, []byte] = (*HyperClock[string, []byte])(nil)

// NewHyperClock is the constructor for HyperClock. It initializes the cache with the given capacity,
// eviction callback, and tick interval. It also starts the background reaper goroutine, which stops with `ctx`.
// NOTE: eviction callback function must not call any of the cache methods or else we'll be having a deadlock.
func NewHyperClock[K comparable, V any](ctx context.Context, capacity int, tickInterval time.Duration,
	evictionCallback func(K, V)) *HyperClock[K, V] {
	// Ensure capacity is at least 1.
	if capacity <= 0 {
		utils.RaiseInvariant("hcc", "negative_cache_capacity",
			"Invalid capacity has been given to clock cache.", "capacity", capacity)
		capacity = 1
	}
	if tickInterval <= 0 {
		utils.RaiseInvariant("hcc", "non_positive_tick_interval",
			"Invalid tick interval has been given to clock cache.", "tickInterval", tickInterval)
		tickInterval = time.Second
	}
	clockCache := &HyperClock[K, V]{
		capacity:         capacity,
		index:            make(map[K]*linkedListNode[*expirableClockCacheEntry[K, V]], capacity),
		circularBuffer:   new(linkedList[*expirableClockCacheEntry[K, V]]),
		expiryBuckets:    make(map[time.Time]map[K]*linkedListNode[*expirableClockCacheEntry[K, V]]),
		tickInterval:     tickInterval,
		reaperHand:       getTimeBucket(time.Now(), tickInterval),
		evictionCallback: evictionCallback,
	}
	// Start the reaper goroutine in the background.
	go clockCache.reaper(ctx)
	return clockCache
}

// Get retrieves a value from the cache for a given key. If the key is found and the entry is not expired, it returns
// the value and true. Accessing an item with Get marks it as recently used by setting its reference bit to true;
// it does not touch the entry's expiry.
func (c *HyperClock[K, V]) Get(key K) (V, bool /*found*/) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	entry, keyExists := c.index[key]
	if !keyExists || entry.Value.isExpired(time.Now()) {
		// Entry is not found or has expired; the reaper takes care of the latter.
		return *new(V), false
	}
	// Mark the entry as referenced (give it a second chance).
	entry.Value.ref.Store(true)
	return entry.Value.value, true
}

func (c *HyperClock[K, V]) addEntryToExpiryBucket(entry *linkedListNode[*expirableClockCacheEntry[K, V]]) {
	bucket := getTimeBucket(entry.Value.expiresAt, c.tickInterval)
	if _, bucketExists := c.expiryBuckets[bucket]; !bucketExists {
		c.expiryBuckets[bucket] = make(map[K]*linkedListNode[*expirableClockCacheEntry[K, V]])
	}
	c.expiryBuckets[bucket][entry.Value.key] = entry
}

func (c *HyperClock[K, V]) removeEntryFromExpiryBucket(entryValue *expirableClockCacheEntry[K, V]) {
	bucketTime := getTimeBucket(entryValue.expiresAt, c.tickInterval)
	if bucket, bucketExists := c.expiryBuckets[bucketTime]; bucketExists {
		delete(bucket, entryValue.key)
		if len(bucket) == 0 {
			delete(c.expiryBuckets, bucketTime)
		}
	}
}

// advanceHand moves the clock hand one step past `entry`, wrapping around at the end of the list.
func (c *HyperClock[K, V]) advanceHand(entry *linkedListNode[*expirableClockCacheEntry[K, V]]) {
	next := entry.Next()
	if next == nil { // Wrap around to the front if at the end of the list.
		next = c.circularBuffer.Front()
	}
	if next == entry { // The entry is the only one in the list.
		next = nil
	}
	c.hand = next
}

// unlink drops `entry` from every index of the cache. Caller must hold the write lock.
func (c *HyperClock[K, V]) unlink(entry *linkedListNode[*expirableClockCacheEntry[K, V]]) {
	// If the clock hand is pointing to an entry we are about to delete, we must advance it to
	// prevent it from pointing to a removed node.
	if c.hand == entry {
		c.advanceHand(entry)
	}
	delete(c.index, entry.Value.key)
	c.removeEntryFromExpiryBucket(entry.Value)
	c.circularBuffer.Remove(entry)
}

// Add inserts or updates a key-value pair in the cache. If the key already exists, its value and expiration are
// updated. If the cache is full, it evicts an old entry using the CLOCK algorithm. It returns true if an eviction
// occurred, and false otherwise.
func (c *HyperClock[K, V]) Add(key K, value V, ttl time.Duration) /*evictionOccurred*/ bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	// Update existing entry.
	if entry, keyExists := c.index[key]; keyExists {
		entryValue := entry.Value
		// Remove from the old time bucket before updating.
		c.removeEntryFromExpiryBucket(entryValue)
		// Update value, clear the reference bit, and reset TTL.
		entryValue.value = value
		entryValue.ref.Store(false)
		entryValue.expiresAt = time.Now().Add(ttl)
		c.addEntryToExpiryBucket(entry)
		return false
	}

	// Add new entry (if cache is not full).
	if c.circularBuffer.Len() < c.capacity {
		entry := c.circularBuffer.PushBack(&expirableClockCacheEntry[K, V]{
			key:       key,
			value:     value,
			expiresAt: time.Now().Add(ttl),
		})
		c.addEntryToExpiryBucket(entry)
		c.index[key] = entry
		// Initialize clock hand if it's the first element.
		if c.hand == nil {
			c.hand = entry
		}
		return false
	}

	// Eviction loop (if cache is full). This loop implements the CLOCK (Second-Chance) algorithm.
	now := time.Now()
	for {
		entry := c.hand
		entryValue := entry.Value
		// Find a victim: an entry that is either unreferenced OR expired.
		if !entryValue.ref.Load() || entryValue.isExpired(now) {
			// Evict this entry. Remove it from the index and its time bucket.
			delete(c.index, entryValue.key)
			c.removeEntryFromExpiryBucket(entryValue)
			evictedKey, evictedValue := entryValue.key, entryValue.value
			// Replace the evicted entry's data with the new data in the same node.
			entryValue.key = key
			entryValue.value = value
			entryValue.ref.Store(false)
			entryValue.expiresAt = now.Add(ttl)
			c.addEntryToExpiryBucket(entry)
			c.index[key] = entry
			c.advanceHand(entry)
			if c.hand == nil { // Single entry cache; the hand stays on the only node.
				c.hand = entry
			}
			if c.evictionCallback != nil {
				c.evictionCallback(evictedKey, evictedValue)
			}
			return true
		}
		// If the entry was referenced, give it a second chance by clearing its reference bit.
		entryValue.ref.Store(false)
		c.advanceHand(entry)
		if c.hand == nil {
			c.hand = entry
		}
	}
}

// Remove deletes the given key from the cache. It returns false if the key was not present.
func (c *HyperClock[K, V]) Remove(key K) /*removed*/ bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	entry, keyExists := c.index[key]
	if !keyExists {
		return false
	}
	c.unlink(entry)
	return true
}

// Keys returns the keys currently held by the cache, including expired keys the reaper hasn't cleared yet.
func (c *HyperClock[K, V]) Keys() []K {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return slices.Collect(maps.Keys(c.index))
}

// Purge removes every entry, running the eviction callback for each of them.
func (c *HyperClock[K, V]) Purge() {
	c.mux.Lock()
	defer c.mux.Unlock()

	for entry := c.circularBuffer.Front(); entry != nil; {
		next := entry.Next()
		evictedKey, evictedValue := entry.Value.key, entry.Value.value
		c.circularBuffer.Remove(entry)
		if c.evictionCallback != nil {
			c.evictionCallback(evictedKey, evictedValue)
		}
		entry = next
	}
	clear(c.index)
	clear(c.expiryBuckets)
	c.hand = nil
}

// reaper is a background goroutine that handles entry expiration. It wakes up at a regular interval and clears every
// bucket whose time has passed.
func (c *HyperClock[K, V]) reaper(ctx context.Context) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reap(time.Now())
		}
	}
}

// reap clears all the buckets before `now`. There can be more than one expired bucket in case of high CPU usage.
func (c *HyperClock[K, V]) reap(now time.Time) {
	c.mux.Lock()
	defer c.mux.Unlock()

	for c.reaperHand.Before(now) {
		if bucket, bucketExists := c.expiryBuckets[c.reaperHand]; bucketExists {
			for _, entryNode := range bucket {
				c.unlink(entryNode)
			}
			delete(c.expiryBuckets, c.reaperHand)
		}
		// Advance the reaper hand to the next bucket for the next cycle.
		c.reaperHand = c.reaperHand.Add(c.tickInterval)
	}
}
