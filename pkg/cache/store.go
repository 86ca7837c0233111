// Store is the response cache sitting in front of the backing store. Every entry in one Store lives for the same
// fixed TTL; reads never refresh it. The HTTP layer reads through the store with GetOrCompute and drops stale keys
// with Invalidate after each successful write.

package cache

import (
	"context"
	"flag"
	"runtime"
	"time"

	"github.com/l2w/quizlet/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	cacheEnabled = flag.Bool("enable_response_cache", true, "Enable the in-process response cache.")
	cacheLayer   = flag.String("cache_layer", "hyperclock",
		"The cache layer implementation; one of 'hyperclock' or 'ttlcache'.")
	cacheCapacity = flag.Int("cache_capacity", 10_000,
		"The maximum number of entries to keep in the response cache; 0 or negative disables the cache.")
	cacheShardCount = flag.Int("cache_shard_count", runtime.NumCPU(),
		"The number of shards to keep in the response cache; 0 or negative disables the cache.")
	cacheTtl          = flag.Duration("cache_ttl", 5*time.Minute, "The TTL of every response cache entry.")
	cacheTickInterval = flag.Duration("cache_tick_interval", 1*time.Second,
		"The clock tick interval used by the hyperclock reaper.")

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizlet_cache_lookups_total",
		Help: "Total number of response cache lookups.",
	}, []string{"status" /* hit | miss */})
	cacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizlet_cache_invalidations_total",
		Help: "Total number of response cache keys removed by invalidation.",
	})
	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizlet_cache_evictions_total",
		Help: "Total number of response cache entries evicted under capacity pressure.",
	})
)

// NewLayer builds the cache layer configured by flags. A disabled cache is a NoOp layer, so every read misses and
// every read goes to the backing store.
func NewLayer[V any](ctx context.Context, evictionCallback func(string, V)) Layer[string, V] {
	if !*cacheEnabled || *cacheCapacity <= 0 || *cacheShardCount <= 0 {
		return NewNoOp[string, V]()
	}
	// Capacity is spread over the shards, rounding up so the total is never below the configured one.
	shardCapacity := (*cacheCapacity + *cacheShardCount - 1) / *cacheShardCount
	var newCache func() Layer[string, V]
	switch *cacheLayer {
	case "hyperclock":
		newCache = func() Layer[string, V] {
			return NewHyperClock(ctx, shardCapacity, *cacheTickInterval, evictionCallback)
		}
	case "ttlcache":
		newCache = func() Layer[string, V] { return NewTTLCache(ctx, shardCapacity, evictionCallback) }
	default:
		utils.RaiseInvariant("cache", "unknown_cache_layer", "Unknown cache layer; using hyperclock.",
			"cacheLayer", *cacheLayer)
		newCache = func() Layer[string, V] {
			return NewHyperClock(ctx, shardCapacity, *cacheTickInterval, evictionCallback)
		}
	}
	if *cacheShardCount == 1 {
		return newCache()
	}
	return NewSharded(newCache, *cacheShardCount)
}

// Store is a TTL cache keyed by strings. It's safe for concurrent use as long as its layer is.
type Store[V any] struct {
	layer  Layer[string, V]
	ttl    time.Duration
	flight singleflight.Group // Coalesces concurrent misses of the same key.
}

// NewStore wraps `layer` so every entry lives for `ttl`.
func NewStore[V any](layer Layer[string, V], ttl time.Duration) *Store[V] {
	if ttl <= 0 {
		utils.RaiseInvariant("cache", "non_positive_ttl", "Cache TTL must be positive; using the default.",
			"ttl", ttl)
		ttl = 5 * time.Minute
	}
	return &Store[V]{layer: layer, ttl: ttl}
}

// NewStoreFromFlags builds a Store over the flag-configured layer. Background goroutines stop with `ctx`.
func NewStoreFromFlags[V any](ctx context.Context) *Store[V] {
	layer := NewLayer(ctx, func(string, V) { cacheEvictions.Inc() })
	return NewStore(layer, *cacheTtl)
}

// TTL returns the lifetime of every entry in the store.
func (s *Store[V]) TTL() time.Duration { return s.ttl }

// Set inserts or overwrites the value of `key` and restarts its TTL.
func (s *Store[V]) Set(key string, value V) {
	s.layer.Add(key, value, s.ttl)
}

// Get returns the value of `key` if it was set less than TTL ago.
func (s *Store[V]) Get(key string) (V, bool /*found*/) {
	value, found := s.layer.Get(key)
	if found {
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
	}
	return value, found
}

// Remove drops `key`; removing an absent key is a no-op.
func (s *Store[V]) Remove(key string) /*removed*/ bool {
	return s.layer.Remove(key)
}

// Keys lists the keys currently held, possibly including expired ones the reaper hasn't dropped yet.
func (s *Store[V]) Keys() []string {
	return s.layer.Keys()
}

// Len returns the number of keys currently held.
func (s *Store[V]) Len() int {
	return len(s.layer.Keys())
}

// Purge drops every entry.
func (s *Store[V]) Purge() {
	s.layer.Purge()
}

// GetOrCompute returns the cached value of `key` with hit=true, or calls `onMiss` and returns its result with
// hit=false. The store never populates itself: `onMiss` decides whether and what to Set. A failing `onMiss` leaves
// the cache as it was. Concurrent misses of the same key wait on a single `onMiss` call.
func (s *Store[V]) GetOrCompute(key string, onMiss func() (V, error)) (V, bool /*hit*/, error) {
	if value, found := s.Get(key); found {
		return value, true, nil
	}
	result, err, _ := s.flight.Do(key, func() (any, error) { return onMiss() })
	if err != nil {
		return *new(V), false, err
	}
	value, _ := result.(V)
	return value, false, nil
}

// Invalidate removes every given key after a write and returns how many were present.
func (s *Store[V]) Invalidate(keys ...string) /*removed*/ int {
	removed := 0
	for _, key := range keys {
		if s.layer.Remove(key) {
			removed++
		}
	}
	cacheInvalidations.Add(float64(removed))
	return removed
}
