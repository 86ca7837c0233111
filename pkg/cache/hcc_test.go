package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperClock_AddAndGet(t *testing.T) {
	clockCache := NewHyperClock[string, string](t.Context(), 5, time.Second /*tickInterval*/, nil /*evictionCallback*/)

	wasEvicted := clockCache.Add("q1", `{"name":"Math"}`, time.Minute)
	assert.False(t, wasEvicted, "Should not evict when cache is not full")

	val, found := clockCache.Get("q1")
	assert.True(t, found, "Should find q1")
	assert.Equal(t, `{"name":"Math"}`, val, "Should get correct value for q1")

	_, found = clockCache.Get("nonexistent")
	assert.False(t, found, "Should not find a non-existent key")
}

func TestHyperClock_UpdateKey(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 2, time.Second /*tickInterval*/, nil /*evictionCallback*/)

	clockCache.Add("key1", 100, time.Minute)
	clockCache.Add("key2", 200, time.Minute)

	wasEvicted := clockCache.Add("key1", 999, time.Minute)
	assert.False(t, wasEvicted, "Should not evict on update")
	val, found := clockCache.Get("key1")
	assert.True(t, found, "Key should be present after update")
	assert.Equal(t, 999, val, "Value should be the updated value")

	_, found = clockCache.Get("key2")
	assert.True(t, found, "Other key should not be affected by an update")
}

func TestHyperClock_UpdateResetsTTL(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 2, time.Millisecond /*tickInterval*/, nil)

	clockCache.Add("key", 1, 80*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	clockCache.Add("key", 2, 80*time.Millisecond) // Restarts the expiry clock.
	time.Sleep(50 * time.Millisecond)

	val, found := clockCache.Get("key")
	assert.True(t, found, "Overwriting a key must restart its TTL")
	assert.Equal(t, 2, val)
}

func TestHyperClock_GetDoesNotExtendTTL(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 2, time.Millisecond /*tickInterval*/, nil)

	clockCache.Add("key", 1, 40*time.Millisecond)
	for range 3 { // Keep reading while the entry ages.
		time.Sleep(10 * time.Millisecond)
		_, _ = clockCache.Get("key")
	}
	time.Sleep(40 * time.Millisecond)

	_, found := clockCache.Get("key")
	assert.False(t, found, "Reads must not refresh the TTL")
}

func TestHyperClock_EvictionPolicy(t *testing.T) {
	clockCache := NewHyperClock[int, string](t.Context(), 2, time.Second /*tickInterval*/, nil /*evictionCallback*/)

	// Fill the cache.
	clockCache.Add(1, "one", time.Minute)
	clockCache.Add(2, "two", time.Minute)

	// Add a third item, which should trigger an eviction since the cache is full.
	wasEvicted := clockCache.Add(3, "three", time.Minute)
	assert.True(t, wasEvicted, "Should evict when adding to a full cache")
	_, found := clockCache.Get(1)
	assert.False(t, found, "Item 1 should have been evicted")
	_, found = clockCache.Get(2)
	assert.True(t, found, "Item 2 should not be evicted")
	val, found := clockCache.Get(3)
	assert.True(t, found, "Item 3 should be in the cache")
	assert.Equal(t, "three", val, "Item 3 should have the correct value")

	// Both remaining items are referenced; the hand clears both bits and evicts item 2 on the second pass.
	wasEvicted = clockCache.Add(4, "four", time.Minute)
	assert.True(t, wasEvicted, "Should evict when adding to a full cache")
	_, found = clockCache.Get(2)
	assert.False(t, found, "Item 2 should have been evicted")
	_, found = clockCache.Get(3)
	assert.True(t, found, "Item 3 should not be evicted")
	val, found = clockCache.Get(4)
	assert.True(t, found, "Item 4 should be in the cache")
	assert.Equal(t, "four", val, "Item 4 should have the correct value")
}

func TestHyperClock_SingleEntryCapacity(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 1, time.Second /*tickInterval*/, nil)

	clockCache.Add("a", 1, time.Minute)
	_, _ = clockCache.Get("a") // Referenced; must still be evicted on the second sweep.
	assert.True(t, clockCache.Add("b", 2, time.Minute))
	val, found := clockCache.Get("b")
	assert.True(t, found)
	assert.Equal(t, 2, val)
	assert.Equal(t, []string{"b"}, clockCache.Keys())
}

func TestHyperClock_EvictionCallback(t *testing.T) {
	var evictedKey int
	var evictedValue string
	var mu sync.Mutex

	evictionCallback := func(k int, v string) {
		mu.Lock()
		defer mu.Unlock()
		evictedKey = k
		evictedValue = v
	}

	clockCache := NewHyperClock[int, string](t.Context(), 1, time.Second /*tickInterval*/, evictionCallback)

	// Fill the cache.
	clockCache.Add(10, "ten", time.Minute)

	// This Add will trigger the eviction of key 10.
	clockCache.Add(20, "twenty", time.Minute)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, evictedKey, "Evicted key should be 10")
	assert.Equal(t, "ten", evictedValue, "Evicted value should be 'ten'")
}

func TestHyperClock_Remove(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 3, time.Second /*tickInterval*/, nil)
	clockCache.Add("a", 1, time.Minute)
	clockCache.Add("b", 2, time.Minute)
	clockCache.Add("c", 3, time.Minute)

	t.Run("present_key", func(t *testing.T) {
		assert.True(t, clockCache.Remove("a"), "The clock hand points at 'a'; removal must move it along")
		_, found := clockCache.Get("a")
		assert.False(t, found)
		assert.ElementsMatch(t, []string{"b", "c"}, clockCache.Keys())
	})
	t.Run("absent_key", func(t *testing.T) {
		assert.False(t, clockCache.Remove("a"))
		assert.False(t, clockCache.Remove("never-added"))
	})
	t.Run("reuse_after_remove", func(t *testing.T) {
		// There's room for one more entry without evicting.
		assert.False(t, clockCache.Add("d", 4, time.Minute))
		assert.True(t, clockCache.Add("e", 5, time.Minute), "Cache is full again")
		assert.Len(t, clockCache.Keys(), 3)
	})
	t.Run("remove_everything", func(t *testing.T) {
		for _, key := range clockCache.Keys() {
			assert.True(t, clockCache.Remove(key))
		}
		assert.Empty(t, clockCache.Keys())
		assert.Nil(t, clockCache.hand, "Hand must be reset once the cache is empty")
		assert.False(t, clockCache.Add("f", 6, time.Minute))
		val, found := clockCache.Get("f")
		assert.True(t, found)
		assert.Equal(t, 6, val)
	})
}

func TestHyperClock_GetExpired(t *testing.T) {
	// The tick is much longer than the TTL, so only the read-time check can hide the entry.
	clockCache := NewHyperClock[string, int](t.Context(), 5, time.Hour /*tickInterval*/, nil /*evictionCallback*/)

	clockCache.Add("key1", 1, 20*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, found := clockCache.Get("key1")
	assert.False(t, found, "Should not find an expired item")
}

func TestHyperClock_Reaper(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 10, time.Millisecond /*tickInterval*/, nil)

	clockCache.Add("key1", 1, 50*time.Millisecond)
	clockCache.Add("key2", 2, 60*time.Millisecond)

	// The reaper eventually drops both keys from the index, not only hides them.
	assert.Eventually(t, func() bool { return len(clockCache.Keys()) == 0 }, time.Second, 5*time.Millisecond)
	_, found := clockCache.Get("key1")
	assert.False(t, found, "Key1 should have been removed by the reaper")
}

func TestHyperClock_ReaperNeverDropsLiveEntries(t *testing.T) {
	// A tick of an hour keeps the background reaper idle; reap is driven by hand.
	tick := time.Hour
	clockCache := NewHyperClock[string, int](t.Context(), 10, tick, nil)

	clockCache.Add("key", 1, 50*time.Millisecond)
	expiresAt := clockCache.index["key"].Value.expiresAt
	bucket := getTimeBucket(expiresAt, tick)
	// The entry's bucket is at or after its expiry, so reaping right before expiry keeps it.
	assert.False(t, bucket.Before(expiresAt))
	clockCache.reap(expiresAt.Add(-time.Nanosecond))
	assert.Equal(t, []string{"key"}, clockCache.Keys(), "Reaper must not remove an entry before its TTL elapses")

	// Once past the bucket boundary, the entry is gone.
	clockCache.reap(bucket.Add(time.Nanosecond))
	assert.Empty(t, clockCache.Keys())
}

func TestHyperClock_Purge(t *testing.T) {
	evicted := 0
	clockCache := NewHyperClock[string, int](t.Context(), 4, time.Second, func(string, int) { evicted++ })
	for i := range 4 {
		clockCache.Add(fmt.Sprintf("key-%d", i), i, time.Minute)
	}
	clockCache.Purge()
	assert.Empty(t, clockCache.Keys())
	assert.Equal(t, 4, evicted, "Purge runs the eviction callback per entry")
	assert.False(t, clockCache.Add("again", 1, time.Minute))
	_, found := clockCache.Get("again")
	assert.True(t, found)
}

func TestHyperClock_ReaperStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clockCache := NewHyperClock[string, int](ctx, 2, time.Millisecond, nil)
	cancel()
	// The cache itself stays usable once the reaper is gone; expiry is still enforced on reads.
	clockCache.Add("key", 1, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	_, found := clockCache.Get("key")
	assert.False(t, found)
}

func TestHyperClock_Concurrency(t *testing.T) {
	numGoroutines := 50
	itemsPerGoroutine := 50

	clockCache := NewHyperClock[string, int](t.Context(), 1000, time.Second /*tickInterval*/, nil)
	var wg sync.WaitGroup

	// Concurrent writers and removers.
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < itemsPerGoroutine; j++ {
				key := fmt.Sprintf("key-%d-%d", goroutineID, j)
				clockCache.Add(key, goroutineID*100+j, time.Minute)
				if j%5 == 0 {
					clockCache.Remove(key)
				}
			}
		}(i)
	}
	wg.Wait()

	// Concurrent readers.
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < itemsPerGoroutine; j++ {
				// We can't guarantee the key is still present due to evictions from other goroutines,
				// but if it is found, its value must be correct.
				if val, found := clockCache.Get(fmt.Sprintf("key-%d-%d", goroutineID, j)); found {
					assert.Equal(t, goroutineID*100+j, val, "Concurrent Get should return the correct value")
				}
			}
		}(i)
	}
	wg.Wait()
	require.LessOrEqual(t, len(clockCache.Keys()), 1000)
}
