package dataType

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// windowEntry is one client's fixed-window counter. A new window
// overwrites the entry in place; entries are never removed on the
// request path.
type windowEntry struct {
	count       int64
	windowStart int64
}

type trackerBucket struct {
	mu      sync.Mutex
	entries map[uint64]*windowEntry
}

// RateTracker counts hits per key inside a fixed rolling window. Keys are
// sharded over xxhash-selected buckets so concurrent clients rarely
// contend on the same lock, while same-key updates stay atomic.
type RateTracker struct {
	buckets     []*trackerBucket
	bucketCount uint64
}

// NewRateTracker builds a tracker with the given shard count; anything
// non-positive gets the default of 64 shards.
func NewRateTracker(bucketCount int) *RateTracker {
	if bucketCount <= 0 {
		bucketCount = 64
	}
	t := &RateTracker{
		buckets:     make([]*trackerBucket, bucketCount),
		bucketCount: uint64(bucketCount),
	}
	for i := 0; i < bucketCount; i++ {
		t.buckets[i] = &trackerBucket{entries: make(map[uint64]*windowEntry)}
	}
	return t
}

func (t *RateTracker) bucket(hashKey uint64) *trackerBucket {
	return t.buckets[hashKey%t.bucketCount]
}

// Hit registers one attempt for key and returns the count inside the
// current window, including this attempt. An absent entry or an elapsed
// window resets the entry to count=1. The count keeps growing past any
// limit; limited clients are still counted.
func (t *RateTracker) Hit(key string, windowSeconds int64) int64 {
	return t.hitAt(key, windowSeconds, time.Now().Unix())
}

func (t *RateTracker) hitAt(key string, windowSeconds, now int64) int64 {
	hashKey := xxhash.Sum64String(key)
	bucket := t.bucket(hashKey)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	entry, ok := bucket.entries[hashKey]
	if !ok || now-entry.windowStart >= windowSeconds {
		bucket.entries[hashKey] = &windowEntry{count: 1, windowStart: now}
		return 1
	}
	entry.count++
	return entry.count
}

// Count reads the current window count without registering a hit.
func (t *RateTracker) Count(key string, windowSeconds int64) int64 {
	hashKey := xxhash.Sum64String(key)
	bucket := t.bucket(hashKey)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	entry, ok := bucket.entries[hashKey]
	if !ok || time.Now().Unix()-entry.windowStart >= windowSeconds {
		return 0
	}
	return entry.count
}

func (t *RateTracker) Reset(key string) {
	hashKey := xxhash.Sum64String(key)
	bucket := t.bucket(hashKey)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	delete(bucket.entries, hashKey)
}

// GC drops entries whose window started longer than maxIdleSeconds ago.
// Correctness does not depend on it; it only bounds memory under
// distinct-client churn.
func (t *RateTracker) GC(maxIdleSeconds int64) {
	threshold := time.Now().Unix() - maxIdleSeconds
	for _, bucket := range t.buckets {
		bucket.mu.Lock()
		for key, entry := range bucket.entries {
			if entry.windowStart < threshold {
				delete(bucket.entries, key)
			}
		}
		bucket.mu.Unlock()
	}
}

// StartTrackerGC sweeps the tracker until stopCh closes.
func StartTrackerGC(t *RateTracker, interval time.Duration, maxIdleSeconds int64, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.GC(maxIdleSeconds)
		case <-stopCh:
			return
		}
	}
}
