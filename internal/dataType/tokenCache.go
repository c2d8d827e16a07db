package dataType

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// TokenCache is the process-local cache behind CSRF and clearance
// tokens: string values under string keys with an absolute expiration.
// Individual reads and writes are atomic; no multi-key transactions.
type TokenCache struct {
	mu           sync.RWMutex
	entries      map[string]cacheEntry
	stopCleanup  chan struct{}
	cleanupTimer *time.Ticker
	stopOnce     sync.Once
}

// NewTokenCache creates the cache and starts its expiry sweep.
func NewTokenCache(cleanupInterval time.Duration) *TokenCache {
	c := &TokenCache{
		entries:      make(map[string]cacheEntry),
		stopCleanup:  make(chan struct{}),
		cleanupTimer: time.NewTicker(cleanupInterval),
	}
	go c.runCleanup()
	return c
}

// Stop ends the background sweep. Safe to call more than once.
func (c *TokenCache) Stop() {
	c.stopOnce.Do(func() {
		c.cleanupTimer.Stop()
		close(c.stopCleanup)
	})
}

// Insert stores value under key until expiresAt, replacing any previous
// entry for that key.
func (c *TokenCache) Insert(key, value string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: expiresAt}
}

// Get returns the live value for key. Expired entries read as absent.
func (c *TokenCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || !entry.expiresAt.After(time.Now()) {
		return "", false
	}
	return entry.value, true
}

// Expiry returns the absolute expiration recorded for key, if the entry
// is still live.
func (c *TokenCache) Expiry(key string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || !entry.expiresAt.After(time.Now()) {
		return time.Time{}, false
	}
	return entry.expiresAt, true
}

func (c *TokenCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TokenCache) runCleanup() {
	for {
		select {
		case <-c.stopCleanup:
			return
		case <-c.cleanupTimer.C:
			c.cleanup()
		}
	}
}

func (c *TokenCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, v := range c.entries {
		if !v.expiresAt.After(now) {
			delete(c.entries, k)
		}
	}
}
