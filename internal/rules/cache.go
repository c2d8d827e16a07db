package rules

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fortgate/internal/dataType"

	"github.com/fsnotify/fsnotify"
)

type cachedHost struct {
	rules     []dataType.Rule
	settings  dataType.HostSettings
	fetchedAt time.Time
}

// CachedRepository keeps per-host rule sets for a TTL and drops a host's
// entry the moment its rule file changes on disk. Readers always see a
// complete rule slice; a refresh swaps the whole entry under the lock.
type CachedRepository struct {
	inner    Repository
	ttl      time.Duration
	mu       sync.RWMutex
	hosts    map[string]*cachedHost
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewCachedRepository(inner Repository, ttl time.Duration) *CachedRepository {
	return &CachedRepository{
		inner:  inner,
		ttl:    ttl,
		hosts:  make(map[string]*cachedHost),
		stopCh: make(chan struct{}),
	}
}

// Watch invalidates cached hosts when files under rulesDir change.
// Best-effort: a failed watcher leaves the TTL refresh in charge.
func (c *CachedRepository) Watch(rulesDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(rulesDir); err != nil {
		_ = watcher.Close()
		return err
	}
	c.watcher = watcher
	go c.watchLoop()
	return nil
}

func (c *CachedRepository) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				host := strings.TrimSuffix(filepath.Base(event.Name), ".yml")
				c.Invalidate(host)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("rules watcher: %v", err)
		case <-c.stopCh:
			return
		}
	}
}

// Invalidate accepts any spelling of the host; entries are keyed by the
// sanitized stem the watcher reports.
func (c *CachedRepository) Invalidate(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hosts, sanitizeHost(host))
}

func (c *CachedRepository) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.watcher != nil {
			_ = c.watcher.Close()
		}
	})
}

func (c *CachedRepository) get(host string) (*cachedHost, error) {
	key := sanitizeHost(host)
	c.mu.RLock()
	entry, ok := c.hosts[key]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry, nil
	}

	rules, err := c.inner.FetchRules(host)
	if err != nil {
		// stale beats broken: keep answering from the old entry
		if ok {
			return entry, nil
		}
		return nil, err
	}
	settings, err := c.inner.Settings(host)
	if err != nil {
		settings = dataType.HostSettings{TokenExpirationHours: DefaultTokenExpirationHours}
	}

	fresh := &cachedHost{rules: rules, settings: settings, fetchedAt: time.Now()}
	c.mu.Lock()
	c.hosts[key] = fresh
	c.mu.Unlock()
	return fresh, nil
}

func (c *CachedRepository) FetchRules(host string) ([]dataType.Rule, error) {
	entry, err := c.get(host)
	if err != nil {
		return nil, err
	}
	return entry.rules, nil
}

func (c *CachedRepository) Settings(host string) (dataType.HostSettings, error) {
	entry, err := c.get(host)
	if err != nil {
		return dataType.HostSettings{TokenExpirationHours: DefaultTokenExpirationHours}, err
	}
	return entry.settings, nil
}
