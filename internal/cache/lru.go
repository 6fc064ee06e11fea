// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// LRUCache is a bounded in-process cache for assessor results and
// velocity windows. It is the single-node cache and L1 of TwoPhaseCache.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	index   map[string]*list.Element
	recency *list.List // front is most recently used
	windows map[string]*window
	stats   LocalStats
}

// LocalStats is a point-in-time view of an LRUCache.
type LocalStats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	Windows   int   `json:"windows"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Expired   int64 `json:"expired"`
	Evictions int64 `json:"evictions"`
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// window is one fixed counting window for IncrementCounter.
type window struct {
	count int64
	ends  time.Time
}

// NewLRUCache creates a cache holding at most maxSize values and maxSize counter windows.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &LRUCache{maxSize: maxSize}
	c.reset()
	return c
}

func (c *LRUCache) reset() {
	c.index = make(map[string]*list.Element)
	c.recency = list.New()
	c.windows = make(map[string]*window)
}

// Get returns the value for key, or nil when absent or expired.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		c.stats.Misses++
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, nil
	}

	e := elem.Value.(*entry)
	if !time.Now().Before(e.expiresAt) {
		c.unlink(elem)
		c.stats.Expired++
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	c.stats.Hits++
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.value, nil
}

// Set stores value under key for ttl, evicting the least recently used
// entries once the cache is over capacity.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)
	if elem, ok := c.index[key]; ok {
		e := elem.Value.(*entry)
		e.value, e.expiresAt = value, expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.index[key] = c.recency.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.maxSize {
		c.unlink(c.recency.Back())
		c.stats.Evictions++
		metrics.CacheEvictions.Inc()
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.unlink(elem)
	}
	return nil
}

// GetScore retrieves a cached scored item.
func (c *LRUCache) GetScore(ctx context.Context, fingerprint string) (*domain.ScoredItem, error) {
	return getScore(ctx, c, fingerprint)
}

// SetScore caches a scored item.
func (c *LRUCache) SetScore(ctx context.Context, fingerprint string, item *domain.ScoredItem, ttl time.Duration) error {
	return setScore(ctx, c, fingerprint, item, ttl)
}

// IncrementCounter counts key within a fixed window that starts on the
// first increment. Counter windows do not compete with cached values for space.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, span time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if w, ok := c.windows[key]; ok && now.Before(w.ends) {
		w.count++
		return w.count, nil
	}

	if _, ok := c.windows[key]; !ok && len(c.windows) >= c.maxSize {
		c.sweepWindows(now)
	}
	c.windows[key] = &window{count: 1, ends: now.Add(span)}
	return 1, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every value and window. The cache remains usable.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	return nil
}

// Stats returns current occupancy and lookup counters.
func (c *LRUCache) Stats() LocalStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.recency.Len()
	s.Capacity = c.maxSize
	s.Windows = len(c.windows)
	return s
}

// unlink removes elem from both the index and the recency list. Caller holds mu.
func (c *LRUCache) unlink(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.index, elem.Value.(*entry).key)
}

// sweepWindows drops finished counter windows. Caller holds mu.
func (c *LRUCache) sweepWindows(now time.Time) {
	for k, w := range c.windows {
		if !now.Before(w.ends) {
			delete(c.windows, k)
		}
	}
}
