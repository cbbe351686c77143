// Package cache provides a generic, thread-safe LRU cache with always-on
// statistics and optional Prometheus metrics.
//
//	c, err := cache.NewLRU[Record](256,
//		cache.WithMetrics[Record](registry, "localstore"))
//	c.Set("U1", rec)
//	rec, ok := c.Get("U1")
package cache

import (
	"container/list"
	"sync"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
)

// EvictCallback is called, outside the cache lock, with every entry dropped
// for capacity.
type EvictCallback[V any] func(key string, value V)

// Option configures an LRU.
type Option[V any] func(*LRU[V])

// WithMetrics exports the statistics under prefix. A nil registry or empty
// prefix disables export.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(c *LRU[V]) {
		if registry != nil && prefix != "" {
			c.metricsReg = registry
			c.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets the eviction callback.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(c *LRU[V]) {
		c.evictFn = fn
	}
}

type lruEntry[V any] struct {
	key   string
	value V
}

// LRU evicts the least recently used entry once it holds more than maxSize
// entries.
type LRU[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recently used

	stats         Statistics
	metrics       *cacheMetrics
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictFn       EvictCallback[V]
}

// NewLRU creates a cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, opts ...Option[V]) (*LRU[V], error) {
	if maxSize <= 0 {
		return nil, errors.Configf("cache", "NewLRU", "max size must be positive, got %d", maxSize)
	}

	c := &LRU[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.metricsReg != nil {
		m, err := newCacheMetrics(c.metricsReg, c.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewLRU", "metrics registration")
		}
		c.metrics = m
	}
	return c, nil
}

// Get returns the value for key and marks it recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.stats.misses.Add(1)
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		var zero V
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.hits.Add(1)
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores value under key. It reports whether a new entry was created.
func (c *LRU[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.Configf("cache", "Set", "key cannot be empty")
	}

	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		c.mu.Unlock()
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})

	var evicted *lruEntry[V]
	if len(c.items) > c.maxSize {
		evicted = c.removeOldest()
	}
	c.updateSize()
	c.mu.Unlock()

	if evicted != nil && c.evictFn != nil {
		c.evictFn(evicted.key, evicted.value)
	}
	return true, nil
}

// Delete removes key. It reports whether the key was present.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return false
	}
	delete(c.items, key)
	c.order.Remove(element)
	c.updateSize()
	return true
}

// Len returns the number of entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys, most recently used first.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Stats returns the live counters.
func (c *LRU[V]) Stats() *Statistics {
	return &c.stats
}

// removeOldest must be called with mu held.
func (c *LRU[V]) removeOldest() *lruEntry[V] {
	element := c.order.Back()
	if element == nil {
		return nil
	}
	entry := element.Value.(*lruEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)

	c.stats.evictions.Add(1)
	if c.metrics != nil {
		c.metrics.evictions.Inc()
	}
	return entry
}

// updateSize must be called with mu held.
func (c *LRU[V]) updateSize() {
	c.stats.size.Store(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.size.Set(float64(len(c.items)))
	}
}
