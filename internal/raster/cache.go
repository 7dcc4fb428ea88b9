package raster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/paulmach/orb"
)

// CachedSource wraps a Source with an in-memory LRU cache. Baseline
// reductions are requested once per week and per zone, so most are hits.
// Windows reaching into the current year are never cached: their images are
// still being published.
type CachedSource struct {
	inner   Source
	values  *lruCache[float64]
	dates   *lruCache[[]time.Time]
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around a source.
func NewCachedSource(inner Source, maxEntries int, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		values:  newLRUCache[float64](maxEntries),
		dates:   newLRUCache[[]time.Time](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedSource) Reduce(ctx context.Context, uid string, geom orb.Geometry, q Query) (float64, error) {
	if !settled(q.End) {
		return c.inner.Reduce(ctx, uid, geom, q)
	}
	key := uid + "|" + q.Key()
	if v, ok := c.values.get(key); ok {
		c.metrics.ReduceCache.WithLabelValues("hit").Inc()
		return v, nil
	}
	c.metrics.ReduceCache.WithLabelValues("miss").Inc()
	v, err := c.inner.Reduce(ctx, uid, geom, q)
	if err != nil {
		// Errors, including no-data, are not cached so they can be retried.
		return v, err
	}
	c.values.put(key, v)
	return v, nil
}

func (c *CachedSource) Dates(ctx context.Context, dataset string, start, end time.Time) ([]time.Time, error) {
	if !settled(end) {
		return c.inner.Dates(ctx, dataset, start, end)
	}
	key := fmt.Sprintf("%s|%s|%s", dataset, start.Format(time.DateOnly), end.Format(time.DateOnly))
	if d, ok := c.dates.get(key); ok {
		c.metrics.ReduceCache.WithLabelValues("hit").Inc()
		return d, nil
	}
	c.metrics.ReduceCache.WithLabelValues("miss").Inc()
	d, err := c.inner.Dates(ctx, dataset, start, end)
	if err != nil {
		return nil, err
	}
	c.dates.put(key, d)
	return d, nil
}

// settled reports whether a window ending at end (exclusive) lies wholly
// before the current year.
func settled(end time.Time) bool {
	return !end.After(time.Date(domain.CurrentYear(), time.January, 1, 0, 0, 0, 0, time.UTC))
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
