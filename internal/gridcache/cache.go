// Package gridcache keeps the parsed coordinate and time axes of recently used
// model files in a bounded LRU cache.
package gridcache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/observability"
)

// DefaultCapacity is the number of grids held when no capacity is configured.
const DefaultCapacity = 32

// Key identifies one parsed grid: the file and the coordinate variables read
// from it.
type Key struct {
	Path    string
	LonVar  string
	LatVar  string
	TimeVar string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Path, k.LonVar, k.LatVar, k.TimeVar)
}

// Loader reads grid axes from their source.
type Loader interface {
	LoadAxes(ctx context.Context, key Key) (*domain.GridAxes, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, key Key) (*domain.GridAxes, error)

func (f LoaderFunc) LoadAxes(ctx context.Context, key Key) (*domain.GridAxes, error) {
	return f(ctx, key)
}

// Option configures a Cache.
type Option func(*Cache)

// WithOnEvict registers a callback invoked, under the cache lock, for every
// evicted key.
func WithOnEvict(fn func(Key)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// Cache wraps a Loader with an LRU cache. Concurrent misses on the same key
// share one load.
type Cache struct {
	inner   Loader
	metrics *observability.Metrics
	onEvict func(Key)
	group   singleflight.Group

	capacity int
	mu       sync.Mutex
	entries  map[Key]*entry
	head     *entry // most recently used
	tail     *entry // least recently used
}

type entry struct {
	key   Key
	value *domain.GridAxes
	prev  *entry
	next  *entry
}

// New creates a cache of the given capacity in front of inner. A capacity
// below one selects DefaultCapacity.
func New(inner Loader, capacity int, metrics *observability.Metrics, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		inner:    inner,
		metrics:  metrics,
		capacity: capacity,
		entries:  make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrLoad returns the cached axes for key, loading them on a miss. Failed
// loads are not cached.
func (c *Cache) GetOrLoad(ctx context.Context, key Key) (*domain.GridAxes, error) {
	if axes, ok := c.get(key); ok {
		c.metrics.GridCache.WithLabelValues("hit").Inc()
		return axes, nil
	}

	// The shared load is not cancelled with the caller that started it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		// A concurrent caller may have finished loading while we waited.
		if axes, ok := c.get(key); ok {
			c.metrics.GridCache.WithLabelValues("hit").Inc()
			return axes, nil
		}
		c.metrics.GridCache.WithLabelValues("miss").Inc()
		axes, err := c.inner.LoadAxes(loadCtx, key)
		if err != nil {
			return nil, err
		}
		c.put(key, axes)
		return axes, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("load grid axes %s: %w", key.Path, res.Err)
		}
		return res.Val.(*domain.GridAxes), nil
	}
}

// Len returns the number of cached grids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the maximum number of cached grids.
func (c *Cache) Capacity() int { return c.capacity }

func (c *Cache) get(key Key) (*domain.GridAxes, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *Cache) put(key Key, value *domain.GridAxes) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.capacity {
		c.evictTail()
	}
	c.metrics.GridCacheEntries.Set(float64(len(c.entries)))
}

func (c *Cache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *Cache) addToFront(e *entry) {
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

func (c *Cache) remove(e *entry) {
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

func (c *Cache) evictTail() {
	if c.tail == nil {
		return
	}
	evicted := c.tail
	delete(c.entries, evicted.key)
	c.remove(evicted)
	c.metrics.GridCacheEvictions.Inc()
	if c.onEvict != nil {
		c.onEvict(evicted.key)
	}
}
