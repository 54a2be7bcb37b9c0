// Package summarycache is a process-wide, in-memory cache of per-repository
// summaries.
//
// Entries are populated on first use and then kept for the life of the
// process: there is no TTL and no size bound. The only way an entry changes
// is an explicit [Cache.Put] or [Cache.Invalidate], which the server uses
// after it deletes a tag.
package summarycache

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache maps repository names to values of type V. It is safe for
// concurrent use by multiple goroutines. The zero value is not usable; use
// [New].
type Cache[V any] struct {
	entries sync.Map // map[string]V
	flight  singleflight.Group

	// generations counts invalidations per repository, so that a flight
	// that started before an invalidation doesn't store its result.
	mu          sync.Mutex
	generations map[string]uint64
}

// New returns an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		generations: make(map[string]uint64),
	}
}

// Get returns the cached value for the given repository, if any.
func (c *Cache[V]) Get(name string) (V, bool) {
	v, ok := c.entries.Load(name)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Put stores a value for the given repository, replacing any existing one.
func (c *Cache[V]) Put(name string, v V) {
	c.entries.Store(name, v)
}

// Invalidate forgets the value for the given repository so that the next
// [Cache.GetOrCompute] computes it afresh. A computation already in progress
// for that repository still returns to its existing callers, but its result
// is not stored and later callers don't wait for it.
func (c *Cache[V]) Invalidate(name string) {
	c.mu.Lock()
	c.generations[name]++
	c.entries.Delete(name)
	c.flight.Forget(name)
	c.mu.Unlock()
}

func (c *Cache[V]) generation(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[name]
}

// putIfCurrent stores v only if the repository hasn't been invalidated
// since gen was observed.
func (c *Cache[V]) putIfCurrent(name string, v V, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[name] == gen {
		c.entries.Store(name, v)
	}
}

// Len returns the number of cached repositories.
func (c *Cache[V]) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// GetOrCompute returns the cached value for the given repository, or else
// calls compute, stores its result and returns it.
//
// Concurrent misses for the same repository share a single call to compute:
// the first caller runs it and the others wait for its result. compute
// cannot fail; callers that can only produce partial results should encode
// that in V.
func (c *Cache[V]) GetOrCompute(name string, compute func() V) V {
	if v, ok := c.Get(name); ok {
		return v
	}
	v, _, _ := c.flight.Do(name, func() (any, error) {
		// Another flight for this key may have finished between our
		// lookup and this call.
		gen := c.generation(name)
		if v, ok := c.Get(name); ok {
			return v, nil
		}
		v := compute()
		c.putIfCurrent(name, v, gen)
		return v, nil
	})
	return v.(V)
}
