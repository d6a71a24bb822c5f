// Package cache implements a simple in-memory cache for a single value.
package cache

import (
	"sync"
	"time"
)

// Value is a cache for a single value, recomputed at most once per Duration.
type Value[T any] struct {
	// Duration is how long a cached value stays valid.
	Duration time.Duration

	mu         sync.Mutex
	lastResult T
	lastTime   time.Time
	hasResult  bool
}

// GetOrUpdate returns the cached result if it is still valid, otherwise calls fn and caches the result.
func (c *Value[T]) GetOrUpdate(fn func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasResult || time.Since(c.lastTime) > c.Duration {
		result, err := fn()
		if err != nil {
			var zero T

			return zero, err
		}

		c.lastResult = result
		c.lastTime = time.Now()
		c.hasResult = true
	}

	return c.lastResult, nil
}
