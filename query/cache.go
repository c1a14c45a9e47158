package query

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syssam/veloxrt"
)

// DefaultCacheSize is the number of compiled queries kept by a plan
// cache created with a non-positive size.
const DefaultCacheSize = 256

// PlanCache is an LRU of compiled executors. It is safe for concurrent
// use.
type PlanCache struct {
	lru *lru.Cache[veloxrt.CacheKey, any]
}

var _ veloxrt.PlanCache = (*PlanCache)(nil)

// NewPlanCache returns a cache holding up to size executors.
func NewPlanCache(size int) *PlanCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[veloxrt.CacheKey, any](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &PlanCache{lru: c}
}

// Get returns the executor compiled for key.
func (c *PlanCache) Get(key veloxrt.CacheKey) (any, bool) {
	return c.lru.Get(key)
}

// Add stores an executor, evicting the least recently used one when the
// cache is full.
func (c *PlanCache) Add(key veloxrt.CacheKey, executor any) {
	c.lru.Add(key, executor)
}

// Purge removes every executor.
func (c *PlanCache) Purge() { c.lru.Purge() }

// Len returns the number of cached executors.
func (c *PlanCache) Len() int { return c.lru.Len() }
