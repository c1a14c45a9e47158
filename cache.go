package veloxrt

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// PlanCache stores compiled query executors keyed by a hash of the
// printed query model.
type PlanCache interface {
	// Get returns the cached executor for the key.
	Get(key CacheKey) (any, bool)
	// Add stores an executor under the key.
	Add(key CacheKey, executor any)
	// Purge removes every entry.
	Purge()
}

// CacheKey identifies one compilation of a query model.
type CacheKey struct {
	Hash     uint64
	Async    bool
	Tracking bool
}

// NewCacheKey hashes the canonical text of a query model.
func NewCacheKey(model string, async, tracking bool) CacheKey {
	return CacheKey{Hash: xxhash.Sum64String(model), Async: async, Tracking: tracking}
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	s := strconv.FormatUint(k.Hash, 16)
	if k.Async {
		s += ":async"
	}
	if k.Tracking {
		s += ":tracking"
	}
	return s
}
