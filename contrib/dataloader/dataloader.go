// Package dataloader batches and caches lookups of entities by key.
//
// A Loader collects the keys of one call, drops duplicates and keys it has
// already resolved, and hands the remaining keys to its BatchFunc in
// chunks of at most the configured size:
//
//	loader := dataloader.NewLoader(func(ctx context.Context, ids []int) ([]*Blog, []error) {
//	    blogs, err := fetch(ctx, ids)
//	    if err != nil {
//	        return nil, []error{err}
//	    }
//	    return dataloader.OrderByKeys(ids, blogs, func(b *Blog) int { return b.ID })
//	}, 100)
//	blogs, errs := loader.LoadMany(ctx, ids)
package dataloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when an entity is not found in a batch result.
var ErrNotFound = errors.New("dataloader: entity not found")

// KeyFunc extracts a key from an entity.
type KeyFunc[K comparable, V any] func(V) K

// BatchFunc loads a batch of entities. The results are aligned with keys;
// a single error in the error slice applies to every key.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, []error)

// OrderByKeys reorders values to match the order of keys. Missing values
// are zero values with ErrNotFound.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// BatchResult is the outcome of loading one key.
type BatchResult[V any] struct {
	Value V
	Error error
}

// Loader resolves keys through a BatchFunc and caches found values.
// Misses are not cached. A Loader is safe for concurrent use.
type Loader[K comparable, V any] struct {
	fn    BatchFunc[K, V]
	max   int
	mu    sync.Mutex
	cache map[K]V
}

// NewLoader returns a loader calling fn with at most max keys at a time.
// A non-positive max disables chunking.
func NewLoader[K comparable, V any](fn BatchFunc[K, V], max int) *Loader[K, V] {
	return &Loader[K, V]{fn: fn, max: max, cache: make(map[K]V)}
}

// Load resolves a single key.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	values, errs := l.LoadMany(ctx, []K{key})
	return values[0], errs[0]
}

// LoadMany resolves keys. The results are aligned with keys.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]V, []error) {
	results := make(map[K]BatchResult[V], len(keys))
	var pending []K
	l.mu.Lock()
	for _, k := range keys {
		if _, ok := results[k]; ok {
			continue
		}
		if v, ok := l.cache[k]; ok {
			results[k] = BatchResult[V]{Value: v}
			continue
		}
		results[k] = BatchResult[V]{Error: ErrNotFound}
		pending = append(pending, k)
	}
	l.mu.Unlock()

	for len(pending) > 0 {
		chunk := pending
		if l.max > 0 && len(chunk) > l.max {
			chunk = chunk[:l.max]
		}
		pending = pending[len(chunk):]
		if err := ctx.Err(); err != nil {
			fail(results, chunk, err)
			continue
		}
		values, errs := l.fn(ctx, chunk)
		if err := batchError(chunk, values, errs); err != nil {
			fail(results, chunk, err)
			continue
		}
		l.mu.Lock()
		for i, k := range chunk {
			r := BatchResult[V]{Value: values[i]}
			if i < len(errs) {
				r.Error = errs[i]
			}
			if r.Error == nil {
				l.cache[k] = r.Value
			}
			results[k] = r
		}
		l.mu.Unlock()
	}

	values := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		values[i], errs[i] = results[k].Value, results[k].Error
	}
	return values, errs
}

// batchError returns the error shared by every key of a batch.
func batchError[K comparable, V any](keys []K, values []V, errs []error) error {
	shared := len(errs) == 1 && errs[0] != nil
	switch {
	case len(values) != len(keys) && shared:
		return errs[0]
	case len(values) != len(keys):
		return fmt.Errorf("dataloader: batch returned %d values for %d keys", len(values), len(keys))
	case shared && len(keys) != 1:
		return errs[0]
	}
	return nil
}

func fail[K comparable, V any](results map[K]BatchResult[V], keys []K, err error) {
	for _, k := range keys {
		results[k] = BatchResult[V]{Error: err}
	}
}

// Prime stores a known value.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[key] = value
}

// Clear removes a key from the cache.
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, key)
}
