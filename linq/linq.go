// Package linq provides the sequence operators compiled queries are
// built from, in a synchronous form over iter.Seq2 and an asynchronous
// form over AsyncSeq. Both forms produce elements in the same order.
package linq

import (
	"cmp"
	"errors"
	"iter"
	"slices"
)

var (
	// ErrEmpty is returned by First, Last and Single on an empty sequence.
	ErrEmpty = errors.New("linq: sequence contains no elements")
	// ErrMultiple is returned by Single when more than one element exists.
	ErrMultiple = errors.New("linq: sequence contains more than one element")
)

// Seq is a synchronous sequence. The error value of an element is
// terminal: sequences stop after yielding an error.
type Seq[T any] = iter.Seq2[T, error]

// FromSlice returns a sequence over s.
func FromSlice[T any](s []T) Seq[T] {
	return func(yield func(T, error) bool) {
		for _, v := range s {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Empty returns an empty sequence.
func Empty[T any]() Seq[T] {
	return func(func(T, error) bool) {}
}

// Fail returns a sequence yielding err.
func Fail[T any](err error) Seq[T] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// Where yields the elements satisfying pred.
func Where[T any](src Seq[T], pred func(T) (bool, error)) Seq[T] {
	return func(yield func(T, error) bool) {
		for v, err := range src {
			if err != nil {
				yield(v, err)
				return
			}
			ok, err := pred(v)
			if err != nil {
				yield(v, err)
				return
			}
			if ok && !yield(v, nil) {
				return
			}
		}
	}
}

// Select maps every element with f.
func Select[T, R any](src Seq[T], f func(T) (R, error)) Seq[R] {
	return func(yield func(R, error) bool) {
		var zero R
		for v, err := range src {
			if err != nil {
				yield(zero, err)
				return
			}
			r, err := f(v)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// SelectMany flattens the sequences returned by collection, combining
// every outer element with each of its inner elements.
func SelectMany[T, U, R any](src Seq[T], collection func(T) (Seq[U], error), result func(T, U) (R, error)) Seq[R] {
	return func(yield func(R, error) bool) {
		var zero R
		for v, err := range src {
			if err != nil {
				yield(zero, err)
				return
			}
			inner, err := collection(v)
			if err != nil {
				yield(zero, err)
				return
			}
			for u, err := range inner {
				if err != nil {
					yield(zero, err)
					return
				}
				r, err := result(v, u)
				if err != nil {
					yield(zero, err)
					return
				}
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}

// Join correlates outer and inner elements with equal keys. The inner
// sequence is buffered on first use; outer order is preserved and inner
// matches follow inner order.
func Join[T, U, R any, K comparable](outer Seq[T], inner Seq[U], outerKey func(T) (K, error), innerKey func(U) (K, error), result func(T, U) (R, error)) Seq[R] {
	return func(yield func(R, error) bool) {
		var zero R
		lookup, err := toLookup(inner, innerKey)
		if err != nil {
			yield(zero, err)
			return
		}
		for v, err := range outer {
			if err != nil {
				yield(zero, err)
				return
			}
			k, err := outerKey(v)
			if err != nil {
				yield(zero, err)
				return
			}
			for _, u := range lookup[k] {
				r, err := result(v, u)
				if err != nil {
					yield(zero, err)
					return
				}
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}

// GroupJoin correlates every outer element with the group of inner
// elements with an equal key, possibly empty.
func GroupJoin[T, U, R any, K comparable](outer Seq[T], inner Seq[U], outerKey func(T) (K, error), innerKey func(U) (K, error), result func(T, []U) (R, error)) Seq[R] {
	return func(yield func(R, error) bool) {
		var zero R
		lookup, err := toLookup(inner, innerKey)
		if err != nil {
			yield(zero, err)
			return
		}
		for v, err := range outer {
			if err != nil {
				yield(zero, err)
				return
			}
			k, err := outerKey(v)
			if err != nil {
				yield(zero, err)
				return
			}
			r, err := result(v, lookup[k])
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func toLookup[U any, K comparable](inner Seq[U], key func(U) (K, error)) (map[K][]U, error) {
	lookup := make(map[K][]U)
	for u, err := range inner {
		if err != nil {
			return nil, err
		}
		k, err := key(u)
		if err != nil {
			return nil, err
		}
		lookup[k] = append(lookup[k], u)
	}
	return lookup, nil
}

// OrderBy buffers the sequence and sorts it stably with compare.
func OrderBy[T any](src Seq[T], compare func(a, b T) (int, error)) Seq[T] {
	return func(yield func(T, error) bool) {
		var zero T
		items, err := ToSlice(src)
		if err != nil {
			yield(zero, err)
			return
		}
		if err := sortStable(items, compare); err != nil {
			yield(zero, err)
			return
		}
		for _, v := range items {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func sortStable[T any](items []T, compare func(a, b T) (int, error)) error {
	var first error
	slices.SortStableFunc(items, func(a, b T) int {
		if first != nil {
			return 0
		}
		c, err := compare(a, b)
		if err != nil {
			first = err
		}
		return c
	})
	return first
}

// Skip bypasses the first n elements.
func Skip[T any](src Seq[T], n int) Seq[T] {
	return func(yield func(T, error) bool) {
		i := 0
		for v, err := range src {
			if err != nil {
				yield(v, err)
				return
			}
			if i++; i <= n {
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Take yields at most n elements. The source is not advanced past the
// n-th element.
func Take[T any](src Seq[T], n int) Seq[T] {
	return func(yield func(T, error) bool) {
		if n <= 0 {
			return
		}
		i := 0
		for v, err := range src {
			if err != nil {
				yield(v, err)
				return
			}
			if !yield(v, nil) {
				return
			}
			if i++; i == n {
				return
			}
		}
	}
}

// Distinct yields the first element of every key.
func Distinct[T any, K comparable](src Seq[T], key func(T) (K, error)) Seq[T] {
	return func(yield func(T, error) bool) {
		seen := make(map[K]struct{})
		for v, err := range src {
			if err != nil {
				yield(v, err)
				return
			}
			k, err := key(v)
			if err != nil {
				yield(v, err)
				return
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// DefaultIfEmpty yields def when the source is empty.
func DefaultIfEmpty[T any](src Seq[T], def T) Seq[T] {
	return func(yield func(T, error) bool) {
		empty := true
		for v, err := range src {
			if err != nil {
				yield(v, err)
				return
			}
			empty = false
			if !yield(v, nil) {
				return
			}
		}
		if empty {
			yield(def, nil)
		}
	}
}

// Grouping is a key with its elements in source order.
type Grouping[K, T any] struct {
	Key   K
	Items []T
}

// GroupBy groups elements by key. Groups are ordered by the first
// occurrence of their key.
func GroupBy[T, E any, K comparable](src Seq[T], key func(T) (K, error), element func(T) (E, error)) Seq[*Grouping[K, E]] {
	return func(yield func(*Grouping[K, E], error) bool) {
		var (
			groups []*Grouping[K, E]
			index  = make(map[K]*Grouping[K, E])
		)
		for v, err := range src {
			if err != nil {
				yield(nil, err)
				return
			}
			k, err := key(v)
			if err != nil {
				yield(nil, err)
				return
			}
			e, err := element(v)
			if err != nil {
				yield(nil, err)
				return
			}
			g, ok := index[k]
			if !ok {
				g = &Grouping[K, E]{Key: k}
				index[k] = g
				groups = append(groups, g)
			}
			g.Items = append(g.Items, e)
		}
		for _, g := range groups {
			if !yield(g, nil) {
				return
			}
		}
	}
}

// ToSlice collects the sequence.
func ToSlice[T any](src Seq[T]) ([]T, error) {
	var out []T
	for v, err := range src {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ForEach calls f for every element until f returns false.
func ForEach[T any](src Seq[T], f func(T) (bool, error)) error {
	for v, err := range src {
		if err != nil {
			return err
		}
		more, err := f(v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// First returns the first element, or ErrEmpty.
func First[T any](src Seq[T]) (T, error) {
	for v, err := range src {
		return v, err
	}
	var zero T
	return zero, ErrEmpty
}

// Single returns the only element. It fails with ErrEmpty or ErrMultiple.
func Single[T any](src Seq[T]) (T, error) {
	var (
		out   T
		found bool
	)
	for v, err := range src {
		if err != nil {
			return out, err
		}
		if found {
			var zero T
			return zero, ErrMultiple
		}
		out, found = v, true
	}
	if !found {
		return out, ErrEmpty
	}
	return out, nil
}

// Count returns the number of elements.
func Count[T any](src Seq[T]) (int, error) {
	n := 0
	err := ForEach(src, func(T) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// Max returns the largest element of an ordered sequence.
func Max[T cmp.Ordered](src Seq[T]) (T, error) {
	var (
		out   T
		found bool
	)
	err := ForEach(src, func(v T) (bool, error) {
		if !found || v > out {
			out, found = v, true
		}
		return true, nil
	})
	if err == nil && !found {
		err = ErrEmpty
	}
	return out, err
}
