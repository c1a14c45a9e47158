package linq

import (
	"context"
	"iter"
)

// AsyncEnumerator pulls elements of an asynchronous sequence. MoveNext
// is the only suspension point: it reports whether Current holds a new
// element. Close releases the underlying resources and is safe to call
// more than once.
type AsyncEnumerator[T any] interface {
	MoveNext(ctx context.Context) (bool, error)
	Current() T
	Close() error
}

// AsyncSeq is an asynchronous sequence. Every call starts a fresh
// enumeration.
type AsyncSeq[T any] func() AsyncEnumerator[T]

// Task is a deferred computation of a single value.
type Task[T any] func(ctx context.Context) (T, error)

// FromResult returns a completed task.
func FromResult[T any](v T, err error) Task[T] {
	return func(context.Context) (T, error) { return v, err }
}

// Block waits for the task on the calling goroutine.
func Block[T any](ctx context.Context, t Task[T]) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	return t(ctx)
}

// EnumeratorFunc adapts a pull function to AsyncEnumerator.
type EnumeratorFunc[T any] struct {
	Next    func(ctx context.Context) (T, bool, error)
	OnClose func() error
	cur     T
	closed  bool
}

// MoveNext implements AsyncEnumerator.
func (e *EnumeratorFunc[T]) MoveNext(ctx context.Context) (bool, error) {
	if e.closed {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v, ok, err := e.Next(ctx)
	if err != nil || !ok {
		return false, err
	}
	e.cur = v
	return true, nil
}

// Current implements AsyncEnumerator.
func (e *EnumeratorFunc[T]) Current() T { return e.cur }

// Close implements AsyncEnumerator.
func (e *EnumeratorFunc[T]) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.OnClose != nil {
		return e.OnClose()
	}
	return nil
}

// AsyncFunc builds a sequence from a factory of pull functions.
func AsyncFunc[T any](next func() (func(ctx context.Context) (T, bool, error), func() error)) AsyncSeq[T] {
	return func() AsyncEnumerator[T] {
		n, c := next()
		return &EnumeratorFunc[T]{Next: n, OnClose: c}
	}
}

// AsyncFromSlice returns an asynchronous sequence over s.
func AsyncFromSlice[T any](s []T) AsyncSeq[T] {
	return AsyncFunc(func() (func(context.Context) (T, bool, error), func() error) {
		i := 0
		return func(context.Context) (T, bool, error) {
			if i >= len(s) {
				var zero T
				return zero, false, nil
			}
			i++
			return s[i-1], true, nil
		}, nil
	})
}

// ToAsync adapts a synchronous sequence.
func ToAsync[T any](src Seq[T]) AsyncSeq[T] {
	return AsyncFunc(func() (func(context.Context) (T, bool, error), func() error) {
		next, stop := iter.Pull2(src)
		return func(context.Context) (T, bool, error) {
				v, err, ok := next()
				if err != nil {
					return v, false, err
				}
				return v, ok, nil
			}, func() error {
				stop()
				return nil
			}
	})
}

// ToSync adapts an asynchronous sequence, enumerating it with ctx.
func ToSync[T any](ctx context.Context, src AsyncSeq[T]) Seq[T] {
	return func(yield func(T, error) bool) {
		e := src()
		defer e.Close()
		for {
			ok, err := e.MoveNext(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok || !yield(e.Current(), nil) {
				return
			}
		}
	}
}

// pull wraps an enumerator of src for use inside another operator.
type pull[T any] struct {
	src  AsyncSeq[T]
	e    AsyncEnumerator[T]
	done bool
}

func (p *pull[T]) next(ctx context.Context) (T, bool, error) {
	var zero T
	if p.done {
		return zero, false, nil
	}
	if p.e == nil {
		p.e = p.src()
	}
	ok, err := p.e.MoveNext(ctx)
	if err != nil || !ok {
		p.done = true
		return zero, false, err
	}
	return p.e.Current(), true, nil
}

func (p *pull[T]) close() error {
	p.done = true
	if p.e == nil {
		return nil
	}
	return p.e.Close()
}

// WhereAsync yields the elements satisfying pred.
func WhereAsync[T any](src AsyncSeq[T], pred func(T) (bool, error)) AsyncSeq[T] {
	return AsyncFunc(func() (func(context.Context) (T, bool, error), func() error) {
		p := &pull[T]{src: src}
		return func(ctx context.Context) (T, bool, error) {
			for {
				v, ok, err := p.next(ctx)
				if err != nil || !ok {
					return v, ok, err
				}
				keep, err := pred(v)
				if err != nil {
					return v, false, err
				}
				if keep {
					return v, true, nil
				}
			}
		}, p.close
	})
}

// SelectAsync maps every element with f.
func SelectAsync[T, R any](src AsyncSeq[T], f func(T) (R, error)) AsyncSeq[R] {
	return AsyncFunc(func() (func(context.Context) (R, bool, error), func() error) {
		p := &pull[T]{src: src}
		return func(ctx context.Context) (R, bool, error) {
			var zero R
			v, ok, err := p.next(ctx)
			if err != nil || !ok {
				return zero, false, err
			}
			r, err := f(v)
			if err != nil {
				return zero, false, err
			}
			return r, true, nil
		}, p.close
	})
}

// SelectManyAsync flattens the sequences returned by collection.
func SelectManyAsync[T, U, R any](src AsyncSeq[T], collection func(T) (AsyncSeq[U], error), result func(T, U) (R, error)) AsyncSeq[R] {
	return AsyncFunc(func() (func(context.Context) (R, bool, error), func() error) {
		var (
			outer = &pull[T]{src: src}
			inner *pull[U]
			cur   T
		)
		closeAll := func() error {
			if inner != nil {
				inner.close()
			}
			return outer.close()
		}
		return func(ctx context.Context) (R, bool, error) {
			var zero R
			for {
				if inner == nil {
					v, ok, err := outer.next(ctx)
					if err != nil || !ok {
						return zero, false, err
					}
					s, err := collection(v)
					if err != nil {
						return zero, false, err
					}
					cur, inner = v, &pull[U]{src: s}
				}
				u, ok, err := inner.next(ctx)
				if err != nil {
					return zero, false, err
				}
				if !ok {
					if err := inner.close(); err != nil {
						return zero, false, err
					}
					inner = nil
					continue
				}
				r, err := result(cur, u)
				if err != nil {
					return zero, false, err
				}
				return r, true, nil
			}
		}, closeAll
	})
}

// ToSliceAsync collects the sequence.
func ToSliceAsync[T any](src AsyncSeq[T]) Task[[]T] {
	return func(ctx context.Context) ([]T, error) {
		var out []T
		err := ForEachAsync(src, func(v T) (bool, error) {
			out = append(out, v)
			return true, nil
		})(ctx)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// ForEachAsync returns a task calling f for every element until f
// returns false. The enumerator is closed when the task completes.
func ForEachAsync[T any](src AsyncSeq[T], f func(T) (bool, error)) func(ctx context.Context) error {
	return func(ctx context.Context) (err error) {
		e := src()
		defer func() {
			if cerr := e.Close(); err == nil {
				err = cerr
			}
		}()
		for {
			ok, err := e.MoveNext(ctx)
			if err != nil || !ok {
				return err
			}
			more, err := f(e.Current())
			if err != nil || !more {
				return err
			}
		}
	}
}

// buffered runs stage over the collected source and replays its result.
func buffered[T, R any](src AsyncSeq[T], stage func([]T) ([]R, error)) AsyncSeq[R] {
	return AsyncFunc(func() (func(context.Context) (R, bool, error), func() error) {
		var (
			items []R
			i     = -1
		)
		return func(ctx context.Context) (R, bool, error) {
			var zero R
			if i < 0 {
				in, err := ToSliceAsync(src)(ctx)
				if err != nil {
					return zero, false, err
				}
				if items, err = stage(in); err != nil {
					return zero, false, err
				}
				i = 0
			}
			if i >= len(items) {
				return zero, false, nil
			}
			i++
			return items[i-1], true, nil
		}, nil
	})
}

// JoinAsync is the asynchronous form of Join.
func JoinAsync[T, U, R any, K comparable](outer AsyncSeq[T], inner AsyncSeq[U], outerKey func(T) (K, error), innerKey func(U) (K, error), result func(T, U) (R, error)) AsyncSeq[R] {
	return SelectManyAsync(withLookup(outer, inner, outerKey, innerKey), func(m matched[T, U]) (AsyncSeq[U], error) {
		return AsyncFromSlice(m.inner), nil
	}, func(m matched[T, U], u U) (R, error) {
		return result(m.outer, u)
	})
}

// GroupJoinAsync is the asynchronous form of GroupJoin.
func GroupJoinAsync[T, U, R any, K comparable](outer AsyncSeq[T], inner AsyncSeq[U], outerKey func(T) (K, error), innerKey func(U) (K, error), result func(T, []U) (R, error)) AsyncSeq[R] {
	return SelectAsync(withLookup(outer, inner, outerKey, innerKey), func(m matched[T, U]) (R, error) {
		return result(m.outer, m.inner)
	})
}

type matched[T, U any] struct {
	outer T
	inner []U
}

// withLookup pairs every outer element with its inner matches. The
// inner sequence is buffered before the first outer element is pulled.
func withLookup[T, U any, K comparable](outer AsyncSeq[T], inner AsyncSeq[U], outerKey func(T) (K, error), innerKey func(U) (K, error)) AsyncSeq[matched[T, U]] {
	return AsyncFunc(func() (func(context.Context) (matched[T, U], bool, error), func() error) {
		var (
			lookup map[K][]U
			p      = &pull[T]{src: outer}
		)
		return func(ctx context.Context) (matched[T, U], bool, error) {
			var zero matched[T, U]
			if lookup == nil {
				items, err := ToSliceAsync(inner)(ctx)
				if err != nil {
					return zero, false, err
				}
				if lookup, err = toLookup(FromSlice(items), innerKey); err != nil {
					return zero, false, err
				}
			}
			v, ok, err := p.next(ctx)
			if err != nil || !ok {
				return zero, false, err
			}
			k, err := outerKey(v)
			if err != nil {
				return zero, false, err
			}
			return matched[T, U]{outer: v, inner: lookup[k]}, true, nil
		}, p.close
	})
}

// OrderByAsync buffers the sequence and sorts it stably.
func OrderByAsync[T any](src AsyncSeq[T], compare func(a, b T) (int, error)) AsyncSeq[T] {
	return buffered(src, func(items []T) ([]T, error) {
		return items, sortStable(items, compare)
	})
}

// GroupByAsync is the asynchronous form of GroupBy.
func GroupByAsync[T, E any, K comparable](src AsyncSeq[T], key func(T) (K, error), element func(T) (E, error)) AsyncSeq[*Grouping[K, E]] {
	return buffered(src, func(items []T) ([]*Grouping[K, E], error) {
		return ToSlice(GroupBy(FromSlice(items), key, element))
	})
}

// SkipAsync bypasses the first n elements.
func SkipAsync[T any](src AsyncSeq[T], n int) AsyncSeq[T] {
	return AsyncFunc(func() (func(context.Context) (T, bool, error), func() error) {
		var (
			p       = &pull[T]{src: src}
			skipped int
		)
		return func(ctx context.Context) (T, bool, error) {
			for ; skipped < n; skipped++ {
				if v, ok, err := p.next(ctx); err != nil || !ok {
					return v, ok, err
				}
			}
			return p.next(ctx)
		}, p.close
	})
}

// TakeAsync yields at most n elements.
func TakeAsync[T any](src AsyncSeq[T], n int) AsyncSeq[T] {
	return AsyncFunc(func() (func(context.Context) (T, bool, error), func() error) {
		var (
			p     = &pull[T]{src: src}
			taken int
		)
		return func(ctx context.Context) (T, bool, error) {
			if taken >= n {
				var zero T
				return zero, false, nil
			}
			taken++
			return p.next(ctx)
		}, p.close
	})
}

// DistinctAsync yields the first element of every key.
func DistinctAsync[T any, K comparable](src AsyncSeq[T], key func(T) (K, error)) AsyncSeq[T] {
	return AsyncFunc(func() (func(context.Context) (T, bool, error), func() error) {
		var (
			p    = &pull[T]{src: src}
			seen = make(map[K]struct{})
		)
		return func(ctx context.Context) (T, bool, error) {
			for {
				v, ok, err := p.next(ctx)
				if err != nil || !ok {
					return v, ok, err
				}
				k, err := key(v)
				if err != nil {
					return v, false, err
				}
				if _, dup := seen[k]; !dup {
					seen[k] = struct{}{}
					return v, true, nil
				}
			}
		}, p.close
	})
}

// DefaultIfEmptyAsync yields def when the source is empty.
func DefaultIfEmptyAsync[T any](src AsyncSeq[T], def T) AsyncSeq[T] {
	return AsyncFunc(func() (func(context.Context) (T, bool, error), func() error) {
		var (
			p    = &pull[T]{src: src}
			seen bool
		)
		return func(ctx context.Context) (T, bool, error) {
			v, ok, err := p.next(ctx)
			if err != nil {
				return v, false, err
			}
			if ok {
				seen = true
				return v, true, nil
			}
			if !seen {
				seen = true
				return def, true, nil
			}
			return v, false, nil
		}, p.close
	})
}

// FirstAsync returns the first element, or ErrEmpty.
func FirstAsync[T any](src AsyncSeq[T]) Task[T] {
	return func(ctx context.Context) (T, error) {
		var (
			out   T
			found bool
		)
		err := ForEachAsync(src, func(v T) (bool, error) {
			out, found = v, true
			return false, nil
		})(ctx)
		if err == nil && !found {
			err = ErrEmpty
		}
		return out, err
	}
}

// CountAsync returns the number of elements.
func CountAsync[T any](src AsyncSeq[T]) Task[int] {
	return func(ctx context.Context) (int, error) {
		n := 0
		err := ForEachAsync(src, func(T) (bool, error) {
			n++
			return true, nil
		})(ctx)
		return n, err
	}
}
