package query

import (
	"context"
	"fmt"
	"iter"
	"reflect"

	"github.com/syssam/veloxrt/linq"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/storage"
)

// seqOps are the sequence operators of one execution mode. The
// compiler is shared; only the sequence type S differs.
type seqOps[S any] interface {
	rows(qc *QueryContext, et *metadata.EntityType) S
	values(qc *QueryContext, v any) (S, error)
	lazy(build func() (S, error)) S
	where(src S, pred func(any) (bool, error)) S
	project(src S, f func(any) (any, error)) S
	selectMany(src S, inner func(any) (S, error)) S
	join(outer, inner S, outerKey, innerKey func(any) (any, error), result func(o, i any) (any, error)) S
	groupJoin(outer, inner S, outerKey, innerKey func(any) (any, error), result func(o any, g []any) (any, error)) S
	orderBy(src S, compare func(a, b any) (int, error)) S
	skip(src S, n int) S
	take(src S, n int) S
	distinct(src S, key func(any) (any, error)) S
	defaultIfEmpty(src S, def any) S
	groupBy(src S, key, element func(any) (any, error)) S
	forEach(src S, f func(any) (bool, error)) linq.Task[struct{}]
	include(qc *QueryContext, entity any, nav *metadata.Navigation, rows []storage.Row) error
	sync(qc *QueryContext, src S) linq.Seq[any]
}

// keyed pairs a grouped element with its original key.
type keyed struct {
	key, value any
}

// groupKeys returns the key and element functions grouping by the
// canonical key while keeping the original one.
func groupKeys(key, element func(any) (any, error)) (func(any) (any, error), func(any) (keyed, error)) {
	return func(v any) (any, error) {
			k, err := key(v)
			if err != nil {
				return nil, err
			}
			return valueKey(k)
		}, func(v any) (keyed, error) {
			k, err := key(v)
			if err != nil {
				return keyed{}, err
			}
			e, err := element(v)
			return keyed{key: k, value: e}, err
		}
}

func toGrouping(g *linq.Grouping[any, keyed]) (any, error) {
	out := &Grouping{Items: make([]any, len(g.Items))}
	for i, e := range g.Items {
		out.Items[i] = e.value
	}
	if len(g.Items) > 0 {
		out.Key = g.Items[0].key
	}
	return out, nil
}

// sliceOf converts a slice or array value to []any.
func sliceOf(v any) ([]any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
	default:
		return nil, fmt.Errorf("query: %T is not a sequence", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func readers(rows []storage.Row) []storage.ValueReader {
	out := make([]storage.ValueReader, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// syncOps runs queries on iterators.
type syncOps struct{}

var _ seqOps[linq.Seq[any]] = syncOps{}

func (syncOps) rows(qc *QueryContext, et *metadata.EntityType) linq.Seq[any] {
	return func(yield func(any, error) bool) {
		rows, err := qc.source.Rows(qc.ctx, et)
		if err != nil {
			yield(nil, err)
			return
		}
		for r, err := range storage.All(qc.ctx, rows) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(storage.Snapshot(r), nil) {
				return
			}
		}
	}
}

func (syncOps) values(qc *QueryContext, v any) (linq.Seq[any], error) {
	switch v := v.(type) {
	case nil:
		return linq.Empty[any](), nil
	case []any:
		return linq.FromSlice(v), nil
	case *Queryable:
		return v.All(), nil
	case linq.AsyncSeq[any]:
		return linq.ToSync(qc.ctx, v), nil
	}
	items, err := sliceOf(v)
	if err != nil {
		return nil, err
	}
	return linq.FromSlice(items), nil
}

func (syncOps) lazy(build func() (linq.Seq[any], error)) linq.Seq[any] {
	return func(yield func(any, error) bool) {
		src, err := build()
		if err != nil {
			yield(nil, err)
			return
		}
		for v, err := range src {
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

func (syncOps) where(src linq.Seq[any], pred func(any) (bool, error)) linq.Seq[any] {
	return linq.Where(src, pred)
}

func (syncOps) project(src linq.Seq[any], f func(any) (any, error)) linq.Seq[any] {
	return linq.Select(src, f)
}

func (syncOps) selectMany(src linq.Seq[any], inner func(any) (linq.Seq[any], error)) linq.Seq[any] {
	return linq.SelectMany(src, inner, func(_, v any) (any, error) { return v, nil })
}

func (syncOps) join(outer, inner linq.Seq[any], outerKey, innerKey func(any) (any, error), result func(o, i any) (any, error)) linq.Seq[any] {
	return linq.Join(outer, inner, outerKey, innerKey, result)
}

func (syncOps) groupJoin(outer, inner linq.Seq[any], outerKey, innerKey func(any) (any, error), result func(o any, g []any) (any, error)) linq.Seq[any] {
	return linq.GroupJoin(outer, inner, outerKey, innerKey, result)
}

func (syncOps) orderBy(src linq.Seq[any], compare func(a, b any) (int, error)) linq.Seq[any] {
	return linq.OrderBy(src, compare)
}

func (syncOps) skip(src linq.Seq[any], n int) linq.Seq[any] { return linq.Skip(src, n) }
func (syncOps) take(src linq.Seq[any], n int) linq.Seq[any] { return linq.Take(src, n) }

func (syncOps) distinct(src linq.Seq[any], key func(any) (any, error)) linq.Seq[any] {
	return linq.Distinct(src, key)
}

func (syncOps) defaultIfEmpty(src linq.Seq[any], def any) linq.Seq[any] {
	return linq.DefaultIfEmpty(src, def)
}

func (syncOps) groupBy(src linq.Seq[any], key, element func(any) (any, error)) linq.Seq[any] {
	k, e := groupKeys(key, element)
	return linq.Select(linq.GroupBy(src, k, e), toGrouping)
}

func (syncOps) forEach(src linq.Seq[any], f func(any) (bool, error)) linq.Task[struct{}] {
	return func(context.Context) (struct{}, error) {
		return struct{}{}, linq.ForEach(src, f)
	}
}

func (syncOps) include(qc *QueryContext, entity any, nav *metadata.Navigation, rows []storage.Row) error {
	var related iter.Seq2[storage.ValueReader, error] = func(yield func(storage.ValueReader, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
	return qc.buffer.Include(entity, nav, related)
}

func (syncOps) sync(_ *QueryContext, src linq.Seq[any]) linq.Seq[any] { return src }

// asyncOps runs queries on asynchronous enumerators. Rows are read with
// the context passed to MoveNext.
type asyncOps struct{}

var _ seqOps[linq.AsyncSeq[any]] = asyncOps{}

func (asyncOps) rows(qc *QueryContext, et *metadata.EntityType) linq.AsyncSeq[any] {
	return linq.AsyncFunc(func() (func(context.Context) (any, bool, error), func() error) {
		var rows storage.Rows
		return func(ctx context.Context) (any, bool, error) {
				if rows == nil {
					r, err := qc.source.Rows(ctx, et)
					if err != nil {
						return nil, false, err
					}
					rows = r
				}
				r, ok, err := rows.Next(ctx)
				if err != nil || !ok {
					return nil, false, err
				}
				return storage.Snapshot(r), true, nil
			}, func() error {
				if rows == nil {
					return nil
				}
				return rows.Close()
			}
	})
}

func (asyncOps) values(_ *QueryContext, v any) (linq.AsyncSeq[any], error) {
	switch v := v.(type) {
	case nil:
		return linq.AsyncFromSlice[any](nil), nil
	case []any:
		return linq.AsyncFromSlice(v), nil
	case *Queryable:
		return linq.ToAsync(v.All()), nil
	case linq.Seq[any]:
		return linq.ToAsync(v), nil
	}
	items, err := sliceOf(v)
	if err != nil {
		return nil, err
	}
	return linq.AsyncFromSlice(items), nil
}

func (asyncOps) lazy(build func() (linq.AsyncSeq[any], error)) linq.AsyncSeq[any] {
	return linq.AsyncFunc(func() (func(context.Context) (any, bool, error), func() error) {
		var e linq.AsyncEnumerator[any]
		return func(ctx context.Context) (any, bool, error) {
				if e == nil {
					src, err := build()
					if err != nil {
						return nil, false, err
					}
					e = src()
				}
				ok, err := e.MoveNext(ctx)
				if err != nil || !ok {
					return nil, false, err
				}
				return e.Current(), true, nil
			}, func() error {
				if e == nil {
					return nil
				}
				return e.Close()
			}
	})
}

func (asyncOps) where(src linq.AsyncSeq[any], pred func(any) (bool, error)) linq.AsyncSeq[any] {
	return linq.WhereAsync(src, pred)
}

func (asyncOps) project(src linq.AsyncSeq[any], f func(any) (any, error)) linq.AsyncSeq[any] {
	return linq.SelectAsync(src, f)
}

func (asyncOps) selectMany(src linq.AsyncSeq[any], inner func(any) (linq.AsyncSeq[any], error)) linq.AsyncSeq[any] {
	return linq.SelectManyAsync(src, inner, func(_, v any) (any, error) { return v, nil })
}

func (asyncOps) join(outer, inner linq.AsyncSeq[any], outerKey, innerKey func(any) (any, error), result func(o, i any) (any, error)) linq.AsyncSeq[any] {
	return linq.JoinAsync(outer, inner, outerKey, innerKey, result)
}

func (asyncOps) groupJoin(outer, inner linq.AsyncSeq[any], outerKey, innerKey func(any) (any, error), result func(o any, g []any) (any, error)) linq.AsyncSeq[any] {
	return linq.GroupJoinAsync(outer, inner, outerKey, innerKey, result)
}

func (asyncOps) orderBy(src linq.AsyncSeq[any], compare func(a, b any) (int, error)) linq.AsyncSeq[any] {
	return linq.OrderByAsync(src, compare)
}

func (asyncOps) skip(src linq.AsyncSeq[any], n int) linq.AsyncSeq[any] { return linq.SkipAsync(src, n) }
func (asyncOps) take(src linq.AsyncSeq[any], n int) linq.AsyncSeq[any] { return linq.TakeAsync(src, n) }

func (asyncOps) distinct(src linq.AsyncSeq[any], key func(any) (any, error)) linq.AsyncSeq[any] {
	return linq.DistinctAsync(src, key)
}

func (asyncOps) defaultIfEmpty(src linq.AsyncSeq[any], def any) linq.AsyncSeq[any] {
	return linq.DefaultIfEmptyAsync(src, def)
}

func (asyncOps) groupBy(src linq.AsyncSeq[any], key, element func(any) (any, error)) linq.AsyncSeq[any] {
	k, e := groupKeys(key, element)
	return linq.SelectAsync(linq.GroupByAsync(src, k, e), toGrouping)
}

func (asyncOps) forEach(src linq.AsyncSeq[any], f func(any) (bool, error)) linq.Task[struct{}] {
	each := linq.ForEachAsync(src, f)
	return func(ctx context.Context) (struct{}, error) {
		return struct{}{}, each(ctx)
	}
}

func (asyncOps) include(qc *QueryContext, entity any, nav *metadata.Navigation, rows []storage.Row) error {
	return qc.buffer.IncludeAsync(qc.ctx, entity, nav, linq.AsyncFromSlice(readers(rows)))
}

func (asyncOps) sync(qc *QueryContext, src linq.AsyncSeq[any]) linq.Seq[any] {
	return linq.ToSync(qc.ctx, src)
}
