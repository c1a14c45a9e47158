package session

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/contrib/dataloader"
	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/linq"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/query"
	"github.com/syssam/veloxrt/querymodel"
)

// Query returns the results of qm. Entities are resolved against, and
// unless the query opts out, tracked by the session.
func (s *Session) Query(ctx context.Context, qm *querymodel.QueryModel, params map[string]any) iter.Seq2[any, error] {
	return s.provider.ExecuteCollection(ctx, qm, params)
}

// QueryAsync returns the results of qm as an asynchronous sequence.
func (s *Session) QueryAsync(qm *querymodel.QueryModel, params map[string]any) linq.AsyncSeq[any] {
	return s.provider.ExecuteCollectionAsync(qm, params)
}

// Execute runs qm and returns its result: a []any for sequences, the
// value otherwise.
func (s *Session) Execute(ctx context.Context, qm *querymodel.QueryModel, params map[string]any) (any, error) {
	return s.provider.Execute(ctx, qm, params)
}

// ToSlice collects the results of qm into a []T.
func ToSlice[T any](ctx context.Context, s *Session, qm *querymodel.QueryModel, params map[string]any) ([]T, error) {
	return query.ToSlice[T](s.Query(ctx, qm, params))
}

// Scalar runs a query ending in a scalar or single-element operator and
// converts its result to T.
func Scalar[T any](ctx context.Context, s *Session, qm *querymodel.QueryModel, params map[string]any) (T, error) {
	return query.Scalar[T](s.Execute(ctx, qm, params))
}

// Find returns the entity of the given type with the given key values,
// or nil when there is none. Tracked entities are returned without a
// query.
func (s *Session) Find(ctx context.Context, entity string, key ...any) (any, error) {
	l, et, err := s.loader(entity)
	if err != nil {
		return nil, err
	}
	k, err := s.sm.Keys().KeyFromValues(et, key...)
	if err != nil {
		return nil, err
	}
	v, err := l.Load(ctx, k)
	if errors.Is(err, dataloader.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// Get is like Find but fails with a NotFoundError when there is no
// entity with the key.
func (s *Session) Get(ctx context.Context, entity string, key ...any) (any, error) {
	v, err := s.Find(ctx, entity, key...)
	if err != nil {
		return nil, err
	}
	if v == nil {
		id := any(key)
		if len(key) == 1 {
			id = key[0]
		}
		return nil, veloxrt.NewNotFoundError(entity, id)
	}
	return v, nil
}

// FindMany returns the entities with the given single-property keys, in
// key order. Missing entities are nil. Keys not already tracked are
// loaded in batches of at most MaxBatchSize keys.
func (s *Session) FindMany(ctx context.Context, entity string, keys ...any) ([]any, error) {
	l, et, err := s.loader(entity)
	if err != nil {
		return nil, err
	}
	ks := make([]identity.EntityKey, len(keys))
	for i, key := range keys {
		if ks[i], err = s.sm.Keys().KeyFromValues(et, key); err != nil {
			return nil, err
		}
	}
	values, errs := l.LoadMany(ctx, ks)
	for i, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, dataloader.ErrNotFound):
			values[i] = nil
		default:
			return nil, err
		}
	}
	return values, nil
}

func (s *Session) loader(entity string) (*dataloader.Loader[identity.EntityKey, any], *metadata.EntityType, error) {
	et := s.model.FindEntityType(entity)
	if et == nil {
		return nil, nil, veloxrt.NewBindingError(entity, "", "unknown entity type")
	}
	if l, ok := s.loaders[entity]; ok {
		return l, et, nil
	}
	l := dataloader.NewLoader(s.batchFind(et), s.opts.MaxBatchSize)
	s.loaders[entity] = l
	return l, et, nil
}

// keysParam names the parameter holding the key set of a find query.
const keysParam = "keys"

// batchFind returns the batch function of the Find loader of et. Keys of
// tracked entities are served by the state manager; the rest are read
// with one query per batch.
func (s *Session) batchFind(et *metadata.EntityType) dataloader.BatchFunc[identity.EntityKey, any] {
	args := []querymodel.Expr{querymodel.Param(keysParam)}
	for _, p := range et.Key() {
		args = append(args, querymodel.Prop(querymodel.Ref("e"), p.Name))
	}
	keys := s.sm.Keys()
	inKeys := querymodel.Func("find."+et.Name, func(vs ...any) (any, error) {
		set, ok := vs[0].(map[identity.EntityKey]struct{})
		if !ok {
			return nil, fmt.Errorf("key set is %T", vs[0])
		}
		k, err := keys.KeyFromValues(et, vs[1:]...)
		if err != nil {
			return nil, err
		}
		_, ok = set[k]
		return ok, nil
	}, args...)
	qm := querymodel.From("e", et.Name).Where(inKeys).Model()

	return func(ctx context.Context, batch []identity.EntityKey) ([]any, []error) {
		var values []any
		missing := make(map[identity.EntityKey]struct{})
		for _, k := range batch {
			if e, ok := s.sm.TryGetEntry(k); ok {
				values = append(values, e.Entity())
			} else {
				missing[k] = struct{}{}
			}
		}
		if len(missing) > 0 {
			for v, err := range s.Query(ctx, qm, map[string]any{keysParam: missing}) {
				if err != nil {
					return nil, []error{err}
				}
				values = append(values, v)
			}
		}
		found := make([]keyed, len(values))
		for i, v := range values {
			k, err := s.resultKey(et, v)
			if err != nil {
				return nil, []error{err}
			}
			found[i] = keyed{key: k, entity: v}
		}
		ordered, errs := dataloader.OrderByKeys(batch, found, func(f keyed) identity.EntityKey { return f.key })
		out := make([]any, len(ordered))
		for i, f := range ordered {
			out[i] = f.entity
		}
		return out, errs
	}
}

type keyed struct {
	key    identity.EntityKey
	entity any
}

// resultKey returns the identity of a find result. Tracked entities keep
// the key they are tracked under.
func (s *Session) resultKey(et *metadata.EntityType, entity any) (identity.EntityKey, error) {
	if e, ok := s.sm.Entry(entity); ok {
		return e.Key(), nil
	}
	return s.sm.Keys().KeyOf(et, et.Key(), func(p *metadata.Property) any { return p.Get(entity) })
}
