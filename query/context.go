package query

import (
	"context"
	"fmt"
	"iter"

	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/querymodel"
	"github.com/syssam/veloxrt/storage"
)

// QueryContext is the state of one query execution. It is not safe for
// concurrent use.
type QueryContext struct {
	ctx     context.Context
	params  map[string]any
	buffer  *QueryBuffer
	source  storage.Source
	related map[*metadata.EntityType][]storage.Row
}

// NewQueryContext returns the context of one execution reading from
// source and resolving identities through buffer.
func NewQueryContext(ctx context.Context, source storage.Source, buffer *QueryBuffer, params map[string]any) *QueryContext {
	return &QueryContext{
		ctx:     ctx,
		params:  params,
		buffer:  buffer,
		source:  source,
		related: make(map[*metadata.EntityType][]storage.Row),
	}
}

// Context returns the context of the execution.
func (qc *QueryContext) Context() context.Context { return qc.ctx }

// Buffer returns the query buffer of the execution.
func (qc *QueryContext) Buffer() *QueryBuffer { return qc.buffer }

func (qc *QueryContext) param(name string) (any, error) {
	v, ok := qc.params[name]
	if !ok {
		return nil, fmt.Errorf("parameter %q is not set", name)
	}
	return v, nil
}

// relatedRows returns the rows of et for includes, scanning the source
// once per execution.
func (qc *QueryContext) relatedRows(et *metadata.EntityType) ([]storage.Row, error) {
	if rows, ok := qc.related[et]; ok {
		return rows, nil
	}
	rows, err := qc.source.Rows(qc.ctx, et)
	if err != nil {
		return nil, err
	}
	all, err := storage.Collect(qc.ctx, rows)
	if err != nil {
		return nil, err
	}
	qc.related[et] = all
	return all, nil
}

// materialize replaces the entity rows in a projected value by entities.
func (qc *QueryContext) materialize(v any) (any, error) {
	switch v := v.(type) {
	case *entityRow:
		return qc.buffer.GetEntity(v.et, v.row)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			m, err := qc.materialize(e)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	case *querymodel.Record:
		out := &querymodel.Record{Names: v.Names, Values: make([]any, len(v.Values))}
		for i, e := range v.Values {
			m, err := qc.materialize(e)
			if err != nil {
				return nil, err
			}
			out.Values[i] = m
		}
		return out, nil
	}
	return v, nil
}

// track attaches the entities found in a result value.
func (qc *QueryContext) track(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []any:
		for i, e := range v {
			t, err := qc.track(e)
			if err != nil {
				return nil, err
			}
			v[i] = t
		}
		return v, nil
	case *querymodel.Record:
		for i, e := range v.Values {
			t, err := qc.track(e)
			if err != nil {
				return nil, err
			}
			v.Values[i] = t
		}
		return v, nil
	case *Grouping:
		if _, err := qc.track(v.Items); err != nil {
			return nil, err
		}
		return v, nil
	}
	if isEntity(v) {
		return qc.buffer.StartTracking(v)
	}
	return v, nil
}

// scope is the tuple of range variable values of one query level.
// Slots are assigned at compile time; outer links the enclosing query.
type scope struct {
	slots []any
	outer *scope
}

func (s *scope) with(i int, v any) *scope {
	n := max(len(s.slots), i+1)
	slots := make([]any, n)
	copy(slots, s.slots)
	slots[i] = v
	return &scope{slots: slots, outer: s.outer}
}

func (s *scope) at(depth, i int) (any, error) {
	for d := depth; d > 0 && s != nil; d-- {
		s = s.outer
	}
	if s == nil || i >= len(s.slots) {
		return nil, fmt.Errorf("slot %d.%d is not bound", depth, i)
	}
	return s.slots[i], nil
}

// Queryable is the result of a sequence sub-query in a projection. It is
// evaluated on first use and can be enumerated again.
type Queryable struct {
	seq   iter.Seq2[any, error]
	items []any
	done  bool
}

// All returns the elements of the sub-query.
func (q *Queryable) All() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		items, err := q.ToSlice()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, v := range items {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// ToSlice returns the elements of the sub-query.
func (q *Queryable) ToSlice() ([]any, error) {
	if q.done {
		return q.items, nil
	}
	var items []any
	for v, err := range q.seq {
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	q.items, q.done = items, true
	return items, nil
}
