package query

import (
	"fmt"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/linq"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/query/plan"
	"github.com/syssam/veloxrt/querymodel"
	"github.com/syssam/veloxrt/storage"
)

type (
	// seqFn builds the sequence of a plan node in scope s.
	seqFn[S any] func(qc *QueryContext, s *scope) (S, error)
	// evalFn evaluates an expression on a tuple scope s, or on the
	// current element it after the projection.
	evalFn func(qc *QueryContext, s *scope, it any) (any, error)
	// termFn evaluates an aggregate plan in scope s.
	termFn func(qc *QueryContext, s *scope) (any, error)
)

// compiler turns plans into closures over the sequence type S.
type compiler[S any] struct {
	ops seqOps[S]
}

// split returns the scope and current element of a sequence element.
// Elements before the projection are tuple scopes.
func split(e any, s *scope) (*scope, any) {
	if t, ok := e.(*scope); ok {
		return t, nil
	}
	return s, e
}

func (c *compiler[S]) sequence(n plan.Node) (seqFn[S], error) {
	switch n := n.(type) {
	case *plan.Scan:
		return func(qc *QueryContext, s *scope) (S, error) {
			return c.ops.project(c.ops.rows(qc, n.Entity), func(r any) (any, error) {
				return s.with(n.Slot, &entityRow{et: n.Entity, row: r.(storage.Row)}), nil
			}), nil
		}, nil
	case *plan.Values:
		ev, err := c.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope) (S, error) {
			v, err := ev(qc, s, nil)
			if err != nil {
				return c.zero(), err
			}
			src, err := c.values(qc, v)
			if err != nil {
				return c.zero(), err
			}
			return c.ops.project(src, func(e any) (any, error) {
				if n.Element != nil && isEntity(e) {
					return nil, fmt.Errorf("query: source %s yields entities, want rows of %s", n.Source, n.Element.Name)
				}
				return s.with(n.Slot, e), nil
			}), nil
		}, nil
	case *plan.SelectMany:
		in, err := c.sequence(n.Input)
		if err != nil {
			return nil, err
		}
		inner, err := c.sequence(n.Inner)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope) (S, error) {
			src, err := in(qc, s)
			if err != nil {
				return c.zero(), err
			}
			return c.ops.selectMany(src, func(t any) (S, error) {
				return inner(qc, t.(*scope))
			}), nil
		}, nil
	case *plan.Join:
		return c.join(n.Input, n.Inner, n.OuterKey, n.InnerKey, func(o, i *scope) any {
			return o.with(n.Slot, i.slots[n.Slot])
		}, nil)
	case *plan.GroupJoin:
		return c.join(n.Input, n.Inner, n.OuterKey, n.InnerKey, nil, func(o *scope, g []any) any {
			rows := make([]any, len(g))
			for i, t := range g {
				rows[i] = t.(*scope).slots[n.Slot]
			}
			return o.with(n.Slot, rows)
		})
	case *plan.Filter:
		in, pred, err := c.unary(n.Input, n.Predicate)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope) (S, error) {
			src, err := in(qc, s)
			if err != nil {
				return c.zero(), err
			}
			return c.ops.where(src, func(e any) (bool, error) {
				t, it := split(e, s)
				v, err := pred(qc, t, it)
				if err != nil {
					return false, err
				}
				return truth(v)
			}), nil
		}, nil
	case *plan.OrderBy:
		return c.orderBy(n)
	case *plan.Project:
		in, sel, err := c.unary(n.Input, n.Selector)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope) (S, error) {
			src, err := in(qc, s)
			if err != nil {
				return c.zero(), err
			}
			return c.ops.project(src, func(e any) (any, error) {
				t, it := split(e, s)
				v, err := sel(qc, t, it)
				if err != nil {
					return nil, err
				}
				return qc.materialize(v)
			}), nil
		}, nil
	case *plan.Include:
		in, err := c.sequence(n.Input)
		if err != nil {
			return nil, err
		}
		return c.mapped(in, func(qc *QueryContext, _ *scope, e any) (any, error) {
			return e, c.include(qc, e, n.Entity, n.Path)
		}), nil
	case *plan.Track:
		in, err := c.sequence(n.Input)
		if err != nil {
			return nil, err
		}
		return c.mapped(in, func(qc *QueryContext, _ *scope, e any) (any, error) {
			return qc.track(e)
		}), nil
	case *plan.Skip:
		return c.limit(n.Input, n.Count, c.ops.skip)
	case *plan.Take:
		return c.limit(n.Input, n.Count, c.ops.take)
	case *plan.Distinct:
		in, err := c.sequence(n.Input)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope) (S, error) {
			src, err := in(qc, s)
			if err != nil {
				return c.zero(), err
			}
			return c.ops.distinct(src, valueKey), nil
		}, nil
	case *plan.DefaultIfEmpty:
		in, def, err := c.unary(n.Input, n.Default)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope) (S, error) {
			src, err := in(qc, s)
			if err != nil {
				return c.zero(), err
			}
			v, err := def(qc, s, nil)
			if err != nil {
				return c.zero(), err
			}
			return c.ops.defaultIfEmpty(src, v), nil
		}, nil
	case *plan.Group:
		return c.group(n)
	case *plan.Aggregate:
		return nil, fmt.Errorf("query: aggregate %s in sequence position", n.Op)
	}
	return nil, fmt.Errorf("query: unsupported plan node %T", n)
}

func (c *compiler[S]) zero() S {
	var s S
	return s
}

// values converts the value of a source expression to a sequence.
func (c *compiler[S]) values(qc *QueryContext, v any) (S, error) {
	if s, ok := v.(S); ok {
		return s, nil
	}
	return c.ops.values(qc, v)
}

func (c *compiler[S]) unary(input plan.Node, e plan.Expr) (seqFn[S], evalFn, error) {
	in, err := c.sequence(input)
	if err != nil {
		return nil, nil, err
	}
	ev, err := c.expr(e)
	if err != nil {
		return nil, nil, err
	}
	return in, ev, nil
}

// mapped applies f to every element of in.
func (c *compiler[S]) mapped(in seqFn[S], f evalFn) seqFn[S] {
	return func(qc *QueryContext, s *scope) (S, error) {
		src, err := in(qc, s)
		if err != nil {
			return c.zero(), err
		}
		return c.ops.project(src, func(e any) (any, error) {
			return f(qc, s, e)
		}), nil
	}
}

// joinKey returns the key function of a join side. A nil key never
// matches.
func joinKey(qc *QueryContext, ev evalFn) func(any) (any, error) {
	return func(t any) (any, error) {
		v, err := ev(qc, t.(*scope), nil)
		if err != nil {
			return nil, err
		}
		if isNil(v) {
			return new(byte), nil
		}
		return valueKey(v)
	}
}

func (c *compiler[S]) join(input plan.Node, inner *plan.Scan, outerKey, innerKey plan.Expr, result func(o, i *scope) any, group func(o *scope, g []any) any) (seqFn[S], error) {
	in, err := c.sequence(input)
	if err != nil {
		return nil, err
	}
	rows, err := c.sequence(inner)
	if err != nil {
		return nil, err
	}
	ok, err := c.expr(outerKey)
	if err != nil {
		return nil, err
	}
	ik, err := c.expr(innerKey)
	if err != nil {
		return nil, err
	}
	return func(qc *QueryContext, s *scope) (S, error) {
		outer, err := in(qc, s)
		if err != nil {
			return c.zero(), err
		}
		matches, err := rows(qc, s)
		if err != nil {
			return c.zero(), err
		}
		if group != nil {
			return c.ops.groupJoin(outer, matches, joinKey(qc, ok), joinKey(qc, ik), func(o any, g []any) (any, error) {
				return group(o.(*scope), g), nil
			}), nil
		}
		return c.ops.join(outer, matches, joinKey(qc, ok), joinKey(qc, ik), func(o, i any) (any, error) {
			return result(o.(*scope), i.(*scope)), nil
		}), nil
	}, nil
}

func (c *compiler[S]) orderBy(n *plan.OrderBy) (seqFn[S], error) {
	in, err := c.sequence(n.Input)
	if err != nil {
		return nil, err
	}
	keys := make([]evalFn, len(n.Keys))
	for i, k := range n.Keys {
		if keys[i], err = c.expr(k.Expr); err != nil {
			return nil, err
		}
	}
	return func(qc *QueryContext, s *scope) (S, error) {
		src, err := in(qc, s)
		if err != nil {
			return c.zero(), err
		}
		return c.ops.orderBy(src, func(a, b any) (int, error) {
			as, ai := split(a, s)
			bs, bi := split(b, s)
			for i, key := range keys {
				x, err := key(qc, as, ai)
				if err != nil {
					return 0, err
				}
				y, err := key(qc, bs, bi)
				if err != nil {
					return 0, err
				}
				r, err := compareValues(x, y)
				if err != nil {
					return 0, err
				}
				if n.Keys[i].Descending {
					r = -r
				}
				if r != 0 {
					return r, nil
				}
			}
			return 0, nil
		}), nil
	}, nil
}

// limit builds Skip and Take. The count is evaluated once per
// execution; negative counts are zero.
func (c *compiler[S]) limit(input plan.Node, count plan.Expr, apply func(S, int) S) (seqFn[S], error) {
	in, cnt, err := c.unary(input, count)
	if err != nil {
		return nil, err
	}
	return func(qc *QueryContext, s *scope) (S, error) {
		src, err := in(qc, s)
		if err != nil {
			return c.zero(), err
		}
		v, err := cnt(qc, s, nil)
		if err != nil {
			return c.zero(), err
		}
		k, err := toInt(v)
		if err != nil {
			return c.zero(), err
		}
		return apply(src, max(k, 0)), nil
	}, nil
}

func (c *compiler[S]) group(n *plan.Group) (seqFn[S], error) {
	in, key, err := c.unary(n.Input, n.Key)
	if err != nil {
		return nil, err
	}
	elem, err := c.expr(n.Element)
	if err != nil {
		return nil, err
	}
	return func(qc *QueryContext, s *scope) (S, error) {
		src, err := in(qc, s)
		if err != nil {
			return c.zero(), err
		}
		keyOf := func(e any) (any, error) {
			t, it := split(e, s)
			return key(qc, t, it)
		}
		elementOf := func(e any) (any, error) {
			if n.Element == nil {
				return e, nil
			}
			t, it := split(e, s)
			v, err := elem(qc, t, it)
			if err != nil {
				return nil, err
			}
			return qc.materialize(v)
		}
		return c.ops.groupBy(src, keyOf, elementOf), nil
	}, nil
}

// include loads the navigation path of a result entity.
func (c *compiler[S]) include(qc *QueryContext, entity any, et *metadata.EntityType, path []*metadata.Navigation) error {
	if len(path) == 0 || isNil(entity) || !et.Owns(entity) {
		return nil
	}
	nav := path[0]
	rows, err := qc.relatedRows(nav.Target)
	if err != nil {
		return err
	}
	if err := c.ops.include(qc, entity, nav, rows); err != nil {
		return err
	}
	for _, t := range nav.Items(entity) {
		if err := c.include(qc, t, nav.Target, path[1:]); err != nil {
			return err
		}
	}
	return nil
}

// terminal compiles an aggregate plan.
func (c *compiler[S]) terminal(n plan.Node) (termFn, error) {
	agg, ok := n.(*plan.Aggregate)
	if !ok {
		return nil, fmt.Errorf("query: plan %T does not produce a single value", n)
	}
	in, err := c.sequence(agg.Input)
	if err != nil {
		return nil, err
	}
	var pred evalFn
	if agg.Predicate != nil {
		if pred, err = c.expr(agg.Predicate); err != nil {
			return nil, err
		}
	}
	return func(qc *QueryContext, s *scope) (any, error) {
		src, err := in(qc, s)
		if err != nil {
			return nil, err
		}
		each := func(f func(any) (bool, error)) error {
			_, err := linq.Block(qc.ctx, c.ops.forEach(src, f))
			return err
		}
		switch agg.Op {
		case querymodel.KindCount, querymodel.KindLongCount:
			var count int
			err := each(func(any) (bool, error) {
				count++
				return true, nil
			})
			if err != nil {
				return nil, err
			}
			if agg.Op == querymodel.KindLongCount {
				return int64(count), nil
			}
			return count, nil
		case querymodel.KindAny:
			var found bool
			err := each(func(any) (bool, error) {
				found = true
				return false, nil
			})
			return found, err
		case querymodel.KindAll:
			all := true
			err := each(func(e any) (bool, error) {
				t, it := split(e, s)
				v, err := pred(qc, t, it)
				if err != nil {
					return false, err
				}
				ok, err := truth(v)
				if err != nil {
					return false, err
				}
				all = ok
				return ok, nil
			})
			return all, err
		case querymodel.KindFirst, querymodel.KindLast, querymodel.KindSingle:
			return c.element(agg, each)
		case querymodel.KindSum, querymodel.KindMin, querymodel.KindMax, querymodel.KindAverage:
			var values []any
			err := each(func(e any) (bool, error) {
				values = append(values, e)
				return true, nil
			})
			if err != nil {
				return nil, err
			}
			return agg.Reduce(values)
		}
		return nil, &veloxrt.UnsupportedOperatorError{Operator: agg.Op.String()}
	}, nil
}

// element evaluates First, Last and Single.
func (c *compiler[S]) element(agg *plan.Aggregate, each func(func(any) (bool, error)) error) (any, error) {
	var (
		value any
		count int
	)
	err := each(func(e any) (bool, error) {
		value = e
		count++
		switch agg.Op {
		case querymodel.KindFirst:
			return false, nil
		case querymodel.KindSingle:
			return count < 2, nil
		}
		return true, nil
	})
	switch {
	case err != nil:
		return nil, err
	case count == 0 && agg.OrDefault:
		return nil, nil
	case count == 0:
		return nil, veloxrt.ErrEmptySequence
	case count > 1 && agg.Op == querymodel.KindSingle:
		return nil, veloxrt.NewNotSingularError("sequence", count)
	}
	return value, nil
}

func (c *compiler[S]) expr(e plan.Expr) (evalFn, error) {
	switch e := e.(type) {
	case nil:
		return func(*QueryContext, *scope, any) (any, error) { return nil, nil }, nil
	case *plan.Slot:
		return func(_ *QueryContext, s *scope, _ any) (any, error) {
			return s.at(e.Depth, e.Index)
		}, nil
	case *plan.Read:
		return func(qc *QueryContext, s *scope, _ any) (any, error) {
			v, err := s.at(e.Slot.Depth, e.Slot.Index)
			if err != nil {
				return nil, err
			}
			return readProperty(qc, v, e.Property)
		}, nil
	case *plan.Current:
		return func(_ *QueryContext, _ *scope, it any) (any, error) { return it, nil }, nil
	case *plan.Field:
		target, err := c.expr(e.Target)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope, it any) (any, error) {
			v, err := target(qc, s, it)
			if err != nil {
				return nil, err
			}
			return member(v, e.Name)
		}, nil
	case *plan.PropertyOf:
		target, err := c.expr(e.Target)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope, it any) (any, error) {
			v, err := target(qc, s, it)
			if err != nil {
				return nil, err
			}
			return readProperty(qc, v, e.Property)
		}, nil
	case *plan.Const:
		return func(*QueryContext, *scope, any) (any, error) { return e.Value, nil }, nil
	case *plan.Param:
		return func(qc *QueryContext, _ *scope, _ any) (any, error) { return qc.param(e.Name) }, nil
	case *plan.Binary:
		l, err := c.expr(e.Left)
		if err != nil {
			return nil, err
		}
		r, err := c.expr(e.Right)
		if err != nil {
			return nil, err
		}
		return binary(e.Op, l, r), nil
	case *plan.Not:
		x, err := c.expr(e.Operand)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope, it any) (any, error) {
			v, err := x(qc, s, it)
			if err != nil {
				return nil, err
			}
			b, err := truth(v)
			return !b, err
		}, nil
	case *plan.IsNull:
		x, err := c.expr(e.Operand)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope, it any) (any, error) {
			v, err := x(qc, s, it)
			return isNil(v), err
		}, nil
	case *plan.Record:
		fields, err := c.exprs(e.Values)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope, it any) (any, error) {
			rec := &querymodel.Record{Names: e.Names, Values: make([]any, len(fields))}
			for i, f := range fields {
				v, err := f(qc, s, it)
				if err != nil {
					return nil, err
				}
				rec.Values[i] = v
			}
			return rec, nil
		}, nil
	case *plan.Call:
		args, err := c.exprs(e.Args)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope, it any) (any, error) {
			vs := make([]any, len(args))
			for i, a := range args {
				v, err := a(qc, s, it)
				if err != nil {
					return nil, err
				}
				if vs[i], err = qc.materialize(v); err != nil {
					return nil, err
				}
			}
			v, err := e.Fn(vs...)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.Name, err)
			}
			return v, nil
		}, nil
	case *plan.SubQuery:
		return c.subquery(e)
	}
	return nil, fmt.Errorf("query: unsupported expression %T", e)
}

func (c *compiler[S]) exprs(es []plan.Expr) ([]evalFn, error) {
	out := make([]evalFn, len(es))
	for i, e := range es {
		f, err := c.expr(e)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// subquery evaluates a nested plan with the current tuple as its outer
// scope. Sequence results are wrapped in a Queryable unless inlined.
func (c *compiler[S]) subquery(e *plan.SubQuery) (evalFn, error) {
	if e.Shape.Shape != querymodel.ShapeSequence {
		term, err := c.terminal(e.Plan)
		if err != nil {
			return nil, err
		}
		return func(qc *QueryContext, s *scope, _ any) (any, error) {
			return term(qc, &scope{outer: s})
		}, nil
	}
	seq, err := c.sequence(e.Plan)
	if err != nil {
		return nil, err
	}
	if e.Inline {
		return func(qc *QueryContext, s *scope, _ any) (any, error) {
			return seq(qc, &scope{outer: s})
		}, nil
	}
	return func(qc *QueryContext, s *scope, _ any) (any, error) {
		child := &scope{outer: s}
		return &Queryable{seq: c.ops.sync(qc, c.ops.lazy(func() (S, error) {
			return seq(qc, child)
		}))}, nil
	}, nil
}

// readProperty reads p from an entity row or a materialized entity.
func readProperty(qc *QueryContext, v any, p *metadata.Property) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case *entityRow:
		return v.read(p)
	}
	if isNil(v) {
		return nil, nil
	}
	if !p.DeclaringType().Owns(v) {
		return nil, fmt.Errorf("query: %T is not a %s", v, p.DeclaringType().Name)
	}
	return typed(qc.buffer.GetPropertyValue(v, p), p)
}

// binary evaluates a binary operator. Logical operators short-circuit;
// comparisons with nil are false.
func binary(op querymodel.BinaryOp, l, r evalFn) evalFn {
	switch op {
	case querymodel.OpAnd, querymodel.OpOr:
		return func(qc *QueryContext, s *scope, it any) (any, error) {
			lv, err := l(qc, s, it)
			if err != nil {
				return nil, err
			}
			x, err := truth(lv)
			if err != nil {
				return nil, err
			}
			if x == (op == querymodel.OpOr) {
				return x, nil
			}
			rv, err := r(qc, s, it)
			if err != nil {
				return nil, err
			}
			return truth(rv)
		}
	}
	return func(qc *QueryContext, s *scope, it any) (any, error) {
		lv, err := l(qc, s, it)
		if err != nil {
			return nil, err
		}
		rv, err := r(qc, s, it)
		if err != nil {
			return nil, err
		}
		switch op {
		case querymodel.OpEQ, querymodel.OpNEQ:
			eq, err := equalValues(lv, rv)
			if err != nil {
				return nil, err
			}
			return eq == (op == querymodel.OpEQ), nil
		case querymodel.OpLT, querymodel.OpLTE, querymodel.OpGT, querymodel.OpGTE:
			if isNil(lv) || isNil(rv) {
				return false, nil
			}
			c, err := compareValues(lv, rv)
			if err != nil {
				return nil, err
			}
			switch op {
			case querymodel.OpLT:
				return c < 0, nil
			case querymodel.OpLTE:
				return c <= 0, nil
			case querymodel.OpGT:
				return c > 0, nil
			}
			return c >= 0, nil
		}
		return arithmetic(op, lv, rv)
	}
}
