package query

import (
	"fmt"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/query/plan"
	"github.com/syssam/veloxrt/querymodel"
)

// binder resolves query model expressions against the sources of a
// visitor and its enclosing queries.
type binder struct {
	v *visitor
	// item binds against the projected element instead of the range
	// variables.
	item bool
	// only restricts the sources of this level to the named one.
	only string
}

// resolve returns the slot of a range variable. Each enclosing query
// adds one to the depth.
func (b *binder) resolve(name string) (plan.Slot, source, error) {
	depth := 0
	for cur := b; cur != nil; cur = cur.v.outer {
		if !cur.item {
			for i := len(cur.v.sources) - 1; i >= 0; i-- {
				s := cur.v.sources[i]
				if s.name == name && (cur.only == "" || cur.only == name) {
					return plan.Slot{Name: name, Depth: depth, Index: s.slot}, s, nil
				}
			}
		}
		depth++
	}
	return plan.Slot{}, source{}, veloxrt.NewBindingError(name, "", "query source is not in scope")
}

func (b *binder) projected(e querymodel.Expr) bool {
	switch e := e.(type) {
	case *querymodel.Item:
		return b.item
	case *querymodel.SourceRef:
		return b.item && b.v.projected != "" && e.Name == b.v.projected
	}
	return false
}

func (b *binder) bind(e querymodel.Expr) (plan.Expr, error) {
	if b.projected(e) {
		return &plan.Current{}, nil
	}
	switch e := e.(type) {
	case nil:
		return nil, nil
	case *querymodel.SourceRef:
		slot, _, err := b.resolve(e.Name)
		if err != nil {
			return nil, err
		}
		return &slot, nil
	case *querymodel.Item:
		return nil, veloxrt.NewBindingError("$it", "", "the current element is only bound after the projection")
	case *querymodel.Member:
		return b.member(e.Target, e.Name, false)
	case *querymodel.PropertyCall:
		return b.member(e.Target, e.Name, true)
	case *querymodel.Constant:
		return &plan.Const{Value: e.Value}, nil
	case *querymodel.Parameter:
		return &plan.Param{Name: e.Name}, nil
	case *querymodel.Binary:
		l, err := b.bind(e.Left)
		if err != nil {
			return nil, err
		}
		r, err := b.bind(e.Right)
		if err != nil {
			return nil, err
		}
		return &plan.Binary{Op: e.Op, Left: l, Right: r}, nil
	case *querymodel.Not:
		x, err := b.bind(e.Operand)
		if err != nil {
			return nil, err
		}
		return &plan.Not{Operand: x}, nil
	case *querymodel.IsNull:
		x, err := b.bind(e.Operand)
		if err != nil {
			return nil, err
		}
		return &plan.IsNull{Operand: x}, nil
	case *querymodel.New:
		rec := &plan.Record{Names: make([]string, len(e.Fields)), Values: make([]plan.Expr, len(e.Fields))}
		for i, f := range e.Fields {
			x, err := b.bind(f.Value)
			if err != nil {
				return nil, err
			}
			rec.Names[i], rec.Values[i] = f.Name, x
		}
		return rec, nil
	case *querymodel.Call:
		if e.Fn == nil {
			return nil, veloxrt.NewBindingError(e.Name, "", "function is nil")
		}
		call := &plan.Call{Name: e.Name, Fn: e.Fn, Args: make([]plan.Expr, len(e.Args))}
		for i, a := range e.Args {
			x, err := b.bind(a)
			if err != nil {
				return nil, err
			}
			call.Args[i] = x
		}
		return call, nil
	case *querymodel.SubQuery:
		sq, _, err := b.subquery(e.Model, false)
		if err != nil {
			return nil, err
		}
		return sq, nil
	}
	return nil, fmt.Errorf("query: unsupported expression %T", e)
}

// member binds a member access. Members of entity rows are bound to
// their property by metadata; anything else is read by name.
func (b *binder) member(target querymodel.Expr, name string, call bool) (plan.Expr, error) {
	if ref, ok := target.(*querymodel.SourceRef); ok && !b.projected(target) {
		slot, src, err := b.resolve(ref.Name)
		if err != nil {
			return nil, err
		}
		switch {
		case src.entity != nil && !src.group:
			et := src.entity
			p := et.FindProperty(name)
			switch {
			case p != nil && (call || !p.Shadow):
				return &plan.Read{Slot: slot, Property: p}, nil
			case p != nil:
				return nil, veloxrt.NewBindingError(ref.Name, name, "shadow properties are read with Property")
			case et.FindNavigation(name) != nil:
				return nil, veloxrt.NewBindingError(ref.Name, name, "navigations are loaded with Include or a join")
			}
			return nil, veloxrt.NewBindingError(ref.Name, name, fmt.Sprintf("%s has no property %s", et.Name, name))
		case call && src.clr != nil:
			return propertyOf(&slot, src.clr, ref.Name, name)
		case call:
			return nil, veloxrt.NewBindingError(ref.Name, name, "Property requires an entity")
		}
		return &plan.Field{Target: &slot, Name: name}, nil
	}
	t, err := b.bind(target)
	if err != nil {
		return nil, err
	}
	if !call {
		return &plan.Field{Target: t, Name: name}, nil
	}
	if b.projected(target) && b.v.itemEntity != nil {
		return propertyOf(t, b.v.itemEntity, querymodel.ExprString(target), name)
	}
	return nil, veloxrt.NewBindingError(querymodel.ExprString(target), name, "Property requires an entity")
}

func propertyOf(target plan.Expr, et *metadata.EntityType, source, name string) (plan.Expr, error) {
	p := et.FindProperty(name)
	if p == nil {
		return nil, veloxrt.NewBindingError(source, name, fmt.Sprintf("%s has no property %s", et.Name, name))
	}
	return &plan.PropertyOf{Target: target, Property: p}, nil
}

// subquery compiles a nested query model. Its names resolve through b.
func (b *binder) subquery(qm *querymodel.QueryModel, inline bool) (*plan.SubQuery, *visitor, error) {
	if qm == nil {
		return nil, nil, fmt.Errorf("query: nil sub-query")
	}
	outer := *b
	node, child, err := compilePlan(b.v.model, qm, b.v.tracking, &outer)
	if err != nil {
		return nil, nil, err
	}
	return &plan.SubQuery{Plan: node, Shape: qm.OutputShape(), Inline: inline}, child, nil
}
