package query

import (
	"fmt"
	"reflect"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/query/plan"
	"github.com/syssam/veloxrt/querymodel"
)

// visitState is the compilation state of a visitor.
type visitState uint8

const (
	stateUncompiled visitState = iota
	stateHasBaseSequence
	stateProjected
	stateCompiled
)

func (s visitState) String() string {
	switch s {
	case stateHasBaseSequence:
		return "HasBaseSequence"
	case stateProjected:
		return "Projected"
	case stateCompiled:
		return "Compiled"
	default:
		return "Uncompiled"
	}
}

// source is a registered query source and the slot holding its value.
type source struct {
	name string
	slot int
	// entity is set when the slot holds rows of the entity type, or a
	// group of them.
	entity *metadata.EntityType
	group  bool
	// clr is set when the slot holds materialized entities.
	clr *metadata.EntityType
}

// visitor compiles one query model level into a plan. Sub-queries are
// compiled by child visitors resolving names through outer.
type visitor struct {
	model    *metadata.Model
	tracking bool
	outer    *binder

	state   visitState
	node    plan.Node
	sources []source
	main    string
	// projected is the source the projection selected as a whole.
	projected  string
	itemEntity *metadata.EntityType
	itemType   reflect.Type
	scalar     bool
}

func newVisitor(model *metadata.Model, tracking bool) *visitor {
	return &visitor{model: model, tracking: tracking}
}

var _ querymodel.ClauseVisitor = (*visitor)(nil)

func (v *visitor) check(clause string, states ...visitState) error {
	if v.state == stateCompiled {
		return veloxrt.ErrCompiled
	}
	for _, s := range states {
		if v.state == s {
			return nil
		}
	}
	return fmt.Errorf("query: unexpected %s clause in state %s", clause, v.state)
}

// binder returns the binder of the current state: before the
// projection expressions see the range variables, after it the current
// element.
func (v *visitor) binder() *binder {
	return &binder{v: v, item: v.state == stateProjected}
}

func (v *visitor) entityType(name string) (*metadata.EntityType, error) {
	et := v.model.FindEntityType(name)
	if et == nil {
		return nil, veloxrt.NewBindingError(name, "", "unknown entity type")
	}
	return et, nil
}

// VisitMainFromClause establishes the base sequence.
func (v *visitor) VisitMainFromClause(c *querymodel.MainFromClause, _ *querymodel.QueryModel) error {
	if err := v.check("main from", stateUncompiled); err != nil {
		return err
	}
	node, src, err := v.source(&binder{v: v}, c.Name, c.Entity, c.Source, 0)
	if err != nil {
		return err
	}
	v.main = c.Name
	v.sources = append(v.sources, src)
	v.node, v.state = node, stateHasBaseSequence
	return nil
}

func (v *visitor) source(b *binder, name, entity string, expr querymodel.Expr, slot int) (plan.Node, source, error) {
	src := source{name: name, slot: slot}
	if entity != "" {
		et, err := v.entityType(entity)
		if err != nil {
			return nil, src, err
		}
		src.entity = et
		return &plan.Scan{Source: name, Entity: et, Slot: slot}, src, nil
	}
	var bound plan.Expr
	switch e := expr.(type) {
	case nil:
		return nil, src, veloxrt.NewBindingError(name, "", "query source has no entity type or expression")
	case *querymodel.SubQuery:
		sq, child, err := b.subquery(e.Model, true)
		if err != nil {
			return nil, src, err
		}
		if sq.Shape.Shape != querymodel.ShapeSequence {
			return nil, src, veloxrt.NewBindingError(name, "", "a scalar sub-query cannot be a query source")
		}
		src.clr, bound = child.itemEntity, sq
	default:
		var err error
		if bound, err = b.bind(expr); err != nil {
			return nil, src, err
		}
		if ref, ok := expr.(*querymodel.SourceRef); ok {
			if _, g, err := b.resolve(ref.Name); err == nil && g.group {
				src.entity = g.entity
			}
		}
	}
	return &plan.Values{Source: name, Expr: bound, Element: src.entity, Slot: slot}, src, nil
}

// VisitAdditionalFromClause composes a SelectMany over the new source.
func (v *visitor) VisitAdditionalFromClause(c *querymodel.AdditionalFromClause, _ *querymodel.QueryModel, _ int) error {
	if err := v.check("from", stateHasBaseSequence); err != nil {
		return err
	}
	slot := len(v.sources)
	inner, src, err := v.source(&binder{v: v}, c.Name, c.Entity, c.Source, slot)
	if err != nil {
		return err
	}
	v.sources = append(v.sources, src)
	v.node = &plan.SelectMany{Input: v.node, Inner: inner, Source: c.Name, Slot: slot}
	return nil
}

// VisitJoinClause composes an inner join.
func (v *visitor) VisitJoinClause(c *querymodel.JoinClause, _ *querymodel.QueryModel, _ int) error {
	if err := v.check("join", stateHasBaseSequence); err != nil {
		return err
	}
	et, err := v.entityType(c.Entity)
	if err != nil {
		return err
	}
	slot := len(v.sources)
	outer, err := (&binder{v: v}).bind(c.OuterKey)
	if err != nil {
		return err
	}
	v.sources = append(v.sources, source{name: c.Name, slot: slot, entity: et})
	inner, err := (&binder{v: v, only: c.Name}).bind(c.InnerKey)
	if err != nil {
		return err
	}
	v.node = &plan.Join{
		Input:    v.node,
		Inner:    &plan.Scan{Source: c.Name, Entity: et, Slot: slot},
		OuterKey: outer,
		InnerKey: inner,
		Slot:     slot,
	}
	return nil
}

// VisitGroupJoinClause composes a group join. The joined item is only
// visible to the inner key; the group name is registered in its slot.
func (v *visitor) VisitGroupJoinClause(c *querymodel.GroupJoinClause, _ *querymodel.QueryModel, _ int) error {
	if err := v.check("group join", stateHasBaseSequence); err != nil {
		return err
	}
	j := c.Join
	et, err := v.entityType(j.Entity)
	if err != nil {
		return err
	}
	slot := len(v.sources)
	outer, err := (&binder{v: v}).bind(j.OuterKey)
	if err != nil {
		return err
	}
	v.sources = append(v.sources, source{name: j.Name, slot: slot, entity: et})
	inner, err := (&binder{v: v, only: j.Name}).bind(j.InnerKey)
	if err != nil {
		return err
	}
	v.sources[slot] = source{name: c.Name, slot: slot, entity: et, group: true}
	v.node = &plan.GroupJoin{
		Input:    v.node,
		Inner:    &plan.Scan{Source: j.Name, Entity: et, Slot: slot},
		Source:   c.Name,
		OuterKey: outer,
		InnerKey: inner,
		Slot:     slot,
	}
	return nil
}

// VisitWhereClause composes a filter.
func (v *visitor) VisitWhereClause(c *querymodel.WhereClause, _ *querymodel.QueryModel, _ int) error {
	if err := v.check("where", stateHasBaseSequence, stateProjected); err != nil {
		return err
	}
	pred, err := v.binder().bind(c.Predicate)
	if err != nil {
		return err
	}
	v.node = &plan.Filter{Input: v.node, Predicate: pred}
	return nil
}

// VisitOrderByClause composes a stable sort. Ordered queries are
// projected first and sort the projected elements.
func (v *visitor) VisitOrderByClause(c *querymodel.OrderByClause, qm *querymodel.QueryModel, _ int) error {
	if v.state == stateCompiled {
		return veloxrt.ErrCompiled
	}
	if qm.Ordered && v.state == stateHasBaseSequence {
		if err := v.VisitSelectClause(v.selectClause(qm), qm); err != nil {
			return err
		}
	}
	if err := v.check("orderby", stateHasBaseSequence, stateProjected); err != nil {
		return err
	}
	b := v.binder()
	keys := make([]plan.SortKey, len(c.Orderings))
	for i, o := range c.Orderings {
		e, err := b.bind(o.Expr)
		if err != nil {
			return err
		}
		keys[i] = plan.SortKey{Expr: e, Descending: o.Descending}
	}
	v.node = &plan.OrderBy{Input: v.node, Keys: keys}
	return nil
}

func (v *visitor) selectClause(qm *querymodel.QueryModel) *querymodel.SelectClause {
	if qm.Select != nil {
		return qm.Select
	}
	return &querymodel.SelectClause{Selector: querymodel.Ref(v.main)}
}

// VisitSelectClause composes the projection. It is a no-op once the
// visitor is projected.
func (v *visitor) VisitSelectClause(c *querymodel.SelectClause, qm *querymodel.QueryModel) error {
	switch v.state {
	case stateCompiled:
		return veloxrt.ErrCompiled
	case stateProjected:
		return nil
	}
	if err := v.check("select", stateHasBaseSequence); err != nil {
		return err
	}
	b := &binder{v: v}
	sel, err := b.bind(c.Selector)
	if err != nil {
		return err
	}
	v.describeItem(b, c.Selector, sel)
	v.node = &plan.Project{Input: v.node, Selector: sel, Type: v.itemType}
	v.state = stateProjected
	if len(qm.Includes) > 0 {
		if v.itemEntity == nil {
			return veloxrt.NewBindingError(querymodel.ExprString(c.Selector), "", "Include requires entity results")
		}
		for _, inc := range qm.Includes {
			path, err := navigationPath(v.itemEntity, inc.Path)
			if err != nil {
				return err
			}
			v.node = &plan.Include{Input: v.node, Entity: v.itemEntity, Path: path}
		}
	}
	if v.tracking && !qm.NoTracking {
		v.node = &plan.Track{Input: v.node}
	}
	return nil
}

// describeItem records what the projected elements are.
func (v *visitor) describeItem(b *binder, sel querymodel.Expr, bound plan.Expr) {
	switch e := bound.(type) {
	case *plan.Slot:
		ref := sel.(*querymodel.SourceRef)
		_, src, _ := b.resolve(ref.Name)
		if e.Depth == 0 {
			v.projected = ref.Name
		}
		switch {
		case src.entity != nil && !src.group:
			v.itemEntity = src.entity
		case src.clr != nil:
			v.itemEntity = src.clr
		}
		if v.itemEntity != nil {
			v.itemType = reflect.PointerTo(v.itemEntity.Type)
		}
	case *plan.Read:
		v.itemType = e.Property.Type
	case *plan.PropertyOf:
		v.itemType = e.Property.Type
	case *plan.Const:
		v.itemType = reflect.TypeOf(e.Value)
	}
}

func navigationPath(et *metadata.EntityType, names []string) ([]*metadata.Navigation, error) {
	if len(names) == 0 {
		return nil, veloxrt.NewBindingError(et.Name, "", "empty Include path")
	}
	path := make([]*metadata.Navigation, len(names))
	for i, name := range names {
		nav := et.FindNavigation(name)
		if nav == nil {
			return nil, veloxrt.NewBindingError(et.Name, name, "unknown navigation")
		}
		path[i], et = nav, nav.Target
	}
	return path, nil
}

// VisitResultOperator delegates to the handler of the operator kind.
func (v *visitor) VisitResultOperator(op querymodel.ResultOperator, qm *querymodel.QueryModel, _ int) error {
	if v.state == stateCompiled {
		return veloxrt.ErrCompiled
	}
	if v.state == stateHasBaseSequence {
		if err := v.VisitSelectClause(v.selectClause(qm), qm); err != nil {
			return err
		}
	}
	if err := v.check("result operator", stateProjected); err != nil {
		return err
	}
	if v.scalar {
		return fmt.Errorf("query: result operator %s follows a scalar result", op.Kind())
	}
	handle, ok := resultOperatorHandlers[op.Kind()]
	if !ok {
		return &veloxrt.UnsupportedOperatorError{Operator: op.Kind().String()}
	}
	node, err := handle(v, op, qm)
	if err != nil {
		return err
	}
	if node != v.node {
		v.node = node
		switch {
		case querymodel.IsScalar(op):
			v.scalar = true
		case op.Kind() == querymodel.KindGroup:
			v.projected, v.itemEntity, v.itemType = "", nil, reflect.TypeFor[*Grouping]()
		}
	}
	return nil
}

// close finishes the plan and freezes the visitor. A query without a
// select clause projects its main source.
func (v *visitor) close(qm *querymodel.QueryModel) (plan.Node, error) {
	switch v.state {
	case stateCompiled:
		return nil, veloxrt.ErrCompiled
	case stateUncompiled:
		return nil, fmt.Errorf("query: missing main from clause")
	case stateHasBaseSequence:
		if err := v.VisitSelectClause(v.selectClause(qm), qm); err != nil {
			return nil, err
		}
	}
	v.state = stateCompiled
	return v.node, nil
}

// compilePlan walks a query model with a fresh visitor.
func compilePlan(model *metadata.Model, qm *querymodel.QueryModel, tracking bool, outer *binder) (plan.Node, *visitor, error) {
	v := newVisitor(model, tracking)
	v.outer = outer
	if err := querymodel.Walk(qm, v); err != nil {
		return nil, nil, err
	}
	node, err := v.close(qm)
	if err != nil {
		return nil, nil, err
	}
	return node, v, nil
}
