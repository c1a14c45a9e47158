package query

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/internal/testmodel"
	"github.com/syssam/veloxrt/query/plan"
	"github.com/syssam/veloxrt/querymodel"
)

func TestVisitorStates(t *testing.T) {
	m := testmodel.Model()
	model := querymodel.From("b", "Blog").
		Where(querymodel.GT(querymodel.Prop(querymodel.Ref("b"), "ID"), querymodel.Const(1))).
		Model()

	v := newVisitor(m, true)
	assert.Equal(t, stateUncompiled, v.state)
	require.NoError(t, v.VisitMainFromClause(model.MainFrom, model))
	assert.Equal(t, stateHasBaseSequence, v.state)
	require.NoError(t, v.VisitWhereClause(model.Body[0].(*querymodel.WhereClause), model, 0))
	assert.Equal(t, stateHasBaseSequence, v.state)
	require.NoError(t, v.VisitSelectClause(model.Select, model))
	assert.Equal(t, stateProjected, v.state)
	assert.Equal(t, reflect.TypeFor[*testmodel.Blog](), v.itemType)

	node := v.node
	require.NoError(t, v.VisitSelectClause(model.Select, model), "select is visited once")
	assert.Same(t, node, v.node)

	root, err := v.close(model)
	require.NoError(t, err)
	assert.Equal(t, stateCompiled, v.state)
	assert.Equal(t, "Compiled", v.state.String())
	track, ok := root.(*plan.Track)
	require.True(t, ok, "tracking queries end in a Track node")
	_, ok = track.Input.(*plan.Project)
	assert.True(t, ok)

	assert.ErrorIs(t, v.VisitWhereClause(model.Body[0].(*querymodel.WhereClause), model, 0), veloxrt.ErrCompiled)
	assert.ErrorIs(t, v.VisitSelectClause(model.Select, model), veloxrt.ErrCompiled)
	assert.ErrorIs(t, v.VisitResultOperator(&querymodel.Count{}, model, 0), veloxrt.ErrCompiled)
	_, err = v.close(model)
	assert.ErrorIs(t, err, veloxrt.ErrCompiled)
}

func TestVisitorClauseOrder(t *testing.T) {
	m := testmodel.Model()
	model := querymodel.From("b", "Blog").Model()
	v := newVisitor(m, false)
	err := v.VisitJoinClause(&querymodel.JoinClause{Name: "p", Entity: "Post"}, model, 0)
	assert.Error(t, err, "joins need a base sequence")
	require.NoError(t, v.VisitMainFromClause(model.MainFrom, model))
	assert.Error(t, v.VisitMainFromClause(model.MainFrom, model))
}

func TestVisitResultOperator(t *testing.T) {
	m := testmodel.Model()
	model := querymodel.From("b", "Blog").Count()

	v := newVisitor(m, false)
	require.NoError(t, v.VisitMainFromClause(model.MainFrom, model))
	require.NoError(t, v.VisitResultOperator(model.ResultOperators[0], model, 0))
	assert.Equal(t, stateProjected, v.state, "the select clause is visited first")
	agg, ok := v.node.(*plan.Aggregate)
	require.True(t, ok)
	assert.Equal(t, querymodel.KindCount, agg.Op)
	assert.True(t, v.scalar)
	assert.Error(t, v.VisitResultOperator(&querymodel.Distinct{}, model, 1), "nothing follows a scalar result")

	first := querymodel.From("b", "Blog").First(true)
	v = newVisitor(m, false)
	require.NoError(t, v.VisitMainFromClause(first.MainFrom, first))
	require.NoError(t, v.VisitResultOperator(first.ResultOperators[0], first, 0))
	agg = v.node.(*plan.Aggregate)
	assert.Equal(t, querymodel.KindFirst, agg.Op)
	assert.True(t, agg.OrDefault)

	handle := resultOperatorHandlers[querymodel.KindSkip]
	_, err := handle(v, &querymodel.Take{Count: querymodel.Const(1)}, first)
	var uerr *veloxrt.UnsupportedOperatorError
	assert.ErrorAs(t, err, &uerr)
}

func TestBinderDepth(t *testing.T) {
	m := testmodel.Model()
	inner := querymodel.From("p", "Post").
		Where(querymodel.Eq(querymodel.Prop(querymodel.Ref("p"), "BlogID"), querymodel.Prop(querymodel.Ref("b"), "ID"))).
		Count()
	model := querymodel.From("b", "Blog").
		Select(querymodel.Query(inner)).
		Model()
	root, _, err := compilePlan(m, model, false, nil)
	require.NoError(t, err)

	project := root.(*plan.Project)
	sq := project.Selector.(*plan.SubQuery)
	assert.Equal(t, querymodel.ShapeScalar, sq.Shape.Shape)
	assert.False(t, sq.Inline)
	agg := sq.Plan.(*plan.Aggregate)
	filter := agg.Input.(*plan.Project).Input.(*plan.Filter)
	eq := filter.Predicate.(*plan.Binary)
	assert.Equal(t, plan.Slot{Name: "p", Depth: 0, Index: 0}, eq.Left.(*plan.Read).Slot)
	assert.Equal(t, plan.Slot{Name: "b", Depth: 1, Index: 0}, eq.Right.(*plan.Read).Slot)
}

func TestLookupAggregate(t *testing.T) {
	tests := []struct {
		op     querymodel.OperatorKind
		t      reflect.Type
		values []any
		impl   string
		want   any
		err    error
	}{
		{querymodel.KindSum, reflect.TypeFor[int](), []any{1, 2, 3}, "int", 6, nil},
		{querymodel.KindSum, reflect.TypeFor[*int](), []any{ptr(1), nil, ptr(2)}, "*int", 3, nil},
		{querymodel.KindMin, reflect.TypeFor[float64](), []any{2.5, 1.5}, "float64", 1.5, nil},
		{querymodel.KindMax, reflect.TypeFor[int64](), nil, "int64", nil, veloxrt.ErrEmptySequence},
		{querymodel.KindMax, reflect.TypeFor[*int64](), nil, "*int64", nil, nil},
		{querymodel.KindAverage, reflect.TypeFor[int32](), []any{int32(1), int32(2)}, "int32", 1.5, nil},
		{querymodel.KindSum, reflect.TypeFor[string](), []any{"a", "b"}, "any", "ab", nil},
		{querymodel.KindSum, nil, []any{1, 2.5}, "any", 3.5, nil},
		{querymodel.KindMin, nil, []any{"b", nil, "a"}, "any", "a", nil},
		{querymodel.KindAverage, nil, nil, "any", nil, veloxrt.ErrEmptySequence},
	}
	for _, tt := range tests {
		t.Run(tt.op.String()+"/"+tt.impl, func(t *testing.T) {
			reduce, impl := lookupAggregate(tt.op, tt.t)
			assert.Equal(t, tt.impl, impl)
			got, err := reduce(tt.values)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestScope(t *testing.T) {
	outer := (&scope{}).with(0, "b")
	s := (&scope{outer: outer}).with(1, "p")
	v, err := s.at(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "p", v)
	v, err = s.at(1, 0)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	_, err = s.at(2, 0)
	assert.Error(t, err)

	t2 := s.with(1, "q")
	v, _ = s.at(0, 1)
	assert.Equal(t, "p", v, "with copies the slots")
	v, _ = t2.at(0, 1)
	assert.Equal(t, "q", v)
}
