package query

import (
	"fmt"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/query/plan"
	"github.com/syssam/veloxrt/querymodel"
)

// resultOperatorHandler composes the plan of one result operator of qm.
type resultOperatorHandler func(v *visitor, op querymodel.ResultOperator, qm *querymodel.QueryModel) (plan.Node, error)

var resultOperatorHandlers = map[querymodel.OperatorKind]resultOperatorHandler{
	querymodel.KindAll:            handleAll,
	querymodel.KindAny:            handleAggregate,
	querymodel.KindCount:          handleAggregate,
	querymodel.KindLongCount:      handleAggregate,
	querymodel.KindFirst:          handleElement,
	querymodel.KindLast:           handleElement,
	querymodel.KindSingle:         handleElement,
	querymodel.KindSum:            handleNumeric,
	querymodel.KindMin:            handleNumeric,
	querymodel.KindMax:            handleNumeric,
	querymodel.KindAverage:        handleNumeric,
	querymodel.KindSkip:           handleSkip,
	querymodel.KindTake:           handleTake,
	querymodel.KindDistinct:       handleDistinct,
	querymodel.KindDefaultIfEmpty: handleDefaultIfEmpty,
	querymodel.KindGroup:          handleGroup,
}

// operand asserts the concrete operator type a kind is handled with.
func operand[T querymodel.ResultOperator](op querymodel.ResultOperator) (T, error) {
	t, ok := op.(T)
	if !ok {
		return t, &veloxrt.UnsupportedOperatorError{Operator: fmt.Sprintf("%s (%T)", op.Kind(), op)}
	}
	return t, nil
}

func (v *visitor) itemBinder() *binder {
	return &binder{v: v, item: true}
}

func handleAll(v *visitor, op querymodel.ResultOperator, _ *querymodel.QueryModel) (plan.Node, error) {
	all, err := operand[*querymodel.All](op)
	if err != nil {
		return nil, err
	}
	if all.Predicate == nil {
		return nil, fmt.Errorf("query: All requires a predicate")
	}
	pred, err := v.itemBinder().bind(all.Predicate)
	if err != nil {
		return nil, err
	}
	return &plan.Aggregate{Input: v.node, Op: querymodel.KindAll, Predicate: pred}, nil
}

func handleAggregate(v *visitor, op querymodel.ResultOperator, _ *querymodel.QueryModel) (plan.Node, error) {
	switch op.(type) {
	case *querymodel.Any, *querymodel.Count, *querymodel.LongCount:
	default:
		return nil, &veloxrt.UnsupportedOperatorError{Operator: fmt.Sprintf("%s (%T)", op.Kind(), op)}
	}
	return &plan.Aggregate{Input: v.node, Op: op.Kind()}, nil
}

func handleElement(v *visitor, op querymodel.ResultOperator, _ *querymodel.QueryModel) (plan.Node, error) {
	var orDefault bool
	switch op := op.(type) {
	case *querymodel.First:
		orDefault = op.OrDefault
	case *querymodel.Last:
		orDefault = op.OrDefault
	case *querymodel.Single:
		orDefault = op.OrDefault
	default:
		return nil, &veloxrt.UnsupportedOperatorError{Operator: fmt.Sprintf("%s (%T)", op.Kind(), op)}
	}
	return &plan.Aggregate{Input: v.node, Op: op.Kind(), OrDefault: orDefault}, nil
}

func handleNumeric(v *visitor, op querymodel.ResultOperator, _ *querymodel.QueryModel) (plan.Node, error) {
	switch op.(type) {
	case *querymodel.Sum, *querymodel.Min, *querymodel.Max, *querymodel.Average:
	default:
		return nil, &veloxrt.UnsupportedOperatorError{Operator: fmt.Sprintf("%s (%T)", op.Kind(), op)}
	}
	reduce, impl := lookupAggregate(op.Kind(), v.itemType)
	return &plan.Aggregate{Input: v.node, Op: op.Kind(), Reduce: reduce, Impl: impl}, nil
}

func handleSkip(v *visitor, op querymodel.ResultOperator, _ *querymodel.QueryModel) (plan.Node, error) {
	skip, err := operand[*querymodel.Skip](op)
	if err != nil {
		return nil, err
	}
	n, err := v.count("Skip", skip.Count)
	if err != nil {
		return nil, err
	}
	return &plan.Skip{Input: v.node, Count: n}, nil
}

func handleTake(v *visitor, op querymodel.ResultOperator, _ *querymodel.QueryModel) (plan.Node, error) {
	take, err := operand[*querymodel.Take](op)
	if err != nil {
		return nil, err
	}
	n, err := v.count("Take", take.Count)
	if err != nil {
		return nil, err
	}
	return &plan.Take{Input: v.node, Count: n}, nil
}

// count binds the argument of Skip and Take. It is evaluated once per
// execution, so it cannot refer to the current element.
func (v *visitor) count(name string, e querymodel.Expr) (plan.Expr, error) {
	if e == nil {
		return nil, fmt.Errorf("query: %s requires a count", name)
	}
	var item bool
	querymodel.Inspect(e, func(x querymodel.Expr) bool {
		if _, ok := x.(*querymodel.Item); ok {
			item = true
		}
		return !item
	})
	if item {
		return nil, veloxrt.NewBindingError("$it", "", name+" count cannot depend on the current element")
	}
	return v.itemBinder().bind(e)
}

func handleDistinct(v *visitor, op querymodel.ResultOperator, _ *querymodel.QueryModel) (plan.Node, error) {
	if _, err := operand[*querymodel.Distinct](op); err != nil {
		return nil, err
	}
	return &plan.Distinct{Input: v.node}, nil
}

func handleDefaultIfEmpty(v *visitor, op querymodel.ResultOperator, _ *querymodel.QueryModel) (plan.Node, error) {
	d, err := operand[*querymodel.DefaultIfEmpty](op)
	if err != nil {
		return nil, err
	}
	def, err := v.itemBinder().bind(d.Default)
	if err != nil {
		return nil, err
	}
	return &plan.DefaultIfEmpty{Input: v.node, Default: def}, nil
}

func handleGroup(v *visitor, op querymodel.ResultOperator, _ *querymodel.QueryModel) (plan.Node, error) {
	g, err := operand[*querymodel.Group](op)
	if err != nil {
		return nil, err
	}
	if g.Key == nil {
		return nil, fmt.Errorf("query: GroupBy requires a key")
	}
	b := v.itemBinder()
	key, err := b.bind(g.Key)
	if err != nil {
		return nil, err
	}
	elem, err := b.bind(g.Element)
	if err != nil {
		return nil, err
	}
	return &plan.Group{Input: v.node, Key: key, Element: elem}, nil
}
