package query

import (
	"cmp"
	"fmt"
	"reflect"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/query/plan"
	"github.com/syssam/veloxrt/querymodel"
)

type number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

type aggregateKey struct {
	op querymodel.OperatorKind
	t  reflect.Type
}

// typedAggregates holds the reducers instantiated for the element types
// known at compile time. Other element types use genericAggregates.
var typedAggregates = make(map[aggregateKey]plan.Reducer)

var genericAggregates = map[querymodel.OperatorKind]plan.Reducer{
	querymodel.KindSum:     genericSum,
	querymodel.KindMin:     genericExtreme(-1),
	querymodel.KindMax:     genericExtreme(1),
	querymodel.KindAverage: genericAverage,
}

func init() {
	registerAggregates[int]()
	registerAggregates[int32]()
	registerAggregates[int64]()
	registerAggregates[uint]()
	registerAggregates[uint64]()
	registerAggregates[float32]()
	registerAggregates[float64]()
}

// registerAggregates instantiates the reducers of T and *T.
func registerAggregates[T number]() {
	t, pt := reflect.TypeFor[T](), reflect.TypeFor[*T]()
	typedAggregates[aggregateKey{querymodel.KindSum, t}] = sumOf[T]
	typedAggregates[aggregateKey{querymodel.KindMin, t}] = extremeOf[T](-1, false)
	typedAggregates[aggregateKey{querymodel.KindMax, t}] = extremeOf[T](1, false)
	typedAggregates[aggregateKey{querymodel.KindAverage, t}] = averageOf[T](false)
	typedAggregates[aggregateKey{querymodel.KindSum, pt}] = sumOf[T]
	typedAggregates[aggregateKey{querymodel.KindMin, pt}] = extremeOf[T](-1, true)
	typedAggregates[aggregateKey{querymodel.KindMax, pt}] = extremeOf[T](1, true)
	typedAggregates[aggregateKey{querymodel.KindAverage, pt}] = averageOf[T](true)
}

// lookupAggregate returns the reducer of op over elements of type t and
// the name of the selected implementation.
func lookupAggregate(op querymodel.OperatorKind, t reflect.Type) (plan.Reducer, string) {
	if t != nil {
		if r, ok := typedAggregates[aggregateKey{op, t}]; ok {
			return r, t.String()
		}
	}
	return genericAggregates[op], "any"
}

// numbers returns the non-nil elements as T. Pointers are dereferenced.
func numbers[T number](values []any) ([]T, error) {
	xs := make([]T, 0, len(values))
	for _, v := range values {
		switch v := v.(type) {
		case nil:
		case T:
			xs = append(xs, v)
		case *T:
			if v != nil {
				xs = append(xs, *v)
			}
		default:
			return nil, fmt.Errorf("query: aggregate over %s got %T", reflect.TypeFor[T](), v)
		}
	}
	return xs, nil
}

func sumOf[T number](values []any) (any, error) {
	xs, err := numbers[T](values)
	if err != nil {
		return nil, err
	}
	var s T
	for _, x := range xs {
		s += x
	}
	return s, nil
}

// extremeOf returns the Min (sign -1) or Max (sign 1) reducer. The
// nullable reducer returns nil for no elements.
func extremeOf[T number](sign int, nullable bool) plan.Reducer {
	return func(values []any) (any, error) {
		xs, err := numbers[T](values)
		if err != nil {
			return nil, err
		}
		if len(xs) == 0 {
			if nullable {
				return nil, nil
			}
			return nil, veloxrt.ErrEmptySequence
		}
		m := xs[0]
		for _, x := range xs[1:] {
			if sign*cmp.Compare(x, m) > 0 {
				m = x
			}
		}
		return m, nil
	}
}

func averageOf[T number](nullable bool) plan.Reducer {
	return func(values []any) (any, error) {
		xs, err := numbers[T](values)
		if err != nil {
			return nil, err
		}
		if len(xs) == 0 {
			if nullable {
				return nil, nil
			}
			return nil, veloxrt.ErrEmptySequence
		}
		var s float64
		for _, x := range xs {
			s += float64(x)
		}
		return s / float64(len(xs)), nil
	}
}

// genericSum adds the non-nil elements with the + of expressions, so
// strings concatenate. The sum of no elements is int64(0).
func genericSum(values []any) (any, error) {
	var s any
	for _, v := range values {
		var err error
		switch {
		case isNil(v):
		case s == nil:
			s, err = canonical(v)
		default:
			s, err = arithmetic(querymodel.OpAdd, s, v)
		}
		if err != nil {
			return nil, err
		}
	}
	if s == nil {
		return int64(0), nil
	}
	return s, nil
}

func genericExtreme(sign int) plan.Reducer {
	return func(values []any) (any, error) {
		var m any
		for _, v := range values {
			if isNil(v) {
				continue
			}
			if m == nil {
				m = v
				continue
			}
			c, err := compareValues(v, m)
			if err != nil {
				return nil, err
			}
			if sign*c > 0 {
				m = v
			}
		}
		if m == nil {
			return nil, veloxrt.ErrEmptySequence
		}
		return m, nil
	}
}

func genericAverage(values []any) (any, error) {
	var (
		s float64
		n int
	)
	for _, v := range values {
		if isNil(v) {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("query: cannot average %T", v)
		}
		s, n = s+f, n+1
	}
	if n == 0 {
		return nil, veloxrt.ErrEmptySequence
	}
	return s / float64(n), nil
}
