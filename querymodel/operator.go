package querymodel

import (
	"fmt"
	"strings"
)

// OperatorKind identifies a result operator.
type OperatorKind uint8

// Result operator kinds.
const (
	KindAll OperatorKind = iota + 1
	KindAny
	KindAverage
	KindCount
	KindDefaultIfEmpty
	KindDistinct
	KindFirst
	KindGroup
	KindLast
	KindLongCount
	KindMin
	KindMax
	KindSingle
	KindSkip
	KindSum
	KindTake
)

var kindNames = map[OperatorKind]string{
	KindAll:            "All",
	KindAny:            "Any",
	KindAverage:        "Average",
	KindCount:          "Count",
	KindDefaultIfEmpty: "DefaultIfEmpty",
	KindDistinct:       "Distinct",
	KindFirst:          "First",
	KindGroup:          "Group",
	KindLast:           "Last",
	KindLongCount:      "LongCount",
	KindMin:            "Min",
	KindMax:            "Max",
	KindSingle:         "Single",
	KindSkip:           "Skip",
	KindSum:            "Sum",
	KindTake:           "Take",
}

// String returns the operator name.
func (k OperatorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("OperatorKind(%d)", k)
}

// ResultOperator is applied to the projected sequence and is used by
// pointer. The set of result operators is closed; arguments referring
// to the current element use Item.
type ResultOperator interface {
	Kind() OperatorKind
	resultOperator()
}

type (
	// All reports whether every element satisfies Predicate.
	All struct{ Predicate Expr }
	// Any reports whether the sequence has an element.
	Any struct{}
	// Average is the mean of numeric elements.
	Average struct{}
	// Count is the number of elements.
	Count struct{}
	// DefaultIfEmpty yields Default, or nil, for an empty sequence.
	DefaultIfEmpty struct{ Default Expr }
	// Distinct removes duplicate elements.
	Distinct struct{}
	// First is the first element.
	First struct{ OrDefault bool }
	// Group groups elements by Key. Element projects the grouped values
	// and defaults to the element itself.
	Group struct{ Key, Element Expr }
	// Last is the last element.
	Last struct{ OrDefault bool }
	// LongCount is the number of elements as int64.
	LongCount struct{}
	// Min is the smallest element.
	Min struct{}
	// Max is the largest element.
	Max struct{}
	// Single is the only element.
	Single struct{ OrDefault bool }
	// Skip bypasses Count elements.
	Skip struct{ Count Expr }
	// Sum is the sum of numeric elements.
	Sum struct{}
	// Take limits the sequence to Count elements.
	Take struct{ Count Expr }
)

func (All) Kind() OperatorKind            { return KindAll }
func (Any) Kind() OperatorKind            { return KindAny }
func (Average) Kind() OperatorKind        { return KindAverage }
func (Count) Kind() OperatorKind          { return KindCount }
func (DefaultIfEmpty) Kind() OperatorKind { return KindDefaultIfEmpty }
func (Distinct) Kind() OperatorKind       { return KindDistinct }
func (First) Kind() OperatorKind          { return KindFirst }
func (Group) Kind() OperatorKind          { return KindGroup }
func (Last) Kind() OperatorKind           { return KindLast }
func (LongCount) Kind() OperatorKind      { return KindLongCount }
func (Min) Kind() OperatorKind            { return KindMin }
func (Max) Kind() OperatorKind            { return KindMax }
func (Single) Kind() OperatorKind         { return KindSingle }
func (Skip) Kind() OperatorKind           { return KindSkip }
func (Sum) Kind() OperatorKind            { return KindSum }
func (Take) Kind() OperatorKind           { return KindTake }

func (All) resultOperator()            {}
func (Any) resultOperator()            {}
func (Average) resultOperator()        {}
func (Count) resultOperator()          {}
func (DefaultIfEmpty) resultOperator() {}
func (Distinct) resultOperator()       {}
func (First) resultOperator()          {}
func (Group) resultOperator()          {}
func (Last) resultOperator()           {}
func (LongCount) resultOperator()      {}
func (Min) resultOperator()            {}
func (Max) resultOperator()            {}
func (Single) resultOperator()         {}
func (Skip) resultOperator()           {}
func (Sum) resultOperator()            {}
func (Take) resultOperator()           {}

// shapeOf returns the output shape of a query ending with op.
func shapeOf(op ResultOperator) OutputShape {
	switch op := op.(type) {
	case *First:
		return OutputShape{Shape: ShapeSingle, DefaultWhenEmpty: op.OrDefault}
	case *Last:
		return OutputShape{Shape: ShapeSingle, DefaultWhenEmpty: op.OrDefault}
	case *Single:
		return OutputShape{Shape: ShapeSingle, DefaultWhenEmpty: op.OrDefault}
	}
	switch op.Kind() {
	case KindAll, KindAny, KindAverage, KindCount, KindLongCount, KindMin, KindMax, KindSum:
		return OutputShape{Shape: ShapeScalar}
	default:
		return OutputShape{Shape: ShapeSequence}
	}
}

// IsScalar reports whether op collapses the sequence into one value.
func IsScalar(op ResultOperator) bool {
	return shapeOf(op).Shape != ShapeSequence
}

func printOperator(b *strings.Builder, op ResultOperator) {
	b.WriteString(op.Kind().String())
	args := func(es ...Expr) {
		b.WriteByte('(')
		for i, e := range es {
			if i > 0 {
				b.WriteString(", ")
			}
			printExpr(b, e)
		}
		b.WriteByte(')')
	}
	switch op := op.(type) {
	case *All:
		args(op.Predicate)
	case *DefaultIfEmpty:
		if op.Default != nil {
			args(op.Default)
		}
	case *First:
		if op.OrDefault {
			b.WriteString("OrDefault")
		}
	case *Last:
		if op.OrDefault {
			b.WriteString("OrDefault")
		}
	case *Single:
		if op.OrDefault {
			b.WriteString("OrDefault")
		}
	case *Group:
		if op.Element != nil {
			args(op.Key, op.Element)
		} else {
			args(op.Key)
		}
	case *Skip:
		args(op.Count)
	case *Take:
		args(op.Count)
	}
}
