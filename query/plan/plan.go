// Package plan is the intermediate representation queries are compiled
// to: a tree of sequence operators whose expressions are bound to
// positional scope slots. Package query turns a plan into closures over
// synchronous or asynchronous sequences.
package plan

import (
	"reflect"

	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/querymodel"
)

// Node is a sequence operator. The set of nodes is closed.
type Node interface {
	// Inputs returns the child sequences.
	Inputs() []Node
	node()
}

type (
	// Scan reads the rows of an entity type into slot Slot of a new
	// scope.
	Scan struct {
		Source string
		Entity *metadata.EntityType
		Slot   int
	}

	// Values reads the elements of the sequence Expr evaluates to into
	// slot Slot. Element is the entity type of the elements when they are
	// entity rows.
	Values struct {
		Source  string
		Expr    Expr
		Element *metadata.EntityType
		Slot    int
	}

	// SelectMany combines every tuple of Input with every element of
	// Inner, evaluated per tuple, in slot Slot.
	SelectMany struct {
		Input  Node
		Inner  Node
		Source string
		Slot   int
	}

	// Join is an inner equi-join of Input with the rows of Inner.
	Join struct {
		Input    Node
		Inner    *Scan
		OuterKey Expr
		InnerKey Expr
		Slot     int
	}

	// GroupJoin binds slot Slot to the matching rows of Inner.
	GroupJoin struct {
		Input    Node
		Inner    *Scan
		Source   string
		OuterKey Expr
		InnerKey Expr
		Slot     int
	}

	// Filter keeps the tuples satisfying Predicate.
	Filter struct {
		Input     Node
		Predicate Expr
	}

	// OrderBy sorts stably by Keys.
	OrderBy struct {
		Input Node
		Keys  []SortKey
	}

	// Project evaluates Selector per tuple and materializes the entity
	// rows in the result.
	Project struct {
		Input    Node
		Selector Expr
		// Type is the static element type, nil when unknown.
		Type reflect.Type
	}

	// Include loads the navigation Path of every result entity of type
	// Entity.
	Include struct {
		Input  Node
		Entity *metadata.EntityType
		Path   []*metadata.Navigation
	}

	// Track attaches the result entities to the state manager.
	Track struct {
		Input Node
	}

	// Skip bypasses Count elements.
	Skip struct {
		Input Node
		Count Expr
	}

	// Take limits the sequence to Count elements.
	Take struct {
		Input Node
		Count Expr
	}

	// Distinct removes duplicate elements.
	Distinct struct {
		Input Node
	}

	// DefaultIfEmpty yields Default for an empty sequence.
	DefaultIfEmpty struct {
		Input   Node
		Default Expr
	}

	// Group groups elements by Key.
	Group struct {
		Input   Node
		Key     Expr
		Element Expr
	}

	// Aggregate collapses the sequence into one value.
	Aggregate struct {
		Input     Node
		Op        querymodel.OperatorKind
		OrDefault bool
		// Predicate is the argument of All.
		Predicate Expr
		// Reduce computes numeric aggregates over the collected elements.
		Reduce Reducer
		// Impl names the selected reducer.
		Impl string
	}

	// SortKey is one ordering.
	SortKey struct {
		Expr       Expr
		Descending bool
	}
)

// Reducer folds the elements of a sequence.
type Reducer func(values []any) (any, error)

func (n *Scan) Inputs() []Node           { return nil }
func (n *Values) Inputs() []Node         { return nil }
func (n *SelectMany) Inputs() []Node     { return []Node{n.Input, n.Inner} }
func (n *Join) Inputs() []Node           { return []Node{n.Input, n.Inner} }
func (n *GroupJoin) Inputs() []Node      { return []Node{n.Input, n.Inner} }
func (n *Filter) Inputs() []Node         { return []Node{n.Input} }
func (n *OrderBy) Inputs() []Node        { return []Node{n.Input} }
func (n *Project) Inputs() []Node        { return []Node{n.Input} }
func (n *Include) Inputs() []Node        { return []Node{n.Input} }
func (n *Track) Inputs() []Node          { return []Node{n.Input} }
func (n *Skip) Inputs() []Node           { return []Node{n.Input} }
func (n *Take) Inputs() []Node           { return []Node{n.Input} }
func (n *Distinct) Inputs() []Node       { return []Node{n.Input} }
func (n *DefaultIfEmpty) Inputs() []Node { return []Node{n.Input} }
func (n *Group) Inputs() []Node          { return []Node{n.Input} }
func (n *Aggregate) Inputs() []Node      { return []Node{n.Input} }

func (*Scan) node()           {}
func (*Values) node()         {}
func (*SelectMany) node()     {}
func (*Join) node()           {}
func (*GroupJoin) node()      {}
func (*Filter) node()         {}
func (*OrderBy) node()        {}
func (*Project) node()        {}
func (*Include) node()        {}
func (*Track) node()          {}
func (*Skip) node()           {}
func (*Take) node()           {}
func (*Distinct) node()       {}
func (*DefaultIfEmpty) node() {}
func (*Group) node()          {}
func (*Aggregate) node()      {}

// Expr is a bound expression. The set of expressions is closed.
type Expr interface {
	expr()
}

type (
	// Slot is the value of a range variable. Depth counts enclosing
	// queries, 0 being the current one.
	Slot struct {
		Name  string
		Depth int
		Index int
	}

	// Read reads a property of an entity row by ordinal, before the row
	// is materialized.
	Read struct {
		Slot     Slot
		Property *metadata.Property
	}

	// Current is the current element after the projection.
	Current struct{}

	// Field accesses a member of a materialized value.
	Field struct {
		Target Expr
		Name   string
	}

	// PropertyOf reads a mapped property of a materialized entity,
	// including shadow properties.
	PropertyOf struct {
		Target   Expr
		Property *metadata.Property
	}

	// Const is a literal.
	Const struct {
		Value any
	}

	// Param is an execution parameter.
	Param struct {
		Name string
	}

	// Binary is a binary operation.
	Binary struct {
		Op          querymodel.BinaryOp
		Left, Right Expr
	}

	// Not negates a boolean.
	Not struct {
		Operand Expr
	}

	// IsNull tests for nil.
	IsNull struct {
		Operand Expr
	}

	// Record builds a querymodel.Record.
	Record struct {
		Names  []string
		Values []Expr
	}

	// Call invokes a client function.
	Call struct {
		Name string
		Fn   func(args ...any) (any, error)
		Args []Expr
	}

	// SubQuery is a nested plan evaluated per tuple.
	SubQuery struct {
		Plan  Node
		Shape querymodel.OutputShape
		// Inline is set for sub-queries used as a query source; they are
		// spliced into the enclosing sequence instead of being wrapped.
		Inline bool
	}
)

func (*Slot) expr()       {}
func (*Read) expr()       {}
func (*Current) expr()    {}
func (*Field) expr()      {}
func (*PropertyOf) expr() {}
func (*Const) expr()      {}
func (*Param) expr()      {}
func (*Binary) expr()     {}
func (*Not) expr()        {}
func (*IsNull) expr()     {}
func (*Record) expr()     {}
func (*Call) expr()       {}
func (*SubQuery) expr()   {}
