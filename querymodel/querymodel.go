// Package querymodel is the declarative representation of a query: a main
// from-clause, body clauses, a select clause and result operators. Query
// models are compiled into executable plans by package query.
package querymodel

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// QueryModel is one query. Every query source (main from, additional
	// from, join and group join) introduces a name expressions refer to.
	QueryModel struct {
		MainFrom        *MainFromClause
		Body            []BodyClause
		Select          *SelectClause
		ResultOperators []ResultOperator
		// Includes eager-load navigations of the result entities.
		Includes []Include
		// NoTracking materializes entities without attaching them to the
		// state manager.
		NoTracking bool
		// Ordered declares an ordered result. Orderings are then applied
		// after the projection.
		Ordered bool
	}

	// QuerySource is a clause introducing a range variable.
	QuerySource interface {
		SourceName() string
	}

	// BodyClause is a clause between the main from-clause and the select.
	BodyClause interface {
		accept(ClauseVisitor, *QueryModel, int) error
	}

	// MainFromClause is the first query source. It reads the rows of an
	// entity type, or the elements of Source when it is set.
	MainFromClause struct {
		Name   string
		Entity string
		Source Expr
	}

	// AdditionalFromClause introduces a cross product with the rows of an
	// entity type, or with the sequence Source evaluates to per outer
	// tuple.
	AdditionalFromClause struct {
		Name   string
		Entity string
		Source Expr
	}

	// JoinClause is an inner equi-join. InnerKey is bound against the
	// joined source only.
	JoinClause struct {
		Name     string
		Entity   string
		OuterKey Expr
		InnerKey Expr
	}

	// GroupJoinClause binds Name to the possibly empty group of join
	// matches of every outer tuple.
	GroupJoinClause struct {
		Name string
		Join *JoinClause
	}

	// WhereClause filters tuples.
	WhereClause struct {
		Predicate Expr
	}

	// OrderByClause sorts tuples. The first ordering is the primary key.
	OrderByClause struct {
		Orderings []Ordering
	}

	// Ordering is one sort key.
	Ordering struct {
		Expr       Expr
		Descending bool
	}

	// SelectClause projects every tuple.
	SelectClause struct {
		Selector Expr
	}

	// Include is an eager-loaded navigation path, starting at the
	// navigation of the result entity type.
	Include struct {
		Path []string
	}
)

// SourceName implements QuerySource.
func (c *MainFromClause) SourceName() string { return c.Name }

// SourceName implements QuerySource.
func (c *AdditionalFromClause) SourceName() string { return c.Name }

// SourceName implements QuerySource.
func (c *JoinClause) SourceName() string { return c.Name }

// SourceName implements QuerySource.
func (c *GroupJoinClause) SourceName() string { return c.Name }

func (c *AdditionalFromClause) accept(v ClauseVisitor, qm *QueryModel, i int) error {
	return v.VisitAdditionalFromClause(c, qm, i)
}

func (c *JoinClause) accept(v ClauseVisitor, qm *QueryModel, i int) error {
	return v.VisitJoinClause(c, qm, i)
}

func (c *GroupJoinClause) accept(v ClauseVisitor, qm *QueryModel, i int) error {
	return v.VisitGroupJoinClause(c, qm, i)
}

func (c *WhereClause) accept(v ClauseVisitor, qm *QueryModel, i int) error {
	return v.VisitWhereClause(c, qm, i)
}

func (c *OrderByClause) accept(v ClauseVisitor, qm *QueryModel, i int) error {
	return v.VisitOrderByClause(c, qm, i)
}

// ClauseVisitor receives the clauses of a query model in walk order.
type ClauseVisitor interface {
	VisitMainFromClause(*MainFromClause, *QueryModel) error
	VisitAdditionalFromClause(*AdditionalFromClause, *QueryModel, int) error
	VisitJoinClause(*JoinClause, *QueryModel, int) error
	VisitGroupJoinClause(*GroupJoinClause, *QueryModel, int) error
	VisitWhereClause(*WhereClause, *QueryModel, int) error
	VisitOrderByClause(*OrderByClause, *QueryModel, int) error
	VisitSelectClause(*SelectClause, *QueryModel) error
	VisitResultOperator(ResultOperator, *QueryModel, int) error
}

// Walk visits the main from-clause, the body clauses in order, the
// select clause and the result operators in order. It stops at the
// first error.
func Walk(qm *QueryModel, v ClauseVisitor) error {
	if qm.MainFrom == nil {
		return fmt.Errorf("querymodel: missing main from clause")
	}
	if err := v.VisitMainFromClause(qm.MainFrom, qm); err != nil {
		return err
	}
	for i, c := range qm.Body {
		if err := c.accept(v, qm, i); err != nil {
			return err
		}
	}
	if qm.Select != nil {
		if err := v.VisitSelectClause(qm.Select, qm); err != nil {
			return err
		}
	}
	for i, op := range qm.ResultOperators {
		if err := v.VisitResultOperator(op, qm, i); err != nil {
			return err
		}
	}
	return nil
}

// Shape is the kind of value a query produces.
type Shape uint8

// Output shapes.
const (
	// ShapeSequence is a sequence of elements.
	ShapeSequence Shape = iota
	// ShapeScalar is a single computed value such as a count.
	ShapeScalar
	// ShapeSingle is one element of the sequence.
	ShapeSingle
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapeSingle:
		return "single"
	default:
		return "sequence"
	}
}

// OutputShape describes what executing a query model returns.
type OutputShape struct {
	Shape Shape
	// DefaultWhenEmpty reports whether a ShapeSingle shape returns the zero
	// value instead of failing on an empty sequence.
	DefaultWhenEmpty bool
}

// OutputShape returns the shape of the last result operator, or
// ShapeSequence when there is none.
func (qm *QueryModel) OutputShape() OutputShape {
	if len(qm.ResultOperators) == 0 {
		return OutputShape{Shape: ShapeSequence}
	}
	return shapeOf(qm.ResultOperators[len(qm.ResultOperators)-1])
}

// EntityTypes returns the entity types read by the query and its
// sub-queries, sorted and deduplicated.
func (qm *QueryModel) EntityTypes() []string {
	var names []string
	qm.sources(func(entity string) { names = append(names, entity) })
	slices.Sort(names)
	return slices.Compact(names)
}

func (qm *QueryModel) sources(f func(string)) {
	visit := func(e Expr) {
		Inspect(e, func(e Expr) bool {
			if sq, ok := e.(*SubQuery); ok {
				sq.Model.sources(f)
				return false
			}
			return true
		})
	}
	if qm.MainFrom != nil {
		if qm.MainFrom.Entity != "" {
			f(qm.MainFrom.Entity)
		}
		visit(qm.MainFrom.Source)
	}
	for _, c := range qm.Body {
		switch c := c.(type) {
		case *AdditionalFromClause:
			if c.Entity != "" {
				f(c.Entity)
			}
			visit(c.Source)
		case *JoinClause:
			f(c.Entity)
			visit(c.OuterKey)
		case *GroupJoinClause:
			f(c.Join.Entity)
			visit(c.Join.OuterKey)
		case *WhereClause:
			visit(c.Predicate)
		case *OrderByClause:
			for _, o := range c.Orderings {
				visit(o.Expr)
			}
		}
	}
	if qm.Select != nil {
		visit(qm.Select.Selector)
	}
}

// String returns the canonical text of the query model. Parameter
// values are not part of it, so models differing only in parameter
// values print the same.
func (qm *QueryModel) String() string {
	var b strings.Builder
	qm.print(&b)
	return b.String()
}

func (qm *QueryModel) print(b *strings.Builder) {
	from := func(kw, name, entity string, src Expr) {
		fmt.Fprintf(b, "%s %s in ", kw, name)
		if src != nil {
			printExpr(b, src)
		} else {
			b.WriteString(entity)
		}
	}
	if qm.MainFrom != nil {
		from("from", qm.MainFrom.Name, qm.MainFrom.Entity, qm.MainFrom.Source)
	}
	for _, c := range qm.Body {
		b.WriteByte(' ')
		switch c := c.(type) {
		case *AdditionalFromClause:
			from("from", c.Name, c.Entity, c.Source)
		case *JoinClause:
			printJoin(b, c)
		case *GroupJoinClause:
			printJoin(b, c.Join)
			fmt.Fprintf(b, " into %s", c.Name)
		case *WhereClause:
			b.WriteString("where ")
			printExpr(b, c.Predicate)
		case *OrderByClause:
			b.WriteString("orderby ")
			for i, o := range c.Orderings {
				if i > 0 {
					b.WriteString(", ")
				}
				printExpr(b, o.Expr)
				if o.Descending {
					b.WriteString(" desc")
				}
			}
		}
	}
	if qm.Select != nil {
		b.WriteString(" select ")
		printExpr(b, qm.Select.Selector)
	}
	for _, op := range qm.ResultOperators {
		b.WriteString(" => ")
		printOperator(b, op)
	}
	for _, inc := range qm.Includes {
		fmt.Fprintf(b, " include %s", strings.Join(inc.Path, "."))
	}
	if qm.NoTracking {
		b.WriteString(" notracking")
	}
	if qm.Ordered {
		b.WriteString(" ordered")
	}
}

func printJoin(b *strings.Builder, c *JoinClause) {
	fmt.Fprintf(b, "join %s in %s on ", c.Name, c.Entity)
	printExpr(b, c.OuterKey)
	b.WriteString(" equals ")
	printExpr(b, c.InnerKey)
}
