package querymodel

import (
	"fmt"
	"strings"
)

// Expr is a node of the expression tree. The set of expressions is
// closed.
type Expr interface {
	expr()
}

type (
	// SourceRef refers to the range variable of a query source.
	SourceRef struct {
		Name string
	}

	// Item refers to the current element in result-operator arguments
	// and in orderings applied after the projection.
	Item struct{}

	// Member accesses a member of an entity, a record or a struct.
	Member struct {
		Target Expr
		Name   string
	}

	// PropertyCall reads a mapped property by name. Unlike Member it also
	// reaches shadow properties.
	PropertyCall struct {
		Target Expr
		Name   string
	}

	// Constant is a literal value.
	Constant struct {
		Value any
	}

	// Parameter is a value supplied at execution time.
	Parameter struct {
		Name string
	}

	// Binary is a binary operation.
	Binary struct {
		Op          BinaryOp
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

	// New builds a Record with the named fields.
	New struct {
		Fields []Field
	}

	// Field is one member of a New expression.
	Field struct {
		Name  string
		Value Expr
	}

	// SubQuery is a nested query. It may refer to the sources of the
	// enclosing queries.
	SubQuery struct {
		Model *QueryModel
	}

	// Call invokes a client function. Name identifies the function in the
	// printed query model and must be unique per function.
	Call struct {
		Name string
		Fn   func(args ...any) (any, error)
		Args []Expr
	}
)

func (*SourceRef) expr()    {}
func (*Item) expr()         {}
func (*Member) expr()       {}
func (*PropertyCall) expr() {}
func (*Constant) expr()     {}
func (*Parameter) expr()    {}
func (*Binary) expr()       {}
func (*Not) expr()          {}
func (*IsNull) expr()       {}
func (*New) expr()          {}
func (*SubQuery) expr()     {}
func (*Call) expr()         {}

// BinaryOp is a binary operator.
type BinaryOp uint8

// Binary operators.
const (
	OpEQ BinaryOp = iota
	OpNEQ
	OpLT
	OpLTE
	OpGT
	OpGTE
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
)

var opNames = [...]string{
	OpEQ:  "==",
	OpNEQ: "!=",
	OpLT:  "<",
	OpLTE: "<=",
	OpGT:  ">",
	OpGTE: ">=",
	OpAnd: "&&",
	OpOr:  "||",
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
}

// String returns the operator symbol.
func (o BinaryOp) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("BinaryOp(%d)", o)
}

// Record is the value of a New expression.
type Record struct {
	Names  []string
	Values []any
}

// Get returns the value of the named field.
func (r *Record) Get(name string) (any, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

// String formats the record as {name: value, ...}.
func (r *Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, n := range r.Names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", n, r.Values[i])
	}
	b.WriteByte('}')
	return b.String()
}

// Inspect traverses e depth-first, calling f for every node. Children
// are skipped when f returns false. Sub-query models are not entered.
func Inspect(e Expr, f func(Expr) bool) {
	if e == nil || !f(e) {
		return
	}
	switch e := e.(type) {
	case *Member:
		Inspect(e.Target, f)
	case *PropertyCall:
		Inspect(e.Target, f)
	case *Binary:
		Inspect(e.Left, f)
		Inspect(e.Right, f)
	case *Not:
		Inspect(e.Operand, f)
	case *IsNull:
		Inspect(e.Operand, f)
	case *New:
		for _, fd := range e.Fields {
			Inspect(fd.Value, f)
		}
	case *Call:
		for _, a := range e.Args {
			Inspect(a, f)
		}
	}
}

// ExprString returns the canonical text of an expression.
func ExprString(e Expr) string {
	var b strings.Builder
	printExpr(&b, e)
	return b.String()
}

func printExpr(b *strings.Builder, e Expr) {
	switch e := e.(type) {
	case nil:
		b.WriteString("<nil>")
	case *SourceRef:
		b.WriteString(e.Name)
	case *Item:
		b.WriteString("$it")
	case *Member:
		printExpr(b, e.Target)
		b.WriteString("." + e.Name)
	case *PropertyCall:
		b.WriteString("Property(")
		printExpr(b, e.Target)
		fmt.Fprintf(b, ", %q)", e.Name)
	case *Constant:
		if s, ok := e.Value.(string); ok {
			fmt.Fprintf(b, "%q", s)
		} else {
			fmt.Fprintf(b, "%T(%v)", e.Value, e.Value)
		}
	case *Parameter:
		b.WriteString("@" + e.Name)
	case *Binary:
		b.WriteByte('(')
		printExpr(b, e.Left)
		fmt.Fprintf(b, " %s ", e.Op)
		printExpr(b, e.Right)
		b.WriteByte(')')
	case *Not:
		b.WriteByte('!')
		printExpr(b, e.Operand)
	case *IsNull:
		b.WriteString("IsNull(")
		printExpr(b, e.Operand)
		b.WriteByte(')')
	case *New:
		b.WriteString("new {")
		for i, f := range e.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name + " = ")
			printExpr(b, f.Value)
		}
		b.WriteByte('}')
	case *SubQuery:
		b.WriteByte('(')
		e.Model.print(b)
		b.WriteByte(')')
	case *Call:
		b.WriteString(e.Name + "(")
		for i, a := range e.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			printExpr(b, a)
		}
		b.WriteByte(')')
	default:
		fmt.Fprintf(b, "%T", e)
	}
}

// Expression constructors.

// Ref returns a reference to the named query source.
func Ref(name string) *SourceRef { return &SourceRef{Name: name} }

// It returns a reference to the current element.
func It() *Item { return &Item{} }

// Prop returns a member access of target.
func Prop(target Expr, name string) *Member { return &Member{Target: target, Name: name} }

// Property returns a property accessor call on target.
func Property(target Expr, name string) *PropertyCall {
	return &PropertyCall{Target: target, Name: name}
}

// Const returns a constant.
func Const(v any) *Constant { return &Constant{Value: v} }

// Param returns a parameter reference.
func Param(name string) *Parameter { return &Parameter{Name: name} }

// Eq returns l == r.
func Eq(l, r Expr) *Binary { return &Binary{Op: OpEQ, Left: l, Right: r} }

// NEQ returns l != r.
func NEQ(l, r Expr) *Binary { return &Binary{Op: OpNEQ, Left: l, Right: r} }

// LT returns l < r.
func LT(l, r Expr) *Binary { return &Binary{Op: OpLT, Left: l, Right: r} }

// LTE returns l <= r.
func LTE(l, r Expr) *Binary { return &Binary{Op: OpLTE, Left: l, Right: r} }

// GT returns l > r.
func GT(l, r Expr) *Binary { return &Binary{Op: OpGT, Left: l, Right: r} }

// GTE returns l >= r.
func GTE(l, r Expr) *Binary { return &Binary{Op: OpGTE, Left: l, Right: r} }

// And returns the conjunction of the expressions.
func And(l, r Expr, more ...Expr) Expr {
	e := &Binary{Op: OpAnd, Left: l, Right: r}
	for _, m := range more {
		e = &Binary{Op: OpAnd, Left: e, Right: m}
	}
	return e
}

// Or returns the disjunction of the expressions.
func Or(l, r Expr, more ...Expr) Expr {
	e := &Binary{Op: OpOr, Left: l, Right: r}
	for _, m := range more {
		e = &Binary{Op: OpOr, Left: e, Right: m}
	}
	return e
}

// Add returns l + r.
func Add(l, r Expr) *Binary { return &Binary{Op: OpAdd, Left: l, Right: r} }

// Sub returns l - r.
func Sub(l, r Expr) *Binary { return &Binary{Op: OpSub, Left: l, Right: r} }

// Mul returns l * r.
func Mul(l, r Expr) *Binary { return &Binary{Op: OpMul, Left: l, Right: r} }

// Div returns l / r.
func Div(l, r Expr) *Binary { return &Binary{Op: OpDiv, Left: l, Right: r} }

// Negate returns !e.
func Negate(e Expr) *Not { return &Not{Operand: e} }

// Null returns IsNull(e).
func Null(e Expr) *IsNull { return &IsNull{Operand: e} }

// NewRecord returns a New expression with the given fields.
func NewRecord(fields ...Field) *New { return &New{Fields: fields} }

// F returns a New field.
func F(name string, v Expr) Field { return Field{Name: name, Value: v} }

// Query returns a sub-query expression.
func Query(qm *QueryModel) *SubQuery { return &SubQuery{Model: qm} }

// Func returns a client function call.
func Func(name string, fn func(args ...any) (any, error), args ...Expr) *Call {
	return &Call{Name: name, Fn: fn, Args: args}
}
