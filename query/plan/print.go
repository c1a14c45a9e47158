package plan

import (
	"fmt"
	"strings"
)

// Format prints the plan as an indented tree, root first.
func Format(n Node) string {
	var b strings.Builder
	format(&b, n, 0)
	return strings.TrimSuffix(b.String(), "\n")
}

func format(b *strings.Builder, n Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(Label(n))
	b.WriteByte('\n')
	for _, in := range n.Inputs() {
		format(b, in, depth+1)
	}
}

// Label returns the one-line description of a node.
func Label(n Node) string {
	switch n := n.(type) {
	case *Scan:
		return fmt.Sprintf("Scan %s: %s", n.Source, n.Entity.Name)
	case *Values:
		return fmt.Sprintf("Values %s: %s", n.Source, ExprString(n.Expr))
	case *SelectMany:
		return fmt.Sprintf("SelectMany %s", n.Source)
	case *Join:
		return fmt.Sprintf("Join %s on %s equals %s", n.Inner.Source, ExprString(n.OuterKey), ExprString(n.InnerKey))
	case *GroupJoin:
		return fmt.Sprintf("GroupJoin %s on %s equals %s", n.Source, ExprString(n.OuterKey), ExprString(n.InnerKey))
	case *Filter:
		return "Filter " + ExprString(n.Predicate)
	case *OrderBy:
		keys := make([]string, len(n.Keys))
		for i, k := range n.Keys {
			keys[i] = ExprString(k.Expr)
			if k.Descending {
				keys[i] += " desc"
			}
		}
		return "OrderBy " + strings.Join(keys, ", ")
	case *Project:
		return "Project " + ExprString(n.Selector)
	case *Include:
		names := make([]string, len(n.Path))
		for i, nav := range n.Path {
			names[i] = nav.Name
		}
		return fmt.Sprintf("Include %s.%s", n.Entity.Name, strings.Join(names, "."))
	case *Track:
		return "Track"
	case *Skip:
		return "Skip " + ExprString(n.Count)
	case *Take:
		return "Take " + ExprString(n.Count)
	case *Distinct:
		return "Distinct"
	case *DefaultIfEmpty:
		if n.Default == nil {
			return "DefaultIfEmpty"
		}
		return "DefaultIfEmpty " + ExprString(n.Default)
	case *Group:
		if n.Element == nil {
			return "Group " + ExprString(n.Key)
		}
		return fmt.Sprintf("Group %s by %s", ExprString(n.Element), ExprString(n.Key))
	case *Aggregate:
		s := n.Op.String()
		if n.OrDefault {
			s += "OrDefault"
		}
		if n.Impl != "" {
			s += "[" + n.Impl + "]"
		}
		if n.Predicate != nil {
			s += " " + ExprString(n.Predicate)
		}
		return s
	default:
		return fmt.Sprintf("%T", n)
	}
}

// ExprString prints a bound expression. Slots print as name@depth.index.
func ExprString(e Expr) string {
	var b strings.Builder
	printExpr(&b, e)
	return b.String()
}

func printExpr(b *strings.Builder, e Expr) {
	switch e := e.(type) {
	case nil:
		b.WriteString("<nil>")
	case *Slot:
		fmt.Fprintf(b, "%s@%d.%d", e.Name, e.Depth, e.Index)
	case *Read:
		printExpr(b, &e.Slot)
		fmt.Fprintf(b, "[%d:%s]", e.Property.Index(), e.Property.Name)
	case *Current:
		b.WriteString("$it")
	case *Field:
		printExpr(b, e.Target)
		b.WriteString("." + e.Name)
	case *PropertyOf:
		b.WriteString("Property(")
		printExpr(b, e.Target)
		fmt.Fprintf(b, ", %s)", e.Property.Name)
	case *Const:
		if s, ok := e.Value.(string); ok {
			fmt.Fprintf(b, "%q", s)
		} else {
			fmt.Fprintf(b, "%v", e.Value)
		}
	case *Param:
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
	case *Record:
		b.WriteString("new {")
		for i, n := range e.Names {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(n + " = ")
			printExpr(b, e.Values[i])
		}
		b.WriteByte('}')
	case *Call:
		b.WriteString(e.Name + "(")
		for i, a := range e.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			printExpr(b, a)
		}
		b.WriteByte(')')
	case *SubQuery:
		fmt.Fprintf(b, "subquery<%s>{%s}", e.Shape.Shape, strings.ReplaceAll(Format(e.Plan), "\n", "; "))
	default:
		fmt.Fprintf(b, "%T", e)
	}
}
