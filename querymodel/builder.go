package querymodel

// Builder builds query models fluently.
//
//	qm := querymodel.From("b", "Blog").
//		Where(querymodel.GT(querymodel.Prop(querymodel.Ref("b"), "ID"), querymodel.Param("min"))).
//		OrderBy(querymodel.Prop(querymodel.Ref("b"), "Title"), false).
//		Take(querymodel.Const(10)).
//		Model()
type Builder struct {
	qm *QueryModel
}

// From starts a query reading the rows of an entity type.
func From(name, entity string) *Builder {
	return &Builder{qm: &QueryModel{MainFrom: &MainFromClause{Name: name, Entity: entity}}}
}

// FromExpr starts a query reading the sequence src evaluates to.
func FromExpr(name string, src Expr) *Builder {
	return &Builder{qm: &QueryModel{MainFrom: &MainFromClause{Name: name, Source: src}}}
}

// FromEntity adds a cross product with the rows of an entity type.
func (b *Builder) FromEntity(name, entity string) *Builder {
	b.qm.Body = append(b.qm.Body, &AdditionalFromClause{Name: name, Entity: entity})
	return b
}

// FromExpr adds a cross product with the sequence src evaluates to.
func (b *Builder) FromExpr(name string, src Expr) *Builder {
	b.qm.Body = append(b.qm.Body, &AdditionalFromClause{Name: name, Source: src})
	return b
}

// Join adds an inner join with the rows of an entity type.
func (b *Builder) Join(name, entity string, outerKey, innerKey Expr) *Builder {
	b.qm.Body = append(b.qm.Body, &JoinClause{Name: name, Entity: entity, OuterKey: outerKey, InnerKey: innerKey})
	return b
}

// GroupJoin adds a group join binding into to the matches of item.
func (b *Builder) GroupJoin(item, entity string, outerKey, innerKey Expr, into string) *Builder {
	b.qm.Body = append(b.qm.Body, &GroupJoinClause{
		Name: into,
		Join: &JoinClause{Name: item, Entity: entity, OuterKey: outerKey, InnerKey: innerKey},
	})
	return b
}

// Where adds a filter.
func (b *Builder) Where(pred Expr) *Builder {
	b.qm.Body = append(b.qm.Body, &WhereClause{Predicate: pred})
	return b
}

// OrderBy adds an ordering clause with one key.
func (b *Builder) OrderBy(e Expr, desc bool) *Builder {
	b.qm.Body = append(b.qm.Body, &OrderByClause{Orderings: []Ordering{{Expr: e, Descending: desc}}})
	return b
}

// ThenBy adds a secondary key to the last ordering clause.
func (b *Builder) ThenBy(e Expr, desc bool) *Builder {
	if n := len(b.qm.Body); n > 0 {
		if ob, ok := b.qm.Body[n-1].(*OrderByClause); ok {
			ob.Orderings = append(ob.Orderings, Ordering{Expr: e, Descending: desc})
			return b
		}
	}
	return b.OrderBy(e, desc)
}

// Select sets the projection.
func (b *Builder) Select(e Expr) *Builder {
	b.qm.Select = &SelectClause{Selector: e}
	return b
}

// Ordered declares an ordered result.
func (b *Builder) Ordered() *Builder {
	b.qm.Ordered = true
	return b
}

// Include eager-loads a navigation path of the result entities.
func (b *Builder) Include(path ...string) *Builder {
	b.qm.Includes = append(b.qm.Includes, Include{Path: path})
	return b
}

// AsNoTracking disables tracking of the result entities.
func (b *Builder) AsNoTracking() *Builder {
	b.qm.NoTracking = true
	return b
}

// Apply appends a result operator.
func (b *Builder) Apply(op ResultOperator) *Builder {
	b.qm.ResultOperators = append(b.qm.ResultOperators, op)
	return b
}

// Skip appends Skip(n).
func (b *Builder) Skip(n Expr) *Builder { return b.Apply(&Skip{Count: n}) }

// Take appends Take(n).
func (b *Builder) Take(n Expr) *Builder { return b.Apply(&Take{Count: n}) }

// Distinct appends Distinct.
func (b *Builder) Distinct() *Builder { return b.Apply(&Distinct{}) }

// DefaultIfEmpty appends DefaultIfEmpty(def).
func (b *Builder) DefaultIfEmpty(def Expr) *Builder { return b.Apply(&DefaultIfEmpty{Default: def}) }

// GroupBy appends Group(key, element).
func (b *Builder) GroupBy(key, element Expr) *Builder {
	return b.Apply(&Group{Key: key, Element: element})
}

// Model returns the query model. Select defaults to the main source.
func (b *Builder) Model() *QueryModel {
	if b.qm.Select == nil {
		b.qm.Select = &SelectClause{Selector: Ref(b.qm.MainFrom.Name)}
	}
	return b.qm
}

// Count finishes the query with Count.
func (b *Builder) Count() *QueryModel { return b.Apply(&Count{}).Model() }

// LongCount finishes the query with LongCount.
func (b *Builder) LongCount() *QueryModel { return b.Apply(&LongCount{}).Model() }

// Any finishes the query with Any.
func (b *Builder) Any() *QueryModel { return b.Apply(&Any{}).Model() }

// All finishes the query with All(pred).
func (b *Builder) All(pred Expr) *QueryModel { return b.Apply(&All{Predicate: pred}).Model() }

// Sum finishes the query with Sum.
func (b *Builder) Sum() *QueryModel { return b.Apply(&Sum{}).Model() }

// Min finishes the query with Min.
func (b *Builder) Min() *QueryModel { return b.Apply(&Min{}).Model() }

// Max finishes the query with Max.
func (b *Builder) Max() *QueryModel { return b.Apply(&Max{}).Model() }

// Average finishes the query with Average.
func (b *Builder) Average() *QueryModel { return b.Apply(&Average{}).Model() }

// First finishes the query with First or FirstOrDefault.
func (b *Builder) First(orDefault bool) *QueryModel {
	return b.Apply(&First{OrDefault: orDefault}).Model()
}

// Last finishes the query with Last or LastOrDefault.
func (b *Builder) Last(orDefault bool) *QueryModel {
	return b.Apply(&Last{OrDefault: orDefault}).Model()
}

// Single finishes the query with Single or SingleOrDefault.
func (b *Builder) Single(orDefault bool) *QueryModel {
	return b.Apply(&Single{OrDefault: orDefault}).Model()
}
