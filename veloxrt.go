// Package veloxrt is an object-relational mapping runtime. It compiles
// declarative query models into executable plans that materialize rows
// into tracked entity graphs, and turns tracked changes into ordered,
// batched data-modification commands.
//
// The root package holds the shared vocabulary: entity states, the error
// taxonomy and the views of queries and mutations handed to privacy
// policies.
package veloxrt

import "context"

type (
	// Query is the view of a query model exposed to policies.
	Query interface {
		// EntityTypes returns the entity types the query reads from.
		EntityTypes() []string
	}

	// Mutation is the view of a pending row modification exposed to policies.
	Mutation interface {
		// Op returns the operation kind.
		Op() EntityState
		// Type returns the entity type name.
		Type() string
		// Table returns the target table.
		Table() string
		// Fields returns the names of the properties written by the mutation.
		Fields() []string
		// Field returns the value that will be written for the property.
		Field(name string) (any, bool)
		// OldField returns the originally loaded value of the property.
		OldField(name string) (any, bool)
	}

	// Policy decides whether a query or a mutation may proceed.
	Policy interface {
		EvalQuery(context.Context, Query) error
		EvalMutation(context.Context, Mutation) error
	}
)
