package metadata

import (
	"fmt"
	"reflect"
)

// ValueGenerated tells when the store produces a value for a property.
type ValueGenerated uint8

// Value generation strategies.
const (
	// Never means the application always supplies the value.
	Never ValueGenerated = iota
	// OnAdd means the store generates the value on insert (identity columns).
	OnAdd
	// OnAddOrUpdate means the store computes the value on every write.
	OnAddOrUpdate
)

// String returns the strategy name.
func (v ValueGenerated) String() string {
	switch v {
	case OnAdd:
		return "OnAdd"
	case OnAddOrUpdate:
		return "OnAddOrUpdate"
	default:
		return "Never"
	}
}

// Property is a scalar member of an entity type mapped to a column.
type Property struct {
	Name   string
	Column string
	// Table overrides the entity table for entity splitting.
	Table string
	Type  reflect.Type
	// Nullable reports whether the column accepts NULL.
	Nullable         bool
	ValueGenerated   ValueGenerated
	ConcurrencyToken bool
	// Shadow properties have no struct field; their values live in the
	// tracked entry.
	Shadow bool
	// Generator produces client-side values for Added entries.
	Generator ValueGenerator

	index     int
	field     []int
	key       bool
	declaring *EntityType
	generated bool
}

// Index returns the ordinal of the property within its entity type.
func (p *Property) Index() int { return p.index }

// DeclaringType returns the entity type owning the property.
func (p *Property) DeclaringType() *EntityType { return p.declaring }

// IsKey reports whether the property is part of the primary key.
func (p *Property) IsKey() bool { return p.key }

// GeneratedOnAdd reports whether the store generates a value on insert.
func (p *Property) GeneratedOnAdd() bool { return p.ValueGenerated != Never }

// GeneratedOnUpdate reports whether the store recomputes the value on update.
func (p *Property) GeneratedOnUpdate() bool { return p.ValueGenerated == OnAddOrUpdate }

// String returns Type.Name.
func (p *Property) String() string {
	if p.declaring == nil {
		return p.Name
	}
	return p.declaring.Name + "." + p.Name
}

// Get reads the property from an entity. Shadow properties have no
// field and always read as nil.
func (p *Property) Get(entity any) any {
	if p.Shadow {
		return nil
	}
	return reflect.ValueOf(entity).Elem().FieldByIndex(p.field).Interface()
}

// Set writes v into the property of an entity, converting it to the
// property type.
func (p *Property) Set(entity any, v any) error {
	if p.Shadow {
		return fmt.Errorf("metadata: shadow property %s has no field", p)
	}
	f := reflect.ValueOf(entity).Elem().FieldByIndex(p.field)
	cv, err := Convert(v, f.Type())
	if err != nil {
		return fmt.Errorf("metadata: set %s: %w", p, err)
	}
	f.Set(cv)
	return nil
}

// IsDefault reports whether v is nil or the zero value of its type.
func (p *Property) IsDefault(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

// Zero returns the zero value of the property type.
func (p *Property) Zero() any {
	return reflect.Zero(p.Type).Interface()
}
