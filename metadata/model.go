// Package metadata describes entity types, their properties, keys and
// relationships. Both the query compiler and the command batcher are
// driven entirely by this model.
package metadata

import (
	"reflect"
	"slices"
	"strings"
)

// Model is a registry of entity types.
type Model struct {
	types  []*EntityType
	byName map[string]*EntityType
	byType map[reflect.Type]*EntityType
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		byName: make(map[string]*EntityType),
		byType: make(map[reflect.Type]*EntityType),
	}
}

// EntityTypes returns the registered entity types in registration order.
func (m *Model) EntityTypes() []*EntityType {
	return m.types
}

// FindEntityType returns the entity type with the given name, or nil.
func (m *Model) FindEntityType(name string) *EntityType {
	return m.byName[name]
}

// EntityTypeOf returns the entity type of a *T entity value, or nil.
func (m *Model) EntityTypeOf(entity any) *EntityType {
	if entity == nil {
		return nil
	}
	t := reflect.TypeOf(entity)
	if t.Kind() != reflect.Pointer {
		return nil
	}
	return m.byType[t.Elem()]
}

func (m *Model) add(et *EntityType) {
	et.model = m
	m.types = append(m.types, et)
	m.byName[et.Name] = et
	m.byType[et.Type] = et
}

// EntityType describes one mapped entity type.
type EntityType struct {
	Name   string
	Table  string
	Schema string
	// Type is the struct type of the entity. Entities are handled as *Type.
	Type reflect.Type

	model  *Model
	props  []*Property
	byName map[string]*Property
	key    []*Property
	fks    []*ForeignKey
	refs   []*ForeignKey
	navs   []*Navigation
}

// Model returns the model the type belongs to.
func (et *EntityType) Model() *Model { return et.model }

// New returns a new zero entity instance as *Type.
func (et *EntityType) New() any {
	return reflect.New(et.Type).Interface()
}

// Owns reports whether entity is a *Type value.
func (et *EntityType) Owns(entity any) bool {
	t := reflect.TypeOf(entity)
	return t != nil && t.Kind() == reflect.Pointer && t.Elem() == et.Type
}

// Properties returns the properties in declaration order. The position
// of a property is also its ordinal in rows read for this type.
func (et *EntityType) Properties() []*Property { return et.props }

// FindProperty returns the property with the given name, or nil.
func (et *EntityType) FindProperty(name string) *Property { return et.byName[name] }

// Key returns the primary key properties in key-definition order.
func (et *EntityType) Key() []*Property { return et.key }

// ForeignKeys returns the foreign keys declared on this type as dependent.
func (et *EntityType) ForeignKeys() []*ForeignKey { return et.fks }

// ReferencingForeignKeys returns the foreign keys in which this type is
// the principal.
func (et *EntityType) ReferencingForeignKeys() []*ForeignKey { return et.refs }

// Navigations returns the navigations declared on this type.
func (et *EntityType) Navigations() []*Navigation { return et.navs }

// FindNavigation returns the navigation with the given name, or nil.
func (et *EntityType) FindNavigation(name string) *Navigation {
	for _, n := range et.navs {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// TableOf returns the table a property is stored in.
func (et *EntityType) TableOf(p *Property) string {
	if p.Table != "" {
		return p.Table
	}
	return et.Table
}

// Tables returns the tables the type is split across, main table first.
func (et *EntityType) Tables() []string {
	tables := []string{et.Table}
	for _, p := range et.props {
		if p.Table != "" && !slices.Contains(tables, p.Table) {
			tables = append(tables, p.Table)
		}
	}
	return tables
}

// PropertiesIn returns the properties stored in the given table, key
// properties first in key order, then the rest in declaration order.
func (et *EntityType) PropertiesIn(table string) []*Property {
	props := make([]*Property, 0, len(et.props))
	props = append(props, et.key...)
	for _, p := range et.props {
		if !p.IsKey() && et.TableOf(p) == table {
			props = append(props, p)
		}
	}
	return props
}

// ForeignKey describes a relationship between a dependent and a principal
// entity type.
type ForeignKey struct {
	Dependent *EntityType
	Principal *EntityType
	// Properties are the dependent properties holding the reference.
	Properties []*Property
	// PrincipalKey are the principal properties referenced, positionally
	// matching Properties.
	PrincipalKey []*Property
	// DependentToPrincipal is the navigation on the dependent, may be nil.
	DependentToPrincipal *Navigation
	// PrincipalToDependent is the navigation on the principal, may be nil.
	PrincipalToDependent *Navigation
	// Unique means a principal has at most one dependent.
	Unique   bool
	Required bool
}

// String returns a short description of the relationship.
func (fk *ForeignKey) String() string {
	names := make([]string, len(fk.Properties))
	for i, p := range fk.Properties {
		names[i] = p.Name
	}
	return fk.Dependent.Name + "(" + strings.Join(names, ", ") + ") -> " + fk.Principal.Name
}
