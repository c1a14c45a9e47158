package metadata

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-openapi/inflect"
)

// Builder declares entity types and relationships and builds a Model.
//
//	b := metadata.NewBuilder()
//	metadata.Entity[Blog](b)
//	metadata.Entity[Post](b).Property("BlogID", metadata.Column("blog_id"))
//	b.Relate(metadata.Relation{
//		Dependent:  "Post",
//		Principal:  "Blog",
//		ForeignKey: []string{"BlogID"},
//		Navigation: "Blog",
//		Inverse:    "Posts",
//	})
//	model, err := b.Build()
type Builder struct {
	entities  []*EntityBuilder
	relations []Relation
	errs      []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// EntityBuilder configures one entity type.
type EntityBuilder struct {
	b       *Builder
	et      *EntityType
	keyName []string
}

// Entity registers the struct type T as an entity type. Exported fields
// of scalar types become properties in declaration order. Fields tagged
// `db:"-"` are skipped and `db:"name"` sets the column name.
func Entity[T any](b *Builder) *EntityBuilder {
	t := reflect.TypeFor[T]()
	et := &EntityType{
		Name:   t.Name(),
		Table:  TableName(t.Name()),
		Type:   t,
		byName: make(map[string]*Property),
	}
	eb := &EntityBuilder{b: b, et: et}
	if t.Kind() != reflect.Struct {
		b.errs = append(b.errs, fmt.Errorf("metadata: entity type %s is not a struct", t))
		return eb
	}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous || !isScalar(f.Type) {
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "-" {
			continue
		}
		column := tag
		if column == "" {
			column = ColumnName(f.Name)
		}
		eb.addProperty(&Property{
			Name:   f.Name,
			Column: column,
			Type:   f.Type,
			field:  f.Index,
			Nullable: f.Type.Kind() == reflect.Pointer ||
				f.Type.Kind() == reflect.Slice,
		})
	}
	b.entities = append(b.entities, eb)
	return eb
}

func (eb *EntityBuilder) addProperty(p *Property) {
	p.index = len(eb.et.props)
	p.declaring = eb.et
	eb.et.props = append(eb.et.props, p)
	eb.et.byName[p.Name] = p
}

// Name overrides the entity type name.
func (eb *EntityBuilder) Name(name string) *EntityBuilder {
	eb.et.Name = name
	return eb
}

// Table sets the main table of the entity type.
func (eb *EntityBuilder) Table(name string) *EntityBuilder {
	eb.et.Table = name
	return eb
}

// Schema sets the schema of the entity tables.
func (eb *EntityBuilder) Schema(name string) *EntityBuilder {
	eb.et.Schema = name
	return eb
}

// Key sets the primary key properties, in key order.
func (eb *EntityBuilder) Key(names ...string) *EntityBuilder {
	eb.keyName = names
	return eb
}

// PropertyOption configures a property.
type PropertyOption func(*Property)

// Column sets the column name.
func Column(name string) PropertyOption {
	return func(p *Property) { p.Column = name }
}

// InTable stores the property in a secondary table (entity splitting).
func InTable(name string) PropertyOption {
	return func(p *Property) { p.Table = name }
}

// Generated sets the store value generation strategy.
func Generated(v ValueGenerated) PropertyOption {
	return func(p *Property) {
		p.ValueGenerated = v
		p.generated = true
	}
}

// Computed marks the property as recomputed by the store on every write.
func Computed() PropertyOption {
	return Generated(OnAddOrUpdate)
}

// ConcurrencyToken marks the property as an optimistic concurrency token.
func ConcurrencyToken() PropertyOption {
	return func(p *Property) { p.ConcurrencyToken = true }
}

// Nullable marks the column as accepting NULL.
func Nullable() PropertyOption {
	return func(p *Property) { p.Nullable = true }
}

// WithGenerator sets a client-side value generator.
func WithGenerator(g ValueGenerator) PropertyOption {
	return func(p *Property) { p.Generator = g }
}

// Property configures a declared property.
func (eb *EntityBuilder) Property(name string, opts ...PropertyOption) *EntityBuilder {
	p := eb.et.byName[name]
	if p == nil {
		eb.b.errs = append(eb.b.errs, fmt.Errorf("metadata: %s has no property %q", eb.et.Name, name))
		return eb
	}
	for _, opt := range opts {
		opt(p)
	}
	return eb
}

// Shadow declares a property without a struct field. Its values are
// stored by the tracked entry.
func (eb *EntityBuilder) Shadow(name string, t reflect.Type, opts ...PropertyOption) *EntityBuilder {
	if eb.et.byName[name] != nil {
		eb.b.errs = append(eb.b.errs, fmt.Errorf("metadata: %s already has property %q", eb.et.Name, name))
		return eb
	}
	p := &Property{Name: name, Column: ColumnName(name), Type: t, Shadow: true, Nullable: true}
	for _, opt := range opts {
		opt(p)
	}
	eb.addProperty(p)
	return eb
}

// Relation declares a foreign key between two entity types.
type Relation struct {
	Dependent string
	Principal string
	// ForeignKey names the dependent properties, in principal key order.
	ForeignKey []string
	// Navigation is the dependent-to-principal field name, optional.
	Navigation string
	// Inverse is the principal-to-dependent field name, optional.
	Inverse string
	// Unique makes the inverse a reference rather than a collection.
	Unique   bool
	Required bool
}

// Relate declares a relationship.
func (b *Builder) Relate(r Relation) *Builder {
	b.relations = append(b.relations, r)
	return b
}

// Build validates the declarations and returns the model.
func (b *Builder) Build() (*Model, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	m := NewModel()
	for _, eb := range b.entities {
		if err := eb.resolveKey(); err != nil {
			return nil, err
		}
		if m.byName[eb.et.Name] != nil {
			return nil, fmt.Errorf("metadata: entity type %s declared twice", eb.et.Name)
		}
		m.add(eb.et)
	}
	for _, r := range b.relations {
		if err := m.relate(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (eb *EntityBuilder) resolveKey() error {
	et := eb.et
	names := eb.keyName
	if len(names) == 0 {
		for _, candidate := range []string{"ID", "Id"} {
			if et.byName[candidate] != nil {
				names = []string{candidate}
				break
			}
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("metadata: entity type %s has no key", et.Name)
	}
	for _, name := range names {
		p := et.byName[name]
		if p == nil {
			return fmt.Errorf("metadata: key property %s.%s does not exist", et.Name, name)
		}
		if p.Table != "" {
			return fmt.Errorf("metadata: key property %s.%s cannot be moved to table %s", et.Name, name, p.Table)
		}
		p.key = true
		p.Nullable = false
		et.key = append(et.key, p)
	}
	if len(et.key) == 1 {
		p := et.key[0]
		switch {
		case p.generated:
		case p.Type == uuidType:
			if p.Generator == nil {
				p.Generator = UUIDGenerator{}
			}
		case isInt(p.Type.Kind()) || isUint(p.Type.Kind()):
			p.ValueGenerated = OnAdd
		}
	}
	return nil
}

func (m *Model) relate(r Relation) error {
	dep, principal := m.byName[r.Dependent], m.byName[r.Principal]
	if dep == nil || principal == nil {
		return fmt.Errorf("metadata: relation %s -> %s references an unknown entity type", r.Dependent, r.Principal)
	}
	if len(r.ForeignKey) != len(principal.key) {
		return fmt.Errorf("metadata: relation %s -> %s has %d foreign key properties, principal key has %d",
			r.Dependent, r.Principal, len(r.ForeignKey), len(principal.key))
	}
	fk := &ForeignKey{
		Dependent:    dep,
		Principal:    principal,
		PrincipalKey: principal.key,
		Unique:       r.Unique,
		Required:     r.Required,
	}
	for _, name := range r.ForeignKey {
		p := dep.byName[name]
		if p == nil {
			return fmt.Errorf("metadata: foreign key property %s.%s does not exist", dep.Name, name)
		}
		fk.Properties = append(fk.Properties, p)
	}
	if r.Navigation != "" {
		n, err := newNavigation(dep, principal, fk, r.Navigation, false)
		if err != nil {
			return err
		}
		fk.DependentToPrincipal = n
	}
	if r.Inverse != "" {
		n, err := newNavigation(principal, dep, fk, r.Inverse, !r.Unique)
		if err != nil {
			return err
		}
		fk.PrincipalToDependent = n
	}
	dep.fks = append(dep.fks, fk)
	principal.refs = append(principal.refs, fk)
	return nil
}

func newNavigation(owner, target *EntityType, fk *ForeignKey, name string, collection bool) (*Navigation, error) {
	f, ok := owner.Type.FieldByName(name)
	if !ok {
		return nil, fmt.Errorf("metadata: navigation %s.%s does not exist", owner.Name, name)
	}
	want := reflect.PointerTo(target.Type)
	if collection {
		want = reflect.SliceOf(want)
	}
	if f.Type != want {
		return nil, fmt.Errorf("metadata: navigation %s.%s has type %s, expected %s", owner.Name, name, f.Type, want)
	}
	n := &Navigation{
		Name:          name,
		DeclaringType: owner,
		Target:        target,
		ForeignKey:    fk,
		Collection:    collection,
		field:         f.Index,
	}
	owner.navs = append(owner.navs, n)
	return n, nil
}

var timeType = reflect.TypeFor[time.Time]()

// isScalar reports whether a field type maps to a single column.
func isScalar(t reflect.Type) bool {
	if t == timeType || t == bytesType || t.Implements(valuerType) || reflect.PointerTo(t).Implements(scannerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Pointer:
		return t.Elem().Kind() != reflect.Struct || isScalar(t.Elem())
	case reflect.Struct, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan, reflect.Interface:
		return false
	case reflect.Array:
		return t.Elem().Kind() == reflect.Uint8
	}
	return true
}

// TableName returns the default table name of an entity type.
func TableName(entity string) string {
	return inflect.Underscore(inflect.Pluralize(entity))
}

// ColumnName returns the default column name of a property.
func ColumnName(field string) string {
	if strings.ToUpper(field) == field {
		return strings.ToLower(field)
	}
	return inflect.Underscore(field)
}
