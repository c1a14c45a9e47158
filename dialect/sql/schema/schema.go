// Package schema maps a metadata model onto store tables. It builds the
// tables the runtime reads and writes, creates the missing ones and
// checks a live database against the model before sessions use it.
package schema

import (
	"context"
	"fmt"
	"reflect"
	"time"

	atlas "ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/sqlite"
	"github.com/google/uuid"

	"github.com/syssam/veloxrt/dialect"
	"github.com/syssam/veloxrt/dialect/sql"
	"github.com/syssam/veloxrt/metadata"
)

// UnsupportedTypeError is returned for properties whose Go type has no
// column type in the dialect.
type UnsupportedTypeError struct {
	Property *metadata.Property
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("schema: no column type for %s of type %s", e.Property, e.Property.Type)
}

// Option configures table building, inspection and validation.
type Option func(*options)

type options struct {
	schema            string
	allowUnmapped     bool
	allowNullMismatch bool
}

// WithSchemaName restricts the tables to entity types mapped to the named
// database schema. By default entity types without a schema are used and
// the connection's current schema is inspected.
func WithSchemaName(name string) Option {
	return func(o *options) { o.schema = name }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var (
	timeType = reflect.TypeFor[time.Time]()
	uuidType = reflect.TypeFor[uuid.UUID]()
)

// Tables returns the tables of model in the given dialect. Split entity
// types contribute one table per mapped table; every table carries the
// entity key as its primary key.
func Tables(model *metadata.Model, name string, opts ...Option) ([]*atlas.Table, error) {
	o := buildOptions(opts)
	var (
		tables []*atlas.Table
		byName = make(map[string]*atlas.Table)
	)
	for _, et := range model.EntityTypes() {
		if et.Schema != o.schema {
			continue
		}
		for _, tn := range et.Tables() {
			t := atlas.NewTable(tn)
			for _, p := range et.PropertiesIn(tn) {
				c, err := column(p, name, tn == et.Table)
				if err != nil {
					return nil, err
				}
				t.AddColumns(c)
			}
			pk := make([]*atlas.Column, len(et.Key()))
			for i, p := range et.Key() {
				pk[i], _ = t.Column(p.Column)
			}
			t.SetPrimaryKey(atlas.NewPrimaryKey(pk...))
			tables = append(tables, t)
			byName[tn] = t
		}
	}
	for _, et := range model.EntityTypes() {
		for _, fk := range et.ForeignKeys() {
			if err := foreignKey(byName, fk); err != nil {
				return nil, err
			}
		}
	}
	return tables, nil
}

func foreignKey(tables map[string]*atlas.Table, fk *metadata.ForeignKey) error {
	dep, ok := tables[fk.Dependent.TableOf(fk.Properties[0])]
	if !ok {
		return nil
	}
	ref, ok := tables[fk.Principal.Table]
	if !ok {
		return nil
	}
	f := atlas.NewForeignKey(fmt.Sprintf("%s_%s_%s", dep.Name, ref.Name, fk.Properties[0].Column))
	for i, p := range fk.Properties {
		c, ok := dep.Column(p.Column)
		if !ok {
			return fmt.Errorf("schema: foreign key %s: column %s is not in table %s", fk, p.Column, dep.Name)
		}
		rc, ok := ref.Column(fk.PrincipalKey[i].Column)
		if !ok {
			return fmt.Errorf("schema: foreign key %s: column %s is not in table %s", fk, fk.PrincipalKey[i].Column, ref.Name)
		}
		f.AddColumns(c)
		f.AddRefColumns(rc)
	}
	f.SetRefTable(ref)
	f.SetOnDelete(atlas.NoAction)
	dep.AddForeignKeys(f)
	return nil
}

// column maps a property to a column of the dialect. Store-generated
// integer keys of a primary table are auto-incremented.
func column(p *metadata.Property, name string, primary bool) (*atlas.Column, error) {
	t := p.Type
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	typ := columnType(t, name)
	if typ == nil {
		return nil, &UnsupportedTypeError{Property: p}
	}
	c := &atlas.Column{
		Name: p.Column,
		Type: &atlas.ColumnType{Type: typ, Null: p.Nullable && !p.IsKey()},
	}
	if primary && p.IsKey() && p.GeneratedOnAdd() && len(p.DeclaringType().Key()) == 1 {
		if _, ok := typ.(*atlas.IntegerType); ok {
			switch name {
			case dialect.MySQL:
				c.AddAttrs(&mysql.AutoIncrement{})
			case dialect.Postgres:
				c.AddAttrs(&postgres.Identity{Generation: "BY DEFAULT"})
			}
		}
	}
	return c, nil
}

func columnType(t reflect.Type, name string) atlas.Type {
	switch t {
	case timeType:
		switch name {
		case dialect.Postgres:
			return &atlas.TimeType{T: "timestamp with time zone"}
		case dialect.MySQL:
			return &atlas.TimeType{T: "timestamp"}
		}
		return &atlas.TimeType{T: "datetime"}
	case uuidType:
		switch name {
		case dialect.Postgres:
			return &atlas.UUIDType{T: "uuid"}
		case dialect.MySQL:
			return &atlas.StringType{T: "char", Size: 36}
		}
		return &atlas.StringType{T: "text"}
	}
	switch t.Kind() {
	case reflect.Bool:
		return &atlas.BoolType{T: "boolean"}
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
		if name == dialect.SQLite {
			return &atlas.IntegerType{T: "integer", Unsigned: isUnsigned(t)}
		}
		return &atlas.IntegerType{T: "bigint", Unsigned: isUnsigned(t) && name == dialect.MySQL}
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		if name == dialect.SQLite {
			return &atlas.IntegerType{T: "integer", Unsigned: isUnsigned(t)}
		}
		return &atlas.IntegerType{T: "integer", Unsigned: isUnsigned(t) && name == dialect.MySQL}
	case reflect.Float32, reflect.Float64:
		switch name {
		case dialect.Postgres:
			return &atlas.FloatType{T: "double precision"}
		case dialect.MySQL:
			return &atlas.FloatType{T: "double"}
		}
		return &atlas.FloatType{T: "real"}
	case reflect.String:
		if name == dialect.MySQL {
			return &atlas.StringType{T: "varchar", Size: 255}
		}
		return &atlas.StringType{T: "text"}
	case reflect.Slice:
		if t.Elem().Kind() != reflect.Uint8 {
			return nil
		}
		if name == dialect.Postgres {
			return &atlas.BinaryType{T: "bytea"}
		}
		return &atlas.BinaryType{T: "blob"}
	}
	return nil
}

func isUnsigned(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// open returns the atlas driver of the database behind drv.
func open(drv *sql.Driver) (migrate.Driver, error) {
	db := drv.DB()
	switch drv.Dialect() {
	case dialect.SQLite:
		return sqlite.Open(db)
	case dialect.Postgres:
		return postgres.Open(db)
	case dialect.MySQL:
		return mysql.Open(db)
	}
	return nil, fmt.Errorf("schema: unsupported dialect %q", drv.Dialect())
}

// inspect returns the current state of the model's tables.
func inspect(ctx context.Context, d migrate.Driver, name string, tables []*atlas.Table) (*atlas.Schema, error) {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return d.InspectSchema(ctx, name, &atlas.InspectOptions{Tables: names})
}

// Create creates the tables of model that do not exist yet. Existing
// tables are left untouched.
func Create(ctx context.Context, drv *sql.Driver, model *metadata.Model, opts ...Option) error {
	o := buildOptions(opts)
	tables, err := Tables(model, drv.Dialect(), opts...)
	if err != nil {
		return err
	}
	d, err := open(drv)
	if err != nil {
		return err
	}
	current, err := inspect(ctx, d, o.schema, tables)
	if err != nil {
		return fmt.Errorf("schema: inspect: %w", err)
	}
	desired := atlas.New(current.Name)
	var changes []atlas.Change
	for _, t := range tables {
		desired.AddTables(t)
		if _, ok := current.Table(t.Name); !ok {
			changes = append(changes, &atlas.AddTable{T: t})
		}
	}
	if len(changes) == 0 {
		return nil
	}
	if err := d.ApplyChanges(ctx, changes); err != nil {
		return fmt.Errorf("schema: create tables: %w", err)
	}
	return nil
}
