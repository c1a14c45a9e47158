package update

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/metadata"
)

// ModificationCommand is one INSERT, UPDATE or DELETE of one row of one
// table. Entries of different entity types sharing a row contribute to
// the same command.
type ModificationCommand struct {
	table    string
	schema   string
	state    veloxrt.EntityState
	entries  []Entry
	columns  []*ColumnModification
	byColumn map[string]*ColumnModification
	params   *ParameterNameGenerator
	// main is set when the table holds the primary row of the entries.
	main bool
	// key and ordinal order otherwise unordered commands.
	key     identity.EntityKey
	ordinal int
}

// NewModificationCommand returns an empty command for a table.
func NewModificationCommand(table, schema string, params *ParameterNameGenerator) *ModificationCommand {
	if params == nil {
		params = &ParameterNameGenerator{}
	}
	return &ModificationCommand{
		table:    table,
		schema:   schema,
		byColumn: make(map[string]*ColumnModification),
		params:   params,
	}
}

// TableName returns the target table.
func (c *ModificationCommand) TableName() string { return c.table }

// Schema returns the target schema.
func (c *ModificationCommand) Schema() string { return c.schema }

// EntityState returns the state the command applies.
func (c *ModificationCommand) EntityState() veloxrt.EntityState { return c.state }

// Entries returns the entries contributing to the command.
func (c *ModificationCommand) Entries() []Entry { return c.entries }

// ColumnModifications returns the columns in key-first declaration order.
func (c *ModificationCommand) ColumnModifications() []*ColumnModification { return c.columns }

// AddEntry adds the columns of entry mapped to the command table. The
// entry must be Added, Modified or Deleted. Columns already contributed
// by another entry are not added twice.
func (c *ModificationCommand) AddEntry(entry Entry) error {
	state := entry.State()
	if !state.IsModification() {
		return &veloxrt.InvalidStateError{Entity: entry.EntityType().Name, State: state}
	}
	if len(c.entries) > 0 && state != c.state {
		return fmt.Errorf("update: %s entry cannot join %s command on %s", state, c.state, c.table)
	}
	et := entry.EntityType()
	main := et.Tables()[0] == c.table
	if len(c.entries) == 0 {
		c.state = state
		c.main = main
	}
	c.entries = append(c.entries, entry)
	for _, p := range et.PropertiesIn(c.table) {
		if _, ok := c.byColumn[p.Column]; ok {
			continue
		}
		cm := c.column(entry, p, main)
		if cm == nil {
			continue
		}
		c.columns = append(c.columns, cm)
		c.byColumn[p.Column] = cm
	}
	return nil
}

// column computes the roles of p. It returns nil when the property does
// not take part in the command.
func (c *ModificationCommand) column(entry Entry, p *metadata.Property, main bool) *ColumnModification {
	var condition, read, write bool
	key := p.IsKey()
	switch c.state {
	case veloxrt.Added:
		if main && p.GeneratedOnAdd() && p.IsDefault(entry.CurrentValue(p)) {
			read = true
		} else {
			write = true
		}
	case veloxrt.Modified:
		switch {
		case key:
			condition = true
		case p.GeneratedOnUpdate():
			read, condition = true, p.ConcurrencyToken
		case entry.IsModified(p):
			write, condition = true, p.ConcurrencyToken
		case p.ConcurrencyToken:
			condition = true
		default:
			return nil
		}
	case veloxrt.Deleted:
		switch {
		case key, p.ConcurrencyToken:
			condition = true
		default:
			return nil
		}
	}
	return NewColumnModification(entry, p, c.params, key, condition, read, write)
}

// RequiresResultPropagation reports whether the store returns values
// the command must copy back into its entries.
func (c *ModificationCommand) RequiresResultPropagation() bool {
	return c.state != veloxrt.Deleted && slices.ContainsFunc(c.columns, (*ColumnModification).IsRead)
}

// ReadColumns returns the store-generated columns in column order.
func (c *ModificationCommand) ReadColumns() []*ColumnModification {
	return c.filter((*ColumnModification).IsRead)
}

// WriteColumns returns the columns whose values are sent to the store.
func (c *ModificationCommand) WriteColumns() []*ColumnModification {
	return c.filter((*ColumnModification).IsWrite)
}

// ConditionColumns returns the columns of the WHERE clause.
func (c *ModificationCommand) ConditionColumns() []*ColumnModification {
	return c.filter((*ColumnModification).IsCondition)
}

func (c *ModificationCommand) filter(f func(*ColumnModification) bool) []*ColumnModification {
	var out []*ColumnModification
	for _, cm := range c.columns {
		if f(cm) {
			out = append(out, cm)
		}
	}
	return out
}

// empty reports whether an update has nothing to write.
func (c *ModificationCommand) empty() bool {
	return c.state == veloxrt.Modified && !slices.ContainsFunc(c.columns, (*ColumnModification).IsWrite)
}

// PropagateResults copies store values into the entries. values are
// ordered as ReadColumns.
func (c *ModificationCommand) PropagateResults(values []any) error {
	reads := c.ReadColumns()
	if len(values) != len(reads) {
		return fmt.Errorf("update: %s returned %d values, expected %d", c, len(values), len(reads))
	}
	for i, cm := range reads {
		if err := cm.SetValue(values[i]); err != nil {
			return fmt.Errorf("update: propagate %s: %w", cm.property, err)
		}
	}
	return nil
}

// shape identifies the statement layout of the command. Commands of
// the same shape can share one statement.
func (c *ModificationCommand) shape() string {
	b := make([]byte, 0, 64)
	b = append(b, c.schema...)
	b = append(b, '.')
	b = append(b, c.table...)
	b = append(b, byte('0'+c.state))
	for _, cm := range c.columns {
		b = append(b, '|')
		b = append(b, cm.column...)
		for _, f := range []bool{cm.condition, cm.read, cm.write} {
			if f {
				b = append(b, '1')
			} else {
				b = append(b, '0')
			}
		}
	}
	return string(b)
}

// String returns "INSERT ducks".
func (c *ModificationCommand) String() string {
	verb := "NOOP"
	switch c.state {
	case veloxrt.Added:
		verb = "INSERT"
	case veloxrt.Modified:
		verb = "UPDATE"
	case veloxrt.Deleted:
		verb = "DELETE"
	}
	return verb + " " + qualify(c.schema, c.table)
}

// Op implements veloxrt.Mutation.
func (c *ModificationCommand) Op() veloxrt.EntityState { return c.state }

// Type implements veloxrt.Mutation. It returns the entity type of the
// first entry.
func (c *ModificationCommand) Type() string {
	if len(c.entries) == 0 {
		return ""
	}
	return c.entries[0].EntityType().Name
}

// Table implements veloxrt.Mutation.
func (c *ModificationCommand) Table() string { return c.table }

// Fields implements veloxrt.Mutation. It returns the written properties.
func (c *ModificationCommand) Fields() []string {
	var names []string
	for _, cm := range c.columns {
		if cm.write {
			names = append(names, cm.property.Name)
		}
	}
	return names
}

// Field implements veloxrt.Mutation.
func (c *ModificationCommand) Field(name string) (any, bool) {
	if cm := c.byProperty(name); cm != nil {
		return cm.Value(), true
	}
	return nil, false
}

// OldField implements veloxrt.Mutation.
func (c *ModificationCommand) OldField(name string) (any, bool) {
	if cm := c.byProperty(name); cm != nil && c.state != veloxrt.Added {
		return cm.OriginalValue(), true
	}
	return nil, false
}

func (c *ModificationCommand) byProperty(name string) *ColumnModification {
	for _, cm := range c.columns {
		if cm.property.Name == name {
			return cm
		}
	}
	return nil
}

var _ veloxrt.Mutation = (*ModificationCommand)(nil)

func qualify(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// compareCommands orders commands by state (Added, Modified, Deleted),
// then table, schema, key and input position.
func compareCommands(a, b *ModificationCommand) int {
	if c := cmp.Compare(a.state, b.state); c != 0 {
		return c
	}
	if c := strings.Compare(a.table, b.table); c != 0 {
		return c
	}
	if c := strings.Compare(a.schema, b.schema); c != 0 {
		return c
	}
	if c := a.key.Compare(b.key); c != 0 {
		return c
	}
	return cmp.Compare(a.ordinal, b.ordinal)
}
