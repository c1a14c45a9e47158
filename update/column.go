package update

import (
	"strconv"

	"github.com/syssam/veloxrt/metadata"
)

// ParameterNameGenerator hands out parameter names @p0, @p1, ... in
// increasing order. Names are unique for the lifetime of the generator.
type ParameterNameGenerator struct {
	next int
}

// Next returns the next parameter name.
func (g *ParameterNameGenerator) Next() string {
	name := "@p" + strconv.Itoa(g.next)
	g.next++
	return name
}

// Reset restarts numbering at @p0.
func (g *ParameterNameGenerator) Reset() { g.next = 0 }

// ColumnModification is the role one column plays in a modification
// command. IsRead and IsWrite are never both set.
type ColumnModification struct {
	entry         Entry
	property      *metadata.Property
	column        string
	key           bool
	condition     bool
	read          bool
	write         bool
	param         string
	originalParam string
}

// NewColumnModification returns a column modification reading and
// writing values through entry. read and write must not both be set.
func NewColumnModification(entry Entry, p *metadata.Property, params *ParameterNameGenerator, key, condition, read, write bool) *ColumnModification {
	if read && write {
		panic("update: column " + p.Column + " cannot be both read and written")
	}
	c := &ColumnModification{
		entry:     entry,
		property:  p,
		column:    p.Column,
		key:       key,
		condition: condition,
		read:      read,
		write:     write,
	}
	if write || read {
		c.param = params.Next()
	}
	if condition {
		c.originalParam = params.Next()
	}
	return c
}

// ColumnName returns the column name.
func (c *ColumnModification) ColumnName() string { return c.column }

// Property returns the mapped property.
func (c *ColumnModification) Property() *metadata.Property { return c.property }

// Entry returns the entry the column reads values from.
func (c *ColumnModification) Entry() Entry { return c.entry }

// IsKey reports whether the column is part of the primary key.
func (c *ColumnModification) IsKey() bool { return c.key }

// IsCondition reports whether the column is compared in the WHERE clause
// using its original value.
func (c *ColumnModification) IsCondition() bool { return c.condition }

// IsRead reports whether the store generates the value.
func (c *ColumnModification) IsRead() bool { return c.read }

// IsWrite reports whether the value is sent to the store.
func (c *ColumnModification) IsWrite() bool { return c.write }

// ParameterName returns the name of the current value parameter.
func (c *ColumnModification) ParameterName() string { return c.param }

// OriginalParameterName returns the name of the condition parameter.
func (c *ColumnModification) OriginalParameterName() string { return c.originalParam }

// Value returns the current value from the entry.
func (c *ColumnModification) Value() any { return c.entry.CurrentValue(c.property) }

// SetValue writes v into the entry.
func (c *ColumnModification) SetValue(v any) error {
	return c.entry.SetCurrentValue(c.property, v)
}

// OriginalValue returns the snapshot value, or the current value when
// the property was never snapshotted.
func (c *ColumnModification) OriginalValue() any {
	if c.entry.HasOriginalValue(c.property) {
		return c.entry.OriginalValue(c.property)
	}
	return c.entry.CurrentValue(c.property)
}
