// Package storage defines how the runtime reads rows: the ValueReader
// abstraction over one result row and the row sources queries scan.
package storage

import (
	"fmt"
	"reflect"

	"github.com/syssam/veloxrt/metadata"
)

// ValueReader reads positional column values of one result row. For
// entity rows the position of a value is the ordinal of its property.
type ValueReader interface {
	Count() int
	ReadValue(i int) any
	IsNull(i int) bool
}

// Row is a ValueReader over a slice of values.
type Row []any

// Count returns the number of values in the row.
func (r Row) Count() int { return len(r) }

// ReadValue returns the i-th value.
func (r Row) ReadValue(i int) any { return r[i] }

// IsNull reports whether the i-th value is nil.
func (r Row) IsNull(i int) bool { return r[i] == nil }

// Snapshot copies the values of a reader into a Row. Readers backed by
// a live cursor may be reused after Next, snapshots are not.
func Snapshot(r ValueReader) Row {
	if row, ok := r.(Row); ok {
		return row
	}
	row := make(Row, r.Count())
	for i := range row {
		if !r.IsNull(i) {
			row[i] = r.ReadValue(i)
		}
	}
	return row
}

// ReadValue reads the i-th value converted to T. Null values read as the
// zero value of T.
func ReadValue[T any](r ValueReader, i int) (T, error) {
	var zero T
	if i < 0 || i >= r.Count() {
		return zero, fmt.Errorf("storage: ordinal %d out of range [0,%d)", i, r.Count())
	}
	if r.IsNull(i) {
		return zero, nil
	}
	v, err := metadata.Convert(r.ReadValue(i), reflect.TypeFor[T]())
	if err != nil {
		return zero, fmt.Errorf("storage: read ordinal %d: %w", i, err)
	}
	return v.Interface().(T), nil
}

// ReadProperty reads the value of a property from an entity row.
func ReadProperty(r ValueReader, p *metadata.Property) any {
	if r.IsNull(p.Index()) {
		return nil
	}
	return r.ReadValue(p.Index())
}
