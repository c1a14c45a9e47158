// Package tracking owns tracked entries and their lifecycle state. It is
// the only package that transitions entity states; the query and update
// pipelines read and write property values through Entry.
package tracking

import (
	"bytes"
	"reflect"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/metadata"
)

// Entry is a tracked entity together with its original values and state.
type Entry struct {
	sm     *StateManager
	et     *metadata.EntityType
	entity any
	state  veloxrt.EntityState
	key    identity.EntityKey
	// temporary is set while a store-generated key still holds its default.
	temporary bool

	shadow      []any
	shadowSet   []bool
	original    []any
	hasOriginal []bool
	modified    []bool
}

func newEntry(sm *StateManager, et *metadata.EntityType, entity any, state veloxrt.EntityState) *Entry {
	n := len(et.Properties())
	return &Entry{
		sm:          sm,
		et:          et,
		entity:      entity,
		state:       state,
		shadow:      make([]any, n),
		shadowSet:   make([]bool, n),
		original:    make([]any, n),
		hasOriginal: make([]bool, n),
		modified:    make([]bool, n),
	}
}

// Entity returns the tracked entity.
func (e *Entry) Entity() any { return e.entity }

// EntityType returns the entity type.
func (e *Entry) EntityType() *metadata.EntityType { return e.et }

// State returns the current state.
func (e *Entry) State() veloxrt.EntityState { return e.state }

// Key returns the identity key. It is the zero key while the entry has a
// temporary key.
func (e *Entry) Key() identity.EntityKey { return e.key }

// HasTemporaryKey reports whether the store has yet to generate the key.
func (e *Entry) HasTemporaryKey() bool { return e.temporary }

// CurrentValue returns the current value of a property.
func (e *Entry) CurrentValue(p *metadata.Property) any {
	if p.Shadow {
		return e.shadow[p.Index()]
	}
	return p.Get(e.entity)
}

// SetCurrentValue writes a property value. Unchanged entries whose value
// actually changes become Modified.
func (e *Entry) SetCurrentValue(p *metadata.Property, v any) error {
	old := e.CurrentValue(p)
	if p.Shadow {
		if err := e.loadShadow(p, v); err != nil {
			return err
		}
	} else if err := p.Set(e.entity, v); err != nil {
		return err
	}
	if valuesEqual(old, e.CurrentValue(p)) {
		return nil
	}
	switch e.state {
	case veloxrt.Unchanged:
		e.state = veloxrt.Modified
		e.modified[p.Index()] = true
	case veloxrt.Modified:
		e.modified[p.Index()] = true
	}
	if p.IsKey() {
		return e.sm.rekey(e)
	}
	return nil
}

func (e *Entry) loadShadow(p *metadata.Property, v any) error {
	cv, err := metadata.Convert(v, p.Type)
	if err != nil {
		return err
	}
	e.shadow[p.Index()] = cv.Interface()
	e.shadowSet[p.Index()] = true
	return nil
}

// OriginalValue returns the value captured when the entry was loaded or
// last saved. Properties without a snapshot fall back to the current value.
func (e *Entry) OriginalValue(p *metadata.Property) any {
	if e.hasOriginal[p.Index()] {
		return e.original[p.Index()]
	}
	return e.CurrentValue(p)
}

// HasOriginalValue reports whether the property has a snapshot value.
func (e *Entry) HasOriginalValue(p *metadata.Property) bool {
	return e.hasOriginal[p.Index()]
}

// IsModified reports whether the property must be written by an update.
func (e *Entry) IsModified(p *metadata.Property) bool {
	switch e.state {
	case veloxrt.Added:
		return true
	case veloxrt.Modified:
		if e.modified[p.Index()] {
			return true
		}
		return e.hasOriginal[p.Index()] && !valuesEqual(e.original[p.Index()], e.CurrentValue(p))
	}
	return false
}

// MarkModified flags a property as modified and moves an Unchanged entry
// to Modified.
func (e *Entry) MarkModified(p *metadata.Property) {
	e.modified[p.Index()] = true
	if e.state == veloxrt.Unchanged {
		e.state = veloxrt.Modified
	}
}

// snapshot captures the current values as original values. Shadow
// properties only participate once they hold a value.
func (e *Entry) snapshot() {
	for _, p := range e.et.Properties() {
		i := p.Index()
		if p.Shadow && !e.shadowSet[i] {
			e.hasOriginal[i] = false
			continue
		}
		e.original[i] = copyValue(e.CurrentValue(p))
		e.hasOriginal[i] = true
		e.modified[i] = false
	}
}

func (e *Entry) hasDefaultStoreKey() bool {
	for _, p := range e.et.Key() {
		if p.GeneratedOnAdd() && p.IsDefault(e.CurrentValue(p)) {
			return true
		}
	}
	return false
}

func (e *Entry) keyValue(p *metadata.Property) any {
	return e.CurrentValue(p)
}

func copyValue(v any) any {
	if b, ok := v.([]byte); ok && b != nil {
		return append([]byte{}, b...)
	}
	return v
}

func valuesEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	na, erra := metadata.Normalize(a)
	nb, errb := metadata.Normalize(b)
	if erra != nil || errb != nil {
		return reflect.DeepEqual(a, b)
	}
	return reflect.DeepEqual(na, nb)
}
