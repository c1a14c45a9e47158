// Package update turns tracked entries into ordered, batched
// modification commands and executes them against a store.
package update

import (
	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/metadata"
)

// Entry is the view of a tracked entry the update pipeline reads and
// writes property values through.
type Entry interface {
	Entity() any
	EntityType() *metadata.EntityType
	State() veloxrt.EntityState
	CurrentValue(*metadata.Property) any
	SetCurrentValue(*metadata.Property, any) error
	OriginalValue(*metadata.Property) any
	HasOriginalValue(*metadata.Property) bool
	IsModified(*metadata.Property) bool
}

// Relationships resolves the principal entry of a dependent entry for a
// foreign key, using current values or the values captured at load.
type Relationships interface {
	Principal(dep Entry, fk *metadata.ForeignKey) Entry
	OriginalPrincipal(dep Entry, fk *metadata.ForeignKey) Entry
}

// RelationshipFuncs adapts a pair of functions to Relationships.
type RelationshipFuncs struct {
	Current  func(Entry, *metadata.ForeignKey) Entry
	Original func(Entry, *metadata.ForeignKey) Entry
}

// Principal implements Relationships.
func (f RelationshipFuncs) Principal(dep Entry, fk *metadata.ForeignKey) Entry {
	return f.Current(dep, fk)
}

// OriginalPrincipal implements Relationships.
func (f RelationshipFuncs) OriginalPrincipal(dep Entry, fk *metadata.ForeignKey) Entry {
	return f.Original(dep, fk)
}

// valueRelationships resolves principals among a fixed set of entries by
// comparing foreign key values with principal key values.
type valueRelationships struct {
	keys  *identity.KeyFactory
	index map[identity.EntityKey]Entry
}

// NewValueRelationships returns a Relationships matching foreign key
// values against the keys of entries.
func NewValueRelationships(entries []Entry) Relationships {
	r := &valueRelationships{
		keys:  identity.NewKeyFactory(identity.RejectNullKeys),
		index: make(map[identity.EntityKey]Entry, len(entries)),
	}
	for _, e := range entries {
		et := e.EntityType()
		if hasDefaultStoreKey(e) {
			continue
		}
		if k, err := r.keys.KeyOf(et, et.Key(), e.CurrentValue); err == nil {
			r.index[k] = e
		}
		if e.State() == veloxrt.Added {
			continue
		}
		if k, err := r.keys.KeyOf(et, et.Key(), e.OriginalValue); err == nil {
			if _, ok := r.index[k]; !ok {
				r.index[k] = e
			}
		}
	}
	return r
}

func (r *valueRelationships) Principal(dep Entry, fk *metadata.ForeignKey) Entry {
	return r.lookup(fk, dep.CurrentValue)
}

func (r *valueRelationships) OriginalPrincipal(dep Entry, fk *metadata.ForeignKey) Entry {
	if dep.State() == veloxrt.Added {
		return nil
	}
	return r.lookup(fk, dep.OriginalValue)
}

func (r *valueRelationships) lookup(fk *metadata.ForeignKey, value func(*metadata.Property) any) Entry {
	values := make(map[*metadata.Property]any, len(fk.Properties))
	for i, p := range fk.Properties {
		values[fk.PrincipalKey[i]] = value(p)
	}
	k, err := r.keys.KeyOf(fk.Principal, fk.PrincipalKey, func(p *metadata.Property) any { return values[p] })
	if err != nil {
		return nil
	}
	return r.index[k]
}

func hasDefaultStoreKey(e Entry) bool {
	for _, p := range e.EntityType().Key() {
		if p.GeneratedOnAdd() && p.IsDefault(e.CurrentValue(p)) {
			return true
		}
	}
	return false
}
