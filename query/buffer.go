package query

import (
	"context"
	"fmt"
	"iter"

	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/linq"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/storage"
	"github.com/syssam/veloxrt/tracking"
)

// Materializer constructs entity instances from rows.
type Materializer struct{}

// Materialize returns a new entity of type et holding the values of r.
// Shadow properties are left to the state manager.
func (Materializer) Materialize(et *metadata.EntityType, r storage.ValueReader) (any, error) {
	entity := et.New()
	for _, p := range et.Properties() {
		if p.Shadow || r.IsNull(p.Index()) {
			continue
		}
		if err := p.Set(entity, r.ReadValue(p.Index())); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

type bufferedEntity struct {
	et       *metadata.EntityType
	entity   any
	row      storage.Row
	tracked  bool
	included []*bufferedEntity
}

// QueryBuffer resolves materialized rows to entity instances for one
// query execution. Every row of a logical entity maps to one instance,
// the tracked one when the state manager already knows the key. A
// QueryBuffer is not safe for concurrent use.
type QueryBuffer struct {
	sm       *tracking.StateManager
	keys     *identity.KeyFactory
	mat      Materializer
	byKey    map[identity.EntityKey]*bufferedEntity
	byEntity map[any]*bufferedEntity
}

// NewQueryBuffer returns a buffer resolving identities against sm. A nil
// state manager resolves identities within the buffer only.
func NewQueryBuffer(sm *tracking.StateManager) *QueryBuffer {
	keys := identity.NewKeyFactory(identity.RejectNullKeys)
	if sm != nil {
		keys = sm.Keys()
	}
	return &QueryBuffer{
		sm:       sm,
		keys:     keys,
		byKey:    make(map[identity.EntityKey]*bufferedEntity),
		byEntity: make(map[any]*bufferedEntity),
	}
}

// GetEntity returns the entity of the row, materializing it on first
// sight of its key.
func (b *QueryBuffer) GetEntity(et *metadata.EntityType, r storage.ValueReader) (any, error) {
	key, err := b.keys.CreateKey(et, et.Key(), r)
	if err != nil {
		return nil, err
	}
	if b.sm != nil {
		if e, ok := b.sm.TryGetEntry(key); ok {
			return e.Entity(), nil
		}
	}
	if be, ok := b.byKey[key]; ok {
		return be.entity, nil
	}
	entity, err := b.mat.Materialize(et, r)
	if err != nil {
		return nil, fmt.Errorf("materialize %s: %w", et.Name, err)
	}
	be := &bufferedEntity{et: et, entity: entity, row: storage.Snapshot(r)}
	b.byKey[key] = be
	b.byEntity[entity] = be
	return entity, nil
}

// GetPropertyValue reads a property of an entity: from its tracked entry
// when tracked, otherwise from the row it was materialized from.
func (b *QueryBuffer) GetPropertyValue(entity any, p *metadata.Property) any {
	if b.sm != nil {
		if e, ok := b.sm.Entry(entity); ok {
			return e.CurrentValue(p)
		}
	}
	if be, ok := b.byEntity[entity]; ok {
		return storage.ReadProperty(be.row, p)
	}
	return p.Get(entity)
}

// StartTracking attaches a buffered entity and the entities included
// into it to the state manager. Entities already tracked, or unknown to
// the buffer, are returned unchanged.
func (b *QueryBuffer) StartTracking(entity any) (any, error) {
	be, ok := b.byEntity[entity]
	if !ok || be.tracked || b.sm == nil {
		return entity, nil
	}
	be.tracked = true
	e, err := b.sm.StartTracking(be.et, entity, be.row)
	if err != nil {
		return nil, err
	}
	for _, inc := range be.included {
		if _, err := b.StartTracking(inc.entity); err != nil {
			return nil, err
		}
	}
	return e.Entity(), nil
}

// Include sets the navigation of entity to the related rows matching its
// key. For a reference navigation only the first match is used.
// Inverse navigations are set on the related entities.
func (b *QueryBuffer) Include(entity any, nav *metadata.Navigation, related iter.Seq2[storage.ValueReader, error]) error {
	inc, ok := b.includer(entity, nav)
	if !ok {
		return nil
	}
	for r, err := range related {
		if err != nil {
			return err
		}
		more, err := inc.add(r)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// IncludeAsync is Include over an asynchronous sequence of rows.
func (b *QueryBuffer) IncludeAsync(ctx context.Context, entity any, nav *metadata.Navigation, related linq.AsyncSeq[storage.ValueReader]) error {
	inc, ok := b.includer(entity, nav)
	if !ok {
		return nil
	}
	return linq.ForEachAsync(related, inc.add)(ctx)
}

type includer struct {
	b      *QueryBuffer
	entity any
	owner  *bufferedEntity
	nav    *metadata.Navigation
	props  []*metadata.Property
	values []any
}

// includer prepares matching rows against the key of entity. It reports
// false when the owner key holds nulls and nothing can match.
func (b *QueryBuffer) includer(entity any, nav *metadata.Navigation) (*includer, bool) {
	fk := nav.ForeignKey
	ownerProps, targetProps := fk.PrincipalKey, fk.Properties
	if nav.IsDependentToPrincipal() {
		ownerProps, targetProps = fk.Properties, fk.PrincipalKey
	}
	values := make([]any, len(ownerProps))
	for i, p := range ownerProps {
		if values[i] = b.GetPropertyValue(entity, p); isNil(values[i]) {
			return nil, false
		}
	}
	return &includer{
		b:      b,
		entity: entity,
		owner:  b.byEntity[entity],
		nav:    nav,
		props:  targetProps,
		values: values,
	}, true
}

func (inc *includer) add(r storage.ValueReader) (bool, error) {
	for i, p := range inc.props {
		eq, err := equalValues(storage.ReadProperty(r, p), inc.values[i])
		if err != nil {
			return false, err
		}
		if !eq {
			return true, nil
		}
	}
	target, err := inc.b.GetEntity(inc.nav.Target, r)
	if err != nil {
		return false, err
	}
	if err := link(inc.nav, inc.entity, target); err != nil {
		return false, err
	}
	if inv := inc.nav.Inverse(); inv != nil {
		if err := link(inv, target, inc.entity); err != nil {
			return false, err
		}
	}
	if inc.owner != nil {
		if be, ok := inc.b.byEntity[target]; ok {
			inc.owner.included = append(inc.owner.included, be)
		}
	}
	return inc.nav.Collection, nil
}

func link(nav *metadata.Navigation, entity, target any) error {
	if !nav.Collection {
		return nav.Set(entity, target)
	}
	if nav.Contains(entity, target) {
		return nil
	}
	return nav.Add(entity, target)
}
