package tracking

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/storage"
)

// StateManager is the identity map of one unit of work. It is not safe
// for concurrent use.
type StateManager struct {
	model    *metadata.Model
	keys     *identity.KeyFactory
	logger   *slog.Logger
	byKey    map[identity.EntityKey]*Entry
	byEntity map[any]*Entry
	entries  []*Entry
}

// Option configures a StateManager.
type Option func(*StateManager)

// WithKeyFactory sets the key factory, and with it the null key policy.
func WithKeyFactory(f *identity.KeyFactory) Option {
	return func(sm *StateManager) { sm.keys = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(sm *StateManager) { sm.logger = l }
}

// NewStateManager returns an empty StateManager for the model.
func NewStateManager(model *metadata.Model, opts ...Option) *StateManager {
	sm := &StateManager{
		model:    model,
		keys:     identity.NewKeyFactory(identity.RejectNullKeys),
		logger:   slog.Default(),
		byKey:    make(map[identity.EntityKey]*Entry),
		byEntity: make(map[any]*Entry),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Model returns the metadata model.
func (sm *StateManager) Model() *metadata.Model { return sm.model }

// Keys returns the key factory.
func (sm *StateManager) Keys() *identity.KeyFactory { return sm.keys }

// Entry returns the entry tracking entity.
func (sm *StateManager) Entry(entity any) (*Entry, bool) {
	e, ok := sm.byEntity[entity]
	return e, ok
}

// TryGetEntry returns the entry with the given key.
func (sm *StateManager) TryGetEntry(key identity.EntityKey) (*Entry, bool) {
	e, ok := sm.byKey[key]
	return e, ok
}

// Entries returns the tracked entries in tracking order.
func (sm *StateManager) Entries() []*Entry {
	return slices.Clone(sm.entries)
}

// Changes returns the entries that produce modification commands.
func (sm *StateManager) Changes() []*Entry {
	var out []*Entry
	for _, e := range sm.entries {
		if e.state.IsModification() {
			out = append(out, e)
		}
	}
	return out
}

// StartTracking tracks an entity materialized from a row as Unchanged.
// Shadow property values are read from the row. Tracking the same row
// twice returns the existing entry.
func (sm *StateManager) StartTracking(et *metadata.EntityType, entity any, r storage.ValueReader) (*Entry, error) {
	if e, ok := sm.byEntity[entity]; ok {
		return e, nil
	}
	key, err := sm.keys.CreateKey(et, et.Key(), r)
	if err != nil {
		return nil, err
	}
	if e, ok := sm.byKey[key]; ok {
		return e, nil
	}
	e := newEntry(sm, et, entity, veloxrt.Unchanged)
	for _, p := range et.Properties() {
		if p.Shadow && !r.IsNull(p.Index()) {
			if err := e.loadShadow(p, r.ReadValue(p.Index())); err != nil {
				return nil, err
			}
		}
	}
	e.key = key
	e.snapshot()
	sm.register(e)
	return e, nil
}

// Track starts tracking entity in the given state, or moves an already
// tracked entity to it. Added entries receive client-generated key
// values; Added entries whose store-generated key holds its default are
// tracked with a temporary key until the store returns one.
func (sm *StateManager) Track(entity any, state veloxrt.EntityState) (*Entry, error) {
	et := sm.model.EntityTypeOf(entity)
	if et == nil {
		return nil, fmt.Errorf("tracking: %T is not a mapped entity type", entity)
	}
	if e, ok := sm.byEntity[entity]; ok {
		sm.SetState(e, state)
		return e, nil
	}
	if state == veloxrt.Detached {
		return nil, nil
	}
	e := newEntry(sm, et, entity, state)
	if state == veloxrt.Added {
		for _, p := range et.Key() {
			if p.Generator == nil || !p.IsDefault(e.CurrentValue(p)) {
				continue
			}
			v, err := p.Generator.Next(p)
			if err != nil {
				return nil, fmt.Errorf("tracking: generate %s: %w", p, err)
			}
			if err := p.Set(entity, v); err != nil {
				return nil, err
			}
		}
	}
	if state == veloxrt.Added && e.hasDefaultStoreKey() {
		e.temporary = true
	} else {
		key, err := sm.keys.KeyOf(et, et.Key(), e.keyValue)
		if err != nil {
			return nil, err
		}
		if other, ok := sm.byKey[key]; ok {
			return nil, fmt.Errorf("tracking: another %s with key %s is already tracked (%p)", et.Name, key, other.entity)
		}
		e.key = key
	}
	if state != veloxrt.Added {
		e.snapshot()
	}
	sm.register(e)
	return e, nil
}

// SetState transitions an entry. Deleting an Added entry detaches it.
func (sm *StateManager) SetState(e *Entry, state veloxrt.EntityState) {
	switch {
	case state == veloxrt.Detached, state == veloxrt.Deleted && e.state == veloxrt.Added:
		sm.detach(e)
	case state == veloxrt.Unchanged:
		e.state = state
		e.snapshot()
	default:
		e.state = state
	}
}

func (sm *StateManager) register(e *Entry) {
	sm.byEntity[e.entity] = e
	if !e.temporary {
		sm.byKey[e.key] = e
	}
	sm.entries = append(sm.entries, e)
}

func (sm *StateManager) detach(e *Entry) {
	e.state = veloxrt.Detached
	delete(sm.byEntity, e.entity)
	if !e.temporary && sm.byKey[e.key] == e {
		delete(sm.byKey, e.key)
	}
	sm.entries = slices.DeleteFunc(sm.entries, func(o *Entry) bool { return o == e })
}

// rekey recomputes the identity key after a key property changed.
func (sm *StateManager) rekey(e *Entry) error {
	if e.state == veloxrt.Detached {
		return nil
	}
	if e.hasDefaultStoreKey() && e.state == veloxrt.Added {
		return nil
	}
	key, err := sm.keys.KeyOf(e.et, e.et.Key(), e.keyValue)
	if err != nil {
		return err
	}
	if !e.temporary && sm.byKey[e.key] == e {
		delete(sm.byKey, e.key)
	}
	e.key, e.temporary = key, false
	sm.byKey[key] = e
	return nil
}

// Principal returns the current principal of a dependent entry for the
// foreign key: the entity referenced by navigation if any, otherwise the
// entry whose key equals the current foreign key values.
func (sm *StateManager) Principal(dep *Entry, fk *metadata.ForeignKey) *Entry {
	if p := sm.principalByNavigation(dep, fk); p != nil {
		return p
	}
	return sm.principalByValues(fk, func(p *metadata.Property) any { return dep.CurrentValue(p) })
}

// OriginalPrincipal returns the principal referenced by the original
// foreign key values.
func (sm *StateManager) OriginalPrincipal(dep *Entry, fk *metadata.ForeignKey) *Entry {
	for _, p := range fk.Properties {
		if !dep.HasOriginalValue(p) {
			return nil
		}
	}
	return sm.principalByValues(fk, func(p *metadata.Property) any { return dep.OriginalValue(p) })
}

func (sm *StateManager) principalByNavigation(dep *Entry, fk *metadata.ForeignKey) *Entry {
	if nav := fk.DependentToPrincipal; nav != nil {
		if target := nav.Get(dep.entity); target != nil {
			if e, ok := sm.byEntity[target]; ok {
				return e
			}
		}
	}
	if nav := fk.PrincipalToDependent; nav != nil {
		for _, e := range sm.entries {
			if e.et == fk.Principal && nav.Contains(e.entity, dep.entity) {
				return e
			}
		}
	}
	return nil
}

func (sm *StateManager) principalByValues(fk *metadata.ForeignKey, value func(*metadata.Property) any) *Entry {
	values := make([]any, len(fk.Properties))
	for i, p := range fk.Properties {
		v := value(p)
		if v == nil {
			return nil
		}
		values[i] = v
	}
	key, err := sm.keys.KeyOf(fk.Principal, fk.PrincipalKey, func(p *metadata.Property) any {
		return values[slices.Index(fk.PrincipalKey, p)]
	})
	if err != nil {
		return nil
	}
	return sm.byKey[key]
}

// DetectChanges copies principal keys into foreign keys of dependents
// associated by navigation, and moves Unchanged entries whose values
// differ from their snapshot to Modified.
func (sm *StateManager) DetectChanges() error {
	for _, e := range slices.Clone(sm.entries) {
		if e.state == veloxrt.Deleted || e.state == veloxrt.Detached {
			continue
		}
		for _, fk := range e.et.ForeignKeys() {
			if err := sm.fixupForeignKey(e, fk); err != nil {
				return err
			}
		}
		if e.state == veloxrt.Added {
			continue
		}
		for _, p := range e.et.Properties() {
			if e.hasOriginal[p.Index()] && !valuesEqual(e.original[p.Index()], e.CurrentValue(p)) {
				e.MarkModified(p)
			}
		}
	}
	return nil
}

func (sm *StateManager) fixupForeignKey(dep *Entry, fk *metadata.ForeignKey) error {
	principal := sm.principalByNavigation(dep, fk)
	if principal == nil || principal.state == veloxrt.Deleted {
		return nil
	}
	if principal.temporary {
		for _, p := range fk.Properties {
			dep.MarkModified(p)
		}
		return nil
	}
	for i, p := range fk.Properties {
		v := principal.CurrentValue(fk.PrincipalKey[i])
		if !valuesEqual(dep.CurrentValue(p), v) {
			if err := dep.SetCurrentValue(p, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// FixupDependents copies the key of principal into the foreign keys of
// every dependent associated with it by navigation. It runs after the
// store generated the principal key.
func (sm *StateManager) FixupDependents(principal *Entry) error {
	for _, fk := range principal.et.ReferencingForeignKeys() {
		for _, dep := range sm.entries {
			if dep.et != fk.Dependent || dep.state == veloxrt.Deleted {
				continue
			}
			if sm.principalByNavigation(dep, fk) != principal {
				continue
			}
			if err := sm.fixupForeignKey(dep, fk); err != nil {
				return err
			}
		}
	}
	return nil
}

// AcceptChanges marks a successful save: Added and Modified entries
// become Unchanged with fresh snapshots, Deleted entries are detached.
func (sm *StateManager) AcceptChanges() error {
	for _, e := range slices.Clone(sm.entries) {
		switch e.state {
		case veloxrt.Deleted:
			sm.detach(e)
		case veloxrt.Added, veloxrt.Modified:
			if e.temporary {
				if err := sm.rekey(e); err != nil {
					return err
				}
			}
			e.state = veloxrt.Unchanged
			e.snapshot()
		}
	}
	sm.logger.Debug("accepted changes", "entries", len(sm.entries))
	return nil
}
