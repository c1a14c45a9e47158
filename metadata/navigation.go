package metadata

import (
	"fmt"
	"reflect"
)

// Navigation is a reference or collection member pointing at related
// entities.
type Navigation struct {
	Name          string
	DeclaringType *EntityType
	Target        *EntityType
	ForeignKey    *ForeignKey
	Collection    bool

	field []int
}

// IsDependentToPrincipal reports whether the navigation points from the
// dependent to its principal.
func (n *Navigation) IsDependentToPrincipal() bool {
	return n.ForeignKey.DependentToPrincipal == n
}

// Inverse returns the navigation on the other side of the relationship,
// or nil.
func (n *Navigation) Inverse() *Navigation {
	if n.IsDependentToPrincipal() {
		return n.ForeignKey.PrincipalToDependent
	}
	return n.ForeignKey.DependentToPrincipal
}

func (n *Navigation) value(entity any) reflect.Value {
	return reflect.ValueOf(entity).Elem().FieldByIndex(n.field)
}

// Get returns the referenced entity of a reference navigation, or nil.
func (n *Navigation) Get(entity any) any {
	v := n.value(entity)
	if n.Collection || v.IsNil() {
		return nil
	}
	return v.Interface()
}

// Set assigns the referenced entity of a reference navigation. A nil
// target clears it.
func (n *Navigation) Set(entity, target any) error {
	if n.Collection {
		return fmt.Errorf("metadata: navigation %s.%s is a collection", n.DeclaringType.Name, n.Name)
	}
	v := n.value(entity)
	if target == nil {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	tv := reflect.ValueOf(target)
	if !tv.Type().AssignableTo(v.Type()) {
		return fmt.Errorf("metadata: cannot assign %T to %s.%s", target, n.DeclaringType.Name, n.Name)
	}
	v.Set(tv)
	return nil
}

// Items returns the members of a collection navigation.
func (n *Navigation) Items(entity any) []any {
	if !n.Collection {
		if t := n.Get(entity); t != nil {
			return []any{t}
		}
		return nil
	}
	v := n.value(entity)
	items := make([]any, v.Len())
	for i := range items {
		items[i] = v.Index(i).Interface()
	}
	return items
}

// Contains reports whether target is referenced by the navigation.
func (n *Navigation) Contains(entity, target any) bool {
	for _, item := range n.Items(entity) {
		if item == target {
			return true
		}
	}
	return false
}

// Add appends target to a collection navigation unless it is already
// present. For reference navigations it behaves like Set.
func (n *Navigation) Add(entity, target any) error {
	if !n.Collection {
		return n.Set(entity, target)
	}
	if n.Contains(entity, target) {
		return nil
	}
	v := n.value(entity)
	tv := reflect.ValueOf(target)
	if !tv.Type().AssignableTo(v.Type().Elem()) {
		return fmt.Errorf("metadata: cannot add %T to %s.%s", target, n.DeclaringType.Name, n.Name)
	}
	v.Set(reflect.Append(v, tv))
	return nil
}

// Remove deletes target from a collection navigation, or clears a
// reference navigation that points at it.
func (n *Navigation) Remove(entity, target any) {
	if !n.Collection {
		if n.Get(entity) == target {
			_ = n.Set(entity, nil)
		}
		return
	}
	v := n.value(entity)
	out := reflect.MakeSlice(v.Type(), 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		if v.Index(i).Interface() != target {
			out = reflect.Append(out, v.Index(i))
		}
	}
	v.Set(out)
}
