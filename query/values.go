package query

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/querymodel"
	"github.com/syssam/veloxrt/storage"
)

// entityRow is an entity type with the row it will be materialized
// from. Range variables over entity types hold entity rows until the
// projection.
type entityRow struct {
	et  *metadata.EntityType
	row storage.Row
}

// read returns the value of p converted to the property type.
func (r *entityRow) read(p *metadata.Property) (any, error) {
	return typed(storage.ReadProperty(r.row, p), p)
}

// typed converts a store value of p to the property type.
func typed(v any, p *metadata.Property) (any, error) {
	if v == nil {
		return nil, nil
	}
	cv, err := metadata.Convert(v, p.Type)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return cv.Interface(), nil
}

// Grouping is an element produced by the Group result operator.
type Grouping struct {
	Key   any
	Items []any
}

// isEntity reports whether v is a pointer to a struct, the form entities
// are handled in. Query runtime values are not entities.
func isEntity(v any) bool {
	switch v.(type) {
	case *entityRow, *querymodel.Record, *Grouping, *Queryable, *time.Time:
		return false
	}
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct
}

// valueKey returns a comparable key of v for joins, grouping and
// distinct. Entities compare by identity, records by their fields.
func valueKey(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case *querymodel.Record:
		parts := make([]string, len(v.Values))
		for i, f := range v.Values {
			k, err := valueKey(f)
			if err != nil {
				return nil, err
			}
			parts[i] = fmt.Sprintf("%T:%v", k, k)
		}
		return "{" + strings.Join(parts, "|") + "}", nil
	case *entityRow:
		return nil, errors.New("entity rows have no value key")
	case time.Time:
		return v.UTC(), nil
	}
	if isEntity(v) {
		return v, nil
	}
	k, err := identity.Canonical(v)
	if err != nil {
		return nil, err
	}
	if k != nil && !reflect.TypeOf(k).Comparable() {
		return nil, fmt.Errorf("%T is not comparable", v)
	}
	return k, nil
}

// equalValues reports whether a and b are equal. Numbers of different
// types compare by value.
func equalValues(a, b any) (bool, error) {
	if a == nil || b == nil {
		return isNil(a) && isNil(b), nil
	}
	if isEntity(a) || isEntity(b) {
		return a == b, nil
	}
	c, err := compareValues(a, b)
	if err != nil {
		ka, errA := valueKey(a)
		kb, errB := valueKey(b)
		if errA != nil || errB != nil {
			return false, err
		}
		return ka == kb, nil
	}
	return c == 0, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// compareValues orders two scalars. nil sorts first.
func compareValues(a, b any) (int, error) {
	ca, err := canonical(a)
	if err != nil {
		return 0, err
	}
	cb, err := canonical(b)
	if err != nil {
		return 0, err
	}
	switch {
	case ca == nil && cb == nil:
		return 0, nil
	case ca == nil:
		return -1, nil
	case cb == nil:
		return 1, nil
	}
	switch x := ca.(type) {
	case int64:
		switch y := cb.(type) {
		case int64:
			return cmp.Compare(x, y), nil
		case uint64:
			if x < 0 {
				return -1, nil
			}
			return cmp.Compare(uint64(x), y), nil
		case float64:
			return cmp.Compare(float64(x), y), nil
		}
	case uint64:
		switch y := cb.(type) {
		case uint64:
			return cmp.Compare(x, y), nil
		case int64:
			if y < 0 {
				return 1, nil
			}
			return cmp.Compare(x, uint64(y)), nil
		case float64:
			return cmp.Compare(float64(x), y), nil
		}
	case float64:
		switch y := cb.(type) {
		case float64:
			return cmp.Compare(x, y), nil
		case int64:
			return cmp.Compare(x, float64(y)), nil
		case uint64:
			return cmp.Compare(x, float64(y)), nil
		}
	case string:
		if y, ok := cb.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := cb.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if y, ok := cb.(time.Time); ok {
			return x.Compare(y), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func canonical(v any) (any, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	if t, ok := v.(*time.Time); ok {
		if t == nil {
			return nil, nil
		}
		return *t, nil
	}
	return identity.Canonical(v)
}

// arithmetic applies +, -, * or / to numbers; + also concatenates
// strings. Integer operands produce int64, any float operand float64.
func arithmetic(op querymodel.BinaryOp, a, b any) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	ca, err := canonical(a)
	if err != nil {
		return nil, err
	}
	cb, err := canonical(b)
	if err != nil {
		return nil, err
	}
	if x, ok := ca.(string); ok && op == querymodel.OpAdd {
		if y, ok := cb.(string); ok {
			return x + y, nil
		}
	}
	xi, xInt := ca.(int64)
	yi, yInt := cb.(int64)
	if xInt && yInt {
		switch op {
		case querymodel.OpAdd:
			return xi + yi, nil
		case querymodel.OpSub:
			return xi - yi, nil
		case querymodel.OpMul:
			return xi * yi, nil
		case querymodel.OpDiv:
			if yi == 0 {
				return nil, errors.New("integer divide by zero")
			}
			return xi / yi, nil
		}
	}
	xf, okX := toFloat(ca)
	yf, okY := toFloat(cb)
	if !okX || !okY {
		return nil, fmt.Errorf("operator %s not defined on %T and %T", op, a, b)
	}
	switch op {
	case querymodel.OpAdd:
		return xf + yf, nil
	case querymodel.OpSub:
		return xf - yf, nil
	case querymodel.OpMul:
		return xf * yf, nil
	case querymodel.OpDiv:
		return xf / yf, nil
	}
	return nil, fmt.Errorf("operator %s is not arithmetic", op)
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// member reads the named member of a materialized value.
func member(v any, name string) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case *querymodel.Record:
		if f, ok := v.Get(name); ok {
			return f, nil
		}
		return nil, fmt.Errorf("record has no field %s", name)
	case *Grouping:
		switch name {
		case "Key":
			return v.Key, nil
		case "Items":
			return v.Items, nil
		}
		return nil, fmt.Errorf("grouping has no member %s", name)
	case *entityRow:
		if p := v.et.FindProperty(name); p != nil {
			return v.read(p)
		}
		return nil, fmt.Errorf("%s has no property %s", v.et.Name, name)
	case map[string]any:
		return v[name], nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot access %s on %T", name, v)
	}
	f := rv.FieldByName(name)
	if !f.IsValid() {
		return nil, fmt.Errorf("%s has no field %s", rv.Type(), name)
	}
	return f.Interface(), nil
}

// truth converts a predicate value to bool. nil is false.
func truth(v any) (bool, error) {
	switch v := v.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case *bool:
		return v != nil && *v, nil
	}
	return false, fmt.Errorf("predicate evaluated to %T, want bool", v)
}

// toInt converts a Skip or Take count.
func toInt(v any) (int, error) {
	c, err := identity.Canonical(v)
	if err != nil {
		return 0, err
	}
	switch c := c.(type) {
	case int64:
		return int(c), nil
	case uint64:
		return int(c), nil
	}
	return 0, fmt.Errorf("count must be an integer, got %T", v)
}
