// Package identity computes entity keys used to resolve every row of a
// logical entity to a single in-memory instance.
package identity

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/storage"
)

// EntityKey identifies one logical row of an entity type. Keys are
// comparable values: two keys are == iff the entity type matches and
// every positional key value is equal, so they can be used directly as
// map keys.
type EntityKey struct {
	entityType string
	encoded    string
}

// EntityType returns the name of the entity type.
func (k EntityKey) EntityType() string { return k.entityType }

// IsZero reports whether k is the zero key.
func (k EntityKey) IsZero() bool { return k == EntityKey{} }

// Hash returns a 64-bit hash consistent with ==.
func (k EntityKey) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(k.entityType)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.encoded)
	return d.Sum64()
}

// Values decodes the normalized key values: integers as int64 (uint64
// above the int64 range), floats as float64, byte strings as []byte.
func (k EntityKey) Values() ([]any, error) {
	var values []any
	if err := msgpack.Unmarshal([]byte(k.encoded), &values); err != nil {
		return nil, fmt.Errorf("identity: decode key: %w", err)
	}
	for i, v := range values {
		values[i] = widen(v)
	}
	return values, nil
}

// widen undoes the compact integer encoding of key values.
func widen(v any) any {
	switch v := v.(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
	case float32:
		return float64(v)
	}
	return v
}

// Compare orders keys by entity type then by encoded values.
func (k EntityKey) Compare(o EntityKey) int {
	if c := strings.Compare(k.entityType, o.entityType); c != 0 {
		return c
	}
	return strings.Compare(k.encoded, o.encoded)
}

// String returns a readable form of the key.
func (k EntityKey) String() string {
	values, err := k.Values()
	if err != nil {
		return k.entityType + "{?}"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			parts[i] = fmt.Sprintf("%x", b)
			continue
		}
		parts[i] = fmt.Sprint(v)
	}
	return k.entityType + "{" + strings.Join(parts, ", ") + "}"
}

// NullKeyPolicy decides how null key values are handled.
type NullKeyPolicy uint8

const (
	// RejectNullKeys fails key construction with *veloxrt.NullKeyError.
	RejectNullKeys NullKeyPolicy = iota
	// SentinelNullKeys encodes null as a distinguished value. All keys
	// built from the same null positions compare equal.
	SentinelNullKeys
)

// ParseNullKeyPolicy parses "reject" or "sentinel".
func ParseNullKeyPolicy(s string) (NullKeyPolicy, error) {
	switch strings.ToLower(s) {
	case "", "reject":
		return RejectNullKeys, nil
	case "sentinel":
		return SentinelNullKeys, nil
	}
	return 0, fmt.Errorf("identity: unknown null key policy %q", s)
}

// KeyFactory builds entity keys.
type KeyFactory struct {
	NullKeys NullKeyPolicy
}

// NewKeyFactory returns a KeyFactory using the given null key policy.
func NewKeyFactory(policy NullKeyPolicy) *KeyFactory {
	return &KeyFactory{NullKeys: policy}
}

// CreateKey builds the key of an entity row. Key values are read through
// the same ValueReader used for every other column, at the ordinal of
// each key property.
func (f *KeyFactory) CreateKey(et *metadata.EntityType, props []*metadata.Property, r storage.ValueReader) (EntityKey, error) {
	values := make([]any, len(props))
	for i, p := range props {
		values[i] = storage.ReadProperty(r, p)
	}
	return f.build(et, props, values)
}

// KeyOf builds a key from a property value source, typically a tracked
// entry or a live entity.
func (f *KeyFactory) KeyOf(et *metadata.EntityType, props []*metadata.Property, value func(*metadata.Property) any) (EntityKey, error) {
	values := make([]any, len(props))
	for i, p := range props {
		values[i] = value(p)
	}
	return f.build(et, props, values)
}

// KeyFromValues builds a key from already extracted values.
func (f *KeyFactory) KeyFromValues(et *metadata.EntityType, values ...any) (EntityKey, error) {
	return f.build(et, et.Key(), values)
}

func (f *KeyFactory) build(et *metadata.EntityType, props []*metadata.Property, values []any) (EntityKey, error) {
	if len(values) != len(props) {
		return EntityKey{}, fmt.Errorf("identity: %s key has %d parts, got %d values", et.Name, len(props), len(values))
	}
	norm := make([]any, len(values))
	for i, v := range values {
		n, err := normalize(v)
		if err != nil {
			return EntityKey{}, fmt.Errorf("identity: %s: %w", props[i], err)
		}
		if n == nil && f.NullKeys == RejectNullKeys {
			return EntityKey{}, &veloxrt.NullKeyError{Entity: et.Name, Property: props[i].Name}
		}
		if fv, ok := n.(float64); ok {
			// Keys compare by value: -0 equals 0 and NaN equals nothing.
			if math.IsNaN(fv) {
				return EntityKey{}, fmt.Errorf("identity: %s: NaN is not a key value", props[i])
			}
			if fv == 0 {
				n = float64(0)
			}
		}
		norm[i] = n
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(norm); err != nil {
		return EntityKey{}, fmt.Errorf("identity: encode %s key: %w", et.Name, err)
	}
	return EntityKey{entityType: et.Name, encoded: buf.String()}, nil
}

// normalize maps a key value to a canonical representation so that
// equal values of different widths or wrappers encode identically.
func normalize(v any) (any, error) {
	v, err := metadata.Normalize(v)
	if err != nil || v == nil {
		return v, err
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= 1<<63-1 {
			return int64(u), nil
		}
		return u, nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte{}, rv.Bytes()...), nil
		}
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return b, nil
		}
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface())
	}
	return v, nil
}

// Canonical returns a comparable canonical form of a scalar value, the
// same one keys are built from: integers widen to int64, floats to
// float64, byte slices and arrays become strings and pointers are
// dereferenced.
func Canonical(v any) (any, error) {
	n, err := normalize(v)
	if b, ok := n.([]byte); ok {
		return string(b), err
	}
	return n, err
}
