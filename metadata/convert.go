package metadata

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
)

var (
	scannerType = reflect.TypeFor[sql.Scanner]()
	valuerType  = reflect.TypeFor[driver.Valuer]()
	bytesType   = reflect.TypeFor[[]byte]()
)

// Convert converts a store or client value to t. A nil value converts to
// the zero value of t.
func Convert(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if t.Kind() == reflect.Pointer && !t.Implements(scannerType) {
		ev, err := Convert(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(ev)
		return p, nil
	}
	if reflect.PointerTo(t).Implements(scannerType) {
		p := reflect.New(t)
		if err := p.Interface().(sql.Scanner).Scan(v); err != nil {
			return reflect.Value{}, err
		}
		return p.Elem(), nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Zero(t), nil
		}
		return Convert(rv.Elem().Interface(), t)
	}
	switch {
	case t.Kind() == reflect.String && rv.Type() == bytesType:
		return reflect.ValueOf(string(rv.Bytes())).Convert(t), nil
	case t == bytesType && rv.Kind() == reflect.String:
		return reflect.ValueOf([]byte(rv.String())), nil
	case t.Kind() == reflect.Bool && isInt(rv.Kind()):
		return reflect.ValueOf(rv.Int() != 0).Convert(t), nil
	case t.Kind() == reflect.Bool && isUint(rv.Kind()):
		return reflect.ValueOf(rv.Uint() != 0).Convert(t), nil
	case isNumeric(t.Kind()) && rv.Kind() == reflect.String:
		return parseNumber(rv.String(), t)
	case isNumeric(t.Kind()) && rv.Type() == bytesType:
		return parseNumber(string(rv.Bytes()), t)
	case t.Kind() == reflect.String && isNumeric(rv.Kind()):
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
	case rv.Type().ConvertibleTo(t):
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
}

// Normalize returns the driver representation of v for values that
// implement driver.Valuer, and v otherwise.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}
	if rv.Type().Implements(valuerType) {
		return v.(driver.Valuer).Value()
	}
	return v, nil
}

func parseNumber(s string, t reflect.Type) (reflect.Value, error) {
	switch {
	case isInt(t.Kind()):
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(n).Convert(t), nil
	case isUint(t.Kind()):
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(n).Convert(t), nil
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f).Convert(t), nil
	}
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isNumeric(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}
