package metadata

import (
	"reflect"

	"github.com/google/uuid"
)

// ValueGenerator produces client-side values for properties of Added
// entries whose current value is the default.
type ValueGenerator interface {
	Next(p *Property) (any, error)
}

// ValueGeneratorFunc adapts a function to ValueGenerator.
type ValueGeneratorFunc func(p *Property) (any, error)

// Next calls f(p).
func (f ValueGeneratorFunc) Next(p *Property) (any, error) { return f(p) }

// UUIDGenerator generates random UUID keys. String properties receive
// the canonical text form.
type UUIDGenerator struct{}

var uuidType = reflect.TypeFor[uuid.UUID]()

// Next returns a new version 4 UUID.
func (UUIDGenerator) Next(p *Property) (any, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	if p.Type.Kind() == reflect.String {
		return id.String(), nil
	}
	return id, nil
}
