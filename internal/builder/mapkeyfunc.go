// SPDX-License-Identifier: MPL-2.0

package builder

import "strings"

type (
	// MapKeyFunc fills one key of a map prop from a value source.
	MapKeyFunc struct {
		Key       string     `json:"key"`
		ValueFrom *ValueFrom `json:"valueFrom,omitempty"`
	}

	// MapKeyFuncBuilder builds a MapKeyFunc.
	MapKeyFuncBuilder struct {
		key       string
		valueFrom any
	}
)

// NewMapKeyFuncBuilder creates an empty MapKeyFuncBuilder.
func NewMapKeyFuncBuilder() *MapKeyFuncBuilder {
	return &MapKeyFuncBuilder{}
}

// SetKey sets the map key.
func (b *MapKeyFuncBuilder) SetKey(key string) *MapKeyFuncBuilder {
	b.key = key
	return b
}

// SetValueFrom sets the value source, a ValueFromBuilder or a built ValueFrom.
func (b *MapKeyFuncBuilder) SetValueFrom(v any) *MapKeyFuncBuilder {
	b.valueFrom = v
	return b
}

// Build validates and returns the MapKeyFunc.
func (b *MapKeyFuncBuilder) Build() (MapKeyFunc, error) {
	f := MapKeyFunc{Key: b.key}
	if b.valueFrom != nil {
		vf, err := toValueFrom(b.valueFrom)
		if err != nil {
			return MapKeyFunc{}, err
		}
		f.ValueFrom = &vf
	}
	if err := f.validate(""); err != nil {
		return MapKeyFunc{}, err
	}
	return f, nil
}

func (f *MapKeyFunc) validate(path string) error {
	if strings.TrimSpace(f.Key) == "" {
		return defError("mapKeyFunc", path, ErrMissingName)
	}
	if f.ValueFrom != nil {
		return f.ValueFrom.validate(joinPath(path, f.Key))
	}
	return nil
}
