// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"encoding/json"
	"fmt"
)

// buildable is implemented by every builder.
type buildable[T any] interface {
	Build() (T, error)
}

// deepCopy clones v through its JSON form so the copy shares no memory with
// the original.
func deepCopy[T any](v T) (T, error) {
	return decodeAs[T](v)
}

// decodeAs converts any JSON-shaped value into T.
func decodeAs[T any](v any) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}
	return out, nil
}

// convert accepts a builder, a built definition (by value or pointer) or a
// plain decoded object and returns a validated, independent definition.
func convert[T any](name string, v any, validate func(*T) error) (T, error) {
	var zero T
	switch t := v.(type) {
	case nil:
		return zero, defError(name, "", fmt.Errorf("%w: nil", ErrUnsupportedValue))
	case buildable[T]:
		return t.Build()
	case T, *T, map[string]any:
		if p, ok := t.(*T); ok && p == nil {
			return zero, defError(name, "", fmt.Errorf("%w: nil", ErrUnsupportedValue))
		}
		out, err := decodeAs[T](t)
		if err != nil {
			return zero, defError(name, "", err)
		}
		if err := validate(&out); err != nil {
			return zero, err
		}
		return out, nil
	default:
		return zero, defError(name, "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v))
	}
}

func toValueFrom(v any) (ValueFrom, error) {
	return convert("valueFrom", v, func(d *ValueFrom) error { return d.validate("") })
}

func toValidation(v any) (Validation, error) {
	return convert("validation", v, func(d *Validation) error { return d.validate("") })
}

func toWidget(v any) (Widget, error) {
	return convert("widget", v, func(d *Widget) error { return d.validate("") })
}

func toMapKeyFunc(v any) (MapKeyFunc, error) {
	return convert("mapKeyFunc", v, func(d *MapKeyFunc) error { return d.validate("") })
}

func toSocket(v any) (SocketDefinition, error) {
	return convert("socket", v, func(d *SocketDefinition) error { return d.validate("") })
}

func toSecretProp(v any) (SecretPropDefinition, error) {
	return convert("secretProp", v, func(d *SecretPropDefinition) error { return d.validate("") })
}

func toSecretDefinition(v any) (SecretDefinition, error) {
	return convert("secretDefinition", v, func(d *SecretDefinition) error { return d.validate("") })
}

// toPropAt converts a child prop, keeping the parent path in error messages
// when the child is still a builder.
func toPropAt(v any, parent string) (PropDefinition, error) {
	if b, ok := v.(*PropBuilder); ok && b != nil {
		return b.build(parent)
	}
	return convert("prop", v, func(d *PropDefinition) error { return d.validate(parent) })
}

// NormalizeAsset validates an asset produced by a schema function, which may
// be an AssetBuilder, a built AssetDefinition or its decoded JSON form.
func NormalizeAsset(v any) (AssetDefinition, error) {
	return convert("asset", v, func(d *AssetDefinition) error { return d.validate() })
}
