// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"slices"
	"strings"
)

type (
	// ValueFrom says where a prop or socket takes its value from.
	ValueFrom struct {
		Kind       ValueFromKind `json:"kind"`
		SocketName string        `json:"socketName,omitempty"`
		PropPath   []string      `json:"propPath,omitempty"`
	}

	// ValueFromBuilder builds a ValueFrom.
	ValueFromBuilder struct {
		v ValueFrom
	}
)

// NewValueFromBuilder creates an empty ValueFromBuilder.
func NewValueFromBuilder() *ValueFromBuilder {
	return &ValueFromBuilder{}
}

// SetKind sets where the value comes from: inputSocket, outputSocket or prop.
func (b *ValueFromBuilder) SetKind(kind string) *ValueFromBuilder {
	b.v.Kind = ValueFromKind(kind)
	return b
}

// SetSocketName names the socket for the socket kinds.
func (b *ValueFromBuilder) SetSocketName(name string) *ValueFromBuilder {
	b.v.SocketName = name
	return b
}

// SetPropPath sets the path of the source prop, e.g. ["root", "si", "name"].
func (b *ValueFromBuilder) SetPropPath(path []string) *ValueFromBuilder {
	b.v.PropPath = slices.Clone(path)
	return b
}

// Build validates and returns the ValueFrom.
func (b *ValueFromBuilder) Build() (ValueFrom, error) {
	v := ValueFrom{
		Kind:       b.v.Kind,
		SocketName: b.v.SocketName,
		PropPath:   slices.Clone(b.v.PropPath),
	}
	if err := v.validate(""); err != nil {
		return ValueFrom{}, err
	}
	return v, nil
}

func (v *ValueFrom) validate(path string) error {
	if v.Kind == "" {
		return defError("valueFrom", path, ErrMissingKind)
	}
	if err := v.Kind.Validate(); err != nil {
		return defError("valueFrom", path, err)
	}
	switch v.Kind {
	case ValueFromInputSocket, ValueFromOutputSocket:
		if strings.TrimSpace(v.SocketName) == "" {
			return defError("valueFrom", path, ErrMissingArgument)
		}
	case ValueFromProp:
		if len(v.PropPath) == 0 {
			return defError("valueFrom", path, ErrMissingArgument)
		}
	}
	return nil
}
