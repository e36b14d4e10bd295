// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"errors"
	"fmt"
)

const (
	// PropKindString is a text value.
	PropKindString PropKind = "string"
	// PropKindNumber is a floating point value.
	PropKindNumber PropKind = "number"
	// PropKindInteger is a whole number.
	PropKindInteger PropKind = "integer"
	// PropKindBoolean is true or false.
	PropKindBoolean PropKind = "boolean"
	// PropKindObject groups named children.
	PropKindObject PropKind = "object"
	// PropKindArray is a list of entries of one shape.
	PropKindArray PropKind = "array"
	// PropKindMap is a string-keyed collection of entries of one shape.
	PropKindMap PropKind = "map"
	// PropKindJSON is an opaque JSON document.
	PropKindJSON PropKind = "json"

	// ArityOne accepts a single connection.
	ArityOne SocketArity = "one"
	// ArityMany accepts any number of connections.
	ArityMany SocketArity = "many"

	// ValueFromInputSocket reads from an input socket.
	ValueFromInputSocket ValueFromKind = "inputSocket"
	// ValueFromOutputSocket reads from an output socket.
	ValueFromOutputSocket ValueFromKind = "outputSocket"
	// ValueFromProp reads from another prop.
	ValueFromProp ValueFromKind = "prop"
)

var (
	// ErrInvalidPropKind is returned when a PropKind value is not recognized.
	ErrInvalidPropKind = errors.New("invalid prop kind")
	// ErrInvalidSocketArity is returned when a SocketArity value is not recognized.
	ErrInvalidSocketArity = errors.New("invalid socket arity")
	// ErrInvalidValueFromKind is returned when a ValueFromKind value is not recognized.
	ErrInvalidValueFromKind = errors.New("invalid value source kind")
	// ErrInvalidValidationKind is returned when a ValidationKind value is not recognized.
	ErrInvalidValidationKind = errors.New("invalid validation kind")
	// ErrInvalidWidgetKind is returned when a WidgetKind value is not recognized.
	ErrInvalidWidgetKind = errors.New("invalid widget kind")
)

type (
	// PropKind is the value type of a prop.
	PropKind string

	// SocketArity is how many connections a socket accepts.
	SocketArity string

	// ValueFromKind is where a value source reads from.
	ValueFromKind string

	// InvalidPropKindError is returned when a PropKind value is not recognized.
	// It wraps ErrInvalidPropKind for errors.Is() compatibility.
	InvalidPropKindError struct {
		Value PropKind
	}

	// InvalidSocketArityError is returned when a SocketArity value is not recognized.
	// It wraps ErrInvalidSocketArity for errors.Is() compatibility.
	InvalidSocketArityError struct {
		Value SocketArity
	}

	// InvalidValueFromKindError is returned when a ValueFromKind value is not recognized.
	// It wraps ErrInvalidValueFromKind for errors.Is() compatibility.
	InvalidValueFromKindError struct {
		Value ValueFromKind
	}
)

// Validate returns nil if the PropKind is one of the defined kinds.
func (k PropKind) Validate() error {
	switch k {
	case PropKindString, PropKindNumber, PropKindInteger, PropKindBoolean,
		PropKindObject, PropKindArray, PropKindMap, PropKindJSON:
		return nil
	default:
		return &InvalidPropKindError{Value: k}
	}
}

// IsContainer reports whether props of this kind hold other props.
func (k PropKind) IsContainer() bool {
	return k == PropKindObject || k == PropKindArray || k == PropKindMap
}

// Validate returns nil if the SocketArity is one or many.
func (a SocketArity) Validate() error {
	switch a {
	case ArityOne, ArityMany:
		return nil
	default:
		return &InvalidSocketArityError{Value: a}
	}
}

// Validate returns nil if the ValueFromKind is one of the defined kinds.
func (k ValueFromKind) Validate() error {
	switch k {
	case ValueFromInputSocket, ValueFromOutputSocket, ValueFromProp:
		return nil
	default:
		return &InvalidValueFromKindError{Value: k}
	}
}

// Error implements the error interface for InvalidPropKindError.
func (e *InvalidPropKindError) Error() string {
	return fmt.Sprintf("invalid prop kind %q (valid: string, number, integer, boolean, object, array, map, json)", e.Value)
}

// Unwrap returns ErrInvalidPropKind for errors.Is() compatibility.
func (e *InvalidPropKindError) Unwrap() error { return ErrInvalidPropKind }

// Error implements the error interface for InvalidSocketArityError.
func (e *InvalidSocketArityError) Error() string {
	return fmt.Sprintf("invalid socket arity %q (valid: one, many)", e.Value)
}

// Unwrap returns ErrInvalidSocketArity for errors.Is() compatibility.
func (e *InvalidSocketArityError) Unwrap() error { return ErrInvalidSocketArity }

// Error implements the error interface for InvalidValueFromKindError.
func (e *InvalidValueFromKindError) Error() string {
	return fmt.Sprintf("invalid value source kind %q (valid: inputSocket, outputSocket, prop)", e.Value)
}

// Unwrap returns ErrInvalidValueFromKind for errors.Is() compatibility.
func (e *InvalidValueFromKindError) Unwrap() error { return ErrInvalidValueFromKind }
