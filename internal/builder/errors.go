// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDefinition is the sentinel error wrapped by DefinitionError.
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrMissingName is returned when a definition has no name.
	ErrMissingName = errors.New("name is required")
	// ErrMissingKind is returned when a prop has no kind.
	ErrMissingKind = errors.New("kind is required")
	// ErrDuplicateName is returned when two siblings share a name.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrMissingEntry is returned when an array or map prop has no entry.
	ErrMissingEntry = errors.New("entry is required for array and map props")
	// ErrUnexpectedChildren is returned when children are attached to a
	// non-object prop or an entry to a non-collection prop.
	ErrUnexpectedChildren = errors.New("children not allowed for this kind")
	// ErrMissingArgument is returned when a validation or value source lacks
	// a field its kind requires.
	ErrMissingArgument = errors.New("missing required argument")
	// ErrUnsupportedValue is returned when a builder receives a value it
	// cannot turn into a definition.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// DefinitionError reports why a definition failed to build.
// It wraps ErrInvalidDefinition and the specific cause for errors.Is().
type DefinitionError struct {
	// Builder names the builder type, e.g. "prop" or "socket".
	Builder string
	// Path locates the definition, e.g. "root/domain/region".
	Path string
	// Err is the specific cause.
	Err error
}

// Error implements the error interface for DefinitionError.
func (e *DefinitionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid %s definition: %v", e.Builder, e.Err)
	}
	return fmt.Sprintf("invalid %s definition %q: %v", e.Builder, e.Path, e.Err)
}

// Unwrap returns ErrInvalidDefinition and the cause.
func (e *DefinitionError) Unwrap() []error { return []error{ErrInvalidDefinition, e.Err} }

func defError(builder, path string, err error) error {
	return &DefinitionError{Builder: builder, Path: path, Err: err}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	if name == "" {
		name = "<unnamed>"
	}
	return parent + "/" + name
}
