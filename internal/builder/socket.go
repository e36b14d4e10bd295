// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// SocketDefinition is a built input or output socket.
	SocketDefinition struct {
		Name                  string      `json:"name"`
		Arity                 SocketArity `json:"arity"`
		UIHidden              bool        `json:"uiHidden,omitempty"`
		ValueFrom             *ValueFrom  `json:"valueFrom,omitempty"`
		ConnectionAnnotations []string    `json:"connectionAnnotations"`
	}

	// SocketDefinitionBuilder builds a SocketDefinition.
	SocketDefinitionBuilder struct {
		name        string
		arity       SocketArity
		uiHidden    bool
		valueFrom   any
		annotations []string
	}
)

// NewSocketDefinitionBuilder creates an empty SocketDefinitionBuilder.
func NewSocketDefinitionBuilder() *SocketDefinitionBuilder {
	return &SocketDefinitionBuilder{}
}

// SetName sets the socket name.
func (b *SocketDefinitionBuilder) SetName(name string) *SocketDefinitionBuilder {
	b.name = name
	return b
}

// SetArity sets how many connections the socket accepts (default: many).
func (b *SocketDefinitionBuilder) SetArity(arity string) *SocketDefinitionBuilder {
	b.arity = SocketArity(arity)
	return b
}

// SetUiHidden hides the socket from the diagram.
//
//nolint:revive // exposed to scripts as setUiHidden
func (b *SocketDefinitionBuilder) SetUiHidden(hidden bool) *SocketDefinitionBuilder {
	b.uiHidden = hidden
	return b
}

// SetValueFrom sets the value source of the socket.
func (b *SocketDefinitionBuilder) SetValueFrom(v any) *SocketDefinitionBuilder {
	b.valueFrom = v
	return b
}

// SetConnectionAnnotation adds an annotation that other sockets can match on.
// Repeated annotations are kept once.
func (b *SocketDefinitionBuilder) SetConnectionAnnotation(annotation string) *SocketDefinitionBuilder {
	if !slices.Contains(b.annotations, annotation) {
		b.annotations = append(b.annotations, annotation)
	}
	return b
}

// Build validates and returns the socket. Without explicit annotations the
// socket is annotated with its own name.
func (b *SocketDefinitionBuilder) Build() (SocketDefinition, error) {
	s := SocketDefinition{
		Name:                  b.name,
		Arity:                 b.arity,
		UIHidden:              b.uiHidden,
		ConnectionAnnotations: slices.Clone(b.annotations),
	}
	if b.valueFrom != nil {
		vf, err := toValueFrom(b.valueFrom)
		if err != nil {
			return SocketDefinition{}, err
		}
		s.ValueFrom = &vf
	}
	if err := s.validate(""); err != nil {
		return SocketDefinition{}, err
	}
	return s, nil
}

// validate checks the socket and fills in the default arity and annotation.
func (s *SocketDefinition) validate(parent string) error {
	path := joinPath(parent, s.Name)
	if strings.TrimSpace(s.Name) == "" {
		return defError("socket", path, ErrMissingName)
	}
	if s.Arity == "" {
		s.Arity = ArityMany
	}
	if err := s.Arity.Validate(); err != nil {
		return defError("socket", path, err)
	}
	if s.ValueFrom != nil {
		if err := s.ValueFrom.validate(path); err != nil {
			return err
		}
	}
	for _, a := range s.ConnectionAnnotations {
		if strings.TrimSpace(a) == "" {
			return defError("socket", path, fmt.Errorf("%w: empty connection annotation", ErrMissingArgument))
		}
	}
	if len(s.ConnectionAnnotations) == 0 {
		s.ConnectionAnnotations = []string{s.Name}
	}
	return nil
}
