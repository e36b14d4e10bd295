// SPDX-License-Identifier: MPL-2.0

package builder

import "fmt"

const (
	// ValidationCustom runs user supplied validation source.
	ValidationCustom ValidationKind = "customValidation"
	// ValidationIntegerBetween requires lowerBound and upperBound.
	ValidationIntegerBetween ValidationKind = "integerIsBetweenTwoIntegers"
	// ValidationIntegerNotEmpty rejects unset integers.
	ValidationIntegerNotEmpty ValidationKind = "integerIsNotEmpty"
	// ValidationStringEquals requires expected.
	ValidationStringEquals ValidationKind = "stringEquals"
	// ValidationStringHasPrefix requires expected.
	ValidationStringHasPrefix ValidationKind = "stringHasPrefix"
	// ValidationStringInArray requires expected.
	ValidationStringInArray ValidationKind = "stringInStringArray"
	// ValidationStringHexColor accepts #rrggbb colors.
	ValidationStringHexColor ValidationKind = "stringIsHexColor"
	// ValidationStringNotEmpty rejects empty strings.
	ValidationStringNotEmpty ValidationKind = "stringIsNotEmpty"
	// ValidationStringIPAddr accepts IPv4 and IPv6 addresses.
	ValidationStringIPAddr ValidationKind = "stringIsValidIpAddr"
)

// requiredArgs lists the arguments each validation kind cannot do without.
var requiredArgs = map[ValidationKind][]string{
	ValidationIntegerBetween:  {"lowerBound", "upperBound"},
	ValidationStringEquals:    {"expected"},
	ValidationStringHasPrefix: {"expected"},
	ValidationStringInArray:   {"expected"},
}

type (
	// ValidationKind names a validation rule.
	ValidationKind string

	// InvalidValidationKindError is returned when a ValidationKind value is not recognized.
	// It wraps ErrInvalidValidationKind for errors.Is() compatibility.
	InvalidValidationKindError struct {
		Value ValidationKind
	}

	// Validation is a rule attached to a prop.
	Validation struct {
		Kind ValidationKind `json:"kind"`
		Args map[string]any `json:"args,omitempty"`
	}

	// ValidationBuilder builds a Validation.
	ValidationBuilder struct {
		kind ValidationKind
		args map[string]any
	}
)

// Validate returns nil if the ValidationKind is one of the defined rules.
func (k ValidationKind) Validate() error {
	switch k {
	case ValidationCustom, ValidationIntegerBetween, ValidationIntegerNotEmpty,
		ValidationStringEquals, ValidationStringHasPrefix, ValidationStringInArray,
		ValidationStringHexColor, ValidationStringNotEmpty, ValidationStringIPAddr:
		return nil
	default:
		return &InvalidValidationKindError{Value: k}
	}
}

// Error implements the error interface for InvalidValidationKindError.
func (e *InvalidValidationKindError) Error() string {
	return fmt.Sprintf("invalid validation kind %q", e.Value)
}

// Unwrap returns ErrInvalidValidationKind for errors.Is() compatibility.
func (e *InvalidValidationKindError) Unwrap() error { return ErrInvalidValidationKind }

// NewValidationBuilder creates an empty ValidationBuilder.
func NewValidationBuilder() *ValidationBuilder {
	return &ValidationBuilder{args: make(map[string]any)}
}

// SetKind sets the rule.
func (b *ValidationBuilder) SetKind(kind string) *ValidationBuilder {
	b.kind = ValidationKind(kind)
	return b
}

// AddArg sets a named argument of the rule.
func (b *ValidationBuilder) AddArg(name string, value any) *ValidationBuilder {
	b.args[name] = value
	return b
}

// Build validates and returns the Validation.
func (b *ValidationBuilder) Build() (Validation, error) {
	args, err := deepCopy(b.args)
	if err != nil {
		return Validation{}, defError("validation", string(b.kind), err)
	}
	v := Validation{Kind: b.kind}
	if len(args) > 0 {
		v.Args = args
	}
	if err := v.validate(""); err != nil {
		return Validation{}, err
	}
	return v, nil
}

func (v *Validation) validate(path string) error {
	if v.Kind == "" {
		return defError("validation", path, ErrMissingKind)
	}
	if err := v.Kind.Validate(); err != nil {
		return defError("validation", path, err)
	}
	for _, name := range requiredArgs[v.Kind] {
		if _, ok := v.Args[name]; !ok {
			return defError("validation", path, fmt.Errorf("%w: %s requires %q", ErrMissingArgument, v.Kind, name))
		}
	}
	return nil
}
