// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"fmt"
	"slices"
)

// Widget kinds understood by the editor.
const (
	WidgetArray      WidgetKind = "array"
	WidgetCheckbox   WidgetKind = "checkbox"
	WidgetCodeEditor WidgetKind = "codeEditor"
	WidgetColor      WidgetKind = "color"
	WidgetComboBox   WidgetKind = "comboBox"
	WidgetHeader     WidgetKind = "header"
	WidgetMap        WidgetKind = "map"
	WidgetPassword   WidgetKind = "password"
	WidgetSecret     WidgetKind = "secret"
	WidgetSelect     WidgetKind = "select"
	WidgetText       WidgetKind = "text"
	WidgetTextArea   WidgetKind = "textArea"
)

type (
	// WidgetKind is how a prop is edited.
	WidgetKind string

	// InvalidWidgetKindError is returned when a WidgetKind value is not recognized.
	// It wraps ErrInvalidWidgetKind for errors.Is() compatibility.
	InvalidWidgetKindError struct {
		Value WidgetKind
	}

	// WidgetOption is one selectable label/value pair.
	WidgetOption struct {
		Label string `json:"label"`
		Value string `json:"value"`
	}

	// Widget describes the editor of a prop.
	Widget struct {
		Kind    WidgetKind     `json:"kind"`
		Options []WidgetOption `json:"options,omitempty"`
	}

	// PropWidgetDefinitionBuilder builds a Widget.
	PropWidgetDefinitionBuilder struct {
		w Widget
	}
)

// Validate returns nil if the WidgetKind is one of the defined editors.
func (k WidgetKind) Validate() error {
	switch k {
	case WidgetArray, WidgetCheckbox, WidgetCodeEditor, WidgetColor, WidgetComboBox, WidgetHeader,
		WidgetMap, WidgetPassword, WidgetSecret, WidgetSelect, WidgetText, WidgetTextArea:
		return nil
	default:
		return &InvalidWidgetKindError{Value: k}
	}
}

// Error implements the error interface for InvalidWidgetKindError.
func (e *InvalidWidgetKindError) Error() string {
	return fmt.Sprintf("invalid widget kind %q", e.Value)
}

// Unwrap returns ErrInvalidWidgetKind for errors.Is() compatibility.
func (e *InvalidWidgetKindError) Unwrap() error { return ErrInvalidWidgetKind }

// NewPropWidgetDefinitionBuilder creates an empty widget builder.
func NewPropWidgetDefinitionBuilder() *PropWidgetDefinitionBuilder {
	return &PropWidgetDefinitionBuilder{}
}

// SetKind sets the editor kind.
func (b *PropWidgetDefinitionBuilder) SetKind(kind string) *PropWidgetDefinitionBuilder {
	b.w.Kind = WidgetKind(kind)
	return b
}

// AddOption appends a selectable option.
func (b *PropWidgetDefinitionBuilder) AddOption(label, value string) *PropWidgetDefinitionBuilder {
	b.w.Options = append(b.w.Options, WidgetOption{Label: label, Value: value})
	return b
}

// Build validates and returns the Widget.
func (b *PropWidgetDefinitionBuilder) Build() (Widget, error) {
	w := Widget{Kind: b.w.Kind, Options: slices.Clone(b.w.Options)}
	if err := w.validate(""); err != nil {
		return Widget{}, err
	}
	return w, nil
}

func (w *Widget) validate(path string) error {
	if w.Kind == "" {
		return defError("widget", path, ErrMissingKind)
	}
	if err := w.Kind.Validate(); err != nil {
		return defError("widget", path, err)
	}
	return nil
}
