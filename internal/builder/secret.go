// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"fmt"
	"strings"
)

type (
	// SecretPropDefinition is a prop that references a secret of a given
	// secret kind. Its kind is always string and its editor is a secret widget.
	SecretPropDefinition struct {
		Name           string       `json:"name"`
		Kind           PropKind     `json:"kind"`
		SecretKind     string       `json:"secretKind"`
		Required       bool         `json:"required,omitempty"`
		DocLink        string       `json:"docLink,omitempty"`
		DocLinkRef     string       `json:"docLinkRef,omitempty"`
		Documentation  string       `json:"documentation,omitempty"`
		Widget         Widget       `json:"widget"`
		Validations    []Validation `json:"validations,omitempty"`
		HasInputSocket bool         `json:"hasInputSocket"`
	}

	// SecretPropBuilder builds a SecretPropDefinition.
	SecretPropBuilder struct {
		name          string
		secretKind    string
		required      bool
		docLink       string
		docLinkRef    string
		documentation string
		validations   []any
		skipSocket    bool
	}

	// SecretDefinition describes the fields of a secret kind.
	SecretDefinition struct {
		Name  string           `json:"name"`
		Props []PropDefinition `json:"props"`
	}

	// SecretDefinitionBuilder builds a SecretDefinition.
	SecretDefinitionBuilder struct {
		name  string
		props []any
	}
)

// NewSecretPropBuilder creates an empty SecretPropBuilder.
func NewSecretPropBuilder() *SecretPropBuilder {
	return &SecretPropBuilder{}
}

// SetName sets the prop name.
func (b *SecretPropBuilder) SetName(name string) *SecretPropBuilder {
	b.name = name
	return b
}

// SetSecretKind sets the kind of secret the prop references.
func (b *SecretPropBuilder) SetSecretKind(kind string) *SecretPropBuilder {
	b.secretKind = kind
	return b
}

// SetRequired marks the prop as required.
func (b *SecretPropBuilder) SetRequired(required bool) *SecretPropBuilder {
	b.required = required
	return b
}

// SetDocLink sets an external documentation URL.
func (b *SecretPropBuilder) SetDocLink(link string) *SecretPropBuilder {
	b.docLink = link
	return b
}

// SetDocLinkRef points at an entry of the asset's doc links.
func (b *SecretPropBuilder) SetDocLinkRef(ref string) *SecretPropBuilder {
	b.docLinkRef = ref
	return b
}

// SetDocumentation sets inline documentation.
func (b *SecretPropBuilder) SetDocumentation(doc string) *SecretPropBuilder {
	b.documentation = doc
	return b
}

// AddValidation appends a rule.
func (b *SecretPropBuilder) AddValidation(v any) *SecretPropBuilder {
	b.validations = append(b.validations, v)
	return b
}

// SkipInputSocket stops the prop from getting a matching input socket.
func (b *SecretPropBuilder) SkipInputSocket() *SecretPropBuilder {
	b.skipSocket = true
	return b
}

// Build validates and returns the secret prop.
func (b *SecretPropBuilder) Build() (SecretPropDefinition, error) {
	p := SecretPropDefinition{
		Name:           b.name,
		SecretKind:     b.secretKind,
		Required:       b.required,
		DocLink:        b.docLink,
		DocLinkRef:     b.docLinkRef,
		Documentation:  b.documentation,
		HasInputSocket: !b.skipSocket,
	}
	for _, v := range b.validations {
		val, err := toValidation(v)
		if err != nil {
			return SecretPropDefinition{}, err
		}
		p.Validations = append(p.Validations, val)
	}
	if err := p.validate(""); err != nil {
		return SecretPropDefinition{}, err
	}
	return p, nil
}

// validate checks the secret prop and fills in its fixed kind and widget.
func (p *SecretPropDefinition) validate(parent string) error {
	path := joinPath(parent, p.Name)
	if strings.TrimSpace(p.Name) == "" {
		return defError("secretProp", path, ErrMissingName)
	}
	if strings.TrimSpace(p.SecretKind) == "" {
		return defError("secretProp", path, fmt.Errorf("%w: secret kind", ErrMissingKind))
	}
	if p.Kind != "" && p.Kind != PropKindString {
		return defError("secretProp", path, &InvalidPropKindError{Value: p.Kind})
	}
	p.Kind = PropKindString
	p.Widget = Widget{
		Kind:    WidgetSecret,
		Options: []WidgetOption{{Label: "secretKind", Value: p.SecretKind}},
	}
	for i := range p.Validations {
		if err := p.Validations[i].validate(path); err != nil {
			return err
		}
	}
	return nil
}

// NewSecretDefinitionBuilder creates an empty SecretDefinitionBuilder.
func NewSecretDefinitionBuilder() *SecretDefinitionBuilder {
	return &SecretDefinitionBuilder{}
}

// SetName sets the secret kind name.
func (b *SecretDefinitionBuilder) SetName(name string) *SecretDefinitionBuilder {
	b.name = name
	return b
}

// AddProp appends a field of the secret.
func (b *SecretDefinitionBuilder) AddProp(p any) *SecretDefinitionBuilder {
	b.props = append(b.props, p)
	return b
}

// Build validates and returns the secret definition.
func (b *SecretDefinitionBuilder) Build() (SecretDefinition, error) {
	d := SecretDefinition{Name: b.name, Props: []PropDefinition{}}
	for _, p := range b.props {
		prop, err := toPropAt(p, joinPath("secret", b.name))
		if err != nil {
			return SecretDefinition{}, err
		}
		d.Props = append(d.Props, prop)
	}
	if err := d.validate(""); err != nil {
		return SecretDefinition{}, err
	}
	return d, nil
}

func (d *SecretDefinition) validate(string) error {
	if strings.TrimSpace(d.Name) == "" {
		return defError("secretDefinition", "", ErrMissingName)
	}
	if d.Props == nil {
		d.Props = []PropDefinition{}
	}
	return validateSiblings(joinPath("secret", d.Name), d.Props)
}
