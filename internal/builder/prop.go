// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"fmt"
	"strings"
)

type (
	// PropDefinition is a built prop. Object props carry Children, array and
	// map props carry Entry.
	PropDefinition struct {
		Name          string           `json:"name"`
		Kind          PropKind         `json:"kind"`
		Required      bool             `json:"required,omitempty"`
		Hidden        bool             `json:"hidden,omitempty"`
		DocLink       string           `json:"docLink,omitempty"`
		DocLinkRef    string           `json:"docLinkRef,omitempty"`
		Documentation string           `json:"documentation,omitempty"`
		DefaultValue  any              `json:"defaultValue,omitempty"`
		Widget        *Widget          `json:"widget,omitempty"`
		ValueFrom     *ValueFrom       `json:"valueFrom,omitempty"`
		Validations   []Validation     `json:"validations,omitempty"`
		MapKeyFuncs   []MapKeyFunc     `json:"mapKeyFuncs,omitempty"`
		Children      []PropDefinition `json:"children,omitempty"`
		Entry         *PropDefinition  `json:"entry,omitempty"`
	}

	// PropBuilder builds a PropDefinition.
	PropBuilder struct {
		name          string
		kind          PropKind
		required      bool
		hidden        bool
		docLink       string
		docLinkRef    string
		documentation string
		defaultValue  any
		hasDefault    bool
		widget        any
		valueFrom     any
		entry         any
		children      []any
		validations   []any
		mapKeyFuncs   []any
	}
)

// NewPropBuilder creates an empty PropBuilder.
func NewPropBuilder() *PropBuilder {
	return &PropBuilder{}
}

// SetName sets the prop name, unique among its siblings.
func (b *PropBuilder) SetName(name string) *PropBuilder {
	b.name = name
	return b
}

// SetKind sets the value type.
func (b *PropBuilder) SetKind(kind string) *PropBuilder {
	b.kind = PropKind(kind)
	return b
}

// SetRequired marks the prop as required.
func (b *PropBuilder) SetRequired(required bool) *PropBuilder {
	b.required = required
	return b
}

// SetHidden hides the prop from editors.
func (b *PropBuilder) SetHidden(hidden bool) *PropBuilder {
	b.hidden = hidden
	return b
}

// SetDocLink sets an external documentation URL.
func (b *PropBuilder) SetDocLink(link string) *PropBuilder {
	b.docLink = link
	return b
}

// SetDocLinkRef points at an entry of the asset's doc links.
func (b *PropBuilder) SetDocLinkRef(ref string) *PropBuilder {
	b.docLinkRef = ref
	return b
}

// SetDocumentation sets inline documentation.
func (b *PropBuilder) SetDocumentation(doc string) *PropBuilder {
	b.documentation = doc
	return b
}

// SetDefaultValue sets the default. It must be JSON-serializable.
func (b *PropBuilder) SetDefaultValue(v any) *PropBuilder {
	b.defaultValue = v
	b.hasDefault = true
	return b
}

// SetWidget sets the editor, a PropWidgetDefinitionBuilder or a built Widget.
func (b *PropBuilder) SetWidget(w any) *PropBuilder {
	b.widget = w
	return b
}

// SetValueFrom sets the value source, a ValueFromBuilder or a built ValueFrom.
func (b *PropBuilder) SetValueFrom(v any) *PropBuilder {
	b.valueFrom = v
	return b
}

// AddValidation appends a rule, a ValidationBuilder or a built Validation.
func (b *PropBuilder) AddValidation(v any) *PropBuilder {
	b.validations = append(b.validations, v)
	return b
}

// AddMapKeyFunc appends a key function for map props.
func (b *PropBuilder) AddMapKeyFunc(f any) *PropBuilder {
	b.mapKeyFuncs = append(b.mapKeyFuncs, f)
	return b
}

// AddChild appends a child of an object prop, a PropBuilder or a built
// PropDefinition.
func (b *PropBuilder) AddChild(child any) *PropBuilder {
	b.children = append(b.children, child)
	return b
}

// SetEntry sets the entry shape of an array or map prop.
func (b *PropBuilder) SetEntry(entry any) *PropBuilder {
	b.entry = entry
	return b
}

// Build validates the prop tree and returns an independent copy of it.
func (b *PropBuilder) Build() (PropDefinition, error) {
	return b.build("")
}

func (b *PropBuilder) build(parent string) (PropDefinition, error) {
	path := joinPath(parent, b.name)
	p := PropDefinition{
		Name:          b.name,
		Kind:          b.kind,
		Required:      b.required,
		Hidden:        b.hidden,
		DocLink:       b.docLink,
		DocLinkRef:    b.docLinkRef,
		Documentation: b.documentation,
	}

	if b.hasDefault {
		dv, err := deepCopy(b.defaultValue)
		if err != nil {
			return PropDefinition{}, defError("prop", path, err)
		}
		p.DefaultValue = dv
	}
	if b.widget != nil {
		w, err := toWidget(b.widget)
		if err != nil {
			return PropDefinition{}, err
		}
		p.Widget = &w
	}
	if b.valueFrom != nil {
		vf, err := toValueFrom(b.valueFrom)
		if err != nil {
			return PropDefinition{}, err
		}
		p.ValueFrom = &vf
	}
	for _, v := range b.validations {
		val, err := toValidation(v)
		if err != nil {
			return PropDefinition{}, err
		}
		p.Validations = append(p.Validations, val)
	}
	for _, f := range b.mapKeyFuncs {
		mkf, err := toMapKeyFunc(f)
		if err != nil {
			return PropDefinition{}, err
		}
		p.MapKeyFuncs = append(p.MapKeyFuncs, mkf)
	}
	for _, c := range b.children {
		child, err := toPropAt(c, path)
		if err != nil {
			return PropDefinition{}, err
		}
		p.Children = append(p.Children, child)
	}
	if b.entry != nil {
		entry, err := toPropAt(b.entry, path)
		if err != nil {
			return PropDefinition{}, err
		}
		p.Entry = &entry
	}

	if err := p.validate(parent); err != nil {
		return PropDefinition{}, err
	}
	return p, nil
}

// validate checks the prop and its subtree.
func (p *PropDefinition) validate(parent string) error {
	path := joinPath(parent, p.Name)

	if strings.TrimSpace(p.Name) == "" {
		return defError("prop", path, ErrMissingName)
	}
	if p.Kind == "" {
		return defError("prop", path, ErrMissingKind)
	}
	if err := p.Kind.Validate(); err != nil {
		return defError("prop", path, err)
	}

	if len(p.Children) > 0 && p.Kind != PropKindObject {
		return defError("prop", path, fmt.Errorf("%w: only object props have children", ErrUnexpectedChildren))
	}
	isCollection := p.Kind == PropKindArray || p.Kind == PropKindMap
	if p.Entry != nil && !isCollection {
		return defError("prop", path, fmt.Errorf("%w: only array and map props have an entry", ErrUnexpectedChildren))
	}
	if isCollection && p.Entry == nil {
		return defError("prop", path, ErrMissingEntry)
	}
	if len(p.MapKeyFuncs) > 0 && p.Kind != PropKindMap {
		return defError("prop", path, fmt.Errorf("%w: only map props have key functions", ErrUnexpectedChildren))
	}

	if p.Widget != nil {
		if err := p.Widget.validate(path); err != nil {
			return err
		}
	}
	if p.ValueFrom != nil {
		if err := p.ValueFrom.validate(path); err != nil {
			return err
		}
	}
	for i := range p.Validations {
		if err := p.Validations[i].validate(path); err != nil {
			return err
		}
	}
	for i := range p.MapKeyFuncs {
		if err := p.MapKeyFuncs[i].validate(path); err != nil {
			return err
		}
	}

	if err := validateSiblings(path, p.Children); err != nil {
		return err
	}
	if p.Entry != nil {
		return p.Entry.validate(path)
	}
	return nil
}

// validateSiblings validates each prop and rejects duplicate names.
func validateSiblings(parent string, props []PropDefinition) error {
	seen := make(map[string]struct{}, len(props))
	for i := range props {
		if err := props[i].validate(parent); err != nil {
			return err
		}
		if _, dup := seen[props[i].Name]; dup {
			return defError("prop", joinPath(parent, props[i].Name), ErrDuplicateName)
		}
		seen[props[i].Name] = struct{}{}
	}
	return nil
}
