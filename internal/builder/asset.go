// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"maps"
	"strings"
)

// Tree roots of the built asset, used in error paths.
const (
	pathDomain   = "root/domain"
	pathSecrets  = "root/secrets"
	pathResource = "root/resource_value"
)

type (
	// AssetDefinition is the built schema of an asset.
	AssetDefinition struct {
		Props            []PropDefinition       `json:"props"`
		SecretProps      []SecretPropDefinition `json:"secretProps"`
		SecretDefinition []PropDefinition       `json:"secretDefinition,omitempty"`
		ResourceProps    []PropDefinition       `json:"resourceProps"`
		InputSockets     []SocketDefinition     `json:"inputSockets"`
		OutputSockets    []SocketDefinition     `json:"outputSockets"`
		DocLinks         map[string]string      `json:"docLinks"`
	}

	// AssetBuilder assembles an AssetDefinition.
	AssetBuilder struct {
		props         []any
		secretProps   []any
		resourceProps []any
		inputSockets  []any
		outputSockets []any
		secret        any
		docLinks      map[string]string
	}
)

// NewAssetBuilder creates an empty AssetBuilder.
func NewAssetBuilder() *AssetBuilder {
	return &AssetBuilder{docLinks: make(map[string]string)}
}

// AddProp appends a domain prop.
func (b *AssetBuilder) AddProp(p any) *AssetBuilder {
	b.props = append(b.props, p)
	return b
}

// AddSecretProp appends a secret prop. Secret props share the name space of
// domain props.
func (b *AssetBuilder) AddSecretProp(p any) *AssetBuilder {
	b.secretProps = append(b.secretProps, p)
	return b
}

// AddResourceProp appends a prop of the resource value.
func (b *AssetBuilder) AddResourceProp(p any) *AssetBuilder {
	b.resourceProps = append(b.resourceProps, p)
	return b
}

// AddInputSocket appends an input socket.
func (b *AssetBuilder) AddInputSocket(s any) *AssetBuilder {
	b.inputSockets = append(b.inputSockets, s)
	return b
}

// AddOutputSocket appends an output socket.
func (b *AssetBuilder) AddOutputSocket(s any) *AssetBuilder {
	b.outputSockets = append(b.outputSockets, s)
	return b
}

// DefineSecret turns the asset into the definition of a secret kind. Build
// adds a secret prop and an output socket named after the secret.
func (b *AssetBuilder) DefineSecret(d any) *AssetBuilder {
	b.secret = d
	return b
}

// AddDocLink registers a named documentation URL.
func (b *AssetBuilder) AddDocLink(key, url string) *AssetBuilder {
	b.docLinks[key] = url
	return b
}

// Build validates the whole asset and returns an independent copy.
func (b *AssetBuilder) Build() (AssetDefinition, error) {
	a := AssetDefinition{
		Props:         []PropDefinition{},
		SecretProps:   []SecretPropDefinition{},
		ResourceProps: []PropDefinition{},
		InputSockets:  []SocketDefinition{},
		OutputSockets: []SocketDefinition{},
		DocLinks:      maps.Clone(b.docLinks),
	}
	if a.DocLinks == nil {
		a.DocLinks = map[string]string{}
	}

	for _, p := range b.props {
		prop, err := toPropAt(p, pathDomain)
		if err != nil {
			return AssetDefinition{}, err
		}
		a.Props = append(a.Props, prop)
	}
	for _, p := range b.secretProps {
		sp, err := toSecretProp(p)
		if err != nil {
			return AssetDefinition{}, err
		}
		a.SecretProps = append(a.SecretProps, sp)
	}
	for _, p := range b.resourceProps {
		prop, err := toPropAt(p, pathResource)
		if err != nil {
			return AssetDefinition{}, err
		}
		a.ResourceProps = append(a.ResourceProps, prop)
	}
	for _, s := range b.inputSockets {
		sock, err := toSocket(s)
		if err != nil {
			return AssetDefinition{}, err
		}
		a.InputSockets = append(a.InputSockets, sock)
	}
	for _, s := range b.outputSockets {
		sock, err := toSocket(s)
		if err != nil {
			return AssetDefinition{}, err
		}
		a.OutputSockets = append(a.OutputSockets, sock)
	}

	if b.secret != nil {
		def, err := toSecretDefinition(b.secret)
		if err != nil {
			return AssetDefinition{}, err
		}
		a.SecretDefinition = def.Props
		a.SecretProps = append(a.SecretProps, SecretPropDefinition{
			Name:           def.Name,
			SecretKind:     def.Name,
			HasInputSocket: true,
		})
		a.OutputSockets = append(a.OutputSockets, SocketDefinition{
			Name:  def.Name,
			Arity: ArityOne,
			ValueFrom: &ValueFrom{
				Kind:     ValueFromProp,
				PropPath: []string{"root", "secrets", def.Name},
			},
		})
	}

	if err := a.validate(); err != nil {
		return AssetDefinition{}, err
	}
	return a, nil
}

func (a *AssetDefinition) validate() error {
	if err := validateSiblings(pathDomain, a.Props); err != nil {
		return err
	}

	// Secret props live beside domain props.
	seen := make(map[string]struct{}, len(a.Props)+len(a.SecretProps))
	for i := range a.Props {
		seen[a.Props[i].Name] = struct{}{}
	}
	for i := range a.SecretProps {
		if err := a.SecretProps[i].validate(pathSecrets); err != nil {
			return err
		}
		name := a.SecretProps[i].Name
		if _, dup := seen[name]; dup {
			return defError("secretProp", joinPath(pathSecrets, name), ErrDuplicateName)
		}
		seen[name] = struct{}{}
	}

	if err := validateSiblings(pathResource, a.ResourceProps); err != nil {
		return err
	}
	if len(a.SecretDefinition) > 0 {
		if err := validateSiblings("secretDefinition", a.SecretDefinition); err != nil {
			return err
		}
	}
	if err := validateSockets("inputSocket", a.InputSockets); err != nil {
		return err
	}
	if err := validateSockets("outputSocket", a.OutputSockets); err != nil {
		return err
	}

	for _, group := range []*[]PropDefinition{&a.Props, &a.ResourceProps} {
		if *group == nil {
			*group = []PropDefinition{}
		}
	}
	if a.SecretProps == nil {
		a.SecretProps = []SecretPropDefinition{}
	}
	if a.InputSockets == nil {
		a.InputSockets = []SocketDefinition{}
	}
	if a.OutputSockets == nil {
		a.OutputSockets = []SocketDefinition{}
	}
	if a.DocLinks == nil {
		a.DocLinks = map[string]string{}
	}
	for key := range a.DocLinks {
		if strings.TrimSpace(key) == "" {
			return defError("docLink", "", ErrMissingName)
		}
	}
	return nil
}

func validateSockets(group string, sockets []SocketDefinition) error {
	seen := make(map[string]struct{}, len(sockets))
	for i := range sockets {
		if err := sockets[i].validate(group); err != nil {
			return err
		}
		if _, dup := seen[sockets[i].Name]; dup {
			return defError("socket", joinPath(group, sockets[i].Name), ErrDuplicateName)
		}
		seen[sockets[i].Name] = struct{}{}
	}
	return nil
}
