// Package models resolves named model configurations for server-side delegation.
package models

import "context"

// DefaultProvider is assumed for named models that do not set one.
const DefaultProvider = "custom"

// NamedModel is a model configuration stored under a name.
type NamedModel struct {
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	Model    string `json:"model" yaml:"model"`
}

// ProviderOrDefault returns the configured provider or DefaultProvider.
func (m NamedModel) ProviderOrDefault() string {
	if m.Provider == "" {
		return DefaultProvider
	}
	return m.Provider
}

// Lookup finds a named model. ok is false when the name is not configured.
type Lookup interface {
	GetModel(ctx context.Context, name string) (model NamedModel, ok bool, err error)
}

// Layered consults each lookup in order and returns the first hit.
type Layered []Lookup

// GetModel implements Lookup.
func (l Layered) GetModel(ctx context.Context, name string) (NamedModel, bool, error) {
	for _, lookup := range l {
		if lookup == nil {
			continue
		}
		m, ok, err := lookup.GetModel(ctx, name)
		if err != nil {
			return NamedModel{}, false, err
		}
		if ok {
			return m, true, nil
		}
	}
	return NamedModel{}, false, nil
}
