package models

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Catalog is an in-memory set of named models, usually loaded from a file.
//
// The file shape is
//
//	current_model: gpt
//	timeout: 60
//	models:
//	  gpt: {base_url: ..., api_key: ..., model: ...}
//
// JSON with the same keys loads as well.
type Catalog struct {
	CurrentModel string                `yaml:"current_model"`
	Timeout      float64               `yaml:"timeout"` // seconds
	Models       map[string]NamedModel `yaml:"models"`

	mu sync.RWMutex
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{Models: make(map[string]NamedModel)}
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read model catalog %s", path)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog YAML or JSON.
func ParseCatalog(data []byte) (*Catalog, error) {
	c := NewCatalog()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "decode model catalog")
	}
	if c.Models == nil {
		c.Models = make(map[string]NamedModel)
	}
	return c, nil
}

// GetModel implements Lookup.
func (c *Catalog) GetModel(_ context.Context, name string) (NamedModel, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.Models[name]
	return m, ok, nil
}

// Put stores or replaces a named model.
func (c *Catalog) Put(name string, m NamedModel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Models[name] = m
}

// Names returns the configured model names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimeoutDuration returns the catalog timeout, or zero when unset.
func (c *Catalog) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout * float64(time.Second))
}
