package settings

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed "defaults/catalog.yaml"
var defaultCatalogYAML []byte

var ErrUnknownPersona = errors.New("unknown persona")
var ErrUnknownModel = errors.New("unknown model profile")

type Persona struct {
	Description  string `yaml:"description,omitempty"`
	SystemPrompt string `yaml:"system_prompt"`
}

// Catalog lists the model profiles and personas a user can pick from. The
// session engine treats both as opaque values.
type Catalog struct {
	DefaultModel   string                    `yaml:"default_model,omitempty"`
	DefaultPersona string                    `yaml:"default_persona,omitempty"`
	Models         map[string]*ModelSettings `yaml:"models"`
	Personas       map[string]*Persona       `yaml:"personas"`
}

func NewCatalogFromYAML(r io.Reader) (*Catalog, error) {
	c := &Catalog{
		Models:   map[string]*ModelSettings{},
		Personas: map[string]*Persona{},
	}
	if err := yaml.NewDecoder(r).Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return c, nil
		}
		return nil, errors.Wrap(err, "could not decode catalog")
	}
	for name, m := range c.Models {
		if err := m.Validate(); err != nil {
			return nil, errors.Wrapf(err, "model profile %s", name)
		}
	}
	return c, nil
}

func LoadCatalogFromFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open catalog %s", path)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return NewCatalogFromYAML(f)
}

// DefaultCatalog returns the catalog shipped with the binary.
func DefaultCatalog() *Catalog {
	c, err := NewCatalogFromYAML(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic(errors.Wrap(err, "embedded catalog is invalid"))
	}
	return c
}

// Merge overlays other on top of c. Entries in other win.
func (c *Catalog) Merge(other *Catalog) {
	if other == nil {
		return
	}
	if other.DefaultModel != "" {
		c.DefaultModel = other.DefaultModel
	}
	if other.DefaultPersona != "" {
		c.DefaultPersona = other.DefaultPersona
	}
	for k, v := range other.Models {
		c.Models[k] = v
	}
	for k, v := range other.Personas {
		c.Personas[k] = v
	}
}

func (c *Catalog) Model(name string) (*ModelSettings, error) {
	if name == "" {
		name = c.DefaultModel
	}
	m, ok := c.Models[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownModel, name)
	}
	return m.Clone(), nil
}

func (c *Catalog) Persona(name string) (*Persona, error) {
	if name == "" {
		name = c.DefaultPersona
	}
	p, ok := c.Personas[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownPersona, name)
	}
	ret := *p
	return &ret, nil
}

func (c *Catalog) PersonaNames() []string {
	names := make([]string, 0, len(c.Personas))
	for k := range c.Personas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ChatSettings builds session settings from a model profile and a persona.
func (c *Catalog) ChatSettings(model, persona string) (*ChatSettings, error) {
	m, err := c.Model(model)
	if err != nil {
		return nil, err
	}
	p, err := c.Persona(persona)
	if err != nil {
		return nil, err
	}
	ret := NewChatSettings()
	ret.Model = m
	ret.PersonaSystemPrompt = p.SystemPrompt
	return ret, nil
}
