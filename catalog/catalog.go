// Package catalog declares message types from a YAML document. Each type
// lists its versions with a property shape and the field mappings that
// cast between neighbouring versions.
//
//	types:
//	  - key: shop/orderPlaced
//	    kind: event
//	    versions:
//	      - version: 1
//	        shape:
//	          properties:
//	            a: {type: string}
//	          required: [a]
//	      - version: 2
//	        shape: ...
//	        upcast:
//	          - add: {field: b, value: false}
//	        downcast:
//	          - drop: b
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/messaging"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/versioning"
)

// ErrMissingShape is returned for a version without a shape. Use "shape: {}"
// to accept any object.
var ErrMissingShape = errors.New("version has no shape")

// Catalog is a set of type declarations
type Catalog struct {
	Types []TypeSpec `yaml:"types"`
}

// TypeSpec declares one base type key and its versions
type TypeSpec struct {
	Key      string         `yaml:"key"`
	Kind     contracts.Kind `yaml:"kind"`
	Doc      string         `yaml:"doc,omitempty"`
	Versions []VersionSpec  `yaml:"versions"`
}

// VersionSpec declares one version of a type
type VersionSpec struct {
	Version  int           `yaml:"version"`
	Doc      string        `yaml:"doc,omitempty"`
	Shape    *schema.Shape `yaml:"shape,omitempty"`
	Upcast   []Step        `yaml:"upcast,omitempty"`
	Downcast []Step        `yaml:"downcast,omitempty"`
}

// Step is one field mapping. Exactly one of its operations must be set.
type Step struct {
	Add    *AddStep    `yaml:"add,omitempty"`
	Drop   string      `yaml:"drop,omitempty"`
	Rename *RenameStep `yaml:"rename,omitempty"`
}

// AddStep sets a field when it is absent
type AddStep struct {
	Field string `yaml:"field"`
	Value any    `yaml:"value"`
}

// RenameStep moves a field
type RenameStep struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Parse decodes a catalog. Unknown fields are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &c, nil
		}
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &c, nil
}

// Load reads and decodes a catalog file
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Declare declares every type of the catalog into reg, in document order.
// It stops at the first type that fails; types declared before it remain.
func (c *Catalog) Declare(reg *registry.Registry, options ...messaging.DeclareOption) ([]*messaging.MessageType, error) {
	types := make([]*messaging.MessageType, 0, len(c.Types))
	for i, spec := range c.Types {
		mt, err := spec.Declare(reg, options...)
		if err != nil {
			return types, fmt.Errorf("types[%d]: %w", i, err)
		}
		types = append(types, mt)
	}
	return types, nil
}

// BaseKey parses the spec's key
func (t TypeSpec) BaseKey() (contracts.TypeKey, error) {
	return contracts.ParseTypeKey(t.Key)
}

// Declare declares this type into reg
func (t TypeSpec) Declare(reg *registry.Registry, options ...messaging.DeclareOption) (*messaging.MessageType, error) {
	key, err := t.BaseKey()
	if err != nil {
		return nil, err
	}
	entries, err := t.Entries()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return messaging.Declare(reg, t.Kind, key, t.Doc, entries, options...)
}

// Entries converts the version specs into chain entries
func (t TypeSpec) Entries() ([]versioning.Entry, error) {
	entries := make([]versioning.Entry, 0, len(t.Versions))
	for _, v := range t.Versions {
		if v.Shape == nil {
			return nil, fmt.Errorf("version %d: %w", v.Version, ErrMissingShape)
		}
		entry := versioning.Entry{
			Version: v.Version,
			Doc:     v.Doc,
			Shape:   v.Shape,
		}

		up, err := steps(v.Upcast)
		if err != nil {
			return nil, fmt.Errorf("version %d upcast: %w", v.Version, err)
		}
		down, err := steps(v.Downcast)
		if err != nil {
			return nil, fmt.Errorf("version %d downcast: %w", v.Version, err)
		}
		entry.Upcast, entry.Downcast = up, down

		entries = append(entries, entry)
	}
	return entries, nil
}

// steps composes a step list. An empty list yields no caster so the chain
// can report it missing.
func steps(list []Step) (versioning.Caster, error) {
	if len(list) == 0 {
		return nil, nil
	}
	casters := make([]versioning.Caster, 0, len(list))
	for i, s := range list {
		c, err := s.Caster()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		casters = append(casters, c)
	}
	if len(casters) == 1 {
		return casters[0], nil
	}
	return versioning.Compose(casters...), nil
}

// Caster returns the field mapper the step describes
func (s Step) Caster() (versioning.Caster, error) {
	set := 0
	if s.Add != nil {
		set++
	}
	if s.Drop != "" {
		set++
	}
	if s.Rename != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("expected exactly one of add, drop, rename; got %d", set)
	}

	switch {
	case s.Add != nil:
		if s.Add.Field == "" {
			return nil, fmt.Errorf("add: field is required")
		}
		return versioning.AddField(s.Add.Field, s.Add.Value), nil
	case s.Rename != nil:
		if s.Rename.From == "" || s.Rename.To == "" {
			return nil, fmt.Errorf("rename: from and to are required")
		}
		return versioning.RenameField(s.Rename.From, s.Rename.To), nil
	default:
		return versioning.DropField(s.Drop), nil
	}
}
