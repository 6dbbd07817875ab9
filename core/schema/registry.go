package schema

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/seastead-tech/pelorus/core/access"
)

// Descriptor describes one named object type: its validation schema, the
// fields hidden from projections and the default permission map.
type Descriptor struct {
	Name        string             `json:"name"`
	Schema      json.RawMessage    `json:"schema"`
	Hidden      []string           `json:"hidden,omitempty"`
	Permissions access.Permissions `json:"permissions,omitempty"`

	hidden   map[string]struct{}
	hasOwner bool
	registry *Registry
}

// IsHidden returns true if the field is declared hidden for this type.
func (d *Descriptor) IsHidden(field string) bool {
	_, ok := d.hidden[field]
	return ok
}

// HasOwnerField returns true if the type's schema declares an owner
// property. Only such types get an initial owner on creation.
func (d *Descriptor) HasOwnerField() bool {
	return d.hasOwner
}

// DefaultPermissions returns the schema's requirement list for the
// action, or nil if the action is not granted to anybody.
func (d *Descriptor) DefaultPermissions(action string) []access.Requirement {
	return d.Permissions[action]
}

// ValidateDocument validates a document against this type's schema.
func (d *Descriptor) ValidateDocument(document interface{}) error {
	return d.registry.Validate(d.Name, document)
}

type registryConfiguration struct {
	Types []*Descriptor   `json:"types"`
	Refs  json.RawMessage `json:"refs,omitempty"`
}

// Registry maps type names to descriptors. It is immutable after New.
type Registry struct {
	validator   *Validator
	descriptors map[string]*Descriptor
	names       []string
}

// New parses the registry configuration and compiles all validation
// schemas. The configuration is a JSON document with a "types" list;
// each type carries a name, a JSON schema, optional hidden fields and
// optional default permissions.
func New(configJSON string) (*Registry, error) {
	var config registryConfiguration
	err := json.Unmarshal([]byte(configJSON), &config)
	if err != nil {
		return nil, fmt.Errorf("parse error in registry configuration: %w", err)
	}

	var refs []string
	if len(config.Refs) > 0 {
		var rawRefs []json.RawMessage
		if err := json.Unmarshal(config.Refs, &rawRefs); err != nil {
			return nil, fmt.Errorf("parse error in registry refs: %w", err)
		}
		for _, r := range rawRefs {
			refs = append(refs, string(r))
		}
	}

	r := &Registry{descriptors: make(map[string]*Descriptor)}
	var schemas []string
	for _, d := range config.Types {
		if d.Name == "" {
			return nil, fmt.Errorf("type without a name in registry configuration")
		}
		if _, ok := r.descriptors[d.Name]; ok {
			return nil, fmt.Errorf("duplicate type %s in registry configuration", d.Name)
		}

		// the schema's $id must be the type name, so the validator can
		// be addressed by name
		var idCheck struct {
			ID         string                     `json:"$id"`
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if err := json.Unmarshal(d.Schema, &idCheck); err != nil {
			return nil, fmt.Errorf("parse error in schema for type %s: %w", d.Name, err)
		}
		if idCheck.ID != d.Name {
			return nil, fmt.Errorf("schema $id %q does not match type name %q", idCheck.ID, d.Name)
		}
		_, d.hasOwner = idCheck.Properties["owner"]

		d.hidden = make(map[string]struct{}, len(d.Hidden))
		for _, field := range d.Hidden {
			d.hidden[field] = struct{}{}
		}

		d.registry = r
		schemas = append(schemas, string(d.Schema))
		r.descriptors[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)

	r.validator, err = NewValidator(schemas, refs)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MustNew is like New but panics on error. Use for static configurations.
func MustNew(configJSON string) *Registry {
	r, err := New(configJSON)
	if err != nil {
		panic(err)
	}
	return r
}

// Descriptor returns the descriptor for the named type, or false if the
// type is unknown.
func (r *Registry) Descriptor(name string) (*Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns all type names in alphabetical order.
func (r *Registry) Names() []string {
	return r.names
}

// Validate validates a document against the named type's schema.
func (r *Registry) Validate(name string, document interface{}) error {
	if _, ok := r.descriptors[name]; !ok {
		return fmt.Errorf("there is no type %s", name)
	}
	return r.validator.ValidateStruct(document, name)
}
