/*Package object implements the in-memory representation of a stored
document: a schema-bound field map. Objects are transient; the persistent
store owns the documents, the core only holds references during request
handling.
*/
package object

import (
	"github.com/google/uuid"
	"github.com/seastead-tech/pelorus/core/access"
	"github.com/seastead-tech/pelorus/core/schema"
)

// Well-known document fields.
const (
	FieldUUID        = "uuid"
	FieldOwner       = "owner"
	FieldPermissions = "permissions"
	FieldName        = "name"
)

// Object is a stored document instance of a schema, keyed by uuid.
type Object struct {
	descriptor *schema.Descriptor
	fields     map[string]interface{}
}

// New wraps a raw document into an object of the given type. The object
// takes over the field map.
func New(descriptor *schema.Descriptor, fields map[string]interface{}) *Object {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	return &Object{descriptor: descriptor, fields: fields}
}

// Create makes a new empty object with a fresh uuid.
func Create(descriptor *schema.Descriptor) *Object {
	return New(descriptor, map[string]interface{}{
		FieldUUID: uuid.New().String(),
	})
}

// Descriptor returns the object's type descriptor.
func (o *Object) Descriptor() *schema.Descriptor {
	return o.descriptor
}

// Type returns the object's type name.
func (o *Object) Type() string {
	return o.descriptor.Name
}

// UUID returns the object's uuid, or the zero uuid if the document
// carries none.
func (o *Object) UUID() uuid.UUID {
	s, _ := o.fields[FieldUUID].(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}
	}
	return id
}

// Owner returns the owning subject's uuid, or false if the object has no
// owner field.
func (o *Object) Owner() (uuid.UUID, bool) {
	s, ok := o.fields[FieldOwner].(string)
	if !ok {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

// SetOwner records the owning subject on the object.
func (o *Object) SetOwner(owner uuid.UUID) {
	o.fields[FieldOwner] = owner.String()
}

// Permissions returns the requirement list for the action. A permissions
// map stored on the document overrides the schema default.
func (o *Object) Permissions(action string) []access.Requirement {
	if raw, ok := o.fields[FieldPermissions].(map[string]interface{}); ok {
		if entries, ok := raw[action].([]interface{}); ok {
			requirements := make([]access.Requirement, 0, len(entries))
			for _, entry := range entries {
				s, ok := entry.(string)
				if !ok {
					continue
				}
				if s == "owner" {
					requirements = append(requirements, access.Owner)
				} else {
					requirements = append(requirements, access.Role(s))
				}
			}
			return requirements
		}
	}
	return o.descriptor.DefaultPermissions(action)
}

// Get returns a field value.
func (o *Object) Get(field string) (interface{}, bool) {
	value, ok := o.fields[field]
	return value, ok
}

// Set patches a single field.
func (o *Object) Set(field string, value interface{}) {
	o.fields[field] = value
}

// Merge merges the incoming fields into the object, replacing existing
// values.
func (o *Object) Merge(fields map[string]interface{}) {
	for field, value := range fields {
		o.fields[field] = value
	}
}

// SerializableFields returns a copy of the full field set.
func (o *Object) SerializableFields() map[string]interface{} {
	fields := make(map[string]interface{}, len(o.fields))
	for field, value := range o.fields {
		fields[field] = value
	}
	return fields
}

// ProjectedFields returns a copy of the field set with the type's hidden
// fields stripped.
func (o *Object) ProjectedFields() map[string]interface{} {
	fields := make(map[string]interface{}, len(o.fields))
	for field, value := range o.fields {
		if o.descriptor.IsHidden(field) {
			continue
		}
		fields[field] = value
	}
	return fields
}

// StripHidden removes the type's hidden fields from the object itself.
func (o *Object) StripHidden() {
	for field := range o.fields {
		if o.descriptor.IsHidden(field) {
			delete(o.fields, field)
		}
	}
}

// Validate validates the object against its type's schema.
func (o *Object) Validate() error {
	return o.descriptor.ValidateDocument(o.fields)
}
