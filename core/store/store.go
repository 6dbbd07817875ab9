/*Package store implements typed CRUD over the persistent document store.

Documents live in one collection per object type, ordered by insertion.
The Documents interface is the raw access layer; Store wraps raw documents
into schema-validated objects. Reads are tolerant: a document that fails
validation is reported but still returned, so schema evolution does not
brick existing data.
*/
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/seastead-tech/pelorus/core/logger"
	"github.com/seastead-tech/pelorus/core/object"
	"github.com/seastead-tech/pelorus/core/schema"
)

// ErrStoreUnavailable is returned when the backing store cannot be
// reached. It is fatal to the request but not to the process.
var ErrStoreUnavailable = errors.New("document store unavailable")

// Filter selects documents by field value. An empty filter matches every
// document of the collection. Values compare for equality unless they are
// a Regex.
type Filter map[string]interface{}

// Regex is a filter value matching a text field against a pattern.
type Regex struct {
	Pattern         string
	CaseInsensitive bool
}

// Documents is the raw access layer to the persistent document
// collections. Implementations provide atomicity at single-document
// granularity only.
type Documents interface {
	// Find returns all documents of the collection matching the filter,
	// in insertion order.
	Find(ctx context.Context, collection string, filter Filter) ([]map[string]interface{}, error)
	// FindOne returns the first document matching the filter, or false.
	FindOne(ctx context.Context, collection string, filter Filter) (map[string]interface{}, bool, error)
	// Count returns the number of documents matching the filter.
	Count(ctx context.Context, collection string, filter Filter) (int, error)
	// Save upserts the document under its uuid.
	Save(ctx context.Context, collection string, id uuid.UUID, document map[string]interface{}) error
	// Delete removes the document with the uuid. Deleting a document
	// that does not exist is not an error.
	Delete(ctx context.Context, collection string, id uuid.UUID) error
}

// Store is typed CRUD over the document store: raw documents in, schema
// bound objects out.
type Store struct {
	docs     Documents
	registry *schema.Registry
}

// New creates a store over the raw document layer.
func New(docs Documents, registry *schema.Registry) *Store {
	return &Store{docs: docs, registry: registry}
}

// Documents exposes the raw document layer. The search path queries it
// directly, bypassing object materialization for the filter step.
func (s *Store) Documents() Documents {
	return s.docs
}

// Registry returns the schema registry this store validates against.
func (s *Store) Registry() *schema.Registry {
	return s.registry
}

// Wrap materializes a raw document as an object of the given type. If the
// document fails schema validation a warning is logged and the object is
// returned anyway.
func (s *Store) Wrap(ctx context.Context, descriptor *schema.Descriptor, document map[string]interface{}) *object.Object {
	obj := object.New(descriptor, document)
	if err := obj.Validate(); err != nil {
		logger.FromContext(ctx).WithError(err).Warningf(
			"document %s of type %s fails validation", obj.UUID(), descriptor.Name)
	}
	return obj
}

// Find returns all objects of the type matching the filter, in insertion
// order.
func (s *Store) Find(ctx context.Context, typeName string, filter Filter) ([]*object.Object, error) {
	descriptor, ok := s.registry.Descriptor(typeName)
	if !ok {
		return nil, errors.New("there is no type " + typeName)
	}
	documents, err := s.docs.Find(ctx, typeName, filter)
	if err != nil {
		return nil, err
	}
	objects := make([]*object.Object, 0, len(documents))
	for _, document := range documents {
		objects = append(objects, s.Wrap(ctx, descriptor, document))
	}
	return objects, nil
}

// FindOne returns the first object of the type matching the filter, or
// false.
func (s *Store) FindOne(ctx context.Context, typeName string, filter Filter) (*object.Object, bool, error) {
	descriptor, ok := s.registry.Descriptor(typeName)
	if !ok {
		return nil, false, errors.New("there is no type " + typeName)
	}
	document, found, err := s.docs.FindOne(ctx, typeName, filter)
	if err != nil || !found {
		return nil, false, err
	}
	return s.Wrap(ctx, descriptor, document), true, nil
}

// Count returns the number of objects of the type matching the filter.
// The count is advisory; it is used to warn on large result sets, not as
// a correctness oracle.
func (s *Store) Count(ctx context.Context, typeName string, filter Filter) (int, error) {
	return s.docs.Count(ctx, typeName, filter)
}

// Save upserts the object by uuid.
func (s *Store) Save(ctx context.Context, obj *object.Object) error {
	return s.docs.Save(ctx, obj.Type(), obj.UUID(), obj.SerializableFields())
}

// Delete removes the object by uuid.
func (s *Store) Delete(ctx context.Context, obj *object.Object) error {
	return s.docs.Delete(ctx, obj.Type(), obj.UUID())
}
