package store

import (
	"context"
	"reflect"
	"regexp"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory Documents implementation. It keeps insertion
// order per collection and is safe for concurrent use. It backs unit
// tests and single-process deployments without a database.
type Memory struct {
	mutex       sync.RWMutex
	collections map[string][]*memoryDocument
}

type memoryDocument struct {
	id     uuid.UUID
	fields map[string]interface{}
}

// NewMemory creates an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]*memoryDocument)}
}

func copyDocument(document map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(document))
	for field, value := range document {
		copied[field] = value
	}
	return copied
}

func matchValue(value, expected interface{}) bool {
	if re, ok := expected.(Regex); ok {
		s, ok := value.(string)
		if !ok {
			return false
		}
		pattern := re.Pattern
		if re.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		matched, err := regexp.MatchString(pattern, s)
		return err == nil && matched
	}
	return reflect.DeepEqual(value, expected)
}

func matchFilter(document map[string]interface{}, filter Filter) bool {
	for field, expected := range filter {
		value, ok := document[field]
		if !ok || !matchValue(value, expected) {
			return false
		}
	}
	return true
}

// Find returns all matching documents in insertion order.
func (m *Memory) Find(ctx context.Context, collection string, filter Filter) ([]map[string]interface{}, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var documents []map[string]interface{}
	for _, doc := range m.collections[collection] {
		if matchFilter(doc.fields, filter) {
			documents = append(documents, copyDocument(doc.fields))
		}
	}
	return documents, nil
}

// FindOne returns the first matching document, or false.
func (m *Memory) FindOne(ctx context.Context, collection string, filter Filter) (map[string]interface{}, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, doc := range m.collections[collection] {
		if matchFilter(doc.fields, filter) {
			return copyDocument(doc.fields), true, nil
		}
	}
	return nil, false, nil
}

// Count returns the number of matching documents.
func (m *Memory) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	count := 0
	for _, doc := range m.collections[collection] {
		if matchFilter(doc.fields, filter) {
			count++
		}
	}
	return count, nil
}

// Save upserts the document under its uuid, keeping the original
// insertion position on update.
func (m *Memory) Save(ctx context.Context, collection string, id uuid.UUID, document map[string]interface{}) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, doc := range m.collections[collection] {
		if doc.id == id {
			doc.fields = copyDocument(document)
			return nil
		}
	}
	m.collections[collection] = append(m.collections[collection],
		&memoryDocument{id: id, fields: copyDocument(document)})
	return nil
}

// Delete removes the document with the uuid.
func (m *Memory) Delete(ctx context.Context, collection string, id uuid.UUID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	documents := m.collections[collection]
	for i, doc := range documents {
		if doc.id == id {
			m.collections[collection] = append(documents[:i], documents[i+1:]...)
			return nil
		}
	}
	return nil
}
