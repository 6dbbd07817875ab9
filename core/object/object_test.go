package object

import (
	"testing"

	"github.com/google/uuid"
	"github.com/seastead-tech/pelorus/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryConfig = `{
	"types": [
		{
			"name": "book",
			"schema": {
				"$id": "book",
				"type": "object",
				"properties": {
					"uuid": {"type": "string"},
					"owner": {"type": "string"},
					"name": {"type": "string"},
					"author": {"type": "string"},
					"secret": {"type": "string"}
				}
			},
			"hidden": ["secret"],
			"permissions": {
				"read": ["crew", "owner"],
				"write": ["owner"]
			}
		}
	]
}`

func bookDescriptor(t *testing.T) *schema.Descriptor {
	t.Helper()
	registry, err := schema.New(registryConfig)
	require.NoError(t, err)
	descriptor, ok := registry.Descriptor("book")
	require.True(t, ok)
	return descriptor
}

func TestCreateSeedsUUID(t *testing.T) {
	obj := Create(bookDescriptor(t))
	assert.NotEqual(t, uuid.UUID{}, obj.UUID())
	assert.Equal(t, "book", obj.Type())

	_, hasOwner := obj.Owner()
	assert.False(t, hasOwner)
}

func TestOwner(t *testing.T) {
	obj := Create(bookDescriptor(t))
	owner := uuid.New()
	obj.SetOwner(owner)

	got, ok := obj.Owner()
	require.True(t, ok)
	assert.Equal(t, owner, got)
}

func TestMergeAndSet(t *testing.T) {
	descriptor := bookDescriptor(t)
	obj := New(descriptor, map[string]interface{}{
		"uuid": uuid.New().String(),
		"name": "Moby Dick",
	})

	obj.Merge(map[string]interface{}{"name": "Moby-Dick", "author": "Melville"})
	name, _ := obj.Get("name")
	assert.Equal(t, "Moby-Dick", name)
	author, _ := obj.Get("author")
	assert.Equal(t, "Melville", author)

	obj.Set("author", "H. Melville")
	author, _ = obj.Get("author")
	assert.Equal(t, "H. Melville", author)
}

func TestHiddenFields(t *testing.T) {
	descriptor := bookDescriptor(t)
	obj := New(descriptor, map[string]interface{}{
		"uuid":   uuid.New().String(),
		"name":   "Moby Dick",
		"secret": "margin notes",
	})

	projected := obj.ProjectedFields()
	assert.NotContains(t, projected, "secret")
	assert.Contains(t, projected, "name")

	// the full field set still carries the secret
	assert.Contains(t, obj.SerializableFields(), "secret")

	obj.StripHidden()
	assert.NotContains(t, obj.SerializableFields(), "secret")
}

func TestSerializableFieldsIsACopy(t *testing.T) {
	obj := Create(bookDescriptor(t))
	fields := obj.SerializableFields()
	fields["name"] = "tampered"

	_, ok := obj.Get("name")
	assert.False(t, ok)
}

func TestPermissionsOverride(t *testing.T) {
	descriptor := bookDescriptor(t)

	// schema default applies without an instance override
	obj := Create(descriptor)
	assert.Len(t, obj.Permissions("read"), 2)

	// an instance-level permissions map wins
	obj.Set("permissions", map[string]interface{}{
		"read": []interface{}{"owner"},
	})
	requirements := obj.Permissions("read")
	require.Len(t, requirements, 1)
	assert.True(t, requirements[0].IsOwner())

	// actions without an override fall back to the schema default
	writeRequirements := obj.Permissions("write")
	require.Len(t, writeRequirements, 1)
	assert.True(t, writeRequirements[0].IsOwner())
}

func TestValidate(t *testing.T) {
	descriptor := bookDescriptor(t)

	valid := New(descriptor, map[string]interface{}{
		"uuid": uuid.New().String(),
		"name": "Moby Dick",
	})
	assert.NoError(t, valid.Validate())

	invalid := New(descriptor, map[string]interface{}{
		"uuid": uuid.New().String(),
		"name": 42,
	})
	assert.Error(t, invalid.Validate())
}
