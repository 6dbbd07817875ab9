package schema

import (
	"testing"

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
		},
		{
			"name": "note",
			"schema": {
				"$id": "note",
				"type": "object",
				"properties": {
					"uuid": {"type": "string"},
					"body": {"type": "string"}
				}
			}
		}
	]
}`

func TestRegistry(t *testing.T) {
	registry, err := New(registryConfig)
	require.NoError(t, err)

	assert.Equal(t, []string{"book", "note"}, registry.Names())

	book, ok := registry.Descriptor("book")
	require.True(t, ok)
	assert.True(t, book.IsHidden("secret"))
	assert.False(t, book.IsHidden("name"))
	assert.True(t, book.HasOwnerField())
	assert.Len(t, book.DefaultPermissions("read"), 2)
	assert.Nil(t, book.DefaultPermissions("list"))

	note, ok := registry.Descriptor("note")
	require.True(t, ok)
	assert.False(t, note.HasOwnerField())
	assert.Nil(t, note.DefaultPermissions("read"))

	_, ok = registry.Descriptor("bogus")
	assert.False(t, ok)
}

func TestRegistryValidate(t *testing.T) {
	registry, err := New(registryConfig)
	require.NoError(t, err)

	valid := map[string]interface{}{"uuid": "x", "name": "Moby Dick"}
	assert.NoError(t, registry.Validate("book", valid))

	invalid := map[string]interface{}{"uuid": "x", "name": 42}
	assert.Error(t, registry.Validate("book", invalid))

	assert.Error(t, registry.Validate("bogus", valid))

	book, _ := registry.Descriptor("book")
	assert.NoError(t, book.ValidateDocument(valid))
	assert.Error(t, book.ValidateDocument(invalid))
}

func TestRegistryConfigurationErrors(t *testing.T) {
	_, err := New(`not json`)
	assert.Error(t, err)

	_, err = New(`{"types":[{"name":"","schema":{"$id":"x"}}]}`)
	assert.Error(t, err)

	_, err = New(`{"types":[{"name":"book","schema":{"$id":"tome"}}]}`)
	assert.Error(t, err, "schema $id must match the type name")

	_, err = New(`{"types":[
		{"name":"book","schema":{"$id":"book"}},
		{"name":"book","schema":{"$id":"book"}}
	]}`)
	assert.Error(t, err, "duplicate type names are rejected")
}
