package access

import (
	"context"
	"testing"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	perms    Permissions
	owner    uuid.UUID
	hasOwner bool
}

func (f *fakeObject) Permissions(action string) []Requirement {
	return f.perms[action]
}

func (f *fakeObject) Owner() (uuid.UUID, bool) {
	return f.owner, f.hasOwner
}

func TestRequirementJSON(t *testing.T) {
	var perms Permissions
	err := json.Unmarshal([]byte(`{"read":["crew","owner"],"write":["owner"]}`), &perms)
	require.NoError(t, err)

	require.Len(t, perms["read"], 2)
	assert.False(t, perms["read"][0].IsOwner())
	role, ok := perms["read"][0].RoleName()
	assert.True(t, ok)
	assert.Equal(t, "crew", role)
	assert.True(t, perms["read"][1].IsOwner())
	assert.True(t, perms["write"][0].IsOwner())

	data, err := json.Marshal(perms["write"])
	require.NoError(t, err)
	assert.JSONEq(t, `["owner"]`, string(data))
}

func TestEvaluate(t *testing.T) {
	owner := uuid.New()
	stranger := uuid.New()

	testCases := []struct {
		name    string
		subject *Subject
		action  string
		object  *fakeObject
		allowed bool
	}{
		{
			name:    "role match",
			subject: &Subject{UUID: stranger, Roles: []string{"crew"}},
			action:  "read",
			object: &fakeObject{
				perms: Permissions{"read": {Role("crew")}},
			},
			allowed: true,
		},
		{
			name:    "no role match",
			subject: &Subject{UUID: stranger, Roles: []string{"guest"}},
			action:  "read",
			object: &fakeObject{
				perms: Permissions{"read": {Role("crew")}},
			},
			allowed: false,
		},
		{
			name:    "owner allowed",
			subject: &Subject{UUID: owner, Roles: []string{"guest"}},
			action:  "write",
			object: &fakeObject{
				perms:    Permissions{"write": {Owner}},
				owner:    owner,
				hasOwner: true,
			},
			allowed: true,
		},
		{
			name:    "non-owner denied",
			subject: &Subject{UUID: stranger, Roles: []string{"crew"}},
			action:  "write",
			object: &fakeObject{
				perms:    Permissions{"write": {Owner}},
				owner:    owner,
				hasOwner: true,
			},
			allowed: false,
		},
		{
			name:    "owner required but object has no owner",
			subject: &Subject{UUID: owner, Roles: []string{"crew"}},
			action:  "write",
			object: &fakeObject{
				perms: Permissions{"write": {Owner, Role("crew")}},
			},
			// missing owner is a warning, role entries still apply
			allowed: true,
		},
		{
			name:    "deny by default for unknown action",
			subject: &Subject{UUID: owner, Roles: []string{"crew", "admin"}},
			action:  "write",
			object: &fakeObject{
				perms: Permissions{"read": {Role("crew")}},
			},
			allowed: false,
		},
		{
			name:    "nil subject denied",
			subject: nil,
			action:  "read",
			object: &fakeObject{
				perms:    Permissions{"read": {Owner, Role("crew")}},
				owner:    owner,
				hasOwner: true,
			},
			allowed: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			allowed := Evaluate(context.Background(), tc.subject, tc.action, tc.object)
			assert.Equal(t, tc.allowed, allowed)
		})
	}
}

func TestSubjectContext(t *testing.T) {
	assert.Nil(t, SubjectFromContext(context.Background()))

	subject := &Subject{UUID: uuid.New(), Roles: []string{"crew"}}
	ctx := subject.ContextWithSubject(context.Background())
	assert.Equal(t, subject, SubjectFromContext(ctx))

	assert.True(t, subject.HasRole("crew"))
	assert.False(t, subject.HasRole("admiral"))

	var nilSubject *Subject
	assert.False(t, nilSubject.HasRole("crew"))
}
