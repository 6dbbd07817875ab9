/*Package access provides utilities for access control.

A Subject is an authenticated actor with a uuid and a set of roles.
Permissions on stored objects are lists of requirements per action; a
requirement is either a named role or the owner sentinel. The evaluator
grants an action when the subject owns the object and the list contains
the owner sentinel, or when one of the subject's roles is listed.
*/
package access

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/seastead-tech/pelorus/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const (
	contextKeySubject contextKey = "_subject_"
)

// Subject is an authenticated actor. It is produced by the authentication
// edge before a request reaches the object manager and never persisted.
type Subject struct {
	UUID  uuid.UUID `json:"uuid"`
	Roles []string  `json:"roles"`
}

// HasRole returns true if the subject carries the requested role;
// otherwise it returns false.
func (s *Subject) HasRole(role string) bool {
	if s == nil {
		return false
	}
	for _, hasRole := range s.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// ContextWithSubject returns a new context with this subject added to it
func (s *Subject) ContextWithSubject(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeySubject, s)
}

// SubjectFromContext retrieves a subject from the context
func SubjectFromContext(ctx context.Context) *Subject {
	s, ok := ctx.Value(contextKeySubject).(*Subject)
	if ok {
		return s
	}
	return nil
}

// ownerSentinel is the wire representation of the owner requirement.
const ownerSentinel = "owner"

// Requirement is one entry of a permission list: either a named role or
// the owner sentinel.
type Requirement struct {
	role  string
	owner bool
}

// Role returns a requirement for the named role.
func Role(name string) Requirement {
	return Requirement{role: name}
}

// Owner is the requirement satisfied by the object's owner.
var Owner = Requirement{owner: true}

// IsOwner returns true if this is the owner requirement.
func (r Requirement) IsOwner() bool {
	return r.owner
}

// RoleName returns the required role name and true, or "" and false for
// the owner requirement.
func (r Requirement) RoleName() (string, bool) {
	if r.owner {
		return "", false
	}
	return r.role, true
}

func (r Requirement) String() string {
	if r.owner {
		return ownerSentinel
	}
	return r.role
}

// MarshalJSON writes the requirement as a plain string, the owner
// requirement as "owner".
func (r Requirement) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON reads a requirement from a plain string. The string
// "owner" yields the owner requirement, anything else a role.
func (r *Requirement) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("requirement must be a string: %w", err)
	}
	if s == ownerSentinel {
		*r = Owner
	} else {
		*r = Role(s)
	}
	return nil
}

// Permissions maps an action name to the requirements that grant it.
// An action with no entry is denied for everybody.
type Permissions map[string][]Requirement

// Protected is the view of a stored object the evaluator needs.
type Protected interface {
	// Permissions returns the requirement list for the action, falling
	// back to the schema default when the object carries no override.
	Permissions(action string) []Requirement
	// Owner returns the owning subject's uuid, or false if the object
	// has no owner field.
	Owner() (uuid.UUID, bool)
}

// Evaluate returns true if the subject may perform the action on the
// object; it denies by default.
//
// If the requirement list contains the owner sentinel but the object has
// no owner, a warning is logged and evaluation continues with the role
// requirements. This mirrors objects created before their schema gained
// an owner field.
func Evaluate(ctx context.Context, subject *Subject, action string, obj Protected) bool {
	requirements := obj.Permissions(action)

	for _, requirement := range requirements {
		if requirement.IsOwner() {
			owner, ok := obj.Owner()
			if !ok {
				logger.FromContext(ctx).Warningf(
					"permissions require ownership for action %s but object has no owner", action)
				continue
			}
			if subject != nil && subject.UUID == owner {
				return true
			}
			continue
		}
		role, _ := requirement.RoleName()
		if subject.HasRole(role) {
			return true
		}
	}
	return false
}

// HandleSubjectRoute adds a route /subject GET to the router.
//
// The route returns the current subject for the provided bearer token.
func HandleSubjectRoute(router *mux.Router) {
	logger.Default().Debugln("subject")
	logger.Default().Debugln("  handle route: /subject GET")
	router.HandleFunc("/subject", func(w http.ResponseWriter, r *http.Request) {
		subject := SubjectFromContext(r.Context())
		if subject == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(subject, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
