/*Package core defines the shared vocabulary of the pelorus backend:
the request actions understood by the object manager and the lifecycle
operations announced to the rest of the system.
*/
package core

// Component is the envelope component name of the object manager.
const Component = "objectmanager"

// Action is a request action on the object manager.
type Action string

// All request actions.
const (
	ActionList        Action = "list"
	ActionSearch      Action = "search"
	ActionGet         Action = "get"
	ActionPut         Action = "put"
	ActionDelete      Action = "delete"
	ActionChange      Action = "change"
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

// Operation is a lifecycle operation on a stored object.
type Operation string

// All lifecycle operations.
const (
	OperationCreated Operation = "created"
	OperationChanged Operation = "changed"
	OperationDeleted Operation = "deleted"
)

// CreateSentinel is the magic uuid value clients send to request
// the creation of a new object.
const CreateSentinel = "create"
