/*Package events carries object lifecycle notifications to interested
collaborators. Lifecycle events are distinct from the direct
request/response reply and from the subscriber fan-out: they announce
created/changed/deleted to other backend components, fire and forget.
*/
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/seastead-tech/pelorus/core"
	"github.com/seastead-tech/pelorus/core/logger"
)

// Event announces a lifecycle operation on a stored object.
type Event struct {
	Operation core.Operation `json:"operation"`
	Type      string         `json:"type"`
	UUID      uuid.UUID      `json:"uuid"`
	// Client is the client whose request caused the operation.
	Client    uuid.UUID `json:"client"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier consumes lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type busHandler struct {
	callback func(Event) error
}

// Bus is an in-process notifier dispatching lifecycle events to
// registered handlers. Handlers are keyed by operation and type name;
// an empty type name subscribes to all types.
type Bus struct {
	mutex    sync.RWMutex
	handlers map[string][]busHandler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]busHandler)}
}

func busKey(operation core.Operation, typeName string) string {
	return string(operation) + " " + typeName
}

// SubscribeLifecycle installs a handler for the given operations on the
// named type. Pass an empty type name to receive events for all types.
//
// If a handler returns an error it is logged; there is no retry.
func (b *Bus) SubscribeLifecycle(typeName string, operations []core.Operation, handler func(Event) error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, operation := range operations {
		key := busKey(operation, typeName)
		b.handlers[key] = append(b.handlers[key], busHandler{callback: handler})
	}
}

func callWithPanicEnvelope(callback func(Event) error, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %s", r)
		}
	}()
	err = callback(event)
	return
}

// Notify dispatches the event to all matching handlers. Handler errors
// and panics are logged and swallowed.
func (b *Bus) Notify(ctx context.Context, event Event) error {
	b.mutex.RLock()
	handlers := append([]busHandler{}, b.handlers[busKey(event.Operation, event.Type)]...)
	handlers = append(handlers, b.handlers[busKey(event.Operation, "")]...)
	b.mutex.RUnlock()

	rlog := logger.FromContext(ctx)
	for _, handler := range handlers {
		if err := callWithPanicEnvelope(handler.callback, event); err != nil {
			rlog.WithError(err).Errorf("error handling %s event for %s %s",
				event.Operation, event.Type, event.UUID)
		}
	}
	return nil
}

// Multi fans one event out to several notifiers, e.g. the in-process bus
// plus a Kafka export.
type Multi []Notifier

// Notify delivers the event to every notifier; the first error is
// returned after all notifiers ran.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var firstErr error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
