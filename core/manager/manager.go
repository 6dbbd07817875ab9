/*Package manager implements the object management and subscription
engine: the request state machine interpreting object requests, enforcing
per-schema, per-action permissions, mutating persisted documents and
keeping subscribed clients synchronized.

Each request is handled as one atomic step. Responses go to the
requester's client; on mutation, an update or deletion message fans out
to every current subscriber of the object, and a lifecycle event is
published for other backend components. All delivery is at-most-once:
transport failures are logged, never retried.
*/
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/seastead-tech/pelorus/core"
	"github.com/seastead-tech/pelorus/core/access"
	"github.com/seastead-tech/pelorus/core/events"
	"github.com/seastead-tech/pelorus/core/logger"
	"github.com/seastead-tech/pelorus/core/object"
	"github.com/seastead-tech/pelorus/core/schema"
	"github.com/seastead-tech/pelorus/core/store"
)

// WarnSize is the result-set size that triggers a log warning on list
// and search. It is advisory, not a rejection.
const WarnSize = 500

// Envelope is the wire envelope for responses and push notifications.
type Envelope struct {
	Component string      `json:"component"`
	Action    string      `json:"action"`
	Data      interface{} `json:"data"`
}

// Transport delivers a message to one client, best effort. It guarantees
// neither delivery nor ordering.
type Transport interface {
	Send(clientID uuid.UUID, envelope Envelope) error
}

// Request is one client request against the object manager. Data is the
// action-specific payload: an object for most actions, a plain uuid
// string for subscribe and unsubscribe.
type Request struct {
	Action  core.Action
	Data    interface{}
	Subject *access.Subject
	Client  uuid.UUID
}

// dataMap returns the request data as an object, or an empty map.
func (r *Request) dataMap() map[string]interface{} {
	if m, ok := r.Data.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// Builder assembles an object manager.
type Builder struct {
	// Registry supplies the type descriptors. This is mandatory.
	Registry *schema.Registry
	// Store is the document store. This is mandatory.
	Store *store.Store
	// Transport delivers responses and subscriber notifications. This is mandatory.
	Transport Transport
	// Notifier receives lifecycle events. This is optional.
	Notifier events.Notifier
}

// Manager handles object requests and updates. It is stateless between
// requests except for the subscription registry it owns.
type Manager struct {
	mutex         sync.Mutex
	registry      *schema.Registry
	store         *store.Store
	transport     Transport
	notifier      events.Notifier
	subscriptions *Subscriptions
}

// New assembles the object manager.
func New(b *Builder) *Manager {
	if b.Registry == nil {
		panic("Registry is missing")
	}
	if b.Store == nil {
		panic("Store is missing")
	}
	if b.Transport == nil {
		panic("Transport is missing")
	}
	return &Manager{
		registry:      b.Registry,
		store:         b.Store,
		transport:     b.Transport,
		notifier:      b.Notifier,
		subscriptions: NewSubscriptions(),
	}
}

// Process handles one request to completion. Requests are serialized:
// for a single object uuid, put/change/delete observe a consistent
// last-writer-wins order within this manager instance.
func (m *Manager) Process(ctx context.Context, request *Request) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.handle(ctx, request)
}

// DropClient removes a disconnected client from every subscription.
func (m *Manager) DropClient(clientID uuid.UUID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.subscriptions.DropClient(clientID)
}

func (m *Manager) handle(ctx context.Context, request *Request) {
	rlog := logger.FromContext(ctx)
	data := request.dataMap()

	var descriptor *schema.Descriptor
	if request.Action != core.ActionSubscribe && request.Action != core.ActionUnsubscribe {
		name, _ := data["schema"].(string)
		var known bool
		if name != "" {
			descriptor, known = m.registry.Descriptor(name)
		}
		if !known {
			rlog.Warningf("request for unavailable type: %v", data["schema"])
			m.respond(ctx, request.Client, Envelope{
				Component: core.Component,
				Action:    "noschema",
				Data:      data["schema"],
			})
			return
		}
	}

	filter := store.Filter{}
	if f, ok := data["filter"].(map[string]interface{}); ok {
		filter = store.Filter(f)
	}

	switch request.Action {
	case core.ActionList:
		m.list(ctx, request, descriptor, filter)
	case core.ActionSearch:
		m.search(ctx, request, descriptor)
	case core.ActionGet:
		m.get(ctx, request, descriptor, filter)
	case core.ActionPut:
		m.put(ctx, request, descriptor)
	case core.ActionDelete:
		m.delete(ctx, request, descriptor)
	case core.ActionChange:
		m.change(ctx, request, descriptor)
	case core.ActionSubscribe:
		m.subscribe(ctx, request)
	case core.ActionUnsubscribe:
		m.unsubscribe(ctx, request)
	default:
		rlog.Warningf("unsupported action: %s", request.Action)
	}
}

// wantAllFields returns true if the fields selector requests the full
// non-hidden field set.
func wantAllFields(fields interface{}) bool {
	if s, ok := fields.(string); ok {
		return s == "*"
	}
	if list, ok := fields.([]interface{}); ok {
		return len(list) == 1 && list[0] == "*"
	}
	return false
}

// projectListItem renders one object for a list or search response:
// always the uuid, the name when present, and the requested fields unless
// hidden. Requested fields the object lacks come back as null.
func projectListItem(obj *object.Object, fields interface{}) map[string]interface{} {
	item := map[string]interface{}{object.FieldUUID: obj.UUID().String()}
	if name, ok := obj.Get(object.FieldName); ok {
		item[object.FieldName] = name
	}
	requested, _ := fields.([]interface{})
	for _, f := range requested {
		field, ok := f.(string)
		if !ok {
			continue
		}
		if value, ok := obj.Get(field); ok && !obj.Descriptor().IsHidden(field) {
			item[field] = value
		} else {
			item[field] = nil
		}
	}
	return item
}

func (m *Manager) list(ctx context.Context, request *Request, descriptor *schema.Descriptor, filter store.Filter) {
	rlog := logger.FromContext(ctx)
	data := request.dataMap()
	fields := data["fields"]

	if count, err := m.store.Count(ctx, descriptor.Name, filter); err == nil && count > WarnSize {
		rlog.Warningf("getting a very long list of items for %s", descriptor.Name)
	}

	objects, err := m.store.Find(ctx, descriptor.Name, filter)
	if err != nil {
		rlog.WithError(err).Errorf("cannot list %s", descriptor.Name)
		return
	}

	list := make([]map[string]interface{}, 0, len(objects))
	for _, obj := range objects {
		if wantAllFields(fields) {
			list = append(list, obj.ProjectedFields())
		} else {
			list = append(list, projectListItem(obj, fields))
		}
	}

	m.respond(ctx, request.Client, Envelope{
		Component: core.Component,
		Action:    string(core.ActionList),
		Data: map[string]interface{}{
			"schema": descriptor.Name,
			"list":   list,
		},
	})
}

// search queries the raw collection directly, bypassing object
// materialization for the filter step; rows are re-wrapped into typed
// objects before projection. This is deliberately a different path from
// list.
func (m *Manager) search(ctx context.Context, request *Request, descriptor *schema.Descriptor) {
	rlog := logger.FromContext(ctx)
	data := request.dataMap()
	fields := data["fields"]
	reqID := data["req"]

	filter := store.Filter{}
	if _, fulltext := data["fulltext"]; fulltext {
		filter[object.FieldName] = store.Regex{
			Pattern:         fmt.Sprintf("%v", data["search"]),
			CaseInsensitive: true,
		}
	} else if search, ok := data["search"].(map[string]interface{}); ok {
		filter = store.Filter(search)
	}

	documents := m.store.Documents()
	if count, err := documents.Count(ctx, descriptor.Name, nil); err == nil && count > WarnSize {
		rlog.Warningf("searching a very long list of items for %s", descriptor.Name)
	}

	rows, err := documents.Find(ctx, descriptor.Name, filter)
	if err != nil {
		rlog.WithError(err).Errorf("cannot search %s", descriptor.Name)
		return
	}

	list := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		obj := m.store.Wrap(ctx, descriptor, row)
		if wantAllFields(fields) {
			list = append(list, obj.ProjectedFields())
		} else {
			list = append(list, projectListItem(obj, fields))
		}
	}

	m.respond(ctx, request.Client, Envelope{
		Component: core.Component,
		Action:    string(core.ActionSearch),
		Data: map[string]interface{}{
			"schema": descriptor.Name,
			"list":   list,
			"req":    reqID,
		},
	})
}

func (m *Manager) get(ctx context.Context, request *Request, descriptor *schema.Descriptor, filter store.Filter) {
	rlog := logger.FromContext(ctx)
	data := request.dataMap()

	subscribe, _ := data["subscribe"].(bool)
	uuidString, _ := data["uuid"].(string)

	if len(filter) == 0 {
		if uuidString == "" {
			rlog.Warningf("object of type %s requested with no filter or uuid", descriptor.Name)
			return
		}
		filter = store.Filter{object.FieldUUID: uuidString}
	}

	obj, found, err := m.store.FindOne(ctx, descriptor.Name, filter)
	if err != nil {
		rlog.WithError(err).Errorf("cannot get %s", descriptor.Name)
		return
	}

	if !found {
		if uuidString != core.CreateSentinel {
			rlog.Warningf("object of type %s not found and not willing to create", descriptor.Name)
			m.respond(ctx, request.Client, Envelope{
				Component: core.Component,
				Action:    "noobject",
				Data:      map[string]interface{}{"schema": descriptor.Name},
			})
			return
		}
		obj = object.Create(descriptor)
		if descriptor.HasOwnerField() && request.Subject != nil {
			obj.SetOwner(request.Subject.UUID)
			rlog.Debugf("attached initial owner %s to new %s", request.Subject.UUID, descriptor.Name)
		}
	}

	if !access.Evaluate(ctx, request.Subject, "read", obj) {
		m.cancelByPermission(ctx, request)
		return
	}

	obj.StripHidden()

	if subscribe && uuidString != "" {
		m.subscriptions.Subscribe(obj.UUID(), request.Client)
	}

	m.respond(ctx, request.Client, Envelope{
		Component: core.Component,
		Action:    string(core.ActionGet),
		Data:      obj.SerializableFields(),
	})
}

func (m *Manager) put(ctx context.Context, request *Request, descriptor *schema.Descriptor) {
	rlog := logger.FromContext(ctx)
	data := request.dataMap()

	incoming, ok := data["obj"].(map[string]interface{})
	if !ok {
		rlog.Errorf("put request for %s with missing object", descriptor.Name)
		return
	}
	uuidString, ok := incoming[object.FieldUUID].(string)
	if !ok {
		rlog.Errorf("put request for %s with missing uuid", descriptor.Name)
		return
	}

	var obj *object.Object
	operation := core.OperationChanged

	if uuidString == core.CreateSentinel {
		operation = core.OperationCreated
		obj = object.Create(descriptor)
		incoming[object.FieldUUID] = obj.UUID().String()
		obj.Merge(incoming)
		if request.Subject != nil {
			obj.SetOwner(request.Subject.UUID)
		}
	} else {
		// the store keys documents by uuid; a string that does not parse
		// would collapse onto the zero uuid and overwrite silently
		if _, err := uuid.Parse(uuidString); err != nil {
			rlog.Errorf("put request for %s with invalid uuid %q", descriptor.Name, uuidString)
			m.respond(ctx, request.Client, Envelope{
				Component: core.Component,
				Action:    string(core.ActionPut),
				Data:      []interface{}{false, uuidString},
			})
			return
		}
		existing, found, err := m.store.FindOne(ctx, descriptor.Name,
			store.Filter{object.FieldUUID: uuidString})
		if err != nil {
			rlog.WithError(err).Errorf("cannot put %s", descriptor.Name)
			return
		}
		if found {
			obj = existing
			obj.Merge(incoming)
		} else {
			obj = object.New(descriptor, incoming)
		}
	}

	// leniency by contract: a document failing validation is logged and
	// persisted anyway, so schema evolution cannot brick existing data
	if err := obj.Validate(); err != nil {
		rlog.WithError(err).Warningf("validation of %s %s failed", descriptor.Name, obj.UUID())
	}

	if err := m.store.Save(ctx, obj); err != nil {
		rlog.WithError(err).Errorf("cannot store %s %s", descriptor.Name, obj.UUID())
		return
	}

	m.notifyLifecycle(ctx, events.Event{
		Operation: operation,
		Type:      descriptor.Name,
		UUID:      obj.UUID(),
		Client:    request.Client,
		CreatedAt: time.Now().UTC(),
	})
	m.updateSubscribers(ctx, obj)

	m.respond(ctx, request.Client, Envelope{
		Component: core.Component,
		Action:    string(core.ActionPut),
		Data:      []interface{}{true, obj.UUID().String()},
	})
}

func (m *Manager) delete(ctx context.Context, request *Request, descriptor *schema.Descriptor) {
	rlog := logger.FromContext(ctx)
	data := request.dataMap()

	uuidString, ok := data["uuid"].(string)
	if !ok {
		rlog.Errorf("delete request for %s with missing uuid", descriptor.Name)
		return
	}

	obj, found, err := m.store.FindOne(ctx, descriptor.Name,
		store.Filter{object.FieldUUID: uuidString})
	if err != nil {
		rlog.WithError(err).Errorf("cannot delete %s", descriptor.Name)
		return
	}
	if !found {
		m.respond(ctx, request.Client, Envelope{
			Component: core.Component,
			Action:    "noobject",
			Data:      map[string]interface{}{"schema": descriptor.Name},
		})
		return
	}

	if !access.Evaluate(ctx, request.Subject, "write", obj) {
		m.cancelByPermission(ctx, request)
		return
	}

	if err := m.store.Delete(ctx, obj); err != nil {
		rlog.WithError(err).Errorf("cannot delete %s %s", descriptor.Name, obj.UUID())
		return
	}

	m.notifyLifecycle(ctx, events.Event{
		Operation: core.OperationDeleted,
		Type:      descriptor.Name,
		UUID:      obj.UUID(),
		Client:    request.Client,
		CreatedAt: time.Now().UTC(),
	})

	deletion := Envelope{
		Component: core.Component,
		Action:    "deletion",
		Data:      uuidString,
	}
	for _, subscriber := range m.subscriptions.SubscribersOf(obj.UUID()) {
		if err := m.transport.Send(subscriber, deletion); err != nil {
			rlog.WithError(err).Warningf("transmission error notifying subscriber %s", subscriber)
		}
	}
	m.subscriptions.DropAll(obj.UUID())

	m.respond(ctx, request.Client, Envelope{
		Component: core.Component,
		Action:    string(core.ActionDelete),
		Data:      []interface{}{true, descriptor.Name, uuidString},
	})
}

func (m *Manager) change(ctx context.Context, request *Request, descriptor *schema.Descriptor) {
	rlog := logger.FromContext(ctx)
	data := request.dataMap()

	uuidString, hasUUID := data["uuid"].(string)
	patch, hasPatch := data["change"].(map[string]interface{})
	if !hasUUID || !hasPatch {
		rlog.Errorf("change request for %s with missing arguments", descriptor.Name)
		return
	}
	field, hasField := patch["field"].(string)
	value, hasValue := patch["value"]
	if !hasField || !hasValue {
		rlog.Errorf("change request for %s with missing arguments", descriptor.Name)
		return
	}

	obj, found, err := m.store.FindOne(ctx, descriptor.Name,
		store.Filter{object.FieldUUID: uuidString})
	if err != nil {
		rlog.WithError(err).Errorf("cannot change %s", descriptor.Name)
		return
	}
	if !found {
		rlog.Warningf("change for unknown object of type %s requested", descriptor.Name)
		m.respond(ctx, request.Client, Envelope{
			Component: core.Component,
			Action:    string(core.ActionChange),
			Data:      []interface{}{false, nil},
		})
		return
	}

	if !access.Evaluate(ctx, request.Subject, "write", obj) {
		m.cancelByPermission(ctx, request)
		return
	}

	obj.Set(field, value)

	if err := obj.Validate(); err != nil {
		rlog.WithError(err).Warningf("validation of changed %s %s failed", descriptor.Name, obj.UUID())
	}

	if err := m.store.Save(ctx, obj); err != nil {
		rlog.WithError(err).Errorf("cannot store %s %s", descriptor.Name, obj.UUID())
		return
	}

	m.updateSubscribers(ctx, obj)

	m.respond(ctx, request.Client, Envelope{
		Component: core.Component,
		Action:    string(core.ActionChange),
		Data:      []interface{}{true, nil},
	})
}

func (m *Manager) subscribe(ctx context.Context, request *Request) {
	rlog := logger.FromContext(ctx)
	uuidString, _ := request.Data.(string)
	objectID, err := uuid.Parse(uuidString)
	if err != nil {
		rlog.Errorf("subscribe request with invalid uuid: %v", request.Data)
		return
	}

	m.subscriptions.Subscribe(objectID, request.Client)

	m.respond(ctx, request.Client, Envelope{
		Component: core.Component,
		Action:    string(core.ActionSubscribe),
		Data:      map[string]interface{}{"uuid": uuidString, "success": true},
	})
}

func (m *Manager) unsubscribe(ctx context.Context, request *Request) {
	rlog := logger.FromContext(ctx)
	uuidString, _ := request.Data.(string)
	objectID, err := uuid.Parse(uuidString)
	if err != nil {
		rlog.Errorf("unsubscribe request with invalid uuid: %v", request.Data)
		return
	}

	m.subscriptions.Unsubscribe(objectID, request.Client)

	m.respond(ctx, request.Client, Envelope{
		Component: core.Component,
		Action:    string(core.ActionUnsubscribe),
		Data:      map[string]interface{}{"uuid": uuidString, "success": true},
	})
}

// updateSubscribers fans the object's full field set out to every
// current subscriber, exactly once per subscriber.
func (m *Manager) updateSubscribers(ctx context.Context, obj *object.Object) {
	rlog := logger.FromContext(ctx)
	subscribers := m.subscriptions.SubscribersOf(obj.UUID())
	if len(subscribers) == 0 {
		return
	}
	update := Envelope{
		Component: core.Component,
		Action:    "update",
		Data:      obj.SerializableFields(),
	}
	for _, subscriber := range subscribers {
		if err := m.transport.Send(subscriber, update); err != nil {
			rlog.WithError(err).Warningf("transmission error notifying subscriber %s", subscriber)
		}
	}
}

func (m *Manager) cancelByPermission(ctx context.Context, request *Request) {
	logger.FromContext(ctx).Errorf("no permission for %s request of client %s",
		request.Action, request.Client)
	m.respond(ctx, request.Client, Envelope{
		Component: core.Component,
		Action:    "Fail",
		Data:      []interface{}{false, "No permission.", request.Data},
	})
}

func (m *Manager) notifyLifecycle(ctx context.Context, event events.Event) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, event); err != nil {
		logger.FromContext(ctx).WithError(err).Warningf(
			"transmission error during %s notification", event.Operation)
	}
}

func (m *Manager) respond(ctx context.Context, clientID uuid.UUID, envelope Envelope) {
	if err := m.transport.Send(clientID, envelope); err != nil {
		logger.FromContext(ctx).WithError(err).Warningf(
			"transmission error during response to %s", clientID)
	}
}
