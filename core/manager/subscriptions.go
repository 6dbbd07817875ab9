package manager

import (
	"github.com/google/uuid"
)

// Subscriptions is the live mapping from object uuid to the set of
// clients wanting change notifications. Membership is deduplicated;
// entries whose subscriber set becomes empty are dropped.
//
// Subscriptions is not safe for concurrent use; the object manager
// serializes all access through its request handling.
type Subscriptions struct {
	entries map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewSubscriptions creates an empty subscription registry.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{entries: make(map[uuid.UUID]map[uuid.UUID]struct{})}
}

// Subscribe adds the client to the object's subscriber set. Subscribing
// twice is a no-op.
func (s *Subscriptions) Subscribe(objectID, clientID uuid.UUID) {
	subscribers, ok := s.entries[objectID]
	if !ok {
		subscribers = make(map[uuid.UUID]struct{})
		s.entries[objectID] = subscribers
	}
	subscribers[clientID] = struct{}{}
}

// Unsubscribe removes the client from the object's subscriber set.
// Unsubscribing a client that is not subscribed is a no-op.
func (s *Subscriptions) Unsubscribe(objectID, clientID uuid.UUID) {
	subscribers, ok := s.entries[objectID]
	if !ok {
		return
	}
	delete(subscribers, clientID)
	if len(subscribers) == 0 {
		delete(s.entries, objectID)
	}
}

// SubscribersOf returns the clients subscribed to the object; empty if
// none.
func (s *Subscriptions) SubscribersOf(objectID uuid.UUID) []uuid.UUID {
	subscribers := s.entries[objectID]
	result := make([]uuid.UUID, 0, len(subscribers))
	for clientID := range subscribers {
		result = append(result, clientID)
	}
	return result
}

// DropAll removes the object's entry entirely. Used on delete.
func (s *Subscriptions) DropAll(objectID uuid.UUID) {
	delete(s.entries, objectID)
}

// DropClient removes the client from every subscriber set, dropping
// entries that become empty. Used on client disconnect.
func (s *Subscriptions) DropClient(clientID uuid.UUID) {
	for objectID, subscribers := range s.entries {
		delete(subscribers, clientID)
		if len(subscribers) == 0 {
			delete(s.entries, objectID)
		}
	}
}
