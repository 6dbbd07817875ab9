/*Package ws provides the websocket delivery layer: it accepts client
connections, feeds their requests into the object manager and implements
the send primitive the manager uses for responses and subscriber
notifications. Delivery is best effort; neither delivery nor ordering is
guaranteed.
*/
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/seastead-tech/pelorus/core"
	"github.com/seastead-tech/pelorus/core/access"
	"github.com/seastead-tech/pelorus/core/logger"
	"github.com/seastead-tech/pelorus/core/manager"
	"github.com/seastead-tech/pelorus/core/schema"
)

const (
	// time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// send pings to peer with this period, must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// outgoing messages buffered per client before sends fail
	sendBuffer = 64
)

// ErrNotConnected is returned by Send when the client has no open
// connection.
var ErrNotConnected = errors.New("client is not connected")

// ErrSendBufferFull is returned by Send when the client's outgoing buffer
// is exhausted. The message is dropped.
var ErrSendBufferFull = errors.New("client send buffer is full")

// requestEnvelope is the incoming wire format.
type requestEnvelope struct {
	Component string          `json:"component"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
}

type client struct {
	id      uuid.UUID
	subject *access.Subject
	conn    *websocket.Conn

	// mutex guards send and closed so that an enqueue can never race the
	// channel close on disconnect
	mutex  sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue hands the payload to the write pump without blocking. It is
// safe against a concurrent disconnect.
func (c *client) enqueue(payload []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// shutdown closes the send channel exactly once; enqueue refuses
// afterwards.
func (c *client) shutdown() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub manages the connected websocket clients. It implements
// manager.Transport.
type Hub struct {
	mutex    sync.RWMutex
	clients  map[uuid.UUID]*client
	registry *schema.Registry
	manager  *manager.Manager
	upgrader websocket.Upgrader
}

// NewHub creates a hub serving the given registry. The object manager is
// attached separately because it in turn needs the hub as its transport.
func NewHub(registry *schema.Registry) *Hub {
	return &Hub{
		clients:  make(map[uuid.UUID]*client),
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// AttachManager wires the object manager the hub forwards requests to.
func (h *Hub) AttachManager(m *manager.Manager) {
	h.manager = m
}

// HandleRoute adds the websocket route /ws to the router.
func (h *Hub) HandleRoute(router *mux.Router) {
	logger.Default().Debugln("websocket")
	logger.Default().Debugln("  handle route: /ws GET")
	router.HandleFunc("/ws", h.serveWS).Methods(http.MethodGet)
}

// Send delivers one envelope to the client, best effort. It returns an
// error if the client is not connected or its buffer is full; the caller
// logs and moves on, there is no retry.
func (h *Hub) Send(clientID uuid.UUID, envelope manager.Envelope) error {
	h.mutex.RLock()
	c, ok := h.clients[clientID]
	h.mutex.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rlog.WithError(err).Warningln("websocket upgrade failed")
		return
	}

	c := &client{
		id:      uuid.New(),
		subject: access.SubjectFromContext(r.Context()),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
	}

	h.mutex.Lock()
	h.clients[c.id] = c
	h.mutex.Unlock()

	rlog.Debugf("client %s connected", c.id)

	go h.writePump(c)
	h.readPump(r, c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(r *http.Request, c *client) {
	defer h.disconnect(r, c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		ctx, rlog := logger.ContextWithLogger(r.Context())

		var envelope requestEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			rlog.WithError(err).Warningf("client %s sent an unreadable message", c.id)
			continue
		}

		switch envelope.Component {
		case core.Component:
			var data interface{}
			if len(envelope.Data) > 0 {
				if err := json.Unmarshal(envelope.Data, &data); err != nil {
					rlog.WithError(err).Warningf("client %s sent unreadable request data", c.id)
					continue
				}
			}
			h.manager.Process(ctx, &manager.Request{
				Action:  core.Action(envelope.Action),
				Data:    data,
				Subject: c.subject,
				Client:  c.id,
			})
		case "schema":
			h.handleSchemaRequest(ctx, c, envelope)
		default:
			rlog.Warningf("client %s addressed unknown component %s", c.id, envelope.Component)
		}
	}
}

// handleSchemaRequest serves the schema request channel: clients may ask
// for one descriptor or for all of them.
func (h *Hub) handleSchemaRequest(ctx context.Context, c *client, envelope requestEnvelope) {
	switch envelope.Action {
	case "get":
		var name string
		json.Unmarshal(envelope.Data, &name)
		descriptor, ok := h.registry.Descriptor(name)
		if !ok {
			h.Send(c.id, manager.Envelope{Component: "schema", Action: "noschema", Data: name})
			return
		}
		h.Send(c.id, manager.Envelope{Component: "schema", Action: "get", Data: descriptor})
	case "all":
		all := make(map[string]*schema.Descriptor)
		for _, name := range h.registry.Names() {
			descriptor, _ := h.registry.Descriptor(name)
			all[name] = descriptor
		}
		h.Send(c.id, manager.Envelope{Component: "schema", Action: "all", Data: all})
	}
}

func (h *Hub) disconnect(r *http.Request, c *client) {
	h.mutex.Lock()
	delete(h.clients, c.id)
	h.mutex.Unlock()

	c.shutdown()
	c.conn.Close()

	// drop the client's subscriptions so long-running deployments do not
	// accumulate dead subscribers
	h.manager.DropClient(c.id)

	logger.FromContext(r.Context()).Debugf("client %s disconnected", c.id)
}
