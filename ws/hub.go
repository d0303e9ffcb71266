package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/cardscore/globals"
	"github.com/tcriess/cardscore/ledger"
	"github.com/tcriess/cardscore/types"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 64
)

// Ledger is the part of the ledger service the room feed needs.
type Ledger interface {
	GetUser(userId string) (types.User, error)
	GetRoomDetail(roomId string) (types.RoomDetail, error)
	CreateTransaction(roomId, fromUserId, toUserId string, amount int) (types.Transaction, error)
}

// Registry keeps one hub per room, created when the first client of the room connects. It serves the websocket
// endpoint and receives the room change notifications of the ledger.
type Registry struct {
	ledger   Ledger
	hubs     map[string]*Hub
	upgrader websocket.Upgrader
	logger   hclog.Logger
	closed   bool
	sync.RWMutex
}

func NewRegistry(l Ledger) *Registry {
	return &Registry{
		ledger: l,
		hubs:   make(map[string]*Hub),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: globals.AppLogger.Named("ws"),
	}
}

// RoomChanged implements ledger.RoomWatcher. It never blocks.
func (reg *Registry) RoomChanged(roomId string) {
	reg.RLock()
	hub, ok := reg.hubs[roomId]
	reg.RUnlock()
	if ok {
		hub.notify()
	}
}

// acquire returns the hub of the room, starting it if necessary. Every successful acquire must be paired with a
// release.
func (reg *Registry) acquire(roomId string) (*Hub, bool) {
	reg.Lock()
	defer reg.Unlock()
	if reg.closed {
		return nil, false
	}
	h, ok := reg.hubs[roomId]
	if !ok {
		h = newHub(roomId, reg.ledger, reg.logger)
		reg.hubs[roomId] = h
		go h.Run()
	}
	h.refs++
	return h, true
}

// release stops the hub once its last connection is gone.
func (reg *Registry) release(h *Hub) {
	reg.Lock()
	defer reg.Unlock()
	h.refs--
	if h.refs > 0 {
		return
	}
	if reg.hubs[h.roomId] == h {
		delete(reg.hubs, h.roomId)
	}
	h.stop()
}

// NoHubs returns the number of running room hubs.
func (reg *Registry) NoHubs() int {
	reg.RLock()
	defer reg.RUnlock()
	return len(reg.hubs)
}

// NoClients returns the number of connected clients over all rooms.
func (reg *Registry) NoClients() int {
	reg.RLock()
	defer reg.RUnlock()
	n := 0
	for _, h := range reg.hubs {
		n += h.NoClients()
	}
	return n
}

// Close stops all hubs, which disconnects their clients.
func (reg *Registry) Close() {
	reg.Lock()
	defer reg.Unlock()
	reg.closed = true
	for roomId, h := range reg.hubs {
		h.stop()
		delete(reg.hubs, roomId)
	}
}

// ServeHTTP upgrades the connection of user ?userId= and subscribes it to the room {id}.
func (reg *Registry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["id"]
	userId := r.URL.Query().Get("userId")
	if _, err := reg.ledger.GetRoomDetail(roomId); err != nil {
		httpError(w, err)
		return
	}
	if _, err := reg.ledger.GetUser(userId); err != nil {
		httpError(w, err)
		return
	}
	hub, ok := reg.acquire(roomId)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer reg.release(hub)

	conn, err := reg.upgrader.Upgrade(w, r, nil)
	if err != nil {
		reg.logger.Error("websocket upgrade error", "error", err)
		return
	}
	c := newClient(hub, conn, userId)
	if !hub.register(c) {
		conn.Close()
		return
	}
	go c.WriteLoop()
	c.ReadLoop()
	hub.unregister(c)
}

func httpError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// Hub broadcasts the detail of one room to its clients whenever the room changes.
type Hub struct {
	roomId string
	ledger Ledger
	logger hclog.Logger

	// Registered clients.
	clients map[*Client]struct{}

	// Register a new client to the hub.
	Register chan *Client

	// Unregister a client from the hub.
	Unregister chan *Client

	// pending change, coalesces bursts of notifications
	changed chan struct{}

	done     chan struct{}
	stopOnce sync.Once

	// connections using the hub, guarded by the registry lock
	refs int

	// mutex for reading the clients from outside the run loop
	sync.RWMutex
}

func newHub(roomId string, l Ledger, logger hclog.Logger) *Hub {
	return &Hub{
		roomId:     roomId,
		ledger:     l,
		logger:     logger.With("room", roomId),
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		changed:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

func (h *Hub) notify() {
	select {
	case h.changed <- struct{}{}:
	default:
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Run is the main hub event loop handling register, unregister and room change events.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.Register:
			h.Lock()
			h.clients[c] = struct{}{}
			h.Unlock()
			if msg, ok := h.roomMessage(); ok {
				h.send(c, msg)
			}

		case c := <-h.Unregister:
			h.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
			}
			h.Unlock()

		case <-h.changed:
			msg, ok := h.roomMessage()
			if !ok {
				continue
			}
			h.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.RUnlock()
			for _, c := range clients {
				h.send(c, msg)
			}

		case <-h.done:
			h.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.Send)
			}
			h.Unlock()
			return
		}
	}
}

// send queues msg for c. A client that does not keep up is dropped.
func (h *Hub) send(c *Client, msg []byte) {
	select {
	case c.Send <- msg:
	default:
		h.logger.Warn("client send buffer full, dropping client", "user", c.userId)
		h.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.Send)
		}
		h.Unlock()
	}
}

// roomMessage loads the current room detail and wraps it as a websocket message.
func (h *Hub) roomMessage() ([]byte, bool) {
	detail, err := h.ledger.GetRoomDetail(h.roomId)
	if err != nil {
		h.logger.Warn("could not load room detail", "error", err)
		if errors.Is(err, ledger.ErrNotFound) {
			// the room is gone, clients are disconnected after the error message
			defer h.stop()
		}
		msg, err := wireMessage(types.WireMessageTypeError, types.ErrorMessage{Message: err.Error()})
		return msg, err == nil
	}
	msg, err := wireMessage(types.WireMessageTypeRoom, detail)
	if err != nil {
		h.logger.Error("could not marshal room detail", "error", err)
		return nil, false
	}
	return msg, true
}

func wireMessage(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.WebsocketMessage{Event: event, Data: raw})
}
