package rooms

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrGlobalBroadcast is returned when a caller attempts to emit to every
// connected client. All deliveries target a named room; a universal audience
// is a programming error and must fail loudly.
var ErrGlobalBroadcast = errors.New("rooms: global broadcast is forbidden, emit to a named room")

// AdminRoom receives operator alerts.
const AdminRoom = "admin"

// UserRoom names the direct room of a user.
func UserRoom(userID string) string { return "user:" + userID }

// DriverRoom names the direct room of a driver.
func DriverRoom(driverID string) string { return "driver:" + driverID }

// GeoRoom names the broadcast room of a geohash tile.
func GeoRoom(hash string) string { return "geo:" + hash }

// MessageHandler is a function that handles incoming client messages
type MessageHandler func(*Client, *Message)

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opJoin
	opLeave
	opMoveGeo
	opEmit
)

type hubOp struct {
	kind    opKind
	client  *Client
	room    string
	newHash string
	msg     *Message
	local   bool // emit originated on this instance
}

// Hub owns room membership and delivers messages to members. All mutations
// and emits flow through a single dispatch goroutine, which gives per-room
// FIFO delivery. Reads take the mutex so introspection is safe from any
// goroutine.
type Hub struct {
	clients map[string]*Client            // by connection key (user id)
	rooms   map[string]map[string]*Client // room -> member key -> client

	ops      chan hubOp
	handlers map[string]MessageHandler
	bridge   Bridge

	mu sync.RWMutex
}

// NewHub creates a hub. bridge may be nil for single-instance deployments.
func NewHub(bridge Bridge) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		ops:      make(chan hubOp, 512),
		handlers: make(map[string]MessageHandler),
		bridge:   bridge,
	}
}

// Run starts the hub's dispatch loop. When a bridge is configured it also
// starts relaying remote emits into local rooms.
func (h *Hub) Run() {
	if h.bridge != nil {
		if err := h.bridge.Subscribe(h.deliverRemote); err != nil {
			log.Printf("rooms: bridge subscribe failed: %v", err)
		}
	}

	log.Println("rooms: hub started")
	for op := range h.ops {
		switch op.kind {
		case opRegister:
			h.registerClient(op.client)
		case opUnregister:
			h.unregisterClient(op.client)
		case opJoin:
			h.join(op.client, op.room)
		case opLeave:
			h.leave(op.client, op.room)
		case opMoveGeo:
			h.moveGeo(op.client, op.newHash)
		case opEmit:
			h.deliver(op.room, op.msg, op.local)
		}
	}
}

// Close stops the dispatch loop. Pending ops are processed first.
func (h *Hub) Close() {
	close(h.ops)
}

// Register adds a client and joins its direct rooms.
func (h *Hub) Register(c *Client) {
	h.ops <- hubOp{kind: opRegister, client: c}
}

// Unregister revokes all memberships and closes the client's send channel.
// No events are delivered after the revocation is processed.
func (h *Hub) Unregister(c *Client) {
	h.ops <- hubOp{kind: opUnregister, client: c}
}

// Join adds the client to a room.
func (h *Hub) Join(c *Client, room string) {
	h.ops <- hubOp{kind: opJoin, client: c, room: room}
}

// Leave removes the client from a room.
func (h *Hub) Leave(c *Client, room string) {
	h.ops <- hubOp{kind: opLeave, client: c, room: room}
}

// MoveToGeoRoom atomically leaves the client's current geo room and joins
// geo:{newHash}. A client is a member of exactly one geo room at a time.
func (h *Hub) MoveToGeoRoom(c *Client, newHash string) {
	h.ops <- hubOp{kind: opMoveGeo, client: c, newHash: newHash}
}

// EmitToRoom queues a message for every member of the room, in send order.
// Empty or wildcard rooms are refused with ErrGlobalBroadcast.
func (h *Hub) EmitToRoom(room string, msg *Message) error {
	if room == "" || room == "*" {
		log.Printf("rooms: rejected global broadcast of %q", msg.Type)
		return ErrGlobalBroadcast
	}
	msg.Room = room
	h.ops <- hubOp{kind: opEmit, room: room, msg: msg, local: true}
	return nil
}

// HandleMessage routes an incoming client message to its registered handler.
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	h.mu.RLock()
	handler, exists := h.handlers[msg.Type]
	h.mu.RUnlock()

	if exists {
		handler(client, msg)
	} else {
		log.Printf("rooms: no handler for message type %q", msg.Type)
	}
}

// RegisterHandler registers a message handler for a specific type
func (h *Hub) RegisterHandler(msgType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[msgType] = handler
}

// Members returns the member keys of a room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]string, 0, len(h.rooms[room]))
	for key := range h.rooms[room] {
		members = append(members, key)
	}
	return members
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of active rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetClient returns a connected client by key.
func (h *Hub) GetClient(key string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[key]
	return c, ok
}

// ─── dispatch goroutine ───

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// replace a stale connection for the same identity
	if existing, ok := h.clients[c.Key()]; ok {
		h.removeFromAllRoomsLocked(existing)
		existing.closeSend()
	}

	h.clients[c.Key()] = c
	h.joinLocked(c, UserRoom(c.UserID))
	if c.DriverID != "" {
		h.joinLocked(c, DriverRoom(c.DriverID))
	}
	if c.IsAdmin {
		h.joinLocked(c, AdminRoom)
	}
	log.Printf("rooms: client registered: %s (role: %s)", c.Key(), c.Role)
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.clients[c.Key()]
	if !ok || current != c {
		return
	}

	delete(h.clients, c.Key())
	h.removeFromAllRoomsLocked(c)
	c.closeSend()
	log.Printf("rooms: client unregistered: %s", c.Key())
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, room)
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) moveGeo(c *Client, newHash string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	old := c.GeoRoom()
	next := GeoRoom(newHash)
	if old == next {
		return
	}
	if old != "" {
		h.leaveLocked(c, old)
	}
	h.joinLocked(c, next)
	c.setGeoRoom(next)
}

func (h *Hub) joinLocked(c *Client, room string) {
	if _, ok := h.clients[c.Key()]; !ok {
		// register op not processed yet or client already gone
		h.clients[c.Key()] = c
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][c.Key()] = c
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c.Key())
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) removeFromAllRoomsLocked(c *Client) {
	for room, members := range h.rooms {
		if _, ok := members[c.Key()]; ok {
			delete(members, c.Key())
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.setGeoRoom("")
}

func (h *Hub) deliver(room string, msg *Message, local bool) {
	h.mu.RLock()
	for _, member := range h.rooms[room] {
		member.enqueue(msg)
	}
	h.mu.RUnlock()

	if local && h.bridge != nil {
		if err := h.bridge.Publish(room, msg); err != nil {
			log.Printf("rooms: bridge publish failed for %s: %v", room, err)
		}
	}
}

// deliverRemote feeds a bridged emit into the local dispatch queue so
// remote and local messages share the same per-room ordering.
func (h *Hub) deliverRemote(room string, msg *Message) {
	h.ops <- hubOp{kind: opEmit, room: room, msg: msg, local: false}
}

// disconnect drops a client whose send buffer overflowed.
func (h *Hub) disconnect(c *Client) {
	select {
	case h.ops <- hubOp{kind: opUnregister, client: c}:
	default:
		log.Printf("rooms: op queue full dropping disconnect for %s", c.Key())
	}
}

// String implements fmt.Stringer for diagnostics.
func (h *Hub) String() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fmt.Sprintf("hub{clients=%d rooms=%d}", len(h.clients), len(h.rooms))
}
