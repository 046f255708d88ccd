package rooms

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024 // 64KB
)

// Client represents one authenticated WebSocket connection.
type Client struct {
	UserID   string
	DriverID string // set for driver-role connections
	Role     string // "rider", "driver" or "admin"
	IsAdmin  bool
	Conn     *websocket.Conn
	Send     chan *Message

	hub        *Hub
	geoRoom    string
	closed     bool // no further enqueues
	sendClosed bool // channel actually closed
	mu         sync.Mutex
}

// NewClient creates a client for an upgraded connection.
func NewClient(userID, driverID, role string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		UserID:   userID,
		DriverID: driverID,
		Role:     role,
		IsAdmin:  role == "admin",
		Conn:     conn,
		Send:     make(chan *Message, 256),
		hub:      hub,
	}
}

// Key identifies the connection inside the hub.
func (c *Client) Key() string { return c.UserID }

// GeoRoom returns the geo room the client currently belongs to, or "".
func (c *Client) GeoRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geoRoom
}

func (c *Client) setGeoRoom(room string) {
	c.mu.Lock()
	c.geoRoom = room
	c.mu.Unlock()
}

// enqueue buffers an outbound message. A full buffer drops the connection:
// a peer that cannot drain 256 messages is effectively gone.
func (c *Client) enqueue(msg *Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.Send <- msg:
		c.mu.Unlock()
	default:
		c.closed = true
		c.mu.Unlock()
		log.Printf("rooms: send buffer full for %s, disconnecting", c.Key())
		c.hub.disconnect(c)
	}
}

// closeSend stops further enqueues and closes the channel exactly once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		err := c.Conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("rooms: read error for %s: %v", c.Key(), err)
			}
			break
		}

		msg.Timestamp = time.Now()
		msg.UserID = c.UserID

		c.hub.HandleMessage(c, &msg)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
