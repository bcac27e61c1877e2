// Package streaming fans newly written events out to any open
// events.getStreamed websocket connection for the same user, so a client
// watching a stream sees new events without polling events.get.
package streaming

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader is shared by every websocket endpoint in internal/httpapi.
// Origin checking is left to the reverse proxy in front of this service,
// matching the permissive CORS policy the REST routes already apply.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks every connected streaming client, grouped by the user whose
// events they are watching.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool
}

// Client is one open events.getStreamed connection.
type Client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]bool)}
}

// Serve upgrades the connection and pumps events for userID to it until the
// client disconnects. Blocks until the connection closes.
func (h *Hub) Serve(conn *websocket.Conn, userID string) {
	c := &Client{hub: h, userID: userID, conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]bool)
	}
	h.clients[userID][c] = true
	h.mu.Unlock()

	go c.writePump()
	c.readPump()
}

// BroadcastToUser delivers message to every client currently watching
// userID's events; a client whose send buffer is full is dropped rather
// than allowed to stall the broadcast.
func (h *Hub) BroadcastToUser(userID string, message []byte) {
	h.mu.RLock()
	clients := h.clients[userID]
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- message:
		default:
			h.unregister(c)
		}
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.clients[c.userID]; ok {
		if _, present := clients[c]; present {
			delete(clients, c)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump does nothing but keep the connection alive and detect closure;
// events.getStreamed is a read-only feed, the client never sends frames.
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
