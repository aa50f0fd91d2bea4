package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one accepted websocket connection. Writes are serialized
// through a mutex because gorilla/websocket allows only one concurrent
// writer, and a generation goroutine streams tokens while the read loop
// may need to report errors.
type Client struct {
	ID   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Send marshals v and writes it as one text frame
func (c *Client) Send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// ClientRegistry tracks active websocket connections by generated ID
type ClientRegistry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientRegistry creates an empty client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Register wraps a connection in a Client with a fresh ID
func (r *ClientRegistry) Register(conn *websocket.Conn) *Client {
	client := &Client{
		ID:   uuid.NewString(),
		conn: conn,
	}

	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()

	return client
}

// Unregister removes a client from the registry
func (r *ClientRegistry) Unregister(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
