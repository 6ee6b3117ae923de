package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// pushClient is one websocket subscriber to a session's notifications
type pushClient struct {
	ID          string
	SessionID   string
	Conn        *websocket.Conn
	ConnectedAt time.Time
	IPAddress   string

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// WriteJSON serializes writes to the connection
func (c *pushClient) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

// Close ends the client's push loop and closes the connection
func (c *pushClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

// ClientInfo describes a connected push client
type ClientInfo struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ConnectedAt time.Time `json:"connected_at"`
	IPAddress   string    `json:"ip_address"`
}

// ClientRegistry manages connected push clients
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*pushClient
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*pushClient),
	}
}

// Add adds a client to the registry
func (r *ClientRegistry) Add(client *pushClient) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[client.ID] = client
}

// Remove removes a client from the registry
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, clientID)
}

// GetAll returns all clients
func (r *ClientRegistry) GetAll() []*pushClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*pushClient, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// Infos returns a description of every connected client
func (r *ClientRegistry) Infos() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		infos = append(infos, ClientInfo{
			ID:          client.ID,
			SessionID:   client.SessionID,
			ConnectedAt: client.ConnectedAt,
			IPAddress:   client.IPAddress,
		})
	}
	return infos
}
