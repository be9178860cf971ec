// Package websocket tracks the browser connections of each signed-in user.
package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client wraps one connection. Writes are serialized because a websocket
// connection supports a single concurrent writer.
type Client struct {
	conn Conn
	mu   sync.Mutex
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active connections per user, several per user (tabs).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // userID -> set of clients
	maxPerUser int
	logger     *zap.Logger
}

// NewHub creates a Hub with a per-user connection limit.
func NewHub(maxPerUser int, logger *zap.Logger) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerUser: maxPerUser,
		logger:     logger.Named("websocket"),
	}
}

// Register adds a connection for the given user. Over the per-user limit the
// connection is closed with a policy violation and nil is returned.
func (h *Hub) Register(userID string, conn Conn) *Client {
	h.mu.Lock()
	userClients, ok := h.clients[userID]
	if !ok {
		userClients = make(map[*Client]struct{})
		h.clients[userID] = userClients
	}

	if len(userClients) >= h.maxPerUser {
		h.mu.Unlock()
		h.logger.Warn("too many connections, closing the new one",
			zap.String("user_id", userID),
			zap.Int("max", h.maxPerUser),
		)
		// The close frame may block for writeWait; the hub lock is released.
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this user"),
			time.Now().Add(writeWait),
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	userClients[client] = struct{}{}
	h.mu.Unlock()
	return client
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(userID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if userClients, ok := h.clients[userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Send writes msg to every connection of the user. Connections that fail the
// write are dropped. It returns how many connections received the message.
func (h *Hub) Send(userID string, msg []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if err := client.write(msg); err != nil {
			h.logger.Debug("write failed, dropping connection", zap.String("user_id", userID), zap.Error(err))
			h.Unregister(userID, client)
			continue
		}
		delivered++
	}
	return delivered
}

// ActiveConnections returns the number of open connections for a user.
func (h *Hub) ActiveConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}
