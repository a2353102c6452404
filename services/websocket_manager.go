package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// WebSocket errors
var (
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrConnectionBufferFull = errors.New("connection buffer full")
)

const connectionBufferSize = 32

// Hub tracks live websocket connections per user. A user may hold several
// connections, one per open tab or device.
type Hub struct {
	// Map of user ID to map of connection ID to connection
	connections map[string]map[string]*WebSocketConnection
	mu          sync.RWMutex
	log         *slog.Logger
}

// WebSocketConnection represents a single WebSocket connection
type WebSocketConnection struct {
	ID           string
	Conn         *websocket.Conn
	UserID       string
	SessionToken string
	Send         chan []byte
}

// MessagePayload represents the structure of WebSocket messages
type MessagePayload struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]map[string]*WebSocketConnection),
		log:         logger,
	}
}

// NewConnection builds a connection with a fresh id and send buffer.
func NewConnection(conn *websocket.Conn, userID, sessionToken string) *WebSocketConnection {
	return &WebSocketConnection{
		ID:           uuid.NewString(),
		Conn:         conn,
		UserID:       userID,
		SessionToken: sessionToken,
		Send:         make(chan []byte, connectionBufferSize),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *WebSocketConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.UserID] == nil {
		h.connections[conn.UserID] = make(map[string]*WebSocketConnection)
	}
	h.connections[conn.UserID][conn.ID] = conn

	h.log.Info("WebSocket connection registered",
		"userID", conn.UserID,
		"connectionID", conn.ID,
		"totalConnections", len(h.connections[conn.UserID]))
}

// Unregister removes a connection and closes its send channel.
func (h *Hub) Unregister(userID, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userConns, exists := h.connections[userID]
	if !exists {
		return
	}
	conn, exists := userConns[connectionID]
	if !exists {
		return
	}
	close(conn.Send)
	delete(userConns, connectionID)

	h.log.Info("WebSocket connection unregistered",
		"userID", userID,
		"connectionID", connectionID,
		"remainingConnections", len(userConns))

	if len(userConns) == 0 {
		delete(h.connections, userID)
	}
}

// SendToUser delivers a typed message to every connection of userID and
// returns how many connections accepted it. Full buffers are skipped.
func (h *Hub) SendToUser(userID, msgType string, data interface{}) int {
	payload := MessagePayload{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("Failed to marshal WebSocket message", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, conn := range h.connections[userID] {
		select {
		case conn.Send <- jsonData:
			delivered++
		default:
			h.log.Warn("WebSocket connection buffer full",
				"userID", userID,
				"connectionID", conn.ID)
		}
	}
	return delivered
}

// SendToConnection sends raw data to a specific connection.
func (h *Hub) SendToConnection(userID, connectionID string, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, exists := h.connections[userID][connectionID]
	if !exists {
		return ErrConnectionNotFound
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrConnectionBufferFull
	}
}

// ConnectionCount returns the number of live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}
