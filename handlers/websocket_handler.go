package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"cubis-academy/middleware"
	"cubis-academy/services"
)

// WebSocketMessage represents an incoming WebSocket message
type WebSocketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketUpgrade upgrades HTTP connection to WebSocket
func (h *Handler) WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleWebSocket streams notifications to an authenticated client until the
// connection drops or its session stops being valid.
func (h *Handler) HandleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals(middleware.LocalUserID).(string)
	token, _ := c.Locals(middleware.LocalSessionToken).(string)
	if userID == "" || token == "" {
		slog.Error("WebSocket connection without session")
		c.Close()
		return
	}

	conn := services.NewConnection(c, userID, token)
	h.Hub.Register(conn)
	defer h.Hub.Unregister(userID, conn.ID)

	welcomeMsg := map[string]interface{}{
		"type":          "connected",
		"message":       "WebSocket connection established",
		"user_id":       userID,
		"connection_id": conn.ID,
	}
	if welcomeData, err := json.Marshal(welcomeMsg); err == nil {
		c.WriteMessage(websocket.TextMessage, welcomeData)
	}

	go h.handleWebSocketSend(conn)

	h.handleWebSocketReceive(conn)
}

// handleWebSocketSend writes queued messages and, on every keepalive tick,
// re-validates the session so revoked devices are disconnected.
func (h *Handler) handleWebSocketSend(conn *services.WebSocketConnection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Error("Failed to write WebSocket message", "error", err)
				return
			}

		case <-ticker.C:
			if reason, ok := h.sessionStillValid(conn.SessionToken); !ok {
				sessionEnded, _ := json.Marshal(map[string]string{"type": "session_ended", "reason": reason})
				conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				conn.Conn.WriteMessage(websocket.TextMessage, sessionEnded)
				return
			}

			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sessionStillValid(token string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := h.Sessions.Validate(ctx, token)
	if err != nil {
		// Keep the socket open through transient store failures.
		slog.Warn("Failed to re-validate WebSocket session", "error", err)
		return "", true
	}
	return result.Reason, result.Valid
}

// handleWebSocketReceive handles receiving messages from the WebSocket client
func (h *Handler) handleWebSocketReceive(conn *services.WebSocketConnection) {
	defer func() {
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(64 * 1024)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}

		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Error("Failed to parse WebSocket message", "error", err)
			continue
		}

		switch msg.Type {
		case "ping":
			pongData, _ := json.Marshal(map[string]string{"type": "pong"})
			select {
			case conn.Send <- pongData:
			default:
			}

		default:
			slog.Warn("Unknown WebSocket message type",
				"type", msg.Type,
				"userID", conn.UserID)
		}
	}
}
