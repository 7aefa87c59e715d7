package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the chat channel
const (
	// Client -> Server messages
	MsgTypeAsk  = "ask"
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeDelta     = "delta"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// WSMessage is the envelope for every frame in both directions
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// AskPayload carries a question
type AskPayload struct {
	Query string `json:"query"`
}

// WSDeltaResponse carries one piece of a streamed answer
type WSDeltaResponse struct {
	Content string `json:"content"`
}

// WSErrorResponse mirrors APIError on the socket
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// WebSocketHandler streams answers for one session over a WebSocket
type WebSocketHandler struct {
	session  SessionManager
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket chat handler
func NewWebSocketHandler(sessionMgr SessionManager) *WebSocketHandler {
	return &WebSocketHandler{
		session: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// HandleWebSocket upgrades the connection and serves ask/ping messages until
// the client goes away.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id := c.Param("id")
	if _, ok := wsh.session.Get(id); !ok {
		return NewNotFoundError("session", id)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Printf("[WebSocket %s] Client connected\n", shortID(id))

	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeConnected,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})

	for {
		var msg WSMessage
		err := ws.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WebSocket %s] Connection error: %v\n", shortID(id), err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			wsh.session.Touch(id)
			wsh.sendMessage(ws, WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		case MsgTypeAsk:
			wsh.handleAsk(c, ws, id, msg)
		default:
			wsh.sendError(ws, msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE", http.StatusBadRequest)
		}
	}

	fmt.Printf("[WebSocket %s] Client disconnected\n", shortID(id))
	return nil
}

// handleAsk answers one question, streaming deltas before the final result.
// The frames of one answer share the ask message's ID.
func (wsh *WebSocketHandler) handleAsk(c echo.Context, ws *websocket.Conn, id string, msg WSMessage) {
	var payload AskPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, msg.ID, "Invalid ask payload: "+err.Error(), "INVALID_PAYLOAD", http.StatusBadRequest)
		return
	}

	res, err := wsh.session.AskStream(c.Request().Context(), id, payload.Query, func(delta string) error {
		return ws.WriteJSON(WSMessage{
			Type:      MsgTypeDelta,
			ID:        msg.ID,
			Payload:   mustJSON(WSDeltaResponse{Content: delta}),
			Timestamp: time.Now().UnixMilli(),
		})
	})
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			apiErr = sessionError(err, id)
		}
		wsh.sendError(ws, msg.ID, apiErr.Message, apiErr.Code, apiErr.Status)
		return
	}

	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeComplete,
		ID:        msg.ID,
		Payload:   mustJSON(res),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (wsh *WebSocketHandler) sendMessage(ws *websocket.Conn, msg WSMessage) {
	if err := ws.WriteJSON(msg); err != nil {
		fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
	}
}

func (wsh *WebSocketHandler) sendError(ws *websocket.Conn, id, message, code string, status int) {
	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeError,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSErrorResponse{
			Type:    MsgTypeError,
			Message: message,
			Code:    code,
			Status:  status,
		}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
