// routes.go - Route registration helpers
package api

import (
	"github.com/askmypdf/backend/internal/storage"
	"github.com/labstack/echo/v4"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store       storage.Store
	SessionMgr  SessionManager
	VectorStore string
	Version     string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Session   SessionHandler
	Chat      ChatHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.VectorStore, deps.SessionMgr),
		Session:   NewSessionHandler(deps.Store, deps.SessionMgr),
		Chat:      NewChatHandler(deps.SessionMgr),
		WebSocket: NewWebSocketHandler(deps.SessionMgr),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Session lifecycle
	sessions := apiGroup.Group("/sessions")
	sessions.POST("", handlers.Session.HandleCreateSession)
	sessions.GET("/:id", handlers.Session.HandleGetSession)
	sessions.DELETE("/:id", handlers.Session.HandleDeleteSession)
	sessions.POST("/:id/keepalive", handlers.Session.HandleKeepAlive)

	// Document and indexing
	sessions.POST("/:id/document", handlers.Session.HandleUploadDocument)
	sessions.POST("/:id/prepare", handlers.Session.HandlePrepare)
	sessions.GET("/:id/progress", handlers.Session.HandleProgressStream)
	sessions.PUT("/:id/api-key", handlers.Session.HandleSetAPIKey)

	// Chat
	sessions.POST("/:id/messages", handlers.Chat.HandleAsk)
	sessions.GET("/:id/messages", handlers.Chat.HandleGetMessages)
	sessions.GET("/:id/messages/msgpack", handlers.Chat.HandleGetMessagesMsgpack)
	sessions.GET("/:id/ws", handlers.WebSocket.HandleWebSocket)
}
