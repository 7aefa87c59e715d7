// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/session"
	"github.com/labstack/echo/v4"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionHandler handles the session lifecycle, document upload and indexing
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleKeepAlive(c echo.Context) error
	HandleUploadDocument(c echo.Context) error
	HandlePrepare(c echo.Context) error
	HandleProgressStream(c echo.Context) error
	HandleSetAPIKey(c echo.Context) error
}

// ChatHandler handles questions and the transcript
type ChatHandler interface {
	HandleAsk(c echo.Context) error
	HandleGetMessages(c echo.Context) error
	HandleGetMessagesMsgpack(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Create() *models.ChatSession
	Get(id string) (*models.ChatSession, bool)
	Messages(id string) ([]models.Message, bool)
	Touch(id string) bool
	Count() int
	Delete(id string) error
	AttachDocument(id string, file *models.FileInfo) (*models.ChatSession, error)
	Prepare(id string) (*models.ChatSession, error)
	SetUserAPIKey(id, key string) (*models.ChatSession, error)
	Ask(ctx context.Context, id, query string) (*session.AskResult, error)
	AskStream(ctx context.Context, id, query string, onDelta func(string) error) (*session.AskResult, error)
}

var _ SessionManager = (*session.Manager)(nil)
