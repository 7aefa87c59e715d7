// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type sessionCounter interface {
	Count() int
}

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version     string
	vectorStore string
	sessions    sessionCounter
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, vectorStore string, sessions sessionCounter) HealthHandler {
	return &HealthHandlerImpl{
		version:     version,
		vectorStore: vectorStore,
		sessions:    sessions,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"version":     h.version,
		"vectorStore": h.vectorStore,
		"sessions":    h.sessions.Count(),
	})
}
