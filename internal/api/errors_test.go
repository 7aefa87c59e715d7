package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/askmypdf/backend/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestSessionError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{session.ErrSessionNotFound, http.StatusNotFound, "NOT_FOUND"},
		{session.ErrEmptyQuery, http.StatusBadRequest, "VALIDATION_ERROR"},
		{session.ErrNoDocument, http.StatusConflict, "NO_DOCUMENT"},
		{session.ErrIndexing, http.StatusConflict, "INDEXING"},
		{session.ErrNotReady, http.StatusConflict, "NOT_READY"},
		{session.ErrFreeLimitReached, http.StatusPaymentRequired, "FREE_LIMIT_REACHED"},
		{fmt.Errorf("%w: boom", session.ErrUpstream), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{fmt.Errorf("%w: retrieving context: %w", session.ErrUpstream, context.Canceled), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{errors.New("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			apiErr := sessionError(tt.err, "abc")
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"api error", NewNotFoundError("session", "x"), http.StatusNotFound, "NOT_FOUND"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "UNKNOWN_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			ErrorHandler(tt.err, c)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.code)
		})
	}
}

func TestExposeErrorDetails(t *testing.T) {
	defer SetExposeErrorDetails(true)

	assert.Equal(t, "disk full", NewInternalError("x", errors.New("disk full")).Details)

	SetExposeErrorDetails(false)
	assert.Empty(t, NewInternalError("x", errors.New("disk full")).Details)
	assert.Empty(t, NewBadGatewayError("x", errors.New("upstream")).Details)
}
