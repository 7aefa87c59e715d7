// errors.go - Structured error handling for API responses
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/askmypdf/backend/internal/session"
	"github.com/labstack/echo/v4"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) withCode(code string) *APIError {
	e.Code = code
	return e
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewPaymentRequiredError creates a 402 error asking the user for their own key
func NewPaymentRequiredError(message string) *APIError {
	return &APIError{
		Status:  http.StatusPaymentRequired,
		Code:    "FREE_LIMIT_REACHED",
		Message: message,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil && exposeDetails.Load() {
		err.Details = cause.Error()
	}
	return err
}

// NewBadGatewayError creates a 502 error for failed calls to OpenAI or the
// vector store
func NewBadGatewayError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "UPSTREAM_ERROR",
		Message: message,
	}
	if cause != nil && exposeDetails.Load() {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

var exposeDetails atomic.Bool

func init() {
	exposeDetails.Store(true)
}

// SetExposeErrorDetails controls whether internal error text is sent to clients.
func SetExposeErrorDetails(expose bool) {
	exposeDetails.Store(expose)
}

// sessionError maps session manager errors onto API errors.
func sessionError(err error, id string) *APIError {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return NewNotFoundError("session", id)
	case errors.Is(err, session.ErrEmptyQuery):
		return NewValidationError("query")
	case errors.Is(err, session.ErrNoDocument):
		return NewConflictError("upload a PDF first").withCode("NO_DOCUMENT")
	case errors.Is(err, session.ErrIndexing):
		return NewConflictError("the PDF is still being prepared").withCode("INDEXING")
	case errors.Is(err, session.ErrNotReady):
		return NewConflictError("prepare the PDF before asking questions").withCode("NOT_READY")
	case errors.Is(err, session.ErrFreeLimitReached):
		return NewPaymentRequiredError("free questions used up, please provide your OpenAI API key")
	// checked before ErrUpstream, which also wraps cancelled calls
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewServiceUnavailableError("request cancelled")
	case errors.Is(err, session.ErrUpstream):
		return NewBadGatewayError("failed to answer the question", err)
	default:
		return NewInternalError("unexpected session error", err)
	}
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
		if exposeDetails.Load() {
			apiErr.Details = err.Error()
		}
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}
