// handlers_chat.go - Questions and transcript
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// ChatHandlerImpl implements the ChatHandler interface
type ChatHandlerImpl struct {
	session SessionManager
}

// NewChatHandler creates a new chat handler
func NewChatHandler(sessionMgr SessionManager) ChatHandler {
	return &ChatHandlerImpl{session: sessionMgr}
}

// AskRequest is the body of a question.
type AskRequest struct {
	Query string `json:"query"`
}

// HandleAsk answers a question against the session's document. A search
// without matches answers 200 with a warning and no reply.
func (h *ChatHandlerImpl) HandleAsk(c echo.Context) error {
	id := c.Param("id")
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	res, err := h.session.Ask(c.Request().Context(), id, req.Query)
	if err != nil {
		return sessionError(err, id)
	}
	return c.JSON(http.StatusOK, res)
}

// HandleGetMessages returns the conversation so far
func (h *ChatHandlerImpl) HandleGetMessages(c echo.Context) error {
	id := c.Param("id")
	msgs, ok := h.session.Messages(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"total":    len(msgs),
	})
}

// HandleGetMessagesMsgpack returns the conversation encoded as MessagePack
func (h *ChatHandlerImpl) HandleGetMessagesMsgpack(c echo.Context) error {
	id := c.Param("id")
	msgs, ok := h.session.Messages(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	data, err := msgpack.Marshal(map[string]interface{}{
		"messages": msgs,
		"total":    len(msgs),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}
