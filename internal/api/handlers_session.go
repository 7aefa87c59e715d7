// handlers_session.go - Session lifecycle, document upload and indexing
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/storage"
	"github.com/labstack/echo/v4"
)

var pdfMagic = []byte("%PDF-")

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	store   storage.Store
	session SessionManager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(store storage.Store, sessionMgr SessionManager) SessionHandler {
	return &SessionHandlerImpl{
		store:   store,
		session: sessionMgr,
	}
}

// HandleCreateSession starts a new chat session
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	return c.JSON(http.StatusCreated, h.session.Create())
}

// HandleGetSession returns the session state
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.session.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	// Touch session to prevent cleanup while being viewed
	h.session.Touch(id)
	return c.JSON(http.StatusOK, sess)
}

// HandleDeleteSession removes the session with its document and index
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if err := h.session.Delete(id); err != nil {
		return sessionError(err, id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleKeepAlive extends the session's lifetime while the page is open
func (h *SessionHandlerImpl) HandleKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.session.Touch(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleUploadDocument accepts a multipart "file" field holding a PDF
func (h *SessionHandlerImpl) HandleUploadDocument(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.session.Get(id); !ok {
		return NewNotFoundError("session", id)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return NewValidationError("file")
	}
	name := filepath.Base(fh.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return NewBadRequestError("only PDF files are accepted", nil)
	}

	src, err := fh.Open()
	if err != nil {
		return NewBadRequestError("failed to read upload", err)
	}
	defer src.Close()

	header := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(src, header); err != nil || !bytes.Equal(header, pdfMagic) {
		return NewBadRequestError("file is not a valid PDF", nil)
	}

	info, err := h.store.Save(name, io.MultiReader(bytes.NewReader(header), src))
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	sess, err := h.session.AttachDocument(id, info)
	if err != nil {
		h.store.Delete(info.ID)
		return sessionError(err, id)
	}
	// Re-uploading the indexed file keeps the original and drops the new copy
	if sess.FileID != info.ID {
		if kept, err := h.store.Get(sess.FileID); err == nil {
			info = kept
		}
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"file":    info,
		"session": sess,
	})
}

// HandlePrepare starts indexing the uploaded document
func (h *SessionHandlerImpl) HandlePrepare(c echo.Context) error {
	id := c.Param("id")
	sess, err := h.session.Prepare(id)
	if err != nil {
		return sessionError(err, id)
	}
	return c.JSON(http.StatusAccepted, sess)
}

// HandleSetAPIKey stores the user's own OpenAI key for chat completions
func (h *SessionHandlerImpl) HandleSetAPIKey(c echo.Context) error {
	id := c.Param("id")
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return NewValidationError("apiKey")
	}

	sess, err := h.session.SetUserAPIKey(id, req.APIKey)
	if err != nil {
		return sessionError(err, id)
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleProgressStream streams indexing progress via SSE until the document
// is ready or indexing fails.
func (h *SessionHandlerImpl) HandleProgressStream(c echo.Context) error {
	id := c.Param("id")

	sess, ok := h.session.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	// The server's WriteTimeout would cut long indexing runs short
	_ = http.NewResponseController(c.Response().Writer).SetWriteDeadline(time.Time{})

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastProgress := -1.0
	lastStatus := models.SessionStatus("")
	for {
		if sess.Progress != lastProgress || sess.Status != lastStatus {
			lastProgress = sess.Progress
			lastStatus = sess.Status
			sendSSEData(c, map[string]interface{}{
				"status":     sess.Status,
				"stage":      sess.Stage,
				"progress":   sess.Progress,
				"pageCount":  sess.PageCount,
				"chunkCount": sess.ChunkCount,
				"error":      sess.Error,
			})
		}

		// Stop once there is nothing left to report
		if sess.Status != models.SessionStatusIndexing {
			return nil
		}

		select {
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
		}

		sess, ok = h.session.Get(id)
		if !ok {
			sendSSEData(c, map[string]string{"error": "session not found"})
			return nil
		}
		h.session.Touch(id)
	}
}

func sendSSEData(c echo.Context, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Response(), "data: %s\n\n", data)
	c.Response().Flush()
}
