package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/askmypdf/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// newChatServer records the last request and its Authorization header.
func newChatServer(t *testing.T, lastAuth *string, last *chatRequest, reply string, choices bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		*lastAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(last))

		if last.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, part := range []string{"Check ", "page ", "3."} {
				fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		body := map[string]any{"id": "1", "object": "chat.completion", "model": last.Model}
		if choices {
			body["choices"] = []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}}
		} else {
			body["choices"] = []any{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
}

func testMessages() []models.Message {
	return []models.Message{
		models.NewMessage(models.RoleSystem, "system prompt"),
		models.NewMessage(models.RoleUser, "where is the refund policy?"),
	}
}

func TestOpenAI_Complete(t *testing.T) {
	var auth string
	var req chatRequest
	srv := newChatServer(t, &auth, &req, "See page 3.", true)
	defer srv.Close()

	c := NewOpenAI(Config{APIKey: "server-key", BaseURL: srv.URL + "/v1", Model: "gpt-4.1"})

	t.Run("uses server key by default", func(t *testing.T) {
		out, err := c.Complete(context.Background(), "", testMessages())
		require.NoError(t, err)
		assert.Equal(t, "See page 3.", out)
		assert.Equal(t, "Bearer server-key", auth)
		assert.Equal(t, "gpt-4.1", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
	})

	t.Run("user key overrides server key", func(t *testing.T) {
		_, err := c.Complete(context.Background(), "user-key", testMessages())
		require.NoError(t, err)
		assert.Equal(t, "Bearer user-key", auth)
	})
}

func TestOpenAI_CompleteEmptyChoices(t *testing.T) {
	var auth string
	var req chatRequest
	srv := newChatServer(t, &auth, &req, "", false)
	defer srv.Close()

	c := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL + "/v1"})
	_, err := c.Complete(context.Background(), "", testMessages())
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAI_MissingKey(t *testing.T) {
	c := NewOpenAI(Config{BaseURL: "http://127.0.0.1:1/v1"})

	_, err := c.Complete(context.Background(), "", testMessages())
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = c.Stream(context.Background(), "", testMessages(), nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestOpenAI_Stream(t *testing.T) {
	var auth string
	var req chatRequest
	srv := newChatServer(t, &auth, &req, "", true)
	defer srv.Close()

	c := NewOpenAI(Config{APIKey: "server-key", BaseURL: srv.URL + "/v1"})

	var deltas []string
	out, err := c.Stream(context.Background(), "", testMessages(), func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Check page 3.", out)
	assert.Equal(t, []string{"Check ", "page ", "3."}, deltas)
	assert.True(t, req.Stream)
}

func TestOpenAI_StreamAbortedByCallback(t *testing.T) {
	var auth string
	var req chatRequest
	srv := newChatServer(t, &auth, &req, "", true)
	defer srv.Close()

	c := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL + "/v1"})
	stop := errors.New("client went away")

	out, err := c.Stream(context.Background(), "", testMessages(), func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "Check ", out)
}
