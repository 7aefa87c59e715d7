// Package llm wraps the chat completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/askmypdf/backend/internal/models"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrEmptyCompletion is returned when the API answers without choices.
	ErrEmptyCompletion = errors.New("completion returned no choices")
	// ErrMissingAPIKey is returned when neither the caller nor the server
	// supplied a key.
	ErrMissingAPIKey = errors.New("no OpenAI API key configured")
)

// Completer produces assistant replies. apiKey overrides the default key
// when non-empty.
type Completer interface {
	Complete(ctx context.Context, apiKey string, msgs []models.Message) (string, error)
	// Stream calls onDelta for every content fragment and returns the full
	// reply. An error from onDelta aborts the stream.
	Stream(ctx context.Context, apiKey string, msgs []models.Message, onDelta func(string) error) (string, error)
}

// Config configures the chat client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI implements Completer with go-openai.
type OpenAI struct {
	cfg Config
}

// NewOpenAI creates a chat completer. An empty cfg.APIKey is allowed; every
// call must then pass its own key.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAI{cfg: cfg}
}

// Model returns the configured chat model.
func (o *OpenAI) Model() string { return o.cfg.Model }

func (o *OpenAI) client(apiKey string) (*openai.Client, error) {
	key := apiKey
	if key == "" {
		key = o.cfg.APIKey
	}
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	oc := openai.DefaultConfig(key)
	if o.cfg.BaseURL != "" {
		oc.BaseURL = o.cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: o.cfg.Timeout}
	return openai.NewClientWithConfig(oc), nil
}

func (o *OpenAI) request(msgs []models.Message, stream bool) openai.ChatCompletionRequest {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:    o.cfg.Model,
		Messages: out,
		Stream:   stream,
	}
}

// Complete returns the first choice of a non-streaming completion.
func (o *OpenAI) Complete(ctx context.Context, apiKey string, msgs []models.Message) (string, error) {
	c, err := o.client(apiKey)
	if err != nil {
		return "", err
	}

	resp, err := c.CreateChatCompletion(ctx, o.request(msgs, false))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream runs a streaming completion.
func (o *OpenAI) Stream(ctx context.Context, apiKey string, msgs []models.Message, onDelta func(string) error) (string, error) {
	c, err := o.client(apiKey)
	if err != nil {
		return "", err
	}

	stream, err := c.CreateChatCompletionStream(ctx, o.request(msgs, true))
	if err != nil {
		return "", fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), fmt.Errorf("receiving completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return sb.String(), err
			}
		}
	}

	if sb.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return sb.String(), nil
}
