// Package llm provides the hosted text-generation backend client.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// CompletionRequest is one generation call to the hosted backend.
type CompletionRequest struct {
	System      string
	User        string
	Model       string
	Temperature float64
	MaxTokens   int
	// APIKey overrides the client-level key when set (per-agent credentials).
	APIKey string
}

// Completion is the backend's answer plus token-usage counters.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is the capability the managed executor depends on.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// APIError is a transport or HTTP-level failure from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("llm api error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("llm api error: %s", e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Config holds backend connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	client *resty.Client
	apiKey string
}

// NewHTTPClient creates a backend client.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)

	return &HTTPClient{client: client, apiKey: cfg.APIKey}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one chat completion request.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	key := req.APIKey
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return nil, &APIError{Message: "no API key configured"}
	}

	body := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}

	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(key).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, &APIError{Message: "request failed", Err: err}
	}

	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: msg}
	}

	if len(out.Choices) == 0 {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: "response contained no choices"}
	}

	completion := &Completion{Text: out.Choices[0].Message.Content}
	if out.Usage != nil {
		completion.InputTokens = out.Usage.PromptTokens
		completion.OutputTokens = out.Usage.CompletionTokens
	}

	return completion, nil
}
