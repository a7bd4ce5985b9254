// Package llm talks to an OpenAI-compatible API for chat completions
// and embeddings. Ollama's /v1 endpoint works out of the box, as does
// any hosted provider speaking the same protocol.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/toolchest-labs/toolchest/internal/port/outbound"
)

// ErrEmptyResponse is returned when the API answers 200 but carries no
// usable choice or embedding.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 10 << 20

// StatusError reports a non-200 API response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Body)
}

// Config configures the Client.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:11434/v1.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Model is used for chat completions.
	Model string
	// EmbedModel is used for embeddings.
	EmbedModel string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// MaxRetries is how many times a failed request is retried.
	MaxRetries int
}

// Client implements outbound.CompletionClient and
// outbound.EmbeddingClient against one OpenAI-compatible endpoint.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	// backoffBase is the first retry delay; tests shrink it.
	backoffBase time.Duration
}

// NewClient creates a Client. Zero timeout and retry values get
// conservative defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
		backoffBase: time.Second,
	}
}

// Complete sends a single-user-message chat completion and returns the
// first choice's content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var resp completionResponse
	if err := c.postJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: %w", ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"model": c.cfg.EmbedModel,
		"input": text,
	}

	var resp embeddingResponse
	if err := c.postJSON(ctx, "/embeddings", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding: %w", ErrEmptyResponse)
	}
	return resp.Data[0].Embedding, nil
}

// postJSON sends one JSON request with bounded retries. Network
// failures, 429, and 5xx responses are retried with exponential
// backoff; other client errors fail immediately.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase * time.Duration(1<<uint(attempt-1))
			c.logger.Debug("retrying llm request", "path", path, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
			if !retryableStatus(resp.StatusCode) {
				return statusErr
			}
			lastErr = statusErr
			continue
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			lastErr = fmt.Errorf("parse response: %w", err)
			continue
		}
		return nil
	}
	return lastErr
}

// retryableStatus reports whether a status code is worth retrying.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Compile-time interface verification.
var (
	_ outbound.CompletionClient = (*Client)(nil)
	_ outbound.EmbeddingClient  = (*Client)(nil)
)
