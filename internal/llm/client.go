// Package llm implements the language-model collaborator: a chat
// completion client with rate-limit retry, fail-fast invalid-request
// handling, an optional on-disk response cache, and typed scalar
// coercion for structured answers.
package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Message is one role/content record in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries the conversation plus generation parameters.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// CompletionResponse is the extracted model output.
type CompletionResponse struct {
	Content string `json:"content"`
}

// Completer is the single-call contract the rest of the system consumes.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ErrInvalidRequest marks client errors that must not be retried.
var ErrInvalidRequest = errors.New("invalid request")

// ErrExhausted marks a retryable failure that outlived the attempt
// ceiling.
var ErrExhausted = errors.New("retry attempts exhausted")

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	CacheDir    string
}

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger
}

// NewClient builds a Client with sane defaults applied to cfg.
func NewClient(cfg Config, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the conversation and returns the completion text.
// Rate-limit and server errors are retried with exponential backoff up
// to the configured ceiling; invalid requests fail immediately.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if cached, ok := c.cacheLoad(req); ok {
		return cached, nil
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BackoffBase * (1 << (attempt - 1))
			c.logger.Printf("llm: transient failure, retrying in %v (attempt %d/%d): %v",
				delay, attempt+1, c.cfg.MaxRetries, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doOnce(ctx, req)
		if err == nil {
			c.cacheStore(req, resp)
			return resp, nil
		}
		if errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, c.cfg.MaxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrInvalidRequest, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
	case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("transient upstream error: status %d: %s", httpResp.StatusCode, truncate(data, 200))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrInvalidRequest, httpResp.StatusCode, truncate(data, 200))
	}

	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}
	return &CompletionResponse{Content: wire.Choices[0].Message.Content}, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// cacheKey hashes the model plus the full parameter set.
func (c *Client) cacheKey(req CompletionRequest) (string, bool) {
	if c.cfg.CacheDir == "" {
		return "", false
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), true
}

func (c *Client) cacheLoad(req CompletionRequest) (*CompletionResponse, bool) {
	key, ok := c.cacheKey(req)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(c.cfg.CacheDir, key+".json"))
	if err != nil {
		return nil, false
	}
	var resp CompletionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (c *Client) cacheStore(req CompletionRequest, resp *CompletionResponse) {
	key, ok := c.cacheKey(req)
	if !ok {
		return
	}
	if err := os.MkdirAll(c.cfg.CacheDir, 0o755); err != nil {
		c.logger.Printf("llm: cache dir: %v", err)
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(c.cfg.CacheDir, key+".json"), data, 0o644); err != nil {
		c.logger.Printf("llm: cache write: %v", err)
	}
}

var _ Completer = (*Client)(nil)
