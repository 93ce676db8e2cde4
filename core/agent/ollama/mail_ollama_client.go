// Package ollama talks to a local Ollama-compatible inference endpoint. All
// calls are blocking, JSON-mode generations; streaming is deliberately off
// so the caller gets one parseable string back.
package ollama

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/httputil"
)

const DefaultModel = "llama3.2:3b"

// Client implements out.InferenceRunner against the /api/generate endpoint.
type Client struct {
	baseURL        string
	model          string
	httpClient     *http.Client
	defaultTimeout time.Duration
}

type ClientConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		model:          model,
		httpClient:     httputil.InferenceClient(),
		defaultTimeout: timeout,
	}
}

func (c *Client) ModelName() string {
	return c.model
}

// generateRequest is the /api/generate wire format. keep_alive 0 tells the
// runner to release model memory as soon as the call returns.
type generateRequest struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	Format    string          `json:"format,omitempty"`
	Stream    bool            `json:"stream"`
	KeepAlive int             `json:"keep_alive"`
	Options   generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate runs one JSON-mode completion and returns the raw model output.
// Transport failures come back retryable; whatever the model emitted is the
// caller's problem to parse.
func (c *Client) Generate(ctx context.Context, prompt string, opts out.GenerateOptions) (string, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:     c.model,
		Prompt:    prompt,
		Format:    "json",
		Stream:    false,
		KeepAlive: 0,
		Options:   generateOptions{Temperature: opts.Temperature},
	})
	if err != nil {
		return "", apperr.Inference("encode generate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Inference("build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperr.Timeout("inference generate", err)
		}
		return "", apperr.Connection(c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", apperr.Connection(c.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", apperr.Connection(c.baseURL,
				fmt.Errorf("inference endpoint returned %d: %s", resp.StatusCode, truncate(string(raw), 200)))
		}
		return "", apperr.Inference(
			fmt.Sprintf("inference endpoint returned %d", resp.StatusCode),
			errors.New(truncate(string(raw), 200)))
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return "", apperr.Inference("decode generate response", err)
	}
	if gen.Error != "" {
		return "", apperr.Inference("inference endpoint error", errors.New(gen.Error))
	}

	return gen.Response, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
