package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ProviderName identifies the upstream in client-facing events and logs.
const ProviderName = "openrouter"

// Client sends requests to the OpenRouter chat-completions API. The API key
// is supplied per call because it may come from the caller or from the
// server-wide shared credential.
type Client struct {
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
}

// Config holds configuration for the OpenRouter client.
type Config struct {
	BaseURL string // optional, defaults to https://openrouter.ai/api/v1
	Referer string // HTTP-Referer header sent upstream
	Title   string // X-Title header sent upstream
	// HTTPClient overrides the default client; streaming callers bound the
	// request lifetime via context, so the default carries no Timeout.
	HTTPClient *http.Client
}

// New creates a Client instance.
func New(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	referer := strings.TrimSpace(cfg.Referer)
	if referer == "" {
		referer = "http://localhost"
	}
	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		title = "Open Fiesta"
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL:    baseURL,
		referer:    referer,
		title:      title,
		httpClient: hc,
	}
}

// Attribution overrides the per-request display headers sent upstream.
// Empty fields fall back to the client defaults.
type Attribution struct {
	Referer string
	Title   string
}

// StreamCompletion issues a streaming chat-completion call and returns the raw
// response. The caller owns the body and must inspect the status code; non-OK
// responses are returned (not turned into errors) so the dispatcher can apply
// its retry policy.
func (c *Client) StreamCompletion(ctx context.Context, apiKey string, attr Attribution, req ChatRequest) (*http.Response, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openrouter: create request: %w", err)
	}
	c.setHeaders(httpReq, apiKey, attr)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter: send request: %w", err)
	}
	return resp, nil
}

// CreateCompletion issues a non-streaming chat-completion call. Used for
// image-output models, which do not support SSE streaming.
func (c *Client) CreateCompletion(ctx context.Context, apiKey string, attr Attribution, req ChatRequest) (CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return CompletionResponse{}, errors.New("openrouter: no messages provided")
	}
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("openrouter: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("openrouter: create request: %w", err)
	}
	c.setHeaders(httpReq, apiKey, attr)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("openrouter: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("openrouter: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return CompletionResponse{}, fmt.Errorf("openrouter: %s (code=%d)", errResp.Error.Message, errResp.Error.Code)
		}
		return CompletionResponse{}, fmt.Errorf("openrouter: http %d: %s", resp.StatusCode, string(respBody))
	}

	var completion CompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return CompletionResponse{}, fmt.Errorf("openrouter: unmarshal response: %w", err)
	}
	return completion, nil
}

func (c *Client) setHeaders(req *http.Request, apiKey string, attr Attribution) {
	referer := strings.TrimSpace(attr.Referer)
	if referer == "" {
		referer = c.referer
	}
	title := strings.TrimSpace(attr.Title)
	if title == "" {
		title = c.title
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("HTTP-Referer", referer)
	req.Header.Set("X-Title", title)
}
