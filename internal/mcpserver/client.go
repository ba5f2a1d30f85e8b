package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for connecting to the streamer API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8090"
	APIKey string // Optional bearer token for a gateway in front of the streamer
}

// StreamerClient is a pure HTTP client for the streamer control API.
type StreamerClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewStreamerClient creates a new client for the streamer API.
func NewStreamerClient(cfg Config) *StreamerClient {
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	return &StreamerClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// apiError represents an error response from the streamer.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the streamer and returns the response body.
func (c *StreamerClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Status returns the stream snapshot.
func (c *StreamerClient) Status(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/stream", nil, nil)
}

// Start starts the stream.
func (c *StreamerClient) Start(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/stream/start", nil, nil)
}

// Stop stops the stream.
func (c *StreamerClient) Stop(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/stream/stop", nil, nil)
}

// SetInterval changes the tick interval.
func (c *StreamerClient) SetInterval(ctx context.Context, ms int64) (json.RawMessage, error) {
	body := map[string]int64{"interval_ms": ms}
	return c.doRequest(ctx, http.MethodPut, "/v1/stream/interval", nil, body)
}

// SetDemoMode toggles demo mode.
func (c *StreamerClient) SetDemoMode(ctx context.Context, enabled bool) (json.RawMessage, error) {
	body := map[string]bool{"enabled": enabled}
	return c.doRequest(ctx, http.MethodPut, "/v1/stream/demo-mode", nil, body)
}

// ListResults lists retained results, newest first.
func (c *StreamerClient) ListResults(ctx context.Context, limit int, flaggedOnly bool) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if flaggedOnly {
		q.Set("flagged", "true")
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/stream/results", q, nil)
}

// GetResult returns one retained result.
func (c *StreamerClient) GetResult(ctx context.Context, transactionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/stream/results/"+url.PathEscape(transactionID), nil, nil)
}
