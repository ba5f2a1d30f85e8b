package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/secureflow/internal/traces"
)

// DefaultTimeout bounds one evaluation round trip.
const DefaultTimeout = 5 * time.Second

// maxResponseSize caps how much of a response body is read (1MB).
const maxResponseSize = 1 << 20

// Client submits transactions to the scoring service.
// It never touches shared stream state; callers apply the results.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock sets the clock used for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for the scoring service at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate scores one transaction and measures the round trip.
//
// Errors are one of: a wrapped transport error, *APIError for a non-2xx
// status, or ErrMalformedResponse for an undecodable 2xx body.
func (c *Client) Evaluate(ctx context.Context, payload TransactionPayload) (*TransactionResult, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.Evaluate",
		traces.MerchantID(payload.MerchantID),
		traces.Amount(payload.Amount),
		traces.Country(payload.Country),
	)
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EvaluatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	dispatched := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, fmt.Errorf("scoring: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	completed := c.now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failure")
		return nil, fmt.Errorf("scoring: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody, resp.StatusCode, statusText(resp)),
		}
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, apiErr
	}

	var out EvaluateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		span.SetStatus(codes.Error, "malformed body")
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.TransactionID == "" {
		span.SetStatus(codes.Error, "malformed body")
		return nil, fmt.Errorf("%w: missing transaction_id", ErrMalformedResponse)
	}

	out.ServerLatencyMS = out.LatencyMS
	out.LatencyMS = millis(completed.Sub(dispatched))

	span.SetAttributes(traces.Score(out.Score), traces.Flagged(out.Flagged))

	return &TransactionResult{
		Payload:      payload,
		Response:     out,
		DispatchedAt: dispatched,
		CompletedAt:  completed,
	}, nil
}

// HealthStatus is the scoring service's /health answer.
type HealthStatus struct {
	Status    string  `json:"status"`
	Threshold float64 `json:"threshold"`
}

// Health probes the scoring service.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoring: health returned %d", resp.StatusCode)
	}

	var hs HealthStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&hs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &hs, nil
}

// statusText returns the reason phrase of the response status line.
func statusText(resp *http.Response) string {
	code := fmt.Sprintf("%d ", resp.StatusCode)
	if text := strings.TrimPrefix(resp.Status, code); text != "" && text != resp.Status {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
