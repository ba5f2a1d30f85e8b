// Package scoring is the client side of the fraud scoring service contract.
//
// The scoring service is a black box reached over HTTP:
//
//	POST /api/v1/transactions/evaluate   score one transaction
//	GET  /health                         liveness + active threshold
//
// Field names below are the wire names and must not change.
package scoring

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrMalformedResponse = errors.New("scoring: malformed response body")
	ErrInvalidPayload    = errors.New("scoring: invalid payload")
)

// EvaluatePath is the scoring endpoint relative to the service base URL.
const EvaluatePath = "/api/v1/transactions/evaluate"

// TransactionPayload is one transaction submitted for scoring.
// Optional fields are pointers so they serialize as JSON null when absent.
type TransactionPayload struct {
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	MerchantID       string  `json:"merchant_id"`
	MerchantCategory string  `json:"merchant_category"`
	Country          string  `json:"country"`
	Region           *string `json:"region"`
	Timestamp        string  `json:"timestamp"` // ISO-8601, generation time
	UserID           *string `json:"user_id"`
	DeviceID         *string `json:"device_id"`
	TransactionID    *string `json:"transaction_id"`
}

// Validate checks the invariants the scoring service would otherwise reject.
func (p *TransactionPayload) Validate() error {
	switch {
	case p.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPayload)
	case p.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidPayload)
	case p.MerchantID == "":
		return fmt.Errorf("%w: merchant_id is required", ErrInvalidPayload)
	case len(p.Country) != 2:
		return fmt.Errorf("%w: country must be a 2-letter code", ErrInvalidPayload)
	}
	return nil
}

// SignalContribution is one fraud signal and its share of the score.
type SignalContribution struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Contribution float64 `json:"contribution"`
}

// EvaluateResponse is the decoded scoring decision.
//
// LatencyMS is the round trip measured by this client. The server's own
// processing time is kept in ServerLatencyMS.
type EvaluateResponse struct {
	TransactionID   string               `json:"transaction_id"`
	Score           float64              `json:"score"`
	Flagged         bool                 `json:"flagged"`
	LatencyMS       float64              `json:"latency_ms"`
	ServerLatencyMS float64              `json:"server_latency_ms"`
	Threshold       float64              `json:"threshold"`
	Signals         []SignalContribution `json:"signals,omitempty"`
	Explanation     string               `json:"explanation,omitempty"`
	Recommendation  string               `json:"recommendation,omitempty"`
}

// PositiveSignals returns the signals that raised the score, largest first.
func (r *EvaluateResponse) PositiveSignals() []SignalContribution {
	out := make([]SignalContribution, 0, len(r.Signals))
	for _, s := range r.Signals {
		if s.Contribution > 0 {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Contribution > out[j].Contribution
	})
	return out
}

// TransactionResult pairs a payload with its scoring decision.
// Only Client.Evaluate creates one, and it is never modified afterwards.
type TransactionResult struct {
	Payload      TransactionPayload `json:"payload"`
	Response     EvaluateResponse   `json:"response"`
	DispatchedAt time.Time          `json:"dispatched_at"`
	CompletedAt  time.Time          `json:"completed_at"`
}

// ID returns the server-assigned transaction id.
func (r *TransactionResult) ID() string {
	return r.Response.TransactionID
}

// Latency returns the client-measured round trip.
func (r *TransactionResult) Latency() time.Duration {
	return r.CompletedAt.Sub(r.DispatchedAt)
}

// APIError is a non-2xx answer from the scoring service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scoring: evaluate failed (%d): %s", e.StatusCode, e.Message)
}
