package scoring

import "time"

// Summary is the display form of a result: the decision, the transaction
// facts an analyst looks at, and only the signals that raised the score.
type Summary struct {
	TransactionID    string               `json:"transaction_id"`
	Score            float64              `json:"score"`
	Flagged          bool                 `json:"flagged"`
	Threshold        float64              `json:"threshold"`
	LatencyMS        float64              `json:"latency_ms"`
	Amount           float64              `json:"amount"`
	Currency         string               `json:"currency"`
	MerchantID       string               `json:"merchant_id"`
	MerchantCategory string               `json:"merchant_category"`
	Country          string               `json:"country"`
	UserID           string               `json:"user_id,omitempty"`
	DeviceID         string               `json:"device_id,omitempty"`
	Timestamp        string               `json:"timestamp"`
	Signals          []SignalContribution `json:"signals"`
	Explanation      string               `json:"explanation,omitempty"`
	Recommendation   string               `json:"recommendation,omitempty"`
	CompletedAt      time.Time            `json:"completed_at"`
}

// Summarize builds the display form of r.
func (r *TransactionResult) Summarize() Summary {
	s := Summary{
		TransactionID:    r.Response.TransactionID,
		Score:            r.Response.Score,
		Flagged:          r.Response.Flagged,
		Threshold:        r.Response.Threshold,
		LatencyMS:        r.Response.LatencyMS,
		Amount:           r.Payload.Amount,
		Currency:         r.Payload.Currency,
		MerchantID:       r.Payload.MerchantID,
		MerchantCategory: r.Payload.MerchantCategory,
		Country:          r.Payload.Country,
		Timestamp:        r.Payload.Timestamp,
		Signals:          r.Response.PositiveSignals(),
		Explanation:      r.Response.Explanation,
		Recommendation:   r.Response.Recommendation,
		CompletedAt:      r.CompletedAt,
	}
	if r.Payload.UserID != nil {
		s.UserID = *r.Payload.UserID
	}
	if r.Payload.DeviceID != nil {
		s.DeviceID = *r.Payload.DeviceID
	}
	return s
}

// Summarize maps a result list to its display form, preserving order.
func Summarize(results []*TransactionResult) []Summary {
	out := make([]Summary, len(results))
	for i, r := range results {
		out[i] = r.Summarize()
	}
	return out
}
