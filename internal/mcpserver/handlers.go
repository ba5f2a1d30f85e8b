package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/secureflow/internal/scoring"
	"github.com/mbd888/secureflow/internal/stream"
)

const defaultFlaggedLimit = 10

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *StreamerClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *StreamerClient) *Handlers {
	return &Handlers{client: client}
}

// HandleStreamStatus reports the stream snapshot.
func (h *Handlers) HandleStreamStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stream status: %v", err)), nil
	}
	return snapshotResult(raw)
}

// HandleStartStream starts the stream.
func (h *Handlers) HandleStartStream(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Start(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start stream: %v", err)), nil
	}
	return snapshotResult(raw)
}

// HandleStopStream stops the stream.
func (h *Handlers) HandleStopStream(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Stop(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop stream: %v", err)), nil
	}
	return snapshotResult(raw)
}

// HandleSetInterval changes the tick interval. Range checks are left to the
// streamer so both surfaces report the same error.
func (h *Handlers) HandleSetInterval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ms := req.GetInt("interval_ms", 0)
	if ms <= 0 {
		return mcp.NewToolResultError("interval_ms is required"), nil
	}

	raw, err := h.client.SetInterval(ctx, int64(ms))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to set interval: %v", err)), nil
	}
	return snapshotResult(raw)
}

// HandleSetDemoMode toggles demo mode.
func (h *Handlers) HandleSetDemoMode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, ok := req.GetArguments()["enabled"]; !ok {
		return mcp.NewToolResultError("enabled is required"), nil
	}
	enabled := req.GetBool("enabled", false)

	raw, err := h.client.SetDemoMode(ctx, enabled)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to set demo mode: %v", err)), nil
	}
	return snapshotResult(raw)
}

// HandleListFlagged lists recent flagged transactions.
func (h *Handlers) HandleListFlagged(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultFlaggedLimit)
	if limit <= 0 {
		limit = defaultFlaggedLimit
	}

	raw, err := h.client.ListResults(ctx, limit, true)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list flagged transactions: %v", err)), nil
	}

	text, err := formatFlaggedList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse results: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleInspectResult shows one transaction in detail.
func (h *Handlers) HandleInspectResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("transaction_id", ""))
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	raw, err := h.client.GetResult(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get transaction %s: %v", id, err)), nil
	}

	var sum scoring.Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transaction: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResult(sum)), nil
}

// --- Formatting ---

func snapshotResult(raw json.RawMessage) (*mcp.CallToolResult, error) {
	var snap stream.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse stream status: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSnapshot(snap)), nil
}

func formatSnapshot(s stream.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("Transaction stream:\n")
	sb.WriteString(fmt.Sprintf("  State:     %s\n", s.State))
	sb.WriteString(fmt.Sprintf("  Interval:  %d ms\n", s.IntervalMS))
	sb.WriteString(fmt.Sprintf("  Demo mode: %s\n", onOff(s.DemoMode)))

	if s.LastScore != nil {
		sb.WriteString(fmt.Sprintf("  Last score:   %.2f\n", *s.LastScore))
	} else {
		sb.WriteString("  Last score:   none yet\n")
	}
	if s.LastLatencyMS != nil {
		sb.WriteString(fmt.Sprintf("  Last latency: %.0f ms (%s)\n", *s.LastLatencyMS, targetVerdict(s.LastLatencyOK, s.LatencyTargetMS)))
	}
	if s.WindowSize > 0 {
		sb.WriteString(fmt.Sprintf("  P95 latency:  %.0f ms over %d samples (%s)\n",
			s.P95LatencyMS, s.WindowSize, targetVerdict(s.P95LatencyOK, s.LatencyTargetMS)))
	}

	sb.WriteString(fmt.Sprintf("  Evaluated: %d (%d flagged, %d failed, %d in flight)\n",
		s.Evaluated, s.Flagged, s.Failed, s.InFlight))
	sb.WriteString(fmt.Sprintf("  History:   %d results\n", s.HistorySize))
	if s.LastError != "" {
		sb.WriteString(fmt.Sprintf("  Last error: %s\n", s.LastError))
	}
	return sb.String()
}

func formatFlaggedList(raw json.RawMessage) (string, error) {
	var resp struct {
		Results []scoring.Summary `json:"results"`
		Total   int               `json:"total"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Results) == 0 {
		return "No flagged transactions in the retained history.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d flagged transaction(s) among the last %d:\n\n", len(resp.Results), resp.Total))
	for i, r := range resp.Results {
		sb.WriteString(fmt.Sprintf("%d. %s  score %.2f  %.2f %s at %s (%s)\n",
			i+1, r.TransactionID, r.Score, r.Amount, r.Currency, r.MerchantID, r.Country))
		if len(r.Signals) > 0 {
			sb.WriteString(fmt.Sprintf("   top signal: %s\n", r.Signals[0].Name))
		}
	}
	return sb.String(), nil
}

func formatResult(r scoring.Summary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Transaction %s\n", r.TransactionID))

	verdict := "not flagged"
	if r.Flagged {
		verdict = "FLAGGED"
	}
	sb.WriteString(fmt.Sprintf("  Score:    %.2f (threshold %.2f, %s)\n", r.Score, r.Threshold, verdict))
	sb.WriteString(fmt.Sprintf("  Amount:   %.2f %s\n", r.Amount, r.Currency))
	sb.WriteString(fmt.Sprintf("  Merchant: %s (%s)\n", r.MerchantID, r.MerchantCategory))
	sb.WriteString(fmt.Sprintf("  Country:  %s\n", r.Country))
	if r.UserID != "" {
		sb.WriteString(fmt.Sprintf("  User:     %s on %s\n", r.UserID, r.DeviceID))
	}
	sb.WriteString(fmt.Sprintf("  Latency:  %.0f ms\n", r.LatencyMS))

	if len(r.Signals) > 0 {
		sb.WriteString("  Signals:\n")
		for _, s := range r.Signals {
			sb.WriteString(fmt.Sprintf("    +%.2f %s", s.Contribution, s.Name))
			if s.Description != "" {
				sb.WriteString(": " + s.Description)
			}
			sb.WriteString("\n")
		}
	}
	if r.Explanation != "" {
		sb.WriteString(fmt.Sprintf("  Explanation: %s\n", r.Explanation))
	}
	if r.Recommendation != "" {
		sb.WriteString(fmt.Sprintf("  Recommendation: %s\n", r.Recommendation))
	}
	return sb.String()
}

func targetVerdict(ok bool, targetMS float64) string {
	if ok {
		return fmt.Sprintf("within %.0f ms target", targetMS)
	}
	return fmt.Sprintf("over %.0f ms target", targetMS)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
