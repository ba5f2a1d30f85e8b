package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions for the SecureFlow streamer.

var ToolStreamStatus = mcp.NewTool("stream_status",
	mcp.WithDescription(
		"Show the transaction stream's current state: running or stopped, tick interval, demo mode, "+
			"last fraud score, last and P95 latency against the latency target, and evaluation counters."),
)

var ToolStartStream = mcp.NewTool("start_stream",
	mcp.WithDescription(
		"Start generating synthetic transactions and sending them to the scoring service "+
			"at the configured interval."),
)

var ToolStopStream = mcp.NewTool("stop_stream",
	mcp.WithDescription(
		"Stop generating transactions. Evaluations already in flight still complete and are recorded."),
)

var ToolSetInterval = mcp.NewTool("set_interval",
	mcp.WithDescription(
		"Change how often a transaction is generated. Takes effect from the next tick."),
	mcp.WithNumber("interval_ms",
		mcp.Required(),
		mcp.Description("Tick interval in milliseconds, between 200 and 3000")),
)

var ToolSetDemoMode = mcp.NewTool("set_demo_mode",
	mcp.WithDescription(
		"Toggle demo mode. In demo mode about 60% of transactions carry a fraud pattern "+
			"(high amount or new country); otherwise about 8% do."),
	mcp.WithBoolean("enabled",
		mcp.Required(),
		mcp.Description("true to enable demo mode, false to disable it")),
)

var ToolListFlagged = mcp.NewTool("list_flagged",
	mcp.WithDescription(
		"List the most recent transactions the scoring service flagged as fraudulent, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 10)")),
)

var ToolInspectResult = mcp.NewTool("inspect_result",
	mcp.WithDescription(
		"Show one evaluated transaction in detail: payload, score against threshold, "+
			"the signals that raised the score, and the scoring service's explanation."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("Transaction id as shown by list_flagged (e.g. 'tx_3f2a...')")),
)
