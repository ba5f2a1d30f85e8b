package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all stream tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("secureflow-streamer", version)
	client := NewStreamerClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolStreamStatus, h.HandleStreamStatus)
	s.AddTool(ToolStartStream, h.HandleStartStream)
	s.AddTool(ToolStopStream, h.HandleStopStream)
	s.AddTool(ToolSetInterval, h.HandleSetInterval)
	s.AddTool(ToolSetDemoMode, h.HandleSetDemoMode)
	s.AddTool(ToolListFlagged, h.HandleListFlagged)
	s.AddTool(ToolInspectResult, h.HandleInspectResult)

	return s
}
