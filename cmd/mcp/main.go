// SecureFlow MCP Server - exposes stream controls as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/secureflow/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("STREAMER_API_URL", "http://localhost:8090"),
		APIKey: os.Getenv("STREAMER_API_KEY"),
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
