package wire

import (
	"context"
	"encoding/json"
)

// ToolHandler implements one in-process tool's behaviour.
type ToolHandler func(ctx context.Context, input json.RawMessage) (ToolResult, error)

// ToolResult is the outcome of an in-process tool invocation.
type ToolResult struct {
	Content []ContentBlock
	IsError bool
}

// ToolDefinition describes one tool exposed by an in-process MCP server.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

// ToolServer is an in-memory catalog of tool handlers exposed to the peer as
// a JSON-RPC "MCP" server endpoint, with no network or subprocess
// involved. CallbackTables keys a session's registered servers by name.
type ToolServer struct {
	Name    string
	Version string
	Tools   []ToolDefinition
}

// Lookup finds a tool by name, or ok=false.
func (s *ToolServer) Lookup(name string) (ToolDefinition, bool) {
	for _, t := range s.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}
