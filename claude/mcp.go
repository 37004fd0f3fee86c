package claude

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// ToolHandler implements one in-process tool's behaviour, invoked directly
// against the control protocol's mcp_message routing, with no network or
// subprocess hop.
type ToolHandler = wire.ToolHandler

// ToolResult is the outcome of an in-process tool invocation.
type ToolResult = wire.ToolResult

// ToolDefinition describes one tool exposed by an in-process MCP server.
type ToolDefinition = wire.ToolDefinition

// ToolServer is an in-memory catalog of tools exposed to the CLI over the
// control protocol's mcp_message subtype, keyed by server name in
// Options.ToolServers / WithToolServer.
type ToolServer = wire.ToolServer

// StartInProcessMCPServer starts an HTTP MCP server for the given mcp.Server
// and returns the McpHTTPServer config to pass to WithMcpServers. It is the
// quiet convenience form of StartInProcessMCPServerChi: same chi-routed
// listener, with serve/shutdown diagnostics discarded via a no-op logger.
// Call StartInProcessMCPServerChi directly to observe them.
//
// Example:
//
//	mcpCfg, err := claude.StartInProcessMCPServer(ctx, "my-server", server)
//	if err != nil {... }
//	result, err := claude.Run(ctx, prompt,
//	    claude.WithMcpServers(map[string]any{"my-server": mcpCfg}),
//	)
func StartInProcessMCPServer(ctx context.Context, name string, server *mcp.Server) (McpHTTPServer, error) {
	return StartInProcessMCPServerChi(ctx, name, server, zerolog.Nop())
}

// StartInProcessMCPServerChi mounts server behind a chi.Router on a random
// 127.0.0.1 port, the bridge between in-process Go tool code and the
// subprocess for CLI versions that only understand `--mcp-config` HTTP
// server declarations. A chi.Router composes with the rest of a host
// application's existing chi-based HTTP surface instead of owning its own
// listener setup. The server is stopped when ctx is
// cancelled; log receives listen/serve/shutdown diagnostics.
func StartInProcessMCPServerChi(ctx context.Context, name string, server *mcp.Server, log zerolog.Logger) (McpHTTPServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return McpHTTPServer{}, fmt.Errorf("claude: mcp %q: listen: %w", name, err)
	}

	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return server
	}, nil)

	r := chi.NewRouter()
	r.Handle("/*", handler)

	httpServer := &http.Server{Handler: r}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Str("mcp_server", name).Msg("claude: in-process mcp server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		if err := httpServer.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Str("mcp_server", name).Msg("claude: in-process mcp server shutdown")
		}
	}()

	serverURL := "http://" + listener.Addr().String()
	log.Debug().Str("mcp_server", name).Str("url", serverURL).Msg("claude: in-process mcp server listening")
	return McpHTTPServer{Type: "http", URL: serverURL}, nil
}

// ServeStdioMCP blocks, serving server over stdin/stdout until ctx is
// cancelled. Pairs with SelfAsStdioMCPServer: a binary checks its own args
// for a server-mode flag and calls this instead of starting a claude.Client.
func ServeStdioMCP(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// SelfAsStdioMCPServer returns a McpStdioServer that re-invokes the current
// executable with extraArgs, the client-side half of the self-invoking
// pattern ServeStdioMCP serves.
func SelfAsStdioMCPServer(extraArgs ...string) (McpStdioServer, error) {
	self, err := os.Executable()
	if err != nil {
		return McpStdioServer{}, fmt.Errorf("claude: resolve executable: %w", err)
	}
	return McpStdioServer{
		Type:    "stdio",
		Command: self,
		Args:    extraArgs,
	}, nil
}
