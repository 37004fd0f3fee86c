package query

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// newDispatchQuery is like newTestQuery but lets the caller install
// CallbackTables, needed to exercise inbound control_request dispatch.
func newDispatchQuery(t *testing.T, callbacks *CallbackTables) (*Query, *transport.Fake) {
	t.Helper()
	ft := transport.NewFake()
	q := New(ft, callbacks, zerolog.Nop())
	require.NoError(t, q.Connect(context.Background()))
	return q, ft
}

func feedControlRequest(t *testing.T, ft *transport.Fake, requestID string, request map[string]any) {
	t.Helper()
	raw, err := json.Marshal(request)
	require.NoError(t, err)
	ft.Feed(wire.ControlRequestEnvelope{Type: wire.TypeControlRequest, RequestID: requestID, Request: raw})
}

func awaitResponse(t *testing.T, ft *transport.Fake, n int) wire.ControlResponseEnvelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(ft.Written) > n }, time.Second, time.Millisecond)
	var resp wire.ControlResponseEnvelope
	require.NoError(t, json.Unmarshal(ft.Written[n], &resp))
	return resp
}

// Permission allow with updated input.
func TestDispatchCanUseToolAllowWithUpdatedInput(t *testing.T) {
	var gotToolName string
	var gotInput json.RawMessage
	permission := func(toolName string, input json.RawMessage, ctx wire.PermissionContext) wire.PermissionResult {
		gotToolName = toolName
		gotInput = input
		return wire.PermissionResult{
			Behavior:     wire.PermissionBehaviorAllow,
			UpdatedInput: map[string]any{"command": "ls -la"},
		}
	}
	callbacks, _ := NewCallbackTables(permission, nil, nil)
	q, ft := newDispatchQuery(t, callbacks)
	defer q.Close()

	feedControlRequest(t, ft, "r7", map[string]any{
		"subtype":   "can_use_tool",
		"tool_name": "Bash",
		"input":     map[string]any{"command": "ls"},
	})

	resp := awaitResponse(t, ft, 0)
	require.Equal(t, "r7", resp.Response.RequestID)
	require.Equal(t, "success", resp.Response.Subtype)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Response.Response, &payload))
	require.Equal(t, "allow", payload["behavior"])
	require.Equal(t, map[string]any{"command": "ls -la"}, payload["updatedInput"])

	require.Equal(t, "Bash", gotToolName)
	require.JSONEq(t, `{"command":"ls"}`, string(gotInput))
}

func TestDispatchCanUseToolDeny(t *testing.T) {
	permission := func(toolName string, input json.RawMessage, ctx wire.PermissionContext) wire.PermissionResult {
		return wire.PermissionResult{Behavior: wire.PermissionBehaviorDeny, Message: "not allowed", Interrupt: true}
	}
	callbacks, _ := NewCallbackTables(permission, nil, nil)
	q, ft := newDispatchQuery(t, callbacks)
	defer q.Close()

	feedControlRequest(t, ft, "r8", map[string]any{
		"subtype":   "can_use_tool",
		"tool_name": "Bash",
		"input":     map[string]any{"command": "rm -rf /"},
	})

	resp := awaitResponse(t, ft, 0)
	require.Equal(t, "success", resp.Response.Subtype)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Response.Response, &payload))
	require.Equal(t, "deny", payload["behavior"])
	require.Equal(t, "not allowed", payload["message"])
	require.Equal(t, true, payload["interrupt"])
}

// A can_use_tool request with no registered permission handler is answered
// with an error control_response, never an implicit allow.
func TestDispatchCanUseToolMissingCallbackErrors(t *testing.T) {
	callbacks, _ := NewCallbackTables(nil, nil, nil)
	q, ft := newDispatchQuery(t, callbacks)
	defer q.Close()

	feedControlRequest(t, ft, "r9", map[string]any{"subtype": "can_use_tool", "tool_name": "Bash", "input": map[string]any{}})

	resp := awaitResponse(t, ft, 0)
	require.Equal(t, "r9", resp.Response.RequestID)
	require.Equal(t, "error", resp.Response.Subtype)
	require.NotEmpty(t, resp.Response.Error)
}

// Hook routing stability: PreToolUse gets hook_0/hook_1,
// Stop gets hook_2; an inbound hook_callback{callback_id:"hook_2"} must
// invoke Stop's handler, not either PreToolUse handler.
func TestDispatchHookCallbackRoutesToAssignedID(t *testing.T) {
	var fired string
	m1 := wire.HookMatcher{Matcher: "Bash", Hooks: []wire.HookFunc{
		func(event wire.HookEvent, input json.RawMessage, toolUseID string) (*wire.HookOutput, error) {
			fired = "m1"
			return nil, nil
		},
	}}
	m2 := wire.HookMatcher{Matcher: "Edit", Hooks: []wire.HookFunc{
		func(event wire.HookEvent, input json.RawMessage, toolUseID string) (*wire.HookOutput, error) {
			fired = "m2"
			return nil, nil
		},
	}}
	m3 := wire.HookMatcher{Hooks: []wire.HookFunc{
		func(event wire.HookEvent, input json.RawMessage, toolUseID string) (*wire.HookOutput, error) {
			fired = "m3"
			return nil, nil
		},
	}}
	hooks := map[wire.HookEvent][]wire.HookMatcher{
		wire.HookEventPreToolUse: {m1, m2},
		wire.HookEventStop:       {m3},
	}
	callbacks, hooksConfig := NewCallbackTables(nil, hooks, nil)

	preToolUse, ok := hooksConfig["PreToolUse"].([]map[string]any)
	require.True(t, ok)
	require.Equal(t, []string{"hook_0"}, preToolUse[0]["hookCallbackIds"])
	require.Equal(t, []string{"hook_1"}, preToolUse[1]["hookCallbackIds"])
	stop, ok := hooksConfig["Stop"].([]map[string]any)
	require.True(t, ok)
	require.Equal(t, []string{"hook_2"}, stop[0]["hookCallbackIds"])

	q, ft := newDispatchQuery(t, callbacks)
	defer q.Close()

	feedControlRequest(t, ft, "r1", map[string]any{
		"subtype":     "hook_callback",
		"callback_id": "hook_2",
		"input":       json.RawMessage(`{}`),
	})

	resp := awaitResponse(t, ft, 0)
	require.Equal(t, "success", resp.Response.Subtype)
	require.Equal(t, "m3", fired, "hook_2 must dispatch to the Stop matcher, not PreToolUse")
}

func TestDispatchHookCallbackUnknownIDErrors(t *testing.T) {
	callbacks, _ := NewCallbackTables(nil, nil, nil)
	q, ft := newDispatchQuery(t, callbacks)
	defer q.Close()

	feedControlRequest(t, ft, "r2", map[string]any{
		"subtype":     "hook_callback",
		"callback_id": "hook_0",
		"input":       json.RawMessage(`{}`),
	})

	resp := awaitResponse(t, ft, 0)
	require.Equal(t, "error", resp.Response.Subtype)
	require.NotEmpty(t, resp.Response.Error)
}

func newCalcToolServer(addErr error) *wire.ToolServer {
	return &wire.ToolServer{
		Name:    "calc",
		Version: "1.0",
		Tools: []wire.ToolDefinition{
			{
				Name: "add",
				Handler: func(ctx context.Context, input json.RawMessage) (wire.ToolResult, error) {
					if addErr != nil {
						return wire.ToolResult{}, addErr
					}
					return wire.ToolResult{Content: []wire.ContentBlock{{Type: wire.BlockText, Text: "3"}}}, nil
				},
			},
		},
	}
}

// Exercises the mcp_message tools/call success path: the in-process tool
// registry is invoked directly, no HTTP hop.
func TestDispatchMCPMessageToolsCallSuccess(t *testing.T) {
	callbacks, _ := NewCallbackTables(nil, nil, map[string]*wire.ToolServer{"calc": newCalcToolServer(nil)})
	q, ft := newDispatchQuery(t, callbacks)
	defer q.Close()

	feedControlRequest(t, ft, "m1", map[string]any{
		"subtype":     "mcp_message",
		"server_name": "calc",
		"message": map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"method":  "tools/call",
			"params":  map[string]any{"name": "add", "arguments": map[string]any{}},
		},
	})

	resp := awaitResponse(t, ft, 0)
	require.Equal(t, "success", resp.Response.Subtype)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Response.Response, &payload))
	mcpResp, ok := payload["mcp_response"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "2.0", mcpResp["jsonrpc"])
	result, ok := mcpResp["result"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, false, result["isError"])
	content, ok := result["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
}

// A tool handler's Go-level error must still produce a successful JSON-RPC
// round trip: {mcp_response:{result:{content:[{type:"text",text:err}],
// isError:true}}}, never a bare control_response error.
func TestDispatchMCPMessageToolsCallHandlerErrorStaysInMCPResponse(t *testing.T) {
	callbacks, _ := NewCallbackTables(nil, nil, map[string]*wire.ToolServer{"calc": newCalcToolServer(fmt.Errorf("kaboom"))})
	q, ft := newDispatchQuery(t, callbacks)
	defer q.Close()

	feedControlRequest(t, ft, "m2", map[string]any{
		"subtype":     "mcp_message",
		"server_name": "calc",
		"message": map[string]any{
			"jsonrpc": "2.0",
			"id":      2,
			"method":  "tools/call",
			"params":  map[string]any{"name": "add", "arguments": map[string]any{}},
		},
	})

	resp := awaitResponse(t, ft, 0)
	require.Equal(t, "success", resp.Response.Subtype, "a tool handler error is a successful control_response carrying an isError mcp_response")

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Response.Response, &payload))
	mcpResp, ok := payload["mcp_response"].(map[string]any)
	require.True(t, ok)
	result, ok := mcpResp["result"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, result["isError"])

	content, ok := result["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	block, ok := content[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "text", block["type"])
	require.Equal(t, "kaboom", block["text"])
}

func TestDispatchMCPMessageUnknownServerErrors(t *testing.T) {
	callbacks, _ := NewCallbackTables(nil, nil, nil)
	q, ft := newDispatchQuery(t, callbacks)
	defer q.Close()

	feedControlRequest(t, ft, "m3", map[string]any{
		"subtype":     "mcp_message",
		"server_name": "missing",
		"message": map[string]any{
			"jsonrpc": "2.0",
			"id":      3,
			"method":  "tools/list",
		},
	})

	resp := awaitResponse(t, ft, 0)
	require.Equal(t, "error", resp.Response.Subtype)
	require.NotEmpty(t, resp.Response.Error)
}
