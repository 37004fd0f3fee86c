package query

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// handleInboundControlRequest is run in a detached goroutine per inbound
// control_request. It recovers
// from a panicking handler and always sends exactly one control_response,
// so the peer-originated direction also sees exactly one terminal outcome
// per request.
func (q *Query) handleInboundControlRequest(raw json.RawMessage) {
	var env wire.ControlRequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		q.log.Warn().Err(err).Msg("query: malformed inbound control_request")
		return
	}

	var head wire.RequestHead
	_ = json.Unmarshal(env.Request, &head)

	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("subtype", head.Subtype).
				Msg("query: inbound control handler panicked")
			line, _ := wire.ErrorResponse(env.RequestID, fmt.Sprintf("handler panic: %v", r))
			_ = q.enqueueWrite(string(line))
		}
	}()

	var (
		payload any
		err     error
	)
	switch head.Subtype {
	case wire.SubtypeCanUseTool:
		payload, err = q.dispatchCanUseTool(env.Request)
	case wire.SubtypeHookCallback:
		payload, err = q.dispatchHookCallback(env.Request)
	case wire.SubtypeMCPMessage:
		payload, err = q.dispatchMCPMessage(env.Request)
	default:
		err = fmt.Errorf("query: unrecognised inbound control subtype %q", head.Subtype)
	}

	var line []byte
	var werr error
	if err != nil {
		line, werr = wire.ErrorResponse(env.RequestID, err.Error())
	} else {
		line, werr = wire.SuccessResponse(env.RequestID, payload)
	}
	if werr != nil {
		q.log.Error().Err(werr).Msg("query: failed to encode control_response")
		return
	}
	if err := q.enqueueWrite(string(line)); err != nil {
		q.log.Warn().Err(err).Msg("query: failed to deliver control_response")
	}
}

// ─── can_use_tool ───────────────────────────────────────────────────────────

type canUseToolRequest struct {
	Subtype        string                  `json:"subtype"`
	ToolName       string                  `json:"tool_name"`
	Input          json.RawMessage         `json:"input"`
	ToolUseID      string                  `json:"tool_use_id"`
	AgentID        string                  `json:"agent_id"`
	DecisionReason string                  `json:"permission_suggestions_reason,omitempty"`
	BlockedPath    string                  `json:"blocked_path,omitempty"`
	Suggestions    []wire.PermissionUpdate `json:"permission_suggestions,omitempty"`
}

func (q *Query) dispatchCanUseTool(raw json.RawMessage) (any, error) {
	if q.callbacks.Permission == nil {
		return nil, fmt.Errorf("query: can_use_tool requested but no permission handler is registered")
	}
	var req canUseToolRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	result := q.callbacks.Permission(req.ToolName, req.Input, wire.PermissionContext{
		Suggestions:    req.Suggestions,
		BlockedPath:    req.BlockedPath,
		DecisionReason: req.DecisionReason,
		ToolUseID:      req.ToolUseID,
		AgentID:        req.AgentID,
	})
	return result, nil
}

// ─── hook_callback ──────────────────────────────────────────────────────────

type hookCallbackRequest struct {
	Subtype    string          `json:"subtype"`
	CallbackID string          `json:"callback_id"`
	Input      json.RawMessage `json:"input"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
}

func (q *Query) dispatchHookCallback(raw json.RawMessage) (any, error) {
	var req hookCallbackRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	rh, ok := q.callbacks.LookupHook(req.CallbackID)
	if !ok {
		return nil, fmt.Errorf("query: no hook registered for callback id %q", req.CallbackID)
	}
	out, err := rh.Fn(rh.Event, req.Input, req.ToolUseID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		cont := true
		out = &wire.HookOutput{Continue: &cont}
	}
	return out, nil
}

// ─── mcp_message ────────────────────────────────────────────────────────────

// mcpMessageRequest wraps one JSON-RPC frame the peer sent to an in-process
// tool server, addressed by server name.
type mcpMessageRequest struct {
	Subtype    string          `json:"subtype"`
	ServerName string          `json:"server_name"`
	Message    json.RawMessage `json:"message"`
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (q *Query) dispatchMCPMessage(raw json.RawMessage) (any, error) {
	var req mcpMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	server, ok := q.callbacks.LookupToolServer(req.ServerName)
	if !ok {
		return nil, fmt.Errorf("query: no in-process MCP server named %q", req.ServerName)
	}
	var rpc jsonRPCRequest
	if err := json.Unmarshal(req.Message, &rpc); err != nil {
		return nil, err
	}

	result, err := q.handleMCPRPC(context.Background(), server, rpc)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"mcp_response": map[string]any{
			"jsonrpc": "2.0",
			"id":      rpc.ID,
			"result":  result,
		},
	}, nil
}

func (q *Query) handleMCPRPC(ctx context.Context, server *wire.ToolServer, rpc jsonRPCRequest) (any, error) {
	switch rpc.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]any{"name": server.Name, "version": server.Version},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}, nil
	case "notifications/initialized":
		return map[string]any{}, nil
	case "tools/list":
		tools := make([]map[string]any, 0, len(server.Tools))
		for _, t := range server.Tools {
			tools = append(tools, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"inputSchema": t.InputSchema,
			})
		}
		return map[string]any{"tools": tools}, nil
	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(rpc.Params, &params); err != nil {
			return nil, err
		}
		tool, ok := server.Lookup(params.Name)
		if !ok {
			return nil, fmt.Errorf("query: unknown tool %q on server %q", params.Name, server.Name)
		}
		res, err := tool.Handler(ctx, params.Arguments)
		if err != nil {
			// A tool handler's Go-level error is still a successful JSON-RPC
			// round trip: it surfaces to the peer as an mcp_response result
			// with isError:true, not as a control_response error.
			return map[string]any{
				"content": []wire.ContentBlock{{Type: wire.BlockText, Text: err.Error()}},
				"isError": true,
			}, nil
		}
		return map[string]any{"content": res.Content, "isError": res.IsError}, nil
	default:
		return nil, fmt.Errorf("query: unsupported MCP method %q", rpc.Method)
	}
}
