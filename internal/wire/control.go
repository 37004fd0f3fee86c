package wire

import "encoding/json"

// Envelope top-level types for the control sub-protocol.
const (
	TypeControlRequest       = "control_request"
	TypeControlResponse      = "control_response"
	TypeControlCancelRequest = "control_cancel_request"
)

// Outbound control_request subtypes (the session issues these).
const (
	SubtypeInitialize        = "initialize"
	SubtypeInterrupt         = "interrupt"
	SubtypeSetPermissionMode = "set_permission_mode"
	SubtypeSetModel          = "set_model"
	SubtypeRewindFiles       = "rewind_files"
	SubtypeMCPStatus         = "mcp_status"
)

// Inbound control_request subtypes (the peer issues these).
const (
	SubtypeCanUseTool    = "can_use_tool"
	SubtypeHookCallback  = "hook_callback"
	SubtypeMCPMessage    = "mcp_message"
	SubtypeControlCancel = "control_cancel_request"
)

// ControlRequestEnvelope is the outer shape of every control_request line,
// in either direction.
type ControlRequestEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

// ControlResponseEnvelope is the outer shape of every control_response line.
type ControlResponseEnvelope struct {
	Type     string          `json:"type"`
	Response ControlResponse `json:"response"`
}

// ControlResponse is the inner payload of a control_response.
type ControlResponse struct {
	Subtype   string          `json:"subtype"` // "success" | "error"
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// RequestHead is the minimal shape needed to route an inbound control
// request before decoding its subtype-specific payload.
type RequestHead struct {
	Subtype string `json:"subtype"`
}

// SuccessResponse builds a control_response envelope reporting success.
func SuccessResponse(requestID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := ControlResponseEnvelope{
		Type: TypeControlResponse,
		Response: ControlResponse{
			Subtype:   "success",
			RequestID: requestID,
			Response:  raw,
		},
	}
	return json.Marshal(env)
}

// ErrorResponse builds a control_response envelope reporting failure.
func ErrorResponse(requestID string, errMsg string) ([]byte, error) {
	env := ControlResponseEnvelope{
		Type: TypeControlResponse,
		Response: ControlResponse{
			Subtype:   "error",
			RequestID: requestID,
			Error:     errMsg,
		},
	}
	return json.Marshal(env)
}
