package wire

import "encoding/json"

// HookEvent identifies the lifecycle event that triggered a hook callback.
type HookEvent string

const (
	HookEventPreToolUse         HookEvent = "PreToolUse"
	HookEventPostToolUse        HookEvent = "PostToolUse"
	HookEventPostToolUseFailure HookEvent = "PostToolUseFailure"
	HookEventNotification       HookEvent = "Notification"
	HookEventStop               HookEvent = "Stop"
	HookEventSubagentStop       HookEvent = "SubagentStop"
	HookEventSubagentStart      HookEvent = "SubagentStart"
	HookEventPreCompact         HookEvent = "PreCompact"
	HookEventUserPromptSubmit   HookEvent = "UserPromptSubmit"
	HookEventPermissionRequest  HookEvent = "PermissionRequest"
)

// HookOutput is the return value of a HookFunc. All fields are optional; a
// nil *HookOutput is projected to {"continue": true}.
type HookOutput struct {
	Continue           *bool          `json:"continue,omitempty"`
	SuppressOutput     bool           `json:"suppressOutput,omitempty"`
	StopReason         string         `json:"stopReason,omitempty"`
	Decision           string         `json:"decision,omitempty"`
	SystemMessage      string         `json:"systemMessage,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	HookSpecificOutput map[string]any `json:"hookSpecificOutput,omitempty"`

	// Async, when true, tells the peer this hook runs asynchronously; the
	// multiplexer serialises {async:true, asyncTimeout} instead of the flat
	// sync shape above.
	Async        bool `json:"-"`
	AsyncTimeout int  `json:"-"`
}

// MarshalJSON implements the wire-naming split between the synchronous flat
// object and the {async,asyncTimeout} shape.
func (o HookOutput) MarshalJSON() ([]byte, error) {
	if o.Async {
		return json.Marshal(map[string]any{
			"async":        true,
			"asyncTimeout": o.AsyncTimeout,
		})
	}
	type flat struct {
		Continue           *bool          `json:"continue,omitempty"`
		SuppressOutput     bool           `json:"suppressOutput,omitempty"`
		StopReason         string         `json:"stopReason,omitempty"`
		Decision           string         `json:"decision,omitempty"`
		SystemMessage      string         `json:"systemMessage,omitempty"`
		Reason             string         `json:"reason,omitempty"`
		HookSpecificOutput map[string]any `json:"hookSpecificOutput,omitempty"`
	}
	return json.Marshal(flat{
		Continue:           o.Continue,
		SuppressOutput:     o.SuppressOutput,
		StopReason:         o.StopReason,
		Decision:           o.Decision,
		SystemMessage:      o.SystemMessage,
		Reason:             o.Reason,
		HookSpecificOutput: o.HookSpecificOutput,
	})
}

// HookFunc is the signature of a registered hook callback. event is the
// lifecycle event, input is the raw JSON payload the peer sent, toolUseID is
// non-empty for tool-related events.
type HookFunc func(event HookEvent, input json.RawMessage, toolUseID string) (*HookOutput, error)

// HookMatcher configures one or more hook functions for a tool-name glob.
type HookMatcher struct {
	Matcher string
	Hooks   []HookFunc
	Timeout int // milliseconds; 0 = default
}
