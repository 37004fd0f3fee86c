package wire

import "encoding/json"

// PermissionMode controls how the primary backend handles tool permission
// requests.
type PermissionMode string

const (
	PermissionModeDefault           PermissionMode = "default"
	PermissionModeAcceptEdits       PermissionMode = "acceptEdits"
	PermissionModeBypassPermissions PermissionMode = "bypassPermissions"
	PermissionModePlan              PermissionMode = "plan"
)

// PermissionBehavior is the allow/deny/ask outcome for a permission rule.
type PermissionBehavior string

const (
	PermissionBehaviorAllow PermissionBehavior = "allow"
	PermissionBehaviorDeny  PermissionBehavior = "deny"
	PermissionBehaviorAsk   PermissionBehavior = "ask"
)

// PermissionUpdateDestination controls where a permission update persists.
type PermissionUpdateDestination string

const (
	PermissionUpdateDestinationUserSettings    PermissionUpdateDestination = "userSettings"
	PermissionUpdateDestinationProjectSettings PermissionUpdateDestination = "projectSettings"
	PermissionUpdateDestinationLocalSettings   PermissionUpdateDestination = "localSettings"
	PermissionUpdateDestinationSession         PermissionUpdateDestination = "session"
)

// PermissionRuleValue is a single permission rule: a tool name and an
// optional content pattern (e.g. a glob over the Bash tool's command).
type PermissionRuleValue struct {
	ToolName    string  `json:"toolName"`
	RuleContent *string `json:"ruleContent,omitempty"`
}

// PermissionUpdate is one permission mutation, either suggested by the peer
// or returned by a PermissionHandler. Type selects which other fields apply:
// addRules/replaceRules/removeRules use Rules+Behavior+Destination, setMode
// uses Mode+Destination, add/removeDirectories use Directories+Destination.
type PermissionUpdate struct {
	Type        string                      `json:"type"`
	Rules       []PermissionRuleValue       `json:"rules,omitempty"`
	Behavior    PermissionBehavior          `json:"behavior,omitempty"`
	Destination PermissionUpdateDestination `json:"destination,omitempty"`
	Mode        PermissionMode              `json:"mode,omitempty"`
	Directories []string                    `json:"directories,omitempty"`
}

// PermissionContext is passed to a PermissionHandler alongside the tool call.
type PermissionContext struct {
	Suggestions    []PermissionUpdate
	BlockedPath    string
	DecisionReason string
	ToolUseID      string
	AgentID        string
}

// PermissionResult is the return value of a PermissionHandler.
type PermissionResult struct {
	Behavior           PermissionBehavior
	UpdatedInput       map[string]any
	UpdatedPermissions []PermissionUpdate
	Message            string
	Interrupt          bool
}

// PermissionHandler decides whether a tool call may proceed. A can_use_tool
// request arriving while no handler is registered is answered with an error
// control_response.
type PermissionHandler func(toolName string, input json.RawMessage, ctx PermissionContext) PermissionResult

// wireAllow/wireDeny project a PermissionResult to the camelCase shape the
// peer expects for a can_use_tool control_response.
func (r PermissionResult) MarshalJSON() ([]byte, error) {
	if r.Behavior == PermissionBehaviorDeny {
		m := map[string]any{"behavior": "deny", "message": r.Message}
		if r.Interrupt {
			m["interrupt"] = true
		}
		return json.Marshal(m)
	}
	m := map[string]any{"behavior": "allow"}
	if r.UpdatedInput != nil {
		m["updatedInput"] = r.UpdatedInput
	}
	if len(r.UpdatedPermissions) > 0 {
		m["updatedPermissions"] = r.UpdatedPermissions
	}
	return json.Marshal(m)
}
