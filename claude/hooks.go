package claude

import "github.com/anthropic-agentcli/agentcli-go/internal/wire"

// HookEvent identifies the lifecycle event that triggered a hook callback.
type HookEvent = wire.HookEvent

// The hook event constants the primary backend can fire.
const (
	HookEventPreToolUse         = wire.HookEventPreToolUse
	HookEventPostToolUse        = wire.HookEventPostToolUse
	HookEventPostToolUseFailure = wire.HookEventPostToolUseFailure
	HookEventNotification       = wire.HookEventNotification
	HookEventStop               = wire.HookEventStop
	HookEventSubagentStop       = wire.HookEventSubagentStop
	HookEventSubagentStart      = wire.HookEventSubagentStart
	HookEventPreCompact         = wire.HookEventPreCompact
	HookEventUserPromptSubmit   = wire.HookEventUserPromptSubmit
	HookEventPermissionRequest  = wire.HookEventPermissionRequest
)

// HookOutput is the return value of a HookFunc. All fields are optional; a
// nil *HookOutput is treated as {"continue": true}.
type HookOutput = wire.HookOutput

// HookFunc is the signature for a hook callback. event is the lifecycle
// event, input is the raw JSON payload from the CLI, and toolUseID is the
// tool use ID (non-empty for tool-related events).
type HookFunc = wire.HookFunc

// HookMatcher configures one or more hook functions for a tool-name glob
// pattern (empty Matcher matches every tool).
type HookMatcher = wire.HookMatcher
