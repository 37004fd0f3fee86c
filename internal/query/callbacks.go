package query

import (
	"fmt"

	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// registeredHook is one entry of the hook callback table: a stable
// synthetic id paired with the matcher it was declared under and its
// handler.
type registeredHook struct {
	ID      string
	Event   wire.HookEvent
	Matcher string
	Timeout int
	Fn      wire.HookFunc
}

// CallbackTables is owned by a Query for the lifetime of the session. It
// is installed at construction and immutable thereafter; the only mutation
// after initialize is the write-once server-info slot held by Query itself,
// not here.
type CallbackTables struct {
	Permission  wire.PermissionHandler
	hooks       []registeredHook
	hooksByID   map[string]registeredHook
	ToolServers map[string]*wire.ToolServer
}

// hookEventOrder fixes the deterministic enumeration used when assigning
// hook_N ids. Map iteration order in Go is randomized, so the id assignment
// documented in ("hook_0, hook_1, … in the documented order")
// cannot walk a map[HookEvent][]HookMatcher directly; this slice supplies
// the canonical per-event order instead, and matchers/hooks within an event
// keep their caller-supplied slice order.
var hookEventOrder = []wire.HookEvent{
	wire.HookEventPreToolUse,
	wire.HookEventPostToolUse,
	wire.HookEventPostToolUseFailure,
	wire.HookEventNotification,
	wire.HookEventUserPromptSubmit,
	wire.HookEventStop,
	wire.HookEventSubagentStart,
	wire.HookEventSubagentStop,
	wire.HookEventPreCompact,
	wire.HookEventPermissionRequest,
}

// NewCallbackTables builds the immutable callback tables for a session,
// assigning hook_0, hook_1, … in hookEventOrder order. The returned
// hooksConfig is the value to embed in the initialize control_request's
// "hooks" field; it reports each event's matcher configs with their
// assigned hookCallbackIds.
func NewCallbackTables(
	permission wire.PermissionHandler,
	hooks map[wire.HookEvent][]wire.HookMatcher,
	toolServers map[string]*wire.ToolServer,
) (*CallbackTables, map[string]any) {
	t := &CallbackTables{
		Permission:  permission,
		hooksByID:   make(map[string]registeredHook),
		ToolServers: toolServers,
	}

	hooksConfig := make(map[string]any)
	n := 0
	for _, event := range hookEventOrder {
		matchers, ok := hooks[event]
		if !ok || len(matchers) == 0 {
			continue
		}
		var matcherConfigs []map[string]any
		for _, m := range matchers {
			var ids []string
			for _, fn := range m.Hooks {
				id := fmt.Sprintf("hook_%d", n)
				n++
				rh := registeredHook{ID: id, Event: event, Matcher: m.Matcher, Timeout: m.Timeout, Fn: fn}
				t.hooks = append(t.hooks, rh)
				t.hooksByID[id] = rh
				ids = append(ids, id)
			}
			cfg := map[string]any{"hookCallbackIds": ids}
			if m.Matcher != "" {
				cfg["matcher"] = m.Matcher
			}
			if m.Timeout > 0 {
				cfg["timeout"] = m.Timeout
			}
			matcherConfigs = append(matcherConfigs, cfg)
		}
		hooksConfig[string(event)] = matcherConfigs
	}

	if toolServers == nil {
		t.ToolServers = make(map[string]*wire.ToolServer)
	}

	return t, hooksConfig
}

// LookupHook returns the registered hook for a callback id. Inbound
// dispatch must match the id assignment reported at initialize time.
func (t *CallbackTables) LookupHook(id string) (registeredHook, bool) {
	rh, ok := t.hooksByID[id]
	return rh, ok
}

// LookupToolServer returns the named in-process tool server.
func (t *CallbackTables) LookupToolServer(name string) (*wire.ToolServer, bool) {
	s, ok := t.ToolServers[name]
	return s, ok
}
