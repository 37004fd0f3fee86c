package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// ThinkingMode controls Claude's extended thinking behaviour.
type ThinkingMode string

const (
	// ThinkingAdaptive lets Claude decide when to think (default).
	ThinkingAdaptive ThinkingMode = "adaptive"
	// ThinkingDisabled turns off extended thinking.
	// Also sets MAX_THINKING_TOKENS=0 in the subprocess environment.
	ThinkingDisabled ThinkingMode = "disabled"
	// ThinkingEnabled always enables extended thinking.
	ThinkingEnabled ThinkingMode = "enabled"
)

// EffortLevel controls reasoning effort via the --effort flag.
type EffortLevel string

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
)

// PermissionMode controls how Claude handles tool permission requests.
type PermissionMode = wire.PermissionMode

const (
	PermissionModeDefault           = wire.PermissionModeDefault
	PermissionModeAcceptEdits       = wire.PermissionModeAcceptEdits
	PermissionModeBypassPermissions = wire.PermissionModeBypassPermissions
	PermissionModePlan              = wire.PermissionModePlan
)

// ─── Permission types ─────────────────────────────────────────────────────────

// PermissionBehavior is the allow/deny/ask outcome for a permission rule.
type PermissionBehavior = wire.PermissionBehavior

const (
	PermissionBehaviorAllow = wire.PermissionBehaviorAllow
	PermissionBehaviorDeny  = wire.PermissionBehaviorDeny
	PermissionBehaviorAsk   = wire.PermissionBehaviorAsk
)

// PermissionUpdateDestination controls where a permission update is persisted.
type PermissionUpdateDestination = wire.PermissionUpdateDestination

const (
	// PermissionUpdateDestinationUserSettings persists to the global user settings file.
	PermissionUpdateDestinationUserSettings = wire.PermissionUpdateDestinationUserSettings
	// PermissionUpdateDestinationProjectSettings persists to the shared project settings file.
	PermissionUpdateDestinationProjectSettings = wire.PermissionUpdateDestinationProjectSettings
	// PermissionUpdateDestinationLocalSettings persists to the gitignored local settings file.
	PermissionUpdateDestinationLocalSettings = wire.PermissionUpdateDestinationLocalSettings
	// PermissionUpdateDestinationSession applies the update only for the current session.
	PermissionUpdateDestinationSession = wire.PermissionUpdateDestinationSession
)

// PermissionRuleValue is a single permission rule identifying a tool and optional
// content pattern (e.g. a glob for the Bash tool's command argument).
type PermissionRuleValue = wire.PermissionRuleValue

// PermissionUpdate is a single permission mutation returned by a PermissionHandler.
// The Type field is the discriminant; fill the corresponding fields only.
//
//   - "addRules"         → Rules, Behavior, Destination
//   - "replaceRules"     → Rules, Behavior, Destination
//   - "removeRules"      → Rules, Behavior, Destination
//   - "setMode"          → Mode, Destination
//   - "addDirectories"   → Directories, Destination
//   - "removeDirectories"→ Directories, Destination
type PermissionUpdate = wire.PermissionUpdate

// PermissionContext is passed to PermissionHandler with full context about the
// tool call request.
type PermissionContext = wire.PermissionContext

// PermissionResult is the return value of a PermissionHandler.
// Set Behavior to "allow" or "deny".
//
// When Behavior == "allow":
//   - UpdatedInput optionally replaces the tool input before execution.
//   - UpdatedPermissions optionally applies persistent permission mutations.
//
// When Behavior == "deny":
//   - Message is shown to the user explaining the denial.
//   - Interrupt, if true, signals the agent to stop entirely.
type PermissionResult = wire.PermissionResult

// PermissionHandler is called when claude sends a can_use_tool control_request.
// ctx contains full context about the request.
// Return a PermissionResult with Behavior "allow" or "deny".
// When nil, any can_use_tool request is answered with an error response.
type PermissionHandler = wire.PermissionHandler

// ─── MCP server config types ─────────────────────────────────────────────────

// McpStdioServer configures an external MCP server launched as a subprocess.
// claude spawns the binary and communicates over its stdin/stdout.
type McpStdioServer struct {
	Type    string            `json:"type"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// McpHTTPServer configures an MCP server reachable over HTTP (streamable transport).
// This is how you expose an in-process Go MCP server to claude: start an HTTP
// listener in your process and pass its URL here.
type McpHTTPServer struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// McpSSEServer configures an MCP server reachable over SSE.
type McpSSEServer struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ─── Plugin types ─────────────────────────────────────────────────────────────

// SdkPluginConfig configures a Claude Code plugin loaded for a session.
// Currently only local plugins (type "local") are supported.
// Each plugin directory must contain a.claude-plugin/plugin.json manifest.
type SdkPluginConfig struct {
	// Type is the plugin kind. Currently only "local" is supported.
	Type string `json:"type"`
	// Path is the absolute or relative path to the plugin directory.
	Path string `json:"path"`
}

// ─── Settings source ─────────────────────────────────────────────────────────

// SettingSource identifies which settings file(s) the claude subprocess should load.
// By default the SDK loads NO settings files (SDK isolation mode).
// Explicitly listing sources opts in to loading those files.
type SettingSource = wire.SettingSource

const (
	// SettingSourceUser loads ~/.claude/settings.json (global user settings).
	SettingSourceUser = wire.SettingSourceUser
	// SettingSourceProject loads.claude/settings.json (shared, version-controlled).
	SettingSourceProject = wire.SettingSourceProject
	// SettingSourceLocal loads.claude/settings.local.json (gitignored local overrides).
	SettingSourceLocal = wire.SettingSourceLocal
)

// ─── Agent types ──────────────────────────────────────────────────────────────

// AgentDefinition configures a named sub-agent that claude can spawn.
type AgentDefinition = wire.AgentDefinition

// ─── Output format ────────────────────────────────────────────────────────────

// OutputFormat configures structured output from claude. Type is one of
// "text", "json", or "json_schema"; Schema is the JSON schema used when Type
// is "json_schema". Sent in the initialize message.
type OutputFormat = wire.OutputFormat

// ─── Sandbox settings ─────────────────────────────────────────────────────────

// NetworkSandboxSettings controls network access for sandboxed command execution.
type NetworkSandboxSettings = wire.NetworkSandboxSettings

// SandboxIgnoreViolations lists patterns for which sandbox violations are silently ignored.
type SandboxIgnoreViolations = wire.SandboxIgnoreViolations

// SandboxSettings configures command execution sandboxing for the session.
// Sandbox settings control whether shell commands run inside a sandbox;
// they do not configure filesystem or network permissions (those are controlled
// by PermissionHandler and PermissionUpdate rules).
type SandboxSettings = wire.SandboxSettings

// ─── Options ─────────────────────────────────────────────────────────────────

// Options holds all configuration for a Query call.
// Use the With* functional options rather than constructing this directly.
type Options struct {
	// Model selects the Claude model. Defaults to "claude-sonnet-4-6".
	Model string

	// SystemPrompt overrides the default system prompt.
	// Sent via the initialize message on stdin (not as a CLI flag).
	SystemPrompt string

	// AppendSystemPrompt appends text to the existing system prompt.
	// Sent via the initialize message on stdin.
	AppendSystemPrompt string

	// SessionID resumes an existing session. Sent as the initialize
	// message's "resume" field.
	SessionID string

	// Continue resumes the most recent session. Sent as the initialize
	// message's "continue" field.
	Continue bool

	// ForkSession forks the resumed session into a new ID. Sent as the
	// initialize message's "fork_session" field. Use with SessionID or
	// Continue.
	ForkSession bool

	// AllowedTools restricts which Claude Code built-in tools may be used.
	AllowedTools []string

	// DisallowedTools explicitly blocks specific tools.
	DisallowedTools []string

	// Thinking controls extended thinking mode. Defaults to ThinkingAdaptive.
	Thinking ThinkingMode

	// MaxThinkingTokens caps the thinking token budget via MAX_THINKING_TOKENS env var.
	MaxThinkingTokens int

	// MaxTurns limits the number of agentic turns. Sent as the initialize
	// message's "max_turns" field.
	MaxTurns int

	// Effort controls reasoning effort level via --effort.
	Effort EffortLevel

	// Betas is a list of beta feature flags to enable via --betas.
	Betas []string

	// FallbackModel is the model to use when the primary model is unavailable.
	FallbackModel string

	// MaxBudgetUSD sets the maximum cost budget in USD via --max-budget-usd.
	MaxBudgetUSD float64

	// OutputFormat configures structured output. Sent in the initialize message.
	OutputFormat *OutputFormat

	// EnableFileCheckpointing enables file checkpointing via --enable-file-checkpointing.
	EnableFileCheckpointing bool

	// StrictMcpConfig enables strict MCP config validation via --strict-mcp-config.
	StrictMcpConfig bool

	// CWD sets the working directory the claude subprocess is started in.
	CWD string

	// PermissionMode controls tool permission handling.
	// Defaults to PermissionModeBypassPermissions.
	PermissionMode PermissionMode

	// AllowDangerouslySkipPermissions must be true when using BypassPermissions.
	AllowDangerouslySkipPermissions bool

	// PermissionPromptToolName sets the MCP tool name used for permission prompts.
	PermissionPromptToolName string

	// PermissionHandler is called for each can_use_tool control_request from claude.
	// When nil and PermissionMode is BypassPermissions, no permission requests arrive.
	// When nil and a can_use_tool request does arrive, it is answered with an
	// error response rather than silently allowed.
	PermissionHandler PermissionHandler

	// IncludePartialMessages enables streaming of partial assistant messages.
	IncludePartialMessages bool

	// McpServers configures external MCP servers.
	// Keys are server names; values are McpStdioServer, McpHTTPServer, or McpSSEServer.
	McpServers map[string]any

	// Agents configures named sub-agents available to claude.
	// Sent via the initialize message.
	Agents map[string]AgentDefinition

	// Hooks configures lifecycle hook callbacks.
	// Sent via the initialize message.
	Hooks map[HookEvent][]HookMatcher

	// ToolServers registers in-process tool catalogs, addressed by the CLI
	// over the control protocol's mcp_message routing (no network or
	// subprocess hop). Keys are server names.
	ToolServers map[string]*ToolServer

	// Plugins lists local Claude Code plugins loaded for this session.
	// Each plugin directory must contain a.claude-plugin/plugin.json manifest.
	Plugins []SdkPluginConfig

	// SettingSources controls which settings files are loaded by the subprocess.
	// When empty, no filesystem settings are loaded (SDK isolation mode).
	SettingSources []SettingSource

	// Env contains additional environment variables merged into the subprocess env.
	Env map[string]string

	// Sandbox configures command execution sandboxing.
	// Passed to the CLI via the initialize message.
	Sandbox *SandboxSettings

	// ClaudeExecutable is the path to the claude binary. Defaults to "claude".
	ClaudeExecutable string

	// BackendKind selects which wire protocol to drive. Defaults to
	// wire.BackendPrimary; the other kinds exist for callers that supply
	// their own app-server or spawn-per-turn executable.
	BackendKind wire.BackendKind

	// Debug pipes the subprocess's stderr to this process's stderr and
	// enables verbose internal logging.
	Debug bool

	// testTransport is the seam this package's own tests use to inject a
	// transport.Fake in place of a real subprocess; unexported, so it is
	// never part of the public API.
	testTransport func(transport.Config) transport.Transport
}

// Option is a functional option for configuring a Query call.
type Option func(*Options)

func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

func WithSystemPrompt(prompt string) Option {
	return func(o *Options) { o.SystemPrompt = prompt }
}

func WithAppendSystemPrompt(prompt string) Option {
	return func(o *Options) { o.AppendSystemPrompt = prompt }
}

func WithSessionID(id string) Option {
	return func(o *Options) { o.SessionID = id }
}

// WithContinue resumes the most recent conversation session.
func WithContinue() Option {
	return func(o *Options) { o.Continue = true }
}

// WithForkSession forks the resumed session into a new session ID.
// Use together with WithSessionID or WithContinue.
func WithForkSession() Option {
	return func(o *Options) { o.ForkSession = true }
}

func WithAllowedTools(tools ...string) Option {
	return func(o *Options) { o.AllowedTools = tools }
}

func WithDisallowedTools(tools ...string) Option {
	return func(o *Options) { o.DisallowedTools = tools }
}

func WithThinking(mode ThinkingMode) Option {
	return func(o *Options) { o.Thinking = mode }
}

func WithMaxThinkingTokens(n int) Option {
	return func(o *Options) { o.MaxThinkingTokens = n }
}

func WithMaxTurns(n int) Option {
	return func(o *Options) { o.MaxTurns = n }
}

func WithEffort(level EffortLevel) Option {
	return func(o *Options) { o.Effort = level }
}

// WithBetas enables one or more beta feature flags.
func WithBetas(betas ...string) Option {
	return func(o *Options) { o.Betas = append(o.Betas, betas...) }
}

// WithFallbackModel sets the fallback model when the primary model is unavailable.
func WithFallbackModel(model string) Option {
	return func(o *Options) { o.FallbackModel = model }
}

// WithMaxBudgetUSD sets the maximum cost budget in USD.
func WithMaxBudgetUSD(usd float64) Option {
	return func(o *Options) { o.MaxBudgetUSD = usd }
}

// WithOutputFormat sets structured output format.
func WithOutputFormat(f *OutputFormat) Option {
	return func(o *Options) { o.OutputFormat = f }
}

// WithEnableFileCheckpointing enables file checkpointing.
func WithEnableFileCheckpointing() Option {
	return func(o *Options) { o.EnableFileCheckpointing = true }
}

// WithStrictMcpConfig enables strict MCP configuration validation.
func WithStrictMcpConfig() Option {
	return func(o *Options) { o.StrictMcpConfig = true }
}

// WithCWD sets the working directory for the claude subprocess.
func WithCWD(dir string) Option {
	return func(o *Options) { o.CWD = dir }
}

func WithPermissionMode(mode PermissionMode) Option {
	return func(o *Options) { o.PermissionMode = mode }
}

// WithBypassPermissions enables bypassPermissions mode (the SDK default).
func WithBypassPermissions() Option {
	return func(o *Options) {
		o.PermissionMode = PermissionModeBypassPermissions
		o.AllowDangerouslySkipPermissions = true
	}
}

// WithPermissionPromptToolName sets the MCP tool name used for permission prompts.
func WithPermissionPromptToolName(name string) Option {
	return func(o *Options) { o.PermissionPromptToolName = name }
}

// WithPermissionHandler sets a callback invoked for each can_use_tool request.
func WithPermissionHandler(h PermissionHandler) Option {
	return func(o *Options) { o.PermissionHandler = h }
}

func WithIncludePartialMessages() Option {
	return func(o *Options) { o.IncludePartialMessages = true }
}

// WithMcpServers sets external MCP server configurations.
// Values should be McpStdioServer, McpHTTPServer, or McpSSEServer.
func WithMcpServers(servers map[string]any) Option {
	return func(o *Options) { o.McpServers = servers }
}

// WithAgents configures named sub-agents available to claude.
func WithAgents(agents map[string]AgentDefinition) Option {
	return func(o *Options) { o.Agents = agents }
}

// WithHooks configures lifecycle hook callbacks.
func WithHooks(hooks map[HookEvent][]HookMatcher) Option {
	return func(o *Options) { o.Hooks = hooks }
}

// WithToolServer registers an in-process tool catalog under name, routed
// through the control protocol's mcp_message subtype with no network or
// subprocess hop.
func WithToolServer(name string, server *ToolServer) Option {
	return func(o *Options) {
		if o.ToolServers == nil {
			o.ToolServers = make(map[string]*ToolServer)
		}
		o.ToolServers[name] = server
	}
}

// WithPlugins registers one or more local Claude Code plugins for the session.
// Each SdkPluginConfig must have Type "local" and a path to the plugin directory.
func WithPlugins(plugins ...SdkPluginConfig) Option {
	return func(o *Options) { o.Plugins = append(o.Plugins, plugins...) }
}

// WithSettingSources controls which settings files are loaded by the subprocess.
// Pass one or more of SettingSourceUser, SettingSourceProject, SettingSourceLocal.
// When not called, no filesystem settings are loaded (SDK isolation mode).
func WithSettingSources(sources ...SettingSource) Option {
	return func(o *Options) { o.SettingSources = append(o.SettingSources, sources...) }
}

// WithEnv merges additional environment variables into the subprocess environment.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithSandbox configures command execution sandboxing for the session.
func WithSandbox(s *SandboxSettings) Option {
	return func(o *Options) { o.Sandbox = s }
}

func WithClaudeExecutable(path string) Option {
	return func(o *Options) { o.ClaudeExecutable = path }
}

// WithBackendKind selects which wire protocol drives the session. Most
// callers never need this; it exists for hosts that run an app-server or
// spawn-per-turn compatible executable instead of the primary CLI.
func WithBackendKind(kind wire.BackendKind) Option {
	return func(o *Options) { o.BackendKind = kind }
}

// WithDebug pipes the subprocess's stderr to this process's stderr and
// turns on verbose internal logging.
func WithDebug(debug bool) Option {
	return func(o *Options) { o.Debug = debug }
}

// withTestTransport is the unexported seam this package's own tests use to
// swap in a transport.Fake. Not part of the public API.
func withTestTransport(f func(transport.Config) transport.Transport) Option {
	return func(o *Options) { o.testTransport = f }
}

func defaultOptions() *Options {
	return &Options{
		Model:                           "claude-sonnet-4-6",
		Thinking:                        ThinkingAdaptive,
		PermissionMode:                  PermissionModeBypassPermissions,
		AllowDangerouslySkipPermissions: true,
		ClaudeExecutable:                "claude",
		BackendKind:                     wire.BackendPrimary,
	}
}

// buildArgs constructs the CLI argument slice the primary backend's process
// is given in addition to the protocol-required --input-format/
// --output-format/--verbose flags it always sets itself. Options the control
// protocol already carries through the initialize request (Model,
// SessionID/Continue/ForkSession, PermissionMode, AllowedTools/
// DisallowedTools, MaxTurns, SettingSources) are NOT duplicated here.
func (o *Options) buildArgs() []string {
	var args []string

	switch o.Thinking {
	case ThinkingAdaptive:
		args = append(args, "--thinking", "adaptive")
	case ThinkingDisabled:
		args = append(args, "--thinking", "disabled")
	case ThinkingEnabled:
		args = append(args, "--thinking", "enabled")
	}

	if o.Effort != "" {
		args = append(args, "--effort", string(o.Effort))
	}

	if o.AllowDangerouslySkipPermissions {
		args = append(args, "--allow-dangerously-skip-permissions")
	}

	if o.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}

	if len(o.Betas) > 0 {
		args = append(args, "--betas", strings.Join(o.Betas, ","))
	}

	if o.FallbackModel != "" {
		args = append(args, "--fallback-model", o.FallbackModel)
	}

	if o.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", fmt.Sprintf("%.6f", o.MaxBudgetUSD))
	}

	if o.EnableFileCheckpointing {
		args = append(args, "--enable-file-checkpointing")
	}

	if o.StrictMcpConfig {
		args = append(args, "--strict-mcp-config")
	}

	if o.PermissionPromptToolName != "" {
		args = append(args, "--permission-prompt-tool-name", o.PermissionPromptToolName)
	}

	// Plugins: each plugin gets its own --plugin-dir flag.
	for _, p := range o.Plugins {
		if p.Path != "" {
			args = append(args, "--plugin-dir", p.Path)
		}
	}

	// MCP servers are passed via --mcp-config as a JSON string.
	if len(o.McpServers) > 0 {
		mcpCfg := map[string]any{"mcpServers": o.McpServers}
		if b, err := json.Marshal(mcpCfg); err == nil {
			args = append(args, "--mcp-config", string(b))
		}
	}

	return args
}

// buildEnv returns the environment variable overlay MaxThinkingTokens
// requires. The claude CLI reads its thinking-token budget from
// MAX_THINKING_TOKENS rather than a flag.
func (o *Options) buildEnv() map[string]string {
	env := map[string]string{}
	for k, v := range o.Env {
		env[k] = v
	}
	if o.Thinking == ThinkingDisabled {
		env["MAX_THINKING_TOKENS"] = "0"
	} else if o.MaxThinkingTokens > 0 {
		env["MAX_THINKING_TOKENS"] = fmt.Sprintf("%d", o.MaxThinkingTokens)
	}
	return env
}
