package wire

// AgentDefinition configures a named sub-agent the primary backend can
// spawn, sent verbatim in the initialize control request's "agents" field.
type AgentDefinition struct {
	Description     string   `json:"description,omitempty"`
	Prompt          string   `json:"prompt,omitempty"`
	Tools           []string `json:"tools,omitempty"`
	DisallowedTools []string `json:"disallowedTools,omitempty"`
	Model           string   `json:"model,omitempty"`
	MaxTurns        int      `json:"maxTurns,omitempty"`
	McpServers      []string `json:"mcpServers,omitempty"`
	Skills          []string `json:"skills,omitempty"`
}

// OutputFormat configures structured output for a session, sent verbatim in
// the initialize control request's "output_format" field.
type OutputFormat struct {
	Type   string         `json:"type"` // "text", "json", or "json_schema"
	Schema map[string]any `json:"schema,omitempty"`
}

// SettingSource identifies which settings file(s) the primary backend
// should load. An empty list means SDK isolation mode: no filesystem
// settings are loaded.
type SettingSource string

const (
	SettingSourceUser    SettingSource = "user"
	SettingSourceProject SettingSource = "project"
	SettingSourceLocal   SettingSource = "local"
)

// NetworkSandboxSettings controls network access for sandboxed command
// execution.
type NetworkSandboxSettings struct {
	AllowLocalBinding   bool     `json:"allowLocalBinding,omitempty"`
	AllowUnixSockets    []string `json:"allowUnixSockets,omitempty"`
	AllowAllUnixSockets bool     `json:"allowAllUnixSockets,omitempty"`
	HTTPProxyPort       int      `json:"httpProxyPort,omitempty"`
	SOCKSProxyPort      int      `json:"socksProxyPort,omitempty"`
}

// SandboxIgnoreViolations lists patterns for which sandbox violations are
// silently ignored.
type SandboxIgnoreViolations struct {
	File    []string `json:"file,omitempty"`
	Network []string `json:"network,omitempty"`
}

// SandboxSettings configures command execution sandboxing for the session,
// sent verbatim in the initialize control request's "sandbox" field. The
// exact field set is implementation-defined by the primary backend.
type SandboxSettings struct {
	Enabled                   bool                     `json:"enabled,omitempty"`
	AutoAllowBashIfSandboxed  bool                     `json:"autoAllowBashIfSandboxed,omitempty"`
	ExcludedCommands          []string                 `json:"excludedCommands,omitempty"`
	AllowUnsandboxedCommands  bool                     `json:"allowUnsandboxedCommands,omitempty"`
	Network                   *NetworkSandboxSettings  `json:"network,omitempty"`
	IgnoreViolations          *SandboxIgnoreViolations `json:"ignoreViolations,omitempty"`
	EnableWeakerNestedSandbox bool                     `json:"enableWeakerNestedSandbox,omitempty"`
}
