package claude

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// Config is the YAML-serializable counterpart of Options. Hosts that want to
// ship a default query configuration alongside their binary (rather than
// wiring every With* call by hand) load one of these from disk and turn it
// into Options via ToOptions.
//
// Fields mirror Options; anything left zero in the YAML document keeps
// defaultOptions' value.
type Config struct {
	Model              string            `yaml:"model,omitempty"`
	SystemPrompt       string            `yaml:"systemPrompt,omitempty"`
	AppendSystemPrompt string            `yaml:"appendSystemPrompt,omitempty"`
	SessionID          string            `yaml:"sessionId,omitempty"`
	Continue           bool              `yaml:"continue,omitempty"`
	ForkSession        bool              `yaml:"forkSession,omitempty"`
	AllowedTools       []string          `yaml:"allowedTools,omitempty"`
	DisallowedTools    []string          `yaml:"disallowedTools,omitempty"`
	Thinking           string            `yaml:"thinking,omitempty"`
	MaxThinkingTokens  int               `yaml:"maxThinkingTokens,omitempty"`
	MaxTurns           int               `yaml:"maxTurns,omitempty"`
	Effort             string            `yaml:"effort,omitempty"`
	Betas              []string          `yaml:"betas,omitempty"`
	FallbackModel      string            `yaml:"fallbackModel,omitempty"`
	MaxBudgetUSD       float64           `yaml:"maxBudgetUsd,omitempty"`
	CWD                string            `yaml:"cwd,omitempty"`
	PermissionMode     string            `yaml:"permissionMode,omitempty"`
	SettingSources     []string          `yaml:"settingSources,omitempty"`
	Env                map[string]string `yaml:"env,omitempty"`
	ClaudeExecutable   string            `yaml:"claudeExecutable,omitempty"`
	BackendKind        string            `yaml:"backendKind,omitempty"`
	Debug              bool              `yaml:"debug,omitempty"`
}

// LoadConfig reads and parses a YAML default-options document from path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("claude: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("claude: parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ToOptions converts the parsed Config into a slice of functional Options,
// suitable for passing to Query, Run, or NewClient alongside (or before) the
// caller's own overrides. Unknown enum-valued fields (thinking, effort,
// permissionMode, backendKind, settingSources entries) are rejected rather
// than silently ignored.
func (c *Config) ToOptions() ([]Option, error) {
	var opts []Option

	if c.Model != "" {
		opts = append(opts, WithModel(c.Model))
	}
	if c.SystemPrompt != "" {
		opts = append(opts, WithSystemPrompt(c.SystemPrompt))
	}
	if c.AppendSystemPrompt != "" {
		opts = append(opts, WithAppendSystemPrompt(c.AppendSystemPrompt))
	}
	if c.SessionID != "" {
		opts = append(opts, WithSessionID(c.SessionID))
	}
	if c.Continue {
		opts = append(opts, WithContinue())
	}
	if c.ForkSession {
		opts = append(opts, WithForkSession())
	}
	if len(c.AllowedTools) > 0 {
		opts = append(opts, WithAllowedTools(c.AllowedTools...))
	}
	if len(c.DisallowedTools) > 0 {
		opts = append(opts, WithDisallowedTools(c.DisallowedTools...))
	}
	if c.Thinking != "" {
		mode, err := parseThinkingMode(c.Thinking)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithThinking(mode))
	}
	if c.MaxThinkingTokens > 0 {
		opts = append(opts, WithMaxThinkingTokens(c.MaxThinkingTokens))
	}
	if c.MaxTurns > 0 {
		opts = append(opts, WithMaxTurns(c.MaxTurns))
	}
	if c.Effort != "" {
		level, err := parseEffortLevel(c.Effort)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithEffort(level))
	}
	if len(c.Betas) > 0 {
		opts = append(opts, WithBetas(c.Betas...))
	}
	if c.FallbackModel != "" {
		opts = append(opts, WithFallbackModel(c.FallbackModel))
	}
	if c.MaxBudgetUSD > 0 {
		opts = append(opts, WithMaxBudgetUSD(c.MaxBudgetUSD))
	}
	if c.CWD != "" {
		opts = append(opts, WithCWD(c.CWD))
	}
	if c.PermissionMode != "" {
		mode, err := parsePermissionMode(c.PermissionMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPermissionMode(mode))
	}
	if len(c.SettingSources) > 0 {
		sources := make([]SettingSource, 0, len(c.SettingSources))
		for _, s := range c.SettingSources {
			src, err := parseSettingSource(s)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
		opts = append(opts, WithSettingSources(sources...))
	}
	if len(c.Env) > 0 {
		opts = append(opts, WithEnv(c.Env))
	}
	if c.ClaudeExecutable != "" {
		opts = append(opts, WithClaudeExecutable(c.ClaudeExecutable))
	}
	if c.BackendKind != "" {
		kind, err := parseBackendKind(c.BackendKind)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithBackendKind(kind))
	}
	if c.Debug {
		opts = append(opts, WithDebug(true))
	}

	return opts, nil
}

func parseThinkingMode(s string) (ThinkingMode, error) {
	switch ThinkingMode(s) {
	case ThinkingAdaptive, ThinkingDisabled, ThinkingEnabled:
		return ThinkingMode(s), nil
	default:
		return "", fmt.Errorf("claude: config: unknown thinking mode %q", s)
	}
}

func parseEffortLevel(s string) (EffortLevel, error) {
	switch EffortLevel(s) {
	case EffortLow, EffortMedium, EffortHigh:
		return EffortLevel(s), nil
	default:
		return "", fmt.Errorf("claude: config: unknown effort level %q", s)
	}
}

func parsePermissionMode(s string) (PermissionMode, error) {
	switch PermissionMode(s) {
	case PermissionModeDefault, PermissionModeAcceptEdits, PermissionModeBypassPermissions, PermissionModePlan:
		return PermissionMode(s), nil
	default:
		return "", fmt.Errorf("claude: config: unknown permission mode %q", s)
	}
}

func parseSettingSource(s string) (SettingSource, error) {
	switch SettingSource(s) {
	case SettingSourceUser, SettingSourceProject, SettingSourceLocal:
		return SettingSource(s), nil
	default:
		return "", fmt.Errorf("claude: config: unknown setting source %q", s)
	}
}

func parseBackendKind(s string) (wire.BackendKind, error) {
	switch wire.BackendKind(s) {
	case wire.BackendPrimary, wire.BackendAppServer, wire.BackendSpawnPerTurn:
		return wire.BackendKind(s), nil
	default:
		return "", fmt.Errorf("claude: config: unknown backend kind %q", s)
	}
}
