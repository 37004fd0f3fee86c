package claude

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigParsesYAML(t *testing.T) {
	path := writeConfig(t, `
model: claude-opus-4-6
thinking: disabled
permissionMode: plan
maxTurns: 5
allowedTools: ["Bash", "Read"]
env:
  FOO: bar
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4-6", cfg.Model)
	require.Equal(t, "disabled", cfg.Thinking)
	require.Equal(t, "plan", cfg.PermissionMode)
	require.Equal(t, 5, cfg.MaxTurns)
	require.Equal(t, []string{"Bash", "Read"}, cfg.AllowedTools)
	require.Equal(t, "bar", cfg.Env["FOO"])
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigToOptionsAppliesParsedFields(t *testing.T) {
	cfg := &Config{
		Model:          "claude-haiku-4-5-20251001",
		Thinking:       "enabled",
		Effort:         "high",
		PermissionMode: "acceptEdits",
		BackendKind:    "spawn_per_turn",
		MaxTurns:       3,
	}

	opts, err := cfg.ToOptions()
	require.NoError(t, err)

	o := defaultOptions()
	for _, apply := range opts {
		apply(o)
	}

	require.Equal(t, "claude-haiku-4-5-20251001", o.Model)
	require.Equal(t, ThinkingEnabled, o.Thinking)
	require.Equal(t, EffortHigh, o.Effort)
	require.Equal(t, PermissionMode("acceptEdits"), o.PermissionMode)
	require.Equal(t, wire.BackendSpawnPerTurn, o.BackendKind)
	require.Equal(t, 3, o.MaxTurns)
}

func TestConfigToOptionsRejectsUnknownEnumValues(t *testing.T) {
	cfg := &Config{Thinking: "sideways"}
	_, err := cfg.ToOptions()
	require.Error(t, err)
}
