package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthropic-agentcli/agentcli-go/claude"
)

func resetGlobalFlags() {
	globalFlags.configPath = ""
	globalFlags.model = ""
	globalFlags.backendKind = ""
	globalFlags.permissionMode = ""
	globalFlags.systemPrompt = ""
	globalFlags.cwd = ""
	globalFlags.maxTurns = 0
	globalFlags.debug = false
}

func TestBuildOptionsFlagsOverrideConfigFile(t *testing.T) {
	defer resetGlobalFlags()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: claude-haiku-4-5-20251001\nmaxTurns: 2\n"), 0o600))

	globalFlags.configPath = path
	globalFlags.model = "claude-opus-4-6"

	opts, err := buildOptions()
	require.NoError(t, err)

	o := &claude.Options{}
	for _, apply := range opts {
		apply(o)
	}
	require.Equal(t, "claude-opus-4-6", o.Model)
	require.Equal(t, 2, o.MaxTurns)
}

func TestBuildOptionsRejectsUnknownBackend(t *testing.T) {
	defer resetGlobalFlags()
	globalFlags.backendKind = "not-a-backend"

	_, err := buildOptions()
	require.Error(t, err)
}

func TestBuildOptionsRejectsUnknownPermissionMode(t *testing.T) {
	defer resetGlobalFlags()
	globalFlags.permissionMode = "not-a-mode"

	_, err := buildOptions()
	require.Error(t, err)
}

func TestParsePermissionModeFlag(t *testing.T) {
	mode, err := parsePermissionModeFlag("plan")
	require.NoError(t, err)
	require.Equal(t, claude.PermissionModePlan, mode)

	_, err = parsePermissionModeFlag("bogus")
	require.Error(t, err)
}
