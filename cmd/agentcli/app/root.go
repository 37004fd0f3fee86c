// Package app wires the agentcli cobra command tree: persistent flags shared
// by every subcommand, plus the "run" and "chat" subcommands themselves.
package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anthropic-agentcli/agentcli-go/claude"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// globalFlags holds the persistent flag values read by every subcommand.
// Kept as a package-level struct rather than threading cobra.Command through
// every helper, matching the shared-options style of the commands this CLI
// is built from.
var globalFlags struct {
	configPath     string
	model          string
	backendKind    string
	permissionMode string
	systemPrompt   string
	cwd            string
	maxTurns       int
	debug          bool
}

var rootCmd = &cobra.Command{
	Use:   "agentcli",
	Short: "agentcli drives an AI coding-agent CLI as a subprocess",
	Long: `agentcli is a command-line front end for the agentcli-go client library.

It drives the target agent CLI over whichever wire protocol the backend
requires (a long-lived bidirectional session by default) and prints the
resulting conversation to stdout.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd builds the root command and registers its subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().StringVar(&globalFlags.configPath, "config", "", "path to a YAML default-options file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.model, "model", "", "model name (overrides --config)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.backendKind, "backend", "", "backend: primary, app_server, or spawn_per_turn")
	rootCmd.PersistentFlags().StringVar(&globalFlags.permissionMode, "permission-mode", "", "default, acceptEdits, bypassPermissions, or plan")
	rootCmd.PersistentFlags().StringVar(&globalFlags.systemPrompt, "system-prompt", "", "override the agent's system prompt")
	rootCmd.PersistentFlags().StringVar(&globalFlags.cwd, "cwd", "", "working directory for the agent subprocess")
	rootCmd.PersistentFlags().IntVar(&globalFlags.maxTurns, "max-turns", 0, "cap the number of agentic turns")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.debug, "debug", false, "pipe subprocess stderr and enable verbose logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newChatCmd())

	return rootCmd
}

// buildOptions merges a --config file (if given) with the persistent flags,
// flags taking precedence over the file. Flag precedence is expressed by
// appending the flag-derived options after the file's, since later Options
// in the slice are applied last by Query/Run/NewClient.
func buildOptions() ([]claude.Option, error) {
	var opts []claude.Option

	if globalFlags.configPath != "" {
		cfg, err := claude.LoadConfig(globalFlags.configPath)
		if err != nil {
			return nil, err
		}
		fileOpts, err := cfg.ToOptions()
		if err != nil {
			return nil, fmt.Errorf("agentcli: %s: %w", globalFlags.configPath, err)
		}
		opts = append(opts, fileOpts...)
	}

	if globalFlags.model != "" {
		opts = append(opts, claude.WithModel(globalFlags.model))
	}
	if globalFlags.systemPrompt != "" {
		opts = append(opts, claude.WithSystemPrompt(globalFlags.systemPrompt))
	}
	if globalFlags.cwd != "" {
		opts = append(opts, claude.WithCWD(globalFlags.cwd))
	}
	if globalFlags.maxTurns > 0 {
		opts = append(opts, claude.WithMaxTurns(globalFlags.maxTurns))
	}
	if globalFlags.debug {
		opts = append(opts, claude.WithDebug(true))
	}
	if globalFlags.permissionMode != "" {
		mode, err := parsePermissionModeFlag(globalFlags.permissionMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, claude.WithPermissionMode(mode))
	}
	if globalFlags.backendKind != "" {
		kind, err := parseBackendKindFlag(globalFlags.backendKind)
		if err != nil {
			return nil, err
		}
		opts = append(opts, claude.WithBackendKind(kind))
	}

	return opts, nil
}

func parsePermissionModeFlag(s string) (claude.PermissionMode, error) {
	switch claude.PermissionMode(s) {
	case claude.PermissionModeDefault, claude.PermissionModeAcceptEdits,
		claude.PermissionModeBypassPermissions, claude.PermissionModePlan:
		return claude.PermissionMode(s), nil
	default:
		return "", fmt.Errorf("agentcli: unknown --permission-mode %q", s)
	}
}

func parseBackendKindFlag(s string) (wire.BackendKind, error) {
	switch wire.BackendKind(s) {
	case wire.BackendPrimary, wire.BackendAppServer, wire.BackendSpawnPerTurn:
		return wire.BackendKind(s), nil
	default:
		return "", fmt.Errorf("agentcli: unknown --backend %q", s)
	}
}
