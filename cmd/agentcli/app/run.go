package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anthropic-agentcli/agentcli-go/claude"
)

var runFlags struct {
	stream bool
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "send a single prompt and print the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	cmd.Flags().BoolVar(&runFlags.stream, "stream", false, "print every event instead of only the final result")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !runFlags.stream {
		result, err := claude.Run(ctx, args[0], opts...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.ResultText)
		return nil
	}

	stream, err := claude.Query(ctx, args[0], opts...)
	if err != nil {
		return err
	}
	defer stream.Close()

	for event := range stream.Events() {
		if event.Err != nil {
			return event.Err
		}
		printEvent(cmd, event)
	}
	return nil
}

func printEvent(cmd *cobra.Command, event claude.Event) {
	out := cmd.OutOrStdout()
	switch event.Type {
	case claude.TypeAssistant:
		if event.Assistant != nil {
			fmt.Fprint(out, event.Assistant.Text())
		}
	case claude.TypeResult:
		fmt.Fprintln(out)
		if event.Result != nil {
			fmt.Fprintln(out, event.Result.ResultText)
		}
	case claude.TypeSystem:
		if event.System != nil && event.System.Subtype == "error" {
			fmt.Fprintln(cmd.ErrOrStderr(), "error: agent reported a system error")
		}
	}
}
