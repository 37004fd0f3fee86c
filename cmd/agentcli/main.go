// Command agentcli is a thin cobra front-end over the claude package: a
// one-shot "run" query and an interactive "chat" REPL against any of the
// three backend wire protocols the library understands.
package main

import (
	"os"

	"github.com/anthropic-agentcli/agentcli-go/cmd/agentcli/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
