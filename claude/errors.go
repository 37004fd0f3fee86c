package claude

import (
	"fmt"

	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
)

// CLINotFoundError is returned when the configured agent binary cannot be
// found or executed.
type CLINotFoundError = transport.CLINotFoundError

// ConnectionError wraps a stdin/stdout I/O failure against the subprocess.
type ConnectionError = transport.ConnectionError

// ProcessError is returned when the subprocess exits with a non-zero
// status; Stderr carries the tail of its stderr output when it was piped.
type ProcessError = transport.ProcessError

// CLIJSONDecodeError is surfaced inline on a message stream when a line
// from the subprocess cannot be decoded as JSON; it does not end the
// stream.
type CLIJSONDecodeError = transport.JSONDecodeError

// UnsupportedFeatureError is returned when a control-plane method is called
// against a backend whose Capabilities don't include it.
type UnsupportedFeatureError struct {
	Feature string
	Backend string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("claude: %s backend does not support %s", e.Backend, e.Feature)
}

// UnsupportedOptionsError is returned by Query/Run/Client.Connect when the
// selected backend rejects one or more configured Options before a process
// is ever spawned.
type UnsupportedOptionsError struct {
	Backend string
	Options []string
}

func (e *UnsupportedOptionsError) Error() string {
	return fmt.Sprintf("claude: %s backend rejects options: %v", e.Backend, e.Options)
}

// NotConnectedError is returned by Client methods called before Connect
// succeeds or after Disconnect.
type NotConnectedError struct{}

func (e *NotConnectedError) Error() string { return "claude: client is not connected" }
