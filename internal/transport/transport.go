// Package transport owns the one child process a primary-backend session
// talks to, exposing line-oriented JSON I/O. The Transport
// interface is object-safe so tests can inject an in-memory fake instead of
// spawning a real CLI.
package transport

import (
	"context"
	"encoding/json"
)

// Line is one value yielded from a Transport's read stream: either a parsed
// JSON value, or a terminal/parse error. A line that fails to parse as JSON
// yields Err and does not end the stream by itself. At EOF the channel is
// closed with no final error Line; a stream-ending error (oversized line,
// I/O failure) is signalled by closing the channel after delivering a final
// Line with Err set and Fatal true.
type Line struct {
	Value json.RawMessage
	Err   error
	Fatal bool
}

// Transport wraps a spawned child process. Implementations must guarantee:
// stdin accepts UTF-8 lines terminated by '\n'; stdout yields UTF-8 lines
// that parse as JSON values; stderr is discarded unless a callback or debug
// flag is configured.
type Transport interface {
	// Connect spawns the child and starts its I/O pumps. Must be called
	// exactly once before any other method.
	Connect(ctx context.Context) error

	// Write appends a trailing newline if absent and writes atomically to
	// stdin. Fails with a connection error if stdin is closed.
	Write(line string) error

	// ReadMessages returns a lazy, single-consumer channel of parsed JSON
	// values. The channel closes when the stream ends (EOF, read error, or
	// buffer-cap violation).
	ReadMessages() <-chan Line

	// EndInput closes stdin, letting the child observe EOF and exit
	// cleanly. Idempotent.
	EndInput() error

	// Close ensures stdin is closed, waits up to a bounded grace period for
	// exit, then terminates the child. Idempotent.
	Close() error

	// IsReady reports true after a successful Connect and before Close.
	IsReady() bool
}
