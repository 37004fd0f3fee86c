// Package backend declares the Backend/Session contract that lets the
// public claude facade drive any of the three wire protocols uniformly.
// CLI discovery, argument assembly, and option-builder
// concerns belong to each concrete backend and are deliberately left thin
// here; this package only fixes the shape every backend must expose.
package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// Options is the backend-agnostic configuration bundle a Client builds from
// its functional options before handing it to a Backend. Concrete backends
// read only the fields they understand. ValidateOptions reports only the
// fields and combinations each backend explicitly checks; any other field a
// backend does not read is ignored without being reported.
type Options struct {
	Model              string
	SystemPrompt       string
	AppendSystemPrompt string
	SessionID          string
	Continue           bool
	ForkSession        bool
	AllowedTools       []string
	DisallowedTools    []string
	MaxTurns           int
	PermissionMode     wire.PermissionMode
	PermissionHandler  wire.PermissionHandler
	Hooks              map[wire.HookEvent][]wire.HookMatcher
	ToolServers        map[string]*wire.ToolServer
	Agents             map[string]wire.AgentDefinition
	Sandbox            *wire.SandboxSettings
	OutputFormat       *wire.OutputFormat
	SettingSources     []wire.SettingSource
	Env                map[string]string
	CWD                string
	Executable         string
	InitTimeout        time.Duration

	// ExtraArgs carries CLI flags assembled by the public facade from
	// option fields the primary backend does not send through the
	// initialize control request.
	ExtraArgs []string

	// UID drops the child to this uid on Unix before exec, when set.
	UID *uint32

	// MaxBufferSize overrides the transport's per-line buffer cap when
	// non-zero.
	MaxBufferSize int

	// Version is the SDK version string reported to the child through the
	// CLAUDE_AGENT_SDK_VERSION environment variable.
	Version string

	// Debug pipes the child's stderr to the process's own stderr instead of
	// discarding it, matching the transport's stderr-pipe-only-when-debug
	// rule.
	Debug bool
}

// AgentDefinition and SandboxSettings live in wire so both the primary
// backend's initialize payload and the public facade share one definition.

// SessionHandle is the behavioural contract every backend's session must
// satisfy. A Client holds one SessionHandle for the lifetime of
// a multi-turn conversation.
type SessionHandle interface {
	// SendMessage delivers one user turn.
	SendMessage(ctx context.Context, content wire.TextOrBlocks) error

	// ReceiveMessages streams every message until the underlying stream
	// ends.
	ReceiveMessages(ctx context.Context) <-chan Envelope

	// ReceiveResponse streams messages up to and including the next
	// Result, then stops.
	ReceiveResponse(ctx context.Context) <-chan Envelope

	// SendControlRequest issues a control-plane operation. Callers must
	// check Capabilities() first; a SessionHandle is free to return
	// UnsupportedFeature itself as a last-resort guard.
	SendControlRequest(ctx context.Context, subtype string, fields map[string]any, timeout time.Duration) (json.RawMessage, error)

	// ServerInfo returns the cached initialize response, if any.
	ServerInfo() (json.RawMessage, bool)

	// Close performs the backend's shutdown sequence. Idempotent.
	Close() error
}

// Envelope is one item yielded from a SessionHandle's message stream.
type Envelope struct {
	Message wire.Message
	Err     error
}

// Backend drives one wire protocol end to end: one-shot queries and
// multi-turn sessions alike.
type Backend interface {
	// Kind identifies which of the three wire protocols this is.
	Kind() wire.BackendKind

	// Capabilities reports which control-plane features this backend
	// supports; the Client facade gates on these.
	Capabilities() wire.Capabilities

	// ValidateOptions reports every field in opts this backend cannot
	// honour. An empty slice means the options are fully supported.
	ValidateOptions(opts Options) []string

	// OneShotQuery runs a single prompt to completion and streams its
	// messages; the backend owns the implicit session for the turn's
	// lifetime and tears it down once the stream ends.
	OneShotQuery(ctx context.Context, prompt wire.TextOrBlocks, opts Options) (<-chan Envelope, error)

	// CreateSession starts a multi-turn conversation.
	CreateSession(ctx context.Context, opts Options) (SessionHandle, error)
}
