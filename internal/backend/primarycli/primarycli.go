// Package primarycli implements backend.Backend over the long-lived
// bidirectional JSON-lines protocol: one child process, stdin/stdout
// framed as newline-delimited JSON, and the control sub-protocol
// multiplexed through internal/query.
package primarycli

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anthropic-agentcli/agentcli-go/internal/backend"
	"github.com/anthropic-agentcli/agentcli-go/internal/query"
	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// DefaultEntrypoint names this SDK build in the CLAUDE_CODE_ENTRYPOINT
// environment variable.
const DefaultEntrypoint = "sdk-go"

// NewTransport is a seam tests replace to inject a transport.Fake instead of
// spawning a real CLI binary; production callers leave it nil and get a
// real transport.Process. CLI discovery and argument assembly are out of
// scope for this backend: Config.Args is baseProtocolArgs followed by the
// options bundle's ExtraArgs, and Config.Command falls back to "claude"
// when no executable is set.
type NewTransport func(cfg transport.Config) transport.Transport

// Backend is the primary backend.
type Backend struct {
	newTransport NewTransport
	log          zerolog.Logger
}

// New constructs the primary backend. A zero Logger disables logging.
func New(log zerolog.Logger) *Backend {
	return &Backend{log: log}
}

// WithTransportFactory overrides how the underlying transport is
// constructed, the seam unit tests use to inject transport.Fake.
func (b *Backend) WithTransportFactory(f NewTransport) *Backend {
	b.newTransport = f
	return b
}

func (b *Backend) Kind() wire.BackendKind { return wire.BackendPrimary }

func (b *Backend) Capabilities() wire.Capabilities { return wire.PrimaryCapabilities() }

// ValidateOptions rejects option combinations the primary CLI itself
// rejects, so the conflict surfaces before a process is ever spawned.
func (b *Backend) ValidateOptions(opts backend.Options) []string {
	var unsupported []string
	if opts.Continue && opts.SessionID != "" {
		unsupported = append(unsupported, "Continue+SessionID (mutually exclusive --continue/--resume)")
	}
	if opts.ForkSession && opts.SessionID == "" && !opts.Continue {
		unsupported = append(unsupported, "ForkSession requires SessionID or Continue")
	}
	return unsupported
}

// baseProtocolArgs are the flags required to speak the bidirectional
// newline-delimited JSON protocol this backend implements; they are not a
// user option and are always present, ahead of any caller-supplied
// ExtraArgs.
var baseProtocolArgs = []string{
	"--output-format", "stream-json",
	"--input-format", "stream-json",
	"--verbose",
}

func (b *Backend) buildTransport(opts backend.Options) transport.Transport {
	cfg := transport.Config{
		Command:      opts.Executable,
		Dir:          opts.CWD,
		Entrypoint:   DefaultEntrypoint,
		Version:      opts.Version,
		Logger:       b.log,
		UID:          opts.UID,
		Debug:        opts.Debug,
		MaxLineBytes: opts.MaxBufferSize,
		Args:         append(append([]string{}, baseProtocolArgs...), opts.ExtraArgs...),
	}
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if len(opts.Env) > 0 {
		cfg.Env = os.Environ()
		for k, v := range opts.Env {
			cfg.Env = append(cfg.Env, k+"="+v)
		}
	}
	if b.newTransport != nil {
		return b.newTransport(cfg)
	}
	return transport.New(cfg)
}

func initFields(opts backend.Options) map[string]any {
	fields := map[string]any{}
	if opts.SystemPrompt != "" {
		fields["system_prompt"] = opts.SystemPrompt
	}
	if opts.AppendSystemPrompt != "" {
		fields["append_system_prompt"] = opts.AppendSystemPrompt
	}
	if opts.Model != "" {
		fields["model"] = opts.Model
	}
	if len(opts.Agents) > 0 {
		fields["agents"] = opts.Agents
	}
	if opts.Sandbox != nil {
		fields["sandbox"] = opts.Sandbox
	}
	if opts.OutputFormat != nil {
		fields["output_format"] = opts.OutputFormat
	}
	if len(opts.SettingSources) > 0 {
		fields["setting_sources"] = opts.SettingSources
	}
	if opts.PermissionMode != "" {
		fields["permission_mode"] = opts.PermissionMode
	}
	if len(opts.AllowedTools) > 0 {
		fields["allowed_tools"] = opts.AllowedTools
	}
	if len(opts.DisallowedTools) > 0 {
		fields["disallowed_tools"] = opts.DisallowedTools
	}
	if opts.MaxTurns > 0 {
		fields["max_turns"] = opts.MaxTurns
	}
	return fields
}

// session adapts *query.Query to backend.SessionHandle.
type session struct {
	q *query.Query
}

func (s *session) SendMessage(ctx context.Context, content wire.TextOrBlocks) error {
	return s.q.SendMessage(wire.UserMessage{Content: content, UUID: uuid.NewString()})
}

func (s *session) ReceiveMessages(ctx context.Context) <-chan backend.Envelope {
	return adapt(s.q.ReceiveMessages(ctx))
}

func (s *session) ReceiveResponse(ctx context.Context) <-chan backend.Envelope {
	return adapt(s.q.ReceiveResponse(ctx))
}

func (s *session) SendControlRequest(ctx context.Context, subtype string, fields map[string]any, timeout time.Duration) (json.RawMessage, error) {
	return s.q.SendControlRequest(ctx, subtype, fields, timeout)
}

func (s *session) ServerInfo() (json.RawMessage, bool) { return s.q.ServerInfo() }

func (s *session) Close() error { return s.q.Close() }

func adapt(in <-chan query.Envelope) <-chan backend.Envelope {
	out := make(chan backend.Envelope, 16)
	go func() {
		defer close(out)
		for env := range in {
			out <- backend.Envelope{Message: env.Message, Err: env.Err}
		}
	}()
	return out
}

// CreateSession spawns the child, connects the transport, and runs the
// initialize round trip before returning a ready SessionHandle.
func (b *Backend) CreateSession(ctx context.Context, opts backend.Options) (backend.SessionHandle, error) {
	callbacks, hooksConfig := query.NewCallbackTables(opts.PermissionHandler, opts.Hooks, opts.ToolServers)

	t := b.buildTransport(opts)
	q := query.New(t, callbacks, b.log)
	if err := q.Connect(ctx); err != nil {
		return nil, err
	}

	timeout := opts.InitTimeout
	if timeout <= 0 {
		timeout = query.DefaultControlTimeout
	}
	extra := initFields(opts)
	if opts.SessionID != "" {
		extra["resume"] = opts.SessionID
	}
	if opts.Continue {
		extra["continue"] = true
	}
	if opts.ForkSession {
		extra["fork_session"] = true
	}
	if err := q.Initialize(ctx, hooksConfig, extra, timeout); err != nil {
		_ = q.Close()
		return nil, err
	}

	return &session{q: q}, nil
}

// OneShotQuery runs a single prompt to completion over an implicit session,
// tearing the child process down once the response stream ends.
func (b *Backend) OneShotQuery(ctx context.Context, prompt wire.TextOrBlocks, opts backend.Options) (<-chan backend.Envelope, error) {
	sess, err := b.CreateSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	s := sess.(*session)
	// Subscribe before sending: the session only fans out messages that
	// arrive after a subscriber joins.
	inner := s.ReceiveResponse(ctx)
	if err := s.SendMessage(ctx, prompt); err != nil {
		_ = s.Close()
		return nil, err
	}

	out := make(chan backend.Envelope, 16)
	go func() {
		defer close(out)
		defer func() { _ = s.Close() }()
		for env := range inner {
			out <- env
		}
	}()
	return out, nil
}

var _ backend.Backend = (*Backend)(nil)
