package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/anthropic-agentcli/agentcli-go/internal/backend"
	"github.com/anthropic-agentcli/agentcli-go/internal/backend/appserver"
	"github.com/anthropic-agentcli/agentcli-go/internal/backend/primarycli"
	"github.com/anthropic-agentcli/agentcli-go/internal/backend/spawnperturn"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// selectBackend constructs the backend.Backend implementation for o's
// BackendKind. The primary backend carries CLI discovery defaults (e.g. a
// "claude" executable fallback); AppServer and SpawnPerTurn have no sane
// default executable and require the caller to set one via
// WithClaudeExecutable.
func selectBackend(o *Options) backend.Backend {
	log := o.logger()
	switch o.BackendKind {
	case wire.BackendAppServer:
		b := appserver.New(log)
		if o.testTransport != nil {
			b.WithTransportFactory(o.testTransport)
		}
		return b
	case wire.BackendSpawnPerTurn:
		b := spawnperturn.New(log)
		if o.testTransport != nil {
			b.WithTransportFactory(o.testTransport)
		}
		return b
	default:
		b := primarycli.New(log)
		if o.testTransport != nil {
			b.WithTransportFactory(o.testTransport)
		}
		return b
	}
}

func (o *Options) logger() zerolog.Logger {
	if o.Debug {
		return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	}
	return zerolog.Nop()
}

// toBackendOptions translates the public Options into the backend-agnostic
// bundle every Backend validates. CLI argument assembly for
// fields the control protocol doesn't carry lives in Options.buildArgs,
// kept out of the core
func toBackendOptions(o *Options) backend.Options {
	return backend.Options{
		Model:              o.Model,
		SystemPrompt:       o.SystemPrompt,
		AppendSystemPrompt: o.AppendSystemPrompt,
		SessionID:          o.SessionID,
		Continue:           o.Continue,
		ForkSession:        o.ForkSession,
		AllowedTools:       o.AllowedTools,
		DisallowedTools:    o.DisallowedTools,
		MaxTurns:           o.MaxTurns,
		PermissionMode:     o.PermissionMode,
		PermissionHandler:  wire.PermissionHandler(o.PermissionHandler),
		Hooks:              o.Hooks,
		ToolServers:        o.ToolServers,
		Agents:             o.Agents,
		Sandbox:            o.Sandbox,
		OutputFormat:       o.OutputFormat,
		SettingSources:     o.SettingSources,
		Env:                o.buildEnv(),
		CWD:                o.CWD,
		Executable:         o.ClaudeExecutable,
		ExtraArgs:          o.buildArgs(),
		Debug:              o.Debug,
		Version:            SDKVersion,
	}
}

// ─── One-shot query ─────────────────────────────────────────────────────────

// Stream represents an active conversation with the agent CLI, backed by a
// live Session. Call Events() to range over the stream of events; the
// channel closes when the session ends, the subprocess exits, or the
// context passed to Query/NewClient's Connect is cancelled.
//
// Control methods (SetModel, SetPermissionMode, Interrupt, RewindFiles,
// GetMCPStatus) may be called concurrently from any goroutine while the
// stream is active, subject to the backend's declared Capabilities.
type Stream struct {
	sess   backend.SessionHandle
	caps   wire.Capabilities
	kind   wire.BackendKind
	events chan Event

	closeOnce sync.Once
}

func newStream(ctx context.Context, sess backend.SessionHandle, caps wire.Capabilities, kind wire.BackendKind) *Stream {
	s := &Stream{sess: sess, caps: caps, kind: kind, events: make(chan Event, 16)}
	in := sess.ReceiveMessages(ctx)
	go func() {
		defer close(s.events)
		for env := range in {
			s.events <- toEvent(env)
		}
	}()
	return s
}

func toEvent(env backend.Envelope) Event {
	if env.Err != nil {
		return Event{Err: env.Err}
	}
	m := env.Message
	return Event{
		Type:        m.Type,
		User:        m.User,
		Assistant:   m.Assistant,
		System:      m.System,
		Result:      m.Result,
		StreamEvent: m.StreamEvent,
	}
}

// Events returns the receive-only channel of events streamed from the
// subprocess. The channel is closed when the session ends. Callers should
// always range over the channel until it closes.
func (s *Stream) Events() <-chan Event { return s.events }

// SendMessage writes another user turn onto the active session, enabling
// multi-turn use of a Stream returned from Query.
func (s *Stream) SendMessage(ctx context.Context, prompt string) error {
	return s.sess.SendMessage(ctx, wire.TextOrBlocks{Text: prompt})
}

// SetModel asks the backend to switch to a different model mid-session.
// Requires the RuntimeConfigChanges capability.
func (s *Stream) SetModel(ctx context.Context, model string) error {
	if !s.caps.RuntimeConfigChanges {
		return &UnsupportedFeatureError{Feature: "set_model", Backend: string(s.kind)}
	}
	_, err := s.sess.SendControlRequest(ctx, wire.SubtypeSetModel, map[string]any{"model": model}, 0)
	return err
}

// SetPermissionMode asks the backend to change the permission mode
// mid-session. Requires the RuntimeConfigChanges capability.
func (s *Stream) SetPermissionMode(ctx context.Context, mode PermissionMode) error {
	if !s.caps.RuntimeConfigChanges {
		return &UnsupportedFeatureError{Feature: "set_permission_mode", Backend: string(s.kind)}
	}
	_, err := s.sess.SendControlRequest(ctx, wire.SubtypeSetPermissionMode, map[string]any{
		"permission_mode": string(mode),
	}, 0)
	return err
}

// Interrupt asks the backend to stop the in-flight turn. Requires the
// Interrupt capability.
func (s *Stream) Interrupt(ctx context.Context) error {
	if !s.caps.Interrupt {
		return &UnsupportedFeatureError{Feature: "interrupt", Backend: string(s.kind)}
	}
	_, err := s.sess.SendControlRequest(ctx, wire.SubtypeInterrupt, nil, 0)
	return err
}

// RewindFiles asks the backend to roll back file edits made during the
// session to a prior checkpoint. Requires the ControlProtocol capability.
func (s *Stream) RewindFiles(ctx context.Context, fields map[string]any) error {
	if !s.caps.ControlProtocol {
		return &UnsupportedFeatureError{Feature: "rewind_files", Backend: string(s.kind)}
	}
	_, err := s.sess.SendControlRequest(ctx, wire.SubtypeRewindFiles, fields, 0)
	return err
}

// GetMCPStatus queries the backend's view of configured MCP servers.
// Requires the ControlProtocol capability.
func (s *Stream) GetMCPStatus(ctx context.Context) (json.RawMessage, error) {
	if !s.caps.ControlProtocol {
		return nil, &UnsupportedFeatureError{Feature: "mcp_status", Backend: string(s.kind)}
	}
	return s.sess.SendControlRequest(ctx, wire.SubtypeMCPStatus, nil, 0)
}

// ServerInfo returns the cached initialize response, if any.
func (s *Stream) ServerInfo() (json.RawMessage, bool) { return s.sess.ServerInfo() }

// Close tears down the underlying session. Idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.sess.Close() })
	return err
}

// Query runs the agent CLI with the given prompt and returns a *Stream for
// real-time event processing. The Stream wraps a live, multi-turn-capable
// session: call Stream.SendMessage to continue the conversation, or let the
// stream run to completion and Close it once done.
//
// Example, streaming all events:
//
//	stream, err := claude.Query(ctx, "What is 2+2?")
//	if err != nil {... }
//	for event := range stream.Events() {
//	    switch event.Type {
//	    case claude.TypeAssistant:
//	        fmt.Print(event.Assistant.Text())
//	    case claude.TypeResult:
//	        fmt.Println("session:", event.Result.SessionID)
//	    }
//	}
func Query(ctx context.Context, prompt string, opts ...Option) (*Stream, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	b := selectBackend(o)
	bopts := toBackendOptions(o)
	if unsupported := b.ValidateOptions(bopts); len(unsupported) > 0 {
		return nil, &UnsupportedOptionsError{Backend: string(b.Kind()), Options: unsupported}
	}

	sess, err := b.CreateSession(ctx, bopts)
	if err != nil {
		return nil, err
	}
	caps := b.Capabilities()
	var stream *Stream
	if caps.PersistentSession {
		// A live session only fans out what arrives after a subscriber
		// joins, so subscribe before the prompt goes out.
		stream = newStream(ctx, sess, caps, b.Kind())
	}
	if err := sess.SendMessage(ctx, wire.TextOrBlocks{Text: prompt}); err != nil {
		_ = sess.Close()
		return nil, err
	}
	if stream == nil {
		stream = newStream(ctx, sess, caps, b.Kind())
	}
	return stream, nil
}

// Run is a convenience wrapper around Query that blocks until the agent
// finishes and returns only the final Result.
//
// Intermediate events (streaming deltas, system messages, rate-limit
// events) are discarded. Use Query directly if you need to process them.
//
// Errors from the subprocess itself (bad flags, auth failures, crashes) are
// surfaced as Go errors so callers always get a meaningful message.
//
// Example:
//
//	result, err := claude.Run(ctx, "What is 2+2?",
//	    claude.WithModel("claude-haiku-4-5-20251001"),
//	    claude.WithThinking(claude.ThinkingDisabled),
//	)
//	if err != nil {... }
//	fmt.Println(result.ResultText)
//	fmt.Println("session:", result.SessionID)
func Run(ctx context.Context, prompt string, opts ...Option) (*Result, error) {
	stream, err := Query(ctx, prompt, opts...)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var lastErr error
	for event := range stream.Events() {
		if event.Err != nil {
			lastErr = event.Err
			continue
		}
		switch event.Type {
		case TypeResult:
			r := event.Result
			if r.IsError {
				return nil, fmt.Errorf("claude: agent error (%s)", r.Subtype)
			}
			return r, nil
		case TypeSystem:
			if event.System != nil && event.System.Subtype == "error" {
				return nil, fmt.Errorf("claude: %s", event.System.Subtype)
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("claude: agent finished without a result message: %w", lastErr)
	}
	return nil, fmt.Errorf("claude: agent finished without a result message")
}

// ─── Multi-turn client facade ──────────────────────────────────────────────

// ClientState is the Client's position in the connection state machine
// : Unconnected → Connecting → Connected → Closing →
// Unconnected.
type ClientState int32

const (
	ClientUnconnected ClientState = iota
	ClientConnecting
	ClientConnected
	ClientClosing
)

func (s ClientState) String() string {
	switch s {
	case ClientUnconnected:
		return "unconnected"
	case ClientConnecting:
		return "connecting"
	case ClientConnected:
		return "connected"
	case ClientClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Client is the long-lived multi-turn facade: it
// holds one Backend plus an optional active Session, routing Query to the
// backend's one-shot path and capability-gating every control-plane method
// before it ever touches the transport.
type Client struct {
	mu      sync.Mutex
	state   atomic.Int32
	backend backend.Backend
	sess    backend.SessionHandle
	opts    *Options
}

// NewClient constructs a Client in the Unconnected state. Connect must be
// called before any other method.
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &Client{backend: selectBackend(o), opts: o}
	c.state.Store(int32(ClientUnconnected))
	return c
}

// State reports the client's current connection state.
func (c *Client) State() ClientState { return ClientState(c.state.Load()) }

// Connect validates the configured options against the backend and spawns
// the session. Unsupported options abort with UnsupportedOptionsError
// before any process is spawned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ClientState(c.state.Load()) != ClientUnconnected {
		return fmt.Errorf("claude: client already connected or connecting")
	}
	c.state.Store(int32(ClientConnecting))

	bopts := toBackendOptions(c.opts)
	if unsupported := c.backend.ValidateOptions(bopts); len(unsupported) > 0 {
		c.state.Store(int32(ClientUnconnected))
		return &UnsupportedOptionsError{Backend: string(c.backend.Kind()), Options: unsupported}
	}

	sess, err := c.backend.CreateSession(ctx, bopts)
	if err != nil {
		c.state.Store(int32(ClientUnconnected))
		return err
	}
	c.sess = sess
	c.state.Store(int32(ClientConnected))
	return nil
}

// requireConnected returns NotConnectedError unless the client is Connected.
func (c *Client) requireConnected() error {
	if ClientState(c.state.Load()) != ClientConnected {
		return &NotConnectedError{}
	}
	return nil
}

// SendMessage writes one user turn onto the active session.
func (c *Client) SendMessage(ctx context.Context, prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireConnected(); err != nil {
		return err
	}
	return c.sess.SendMessage(ctx, wire.TextOrBlocks{Text: prompt})
}

// ReceiveMessages streams every message from the active session until it
// ends.
func (c *Client) ReceiveMessages(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	return adaptEvents(c.sess.ReceiveMessages(ctx)), nil
}

// ReceiveResponse streams messages up to and including the next Result,
// then stops.
func (c *Client) ReceiveResponse(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	return adaptEvents(c.sess.ReceiveResponse(ctx)), nil
}

func adaptEvents(in <-chan backend.Envelope) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for env := range in {
			out <- toEvent(env)
		}
	}()
	return out
}

// Interrupt asks the backend to stop the in-flight turn. Requires the
// Interrupt capability.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.controlRequest(ctx, "interrupt", wire.SubtypeInterrupt, c.backend.Capabilities().Interrupt, nil)
}

// SetPermissionMode asks the backend to change the permission mode
// mid-session. Requires the RuntimeConfigChanges capability.
func (c *Client) SetPermissionMode(ctx context.Context, mode PermissionMode) error {
	return c.controlRequest(ctx, "set_permission_mode", wire.SubtypeSetPermissionMode,
		c.backend.Capabilities().RuntimeConfigChanges, map[string]any{"permission_mode": string(mode)})
}

// SetModel asks the backend to switch models mid-session. Requires the
// RuntimeConfigChanges capability.
func (c *Client) SetModel(ctx context.Context, model string) error {
	return c.controlRequest(ctx, "set_model", wire.SubtypeSetModel,
		c.backend.Capabilities().RuntimeConfigChanges, map[string]any{"model": model})
}

// RewindFiles asks the backend to roll back file edits to a prior
// checkpoint. Requires the ControlProtocol capability.
func (c *Client) RewindFiles(ctx context.Context, fields map[string]any) error {
	return c.controlRequest(ctx, "rewind_files", wire.SubtypeRewindFiles,
		c.backend.Capabilities().ControlProtocol, fields)
}

// GetMCPStatus queries the backend's view of configured MCP servers.
// Requires the ControlProtocol capability.
func (c *Client) GetMCPStatus(ctx context.Context) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.backend.Capabilities().ControlProtocol {
		return nil, &UnsupportedFeatureError{Feature: "get_mcp_status", Backend: string(c.backend.Kind())}
	}
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	return c.sess.SendControlRequest(ctx, wire.SubtypeMCPStatus, nil, 0)
}

func (c *Client) controlRequest(ctx context.Context, feature, subtype string, allowed bool, fields map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !allowed {
		return &UnsupportedFeatureError{Feature: feature, Backend: string(c.backend.Kind())}
	}
	if err := c.requireConnected(); err != nil {
		return err
	}
	_, err := c.sess.SendControlRequest(ctx, subtype, fields, 0)
	return err
}

// Disconnect closes the active session and returns the client to the
// Unconnected state. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ClientState(c.state.Load()) == ClientUnconnected {
		return nil
	}
	c.state.Store(int32(ClientClosing))
	var err error
	if c.sess != nil {
		err = c.sess.Close()
	}
	c.state.Store(int32(ClientUnconnected))
	return err
}
