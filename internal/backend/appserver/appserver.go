// Package appserver implements backend.Backend over a JSON-RPC app-server
// protocol: one child process, one request per turn/control operation, and
// asynchronous item/turn notifications streamed back over stdout. Unlike the primary backend's control protocol,
// requests and notifications share no request_id-keyed envelope beyond the
// bare JSON-RPC "id" field, so this package keeps its own minimal framing
// rather than reusing internal/query.
package appserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropic-agentcli/agentcli-go/internal/backend"
	"github.com/anthropic-agentcli/agentcli-go/internal/backend/eventbus"
	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// DefaultControlTimeout bounds how long a request awaits its matching
// response before returning a timeout error.
const DefaultControlTimeout = 60 * time.Second

// NewTransport is the test seam; production callers leave it nil.
type NewTransport func(cfg transport.Config) transport.Transport

// Backend drives the JSON-RPC app-server protocol.
type Backend struct {
	newTransport NewTransport
	log          zerolog.Logger
}

// New constructs the app-server backend. A zero Logger disables logging.
func New(log zerolog.Logger) *Backend { return &Backend{log: log} }

// WithTransportFactory overrides how the underlying transport is
// constructed, the seam unit tests use to inject transport.Fake.
func (b *Backend) WithTransportFactory(f NewTransport) *Backend {
	b.newTransport = f
	return b
}

func (b *Backend) Kind() wire.BackendKind { return wire.BackendAppServer }

func (b *Backend) Capabilities() wire.Capabilities { return wire.AppServerCapabilities() }

// ValidateOptions rejects option fields that depend on a capability this
// backend's Capabilities() reports as unsupported.
func (b *Backend) ValidateOptions(opts backend.Options) []string {
	var unsupported []string
	if len(opts.Hooks) > 0 {
		unsupported = append(unsupported, "Hooks (app-server backend has no hook protocol)")
	}
	if len(opts.ToolServers) > 0 {
		unsupported = append(unsupported, "ToolServers (app-server backend has no SDK-MCP routing)")
	}
	if opts.Continue && opts.SessionID != "" {
		unsupported = append(unsupported, "Continue+SessionID (mutually exclusive)")
	}
	return unsupported
}

func (b *Backend) buildTransport(opts backend.Options) transport.Transport {
	cfg := transport.Config{
		Command:      opts.Executable,
		Dir:          opts.CWD,
		Entrypoint:   "sdk-go-appserver",
		Version:      opts.Version,
		Logger:       b.log,
		UID:          opts.UID,
		Debug:        opts.Debug,
		MaxLineBytes: opts.MaxBufferSize,
		Args:         append([]string{"--app-server"}, opts.ExtraArgs...),
	}
	if len(opts.Env) > 0 {
		cfg.Env = append(os.Environ(), envPairs(opts.Env)...)
	}
	if b.newTransport != nil {
		return b.newTransport(cfg)
	}
	return transport.New(cfg)
}

func envPairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

// CreateSession spawns the child, connects the transport, and performs the
// protocol's initialize round trip before returning a ready SessionHandle.
func (b *Backend) CreateSession(ctx context.Context, opts backend.Options) (backend.SessionHandle, error) {
	t := b.buildTransport(opts)
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}

	s := &session{
		t:                 t,
		log:               b.log,
		bus:               eventbus.New(0),
		pending:           make(map[int64]chan rpcEnvelope),
		permissionHandler: opts.PermissionHandler,
	}
	go s.readLoop()

	params := map[string]any{}
	if opts.Model != "" {
		params["model"] = opts.Model
	}
	if opts.SessionID != "" {
		params["sessionId"] = opts.SessionID
	}
	if opts.Continue {
		params["continue"] = true
	}
	raw, err := s.call(ctx, "initialize", params, DefaultControlTimeout)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.serverInfoMu.Lock()
	s.serverInfo = raw
	s.serverInfoMu.Unlock()

	return s, nil
}

// OneShotQuery runs a single prompt to completion and tears the process
// down once the response stream ends.
func (b *Backend) OneShotQuery(ctx context.Context, prompt wire.TextOrBlocks, opts backend.Options) (<-chan backend.Envelope, error) {
	sess, err := b.CreateSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := sess.SendMessage(ctx, prompt); err != nil {
		_ = sess.Close()
		return nil, err
	}
	inner := sess.ReceiveResponse(ctx)
	out := make(chan backend.Envelope, 16)
	go func() {
		defer close(out)
		defer func() { _ = sess.Close() }()
		for env := range inner {
			out <- env
		}
	}()
	return out, nil
}

var _ backend.Backend = (*Backend)(nil)

// ─── JSON-RPC framing ───────────────────────────────────────────────────────

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type session struct {
	t   transport.Transport
	log zerolog.Logger
	bus *eventbus.Broadcaster

	nextID  atomic.Int64
	pendMu  sync.Mutex
	pending map[int64]chan rpcEnvelope

	serverInfoMu sync.RWMutex
	serverInfo   json.RawMessage

	permissionHandler wire.PermissionHandler

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ backend.SessionHandle = (*session)(nil)

func (s *session) write(env rpcEnvelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("appserver: encode request: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.t.Write(string(raw))
}

// call issues a JSON-RPC request and blocks for its matching response.
func (s *session) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("appserver: encode params: %w", err)
	}

	ch := make(chan rpcEnvelope, 1)
	s.pendMu.Lock()
	s.pending[id] = ch
	s.pendMu.Unlock()

	if err := s.write(rpcEnvelope{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}); err != nil {
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultControlTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("appserver: %s: %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
		return nil, ctx.Err()
	case <-timer.C:
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
		return nil, fmt.Errorf("appserver: request %q timed out after %s", method, timeout)
	}
}

// notify issues a fire-and-forget JSON-RPC request (no id, no reply
// expected).
func (s *session) notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("appserver: encode params: %w", err)
	}
	return s.write(rpcEnvelope{JSONRPC: "2.0", Method: method, Params: raw})
}

func (s *session) SendMessage(ctx context.Context, content wire.TextOrBlocks) error {
	text := content.Text
	if text == "" {
		for _, blk := range content.Blocks {
			if blk.Type == wire.BlockText {
				text += blk.Text
			}
		}
	}
	return s.notify("sendMessage", map[string]any{"message": text})
}

func (s *session) ReceiveMessages(ctx context.Context) <-chan backend.Envelope {
	return s.subscribe(ctx, false)
}

func (s *session) ReceiveResponse(ctx context.Context) <-chan backend.Envelope {
	return s.subscribe(ctx, true)
}

func (s *session) subscribe(ctx context.Context, stopAfterResult bool) <-chan backend.Envelope {
	sub := s.bus.Subscribe()
	out := make(chan backend.Envelope, 16)
	go func() {
		defer close(out)
		defer s.bus.Unsubscribe(sub)
		for {
			select {
			case env, ok := <-sub.Ch:
				if !ok {
					if sub.Lagged() {
						select {
						case out <- backend.Envelope{Err: sub.Err()}:
						case <-ctx.Done():
						}
					}
					return
				}
				out <- env
				if stopAfterResult && env.Err == nil && env.Message.Type == wire.TypeResult {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SendControlRequest maps the backend-agnostic control subtypes onto
// this protocol's method names. Unsupported subtypes return a plain error
// naming the subtype rather than reaching the transport.
func (s *session) SendControlRequest(ctx context.Context, subtype string, fields map[string]any, timeout time.Duration) (json.RawMessage, error) {
	switch subtype {
	case wire.SubtypeInterrupt:
		return s.call(ctx, "interrupt", fields, timeout)
	default:
		return nil, fmt.Errorf("appserver: unsupported control subtype %q", subtype)
	}
}

func (s *session) ServerInfo() (json.RawMessage, bool) {
	s.serverInfoMu.RLock()
	defer s.serverInfoMu.RUnlock()
	return s.serverInfo, s.serverInfo != nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.t.EndInput()
		s.closeErr = s.t.Close()
		s.bus.Close()
	})
	return s.closeErr
}

// readLoop demultiplexes stdout lines into RPC responses (delivered to the
// pending waiter) and item/turn notifications (published to the
// broadcaster), recovering from any panic in translation so a malformed
// line never kills the loop.
func (s *session) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			s.bus.Publish(backend.Envelope{Err: fmt.Errorf("appserver: reader panic: %v", r)})
		}
		s.bus.Close()
	}()

	for line := range s.t.ReadMessages() {
		if line.Err != nil {
			if line.Fatal {
				s.bus.Publish(backend.Envelope{Err: line.Err})
				return
			}
			s.bus.Publish(backend.Envelope{Err: line.Err})
			continue
		}
		s.handleLine(line.Value)
	}
}

func (s *session) handleLine(raw json.RawMessage) {
	var env rpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.bus.Publish(backend.Envelope{Err: fmt.Errorf("appserver: decode line: %w", err)})
		return
	}

	if env.Method == "" && env.ID != nil {
		s.pendMu.Lock()
		ch, ok := s.pending[*env.ID]
		if ok {
			delete(s.pending, *env.ID)
		}
		s.pendMu.Unlock()
		if ok {
			ch <- env
		}
		return
	}

	switch env.Method {
	case "item.started", "item.completed":
		s.handleItemEvent(env.Method, env.Params)
	case "turn.completed":
		s.handleTurnCompleted(env.Params)
	case "turn.failed":
		s.handleTurnFailed(env.Params)
	case "requestApproval":
		s.handleRequestApproval(env)
	default:
		// Forward-compatible: unknown notifications are dropped, not fatal.
	}
}

type itemEventParams struct {
	Item struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

func (s *session) handleItemEvent(method string, raw json.RawMessage) {
	var p itemEventParams
	if err := json.Unmarshal(raw, &p); err != nil {
		s.bus.Publish(backend.Envelope{Err: fmt.Errorf("appserver: decode %s: %w", method, err)})
		return
	}
	switch p.Item.Type {
	case "agent_message":
		msg := wire.Message{
			Type: wire.TypeAssistant,
			Assistant: &wire.AssistantMessage{
				Content: []wire.ContentBlock{{Type: wire.BlockText, Text: p.Item.Text}},
			},
		}
		s.bus.Publish(backend.Envelope{Message: msg})
	case "reasoning":
		msg := wire.Message{
			Type: wire.TypeAssistant,
			Assistant: &wire.AssistantMessage{
				Content: []wire.ContentBlock{{Type: wire.BlockThinking, Thinking: p.Item.Text}},
			},
		}
		s.bus.Publish(backend.Envelope{Message: msg})
	}
}

type turnCompletedParams struct {
	Usage        *wire.Usage `json:"usage,omitempty"`
	TotalCostUSD *float64    `json:"totalCostUsd,omitempty"`
	SessionID    string      `json:"sessionId,omitempty"`
}

func (s *session) handleTurnCompleted(raw json.RawMessage) {
	var p turnCompletedParams
	if err := json.Unmarshal(raw, &p); err != nil {
		s.bus.Publish(backend.Envelope{Err: fmt.Errorf("appserver: decode turn.completed: %w", err)})
		return
	}
	s.bus.Publish(backend.Envelope{Message: wire.Message{
		Type: wire.TypeResult,
		Result: &wire.Result{
			Subtype:      "success",
			SessionID:    p.SessionID,
			Usage:        p.Usage,
			TotalCostUSD: p.TotalCostUSD,
		},
	}})
}

type turnFailedParams struct {
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s *session) handleTurnFailed(raw json.RawMessage) {
	var p turnFailedParams
	if err := json.Unmarshal(raw, &p); err != nil {
		s.bus.Publish(backend.Envelope{Err: fmt.Errorf("appserver: decode turn.failed: %w", err)})
		return
	}
	s.bus.Publish(backend.Envelope{Message: wire.Message{
		Type: wire.TypeResult,
		Result: &wire.Result{
			Subtype:    "error",
			SessionID:  p.SessionID,
			IsError:    true,
			ResultText: p.Error,
		},
	}})
}

type requestApprovalParams struct {
	ToolCall struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"toolCall"`
}

// handleRequestApproval replies {"decision":"accept"|"decline"}. This
// protocol has no updatedInput/updatedPermissions channel, so a
// PermissionHandler's richer PermissionResult fields are mapped down to a
// plain accept/decline.
func (s *session) handleRequestApproval(env rpcEnvelope) {
	var p requestApprovalParams
	if err := json.Unmarshal(env.Params, &p); err != nil || env.ID == nil {
		return
	}
	decision := "accept"
	if s.permissionHandler != nil {
		result := s.permissionHandler(p.ToolCall.Name, p.ToolCall.Input, wire.PermissionContext{ToolUseID: p.ToolCall.ID})
		if result.Behavior == wire.PermissionBehaviorDeny {
			decision = "decline"
		}
	}
	_ = s.write(rpcEnvelope{
		JSONRPC: "2.0",
		ID:      env.ID,
		Result:  mustMarshal(map[string]any{"decision": decision}),
	})
}

func mustMarshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
