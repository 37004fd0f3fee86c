// Package spawnperturn implements backend.Backend over a spawn-per-turn CLI
// protocol: no long-lived process. Each Session.SendMessage spawns a fresh
// exec.Cmd, streams its stdout as the turn's messages, and exits; a chat id
// captured from the first turn is threaded through subsequent spawns via a
// resume flag so the external CLI can reload its own conversation state.
// Capabilities are all false since there is no live process to carry a
// control protocol.
package spawnperturn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropic-agentcli/agentcli-go/internal/backend"
	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// ResumeFlag is the CLI flag used to pass a prior turn's chat id back in on
// the next spawn. Most spawn-per-turn CLIs use "--resume <id>"; override via
// Backend.WithResumeFlag for CLIs that name it differently.
const ResumeFlag = "--resume"

// NewTransport is the test seam; production callers leave it nil. Each call
// gets a fresh transport instance, one per spawned turn.
type NewTransport func(cfg transport.Config) transport.Transport

// Backend drives a spawn-per-turn CLI.
type Backend struct {
	newTransport NewTransport
	resumeFlag   string
	log          zerolog.Logger
}

// New constructs the spawn-per-turn backend. A zero Logger disables logging.
func New(log zerolog.Logger) *Backend {
	return &Backend{resumeFlag: ResumeFlag, log: log}
}

// WithTransportFactory overrides how each turn's transport is constructed.
func (b *Backend) WithTransportFactory(f NewTransport) *Backend {
	b.newTransport = f
	return b
}

// WithResumeFlag overrides the CLI flag used to resume a prior chat id.
func (b *Backend) WithResumeFlag(flag string) *Backend {
	b.resumeFlag = flag
	return b
}

func (b *Backend) Kind() wire.BackendKind { return wire.BackendSpawnPerTurn }

func (b *Backend) Capabilities() wire.Capabilities { return wire.SpawnPerTurnCapabilities() }

// ValidateOptions rejects option fields that depend on any capability, all
// of which this backend reports false.
func (b *Backend) ValidateOptions(opts backend.Options) []string {
	var unsupported []string
	if len(opts.Hooks) > 0 {
		unsupported = append(unsupported, "Hooks (no control protocol)")
	}
	if len(opts.ToolServers) > 0 {
		unsupported = append(unsupported, "ToolServers (no control protocol)")
	}
	if opts.PermissionHandler != nil {
		unsupported = append(unsupported, "PermissionHandler (no tool approval round trip)")
	}
	return unsupported
}

// CreateSession returns a SessionHandle that spawns one child process per
// SendMessage call; no process is running between turns.
func (b *Backend) CreateSession(ctx context.Context, opts backend.Options) (backend.SessionHandle, error) {
	return &session{backend: b, opts: opts}, nil
}

// OneShotQuery spawns exactly one turn and streams its messages.
func (b *Backend) OneShotQuery(ctx context.Context, prompt wire.TextOrBlocks, opts backend.Options) (<-chan backend.Envelope, error) {
	sess, err := b.CreateSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := sess.SendMessage(ctx, prompt); err != nil {
		return nil, err
	}
	return sess.ReceiveResponse(ctx), nil
}

var _ backend.Backend = (*Backend)(nil)

// session holds the chat id carried across spawns. It has no background
// goroutines between turns; ReceiveMessages/ReceiveResponse only yield data
// while a turn spawned by SendMessage is in flight.
type session struct {
	backend *Backend
	opts    backend.Options

	mu      sync.Mutex
	chatID  string
	current <-chan backend.Envelope
	closed  bool
}

var _ backend.SessionHandle = (*session)(nil)

func (s *session) buildArgs(prompt wire.TextOrBlocks) []string {
	args := append([]string{}, s.opts.ExtraArgs...)
	s.mu.Lock()
	chatID := s.chatID
	s.mu.Unlock()
	if chatID != "" {
		args = append(args, s.backend.resumeFlag, chatID)
	}
	text := prompt.Text
	if text == "" {
		for _, blk := range prompt.Blocks {
			if blk.Type == wire.BlockText {
				text += blk.Text
			}
		}
	}
	return append(args, "--print", text)
}

// SendMessage spawns one child process for this turn. The returned channel
// from ReceiveMessages/ReceiveResponse surfaces that turn's output; calling
// SendMessage again before the previous turn's stream is drained replaces
// it.
func (s *session) SendMessage(ctx context.Context, content wire.TextOrBlocks) error {
	cfg := transport.Config{
		Command:      s.opts.Executable,
		Dir:          s.opts.CWD,
		Entrypoint:   "sdk-go-spawnperturn",
		Version:      s.opts.Version,
		Logger:       s.backend.log,
		UID:          s.opts.UID,
		Debug:        s.opts.Debug,
		MaxLineBytes: s.opts.MaxBufferSize,
		Args:         s.buildArgs(content),
	}
	if len(s.opts.Env) > 0 {
		cfg.Env = os.Environ()
		for k, v := range s.opts.Env {
			cfg.Env = append(cfg.Env, k+"="+v)
		}
	}

	var t transport.Transport
	if s.backend.newTransport != nil {
		t = s.backend.newTransport(cfg)
	} else {
		t = transport.New(cfg)
	}
	if err := t.Connect(ctx); err != nil {
		return err
	}
	if err := t.EndInput(); err != nil {
		return err
	}

	out := make(chan backend.Envelope, 16)
	go s.drain(t, out)

	s.mu.Lock()
	s.current = out
	s.mu.Unlock()
	return nil
}

// drain reads the spawned turn's stdout to completion, captures the chat id
// from the first recognised init-style system message, and publishes every
// parsed message before closing out.
func (s *session) drain(t transport.Transport, out chan<- backend.Envelope) {
	defer close(out)
	defer func() {
		if r := recover(); r != nil {
			out <- backend.Envelope{Err: fmt.Errorf("spawnperturn: reader panic: %v", r)}
		}
	}()
	defer func() { _ = t.Close() }()

	for line := range t.ReadMessages() {
		if line.Err != nil {
			out <- backend.Envelope{Err: line.Err}
			if line.Fatal {
				return
			}
			continue
		}
		msg, err := wire.ParseMessage(line.Value)
		if err != nil {
			out <- backend.Envelope{Err: err}
			continue
		}
		s.captureChatID(msg)
		out <- backend.Envelope{Message: msg}
	}
}

func (s *session) captureChatID(msg wire.Message) {
	if msg.Type != wire.TypeSystem || msg.System == nil || s.chatIDKnown() {
		return
	}
	var fields struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(msg.System.Data, &fields); err != nil || fields.SessionID == "" {
		return
	}
	s.mu.Lock()
	if s.chatID == "" {
		s.chatID = fields.SessionID
	}
	s.mu.Unlock()
}

func (s *session) chatIDKnown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID != ""
}

func (s *session) ReceiveMessages(ctx context.Context) <-chan backend.Envelope {
	return s.currentOrEmpty()
}

func (s *session) ReceiveResponse(ctx context.Context) <-chan backend.Envelope {
	inner := s.currentOrEmpty()
	out := make(chan backend.Envelope, 16)
	go func() {
		defer close(out)
		for env := range inner {
			out <- env
			if env.Err == nil && env.Message.Type == wire.TypeResult {
				return
			}
		}
	}()
	return out
}

func (s *session) currentOrEmpty() <-chan backend.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		ch := make(chan backend.Envelope)
		close(ch)
		return ch
	}
	return s.current
}

// SendControlRequest always fails: this backend has no live process to
// carry a control protocol.
func (s *session) SendControlRequest(ctx context.Context, subtype string, fields map[string]any, timeout time.Duration) (json.RawMessage, error) {
	return nil, fmt.Errorf("spawnperturn: control protocol unsupported (subtype %q)", subtype)
}

// ServerInfo is never populated: there is no initialize round trip.
func (s *session) ServerInfo() (json.RawMessage, bool) { return nil, false }

// Close releases the chat id. No process is kept alive between turns, so
// there is nothing else to tear down.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.chatID = ""
	return nil
}
