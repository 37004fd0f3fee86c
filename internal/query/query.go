// Package query implements the session core ("Query"): it owns one
// transport.Transport for the life of a conversation and runs the writer
// and reader tasks that are the session's sole concurrency structure.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// DefaultControlTimeout is the default timeout for an outbound control
// request.
const DefaultControlTimeout = 60 * time.Second

var tracer = otel.Tracer("github.com/anthropic-agentcli/agentcli-go/internal/query")

// Envelope is one item yielded from a subscriber view: either a parsed
// Message or a non-terminating parse error.
type Envelope struct {
	Message wire.Message
	Err     error
}

// Query is the session core. It is safe for concurrent use by multiple
// goroutines: SendMessage, SendControlRequest, ReceiveMessages, and
// ReceiveResponse may all be called concurrently while the session is
// active.
type Query struct {
	t         transport.Transport
	callbacks *CallbackTables
	log       zerolog.Logger

	writeCh chan string
	closing chan struct{}
	bcast   *broadcaster

	pendingMu sync.Mutex
	pending   map[string]chan wire.ControlResponse
	reqSeq    atomic.Uint64

	state atomic.Int32

	serverInfoMu  sync.RWMutex
	serverInfo    json.RawMessage
	serverInfoSet bool

	doneMu sync.Mutex
	done   chan struct{}

	closeOnce sync.Once
}

// New constructs a Query over an already-constructed Transport. Connect must
// be called before any other method.
func New(t transport.Transport, callbacks *CallbackTables, log zerolog.Logger) *Query {
	if callbacks == nil {
		callbacks, _ = NewCallbackTables(nil, nil, nil)
	}
	q := &Query{
		t:         t,
		callbacks: callbacks,
		log:       log,
		writeCh:   make(chan string, 64),
		closing:   make(chan struct{}),
		bcast:     newBroadcaster(defaultBroadcastCapacity),
		pending:   make(map[string]chan wire.ControlResponse),
		done:      make(chan struct{}),
	}
	q.state.Store(int32(StateNew))
	return q
}

// State reports the current position in the session state machine.
func (q *Query) State() State { return State(q.state.Load()) }

// Connect spawns the transport and starts the writer and reader tasks,
// exactly one of each per live session.
func (q *Query) Connect(ctx context.Context) error {
	if err := q.t.Connect(ctx); err != nil {
		return err
	}
	q.state.Store(int32(StateConnected))
	go q.writerTask()
	go q.readerTask()
	return nil
}

// ─── Writer task ───────────────────────────────────────────────────────────

// writerTask drains the write queue until shutdown, then performs the
// two-phase teardown: EndInput lets the child observe EOF and flush a
// terminal Result, Close escalates to kill after the grace period.
func (q *Query) writerTask() {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("query: writer task panicked")
		}
		_ = q.t.EndInput()
		_ = q.t.Close()
	}()
	for {
		select {
		case line := <-q.writeCh:
			if err := q.t.Write(line); err != nil {
				q.log.Warn().Err(err).Msg("query: write failed")
			}
		case <-q.closing:
			return
		}
	}
}

// enqueueWrite is the only path by which any goroutine may cause a line to
// reach stdin.
func (q *Query) enqueueWrite(line string) error {
	select {
	case q.writeCh <- line:
		return nil
	case <-q.closing:
		return &SessionClosedError{}
	case <-q.done:
		return &SessionClosedError{}
	}
}

// ─── Reader task ───────────────────────────────────────────────────────────

type lineHead struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

func (q *Query) readerTask() {
	defer q.finish()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("query: reader task panic: %v", r)
			q.bcast.Close(ControlMessage{Kind: MsgError, Err: err})
			q.failAllPending(err)
		}
	}()
	for line := range q.t.ReadMessages() {
		if line.Err != nil {
			if line.Fatal {
				q.bcast.Close(ControlMessage{Kind: MsgError, Err: line.Err})
				q.failAllPending(line.Err)
				return
			}
			// Non-fatal parse error on a data line: surface inline, keep
			// reading.
			q.bcast.Publish(ControlMessage{Kind: MsgInlineError, Err: line.Err})
			continue
		}

		var head lineHead
		if err := json.Unmarshal(line.Value, &head); err != nil {
			q.bcast.Publish(ControlMessage{Kind: MsgInlineError, Err: err})
			continue
		}

		switch head.Type {
		case wire.TypeControlResponse:
			q.routeControlResponse(line.Value)
		case wire.TypeControlRequest:
			go q.handleInboundControlRequest(line.Value)
		case wire.TypeControlCancelRequest:
			q.log.Debug().Msg("query: control_cancel_request received (ignored)")
		default:
			q.bcast.Publish(ControlMessage{Kind: MsgData, Data: line.Value})
		}
	}

	select {
	case <-q.closing:
		// Deliberate shutdown: the teardown sequence may kill the child, so
		// its exit status is not an error.
	default:
		if ee, ok := q.t.(interface{ ExitError() error }); ok {
			if err := ee.ExitError(); err != nil {
				q.bcast.Close(ControlMessage{Kind: MsgError, Err: err})
				q.failAllPending(err)
				return
			}
		}
	}
	q.bcast.Close(ControlMessage{Kind: MsgEnd})
}

// finish runs when the reader task exits for any reason: it triggers
// shutdown (so the writer task stops and the transport is torn down even if
// Close was never called) and marks the session closed. Outstanding control
// waiters unblock through the done channel with SessionClosedError,
// satisfying the session-closed terminal outcome every request is owed.
func (q *Query) finish() {
	q.shutdown()
	q.doneMu.Lock()
	select {
	case <-q.done:
	default:
		close(q.done)
	}
	q.doneMu.Unlock()
	q.state.Store(int32(StateClosed))
}

// shutdown is the idempotent entry into the Closing state shared by Close
// and the reader task's exit path.
func (q *Query) shutdown() {
	q.closeOnce.Do(func() {
		if State(q.state.Load()) != StateClosed {
			q.state.Store(int32(StateClosing))
		}
		close(q.closing)
	})
}

func (q *Query) failAllPending(err error) {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	for id, ch := range q.pending {
		select {
		case ch <- wire.ControlResponse{Subtype: "error", RequestID: id, Error: err.Error()}:
		default:
		}
		delete(q.pending, id)
	}
}

func (q *Query) routeControlResponse(raw json.RawMessage) {
	var env wire.ControlResponseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		q.log.Warn().Err(err).Msg("query: malformed control_response")
		return
	}
	id := env.Response.RequestID
	q.pendingMu.Lock()
	ch, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.pendingMu.Unlock()
	if !ok {
		// Drop-on-miss is permitted but must be logged.
		q.log.Warn().Str("request_id", id).Msg("query: control_response with no matching request")
		return
	}
	select {
	case ch <- env.Response:
	default:
	}
}

// ─── Outbound control requests ─────────────────────────────────────────────

func (q *Query) nextRequestID() string {
	return fmt.Sprintf("req_%d", q.reqSeq.Add(1))
}

// SendControlRequest issues an outbound control request and blocks for a
// matching response, a timeout, or session closure; exactly one of those
// three outcomes is guaranteed.
func (q *Query) SendControlRequest(ctx context.Context, subtype string, fields map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultControlTimeout
	}

	ctx, span := tracer.Start(ctx, "query.send_control_request",
		trace.WithAttributes(attribute.String("subtype", subtype)))
	defer span.End()

	id := q.nextRequestID()
	span.SetAttributes(attribute.String("request_id", id))

	req := map[string]any{"subtype": subtype}
	for k, v := range fields {
		req[k] = v
	}
	reqRaw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	env := wire.ControlRequestEnvelope{Type: wire.TypeControlRequest, RequestID: id, Request: reqRaw}
	line, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	respCh := make(chan wire.ControlResponse, 1)
	q.pendingMu.Lock()
	q.pending[id] = respCh
	q.pendingMu.Unlock()

	if err := q.enqueueWrite(string(line)); err != nil {
		q.pendingMu.Lock()
		delete(q.pending, id)
		q.pendingMu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Subtype == "error" {
			return nil, fmt.Errorf("query: %s: %s", subtype, resp.Error)
		}
		return resp.Response, nil
	case <-timer.C:
		q.pendingMu.Lock()
		delete(q.pending, id)
		q.pendingMu.Unlock()
		return nil, &ControlTimeoutError{RequestID: id}
	case <-ctx.Done():
		q.pendingMu.Lock()
		delete(q.pending, id)
		q.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-q.done:
		return nil, &SessionClosedError{}
	}
}

// ─── Initialize ─────────────────────────────────────────────────────────────

// Initialize sends the initialize control request derived from the
// callback tables, plus any caller-supplied extra fields (system prompt,
// agents, sandbox, etc), and caches the server_info response.
func (q *Query) Initialize(ctx context.Context, hooksConfig map[string]any, extra map[string]any, timeout time.Duration) error {
	fields := map[string]any{"hooks": hooksConfig}
	for k, v := range extra {
		fields[k] = v
	}
	resp, err := q.SendControlRequest(ctx, wire.SubtypeInitialize, fields, timeout)
	if err != nil {
		return err
	}
	q.serverInfoMu.Lock()
	q.serverInfo = resp
	q.serverInfoSet = true
	q.serverInfoMu.Unlock()
	q.state.Store(int32(StateInitialized))
	return nil
}

// ServerInfo returns the cached initialize response, if any.
func (q *Query) ServerInfo() (json.RawMessage, bool) {
	q.serverInfoMu.RLock()
	defer q.serverInfoMu.RUnlock()
	return q.serverInfo, q.serverInfoSet
}

// ─── User messages ─────────────────────────────────────────────────────────

// SendMessage writes a user message envelope onto the writer.
func (q *Query) SendMessage(msg wire.UserMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.enqueueWrite(string(raw))
}

// ─── Subscriber views ───────────────────────────────────────────────────────

// ReceiveMessages yields every message until the stream ends.
func (q *Query) ReceiveMessages(ctx context.Context) <-chan Envelope {
	return q.subscribe(ctx, false)
}

// ReceiveResponse is identical to ReceiveMessages except it terminates
// normally immediately after yielding exactly one Result message. A
// subsequent turn creates a new view.
func (q *Query) ReceiveResponse(ctx context.Context) <-chan Envelope {
	return q.subscribe(ctx, true)
}

func (q *Query) subscribe(ctx context.Context, stopAfterResult bool) <-chan Envelope {
	sub := q.bcast.Subscribe()
	out := make(chan Envelope, 16)
	go func() {
		defer close(out)
		defer q.bcast.Unsubscribe(sub)
		for {
			select {
			case msg, ok := <-sub.ch:
				if !ok {
					if sub.lagged {
						select {
						case out <- Envelope{Err: fmt.Errorf("query: subscriber lagged, view terminated")}:
						case <-ctx.Done():
						}
					}
					return
				}
				switch msg.Kind {
				case MsgEnd:
					return
				case MsgError:
					select {
					case out <- Envelope{Err: msg.Err}:
					case <-ctx.Done():
						return
					}
					return
				case MsgInlineError:
					select {
					case out <- Envelope{Err: msg.Err}:
					case <-ctx.Done():
						return
					}
				case MsgData:
					parsed, err := wire.ParseMessage(msg.Data)
					env := Envelope{Message: parsed, Err: err}
					select {
					case out <- env:
					case <-ctx.Done():
						return
					}
					if err == nil && stopAfterResult && parsed.Type == wire.TypeResult {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ─── Shutdown ────────────────────────────────────────────────────────────

// Close performs the two-phase shutdown: stopping the writer task (which
// triggers EndInput then Close on the transport) and waiting for the reader
// task to observe end-of-stream. Idempotent.
func (q *Query) Close() error {
	q.shutdown()
	<-q.done
	return nil
}
