package claude

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// fakeCLI wires a fresh transport.Fake into Query/Run/Client calls, and
// pre-answers the initialize control request once the test is ready to.
type fakeCLI struct {
	t *transport.Fake
}

func newFakeCLI() (*fakeCLI, Option) {
	ft := transport.NewFake()
	return &fakeCLI{t: ft}, withTestTransport(func(transport.Config) transport.Transport { return ft })
}

func (f *fakeCLI) answerInitialize(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.t.Written) > 0 }, time.Second, time.Millisecond)
	var req wire.ControlRequestEnvelope
	require.NoError(t, json.Unmarshal(f.t.Written[0], &req))
	f.t.Feed(wire.ControlResponseEnvelope{
		Type: wire.TypeControlResponse,
		Response: wire.ControlResponse{
			Subtype:   "success",
			RequestID: req.RequestID,
			Response:  json.RawMessage(`{}`),
		},
	})
}

func TestRunReturnsResult(t *testing.T) {
	fake, opt := newFakeCLI()

	resultCh := make(chan *Result, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := Run(context.Background(), "2+2?", opt)
		resultCh <- r
		errCh <- err
	}()

	fake.answerInitialize(t)
	// Answer only once the prompt has been written, as a real peer would.
	require.Eventually(t, func() bool { return len(fake.t.Written) >= 2 }, time.Second, time.Millisecond)
	fake.t.Feed(map[string]any{
		"type":       "result",
		"subtype":    "success",
		"session_id": "sess_abc",
		"is_error":   false,
		"result":     "4",
	})
	fake.t.End()

	require.NoError(t, <-errCh)
	result := <-resultCh
	require.Equal(t, "sess_abc", result.SessionID)
	require.Equal(t, "4", result.ResultText)
}

func TestRunSurfacesAgentError(t *testing.T) {
	fake, opt := newFakeCLI()

	errCh := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), "boom", opt)
		errCh <- err
	}()

	fake.answerInitialize(t)
	fake.t.Feed(map[string]any{
		"type":       "result",
		"subtype":    "error_during_execution",
		"session_id": "sess_err",
		"is_error":   true,
	})
	fake.t.End()

	err := <-errCh
	require.Error(t, err)
}

func TestQueryStreamEventsThenClose(t *testing.T) {
	fake, opt := newFakeCLI()

	streamCh := make(chan *Stream, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := Query(context.Background(), "hi", opt)
		streamCh <- s
		errCh <- err
	}()

	fake.answerInitialize(t)
	require.NoError(t, <-errCh)
	stream := <-streamCh
	require.NotNil(t, stream)
	defer stream.Close()

	fake.t.Feed(map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": "hello"}},
		},
	})
	fake.t.Feed(map[string]any{"type": "result", "subtype": "success", "session_id": "s1"})
	fake.t.End()

	ev := <-stream.Events()
	require.NoError(t, ev.Err)
	require.Equal(t, TypeAssistant, ev.Type)
	require.Equal(t, "hello", ev.Assistant.Text())

	ev = <-stream.Events()
	require.NoError(t, ev.Err)
	require.Equal(t, TypeResult, ev.Type)

	_, ok := <-stream.Events()
	require.False(t, ok)
}

func TestStreamSetModelRequiresRuntimeConfigChanges(t *testing.T) {
	fake, opt := newFakeCLI()

	streamCh := make(chan *Stream, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := Query(context.Background(), "hi", opt)
		streamCh <- s
		errCh <- err
	}()
	fake.answerInitialize(t)
	require.NoError(t, <-errCh)
	stream := <-streamCh
	defer stream.Close()

	// set_model control request; the fake peer must see it on the wire after
	// the initialize request and the prompt.
	go func() { _ = stream.SetModel(context.Background(), "claude-opus-4-6") }()
	require.Eventually(t, func() bool { return len(fake.t.Written) >= 3 }, time.Second, time.Millisecond)

	var req wire.ControlRequestEnvelope
	require.NoError(t, json.Unmarshal(fake.t.Written[2], &req))
	var inner map[string]any
	require.NoError(t, json.Unmarshal(req.Request, &inner))
	require.Equal(t, "set_model", inner["subtype"])

	fake.t.Feed(wire.ControlResponseEnvelope{
		Type:     wire.TypeControlResponse,
		Response: wire.ControlResponse{Subtype: "success", RequestID: req.RequestID, Response: json.RawMessage(`{}`)},
	})
	fake.t.End()
}

// A backend that lacks a capability must reject the
// call with UnsupportedFeatureError and never reach the transport.
func TestClientSetModelRejectedByAppServerWritesNothing(t *testing.T) {
	ft := transport.NewFake()
	opt := withTestTransport(func(transport.Config) transport.Transport { return ft })

	c := NewClient(opt, WithBackendKind(wire.BackendAppServer))

	connErrCh := make(chan error, 1)
	go func() { connErrCh <- c.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return len(ft.Written) > 0 }, time.Second, time.Millisecond)
	var initReq struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(ft.Written[0], &initReq))
	ft.Feed(map[string]any{"jsonrpc": "2.0", "id": initReq.ID, "result": map[string]any{}})

	require.NoError(t, <-connErrCh)
	require.Equal(t, ClientConnected, c.State())

	writtenBefore := len(ft.Written)
	err := c.SetModel(context.Background(), "claude-opus-4-6")
	require.Error(t, err)
	var unsupported *UnsupportedFeatureError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "set_model", unsupported.Feature)
	require.Equal(t, string(wire.BackendAppServer), unsupported.Backend)
	require.Equal(t, writtenBefore, len(ft.Written), "a capability-gated control method must never write to the transport")

	require.NoError(t, c.Disconnect())
	ft.End()
}

// An option the backend cannot honor must abort
// Query before any process is spawned or transport touched.
func TestQueryRejectsPermissionHandlerOnSpawnPerTurn(t *testing.T) {
	_, err := Query(context.Background(), "hi",
		WithBackendKind(wire.BackendSpawnPerTurn),
		WithPermissionHandler(func(string, json.RawMessage, PermissionContext) PermissionResult {
			return PermissionResult{Behavior: PermissionBehaviorAllow}
		}),
	)

	require.Error(t, err)
	var unsupported *UnsupportedOptionsError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, string(wire.BackendSpawnPerTurn), unsupported.Backend)
	require.NotEmpty(t, unsupported.Options)
}

func TestClientConnectSendReceiveDisconnect(t *testing.T) {
	fake, opt := newFakeCLI()

	c := NewClient(opt)
	require.Equal(t, ClientUnconnected, c.State())

	connErrCh := make(chan error, 1)
	go func() { connErrCh <- c.Connect(context.Background()) }()
	fake.answerInitialize(t)
	require.NoError(t, <-connErrCh)
	require.Equal(t, ClientConnected, c.State())

	require.NoError(t, c.SendMessage(context.Background(), "hello"))

	events, err := c.ReceiveResponse(context.Background())
	require.NoError(t, err)

	fake.t.Feed(map[string]any{"type": "result", "subtype": "success", "session_id": "s1"})
	ev := <-events
	require.NoError(t, ev.Err)
	require.Equal(t, TypeResult, ev.Type)

	fake.t.End()
	require.NoError(t, c.Disconnect())
	require.Equal(t, ClientUnconnected, c.State())

	err = c.SendMessage(context.Background(), "too late")
	require.Error(t, err)
	var notConnected *NotConnectedError
	require.ErrorAs(t, err, &notConnected)
}
