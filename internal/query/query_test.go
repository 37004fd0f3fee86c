package query

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

func newTestQuery(t *testing.T) (*Query, *transport.Fake) {
	t.Helper()
	ft := transport.NewFake()
	q := New(ft, nil, zerolog.Nop())
	require.NoError(t, q.Connect(context.Background()))
	return q, ft
}

func TestInitializeRoundTrip(t *testing.T) {
	q, ft := newTestQuery(t)
	defer q.Close()

	done := make(chan error, 1)
	go func() {
		done <- q.Initialize(context.Background(), map[string]any{}, map[string]any{"model": "claude-sonnet-4-6"}, time.Second)
	}()

	var req wire.ControlRequestEnvelope
	require.Eventually(t, func() bool {
		if len(ft.Written) == 0 {
			return false
		}
		return json.Unmarshal(ft.Written[0], &req) == nil
	}, time.Second, time.Millisecond)
	require.Equal(t, wire.TypeControlRequest, req.Type)

	ft.Feed(wire.ControlResponseEnvelope{
		Type: wire.TypeControlResponse,
		Response: wire.ControlResponse{
			Subtype:   "success",
			RequestID: req.RequestID,
			Response:  json.RawMessage(`{"server":"ok"}`),
		},
	})

	require.NoError(t, <-done)
	info, ok := q.ServerInfo()
	require.True(t, ok)
	require.JSONEq(t, `{"server":"ok"}`, string(info))
	require.Equal(t, StateInitialized, q.State())
}

func TestSendControlRequestTimeout(t *testing.T) {
	q, _ := newTestQuery(t)
	defer q.Close()

	_, err := q.SendControlRequest(context.Background(), "interrupt", nil, 10*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *ControlTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestReceiveMessagesStreamsAssistantAndResult(t *testing.T) {
	q, ft := newTestQuery(t)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := q.ReceiveMessages(ctx)

	ft.Feed(map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": "hi"}},
			"model":   "claude-sonnet-4-6",
		},
	})
	ft.Feed(map[string]any{
		"type":       "result",
		"subtype":    "success",
		"session_id": "sess_1",
		"is_error":   false,
	})
	ft.End()

	env := <-events
	require.NoError(t, env.Err)
	require.Equal(t, wire.TypeAssistant, env.Message.Type)
	require.Equal(t, "hi", env.Message.Assistant.Text())

	env = <-events
	require.NoError(t, env.Err)
	require.Equal(t, wire.TypeResult, env.Message.Type)
	require.Equal(t, "sess_1", env.Message.Result.SessionID)

	_, ok := <-events
	require.False(t, ok, "channel should close after stream ends")
}

// One-shot basic sequence: init system message, assistant turn, result,
// observed in exactly that order; then the view ends.
func TestReceiveResponseObservesOneShotSequenceInOrder(t *testing.T) {
	q, ft := newTestQuery(t)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := q.ReceiveResponse(ctx)

	ft.Feed(map[string]any{"type": "system", "subtype": "init", "session_id": "s1"})
	ft.Feed(map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"model":   "m",
			"content": []map[string]any{{"type": "text", "text": "hi"}},
		},
	})
	ft.Feed(map[string]any{
		"type": "result", "subtype": "end_turn",
		"duration_ms": 10, "duration_api_ms": 5,
		"is_error": false, "num_turns": 1, "session_id": "s1",
	})

	var got []wire.MessageType
	for env := range events {
		require.NoError(t, env.Err)
		got = append(got, env.Message.Type)
	}
	require.Equal(t, []wire.MessageType{wire.TypeSystem, wire.TypeAssistant, wire.TypeResult}, got)
}

// A subscriber that stops draining is dropped with a lag error while a
// prompt subscriber sees every message.
func TestLaggingSubscriberDropsWithoutAffectingPromptReader(t *testing.T) {
	q, ft := newTestQuery(t)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := q.ReceiveMessages(ctx) // never drained until the flood is over
	fast := q.ReceiveMessages(ctx)

	const n = 2000
	fastCount := make(chan int, 1)
	go func() {
		count := 0
		for env := range fast {
			if env.Err == nil {
				count++
			}
		}
		fastCount <- count
	}()

	for i := 0; i < n; i++ {
		ft.Feed(map[string]any{"type": "system", "subtype": "status"})
	}
	ft.End()

	require.Equal(t, n, <-fastCount, "the prompt subscriber must see every message")

	var lagged bool
	for env := range slow {
		if env.Err != nil {
			lagged = true
		}
	}
	require.True(t, lagged, "the slow subscriber's view must end with a lag error")
}

func TestReceiveResponseStopsAfterOneResult(t *testing.T) {
	q, ft := newTestQuery(t)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := q.ReceiveResponse(ctx)

	ft.Feed(map[string]any{"type": "result", "subtype": "success", "session_id": "s1"})
	// A second result must never be observed: ReceiveResponse stops after
	// the first one.
	ft.Feed(map[string]any{"type": "result", "subtype": "success", "session_id": "s2"})

	env := <-events
	require.NoError(t, env.Err)
	require.Equal(t, "s1", env.Message.Result.SessionID)

	_, ok := <-events
	require.False(t, ok)
}

func TestInlineParseErrorDoesNotTerminateStream(t *testing.T) {
	q, ft := newTestQuery(t)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := q.ReceiveMessages(ctx)

	ft.FeedRaw(json.RawMessage(`{"type":"bogus_type_that_fails_to_parse_payload`))
	ft.Feed(map[string]any{"type": "result", "subtype": "success", "session_id": "s1"})
	ft.End()

	env := <-events
	require.Error(t, env.Err)

	env = <-events
	require.NoError(t, env.Err)
	require.Equal(t, wire.TypeResult, env.Message.Type)
}

func TestSendMessageWritesUserEnvelope(t *testing.T) {
	q, ft := newTestQuery(t)
	defer q.Close()

	require.NoError(t, q.SendMessage(wire.UserMessage{Content: wire.TextOrBlocks{Text: "hello"}, UUID: "u1"}))

	require.Eventually(t, func() bool { return len(ft.Written) > 0 }, time.Second, time.Millisecond)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(ft.Written[0], &payload))
	require.Equal(t, "user", payload["type"])
	require.Equal(t, "u1", payload["uuid"])
	message, ok := payload["message"].(map[string]any)
	require.True(t, ok, "content must be nested under the message object")
	require.Equal(t, "user", message["role"])
	require.Equal(t, "hello", message["content"])
}

func TestCloseIsIdempotent(t *testing.T) {
	q, ft := newTestQuery(t)
	ft.End()
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
}
