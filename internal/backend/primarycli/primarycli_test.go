package primarycli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anthropic-agentcli/agentcli-go/internal/backend"
	"github.com/anthropic-agentcli/agentcli-go/internal/transport"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

// fakeConn pairs a Backend wired to a transport.Fake with that Fake, so
// tests can feed responses and inspect writes without spawning a process.
type fakeConn struct {
	b  *Backend
	ft *transport.Fake
}

func newFakeConn() *fakeConn {
	ft := transport.NewFake()
	b := New(zerolog.Nop()).WithTransportFactory(func(transport.Config) transport.Transport { return ft })
	return &fakeConn{b: b, ft: ft}
}

// answerInitialize drains the first written line as an initialize request
// and replies with a success response carrying payload.
func (c *fakeConn) answerInitialize(t *testing.T, payload any) {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.ft.Written) > 0 }, time.Second, time.Millisecond)
	var req wire.ControlRequestEnvelope
	require.NoError(t, json.Unmarshal(c.ft.Written[0], &req))

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	c.ft.Feed(wire.ControlResponseEnvelope{
		Type: wire.TypeControlResponse,
		Response: wire.ControlResponse{
			Subtype:   "success",
			RequestID: req.RequestID,
			Response:  raw,
		},
	})
}

func TestCreateSessionInitializes(t *testing.T) {
	c := newFakeConn()

	sessCh := make(chan backend.SessionHandle, 1)
	errCh := make(chan error, 1)
	go func() {
		sess, err := c.b.CreateSession(context.Background(), backend.Options{Model: "claude-sonnet-4-6"})
		sessCh <- sess
		errCh <- err
	}()

	c.answerInitialize(t, map[string]any{"ok": true})

	require.NoError(t, <-errCh)
	sess := <-sessCh
	require.NotNil(t, sess)
	defer sess.Close()

	info, ok := sess.ServerInfo()
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(info))
}

func TestValidateOptionsRejectsConflictingResume(t *testing.T) {
	b := New(zerolog.Nop())
	unsupported := b.ValidateOptions(backend.Options{Continue: true, SessionID: "sess_123"})
	require.NotEmpty(t, unsupported)
}

func TestBuildTransportIncludesBaseProtocolArgsAndExtraArgs(t *testing.T) {
	ft := transport.NewFake()
	var captured transport.Config
	b := New(zerolog.Nop()).WithTransportFactory(func(cfg transport.Config) transport.Transport {
		captured = cfg
		return ft
	})

	_ = b.buildTransport(backend.Options{ExtraArgs: []string{"--effort", "high"}})

	require.Contains(t, captured.Args, "--output-format")
	require.Contains(t, captured.Args, "--effort")
	require.Contains(t, captured.Args, "high")
}

func TestOneShotQueryClosesSessionAfterResponse(t *testing.T) {
	c := newFakeConn()

	resultCh := make(chan map[string]any, 1)
	errCh := make(chan error, 1)
	go func() {
		envs, err := c.b.OneShotQuery(context.Background(), wire.TextOrBlocks{Text: "hi"}, backend.Options{})
		if err != nil {
			errCh <- err
			return
		}
		for env := range envs {
			if env.Err == nil && env.Message.Type == wire.TypeResult {
				resultCh <- map[string]any{"session_id": env.Message.Result.SessionID}
			}
		}
		close(errCh)
	}()

	c.answerInitialize(t, map[string]any{})
	// Answer only once the prompt has been written, as a real peer would.
	require.Eventually(t, func() bool { return len(c.ft.Written) >= 2 }, time.Second, time.Millisecond)
	c.ft.Feed(map[string]any{"type": "result", "subtype": "success", "session_id": "s1"})
	c.ft.End()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for one-shot query")
	}
	require.Equal(t, map[string]any{"session_id": "s1"}, <-resultCh)
	require.False(t, c.ft.IsReady(), "the session must be closed once the response stream ends")
}
