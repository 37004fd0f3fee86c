package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMessageAssistant(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "assistant",
		"message": {
			"model": "claude-sonnet-4-6",
			"content": [
				{"type": "text", "text": "hello "},
				{"type": "thinking", "thinking": "hmm"},
				{"type": "text", "text": "world"}
			]
		}
	}`)

	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, TypeAssistant, msg.Type)
	require.Equal(t, "hello world", msg.Assistant.Text())
	require.Equal(t, "hmm", msg.Assistant.Thinking())
	require.Equal(t, "claude-sonnet-4-6", msg.Assistant.Model)
}

// An unrecognised content-block type degrades to the ignored sentinel rather
// than failing the enclosing message.
func TestUnknownContentBlockParsesAsIgnoredSentinel(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "assistant",
		"message": {
			"model": "m",
			"content": [
				{"type": "server_tool_use", "id": "x", "weird_field": 42},
				{"type": "text", "text": "still here"}
			]
		}
	}`)

	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	require.Len(t, msg.Assistant.Content, 2)
	require.True(t, msg.Assistant.Content[0].Unknown())
	require.NotEmpty(t, msg.Assistant.Content[0].Raw, "the original JSON is preserved for unknown blocks")
	require.Equal(t, "still here", msg.Assistant.Text())
}

func TestTextOrBlocksAcceptsStringAndArray(t *testing.T) {
	var fromString TextOrBlocks
	require.NoError(t, json.Unmarshal([]byte(`"plain text"`), &fromString))
	require.Equal(t, "plain text", fromString.Text)
	require.Nil(t, fromString.Blocks)

	var fromBlocks TextOrBlocks
	require.NoError(t, json.Unmarshal([]byte(`[{"type":"text","text":"a"}]`), &fromBlocks))
	require.Len(t, fromBlocks.Blocks, 1)

	out, err := json.Marshal(fromString)
	require.NoError(t, err)
	require.JSONEq(t, `"plain text"`, string(out))
}

// A user message echoed by the CLI nests its content under "message";
// parse → serialize → parse is a fixed point on that envelope.
func TestParseMessageUserRoundTrip(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "user",
		"session_id": "s1",
		"uuid": "u1",
		"message": {"role": "user", "content": "hello"},
		"parent_tool_use_id": null
	}`)

	first, err := ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, TypeUser, first.Type)
	require.Equal(t, "hello", first.User.Content.Text)
	require.Equal(t, "u1", first.User.UUID)
	require.Equal(t, "s1", first.User.SessionID)
	require.Nil(t, first.User.ParentToolUseID)

	reserialized, err := json.Marshal(first.User)
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(reserialized))

	second, err := ParseMessage(reserialized)
	require.NoError(t, err)
	require.Equal(t, *first.User, *second.User)
}

// System messages preserve every field verbatim: parse → serialize → parse
// is a fixed point on the observable fields.
func TestSystemMessageRoundTripIsFixedPoint(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "system",
		"subtype": "init",
		"session_id": "s1",
		"tools": ["Bash", "Read"],
		"unmodelled_field": {"nested": true}
	}`)

	first, err := ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, "init", first.System.Subtype)

	reserialized, err := json.Marshal(first.System)
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(reserialized))

	second, err := ParseMessage(reserialized)
	require.NoError(t, err)
	require.Equal(t, first.System.Subtype, second.System.Subtype)
	require.JSONEq(t, string(first.System.Data), string(second.System.Data))
}

func TestParseMessageResult(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "result",
		"subtype": "end_turn",
		"duration_ms": 10,
		"duration_api_ms": 5,
		"is_error": false,
		"num_turns": 1,
		"session_id": "s1",
		"total_cost_usd": 0.25,
		"usage": {"input_tokens": 7, "output_tokens": 3}
	}`)

	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	r := msg.Result
	require.Equal(t, "end_turn", r.Subtype)
	require.Equal(t, int64(10), r.DurationMS)
	require.Equal(t, 1, r.NumTurns)
	require.NotNil(t, r.TotalCostUSD)
	require.InDelta(t, 0.25, *r.TotalCostUSD, 1e-9)
	require.NotNil(t, r.Usage)
	require.Equal(t, 7, r.Usage.InputTokens)
}

func TestParseMessageUnknownTypeErrors(t *testing.T) {
	_, err := ParseMessage(json.RawMessage(`{"type":"galaxy_brain"}`))
	var unknown *UnknownMessageTypeError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "galaxy_brain", unknown.Type)
}

func TestHookOutputMarshalsAsyncAndSyncShapes(t *testing.T) {
	asyncOut, err := json.Marshal(HookOutput{Async: true, AsyncTimeout: 500})
	require.NoError(t, err)
	require.JSONEq(t, `{"async":true,"asyncTimeout":500}`, string(asyncOut))

	cont := false
	syncOut, err := json.Marshal(HookOutput{Continue: &cont, StopReason: "done"})
	require.NoError(t, err)
	require.JSONEq(t, `{"continue":false,"stopReason":"done"}`, string(syncOut))
}

func TestPermissionResultMarshalsWireShapes(t *testing.T) {
	allow, err := json.Marshal(PermissionResult{
		Behavior:     PermissionBehaviorAllow,
		UpdatedInput: map[string]any{"command": "ls -la"},
		UpdatedPermissions: []PermissionUpdate{{
			Type:        "setMode",
			Mode:        PermissionModeAcceptEdits,
			Destination: PermissionUpdateDestinationSession,
		}},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"behavior": "allow",
		"updatedInput": {"command": "ls -la"},
		"updatedPermissions": [{"type":"setMode","mode":"acceptEdits","destination":"session"}]
	}`, string(allow))

	deny, err := json.Marshal(PermissionResult{
		Behavior:  PermissionBehaviorDeny,
		Message:   "not allowed",
		Interrupt: true,
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"behavior":"deny","message":"not allowed","interrupt":true}`, string(deny))
}
