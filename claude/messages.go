// Package claude provides a Go SDK for driving the claude CLI subprocess.
// It communicates over the JSON-lines streaming protocol
// (--input-format/--output-format stream-json), mirroring the behaviour of
// @anthropic-ai/claude-agent-sdk while normalizing it into a single Go API
// that can also drive other agent CLI backends.
package claude

import "github.com/anthropic-agentcli/agentcli-go/internal/wire"

// MessageType is the discriminant field present on every message.
type MessageType = wire.MessageType

// The message type constants, re-exported from the wire layer so callers
// never need to import internal/wire directly.
const (
	TypeUser        = wire.TypeUser
	TypeAssistant   = wire.TypeAssistant
	TypeSystem      = wire.TypeSystem
	TypeResult      = wire.TypeResult
	TypeStreamEvent = wire.TypeStreamEvent
)

// System message subtype constants seen from the primary backend.
const (
	SubtypeInit   = "init"
	SubtypeStatus = "status"
)

// ContentBlock is one element of a message's content array: text,
// thinking, tool_use, or tool_result. A block with an unrecognised type
// degrades to an ignored sentinel (Unknown() reports true) rather than
// failing the enclosing message.
type ContentBlock = wire.ContentBlock

// TextOrBlocks holds a user turn's content, accepted either as a bare
// string or as a content-block array.
type TextOrBlocks = wire.TextOrBlocks

// UserMessage mirrors a user turn, either echoed back by the CLI or sent by
// the caller.
type UserMessage = wire.UserMessage

// AssistantMessage is a complete assistant turn.
type AssistantMessage = wire.AssistantMessage

// SystemMessage carries status/info payloads; all fields beyond Subtype are
// preserved verbatim for forward compatibility.
type SystemMessage = wire.SystemMessage

// Usage holds token and cache accounting from a completed turn.
type Usage = wire.Usage

// Result is the final message of a turn.
type Result = wire.Result

// StreamEventMessage carries an opaque incremental delta.
type StreamEventMessage = wire.StreamEventMessage

// Event is the top-level value yielded from a Stream or Client's message
// channels. Type is always set; exactly one of the typed fields is non-nil
// for a successfully parsed message. Err is set instead when the
// underlying line failed to parse (forward-compatible: the stream is not
// terminated by this).
type Event struct {
	Type        MessageType
	User        *UserMessage
	Assistant   *AssistantMessage
	System      *SystemMessage
	Result      *Result
	StreamEvent *StreamEventMessage
	Err         error
}
