// Package wire defines the JSON data model exchanged with the primary
// backend's subprocess: the five Message variants, content blocks, and the
// control-protocol envelopes. Types here are deliberately permissive about
// unknown fields and tags so that a newer CLI version never breaks an older
// SDK build (forward-compatibility invariant).
package wire

import "encoding/json"

// MessageType is the discriminant carried on every line of the data stream.
type MessageType string

const (
	TypeUser        MessageType = "user"
	TypeAssistant   MessageType = "assistant"
	TypeSystem      MessageType = "system"
	TypeResult      MessageType = "result"
	TypeStreamEvent MessageType = "stream_event"
)

// ContentBlockType is the discriminant of a ContentBlock.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockThinking   ContentBlockType = "thinking"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
	// blockUnknown is never produced on the wire; it is the ignored sentinel
	// an unrecognised block type parses to instead of failing the message.
	blockUnknown ContentBlockType = ""
)

// ContentBlock is one element of an assistant or user message's content
// array. Only the fields relevant to Type are populated. A block whose Type
// was not recognised at parse time has Type == "" (Unknown() reports true)
// and Raw holds the original JSON for forward compatibility.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Unknown reports whether this block carried a tag not recognised by this
// SDK build. Callers should skip unknown blocks rather than fail the
// enclosing message.
func (b ContentBlock) Unknown() bool { return b.Type == blockUnknown }

// UnmarshalJSON implements the ignored-sentinel rule: any value that parses
// as a JSON object is accepted, and an unrecognised "type" degrades to the
// Unknown() sentinel instead of returning an error.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	switch a.Type {
	case BlockText, BlockThinking, BlockToolUse, BlockToolResult:
	default:
		a.Type = blockUnknown
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	a.Raw = raw
	*b = ContentBlock(a)
	return nil
}

// TextOrBlocks holds a User message's content, which the primary backend
// accepts either as a bare string or as a content-block array.
type TextOrBlocks struct {
	Text   string
	Blocks []ContentBlock
}

// MarshalJSON emits the bare-string form when there are no blocks, matching
// the common single-turn case; otherwise the block array.
func (t TextOrBlocks) MarshalJSON() ([]byte, error) {
	if t.Blocks == nil {
		return json.Marshal(t.Text)
	}
	return json.Marshal(t.Blocks)
}

// UnmarshalJSON accepts either a JSON string or an array of content blocks.
func (t *TextOrBlocks) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = TextOrBlocks{Text: s}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*t = TextOrBlocks{Blocks: blocks}
	return nil
}

// ToolUseResult carries the (intentionally opaque) structured result a tool
// call produced, attached to a User message that replays a tool_result back
// to the agent.
type ToolUseResult = json.RawMessage

// UserMessage is a user turn. On the wire the content is nested under a
// "message" object ({"role":"user","content":...}) while the identifiers
// stay at the top level; userEnvelope below fixes that shape for both
// directions.
type UserMessage struct {
	Content         TextOrBlocks
	UUID            string
	ParentToolUseID *string
	ToolUseResult   ToolUseResult
	SessionID       string
}

type userEnvelope struct {
	Type    MessageType `json:"type"`
	Message struct {
		Role    string       `json:"role"`
		Content TextOrBlocks `json:"content"`
	} `json:"message"`
	UUID            string        `json:"uuid,omitempty"`
	ParentToolUseID *string       `json:"parent_tool_use_id"`
	ToolUseResult   ToolUseResult `json:"tool_use_result,omitempty"`
	SessionID       string        `json:"session_id,omitempty"`
}

// MarshalJSON emits the nested wire envelope the primary backend consumes:
// one JSON value per line, content under "message", identifiers at the top
// level, parent_tool_use_id explicit (null when absent).
func (m UserMessage) MarshalJSON() ([]byte, error) {
	var env userEnvelope
	env.Type = TypeUser
	env.Message.Role = "user"
	env.Message.Content = m.Content
	env.UUID = m.UUID
	env.ParentToolUseID = m.ParentToolUseID
	env.ToolUseResult = m.ToolUseResult
	env.SessionID = m.SessionID
	return json.Marshal(env)
}

// UnmarshalJSON accepts the same envelope back, so user messages echoed by
// the CLI survive a parse/serialize round trip.
func (m *UserMessage) UnmarshalJSON(data []byte) error {
	var env userEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*m = UserMessage{
		Content:         env.Message.Content,
		UUID:            env.UUID,
		ParentToolUseID: env.ParentToolUseID,
		ToolUseResult:   env.ToolUseResult,
		SessionID:       env.SessionID,
	}
	return nil
}

// Usage holds token and cache accounting from a completed turn.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// AssistantMessage is a complete assistant turn.
type AssistantMessage struct {
	Content         []ContentBlock `json:"content"`
	Model           string         `json:"model"`
	ParentToolUseID *string        `json:"parent_tool_use_id,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Text concatenates all text blocks, skipping unknown/other block types.
func (m *AssistantMessage) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// Thinking concatenates all thinking blocks, skipping unknown/other block
// types.
func (m *AssistantMessage) Thinking() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockThinking {
			out += b.Thinking
		}
	}
	return out
}

// SystemMessage carries status/info payloads. All fields beyond Subtype are
// preserved verbatim in Data.
type SystemMessage struct {
	Subtype string          `json:"subtype"`
	Data    json.RawMessage `json:"-"`
}

// MarshalJSON re-emits Data with "type" and "subtype" restored, so that
// parse→serialize→parse is a fixed point.
func (m SystemMessage) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &fields); err != nil {
			return nil, err
		}
	}
	fields["type"], _ = json.Marshal(TypeSystem)
	fields["subtype"], _ = json.Marshal(m.Subtype)
	return json.Marshal(fields)
}

// Result is the final message of a turn.
type Result struct {
	Subtype          string          `json:"subtype"`
	DurationMS       int64           `json:"duration_ms"`
	DurationAPIMS    int64           `json:"duration_api_ms"`
	IsError          bool            `json:"is_error"`
	NumTurns         int             `json:"num_turns"`
	SessionID        string          `json:"session_id"`
	TotalCostUSD     *float64        `json:"total_cost_usd,omitempty"`
	Usage            *Usage          `json:"usage,omitempty"`
	ResultText       string          `json:"result,omitempty"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
}

// StreamEventMessage carries an opaque incremental delta. Event is never
// modeled by a fixed record.
type StreamEventMessage struct {
	UUID            string          `json:"uuid"`
	SessionID       string          `json:"session_id"`
	Event           json.RawMessage `json:"event"`
	ParentToolUseID *string         `json:"parent_tool_use_id,omitempty"`
}

// Message is the tagged union delivered to subscribers. Exactly one of the
// typed fields is non-nil, matching Type.
type Message struct {
	Type        MessageType
	User        *UserMessage
	Assistant   *AssistantMessage
	System      *SystemMessage
	Result      *Result
	StreamEvent *StreamEventMessage
}

// ParseMessage decodes one data-stream JSON value into a Message. Unknown
// top-level types are an error here: the reader only calls this for values
// it has already decided are data (not control); anything with no
// recognised "type" is the caller's problem to skip-and-continue on.
func ParseMessage(raw json.RawMessage) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Message{}, err
	}

	msg := Message{Type: head.Type}
	switch head.Type {
	case TypeUser:
		var m UserMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Message{}, err
		}
		msg.User = &m
	case TypeAssistant:
		var env struct {
			Message         AssistantMessage `json:"message"`
			ParentToolUseID *string          `json:"parent_tool_use_id,omitempty"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return Message{}, err
		}
		m := env.Message
		m.ParentToolUseID = env.ParentToolUseID
		msg.Assistant = &m
	case TypeSystem:
		var m SystemMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Message{}, err
		}
		var sub struct {
			Subtype string `json:"subtype"`
		}
		_ = json.Unmarshal(raw, &sub)
		m.Subtype = sub.Subtype
		m.Data = append(json.RawMessage(nil), raw...)
		msg.System = &m
	case TypeResult:
		var m Result
		if err := json.Unmarshal(raw, &m); err != nil {
			return Message{}, err
		}
		msg.Result = &m
	case TypeStreamEvent:
		var m StreamEventMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Message{}, err
		}
		msg.StreamEvent = &m
	default:
		return Message{}, &UnknownMessageTypeError{Type: string(head.Type)}
	}
	return msg, nil
}

// UnknownMessageTypeError is returned by ParseMessage for a top-level "type"
// this SDK build does not recognise.
type UnknownMessageTypeError struct{ Type string }

func (e *UnknownMessageTypeError) Error() string {
	return "wire: unknown message type " + e.Type
}
