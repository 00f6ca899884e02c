package types

import "encoding/json"

// EventType is the wire discriminator of a semantic event.
type EventType string

// Event type constants. The string values are the `type` field of the
// UI message stream protocol.
const (
	EventTypeStart               EventType = "start"
	EventTypeStartStep           EventType = "start-step"
	EventTypeTextStart           EventType = "text-start"
	EventTypeTextDelta           EventType = "text-delta"
	EventTypeTextEnd             EventType = "text-end"
	EventTypeToolInputStart      EventType = "tool-input-start"
	EventTypeToolInputDelta      EventType = "tool-input-delta"
	EventTypeToolInputAvailable  EventType = "tool-input-available"
	EventTypeToolInputError      EventType = "tool-input-error"
	EventTypeToolOutputAvailable EventType = "tool-output-available"
	EventTypeToolOutputError     EventType = "tool-output-error"
	EventTypeFinish              EventType = "finish"
	EventTypeError               EventType = "error"
)

// IsTerminal returns true if this event type ends the event sequence.
func (e EventType) IsTerminal() bool {
	return e == EventTypeFinish
}

// ClosesPart returns true if the event type is the terminal event of a
// text segment or tool call.
func (e EventType) ClosesPart() bool {
	switch e {
	case EventTypeTextEnd, EventTypeToolInputError, EventTypeToolOutputAvailable, EventTypeToolOutputError:
		return true
	default:
		return false
	}
}

// FinishReason describes why generation stopped.
type FinishReason string

// Finish reasons reported in finish message metadata.
const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonToolCalls     FinishReason = "tool-calls"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content-filter"
	FinishReasonError         FinishReason = "error"
	FinishReasonOther         FinishReason = "other"
)

// Usage is token accounting for one assistant turn.
type Usage struct {
	PromptTokens     int `json:"promptTokens" msgpack:"prompt_tokens"`
	CompletionTokens int `json:"completionTokens" msgpack:"completion_tokens"`
	TotalTokens      int `json:"totalTokens" msgpack:"total_tokens"`
}

// Add returns the element-wise sum of u and o. A nil operand counts as zero.
func (u *Usage) Add(o *Usage) *Usage {
	if u == nil && o == nil {
		return nil
	}
	var sum Usage
	if u != nil {
		sum = *u
	}
	if o != nil {
		sum.PromptTokens += o.PromptTokens
		sum.CompletionTokens += o.CompletionTokens
		sum.TotalTokens += o.TotalTokens
	}
	return &sum
}

// Event is one step of assistant-turn generation.
//
// The set of implementations is closed: only the types in this file
// satisfy it. Consumers switch over the concrete types and must handle
// the default arm explicitly.
type Event interface {
	Type() EventType
	isEvent()
}

// Start opens an assistant message.
type Start struct {
	MessageID string
}

// StartStep marks the beginning of an additional model round within the
// same assistant message.
type StartStep struct{}

// TextStart opens a text segment.
type TextStart struct {
	TextID string
}

// TextDelta appends to an open text segment.
type TextDelta struct {
	TextID string
	Delta  string
}

// TextEnd closes a text segment.
type TextEnd struct {
	TextID string
}

// ToolInputStart opens a tool call.
type ToolInputStart struct {
	CallID   string
	ToolName string
}

// ToolInputDelta carries a fragment of the raw argument text of a tool call.
type ToolInputDelta struct {
	CallID string
	Delta  string
}

// ToolInputAvailable carries the parsed arguments of a tool call.
type ToolInputAvailable struct {
	CallID   string
	ToolName string
	Input    json.RawMessage
}

// ToolInputError reports that the arguments of a tool call could not be
// parsed. The call is abandoned.
type ToolInputError struct {
	CallID   string
	ToolName string
	RawInput string
	Error    string
}

// ToolOutputAvailable carries the result of a tool invocation.
type ToolOutputAvailable struct {
	CallID string
	Output json.RawMessage
}

// ToolOutputError reports a failed tool invocation.
type ToolOutputError struct {
	CallID string
	Error  string
}

// Finish closes the assistant message. Exactly one Finish ends every
// event sequence.
type Finish struct {
	FinishReason FinishReason
	Usage        *Usage
}

// ErrorEvent reports an upstream failure. A Finish still follows.
type ErrorEvent struct {
	Message string
}

func (Start) Type() EventType               { return EventTypeStart }
func (StartStep) Type() EventType           { return EventTypeStartStep }
func (TextStart) Type() EventType           { return EventTypeTextStart }
func (TextDelta) Type() EventType           { return EventTypeTextDelta }
func (TextEnd) Type() EventType             { return EventTypeTextEnd }
func (ToolInputStart) Type() EventType      { return EventTypeToolInputStart }
func (ToolInputDelta) Type() EventType      { return EventTypeToolInputDelta }
func (ToolInputAvailable) Type() EventType  { return EventTypeToolInputAvailable }
func (ToolInputError) Type() EventType      { return EventTypeToolInputError }
func (ToolOutputAvailable) Type() EventType { return EventTypeToolOutputAvailable }
func (ToolOutputError) Type() EventType     { return EventTypeToolOutputError }
func (Finish) Type() EventType              { return EventTypeFinish }
func (ErrorEvent) Type() EventType          { return EventTypeError }

func (Start) isEvent()               {}
func (StartStep) isEvent()           {}
func (TextStart) isEvent()           {}
func (TextDelta) isEvent()           {}
func (TextEnd) isEvent()             {}
func (ToolInputStart) isEvent()      {}
func (ToolInputDelta) isEvent()      {}
func (ToolInputAvailable) isEvent()  {}
func (ToolInputError) isEvent()      {}
func (ToolOutputAvailable) isEvent() {}
func (ToolOutputError) isEvent()     {}
func (Finish) isEvent()              {}
func (ErrorEvent) isEvent()          {}
