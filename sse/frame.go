// Package sse implements the Server-Sent Events framing of the UI message
// stream protocol: one `data: <json>\n\n` frame per semantic event and a
// terminal `data: [DONE]\n\n` sentinel.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vercel/ai-chatbot-sub000/types"
)

// Frame delimiters.
const (
	dataPrefix     = "data: "
	frameSeparator = "\n\n"
	doneSentinel   = "[DONE]"
)

// doneFrame is the terminal sentinel frame.
var doneFrame = []byte(dataPrefix + doneSentinel + frameSeparator)

// Done returns a copy of the terminal sentinel frame.
func Done() []byte {
	return bytes.Clone(doneFrame)
}

// IsDone reports whether frame is the terminal sentinel.
func IsDone(frame []byte) bool {
	return bytes.Equal(frame, doneFrame)
}

// FrameErrorKind classifies framing errors.
type FrameErrorKind int

const (
	// FrameErrorEncode indicates an event could not be serialized.
	FrameErrorEncode FrameErrorKind = iota
	// FrameErrorUnknownEvent indicates an event variant the encoder does not know.
	FrameErrorUnknownEvent
	// FrameErrorPartial indicates a truncated frame.
	FrameErrorPartial
	// FrameErrorDecode indicates a malformed frame body.
	FrameErrorDecode
)

// FrameError represents a framing error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error must terminate the stream.
// Encoding failures are programming errors, never recoverable per frame.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorEncode || e.Kind == FrameErrorUnknownEvent
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// Wire shapes. Field order is the serialization order.
type (
	wireStart struct {
		Type      types.EventType `json:"type"`
		MessageID string          `json:"messageId"`
	}
	wireBare struct {
		Type types.EventType `json:"type"`
	}
	wireTextID struct {
		Type types.EventType `json:"type"`
		ID   string          `json:"id"`
	}
	wireTextDelta struct {
		Type  types.EventType `json:"type"`
		ID    string          `json:"id"`
		Delta string          `json:"delta"`
	}
	wireToolInputStart struct {
		Type       types.EventType `json:"type"`
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
	}
	wireToolInputDelta struct {
		Type           types.EventType `json:"type"`
		ToolCallID     string          `json:"toolCallId"`
		InputTextDelta string          `json:"inputTextDelta"`
	}
	wireToolInputAvailable struct {
		Type       types.EventType `json:"type"`
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
		Input      json.RawMessage `json:"input"`
	}
	wireToolInputError struct {
		Type       types.EventType `json:"type"`
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
		Input      string          `json:"input"`
		ErrorText  string          `json:"errorText"`
	}
	wireToolOutputAvailable struct {
		Type       types.EventType `json:"type"`
		ToolCallID string          `json:"toolCallId"`
		Output     json.RawMessage `json:"output"`
	}
	wireToolOutputError struct {
		Type       types.EventType `json:"type"`
		ToolCallID string          `json:"toolCallId"`
		ErrorText  string          `json:"errorText"`
	}
	wireFinish struct {
		Type            types.EventType  `json:"type"`
		MessageMetadata *messageMetadata `json:"messageMetadata,omitempty"`
	}
	messageMetadata struct {
		FinishReason types.FinishReason `json:"finishReason,omitempty"`
		Usage        *types.Usage       `json:"usage,omitempty"`
	}
	wireError struct {
		Type  types.EventType `json:"type"`
		Error string          `json:"error"`
	}
)

// Encode renders one event as a single SSE frame.
func Encode(ev types.Event) ([]byte, error) {
	body, err := json.Marshal(toWire(ev))
	if err != nil {
		if errors.Is(err, errUnknownVariant) {
			return nil, &FrameError{Kind: FrameErrorUnknownEvent, Msg: fmt.Sprintf("unknown event variant %T", ev), Err: err}
		}
		return nil, &FrameError{Kind: FrameErrorEncode, Msg: fmt.Sprintf("failed to encode %T", ev), Err: err}
	}

	frame := make([]byte, 0, len(dataPrefix)+len(body)+len(frameSeparator))
	frame = append(frame, dataPrefix...)
	frame = append(frame, body...)
	frame = append(frame, frameSeparator...)
	return frame, nil
}

// toWire maps an event to its wire shape. Unknown variants map to
// unknownWire, which fails to marshal.
func toWire(ev types.Event) any {
	switch e := ev.(type) {
	case types.Start:
		return wireStart{Type: e.Type(), MessageID: e.MessageID}
	case types.StartStep:
		return wireBare{Type: e.Type()}
	case types.TextStart:
		return wireTextID{Type: e.Type(), ID: e.TextID}
	case types.TextDelta:
		return wireTextDelta{Type: e.Type(), ID: e.TextID, Delta: e.Delta}
	case types.TextEnd:
		return wireTextID{Type: e.Type(), ID: e.TextID}
	case types.ToolInputStart:
		return wireToolInputStart{Type: e.Type(), ToolCallID: e.CallID, ToolName: e.ToolName}
	case types.ToolInputDelta:
		return wireToolInputDelta{Type: e.Type(), ToolCallID: e.CallID, InputTextDelta: e.Delta}
	case types.ToolInputAvailable:
		return wireToolInputAvailable{Type: e.Type(), ToolCallID: e.CallID, ToolName: e.ToolName, Input: orEmptyObject(e.Input)}
	case types.ToolInputError:
		return wireToolInputError{Type: e.Type(), ToolCallID: e.CallID, ToolName: e.ToolName, Input: e.RawInput, ErrorText: e.Error}
	case types.ToolOutputAvailable:
		return wireToolOutputAvailable{Type: e.Type(), ToolCallID: e.CallID, Output: orNull(e.Output)}
	case types.ToolOutputError:
		return wireToolOutputError{Type: e.Type(), ToolCallID: e.CallID, ErrorText: e.Error}
	case types.Finish:
		out := wireFinish{Type: e.Type()}
		if e.FinishReason != "" || e.Usage != nil {
			out.MessageMetadata = &messageMetadata{FinishReason: e.FinishReason, Usage: e.Usage}
		}
		return out
	case types.ErrorEvent:
		return wireError{Type: e.Type(), Error: e.Message}
	default:
		return unknownWire{}
	}
}

// unknownWire refuses to marshal so unknown variants surface as FrameError.
type unknownWire struct{}

var errUnknownVariant = errors.New("event variant has no wire shape")

func (unknownWire) MarshalJSON() ([]byte, error) {
	return nil, errUnknownVariant
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
