package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/vercel/ai-chatbot-sub000/types"
)

// ErrDone is returned by DecodeEvent for the terminal sentinel frame.
var ErrDone = errors.New("sse: done sentinel")

// FrameDecoder reads complete SSE frames from a stream.
type FrameDecoder struct {
	reader *bufio.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: bufio.NewReader(r)}
}

// ReadFrame returns the next frame including its trailing separator.
//
// Errors:
//   - io.EOF: stream ended cleanly on a frame boundary
//   - *FrameError with Kind=FrameErrorPartial: stream ended mid-frame
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var frame []byte
	for {
		line, err := d.reader.ReadBytes('\n')
		frame = append(frame, line...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(frame) == 0 {
					return nil, io.EOF
				}
				return nil, &FrameError{Kind: FrameErrorPartial, Msg: "stream ended mid-frame", Err: err}
			}
			return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read frame", Err: err}
		}
		if bytes.HasSuffix(frame, []byte(frameSeparator)) {
			return frame, nil
		}
	}
}

// SplitFrames splits a concatenated SSE body into frames.
func SplitFrames(body []byte) ([][]byte, error) {
	dec := NewFrameDecoder(bytes.NewReader(body))
	var frames [][]byte
	for {
		frame, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
}

// typeProbe is used to peek at the discriminator without full decode.
type typeProbe struct {
	Type types.EventType `json:"type"`
}

// DecodeEvent parses one frame back into its semantic event.
// Returns ErrDone for the terminal sentinel.
func DecodeEvent(frame []byte) (types.Event, error) {
	if IsDone(frame) {
		return nil, ErrDone
	}
	body, ok := bytes.CutPrefix(frame, []byte(dataPrefix))
	if !ok {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "frame missing data prefix"}
	}
	body = bytes.TrimSuffix(body, []byte(frameSeparator))

	var probe typeProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame type", Err: err}
	}

	ev, err := fromWire(probe.Type, body)
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("failed to decode %s frame", probe.Type), Err: err}
	}
	return ev, nil
}

func fromWire(t types.EventType, body []byte) (types.Event, error) {
	switch t {
	case types.EventTypeStart:
		var w wireStart
		err := json.Unmarshal(body, &w)
		return types.Start{MessageID: w.MessageID}, err
	case types.EventTypeStartStep:
		return types.StartStep{}, nil
	case types.EventTypeTextStart:
		var w wireTextID
		err := json.Unmarshal(body, &w)
		return types.TextStart{TextID: w.ID}, err
	case types.EventTypeTextDelta:
		var w wireTextDelta
		err := json.Unmarshal(body, &w)
		return types.TextDelta{TextID: w.ID, Delta: w.Delta}, err
	case types.EventTypeTextEnd:
		var w wireTextID
		err := json.Unmarshal(body, &w)
		return types.TextEnd{TextID: w.ID}, err
	case types.EventTypeToolInputStart:
		var w wireToolInputStart
		err := json.Unmarshal(body, &w)
		return types.ToolInputStart{CallID: w.ToolCallID, ToolName: w.ToolName}, err
	case types.EventTypeToolInputDelta:
		var w wireToolInputDelta
		err := json.Unmarshal(body, &w)
		return types.ToolInputDelta{CallID: w.ToolCallID, Delta: w.InputTextDelta}, err
	case types.EventTypeToolInputAvailable:
		var w wireToolInputAvailable
		err := json.Unmarshal(body, &w)
		return types.ToolInputAvailable{CallID: w.ToolCallID, ToolName: w.ToolName, Input: w.Input}, err
	case types.EventTypeToolInputError:
		var w wireToolInputError
		err := json.Unmarshal(body, &w)
		return types.ToolInputError{CallID: w.ToolCallID, ToolName: w.ToolName, RawInput: w.Input, Error: w.ErrorText}, err
	case types.EventTypeToolOutputAvailable:
		var w wireToolOutputAvailable
		err := json.Unmarshal(body, &w)
		return types.ToolOutputAvailable{CallID: w.ToolCallID, Output: w.Output}, err
	case types.EventTypeToolOutputError:
		var w wireToolOutputError
		err := json.Unmarshal(body, &w)
		return types.ToolOutputError{CallID: w.ToolCallID, Error: w.ErrorText}, err
	case types.EventTypeFinish:
		var w wireFinish
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		out := types.Finish{}
		if w.MessageMetadata != nil {
			out.FinishReason = w.MessageMetadata.FinishReason
			out.Usage = w.MessageMetadata.Usage
		}
		return out, nil
	case types.EventTypeError:
		var w wireError
		err := json.Unmarshal(body, &w)
		return types.ErrorEvent{Message: w.Error}, err
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
