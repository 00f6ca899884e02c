// Package assembler folds a semantic event sequence into the structured
// assistant message that is persisted at the end of a turn.
//
// Parts are appended when they close, so the finished message lists every
// part exactly once in closing order. An open text part is finalized when
// a part of a different kind begins and once more at Finish; tool parts
// still open at Finish are dropped.
package assembler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vercel/ai-chatbot-sub000/types"
)

// ErrFinished is returned by Apply for events after Finish.
var ErrFinished = errors.New("assembler: message already finished")

// ErrUnknownEvent is returned by Apply for event variants it has no rule for.
var ErrUnknownEvent = errors.New("assembler: unknown event")

// Assembler holds the running state of one assistant message.
// Not safe for concurrent use; each producer owns its own instance.
type Assembler struct {
	now func() time.Time

	messageID string
	text      *types.Part
	tools     map[string]*types.Part
	parts     []types.Part

	usage    *types.Usage
	reason   types.FinishReason
	errors   []string
	finished bool
	result   types.AssembledMessage
}

// New creates an empty assembler.
func New() *Assembler {
	return &Assembler{now: time.Now, tools: make(map[string]*types.Part)}
}

// Apply folds one event into the message.
func (a *Assembler) Apply(ev types.Event) error {
	if a.finished {
		return ErrFinished
	}

	switch e := ev.(type) {
	case types.Start:
		a.messageID = e.MessageID

	case types.StartStep:
		a.flushText()
		a.parts = append(a.parts, types.Part{Type: types.PartTypeStepStart})

	case types.TextStart:
		a.flushText()
		a.text = &types.Part{Type: types.PartTypeText, State: types.PartStateStreaming}

	case types.TextDelta:
		if a.text == nil {
			a.text = &types.Part{Type: types.PartTypeText, State: types.PartStateStreaming}
		}
		a.text.Text += e.Delta

	case types.TextEnd:
		a.flushText()

	case types.ToolInputStart:
		a.flushText()
		a.tools[e.CallID] = &types.Part{
			Type:     types.PartTypeTool,
			State:    types.PartStateInputStreaming,
			ToolName: e.ToolName,
			CallID:   e.CallID,
		}

	case types.ToolInputDelta:
		// Raw argument text is superseded by ToolInputAvailable.

	case types.ToolInputAvailable:
		p := a.tool(e.CallID, e.ToolName)
		p.Input = e.Input
		p.State = types.PartStateInputAvailable

	case types.ToolInputError:
		p := a.tool(e.CallID, e.ToolName)
		p.Input = errorObject(e.Error, e.RawInput)
		p.State = types.PartStateInputAvailable
		a.closeTool(e.CallID)

	case types.ToolOutputAvailable:
		p := a.tool(e.CallID, "")
		p.Output = e.Output
		p.State = types.PartStateOutputAvailable
		a.closeTool(e.CallID)

	case types.ToolOutputError:
		p := a.tool(e.CallID, "")
		p.Output = errorObject(e.Error, "")
		p.State = types.PartStateOutputAvailable
		a.closeTool(e.CallID)

	case types.ErrorEvent:
		a.errors = append(a.errors, e.Message)

	case types.Finish:
		a.flushText()
		a.usage = e.Usage
		a.reason = e.FinishReason
		a.finished = true
		parts := make([]types.Part, len(a.parts))
		copy(parts, a.parts)
		a.result = types.AssembledMessage{
			ID:        a.messageID,
			Role:      types.RoleAssistant,
			Parts:     parts,
			CreatedAt: a.now().UTC(),
		}

	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return nil
}

// flushText closes the open text part, if any.
func (a *Assembler) flushText() {
	if a.text == nil {
		return
	}
	a.text.State = types.PartStateDone
	a.parts = append(a.parts, *a.text)
	a.text = nil
}

// tool returns the open tool part for callID, opening one if the start
// event was never seen.
func (a *Assembler) tool(callID, toolName string) *types.Part {
	p := a.tools[callID]
	if p == nil {
		a.flushText()
		p = &types.Part{Type: types.PartTypeTool, State: types.PartStateInputStreaming, CallID: callID}
		a.tools[callID] = p
	}
	if p.ToolName == "" {
		p.ToolName = toolName
	}
	return p
}

func (a *Assembler) closeTool(callID string) {
	a.parts = append(a.parts, *a.tools[callID])
	delete(a.tools, callID)
}

func errorObject(msg, raw string) json.RawMessage {
	obj := map[string]string{"error": msg}
	if raw != "" {
		obj["rawInput"] = raw
	}
	b, _ := json.Marshal(obj)
	return b
}

// Finished reports whether Finish has been applied.
func (a *Assembler) Finished() bool { return a.finished }

// MessageID returns the id from the Start event.
func (a *Assembler) MessageID() string { return a.messageID }

// Message returns the assembled message. ok is false before Finish.
func (a *Assembler) Message() (msg types.AssembledMessage, ok bool) {
	return a.result, a.finished
}

// Usage returns the token usage reported by Finish, if any.
func (a *Assembler) Usage() *types.Usage { return a.usage }

// FinishReason returns the reason reported by Finish.
func (a *Assembler) FinishReason() types.FinishReason { return a.reason }

// Errors returns the messages of every error event seen.
func (a *Assembler) Errors() []string { return a.errors }

// Pending returns the number of parts still open.
func (a *Assembler) Pending() int {
	n := len(a.tools)
	if a.text != nil {
		n++
	}
	return n
}
