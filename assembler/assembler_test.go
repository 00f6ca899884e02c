package assembler

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vercel/ai-chatbot-sub000/types"
)

func apply(t *testing.T, events ...types.Event) *Assembler {
	t.Helper()
	a := New()
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	for i, ev := range events {
		if err := a.Apply(ev); err != nil {
			t.Fatalf("Apply event %d (%s): %v", i, ev.Type(), err)
		}
	}
	return a
}

func message(t *testing.T, a *Assembler) types.AssembledMessage {
	t.Helper()
	msg, ok := a.Message()
	if !ok {
		t.Fatal("message not finished")
	}
	return msg
}

func TestAssembler_SimpleText(t *testing.T) {
	a := apply(t,
		types.Start{MessageID: "m1"},
		types.TextStart{TextID: "t1"},
		types.TextDelta{TextID: "t1", Delta: "Hel"},
		types.TextDelta{TextID: "t1", Delta: "lo"},
		types.TextEnd{TextID: "t1"},
		types.Finish{FinishReason: types.FinishReasonStop, Usage: &types.Usage{TotalTokens: 5}},
	)

	msg := message(t, a)
	if msg.ID != "m1" || msg.Role != types.RoleAssistant {
		t.Errorf("message = %+v", msg)
	}
	if len(msg.Parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(msg.Parts))
	}
	if p := msg.Parts[0]; p.Type != types.PartTypeText || p.Text != "Hello" || p.State != types.PartStateDone {
		t.Errorf("part = %+v", p)
	}
	if a.Usage().TotalTokens != 5 || a.FinishReason() != types.FinishReasonStop {
		t.Errorf("usage = %+v reason = %s", a.Usage(), a.FinishReason())
	}
	if !msg.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("createdAt = %v", msg.CreatedAt)
	}
}

func TestAssembler_ToolCall(t *testing.T) {
	a := apply(t,
		types.Start{MessageID: "m1"},
		types.ToolInputStart{CallID: "c1", ToolName: "getWeather"},
		types.ToolInputDelta{CallID: "c1", Delta: `{"city":"Paris"}`},
		types.ToolInputAvailable{CallID: "c1", ToolName: "getWeather", Input: json.RawMessage(`{"city":"Paris"}`)},
		types.ToolOutputAvailable{CallID: "c1", Output: json.RawMessage(`{"temp":18}`)},
		types.Finish{FinishReason: types.FinishReasonToolCalls},
	)

	msg := message(t, a)
	if len(msg.Parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(msg.Parts))
	}
	p := msg.Parts[0]
	if p.Type != types.PartTypeTool || p.ToolName != "getWeather" || p.CallID != "c1" {
		t.Errorf("part = %+v", p)
	}
	if p.State != types.PartStateOutputAvailable || string(p.Input) != `{"city":"Paris"}` || string(p.Output) != `{"temp":18}` {
		t.Errorf("part state/input/output = %s %s %s", p.State, p.Input, p.Output)
	}
}

func TestAssembler_TextFlushedByToolStart(t *testing.T) {
	a := apply(t,
		types.Start{MessageID: "m1"},
		types.TextStart{TextID: "t1"},
		types.TextDelta{TextID: "t1", Delta: "Let me check."},
		types.ToolInputStart{CallID: "c1", ToolName: "getWeather"},
		types.ToolInputAvailable{CallID: "c1", ToolName: "getWeather", Input: json.RawMessage(`{}`)},
		types.ToolOutputAvailable{CallID: "c1", Output: json.RawMessage(`1`)},
		types.Finish{},
	)

	msg := message(t, a)
	if len(msg.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(msg.Parts))
	}
	if msg.Parts[0].Text != "Let me check." || msg.Parts[0].State != types.PartStateDone {
		t.Errorf("text part = %+v", msg.Parts[0])
	}
	if msg.Parts[1].Type != types.PartTypeTool {
		t.Errorf("second part = %+v", msg.Parts[1])
	}
}

func TestAssembler_OpenTextSynthesizedAtFinish(t *testing.T) {
	a := apply(t,
		types.Start{MessageID: "m1"},
		types.TextStart{TextID: "t1"},
		types.TextDelta{TextID: "t1", Delta: "Hel"},
		types.ErrorEvent{Message: "upstream 502"},
		types.Finish{FinishReason: types.FinishReasonError},
	)

	msg := message(t, a)
	if len(msg.Parts) != 1 || msg.Parts[0].Text != "Hel" || msg.Parts[0].State != types.PartStateDone {
		t.Errorf("parts = %+v", msg.Parts)
	}
	if errs := a.Errors(); len(errs) != 1 || errs[0] != "upstream 502" {
		t.Errorf("errors = %v", errs)
	}
}

func TestAssembler_ToolInputError(t *testing.T) {
	a := apply(t,
		types.Start{MessageID: "m1"},
		types.ToolInputStart{CallID: "c1", ToolName: "getWeather"},
		types.ToolInputError{CallID: "c1", ToolName: "getWeather", RawInput: `{"city":`, Error: "unexpected end"},
		types.Finish{},
	)

	msg := message(t, a)
	if len(msg.Parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(msg.Parts))
	}
	p := msg.Parts[0]
	var input struct {
		Error    string `json:"error"`
		RawInput string `json:"rawInput"`
	}
	if err := json.Unmarshal(p.Input, &input); err != nil {
		t.Fatalf("input: %v", err)
	}
	if input.Error != "unexpected end" || input.RawInput != `{"city":` || p.State != types.PartStateInputAvailable || p.Output != nil {
		t.Errorf("part = %+v", p)
	}
}

func TestAssembler_ToolOutputError(t *testing.T) {
	a := apply(t,
		types.Start{MessageID: "m1"},
		types.ToolInputStart{CallID: "c1", ToolName: "getWeather"},
		types.ToolInputAvailable{CallID: "c1", ToolName: "getWeather", Input: json.RawMessage(`{}`)},
		types.ToolOutputError{CallID: "c1", Error: "timeout"},
		types.Finish{},
	)

	p := message(t, a).Parts[0]
	if string(p.Output) != `{"error":"timeout"}` || p.State != types.PartStateOutputAvailable {
		t.Errorf("part = %+v", p)
	}
}

func TestAssembler_OpenToolDroppedAtFinish(t *testing.T) {
	a := apply(t,
		types.Start{MessageID: "m1"},
		types.ToolInputStart{CallID: "c1", ToolName: "getWeather"},
		types.ToolInputAvailable{CallID: "c1", ToolName: "getWeather", Input: json.RawMessage(`{}`)},
	)
	if a.Pending() != 1 {
		t.Errorf("pending = %d, want 1", a.Pending())
	}
	if err := a.Apply(types.Finish{}); err != nil {
		t.Fatal(err)
	}
	if parts := message(t, a).Parts; len(parts) != 0 {
		t.Errorf("parts = %+v, want none", parts)
	}
}

func TestAssembler_InterleavedToolCalls(t *testing.T) {
	a := apply(t,
		types.Start{MessageID: "m1"},
		types.ToolInputStart{CallID: "c1", ToolName: "a"},
		types.ToolInputStart{CallID: "c2", ToolName: "b"},
		types.ToolInputAvailable{CallID: "c1", ToolName: "a", Input: json.RawMessage(`{}`)},
		types.ToolInputAvailable{CallID: "c2", ToolName: "b", Input: json.RawMessage(`{}`)},
		types.ToolOutputAvailable{CallID: "c2", Output: json.RawMessage(`2`)},
		types.ToolOutputAvailable{CallID: "c1", Output: json.RawMessage(`1`)},
		types.Finish{},
	)

	parts := message(t, a).Parts
	if len(parts) != 2 || parts[0].CallID != "c2" || parts[1].CallID != "c1" {
		t.Errorf("parts = %+v, want c2 then c1", parts)
	}
}

func TestAssembler_MultiStep(t *testing.T) {
	a := apply(t,
		types.Start{MessageID: "m1"},
		types.ToolInputStart{CallID: "c1", ToolName: "getWeather"},
		types.ToolInputAvailable{CallID: "c1", ToolName: "getWeather", Input: json.RawMessage(`{}`)},
		types.ToolOutputAvailable{CallID: "c1", Output: json.RawMessage(`{}`)},
		types.StartStep{},
		types.TextStart{TextID: "t2"},
		types.TextDelta{TextID: "t2", Delta: "Sunny."},
		types.TextEnd{TextID: "t2"},
		types.Finish{FinishReason: types.FinishReasonStop},
	)

	parts := message(t, a).Parts
	want := []types.PartType{types.PartTypeTool, types.PartTypeStepStart, types.PartTypeText}
	if len(parts) != len(want) {
		t.Fatalf("parts = %+v", parts)
	}
	for i, pt := range want {
		if parts[i].Type != pt {
			t.Errorf("part %d type = %s, want %s", i, parts[i].Type, pt)
		}
	}
}

func TestAssembler_PartCountMatchesTerminalEvents(t *testing.T) {
	sequences := map[string][]types.Event{
		"text ended": {
			types.Start{}, types.TextStart{TextID: "t"}, types.TextDelta{TextID: "t", Delta: "x"}, types.TextEnd{TextID: "t"}, types.Finish{},
		},
		"text open at finish": {
			types.Start{}, types.TextStart{TextID: "t"}, types.TextDelta{TextID: "t", Delta: "x"}, types.Finish{},
		},
		"text then tool": {
			types.Start{}, types.TextStart{TextID: "t"}, types.TextDelta{TextID: "t", Delta: "x"},
			types.ToolInputStart{CallID: "c", ToolName: "n"}, types.ToolInputError{CallID: "c", Error: "bad"},
			types.Finish{},
		},
		"two texts": {
			types.Start{}, types.TextStart{TextID: "a"}, types.TextEnd{TextID: "a"},
			types.TextStart{TextID: "b"}, types.TextDelta{TextID: "b", Delta: "y"}, types.Finish{},
		},
	}

	for name, events := range sequences {
		t.Run(name, func(t *testing.T) {
			terminals, textOpen := 0, false
			for _, ev := range events {
				switch ev.Type() {
				case types.EventTypeTextStart:
					if textOpen {
						terminals++
					}
					textOpen = true
				case types.EventTypeTextEnd:
					textOpen = false
				case types.EventTypeToolInputStart:
					if textOpen {
						terminals++
						textOpen = false
					}
				}
				if ev.Type().ClosesPart() {
					terminals++
				}
			}
			if textOpen {
				terminals++
			}

			parts := message(t, apply(t, events...)).Parts
			if len(parts) != terminals {
				t.Errorf("parts = %d, want %d", len(parts), terminals)
			}
		})
	}
}

func TestAssembler_RejectsAfterFinish(t *testing.T) {
	a := apply(t, types.Start{MessageID: "m1"}, types.Finish{})
	if err := a.Apply(types.TextStart{TextID: "t"}); !errors.Is(err, ErrFinished) {
		t.Errorf("err = %v, want ErrFinished", err)
	}
	if !a.Finished() || a.MessageID() != "m1" {
		t.Errorf("finished = %v id = %q", a.Finished(), a.MessageID())
	}
}

func TestAssembler_NilEvent(t *testing.T) {
	if err := New().Apply(nil); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestAssembler_MessageBeforeFinish(t *testing.T) {
	a := apply(t, types.Start{MessageID: "m1"}, types.TextStart{TextID: "t"})
	if _, ok := a.Message(); ok {
		t.Error("message reported finished before Finish")
	}
	if a.Pending() != 1 {
		t.Errorf("pending = %d", a.Pending())
	}
}
