package types //nolint:revive // types is a valid package name

import (
	"testing"
)

func TestEventType_IsTerminal(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      bool
	}{
		{EventTypeFinish, true},
		{EventTypeError, false},
		{EventTypeStart, false},
		{EventTypeTextEnd, false},
		{EventTypeToolOutputAvailable, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			got := tt.eventType.IsTerminal()
			if got != tt.want {
				t.Errorf("EventType(%q).IsTerminal() = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestEventType_ClosesPart(t *testing.T) {
	closing := map[EventType]bool{
		EventTypeTextEnd:             true,
		EventTypeToolInputError:      true,
		EventTypeToolOutputAvailable: true,
		EventTypeToolOutputError:     true,
	}
	all := []EventType{
		EventTypeStart, EventTypeStartStep, EventTypeTextStart, EventTypeTextDelta, EventTypeTextEnd,
		EventTypeToolInputStart, EventTypeToolInputDelta, EventTypeToolInputAvailable,
		EventTypeToolInputError, EventTypeToolOutputAvailable, EventTypeToolOutputError,
		EventTypeFinish, EventTypeError,
	}
	for _, et := range all {
		if got := et.ClosesPart(); got != closing[et] {
			t.Errorf("EventType(%q).ClosesPart() = %v, want %v", et, got, closing[et])
		}
	}
}

func TestEvent_TypeMatchesVariant(t *testing.T) {
	events := map[EventType]Event{
		EventTypeStart:               Start{},
		EventTypeStartStep:           StartStep{},
		EventTypeTextStart:           TextStart{},
		EventTypeTextDelta:           TextDelta{},
		EventTypeTextEnd:             TextEnd{},
		EventTypeToolInputStart:      ToolInputStart{},
		EventTypeToolInputDelta:      ToolInputDelta{},
		EventTypeToolInputAvailable:  ToolInputAvailable{},
		EventTypeToolInputError:      ToolInputError{},
		EventTypeToolOutputAvailable: ToolOutputAvailable{},
		EventTypeToolOutputError:     ToolOutputError{},
		EventTypeFinish:              Finish{},
		EventTypeError:               ErrorEvent{},
	}
	for want, ev := range events {
		if got := ev.Type(); got != want {
			t.Errorf("%T.Type() = %q, want %q", ev, got, want)
		}
	}
}

func TestUsage_Add(t *testing.T) {
	var nilUsage *Usage
	if got := nilUsage.Add(nil); got != nil {
		t.Errorf("nil.Add(nil) = %+v, want nil", got)
	}

	a := &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	b := &Usage{PromptTokens: 20, CompletionTokens: 2, TotalTokens: 22}
	got := a.Add(b)
	want := Usage{PromptTokens: 30, CompletionTokens: 7, TotalTokens: 37}
	if *got != want {
		t.Errorf("Add = %+v, want %+v", *got, want)
	}
	if a.PromptTokens != 10 {
		t.Error("Add mutated receiver")
	}

	if got := nilUsage.Add(b); *got != *b {
		t.Errorf("nil.Add(b) = %+v, want %+v", *got, *b)
	}
}
