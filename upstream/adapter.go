// Package upstream drives a model provider for one assistant turn and
// normalizes its chunks into the semantic event vocabulary.
//
// The adapter executes requested tools inline and, when MaxToolTurns
// allows, re-queries the model with the tool results appended. One Start
// and exactly one Finish bracket every turn regardless of how many model
// rounds it took or whether any of them failed.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/vercel/ai-chatbot-sub000/log"
	"github.com/vercel/ai-chatbot-sub000/metrics"
	"github.com/vercel/ai-chatbot-sub000/provider"
	"github.com/vercel/ai-chatbot-sub000/tools"
	"github.com/vercel/ai-chatbot-sub000/types"
)

// DefaultMaxToolTurns is the number of model rounds allowed per turn.
const DefaultMaxToolTurns = 5

// ErrNoFinish is reported when a provider stream ends without a finish chunk.
var ErrNoFinish = errors.New("provider stream ended without finish")

// Config configures an Adapter.
type Config struct {
	// Provider is the model backend (required).
	Provider provider.Provider
	// Tools resolves tool calls. Nil means no tools are offered.
	Tools *tools.Registry

	Model        string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
	// MaxToolTurns bounds model rounds per turn. Values below 1 mean 1.
	MaxToolTurns int

	Logger    *log.Logger
	Collector *metrics.Collector
	// NewID generates message, text and fallback call ids (default uuid).
	NewID func() string
}

// Turn is the input of one assistant turn.
type Turn struct {
	Messages []types.ChatMessage
	// Model overrides Config.Model when set.
	Model string
	// Temperature overrides Config.Temperature when set.
	Temperature *float64
}

// Adapter produces semantic event sequences from a provider.
// Safe for concurrent use; each Run is independent.
type Adapter struct {
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
}

// New creates an adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.Provider == nil {
		return nil, errors.New("upstream: provider is required")
	}
	if cfg.MaxToolTurns < 1 {
		cfg.MaxToolTurns = 1
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Adapter{
		config:    cfg,
		logger:    cfg.Logger.WithComponent("upstream"),
		collector: cfg.Collector,
	}, nil
}

// Run starts the turn and returns its events. The channel is closed after
// Finish, or early when ctx is cancelled. Cancelling ctx cancels the
// provider call; tool invocations already running complete under their
// own timeout.
func (a *Adapter) Run(ctx context.Context, turn Turn) <-chan types.Event {
	out := make(chan types.Event)
	go func() {
		defer close(out)
		r := &run{
			adapter: a,
			ctx:     ctx,
			out:     out,
			logger:  a.logger,
		}
		r.turn(turn)
	}()
	return out
}

// run is the state of one turn.
type run struct {
	adapter *Adapter
	ctx     context.Context
	out     chan<- types.Event
	logger  *log.Logger

	textID string
	usage  *types.Usage
}

// emit sends ev, returning false once the consumer is gone.
func (r *run) emit(ev types.Event) bool {
	select {
	case r.out <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) turn(turn Turn) {
	cfg := r.adapter.config
	req := provider.Request{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Messages:     provider.FromChat(turn.Messages),
		Tools:        cfg.Tools.Definitions(),
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}
	if turn.Model != "" {
		req.Model = turn.Model
	}
	if turn.Temperature != nil {
		req.Temperature = turn.Temperature
	}

	if !r.emit(types.Start{MessageID: cfg.NewID()}) {
		return
	}

	for round := 1; ; round++ {
		if round > 1 && !r.emit(types.StartStep{}) {
			return
		}
		res, err := r.round(req)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.fail(err)
			return
		}
		if res.consumerGone {
			return
		}
		if res.reason != types.FinishReasonToolCalls || len(res.calls) == 0 || round >= cfg.MaxToolTurns {
			r.emit(types.Finish{FinishReason: res.reason, Usage: r.usage})
			return
		}
		req.Messages = append(req.Messages, res.followUp()...)
	}
}

// fail reports a provider error. Finish follows without usage.
func (r *run) fail(err error) {
	r.logger.Warn("provider stream failed", map[string]any{
		"provider": r.adapter.config.Provider.Name(),
		"error":    err.Error(),
	})
	if !r.emit(types.ErrorEvent{Message: err.Error()}) {
		return
	}
	r.emit(types.Finish{FinishReason: types.FinishReasonError})
}

// pendingCall accumulates the fragments of one tool call.
type pendingCall struct {
	id      string
	name    string
	args    bytes.Buffer
	started bool
}

// executedCall is a tool call and its outcome, fed back to the model.
type executedCall struct {
	call   provider.ToolCall
	result provider.ToolResult
}

// roundResult summarizes one model round.
type roundResult struct {
	reason       types.FinishReason
	calls        []executedCall
	consumerGone bool
}

// followUp returns the assistant tool-call message and the tool results
// that extend the conversation for the next round.
func (res roundResult) followUp() []provider.Message {
	assistant := provider.Message{Role: types.RoleAssistant}
	msgs := make([]provider.Message, 0, len(res.calls)+1)
	for _, c := range res.calls {
		assistant.ToolCalls = append(assistant.ToolCalls, c.call)
	}
	msgs = append(msgs, assistant)
	for _, c := range res.calls {
		result := c.result
		msgs = append(msgs, provider.Message{Role: provider.RoleTool, ToolResult: &result})
	}
	return msgs
}

// round streams one provider call. A non-nil error is a provider failure.
func (r *run) round(req provider.Request) (roundResult, error) {
	stream, err := r.adapter.config.Provider.Stream(r.ctx, req)
	if err != nil {
		return roundResult{}, err
	}
	defer func() { _ = stream.Close() }()

	var (
		calls []*pendingCall
		index = make(map[int]*pendingCall)
	)
	gone := roundResult{consumerGone: true}

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return roundResult{}, ErrNoFinish
		}
		if err != nil {
			return roundResult{}, err
		}

		switch c := chunk.(type) {
		case provider.TextChunk:
			if c.Text == "" {
				continue
			}
			if r.textID == "" {
				r.textID = r.adapter.config.NewID()
				if !r.emit(types.TextStart{TextID: r.textID}) {
					return gone, nil
				}
			}
			if !r.emit(types.TextDelta{TextID: r.textID, Delta: c.Text}) {
				return gone, nil
			}

		case provider.ToolCallChunk:
			pc := index[c.Index]
			if pc == nil {
				pc = &pendingCall{}
				index[c.Index] = pc
				calls = append(calls, pc)
			}
			if c.ID != "" {
				pc.id = c.ID
			}
			if c.Name != "" {
				pc.name = c.Name
			}
			pc.args.WriteString(c.Arguments)
			if !pc.started {
				if pc.name == "" {
					continue
				}
				if !r.startCall(pc) {
					return gone, nil
				}
				continue
			}
			if c.Arguments != "" && !r.emit(types.ToolInputDelta{CallID: pc.id, Delta: c.Arguments}) {
				return gone, nil
			}

		case provider.FinishChunk:
			r.usage = r.usage.Add(c.Usage)
			reason := c.Reason
			if reason == "" {
				reason = types.FinishReasonStop
			}
			if reason != types.FinishReasonToolCalls {
				if !r.endText() {
					return gone, nil
				}
				return roundResult{reason: reason}, nil
			}
			executed, ok := r.execute(calls)
			if !ok {
				return gone, nil
			}
			return roundResult{reason: reason, calls: executed}, nil

		case provider.UnknownChunk:
			r.adapter.collector.IncUnknownProviderChunk()
			r.logger.Warn("unknown provider chunk", map[string]any{
				"provider": r.adapter.config.Provider.Name(),
				"kind":     c.Kind,
			})

		default:
			r.adapter.collector.IncUnknownProviderChunk()
			r.logger.Warn("unknown provider chunk", map[string]any{
				"provider": r.adapter.config.Provider.Name(),
				"kind":     fmt.Sprintf("%T", chunk),
			})
		}
	}
}

// startCall emits ToolInputStart and any argument text buffered before
// the tool name was known.
func (r *run) startCall(pc *pendingCall) bool {
	if pc.id == "" {
		pc.id = "call_" + r.adapter.config.NewID()
	}
	pc.started = true
	if !r.emit(types.ToolInputStart{CallID: pc.id, ToolName: pc.name}) {
		return false
	}
	if pc.args.Len() > 0 {
		return r.emit(types.ToolInputDelta{CallID: pc.id, Delta: pc.args.String()})
	}
	return true
}

// endText closes the open text segment, if any.
func (r *run) endText() bool {
	if r.textID == "" {
		return true
	}
	id := r.textID
	r.textID = ""
	return r.emit(types.TextEnd{TextID: id})
}

// execute parses and invokes every pending call in index order. Calls
// whose arguments do not parse are reported and never invoked; the model
// still receives an error result for them on the next round.
func (r *run) execute(calls []*pendingCall) ([]executedCall, bool) {
	// Text left open before the calls is finalized by the assembler.
	r.textID = ""

	executed := make([]executedCall, 0, len(calls))
	for _, pc := range calls {
		if !pc.started && !r.startCall(pc) {
			return nil, false
		}
		raw := pc.args.String()
		input, err := parseArguments(raw)
		if err != nil {
			if !r.emit(types.ToolInputError{CallID: pc.id, ToolName: pc.name, RawInput: raw, Error: err.Error()}) {
				return nil, false
			}
			executed = append(executed, executedCall{
				call:   provider.ToolCall{ID: pc.id, Name: pc.name, Arguments: json.RawMessage(`{}`)},
				result: provider.ToolResult{CallID: pc.id, Name: pc.name, Content: "invalid tool arguments: " + err.Error(), IsError: true},
			})
			continue
		}
		if !r.emit(types.ToolInputAvailable{CallID: pc.id, ToolName: pc.name, Input: input}) {
			return nil, false
		}

		call := provider.ToolCall{ID: pc.id, Name: pc.name, Arguments: input}
		output, err := r.adapter.config.Tools.Invoke(context.WithoutCancel(r.ctx), pc.name, input)
		if err != nil {
			if !r.emit(types.ToolOutputError{CallID: pc.id, Error: err.Error()}) {
				return nil, false
			}
			executed = append(executed, executedCall{
				call:   call,
				result: provider.ToolResult{CallID: pc.id, Name: pc.name, Content: err.Error(), IsError: true},
			})
			continue
		}
		if !r.emit(types.ToolOutputAvailable{CallID: pc.id, Output: output}) {
			return nil, false
		}
		executed = append(executed, executedCall{
			call:   call,
			result: provider.ToolResult{CallID: pc.id, Name: pc.name, Content: string(output)},
		})
	}
	return executed, true
}

// parseArguments validates raw tool arguments and returns them compacted.
// Empty arguments are an empty object.
func parseArguments(raw string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("parse tool arguments: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("parse tool arguments: %w", err)
	}
	return buf.Bytes(), nil
}
