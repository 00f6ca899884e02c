// Package anthropic implements provider.Provider on the Anthropic Messages
// streaming API via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/vercel/ai-chatbot-sub000/provider"
	"github.com/vercel/ai-chatbot-sub000/types"
)

// Name is the provider name reported by Provider.
const Name = "anthropic"

// DefaultMaxTokens is sent when a request leaves MaxTokens unset; the
// Messages API requires it.
const DefaultMaxTokens = 4096

// MessagesClient captures the subset of the SDK used here. It is
// satisfied by *sdk.MessageService.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Config configures the provider.
type Config struct {
	// APIKey authenticates against the API (required unless Client is set).
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// Model is used when a request leaves Model empty (required).
	Model string
	// Client overrides the SDK client built from APIKey/BaseURL.
	Client MessagesClient
}

// Provider streams messages from Anthropic.
type Provider struct {
	messages MessagesClient
	model    string
}

// New creates an Anthropic provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	messages := cfg.Client
	if messages == nil {
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic: api key is required")
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		client := sdk.NewClient(opts...)
		messages = &client.Messages
	}
	return &Provider{messages: messages, model: cfg.Model}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// Stream implements provider.Provider.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	s := p.messages.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: open stream: %w", err)
	}
	return &stream{s: s}, nil
}

func (p *Provider) buildParams(req provider.Request) (sdk.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	for _, def := range req.Tools {
		params.Tools = append(params.Tools, encodeTool(def))
	}
	return params, nil
}

// encodeMessages maps the conversation. Consecutive tool results are
// merged into one user message, as the API requires.
func encodeMessages(msgs []provider.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	var pendingResults []sdk.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, sdk.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range msgs {
		if m.Role == provider.RoleTool {
			if m.ToolResult == nil {
				return nil, errors.New("anthropic: tool message without result")
			}
			r := m.ToolResult
			pendingResults = append(pendingResults, sdk.NewToolResultBlock(r.CallID, r.Content, r.IsError))
			continue
		}
		flushResults()

		var blocks []sdk.ContentBlockParamUnion
		for _, part := range m.Parts {
			switch part.Type {
			case types.ContentPartText:
				if part.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(part.Text))
				}
			case types.ContentPartImage:
				blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: part.URL}))
			case types.ContentPartFile:
				blocks = append(blocks, sdk.NewTextBlock(fmt.Sprintf("[file %s (%s): %s]", part.Filename, part.MediaType, part.URL)))
			default:
				return nil, provider.PartError(Name, part)
			}
		}
		for _, c := range m.ToolCalls {
			var input any = map[string]any{}
			if len(c.Arguments) > 0 {
				if err := json.Unmarshal(c.Arguments, &input); err != nil {
					return nil, fmt.Errorf("anthropic: tool call %s arguments: %w", c.ID, err)
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(c.ID, input, c.Name))
		}
		if len(blocks) == 0 {
			continue
		}

		switch m.Role {
		case types.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			// System content travels in params.System; inline system
			// messages are sent as user turns.
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	flushResults()
	return out, nil
}

func encodeTool(def provider.ToolDefinition) sdk.ToolUnionParam {
	schema := sdk.ToolInputSchemaParam{
		Properties:  def.Parameters["properties"],
		ExtraFields: make(map[string]any),
	}
	switch req := def.Parameters["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	for k, v := range def.Parameters {
		if k != "type" && k != "properties" && k != "required" {
			schema.ExtraFields[k] = v
		}
	}

	param := sdk.ToolUnionParamOfTool(schema, def.Name)
	if def.Description != "" && param.OfTool != nil {
		param.OfTool.Description = sdk.String(def.Description)
	}
	return param
}

// stream adapts the SDK event stream. Usage and stop reason come from the
// accumulated message and are emitted as one FinishChunk at the end.
type stream struct {
	s        *ssestream.Stream[sdk.MessageStreamEventUnion]
	message  sdk.Message
	started  bool
	finished bool
}

func (st *stream) Recv() (provider.Chunk, error) {
	for !st.finished {
		if !st.s.Next() {
			if err := st.s.Err(); err != nil {
				return nil, fmt.Errorf("anthropic: stream: %w", err)
			}
			st.finished = true
			break
		}
		event := st.s.Current()
		if err := st.message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic: accumulate: %w", err)
		}
		if event.Type == "message_start" {
			st.started = true
		}
		if c, ok := translate(event); ok {
			return c, nil
		}
	}

	if !st.started {
		return nil, io.EOF
	}
	st.started = false
	c := provider.FinishChunk{
		Reason: mapStopReason(st.message.StopReason),
		Usage: &types.Usage{
			PromptTokens:     int(st.message.Usage.InputTokens),
			CompletionTokens: int(st.message.Usage.OutputTokens),
			TotalTokens:      int(st.message.Usage.InputTokens + st.message.Usage.OutputTokens),
		},
	}
	return c, nil
}

// translate maps one SDK event. ok is false for events that carry nothing
// for the pipeline (message bookkeeping, block stops, pings).
func translate(event sdk.MessageStreamEventUnion) (provider.Chunk, bool) {
	switch e := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		switch e.ContentBlock.Type {
		case "tool_use":
			return provider.ToolCallChunk{Index: int(e.Index), ID: e.ContentBlock.ID, Name: e.ContentBlock.Name}, true
		case "text":
			return nil, false
		default:
			return provider.UnknownChunk{Kind: "content_block_start:" + string(e.ContentBlock.Type)}, true
		}

	case sdk.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			return provider.TextChunk{Text: e.Delta.Text}, true
		case "input_json_delta":
			return provider.ToolCallChunk{Index: int(e.Index), Arguments: e.Delta.PartialJSON}, true
		default:
			return provider.UnknownChunk{Kind: "content_block_delta:" + string(e.Delta.Type)}, true
		}

	case sdk.MessageStartEvent, sdk.MessageDeltaEvent, sdk.MessageStopEvent, sdk.ContentBlockStopEvent:
		return nil, false

	default:
		return provider.UnknownChunk{Kind: string(event.Type)}, true
	}
}

func mapStopReason(r sdk.StopReason) types.FinishReason {
	switch r {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return types.FinishReasonStop
	case sdk.StopReasonToolUse:
		return types.FinishReasonToolCalls
	case sdk.StopReasonMaxTokens:
		return types.FinishReasonLength
	case sdk.StopReasonRefusal:
		return types.FinishReasonContentFilter
	default:
		return types.FinishReasonOther
	}
}

func (st *stream) Close() error {
	return st.s.Close()
}

// Verify Provider implements provider.Provider.
var _ provider.Provider = (*Provider)(nil)
