// Package openai implements provider.Provider on the OpenAI Chat
// Completions streaming API via github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vercel/ai-chatbot-sub000/provider"
	"github.com/vercel/ai-chatbot-sub000/types"
)

// Name is the provider name reported by Provider.
const Name = "openai"

// ChatClient captures the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Config configures the provider.
type Config struct {
	// APIKey authenticates against the API (required unless Client is set).
	APIKey string
	// BaseURL overrides the API endpoint (OpenAI-compatible gateways).
	BaseURL string
	// Model is used when a request leaves Model empty (required).
	Model string
	// Client overrides the HTTP client built from APIKey/BaseURL.
	Client ChatClient
}

// Provider streams chat completions from OpenAI.
type Provider struct {
	client ChatClient
	model  string
}

// New creates an OpenAI provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	client := cfg.Client
	if client == nil {
		if cfg.APIKey == "" {
			return nil, errors.New("openai: api key is required")
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		client = openai.NewClientWithConfig(oc)
	}
	return &Provider{client: client, model: cfg.Model}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// Stream implements provider.Provider.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	request, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	s, err := p.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai: open stream: %w", err)
	}
	return &stream{s: s}, nil
}

func (p *Provider) buildRequest(req provider.Request) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		msg, err := encodeMessage(m)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		messages = append(messages, msg)
	}

	request := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		MaxTokens:     req.MaxTokens,
	}
	if req.Temperature != nil {
		request.Temperature = float32(*req.Temperature)
	}
	for _, def := range req.Tools {
		request.Tools = append(request.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return request, nil
}

func encodeMessage(m provider.Message) (openai.ChatCompletionMessage, error) {
	switch m.Role {
	case provider.RoleTool:
		if m.ToolResult == nil {
			return openai.ChatCompletionMessage{}, errors.New("openai: tool message without result")
		}
		return openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    m.ToolResult.Content,
			ToolCallID: m.ToolResult.CallID,
		}, nil

	case types.RoleAssistant:
		msg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: provider.TextOf(m),
		}
		for _, c := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   c.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      c.Name,
					Arguments: string(c.Arguments),
				},
			})
		}
		return msg, nil

	case types.RoleSystem:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: provider.TextOf(m)}, nil
	}

	// User messages with only text stay plain; anything else is multi-part.
	textOnly := true
	for _, part := range m.Parts {
		if part.Type != types.ContentPartText {
			textOnly = false
		}
	}
	if textOnly {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: provider.TextOf(m)}, nil
	}

	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	for _, part := range m.Parts {
		switch part.Type {
		case types.ContentPartText:
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case types.ContentPartImage:
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: part.URL},
			})
		case types.ContentPartFile:
			// Chat Completions has no URL file parts; pass a reference.
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: fmt.Sprintf("[file %s (%s): %s]", part.Filename, part.MediaType, part.URL),
			})
		default:
			return openai.ChatCompletionMessage{}, provider.PartError(Name, part)
		}
	}
	return msg, nil
}

// stream adapts a go-openai stream. One response may carry several
// chunks, so they are queued; the finish reason and the trailing usage
// response are folded into one FinishChunk emitted at EOF.
type stream struct {
	s       *openai.ChatCompletionStream
	queue   []provider.Chunk
	reason  types.FinishReason
	usage   *types.Usage
	done    bool
	emitted bool
}

func (st *stream) Recv() (provider.Chunk, error) {
	for len(st.queue) == 0 {
		if st.done {
			if st.emitted {
				return nil, io.EOF
			}
			st.emitted = true
			reason := st.reason
			if reason == "" {
				reason = types.FinishReasonOther
			}
			return provider.FinishChunk{Reason: reason, Usage: st.usage}, nil
		}
		resp, err := st.s.Recv()
		if errors.Is(err, io.EOF) {
			st.done = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("openai: recv: %w", err)
		}
		st.absorb(resp)
	}
	c := st.queue[0]
	st.queue = st.queue[1:]
	return c, nil
}

func (st *stream) absorb(resp openai.ChatCompletionStreamResponse) {
	if resp.Usage != nil {
		st.usage = &types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, choice := range resp.Choices {
		if choice.Delta.Content != "" {
			st.queue = append(st.queue, provider.TextChunk{Text: choice.Delta.Content})
		}
		if choice.Delta.Refusal != "" {
			st.queue = append(st.queue, provider.UnknownChunk{Kind: "refusal"})
		}
		for i, tc := range choice.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			st.queue = append(st.queue, provider.ToolCallChunk{
				Index:     idx,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
			st.reason = mapFinishReason(choice.FinishReason)
		}
	}
}

func mapFinishReason(r openai.FinishReason) types.FinishReason {
	switch r {
	case openai.FinishReasonStop:
		return types.FinishReasonStop
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return types.FinishReasonToolCalls
	case openai.FinishReasonLength:
		return types.FinishReasonLength
	case openai.FinishReasonContentFilter:
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
