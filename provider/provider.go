// Package provider defines the contract between the streaming pipeline and
// a language-model backend.
//
// A backend turns a Request into a Stream of Chunks. Chunks form a closed
// set: text tokens, tool-call argument fragments, one terminal Finish, and
// an Unknown arm for anything the backend could not classify. Consumers
// switch exhaustively over the concrete types.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vercel/ai-chatbot-sub000/types"
)

// ErrUnsupported is returned when a request uses a feature the backend
// cannot express (for example a content part type it has no mapping for).
var ErrUnsupported = errors.New("provider: unsupported")

// RoleTool marks a message carrying one tool result.
const RoleTool types.Role = "tool"

// Provider is a streaming chat-completion backend.
type Provider interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Stream starts a completion. The returned Stream must be closed.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields chunks of one model round.
type Stream interface {
	// Recv returns the next chunk, or io.EOF after the terminal FinishChunk.
	Recv() (Chunk, error)
	// Close releases the underlying connection.
	Close() error
}

// Request is one model round.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	// Temperature is optional; nil leaves the backend default.
	Temperature *float64
	// MaxTokens caps completion length; zero leaves the backend default.
	MaxTokens int
}

// Message is one conversation entry in backend-neutral form.
type Message struct {
	Role  types.Role
	Parts []types.ContentPart
	// ToolCalls holds the calls an assistant message requested.
	ToolCalls []ToolCall
	// ToolResult is set on RoleTool messages.
	ToolResult *ToolResult
}

// ToolCall is a completed tool invocation request from the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of one tool call fed back to the model.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object.
	Parameters map[string]any
}

// Chunk is one provider-neutral stream element.
type Chunk interface {
	isChunk()
}

// TextChunk is a text token.
type TextChunk struct {
	Text string
}

// ToolCallChunk is a fragment of a tool call. Index identifies the call
// within the round; ID and Name are set on the first fragment only.
type ToolCallChunk struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// FinishChunk ends the round.
type FinishChunk struct {
	Reason types.FinishReason
	Usage  *types.Usage
}

// UnknownChunk is a backend event with no mapping. Kind names it for logs.
type UnknownChunk struct {
	Kind string
}

func (TextChunk) isChunk()     {}
func (ToolCallChunk) isChunk() {}
func (FinishChunk) isChunk()   {}
func (UnknownChunk) isChunk()  {}

// FromChat converts client chat messages into provider messages.
func FromChat(msgs []types.ChatMessage) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{Role: m.Role, Parts: m.Parts})
	}
	return out
}

// TextOf joins the text parts of m.
func TextOf(m Message) string {
	var s string
	for _, p := range m.Parts {
		if p.Type == types.ContentPartText {
			s += p.Text
		}
	}
	return s
}

// PartError wraps ErrUnsupported for a content part a backend cannot map.
func PartError(backend string, p types.ContentPart) error {
	return fmt.Errorf("%s: content part %q: %w", backend, p.Type, ErrUnsupported)
}
