// Package types defines the domain model shared by the streaming pipeline:
// semantic events, chat and assembled messages, and stream sessions.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the author of a chat message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentPartType discriminates input content parts.
type ContentPartType string

// Input content part types.
const (
	ContentPartText  ContentPartType = "text"
	ContentPartImage ContentPartType = "image"
	ContentPartFile  ContentPartType = "file"
)

// ContentPart is one piece of a chat message sent by the client.
// Image and file parts are references (URL plus media type), never inline bytes.
type ContentPart struct {
	Type      ContentPartType `json:"type"`
	Text      string          `json:"text,omitempty"`
	URL       string          `json:"url,omitempty"`
	MediaType string          `json:"mediaType,omitempty"`
	Filename  string          `json:"filename,omitempty"`
}

// ChatMessage is one conversation message as submitted by the client.
type ChatMessage struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Parts     []ContentPart `json:"parts"`
	CreatedAt time.Time     `json:"createdAt,omitzero"`
}

// Text returns the concatenated text parts of the message.
func (m ChatMessage) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == ContentPartText {
			out += p.Text
		}
	}
	return out
}

// Validate checks the role and part discriminators.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("message %q: unknown role %q", m.ID, m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message %q: no parts", m.ID)
	}
	for i, p := range m.Parts {
		switch p.Type {
		case ContentPartText:
		case ContentPartImage, ContentPartFile:
			if p.URL == "" {
				return fmt.Errorf("message %q part %d: %s part requires url", m.ID, i, p.Type)
			}
		default:
			return fmt.Errorf("message %q part %d: unknown type %q", m.ID, i, p.Type)
		}
	}
	return nil
}

// PartType discriminates assembled message parts.
type PartType string

// Assembled part types.
const (
	PartTypeText      PartType = "text"
	PartTypeTool      PartType = "tool"
	PartTypeStepStart PartType = "step-start"
)

// PartState is the lifecycle state of an assembled part.
type PartState string

// Part states.
const (
	PartStateStreaming       PartState = "streaming"
	PartStateDone            PartState = "done"
	PartStateInputStreaming  PartState = "input-streaming"
	PartStateInputAvailable  PartState = "input-available"
	PartStateOutputAvailable PartState = "output-available"
)

// Part is one segment of an assembled assistant message.
// Type selects which fields are meaningful: Text for text parts;
// ToolName, CallID, Input and Output for tool parts; none for step-start.
type Part struct {
	Type     PartType        `json:"type"`
	State    PartState       `json:"state,omitempty"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	CallID   string          `json:"toolCallId,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
}

// AssembledMessage is the persisted form of one assistant turn.
type AssembledMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

// StoredMessage is a message as held by the persistence layer. Parts keeps
// the JSON form of either input content parts or assembled parts.
type StoredMessage struct {
	ID        string          `json:"id"`
	ChatID    string          `json:"chatId"`
	Role      Role            `json:"role"`
	Parts     json.RawMessage `json:"parts"`
	CreatedAt time.Time       `json:"createdAt"`
}

// StoredFromChat converts a client message for persistence.
func StoredFromChat(chatID string, m ChatMessage) (StoredMessage, error) {
	parts, err := json.Marshal(m.Parts)
	if err != nil {
		return StoredMessage{}, fmt.Errorf("marshal parts of %s: %w", m.ID, err)
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return StoredMessage{ID: m.ID, ChatID: chatID, Role: m.Role, Parts: parts, CreatedAt: created}, nil
}

// StoredFromAssembled converts an assembled assistant message for persistence.
func StoredFromAssembled(chatID string, m AssembledMessage) (StoredMessage, error) {
	parts := m.Parts
	if parts == nil {
		parts = []Part{}
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return StoredMessage{}, fmt.Errorf("marshal parts of %s: %w", m.ID, err)
	}
	return StoredMessage{ID: m.ID, ChatID: chatID, Role: m.Role, Parts: raw, CreatedAt: m.CreatedAt}, nil
}
