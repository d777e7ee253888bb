package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageRole identifies the author of a history message.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// IsValid checks if the message role is valid.
func (r MessageRole) IsValid() bool {
	switch r {
	case MessageRoleSystem, MessageRoleUser, MessageRoleAssistant, MessageRoleTool:
		return true
	default:
		return false
	}
}

// MessagePartType discriminates structured content parts.
type MessagePartType string

const (
	MessagePartText              MessagePartType = "text"
	MessagePartImage             MessagePartType = "image"
	MessagePartFile              MessagePartType = "file"
	MessagePartToolCall          MessagePartType = "tool-call"
	MessagePartReasoning         MessagePartType = "reasoning"
	MessagePartRedactedReasoning MessagePartType = "redacted-reasoning"
)

// MessagePart is one element of structured message content.
type MessagePart struct {
	Type MessagePartType `json:"type"`
	Text string          `json:"text,omitempty"`
	Data map[string]any  `json:"data,omitempty"`
}

// MessageContent is either a plain string or a list of structured parts.
// On the wire it serializes to a JSON string or a JSON array respectively.
// The engine treats content opaquely except for this discrimination.
type MessageContent struct {
	Text  string
	Parts []MessagePart
}

// IsText reports whether the content is a plain string.
func (c MessageContent) IsText() bool { return c.Parts == nil }

// AsText flattens the content to a single string for prompt rendering.
// Structured parts contribute their text fields joined by newlines.
func (c MessageContent) AsText() string {
	if c.Parts == nil {
		return c.Text
	}
	out := ""
	for _, p := range c.Parts {
		if p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// TextContent builds string content.
func TextContent(s string) MessageContent { return MessageContent{Text: s} }

// PartsContent builds structured content.
func PartsContent(parts ...MessagePart) MessageContent {
	if parts == nil {
		parts = []MessagePart{}
	}
	return MessageContent{Parts: parts}
}

// MarshalJSON emits a string for plain content and an array for parts.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a JSON string or an array of parts.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	var parts []MessagePart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("message content must be a string or an array of parts: %w", err)
	}
	c.Text = ""
	c.Parts = parts
	return nil
}

// Message is one append-only history record attached to a job. User messages
// carry string content; other roles may carry structured parts.
type Message struct {
	ID        string         `json:"id"`
	JobID     string         `json:"jobId"`
	Role      MessageRole    `json:"role"`
	Content   MessageContent `json:"content"`
	Source    string         `json:"source,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Validate enforces the role/content invariant.
func (m *Message) Validate() error {
	if !m.Role.IsValid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	if m.Role == MessageRoleUser && !m.Content.IsText() {
		return fmt.Errorf("user messages must carry string content")
	}
	return nil
}
