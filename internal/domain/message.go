package domain

import "strings"

// ContentType is the closed set of message payload kinds.
type ContentType string

// ContentText is the only payload kind carried today.
const ContentText ContentType = "text"

// Valid reports whether t is a known content type. An empty type is treated as text.
func (t ContentType) Valid() bool {
	return t == "" || t == ContentText
}

// Role is the author of a Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Content is the payload block of an A2A message.
type Content struct {
	Text string      `json:"text"`
	Type ContentType `json:"type"`
}

// Message is a single A2A message. It is a value type; use WithText to derive a copy.
type Message struct {
	Content        Content `json:"content"`
	Role           Role    `json:"role"`
	ConversationID string  `json:"conversation_id,omitempty"`
}

// NewTextMessage builds a text message for the given role.
func NewTextMessage(role Role, text, conversationID string) Message {
	return Message{
		Content:        Content{Text: text, Type: ContentText},
		Role:           role,
		ConversationID: conversationID,
	}
}

// Text returns the message text.
func (m Message) Text() string { return m.Content.Text }

// WithText returns a copy of m with its text replaced.
func (m Message) WithText(text string) Message {
	m.Content.Text = text
	if m.Content.Type == "" {
		m.Content.Type = ContentText
	}
	return m
}

// Validate checks the envelope fields the router depends on.
func (m Message) Validate() error {
	if !m.Content.Type.Valid() {
		return NewDomainError("Message.Validate", ErrInvalidInput, "unsupported content type "+string(m.Content.Type))
	}
	if strings.TrimSpace(m.Content.Text) == "" {
		return NewDomainError("Message.Validate", ErrInvalidInput, "empty message text")
	}
	return nil
}
