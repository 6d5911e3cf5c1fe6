package conversation

import (
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation groups an append-only message history under one agent. The
// agent reference is by id only and is not validated at creation time.
type Conversation struct {
	ID        string    `json:"id" bson:"-"`
	AgentID   string    `json:"agent_id" bson:"agent_id"`
	Title     string    `json:"title,omitempty" bson:"title"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Attachment is a file reference frozen into a message at append time. The
// presigned URL expires on its own schedule; the stored history keeps the
// URL it was written with.
type Attachment struct {
	ID       string `json:"id" bson:"id"`
	Filename string `json:"filename" bson:"filename"`
	URL      string `json:"url" bson:"url"`
}

// Message is one immutable entry in a conversation's history.
type Message struct {
	ID             string       `json:"id" bson:"-"`
	ConversationID string       `json:"conversation_id" bson:"conversation_id"`
	Role           Role         `json:"role" bson:"role"`
	Content        string       `json:"content" bson:"content"`
	Attachments    []Attachment `json:"attachments" bson:"attachments"`
	CreatedAt      time.Time    `json:"created_at" bson:"created_at"`
	TokenUsage     int          `json:"token_usage" bson:"token_usage"`
}

// AttachmentRef names an uploaded file in an incoming message; the access
// URL is resolved at send time.
type AttachmentRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// MessageCreate is an incoming user message.
type MessageCreate struct {
	Content     string          `json:"content"`
	Attachments []AttachmentRef `json:"attachments"`
}

// Started is the result of opening a conversation: the record plus the
// agent's welcome message when the agent resolves.
type Started struct {
	Conversation
	WelcomeMessage string `json:"welcome_message,omitempty"`
}

// WithMessages is a conversation together with its full ordered history.
type WithMessages struct {
	Conversation
	Messages []*Message `json:"messages"`
}
