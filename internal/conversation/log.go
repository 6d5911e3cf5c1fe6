package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/parley/internal/document"
	"github.com/nidhogg/parley/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const (
	// ConversationCollection holds conversation records.
	ConversationCollection = "conversations"
	// MessageCollection holds the append-only message log.
	MessageCollection = "messages"
)

// ErrNotFound is returned when a conversation id does not resolve.
var ErrNotFound = errors.New("conversation not found")

// Log owns conversation and message documents. Messages are append-only and
// immutable once written; no update or delete exists on them.
type Log struct {
	store  store.DocumentStore
	logger *zap.Logger
}

// NewLog creates a conversation log on the given document store.
func NewLog(s store.DocumentStore, logger *zap.Logger) *Log {
	return &Log{store: s, logger: logger}
}

// CreateConversation writes a new conversation record. The agent id is
// stored as-is; it is not validated against the agent collection.
func (l *Log) CreateConversation(ctx context.Context, agentID, title string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Title:     title,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	doc := document.Document{
		"agent_id":   conv.AgentID,
		"title":      conv.Title,
		"created_at": conv.CreatedAt,
	}
	if err := l.store.Index(ctx, ConversationCollection, conv.ID, doc); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	l.logger.Info("conversation created",
		zap.String("id", conv.ID), zap.String("agent_id", agentID))
	return conv, nil
}

// GetConversation fetches a conversation by id.
func (l *Log) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	doc, err := l.store.Get(ctx, ConversationCollection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conversationFromDocument(id, doc)
}

// ListConversations returns conversations sorted by created_at descending.
func (l *Log) ListConversations(ctx context.Context, size, from int) ([]*Conversation, error) {
	hits, err := l.store.Search(ctx, ConversationCollection, store.Query{
		SortField: "created_at",
		SortAsc:   false,
		From:      from,
		Size:      size,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Conversation, 0, len(hits))
	for _, h := range hits {
		c, err := conversationFromDocument(h.ID, h.Source)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// AppendMessage writes one immutable message with id and created_at
// assigned here.
func (l *Log) AppendMessage(ctx context.Context, conversationID string, role Role, content string, attachments []Attachment, tokenUsage int) (*Message, error) {
	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Attachments:    attachments,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		TokenUsage:     tokenUsage,
	}
	if msg.Attachments == nil {
		msg.Attachments = []Attachment{}
	}

	atts := make([]any, len(msg.Attachments))
	for i, a := range msg.Attachments {
		atts[i] = map[string]any{"id": a.ID, "filename": a.Filename, "url": a.URL}
	}
	doc := document.Document{
		"conversation_id": msg.ConversationID,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"attachments":     atts,
		"created_at":      msg.CreatedAt,
		"token_usage":     msg.TokenUsage,
	}
	if err := l.store.Index(ctx, MessageCollection, msg.ID, doc); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a conversation's messages sorted by created_at
// ascending.
func (l *Log) ListMessages(ctx context.Context, conversationID string, size, from int) ([]*Message, error) {
	hits, err := l.store.Search(ctx, MessageCollection, store.Query{
		Term:      map[string]any{"conversation_id": conversationID},
		SortField: "created_at",
		SortAsc:   true,
		From:      from,
		Size:      size,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(hits))
	for _, h := range hits {
		m, err := messageFromDocument(h.ID, h.Source)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// TotalTokenUsage sums the stored per-message token figures for the
// conversation on the store side. No messages sum to 0.
func (l *Log) TotalTokenUsage(ctx context.Context, conversationID string) (int, error) {
	total, err := l.store.Sum(ctx, MessageCollection,
		map[string]any{"conversation_id": conversationID}, "token_usage")
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

func conversationFromDocument(id string, doc document.Document) (*Conversation, error) {
	raw, err := bson.Marshal(bson.M(doc))
	if err != nil {
		return nil, fmt.Errorf("encode conversation %s: %w", id, err)
	}
	var c Conversation
	if err := bson.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	c.ID = id
	return &c, nil
}

func messageFromDocument(id string, doc document.Document) (*Message, error) {
	raw, err := bson.Marshal(bson.M(doc))
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", id, err)
	}
	var m Message
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	m.ID = id
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	return &m, nil
}
