package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/parley/internal/store"
	"go.uber.org/zap"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return NewLog(store.NewMemory(), zap.NewNop())
}

func TestCreateAndGetConversation(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	conv, err := log.CreateConversation(ctx, "agent-1", "Sales Chat #1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected non-empty id")
	}

	got, err := log.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AgentID != "agent-1" || got.Title != "Sales Chat #1" {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(conv.CreatedAt) {
		t.Errorf("created_at changed in round-trip: %v vs %v", got.CreatedAt, conv.CreatedAt)
	}
}

func TestCreateConversationDoesNotValidateAgent(t *testing.T) {
	log := newTestLog(t)
	// No agent exists anywhere; creation still succeeds.
	conv, err := log.CreateConversation(context.Background(), "no-such-agent", "")
	if err != nil {
		t.Fatalf("create with dangling agent id: %v", err)
	}
	if conv.AgentID != "no-such-agent" {
		t.Errorf("agent_id = %q", conv.AgentID)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	log := newTestLog(t)
	if _, err := log.GetConversation(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversationsSortedDesc(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"one", "two", "three"} {
		c, err := log.CreateConversation(ctx, "agent-1", title)
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		ids = append(ids, c.ID)
		time.Sleep(2 * time.Millisecond)
	}

	convs, err := log.ListConversations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 3 {
		t.Fatalf("expected 3, got %d", len(convs))
	}
	if convs[0].ID != ids[2] || convs[2].ID != ids[0] {
		t.Errorf("not sorted created_at desc: %v", convs)
	}
}

func TestAppendAndListMessagesMonotonic(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	conv, err := log.CreateConversation(ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 5
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := log.AppendMessage(ctx, conv.ID, role, "msg", nil, i); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	msgs, err := log.ListMessages(ctx, conv.ID, 100, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("created_at not non-decreasing at %d", i)
		}
	}
	// Token fields survive the round-trip in order.
	for i, m := range msgs {
		if m.TokenUsage != i {
			t.Errorf("message %d token_usage = %d", i, m.TokenUsage)
		}
	}
}

func TestListMessagesScopedToConversation(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	a, _ := log.CreateConversation(ctx, "agent-1", "")
	b, _ := log.CreateConversation(ctx, "agent-1", "")

	if _, err := log.AppendMessage(ctx, a.ID, RoleUser, "for a", nil, 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := log.AppendMessage(ctx, b.ID, RoleUser, "for b", nil, 1); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := log.ListMessages(ctx, a.ID, 100, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "for a" {
		t.Errorf("term filter leaked: %v", msgs)
	}
}

func TestMessageAttachmentsFrozen(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	conv, _ := log.CreateConversation(ctx, "agent-1", "")
	atts := []Attachment{{ID: "f1", Filename: "invoice.pdf", URL: "http://example.com/presigned"}}
	if _, err := log.AppendMessage(ctx, conv.ID, RoleUser, "see file", atts, 4); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := log.ListMessages(ctx, conv.ID, 100, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0].Attachments) != 1 {
		t.Fatalf("attachments lost: %v", msgs)
	}
	a := msgs[0].Attachments[0]
	if a.ID != "f1" || a.Filename != "invoice.pdf" || a.URL != "http://example.com/presigned" {
		t.Errorf("attachment = %+v", a)
	}
}

func TestTotalTokenUsage(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	conv, _ := log.CreateConversation(ctx, "agent-1", "")

	total, err := log.TotalTokenUsage(ctx, conv.ID)
	if err != nil {
		t.Fatalf("sum empty: %v", err)
	}
	if total != 0 {
		t.Errorf("empty conversation total = %d, want 0", total)
	}

	for _, usage := range []int{3, 7, 12} {
		if _, err := log.AppendMessage(ctx, conv.ID, RoleUser, "x", nil, usage); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// A different conversation must not leak into the sum.
	other, _ := log.CreateConversation(ctx, "agent-1", "")
	log.AppendMessage(ctx, other.ID, RoleUser, "y", nil, 1000)

	total, err = log.TotalTokenUsage(ctx, conv.ID)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 22 {
		t.Errorf("total = %d, want 22", total)
	}
}
