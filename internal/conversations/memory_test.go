package conversations

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

func TestMemoryStore_AddMessage(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "chat")
	if err != nil {
		t.Fatal(err)
	}
	if conv.UUID == "" {
		t.Error("conversation should get a uuid")
	}

	msg, err := store.AddMessage(ctx, conv.ID, models.RoleUser, "hello world!",
		[]models.Attachment{models.NewAttachment("/tmp/pic.png", "image/png", 1024)},
		[]models.ToolCall{{ID: "tc-1", Name: "ocr_extract", Input: json.RawMessage(`{}`)}},
	)
	if err != nil {
		t.Fatal(err)
	}

	// len("hello world!") == 12, ceil(12/4) == 3
	if msg.TokenCount != 3 {
		t.Errorf("TokenCount = %d, want 3", msg.TokenCount)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Type != models.AttachmentImage {
		t.Errorf("attachments = %+v", msg.Attachments)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Status != models.ToolCallPending {
		t.Errorf("tool calls = %+v", msg.ToolCalls)
	}

	// AddMessage bumps the parent's UpdatedAt.
	updated, _ := store.GetConversation(ctx, conv.ID)
	if updated.UpdatedAt.Before(conv.UpdatedAt) {
		t.Error("UpdatedAt not bumped")
	}
}

func TestMemoryStore_AddMessageUnknownConversation(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.AddMessage(context.Background(), 42, models.RoleUser, "x", nil, nil); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_MessagesAfter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "")

	var ids []int64
	for i := 0; i < 5; i++ {
		msg, err := store.AddMessage(ctx, conv.ID, models.RoleUser, "m", nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, msg.ID)
	}

	after, err := store.MessagesAfter(ctx, conv.ID, ids[2])
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 {
		t.Fatalf("len = %d, want 2", len(after))
	}
	if after[0].ID != ids[3] || after[1].ID != ids[4] {
		t.Errorf("got ids %d,%d want %d,%d", after[0].ID, after[1].ID, ids[3], ids[4])
	}
}

func TestMemoryStore_UpdateToolCall(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "")
	_, err := store.AddMessage(ctx, conv.ID, models.RoleAssistant, "working",
		nil, []models.ToolCall{{ID: "tc-1", Name: "file_read"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.UpdateToolCall(ctx, "tc-1", models.ToolCallRunning, nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateToolCall(ctx, "tc-1", models.ToolCallSuccess, json.RawMessage(`{"ok":true}`), 120); err != nil {
		t.Fatal(err)
	}

	// Forward-only: a completed call cannot go back to running.
	if err := store.UpdateToolCall(ctx, "tc-1", models.ToolCallRunning, nil, 0); err == nil {
		t.Error("backward transition should fail")
	}

	msgs, _ := store.GetMessages(ctx, conv.ID)
	tc := msgs[0].ToolCalls[0]
	if tc.Status != models.ToolCallSuccess || tc.DurationMs != 120 {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestMemoryStore_ListConversations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, _ := store.CreateConversation(ctx, "a")
	b, _ := store.CreateConversation(ctx, "b")
	if err := store.SetArchived(ctx, a.ID, true); err != nil {
		t.Fatal(err)
	}

	active, err := store.ListConversations(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != b.ID {
		t.Errorf("active = %+v, want only conversation b", active)
	}

	all, _ := store.ListConversations(ctx, true)
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}
