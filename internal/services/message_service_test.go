package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"careline-chat/internal/domain/chat"
	"careline-chat/internal/domain/message"
	"careline-chat/internal/repository"
	careline_errors "careline-chat/pkg/errors"
)

func directChat(t *testing.T, env *testEnv, a, b uuid.UUID) uuid.UUID {
	t.Helper()
	created, err := env.chatService.CreateDirect(context.Background(), a, b)
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	return created.ChatID
}

// ---------- send ----------

func TestSend_TextMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatID := directChat(t, env, alice.ID, bob.ID)

	view, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{Type: message.TypeText, Content: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if view.Content != "hello" || view.IsEdited {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.DeliveredAt == nil {
		t.Fatal("deliveredAt must be set at creation")
	}
	if view.Sender.Username != "alice" {
		t.Fatalf("sender not expanded: %+v", view.Sender)
	}

	var sess chat.Session
	env.db.First(&sess, "id = ?", chatID)
	if sess.LastActivity.Before(view.CreatedAt.Add(-time.Second)) {
		t.Fatal("session lastActivity not bumped")
	}
}

func TestSend_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatID := directChat(t, env, alice.ID, bob.ID)

	cases := []struct {
		name string
		in   SendInput
	}{
		{"empty text", SendInput{Type: message.TypeText, Content: "   "}},
		{"media without url", SendInput{Type: message.TypeMedia}},
		{"unknown type", SendInput{Type: "VOICE", Content: "x"}},
	}
	for _, tc := range cases {
		if _, err := env.messageService.Send(ctx, alice.ID, chatID, tc.in); !errors.Is(err, careline_errors.ErrInvalidInput) {
			t.Fatalf("%s: got %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestSend_ReplyMustBeSameChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	carol := seedUser(t, env.db, "carol")
	chatAB := directChat(t, env, alice.ID, bob.ID)
	chatAC := directChat(t, env, alice.ID, carol.ID)

	parent, err := env.messageService.Send(ctx, alice.ID, chatAC, SendInput{Type: message.TypeText, Content: "elsewhere"})
	if err != nil {
		t.Fatalf("send parent: %v", err)
	}

	if _, err := env.messageService.Send(ctx, alice.ID, chatAB, SendInput{
		Type: message.TypeText, Content: "reply", ReplyToID: &parent.ID,
	}); !errors.Is(err, careline_errors.ErrInvalidInput) {
		t.Fatalf("cross-chat reply: got %v, want ErrInvalidInput", err)
	}

	if _, err := env.messageService.Send(ctx, alice.ID, chatAC, SendInput{
		Type: message.TypeText, Content: "reply", ReplyToID: &parent.ID,
	}); err != nil {
		t.Fatalf("same-chat reply: %v", err)
	}
}

// ---------- listing and delivery sweep ----------

func TestListMessages_AscendingWithDeliverySweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatID := directChat(t, env, alice.ID, bob.ID)

	first, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{Type: message.TypeText, Content: "one"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{Type: message.TypeText, Content: "two"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Simulate a message persisted before delivery stamping.
	env.db.Model(&message.Message{}).Where("id = ?", first.ID).Update("delivered_at", nil)

	views, _, err := env.messageService.ListMessages(ctx, bob.ID, chatID, repository.MessageFilter{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d messages, want 2", len(views))
	}
	if views[0].Content != "one" || views[1].Content != "two" {
		t.Fatalf("not ascending: %q, %q", views[0].Content, views[1].Content)
	}
	if views[0].DeliveredAt == nil {
		t.Fatal("fetch must stamp undelivered messages")
	}

	var stored message.Message
	env.db.First(&stored, "id = ?", first.ID)
	if !stored.DeliveredAt.Valid {
		t.Fatal("delivery sweep not persisted")
	}
}

func TestListMessages_CursorBoundsPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatID := directChat(t, env, alice.ID, bob.ID)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		sent, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{Type: message.TypeText, Content: "msg"})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		ids = append(ids, sent.ID)
	}
	env.db.Model(&message.Message{}).Where("id = ?", ids[0]).
		Update("created_at", time.Now().Add(-2*time.Hour))
	env.db.Model(&message.Message{}).Where("id = ?", ids[1]).
		Update("created_at", time.Now().Add(-1*time.Hour))

	cutoff := time.Now().Add(-30 * time.Minute)
	views, pagination, err := env.messageService.ListMessages(ctx, bob.ID, chatID, repository.MessageFilter{
		Page: 1, Limit: 10, Before: &cutoff,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d messages before cutoff, want 2", len(views))
	}
	if pagination.Total != 2 {
		t.Fatalf("total must honor the cursor filter, got %d", pagination.Total)
	}
	if pagination.HasNext {
		t.Fatal("single page must not report hasNext")
	}
}

// ---------- editing ----------

func TestEdit_WindowAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatID := directChat(t, env, alice.ID, bob.ID)

	sent, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{Type: message.TypeText, Content: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := env.messageService.Edit(ctx, bob.ID, sent.ID, "hijacked"); !errors.Is(err, careline_errors.ErrForbidden) {
		t.Fatalf("non-sender edit: got %v, want ErrForbidden", err)
	}

	edited, err := env.messageService.Edit(ctx, alice.ID, sent.ID, "hello there")
	if err != nil {
		t.Fatalf("in-window edit: %v", err)
	}
	if !edited.IsEdited || edited.EditedAt == nil || edited.Content != "hello there" {
		t.Fatalf("edit not applied: %+v", edited)
	}

	env.db.Model(&message.Message{}).Where("id = ?", sent.ID).
		Update("created_at", time.Now().Add(-16*time.Minute))
	if _, err := env.messageService.Edit(ctx, alice.ID, sent.ID, "too late"); !errors.Is(err, careline_errors.ErrTooOldToEdit) {
		t.Fatalf("stale edit: got %v, want ErrTooOldToEdit", err)
	}
}

func TestEdit_TextOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatID := directChat(t, env, alice.ID, bob.ID)

	sent, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{
		Type: message.TypeMedia, MediaURL: "https://cdn/x.png", MediaType: "image/png", MediaSize: 10,
	})
	if err != nil {
		t.Fatalf("send media: %v", err)
	}
	if _, err := env.messageService.Edit(ctx, alice.ID, sent.ID, "caption"); !errors.Is(err, careline_errors.ErrInvalidInput) {
		t.Fatalf("media edit: got %v, want ErrInvalidInput", err)
	}
}

// ---------- deletion ----------

func TestDelete_SenderOrGroupAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")

	group, err := env.chatService.CreateGroup(ctx, alice.ID, "Support Circle", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	env.db.Create(&chat.Participant{
		ChatID: group.ChatID, UserID: bob.ID, Role: chat.RoleMember, IsActive: true, JoinedAt: time.Now(),
	})

	fromBob, err := env.messageService.Send(ctx, bob.ID, group.ChatID, SendInput{Type: message.TypeText, Content: "mine"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	fromAlice, err := env.messageService.Send(ctx, alice.ID, group.ChatID, SendInput{Type: message.TypeText, Content: "admin's"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Member cannot delete someone else's message.
	if _, err := env.messageService.Delete(ctx, bob.ID, fromAlice.ID); !errors.Is(err, careline_errors.ErrForbidden) {
		t.Fatalf("member delete of other's message: got %v, want ErrForbidden", err)
	}

	// Admin can delete a member's message; reads cascade.
	if _, err := env.messageService.MarkRead(ctx, alice.ID, group.ChatID, []uuid.UUID{fromBob.ID}); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if _, err := env.messageService.Delete(ctx, alice.ID, fromBob.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}

	var msgCount, readCount int64
	env.db.Model(&message.Message{}).Where("id = ?", fromBob.ID).Count(&msgCount)
	env.db.Model(&message.Read{}).Where("message_id = ?", fromBob.ID).Count(&readCount)
	if msgCount != 0 || readCount != 0 {
		t.Fatalf("hard delete must remove row and reads, got msg=%d reads=%d", msgCount, readCount)
	}
}

// ---------- read tracking ----------

func TestMarkRead_IdempotentAndMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatID := directChat(t, env, alice.ID, bob.ID)

	sent, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{Type: message.TypeText, Content: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	firstAt, err := env.messageService.MarkRead(ctx, bob.ID, chatID, []uuid.UUID{sent.ID})
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	var first message.Read
	env.db.First(&first, "message_id = ? AND user_id = ?", sent.ID, bob.ID)
	if d := first.ReadAt.Sub(firstAt); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("returned readAt %v differs from persisted %v", firstAt, first.ReadAt)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := env.messageService.MarkRead(ctx, bob.ID, chatID, []uuid.UUID{sent.ID}); err != nil {
		t.Fatalf("second mark: %v", err)
	}

	var rows []message.Read
	env.db.Find(&rows, "message_id = ? AND user_id = ?", sent.ID, bob.ID)
	if len(rows) != 1 {
		t.Fatalf("got %d read rows, want exactly 1", len(rows))
	}
	if rows[0].ReadAt.Before(first.ReadAt) {
		t.Fatal("readAt regressed on repeat mark")
	}
}

func TestMarkRead_RejectsForeignIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	carol := seedUser(t, env.db, "carol")
	chatAB := directChat(t, env, alice.ID, bob.ID)
	chatAC := directChat(t, env, alice.ID, carol.ID)

	inAB, err := env.messageService.Send(ctx, alice.ID, chatAB, SendInput{Type: message.TypeText, Content: "here"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	elsewhere, err := env.messageService.Send(ctx, alice.ID, chatAC, SendInput{Type: message.TypeText, Content: "there"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err = env.messageService.MarkRead(ctx, bob.ID, chatAB, []uuid.UUID{inAB.ID, elsewhere.ID})
	if !errors.Is(err, careline_errors.ErrInvalidInput) {
		t.Fatalf("foreign id batch: got %v, want ErrInvalidInput", err)
	}

	// The whole batch must be rejected, not partially applied.
	var count int64
	env.db.Model(&message.Read{}).Where("user_id = ?", bob.ID).Count(&count)
	if count != 0 {
		t.Fatalf("partial reads applied: %d", count)
	}
}

func TestUnreadCount_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatID := directChat(t, env, alice.ID, bob.ID)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		sent, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{Type: message.TypeText, Content: "msg"})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		ids = append(ids, sent.ID)
	}

	count, err := env.messageService.UnreadCount(ctx, bob.ID, chatID)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 3 {
		t.Fatalf("got %d unread, want 3", count)
	}

	// Own messages never count as unread for the sender.
	senderCount, err := env.messageService.UnreadCount(ctx, alice.ID, chatID)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if senderCount != 0 {
		t.Fatalf("sender unread: got %d, want 0", senderCount)
	}

	if _, err := env.messageService.MarkRead(ctx, bob.ID, chatID, ids); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	count, err = env.messageService.UnreadCount(ctx, bob.ID, chatID)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 0 {
		t.Fatalf("after reading all: got %d, want 0", count)
	}
}

// ---------- search ----------

func TestSearch_CaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatID := directChat(t, env, alice.ID, bob.ID)

	for _, content := range []string{"Morning walk", "Evening Walk", "nap time"} {
		if _, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{Type: message.TypeText, Content: content}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	views, pagination, err := env.messageService.Search(ctx, bob.ID, chatID, "WALK", 1, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if pagination.Total != 2 || len(views) != 2 {
		t.Fatalf("got %d results (total %d), want 2", len(views), pagination.Total)
	}

	if _, _, err := env.messageService.Search(ctx, bob.ID, chatID, "  ", 1, 10); !errors.Is(err, careline_errors.ErrInvalidInput) {
		t.Fatalf("blank query: got %v, want ErrInvalidInput", err)
	}
}

// ---------- access control across operations ----------

func TestOutsider_ForbiddenEverywhere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	mallory := seedUser(t, env.db, "mallory")
	chatID := directChat(t, env, alice.ID, bob.ID)

	sent, err := env.messageService.Send(ctx, alice.ID, chatID, SendInput{Type: message.TypeText, Content: "private"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, _, err := env.messageService.ListMessages(ctx, mallory.ID, chatID, repository.MessageFilter{}); !errors.Is(err, careline_errors.ErrForbidden) {
		t.Fatalf("list: got %v, want ErrForbidden", err)
	}
	if _, err := env.messageService.Send(ctx, mallory.ID, chatID, SendInput{Type: message.TypeText, Content: "hi"}); !errors.Is(err, careline_errors.ErrForbidden) {
		t.Fatalf("send: got %v, want ErrForbidden", err)
	}
	if _, err := env.messageService.MarkRead(ctx, mallory.ID, chatID, []uuid.UUID{sent.ID}); !errors.Is(err, careline_errors.ErrForbidden) {
		t.Fatalf("markRead: got %v, want ErrForbidden", err)
	}
	if _, err := env.chatService.GetSession(ctx, mallory.ID, chatID); !errors.Is(err, careline_errors.ErrForbidden) {
		t.Fatalf("getSession: got %v, want ErrForbidden", err)
	}
}

// ---------- end to end ----------

func TestDirectConversation_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")

	created, err := env.chatService.CreateDirect(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sent, err := env.messageService.Send(ctx, alice.ID, created.ChatID, SendInput{Type: message.TypeText, Content: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	views, _, err := env.messageService.ListMessages(ctx, bob.ID, created.ChatID, repository.MessageFilter{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 || views[0].DeliveredAt == nil || views[0].IsEdited {
		t.Fatalf("unexpected listing: %+v", views)
	}

	if _, err := env.messageService.MarkRead(ctx, bob.ID, created.ChatID, []uuid.UUID{sent.ID}); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	sessions, _, err := env.chatService.ListSessions(ctx, alice.ID, repository.ChatFilter{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].UnreadCount != 0 {
		t.Fatalf("alice's view after bob reads: %+v", sessions)
	}

	var readRow message.Read
	if err := env.db.First(&readRow, "message_id = ? AND user_id = ?", sent.ID, bob.ID).Error; err != nil {
		t.Fatalf("read row missing: %v", err)
	}
}
