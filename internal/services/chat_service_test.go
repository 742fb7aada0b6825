package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"careline-chat/internal/domain/chat"
	"careline-chat/internal/domain/message"
	"careline-chat/internal/domain/presence"
	"careline-chat/internal/domain/user"
	"careline-chat/internal/proxy"
	"careline-chat/internal/repository"
	careline_errors "careline-chat/pkg/errors"
	"careline-chat/pkg/logger"
)

// ---------- test helpers ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:chatsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(
		&user.User{},
		&chat.Session{},
		&chat.Participant{},
		&message.Message{},
		&message.Read{},
		&presence.UserPresence{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type testEnv struct {
	db              *gorm.DB
	chatService     *ChatService
	messageService  *MessageService
	presenceService *PresenceService
	userRepo        repository.UserRepository
	presenceRepo    repository.PresenceRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)

	userRepo := repository.NewUserRepository(db)
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	presenceRepo := repository.NewPresenceRepository(db)
	access := proxy.NewAccessControl(chatRepo)

	return &testEnv{
		db:              db,
		chatService:     NewChatService(db, chatRepo, messageRepo, userRepo, presenceRepo, access),
		messageService:  NewMessageService(db, messageRepo, chatRepo, userRepo, access, 15*time.Minute),
		presenceService: NewPresenceService(presenceRepo, nil, logger.New(logger.DevelopmentMode)),
		userRepo:        userRepo,
		presenceRepo:    presenceRepo,
	}
}

func seedUser(t *testing.T, db *gorm.DB, username string) user.User {
	t.Helper()
	u := user.User{
		ID:        uuid.New(),
		Username:  username,
		FullName:  sql.NullString{String: username + " Person", Valid: true},
		Role:      "USER",
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// ---------- direct chat creation ----------

func TestCreateDirect_IdempotentBothOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")

	first, err := env.chatService.CreateDirect(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.IsExisting {
		t.Fatal("first create reported isExisting")
	}

	second, err := env.chatService.CreateDirect(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !second.IsExisting || second.ChatID != first.ChatID {
		t.Fatalf("second create: got chatId=%s isExisting=%v, want chatId=%s isExisting=true",
			second.ChatID, second.IsExisting, first.ChatID)
	}

	reversed, err := env.chatService.CreateDirect(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("reversed create: %v", err)
	}
	if !reversed.IsExisting || reversed.ChatID != first.ChatID {
		t.Fatalf("reversed order must find the same session, got %s", reversed.ChatID)
	}
}

func TestCreateDirect_DuplicatePairRejectedByConstraint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	chatRepo := repository.NewChatRepository(env.db)

	newPairSession := func() *chat.Session {
		u1, u2 := chat.NormalizePair(alice.ID, bob.ID)
		now := time.Now()
		return &chat.Session{
			ID:           uuid.New(),
			Type:         chat.TypeDirect,
			User1ID:      uuid.NullUUID{UUID: u1, Valid: true},
			User2ID:      uuid.NullUUID{UUID: u2, Valid: true},
			IsActive:     true,
			LastActivity: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	if err := chatRepo.Create(ctx, newPairSession()); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Two racers that both passed the find-first lookup insert the same
	// normalized pair; the index must reject the loser.
	err := chatRepo.Create(ctx, newPairSession())
	if !errors.Is(err, careline_errors.ErrAlreadyExists) {
		t.Fatalf("second create: got %v, want ErrAlreadyExists", err)
	}

	var rows int64
	env.db.Model(&chat.Session{}).Where("type = ?", chat.TypeDirect).Count(&rows)
	if rows != 1 {
		t.Fatalf("duplicate pair committed: %d rows", rows)
	}

	// The service-level loser falls back to the committed row.
	result, err := env.chatService.CreateDirect(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("fallback create: %v", err)
	}
	if !result.IsExisting {
		t.Fatal("fallback must report the existing session")
	}
}

func TestCreateDirect_RejectsSelfAndMissingTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")

	if _, err := env.chatService.CreateDirect(ctx, alice.ID, alice.ID); !errors.Is(err, careline_errors.ErrInvalidInput) {
		t.Fatalf("self chat: got %v, want ErrInvalidInput", err)
	}
	if _, err := env.chatService.CreateDirect(ctx, alice.ID, uuid.New()); !errors.Is(err, careline_errors.ErrNotFound) {
		t.Fatalf("missing target: got %v, want ErrNotFound", err)
	}
}

func TestCreateDirect_RejectsInactiveTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	ghost := seedUser(t, env.db, "ghost")
	env.db.Model(&user.User{}).Where("id = ?", ghost.ID).Update("is_active", false)

	if _, err := env.chatService.CreateDirect(ctx, alice.ID, ghost.ID); !errors.Is(err, careline_errors.ErrNotFound) {
		t.Fatalf("inactive target: got %v, want ErrNotFound", err)
	}
}

// ---------- group lifecycle ----------

func TestCreateGroup_CreatorBecomesAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")

	result, err := env.chatService.CreateGroup(ctx, alice.ID, "Support Circle", "weekly check-ins")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	var p chat.Participant
	if err := env.db.Where("chat_id = ? AND user_id = ?", result.ChatID, alice.ID).First(&p).Error; err != nil {
		t.Fatalf("load participant: %v", err)
	}
	if p.Role != chat.RoleAdmin || !p.IsActive {
		t.Fatalf("creator participant: role=%s active=%v, want ADMIN active", p.Role, p.IsActive)
	}
}

func TestCreateGroup_RequiresName(t *testing.T) {
	env := newTestEnv(t)
	alice := seedUser(t, env.db, "alice")

	if _, err := env.chatService.CreateGroup(context.Background(), alice.ID, "   ", ""); !errors.Is(err, careline_errors.ErrInvalidInput) {
		t.Fatalf("blank name: got %v, want ErrInvalidInput", err)
	}
}

func TestLeaveOrDelete_LastAdminDeactivatesGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")

	result, err := env.chatService.CreateGroup(ctx, alice.ID, "Support Circle", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := env.chatService.LeaveOrDelete(ctx, alice.ID, result.ChatID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	var sess chat.Session
	if err := env.db.First(&sess, "id = ?", result.ChatID).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.IsActive {
		t.Fatal("group emptied of participants must be inactive")
	}
}

func TestLeaveOrDelete_DirectEndsForBothSides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")

	created, err := env.chatService.CreateDirect(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.chatService.LeaveOrDelete(ctx, alice.ID, created.ChatID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if _, err := env.chatService.GetSession(ctx, bob.ID, created.ChatID); !errors.Is(err, careline_errors.ErrNotFound) {
		t.Fatalf("bob after alice leaves: got %v, want ErrNotFound", err)
	}
}

func TestLeaveOrDelete_GroupKeepsOtherParticipants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")

	result, err := env.chatService.CreateGroup(ctx, alice.ID, "Support Circle", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	env.db.Create(&chat.Participant{
		ChatID:   result.ChatID,
		UserID:   bob.ID,
		Role:     chat.RoleMember,
		IsActive: true,
		JoinedAt: time.Now(),
	})

	if err := env.chatService.LeaveOrDelete(ctx, bob.ID, result.ChatID); err != nil {
		t.Fatalf("bob leave: %v", err)
	}

	var sess chat.Session
	env.db.First(&sess, "id = ?", result.ChatID)
	if !sess.IsActive {
		t.Fatal("group with remaining active participants must stay active")
	}
	if _, err := env.chatService.GetSession(ctx, bob.ID, result.ChatID); !errors.Is(err, careline_errors.ErrForbidden) {
		t.Fatalf("bob after leaving: got %v, want ErrForbidden", err)
	}
}

// ---------- group updates ----------

func TestUpdateGroup_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")

	result, err := env.chatService.CreateGroup(ctx, alice.ID, "Support Circle", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	env.db.Create(&chat.Participant{
		ChatID:   result.ChatID,
		UserID:   bob.ID,
		Role:     chat.RoleMember,
		IsActive: true,
		JoinedAt: time.Now(),
	})

	name := "Renamed Circle"
	if _, err := env.chatService.UpdateGroup(ctx, bob.ID, result.ChatID, GroupUpdate{Name: &name}); !errors.Is(err, careline_errors.ErrForbidden) {
		t.Fatalf("member update: got %v, want ErrForbidden", err)
	}

	sess, err := env.chatService.UpdateGroup(ctx, alice.ID, result.ChatID, GroupUpdate{Name: &name})
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if !sess.Name.Valid || sess.Name.String != name {
		t.Fatalf("name not applied: %+v", sess.Name)
	}
}

func TestUpdateGroup_RejectsDirectSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")

	created, err := env.chatService.CreateDirect(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	name := "nope"
	if _, err := env.chatService.UpdateGroup(ctx, alice.ID, created.ChatID, GroupUpdate{Name: &name}); !errors.Is(err, careline_errors.ErrInvalidInput) {
		t.Fatalf("direct update: got %v, want ErrInvalidInput", err)
	}
}

// ---------- listing ----------

func TestListSessions_OrderAndAnnotations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	carol := seedUser(t, env.db, "carol")

	withBob, err := env.chatService.CreateDirect(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	withCarol, err := env.chatService.CreateDirect(ctx, alice.ID, carol.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Bob's message makes that chat the most recent and leaves it unread.
	if _, err := env.messageService.Send(ctx, bob.ID, withBob.ChatID, SendInput{Type: message.TypeText, Content: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	sessions, pagination, err := env.chatService.ListSessions(ctx, alice.ID, repository.ChatFilter{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if pagination.Total != 2 || len(sessions) != 2 {
		t.Fatalf("got %d sessions (total %d), want 2", len(sessions), pagination.Total)
	}
	if sessions[0].ID != withBob.ChatID {
		t.Fatalf("most recent activity must sort first, got %s", sessions[0].ID)
	}
	if sessions[0].UnreadCount != 1 {
		t.Fatalf("unread count: got %d, want 1", sessions[0].UnreadCount)
	}
	if sessions[0].LastMessage == nil || sessions[0].LastMessage.Content != "hello" {
		t.Fatalf("missing last message preview: %+v", sessions[0].LastMessage)
	}
	if sessions[1].ID != withCarol.ChatID || sessions[1].UnreadCount != 0 {
		t.Fatalf("second session annotations wrong: %+v", sessions[1])
	}
	if sessions[0].Participant == nil || sessions[0].Participant.Username != "bob" {
		t.Fatalf("counterpart not resolved: %+v", sessions[0].Participant)
	}
}

func TestListSessions_SearchByCounterpartName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")
	seedUser(t, env.db, "carol")

	if _, err := env.chatService.CreateDirect(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("create: %v", err)
	}

	sessions, _, err := env.chatService.ListSessions(ctx, alice.ID, repository.ChatFilter{Page: 1, Limit: 10, Search: "BOB"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("case-insensitive counterpart search: got %d sessions, want 1", len(sessions))
	}

	none, _, err := env.chatService.ListSessions(ctx, alice.ID, repository.ChatFilter{Page: 1, Limit: 10, Search: "zzz"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("non-matching search must be empty, got %d", len(none))
	}
}

// ---------- online users ----------

func TestOnlineUsers_FiltersByPresence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")
	bob := seedUser(t, env.db, "bob")

	created, err := env.chatService.CreateDirect(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.presenceService.SetOnline(ctx, bob.ID, "conn-1"); err != nil {
		t.Fatalf("presence: %v", err)
	}

	online, err := env.chatService.OnlineUsers(ctx, alice.ID, created.ChatID)
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if len(online) != 1 || online[0].Username != "bob" {
		t.Fatalf("got %+v, want just bob", online)
	}
}
