package services

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"careline-chat/internal/domain/chat"
	"careline-chat/internal/domain/message"
	"careline-chat/internal/domain/user"
	"careline-chat/internal/proxy"
	"careline-chat/internal/repository"
	careline_errors "careline-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageService handles sending, editing, deleting, listing and
// read-tracking of chat messages.
type MessageService struct {
	db          *gorm.DB
	messageRepo repository.MessageRepository
	chatRepo    repository.ChatRepository
	userRepo    repository.UserRepository
	access      *proxy.AccessControl
	editWindow  time.Duration
}

func NewMessageService(
	db *gorm.DB,
	messageRepo repository.MessageRepository,
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	access *proxy.AccessControl,
	editWindow time.Duration,
) *MessageService {
	return &MessageService{
		db:          db,
		messageRepo: messageRepo,
		chatRepo:    chatRepo,
		userRepo:    userRepo,
		access:      access,
		editWindow:  editWindow,
	}
}

// SendInput is a new message as received from the gateway or HTTP.
type SendInput struct {
	Type      string
	Content   string
	MediaURL  string
	MediaType string
	MediaSize int64
	ReplyToID *uuid.UUID
}

// ReadReceipt is one user's read of a message.
type ReadReceipt struct {
	UserID uuid.UUID `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// MessageView is a message shaped for delivery to clients.
type MessageView struct {
	ID          uuid.UUID       `json:"id"`
	ChatID      uuid.UUID       `json:"chatId"`
	Sender      user.PublicInfo `json:"sender"`
	Type        string          `json:"type"`
	Content     string          `json:"content,omitempty"`
	MediaURL    string          `json:"mediaURL,omitempty"`
	MediaType   string          `json:"mediaType,omitempty"`
	MediaSize   int64           `json:"mediaSize,omitempty"`
	ReplyToID   *uuid.UUID      `json:"replyToId,omitempty"`
	IsEdited    bool            `json:"isEdited"`
	EditedAt    *time.Time      `json:"editedAt,omitempty"`
	DeliveredAt *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ReadBy      []ReadReceipt   `json:"readBy"`
}

func (s *MessageService) view(ctx context.Context, m message.Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Type:      m.Type,
		IsEdited:  m.IsEdited,
		CreatedAt: m.CreatedAt,
		ReadBy:    make([]ReadReceipt, 0, len(m.ReadBy)),
	}
	if m.Content.Valid {
		v.Content = m.Content.String
	}
	if m.MediaURL.Valid {
		v.MediaURL = m.MediaURL.String
	}
	if m.MediaType.Valid {
		v.MediaType = m.MediaType.String
	}
	if m.MediaSize.Valid {
		v.MediaSize = m.MediaSize.Int64
	}
	if m.ReplyToID.Valid {
		id := m.ReplyToID.UUID
		v.ReplyToID = &id
	}
	if m.EditedAt.Valid {
		t := m.EditedAt.Time
		v.EditedAt = &t
	}
	if m.DeliveredAt.Valid {
		t := m.DeliveredAt.Time
		v.DeliveredAt = &t
	}
	for _, r := range m.ReadBy {
		v.ReadBy = append(v.ReadBy, ReadReceipt{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	if sender, err := s.userRepo.GetByID(ctx, m.SenderID); err == nil {
		v.Sender = sender.Public()
	}
	return v
}

// ListMessages returns a page of chat history in ascending order. Messages
// from other senders that were still undelivered are stamped as delivered
// by the fetch itself.
func (s *MessageService) ListMessages(ctx context.Context, userID, chatID uuid.UUID, f repository.MessageFilter) ([]MessageView, Pagination, error) {
	if _, err := s.access.EnsureAccess(ctx, userID, chatID); err != nil {
		return nil, Pagination{}, err
	}

	msgs, total, err := s.messageRepo.ListChatMessages(ctx, chatID, f)
	if err != nil {
		return nil, Pagination{}, err
	}

	now := time.Now()
	var undelivered []uuid.UUID
	for i := range msgs {
		if msgs[i].SenderID != userID && !msgs[i].DeliveredAt.Valid {
			undelivered = append(undelivered, msgs[i].ID)
			msgs[i].DeliveredAt = sql.NullTime{Time: now, Valid: true}
		}
	}
	if len(undelivered) > 0 {
		if err := s.messageRepo.MarkDelivered(ctx, undelivered, now); err != nil {
			return nil, Pagination{}, err
		}
	}

	// Repo order is newest-first for cursoring; clients read oldest-first.
	views := make([]MessageView, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		views = append(views, s.view(ctx, msgs[i]))
	}
	return views, paginate(f.Page, f.Limit, total), nil
}

// Send validates and persists a new message and bumps the session's
// last-activity timestamp.
func (s *MessageService) Send(ctx context.Context, userID, chatID uuid.UUID, in SendInput) (MessageView, error) {
	if _, err := s.access.EnsureAccess(ctx, userID, chatID); err != nil {
		return MessageView{}, err
	}

	switch in.Type {
	case message.TypeText:
		if strings.TrimSpace(in.Content) == "" {
			return MessageView{}, careline_errors.ErrInvalidInput
		}
	case message.TypeMedia:
		if in.MediaURL == "" {
			return MessageView{}, careline_errors.ErrInvalidInput
		}
	default:
		return MessageView{}, careline_errors.ErrInvalidInput
	}

	if in.ReplyToID != nil {
		parent, err := s.messageRepo.GetByID(ctx, *in.ReplyToID)
		if err != nil || parent.ChatID != chatID {
			return MessageView{}, careline_errors.ErrInvalidInput
		}
	}

	now := time.Now()
	m := message.Message{
		ID:       uuid.New(),
		ChatID:   chatID,
		SenderID: userID,
		Type:     in.Type,
		// Accepted by the server means delivered to the room.
		DeliveredAt: sql.NullTime{Time: now, Valid: true},
		CreatedAt:   now,
	}
	if in.Content != "" {
		m.Content = sql.NullString{String: in.Content, Valid: true}
	}
	if in.MediaURL != "" {
		m.MediaURL = sql.NullString{String: in.MediaURL, Valid: true}
	}
	if in.MediaType != "" {
		m.MediaType = sql.NullString{String: in.MediaType, Valid: true}
	}
	if in.MediaSize > 0 {
		m.MediaSize = sql.NullInt64{Int64: in.MediaSize, Valid: true}
	}
	if in.ReplyToID != nil {
		m.ReplyToID = uuid.NullUUID{UUID: *in.ReplyToID, Valid: true}
	}

	if err := s.messageRepo.Create(ctx, &m); err != nil {
		return MessageView{}, err
	}
	if err := s.chatRepo.TouchLastActivity(ctx, chatID, now); err != nil {
		return MessageView{}, err
	}

	return s.view(ctx, m), nil
}

// Edit rewrites a TEXT message's content. Only the sender may edit, and
// only within the edit window.
func (s *MessageService) Edit(ctx context.Context, userID, messageID uuid.UUID, content string) (MessageView, error) {
	if strings.TrimSpace(content) == "" {
		return MessageView{}, careline_errors.ErrInvalidInput
	}

	m, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return MessageView{}, err
	}
	if m.SenderID != userID {
		return MessageView{}, careline_errors.ErrForbidden
	}
	if m.Type != message.TypeText {
		return MessageView{}, careline_errors.ErrInvalidInput
	}
	if time.Now().After(m.EditableUntil(s.editWindow)) {
		return MessageView{}, careline_errors.ErrTooOldToEdit
	}

	m.Content = sql.NullString{String: content, Valid: true}
	m.IsEdited = true
	m.EditedAt = sql.NullTime{Time: time.Now(), Valid: true}

	if err := s.messageRepo.Update(ctx, m); err != nil {
		return MessageView{}, err
	}
	return s.view(ctx, m), nil
}

// Delete removes a message permanently. Allowed for the sender, or for an
// active ADMIN of the containing group.
func (s *MessageService) Delete(ctx context.Context, userID, messageID uuid.UUID) (chatID uuid.UUID, err error) {
	m, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return uuid.Nil, err
	}

	if m.SenderID != userID {
		sess, err := s.chatRepo.GetByID(ctx, m.ChatID)
		if err != nil {
			return uuid.Nil, err
		}
		if sess.Type != chat.TypeGroup {
			return uuid.Nil, careline_errors.ErrForbidden
		}
		p, err := s.chatRepo.GetParticipant(ctx, m.ChatID, userID)
		if err != nil || !p.IsActive || p.Role != chat.RoleAdmin {
			return uuid.Nil, careline_errors.ErrForbidden
		}
	}

	if err := s.messageRepo.HardDelete(ctx, messageID); err != nil {
		return uuid.Nil, err
	}
	return m.ChatID, nil
}

// MarkRead records that the user has read the given messages and returns
// the persisted read timestamp. Every id must belong to the chat; a single
// foreign or unknown id rejects the batch.
func (s *MessageService) MarkRead(ctx context.Context, userID, chatID uuid.UUID, messageIDs []uuid.UUID) (time.Time, error) {
	if len(messageIDs) == 0 {
		return time.Time{}, careline_errors.ErrInvalidInput
	}
	if _, err := s.access.EnsureAccess(ctx, userID, chatID); err != nil {
		return time.Time{}, err
	}

	seen := make(map[uuid.UUID]struct{}, len(messageIDs))
	unique := make([]uuid.UUID, 0, len(messageIDs))
	for _, id := range messageIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	readAt := time.Now()
	mark := func(repo repository.MessageRepository) error {
		count, err := repo.CountInChat(ctx, chatID, unique)
		if err != nil {
			return err
		}
		if count != int64(len(unique)) {
			return careline_errors.ErrInvalidInput
		}
		return repo.UpsertReads(ctx, userID, unique, readAt)
	}

	var err error
	if s.db == nil {
		err = mark(s.messageRepo)
	} else {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return mark(repository.NewMessageRepository(tx))
		})
	}
	if err != nil {
		return time.Time{}, err
	}
	return readAt, nil
}

// UnreadCount counts messages in the chat the user has not read and did
// not send.
func (s *MessageService) UnreadCount(ctx context.Context, userID, chatID uuid.UUID) (int64, error) {
	if _, err := s.access.EnsureAccess(ctx, userID, chatID); err != nil {
		return 0, err
	}
	return s.messageRepo.UnreadCount(ctx, chatID, userID)
}

// Search finds TEXT messages in the chat matching the query.
func (s *MessageService) Search(ctx context.Context, userID, chatID uuid.UUID, query string, page, limit int) ([]MessageView, Pagination, error) {
	if strings.TrimSpace(query) == "" {
		return nil, Pagination{}, careline_errors.ErrInvalidInput
	}
	if _, err := s.access.EnsureAccess(ctx, userID, chatID); err != nil {
		return nil, Pagination{}, err
	}

	msgs, total, err := s.messageRepo.Search(ctx, chatID, query, page, limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, s.view(ctx, m))
	}
	return views, paginate(page, limit, total), nil
}
