package httpdto

import (
	"time"

	"github.com/google/uuid"
)

type SendMessageRequest struct {
	Type      string     `json:"type" binding:"required,oneof=TEXT MEDIA"`
	Content   string     `json:"content,omitempty"`
	ReplyToID *uuid.UUID `json:"replyToId,omitempty"`
	MediaURL  string     `json:"mediaURL,omitempty"`
	MediaType string     `json:"mediaType,omitempty"`
	MediaSize int64      `json:"mediaSize,omitempty"`
}

type EditMessageRequest struct {
	NewContent string `json:"newContent" binding:"required"`
}

type MarkReadRequest struct {
	MessageIDs []uuid.UUID `json:"messageIds" binding:"required,min=1"`
}

type ListMessagesQuery struct {
	Page   int        `form:"page,default=1" binding:"omitempty,min=1"`
	Limit  int        `form:"limit,default=50" binding:"omitempty,min=1,max=100"`
	Before *time.Time `form:"before" time_format:"2006-01-02T15:04:05Z07:00"`
	After  *time.Time `form:"after" time_format:"2006-01-02T15:04:05Z07:00"`
}

type SearchMessagesQuery struct {
	Query string `form:"q" binding:"required"`
	Page  int    `form:"page,default=1" binding:"omitempty,min=1"`
	Limit int    `form:"limit,default=20" binding:"omitempty,min=1,max=100"`
}

type PresignUploadRequest struct {
	ChatID      uuid.UUID `json:"chatId" binding:"required"`
	ContentType string    `json:"contentType" binding:"required"`
	SizeBytes   int64     `json:"sizeBytes" binding:"required,min=1"`
}

type PresignUploadResponse struct {
	UploadURL string            `json:"uploadURL"`
	Key       string            `json:"key"`
	Headers   map[string]string `json:"headers"`
	ExpiresIn int64             `json:"expiresIn"`
}
