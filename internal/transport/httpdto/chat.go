package httpdto

import "github.com/google/uuid"

type CreateChatRequest struct {
	Type         string     `json:"type" binding:"required,oneof=DIRECT GROUP"`
	TargetUserID *uuid.UUID `json:"targetUserId,omitempty"`
	Name         string     `json:"name,omitempty"`
	Description  string     `json:"description,omitempty"`
}

type UpdateGroupRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	AvatarURL   *string `json:"avatarURL,omitempty"`
}

type ListChatsQuery struct {
	Page   int    `form:"page,default=1" binding:"omitempty,min=1"`
	Limit  int    `form:"limit,default=20" binding:"omitempty,min=1,max=100"`
	Search string `form:"search"`
}
