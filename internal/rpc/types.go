package rpc

import (
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
)

// RegisterRequest creates an account.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// GetEmail keys the per-account rate limiter.
func (r *RegisterRequest) GetEmail() string { return r.Email }

// LoginRequest exchanges credentials for a token.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// GetEmail keys the per-account rate limiter.
func (r *LoginRequest) GetEmail() string { return r.Email }

// AuthResponse is returned by Register and Login.
type AuthResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *data.User `json:"user"`
}

// ListUsersRequest lists every user except the caller.
type ListUsersRequest struct{}

// ListUsersResponse carries the user directory.
type ListUsersResponse struct {
	Users []*data.User `json:"users"`
}

// SendMessageRequest sends a direct message to ReceiverID.
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
	Body       string `json:"body" validate:"required"`
}

// SendMessageResponse carries the stored message.
type SendMessageResponse struct {
	Message *data.MessageView `json:"message"`
}

// GetConversationRequest asks for the history shared with UserID.
type GetConversationRequest struct {
	UserID string `json:"user_id"`
}

// GetConversationResponse carries the history, oldest first.
type GetConversationResponse struct {
	Messages []*data.Message `json:"messages"`
}

// ListConversationsRequest asks for the caller's inbox.
type ListConversationsRequest struct{}

// ListConversationsResponse carries the inbox, most recently active first.
type ListConversationsResponse struct {
	Conversations []*data.ConversationSummary `json:"conversations"`
}

// MarkReadRequest clears the caller's unread count for a conversation.
type MarkReadRequest struct {
	ConversationID string `json:"conversation_id"`
}

// MarkReadResponse carries the updated summary.
type MarkReadResponse struct {
	Summary *data.ConversationSummary `json:"summary"`
}

// TypingRequest tells ReceiverID the caller is typing.
type TypingRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
}

// TypingResponse is empty.
type TypingResponse struct{}

// SubscribeRequest opens a live stream joined to the given channels.
type SubscribeRequest struct {
	Channels []string `json:"channels"`
}
