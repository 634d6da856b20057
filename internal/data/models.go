package data

import (
	"time"
)

// ConversationDirect marks a two-party conversation.
const ConversationDirect = "direct"

// User maps to the users collection.
type User struct {
	ID         string    `bson:"_id" json:"id"`
	Name       string    `bson:"name" json:"name"`
	Email      string    `bson:"email" json:"email"`
	Password   string    `bson:"password" json:"-"`
	AvatarPath string    `bson:"avatar_path,omitempty" json:"avatar_path,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// Ref returns the public identity of u.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email, AvatarPath: u.AvatarPath}
}

// UserRef is the denormalized identity attached to messages and presence events.
type UserRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	AvatarPath string `json:"avatar_path,omitempty"`
}

// Conversation maps to the conversations collection. PairKey is only set for
// two-party conversations and is what concurrent creators collide on.
type Conversation struct {
	ID        string    `bson:"_id" json:"id"`
	Type      string    `bson:"type" json:"type"`
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	PairKey   string    `bson:"pair_key,omitempty" json:"-"`
	LastSeq   int64     `bson:"last_seq" json:"last_seq"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Participant maps to the participants collection.
type Participant struct {
	ConversationID string    `bson:"conversation_id"`
	UserID         string    `bson:"user_id"`
	JoinedAt       time.Time `bson:"joined_at"`
}

// Message maps to the messages collection. Seq is contiguous per conversation
// and follows commit order.
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	SenderID       string    `bson:"sender_id" json:"sender_id"`
	ReceiverID     string    `bson:"receiver_id" json:"receiver_id"`
	Body           string    `bson:"body" json:"body"`
	Seq            int64     `bson:"seq" json:"seq"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// MessageView is a Message enriched with both parties for immediate display.
type MessageView struct {
	Message
	Sender   UserRef `json:"sender"`
	Receiver UserRef `json:"receiver"`
}

// ConversationSummary is one user's inbox row for a conversation. It is a
// cache over Messages and can be rebuilt from them.
type ConversationSummary struct {
	UserID         string    `bson:"user_id" json:"user_id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	PeerID         string    `bson:"peer_id,omitempty" json:"peer_id,omitempty"`
	LastMessageID  string    `bson:"last_message_id" json:"last_message_id"`
	LastMessageSeq int64     `bson:"last_message_seq" json:"last_message_seq"`
	UnreadCount    int64     `bson:"unread_count" json:"unread_count"`
	LastReadSeq    int64     `bson:"last_read_seq" json:"last_read_seq"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// SummaryUpdate describes the effect of one new message on one participant's
// summary row.
type SummaryUpdate struct {
	UserID         string
	ConversationID string
	PeerID         string
	MessageID      string
	MessageSeq     int64
	At             time.Time
	UnreadDelta    int64
}
