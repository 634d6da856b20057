// Package data provides the persistence contracts for users, conversations,
// messages and conversation summaries, with MongoDB and in-memory backends.
package data

import (
	"context"
	"errors"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with a concurrent writer
	// on a uniqueness guarantee.
	ErrConflict = errors.New("conflict")
	// ErrDuplicateEmail is returned when registering an email already in use.
	ErrDuplicateEmail = errors.New("user already exists")
)

// Store is the conversation state backend. Writes go through RunInTx so that
// a message and the summaries derived from it commit or roll back together.
type Store interface {
	// RunInTx runs fn in a transaction. Any error returned by fn aborts the
	// transaction and is returned unchanged.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationIDs(ctx context.Context) ([]string, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	ListSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error)
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// CreateConversation inserts conv and one participant row per member.
	// It returns ErrConflict when another conversation holds conv.PairKey.
	CreateConversation(ctx context.Context, conv *Conversation, members []string) error
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	// NextSeq increments the conversation's last_seq and returns the new value.
	NextSeq(ctx context.Context, conversationID string) (int64, error)
	InsertMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	UpsertSummary(ctx context.Context, u SummaryUpdate) error
	GetSummary(ctx context.Context, userID, conversationID string) (*ConversationSummary, error)
	ReplaceSummary(ctx context.Context, s *ConversationSummary) error
	// MarkRead zeroes the unread count and records seq as read.
	MarkRead(ctx context.Context, userID, conversationID, peerID string, seq int64) (*ConversationSummary, error)
}

// UserStore is the identity store used for registration and lookups.
type UserStore interface {
	CreateUser(ctx context.Context, name, email, hashedPassword string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	ListUsersExcept(ctx context.Context, id string) ([]*User, error)
}

// NewID returns a new time-sortable identifier: the hex form of a MongoDB
// ObjectID, whose leading bytes are the creation time.
func NewID() string {
	return bson.NewObjectID().Hex()
}

// PairKey is the order-independent key of a two-party conversation.
func PairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// isExactPair reports whether members is exactly the set {a, b}.
func isExactPair(members []string, a, b string) bool {
	if len(members) != 2 {
		return false
	}
	got := []string{members[0], members[1]}
	want := []string{a, b}
	sort.Strings(got)
	sort.Strings(want)
	return got[0] == want[0] && got[1] == want[1]
}

// sortSummaries orders summaries most recently active first. Ties go to the
// conversation with the newer last message.
func sortSummaries(out []*ConversationSummary) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].LastMessageID > out[j].LastMessageID
	})
}
