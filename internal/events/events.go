// Package events defines the live channel names, event names and the batch
// format that flows from the delivery engine to connected clients.
package events

import (
	"encoding/json"
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
)

// Event names.
const (
	MessageSent = "message.sent"
	MessageRead = "message.read"
	UserTyping  = "user.typing"
	UserOnline  = "user.online"
	UserOffline = "user.offline"

	PresenceHere          = "presence.here"
	SubscriptionSucceeded = "subscription.succeeded"
	SubscriptionError     = "subscription.error"
)

// Channel name prefixes and the shared presence channel.
const (
	ChatPrefix      = "chat."
	ContactsPrefix  = "contacts."
	PresenceChannel = "presence-online"
)

// ChatChannel is the private channel of a user.
func ChatChannel(userID string) string { return ChatPrefix + userID }

// ContactsChannel carries inbox resort signals for a user.
func ContactsChannel(userID string) string { return ContactsPrefix + userID }

// Event is one delivery to one channel.
type Event struct {
	Channel string          `json:"channel"`
	Name    string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Frame is what a connected client receives.
type Frame = Event

// Batch groups the events produced by one committed change. Batches sharing
// a Key are delivered in Seq order; Seq 0 means unordered.
type Batch struct {
	Key    string  `json:"key"`
	Seq    int64   `json:"seq,omitempty"`
	Events []Event `json:"events"`
}

// ContactsSignal is the body-less payload sent on contacts channels.
type ContactsSignal struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	At             time.Time `json:"at"`
}

// ReadReceipt is the payload of message.read.
type ReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	LastReadSeq    int64  `json:"last_read_seq"`
}

// Typing is the payload of user.typing.
type Typing struct {
	UserID string `json:"user_id"`
}

// NewMessageSent builds the batch for a committed message: the full message
// on both parties' chat channels and a resort signal on both contacts
// channels.
func NewMessageSent(m *data.MessageView) (Batch, error) {
	full, err := json.Marshal(m)
	if err != nil {
		return Batch{}, err
	}
	signal, err := json.Marshal(ContactsSignal{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		At:             m.CreatedAt,
	})
	if err != nil {
		return Batch{}, err
	}

	return Batch{
		Key: m.ConversationID,
		Seq: m.Seq,
		Events: []Event{
			{Channel: ChatChannel(m.SenderID), Name: MessageSent, Data: full},
			{Channel: ChatChannel(m.ReceiverID), Name: MessageSent, Data: full},
			{Channel: ContactsChannel(m.SenderID), Name: MessageSent, Data: signal},
			{Channel: ContactsChannel(m.ReceiverID), Name: MessageSent, Data: signal},
		},
	}, nil
}

// NewMessageRead tells the peer how far the reader has read and asks the
// reader's other devices to resort.
func NewMessageRead(r ReadReceipt, peerID string) (Batch, error) {
	receipt, err := json.Marshal(r)
	if err != nil {
		return Batch{}, err
	}
	signal, err := json.Marshal(ContactsSignal{ConversationID: r.ConversationID, At: time.Now().UTC()})
	if err != nil {
		return Batch{}, err
	}
	return Batch{
		Key: r.ConversationID,
		Events: []Event{
			{Channel: ChatChannel(peerID), Name: MessageRead, Data: receipt},
			{Channel: ContactsChannel(r.ReaderID), Name: MessageRead, Data: signal},
		},
	}, nil
}

// NewTyping notifies the receiver that sender is typing.
func NewTyping(senderID, receiverID string) (Batch, error) {
	payload, err := json.Marshal(Typing{UserID: senderID})
	if err != nil {
		return Batch{}, err
	}
	return Batch{
		Key:    "typing:" + senderID,
		Events: []Event{{Channel: ChatChannel(receiverID), Name: UserTyping, Data: payload}},
	}, nil
}

// NewFrame builds a single frame with a JSON payload.
func NewFrame(channel, name string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Channel: channel, Name: name, Data: raw}, nil
}
