// Package chat implements the delivery engine: resolving two-party
// conversations, sending messages atomically with their inbox summaries, and
// handing committed changes to the live fan-out.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/PaulBabatuyi/realtime-dm/internal/events"
	"github.com/PaulBabatuyi/realtime-dm/internal/normalize"
	"github.com/rs/zerolog"
)

// DefaultMaxBodyLength applies when Options.MaxBodyLength is not set.
const DefaultMaxBodyLength = 5000

// Publisher accepts event batches for asynchronous delivery. Publish must not
// block on delivery; an error means the batch was dropped.
type Publisher interface {
	Publish(ctx context.Context, b events.Batch) error
}

// Options tunes the engine.
type Options struct {
	// MaxBodyLength is the maximum message body length in characters.
	MaxBodyLength int
}

// Engine orchestrates sends, reads and inbox queries.
type Engine struct {
	store    data.Store
	users    data.UserStore
	resolver *Resolver
	pub      Publisher
	log      zerolog.Logger
	opts     Options
	now      func() time.Time
}

// NewEngine wires an Engine. pub may be nil, in which case nothing is pushed.
func NewEngine(store data.Store, users data.UserStore, pub Publisher, log zerolog.Logger, opts Options) *Engine {
	if opts.MaxBodyLength <= 0 {
		opts.MaxBodyLength = DefaultMaxBodyLength
	}
	return &Engine{
		store:    store,
		users:    users,
		resolver: NewResolver(store, log),
		pub:      pub,
		log:      log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolver exposes the conversation resolver the engine uses.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// ValidateBody normalizes body and checks it against the configured limits.
func (e *Engine) ValidateBody(body string) (string, error) {
	body = normalize.Body(body)
	if err := validateVar("body", body, fmt.Sprintf("required,max=%d", e.opts.MaxBodyLength)); err != nil {
		return "", err
	}
	return body, nil
}

// SendTo sends body from senderID to receiverID, creating their conversation
// on first contact. Input is fully validated before anything is written.
func (e *Engine) SendTo(ctx context.Context, senderID, receiverID, body string) (*data.MessageView, error) {
	receiverID = normalize.ID(receiverID)
	body, err := e.ValidateBody(body)
	if err != nil {
		return nil, err
	}
	if err := e.checkReceiver(ctx, senderID, receiverID); err != nil {
		return nil, err
	}

	convID, err := e.resolver.ResolveOrCreate(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	return e.Send(ctx, convID, senderID, body)
}

// Send appends a message to an existing conversation. The message insert,
// the participant lookup and every participant's summary update commit as
// one transaction. Fan-out happens only after commit and never fails the send.
func (e *Engine) Send(ctx context.Context, conversationID, senderID, body string) (*data.MessageView, error) {
	body, err := e.ValidateBody(body)
	if err != nil {
		return nil, err
	}

	var msg *data.Message
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx data.Tx) error {
		participants, err := tx.ParticipantIDs(ctx, conversationID)
		if err != nil {
			return err
		}
		receiverID, ok := peerOf(participants, senderID)
		if !ok {
			return ErrNotParticipant
		}

		seq, err := tx.NextSeq(ctx, conversationID)
		if err != nil {
			return err
		}

		m := &data.Message{
			ID:             data.NewID(),
			ConversationID: conversationID,
			SenderID:       senderID,
			ReceiverID:     receiverID,
			Body:           body,
			Seq:            seq,
			CreatedAt:      e.now().Truncate(time.Millisecond),
		}
		if err := tx.InsertMessage(ctx, m); err != nil {
			return err
		}

		for _, uid := range participants {
			u := data.SummaryUpdate{
				UserID:         uid,
				ConversationID: conversationID,
				MessageID:      m.ID,
				MessageSeq:     m.Seq,
				At:             m.CreatedAt,
			}
			u.PeerID, _ = peerOf(participants, uid)
			if uid != senderID {
				u.UnreadDelta = 1
			}
			if err := tx.UpsertSummary(ctx, u); err != nil {
				return err
			}
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, e.txErr("send message", err)
	}

	view := e.enrich(ctx, msg)
	e.publish(ctx, "message sent", func() (events.Batch, error) { return events.NewMessageSent(view) })
	return view, nil
}

// Conversation returns the messages between callerID and otherID in commit
// order, or an empty list when they have never talked.
func (e *Engine) Conversation(ctx context.Context, callerID, otherID string) ([]*data.Message, error) {
	otherID = normalize.ID(otherID)
	if otherID == "" {
		return nil, invalid("user_id", "is required")
	}
	if otherID == callerID {
		return []*data.Message{}, nil
	}

	conv, err := e.store.FindDirectConversation(ctx, callerID, otherID)
	if errors.Is(err, data.ErrNotFound) {
		return []*data.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return e.store.ListMessages(ctx, conv.ID)
}

// ListConversations returns the caller's inbox, most recently active first.
func (e *Engine) ListConversations(ctx context.Context, userID string) ([]*data.ConversationSummary, error) {
	return e.store.ListSummaries(ctx, userID)
}

// ListUsers returns everyone the caller can message.
func (e *Engine) ListUsers(ctx context.Context, callerID string) ([]*data.User, error) {
	return e.users.ListUsersExcept(ctx, callerID)
}

// MarkRead clears the caller's unread count for a conversation and tells the
// other participant how far the caller has read.
func (e *Engine) MarkRead(ctx context.Context, userID, conversationID string) (*data.ConversationSummary, error) {
	conversationID = normalize.ID(conversationID)
	if conversationID == "" {
		return nil, invalid("conversation_id", "is required")
	}

	var (
		sum    *data.ConversationSummary
		peerID string
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx data.Tx) error {
		participants, err := tx.ParticipantIDs(ctx, conversationID)
		if err != nil {
			return err
		}
		var ok bool
		if peerID, ok = peerOf(participants, userID); !ok {
			return ErrNotParticipant
		}
		conv, err := tx.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		sum, err = tx.MarkRead(ctx, userID, conversationID, peerID, conv.LastSeq)
		return err
	})
	if err != nil {
		return nil, e.txErr("mark read", err)
	}

	receipt := events.ReadReceipt{ConversationID: conversationID, ReaderID: userID, LastReadSeq: sum.LastReadSeq}
	e.publish(ctx, "message read", func() (events.Batch, error) { return events.NewMessageRead(receipt, peerID) })
	return sum, nil
}

// Typing signals receiverID that senderID is typing. Nothing is stored.
func (e *Engine) Typing(ctx context.Context, senderID, receiverID string) error {
	receiverID = normalize.ID(receiverID)
	if err := e.checkReceiver(ctx, senderID, receiverID); err != nil {
		return err
	}
	e.publish(ctx, "typing", func() (events.Batch, error) { return events.NewTyping(senderID, receiverID) })
	return nil
}

func (e *Engine) checkReceiver(ctx context.Context, senderID, receiverID string) error {
	if receiverID == "" {
		return invalid("receiver_id", "is required")
	}
	if receiverID == senderID {
		return invalid("receiver_id", "cannot message yourself")
	}
	if _, err := e.users.GetUserByID(ctx, receiverID); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return invalid("receiver_id", "does not exist")
		}
		return err
	}
	return nil
}

// enrich attaches both parties' identities. The message is already
// committed, so a failed lookup only degrades the payload.
func (e *Engine) enrich(ctx context.Context, m *data.Message) *data.MessageView {
	view := &data.MessageView{
		Message:  *m,
		Sender:   data.UserRef{ID: m.SenderID},
		Receiver: data.UserRef{ID: m.ReceiverID},
	}
	if u, err := e.users.GetUserByID(ctx, m.SenderID); err == nil {
		view.Sender = u.Ref()
	} else {
		e.log.Warn().Err(err).Str("user_id", m.SenderID).Msg("sender lookup failed")
	}
	if u, err := e.users.GetUserByID(ctx, m.ReceiverID); err == nil {
		view.Receiver = u.Ref()
	} else {
		e.log.Warn().Err(err).Str("user_id", m.ReceiverID).Msg("receiver lookup failed")
	}
	return view
}

// publish hands a batch to the fan-out. Failures are logged and swallowed.
func (e *Engine) publish(ctx context.Context, what string, build func() (events.Batch, error)) {
	if e.pub == nil {
		return
	}
	b, err := build()
	if err != nil {
		e.log.Error().Err(err).Str("event", what).Msg("encode event")
		return
	}
	// the request context may end right after we return
	if err := e.pub.Publish(context.WithoutCancel(ctx), b); err != nil {
		e.log.Warn().Err(err).Str("event", what).Str("key", b.Key).Int64("seq", b.Seq).Msg("delivery failed")
	}
}

// txErr maps a failed transaction to the error taxonomy.
func (e *Engine) txErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotParticipant):
		return ErrNotParticipant
	case errors.Is(err, data.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &TxError{Op: op, Err: err}
	}
	if _, ok := IsValidation(err); ok {
		return err
	}
	e.log.Error().Err(err).Str("op", op).Msg("transaction aborted")
	return &TxError{Op: op, Err: err}
}

// peerOf returns the participant other than userID, and whether userID is a
// participant at all.
func peerOf(participants []string, userID string) (string, bool) {
	member := false
	peer := ""
	for _, p := range participants {
		if p == userID {
			member = true
		} else if peer == "" {
			peer = p
		}
	}
	return peer, member
}
