package chat

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/rs/zerolog"
)

// Rebuilder recomputes ConversationSummary rows from the message ledger.
type Rebuilder struct {
	store data.Store
	log   zerolog.Logger
}

func NewRebuilder(store data.Store, log zerolog.Logger) *Rebuilder {
	return &Rebuilder{store: store, log: log}
}

// Rebuild replaces every participant's summary of one conversation with the
// value derived from its messages. Read positions are preserved.
func (r *Rebuilder) Rebuild(ctx context.Context, conversationID string) ([]*data.ConversationSummary, error) {
	var out []*data.ConversationSummary
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx data.Tx) error {
		out = nil
		participants, err := tx.ParticipantIDs(ctx, conversationID)
		if err != nil {
			return err
		}
		msgs, err := tx.ListMessages(ctx, conversationID)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		last := msgs[len(msgs)-1]

		for _, uid := range participants {
			var lastRead int64
			prev, err := tx.GetSummary(ctx, uid, conversationID)
			switch {
			case err == nil:
				lastRead = prev.LastReadSeq
			case !errors.Is(err, data.ErrNotFound):
				return err
			}

			var unread int64
			for _, m := range msgs {
				if m.Seq > lastRead && m.SenderID != uid {
					unread++
				}
			}
			peer, _ := peerOf(participants, uid)
			sum := &data.ConversationSummary{
				UserID:         uid,
				ConversationID: conversationID,
				PeerID:         peer,
				LastMessageID:  last.ID,
				LastMessageSeq: last.Seq,
				UnreadCount:    unread,
				LastReadSeq:    lastRead,
				UpdatedAt:      last.CreatedAt,
			}
			if err := tx.ReplaceSummary(ctx, sum); err != nil {
				return err
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, &TxError{Op: "rebuild summaries", Err: err}
	}
	return out, nil
}

// RebuildAll rebuilds every conversation and returns how many were processed.
// It stops at the first failure.
func (r *Rebuilder) RebuildAll(ctx context.Context) (int, error) {
	ids, err := r.store.ListConversationIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if _, err := r.Rebuild(ctx, id); err != nil {
			return i, err
		}
		r.log.Debug().Str("conversation_id", id).Msg("summaries rebuilt")
	}
	return len(ids), nil
}
