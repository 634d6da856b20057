package chat

import (
	"context"
	"errors"
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/rs/zerolog"
)

// maxResolveAttempts bounds the lookup/create loop when creators keep colliding.
const maxResolveAttempts = 5

// Resolver finds or creates the unique two-party conversation of a pair.
//
// Creation is an insert-if-absent inside a transaction. The new conversation
// carries the pair key, which the store keeps unique, so of two racing
// creators exactly one commits and the other gets data.ErrConflict. The loser
// retries as a lookup and returns the winner's conversation.
type Resolver struct {
	store data.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewResolver returns a Resolver over store.
func NewResolver(store data.Store, log zerolog.Logger) *Resolver {
	return &Resolver{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// ResolveOrCreate returns the id of the conversation whose participants are
// exactly {userA, userB}, creating it when none exists.
func (r *Resolver) ResolveOrCreate(ctx context.Context, userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", invalid("receiver_id", "is required")
	}
	if userA == userB {
		return "", invalid("receiver_id", "cannot start a conversation with yourself")
	}

	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		conv, err := r.store.FindDirectConversation(ctx, userA, userB)
		if err == nil {
			return conv.ID, nil
		}
		if !errors.Is(err, data.ErrNotFound) {
			return "", &TxError{Op: "resolve conversation", Err: err}
		}

		id, err := r.create(ctx, userA, userB)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, data.ErrConflict) {
			r.log.Debug().
				Str("user_a", userA).
				Str("user_b", userB).
				Int("attempt", attempt).
				Msg("conversation created concurrently, retrying lookup")
			continue
		}
		return "", &TxError{Op: "create conversation", Err: err}
	}
	return "", &TxError{Op: "resolve conversation", Err: data.ErrConflict}
}

func (r *Resolver) create(ctx context.Context, userA, userB string) (string, error) {
	var id string
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx data.Tx) error {
		// a creator that committed since our lookup wins
		if existing, err := tx.FindDirectConversation(ctx, userA, userB); err == nil {
			id = existing.ID
			return nil
		} else if !errors.Is(err, data.ErrNotFound) {
			return err
		}

		now := r.now().Truncate(time.Millisecond)
		conv := &data.Conversation{
			ID:        data.NewID(),
			Type:      data.ConversationDirect,
			PairKey:   data.PairKey(userA, userB),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateConversation(ctx, conv, []string{userA, userB}); err != nil {
			return err
		}
		id = conv.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
