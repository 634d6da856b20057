package data

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// stores returns every Store implementation available in this run. The
// mongo store needs MONGODB_URI pointing at a replica set.
func stores(t *testing.T) map[string]Store {
	out := map[string]Store{"memory": NewMemoryStore()}
	if os.Getenv("MONGODB_URI") != "" {
		c := setupDB(t)
		out["mongo"] = NewMongoStore(c.Mongo(), MongoCollections{
			Conversations: c.ConversationsCollection(),
			Participants:  c.ParticipantsCollection(),
			Messages:      c.MessagesCollection(),
			Summaries:     c.SummariesCollection(),
		})
	}
	return out
}

func createPair(t *testing.T, s Store, a, b string) *Conversation {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	conv := &Conversation{ID: NewID(), Type: ConversationDirect, PairKey: PairKey(a, b), CreatedAt: now, UpdatedAt: now}
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateConversation(ctx, conv, []string{a, b})
	})
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	return conv
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey("a", "b") != PairKey("b", "a") {
		t.Fatal("PairKey must not depend on argument order")
	}
	if PairKey("a", "b") == PairKey("a", "c") {
		t.Fatal("different pairs must have different keys")
	}
}

func TestNewIDIsTimeSortable(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 24 {
			t.Fatalf("unexpected id length %d", len(id))
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestStore_CreateAndFindDirectConversation(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := createPair(t, s, "u1", "u2")

			got, err := s.FindDirectConversation(ctx, "u2", "u1")
			if err != nil {
				t.Fatalf("FindDirectConversation failed: %v", err)
			}
			if got.ID != conv.ID {
				t.Fatalf("found %s, want %s", got.ID, conv.ID)
			}

			if _, err := s.FindDirectConversation(ctx, "u1", "u3"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			// a second creator of the same pair collides
			dup := &Conversation{ID: NewID(), Type: ConversationDirect, PairKey: PairKey("u2", "u1")}
			err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.CreateConversation(ctx, dup, []string{"u2", "u1"})
			})
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("expected ErrConflict, got %v", err)
			}
		})
	}
}

func TestStore_FindDirectRequiresExactPair(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// a conversation that carries the pair key but has a third member
			conv := &Conversation{ID: NewID(), Type: "group", PairKey: PairKey("x1", "x2")}
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.CreateConversation(ctx, conv, []string{"x1", "x2", "x3"})
			})
			if err != nil {
				t.Fatalf("CreateConversation failed: %v", err)
			}
			if _, err := s.FindDirectConversation(ctx, "x1", "x2"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("three-member conversation must not match a pair lookup, got %v", err)
			}
		})
	}
}

func TestStore_SendLikeTransaction(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := createPair(t, s, "a", "b")

			for i, body := range []string{"one", "two", "three"} {
				at := time.Now().UTC().Truncate(time.Millisecond).Add(time.Duration(i) * time.Millisecond)
				err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
					seq, err := tx.NextSeq(ctx, conv.ID)
					if err != nil {
						return err
					}
					m := &Message{ID: NewID(), ConversationID: conv.ID, SenderID: "a", ReceiverID: "b", Body: body, Seq: seq, CreatedAt: at}
					if err := tx.InsertMessage(ctx, m); err != nil {
						return err
					}
					if err := tx.UpsertSummary(ctx, SummaryUpdate{UserID: "a", ConversationID: conv.ID, PeerID: "b", MessageID: m.ID, MessageSeq: seq, At: at}); err != nil {
						return err
					}
					return tx.UpsertSummary(ctx, SummaryUpdate{UserID: "b", ConversationID: conv.ID, PeerID: "a", MessageID: m.ID, MessageSeq: seq, At: at, UnreadDelta: 1})
				})
				if err != nil {
					t.Fatalf("send %d failed: %v", i, err)
				}
			}

			msgs, err := s.ListMessages(ctx, conv.ID)
			if err != nil {
				t.Fatalf("ListMessages failed: %v", err)
			}
			if len(msgs) != 3 {
				t.Fatalf("expected 3 messages, got %d", len(msgs))
			}
			for i, m := range msgs {
				if m.Seq != int64(i+1) {
					t.Fatalf("message %d has seq %d", i, m.Seq)
				}
			}

			sb, err := s.ListSummaries(ctx, "b")
			if err != nil || len(sb) != 1 {
				t.Fatalf("ListSummaries(b): %v %d", err, len(sb))
			}
			if sb[0].UnreadCount != 3 || sb[0].LastMessageID != msgs[2].ID || sb[0].PeerID != "a" {
				t.Fatalf("unexpected summary for b: %+v", sb[0])
			}
			sa, _ := s.ListSummaries(ctx, "a")
			if len(sa) != 1 || sa[0].UnreadCount != 0 {
				t.Fatalf("unexpected summary for a: %+v", sa)
			}
		})
	}
}

func TestStore_RollbackLeavesNoTrace(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := createPair(t, s, "r1", "r2")
			boom := errors.New("boom")

			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				seq, err := tx.NextSeq(ctx, conv.ID)
				if err != nil {
					return err
				}
				m := &Message{ID: NewID(), ConversationID: conv.ID, SenderID: "r1", ReceiverID: "r2", Body: "x", Seq: seq}
				if err := tx.InsertMessage(ctx, m); err != nil {
					return err
				}
				if err := tx.UpsertSummary(ctx, SummaryUpdate{UserID: "r2", ConversationID: conv.ID, MessageID: m.ID, MessageSeq: seq, UnreadDelta: 1}); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}

			msgs, _ := s.ListMessages(ctx, conv.ID)
			if len(msgs) != 0 {
				t.Fatalf("rolled back message is visible")
			}
			sums, _ := s.ListSummaries(ctx, "r2")
			if len(sums) != 0 {
				t.Fatalf("rolled back summary is visible: %+v", sums)
			}
			got, _ := s.GetConversation(ctx, conv.ID)
			if got.LastSeq != 0 {
				t.Fatalf("rolled back seq is visible: %d", got.LastSeq)
			}
		})
	}
}

func TestStore_MarkReadAndReplace(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := createPair(t, s, "m1", "m2")
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.UpsertSummary(ctx, SummaryUpdate{UserID: "m2", ConversationID: conv.ID, PeerID: "m1", MessageID: "x", MessageSeq: 4, UnreadDelta: 4})
			})
			if err != nil {
				t.Fatalf("UpsertSummary failed: %v", err)
			}

			var read *ConversationSummary
			err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				var err error
				read, err = tx.MarkRead(ctx, "m2", conv.ID, "m1", 4)
				return err
			})
			if err != nil {
				t.Fatalf("MarkRead failed: %v", err)
			}
			if read.UnreadCount != 0 || read.LastReadSeq != 4 {
				t.Fatalf("unexpected summary after read: %+v", read)
			}

			// an older read position never moves last_read_seq backwards
			err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				var err error
				read, err = tx.MarkRead(ctx, "m2", conv.ID, "m1", 2)
				return err
			})
			if err != nil || read.LastReadSeq != 4 {
				t.Fatalf("last_read_seq moved backwards: %+v err=%v", read, err)
			}

			err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.ReplaceSummary(ctx, &ConversationSummary{UserID: "m2", ConversationID: conv.ID, PeerID: "m1", UnreadCount: 7, LastReadSeq: 4})
			})
			if err != nil {
				t.Fatalf("ReplaceSummary failed: %v", err)
			}
			sums, _ := s.ListSummaries(ctx, "m2")
			if len(sums) != 1 || sums[0].UnreadCount != 7 {
				t.Fatalf("replace not applied: %+v", sums)
			}
		})
	}
}

func TestMemoryStore_SummariesOrderedByActivity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		for i, conv := range []string{"c-old", "c-new", "c-mid"} {
			at := base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Minute)
			if err := tx.UpsertSummary(ctx, SummaryUpdate{UserID: "u", ConversationID: conv, At: at}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	sums, _ := s.ListSummaries(ctx, "u")
	got := []string{sums[0].ConversationID, sums[1].ConversationID, sums[2].ConversationID}
	want := []string{"c-new", "c-mid", "c-old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestStore_SummaryTiesBrokenByNewestMessage(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := NewID()
			at := time.Now().UTC().Truncate(time.Millisecond)
			older, newer := NewID(), NewID()

			// conversation ids sort the other way round
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				if err := tx.UpsertSummary(ctx, SummaryUpdate{UserID: user, ConversationID: "c-z", MessageID: older, MessageSeq: 1, At: at}); err != nil {
					return err
				}
				return tx.UpsertSummary(ctx, SummaryUpdate{UserID: user, ConversationID: "c-a", MessageID: newer, MessageSeq: 1, At: at})
			})
			if err != nil {
				t.Fatalf("setup failed: %v", err)
			}

			sums, err := s.ListSummaries(ctx, user)
			if err != nil {
				t.Fatalf("ListSummaries: %v", err)
			}
			if len(sums) != 2 || sums[0].ConversationID != "c-a" || sums[1].ConversationID != "c-z" {
				t.Fatalf("unexpected order: %+v", sums)
			}
		})
	}
}

func TestMemoryStore_CanceledContextFailsClosed(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	conv := createPair(t, s, "k1", "k2")

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.NextSeq(ctx, conv.ID); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	got, _ := s.GetConversation(context.Background(), conv.ID)
	if got.LastSeq != 0 {
		t.Fatalf("canceled transaction left seq %d", got.LastSeq)
	}
}
