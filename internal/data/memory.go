package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/normalize"
)

// MemoryStore keeps all state in process. It implements Store and UserStore
// and is used by tests and single-node development runs. Transactions are
// serialized by a single mutex and rolled back from an undo journal.
type MemoryStore struct {
	mu sync.Mutex

	users  map[string]*User
	emails map[string]string // normalized email -> user id

	convs     map[string]*Conversation
	pairs     map[string]string   // pair key -> conversation id
	members   map[string][]string // conversation id -> user ids
	messages  map[string][]*Message
	summaries map[summaryKey]*ConversationSummary
}

type summaryKey struct {
	user, conv string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     map[string]*User{},
		emails:    map[string]string{},
		convs:     map[string]*Conversation{},
		pairs:     map[string]string{},
		members:   map[string][]string{},
		messages:  map[string][]*Message{},
		summaries: map[summaryKey]*ConversationSummary{},
	}
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ UserStore = (*MemoryStore)(nil)
)

// RunInTx runs fn with exclusive access to the store. If fn fails every
// mutation it made is undone before the error is returned.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	// a deadline that passed while fn ran fails the transaction closed
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findDirect(userA, userB)
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getConversation(id)
}

func (s *MemoryStore) ListConversationIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listMessages(conversationID), nil
}

func (s *MemoryStore) ListSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*ConversationSummary{}
	for k, v := range s.summaries {
		if k.user == userID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) findDirect(a, b string) (*Conversation, error) {
	id, ok := s.pairs[PairKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	if !isExactPair(s.members[id], a, b) {
		return nil, ErrNotFound
	}
	return s.getConversation(id)
}

func (s *MemoryStore) getConversation(id string) (*Conversation, error) {
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) listMessages(conversationID string) []*Message {
	src := s.messages[conversationID]
	out := make([]*Message, 0, len(src))
	for _, m := range src {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// memTx applies mutations directly and records how to revert each one.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	return t.s.findDirect(userA, userB)
}

func (t *memTx) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return t.s.getConversation(id)
}

func (t *memTx) CreateConversation(ctx context.Context, conv *Conversation, members []string) error {
	s := t.s
	if _, ok := s.convs[conv.ID]; ok {
		return ErrConflict
	}
	if conv.PairKey != "" {
		if _, ok := s.pairs[conv.PairKey]; ok {
			return ErrConflict
		}
		s.pairs[conv.PairKey] = conv.ID
	}
	cp := *conv
	s.convs[conv.ID] = &cp
	s.members[conv.ID] = append([]string(nil), members...)

	t.undo = append(t.undo, func() {
		delete(s.convs, conv.ID)
		delete(s.members, conv.ID)
		if conv.PairKey != "" {
			delete(s.pairs, conv.PairKey)
		}
	})
	return nil
}

func (t *memTx) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	m, ok := t.s.members[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), m...), nil
}

func (t *memTx) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	c, ok := t.s.convs[conversationID]
	if !ok {
		return 0, ErrNotFound
	}
	prevSeq, prevUpdated := c.LastSeq, c.UpdatedAt
	c.LastSeq++
	c.UpdatedAt = time.Now().UTC()
	t.undo = append(t.undo, func() {
		c.LastSeq, c.UpdatedAt = prevSeq, prevUpdated
	})
	return c.LastSeq, nil
}

func (t *memTx) InsertMessage(ctx context.Context, m *Message) error {
	s := t.s
	for _, existing := range s.messages[m.ConversationID] {
		if existing.ID == m.ID || existing.Seq == m.Seq {
			return ErrConflict
		}
	}
	cp := *m
	prev := s.messages[m.ConversationID]
	s.messages[m.ConversationID] = append(prev[:len(prev):len(prev)], &cp)
	t.undo = append(t.undo, func() {
		if len(prev) == 0 {
			delete(s.messages, m.ConversationID)
			return
		}
		s.messages[m.ConversationID] = prev
	})
	return nil
}

func (t *memTx) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	return t.s.listMessages(conversationID), nil
}

func (t *memTx) UpsertSummary(ctx context.Context, u SummaryUpdate) error {
	key := summaryKey{u.UserID, u.ConversationID}
	cur, existed := t.s.summaries[key]
	var prev ConversationSummary
	if existed {
		prev = *cur
	} else {
		cur = &ConversationSummary{UserID: u.UserID, ConversationID: u.ConversationID}
		t.s.summaries[key] = cur
	}

	cur.PeerID = u.PeerID
	cur.LastMessageID = u.MessageID
	cur.LastMessageSeq = u.MessageSeq
	cur.UpdatedAt = u.At
	cur.UnreadCount += u.UnreadDelta

	t.restoreSummary(key, existed, prev)
	return nil
}

func (t *memTx) GetSummary(ctx context.Context, userID, conversationID string) (*ConversationSummary, error) {
	cur, ok := t.s.summaries[summaryKey{userID, conversationID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cur
	return &cp, nil
}

func (t *memTx) ReplaceSummary(ctx context.Context, sum *ConversationSummary) error {
	key := summaryKey{sum.UserID, sum.ConversationID}
	cur, existed := t.s.summaries[key]
	var prev ConversationSummary
	if existed {
		prev = *cur
	}
	cp := *sum
	t.s.summaries[key] = &cp
	t.restoreSummary(key, existed, prev)
	return nil
}

func (t *memTx) MarkRead(ctx context.Context, userID, conversationID, peerID string, seq int64) (*ConversationSummary, error) {
	key := summaryKey{userID, conversationID}
	cur, existed := t.s.summaries[key]
	var prev ConversationSummary
	if existed {
		prev = *cur
	} else {
		cur = &ConversationSummary{UserID: userID, ConversationID: conversationID, PeerID: peerID}
		t.s.summaries[key] = cur
	}
	cur.UnreadCount = 0
	if seq > cur.LastReadSeq {
		cur.LastReadSeq = seq
	}
	t.restoreSummary(key, existed, prev)

	cp := *cur
	return &cp, nil
}

func (t *memTx) restoreSummary(key summaryKey, existed bool, prev ConversationSummary) {
	s := t.s
	t.undo = append(t.undo, func() {
		if !existed {
			delete(s.summaries, key)
			return
		}
		p := prev
		s.summaries[key] = &p
	})
}

// CreateUser registers a user. The email is stored normalized.
func (s *MemoryStore) CreateUser(ctx context.Context, name, email, hashedPassword string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = normalize.Email(email)
	if _, ok := s.emails[email]; ok {
		return nil, ErrDuplicateEmail
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	u := &User{
		ID:        NewID(),
		Name:      name,
		Email:     email,
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[u.ID] = u
	s.emails[email] = u.ID

	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[normalize.Email(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// ListUsersExcept returns every user but id, ordered by name.
func (s *MemoryStore) ListUsersExcept(ctx context.Context, id string) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*User{}
	for uid, u := range s.users {
		if uid == id {
			continue
		}
		cp := *u
		cp.Password = ""
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
