package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"
)

// MongoCollections groups the collections MongoStore works on.
type MongoCollections struct {
	Conversations *mongo.Collection
	Participants  *mongo.Collection
	Messages      *mongo.Collection
	Summaries     *mongo.Collection
}

// MongoStore implements Store on MongoDB. Transactions need a replica set
// or sharded cluster; a standalone server rejects them.
type MongoStore struct {
	client *mongo.Client
	c      MongoCollections
}

// NewMongoStore returns a MongoStore using the given client and collections.
func NewMongoStore(client *mongo.Client, colls MongoCollections) *MongoStore {
	return &MongoStore{client: client, c: colls}
}

var _ Store = (*MongoStore)(nil)

// RunInTx runs fn inside a MongoDB transaction with snapshot reads and
// majority writes. The driver retries fn on transient transaction errors, so
// fn must not have side effects outside the database.
func (s *MongoStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		return nil, fn(sc, &mongoTx{s: s})
	}, txOpts)
	return err
}

func (s *MongoStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	return s.findDirect(ctx, userA, userB)
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.getConversation(ctx, id)
}

func (s *MongoStore) ListConversationIDs(ctx context.Context) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1})
	cursor, err := s.c.Conversations.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	return s.listMessages(ctx, conversationID)
}

// ListSummaries returns the user's inbox, most recently active first.
func (s *MongoStore) ListSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "updated_at", Value: -1},
		{Key: "last_message_id", Value: -1},
	})
	cursor, err := s.c.Summaries.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []*ConversationSummary{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) findDirect(ctx context.Context, a, b string) (*Conversation, error) {
	var conv Conversation
	err := s.c.Conversations.FindOne(ctx, bson.M{"pair_key": PairKey(a, b)}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// the pair key is only a lookup aid; membership is the contract
	members, err := s.participantIDs(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !isExactPair(members, a, b) {
		return nil, ErrNotFound
	}
	return &conv, nil
}

func (s *MongoStore) getConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.c.Conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *MongoStore) participantIDs(ctx context.Context, conversationID string) ([]string, error) {
	opts := options.Find().SetSort(bson.M{"joined_at": 1})
	cursor, err := s.c.Participants.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []Participant
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, p := range rows {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

func (s *MongoStore) listMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	opts := options.Find().SetSort(bson.M{"seq": 1})
	cursor, err := s.c.Messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []*Message{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// mongoTx runs every operation with the session context handed to RunInTx.
type mongoTx struct {
	s *MongoStore
}

func (t *mongoTx) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	return t.s.findDirect(ctx, userA, userB)
}

func (t *mongoTx) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return t.s.getConversation(ctx, id)
}

func (t *mongoTx) CreateConversation(ctx context.Context, conv *Conversation, members []string) error {
	if _, err := t.s.c.Conversations.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return err
	}

	docs := make([]any, 0, len(members))
	for _, uid := range members {
		docs = append(docs, Participant{ConversationID: conv.ID, UserID: uid, JoinedAt: conv.CreatedAt})
	}
	if _, err := t.s.c.Participants.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (t *mongoTx) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	ids, err := t.s.participantIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return ids, nil
}

// NextSeq bumps last_seq on the conversation document. Concurrent senders in
// the same conversation write-conflict here, which serializes them.
func (t *mongoTx) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	update := bson.M{
		"$inc": bson.M{"last_seq": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	var conv Conversation
	err := t.s.c.Conversations.FindOneAndUpdate(ctx, bson.M{"_id": conversationID}, update, opts).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return conv.LastSeq, nil
}

func (t *mongoTx) InsertMessage(ctx context.Context, m *Message) error {
	if _, err := t.s.c.Messages.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (t *mongoTx) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	return t.s.listMessages(ctx, conversationID)
}

func (t *mongoTx) UpsertSummary(ctx context.Context, u SummaryUpdate) error {
	filter := bson.M{"user_id": u.UserID, "conversation_id": u.ConversationID}
	update := bson.M{
		"$set": bson.M{
			"peer_id":          u.PeerID,
			"last_message_id":  u.MessageID,
			"last_message_seq": u.MessageSeq,
			"updated_at":       u.At,
		},
		"$inc":         bson.M{"unread_count": u.UnreadDelta},
		"$setOnInsert": bson.M{"last_read_seq": int64(0)},
	}
	_, err := t.s.c.Summaries.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (t *mongoTx) GetSummary(ctx context.Context, userID, conversationID string) (*ConversationSummary, error) {
	var sum ConversationSummary
	err := t.s.c.Summaries.FindOne(ctx, bson.M{"user_id": userID, "conversation_id": conversationID}).Decode(&sum)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func (t *mongoTx) ReplaceSummary(ctx context.Context, sum *ConversationSummary) error {
	filter := bson.M{"user_id": sum.UserID, "conversation_id": sum.ConversationID}
	_, err := t.s.c.Summaries.ReplaceOne(ctx, filter, sum, options.Replace().SetUpsert(true))
	return err
}

func (t *mongoTx) MarkRead(ctx context.Context, userID, conversationID, peerID string, seq int64) (*ConversationSummary, error) {
	filter := bson.M{"user_id": userID, "conversation_id": conversationID}
	update := bson.M{
		"$set":         bson.M{"unread_count": int64(0)},
		"$max":         bson.M{"last_read_seq": seq},
		"$setOnInsert": bson.M{"peer_id": peerID, "updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var sum ConversationSummary
	if err := t.s.c.Summaries.FindOneAndUpdate(ctx, filter, update, opts).Decode(&sum); err != nil {
		return nil, err
	}
	return &sum, nil
}
