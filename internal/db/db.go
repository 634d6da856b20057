// Package db manages MongoDB connections, collections and indexes.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collection names.
const (
	usersColl         = "users"
	conversationsColl = "conversations"
	participantsColl  = "participants"
	messagesColl      = "messages"
	summariesColl     = "conversation_summaries"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB, pings the primary and returns a Client bound to
// the named database.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if database == "" {
		database = "chat_db"
	}
	return &Client{client: client, db: client.Database(database)}, nil
}

// Mongo returns the underlying driver client, needed to start sessions.
func (c *Client) Mongo() *mongo.Client { return c.client }

func (c *Client) UsersCollection() *mongo.Collection { return c.db.Collection(usersColl) }

func (c *Client) ConversationsCollection() *mongo.Collection {
	return c.db.Collection(conversationsColl)
}

func (c *Client) ParticipantsCollection() *mongo.Collection {
	return c.db.Collection(participantsColl)
}

func (c *Client) MessagesCollection() *mongo.Collection { return c.db.Collection(messagesColl) }

func (c *Client) SummariesCollection() *mongo.Collection { return c.db.Collection(summariesColl) }

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Drop removes every collection the service owns. Used by integration tests.
func (c *Client) Drop(ctx context.Context) error {
	for _, name := range []string{usersColl, conversationsColl, participantsColl, messagesColl, summariesColl} {
		if err := c.db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return nil
}

// CreateIndexes creates the indexes the stores rely on. It is idempotent.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// email uniqueness backs ErrDuplicateEmail
	_, err := c.UsersCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "name", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	// Only two-party conversations carry pair_key; this is where concurrent
	// creators of the same pair collide.
	_, err = c.ConversationsCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "pair_key", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"pair_key": bson.M{"$type": "string"}}),
	})
	if err != nil {
		return fmt.Errorf("failed to create conversations index: %w", err)
	}

	_, err = c.ParticipantsCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create participants indexes: %w", err)
	}

	_, err = c.MessagesCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	_, err = c.SummariesCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "conversation_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}, {Key: "last_message_id", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create summary indexes: %w", err)
	}
	return nil
}
