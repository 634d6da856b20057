package data

import (
	"context"
	"errors"
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/normalize"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

var _ UserStore = (*UsersStore)(nil)

// CreateUser inserts a new user document with an already hashed password.
func (u *UsersStore) CreateUser(ctx context.Context, name, email, hashedPassword string) (*User, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	user := &User{
		ID:        NewID(),
		Name:      name,
		Email:     normalize.Email(email),
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := u.coll.InsertOne(ctx, user); err != nil {
		// unique index on email
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return u.findOne(ctx, bson.M{"email": normalize.Email(email)})
}

// GetUserByID finds a user by id.
func (u *UsersStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return u.findOne(ctx, bson.M{"_id": id})
}

// ListUsersExcept returns every user except id, ordered by name.
func (u *UsersStore) ListUsersExcept(ctx context.Context, id string) ([]*User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"password": 0})
	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$ne": id}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []*User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (u *UsersStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
