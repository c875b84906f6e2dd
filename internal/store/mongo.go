package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/christopherjohns/chatrelay/internal/message"
	"github.com/christopherjohns/chatrelay/internal/user"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
)

// Mongo stores users and messages in two collections of one database.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
}

// OpenMongo connects to uri, selects database and creates the unique
// username index and the message timestamp index.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	s := &Mongo{
		client:   client,
		users:    db.Collection(usersCollection),
		messages: db.Collection(messagesCollection),
	}
	if err := s.setupIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Mongo) setupIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create username index: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create timestamp index: %w", err)
	}
	return nil
}

func (s *Mongo) CreateUser(ctx context.Context, u *user.User) error {
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateUsername
		}
		return wrap("create_user", err)
	}
	return nil
}

func (s *Mongo) FindUser(ctx context.Context, username, password string) (*user.User, error) {
	var u user.User
	err := s.users.FindOne(ctx, bson.D{
		{Key: "username", Value: username},
		{Key: "password", Value: password},
	}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("find_user", err)
	}
	return &u, nil
}

func (s *Mongo) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "username", Value: username}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "last_login", Value: at}}}},
	)
	if err != nil {
		return wrap("update_last_login", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) InsertMessage(ctx context.Context, m *message.Message) error {
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return wrap("insert_message", err)
	}
	return nil
}

func (s *Mongo) RecentMessages(ctx context.Context, limit int) ([]*message.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.messages.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, wrap("query_recent_messages", err)
	}
	defer cur.Close(ctx)

	var msgs []*message.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, wrap("query_recent_messages", err)
	}
	for _, m := range msgs {
		m.Type = message.TypeChat
		m.Timestamp = m.Timestamp.UTC()
	}
	return msgs, nil
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
