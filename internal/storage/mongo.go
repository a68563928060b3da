package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore keeps one document per conversation, {_id: key, messages: [...]}.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	limits     Limits
}

// MongoOptions configures NewMongoStore.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
}

type conversationDoc struct {
	ID       string    `bson:"_id"`
	Messages []Message `bson:"messages"`
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, opts MongoOptions, limits Limits) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(opts.Database).Collection(opts.Collection),
		limits:     limits,
	}, nil
}

// Append pushes the entry with a single upsert that also trims the array.
func (s *MongoStore) Append(ctx context.Context, key Key, role Role, author, content string) (Message, error) {
	msg, err := newMessage(key, role, author, content)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}

	update := bson.M{
		"$push": bson.M{
			"messages": bson.M{
				"$each":  []Message{msg},
				"$slice": -s.limits.LogLimit,
			},
		},
	}
	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": key.String()}, update, options.Update().SetUpsert(true))
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}
	return msg, nil
}

// Recent returns the newest entries using a $slice projection.
func (s *MongoStore) Recent(ctx context.Context, key Key, limit int) ([]Message, error) {
	if err := key.Validate(); err != nil {
		return nil, storeErr("recent", key, err)
	}

	opts := options.FindOne().SetProjection(bson.M{
		"messages": bson.M{"$slice": -s.limits.load(limit)},
	})

	var doc conversationDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": key.String()}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, storeErr("recent", key, err)
	}
	return doc.Messages, nil
}

// Delete removes a conversation.
func (s *MongoStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return storeErr("delete", key, err)
	}

	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": key.String()}); err != nil {
		return storeErr("delete", key, err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
