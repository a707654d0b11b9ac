package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStorage keeps one session namespace as a single document keyed by
// the namespace. Saves replace the whole document.
type MongoStorage struct {
	coll      *mongo.Collection
	namespace string
}

type storageDoc struct {
	ID           string    `bson:"_id"`
	Token        string    `bson:"token,omitempty"`
	RefreshToken string    `bson:"refreshToken,omitempty"`
	User         string    `bson:"user,omitempty"`
	UserStatus   string    `bson:"userStatus,omitempty"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// NewMongoStorage creates a Mongo storage for the given namespace.
func NewMongoStorage(coll *mongo.Collection, namespace string) *MongoStorage {
	return &MongoStorage{coll: coll, namespace: namespace}
}

// MongoStorageFactory returns a StorageFactory sharing one collection.
func MongoStorageFactory(coll *mongo.Collection) StorageFactory {
	return func(namespace string) Storage {
		return NewMongoStorage(coll, namespace)
	}
}

func (s *MongoStorage) Load(ctx context.Context) (map[string]string, error) {
	var doc storageDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": s.namespace}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session document: %w", err)
	}
	out := map[string]string{}
	for k, v := range map[string]string{
		KeyToken:        doc.Token,
		KeyRefreshToken: doc.RefreshToken,
		KeyUser:         doc.User,
		KeyUserStatus:   doc.UserStatus,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MongoStorage) Save(ctx context.Context, values map[string]string) error {
	doc := storageDoc{
		ID:           s.namespace,
		Token:        values[KeyToken],
		RefreshToken: values[KeyRefreshToken],
		User:         values[KeyUser],
		UserStatus:   values[KeyUserStatus],
		UpdatedAt:    time.Now().UTC(),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": s.namespace}, doc, opts); err != nil {
		return fmt.Errorf("failed to save session document: %w", err)
	}
	return nil
}

func (s *MongoStorage) Clear(ctx context.Context) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": s.namespace}); err != nil {
		return fmt.Errorf("failed to clear session document: %w", err)
	}
	return nil
}
