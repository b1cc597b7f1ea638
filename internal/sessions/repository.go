package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository stores the mirrored cookie of a session. Get returns nil, nil
// for a missing or expired session.
type Repository interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// MongoRepository keeps sessions in a collection with a TTL index on
// expiresAt (see database.EnsureIndexes).
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Put(ctx context.Context, s *Session) error {
	now := time.Now().UTC()
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = now.Add(time.Hour)
	}
	update := bson.M{
		"$set": bson.M{
			"token":     s.Token,
			"sub":       s.Sub,
			"expiresAt": s.ExpiresAt.UTC(),
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	if _, err := r.col.UpdateByID(ctx, s.ID, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("mongo put session %s: %w", s.ID, err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	return nil
}

// Get filters on expiresAt since the TTL monitor only runs once a minute.
func (r *MongoRepository) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	filter := bson.M{"_id": id, "expiresAt": bson.M{"$gt": time.Now().UTC()}}
	if err := r.col.FindOne(ctx, filter).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
