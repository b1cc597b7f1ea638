package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stagepass/session-service/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on two collections keyed by _id. Live updates
// come from change streams, so the deployment must be a replica set.
type MongoStore struct {
	profiles *mongo.Collection
	stats    *mongo.Collection
}

func NewMongoStore(profiles, stats *mongo.Collection) *MongoStore {
	return &MongoStore{profiles: profiles, stats: stats}
}

func (s *MongoStore) WatchProfile(ctx context.Context, key string) (<-chan *Profile, error) {
	return watchDoc[Profile](ctx, s.profiles, key)
}

func (s *MongoStore) WatchStats(ctx context.Context, key string) (<-chan *Stats, error) {
	return watchDoc[Stats](ctx, s.stats, key)
}

// Update sets fields on the profile document under key.
func (s *MongoStore) Update(ctx context.Context, key string, fields map[string]interface{}) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range fields {
		set[k] = v
	}
	res, err := s.profiles.UpdateOne(ctx, bson.M{"_id": key}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Get reads the profile once.
func (s *MongoStore) Get(ctx context.Context, key string) (*Profile, error) {
	var p Profile
	if err := s.profiles.FindOne(ctx, bson.M{"_id": key}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

type changeEvent[T any] struct {
	OperationType string `bson:"operationType"`
	FullDocument  *T     `bson:"fullDocument"`
}

// watchDoc opens the change stream before the initial read so that no write
// between the two is lost.
func watchDoc[T any](ctx context.Context, col *mongo.Collection, key string) (<-chan *T, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: key}}}}}
	cs, err := col.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", col.Name(), err)
	}

	var initial *T
	var doc T
	if err := col.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err == nil {
		initial = &doc
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		_ = cs.Close(context.Background())
		return nil, fmt.Errorf("read %s: %w", col.Name(), err)
	}

	out := make(chan *T)
	go func() {
		defer close(out)
		defer cs.Close(context.Background())
		if initial != nil {
			select {
			case out <- initial:
			case <-ctx.Done():
				return
			}
		}
		for cs.Next(ctx) {
			var ev changeEvent[T]
			if err := cs.Decode(&ev); err != nil {
				logger.Warnf("profile: decode change on %s/%s: %v", col.Name(), key, err)
				continue
			}
			if ev.FullDocument == nil {
				continue
			}
			select {
			case out <- ev.FullDocument:
			case <-ctx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			logger.Errorf("profile: change stream on %s/%s ended: %v", col.Name(), key, err)
		}
	}()
	return out, nil
}
