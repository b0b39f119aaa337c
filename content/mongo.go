package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vrschool-media/media"
)

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection("contents")}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "media.downloadStatus", Value: 1}}},
		{Keys: bson.D{{Key: "media.identityRef", Value: 1}}},
		{Keys: bson.D{{Key: "schoolId", Value: 1}}},
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, c *Content) error {
	prepare(c)
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.coll.InsertOne(ctx, c)
	return err
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Content, error) {
	var c Content
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) ListByStatus(ctx context.Context, statuses ...media.Status) ([]Content, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"media.downloadStatus": bson.M{"$in": statuses}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var cs []Content
	if err := cur.All(ctx, &cs); err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *MongoStore) LinkIdentity(ctx context.Context, id, externalID string) error {
	return s.set(ctx, id, bson.M{"media.identityRef": externalID})
}

func (s *MongoStore) SetProgress(ctx context.Context, id string, status media.Status, progress int) error {
	return s.set(ctx, id, bson.M{
		"media.downloadStatus":   status,
		"media.downloadProgress": progress,
	})
}

func (s *MongoStore) MarkCompleted(ctx context.Context, id, downloadedURL string) error {
	return s.set(ctx, id, bson.M{
		"media.downloadStatus":   media.Completed,
		"media.downloadedUrl":    downloadedURL,
		"media.downloadProgress": 100,
		"media.downloadError":    "",
	})
}

func (s *MongoStore) MarkFailed(ctx context.Context, id, message string) error {
	return s.set(ctx, id, bson.M{
		"media.downloadStatus":   media.Failed,
		"media.downloadProgress": 0,
		"media.downloadError":    message,
	})
}

func (s *MongoStore) ResetForRetry(ctx context.Context, id string) error {
	return s.set(ctx, id, bson.M{
		"media.downloadStatus":   media.Pending,
		"media.downloadProgress": 0,
		"media.downloadError":    "",
	})
}

func (s *MongoStore) set(ctx context.Context, id string, set bson.M) error {
	set["updatedAt"] = time.Now()
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
