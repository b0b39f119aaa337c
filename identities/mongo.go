package identities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vrschool-media/media"
)

const collectionName = "videoidentities"

// MongoStore keeps identities in the same document database as the rest of
// the platform's content.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(collectionName)}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sourceUrl", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "downloadStatus", Value: 1}}},
	})
	return err
}

func (s *MongoStore) FindOrCreate(ctx context.Context, sourceURL string) (*Identity, error) {
	externalID, err := ParseExternalID(sourceURL)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": externalID},
		bson.M{"$setOnInsert": bson.M{
			"sourceUrl":        strings.TrimSpace(sourceURL),
			"downloadStatus":   media.Pending,
			"downloadProgress": 0,
			"usageCount":       0,
			"createdAt":        now,
			"updatedAt":        now,
		}},
		options.Update().SetUpsert(true),
	)
	// two concurrent upserts on the same _id: the loser gets a duplicate key
	// error but the document exists
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("create identity %s: %w", externalID, err)
	}
	return s.Get(ctx, externalID)
}

func (s *MongoStore) Get(ctx context.Context, externalID string) (*Identity, error) {
	var ident Identity
	err := s.coll.FindOne(ctx, bson.M{"_id": externalID}).Decode(&ident)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, externalID)
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

func (s *MongoStore) ListByStatus(ctx context.Context, statuses ...media.Status) ([]Identity, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"downloadStatus": bson.M{"$in": statuses}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var idents []Identity
	if err := cur.All(ctx, &idents); err != nil {
		return nil, err
	}
	return idents, nil
}

func (s *MongoStore) MarkDownloading(ctx context.Context, ident *Identity) error {
	return s.transition(ctx, ident, media.Downloading, bson.M{
		"downloadProgress":  0,
		"downloadStartedAt": time.Now(),
	})
}

func (s *MongoStore) MarkUploading(ctx context.Context, ident *Identity) error {
	return s.transition(ctx, ident, media.Uploading, bson.M{})
}

func (s *MongoStore) MarkCompleted(ctx context.Context, ident *Identity, storageURL, storageKey string, format media.Format) error {
	if storageURL == "" {
		return fmt.Errorf("%w: completed without storage url", ErrInvalidTransition)
	}
	return s.transition(ctx, ident, media.Completed, bson.M{
		"storageUrl":          storageURL,
		"storageKey":          storageKey,
		"downloadProgress":    100,
		"downloadError":       "",
		"downloadedFormat":    format,
		"downloadCompletedAt": time.Now(),
	})
}

func (s *MongoStore) MarkFailed(ctx context.Context, ident *Identity, cause error) error {
	return s.transition(ctx, ident, media.Failed, bson.M{
		"downloadProgress": 0,
		"downloadError":    errorText(cause),
	})
}

func (s *MongoStore) ResetForRetry(ctx context.Context, ident *Identity) error {
	return s.transition(ctx, ident, media.Pending, bson.M{
		"downloadProgress": 0,
	})
}

func (s *MongoStore) SetProgress(ctx context.Context, ident *Identity, progress int) error {
	progress = clampProgress(progress)
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": ident.ExternalID, "downloadStatus": bson.M{"$in": []media.Status{media.Downloading, media.Uploading}}},
		bson.M{"$set": bson.M{"downloadProgress": progress, "updatedAt": time.Now()}},
	)
	if err != nil {
		return err
	}
	ident.Progress = progress
	return nil
}

func (s *MongoStore) SetMetadata(ctx context.Context, ident *Identity, meta media.Metadata) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": ident.ExternalID},
		bson.M{"$set": bson.M{"metadata": meta, "updatedAt": time.Now()}},
	)
	if err != nil {
		return err
	}
	ident.Metadata = meta
	return nil
}

func (s *MongoStore) IncrementUsage(ctx context.Context, ident *Identity) error {
	now := time.Now()
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": ident.ExternalID},
		bson.M{
			"$inc": bson.M{"usageCount": 1},
			"$set": bson.M{"lastAccessedAt": now, "updatedAt": now},
		},
	)
	if err != nil {
		return err
	}
	return s.reload(ctx, ident)
}

func (s *MongoStore) transition(ctx context.Context, ident *Identity, to media.Status, set bson.M) error {
	set["downloadStatus"] = to
	set["updatedAt"] = time.Now()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": ident.ExternalID, "downloadStatus": bson.M{"$in": media.From(to)}},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		cur, err := s.Get(ctx, ident.ExternalID)
		if err != nil {
			return err
		}
		*ident = *cur
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	log.Debugln("identity", ident.ExternalID, "status ->", to)
	return s.reload(ctx, ident)
}

func (s *MongoStore) reload(ctx context.Context, ident *Identity) error {
	cur, err := s.Get(ctx, ident.ExternalID)
	if err != nil {
		return err
	}
	*ident = *cur
	return nil
}
