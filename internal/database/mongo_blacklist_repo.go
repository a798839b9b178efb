package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"usrbg-bot/internal/database/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const blacklistCollectionName = "blacklist"

// MongoBlacklistRepository implements BlacklistRepository for MongoDB.
type MongoBlacklistRepository struct {
	collection *mongo.Collection
}

// NewMongoBlacklistRepository creates a new MongoDB blacklist repository.
func NewMongoBlacklistRepository(db *mongo.Database) *MongoBlacklistRepository {
	return &MongoBlacklistRepository{
		collection: db.Collection(blacklistCollectionName),
	}
}

// IsBlacklisted reports whether a ban record exists for the given user ID.
func (r *MongoBlacklistRepository) IsBlacklisted(ctx context.Context, uid string) (bool, error) {
	err := r.collection.FindOne(ctx, bson.M{"uid": uid}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up blacklist for uid %s: %w", uid, err)
	}
	return true, nil
}

// Ban creates or replaces the ban record keyed by entry.UID.
func (r *MongoBlacklistRepository) Ban(ctx context.Context, entry *models.BanEntry) error {
	entry.BannedAt = time.Now()

	filter := bson.M{"uid": entry.UID}
	update := bson.M{"$set": entry}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to ban uid %s: %w", entry.UID, err)
	}
	return nil
}

// Unban removes the ban record for the given user ID.
// Removing a missing record is not an error.
func (r *MongoBlacklistRepository) Unban(ctx context.Context, uid string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"uid": uid}); err != nil {
		return fmt.Errorf("failed to unban uid %s: %w", uid, err)
	}
	return nil
}
