package database

import (
	"context"
	"fmt"
	"time"

	"usrbg-bot/internal/database/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const bannerCollectionName = "usrbg"

// MongoBannerRepository implements BannerRepository for MongoDB.
type MongoBannerRepository struct {
	collection *mongo.Collection
}

// NewMongoBannerRepository creates a new MongoDB banner repository.
func NewMongoBannerRepository(db *mongo.Database) *MongoBannerRepository {
	return &MongoBannerRepository{
		collection: db.Collection(bannerCollectionName),
	}
}

// UpsertBanner creates or replaces the banner record keyed by banner.UID.
func (r *MongoBannerRepository) UpsertBanner(ctx context.Context, banner *models.Banner) error {
	banner.UpdatedAt = time.Now()

	filter := bson.M{"uid": banner.UID}
	update := bson.M{"$set": banner}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert banner for uid %s: %w", banner.UID, err)
	}
	return nil
}

// DeleteBanner removes the banner record for the given user ID.
// Deleting a missing record is not an error.
func (r *MongoBannerRepository) DeleteBanner(ctx context.Context, uid string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"uid": uid}); err != nil {
		return fmt.Errorf("failed to delete banner for uid %s: %w", uid, err)
	}
	return nil
}
