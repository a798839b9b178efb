package database

import (
	"context"

	"usrbg-bot/internal/database/models"
)

// BannerRepository defines the interface for approved banner records.
type BannerRepository interface {
	// UpsertBanner creates or replaces the banner record for banner.UID.
	UpsertBanner(ctx context.Context, banner *models.Banner) error
	// DeleteBanner removes the banner record for the given user ID.
	DeleteBanner(ctx context.Context, uid string) error
}

// BlacklistRepository defines the interface for the submission denylist.
type BlacklistRepository interface {
	// IsBlacklisted reports whether the given user ID is banned.
	IsBlacklisted(ctx context.Context, uid string) (bool, error)
	// Ban creates or replaces the ban record for entry.UID.
	Ban(ctx context.Context, entry *models.BanEntry) error
	// Unban removes the ban record for the given user ID.
	Unban(ctx context.Context, uid string) error
}
