package models

import "time"

// BanEntry marks a user as barred from submitting requests.
type BanEntry struct {
	UID      string    `bson:"uid"`
	BannedBy string    `bson:"banned_by,omitempty"`
	BannedAt time.Time `bson:"banned_at"`
}
