package models

import "time"

// Banner is an approved banner record, keyed by the submitter's user ID.
// Img points at the hosted copy of the image, not the original attachment.
type Banner struct {
	UID        string    `bson:"uid"`
	Img        string    `bson:"img"`
	ApprovedBy string    `bson:"approved_by,omitempty"`
	UpdatedAt  time.Time `bson:"updated_at"`
}
