package types

import "time"

// Listing represents a pre-configured PC build offered for sale.
// Listings are readable by anyone; only admins create or modify them.
type Listing struct {
	// ID is the unique identifier of the listing.
	ID int `json:"id" db:"id"`

	// Name is the human-readable name of the build
	// (e.g. "Entry Level Gaming PC").
	Name string `json:"name" db:"name"`

	// Description is an optional short description of the build.
	Description string `json:"description" db:"description"`

	// Price is the current, authoritative unit price of the build.
	// This is the only price trusted when an order is placed.
	Price float64 `json:"price" db:"price"`

	// ImageKey is the object-storage key of the listing's image, if one
	// has been uploaded. Empty when the listing has no image.
	ImageKey string `json:"image_key" db:"image_key"`

	// Specs holds the detailed component specification (CPU, GPU, RAM,
	// storage, ...) as opaque text supplied by the admin.
	Specs string `json:"specs" db:"specs"`

	// Category is an optional free-form classification of the build
	// (e.g. "gaming", "office", "workstation").
	Category string `json:"category" db:"category"`

	// UserID is the id of the admin account that created the listing.
	// The reference is weak: deleting the account keeps the listing.
	UserID *int `json:"user_id,omitempty" db:"user_id"`

	// CreatedAt is the timestamp at which the listing was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the listing.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
