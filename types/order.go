package types

import "time"

// Known order statuses. The status field itself is free-form: the owner
// may set any non-empty string, no transition rules are enforced.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Order is the header record of one checkout transaction. An order is
// created atomically with its items and cannot exist without its user.
type Order struct {
	// ID is the unique identifier of the order.
	ID int `json:"id" db:"id"`

	// UserID is the id of the account that placed the order.
	UserID int `json:"user_id" db:"user_id"`

	// RecipientName is the name of the person receiving the delivery.
	RecipientName string `json:"recipient_name" db:"recipient_name"`

	// DeliveryAddress is the full shipping address.
	DeliveryAddress string `json:"delivery_address" db:"delivery_address"`

	// PhoneNumber is the contact number for the delivery.
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	// TotalAmount is the server-computed total of the order: the sum of
	// every item's subtotal. Client-submitted totals are never persisted.
	TotalAmount float64 `json:"total_amount" db:"total_amount"`

	// Status is the current state of the order. New orders start as
	// "pending".
	Status string `json:"status" db:"status"`

	// Items are the line items belonging to this order. They are deleted
	// together with the header.
	Items []OrderItem `json:"items" db:"items"`

	// CreatedAt is the timestamp at which the order was placed.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// OrderItem is one listing-and-quantity line within an order.
//
// Name, image key and unit price are snapshots taken at order time: they
// record what the buyer actually saw and paid, and never change when the
// catalog listing is later edited or re-priced. ListingID remains as an
// informational cross-reference only.
type OrderItem struct {
	// ID is the unique identifier of the line item.
	ID int `json:"id" db:"id"`

	// OrderID is the id of the order this item belongs to.
	OrderID int `json:"order_id" db:"order_id"`

	// ListingID references the catalog listing the item was built from.
	ListingID int `json:"listing_id" db:"listing_id"`

	// ListingName is the listing's name at order time.
	ListingName string `json:"listing_name" db:"listing_name"`

	// ListingImageKey is the listing's image key at order time.
	ListingImageKey string `json:"listing_image_key" db:"listing_image_key"`

	// PricePerUnit is the authoritative catalog price at order time.
	PricePerUnit float64 `json:"price_per_unit" db:"price_per_unit"`

	// Quantity is the number of units ordered. Always positive.
	Quantity int `json:"quantity" db:"quantity"`

	// Subtotal is PricePerUnit multiplied by Quantity.
	Subtotal float64 `json:"subtotal" db:"subtotal"`
}
