package model

import "time"

// ListingKind separates the two marketplaces sharing the listings table.
type ListingKind string

const (
	KindRealEstate ListingKind = "real_estate"
	KindHandmade   ListingKind = "handmade"
)

// Valid reports whether k is a known listing kind.
func (k ListingKind) Valid() bool {
	return k == KindRealEstate || k == KindHandmade
}

// ListingStatus tracks moderation state.  New listings start pending and
// become visible to the public only once published by an editor or admin.
type ListingStatus string

const (
	StatusPending   ListingStatus = "pending"
	StatusPublished ListingStatus = "published"
	StatusRejected  ListingStatus = "rejected"
)

// Listing represents a row in the `listings` table.  Kind-specific columns
// are nullable in the database and zero here when they do not apply:
// SquareMeters/Rooms for real estate, Material/Quantity for handmade goods.
type Listing struct {
	ID           uint64        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Kind         ListingKind   `json:"kind"`
	Title        string        `json:"title"`
	Slug         string        `json:"slug"`
	Description  string        `json:"description"`
	PriceCents   uint64        `json:"price_cents"`
	City         string        `json:"city"`
	ContactPhone string        `json:"contact_phone,omitempty"`
	Status       ListingStatus `json:"status"`
	SquareMeters uint32        `json:"square_meters,omitempty"`
	Rooms        uint8         `json:"rooms,omitempty"`
	Material     string        `json:"material,omitempty"`
	Quantity     uint32        `json:"quantity,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ListingFilter narrows public browse queries.  Zero values mean "any".
type ListingFilter struct {
	Kind   ListingKind
	City   string
	Query  string
	Limit  int
	Offset int
}
