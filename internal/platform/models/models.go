package models

import "time"

// DealType classifies how a deal was offered by the shop.
type DealType string

// Known deal types.
const (
	DealTypeFlashSale DealType = "flash_sale"
	DealTypePriceDrop DealType = "price_drop"
	DealTypeCoupon    DealType = "coupon"
	DealTypeClearance DealType = "clearance"
	DealTypeBundle    DealType = "bundle"
)

// Shop is a shop reference entity. Shops are seeded externally and read-only here.
type Shop struct {
	ID       int64
	Slug     string
	Name     string
	Currency string
	Active   bool
}

// Category is a category reference entity, resolved by slug.
type Category struct {
	ID   int64
	Slug string
	Name string
}

// Deal is the canonical listing record, unique per (ShopID, ExternalID).
// ID is assigned on first insert and never changes afterwards.
type Deal struct {
	ID                 int64
	ShopID             int64
	ExternalID         string
	Title              string
	DealURL            string
	ImageURL           *string
	DealPrice          int64
	OriginalPrice      *int64
	DiscountPercentage int
	DealType           DealType
	CategoryID         *int64
	AIScore            *float64
	AIReasoning        *string
	ViewCount          int
	CommentCount       int
	VoteUp             int
	VoteDown           int
	StartsAt           *time.Time
	ExpiresAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PriceHistoryPoint is one append-only price observation for a deal.
type PriceHistoryPoint struct {
	ID         int64
	DealID     int64
	Price      int64
	RecordedAt time.Time
}

// RawListing is the shop-native shape of one listing as yielded by an adapter.
// It only lives inside a single ingestion run.
type RawListing struct {
	ExternalID    string
	Title         string
	URL           string
	ImageURL      string
	Price         string
	OriginalPrice string
	// Discount is an upstream-supplied discount percentage. When non-nil it is
	// trusted as-is, otherwise the normalizer recomputes the discount.
	Discount      *int
	CategoryLabel string
	DealTypeLabel string
	StartsAt      *time.Time
	ExpiresAt     *time.Time
}

// FetchResult carries one raw listing with its fetch error if there is any.
type FetchResult struct {
	Listing RawListing
	Err     error
}
