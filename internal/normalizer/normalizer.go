// Package normalizer turns shop-native raw listings into canonical deals.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dealpool/ingest/internal/platform"
	"github.com/dealpool/ingest/internal/platform/models"
)

//go:generate mockery --name CategoryResolver --filename categoryresolver.go

// CategoryResolver resolves canonical categories by slug. Implementations are
// expected to cache lookups for the duration of a run.
type CategoryResolver interface {
	// ResolveCategory returns the category for slug or (nil, nil) when the
	// slug doesn't match any canonical category.
	ResolveCategory(ctx context.Context, slug string) (*models.Category, error)
}

// Rules is the per-shop normalization configuration.
type Rules struct {
	// CategoryLabels maps shop-supplied category labels to canonical slugs.
	CategoryLabels map[string]string
}

// Normalizer maps raw listings into canonical deals.
type Normalizer struct {
	categories CategoryResolver
}

// New returns new Normalizer.
func New(categories CategoryResolver) *Normalizer {
	return &Normalizer{categories: categories}
}

// Normalize converts raw into a candidate deal for shop. It returns
// *platform.NormalizationError when a required field is missing or malformed.
func (n *Normalizer) Normalize(
	ctx context.Context,
	raw models.RawListing,
	shop *models.Shop,
	rules Rules,
) (*models.Deal, error) {
	if strings.TrimSpace(raw.ExternalID) == "" {
		return nil, &platform.NormalizationError{Field: "external_id", Err: errMissing}
	}
	if strings.TrimSpace(raw.Title) == "" {
		return nil, &platform.NormalizationError{Field: "title", Err: errMissing}
	}
	if strings.TrimSpace(raw.URL) == "" {
		return nil, &platform.NormalizationError{Field: "url", Err: errMissing}
	}

	dealPrice, err := ParsePrice(raw.Price, shop.Currency)
	if err != nil {
		return nil, &platform.NormalizationError{Field: "price", Err: err}
	}
	if dealPrice <= 0 {
		return nil, &platform.NormalizationError{Field: "price", Err: errNotPositive}
	}

	deal := models.Deal{
		ShopID:     shop.ID,
		ExternalID: strings.TrimSpace(raw.ExternalID),
		Title:      strings.TrimSpace(raw.Title),
		DealURL:    strings.TrimSpace(raw.URL),
		DealPrice:  dealPrice,
		DealType:   inferDealType(raw),
		StartsAt:   raw.StartsAt,
		ExpiresAt:  raw.ExpiresAt,
	}

	if img := strings.TrimSpace(raw.ImageURL); img != "" {
		deal.ImageURL = &img
	}

	// An original price below the deal price is upstream noise, not a reason
	// to reject the whole listing. It is dropped instead.
	if strings.TrimSpace(raw.OriginalPrice) != "" {
		original, err := ParsePrice(raw.OriginalPrice, shop.Currency)
		if err != nil {
			return nil, &platform.NormalizationError{Field: "original_price", Err: err}
		}
		if original >= dealPrice {
			deal.OriginalPrice = &original
		}
	}

	deal.DiscountPercentage = discount(raw.Discount, deal.DealPrice, deal.OriginalPrice)

	categoryID, err := n.resolveCategory(ctx, raw.CategoryLabel, rules)
	if err != nil {
		return nil, fmt.Errorf("can't resolve category: %w", err)
	}
	deal.CategoryID = categoryID

	return &deal, nil
}

// discount returns the upstream-trusted discount when supplied, otherwise
// recomputes it from the two prices: round((original-deal)/original*100).
func discount(trusted *int, dealPrice int64, originalPrice *int64) int {
	if trusted != nil {
		return clampPercent(*trusted)
	}
	if originalPrice == nil || *originalPrice <= 0 {
		return 0
	}
	pct := float64(*originalPrice-dealPrice) / float64(*originalPrice) * 100
	return clampPercent(int(math.Round(pct)))
}

func clampPercent(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// resolveCategory maps the shop label to a canonical category id. An unmatched
// label yields nil, never a fabricated category.
func (n *Normalizer) resolveCategory(ctx context.Context, label string, rules Rules) (*int64, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, nil
	}

	slug, ok := rules.CategoryLabels[label]
	if !ok {
		slug = slugify(label)
	}

	category, err := n.categories.ResolveCategory(ctx, slug)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, nil
	}

	return &category.ID, nil
}

func slugify(label string) string {
	slug := strings.ToLower(strings.TrimSpace(label))
	slug = strings.Join(strings.Fields(slug), "-")
	return slug
}

var dealTypeLabels = map[string]models.DealType{
	"flash_sale": models.DealTypeFlashSale,
	"flash":      models.DealTypeFlashSale,
	"price_drop": models.DealTypePriceDrop,
	"coupon":     models.DealTypeCoupon,
	"clearance":  models.DealTypeClearance,
	"bundle":     models.DealTypeBundle,
}

var dealTypeKeywords = []struct {
	keyword  string
	dealType models.DealType
}{
	{"쿠폰", models.DealTypeCoupon},
	{"coupon", models.DealTypeCoupon},
	{"타임딜", models.DealTypeFlashSale},
	{"특가", models.DealTypeFlashSale},
	{"flash", models.DealTypeFlashSale},
	{"재고정리", models.DealTypeClearance},
	{"clearance", models.DealTypeClearance},
	{"세트", models.DealTypeBundle},
	{"bundle", models.DealTypeBundle},
}

// inferDealType picks the deal type with fixed precedence: explicit upstream
// label, then title keywords, then price_drop.
func inferDealType(raw models.RawListing) models.DealType {
	if label := strings.ToLower(strings.TrimSpace(raw.DealTypeLabel)); label != "" {
		if dealType, ok := dealTypeLabels[label]; ok {
			return dealType
		}
	}

	title := strings.ToLower(raw.Title)
	for _, entry := range dealTypeKeywords {
		if strings.Contains(title, entry.keyword) {
			return entry.dealType
		}
	}

	return models.DealTypePriceDrop
}

var (
	errMissing     = errors.New("required field is missing")
	errNotPositive = errors.New("price must be positive")
)
