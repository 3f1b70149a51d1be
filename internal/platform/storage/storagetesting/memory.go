// Package storagetesting provides an in-memory storage implementation for
// tests that need real stateful upsert behavior without a database.
package storagetesting

import (
	"context"
	"sync"
	"time"

	"github.com/dealpool/ingest/internal/platform"
	"github.com/dealpool/ingest/internal/platform/models"
)

type dealKey struct {
	shopID     int64
	externalID string
}

// Memory is an in-memory storage keeping deals, price history and reference
// data. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	nextID  int64
	deals   map[dealKey]*models.Deal
	history map[int64][]models.PriceHistoryPoint
	shops   map[string]models.Shop
	cats    map[string]models.Category

	// FailWith, when set, makes every call return the error. Used to
	// exercise transient failure handling.
	FailWith error
}

// NewMemory returns an empty Memory storage.
func NewMemory() *Memory {
	return &Memory{
		nextID:  1,
		deals:   map[dealKey]*models.Deal{},
		history: map[int64][]models.PriceHistoryPoint{},
		shops:   map[string]models.Shop{},
		cats:    map[string]models.Category{},
	}
}

// SeedShop registers a reference shop.
func (m *Memory) SeedShop(shop models.Shop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shops[shop.Slug] = shop
}

// SeedCategory registers a reference category.
func (m *Memory) SeedCategory(category models.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cats[category.Slug] = category
}

// GetDealByShopAndExternalID returns a copy of the stored deal or platform.ErrNotFound.
func (m *Memory) GetDealByShopAndExternalID(_ context.Context, shopID int64, externalID string) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	deal, ok := m.deals[dealKey{shopID, externalID}]
	if !ok {
		return nil, platform.ErrNotFound
	}

	copied := *deal
	return &copied, nil
}

// InsertDeal stores a new deal and assigns its identity.
func (m *Memory) InsertDeal(_ context.Context, deal *models.Deal) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	inserted := *deal
	inserted.ID = m.nextID
	m.nextID++
	now := time.Now().UTC()
	inserted.CreatedAt = now
	inserted.UpdatedAt = now

	stored := inserted
	m.deals[dealKey{deal.ShopID, deal.ExternalID}] = &stored

	return &inserted, nil
}

// UpdateDeal replaces the mutable fields of a stored deal.
func (m *Memory) UpdateDeal(_ context.Context, deal *models.Deal) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	stored, ok := m.deals[dealKey{deal.ShopID, deal.ExternalID}]
	if !ok {
		return nil, platform.ErrNotFound
	}

	updated := *deal
	updated.ID = stored.ID
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	replaced := updated
	m.deals[dealKey{deal.ShopID, deal.ExternalID}] = &replaced

	return &updated, nil
}

// AppendPriceHistory appends one observation for a deal.
func (m *Memory) AppendPriceHistory(_ context.Context, dealID int64, price int64, recordedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	m.history[dealID] = append(m.history[dealID], models.PriceHistoryPoint{
		DealID:     dealID,
		Price:      price,
		RecordedAt: recordedAt,
	})

	return nil
}

// GetShopBySlug returns a seeded shop or platform.ErrNotFound.
func (m *Memory) GetShopBySlug(_ context.Context, slug string) (*models.Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	shop, ok := m.shops[slug]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return &shop, nil
}

// GetCategoryBySlug returns a seeded category or platform.ErrNotFound.
func (m *Memory) GetCategoryBySlug(_ context.Context, slug string) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	category, ok := m.cats[slug]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return &category, nil
}

// History returns the recorded price points of a deal in append order.
func (m *Memory) History(dealID int64) []models.PriceHistoryPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := make([]models.PriceHistoryPoint, len(m.history[dealID]))
	copy(points, m.history[dealID])
	return points
}

// Deal returns the stored deal for the identity pair, or nil.
func (m *Memory) Deal(shopID int64, externalID string) *models.Deal {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[dealKey{shopID, externalID}]
	if !ok {
		return nil
	}
	copied := *deal
	return &copied
}
