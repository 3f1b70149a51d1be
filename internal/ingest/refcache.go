package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/dealpool/ingest/internal/platform"
	"github.com/dealpool/ingest/internal/platform/models"
)

// refCache caches reference data lookups for the duration of one run.
// Reference rows are immutable while a run is in flight, so entries (including
// negative category entries) are never refreshed.
type refCache struct {
	refs References

	mu    sync.Mutex
	shops map[string]*models.Shop
	cats  map[string]*models.Category
}

func newRefCache(refs References) *refCache {
	return &refCache{
		refs:  refs,
		shops: map[string]*models.Shop{},
		cats:  map[string]*models.Category{},
	}
}

func (c *refCache) shopBySlug(ctx context.Context, slug string) (*models.Shop, error) {
	c.mu.Lock()
	shop, ok := c.shops[slug]
	c.mu.Unlock()
	if ok {
		return shop, nil
	}

	shop, err := c.refs.GetShopBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.shops[slug] = shop
	c.mu.Unlock()

	return shop, nil
}

// ResolveCategory implements normalizer.CategoryResolver. An unknown slug is
// cached as a negative entry and reported as (nil, nil).
func (c *refCache) ResolveCategory(ctx context.Context, slug string) (*models.Category, error) {
	c.mu.Lock()
	category, ok := c.cats[slug]
	c.mu.Unlock()
	if ok {
		return category, nil
	}

	category, err := c.refs.GetCategoryBySlug(ctx, slug)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		return nil, err
	}

	c.mu.Lock()
	c.cats[slug] = category
	c.mu.Unlock()

	return category, nil
}
