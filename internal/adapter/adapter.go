// Package adapter contains the per-shop integrations fetching raw listings,
// either from structured upstream APIs or by scraping listing pages.
package adapter

import (
	"context"

	"github.com/dealpool/ingest/internal/platform/models"
)

// Filter narrows a fetch to one category. The zero value means all categories.
type Filter struct {
	Category string
}

// Adapter fetches raw listings from one upstream shop.
//
// Fetch writes results into out in upstream order; per-item problems flow
// through the channel as FetchResult.Err and never abort the fetch. The
// returned error is always a *platform.AdapterError and terminates the whole
// (shop, category) unit. Fetch never closes out.
type Adapter interface {
	// Slug returns the shop slug this adapter serves.
	Slug() string
	// Fetch streams raw listings for the optional category filter.
	Fetch(ctx context.Context, filter Filter, out chan<- models.FetchResult) error
}
