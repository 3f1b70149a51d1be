package adapter

import (
	"context"

	"github.com/dealpool/ingest/internal/platform/models"
	"golang.org/x/time/rate"
)

// defaultUserAgent identifies ingest requests upstream.
const defaultUserAgent = "dealpool-ingest/1.0"

// newLimiter returns a per-shop request pacer. Zero or negative rps means one
// request per second, the cautious default for upstream rate limits.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		rps = 1
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// push sends one fetch result into out, honoring cancellation.
func push(ctx context.Context, out chan<- models.FetchResult, result models.FetchResult) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- result:
		return nil
	}
}
