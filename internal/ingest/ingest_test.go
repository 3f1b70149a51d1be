package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dealpool/ingest/internal/adapter"
	"github.com/dealpool/ingest/internal/ingest"
	"github.com/dealpool/ingest/internal/platform"
	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/dealpool/ingest/internal/platform/retry"
	"github.com/dealpool/ingest/internal/platform/storage/storagetesting"
	"github.com/dealpool/ingest/internal/upsert"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter replays canned fetch results and optionally fails the fetch.
type fakeAdapter struct {
	slug    string
	results []models.FetchResult
	err     error
	calls   atomic.Int32
}

func (a *fakeAdapter) Slug() string { return a.slug }

func (a *fakeAdapter) Fetch(ctx context.Context, _ adapter.Filter, out chan<- models.FetchResult) error {
	a.calls.Add(1)
	for _, result := range a.results {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- result:
		}
	}
	return a.err
}

func listing(externalID, price string) models.FetchResult {
	return models.FetchResult{Listing: models.RawListing{
		ExternalID: externalID,
		Title:      "상품 " + externalID,
		URL:        "https://shop.example.com/deals/" + externalID,
		Price:      price,
	}}
}

var fastRetry = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2}

type fixture struct {
	store  *storagetesting.Memory
	runner *ingest.Runner
}

func newFixture(t *testing.T, adapters ...adapter.Adapter) *fixture {
	t.Helper()

	store := storagetesting.NewMemory()
	for ix, adp := range adapters {
		store.SeedShop(models.Shop{
			ID:       int64(ix + 1),
			Slug:     adp.Slug(),
			Name:     adp.Slug(),
			Currency: "KRW",
			Active:   true,
		})
	}

	registry, err := adapter.NewRegistry(adapters...)
	require.NoError(t, err, "shouldn't return any error")

	logger := zerolog.Nop()
	runner := ingest.NewRunner(registry, store, upsert.New(store), ingest.Config{
		Concurrency:  4,
		UnitRetry:    fastRetry,
		StorageRetry: fastRetry,
	}, &logger)

	return &fixture{store: store, runner: runner}
}

func TestUnitRunPartialFailureIsolation(t *testing.T) {
	healthy1 := &fakeAdapter{slug: "naver", results: []models.FetchResult{
		listing("N1", "10,000원"),
		listing("N2", "20,000원"),
	}}
	broken := &fakeAdapter{slug: "coupang", err: platform.NewAdapterError(
		"coupang", platform.AdapterKindTransport, errors.New("connection refused"),
	)}
	healthy2 := &fakeAdapter{slug: "ppomppu", results: []models.FetchResult{
		listing("P1", "30,000원"),
	}}

	fix := newFixture(t, healthy1, broken, healthy2)

	report, err := fix.runner.Run(context.TODO(), ingest.RunRequest{})

	require.NoError(t, err, "a failed unit should never fail the run")
	assert.Equal(t, models.RunPartiallyFailed, report.Status, "run should be partially failed")

	totals := report.Totals()
	assert.Equal(t, int32(3), totals.Created, "healthy units' items should be upserted")
	assert.NotNil(t, fix.store.Deal(1, "N1"), "first healthy unit should persist")
	assert.NotNil(t, fix.store.Deal(3, "P1"), "second healthy unit should persist")

	assert.Equal(t, int32(2), broken.calls.Load(), "transport failure should be retried per policy")

	var unitFailures int
	for _, record := range report.Errors {
		if record.Kind == "unit" {
			unitFailures++
			assert.Equal(t, "coupang", record.Shop, "only the broken unit should fail")
		}
	}
	assert.Equal(t, 1, unitFailures, "should record exactly one unit failure")
}

func TestUnitRunSkipsBadRowsAndCountsThem(t *testing.T) {
	results := make([]models.FetchResult, 0, 10)
	for i := 1; i <= 10; i++ {
		if i == 5 {
			results = append(results, models.FetchResult{Listing: models.RawListing{
				ExternalID: fmt.Sprintf("P%d", i),
				Title:      "가격 없는 상품",
				URL:        "https://shop.example.com/deals/P5",
			}})
			continue
		}
		results = append(results, listing(fmt.Sprintf("P%d", i), "15,000원"))
	}

	fix := newFixture(t, &fakeAdapter{slug: "ppomppu", results: results})

	report, err := fix.runner.Run(context.TODO(), ingest.RunRequest{})

	require.NoError(t, err, "shouldn't return any error")
	assert.Equal(t, models.RunCompleted, report.Status, "item failures shouldn't fail the run")

	totals := report.Totals()
	assert.Equal(t, int32(10), totals.Fetched, "should count every fetched row")
	assert.Equal(t, int32(1), totals.Failed, "should count the bad row as failed")
	assert.Equal(t, int32(9), totals.Created, "other rows should upsert normally")

	require.Len(t, report.Errors, 1, "should record the skipped row")
	assert.Equal(t, "normalization", report.Errors[0].Kind, "missing price should be a normalization error")
	require.NotNil(t, report.Errors[0].ExternalID, "should carry the row's external id")
	assert.Equal(t, "P5", *report.Errors[0].ExternalID, "should identify the bad row")
}

func TestUnitRunIdempotentRerun(t *testing.T) {
	adp := &fakeAdapter{slug: "naver", results: []models.FetchResult{
		listing("N1", "10,000원"),
		listing("N2", "20,000원"),
	}}
	fix := newFixture(t, adp)

	first, err := fix.runner.Run(context.TODO(), ingest.RunRequest{})
	require.NoError(t, err, "shouldn't return any error")
	assert.Equal(t, int32(2), first.Totals().Created, "first run should create everything")

	second, err := fix.runner.Run(context.TODO(), ingest.RunRequest{})
	require.NoError(t, err, "shouldn't return any error")
	assert.Equal(t, int32(0), second.Totals().Created, "second run shouldn't create anything")
	assert.Equal(t, int32(2), second.Totals().Unchanged, "second run should be all unchanged")
	assert.Equal(t, models.RunCompleted, second.Status, "second run should complete")
}

func TestUnitRunSameRunDuplicateRows(t *testing.T) {
	// overlapping pages yield the same listing twice.
	adp := &fakeAdapter{slug: "naver", results: []models.FetchResult{
		listing("N1", "10,000원"),
		listing("N1", "10,000원"),
	}}
	fix := newFixture(t, adp)

	report, err := fix.runner.Run(context.TODO(), ingest.RunRequest{})

	require.NoError(t, err, "shouldn't return any error")
	totals := report.Totals()
	assert.Equal(t, int32(1), totals.Created, "first occurrence should create")
	assert.Equal(t, int32(1), totals.Unchanged, "second occurrence should be unchanged")
	assert.Len(t, fix.store.History(fix.store.Deal(1, "N1").ID), 1, "should never double-append history")
}

// stallAdapter emits its results and then hangs until the context expires.
type stallAdapter struct {
	slug    string
	results []models.FetchResult
	calls   atomic.Int32
}

func (a *stallAdapter) Slug() string { return a.slug }

func (a *stallAdapter) Fetch(ctx context.Context, _ adapter.Filter, out chan<- models.FetchResult) error {
	a.calls.Add(1)
	for _, result := range a.results {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- result:
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestUnitRunUnitTimeout(t *testing.T) {
	adp := &stallAdapter{slug: "naver", results: []models.FetchResult{listing("N1", "10,000원")}}

	store := storagetesting.NewMemory()
	store.SeedShop(models.Shop{ID: 1, Slug: "naver", Name: "naver", Currency: "KRW", Active: true})

	registry, err := adapter.NewRegistry(adp)
	require.NoError(t, err, "shouldn't return any error")

	logger := zerolog.Nop()
	runner := ingest.NewRunner(registry, store, upsert.New(store), ingest.Config{
		UnitTimeout:  50 * time.Millisecond,
		UnitRetry:    fastRetry,
		StorageRetry: fastRetry,
	}, &logger)

	report, err := runner.Run(context.TODO(), ingest.RunRequest{})

	require.NoError(t, err, "a timed out unit should never fail the run")
	assert.Equal(t, models.RunPartiallyFailed, report.Status, "run should be partially failed")
	assert.Equal(t, int32(1), adp.calls.Load(), "timeout shouldn't be retried")

	assert.NotNil(t, store.Deal(1, "N1"), "rows upserted before the deadline should stay committed")
	assert.Equal(t, int32(1), report.Totals().Created, "should count the committed row")

	require.Len(t, report.Errors, 1, "should record the unit failure")
	assert.Equal(t, "unit", report.Errors[0].Kind, "should record a unit-level error")
	assert.Contains(t, report.Errors[0].Message, "timeout", "should classify the failure as a timeout")
}

func TestUnitRunNoShops(t *testing.T) {
	fix := newFixture(t)

	_, err := fix.runner.Run(context.TODO(), ingest.RunRequest{})

	require.ErrorIs(t, err, platform.ErrNoShops, "empty work set should fail the run start")
}

func TestUnitRunUnknownShopNotRetried(t *testing.T) {
	adp := &fakeAdapter{slug: "naver", results: []models.FetchResult{listing("N1", "10,000원")}}
	fix := newFixture(t, adp)

	report, err := fix.runner.Run(context.TODO(), ingest.RunRequest{Shops: []string{"also-ran"}})

	require.NoError(t, err, "unknown shop should be a unit failure, not a run failure")
	assert.Equal(t, models.RunPartiallyFailed, report.Status, "run should be partially failed")
	assert.Equal(t, int32(0), adp.calls.Load(), "registered adapters shouldn't run")
}

func TestUnitRunInactiveShop(t *testing.T) {
	adp := &fakeAdapter{slug: "naver", results: []models.FetchResult{listing("N1", "10,000원")}}
	fix := newFixture(t, adp)

	inactive := models.Shop{ID: 1, Slug: "naver", Name: "naver", Currency: "KRW", Active: false}
	fix.store.SeedShop(inactive)

	report, err := fix.runner.Run(context.TODO(), ingest.RunRequest{})

	require.NoError(t, err, "shouldn't return any error")
	assert.Equal(t, models.RunPartiallyFailed, report.Status, "inactive shop should fail its unit")
	assert.Equal(t, int32(0), report.Totals().Created, "shouldn't upsert anything")
}

func TestUnitRunPriceChangeAcrossRuns(t *testing.T) {
	adp := &fakeAdapter{slug: "naver", results: []models.FetchResult{listing("N1", "129,000원")}}
	fix := newFixture(t, adp)

	_, err := fix.runner.Run(context.TODO(), ingest.RunRequest{})
	require.NoError(t, err, "shouldn't return any error")

	adp.results = []models.FetchResult{listing("N1", "99,000원")}
	report, err := fix.runner.Run(context.TODO(), ingest.RunRequest{})
	require.NoError(t, err, "shouldn't return any error")

	assert.Equal(t, int32(1), report.Totals().Updated, "price change should update")

	deal := fix.store.Deal(1, "N1")
	assert.Equal(t, int64(99000), deal.DealPrice, "should store the new price")

	points := fix.store.History(deal.ID)
	require.Len(t, points, 2, "should hold baseline and change points")
	assert.Equal(t, int64(129000), points[0].Price, "baseline should hold first price")
	assert.Equal(t, int64(99000), points[1].Price, "second point should hold new price")
}
