package adapter_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dealpool/ingest/internal/adapter"
	"github.com/dealpool/ingest/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dealItemHTML(id, title, price string) string {
	priceHTML := ""
	if price != "" {
		priceHTML = fmt.Sprintf(`<span class="price-now">%s</span>`, price)
	}
	return fmt.Sprintf(`
		<li class="deal-item" data-deal-id="%s">
			<span class="deal-badge" data-kind="flash"></span>
			<div class="deal-title"><a href="/deals/%s">%s</a></div>
			<img class="deal-thumb" src="https://img.example.com/%s.jpg"/>
			<div class="price">%s<span class="price-was">150,000원</span></div>
			<span class="deal-category">디지털/가전</span>
		</li>`, id, id, title, id, priceHTML)
}

func dealBoardPage(items ...string) string {
	return fmt.Sprintf(`<html><body><ul class="deal-list">%s</ul></body></html>`, strings.Join(items, "\n"))
}

func newScrapeAdapter(srv *httptest.Server) *adapter.ScrapeAdapter {
	return adapter.NewScrape(adapter.ScrapeConfig{
		Slug:              "ppomppu",
		BaseURL:           srv.URL,
		MaxPages:          5,
		RequestsPerSecond: 1000,
		Retry:             testRetry,
	}, srv.Client())
}

func TestUnitScrapeFetchSkipsUnparseableItem(t *testing.T) {
	items := make([]string, 0, 10)
	for i := 1; i <= 10; i++ {
		price := fmt.Sprintf("%d9,000원", i)
		if i == 5 {
			price = "" // row without a price field
		}
		items = append(items, dealItemHTML(fmt.Sprintf("P%d", i), fmt.Sprintf("상품 %d", i), price))
	}

	srv := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("page") != "1" {
			fmt.Fprint(wrt, dealBoardPage())
			return
		}
		fmt.Fprint(wrt, dealBoardPage(items...))
	}))
	t.Cleanup(srv.Close)

	results, err := runFetch(t, newScrapeAdapter(srv), adapter.Filter{})

	require.NoError(t, err, "one bad row shouldn't fail the fetch")
	require.Len(t, results, 10, "should yield every row")

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			var itemErr *platform.ItemError
			require.ErrorAs(t, result.Err, &itemErr, "bad row should become item error")
			assert.Equal(t, "P5", itemErr.ExternalID, "should identify the bad row")
		}
	}
	assert.Equal(t, 1, failed, "exactly one row should fail")
}

func TestUnitScrapeFetchParsesFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("page") != "1" {
			fmt.Fprint(wrt, dealBoardPage())
			return
		}
		fmt.Fprint(wrt, dealBoardPage(dealItemHTML("P77", "무선 이어폰", "129,000원")))
	}))
	t.Cleanup(srv.Close)

	results, err := runFetch(t, newScrapeAdapter(srv), adapter.Filter{})

	require.NoError(t, err, "shouldn't return any error")
	require.Len(t, results, 1, "should yield one row")

	listing := results[0].Listing
	assert.Equal(t, "P77", listing.ExternalID, "should parse external id")
	assert.Equal(t, "무선 이어폰", listing.Title, "should parse title")
	assert.Equal(t, srv.URL+"/deals/P77", listing.URL, "should absolutize relative url")
	assert.Equal(t, "https://img.example.com/P77.jpg", listing.ImageURL, "should parse image url")
	assert.Equal(t, "129,000원", listing.Price, "should parse deal price text")
	assert.Equal(t, "150,000원", listing.OriginalPrice, "should parse original price text")
	assert.Equal(t, "디지털/가전", listing.CategoryLabel, "should parse category label")
	assert.Equal(t, "flash", listing.DealTypeLabel, "should parse deal type badge")
}

func TestUnitScrapeFetchStopsOnEmptyPage(t *testing.T) {
	pagesServed := 0
	srv := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		pagesServed++
		if req.URL.Query().Get("page") == "1" {
			fmt.Fprint(wrt, dealBoardPage(dealItemHTML("P1", "상품", "9,000원")))
			return
		}
		fmt.Fprint(wrt, dealBoardPage())
	}))
	t.Cleanup(srv.Close)

	results, err := runFetch(t, newScrapeAdapter(srv), adapter.Filter{})

	require.NoError(t, err, "shouldn't return any error")
	assert.Len(t, results, 1, "should yield first page only")
	assert.Equal(t, 2, pagesServed, "should stop after the first empty page")
}

func TestUnitScrapeFetchRetriesRateLimit(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		requests++
		if requests == 1 {
			wrt.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if req.URL.Query().Get("page") != "1" {
			fmt.Fprint(wrt, dealBoardPage())
			return
		}
		fmt.Fprint(wrt, dealBoardPage(dealItemHTML("P1", "상품", "9,000원")))
	}))
	t.Cleanup(srv.Close)

	results, err := runFetch(t, newScrapeAdapter(srv), adapter.Filter{})

	require.NoError(t, err, "single 429 should be retried away")
	assert.Len(t, results, 1, "should yield the page served after the retry")
}

func TestUnitScrapeFetchRateLimitExhausted(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, _ *http.Request) {
		requests++
		wrt.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, err := runFetch(t, newScrapeAdapter(srv), adapter.Filter{})

	var adapterErr *platform.AdapterError
	require.ErrorAs(t, err, &adapterErr, "should return adapter error")
	assert.Equal(t, platform.AdapterKindRateLimit, adapterErr.Kind, "should escalate as rate limit error")
	assert.Equal(t, testRetry.MaxAttempts, requests, "should stop after bounded attempts")
}

func TestUnitScrapeFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, _ *http.Request) {
		wrt.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := runFetch(t, newScrapeAdapter(srv), adapter.Filter{})

	var adapterErr *platform.AdapterError
	require.ErrorAs(t, err, &adapterErr, "should return adapter error")
	assert.Equal(t, platform.AdapterKindTransport, adapterErr.Kind, "5xx should be a transport error")
}

func TestUnitRegistry(t *testing.T) {
	naver := adapter.NewAPI(adapter.APIConfig{Slug: "naver"}, http.DefaultClient)
	ppomppu := adapter.NewScrape(adapter.ScrapeConfig{Slug: "ppomppu"}, http.DefaultClient)

	registry, err := adapter.NewRegistry(naver, ppomppu)
	require.NoError(t, err, "shouldn't return any error")

	got, err := registry.Get("naver")
	require.NoError(t, err, "shouldn't return any error")
	assert.Equal(t, "naver", got.Slug(), "should return registered adapter")

	_, err = registry.Get("coupang")
	require.Error(t, err, "should fail for unregistered shop")

	assert.Equal(t, []string{"naver", "ppomppu"}, registry.Slugs(), "should list slugs in stable order")
}

func TestUnitRegistryDuplicateSlug(t *testing.T) {
	first := adapter.NewAPI(adapter.APIConfig{Slug: "naver"}, http.DefaultClient)
	second := adapter.NewScrape(adapter.ScrapeConfig{Slug: "naver"}, http.DefaultClient)

	_, err := adapter.NewRegistry(first, second)

	require.Error(t, err, "should reject duplicate slugs")
}
