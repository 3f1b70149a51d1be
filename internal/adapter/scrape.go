package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dealpool/ingest/internal/platform"
	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/dealpool/ingest/internal/platform/retry"
	"golang.org/x/time/rate"
)

// ScrapeConfig configures one scrape-based shop adapter.
type ScrapeConfig struct {
	Slug              string
	BaseURL           string
	MaxPages          int
	RequestsPerSecond float64
	Retry             retry.Policy
}

// ScrapeAdapter fetches deals by parsing paginated deal-board markup. One
// unparseable item is skipped and recorded, never failing the whole fetch.
type ScrapeAdapter struct {
	cfg     ScrapeConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewScrape returns new ScrapeAdapter.
func NewScrape(cfg ScrapeConfig, client *http.Client) *ScrapeAdapter {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy
	}

	return &ScrapeAdapter{
		cfg:     cfg,
		client:  client,
		limiter: newLimiter(cfg.RequestsPerSecond),
	}
}

// Slug returns the shop slug this adapter serves.
func (a *ScrapeAdapter) Slug() string {
	return a.cfg.Slug
}

// Fetch pages through the deal board until an empty page or the page cap.
func (a *ScrapeAdapter) Fetch(ctx context.Context, filter Filter, out chan<- models.FetchResult) error {
	for page := 1; page <= a.cfg.MaxPages; page++ {
		pageURL, err := a.buildPageURL(filter, page)
		if err != nil {
			return platform.NewAdapterError(a.cfg.Slug, platform.AdapterKindConfig, err)
		}

		doc, err := a.fetchDocument(ctx, pageURL)
		if err != nil {
			return err
		}

		items := doc.Find("ul.deal-list > li.deal-item")
		if items.Length() == 0 {
			return nil
		}

		var pushErr error
		items.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			result := parseDealItem(sel, a.cfg.BaseURL)
			if pushErr = push(ctx, out, result); pushErr != nil {
				return false
			}
			return true
		})
		if pushErr != nil {
			return platform.NewAdapterError(a.cfg.Slug, transportKind(ctx), pushErr)
		}
	}

	return nil
}

// fetchDocument retrieves one page, retrying rate-limit responses with the
// adapter's bounded backoff before escalating.
func (a *ScrapeAdapter) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var doc *goquery.Document

	err := a.cfg.Retry.Do(ctx, isRateLimited, func(ctx context.Context) error {
		fetched, err := a.doRequest(ctx, pageURL)
		if err != nil {
			return err
		}

		doc = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (a *ScrapeAdapter) doRequest(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, platform.NewAdapterError(a.cfg.Slug, transportKind(ctx), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, platform.NewAdapterError(a.cfg.Slug, platform.AdapterKindConfig, err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, platform.NewAdapterError(a.cfg.Slug, transportKind(ctx), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, platform.NewAdapterError(a.cfg.Slug, platform.AdapterKindRateLimit, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, platform.NewAdapterError(
			a.cfg.Slug,
			platform.AdapterKindTransport,
			fmt.Errorf("upstream returned %s", resp.Status),
		)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, platform.NewAdapterError(
			a.cfg.Slug,
			platform.AdapterKindTransport,
			fmt.Errorf("can't parse page: %w", err),
		)
	}

	return doc, nil
}

// parseDealItem extracts one raw listing from a deal-item node. Markup gaps
// yield an item error, never a fetch abort.
func parseDealItem(sel *goquery.Selection, baseURL string) models.FetchResult {
	externalID, _ := sel.Attr("data-deal-id")
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return models.FetchResult{Err: platform.NewItemError("", errors.New("deal item has no id"))}
	}

	titleLink := sel.Find(".deal-title a").First()
	title := strings.TrimSpace(titleLink.Text())
	href, _ := titleLink.Attr("href")
	if !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(baseURL, "/") + href
	}

	price := strings.TrimSpace(sel.Find(".price .price-now").First().Text())
	if price == "" {
		return models.FetchResult{Err: platform.NewItemError(externalID, errors.New("deal item has no price"))}
	}

	listing := models.RawListing{
		ExternalID:    externalID,
		Title:         title,
		URL:           href,
		Price:         price,
		OriginalPrice: strings.TrimSpace(sel.Find(".price .price-was").First().Text()),
		CategoryLabel: strings.TrimSpace(sel.Find(".deal-category").First().Text()),
		DealTypeLabel: strings.TrimSpace(sel.Find(".deal-badge").First().AttrOr("data-kind", "")),
	}

	if src, ok := sel.Find("img.deal-thumb").First().Attr("src"); ok {
		listing.ImageURL = strings.TrimSpace(src)
	}

	return models.FetchResult{Listing: listing}
}

func (a *ScrapeAdapter) buildPageURL(filter Filter, page int) (string, error) {
	parsed, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", a.cfg.BaseURL, err)
	}

	query := parsed.Query()
	query.Set("page", strconv.Itoa(page))
	if filter.Category != "" {
		query.Set("category", filter.Category)
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
