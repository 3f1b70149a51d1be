package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dealpool/ingest/internal/platform"
	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/dealpool/ingest/internal/platform/retry"
	"golang.org/x/time/rate"
)

var (
	// ErrMissingCredentials is returned when an API shop has no credentials configured.
	ErrMissingCredentials = errors.New("missing api credentials")
	// ErrCredentialsRejected is returned when the upstream rejects the configured credentials.
	ErrCredentialsRejected = errors.New("credentials rejected by upstream")
	// ErrRateLimited is returned when the upstream keeps rate-limiting after bounded retries.
	ErrRateLimited = errors.New("rate limited by upstream")
)

// APIConfig configures one API-based shop adapter.
type APIConfig struct {
	Slug              string
	BaseURL           string
	ClientID          string
	ClientSecret      string
	PageSize          int
	MaxPages          int
	RequestsPerSecond float64
	Retry             retry.Policy
}

// APIAdapter fetches deals from a structured upstream deals API with
// credential headers and cursor-less page pagination.
type APIAdapter struct {
	cfg     APIConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewAPI returns new APIAdapter.
func NewAPI(cfg APIConfig, client *http.Client) *APIAdapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy
	}

	return &APIAdapter{
		cfg:     cfg,
		client:  client,
		limiter: newLimiter(cfg.RequestsPerSecond),
	}
}

// Slug returns the shop slug this adapter serves.
func (a *APIAdapter) Slug() string {
	return a.cfg.Slug
}

// apiPage is the upstream page envelope. Items are kept raw so one malformed
// item doesn't fail the whole page.
type apiPage struct {
	Items   []json.RawMessage `json:"items"`
	HasMore bool              `json:"hasMore"`
}

type apiListing struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	ImageURL      string `json:"imageUrl"`
	Price         string `json:"price"`
	OriginalPrice string `json:"originalPrice"`
	DiscountRate  *int   `json:"discountRate"`
	Category      string `json:"category"`
	PromotionType string `json:"promotionType"`
	StartsAt      string `json:"startsAt"`
	ExpiresAt     string `json:"expiresAt"`
}

// Fetch pages through the upstream API until exhaustion or the page cap.
func (a *APIAdapter) Fetch(ctx context.Context, filter Filter, out chan<- models.FetchResult) error {
	if a.cfg.ClientID == "" || a.cfg.ClientSecret == "" {
		return platform.NewAdapterError(a.cfg.Slug, platform.AdapterKindConfig, ErrMissingCredentials)
	}

	for page := 1; page <= a.cfg.MaxPages; page++ {
		pageResult, err := a.fetchPage(ctx, filter, page)
		if err != nil {
			return err
		}

		for _, rawItem := range pageResult.Items {
			var item apiListing
			if err := json.Unmarshal(rawItem, &item); err != nil {
				itemErr := platform.NewItemError("", fmt.Errorf("can't decode listing: %w", err))
				if err := push(ctx, out, models.FetchResult{Err: itemErr}); err != nil {
					return platform.NewAdapterError(a.cfg.Slug, transportKind(ctx), err)
				}
				continue
			}

			if err := push(ctx, out, models.FetchResult{Listing: toRawListing(item)}); err != nil {
				return platform.NewAdapterError(a.cfg.Slug, transportKind(ctx), err)
			}
		}

		if !pageResult.HasMore || len(pageResult.Items) == 0 {
			return nil
		}
	}

	return nil
}

// fetchPage retrieves one page, retrying rate-limit responses with the
// adapter's bounded backoff before escalating.
func (a *APIAdapter) fetchPage(ctx context.Context, filter Filter, page int) (*apiPage, error) {
	var result *apiPage

	err := a.cfg.Retry.Do(ctx, isRateLimited, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return platform.NewAdapterError(a.cfg.Slug, transportKind(ctx), err)
		}

		pageResult, err := a.doRequest(ctx, filter, page)
		if err != nil {
			return err
		}

		result = pageResult
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (a *APIAdapter) doRequest(ctx context.Context, filter Filter, page int) (*apiPage, error) {
	pageURL, err := a.buildPageURL(filter, page)
	if err != nil {
		return nil, platform.NewAdapterError(a.cfg.Slug, platform.AdapterKindConfig, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, platform.NewAdapterError(a.cfg.Slug, platform.AdapterKindConfig, err)
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", defaultUserAgent)
	req.Header.Add("X-Client-Id", a.cfg.ClientID)
	req.Header.Add("X-Client-Secret", a.cfg.ClientSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, platform.NewAdapterError(a.cfg.Slug, transportKind(ctx), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, platform.NewAdapterError(a.cfg.Slug, platform.AdapterKindConfig, ErrCredentialsRejected)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, platform.NewAdapterError(a.cfg.Slug, platform.AdapterKindRateLimit, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, platform.NewAdapterError(
			a.cfg.Slug,
			platform.AdapterKindTransport,
			fmt.Errorf("upstream returned %s", resp.Status),
		)
	}

	var pageResult apiPage
	if err := json.NewDecoder(resp.Body).Decode(&pageResult); err != nil {
		return nil, platform.NewAdapterError(
			a.cfg.Slug,
			platform.AdapterKindTransport,
			fmt.Errorf("can't decode page: %w", err),
		)
	}

	return &pageResult, nil
}

func (a *APIAdapter) buildPageURL(filter Filter, page int) (string, error) {
	parsed, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", a.cfg.BaseURL, err)
	}

	query := parsed.Query()
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(a.cfg.PageSize))
	if filter.Category != "" {
		query.Set("category", filter.Category)
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

func toRawListing(item apiListing) models.RawListing {
	return models.RawListing{
		ExternalID:    item.ID,
		Title:         item.Title,
		URL:           item.URL,
		ImageURL:      item.ImageURL,
		Price:         item.Price,
		OriginalPrice: item.OriginalPrice,
		Discount:      item.DiscountRate,
		CategoryLabel: item.Category,
		DealTypeLabel: item.PromotionType,
		StartsAt:      parseTimestamp(item.StartsAt),
		ExpiresAt:     parseTimestamp(item.ExpiresAt),
	}
}

func parseTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &parsed
}

func isRateLimited(err error) bool {
	var adapterErr *platform.AdapterError
	return errors.As(err, &adapterErr) && adapterErr.Kind == platform.AdapterKindRateLimit
}

// transportKind distinguishes a timed-out request from other transport failures.
func transportKind(ctx context.Context) platform.AdapterErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return platform.AdapterKindTimeout
	}
	return platform.AdapterKindTransport
}
