// Package ingest orchestrates ingestion runs: it dispatches (shop, category)
// units to their adapters, funnels raw listings through normalization and
// upsert, and aggregates the outcome into a run report.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/dealpool/ingest/internal/adapter"
	"github.com/dealpool/ingest/internal/normalizer"
	"github.com/dealpool/ingest/internal/platform"
	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/dealpool/ingest/internal/platform/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

//go:generate mockery --name References --filename references.go
//go:generate mockery --name Upserter --filename upserter.go

// References is read-only reference data owned by an external seeding
// collaborator. The runner caches lookups per run.
type References interface {
	// GetShopBySlug returns the shop for slug or platform.ErrNotFound.
	GetShopBySlug(ctx context.Context, slug string) (*models.Shop, error)
	// GetCategoryBySlug returns the category for slug or platform.ErrNotFound.
	GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
}

// Upserter persists candidate deals and reports the outcome.
type Upserter interface {
	Upsert(ctx context.Context, deal *models.Deal) (models.UpsertOutcome, error)
}

// Clock provides times.
type Clock interface {
	// Now returns current UTC time.
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Config bounds one runner's resource usage and retry behavior.
type Config struct {
	// Concurrency is the global bound on parallel units.
	Concurrency int
	// PerShopConcurrency caps parallel units against one shop. Defaults to 1
	// to respect upstream rate limits.
	PerShopConcurrency int
	// UnitTimeout bounds one unit attempt. Zero means no timeout.
	UnitTimeout time.Duration
	// UnitRetry retries transport-failed units.
	UnitRetry retry.Policy
	// StorageRetry retries transient storage failures at the upsert call site.
	StorageRetry retry.Policy
	// ShopRules holds per-shop normalization rules keyed by shop slug.
	ShopRules map[string]normalizer.Rules
}

// RunRequest selects the work set of one run. Empty Shops means all
// registered shops; empty Category means no category filter.
type RunRequest struct {
	Shops    []string
	Category string
}

// Option is custom configuration of Runner.
type Option func(r *Runner)

// WithClock sets Runner's custom Clock.
func WithClock(c Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// Runner owns the run lifecycle.
type Runner struct {
	registry *adapter.Registry
	refs     References
	upserter Upserter
	cfg      Config
	clock    Clock
	logger   *zerolog.Logger
}

// NewRunner returns new Runner.
func NewRunner(
	registry *adapter.Registry,
	refs References,
	upserter Upserter,
	cfg Config,
	logger *zerolog.Logger,
	ops ...Option,
) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PerShopConcurrency <= 0 {
		cfg.PerShopConcurrency = 1
	}
	if cfg.UnitRetry.MaxAttempts == 0 {
		cfg.UnitRetry = retry.DefaultPolicy
	}
	if cfg.StorageRetry.MaxAttempts == 0 {
		cfg.StorageRetry = retry.DefaultPolicy
	}

	run := &Runner{
		registry: registry,
		refs:     refs,
		upserter: upserter,
		cfg:      cfg,
		clock:    systemClock{},
		logger:   logger,
	}

	for _, op := range ops {
		op(run)
	}

	return run
}

// unit is one (shop, category filter) work item.
type unit struct {
	shop     string
	category string
}

// Run executes one orchestration cycle and always produces a report; unit
// failures are recorded, never escalated. The only synchronous failure is an
// empty work set.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*models.RunReport, error) {
	shops := req.Shops
	if len(shops) == 0 {
		shops = r.registry.Slugs()
	}
	if len(shops) == 0 {
		return nil, platform.ErrNoShops
	}

	report := &models.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now(),
		Units:     make([]models.UnitReport, len(shops)),
	}

	r.logger.Info().
		Str("runId", report.RunID).
		Strs("shops", shops).
		Str("category", req.Category).
		Msg("run started")

	cache := newRefCache(r.refs)
	norm := normalizer.New(cache)
	shopSlots := r.shopSlots(shops)

	var workers errgroup.Group
	workers.SetLimit(r.cfg.Concurrency)

	for ix, shop := range shops {
		ix, shop := ix, shop
		workers.Go(func() error {
			slot := shopSlots[shop]
			slot <- struct{}{}
			defer func() { <-slot }()

			report.Units[ix] = r.runUnit(ctx, unit{shop: shop, category: req.Category}, cache, norm)
			return nil
		})
	}

	_ = workers.Wait()

	report.FinishedAt = r.clock.Now()
	report.Status = models.RunCompleted
	for _, unitReport := range report.Units {
		report.Errors = append(report.Errors, unitErrors(unitReport)...)
		if unitReport.HasFailed() {
			report.Status = models.RunPartiallyFailed
		}
	}

	totals := report.Totals()
	r.logger.Info().
		Str("runId", report.RunID).
		Str("status", string(report.Status)).
		Int32("fetched", totals.Fetched).
		Int32("created", totals.Created).
		Int32("updated", totals.Updated).
		Int32("unchanged", totals.Unchanged).
		Int32("failed", totals.Failed).
		Msg("run finished")

	return report, nil
}

// shopSlots builds the per-shop concurrency limiters.
func (r *Runner) shopSlots(shops []string) map[string]chan struct{} {
	slots := make(map[string]chan struct{}, len(shops))
	for _, shop := range shops {
		if _, ok := slots[shop]; !ok {
			slots[shop] = make(chan struct{}, r.cfg.PerShopConcurrency)
		}
	}
	return slots
}

// runUnit runs one unit with bounded retries for transport-level failures.
// Item-level errors are terminal for the item and never retried.
func (r *Runner) runUnit(ctx context.Context, u unit, cache *refCache, norm *normalizer.Normalizer) models.UnitReport {
	var unitReport models.UnitReport

	err := r.cfg.UnitRetry.Do(ctx, unitRetryable, func(ctx context.Context) error {
		attempt, err := r.attemptUnit(ctx, u, cache, norm)
		// re-ingestion is idempotent, so the last attempt's counts stand.
		unitReport = attempt
		return err
	})
	if err != nil {
		err = asUnitError(u.shop, err)
		unitReport.Error = lo.ToPtr(err.Error())
		r.logger.Warn().
			Str("shop", u.shop).
			Str("category", u.category).
			Err(err).
			Msg("unit failed")
	}

	return unitReport
}

// attemptUnit performs one attempt of a unit: fetch, normalize, upsert.
func (r *Runner) attemptUnit(
	ctx context.Context,
	u unit,
	cache *refCache,
	norm *normalizer.Normalizer,
) (models.UnitReport, error) {
	unitReport := models.UnitReport{Shop: u.shop, Category: u.category}

	adp, err := r.registry.Get(u.shop)
	if err != nil {
		return unitReport, platform.NewAdapterError(u.shop, platform.AdapterKindConfig, err)
	}

	shop, err := cache.shopBySlug(ctx, u.shop)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return unitReport, platform.NewAdapterError(u.shop, platform.AdapterKindConfig, err)
		}
		return unitReport, platform.NewAdapterError(u.shop, platform.AdapterKindStorage, err)
	}
	if !shop.Active {
		return unitReport, platform.NewAdapterError(u.shop, platform.AdapterKindConfig, platform.ErrShopInactive)
	}

	unitCtx := ctx
	if r.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, r.cfg.UnitTimeout)
		defer cancel()
	}

	results := make(chan models.FetchResult)
	pipeline, pipeCtx := errgroup.WithContext(unitCtx)

	pipeline.Go(func() error {
		defer close(results)
		return adp.Fetch(pipeCtx, adapter.Filter{Category: u.category}, results)
	})

	pipeline.Go(func() error {
		return r.consume(pipeCtx, shop, norm, results, &unitReport)
	})

	if err := pipeline.Wait(); err != nil {
		if errors.Is(unitCtx.Err(), context.DeadlineExceeded) {
			// partial results upserted before the timeout stay committed.
			return unitReport, platform.NewAdapterError(u.shop, platform.AdapterKindTimeout, unitCtx.Err())
		}
		return unitReport, err
	}

	return unitReport, nil
}

// consume normalizes and upserts fetched listings in upstream order, so the
// last occurrence of a duplicated identity within a page overlap wins.
func (r *Runner) consume(
	ctx context.Context,
	shop *models.Shop,
	norm *normalizer.Normalizer,
	results <-chan models.FetchResult,
	unitReport *models.UnitReport,
) error {
	rules := r.cfg.ShopRules[shop.Slug]

	for result := range results {
		unitReport.Fetched++

		if result.Err != nil {
			r.recordItemFailure(unitReport, externalID(result.Err), result.Err)
			continue
		}

		deal, err := norm.Normalize(ctx, result.Listing, shop, rules)
		if err != nil {
			r.recordItemFailure(unitReport, result.Listing.ExternalID, err)
			continue
		}

		outcome, err := r.upsertWithRetry(ctx, deal)
		if err != nil {
			var constraintErr *platform.ConstraintError
			if errors.As(err, &constraintErr) {
				r.recordItemFailure(unitReport, deal.ExternalID, err)
				continue
			}
			return platform.NewAdapterError(shop.Slug, platform.AdapterKindStorage, err)
		}

		switch outcome {
		case models.OutcomeCreated:
			unitReport.Created++
		case models.OutcomeUpdated:
			unitReport.Updated++
		case models.OutcomeUnchanged:
			unitReport.Unchanged++
		}
	}

	return nil
}

func (r *Runner) upsertWithRetry(ctx context.Context, deal *models.Deal) (models.UpsertOutcome, error) {
	var outcome models.UpsertOutcome

	err := r.cfg.StorageRetry.Do(ctx, platform.IsTransient, func(ctx context.Context) error {
		var err error
		outcome, err = r.upserter.Upsert(ctx, deal)
		return err
	})

	return outcome, err
}

func (r *Runner) recordItemFailure(unitReport *models.UnitReport, externalID string, err error) {
	unitReport.Failed++
	unitReport.ItemErrors = append(unitReport.ItemErrors, models.ErrorRecord{
		Shop:       unitReport.Shop,
		ExternalID: optional(externalID),
		Kind:       errorKind(err),
		Message:    err.Error(),
	})
	r.logger.Debug().
		Str("shop", unitReport.Shop).
		Str("externalId", externalID).
		Err(err).
		Msg("item skipped")
}

// unitErrors flattens a unit's failures into run-level error records.
func unitErrors(unitReport models.UnitReport) []models.ErrorRecord {
	records := unitReport.ItemErrors
	if unitReport.Error != nil {
		records = append(records, models.ErrorRecord{
			Shop:    unitReport.Shop,
			Kind:    "unit",
			Message: *unitReport.Error,
		})
	}
	return records
}

func unitRetryable(err error) bool {
	var adapterErr *platform.AdapterError
	return errors.As(err, &adapterErr) && adapterErr.Retryable()
}

// asUnitError guarantees a typed unit failure even for raw pipeline errors.
func asUnitError(shop string, err error) error {
	var adapterErr *platform.AdapterError
	if errors.As(err, &adapterErr) {
		return err
	}
	return platform.NewAdapterError(shop, platform.AdapterKindTransport, err)
}

func errorKind(err error) string {
	var (
		normErr       *platform.NormalizationError
		itemErr       *platform.ItemError
		constraintErr *platform.ConstraintError
	)
	switch {
	case errors.As(err, &normErr):
		return "normalization"
	case errors.As(err, &constraintErr):
		return "constraint"
	case errors.As(err, &itemErr):
		return "item"
	default:
		return "item"
	}
}

func externalID(err error) string {
	var itemErr *platform.ItemError
	if errors.As(err, &itemErr) {
		return itemErr.ExternalID
	}
	return ""
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return lo.ToPtr(value)
}
