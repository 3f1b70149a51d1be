package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dealpool/ingest/internal/platform"
	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/lib/pq"
)

// Postgres is storage for shops, categories, deals and price history.
type Postgres struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewPostgres returns new Postgres.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var dealColumns = []string{
	"id", "shop_id", "external_id", "title", "deal_url", "image_url",
	"deal_price", "original_price", "discount_percentage", "deal_type",
	"category_id", "ai_score", "ai_reasoning", "view_count", "comment_count",
	"vote_up", "vote_down", "starts_at", "expires_at", "created_at", "updated_at",
}

// GetDealByShopAndExternalID returns the deal stored for the identity pair or
// platform.ErrNotFound.
func (p *Postgres) GetDealByShopAndExternalID(ctx context.Context, shopID int64, externalID string) (*models.Deal, error) {
	query, args, err := p.builder.
		Select(dealColumns...).
		From("deals").
		Where(sq.Eq{"shop_id": shopID, "external_id": externalID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build deal query: %w", err)
	}

	deal, err := scanDeal(p.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, platform.ErrNotFound
		}
		return nil, classify(fmt.Errorf("can't get deal: %w", err))
	}

	return deal, nil
}

// InsertDeal inserts a new deal and returns it with its assigned identity and
// timestamps.
func (p *Postgres) InsertDeal(ctx context.Context, deal *models.Deal) (*models.Deal, error) {
	query, args, err := p.builder.
		Insert("deals").
		Columns(
			"shop_id", "external_id", "title", "deal_url", "image_url",
			"deal_price", "original_price", "discount_percentage", "deal_type",
			"category_id", "ai_score", "ai_reasoning", "view_count", "comment_count",
			"vote_up", "vote_down", "starts_at", "expires_at",
		).
		Values(
			deal.ShopID, deal.ExternalID, deal.Title, deal.DealURL, deal.ImageURL,
			deal.DealPrice, deal.OriginalPrice, deal.DiscountPercentage, string(deal.DealType),
			deal.CategoryID, deal.AIScore, deal.AIReasoning, deal.ViewCount, deal.CommentCount,
			deal.VoteUp, deal.VoteDown, deal.StartsAt, deal.ExpiresAt,
		).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build deal insert: %w", err)
	}

	inserted := *deal
	row := p.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&inserted.ID, &inserted.CreatedAt, &inserted.UpdatedAt); err != nil {
		return nil, classify(fmt.Errorf("can't insert deal: %w", err))
	}

	return &inserted, nil
}

// UpdateDeal updates the mutable fields of an existing deal. Counters and AI
// fields are owned by collaborators and left untouched.
func (p *Postgres) UpdateDeal(ctx context.Context, deal *models.Deal) (*models.Deal, error) {
	query, args, err := p.builder.
		Update("deals").
		Set("title", deal.Title).
		Set("deal_url", deal.DealURL).
		Set("image_url", deal.ImageURL).
		Set("deal_price", deal.DealPrice).
		Set("original_price", deal.OriginalPrice).
		Set("discount_percentage", deal.DiscountPercentage).
		Set("deal_type", string(deal.DealType)).
		Set("category_id", deal.CategoryID).
		Set("starts_at", deal.StartsAt).
		Set("expires_at", deal.ExpiresAt).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": deal.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build deal update: %w", err)
	}

	updated := *deal
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&updated.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, platform.ErrNotFound
		}
		return nil, classify(fmt.Errorf("can't update deal: %w", err))
	}

	return &updated, nil
}

// AppendPriceHistory appends one price observation for a deal.
func (p *Postgres) AppendPriceHistory(ctx context.Context, dealID int64, price int64, recordedAt time.Time) error {
	query, args, err := p.builder.
		Insert("price_history").
		Columns("deal_id", "price", "recorded_at").
		Values(dealID, price, recordedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build price history insert: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return classify(fmt.Errorf("can't append price history: %w", err))
	}

	return nil
}

// GetShopBySlug returns the shop with the given slug or platform.ErrNotFound.
func (p *Postgres) GetShopBySlug(ctx context.Context, slug string) (*models.Shop, error) {
	query, args, err := p.builder.
		Select("id", "slug", "name", "currency", "active").
		From("shops").
		Where(sq.Eq{"slug": slug}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build shop query: %w", err)
	}

	var shop models.Shop
	row := p.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&shop.ID, &shop.Slug, &shop.Name, &shop.Currency, &shop.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, platform.ErrNotFound
		}
		return nil, classify(fmt.Errorf("can't get shop: %w", err))
	}

	return &shop, nil
}

// GetCategoryBySlug returns the category with the given slug or platform.ErrNotFound.
func (p *Postgres) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	query, args, err := p.builder.
		Select("id", "slug", "name").
		From("categories").
		Where(sq.Eq{"slug": slug}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build category query: %w", err)
	}

	var category models.Category
	row := p.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&category.ID, &category.Slug, &category.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, platform.ErrNotFound
		}
		return nil, classify(fmt.Errorf("can't get category: %w", err))
	}

	return &category, nil
}

func scanDeal(row *sql.Row) (*models.Deal, error) {
	var (
		deal     models.Deal
		dealType string
	)

	err := row.Scan(
		&deal.ID, &deal.ShopID, &deal.ExternalID, &deal.Title, &deal.DealURL, &deal.ImageURL,
		&deal.DealPrice, &deal.OriginalPrice, &deal.DiscountPercentage, &dealType,
		&deal.CategoryID, &deal.AIScore, &deal.AIReasoning, &deal.ViewCount, &deal.CommentCount,
		&deal.VoteUp, &deal.VoteDown, &deal.StartsAt, &deal.ExpiresAt, &deal.CreatedAt, &deal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	deal.DealType = models.DealType(dealType)

	return &deal, nil
}

// classify maps database errors into the platform taxonomy: integrity
// violations become ConstraintError, everything else is assumed transient.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return &platform.ConstraintError{Err: err}
	}
	return &platform.StorageError{Err: err}
}
