// Package upsert resolves candidate deal identity against storage and applies
// insert-or-update semantics with price history capture.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dealpool/ingest/internal/platform"
	"github.com/dealpool/ingest/internal/platform/models"
)

//go:generate mockery --name Storage --filename storage.go

// Storage is the persistence interface consumed by the upserter.
type Storage interface {
	// GetDealByShopAndExternalID returns the stored deal for the identity
	// pair or platform.ErrNotFound.
	GetDealByShopAndExternalID(ctx context.Context, shopID int64, externalID string) (*models.Deal, error)
	// InsertDeal inserts a new deal and returns it with assigned identity.
	InsertDeal(ctx context.Context, deal *models.Deal) (*models.Deal, error)
	// UpdateDeal updates the mutable fields of an existing deal.
	UpdateDeal(ctx context.Context, deal *models.Deal) (*models.Deal, error)
	// AppendPriceHistory appends one price observation for a deal.
	AppendPriceHistory(ctx context.Context, dealID int64, price int64, recordedAt time.Time) error
}

// Clock provides times.
type Clock interface {
	// Now returns current UTC time.
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Option is custom configuration of Upserter.
type Option func(u *Upserter)

// WithClock sets Upserter's custom Clock.
func WithClock(c Clock) Option {
	return func(u *Upserter) {
		u.clock = c
	}
}

type dealKey struct {
	shopID     int64
	externalID string
}

// keyLock serializes upserts of one identity pair. Entries are refcounted so
// the lock table stays empty between upserts instead of growing per pair.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Upserter applies candidate deals against storage. Upserts for the same
// (shop, external id) pair are serialized; different pairs run independently.
type Upserter struct {
	storage Storage
	clock   Clock

	mu    sync.Mutex
	locks map[dealKey]*keyLock
}

// New returns new Upserter.
func New(storage Storage, ops ...Option) *Upserter {
	ups := &Upserter{
		storage: storage,
		clock:   systemClock{},
		locks:   map[dealKey]*keyLock{},
	}

	for _, op := range ops {
		op(ups)
	}

	return ups
}

// Upsert resolves the candidate's identity and persists it. It returns the
// outcome: created for a first observation (which also writes the baseline
// price point), updated when any mutable field changed (with a new price
// point only when the price changed), unchanged otherwise.
//
// An upsert is a minimal atomic unit: once started it runs to completion even
// if ctx is cancelled meanwhile. Cancellation is honored before the start.
func (u *Upserter) Upsert(ctx context.Context, candidate *models.Deal) (models.UpsertOutcome, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	key := dealKey{candidate.ShopID, candidate.ExternalID}
	lock := u.acquire(key)
	defer u.release(key, lock)

	// The started upsert must complete or not start, never stop halfway
	// between the row update and the history append.
	ctx = context.WithoutCancel(ctx)

	existing, err := u.storage.GetDealByShopAndExternalID(ctx, candidate.ShopID, candidate.ExternalID)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		return "", fmt.Errorf("can't look up deal: %w", err)
	}

	if existing == nil {
		return u.insert(ctx, candidate)
	}

	return u.update(ctx, existing, candidate)
}

func (u *Upserter) insert(ctx context.Context, candidate *models.Deal) (models.UpsertOutcome, error) {
	inserted, err := u.storage.InsertDeal(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("can't insert deal: %w", err)
	}

	// baseline point so the history chart starts at the first observation.
	if err := u.storage.AppendPriceHistory(ctx, inserted.ID, inserted.DealPrice, u.clock.Now()); err != nil {
		return "", fmt.Errorf("can't append baseline price point: %w", err)
	}

	return models.OutcomeCreated, nil
}

func (u *Upserter) update(ctx context.Context, existing, candidate *models.Deal) (models.UpsertOutcome, error) {
	if !differs(existing, candidate) {
		return models.OutcomeUnchanged, nil
	}

	priceChanged := existing.DealPrice != candidate.DealPrice

	merged := *candidate
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	merged.ViewCount = existing.ViewCount
	merged.CommentCount = existing.CommentCount
	merged.VoteUp = existing.VoteUp
	merged.VoteDown = existing.VoteDown
	merged.AIScore = existing.AIScore
	merged.AIReasoning = existing.AIReasoning

	updated, err := u.storage.UpdateDeal(ctx, &merged)
	if err != nil {
		return "", fmt.Errorf("can't update deal: %w", err)
	}

	if priceChanged {
		if err := u.storage.AppendPriceHistory(ctx, updated.ID, updated.DealPrice, u.clock.Now()); err != nil {
			return "", fmt.Errorf("can't append price point: %w", err)
		}
	}

	return models.OutcomeUpdated, nil
}

// differs compares the mutable fields owned by ingestion. Counters and AI
// fields belong to collaborators and never make a deal "changed".
func differs(existing, candidate *models.Deal) bool {
	return existing.Title != candidate.Title ||
		existing.DealURL != candidate.DealURL ||
		!eqPtr(existing.ImageURL, candidate.ImageURL) ||
		existing.DealPrice != candidate.DealPrice ||
		!eqPtr(existing.OriginalPrice, candidate.OriginalPrice) ||
		existing.DiscountPercentage != candidate.DiscountPercentage ||
		existing.DealType != candidate.DealType ||
		!eqPtr(existing.CategoryID, candidate.CategoryID) ||
		!eqTimePtr(existing.StartsAt, candidate.StartsAt) ||
		!eqTimePtr(existing.ExpiresAt, candidate.ExpiresAt)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (u *Upserter) acquire(key dealKey) *keyLock {
	u.mu.Lock()
	lock, ok := u.locks[key]
	if !ok {
		lock = &keyLock{}
		u.locks[key] = lock
	}
	lock.refs++
	u.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (u *Upserter) release(key dealKey, lock *keyLock) {
	lock.mu.Unlock()

	u.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(u.locks, key)
	}
	u.mu.Unlock()
}
